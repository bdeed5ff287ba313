// Package service wires the filter engine to a catalog for one request at a
// time: it loads the registry for a content kind, enumerates facets with
// cross-filter counts, builds and executes queries, and rebuilds the
// canonical query string for the resulting state.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/matt-riley/facetz/internal/cache"
	"github.com/matt-riley/facetz/internal/core"
	"github.com/matt-riley/facetz/internal/tracing"
	"github.com/matt-riley/facetz/internal/urlcodec"
)

const (
	defaultPerPage        = 12
	defaultMaxPerPage     = 100
	defaultResyncInterval = time.Minute
	versionReloadTimeout  = 5 * time.Second
	facetConcurrency      = 8
)

var ErrInvalidRequest = errors.New("invalid request")

// Catalog is the collaborator the service runs against: every lookup choice
// enumeration needs, query execution, and stored configuration.
type Catalog interface {
	core.Catalog
	core.QueryExecutor
	ListClassifications(ctx context.Context, contentKind string) ([]core.ClassificationInfo, error)
	ListFilterDefinitions(ctx context.Context, contentKind string) ([]core.Config, error)
	CatalogVersion(ctx context.Context) (int64, error)
}

type catalogInvalidationSubscriber interface {
	SubscribeCatalogInvalidation(ctx context.Context) (<-chan struct{}, error)
}

// Request is one search, facet or query request for a content kind.
type Request struct {
	ContentKind string
	Selection   core.Selection
	// Include and Exclude narrow the registry to the listed filter ids.
	Include []string
	Exclude []string
	Page    int
	PerPage int
	OrderBy string
	Order   string
	Search  string
	// RawQuery is the inbound query string; its non-filter parameters are
	// kept when the canonical query is rebuilt.
	RawQuery string
}

// Facet is one enumerated filter ready for rendering.
type Facet struct {
	ID            string           `json:"id"`
	Kind          core.Kind        `json:"kind"`
	Label         string           `json:"label"`
	DisplayType   string           `json:"display_type"`
	ShowCount     bool             `json:"show_count"`
	Selected      []string         `json:"selected,omitempty"`
	SelectedRange *core.RangeValue `json:"selected_range,omitempty"`
	Choices       []core.Choice    `json:"choices,omitempty"`
	Range         *core.Range      `json:"range,omitempty"`
}

type SearchResult struct {
	Items       []core.Item `json:"items"`
	FoundCount  int         `json:"found_count"`
	PageCount   int         `json:"page_count"`
	CurrentPage int         `json:"current_page"`
	Facets      []Facet     `json:"facets"`
	Query       string      `json:"query"`
}

type Service struct {
	catalog    Catalog
	translator *core.Translator
	// scopes builds facet count scopes; drops were already reported by
	// translator for the same selection.
	scopes  *core.Translator
	choices *cache.ChoiceCache
	logger  *slog.Logger

	version atomic.Int64

	perPage        int
	maxPerPage     int
	resyncInterval time.Duration

	onSkipped      func(n int)
	onCatalogError func(operation string)
	onVersion      func(version int64)
	onInvalidation func()
	onDrop         func(filterID string, err error)
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithChoiceCache puts a read-through cache in front of choice enumeration.
func WithChoiceCache(choices *cache.ChoiceCache) Option {
	return func(s *Service) {
		s.choices = choices
	}
}

// WithPageSize sets the default and maximum page sizes.
func WithPageSize(perPage, maxPerPage int) Option {
	return func(s *Service) {
		if perPage > 0 {
			s.perPage = perPage
		}
		if maxPerPage > 0 {
			s.maxPerPage = maxPerPage
		}
	}
}

// WithResyncInterval sets how often the catalog version is refreshed when no
// invalidation arrives.
func WithResyncInterval(interval time.Duration) Option {
	return func(s *Service) {
		if interval > 0 {
			s.resyncInterval = interval
		}
	}
}

// WithHooks registers observers, typically metrics. Any of them may be nil.
func WithHooks(skipped func(n int), catalogError func(operation string), version func(int64), invalidation func(), dropped func(filterID string, err error)) Option {
	return func(s *Service) {
		s.onSkipped = skipped
		s.onCatalogError = catalogError
		s.onVersion = version
		s.onInvalidation = invalidation
		s.onDrop = dropped
	}
}

// New reads the current catalog version and, for as long as ctx lives, keeps
// it fresh from catalog invalidations when the catalog publishes them and
// from a periodic resync otherwise.
func New(ctx context.Context, catalog Catalog, opts ...Option) (*Service, error) {
	if catalog == nil {
		return nil, errors.New("catalog is nil")
	}

	svc := &Service{
		catalog:        catalog,
		logger:         slog.Default(),
		perPage:        defaultPerPage,
		maxPerPage:     defaultMaxPerPage,
		resyncInterval: defaultResyncInterval,
	}
	for _, opt := range opts {
		opt(svc)
	}
	if svc.perPage > svc.maxPerPage {
		svc.perPage = svc.maxPerPage
	}
	svc.translator = core.NewTranslator(catalog,
		core.WithLogger(svc.logger),
		core.WithDropHook(svc.dropped),
	)
	svc.scopes = core.NewTranslator(catalog, core.WithLogger(slog.New(slog.DiscardHandler)))

	if err := svc.RefreshCatalogVersion(ctx); err != nil {
		return nil, err
	}

	var invalidations <-chan struct{}
	subscriber, subscribed := catalog.(catalogInvalidationSubscriber)
	if subscribed {
		ch, err := subscriber.SubscribeCatalogInvalidation(ctx)
		if err != nil {
			return nil, fmt.Errorf("subscribe catalog invalidation: %w", err)
		}
		invalidations = ch
	}
	go svc.watchCatalogVersion(ctx, subscriber, invalidations)

	return svc, nil
}

// CatalogVersion is the version currently mixed into choice cache keys.
func (s *Service) CatalogVersion() int64 {
	return s.version.Load()
}

// RefreshCatalogVersion reloads the catalog version from the catalog.
func (s *Service) RefreshCatalogVersion(ctx context.Context) error {
	version, err := s.catalog.CatalogVersion(ctx)
	if err != nil {
		s.catalogFailed("catalog_version")
		return fmt.Errorf("%w: catalog version: %w", core.ErrCatalogLookup, err)
	}

	if previous := s.version.Swap(version); previous != version {
		s.logger.DebugContext(ctx, "catalog version changed", "from", previous, "to", version)
	}
	if s.onVersion != nil {
		s.onVersion(version)
	}
	return nil
}

func (s *Service) watchCatalogVersion(ctx context.Context, subscriber catalogInvalidationSubscriber, invalidations <-chan struct{}) {
	resyncTicker := time.NewTicker(s.resyncInterval)
	defer resyncTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-resyncTicker.C:
			if subscriber != nil && invalidations == nil {
				next, err := subscriber.SubscribeCatalogInvalidation(ctx)
				if err == nil {
					invalidations = next
				}
			}
			s.reloadVersion(ctx)
		case _, ok := <-invalidations:
			if !ok {
				next, err := subscriber.SubscribeCatalogInvalidation(ctx)
				if err != nil {
					invalidations = nil
					continue
				}
				invalidations = next
				continue
			}
			if s.onInvalidation != nil {
				s.onInvalidation()
			}
			s.reloadVersion(ctx)
		}
	}
}

func (s *Service) reloadVersion(ctx context.Context) {
	reloadCtx, cancel := context.WithTimeout(ctx, versionReloadTimeout)
	defer cancel()
	if err := s.RefreshCatalogVersion(reloadCtx); err != nil {
		s.logger.WarnContext(ctx, "catalog version refresh failed", "error", err)
	}
}

// Registry loads the filter definitions stored for contentKind and narrows
// them to include/exclude. Content kinds without stored definitions get one
// filter per attached classification, attributes included. Invalid
// definitions are skipped and logged.
func (s *Service) Registry(ctx context.Context, contentKind string, include, exclude []string) (registry *core.Registry, err error) {
	ctx, span := tracing.Start(ctx, "facetz.Registry", trace.WithAttributes(attribute.String("facetz.content_kind", contentKind)))
	defer func() { tracing.End(span, err) }()

	contentKind = strings.TrimSpace(contentKind)
	if contentKind == "" {
		return nil, fmt.Errorf("%w: content kind is required", ErrInvalidRequest)
	}

	configs, err := s.catalog.ListFilterDefinitions(ctx, contentKind)
	if err != nil {
		s.catalogFailed("list_filter_definitions")
		return nil, fmt.Errorf("%w: list filter definitions: %w", core.ErrCatalogLookup, err)
	}
	if len(configs) == 0 {
		if configs, err = s.defaultConfigs(ctx, contentKind); err != nil {
			return nil, err
		}
	}

	registry, report, err := core.LoadRegistry(ctx, s.catalog, configs)
	if err != nil {
		s.catalogFailed("load_registry")
		return nil, err
	}
	if report.Skipped > 0 {
		s.logger.WarnContext(ctx, "skipped invalid filter definitions",
			"content_kind", contentKind,
			"skipped", report.Skipped,
			"loaded", report.Loaded,
			"error", errors.Join(report.Errors...),
		)
		if s.onSkipped != nil {
			s.onSkipped(report.Skipped)
		}
	}

	if len(include) > 0 || len(exclude) > 0 {
		registry = registry.Subset(include, exclude)
	}
	span.SetAttributes(attribute.Int("facetz.filters", registry.Len()))
	return registry, nil
}

func (s *Service) defaultConfigs(ctx context.Context, contentKind string) ([]core.Config, error) {
	infos, err := s.catalog.ListClassifications(ctx, contentKind)
	if err != nil {
		s.catalogFailed("list_classifications")
		return nil, fmt.Errorf("%w: list classifications: %w", core.ErrCatalogLookup, err)
	}

	configs := make([]core.Config, 0, len(infos))
	for _, info := range infos {
		kind := core.KindClassification
		if info.Attribute {
			kind = core.KindAttribute
		}
		configs = append(configs, core.Config{Kind: kind, Source: info.Name})
	}
	return configs, nil
}

// ValidateDefinition constructs the definition cfg describes. Errors wrap
// core.ErrInvalidFilterDefinition when the configuration itself is at fault.
func (s *Service) ValidateDefinition(ctx context.Context, cfg core.Config) (core.Definition, error) {
	def, err := core.NewDefinition(ctx, s.catalog, cfg)
	if err != nil && errors.Is(err, core.ErrCatalogLookup) {
		s.catalogFailed("validate_definition")
	}
	return def, err
}

// Choices enumerates def within scope, through the choice cache when one is
// configured.
func (s *Service) Choices(ctx context.Context, def core.Definition, scope *core.Query) (core.ChoiceSet, error) {
	load := func(ctx context.Context) (core.ChoiceSet, error) {
		return def.Choices(ctx, s.catalog, scope)
	}
	if s.choices == nil {
		return load(ctx)
	}
	return s.choices.Choices(ctx, cache.Key(def, s.CatalogVersion(), scope), load)
}

// BuildQuery applies sel to base using the filters in registry.
func (s *Service) BuildQuery(ctx context.Context, registry *core.Registry, sel core.Selection, base core.Query) (query core.Query, err error) {
	ctx, span := tracing.Start(ctx, "facetz.BuildQuery")
	defer func() { tracing.End(span, err) }()

	query, err = s.translator.BuildQuery(ctx, registry, sel, base)
	if err != nil && errors.Is(err, core.ErrCatalogLookup) {
		s.catalogFailed("build_query")
	}
	return query, err
}

// Facets enumerates every filter in registry. Each filter's counts reflect
// all other active selections but not its own. Filters with nothing to offer
// are left out.
func (s *Service) Facets(ctx context.Context, registry *core.Registry, sel core.Selection, base core.Query) (facets []Facet, err error) {
	ctx, span := tracing.Start(ctx, "facetz.Facets", trace.WithAttributes(attribute.Int("facetz.filters", registry.Len())))
	defer func() { tracing.End(span, err) }()

	scopeBase := countScope(base)
	defs := registry.Definitions()
	slots := make([]*Facet, len(defs))

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(facetConcurrency)
	for i, def := range defs {
		group.Go(func() error {
			scope, err := s.scopes.BuildQuery(groupCtx, registry, sel.Without(def.ID()), scopeBase)
			if err != nil {
				return err
			}
			set, err := s.Choices(groupCtx, def, &scope)
			if err != nil {
				return err
			}
			if set.IsEmpty() {
				return nil
			}
			slots[i] = newFacet(def, sel[def.ID()], set)
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		if errors.Is(err, core.ErrCatalogLookup) {
			s.catalogFailed("facets")
		}
		return nil, err
	}

	facets = make([]Facet, 0, len(slots))
	for _, facet := range slots {
		if facet != nil {
			facets = append(facets, *facet)
		}
	}
	return facets, nil
}

// Query resolves the registry for req and returns the query it translates
// to without executing it.
func (s *Service) Query(ctx context.Context, req Request) (core.Query, error) {
	registry, err := s.Registry(ctx, req.ContentKind, req.Include, req.Exclude)
	if err != nil {
		return core.Query{}, err
	}
	return s.BuildQuery(ctx, registry, req.Selection, s.baseQuery(req))
}

// FacetsFor resolves the registry for req and enumerates its facets.
func (s *Service) FacetsFor(ctx context.Context, req Request) ([]Facet, error) {
	registry, err := s.Registry(ctx, req.ContentKind, req.Include, req.Exclude)
	if err != nil {
		return nil, err
	}
	return s.Facets(ctx, registry, req.Selection, s.baseQuery(req))
}

// Search executes req and enumerates its facets concurrently.
func (s *Service) Search(ctx context.Context, req Request) (result SearchResult, err error) {
	ctx, span := tracing.Start(ctx, "facetz.Search", trace.WithAttributes(attribute.String("facetz.content_kind", req.ContentKind)))
	defer func() { tracing.End(span, err) }()

	registry, err := s.Registry(ctx, req.ContentKind, req.Include, req.Exclude)
	if err != nil {
		return SearchResult{}, err
	}

	base := s.baseQuery(req)
	query, err := s.BuildQuery(ctx, registry, req.Selection, base)
	if err != nil {
		return SearchResult{}, err
	}

	var (
		executed core.Result
		facets   []Facet
	)
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		var err error
		executed, err = s.execute(groupCtx, query)
		return err
	})
	group.Go(func() error {
		var err error
		facets, err = s.Facets(groupCtx, registry, req.Selection, base)
		return err
	})
	if err := group.Wait(); err != nil {
		return SearchResult{}, err
	}

	canonical, err := urlcodec.Rebuild(req.RawQuery, knownSelection(registry, req.Selection))
	if err != nil {
		return SearchResult{}, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	span.SetAttributes(attribute.Int("facetz.found", executed.Found))
	return SearchResult{
		Items:       executed.Items,
		FoundCount:  executed.Found,
		PageCount:   executed.Pages,
		CurrentPage: query.Page,
		Facets:      facets,
		Query:       canonical,
	}, nil
}

func (s *Service) execute(ctx context.Context, query core.Query) (result core.Result, err error) {
	ctx, span := tracing.Start(ctx, "facetz.Execute")
	defer func() { tracing.End(span, err) }()

	result, err = s.catalog.Execute(ctx, query)
	if err != nil {
		s.catalogFailed("execute")
		return core.Result{}, fmt.Errorf("%w: execute: %w", core.ErrCatalogLookup, err)
	}
	if result.Items == nil {
		result.Items = []core.Item{}
	}
	return result, nil
}

func (s *Service) baseQuery(req Request) core.Query {
	perPage := req.PerPage
	if perPage <= 0 {
		perPage = s.perPage
	}
	perPage = min(perPage, s.maxPerPage)

	return core.Query{
		ContentKind: strings.TrimSpace(req.ContentKind),
		Page:        max(req.Page, 1),
		PerPage:     perPage,
		OrderBy:     strings.TrimSpace(req.OrderBy),
		Order:       strings.ToUpper(strings.TrimSpace(req.Order)),
		Search:      strings.TrimSpace(req.Search),
	}
}

func (s *Service) dropped(filterID string, err error) {
	if s.onDrop != nil {
		s.onDrop(filterID, err)
	}
}

func (s *Service) catalogFailed(operation string) {
	if s.onCatalogError != nil {
		s.onCatalogError(operation)
	}
}

// countScope strips the parts of a query that do not change which items
// match, so facets of different pages share cache entries.
func countScope(base core.Query) core.Query {
	scope := base.Clone()
	scope.Page = 0
	scope.PerPage = 0
	scope.OrderBy = ""
	scope.Order = ""
	return scope
}

func knownSelection(registry *core.Registry, sel core.Selection) core.Selection {
	out := make(core.Selection, len(sel))
	for id, value := range sel.Active() {
		if _, ok := registry.Get(id); ok {
			out[id] = value
		}
	}
	return out
}

func newFacet(def core.Definition, selected core.Value, set core.ChoiceSet) *Facet {
	facet := &Facet{
		ID:          def.ID(),
		Kind:        def.Kind(),
		Label:       def.Label(),
		DisplayType: def.DisplayType(),
		ShowCount:   def.ShowCount(),
		Choices:     set.Choices,
		Range:       set.Range,
	}
	if selected.IsRange() {
		bounds := *selected.Range
		facet.SelectedRange = &bounds
	} else if values := selected.Values(); len(values) > 0 {
		facet.Selected = values
	}
	return facet
}
