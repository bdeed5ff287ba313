// Package facetz is the embeddable filter engine: it builds filter
// definitions from stored configuration, enumerates their choices against a
// host catalog, translates a user selection into a backend-agnostic query and
// round-trips selections through URL query strings.
//
// A typical request:
//
//	registry, _, err := facetz.LoadRegistry(ctx, catalog, configs)
//	sel := facetz.DecodeSelection(r.URL.RawQuery)
//	query, err := facetz.BuildQuery(ctx, catalog, registry, sel, facetz.Query{ContentKind: "product"})
//	result, err := executor.Execute(ctx, query)
package facetz

import (
	"context"
	"log/slog"

	"github.com/matt-riley/facetz/internal/core"
	"github.com/matt-riley/facetz/internal/urlcodec"
)

type (
	Kind        = core.Kind
	Config      = core.Config
	Definition  = core.Definition
	Registry    = core.Registry
	LoadReport  = core.LoadReport
	FilterError = core.FilterError

	Selection  = core.Selection
	Value      = core.Value
	RangeValue = core.RangeValue

	Query        = core.Query
	Node         = core.Node
	Condition    = core.Condition
	IDConstraint = core.IDConstraint

	Choice    = core.Choice
	ChoiceSet = core.ChoiceSet
	Range     = core.Range

	Catalog              = core.Catalog
	ClassificationLookup = core.ClassificationLookup
	VariationLookup      = core.VariationLookup
	QueryExecutor        = core.QueryExecutor
	Result               = core.Result
	Item                 = core.Item
)

const (
	KindClassification     = core.KindClassification
	KindMetadata           = core.KindMetadata
	KindAttribute          = core.KindAttribute
	KindVariationAttribute = core.KindVariationAttribute

	// SelectionPrefix marks a query parameter as a filter selection.
	SelectionPrefix = urlcodec.Prefix
)

var (
	ErrInvalidFilterDefinition = core.ErrInvalidFilterDefinition
	ErrUnknownOption           = core.ErrUnknownOption
	ErrMalformedSelectionValue = core.ErrMalformedSelectionValue
	ErrAmbiguousRangeSelection = core.ErrAmbiguousRangeSelection
	ErrCatalogLookup           = core.ErrCatalogLookup
	ErrDelimiterInValue        = urlcodec.ErrDelimiterInValue
)

// Scalar, List and Between build selection values.
func Scalar(v string) Value         { return core.Scalar(v) }
func List(values ...string) Value   { return core.List(values...) }
func Between(min, max string) Value { return core.Between(min, max) }

// NewDefinition validates cfg against the catalog's classifications.
func NewDefinition(ctx context.Context, lookup ClassificationLookup, cfg Config) (Definition, error) {
	return core.NewDefinition(ctx, lookup, cfg)
}

// NewRegistry orders defs as given. Duplicate ids are rejected.
func NewRegistry(defs ...Definition) (*Registry, error) {
	return core.NewRegistry(defs...)
}

// LoadRegistry builds every config it can; invalid ones are reported in the
// returned LoadReport and left out.
func LoadRegistry(ctx context.Context, lookup ClassificationLookup, configs []Config) (*Registry, LoadReport, error) {
	return core.LoadRegistry(ctx, lookup, configs)
}

type options struct {
	logger *slog.Logger
	onDrop func(filterID string, err error)
}

type Option func(*options)

// WithLogger receives dropped-selection logs.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithDropHook is told about every filter whose selected value was ignored.
func WithDropHook(fn func(filterID string, err error)) Option {
	return func(o *options) {
		o.onDrop = fn
	}
}

// BuildQuery merges sel into a copy of base. variations may be nil when the
// registry has no variation attribute filter.
func BuildQuery(ctx context.Context, variations VariationLookup, registry *Registry, sel Selection, base Query, opts ...Option) (Query, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	translator := core.NewTranslator(variations,
		core.WithLogger(o.logger),
		core.WithDropHook(o.onDrop),
	)
	return translator.BuildQuery(ctx, registry, sel, base)
}

// GetChoices enumerates def within scope; a nil scope counts the whole
// catalog.
func GetChoices(ctx context.Context, catalog Catalog, def Definition, scope *Query) (ChoiceSet, error) {
	return def.Choices(ctx, catalog, scope)
}

// EncodeSelection renders sel as filter_ query parameters in id order.
func EncodeSelection(sel Selection) (string, error) {
	return urlcodec.Encode(sel)
}

// DecodeSelection reads the filter_ parameters of a raw query string.
func DecodeSelection(rawQuery string) Selection {
	return urlcodec.Decode(rawQuery)
}

// RebuildQuery replaces the filter_ parameters of rawQuery with sel and keeps
// every other parameter.
func RebuildQuery(rawQuery string, sel Selection) (string, error) {
	return urlcodec.Rebuild(rawQuery, sel)
}
