// Package memcatalog is an in-memory catalog. It backs tests and local
// development where a PostgreSQL catalog is not available.
package memcatalog

import (
	"cmp"
	"context"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/matt-riley/facetz/internal/core"
)

const (
	defaultStatus  = "publish"
	variationKind  = "variation"
	variationMeta  = "attribute_"
	metaOrderByKey = "meta:"
)

// Item is a catalog item. Variations are items with a ParentID.
type Item struct {
	ID       int64
	ParentID int64
	Kind     string
	Status   string
	Title    string
	Slug     string
	Date     time.Time
	Entries  map[string][]int64
	Meta     map[string][]string
}

type scheme struct {
	info  core.ClassificationInfo
	kinds []string
}

// Catalog implements every lookup the engine and service need. It is safe
// for concurrent use; every mutation bumps the catalog version.
type Catalog struct {
	mu          sync.RWMutex
	schemes     map[string]scheme
	entries     map[string][]core.Entry
	items       []Item
	definitions map[string][]core.Config
	version     int64
}

func New() *Catalog {
	return &Catalog{
		schemes:     make(map[string]scheme),
		entries:     make(map[string][]core.Entry),
		definitions: make(map[string][]core.Config),
		version:     1,
	}
}

// AddClassification registers a scheme attached to the given content kinds.
func (c *Catalog) AddClassification(info core.ClassificationInfo, contentKinds ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.schemes[info.Name] = scheme{info: info, kinds: slices.Clone(contentKinds)}
	c.version++
}

func (c *Catalog) AddEntry(schemeName string, entry core.Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry.Count = 0
	c.entries[schemeName] = append(c.entries[schemeName], entry)
	c.version++
}

func (c *Catalog) AddItem(item Item) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if item.Status == "" {
		item.Status = defaultStatus
	}
	c.items = append(c.items, item)
	c.version++
}

// SetDefinitions replaces the stored filter configuration of a content kind.
func (c *Catalog) SetDefinitions(contentKind string, configs []core.Config) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.definitions[contentKind] = slices.Clone(configs)
	c.version++
}

func (c *Catalog) Classification(_ context.Context, name string) (core.ClassificationInfo, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s, ok := c.schemes[name]
	return s.info, ok, nil
}

func (c *Catalog) ListClassifications(_ context.Context, contentKind string) ([]core.ClassificationInfo, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]core.ClassificationInfo, 0, len(c.schemes))
	for _, s := range c.schemes {
		if slices.Contains(s.kinds, contentKind) {
			out = append(out, s.info)
		}
	}
	slices.SortFunc(out, func(a, b core.ClassificationInfo) int {
		return strings.Compare(a.Name, b.Name)
	})
	return out, nil
}

func (c *Catalog) ListFilterDefinitions(_ context.Context, contentKind string) ([]core.Config, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return slices.Clone(c.definitions[contentKind]), nil
}

func (c *Catalog) CatalogVersion(_ context.Context) (int64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.version, nil
}

func (c *Catalog) ListEntries(_ context.Context, schemeName string, query core.EntryQuery) ([]core.Entry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	counts := make(map[int64]int)
	for i := range c.items {
		item := &c.items[i]
		if !c.matchQuery(item, query.Scope) {
			continue
		}
		for _, id := range item.Entries[schemeName] {
			counts[id]++
		}
	}

	out := make([]core.Entry, 0, len(c.entries[schemeName]))
	for _, entry := range c.entries[schemeName] {
		if len(query.Include) > 0 && !slices.Contains(query.Include, entry.ID) {
			continue
		}
		if slices.Contains(query.Exclude, entry.ID) {
			continue
		}
		entry.Count = counts[entry.ID]
		if query.HideEmpty && entry.Count == 0 {
			continue
		}
		out = append(out, entry)
	}
	slices.SortFunc(out, func(a, b core.Entry) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func (c *Catalog) DistinctValues(_ context.Context, key string, query core.ValueQuery) ([]core.ValueCount, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	counts := make(map[string]int)
	for i := range c.items {
		item := &c.items[i]
		if !c.matchQuery(item, query.Scope) {
			continue
		}
		for _, value := range uniqueValues(item.Meta[key]) {
			counts[value]++
		}
	}
	return sortedCounts(counts), nil
}

func (c *Catalog) MinMax(_ context.Context, key string, scope *core.Query) (core.Bounds, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var bounds core.Bounds
	for i := range c.items {
		item := &c.items[i]
		if !c.matchQuery(item, scope) {
			continue
		}
		for _, value := range item.Meta[key] {
			n, ok := asFloat64(value)
			if !ok {
				continue
			}
			if !bounds.Found || n < bounds.Min {
				bounds.Min = n
			}
			if !bounds.Found || n > bounds.Max {
				bounds.Max = n
			}
			bounds.Found = true
		}
	}
	return bounds, nil
}

func (c *Catalog) VariationValues(_ context.Context, attribute string, query core.ValueQuery) ([]core.ValueCount, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	parents := make(map[string]map[int64]struct{})
	for i := range c.items {
		variation := &c.items[i]
		if !c.isLiveVariation(variation) {
			continue
		}
		parent, ok := c.item(variation.ParentID)
		if !ok || !c.matchQuery(parent, query.Scope) {
			continue
		}
		for _, value := range variation.Meta[variationMeta+attribute] {
			if value == "" {
				continue
			}
			if parents[value] == nil {
				parents[value] = make(map[int64]struct{})
			}
			parents[value][parent.ID] = struct{}{}
		}
	}

	counts := make(map[string]int, len(parents))
	for value, ids := range parents {
		counts[value] = len(ids)
	}
	return sortedCounts(counts), nil
}

func (c *Catalog) VariationParents(_ context.Context, attribute string, values []string) ([]int64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]int64, 0)
	for i := range c.items {
		variation := &c.items[i]
		if !c.isLiveVariation(variation) {
			continue
		}
		for _, value := range variation.Meta[variationMeta+attribute] {
			if slices.Contains(values, value) {
				out = append(out, variation.ParentID)
				break
			}
		}
	}
	slices.Sort(out)
	return slices.Compact(out), nil
}

// Execute runs a query against the stored items. PerPage <= 0 returns every
// match on one page.
func (c *Catalog) Execute(_ context.Context, query core.Query) (core.Result, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	matched := make([]*Item, 0)
	for i := range c.items {
		if c.matchQuery(&c.items[i], &query) {
			matched = append(matched, &c.items[i])
		}
	}
	sortItems(matched, query.OrderBy, query.Order)

	result := core.Result{Items: make([]core.Item, 0), Found: len(matched)}
	perPage := query.PerPage
	if perPage <= 0 {
		perPage = max(len(matched), 1)
	}
	result.Pages = (len(matched) + perPage - 1) / perPage

	page := max(query.Page, 1)
	start := min((page-1)*perPage, len(matched))
	end := min(start+perPage, len(matched))
	for _, item := range matched[start:end] {
		result.Items = append(result.Items, toResultItem(item))
	}
	return result, nil
}

func (c *Catalog) isLiveVariation(item *Item) bool {
	return item.ParentID != 0 && item.Kind == variationKind && item.Status == defaultStatus
}

func (c *Catalog) item(id int64) (*Item, bool) {
	for i := range c.items {
		if c.items[i].ID == id {
			return &c.items[i], true
		}
	}
	return nil, false
}

func sortItems(items []*Item, orderBy, order string) {
	orderBy = strings.TrimSpace(orderBy)
	keyword := strings.ToLower(orderBy)
	if keyword == "" {
		keyword = "date"
	}
	desc := strings.EqualFold(order, core.OrderDesc) || (order == "" && keyword == "date")

	compare := func(a, b *Item) int {
		switch {
		case keyword == "title":
			return strings.Compare(strings.ToLower(a.Title), strings.ToLower(b.Title))
		case keyword == "id":
			return cmp.Compare(a.ID, b.ID)
		case strings.HasPrefix(keyword, metaOrderByKey):
			key := orderBy[len(metaOrderByKey):]
			return cmp.Compare(metaNumber(a, key), metaNumber(b, key))
		default:
			return a.Date.Compare(b.Date)
		}
	}

	slices.SortStableFunc(items, func(a, b *Item) int {
		result := compare(a, b)
		if desc {
			result = -result
		}
		if result == 0 {
			return cmp.Compare(a.ID, b.ID)
		}
		return result
	})
}

func metaNumber(item *Item, key string) float64 {
	for _, value := range item.Meta[key] {
		if n, ok := asFloat64(value); ok {
			return n
		}
	}
	return 0
}

func toResultItem(item *Item) core.Item {
	meta := make(map[string]string, len(item.Meta))
	for key, values := range item.Meta {
		if len(values) > 0 {
			meta[key] = values[0]
		}
	}
	return core.Item{
		ID:          item.ID,
		Title:       item.Title,
		Slug:        cmp.Or(item.Slug, strconv.FormatInt(item.ID, 10)),
		ContentKind: item.Kind,
		Meta:        meta,
	}
}

func uniqueValues(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		if value != "" && !slices.Contains(out, value) {
			out = append(out, value)
		}
	}
	return out
}

func sortedCounts(counts map[string]int) []core.ValueCount {
	out := make([]core.ValueCount, 0, len(counts))
	for value, count := range counts {
		out = append(out, core.ValueCount{Value: value, Count: count})
	}
	slices.SortFunc(out, func(a, b core.ValueCount) int { return strings.Compare(a.Value, b.Value) })
	return out
}
