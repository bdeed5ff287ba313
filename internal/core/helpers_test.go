package core

import (
	"context"
	"encoding/json"
	"testing"
)

type fakeCatalog struct {
	schemes    map[string]ClassificationInfo
	entries    map[string][]Entry
	values     map[string][]ValueCount
	bounds     map[string]Bounds
	variations map[string][]ValueCount
	parents    map[string]map[string][]int64
	err        error

	lastEntryQuery EntryQuery
	parentCalls    int
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{
		schemes: map[string]ClassificationInfo{
			"category": {Name: "category", Label: "Categories", Hierarchical: true},
			"post_tag": {Name: "post_tag", Label: "Tags"},
			"pa_color": {Name: "pa_color", Label: "Color", Attribute: true},
			"pa_size":  {Name: "pa_size", Label: "Size", Attribute: true},
		},
		entries: map[string][]Entry{
			"category": {
				{ID: 1, Slug: "shoes", Name: "Shoes", Count: 4},
				{ID: 2, Slug: "boots", Name: "boots", Parent: 1, Count: 2},
				{ID: 3, Slug: "hats", Name: "Hats", Count: 0},
				{ID: 4, Slug: "bags", Name: "Bags", Count: 7},
			},
			"pa_color": {
				{ID: 10, Slug: "red", Name: "Red", Count: 3, Color: "#ff0000"},
				{ID: 11, Slug: "blue", Name: "Blue", Count: 1, Color: "#0000ff"},
			},
		},
		values: map[string][]ValueCount{
			"brand": {
				{Value: "acme", Count: 2},
				{Value: "", Count: 9},
				{Value: "globex", Count: 5},
				{Value: "initech", Count: 0},
			},
		},
		bounds: map[string]Bounds{
			"price": {Min: 5, Max: 250, Found: true},
		},
		variations: map[string][]ValueCount{
			"pa_size": {
				{Value: "small", Count: 2},
				{Value: "large", Count: 1},
			},
		},
		parents: map[string]map[string][]int64{
			"pa_size": {
				"small": {7, 3},
				"large": {3, 9},
			},
		},
	}
}

func (c *fakeCatalog) Classification(_ context.Context, name string) (ClassificationInfo, bool, error) {
	if c.err != nil {
		return ClassificationInfo{}, false, c.err
	}
	info, ok := c.schemes[name]
	return info, ok, nil
}

func (c *fakeCatalog) ListEntries(_ context.Context, scheme string, query EntryQuery) ([]Entry, error) {
	if c.err != nil {
		return nil, c.err
	}
	c.lastEntryQuery = query
	return append([]Entry(nil), c.entries[scheme]...), nil
}

func (c *fakeCatalog) DistinctValues(_ context.Context, key string, _ ValueQuery) ([]ValueCount, error) {
	if c.err != nil {
		return nil, c.err
	}
	return append([]ValueCount(nil), c.values[key]...), nil
}

func (c *fakeCatalog) MinMax(_ context.Context, key string, _ *Query) (Bounds, error) {
	if c.err != nil {
		return Bounds{}, c.err
	}
	return c.bounds[key], nil
}

func (c *fakeCatalog) VariationValues(_ context.Context, attribute string, _ ValueQuery) ([]ValueCount, error) {
	if c.err != nil {
		return nil, c.err
	}
	return append([]ValueCount(nil), c.variations[attribute]...), nil
}

func (c *fakeCatalog) VariationParents(_ context.Context, attribute string, values []string) ([]int64, error) {
	c.parentCalls++
	if c.err != nil {
		return nil, c.err
	}
	var out []int64
	for _, value := range values {
		out = append(out, c.parents[attribute][value]...)
	}
	return out, nil
}

func mustDefinition(t *testing.T, catalog ClassificationLookup, cfg Config) Definition {
	t.Helper()

	def, err := NewDefinition(context.Background(), catalog, cfg)
	if err != nil {
		t.Fatalf("NewDefinition(%+v) error = %v", cfg, err)
	}
	return def
}

func mustRegistry(t *testing.T, defs ...Definition) *Registry {
	t.Helper()

	registry, err := NewRegistry(defs...)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	return registry
}

func rawOptions(t *testing.T, options map[string]any) json.RawMessage {
	t.Helper()

	encoded, err := json.Marshal(options)
	if err != nil {
		t.Fatalf("marshal options: %v", err)
	}
	return encoded
}
