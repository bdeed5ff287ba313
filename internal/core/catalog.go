package core

import "context"

// ClassificationInfo describes a classification scheme known to the catalog.
// Attribute schemes use the "pa_" name prefix.
type ClassificationInfo struct {
	Name         string `json:"name"`
	Label        string `json:"label"`
	Hierarchical bool   `json:"hierarchical"`
	Attribute    bool   `json:"attribute"`
}

// Entry is one classification entry with its item count under the scope the
// lookup was asked for.
type Entry struct {
	ID     int64  `json:"id"`
	Slug   string `json:"slug"`
	Name   string `json:"name"`
	Parent int64  `json:"parent"`
	Count  int    `json:"count"`
	Color  string `json:"color,omitempty"`
	Image  string `json:"image,omitempty"`
}

// EntryQuery narrows ListEntries. Scope, when set, is the query whose
// matching items are counted; nil counts every published item.
type EntryQuery struct {
	Include   []int64
	Exclude   []int64
	HideEmpty bool
	OrderBy   string
	Order     string
	Scope     *Query
}

// ValueQuery narrows distinct-value lookups the same way EntryQuery does.
type ValueQuery struct {
	OrderBy string
	Order   string
	Scope   *Query
}

type ValueCount struct {
	Value string `json:"value"`
	Count int    `json:"count"`
}

// Bounds is the numeric span of a metadata key. Found is false when no item
// carries a numeric value for the key.
type Bounds struct {
	Min   float64
	Max   float64
	Found bool
}

type ClassificationLookup interface {
	Classification(ctx context.Context, name string) (ClassificationInfo, bool, error)
	ListEntries(ctx context.Context, scheme string, query EntryQuery) ([]Entry, error)
}

type MetadataLookup interface {
	DistinctValues(ctx context.Context, key string, query ValueQuery) ([]ValueCount, error)
	MinMax(ctx context.Context, key string, scope *Query) (Bounds, error)
}

// VariationLookup resolves attribute values stored on child variation items.
// Counts returned by VariationValues are distinct parent items.
type VariationLookup interface {
	VariationValues(ctx context.Context, attribute string, query ValueQuery) ([]ValueCount, error)
	VariationParents(ctx context.Context, attribute string, values []string) ([]int64, error)
}

// Catalog is everything choice enumeration needs from the host catalog.
type Catalog interface {
	ClassificationLookup
	MetadataLookup
	VariationLookup
}

type Item struct {
	ID          int64             `json:"id"`
	Title       string            `json:"title"`
	Slug        string            `json:"slug,omitempty"`
	ContentKind string            `json:"content_kind"`
	Meta        map[string]string `json:"meta,omitempty"`
}

type Result struct {
	Items []Item `json:"items"`
	Found int    `json:"found_count"`
	Pages int    `json:"page_count"`
}

type QueryExecutor interface {
	Execute(ctx context.Context, query Query) (Result, error)
}
