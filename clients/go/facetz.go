// Package facetz provides client interfaces and wire types for the facetz
// filter service.
//
// Use the sub-packages to create transport-specific clients:
//
//	import facetzhttp "github.com/matt-riley/facetz/clients/go/http"
//	import facetzgrpc "github.com/matt-riley/facetz/clients/go/grpc"
package facetz

import (
	"context"
	"net/url"
	"slices"
	"strconv"
	"strings"
)

// Searcher runs searches and facet enumeration for one content kind.
type Searcher interface {
	Search(ctx context.Context, req SearchRequest) (SearchResult, error)
	Facets(ctx context.Context, req SearchRequest) ([]Facet, error)
}

// DefinitionValidator checks a stored filter definition before it is saved.
type DefinitionValidator interface {
	ValidateDefinition(ctx context.Context, def Definition) (DefinitionSummary, error)
}

// SearchRequest describes one search. Zero values are left to the server.
type SearchRequest struct {
	ContentKind string
	// Filters maps a filter id to its selected values.
	Filters map[string][]string
	// Ranges maps a range filter id to its bounds.
	Ranges  map[string]RangeBounds
	Page    int
	PerPage int
	OrderBy string
	Order   string // "asc" | "desc"
	Search  string
	// Include and Exclude narrow the set of filters the server enumerates.
	Include []string
	Exclude []string
}

type RangeBounds struct {
	Min string `json:"min"`
	Max string `json:"max"`
}

// Encode renders the request as the query string the server reads. Filter
// parameters follow the other parameters in filter id order.
func (r SearchRequest) Encode() string {
	params := make([]string, 0)
	add := func(key, value string) {
		params = append(params, key+"="+url.QueryEscape(value))
	}

	if r.Search != "" {
		add("s", r.Search)
	}
	if r.Page > 0 {
		add("page", strconv.Itoa(r.Page))
	}
	if r.PerPage > 0 {
		add("per_page", strconv.Itoa(r.PerPage))
	}
	if r.OrderBy != "" {
		add("orderby", r.OrderBy)
	}
	if r.Order != "" {
		add("order", r.Order)
	}
	if len(r.Include) > 0 {
		add("filters", strings.Join(r.Include, ","))
	}
	if len(r.Exclude) > 0 {
		add("exclude", strings.Join(r.Exclude, ","))
	}

	ids := make([]string, 0, len(r.Filters)+len(r.Ranges))
	for id := range r.Filters {
		ids = append(ids, id)
	}
	for id := range r.Ranges {
		if _, ok := r.Filters[id]; !ok {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)

	for _, id := range ids {
		if bounds, ok := r.Ranges[id]; ok {
			if bounds.Min != "" {
				add("filter_"+id+"[min]", bounds.Min)
			}
			if bounds.Max != "" {
				add("filter_"+id+"[max]", bounds.Max)
			}
			continue
		}
		values := make([]string, 0, len(r.Filters[id]))
		for _, value := range r.Filters[id] {
			if value != "" {
				values = append(values, url.QueryEscape(value))
			}
		}
		if len(values) > 0 {
			params = append(params, "filter_"+id+"="+strings.Join(values, ","))
		}
	}

	return strings.Join(params, "&")
}

type Item struct {
	ID          int64             `json:"id"`
	Title       string            `json:"title"`
	Slug        string            `json:"slug,omitempty"`
	ContentKind string            `json:"content_kind"`
	Meta        map[string]string `json:"meta,omitempty"`
}

type Choice struct {
	Value  string `json:"value"`
	Label  string `json:"label"`
	Count  int    `json:"count"`
	ID     int64  `json:"id,omitempty"`
	Slug   string `json:"slug,omitempty"`
	Parent int64  `json:"parent,omitempty"`
	Color  string `json:"color,omitempty"`
	Image  string `json:"image,omitempty"`
}

type Range struct {
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
	Step float64 `json:"step"`
}

// Facet is one filter ready for rendering. Range is set for range filters,
// Choices for everything else.
type Facet struct {
	ID            string       `json:"id"`
	Kind          string       `json:"kind"`
	Label         string       `json:"label"`
	DisplayType   string       `json:"display_type"`
	ShowCount     bool         `json:"show_count"`
	Selected      []string     `json:"selected,omitempty"`
	SelectedRange *RangeBounds `json:"selected_range,omitempty"`
	Choices       []Choice     `json:"choices,omitempty"`
	Range         *Range       `json:"range,omitempty"`
}

type SearchResult struct {
	Items       []Item  `json:"items"`
	FoundCount  int     `json:"found_count"`
	PageCount   int     `json:"page_count"`
	CurrentPage int     `json:"current_page"`
	Facets      []Facet `json:"facets"`
	// Query is the canonical query string for the selection the server
	// applied.
	Query string `json:"query"`
}

// Definition is a stored filter definition.
type Definition struct {
	ID      string         `json:"id,omitempty"`
	Kind    string         `json:"kind"`
	Label   string         `json:"label,omitempty"`
	Source  string         `json:"source"`
	Options map[string]any `json:"options,omitempty"`
}

type DefinitionSummary struct {
	ID          string `json:"id"`
	Kind        string `json:"kind"`
	Label       string `json:"label"`
	Source      string `json:"source"`
	DisplayType string `json:"display_type"`
	ShowCount   bool   `json:"show_count"`
}
