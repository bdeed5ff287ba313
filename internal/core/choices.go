package core

import (
	"cmp"
	"slices"
	"strings"
)

// refine applies, in order: the include/exclude filter, hide_empty, ordering
// and limit. Collaborators may already have done some of this; repeating it
// keeps the result independent of how a catalog implements the lookup.
func refine(choices []Choice, keep func(Choice) bool, listing Listing) []Choice {
	out := make([]Choice, 0, len(choices))
	for _, choice := range choices {
		if keep != nil && !keep(choice) {
			continue
		}
		if listing.HideEmpty && choice.Count <= 0 {
			continue
		}
		out = append(out, choice)
	}

	slices.SortStableFunc(out, compareChoices(listing.OrderBy, listing.Order == OrderDesc))

	if listing.Limit > 0 && len(out) > listing.Limit {
		out = out[:listing.Limit]
	}
	return out
}

func compareChoices(orderBy string, descending bool) func(a, b Choice) int {
	return func(a, b Choice) int {
		var primary int
		switch orderBy {
		case OrderByCount:
			primary = cmp.Compare(a.Count, b.Count)
		case OrderBySlug:
			primary = cmp.Compare(a.Slug, b.Slug)
		case OrderByID:
			primary = cmp.Compare(a.ID, b.ID)
		default:
			primary = cmp.Compare(strings.ToLower(a.Label), strings.ToLower(b.Label))
		}
		if descending {
			primary = -primary
		}
		if primary != 0 {
			return primary
		}
		return cmp.Compare(a.Value, b.Value)
	}
}

func keepIDs(include, exclude []int64) func(Choice) bool {
	if len(include) == 0 && len(exclude) == 0 {
		return nil
	}
	return func(choice Choice) bool {
		if len(include) > 0 && !slices.Contains(include, choice.ID) {
			return false
		}
		return !slices.Contains(exclude, choice.ID)
	}
}

func keepValues(include, exclude []string) func(Choice) bool {
	if len(include) == 0 && len(exclude) == 0 {
		return nil
	}
	return func(choice Choice) bool {
		if len(include) > 0 && !slices.Contains(include, choice.Value) {
			return false
		}
		return !slices.Contains(exclude, choice.Value)
	}
}

func valueChoices(values []ValueCount) []Choice {
	choices := make([]Choice, 0, len(values))
	for _, value := range values {
		if strings.TrimSpace(value.Value) == "" {
			continue
		}
		choices = append(choices, Choice{
			Value: value.Value,
			Label: value.Value,
			Count: value.Count,
		})
	}
	return choices
}
