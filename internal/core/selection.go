package core

import (
	"slices"
	"strings"
)

// RangeValue is a {min,max} selection. An empty bound is absent.
type RangeValue struct {
	Min string `json:"min,omitempty"`
	Max string `json:"max,omitempty"`
}

// Value is one entry of a Selection: empty, a scalar (one item), a list
// (several items) or a range.
type Value struct {
	Items []string    `json:"items,omitempty"`
	Range *RangeValue `json:"range,omitempty"`
}

func Scalar(item string) Value {
	return Value{Items: []string{item}}
}

func List(items ...string) Value {
	return Value{Items: slices.Clone(items)}
}

func Between(min, max string) Value {
	return Value{Range: &RangeValue{Min: min, Max: max}}
}

func (v Value) IsRange() bool {
	return v.Range != nil
}

func (v Value) IsEmpty() bool {
	if v.Range != nil {
		return strings.TrimSpace(v.Range.Min) == "" && strings.TrimSpace(v.Range.Max) == ""
	}
	for _, item := range v.Items {
		if strings.TrimSpace(item) != "" {
			return false
		}
	}
	return true
}

// Values returns the non-blank items, trimmed, in selection order.
func (v Value) Values() []string {
	out := make([]string, 0, len(v.Items))
	for _, item := range v.Items {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// Selection maps filter ids to the values a user picked.
type Selection map[string]Value

// IDs returns the selection keys in sorted order.
func (s Selection) IDs() []string {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Without returns a copy of the selection minus one filter.
func (s Selection) Without(id string) Selection {
	out := make(Selection, len(s))
	for key, value := range s {
		if key != id {
			out[key] = value
		}
	}
	return out
}

// Active returns a copy holding only the non-empty entries.
func (s Selection) Active() Selection {
	out := make(Selection, len(s))
	for key, value := range s {
		if !value.IsEmpty() {
			out[key] = value
		}
	}
	return out
}
