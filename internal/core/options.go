package core

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
)

const (
	DisplayCheckbox    = "checkbox"
	DisplayRadio       = "radio"
	DisplaySelect      = "select"
	DisplayMultiselect = "multiselect"
	DisplayRange       = "range"
	DisplayColor       = "color"
	DisplayImage       = "image"

	OrderAsc  = "ASC"
	OrderDesc = "DESC"

	OrderByName  = "name"
	OrderByCount = "count"
	OrderBySlug  = "slug"
	OrderByID    = "id"
)

// Listing holds the options every kind uses to shape its choice list.
type Listing struct {
	ShowCount bool   `json:"show_count"`
	HideEmpty bool   `json:"hide_empty"`
	OrderBy   string `json:"orderby"`
	Order     string `json:"order"`
	Limit     int    `json:"limit"`
}

func defaultListing() Listing {
	return Listing{
		ShowCount: true,
		HideEmpty: true,
		OrderBy:   OrderByName,
		Order:     OrderAsc,
	}
}

func (l *Listing) normalize(orderBys ...string) error {
	l.OrderBy = strings.ToLower(strings.TrimSpace(l.OrderBy))
	l.Order = strings.ToUpper(strings.TrimSpace(l.Order))
	if !slices.Contains(orderBys, l.OrderBy) {
		return fmt.Errorf("orderby %q not one of %v", l.OrderBy, orderBys)
	}
	if l.Order != OrderAsc && l.Order != OrderDesc {
		return fmt.Errorf("order %q must be ASC or DESC", l.Order)
	}
	if l.Limit < 0 {
		return fmt.Errorf("limit must be >= 0")
	}
	return nil
}

// ClassificationOptions configure a classification filter.
type ClassificationOptions struct {
	DisplayType      string `json:"display_type"`
	Hierarchical     bool   `json:"hierarchical"`
	IncludeChildren  bool   `json:"include_children"`
	CollapseInactive bool   `json:"collapse_inactive"`
	SearchBox        bool   `json:"search_box"`
	Listing
	Include []int64 `json:"include"`
	Exclude []int64 `json:"exclude"`
}

// DefaultClassificationOptions lists entries as a checkbox tree ordered by
// name, hiding empty entries and matching descendants of selected ones.
func DefaultClassificationOptions() ClassificationOptions {
	return ClassificationOptions{
		DisplayType:     DisplayCheckbox,
		Hierarchical:    true,
		IncludeChildren: true,
		Listing:         defaultListing(),
		Include:         []int64{},
		Exclude:         []int64{},
	}
}

func (o *ClassificationOptions) validate() error {
	if err := checkDisplay(o.DisplayType, DisplayCheckbox, DisplayRadio, DisplaySelect, DisplayMultiselect); err != nil {
		return err
	}
	return o.normalize(OrderByName, OrderByCount, OrderBySlug, OrderByID)
}

// CuratedChoice is an operator-supplied metadata value. In JSON it may be a
// bare string or an object with value and label.
type CuratedChoice struct {
	Value string `json:"value"`
	Label string `json:"label,omitempty"`
}

func (c *CuratedChoice) UnmarshalJSON(data []byte) error {
	var value string
	if err := json.Unmarshal(data, &value); err == nil {
		*c = CuratedChoice{Value: value}
		return nil
	}

	type plain CuratedChoice
	var decoded plain
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&decoded); err != nil {
		return err
	}
	*c = CuratedChoice(decoded)
	return nil
}

// MetadataOptions configure a metadata filter, including range display.
type MetadataOptions struct {
	DisplayType string     `json:"display_type"`
	DataType    ValueType  `json:"data_type"`
	Comparator  Comparator `json:"comparator"`
	Listing
	Include   []string        `json:"include"`
	Exclude   []string        `json:"exclude"`
	Choices   []CuratedChoice `json:"choices"`
	RangeMin  *float64        `json:"range_min"`
	RangeMax  *float64        `json:"range_max"`
	RangeStep float64         `json:"range_step"`
}

// DefaultMetadataOptions compare values as strings with EQ.
func DefaultMetadataOptions() MetadataOptions {
	return MetadataOptions{
		DisplayType: DisplayCheckbox,
		DataType:    ValueTypeString,
		Comparator:  ComparatorEQ,
		Listing:     defaultListing(),
		Include:     []string{},
		Exclude:     []string{},
		Choices:     []CuratedChoice{},
		RangeStep:   1,
	}
}

func (o *MetadataOptions) validate() error {
	if err := checkDisplay(o.DisplayType, DisplayCheckbox, DisplayRadio, DisplaySelect, DisplayMultiselect, DisplayRange); err != nil {
		return err
	}
	o.DataType = ValueType(strings.ToLower(string(o.DataType)))
	if o.DataType != ValueTypeString && o.DataType != ValueTypeNumeric {
		return fmt.Errorf("data_type %q must be string or numeric", o.DataType)
	}
	o.Comparator = Comparator(strings.ToUpper(string(o.Comparator)))
	switch o.Comparator {
	case ComparatorEQ, ComparatorIn, ComparatorNotIn:
	default:
		return fmt.Errorf("comparator %q must be EQ, IN or NOT_IN", o.Comparator)
	}
	if o.RangeStep <= 0 {
		return fmt.Errorf("range_step must be > 0")
	}
	if o.RangeMin != nil && o.RangeMax != nil && *o.RangeMin > *o.RangeMax {
		return fmt.Errorf("range_min must be <= range_max")
	}
	return o.normalize(OrderByName, OrderByCount)
}

func (o MetadataOptions) isRange() bool {
	return o.DisplayType == DisplayRange
}

// AttributeOptions configure a product attribute filter.
type AttributeOptions struct {
	DisplayType string `json:"display_type"`
	SearchBox   bool   `json:"search_box"`
	Listing
	Include []int64 `json:"include"`
	Exclude []int64 `json:"exclude"`
}

// DefaultAttributeOptions render checkboxes annotated with item counts.
func DefaultAttributeOptions() AttributeOptions {
	return AttributeOptions{
		DisplayType: DisplayCheckbox,
		Listing:     defaultListing(),
		Include:     []int64{},
		Exclude:     []int64{},
	}
}

func (o *AttributeOptions) validate() error {
	if err := checkDisplay(o.DisplayType, DisplayCheckbox, DisplayRadio, DisplaySelect, DisplayMultiselect, DisplayColor, DisplayImage); err != nil {
		return err
	}
	return o.normalize(OrderByName, OrderByCount, OrderBySlug, OrderByID)
}

// VariationOptions configure a variation attribute filter.
type VariationOptions struct {
	DisplayType string `json:"display_type"`
	Listing
	Include []string `json:"include"`
	Exclude []string `json:"exclude"`
}

// DefaultVariationOptions render a single select.
func DefaultVariationOptions() VariationOptions {
	return VariationOptions{
		DisplayType: DisplaySelect,
		Listing:     defaultListing(),
		Include:     []string{},
		Exclude:     []string{},
	}
}

func (o *VariationOptions) validate() error {
	if err := checkDisplay(o.DisplayType, DisplayCheckbox, DisplayRadio, DisplaySelect, DisplayMultiselect); err != nil {
		return err
	}
	return o.normalize(OrderByName, OrderByCount)
}

func checkDisplay(value string, allowed ...string) error {
	if slices.Contains(allowed, value) {
		return nil
	}
	return fmt.Errorf("display_type %q not one of %v", value, allowed)
}

// decodeOptions overlays raw onto dst, which already holds the defaults.
// Keys with no matching field are rejected.
func decodeOptions(raw json.RawMessage, dst any) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}

	decoder := json.NewDecoder(bytes.NewReader(trimmed))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		if strings.HasPrefix(err.Error(), "json: unknown field") {
			return fmt.Errorf("%w: %s", ErrUnknownOption, strings.TrimPrefix(err.Error(), "json: unknown field "))
		}
		return err
	}
	if decoder.More() {
		return fmt.Errorf("options must be a single JSON object")
	}
	return nil
}
