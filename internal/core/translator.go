package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strconv"
	"strings"
)

// Translator turns a selection into a Query. It holds no per-request state
// and may be shared.
type Translator struct {
	variations VariationLookup
	logger     *slog.Logger
	onDrop     func(filterID string, err error)
}

type TranslatorOption func(*Translator)

func WithLogger(logger *slog.Logger) TranslatorOption {
	return func(t *Translator) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithDropHook is called for every filter whose selected value was dropped.
func WithDropHook(fn func(filterID string, err error)) TranslatorOption {
	return func(t *Translator) {
		t.onDrop = fn
	}
}

// NewTranslator returns a Translator. variations resolves variation
// attribute selections to parent ids and may be nil when no registry holds
// a variation filter.
func NewTranslator(variations VariationLookup, opts ...TranslatorOption) *Translator {
	t := &Translator{
		variations: variations,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// BuildQuery merges the selection into a copy of base. Filters are applied in
// registry order; selection keys the registry does not know are ignored.
// Malformed values and half-open ranges drop only the affected filter.
// Catalog failures abort with an error wrapping ErrCatalogLookup.
func (t *Translator) BuildQuery(ctx context.Context, registry *Registry, selection Selection, base Query) (Query, error) {
	query := base.Clone()

	for _, def := range registry.Definitions() {
		value, ok := selection[def.ID()]
		if !ok || value.IsEmpty() {
			continue
		}

		err := t.apply(ctx, &query, def, value)
		switch {
		case err == nil:
		case errors.Is(err, ErrMalformedSelectionValue):
			t.drop(ctx, slog.LevelDebug, def.ID(), err)
		case errors.Is(err, ErrAmbiguousRangeSelection):
			t.drop(ctx, slog.LevelWarn, def.ID(), err)
		default:
			return Query{}, filterError(def.ID(), err)
		}
	}

	query.Classification = settle(query.Classification)
	query.Metadata = settle(query.Metadata)

	return query, nil
}

func (t *Translator) apply(ctx context.Context, query *Query, def Definition, value Value) error {
	switch d := def.(type) {
	case *ClassificationFilter:
		return applyClassification(query, d, value)
	case *MetadataFilter:
		return applyMetadata(query, d, value)
	case *AttributeFilter:
		return applyAttribute(query, d, value)
	case *VariationAttributeFilter:
		return t.applyVariation(ctx, query, d, value)
	default:
		return fmt.Errorf("unsupported definition type %T", def)
	}
}

func (t *Translator) drop(ctx context.Context, level slog.Level, filterID string, err error) {
	t.logger.Log(ctx, level, "selection dropped", "filter_id", filterID, "error", err)
	if t.onDrop != nil {
		t.onDrop(filterID, err)
	}
}

func applyClassification(query *Query, f *ClassificationFilter, value Value) error {
	if value.IsRange() {
		return malformed("range selected for classification filter")
	}

	ids, err := parseIDs(value.Values())
	if err != nil {
		return err
	}

	appendTo(&query.Classification, Leaf(Condition{
		Namespace:       NamespaceClassification,
		Field:           f.source,
		Identity:        IdentityID,
		Comparator:      ComparatorIn,
		ValueType:       ValueTypeNumeric,
		Values:          ids,
		IncludeChildren: f.opts.IncludeChildren,
	}))
	return nil
}

func applyAttribute(query *Query, f *AttributeFilter, value Value) error {
	if value.IsRange() {
		return malformed("range selected for attribute filter")
	}

	values := dedupe(value.Values())
	condition := Condition{
		Namespace:  NamespaceAttribute,
		Field:      f.scheme,
		Identity:   IdentitySlug,
		Comparator: ComparatorIn,
		ValueType:  ValueTypeString,
		Values:     values,
	}

	// The first value decides the identity; values that cannot be coerced to
	// it are skipped.
	if _, err := strconv.ParseInt(values[0], 10, 64); err == nil {
		ids := coerceIDs(values)
		if len(ids) == 0 {
			return malformed("no entry ids in %q", values)
		}
		condition.Identity = IdentityID
		condition.ValueType = ValueTypeNumeric
		condition.Values = ids
	}

	appendTo(&query.Classification, Leaf(condition))
	return nil
}

func applyMetadata(query *Query, f *MetadataFilter, value Value) error {
	if f.opts.isRange() {
		return applyMetadataRange(query, f, value)
	}
	if value.IsRange() {
		return malformed("range selected for non-range metadata filter")
	}

	values := dedupe(value.Values())
	if f.opts.DataType == ValueTypeNumeric {
		normalized, err := parseNumbers(values)
		if err != nil {
			return err
		}
		values = dedupe(normalized)
	}

	leaf := func(comparator Comparator, values ...string) Node {
		return Leaf(Condition{
			Namespace:  NamespaceMetadata,
			Field:      f.source,
			Comparator: comparator,
			ValueType:  f.opts.DataType,
			Values:     values,
		})
	}

	switch {
	case f.opts.Comparator == ComparatorIn || f.opts.Comparator == ComparatorNotIn:
		appendTo(&query.Metadata, leaf(f.opts.Comparator, values...))
	case len(values) > 1:
		group := Group(RelationOr)
		for _, v := range values {
			group.Children = append(group.Children, leaf(ComparatorEQ, v))
		}
		appendTo(&query.Metadata, group)
	default:
		appendTo(&query.Metadata, leaf(ComparatorEQ, values[0]))
	}
	return nil
}

func applyMetadataRange(query *Query, f *MetadataFilter, value Value) error {
	var bounds RangeValue
	switch items := value.Values(); {
	case value.IsRange():
		bounds = *value.Range
	case len(items) == 2:
		bounds = RangeValue{Min: items[0], Max: items[1]}
	case len(items) == 1:
		bounds = RangeValue{Min: items[0]}
	default:
		return malformed("range filter expects min and max, got %d values", len(items))
	}

	if strings.TrimSpace(bounds.Min) == "" || strings.TrimSpace(bounds.Max) == "" {
		return fmt.Errorf("%w: both min and max are required", ErrAmbiguousRangeSelection)
	}

	normalized, err := parseNumbers([]string{bounds.Min, bounds.Max})
	if err != nil {
		return err
	}

	appendTo(&query.Metadata, Leaf(Condition{
		Namespace:  NamespaceMetadata,
		Field:      f.source,
		Comparator: ComparatorBetween,
		ValueType:  ValueTypeNumeric,
		Values:     normalized,
	}))
	return nil
}

func (t *Translator) applyVariation(ctx context.Context, query *Query, f *VariationAttributeFilter, value Value) error {
	if value.IsRange() {
		return malformed("range selected for variation attribute filter")
	}
	if t.variations == nil {
		return catalogError("variation parents", errors.New("no variation lookup configured"))
	}

	parents, err := t.variations.VariationParents(ctx, f.source, dedupe(value.Values()))
	if err != nil {
		return catalogError("variation parents", err)
	}

	query.IncludeIDs = query.IncludeIDs.Intersect(parents)
	return nil
}

func appendTo(group *Node, child Node) {
	if group.IsLeaf() {
		*group = Node{Children: []Node{*group}}
	}
	group.Children = append(group.Children, child)
}

// settle gives every group with several children and no relation an AND.
func settle(node Node) Node {
	if node.IsLeaf() {
		return node
	}
	for i, child := range node.Children {
		node.Children[i] = settle(child)
	}
	if node.Relation == "" && len(node.Children) > 1 {
		node.Relation = RelationAnd
	}
	return node
}

func parseIDs(values []string) ([]string, error) {
	out := make([]string, 0, len(values))
	for _, v := range values {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id <= 0 {
			return nil, malformed("%q is not an entry id", v)
		}
		out = append(out, strconv.FormatInt(id, 10))
	}
	return dedupe(out), nil
}

func coerceIDs(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil && id > 0 {
			out = append(out, strconv.FormatInt(id, 10))
		}
	}
	return dedupe(out)
}

func parseNumbers(values []string) ([]string, error) {
	out := make([]string, 0, len(values))
	for _, v := range values {
		n, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
			return nil, malformed("%q is not a number", v)
		}
		out = append(out, strconv.FormatFloat(n, 'f', -1, 64))
	}
	return out, nil
}

func dedupe(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if !slices.Contains(out, v) {
			out = append(out, v)
		}
	}
	return out
}
