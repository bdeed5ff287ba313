package core

import (
	"context"
	"strings"
)

// VariationAttributeFilter narrows parents by attribute values carried on
// their child variation items.
type VariationAttributeFilter struct {
	base
	opts VariationOptions
}

func newVariationFilter(cfg Config, attribute string) (*VariationAttributeFilter, error) {
	opts := DefaultVariationOptions()
	if err := resolveOptions(cfg.Options, &opts); err != nil {
		return nil, err
	}

	name := SanitizeID(attribute)
	id, err := resolveID(cfg.ID, name)
	if err != nil {
		return nil, err
	}

	return &VariationAttributeFilter{
		base: base{
			id:     id,
			label:  firstNonEmpty(cfg.Label, humanize(strings.TrimPrefix(name, AttributePrefix))),
			source: name,
		},
		opts: opts,
	}, nil
}

func (f *VariationAttributeFilter) Kind() Kind                { return KindVariationAttribute }
func (f *VariationAttributeFilter) DisplayType() string       { return f.opts.DisplayType }
func (f *VariationAttributeFilter) ShowCount() bool           { return f.opts.ShowCount }
func (f *VariationAttributeFilter) Options() VariationOptions { return f.opts }

func (f *VariationAttributeFilter) CacheKey() string {
	return cacheKey(KindVariationAttribute, f.base, f.opts)
}

func (f *VariationAttributeFilter) Choices(ctx context.Context, catalog Catalog, scope *Query) (ChoiceSet, error) {
	values, err := catalog.VariationValues(ctx, f.source, ValueQuery{
		OrderBy: f.opts.OrderBy,
		Order:   f.opts.Order,
		Scope:   scope,
	})
	if err != nil {
		return ChoiceSet{}, filterError(f.id, catalogError("variation values", err))
	}

	return ChoiceSet{Choices: refine(valueChoices(values), keepValues(f.opts.Include, f.opts.Exclude), f.opts.Listing)}, nil
}
