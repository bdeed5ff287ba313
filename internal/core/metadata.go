package core

import (
	"context"
)

const (
	defaultRangeMin = 0
	defaultRangeMax = 100
)

// MetadataFilter narrows by an arbitrary item-level key/value pair.
type MetadataFilter struct {
	base
	opts MetadataOptions
}

func newMetadataFilter(cfg Config, key string) (*MetadataFilter, error) {
	opts := DefaultMetadataOptions()
	if err := resolveOptions(cfg.Options, &opts); err != nil {
		return nil, err
	}

	id, err := resolveID(cfg.ID, SanitizeID(key))
	if err != nil {
		return nil, err
	}

	return &MetadataFilter{
		base: base{
			id:     id,
			label:  firstNonEmpty(cfg.Label, humanize(key)),
			source: key,
		},
		opts: opts,
	}, nil
}

func (f *MetadataFilter) Kind() Kind               { return KindMetadata }
func (f *MetadataFilter) DisplayType() string      { return f.opts.DisplayType }
func (f *MetadataFilter) ShowCount() bool          { return f.opts.ShowCount }
func (f *MetadataFilter) Options() MetadataOptions { return f.opts }

func (f *MetadataFilter) CacheKey() string {
	return cacheKey(KindMetadata, f.base, f.opts)
}

func (f *MetadataFilter) Choices(ctx context.Context, catalog Catalog, scope *Query) (ChoiceSet, error) {
	if len(f.opts.Choices) > 0 {
		return ChoiceSet{Choices: f.curated()}, nil
	}
	if f.opts.isRange() {
		return f.rangeChoices(ctx, catalog, scope)
	}

	values, err := catalog.DistinctValues(ctx, f.source, ValueQuery{
		OrderBy: f.opts.OrderBy,
		Order:   f.opts.Order,
		Scope:   scope,
	})
	if err != nil {
		return ChoiceSet{}, filterError(f.id, catalogError("distinct values", err))
	}

	return ChoiceSet{Choices: refine(valueChoices(values), keepValues(f.opts.Include, f.opts.Exclude), f.opts.Listing)}, nil
}

func (f *MetadataFilter) curated() []Choice {
	choices := make([]Choice, 0, len(f.opts.Choices))
	for _, curated := range f.opts.Choices {
		choices = append(choices, Choice{
			Value: curated.Value,
			Label: firstNonEmpty(curated.Label, curated.Value),
		})
	}
	return choices
}

func (f *MetadataFilter) rangeChoices(ctx context.Context, catalog Catalog, scope *Query) (ChoiceSet, error) {
	r := Range{Min: defaultRangeMin, Max: defaultRangeMax, Step: f.opts.RangeStep}

	if f.opts.RangeMin == nil || f.opts.RangeMax == nil {
		bounds, err := catalog.MinMax(ctx, f.source, scope)
		if err != nil {
			return ChoiceSet{}, filterError(f.id, catalogError("min max", err))
		}
		if bounds.Found {
			r.Min, r.Max = bounds.Min, bounds.Max
		}
	}
	if f.opts.RangeMin != nil {
		r.Min = *f.opts.RangeMin
	}
	if f.opts.RangeMax != nil {
		r.Max = *f.opts.RangeMax
	}

	return ChoiceSet{Range: &r}, nil
}
