package core

import (
	"context"
	"strings"
)

// AttributeFilter narrows by a product attribute scheme ("pa_<name>").
// Choice values are entry slugs; selections may use ids or slugs.
type AttributeFilter struct {
	base
	scheme string
	opts   AttributeOptions
}

func newAttributeFilter(ctx context.Context, lookup ClassificationLookup, cfg Config, attribute string) (*AttributeFilter, error) {
	opts := DefaultAttributeOptions()
	if err := resolveOptions(cfg.Options, &opts); err != nil {
		return nil, err
	}

	scheme := AttributeScheme(attribute)
	if scheme == AttributePrefix {
		return nil, invalidDefinition("attribute name %q is empty after sanitizing", attribute)
	}
	info, err := lookupClassification(ctx, lookup, scheme)
	if err != nil {
		return nil, err
	}

	id, err := resolveID(cfg.ID, scheme)
	if err != nil {
		return nil, err
	}

	return &AttributeFilter{
		base: base{
			id:     id,
			label:  firstNonEmpty(cfg.Label, info.Label, humanize(strings.TrimPrefix(scheme, AttributePrefix))),
			source: strings.TrimPrefix(scheme, AttributePrefix),
		},
		scheme: scheme,
		opts:   opts,
	}, nil
}

func (f *AttributeFilter) Kind() Kind                { return KindAttribute }
func (f *AttributeFilter) DisplayType() string       { return f.opts.DisplayType }
func (f *AttributeFilter) ShowCount() bool           { return f.opts.ShowCount }
func (f *AttributeFilter) Options() AttributeOptions { return f.opts }

// Scheme is the classification namespace the attribute's entries live in.
func (f *AttributeFilter) Scheme() string { return f.scheme }

func (f *AttributeFilter) CacheKey() string {
	return cacheKey(KindAttribute, f.base, f.opts)
}

func (f *AttributeFilter) Choices(ctx context.Context, catalog Catalog, scope *Query) (ChoiceSet, error) {
	entries, err := catalog.ListEntries(ctx, f.scheme, EntryQuery{
		Include:   f.opts.Include,
		Exclude:   f.opts.Exclude,
		HideEmpty: f.opts.HideEmpty,
		OrderBy:   f.opts.OrderBy,
		Order:     f.opts.Order,
		Scope:     scope,
	})
	if err != nil {
		return ChoiceSet{}, filterError(f.id, catalogError("list entries", err))
	}

	choices := make([]Choice, 0, len(entries))
	for _, entry := range entries {
		choice := Choice{
			Value: entry.Slug,
			Label: entry.Name,
			Count: entry.Count,
			ID:    entry.ID,
			Slug:  entry.Slug,
		}
		switch f.opts.DisplayType {
		case DisplayColor:
			choice.Color = entry.Color
		case DisplayImage:
			choice.Image = entry.Image
		}
		choices = append(choices, choice)
	}

	return ChoiceSet{Choices: refine(choices, keepIDs(f.opts.Include, f.opts.Exclude), f.opts.Listing)}, nil
}
