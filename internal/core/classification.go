package core

import (
	"context"
	"strconv"
)

// ClassificationFilter narrows by entries of a category- or tag-like scheme.
// Choice values are entry ids.
type ClassificationFilter struct {
	base
	opts ClassificationOptions
}

func newClassificationFilter(ctx context.Context, lookup ClassificationLookup, cfg Config, scheme string) (*ClassificationFilter, error) {
	opts := DefaultClassificationOptions()
	if err := resolveOptions(cfg.Options, &opts); err != nil {
		return nil, err
	}

	info, err := lookupClassification(ctx, lookup, scheme)
	if err != nil {
		return nil, err
	}

	id, err := resolveID(cfg.ID, SanitizeID(scheme))
	if err != nil {
		return nil, err
	}

	return &ClassificationFilter{
		base: base{
			id:     id,
			label:  firstNonEmpty(cfg.Label, info.Label, scheme),
			source: scheme,
		},
		opts: opts,
	}, nil
}

func (f *ClassificationFilter) Kind() Kind                     { return KindClassification }
func (f *ClassificationFilter) DisplayType() string            { return f.opts.DisplayType }
func (f *ClassificationFilter) ShowCount() bool                { return f.opts.ShowCount }
func (f *ClassificationFilter) Options() ClassificationOptions { return f.opts }

func (f *ClassificationFilter) CacheKey() string {
	return cacheKey(KindClassification, f.base, f.opts)
}

func (f *ClassificationFilter) Choices(ctx context.Context, catalog Catalog, scope *Query) (ChoiceSet, error) {
	entries, err := catalog.ListEntries(ctx, f.source, EntryQuery{
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
			Value: strconv.FormatInt(entry.ID, 10),
			Label: entry.Name,
			Count: entry.Count,
			ID:    entry.ID,
			Slug:  entry.Slug,
		}
		if f.opts.Hierarchical {
			choice.Parent = entry.Parent
		}
		choices = append(choices, choice)
	}

	return ChoiceSet{Choices: refine(choices, keepIDs(f.opts.Include, f.opts.Exclude), f.opts.Listing)}, nil
}
