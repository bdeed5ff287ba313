package core

import (
	"context"
	"errors"
	"fmt"
	"slices"
)

// Registry is an ordered, read-only set of definitions for one content kind.
type Registry struct {
	order []Definition
	byID  map[string]Definition
}

// NewRegistry keeps defs in the given order. Duplicate ids are rejected.
func NewRegistry(defs ...Definition) (*Registry, error) {
	r := &Registry{
		order: make([]Definition, 0, len(defs)),
		byID:  make(map[string]Definition, len(defs)),
	}
	for _, def := range defs {
		if def == nil {
			continue
		}
		if err := r.add(def); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) add(def Definition) error {
	if _, exists := r.byID[def.ID()]; exists {
		return filterError(def.ID(), invalidDefinition("duplicate id"))
	}
	r.order = append(r.order, def)
	r.byID[def.ID()] = def
	return nil
}

func (r *Registry) Get(id string) (Definition, bool) {
	if r == nil {
		return nil, false
	}
	def, ok := r.byID[id]
	return def, ok
}

// Definitions returns the definitions in registry order.
func (r *Registry) Definitions() []Definition {
	if r == nil {
		return nil
	}
	return slices.Clone(r.order)
}

func (r *Registry) IDs() []string {
	if r == nil {
		return nil
	}
	ids := make([]string, 0, len(r.order))
	for _, def := range r.order {
		ids = append(ids, def.ID())
	}
	return ids
}

func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.order)
}

// Subset keeps the definitions named by include (all when include is
// empty), then drops those named by exclude. Registry order is preserved.
func (r *Registry) Subset(include, exclude []string) *Registry {
	out := &Registry{byID: make(map[string]Definition)}
	if r == nil {
		return out
	}
	for _, def := range r.order {
		if len(include) > 0 && !slices.Contains(include, def.ID()) {
			continue
		}
		if slices.Contains(exclude, def.ID()) {
			continue
		}
		out.order = append(out.order, def)
		out.byID[def.ID()] = def
	}
	return out
}

// LoadReport describes what LoadRegistry left out.
type LoadReport struct {
	Loaded  int
	Skipped int
	Errors  []error
}

// LoadRegistry builds a registry from persisted configuration, skipping any
// entry that is not a valid definition. Catalog failures abort the load.
func LoadRegistry(ctx context.Context, lookup ClassificationLookup, configs []Config) (*Registry, LoadReport, error) {
	registry, _ := NewRegistry()
	var report LoadReport

	for i, cfg := range configs {
		def, err := NewDefinition(ctx, lookup, cfg)
		if err == nil {
			err = registry.add(def)
		}
		if err != nil {
			if !errors.Is(err, ErrInvalidFilterDefinition) {
				return nil, report, fmt.Errorf("load definition %d: %w", i, err)
			}
			report.Skipped++
			report.Errors = append(report.Errors, err)
			continue
		}
		report.Loaded++
	}

	return registry, report, nil
}
