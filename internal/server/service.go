package server

import (
	"context"

	"github.com/matt-riley/facetz/internal/core"
	"github.com/matt-riley/facetz/internal/service"
)

type Service interface {
	Search(ctx context.Context, req service.Request) (service.SearchResult, error)
	FacetsFor(ctx context.Context, req service.Request) ([]service.Facet, error)
	Query(ctx context.Context, req service.Request) (core.Query, error)
	ValidateDefinition(ctx context.Context, cfg core.Config) (core.Definition, error)
}

var _ Service = (*service.Service)(nil)
