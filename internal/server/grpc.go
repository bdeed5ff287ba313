package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/matt-riley/facetz/internal/core"
	"github.com/matt-riley/facetz/internal/service"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// FacetServiceName is the fully qualified gRPC service name. Requests and
// responses are google.protobuf.Struct messages carrying the same JSON
// documents the HTTP API exchanges.
const FacetServiceName = "facetz.v1.FacetService"

// Method names exposed by FacetServiceName.
const (
	MethodSearch             = "Search"
	MethodFacets             = "Facets"
	MethodQuery              = "Query"
	MethodValidateDefinition = "ValidateDefinition"
)

// FacetServiceServer is implemented by [GRPCServer].
type FacetServiceServer interface {
	Search(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Facets(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Query(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	ValidateDefinition(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// FacetServiceDesc describes FacetServiceName for [grpc.ServiceRegistrar].
var FacetServiceDesc = grpc.ServiceDesc{
	ServiceName: FacetServiceName,
	HandlerType: (*FacetServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: MethodSearch, Handler: unaryHandler(MethodSearch, FacetServiceServer.Search)},
		{MethodName: MethodFacets, Handler: unaryHandler(MethodFacets, FacetServiceServer.Facets)},
		{MethodName: MethodQuery, Handler: unaryHandler(MethodQuery, FacetServiceServer.Query)},
		{MethodName: MethodValidateDefinition, Handler: unaryHandler(MethodValidateDefinition, FacetServiceServer.ValidateDefinition)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "facetz/v1/facet_service",
}

// RegisterFacetServiceServer registers srv with s.
func RegisterFacetServiceServer(s grpc.ServiceRegistrar, srv FacetServiceServer) {
	s.RegisterService(&FacetServiceDesc, srv)
}

// FullMethod returns the invocation path for method.
func FullMethod(method string) string {
	return "/" + FacetServiceName + "/" + method
}

func unaryHandler(method string, call func(FacetServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		server := srv.(FacetServiceServer)
		if interceptor == nil {
			return call(server, ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(method)}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return call(server, ctx, req.(*structpb.Struct))
		})
	}
}

// GRPCServer implements FacetServiceName on top of [Service].
type GRPCServer struct {
	service Service
}

func NewGRPCServer(svc Service) *GRPCServer {
	if svc == nil {
		panic("service is nil")
	}
	return &GRPCServer{service: svc}
}

// Search expects {"content_kind": "...", "query": "filter_color=red&page=2"}.
func (s *GRPCServer) Search(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	request, err := requestFromStruct(req)
	if err != nil {
		return nil, toGRPCError(err)
	}

	result, err := s.service.Search(ctx, request)
	if err != nil {
		return nil, toGRPCError(err)
	}
	return toStruct(result)
}

func (s *GRPCServer) Facets(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	request, err := requestFromStruct(req)
	if err != nil {
		return nil, toGRPCError(err)
	}

	facets, err := s.service.FacetsFor(ctx, request)
	if err != nil {
		return nil, toGRPCError(err)
	}
	return toStruct(facetsJSONResponse{Facets: facets})
}

func (s *GRPCServer) Query(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	request, err := requestFromStruct(req)
	if err != nil {
		return nil, toGRPCError(err)
	}

	query, err := s.service.Query(ctx, request)
	if err != nil {
		return nil, toGRPCError(err)
	}
	return toStruct(query)
}

// ValidateDefinition expects a stored definition document:
// {"kind": "metadata", "source": "price", "options": {...}}.
func (s *GRPCServer) ValidateDefinition(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "definition is required")
	}

	payload, err := json.Marshal(req.AsMap())
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, "invalid definition")
	}
	decoder := json.NewDecoder(bytes.NewReader(payload))
	decoder.DisallowUnknownFields()
	var cfg core.Config
	if err := decoder.Decode(&cfg); err != nil {
		return nil, status.Error(codes.InvalidArgument, "invalid definition")
	}

	def, err := s.service.ValidateDefinition(ctx, cfg)
	if err != nil {
		return nil, toGRPCError(err)
	}
	return toStruct(definitionJSONResponse{
		ID:          def.ID(),
		Kind:        def.Kind(),
		Label:       def.Label(),
		Source:      def.Source(),
		DisplayType: def.DisplayType(),
		ShowCount:   def.ShowCount(),
	})
}

func requestFromStruct(req *structpb.Struct) (service.Request, error) {
	if req == nil {
		return service.Request{}, fmt.Errorf("%w: request is required", service.ErrInvalidRequest)
	}
	fields := req.GetFields()
	for key := range fields {
		if key != "content_kind" && key != "query" {
			return service.Request{}, fmt.Errorf("%w: unknown field %q", service.ErrInvalidRequest, key)
		}
	}
	return parseRequest(fields["content_kind"].GetStringValue(), fields["query"].GetStringValue())
}

func toStruct(v any) (*structpb.Struct, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, status.Error(codes.Internal, "encode response")
	}
	var doc map[string]any
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil, status.Error(codes.Internal, "encode response")
	}
	out, err := structpb.NewStruct(doc)
	if err != nil {
		return nil, status.Error(codes.Internal, "encode response")
	}
	return out, nil
}

func toGRPCError(err error) error {
	if err == nil {
		return nil
	}

	if _, ok := status.FromError(err); ok {
		return err
	}

	switch {
	case errors.Is(err, service.ErrInvalidRequest), errors.Is(err, core.ErrInvalidFilterDefinition):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, core.ErrCatalogLookup):
		return status.Error(codes.Unavailable, "catalog unavailable")
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, "request canceled")
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, "deadline exceeded")
	default:
		return status.Error(codes.Internal, "internal server error")
	}
}
