// Package grpc provides a gRPC client for the facetz filter service.
package grpc

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	facetz "github.com/matt-riley/facetz/clients/go"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

const serviceName = "facetz.v1.FacetService"

// Config holds configuration for the gRPC client.
type Config struct {
	// Address is the host:port of the facetz gRPC server, e.g. "localhost:9090".
	Address string
	// DialOpts are additional gRPC dial options (e.g. TLS credentials).
	// If empty, insecure credentials are used.
	DialOpts []grpc.DialOption
}

// Client implements facetz.Searcher and facetz.DefinitionValidator over gRPC.
type Client struct {
	conn *grpc.ClientConn
}

var (
	_ facetz.Searcher            = (*Client)(nil)
	_ facetz.DefinitionValidator = (*Client)(nil)
)

// NewGRPCClient creates a client for the facetz gRPC server.
// Call Close() when done.
func NewGRPCClient(cfg Config) (*Client, error) {
	opts := []grpc.DialOption{}
	if len(cfg.DialOpts) > 0 {
		opts = append(opts, cfg.DialOpts...)
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	conn, err := grpc.NewClient(cfg.Address, opts...)
	if err != nil {
		return nil, fmt.Errorf("facetz: grpc dial: %w", err)
	}
	return &Client{conn: conn}, nil
}

// Close closes the underlying gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// invoke sends in as a google.protobuf.Struct and decodes the Struct reply
// into out.
func (c *Client) invoke(ctx context.Context, method string, in map[string]any, out any) error {
	req, err := structpb.NewStruct(in)
	if err != nil {
		return fmt.Errorf("facetz: encode request: %w", err)
	}
	resp := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, "/"+serviceName+"/"+method, req, resp); err != nil {
		return fmt.Errorf("facetz: %s: %w", method, err)
	}
	payload, err := json.Marshal(resp.AsMap())
	if err != nil {
		return fmt.Errorf("facetz: decode response: %w", err)
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("facetz: decode response: %w", err)
	}
	return nil
}

func searchFields(req facetz.SearchRequest) (map[string]any, error) {
	if strings.TrimSpace(req.ContentKind) == "" {
		return nil, fmt.Errorf("facetz: content kind is required")
	}
	return map[string]any{
		"content_kind": req.ContentKind,
		"query":        req.Encode(),
	}, nil
}

func (c *Client) Search(ctx context.Context, req facetz.SearchRequest) (facetz.SearchResult, error) {
	fields, err := searchFields(req)
	if err != nil {
		return facetz.SearchResult{}, err
	}
	var out facetz.SearchResult
	if err := c.invoke(ctx, "Search", fields, &out); err != nil {
		return facetz.SearchResult{}, err
	}
	return out, nil
}

func (c *Client) Facets(ctx context.Context, req facetz.SearchRequest) ([]facetz.Facet, error) {
	fields, err := searchFields(req)
	if err != nil {
		return nil, err
	}
	var out struct {
		Facets []facetz.Facet `json:"facets"`
	}
	if err := c.invoke(ctx, "Facets", fields, &out); err != nil {
		return nil, err
	}
	return out.Facets, nil
}

func (c *Client) ValidateDefinition(ctx context.Context, def facetz.Definition) (facetz.DefinitionSummary, error) {
	payload, err := json.Marshal(def)
	if err != nil {
		return facetz.DefinitionSummary{}, fmt.Errorf("facetz: encode request: %w", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(payload, &fields); err != nil {
		return facetz.DefinitionSummary{}, fmt.Errorf("facetz: encode request: %w", err)
	}

	var out facetz.DefinitionSummary
	if err := c.invoke(ctx, "ValidateDefinition", fields, &out); err != nil {
		return facetz.DefinitionSummary{}, err
	}
	return out, nil
}
