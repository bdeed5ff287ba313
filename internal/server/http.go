package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/matt-riley/facetz/internal/core"
	"github.com/matt-riley/facetz/internal/middleware"
	"github.com/matt-riley/facetz/internal/service"
)

const defaultMaxJSONBodyBytes int64 = 1 << 20

var errJSONBodyTooLarge = errors.New("json request body too large")

type HTTPServer struct {
	service          Service
	maxJSONBodyBytes int64
	metrics          httpMetrics
}

// httpMetrics is the part of the metrics registry the HTTP handler serves
// and feeds.
type httpMetrics interface {
	Handler() http.Handler
	HTTPMiddleware(next http.Handler) http.Handler
}

type HTTPOption func(*HTTPServer)

// WithMaxJSONBodySize caps the size of JSON request bodies.
func WithMaxJSONBodySize(n int64) HTTPOption {
	return func(s *HTTPServer) {
		if n > 0 {
			s.maxJSONBodyBytes = n
		}
	}
}

// WithMetrics serves m on GET /metrics and records every routed request.
func WithMetrics(m httpMetrics) HTTPOption {
	return func(s *HTTPServer) {
		s.metrics = m
	}
}

type facetsJSONResponse struct {
	Facets []service.Facet `json:"facets"`
}

type definitionJSONResponse struct {
	ID          string    `json:"id"`
	Kind        core.Kind `json:"kind"`
	Label       string    `json:"label"`
	Source      string    `json:"source"`
	DisplayType string    `json:"display_type"`
	ShowCount   bool      `json:"show_count"`
}

func NewHTTPHandler(svc Service, opts ...HTTPOption) http.Handler {
	if svc == nil {
		panic("service is nil")
	}

	server := &HTTPServer{
		service:          svc,
		maxJSONBodyBytes: defaultMaxJSONBodyBytes,
	}
	for _, opt := range opts {
		opt(server)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/catalogs/{kind}/search", server.handleSearch)
	mux.HandleFunc("GET /v1/catalogs/{kind}/facets", server.handleFacets)
	mux.HandleFunc("GET /v1/catalogs/{kind}/query", server.handleQuery)
	mux.HandleFunc("POST /v1/definitions/validate", server.handleValidateDefinition)
	mux.HandleFunc("GET /healthz", server.handleHealthz)

	if server.metrics == nil {
		return mux
	}
	mux.Handle("GET /metrics", server.metrics.Handler())
	return server.metrics.HTTPMiddleware(mux)
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	req, err := parseRequest(r.PathValue("kind"), r.URL.RawQuery)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	result, err := s.service.Search(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (s *HTTPServer) handleFacets(w http.ResponseWriter, r *http.Request) {
	req, err := parseRequest(r.PathValue("kind"), r.URL.RawQuery)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	facets, err := s.service.FacetsFor(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, facetsJSONResponse{Facets: facets})
}

func (s *HTTPServer) handleQuery(w http.ResponseWriter, r *http.Request) {
	req, err := parseRequest(r.PathValue("kind"), r.URL.RawQuery)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	query, err := s.service.Query(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, query)
}

func (s *HTTPServer) handleValidateDefinition(w http.ResponseWriter, r *http.Request) {
	var cfg core.Config
	if err := decodeJSONBody(w, r, &cfg, s.maxJSONBodyBytes); err != nil {
		writeJSONDecodeError(w, err)
		return
	}

	def, err := s.service.ValidateDefinition(r.Context(), cfg)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, definitionJSONResponse{
		ID:          def.ID(),
		Kind:        def.Kind(),
		Label:       def.Label(),
		Source:      def.Source(),
		DisplayType: def.DisplayType(),
		ShowCount:   def.ShowCount(),
	})
}

func (s *HTTPServer) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := httpStatus(err)
	if status >= http.StatusInternalServerError {
		middleware.LoggerFromContext(r.Context()).ErrorContext(r.Context(), "request failed", "error", err)
	}
	writeJSONError(w, status, serviceErrorMessage(err))
}

func httpStatus(err error) int {
	switch {
	case errors.Is(err, service.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrInvalidFilterDefinition):
		return http.StatusUnprocessableEntity
	case errors.Is(err, core.ErrCatalogLookup):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled):
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

func serviceErrorMessage(err error) string {
	switch {
	case errors.Is(err, service.ErrInvalidRequest), errors.Is(err, core.ErrInvalidFilterDefinition):
		return err.Error()
	case errors.Is(err, core.ErrCatalogLookup):
		return "catalog unavailable"
	case errors.Is(err, context.Canceled):
		return "request canceled"
	default:
		return "internal server error"
	}
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSONDecodeError(w http.ResponseWriter, err error) {
	if errors.Is(err, errJSONBodyTooLarge) {
		writeJSONError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}
	writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any, maxBytes int64) error {
	if r.Body == nil {
		return io.EOF
	}

	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return normalizeJSONDecodeError(err)
	}
	if err := decoder.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("request body must contain a single JSON object")
		}
		return normalizeJSONDecodeError(err)
	}
	return nil
}

func normalizeJSONDecodeError(err error) error {
	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) {
		return errJSONBodyTooLarge
	}
	return err
}
