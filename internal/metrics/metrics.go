// Package metrics provides Prometheus instrumentation for facetz.
//
// All metrics are registered in a custom [prometheus.Registry] (not the global
// default) so that only facetz metrics appear on the /metrics endpoint.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"path"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"

	"github.com/matt-riley/facetz/internal/core"
)

// Reasons reported by RecordDroppedSelection.
const (
	DropMalformed = "malformed"
	DropAmbiguous = "ambiguous_range"
	DropOther     = "other"
)

// Metrics holds all Prometheus collectors used by facetz.
type Metrics struct {
	Registry *prometheus.Registry

	HTTPRequestsTotal       *prometheus.CounterVec
	HTTPRequestDuration     *prometheus.HistogramVec
	GRPCRequestsTotal       *prometheus.CounterVec
	GRPCRequestDuration     *prometheus.HistogramVec
	ChoiceCacheResults      *prometheus.CounterVec
	CatalogErrorsTotal      *prometheus.CounterVec
	DroppedSelectionsTotal  *prometheus.CounterVec
	SkippedDefinitionsTotal prometheus.Counter
	CatalogVersion          prometheus.Gauge
	CatalogInvalidations    prometheus.Counter
	RateLimitedTotal        prometheus.Counter
}

// New creates and registers all facetz metrics in a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,

		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "facetz_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "route", "status"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "facetz_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),

		GRPCRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "facetz_grpc_requests_total",
			Help: "Total number of gRPC requests.",
		}, []string{"method", "status"}),

		GRPCRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "facetz_grpc_request_duration_seconds",
			Help:    "gRPC request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "status"}),

		ChoiceCacheResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "facetz_choice_cache_lookups_total",
			Help: "Choice cache lookups by result (hit, miss, error).",
		}, []string{"result"}),

		CatalogErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "facetz_catalog_errors_total",
			Help: "Catalog collaborator failures by operation.",
		}, []string{"operation"}),

		DroppedSelectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "facetz_dropped_selections_total",
			Help: "Selected filter values ignored while building a query, by reason.",
		}, []string{"reason"}),

		SkippedDefinitionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "facetz_skipped_definitions_total",
			Help: "Stored filter definitions skipped while loading a registry.",
		}),

		CatalogVersion: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "facetz_catalog_version",
			Help: "Catalog version currently used in choice cache keys.",
		}),

		CatalogInvalidations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "facetz_catalog_invalidations_total",
			Help: "Total number of NOTIFY-triggered catalog version refreshes.",
		}),

		RateLimitedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "facetz_rate_limited_total",
			Help: "Requests rejected by the per-client rate limiter.",
		}),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.GRPCRequestsTotal,
		m.GRPCRequestDuration,
		m.ChoiceCacheResults,
		m.CatalogErrorsTotal,
		m.DroppedSelectionsTotal,
		m.SkippedDefinitionsTotal,
		m.CatalogVersion,
		m.CatalogInvalidations,
		m.RateLimitedTotal,
	)

	return m
}

// Handler returns an [http.Handler] that serves Prometheus metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// HTTPMiddleware records request count and latency labelled by the matched
// mux pattern. It must wrap the [http.ServeMux] directly so the pattern set
// during routing is visible after the call.
func (m *Metrics) HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next.ServeHTTP(rec, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		if rec.status == 0 {
			rec.status = http.StatusOK
		}
		code := strconv.Itoa(rec.status)
		m.HTTPRequestsTotal.WithLabelValues(r.Method, route, code).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, route, code).Observe(time.Since(start).Seconds())
	})
}

// UnaryServerInterceptor returns a gRPC unary interceptor that records
// request count and latency for each method.
func (m *Metrics) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		method := path.Base(info.FullMethod)
		st, _ := status.FromError(err)
		code := st.Code().String()
		m.GRPCRequestsTotal.WithLabelValues(method, code).Inc()
		m.GRPCRequestDuration.WithLabelValues(method, code).Observe(time.Since(start).Seconds())
		return resp, err
	}
}

// RecordChoiceCache counts one choice cache lookup.
func (m *Metrics) RecordChoiceCache(result string) {
	m.ChoiceCacheResults.WithLabelValues(result).Inc()
}

// RecordCatalogError counts a catalog failure for operation.
func (m *Metrics) RecordCatalogError(operation string) {
	m.CatalogErrorsTotal.WithLabelValues(operation).Inc()
}

// RecordDroppedSelection classifies err and counts the dropped value.
func (m *Metrics) RecordDroppedSelection(_ string, err error) {
	reason := DropOther
	switch {
	case errors.Is(err, core.ErrMalformedSelectionValue):
		reason = DropMalformed
	case errors.Is(err, core.ErrAmbiguousRangeSelection):
		reason = DropAmbiguous
	}
	m.DroppedSelectionsTotal.WithLabelValues(reason).Inc()
}

// AddSkippedDefinitions adds n skipped definitions.
func (m *Metrics) AddSkippedDefinitions(n int) {
	if n > 0 {
		m.SkippedDefinitionsTotal.Add(float64(n))
	}
}

// SetCatalogVersion updates the catalog version gauge.
func (m *Metrics) SetCatalogVersion(version int64) {
	m.CatalogVersion.Set(float64(version))
}

// IncCatalogInvalidations increments the invalidation counter.
func (m *Metrics) IncCatalogInvalidations() {
	m.CatalogInvalidations.Inc()
}

// IncRateLimited increments the rate limiter rejection counter.
func (m *Metrics) IncRateLimited() {
	m.RateLimitedTotal.Inc()
}
