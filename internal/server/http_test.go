package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/matt-riley/facetz/internal/core"
	"github.com/matt-riley/facetz/internal/memcatalog"
	"github.com/matt-riley/facetz/internal/metrics"
	"github.com/matt-riley/facetz/internal/service"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type fakeService struct {
	searchFunc   func(ctx context.Context, req service.Request) (service.SearchResult, error)
	facetsFunc   func(ctx context.Context, req service.Request) ([]service.Facet, error)
	queryFunc    func(ctx context.Context, req service.Request) (core.Query, error)
	validateFunc func(ctx context.Context, cfg core.Config) (core.Definition, error)
}

func (f *fakeService) Search(ctx context.Context, req service.Request) (service.SearchResult, error) {
	if f.searchFunc == nil {
		return service.SearchResult{}, errors.New("unexpected Search call")
	}
	return f.searchFunc(ctx, req)
}

func (f *fakeService) FacetsFor(ctx context.Context, req service.Request) ([]service.Facet, error) {
	if f.facetsFunc == nil {
		return nil, errors.New("unexpected FacetsFor call")
	}
	return f.facetsFunc(ctx, req)
}

func (f *fakeService) Query(ctx context.Context, req service.Request) (core.Query, error) {
	if f.queryFunc == nil {
		return core.Query{}, errors.New("unexpected Query call")
	}
	return f.queryFunc(ctx, req)
}

func (f *fakeService) ValidateDefinition(ctx context.Context, cfg core.Config) (core.Definition, error) {
	if f.validateFunc == nil {
		return nil, errors.New("unexpected ValidateDefinition call")
	}
	return f.validateFunc(ctx, cfg)
}

func newDemoService(t *testing.T) *service.Service {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	svc, err := service.New(ctx, memcatalog.Demo())
	if err != nil {
		t.Fatalf("service.New() error = %v", err)
	}
	return svc
}

func serve(handler http.Handler, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHTTPHandlerSearch(t *testing.T) {
	handler := NewHTTPHandler(newDemoService(t))

	rec := serve(handler, http.MethodGet, "/v1/catalogs/product/search?s=shirt&filter_category=2&page=1&utm=x", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", rec.Code, http.StatusOK, rec.Body.String())
	}
	if got := rec.Header().Get("Content-Type"); !strings.Contains(got, "application/json") {
		t.Fatalf("Content-Type = %q, want application/json", got)
	}

	var got service.SearchResult
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if got.FoundCount != 2 || len(got.Items) != 2 {
		t.Fatalf("found = %d items = %d, want 2 and 2", got.FoundCount, len(got.Items))
	}
	if got.Query != "s=shirt&page=1&utm=x&filter_category=2" {
		t.Fatalf("query = %q, want filter parameters moved to the end", got.Query)
	}
	if len(got.Facets) == 0 || got.Facets[0].ID != "category" {
		t.Fatalf("facets = %+v, want category first", got.Facets)
	}
}

func TestHTTPHandlerFacetsSubset(t *testing.T) {
	handler := NewHTTPHandler(newDemoService(t))

	rec := serve(handler, http.MethodGet, "/v1/catalogs/product/facets?filters=brand,price&exclude=price", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", rec.Code, http.StatusOK, rec.Body.String())
	}

	var got facetsJSONResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if len(got.Facets) != 1 || got.Facets[0].ID != "brand" {
		t.Fatalf("facets = %+v, want only brand", got.Facets)
	}
	if len(got.Facets[0].Choices) != 3 {
		t.Fatalf("brand choices = %+v, want 3", got.Facets[0].Choices)
	}
}

func TestHTTPHandlerQuery(t *testing.T) {
	handler := NewHTTPHandler(newDemoService(t))

	rec := serve(handler, http.MethodGet, "/v1/catalogs/product/query?filter_price[min]=10&filter_price[max]=40&per_page=5&order=asc&orderby=title", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", rec.Code, http.StatusOK, rec.Body.String())
	}

	var got core.Query
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if got.PerPage != 5 || got.OrderBy != "title" || got.Order != "ASC" {
		t.Fatalf("query paging = %d/%q/%q, want 5/title/ASC", got.PerPage, got.OrderBy, got.Order)
	}
	if len(got.Metadata.Children) != 1 || got.Metadata.Children[0].Condition.Comparator != core.ComparatorBetween {
		t.Fatalf("query metadata = %+v, want one BETWEEN leaf", got.Metadata)
	}
}

func TestHTTPHandlerRejectsBadParameters(t *testing.T) {
	handler := NewHTTPHandler(&fakeService{})

	tests := []struct {
		name   string
		target string
	}{
		{name: "page zero", target: "/v1/catalogs/product/search?page=0"},
		{name: "page not a number", target: "/v1/catalogs/product/facets?page=two"},
		{name: "negative per page", target: "/v1/catalogs/product/query?per_page=-1"},
		{name: "unknown order", target: "/v1/catalogs/product/search?order=sideways"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(handler, http.MethodGet, tt.target, "")
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
			}
		})
	}
}

func TestHTTPHandlerSkipsMalformedQueryPairs(t *testing.T) {
	handler := NewHTTPHandler(newDemoService(t))

	tests := []struct {
		name   string
		target string
	}{
		{name: "bad escape in filter value", target: "/v1/catalogs/product/search?filter_pa_color=%zz&filter_pa_size=medium"},
		{name: "bare percent in unrelated parameter", target: "/v1/catalogs/product/search?filter_pa_size=medium&utm=50%"},
		{name: "semicolon pair", target: "/v1/catalogs/product/search?filter_pa_size=medium&filter_pa_color=red;x"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(handler, http.MethodGet, tt.target, "")
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d, want %d: %s", rec.Code, http.StatusOK, rec.Body.String())
			}

			var got service.SearchResult
			if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
				t.Fatalf("unmarshal response: %v", err)
			}
			if got.FoundCount != 1 || len(got.Items) != 1 || got.Items[0].ID != 102 {
				t.Fatalf("items = %+v, want only the medium sized item 102", got.Items)
			}
		})
	}
}

func TestHTTPHandlerMapsServiceErrors(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantStatus  int
		wantMessage string
	}{
		{name: "invalid request", err: service.ErrInvalidRequest, wantStatus: http.StatusBadRequest, wantMessage: "invalid request"},
		{name: "catalog down", err: core.ErrCatalogLookup, wantStatus: http.StatusServiceUnavailable, wantMessage: "catalog unavailable"},
		{name: "canceled", err: context.Canceled, wantStatus: http.StatusRequestTimeout, wantMessage: "request canceled"},
		{name: "anything else", err: errors.New("boom"), wantStatus: http.StatusInternalServerError, wantMessage: "internal server error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewHTTPHandler(&fakeService{
				searchFunc: func(context.Context, service.Request) (service.SearchResult, error) {
					return service.SearchResult{}, tt.err
				},
			})

			rec := serve(handler, http.MethodGet, "/v1/catalogs/product/search", "")
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			var body map[string]string
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("unmarshal response: %v", err)
			}
			if body["error"] != tt.wantMessage {
				t.Fatalf("error = %q, want %q", body["error"], tt.wantMessage)
			}
		})
	}
}

func TestHTTPHandlerPassesParsedRequest(t *testing.T) {
	var got service.Request
	handler := NewHTTPHandler(&fakeService{
		searchFunc: func(_ context.Context, req service.Request) (service.SearchResult, error) {
			got = req
			return service.SearchResult{}, nil
		},
	})

	rec := serve(handler, http.MethodGet, "/v1/catalogs/product/search?filter_pa_color=red,blue&filter_price[min]=5&filters=pa_color,price&page=3&s=+tee+", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if got.ContentKind != "product" || got.Page != 3 || got.Search != "tee" {
		t.Fatalf("request = %+v", got)
	}
	if colors := got.Selection["pa_color"].Values(); len(colors) != 2 || colors[0] != "red" {
		t.Fatalf("pa_color selection = %v, want [red blue]", colors)
	}
	if price := got.Selection["price"]; !price.IsRange() || price.Range.Min != "5" {
		t.Fatalf("price selection = %+v, want min 5", price)
	}
	if len(got.Include) != 2 || got.Include[1] != "price" {
		t.Fatalf("include = %v, want [pa_color price]", got.Include)
	}
}

func TestHTTPHandlerValidateDefinition(t *testing.T) {
	handler := NewHTTPHandler(newDemoService(t), WithMaxJSONBodySize(256))

	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantID     string
	}{
		{name: "valid attribute", body: `{"kind":"attribute","source":"color"}`, wantStatus: http.StatusOK, wantID: "pa_color"},
		{name: "valid range", body: `{"kind":"metadata","source":"price","options":{"display_type":"range"}}`, wantStatus: http.StatusOK, wantID: "price"},
		{name: "unknown classification", body: `{"kind":"classification","source":"genre"}`, wantStatus: http.StatusUnprocessableEntity},
		{name: "unknown option", body: `{"kind":"metadata","source":"price","options":{"compare":"IN"}}`, wantStatus: http.StatusUnprocessableEntity},
		{name: "unknown field", body: `{"kind":"metadata","source":"price","extra":true}`, wantStatus: http.StatusBadRequest},
		{name: "not json", body: `kind=metadata`, wantStatus: http.StatusBadRequest},
		{name: "too large", body: `{"kind":"metadata","source":"` + strings.Repeat("a", 300) + `"}`, wantStatus: http.StatusRequestEntityTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(handler, http.MethodPost, "/v1/definitions/validate", tt.body)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if tt.wantID == "" {
				return
			}
			var got definitionJSONResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
				t.Fatalf("unmarshal response: %v", err)
			}
			if got.ID != tt.wantID {
				t.Fatalf("id = %q, want %q", got.ID, tt.wantID)
			}
		})
	}
}

func TestHTTPHandlerHealthz(t *testing.T) {
	rec := serve(NewHTTPHandler(&fakeService{}), http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Fatalf("body = %q, want ok status", rec.Body.String())
	}
}

func TestHTTPHandlerMetrics(t *testing.T) {
	m := metrics.New()
	handler := NewHTTPHandler(&fakeService{}, WithMetrics(m))

	serve(handler, http.MethodGet, "/healthz", "")
	serve(handler, http.MethodGet, "/nope", "")

	if got := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues(http.MethodGet, "GET /healthz", "200")); got != 1 {
		t.Fatalf("healthz requests = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues(http.MethodGet, "unmatched", "404")); got != 1 {
		t.Fatalf("unmatched requests = %v, want 1", got)
	}

	rec := serve(handler, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics status = %d, want %d", rec.Code, http.StatusOK)
	}
	if !strings.Contains(rec.Body.String(), "facetz_http_requests_total") {
		t.Fatal("metrics body missing facetz_http_requests_total")
	}
}

func TestNewHTTPHandlerPanicsWithoutService(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("NewHTTPHandler(nil) did not panic")
		}
	}()
	NewHTTPHandler(nil)
}
