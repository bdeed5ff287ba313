//go:build integration

package integration

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"reflect"
	"slices"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/docker/go-connections/nat"

	"github.com/matt-riley/facetz/internal/cache"
	"github.com/matt-riley/facetz/internal/core"
	"github.com/matt-riley/facetz/internal/repository"
	"github.com/matt-riley/facetz/internal/service"
)

var (
	testPool *pgxpool.Pool
	redisURL string
)

const seedCatalog = `
INSERT INTO classifications (name, label, hierarchical, is_attribute, content_kinds) VALUES
    ('category', 'Categories', TRUE, FALSE, '{product}'),
    ('pa_color', 'Color', FALSE, TRUE, '{product}'),
    ('topic', 'Topics', FALSE, FALSE, '{post}');

INSERT INTO classification_entries (id, classification, slug, name, parent_id, color) VALUES
    (1, 'category', 'clothing', 'Clothing', NULL, ''),
    (2, 'category', 'shirts', 'Shirts', 1, ''),
    (3, 'category', 'shoes', 'Shoes', NULL, ''),
    (10, 'pa_color', 'red', 'Red', NULL, '#ff0000'),
    (11, 'pa_color', 'blue', 'Blue', NULL, '#0000ff'),
    (20, 'topic', 'news', 'News', NULL, '');

INSERT INTO items (id, parent_id, content_kind, status, title, slug, published_at) VALUES
    (100, NULL, 'product', 'publish', 'Blue shirt', 'blue-shirt', '2026-01-01T00:00:00Z'),
    (101, NULL, 'product', 'publish', 'Red shirt', 'red-shirt', '2026-01-02T00:00:00Z'),
    (102, NULL, 'product', 'publish', 'Boots', 'boots', '2026-01-03T00:00:00Z'),
    (103, NULL, 'product', 'draft', 'Hidden shirt', 'hidden-shirt', '2026-01-04T00:00:00Z'),
    (104, NULL, 'post', 'publish', 'Launch news', 'launch-news', '2026-01-05T00:00:00Z'),
    (200, 100, 'variation', 'publish', 'Blue shirt small', '', '2026-01-01T00:00:00Z'),
    (201, 101, 'variation', 'publish', 'Red shirt large', '', '2026-01-02T00:00:00Z'),
    (202, 101, 'variation', 'draft', 'Red shirt small', '', '2026-01-02T00:00:00Z');

INSERT INTO item_entries (item_id, entry_id) VALUES
    (100, 2), (100, 11),
    (101, 2), (101, 10),
    (102, 3), (102, 10),
    (103, 2), (103, 10),
    (104, 20);

INSERT INTO item_meta (item_id, meta_key, meta_value) VALUES
    (100, 'price', '20'), (100, 'brand', 'acme'),
    (101, 'price', '35'), (101, 'brand', 'globex'),
    (102, 'price', '80'), (102, 'brand', 'acme'),
    (103, 'price', '5'),
    (200, 'attribute_pa_size', 'small'),
    (201, 'attribute_pa_size', 'large'),
    (202, 'attribute_pa_size', 'small');

INSERT INTO filter_definitions (content_kind, position, filter_id, kind, label, source, options) VALUES
    ('product', 0, '', 'classification', '', 'category', '{}'),
    ('product', 1, '', 'attribute', '', 'color', '{"display_type":"color"}'),
    ('product', 2, '', 'metadata', 'Price', 'price', '{"display_type":"range","data_type":"numeric"}'),
    ('product', 3, '', 'variation_attribute', '', 'pa_size', '{}'),
    ('product', 4, '', 'classification', '', 'genre', '{}');
`

func TestMain(m *testing.M) {
	os.Exit(runTests(m))
}

func runTests(m *testing.M) int {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:18-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_DB":       "facetz_test",
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
		},
		WaitingFor: wait.ForSQL("5432/tcp", "pgx", func(host string, port nat.Port) string {
			return fmt.Sprintf("postgresql://test:test@%s:%s/facetz_test?sslmode=disable", host, port.Port())
		}).WithStartupTimeout(30 * time.Second),
	}

	pgContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		log.Printf("start postgres container: %v", err)
		return 1
	}
	defer func() { _ = pgContainer.Terminate(ctx) }()

	host, err := pgContainer.Host(ctx)
	if err != nil {
		log.Printf("get container host: %v", err)
		return 1
	}

	mappedPort, err := pgContainer.MappedPort(ctx, "5432/tcp")
	if err != nil {
		log.Printf("get mapped port: %v", err)
		return 1
	}

	connStr := fmt.Sprintf(
		"postgresql://test:test@%s:%s/facetz_test?sslmode=disable",
		host, mappedPort.Port(),
	)

	redisContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		log.Printf("start redis container: %v", err)
		return 1
	}
	defer func() { _ = redisContainer.Terminate(ctx) }()

	redisHost, err := redisContainer.Host(ctx)
	if err != nil {
		log.Printf("get redis host: %v", err)
		return 1
	}
	redisPort, err := redisContainer.MappedPort(ctx, "6379/tcp")
	if err != nil {
		log.Printf("get redis port: %v", err)
		return 1
	}
	redisURL = fmt.Sprintf("redis://%s:%s/0", redisHost, redisPort.Port())

	// Run goose migrations.
	migrationsDir, err := findMigrationsDir()
	if err != nil {
		log.Printf("find migrations: %v", err)
		return 1
	}
	db, err := sql.Open("pgx", connStr)
	if err != nil {
		log.Printf("open db for migrations: %v", err)
		return 1
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Printf("close db after migrations: %v", err)
		}
	}()
	if err := goose.SetDialect("postgres"); err != nil {
		log.Printf("set goose dialect: %v", err)
		return 1
	}
	if err := goose.Up(db, migrationsDir); err != nil {
		log.Printf("run migrations: %v", err)
		return 1
	}

	testPool, err = pgxpool.New(ctx, connStr)
	if err != nil {
		log.Printf("create pool: %v", err)
		return 1
	}
	defer testPool.Close()

	if _, err := testPool.Exec(ctx, seedCatalog); err != nil {
		log.Printf("seed catalog: %v", err)
		return 1
	}

	return m.Run()
}

// findMigrationsDir walks up from the working directory until it finds a
// migrations/ directory (the repository root contains it).
func findMigrationsDir() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get working directory: %w", err)
	}
	for {
		candidate := filepath.Join(dir, "migrations")
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("migrations directory not found")
		}
		dir = parent
	}
}

func newRepo() *repository.PostgresRepository {
	return repository.NewPostgresRepository(testPool)
}

func sortedIDs(items []core.Item) []int64 {
	ids := make([]int64, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ID)
	}
	slices.Sort(ids)
	return ids
}

func TestClassificationLookups(t *testing.T) {
	repo := newRepo()
	ctx := context.Background()

	info, ok, err := repo.Classification(ctx, "category")
	if err != nil {
		t.Fatalf("Classification() error = %v", err)
	}
	if !ok || !info.Hierarchical || info.Attribute {
		t.Fatalf("Classification(category) = %+v, %v", info, ok)
	}

	if _, ok, err := repo.Classification(ctx, "genre"); err != nil || ok {
		t.Fatalf("Classification(genre) = %v, %v, want missing", ok, err)
	}

	schemes, err := repo.ListClassifications(ctx, "product")
	if err != nil {
		t.Fatalf("ListClassifications() error = %v", err)
	}
	names := make([]string, 0, len(schemes))
	for _, scheme := range schemes {
		names = append(names, scheme.Name)
	}
	slices.Sort(names)
	if !reflect.DeepEqual(names, []string{"category", "pa_color"}) {
		t.Fatalf("ListClassifications(product) = %v, want [category pa_color]", names)
	}
}

func TestListEntriesCountsPublishedItems(t *testing.T) {
	repo := newRepo()
	ctx := context.Background()

	entries, err := repo.ListEntries(ctx, "category", core.EntryQuery{HideEmpty: true})
	if err != nil {
		t.Fatalf("ListEntries() error = %v", err)
	}
	counts := map[int64]int{}
	for _, entry := range entries {
		counts[entry.ID] = entry.Count
	}
	if !reflect.DeepEqual(counts, map[int64]int{2: 2, 3: 1}) {
		t.Fatalf("ListEntries() counts = %v, want map[2:2 3:1]", counts)
	}

	scope := core.Query{
		ContentKind: "product",
		Metadata: core.Leaf(core.Condition{
			Namespace:  core.NamespaceMetadata,
			Field:      "brand",
			Comparator: core.ComparatorEQ,
			ValueType:  core.ValueTypeString,
			Values:     []string{"acme"},
		}),
	}
	entries, err = repo.ListEntries(ctx, "pa_color", core.EntryQuery{Scope: &scope})
	if err != nil {
		t.Fatalf("ListEntries(scoped) error = %v", err)
	}
	counts = map[int64]int{}
	for _, entry := range entries {
		counts[entry.ID] = entry.Count
		if entry.ID == 10 && entry.Color != "#ff0000" {
			t.Fatalf("red Color = %q, want #ff0000", entry.Color)
		}
	}
	if !reflect.DeepEqual(counts, map[int64]int{10: 1, 11: 1}) {
		t.Fatalf("ListEntries(scoped) counts = %v, want map[10:1 11:1]", counts)
	}
}

func TestMetadataLookups(t *testing.T) {
	repo := newRepo()
	ctx := context.Background()

	values, err := repo.DistinctValues(ctx, "brand", core.ValueQuery{})
	if err != nil {
		t.Fatalf("DistinctValues() error = %v", err)
	}
	want := []core.ValueCount{{Value: "acme", Count: 2}, {Value: "globex", Count: 1}}
	if !reflect.DeepEqual(values, want) {
		t.Fatalf("DistinctValues() = %v, want %v", values, want)
	}

	bounds, err := repo.MinMax(ctx, "price", nil)
	if err != nil {
		t.Fatalf("MinMax() error = %v", err)
	}
	if !bounds.Found || bounds.Min != 20 || bounds.Max != 80 {
		t.Fatalf("MinMax(price) = %+v, want 20..80", bounds)
	}

	bounds, err = repo.MinMax(ctx, "weight", nil)
	if err != nil {
		t.Fatalf("MinMax(weight) error = %v", err)
	}
	if bounds.Found {
		t.Fatalf("MinMax(weight) = %+v, want not found", bounds)
	}
}

func TestVariationLookups(t *testing.T) {
	repo := newRepo()
	ctx := context.Background()

	values, err := repo.VariationValues(ctx, "pa_size", core.ValueQuery{})
	if err != nil {
		t.Fatalf("VariationValues() error = %v", err)
	}
	want := []core.ValueCount{{Value: "large", Count: 1}, {Value: "small", Count: 1}}
	if !reflect.DeepEqual(values, want) {
		t.Fatalf("VariationValues() = %v, want %v", values, want)
	}

	parents, err := repo.VariationParents(ctx, "pa_size", []string{"small"})
	if err != nil {
		t.Fatalf("VariationParents() error = %v", err)
	}
	if !reflect.DeepEqual(parents, []int64{100}) {
		t.Fatalf("VariationParents(small) = %v, want [100]", parents)
	}

	parents, err = repo.VariationParents(ctx, "pa_size", []string{"xl"})
	if err != nil {
		t.Fatalf("VariationParents(xl) error = %v", err)
	}
	if len(parents) != 0 {
		t.Fatalf("VariationParents(xl) = %v, want none", parents)
	}
}

func TestExecute(t *testing.T) {
	repo := newRepo()
	ctx := context.Background()

	tests := []struct {
		name  string
		query core.Query
		want  []int64
	}{
		{name: "published products", query: core.Query{ContentKind: "product"}, want: []int64{100, 101, 102}},
		{
			name: "classification by id",
			query: core.Query{ContentKind: "product", Classification: core.Leaf(core.Condition{
				Namespace: core.NamespaceClassification, Field: "category", Identity: core.IdentityID,
				Comparator: core.ComparatorIn, Values: []string{"2"},
			})},
			want: []int64{100, 101},
		},
		{
			name: "classification with children",
			query: core.Query{ContentKind: "product", Classification: core.Leaf(core.Condition{
				Namespace: core.NamespaceClassification, Field: "category", Identity: core.IdentityID,
				Comparator: core.ComparatorIn, Values: []string{"1"}, IncludeChildren: true,
			})},
			want: []int64{100, 101},
		},
		{
			name: "attribute by slug excluded",
			query: core.Query{ContentKind: "product", Classification: core.Leaf(core.Condition{
				Namespace: core.NamespaceAttribute, Field: "pa_color", Identity: core.IdentitySlug,
				Comparator: core.ComparatorNotIn, Values: []string{"red"},
			})},
			want: []int64{100},
		},
		{
			name: "numeric range",
			query: core.Query{ContentKind: "product", Metadata: core.Leaf(core.Condition{
				Namespace: core.NamespaceMetadata, Field: "price", Comparator: core.ComparatorBetween,
				ValueType: core.ValueTypeNumeric, Values: []string{"10", "40"},
			})},
			want: []int64{100, 101},
		},
		{
			name: "or group",
			query: core.Query{ContentKind: "product", Metadata: core.Group(core.RelationOr,
				core.Leaf(core.Condition{Namespace: core.NamespaceMetadata, Field: "brand", Comparator: core.ComparatorEQ, Values: []string{"globex"}}),
				core.Leaf(core.Condition{Namespace: core.NamespaceMetadata, Field: "price", Comparator: core.ComparatorEQ, ValueType: core.ValueTypeNumeric, Values: []string{"80.0"}}),
			)},
			want: []int64{101, 102},
		},
		{name: "include ids", query: core.Query{ContentKind: "product", IncludeIDs: core.IDConstraint{Active: true, IDs: []int64{102, 103}}}, want: []int64{102}},
		{name: "impossible ids", query: core.Query{ContentKind: "product", IncludeIDs: core.IDConstraint{Active: true, IDs: []int64{}}}, want: []int64{}},
		{name: "search", query: core.Query{ContentKind: "product", Search: "SHIRT"}, want: []int64{100, 101}},
		{name: "draft status", query: core.Query{ContentKind: "product", Status: "draft"}, want: []int64{103}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := repo.Execute(ctx, tt.query)
			if err != nil {
				t.Fatalf("Execute() error = %v", err)
			}
			if got := sortedIDs(result.Items); !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("Execute() ids = %v, want %v", got, tt.want)
			}
			if result.Found != len(tt.want) {
				t.Fatalf("Execute() Found = %d, want %d", result.Found, len(tt.want))
			}
		})
	}
}

func TestExecutePagesAndAttachesMeta(t *testing.T) {
	repo := newRepo()

	result, err := repo.Execute(context.Background(), core.Query{
		ContentKind: "product",
		Page:        2,
		PerPage:     2,
		OrderBy:     "title",
		Order:       core.OrderAsc,
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.Found != 3 || result.Pages != 2 {
		t.Fatalf("Execute() Found = %d Pages = %d, want 3 and 2", result.Found, result.Pages)
	}
	if len(result.Items) != 1 || result.Items[0].ID != 101 {
		t.Fatalf("Execute() page 2 = %+v, want [Red shirt]", result.Items)
	}
	if result.Items[0].Meta["price"] != "35" || result.Items[0].Meta["brand"] != "globex" {
		t.Fatalf("Execute() meta = %v, want price 35 and brand globex", result.Items[0].Meta)
	}
}

func TestListFilterDefinitions(t *testing.T) {
	repo := newRepo()

	configs, err := repo.ListFilterDefinitions(context.Background(), "product")
	if err != nil {
		t.Fatalf("ListFilterDefinitions() error = %v", err)
	}
	sources := make([]string, 0, len(configs))
	for _, cfg := range configs {
		sources = append(sources, cfg.Source)
	}
	if !reflect.DeepEqual(sources, []string{"category", "color", "price", "pa_size", "genre"}) {
		t.Fatalf("ListFilterDefinitions() sources = %v", sources)
	}
	if configs[2].Kind != core.KindMetadata || configs[2].Label != "Price" {
		t.Fatalf("ListFilterDefinitions()[2] = %+v", configs[2])
	}

	empty, err := repo.ListFilterDefinitions(context.Background(), "page")
	if err != nil {
		t.Fatalf("ListFilterDefinitions(page) error = %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("ListFilterDefinitions(page) = %v, want none", empty)
	}
}

func TestCatalogVersionAndInvalidation(t *testing.T) {
	repo := newRepo()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	before, err := repo.CatalogVersion(ctx)
	if err != nil {
		t.Fatalf("CatalogVersion() error = %v", err)
	}

	invalidations, err := repo.SubscribeCatalogInvalidation(ctx)
	if err != nil {
		t.Fatalf("SubscribeCatalogInvalidation() error = %v", err)
	}

	// Writes keep retrying until the listener has attached.
	deadline := time.After(10 * time.Second)
	for received := false; !received; {
		if _, err := testPool.Exec(ctx, `INSERT INTO items (content_kind, title) VALUES ('page', 'About')`); err != nil {
			t.Fatalf("insert item: %v", err)
		}
		select {
		case <-invalidations:
			received = true
		case <-time.After(200 * time.Millisecond):
		case <-deadline:
			t.Fatal("no catalog invalidation received")
		}
	}

	after, err := repo.CatalogVersion(ctx)
	if err != nil {
		t.Fatalf("CatalogVersion() error = %v", err)
	}
	if after <= before {
		t.Fatalf("CatalogVersion() = %d after write, want > %d", after, before)
	}
}

func TestRedisStore(t *testing.T) {
	ctx := context.Background()

	store, err := cache.NewRedisStore(ctx, redisURL, "facetz:test:")
	if err != nil {
		t.Fatalf("NewRedisStore() error = %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	if _, err := store.Get(ctx, "missing"); !errors.Is(err, cache.ErrMiss) {
		t.Fatalf("Get(missing) error = %v, want %v", err, cache.ErrMiss)
	}
	if err := store.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	got, err := store.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(got) != "v" {
		t.Fatalf("Get() = %q, want v", got)
	}
}

func TestServiceSearchOverPostgres(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := cache.NewRedisStore(ctx, redisURL, "facetz:search:")
	if err != nil {
		t.Fatalf("NewRedisStore() error = %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	svc, err := service.New(ctx, newRepo(), service.WithChoiceCache(cache.NewChoiceCache(store, time.Minute)))
	if err != nil {
		t.Fatalf("service.New() error = %v", err)
	}

	tests := []struct {
		name      string
		selection core.Selection
		want      []int64
	}{
		{name: "no selection", want: []int64{100, 101, 102}},
		{name: "category", selection: core.Selection{"category": {Items: []string{"2"}}}, want: []int64{100, 101}},
		{name: "color", selection: core.Selection{"pa_color": {Items: []string{"red"}}}, want: []int64{101, 102}},
		{name: "price range", selection: core.Selection{"price": {Range: &core.RangeValue{Min: "30", Max: "100"}}}, want: []int64{101, 102}},
		{name: "variation", selection: core.Selection{"pa_size": {Items: []string{"small"}}}, want: []int64{100}},
		{
			name: "combined",
			selection: core.Selection{
				"category": {Items: []string{"2"}},
				"pa_color": {Items: []string{"red"}},
			},
			want: []int64{101},
		},
		{name: "unknown filter ignored", selection: core.Selection{"genre": {Items: []string{"jazz"}}}, want: []int64{100, 101, 102}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := svc.Search(ctx, service.Request{ContentKind: "product", Selection: tt.selection})
			if err != nil {
				t.Fatalf("Search() error = %v", err)
			}
			if got := sortedIDs(result.Items); !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("Search() ids = %v, want %v", got, tt.want)
			}
			ids := make([]string, 0, len(result.Facets))
			for _, facet := range result.Facets {
				ids = append(ids, facet.ID)
			}
			if !reflect.DeepEqual(ids, []string{"category", "pa_color", "price", "pa_size"}) {
				t.Fatalf("Search() facets = %v, want [category pa_color price pa_size]", ids)
			}
		})
	}
}

func TestServiceFacetCountsOverPostgres(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc, err := service.New(ctx, newRepo())
	if err != nil {
		t.Fatalf("service.New() error = %v", err)
	}

	facets, err := svc.FacetsFor(ctx, service.Request{
		ContentKind: "product",
		Selection:   core.Selection{"pa_color": {Items: []string{"red"}}},
		Include:     []string{"pa_color", "price"},
	})
	if err != nil {
		t.Fatalf("FacetsFor() error = %v", err)
	}
	if len(facets) != 2 {
		t.Fatalf("FacetsFor() = %d facets, want 2", len(facets))
	}

	color := facets[0]
	if !reflect.DeepEqual(color.Selected, []string{"red"}) {
		t.Fatalf("color Selected = %v, want [red]", color.Selected)
	}
	// A facet is counted without its own selection.
	counts := map[string]int{}
	for _, choice := range color.Choices {
		counts[choice.Value] = choice.Count
	}
	if counts["red"] != 2 || counts["blue"] != 1 {
		t.Fatalf("color counts = %v, want red 2 and blue 1", counts)
	}

	price := facets[1]
	if price.Range == nil || price.Range.Min != 35 || price.Range.Max != 80 {
		t.Fatalf("price Range = %+v, want 35..80 under the color selection", price.Range)
	}
}
