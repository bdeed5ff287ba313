// Package repository provides the PostgreSQL catalog: classification,
// metadata and variation lookups, query execution, stored filter
// configuration and the catalog version. It also handles LISTEN/NOTIFY-based
// invalidation so the service layer can drop cached choices without polling.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/matt-riley/facetz/internal/core"
)

const defaultNotifyChannel = "catalog_events"

// PostgresRepository implements the catalog lookups and query execution
// backed by a pgxpool connection pool.
type PostgresRepository struct {
	pool          *pgxpool.Pool
	notifyChannel string
}

// NewPostgresRepository creates a [PostgresRepository] listening on the
// default "catalog_events" channel.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return NewPostgresRepositoryWithChannel(pool, defaultNotifyChannel)
}

// NewPostgresRepositoryWithChannel creates a [PostgresRepository] using the
// specified LISTEN/NOTIFY channel for catalog change notifications.
func NewPostgresRepositoryWithChannel(pool *pgxpool.Pool, notifyChannel string) *PostgresRepository {
	return &PostgresRepository{
		pool:          pool,
		notifyChannel: normalizeNotifyChannel(notifyChannel),
	}
}

// Classification reports a scheme by name. A missing scheme is not an error.
func (r *PostgresRepository) Classification(ctx context.Context, name string) (core.ClassificationInfo, bool, error) {
	info := core.ClassificationInfo{Name: name}
	err := r.pool.QueryRow(ctx, `
		SELECT label, hierarchical, is_attribute
		FROM classifications
		WHERE name = $1
	`, name).Scan(&info.Label, &info.Hierarchical, &info.Attribute)
	if errors.Is(err, pgx.ErrNoRows) {
		return core.ClassificationInfo{}, false, nil
	}
	if err != nil {
		return core.ClassificationInfo{}, false, fmt.Errorf("get classification: %w", err)
	}

	return info, true, nil
}

// ListClassifications returns the schemes attached to a content kind ordered
// by name.
func (r *PostgresRepository) ListClassifications(ctx context.Context, contentKind string) ([]core.ClassificationInfo, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT name, label, hierarchical, is_attribute
		FROM classifications
		WHERE $1 = ANY(content_kinds)
		ORDER BY name
	`, contentKind)
	if err != nil {
		return nil, fmt.Errorf("list classifications: %w", err)
	}
	defer rows.Close()

	infos := make([]core.ClassificationInfo, 0)
	for rows.Next() {
		var info core.ClassificationInfo
		if err := rows.Scan(&info.Name, &info.Label, &info.Hierarchical, &info.Attribute); err != nil {
			return nil, fmt.Errorf("scan classification: %w", err)
		}
		infos = append(infos, info)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list classifications rows: %w", err)
	}

	return infos, nil
}

// ListEntries returns the entries of a scheme with item counts under the
// query's scope.
func (r *PostgresRepository) ListEntries(ctx context.Context, scheme string, query core.EntryQuery) ([]core.Entry, error) {
	b := &sqlBuilder{}
	where := b.where(query.Scope)
	schemeArg := b.arg(scheme)

	filters := ""
	if len(query.Include) > 0 {
		filters += " AND ce.id = ANY(" + b.arg(query.Include) + "::bigint[])"
	}
	if len(query.Exclude) > 0 {
		filters += " AND NOT (ce.id = ANY(" + b.arg(query.Exclude) + "::bigint[]))"
	}

	rows, err := r.pool.Query(ctx, fmt.Sprintf(`
		SELECT ce.id, ce.slug, ce.name, COALESCE(ce.parent_id, 0), ce.color, ce.image_url,
		       (SELECT COUNT(*) FROM item_entries ie JOIN items i ON i.id = ie.item_id
		        WHERE ie.entry_id = ce.id AND %s)
		FROM classification_entries ce
		WHERE ce.classification = %s%s
		ORDER BY ce.id
	`, where, schemeArg, filters), b.args...)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	defer rows.Close()

	entries := make([]core.Entry, 0)
	for rows.Next() {
		var entry core.Entry
		var count int64
		if err := rows.Scan(&entry.ID, &entry.Slug, &entry.Name, &entry.Parent, &entry.Color, &entry.Image, &count); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		entry.Count = int(count)
		if query.HideEmpty && entry.Count == 0 {
			continue
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list entries rows: %w", err)
	}

	return entries, nil
}

// DistinctValues returns the non-empty values of a metadata key with the
// number of items carrying each.
func (r *PostgresRepository) DistinctValues(ctx context.Context, key string, query core.ValueQuery) ([]core.ValueCount, error) {
	b := &sqlBuilder{}
	where := b.where(query.Scope)

	return r.valueCounts(ctx, "distinct values", fmt.Sprintf(`
		SELECT mv.meta_value, COUNT(DISTINCT i.id)
		FROM item_meta mv
		JOIN items i ON i.id = mv.item_id
		WHERE mv.meta_key = %s AND mv.meta_value <> '' AND %s
		GROUP BY mv.meta_value
		ORDER BY mv.meta_value
	`, b.arg(key), where), b.args)
}

// MinMax returns the numeric span of a metadata key. Values that do not parse
// as numbers are ignored.
func (r *PostgresRepository) MinMax(ctx context.Context, key string, scope *core.Query) (core.Bounds, error) {
	b := &sqlBuilder{}
	where := b.where(scope)

	var low, high *float64
	err := r.pool.QueryRow(ctx, fmt.Sprintf(`
		SELECT MIN(facetz_to_numeric(mv.meta_value))::float8, MAX(facetz_to_numeric(mv.meta_value))::float8
		FROM item_meta mv
		JOIN items i ON i.id = mv.item_id
		WHERE mv.meta_key = %s AND %s
	`, b.arg(key), where), b.args...).Scan(&low, &high)
	if err != nil {
		return core.Bounds{}, fmt.Errorf("min max: %w", err)
	}

	if low == nil || high == nil {
		return core.Bounds{}, nil
	}
	return core.Bounds{Min: *low, Max: *high, Found: true}, nil
}

// VariationValues returns the attribute values found on published
// variations, counted as distinct parent items within the scope.
func (r *PostgresRepository) VariationValues(ctx context.Context, attribute string, query core.ValueQuery) ([]core.ValueCount, error) {
	b := &sqlBuilder{}
	where := b.where(query.Scope)

	return r.valueCounts(ctx, "variation values", fmt.Sprintf(`
		SELECT mv.meta_value, COUNT(DISTINCT v.parent_id)
		FROM items v
		JOIN item_meta mv ON mv.item_id = v.id
		JOIN items i ON i.id = v.parent_id
		WHERE v.content_kind = %s AND v.status = %s
		  AND mv.meta_key = %s AND mv.meta_value <> '' AND %s
		GROUP BY mv.meta_value
		ORDER BY mv.meta_value
	`, b.arg(variationKind), b.arg(defaultStatus), b.arg(variationMetaKey+attribute), where), b.args)
}

// VariationParents returns the sorted ids of parent items owning a published
// variation with one of the given attribute values.
func (r *PostgresRepository) VariationParents(ctx context.Context, attribute string, values []string) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT DISTINCT v.parent_id
		FROM items v
		JOIN item_meta mv ON mv.item_id = v.id
		WHERE v.parent_id IS NOT NULL
		  AND v.content_kind = $1
		  AND v.status = $2
		  AND mv.meta_key = $3
		  AND mv.meta_value = ANY($4::text[])
		ORDER BY v.parent_id
	`, variationKind, defaultStatus, variationMetaKey+attribute, values)
	if err != nil {
		return nil, fmt.Errorf("variation parents: %w", err)
	}

	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("variation parents rows: %w", err)
	}
	if ids == nil {
		ids = make([]int64, 0)
	}

	return ids, nil
}

// Execute runs a built query and returns one page of items with the total
// match count.
func (r *PostgresRepository) Execute(ctx context.Context, query core.Query) (core.Result, error) {
	b := &sqlBuilder{}
	where := b.where(&query)

	var found int64
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM items i WHERE "+where, b.args...).Scan(&found); err != nil {
		return core.Result{}, fmt.Errorf("count items: %w", err)
	}

	result := core.Result{Items: make([]core.Item, 0), Found: int(found)}
	perPage := query.PerPage
	if perPage <= 0 {
		perPage = max(int(found), 1)
	}
	result.Pages = (result.Found + perPage - 1) / perPage
	if found == 0 {
		return result, nil
	}

	page := max(query.Page, 1)
	order := b.orderBy(query.OrderBy, query.Order)
	sql := fmt.Sprintf(`
		SELECT i.id, i.title, i.slug, i.content_kind
		FROM items i
		WHERE %s
		ORDER BY %s
		LIMIT %s OFFSET %s
	`, where, order, b.arg(perPage), b.arg((page-1)*perPage))

	rows, err := r.pool.Query(ctx, sql, b.args...)
	if err != nil {
		return core.Result{}, fmt.Errorf("execute query: %w", err)
	}
	defer rows.Close()

	ids := make([]int64, 0, perPage)
	for rows.Next() {
		var item core.Item
		if err := rows.Scan(&item.ID, &item.Title, &item.Slug, &item.ContentKind); err != nil {
			return core.Result{}, fmt.Errorf("scan item: %w", err)
		}
		item.Meta = map[string]string{}
		result.Items = append(result.Items, item)
		ids = append(ids, item.ID)
	}
	if err := rows.Err(); err != nil {
		return core.Result{}, fmt.Errorf("execute query rows: %w", err)
	}

	if err := r.attachMeta(ctx, result.Items, ids); err != nil {
		return core.Result{}, err
	}

	return result, nil
}

func (r *PostgresRepository) attachMeta(ctx context.Context, items []core.Item, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	rows, err := r.pool.Query(ctx, `
		SELECT item_id, meta_key, meta_value
		FROM item_meta
		WHERE item_id = ANY($1::bigint[])
		ORDER BY id
	`, ids)
	if err != nil {
		return fmt.Errorf("item meta: %w", err)
	}
	defer rows.Close()

	index := make(map[int64]int, len(items))
	for i, item := range items {
		index[item.ID] = i
	}

	for rows.Next() {
		var itemID int64
		var key, value string
		if err := rows.Scan(&itemID, &key, &value); err != nil {
			return fmt.Errorf("scan item meta: %w", err)
		}
		meta := items[index[itemID]].Meta
		if _, seen := meta[key]; !seen {
			meta[key] = value
		}
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("item meta rows: %w", err)
	}

	return nil
}

// ListFilterDefinitions returns the stored filter configuration of a content
// kind in display order.
func (r *PostgresRepository) ListFilterDefinitions(ctx context.Context, contentKind string) ([]core.Config, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT filter_id, kind, label, source, options
		FROM filter_definitions
		WHERE content_kind = $1
		ORDER BY position, id
	`, contentKind)
	if err != nil {
		return nil, fmt.Errorf("list filter definitions: %w", err)
	}
	defer rows.Close()

	configs := make([]core.Config, 0)
	for rows.Next() {
		var cfg core.Config
		var kind string
		var options []byte
		if err := rows.Scan(&cfg.ID, &kind, &cfg.Label, &cfg.Source, &options); err != nil {
			return nil, fmt.Errorf("scan filter definition: %w", err)
		}
		cfg.Kind = core.Kind(kind)
		cfg.Options = ensureJSON(options, "{}")
		configs = append(configs, cfg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list filter definitions rows: %w", err)
	}

	return configs, nil
}

// CatalogVersion returns the counter bumped by every catalog write.
func (r *PostgresRepository) CatalogVersion(ctx context.Context) (int64, error) {
	var version int64
	if err := r.pool.QueryRow(ctx, `SELECT version FROM catalog_version`).Scan(&version); err != nil {
		return 0, fmt.Errorf("catalog version: %w", err)
	}

	return version, nil
}

// SubscribeCatalogInvalidation returns a channel that receives a signal
// whenever a catalog change notification arrives on the PostgreSQL LISTEN
// channel. The channel is closed if the listener gives up.
func (r *PostgresRepository) SubscribeCatalogInvalidation(ctx context.Context) (<-chan struct{}, error) {
	invalidations := make(chan struct{}, 1)

	go r.runCatalogInvalidationListener(ctx, invalidations)

	return invalidations, nil
}

func (r *PostgresRepository) runCatalogInvalidationListener(ctx context.Context, invalidations chan<- struct{}) {
	defer close(invalidations)

	for {
		err := r.listenForCatalogInvalidation(ctx, invalidations)
		if err == nil || ctx.Err() != nil {
			return
		}

		retryTimer := time.NewTimer(time.Second)
		select {
		case <-ctx.Done():
			retryTimer.Stop()
			return
		case <-retryTimer.C:
		}
	}
}

func (r *PostgresRepository) listenForCatalogInvalidation(ctx context.Context, invalidations chan<- struct{}) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire listen connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, listenStatement(r.notifyChannel)); err != nil {
		return fmt.Errorf("listen on %q: %w", r.notifyChannel, err)
	}

	for {
		if _, err := conn.Conn().WaitForNotification(ctx); err != nil {
			return fmt.Errorf("wait for catalog notification: %w", err)
		}

		select {
		case invalidations <- struct{}{}:
		default:
		}
	}
}

func (r *PostgresRepository) valueCounts(ctx context.Context, op, sql string, args []any) ([]core.ValueCount, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	counts := make([]core.ValueCount, 0)
	for rows.Next() {
		var value string
		var count int64
		if err := rows.Scan(&value, &count); err != nil {
			return nil, fmt.Errorf("scan %s: %w", op, err)
		}
		counts = append(counts, core.ValueCount{Value: value, Count: int(count)})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s rows: %w", op, err)
	}

	return counts, nil
}

func normalizeNotifyChannel(channel string) string {
	if trimmed := strings.TrimSpace(channel); trimmed != "" {
		return trimmed
	}

	return defaultNotifyChannel
}

func ensureJSON(input json.RawMessage, fallback string) json.RawMessage {
	if len(input) == 0 {
		return json.RawMessage(fallback)
	}

	return input
}

func listenStatement(channel string) string {
	return fmt.Sprintf("LISTEN %s", pgx.Identifier{channel}.Sanitize())
}
