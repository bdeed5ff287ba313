package repository

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/matt-riley/facetz/internal/core"
)

const (
	defaultStatus     = "publish"
	variationKind     = "variation"
	variationMetaKey  = "attribute_"
	metaOrderByPrefix = "meta:"
)

// sqlBuilder renders a core.Query into a WHERE clause over items aliased as
// "i". Every value travels as a positional argument.
type sqlBuilder struct {
	args    []any
	aliases int
}

func (b *sqlBuilder) arg(value any) string {
	b.args = append(b.args, value)
	return "$" + strconv.Itoa(len(b.args))
}

func (b *sqlBuilder) alias(prefix string) string {
	b.aliases++
	return prefix + strconv.Itoa(b.aliases)
}

// where renders the predicate for scope. A nil scope means every published
// top-level item.
func (b *sqlBuilder) where(scope *core.Query) string {
	parts := []string{"i.parent_id IS NULL"}
	if scope == nil {
		parts = append(parts, "i.status = "+b.arg(defaultStatus))
		return strings.Join(parts, " AND ")
	}

	if scope.ContentKind != "" {
		parts = append(parts, "i.content_kind = "+b.arg(scope.ContentKind))
	}
	status := scope.Status
	if status == "" {
		status = defaultStatus
	}
	parts = append(parts, "i.status = "+b.arg(status))

	switch {
	case scope.IncludeIDs.Impossible():
		parts = append(parts, "FALSE")
	case scope.IncludeIDs.Active:
		parts = append(parts, "i.id = ANY("+b.arg(scope.IncludeIDs.IDs)+"::bigint[])")
	}

	if search := strings.TrimSpace(scope.Search); search != "" {
		parts = append(parts, "i.title ILIKE "+b.arg("%"+escapeLike(search)+"%"))
	}

	if clause := b.node(scope.Classification); clause != "" {
		parts = append(parts, clause)
	}
	if clause := b.node(scope.Metadata); clause != "" {
		parts = append(parts, clause)
	}

	return strings.Join(parts, " AND ")
}

func (b *sqlBuilder) node(node core.Node) string {
	if node.IsLeaf() {
		return b.condition(*node.Condition)
	}

	children := make([]string, 0, len(node.Children))
	for _, child := range node.Children {
		if clause := b.node(child); clause != "" {
			children = append(children, clause)
		}
	}
	if len(children) == 0 {
		return ""
	}

	joiner := " AND "
	if node.Relation == core.RelationOr {
		joiner = " OR "
	}
	return "(" + strings.Join(children, joiner) + ")"
}

func (b *sqlBuilder) condition(c core.Condition) string {
	switch c.Namespace {
	case core.NamespaceClassification, core.NamespaceAttribute:
		return b.entryCondition(c)
	case core.NamespaceMetadata:
		return b.metaCondition(c)
	default:
		return "FALSE"
	}
}

func (b *sqlBuilder) entryCondition(c core.Condition) string {
	ie := b.alias("ie")
	ce := b.alias("ce")

	var seed string
	if c.Identity == core.IdentitySlug {
		seed = fmt.Sprintf("SELECT %s.id FROM classification_entries %s WHERE %s.classification = %s AND %s.slug = ANY(%s::text[])",
			ce, ce, ce, b.arg(c.Field), ce, b.arg(c.Values))
	} else {
		seed = fmt.Sprintf("SELECT %s.id FROM classification_entries %s WHERE %s.classification = %s AND %s.id = ANY(%s::bigint[])",
			ce, ce, ce, b.arg(c.Field), ce, b.arg(parseInt64s(c.Values)))
	}

	entries := seed
	if c.IncludeChildren {
		tree := b.alias("tree")
		child := b.alias("ce")
		entries = fmt.Sprintf("WITH RECURSIVE %s(id) AS (%s UNION SELECT %s.id FROM classification_entries %s JOIN %s ON %s.parent_id = %s.id) SELECT id FROM %s",
			tree, seed, child, child, tree, child, tree, tree)
	}

	exists := fmt.Sprintf("EXISTS (SELECT 1 FROM item_entries %s WHERE %s.item_id = i.id AND %s.entry_id IN (%s))", ie, ie, ie, entries)
	if c.Comparator == core.ComparatorNotIn {
		return "NOT " + exists
	}
	return exists
}

func (b *sqlBuilder) metaCondition(c core.Condition) string {
	m := b.alias("m")
	key := b.arg(c.Field)

	var match string
	switch {
	case c.Comparator == core.ComparatorBetween && len(c.Values) == 2:
		match = fmt.Sprintf("facetz_to_numeric(%s.meta_value) BETWEEN %s::text::numeric AND %s::text::numeric",
			m, b.arg(c.Values[0]), b.arg(c.Values[1]))
	case c.Comparator == core.ComparatorBetween:
		return "FALSE"
	case c.ValueType == core.ValueTypeNumeric:
		match = fmt.Sprintf("facetz_to_numeric(%s.meta_value) = ANY(%s::text[]::numeric[])", m, b.arg(c.Values))
	default:
		match = fmt.Sprintf("%s.meta_value = ANY(%s::text[])", m, b.arg(c.Values))
	}

	exists := fmt.Sprintf("EXISTS (SELECT 1 FROM item_meta %s WHERE %s.item_id = i.id AND %s.meta_key = %s AND %s)", m, m, m, key, match)
	if c.Comparator == core.ComparatorNotIn {
		return "NOT " + exists
	}
	return exists
}

// orderBy renders the ORDER BY list. Only known keywords are interpolated;
// metadata keys travel as arguments.
func (b *sqlBuilder) orderBy(orderBy, order string) string {
	orderBy = strings.TrimSpace(orderBy)
	keyword := strings.ToLower(orderBy)
	if keyword == "" {
		keyword = "date"
	}

	direction := "ASC"
	if strings.EqualFold(order, core.OrderDesc) || (order == "" && keyword == "date") {
		direction = "DESC"
	}

	var column string
	switch {
	case keyword == "title":
		column = "lower(i.title)"
	case keyword == "id":
		column = "i.id"
	case strings.HasPrefix(keyword, metaOrderByPrefix):
		m := b.alias("m")
		column = fmt.Sprintf("(SELECT MIN(facetz_to_numeric(%s.meta_value)) FROM item_meta %s WHERE %s.item_id = i.id AND %s.meta_key = %s)",
			m, m, m, m, b.arg(orderBy[len(metaOrderByPrefix):]))
	default:
		column = "i.published_at"
	}

	return fmt.Sprintf("%s %s NULLS LAST, i.id ASC", column, direction)
}

func parseInt64s(values []string) []int64 {
	out := make([]int64, 0, len(values))
	for _, value := range values {
		if n, err := strconv.ParseInt(value, 10, 64); err == nil {
			out = append(out, n)
		}
	}
	return out
}

func escapeLike(value string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(value)
}
