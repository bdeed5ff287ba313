package memcatalog

import (
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/matt-riley/facetz/internal/core"
)

func (c *Catalog) matchQuery(item *Item, q *core.Query) bool {
	if item.ParentID != 0 {
		return false
	}
	if q == nil {
		return item.Status == defaultStatus
	}
	if q.ContentKind != "" && item.Kind != q.ContentKind {
		return false
	}
	status := q.Status
	if status == "" {
		status = defaultStatus
	}
	if item.Status != status {
		return false
	}
	if q.IncludeIDs.Active && !slices.Contains(q.IncludeIDs.IDs, item.ID) {
		return false
	}
	if search := strings.TrimSpace(q.Search); search != "" &&
		!strings.Contains(strings.ToLower(item.Title), strings.ToLower(search)) {
		return false
	}
	return c.matchNode(item, q.Classification) && c.matchNode(item, q.Metadata)
}

func (c *Catalog) matchNode(item *Item, node core.Node) bool {
	if node.IsLeaf() {
		return c.matchCondition(item, *node.Condition)
	}
	if len(node.Children) == 0 {
		return true
	}

	if node.Relation == core.RelationOr {
		for _, child := range node.Children {
			if c.matchNode(item, child) {
				return true
			}
		}
		return false
	}

	for _, child := range node.Children {
		if !c.matchNode(item, child) {
			return false
		}
	}
	return true
}

func (c *Catalog) matchCondition(item *Item, condition core.Condition) bool {
	switch condition.Namespace {
	case core.NamespaceClassification, core.NamespaceAttribute:
		return c.matchEntries(item, condition)
	case core.NamespaceMetadata:
		return matchMeta(item.Meta[condition.Field], condition)
	default:
		return false
	}
}

func (c *Catalog) matchEntries(item *Item, condition core.Condition) bool {
	wanted := c.resolveEntries(condition)
	filed := item.Entries[condition.Field]

	found := false
	for _, id := range filed {
		if _, ok := wanted[id]; ok {
			found = true
			break
		}
	}

	if condition.Comparator == core.ComparatorNotIn {
		return !found
	}
	return found
}

// resolveEntries maps leaf values to entry ids, adding descendants when the
// leaf asks for them.
func (c *Catalog) resolveEntries(condition core.Condition) map[int64]struct{} {
	entries := c.entries[condition.Field]
	wanted := make(map[int64]struct{}, len(condition.Values))

	for _, value := range condition.Values {
		for _, entry := range entries {
			if condition.Identity == core.IdentitySlug && entry.Slug == value {
				wanted[entry.ID] = struct{}{}
			}
			if condition.Identity != core.IdentitySlug && strconv.FormatInt(entry.ID, 10) == value {
				wanted[entry.ID] = struct{}{}
			}
		}
	}

	if condition.IncludeChildren {
		for grew := true; grew; {
			grew = false
			for _, entry := range entries {
				if _, ok := wanted[entry.ID]; ok {
					continue
				}
				if _, ok := wanted[entry.Parent]; ok && entry.Parent != 0 {
					wanted[entry.ID] = struct{}{}
					grew = true
				}
			}
		}
	}

	return wanted
}

func matchMeta(stored []string, condition core.Condition) bool {
	if condition.Comparator == core.ComparatorBetween {
		if len(condition.Values) != 2 {
			return false
		}
		low, lowErr := strconv.ParseFloat(condition.Values[0], 64)
		high, highErr := strconv.ParseFloat(condition.Values[1], 64)
		if lowErr != nil || highErr != nil {
			return false
		}
		for _, value := range stored {
			if n, ok := asFloat64(value); ok && n >= low && n <= high {
				return true
			}
		}
		return false
	}

	found := false
	for _, value := range stored {
		if valueIn(value, condition.Values, condition.ValueType) {
			found = true
			break
		}
	}

	if condition.Comparator == core.ComparatorNotIn {
		return !found
	}
	return found
}

func valueIn(value string, wanted []string, valueType core.ValueType) bool {
	for _, candidate := range wanted {
		if valuesEqual(value, candidate, valueType) {
			return true
		}
	}
	return false
}

func valuesEqual(left, right string, valueType core.ValueType) bool {
	if valueType != core.ValueTypeNumeric {
		return left == right
	}

	if leftInt, ok := asInt64(left); ok {
		if rightInt, ok := asInt64(right); ok {
			return leftInt == rightInt
		}
		if rightFloat, ok := asFloat64(right); ok {
			return floatEqualsInt64(rightFloat, leftInt)
		}
		return false
	}

	if leftFloat, ok := asFloat64(left); ok {
		if rightInt, ok := asInt64(right); ok {
			return floatEqualsInt64(leftFloat, rightInt)
		}
		if rightFloat, ok := asFloat64(right); ok {
			return leftFloat == rightFloat
		}
	}

	return false
}

func asInt64(value string) (int64, bool) {
	n, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	return n, err == nil
}

func asFloat64(value string) (float64, bool) {
	n, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, false
	}
	return n, true
}

func floatEqualsInt64(left float64, right int64) bool {
	if !isWholeFinite(left) {
		return false
	}

	if left < float64(math.MinInt64) || left > float64(math.MaxInt64) {
		return false
	}

	converted := int64(left)
	return float64(converted) == left && converted == right
}

func isWholeFinite(value float64) bool {
	return !math.IsNaN(value) && !math.IsInf(value, 0) && math.Trunc(value) == value
}
