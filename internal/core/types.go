package core

import (
	"fmt"
	"slices"
	"strings"
)

// Kind names one of the four filter implementations.
type Kind string

const (
	KindClassification     Kind = "classification"
	KindMetadata           Kind = "metadata"
	KindAttribute          Kind = "attribute"
	KindVariationAttribute Kind = "variation_attribute"
)

// ParseKind accepts the persisted kind name, case-insensitively.
func ParseKind(value string) (Kind, error) {
	switch kind := Kind(strings.ToLower(strings.TrimSpace(value))); kind {
	case KindClassification, KindMetadata, KindAttribute, KindVariationAttribute:
		return kind, nil
	default:
		return "", fmt.Errorf("%w: unknown kind %q", ErrInvalidFilterDefinition, value)
	}
}

// Comparator is how a leaf compares stored values against its Values.
type Comparator string

const (
	ComparatorEQ      Comparator = "EQ"
	ComparatorIn      Comparator = "IN"
	ComparatorNotIn   Comparator = "NOT_IN"
	ComparatorBetween Comparator = "BETWEEN"
)

// ValueType selects string or numeric comparison for metadata leaves.
type ValueType string

const (
	ValueTypeString  ValueType = "string"
	ValueTypeNumeric ValueType = "numeric"
)

// Relation combines the children of a group node.
type Relation string

const (
	RelationAnd Relation = "AND"
	RelationOr  Relation = "OR"
)

// Namespace tells the executor which storage a leaf condition reads.
type Namespace string

const (
	NamespaceClassification Namespace = "classification"
	NamespaceAttribute      Namespace = "attribute"
	NamespaceMetadata       Namespace = "metadata"
)

// Identity selects how taxonomy-like leaf values identify an entry.
type Identity string

const (
	IdentityID   Identity = "id"
	IdentitySlug Identity = "slug"
)

// Condition is a predicate leaf. Values hold canonical string forms; numeric
// values are already normalized so two equal selections compare equal.
type Condition struct {
	Namespace       Namespace  `json:"namespace"`
	Field           string     `json:"field"`
	Identity        Identity   `json:"identity,omitempty"`
	Comparator      Comparator `json:"comparator"`
	ValueType       ValueType  `json:"value_type"`
	Values          []string   `json:"values"`
	IncludeChildren bool       `json:"include_children,omitempty"`
}

// Node is either a leaf (Condition set) or a group of children combined by
// Relation. An empty Relation on a group with more than one child is
// resolved to AND when the query is finalized.
type Node struct {
	Relation  Relation   `json:"relation,omitempty"`
	Children  []Node     `json:"children,omitempty"`
	Condition *Condition `json:"condition,omitempty"`
}

// Leaf wraps a single condition.
func Leaf(condition Condition) Node {
	return Node{Condition: &condition}
}

// Group combines children under relation.
func Group(relation Relation, children ...Node) Node {
	return Node{Relation: relation, Children: children}
}

func (n Node) IsLeaf() bool {
	return n.Condition != nil
}

func (n Node) IsEmpty() bool {
	return n.Condition == nil && len(n.Children) == 0
}

func (n Node) clone() Node {
	out := Node{Relation: n.Relation}
	if n.Condition != nil {
		condition := *n.Condition
		condition.Values = slices.Clone(n.Condition.Values)
		out.Condition = &condition
	}
	if len(n.Children) > 0 {
		out.Children = make([]Node, len(n.Children))
		for i, child := range n.Children {
			out.Children[i] = child.clone()
		}
	}
	return out
}

// IDConstraint restricts results to an explicit id list when Active. An
// active constraint with no ids matches nothing.
type IDConstraint struct {
	Active bool    `json:"active"`
	IDs    []int64 `json:"ids"`
}

// Impossible reports whether the constraint can never match an item.
func (c IDConstraint) Impossible() bool {
	return c.Active && len(c.IDs) == 0
}

// Intersect narrows the constraint to ids. The result is sorted and free of
// duplicates.
func (c IDConstraint) Intersect(ids []int64) IDConstraint {
	next := slices.Clone(ids)
	slices.Sort(next)
	next = slices.Compact(next)

	if !c.Active {
		return IDConstraint{Active: true, IDs: nonNil(next)}
	}

	kept := make([]int64, 0, len(next))
	for _, id := range next {
		if slices.Contains(c.IDs, id) {
			kept = append(kept, id)
		}
	}
	return IDConstraint{Active: true, IDs: kept}
}

func nonNil(ids []int64) []int64 {
	if ids == nil {
		return []int64{}
	}
	return ids
}

// Query is the backend-agnostic search request handed to a QueryExecutor.
type Query struct {
	ContentKind    string       `json:"content_kind"`
	Status         string       `json:"status,omitempty"`
	Page           int          `json:"page"`
	PerPage        int          `json:"per_page"`
	OrderBy        string       `json:"orderby,omitempty"`
	Order          string       `json:"order,omitempty"`
	Search         string       `json:"search,omitempty"`
	IncludeIDs     IDConstraint `json:"include_ids"`
	Classification Node         `json:"classification"`
	Metadata       Node         `json:"metadata"`
}

// Clone returns a deep copy so translating never mutates a caller's base
// query.
func (q Query) Clone() Query {
	out := q
	out.IncludeIDs = IDConstraint{Active: q.IncludeIDs.Active, IDs: slices.Clone(q.IncludeIDs.IDs)}
	if out.IncludeIDs.Active {
		out.IncludeIDs.IDs = nonNil(out.IncludeIDs.IDs)
	}
	out.Classification = q.Classification.clone()
	out.Metadata = q.Metadata.clone()
	return out
}

// Choice is one selectable value of a filter.
type Choice struct {
	Value  string `json:"value"`
	Label  string `json:"label"`
	Count  int    `json:"count"`
	ID     int64  `json:"id,omitempty"`
	Slug   string `json:"slug,omitempty"`
	Parent int64  `json:"parent,omitempty"`
	Color  string `json:"color,omitempty"`
	Image  string `json:"image,omitempty"`
}

// Range is returned instead of a choice list by range-style metadata filters.
type Range struct {
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
	Step float64 `json:"step"`
}

// ChoiceSet is the result of enumerating a filter. Exactly one of Choices or
// Range is meaningful; an empty set means the filter should be hidden.
type ChoiceSet struct {
	Choices []Choice `json:"choices,omitempty"`
	Range   *Range   `json:"range,omitempty"`
}

func (s ChoiceSet) IsEmpty() bool {
	return s.Range == nil && len(s.Choices) == 0
}
