package core

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode"
)

// AttributePrefix namespaces attribute classification schemes.
const AttributePrefix = "pa_"

// Config is the persisted form of a filter definition.
type Config struct {
	ID      string          `json:"id,omitempty"`
	Kind    Kind            `json:"kind"`
	Label   string          `json:"label,omitempty"`
	Source  string          `json:"source"`
	Options json.RawMessage `json:"options,omitempty"`
}

// Definition is implemented by the four filter kinds in this package and
// nowhere else. Definitions are immutable once constructed and safe to share
// between goroutines.
type Definition interface {
	ID() string
	Kind() Kind
	Label() string
	Source() string
	DisplayType() string
	ShowCount() bool
	// CacheKey identifies the definition together with every option that
	// can change its choices.
	CacheKey() string
	Choices(ctx context.Context, catalog Catalog, scope *Query) (ChoiceSet, error)

	sealed()
}

type base struct {
	id     string
	label  string
	source string
}

func (b base) ID() string     { return b.id }
func (b base) Label() string  { return b.label }
func (b base) Source() string { return b.source }
func (base) sealed()          {}

func cacheKey(kind Kind, b base, options any) string {
	encoded, err := json.Marshal(options)
	if err != nil {
		encoded = []byte(fmt.Sprintf("%#v", options))
	}
	return string(kind) + "|" + b.id + "|" + b.source + "|" + string(encoded)
}

// NewDefinition builds a definition from its persisted configuration. Errors
// wrap ErrInvalidFilterDefinition when the configuration itself is bad and
// ErrCatalogLookup when the catalog could not be asked.
func NewDefinition(ctx context.Context, lookup ClassificationLookup, cfg Config) (Definition, error) {
	kind, err := ParseKind(string(cfg.Kind))
	if err != nil {
		return nil, filterError(cfg.ID, err)
	}

	source := strings.TrimSpace(cfg.Source)
	if source == "" {
		return nil, filterError(cfg.ID, invalidDefinition("source is required"))
	}

	var def Definition
	switch kind {
	case KindClassification:
		def, err = newClassificationFilter(ctx, lookup, cfg, source)
	case KindMetadata:
		def, err = newMetadataFilter(cfg, source)
	case KindAttribute:
		def, err = newAttributeFilter(ctx, lookup, cfg, source)
	case KindVariationAttribute:
		def, err = newVariationFilter(cfg, source)
	}
	if err != nil {
		id := cfg.ID
		if id == "" {
			id = SanitizeID(source)
		}
		return nil, filterError(id, err)
	}
	return def, nil
}

func resolveID(explicit, generated string) (string, error) {
	if explicit = strings.TrimSpace(explicit); explicit != "" {
		if !ValidID(explicit) {
			return "", invalidDefinition("id %q must match [a-z0-9_]+", explicit)
		}
		return explicit, nil
	}
	if generated == "" {
		return "", invalidDefinition("cannot derive an id from the source")
	}
	return generated, nil
}

func resolveOptions(raw json.RawMessage, dst interface{ validate() error }) error {
	if err := decodeOptions(raw, dst); err != nil {
		return fmt.Errorf("%w: options: %w", ErrInvalidFilterDefinition, err)
	}
	if err := dst.validate(); err != nil {
		return fmt.Errorf("%w: options: %w", ErrInvalidFilterDefinition, err)
	}
	return nil
}

func lookupClassification(ctx context.Context, lookup ClassificationLookup, name string) (ClassificationInfo, error) {
	if lookup == nil {
		return ClassificationInfo{}, invalidDefinition("no catalog to resolve classification %q", name)
	}
	info, ok, err := lookup.Classification(ctx, name)
	if err != nil {
		return ClassificationInfo{}, catalogError("classification "+name, err)
	}
	if !ok {
		return ClassificationInfo{}, invalidDefinition("unknown classification %q", name)
	}
	return info, nil
}

// ValidID reports whether id is a bare token usable as a URL parameter
// fragment: lowercase letters, digits and underscores.
func ValidID(id string) bool {
	if id == "" {
		return false
	}
	for _, r := range id {
		if !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9') && r != '_' {
			return false
		}
	}
	return true
}

// SanitizeID derives a bare token from an arbitrary source reference.
func SanitizeID(source string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(source)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		case r == '-' || unicode.IsSpace(r):
			b.WriteByte('_')
		}
	}
	return b.String()
}

// AttributeScheme maps an attribute name to its classification scheme.
func AttributeScheme(attribute string) string {
	name := SanitizeID(attribute)
	if strings.HasPrefix(name, AttributePrefix) {
		return name
	}
	return AttributePrefix + name
}

func humanize(key string) string {
	words := strings.Fields(strings.NewReplacer("_", " ", "-", " ").Replace(key))
	label := strings.Join(words, " ")
	if label == "" {
		return key
	}
	runes := []rune(label)
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
