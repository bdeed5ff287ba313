// Package urlcodec converts a selection to and from URL query parameters.
//
// Lists are written as filter_<id>=a,b with each item escaped on its own and
// a literal comma between items. Ranges are written as filter_<id>[min]=1 and
// filter_<id>[max]=9. Parameters are emitted in filter id order so equal
// selections always encode to the same string.
package urlcodec

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"

	"github.com/matt-riley/facetz/internal/core"
)

const (
	// Prefix marks a query parameter as a filter selection.
	Prefix = "filter_"

	delimiter = ","
	minSuffix = "[min]"
	maxSuffix = "[max]"
)

// ErrDelimiterInValue is returned by Encode when a list item contains the
// list delimiter and could not be decoded back to the same item.
var ErrDelimiterInValue = errors.New("selection value contains the list delimiter")

// Encode renders the non-empty entries of sel. Entries whose id is not a
// valid filter id are left out.
func Encode(sel core.Selection) (string, error) {
	active := sel.Active()

	var b strings.Builder
	write := func(key, value string) {
		if b.Len() > 0 {
			b.WriteByte('&')
		}
		b.WriteString(key)
		b.WriteByte('=')
		b.WriteString(value)
	}

	for _, id := range active.IDs() {
		if !core.ValidID(id) {
			continue
		}
		value := active[id]
		key := Prefix + id

		if value.IsRange() {
			if strings.TrimSpace(value.Range.Min) != "" {
				write(key+minSuffix, url.QueryEscape(value.Range.Min))
			}
			if strings.TrimSpace(value.Range.Max) != "" {
				write(key+maxSuffix, url.QueryEscape(value.Range.Max))
			}
			continue
		}

		items := make([]string, 0, len(value.Items))
		for _, item := range value.Items {
			if strings.TrimSpace(item) == "" {
				continue
			}
			if strings.Contains(item, delimiter) {
				return "", fmt.Errorf("%w: filter %q item %q", ErrDelimiterInValue, id, item)
			}
			items = append(items, url.QueryEscape(item))
		}
		write(key, strings.Join(items, delimiter))
	}

	return b.String(), nil
}

// Decode parses a raw query string. Malformed pairs are skipped.
func Decode(rawQuery string) core.Selection {
	values, _ := url.ParseQuery(rawQuery)
	return DecodeValues(values)
}

// DecodeValues reads the filter parameters out of already parsed values.
// Repeated list parameters are merged in order; a range wins over a list for
// the same id.
func DecodeValues(values url.Values) core.Selection {
	sel := make(core.Selection)

	keys := make([]string, 0, len(values))
	for key := range values {
		if strings.HasPrefix(key, Prefix) {
			keys = append(keys, key)
		}
	}
	slices.Sort(keys)

	for _, key := range keys {
		name := strings.TrimPrefix(key, Prefix)

		bound := ""
		switch {
		case strings.HasSuffix(name, minSuffix):
			name, bound = strings.TrimSuffix(name, minSuffix), minSuffix
		case strings.HasSuffix(name, maxSuffix):
			name, bound = strings.TrimSuffix(name, maxSuffix), maxSuffix
		}
		if !core.ValidID(name) {
			continue
		}

		current := sel[name]
		if bound != "" {
			raw := firstNonBlank(values[key])
			if raw == "" {
				continue
			}
			if current.Range == nil {
				current = core.Value{Range: &core.RangeValue{}}
			}
			if bound == minSuffix {
				current.Range.Min = raw
			} else {
				current.Range.Max = raw
			}
			sel[name] = current
			continue
		}

		if current.IsRange() {
			continue
		}
		for _, param := range values[key] {
			for _, item := range strings.Split(param, delimiter) {
				if strings.TrimSpace(item) != "" {
					current.Items = append(current.Items, item)
				}
			}
		}
		sel[name] = current
	}

	return sel.Active()
}

// Rebuild keeps every non-filter parameter of rawQuery verbatim and in order,
// then appends the encoded selection.
func Rebuild(rawQuery string, sel core.Selection) (string, error) {
	encoded, err := Encode(sel)
	if err != nil {
		return "", err
	}

	kept := make([]string, 0)
	for _, pair := range strings.Split(rawQuery, "&") {
		if pair == "" {
			continue
		}
		key, _, _ := strings.Cut(pair, "=")
		if unescaped, err := url.QueryUnescape(key); err == nil {
			key = unescaped
		}
		if strings.HasPrefix(key, Prefix) {
			continue
		}
		kept = append(kept, pair)
	}
	if encoded != "" {
		kept = append(kept, encoded)
	}

	return strings.Join(kept, "&"), nil
}

// SplitList reads a comma separated parameter such as filters=a,b.
func SplitList(raw string) []string {
	out := make([]string, 0)
	for _, item := range strings.Split(raw, delimiter) {
		if item = strings.TrimSpace(item); item != "" && !slices.Contains(out, item) {
			out = append(out, item)
		}
	}
	return out
}

func firstNonBlank(values []string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
