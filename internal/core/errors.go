package core

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidFilterDefinition = errors.New("invalid filter definition")
	ErrUnknownOption           = errors.New("unknown option")
	ErrMalformedSelectionValue = errors.New("malformed selection value")
	ErrAmbiguousRangeSelection = errors.New("ambiguous range selection")
	ErrCatalogLookup           = errors.New("catalog lookup failed")
)

// FilterError ties a failure to the filter that produced it.
type FilterError struct {
	FilterID string
	Err      error
}

func (e *FilterError) Error() string {
	return fmt.Sprintf("filter %q: %v", e.FilterID, e.Err)
}

func (e *FilterError) Unwrap() error {
	return e.Err
}

func filterError(id string, err error) error {
	if err == nil {
		return nil
	}
	return &FilterError{FilterID: id, Err: err}
}

func catalogError(operation string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrCatalogLookup, operation, err)
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedSelectionValue, fmt.Sprintf(format, args...))
}

func invalidDefinition(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidFilterDefinition, fmt.Sprintf(format, args...))
}
