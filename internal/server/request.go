package server

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/matt-riley/facetz/internal/service"
	"github.com/matt-riley/facetz/internal/urlcodec"
)

// Query parameters understood next to the filter_ selection parameters.
const (
	paramPage    = "page"
	paramPerPage = "per_page"
	paramOrderBy = "orderby"
	paramOrder   = "order"
	paramSearch  = "s"
	paramFilters = "filters"
	paramExclude = "exclude"
)

// parseRequest reads a service request for contentKind out of a raw query
// string. Malformed pairs are skipped and malformed filter values are left to
// the engine to drop; only the paging and ordering parameters are rejected
// here.
func parseRequest(contentKind, rawQuery string) (service.Request, error) {
	// ParseQuery keeps every well-formed pair alongside the first error.
	values, _ := url.ParseQuery(rawQuery)

	page, err := optionalPositiveInt(values, paramPage)
	if err != nil {
		return service.Request{}, err
	}
	perPage, err := optionalPositiveInt(values, paramPerPage)
	if err != nil {
		return service.Request{}, err
	}

	order := strings.ToUpper(strings.TrimSpace(values.Get(paramOrder)))
	if order != "" && order != "ASC" && order != "DESC" {
		return service.Request{}, fmt.Errorf("%w: order must be asc or desc", service.ErrInvalidRequest)
	}

	return service.Request{
		ContentKind: strings.TrimSpace(contentKind),
		Selection:   urlcodec.DecodeValues(values),
		Include:     urlcodec.SplitList(values.Get(paramFilters)),
		Exclude:     urlcodec.SplitList(values.Get(paramExclude)),
		Page:        page,
		PerPage:     perPage,
		OrderBy:     strings.TrimSpace(values.Get(paramOrderBy)),
		Order:       order,
		Search:      strings.TrimSpace(values.Get(paramSearch)),
		RawQuery:    rawQuery,
	}, nil
}

func optionalPositiveInt(values url.Values, key string) (int, error) {
	raw := strings.TrimSpace(values.Get(key))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: %s must be a positive integer", service.ErrInvalidRequest, key)
	}
	return n, nil
}
