// Package pagination parses limit/offset paging parameters from query strings.
package pagination

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

const (
	// DefaultLimit applies when the client omits limit.
	DefaultLimit = 20
	// DefaultMaxLimit caps limit.
	DefaultMaxLimit = 100
	// DefaultMaxOffset bounds how deep a client may page.
	DefaultMaxOffset = 10000
)

var (
	ErrInvalidLimit  = errors.New("pagination: invalid limit")
	ErrInvalidOffset = errors.New("pagination: invalid offset")
)

// Params is a parsed page window.
type Params struct {
	Limit  int
	Offset int
}

// Options bound the accepted window. Zero values take the package defaults.
type Options struct {
	DefaultLimit int
	MaxLimit     int
	MaxOffset    int
}

// Parse reads limit and offset. An oversized limit is clamped; a non-numeric or negative value is
// an error, as is an offset beyond MaxOffset.
func Parse(values url.Values, opts Options) (Params, error) {
	maxLimit := opts.MaxLimit
	if maxLimit <= 0 {
		maxLimit = DefaultMaxLimit
	}
	limit := opts.DefaultLimit
	if limit <= 0 {
		limit = DefaultLimit
	}
	limit = min(limit, maxLimit)
	maxOffset := opts.MaxOffset
	if maxOffset <= 0 {
		maxOffset = DefaultMaxOffset
	}

	params := Params{Limit: limit}
	if raw := strings.TrimSpace(values.Get("limit")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil {
			return Params{}, fmt.Errorf("%w: must be an integer", ErrInvalidLimit)
		}
		if value <= 0 {
			return Params{}, fmt.Errorf("%w: must be greater than zero", ErrInvalidLimit)
		}
		params.Limit = min(value, maxLimit)
	}
	if raw := strings.TrimSpace(values.Get("offset")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil {
			return Params{}, fmt.Errorf("%w: must be an integer", ErrInvalidOffset)
		}
		if value < 0 {
			return Params{}, fmt.Errorf("%w: must not be negative", ErrInvalidOffset)
		}
		if value > maxOffset {
			return Params{}, fmt.Errorf("%w: must not exceed %d", ErrInvalidOffset, maxOffset)
		}
		params.Offset = value
	}
	return params, nil
}
