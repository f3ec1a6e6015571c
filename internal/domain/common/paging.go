package common

import (
	"math"
	"strconv"
	"strings"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 1000

	// DefaultBatchListLimit bounds batch listings when the caller passes no
	// usable limit.
	DefaultBatchListLimit = 20

	// maxOffset keeps (PageNumber-1)*PageSize inside a Postgres OFFSET and
	// away from int overflow.
	maxOffset = math.MaxInt32
)

// PageQuery is the caller-supplied paging, sorting and filtering input.
type PageQuery struct {
	PageNumber int
	PageSize   int
	SortBy     string
	SearchText string
}

// Normalize clamps paging values into their accepted range.
func (q PageQuery) Normalize() PageQuery {
	if q.PageNumber < 1 {
		q.PageNumber = 1
	}
	if q.PageSize < 1 {
		q.PageSize = DefaultPageSize
	}
	if q.PageSize > MaxPageSize {
		q.PageSize = MaxPageSize
	}
	if q.PageNumber-1 > maxOffset/q.PageSize {
		q.PageNumber = maxOffset/q.PageSize + 1
	}
	q.SearchText = strings.TrimSpace(q.SearchText)
	return q
}

// Offset is the row offset of the first item on the page.
func (q PageQuery) Offset() int {
	return (q.PageNumber - 1) * q.PageSize
}

// SortKey splits SortBy into a field and direction. Fields not in allowed fall
// back to fallback, descending.
func (q PageQuery) SortKey(allowed map[string]string, fallback string) (column string, desc bool) {
	field := strings.TrimSpace(strings.ToLower(q.SortBy))
	desc = strings.HasPrefix(field, "-")
	field = strings.TrimPrefix(field, "-")
	if col, ok := allowed[field]; ok {
		return col, desc
	}
	return allowed[fallback], true
}

// PageMetadata describes a returned page.
type PageMetadata struct {
	PageNumber int   `json:"pageNumber"`
	PageSize   int   `json:"pageSize"`
	TotalCount int64 `json:"totalCount"`
	TotalPages int   `json:"totalPages"`
}

// NewPageMetadata computes metadata for an already normalized query.
func NewPageMetadata(q PageQuery, total int64) PageMetadata {
	pages := 0
	if total > 0 {
		pages = int((total + int64(q.PageSize) - 1) / int64(q.PageSize))
	}
	return PageMetadata{
		PageNumber: q.PageNumber,
		PageSize:   q.PageSize,
		TotalCount: total,
		TotalPages: pages,
	}
}

// Page is a single page of items.
type Page[T any] struct {
	Items    []T          `json:"items"`
	Metadata PageMetadata `json:"metadata"`
}

// ParsePageQuery reads pageNumber, pageSize, sortBy and searchText from a
// query lookup. Unparseable numbers are treated as zero and clamped later.
func ParsePageQuery(get func(string) string) PageQuery {
	number, _ := strconv.Atoi(get("pageNumber"))
	size, _ := strconv.Atoi(get("pageSize"))
	return PageQuery{
		PageNumber: number,
		PageSize:   size,
		SortBy:     get("sortBy"),
		SearchText: get("searchText"),
	}.Normalize()
}
