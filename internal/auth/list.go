package auth

import (
	"math"
	"slices"
	"strings"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
	// MaxOffset bounds (Page-1)*PageSize so it fits a 32-bit OFFSET.
	MaxOffset = math.MaxInt32
)

// Sort keys accepted by each list endpoint. The first entry is the default.
var (
	PermissionSortKeys = []string{"name", "display_name"}
	RoleSortKeys       = []string{"name", "created_at", "updated_at"}
	UserSortKeys       = []string{"username", "email", "created_at", "updated_at"}
)

// ListQuery describes pagination, search and sort for list operations.
type ListQuery struct {
	Page     int
	PageSize int
	Search   string
	SortBy   string
	SortDesc bool
}

// Offset is the number of rows to skip. It saturates instead of overflowing.
func (q ListQuery) Offset() int {
	if q.Page <= 1 || q.PageSize <= 0 {
		return 0
	}
	if q.Page-1 > math.MaxInt/q.PageSize {
		return math.MaxInt
	}
	return (q.Page - 1) * q.PageSize
}

// Normalize applies defaults and validates the sort key against allowed.
func (q ListQuery) Normalize(allowed []string) (ListQuery, error) {
	if q.Page < 1 {
		q.Page = 1
	}
	switch {
	case q.PageSize <= 0:
		q.PageSize = DefaultPageSize
	case q.PageSize > MaxPageSize:
		q.PageSize = MaxPageSize
	}
	if q.Page-1 > MaxOffset/q.PageSize {
		return ListQuery{}, invalidInput("page %d is out of range", q.Page)
	}
	q.Search = strings.TrimSpace(q.Search)
	q.SortBy = strings.ToLower(strings.TrimSpace(q.SortBy))
	if q.SortBy == "" && len(allowed) > 0 {
		q.SortBy = allowed[0]
	}
	if !slices.Contains(allowed, q.SortBy) {
		return ListQuery{}, invalidInput("unsupported sort key %q", q.SortBy)
	}
	return q, nil
}

// Page is one page of a list result.
type Page[T any] struct {
	Items    []T `json:"items"`
	Total    int `json:"total"`
	Page     int `json:"page"`
	PageSize int `json:"page_size"`
}

// NewPage builds a page, never returning a nil item slice.
func NewPage[T any](items []T, total int, q ListQuery) Page[T] {
	if items == nil {
		items = []T{}
	}
	return Page[T]{Items: items, Total: total, Page: q.Page, PageSize: q.PageSize}
}
