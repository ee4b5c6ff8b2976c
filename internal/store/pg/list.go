package pg

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/ma496/EasyForNet-sub002/internal/auth"
)

// listSpec describes how one table is searched and sorted.
type listSpec struct {
	table   string
	columns string
	search  []string
	sort    map[string]string
}

// likePattern escapes LIKE metacharacters and wraps s for substring search.
func likePattern(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(s) + "%"
}

// build returns the count and page queries for q. Sort columns come from
// l.sort only.
func (l listSpec) build(q auth.ListQuery) (countSQL, pageSQL string, args []any, err error) {
	col, ok := l.sort[q.SortBy]
	if !ok {
		return "", "", nil, fmt.Errorf("%w: unsupported sort key %q", auth.ErrInvalidInput, q.SortBy)
	}
	var where string
	if q.Search != "" && len(l.search) > 0 {
		conds := make([]string, 0, len(l.search))
		for _, c := range l.search {
			conds = append(conds, c+" ilike $1")
		}
		where = " where (" + strings.Join(conds, " or ") + ")"
		args = append(args, likePattern(q.Search))
	}
	dir := "asc"
	if q.SortDesc {
		dir = "desc"
	}
	countSQL = "select count(*) from " + l.table + where
	pageSQL = fmt.Sprintf("select %s from %s%s order by %s %s, id %s limit $%d offset $%d",
		l.columns, l.table, where, col, dir, dir, len(args)+1, len(args)+2)
	return countSQL, pageSQL, args, nil
}

// list runs the count and page queries for l and decodes rows with scan.
func list[T any](ctx context.Context, db *sql.DB, l listSpec, q auth.ListQuery, scan func(rowScanner) (T, error)) (auth.Page[T], error) {
	countSQL, pageSQL, args, err := l.build(q)
	if err != nil {
		return auth.Page[T]{}, err
	}
	var total int
	if err := db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return auth.Page[T]{}, err
	}
	rows, err := db.QueryContext(ctx, pageSQL, append(args, q.PageSize, q.Offset())...)
	if err != nil {
		return auth.Page[T]{}, err
	}
	defer rows.Close()
	items := make([]T, 0, q.PageSize)
	for rows.Next() {
		item, err := scan(rows)
		if err != nil {
			return auth.Page[T]{}, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return auth.Page[T]{}, err
	}
	return auth.NewPage(items, total, q), nil
}

// collect decodes every row of a plain query.
func collect[T any](rows *sql.Rows, scan func(rowScanner) (T, error)) ([]T, error) {
	defer rows.Close()
	var out []T
	for rows.Next() {
		item, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}
