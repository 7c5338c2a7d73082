// internal/datastore/rows.go
package datastore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/xkilldash9x/scrapeflow/api/schemas"
)

// Query narrows a Select. Where is a SQL boolean expression with `?`
// placeholders bound to Args; it must only reference validated columns.
type Query struct {
	Where string
	Args  []any
	// AfterID restricts the result to rows with a larger id (keyset paging).
	AfterID    int64
	Limit      int
	Offset     int
	Descending bool
	// OrderBy sorts by a column first, with id as the tie breaker.
	OrderBy string
}

// Select returns rows ordered by id.
func (s *Store) Select(ctx context.Context, tableName string, q Query) ([]schemas.Row, error) {
	table, err := s.Describe(ctx, tableName)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(table.Columns)+1)
	names = append(names, quoteIdent(schemas.IDColumn))
	for _, c := range table.Columns {
		names = append(names, quoteIdent(c.Name))
	}

	var stmt strings.Builder
	fmt.Fprintf(&stmt, "SELECT %s FROM %s", strings.Join(names, ", "), quoteIdent(table.Name))
	where, args := q.conditions()
	if where != "" {
		stmt.WriteString(" WHERE ")
		stmt.WriteString(where)
	}
	direction := ""
	if q.Descending {
		direction = " DESC"
	}
	stmt.WriteString(" ORDER BY ")
	if q.OrderBy != "" && q.OrderBy != schemas.IDColumn {
		if _, ok := table.Column(q.OrderBy); !ok {
			return nil, fmt.Errorf("%w: %s.%s", ErrColumnNotFound, table.Name, q.OrderBy)
		}
		stmt.WriteString(quoteIdent(q.OrderBy) + direction + ", ")
	}
	stmt.WriteString("id" + direction)
	if q.Limit > 0 || q.Offset > 0 {
		limit := q.Limit
		if limit <= 0 {
			limit = -1
		}
		stmt.WriteString(" LIMIT ? OFFSET ?")
		args = append(args, limit, q.Offset)
	}

	rows, err := s.db.QueryContext(ctx, stmt.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query table %q: %w", table.Name, err)
	}
	defer rows.Close()

	var out []schemas.Row
	for rows.Next() {
		raw := make([]any, len(names))
		ptrs := make([]any, len(names))
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row of %q: %w", table.Name, err)
		}
		row := schemas.Row{schemas.IDColumn: decodeValue(schemas.ColumnInteger, raw[0])}
		for i, c := range table.Columns {
			row[c.Name] = decodeValue(c.Type, raw[i+1])
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (q Query) conditions() (string, []any) {
	var parts []string
	var args []any
	if strings.TrimSpace(q.Where) != "" {
		parts = append(parts, "("+q.Where+")")
		args = append(args, q.Args...)
	}
	if q.AfterID > 0 {
		parts = append(parts, "id > ?")
		args = append(args, q.AfterID)
	}
	return strings.Join(parts, " AND "), args
}

// Count returns the number of rows matching where.
func (s *Store) Count(ctx context.Context, tableName, where string, args ...any) (int64, error) {
	table, err := s.Describe(ctx, tableName)
	if err != nil {
		return 0, err
	}
	stmt := "SELECT COUNT(*) FROM " + quoteIdent(table.Name)
	if strings.TrimSpace(where) != "" {
		stmt += " WHERE (" + where + ")"
	}
	var n int64
	if err := s.db.QueryRowContext(ctx, stmt, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count rows of %q: %w", table.Name, err)
	}
	return n, nil
}

// Get returns the row with the given id.
func (s *Store) Get(ctx context.Context, tableName string, id int64) (schemas.Row, error) {
	rows, err := s.Select(ctx, tableName, Query{Where: "id = ?", Args: []any{id}, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: %s #%d", ErrRowNotFound, tableName, id)
	}
	return rows[0], nil
}

// Last returns the row with the highest id.
func (s *Store) Last(ctx context.Context, tableName string) (schemas.Row, error) {
	rows, err := s.Select(ctx, tableName, Query{Limit: 1, Descending: true})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: %s is empty", ErrRowNotFound, tableName)
	}
	return rows[0], nil
}

// Insert adds a row and returns its id.
func (s *Store) Insert(ctx context.Context, tableName string, values map[string]any) (int64, error) {
	table, err := s.Describe(ctx, tableName)
	if err != nil {
		return 0, err
	}
	columns, err := checkColumns(table, values)
	if err != nil {
		return 0, err
	}

	var stmt string
	args := make([]any, 0, len(columns))
	if len(columns) == 0 {
		stmt = "INSERT INTO " + quoteIdent(table.Name) + " DEFAULT VALUES"
	} else {
		quoted := make([]string, len(columns))
		marks := make([]string, len(columns))
		for i, c := range columns {
			quoted[i] = quoteIdent(c)
			marks[i] = "?"
			args = append(args, encodeValue(values[c]))
		}
		stmt = fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", quoteIdent(table.Name), strings.Join(quoted, ", "), strings.Join(marks, ", "))
	}

	res, err := s.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to insert into %q: %w", table.Name, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read inserted id: %w", err)
	}
	return id, nil
}

// Update sets columns of the row with the given id.
func (s *Store) Update(ctx context.Context, tableName string, id int64, values map[string]any) error {
	table, err := s.Describe(ctx, tableName)
	if err != nil {
		return err
	}
	columns, err := checkColumns(table, values)
	if err != nil {
		return err
	}
	if len(columns) == 0 {
		return nil
	}

	sets := make([]string, len(columns))
	args := make([]any, 0, len(columns)+1)
	for i, c := range columns {
		sets[i] = quoteIdent(c) + " = ?"
		args = append(args, encodeValue(values[c]))
	}
	args = append(args, id)
	stmt := fmt.Sprintf("UPDATE %s SET %s WHERE id = ?", quoteIdent(table.Name), strings.Join(sets, ", "))

	res, err := s.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("failed to update %q: %w", table.Name, err)
	}
	return requireAffected(res, table.Name, id)
}

// Delete removes the row with the given id.
func (s *Store) Delete(ctx context.Context, tableName string, id int64) error {
	table, err := s.Describe(ctx, tableName)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, "DELETE FROM "+quoteIdent(table.Name)+" WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete from %q: %w", table.Name, err)
	}
	return requireAffected(res, table.Name, id)
}

func requireAffected(res sql.Result, table string, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s #%d", ErrRowNotFound, table, id)
	}
	return nil
}

// checkColumns validates the keys of values against the table and returns
// them sorted.
func checkColumns(table schemas.DataStoreTable, values map[string]any) ([]string, error) {
	columns := make([]string, 0, len(values))
	for name := range values {
		if name == schemas.IDColumn {
			return nil, fmt.Errorf("%w: column %q is not writable", ErrInvalidSchema, name)
		}
		if _, ok := table.Column(name); !ok {
			return nil, fmt.Errorf("%w: %s.%s", ErrColumnNotFound, table.Name, name)
		}
		columns = append(columns, name)
	}
	sort.Strings(columns)
	return columns, nil
}

// -- Value encoding --

// encodeValue converts a coerced value into its storage form.
func encodeValue(v any) any {
	switch t := v.(type) {
	case bool:
		if t {
			return int64(1)
		}
		return int64(0)
	case time.Time:
		return t.UnixMilli()
	case int:
		return int64(t)
	case int32:
		return int64(t)
	case float32:
		return float64(t)
	}
	return v
}

// decodeValue converts a scanned driver value into the Go form of typ.
func decodeValue(typ schemas.ColumnType, v any) any {
	if v == nil {
		return nil
	}
	if b, ok := v.([]byte); ok && typ != schemas.ColumnBlob {
		v = string(b)
	}
	switch typ {
	case schemas.ColumnInteger, schemas.ColumnTimestamp:
		switch t := v.(type) {
		case int64:
			return t
		case float64:
			return int64(t)
		case string:
			if n, err := strconv.ParseInt(t, 10, 64); err == nil {
				return n
			}
			if f, err := strconv.ParseFloat(t, 64); err == nil {
				return int64(f)
			}
			return t
		}
	case schemas.ColumnReal:
		switch t := v.(type) {
		case int64:
			return float64(t)
		case string:
			if f, err := strconv.ParseFloat(t, 64); err == nil {
				return f
			}
		}
	case schemas.ColumnNumeric:
		switch t := v.(type) {
		case float64:
			if t == math.Trunc(t) && math.Abs(t) < 1<<53 {
				return int64(t)
			}
		case string:
			if n, err := strconv.ParseInt(t, 10, 64); err == nil {
				return n
			}
			if f, err := strconv.ParseFloat(t, 64); err == nil {
				return f
			}
		}
	case schemas.ColumnBoolean:
		switch t := v.(type) {
		case int64:
			return t != 0
		case float64:
			return t != 0
		case bool:
			return t
		case string:
			b, err := strconv.ParseBool(t)
			if err == nil {
				return b
			}
		}
	case schemas.ColumnText:
		switch t := v.(type) {
		case int64:
			return strconv.FormatInt(t, 10)
		case float64:
			return strconv.FormatFloat(t, 'f', -1, 64)
		}
	}
	return v
}

// IsNotFound reports whether err means a missing table or row.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrTableNotFound) || errors.Is(err, ErrRowNotFound)
}
