// internal/datastore/tables.go
package datastore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scrapeflow/api/schemas"
)

var sqlTypes = map[schemas.ColumnType]string{
	schemas.ColumnText:      "TEXT",
	schemas.ColumnInteger:   "INTEGER",
	schemas.ColumnReal:      "REAL",
	schemas.ColumnNumeric:   "NUMERIC",
	schemas.ColumnBoolean:   "INTEGER",
	schemas.ColumnTimestamp: "INTEGER",
	schemas.ColumnBlob:      "BLOB",
}

// ValidateTable checks names and column types of a table definition.
func ValidateTable(table schemas.DataStoreTable) error {
	if strings.TrimSpace(table.Name) == "" {
		return fmt.Errorf("%w: table name is empty", ErrInvalidSchema)
	}
	if strings.EqualFold(table.Name, metaTable) || strings.HasPrefix(strings.ToLower(table.Name), "sqlite_") {
		return fmt.Errorf("%w: table name %q is reserved", ErrInvalidSchema, table.Name)
	}
	seen := make(map[string]bool, len(table.Columns))
	for _, c := range table.Columns {
		key := strings.ToLower(c.Name)
		switch {
		case strings.TrimSpace(c.Name) == "":
			return fmt.Errorf("%w: column name is empty", ErrInvalidSchema)
		case key == schemas.IDColumn:
			return fmt.Errorf("%w: column %q is reserved", ErrInvalidSchema, c.Name)
		case seen[key]:
			return fmt.Errorf("%w: duplicate column %q", ErrInvalidSchema, c.Name)
		}
		if _, ok := sqlTypes[c.Type]; !ok {
			return fmt.Errorf("%w: column %q has unknown type %q", ErrInvalidSchema, c.Name, c.Type)
		}
		seen[key] = true
	}
	return nil
}

// CreateTable creates a typed table and records its schema.
func (s *Store) CreateTable(ctx context.Context, table schemas.DataStoreTable) error {
	if err := ValidateTable(table); err != nil {
		return err
	}
	columns, err := json.Marshal(table.Columns)
	if err != nil {
		return fmt.Errorf("failed to encode columns: %w", err)
	}

	var ddl strings.Builder
	ddl.WriteString("CREATE TABLE ")
	ddl.WriteString(quoteIdent(table.Name))
	ddl.WriteString(" (id INTEGER PRIMARY KEY AUTOINCREMENT")
	for _, c := range table.Columns {
		fmt.Fprintf(&ddl, ", %s %s", quoteIdent(c.Name), sqlTypes[c.Type])
		if c.NotNull {
			ddl.WriteString(" NOT NULL")
		}
	}
	ddl.WriteString(")")

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(); rollbackErr != nil && !errors.Is(rollbackErr, sql.ErrTxDone) {
			s.log.Error("Failed to rollback transaction.", zap.Error(rollbackErr))
		}
	}()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+metaTable+` WHERE name = ?`, table.Name).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check table %q: %w", table.Name, err)
	}
	if exists > 0 {
		return fmt.Errorf("%w: %s", ErrTableExists, table.Name)
	}
	if _, err := tx.ExecContext(ctx, ddl.String()); err != nil {
		return fmt.Errorf("failed to create table %q: %w", table.Name, err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO `+metaTable+` (name, columns, created_at) VALUES (?, ?, ?)`,
		table.Name, string(columns), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to record table %q: %w", table.Name, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	s.tables.Add(table.Name, table)
	s.log.Info("Table created.", zap.String("table", table.Name), zap.Int("columns", len(table.Columns)))
	return nil
}

// DropTable removes a table and its rows.
func (s *Store) DropTable(ctx context.Context, name string) error {
	if _, err := s.Describe(ctx, name); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(); rollbackErr != nil && !errors.Is(rollbackErr, sql.ErrTxDone) {
			s.log.Error("Failed to rollback transaction.", zap.Error(rollbackErr))
		}
	}()
	if _, err := tx.ExecContext(ctx, `DROP TABLE IF EXISTS `+quoteIdent(name)); err != nil {
		return fmt.Errorf("failed to drop table %q: %w", name, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM `+metaTable+` WHERE name = ?`, name); err != nil {
		return fmt.Errorf("failed to forget table %q: %w", name, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	s.tables.Remove(name)
	s.log.Info("Table dropped.", zap.String("table", name))
	return nil
}

// Describe returns the schema of a table.
func (s *Store) Describe(ctx context.Context, name string) (schemas.DataStoreTable, error) {
	if table, ok := s.tables.Get(name); ok {
		return table, nil
	}
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT columns FROM `+metaTable+` WHERE name = ?`, name).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return schemas.DataStoreTable{}, fmt.Errorf("%w: %s", ErrTableNotFound, name)
	}
	if err != nil {
		return schemas.DataStoreTable{}, fmt.Errorf("failed to describe table %q: %w", name, err)
	}
	table := schemas.DataStoreTable{Name: name}
	if err := json.Unmarshal([]byte(raw), &table.Columns); err != nil {
		return schemas.DataStoreTable{}, fmt.Errorf("corrupt schema of table %q: %w", name, err)
	}
	s.tables.Add(name, table)
	return table, nil
}

// ListTables returns every table sorted by name.
func (s *Store) ListTables(ctx context.Context) ([]schemas.DataStoreTable, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, columns FROM `+metaTable)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	defer rows.Close()

	var tables []schemas.DataStoreTable
	for rows.Next() {
		var name, raw string
		if err := rows.Scan(&name, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan table: %w", err)
		}
		table := schemas.DataStoreTable{Name: name}
		if err := json.Unmarshal([]byte(raw), &table.Columns); err != nil {
			return nil, fmt.Errorf("corrupt schema of table %q: %w", name, err)
		}
		tables = append(tables, table)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Slice(tables, func(i, j int) bool { return tables[i].Name < tables[j].Name })
	return tables, nil
}
