// internal/datasource/bridge.go
package datasource

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/scrapeflow/api/schemas"
	"github.com/xkilldash9x/scrapeflow/internal/datastore"
)

// TableStore is the data store surface the bridge needs.
type TableStore interface {
	Describe(ctx context.Context, name string) (schemas.DataStoreTable, error)
	Select(ctx context.Context, name string, q datastore.Query) ([]schemas.Row, error)
	Insert(ctx context.Context, name string, values map[string]any) (int64, error)
	Update(ctx context.Context, name string, id int64, values map[string]any) error
	Delete(ctx context.Context, name string, id int64) error
}

// ReadOptions pages a read.
type ReadOptions struct {
	AfterID int64
	Limit   int
	Offset  int
	// OrderBy sorts by a column before id. Keyset paging over it is left
	// to the caller's filter.
	OrderBy string
}

// Bridge maps the data source aliases of one scraper to data store tables.
// The filter of a data source applies to every read through its alias.
type Bridge struct {
	store   TableStore
	sources map[string]schemas.ScraperDataSource
	logger  *zap.Logger
}

// NewBridge binds sources. Aliases must be unique.
func NewBridge(store TableStore, sources []schemas.ScraperDataSource, logger *zap.Logger) (*Bridge, error) {
	if store == nil {
		return nil, errors.New("table store cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	bound := make(map[string]schemas.ScraperDataSource, len(sources))
	for _, src := range sources {
		if src.SourceAlias == "" || src.DataStoreTableName == "" {
			return nil, schemas.NewError(schemas.KindInvalidProgram, "data source needs an alias and a table")
		}
		if strings.Contains(src.SourceAlias, ".") {
			return nil, schemas.NewError(schemas.KindInvalidProgram, "data source alias %q cannot contain '.'", src.SourceAlias)
		}
		if _, dup := bound[src.SourceAlias]; dup {
			return nil, schemas.NewError(schemas.KindInvalidProgram, "duplicate data source alias %q", src.SourceAlias)
		}
		bound[src.SourceAlias] = src
	}
	return &Bridge{store: store, sources: bound, logger: logger.Named("datasource")}, nil
}

// Aliases returns the bound aliases sorted.
func (b *Bridge) Aliases() []string {
	out := make([]string, 0, len(b.sources))
	for alias := range b.sources {
		out = append(out, alias)
	}
	sort.Strings(out)
	return out
}

func (b *Bridge) source(alias string) (schemas.ScraperDataSource, error) {
	src, ok := b.sources[alias]
	if !ok {
		return src, schemas.NewError(schemas.KindDataSourceNotFound, "no data source named %q", alias)
	}
	return src, nil
}

// Table returns the schema of the table behind alias.
func (b *Bridge) Table(ctx context.Context, alias string) (schemas.DataStoreTable, error) {
	src, err := b.source(alias)
	if err != nil {
		return schemas.DataStoreTable{}, err
	}
	table, err := b.store.Describe(ctx, src.DataStoreTableName)
	if err != nil {
		return table, b.translate(alias, err)
	}
	return table, nil
}

// ReadRows returns rows of alias matching where, in id order unless
// opts.OrderBy names a column.
func (b *Bridge) ReadRows(ctx context.Context, alias string, where *schemas.WhereSchema, opts ReadOptions) ([]schemas.Row, error) {
	return b.read(ctx, alias, where, datastore.Query{AfterID: opts.AfterID, Limit: opts.Limit, Offset: opts.Offset, OrderBy: opts.OrderBy})
}

// LastRow returns the row of alias with the highest id.
func (b *Bridge) LastRow(ctx context.Context, alias string) (schemas.Row, error) {
	rows, err := b.read(ctx, alias, nil, datastore.Query{Limit: 1, Descending: true})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, schemas.NewError(schemas.KindRowNotFound, "data source %q has no rows", alias)
	}
	return rows[0], nil
}

func (b *Bridge) read(ctx context.Context, alias string, where *schemas.WhereSchema, q datastore.Query) ([]schemas.Row, error) {
	src, err := b.source(alias)
	if err != nil {
		return nil, err
	}
	table, err := b.Table(ctx, alias)
	if err != nil {
		return nil, err
	}
	q.Where, q.Args, err = Compile(And(src.WhereSchema, where), table)
	if err != nil {
		return nil, err
	}
	rows, err := b.store.Select(ctx, src.DataStoreTableName, q)
	if err != nil {
		return nil, b.translate(alias, err)
	}
	return rows, nil
}

// WriteColumn sets one column of a row.
func (b *Bridge) WriteColumn(ctx context.Context, alias string, rowID int64, column string, value any) error {
	return b.WriteColumns(ctx, alias, rowID, map[string]any{column: value})
}

// WriteColumns sets several columns of a row in one statement.
func (b *Bridge) WriteColumns(ctx context.Context, alias string, rowID int64, values map[string]any) error {
	src, err := b.source(alias)
	if err != nil {
		return err
	}
	table, err := b.Table(ctx, alias)
	if err != nil {
		return err
	}
	coerced, err := CoerceValues(table, values, false)
	if err != nil {
		return err
	}
	if err := b.store.Update(ctx, src.DataStoreTableName, rowID, coerced); err != nil {
		return b.translate(alias, err)
	}
	b.logger.Debug("Row updated.", zap.String("alias", alias), zap.Int64("row_id", rowID), zap.Int("columns", len(values)))
	return nil
}

// InsertRow adds a row to alias and returns its id.
func (b *Bridge) InsertRow(ctx context.Context, alias string, values map[string]any) (int64, error) {
	src, err := b.source(alias)
	if err != nil {
		return 0, err
	}
	table, err := b.Table(ctx, alias)
	if err != nil {
		return 0, err
	}
	coerced, err := CoerceValues(table, values, true)
	if err != nil {
		return 0, err
	}
	id, err := b.store.Insert(ctx, src.DataStoreTableName, coerced)
	if err != nil {
		return 0, b.translate(alias, err)
	}
	b.logger.Debug("Row inserted.", zap.String("alias", alias), zap.Int64("row_id", id))
	return id, nil
}

// DeleteRow removes a row from alias.
func (b *Bridge) DeleteRow(ctx context.Context, alias string, rowID int64) error {
	src, err := b.source(alias)
	if err != nil {
		return err
	}
	if err := b.store.Delete(ctx, src.DataStoreTableName, rowID); err != nil {
		return b.translate(alias, err)
	}
	b.logger.Debug("Row deleted.", zap.String("alias", alias), zap.Int64("row_id", rowID))
	return nil
}

// translate maps data store failures onto engine error kinds.
func (b *Bridge) translate(alias string, err error) error {
	var engineErr *schemas.EngineError
	switch {
	case errors.As(err, &engineErr):
		return err
	case errors.Is(err, datastore.ErrTableNotFound):
		return schemas.WrapError(schemas.KindDataSourceNotFound, err, "data source %q", alias)
	case errors.Is(err, datastore.ErrColumnNotFound):
		return schemas.WrapError(schemas.KindColumnNotFound, err, "data source %q", alias)
	case errors.Is(err, datastore.ErrRowNotFound):
		return schemas.WrapError(schemas.KindRowNotFound, err, "data source %q", alias)
	case errors.Is(err, datastore.ErrInvalidSchema), strings.Contains(strings.ToLower(err.Error()), "constraint"):
		return schemas.WrapError(schemas.KindConstraintViolation, err, "data source %q", alias)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	}
	return fmt.Errorf("data source %q: %w", alias, err)
}
