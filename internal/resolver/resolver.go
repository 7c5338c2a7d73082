// internal/resolver/resolver.go
package resolver

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/scrapeflow/api/schemas"
	"github.com/xkilldash9x/scrapeflow/internal/iterator"
	"github.com/xkilldash9x/scrapeflow/internal/selector"
)

// DataReader gives the resolver read access to data sources.
// *datasource.Bridge implements it.
type DataReader interface {
	LastRow(ctx context.Context, alias string) (schemas.Row, error)
	Table(ctx context.Context, alias string) (schemas.DataStoreTable, error)
}

// PageProvider returns the page at an index, opening it on first reference.
// schemas.BrowserSession implements it.
type PageProvider interface {
	Page(ctx context.Context, index int) (schemas.Page, error)
}

// Scope is what a value or condition is resolved against during one iteration.
type Scope struct {
	// Row is the iteration row; nil when the scraper runs without an iterator.
	Row   *iterator.RowContext
	Pages PageProvider
}

// Resolver resolves scraper values, element selectors and conditions.
type Resolver struct {
	finder *selector.Finder
	data   DataReader
	opts   selector.Options
	logger *zap.Logger
	now    func() time.Time
}

// New creates a Resolver. data may be nil for scrapers without data sources.
// A zero opts.Timeout uses the default timeout of the page being searched.
func New(finder *selector.Finder, data DataReader, opts selector.Options, logger *zap.Logger) (*Resolver, error) {
	if finder == nil {
		return nil, errors.New("finder cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		finder: finder,
		data:   data,
		opts:   opts,
		logger: logger.Named("resolver"),
		now:    time.Now,
	}, nil
}

// Matcher returns the literal-or-regex matcher shared with the finder.
func (r *Resolver) Matcher() *selector.Matcher { return r.finder.Matcher() }

// ResolveElement finds the first element matching selectors, searching the
// main frame and then child frames until the timeout elapses.
func (r *Resolver) ResolveElement(ctx context.Context, page schemas.Page, selectors []schemas.ElementSelector) (schemas.Element, error) {
	return r.resolveElement(ctx, page, selectors, 0)
}

// ProbeElement is ResolveElement with an explicit total timeout.
func (r *Resolver) ProbeElement(ctx context.Context, page schemas.Page, selectors []schemas.ElementSelector, timeout time.Duration) (schemas.Element, error) {
	return r.resolveElement(ctx, page, selectors, timeout)
}

func (r *Resolver) resolveElement(ctx context.Context, page schemas.Page, selectors []schemas.ElementSelector, timeout time.Duration) (schemas.Element, error) {
	opts := r.opts
	switch {
	case timeout > 0:
		opts.Timeout = timeout
	case opts.Timeout <= 0:
		opts.Timeout = page.DefaultTimeout()
	}
	if opts.FrameTimeout > opts.Timeout {
		opts.FrameTimeout = opts.Timeout
	}
	return r.finder.Find(ctx, page, selectors, opts)
}

// ResolveValue evaluates v to a scalar: string, int64, float64, bool or nil.
func (r *Resolver) ResolveValue(ctx context.Context, scope Scope, v schemas.ScraperValue) (any, error) {
	switch v.Type {
	case schemas.ValueLiteral:
		return v.Value, nil
	case schemas.ValueCurrentTimestamp:
		return r.now().UnixMilli(), nil
	case schemas.ValueExternalData:
		return r.externalData(ctx, scope, v)
	case schemas.ValueElementTextContent, schemas.ValueElementAttribute:
		return r.elementValue(ctx, scope, v)
	}
	return nil, schemas.NewError(schemas.KindInvalidProgram, "unknown value type %q", v.Type)
}

// externalData reads alias.column from the iteration row. Without a row of
// that alias the last row of the data source is read instead.
func (r *Resolver) externalData(ctx context.Context, scope Scope, v schemas.ScraperValue) (any, error) {
	alias, column, err := SplitDataKey(v.DataKey)
	if err != nil {
		return nil, err
	}

	var row schemas.Row
	if scope.Row != nil && scope.Row.Alias == alias {
		row = scope.Row.Row
	} else {
		if r.data == nil {
			return nil, schemas.NewError(schemas.KindDataKeyNotFound, "no data source named %q", alias)
		}
		row, err = r.data.LastRow(ctx, alias)
		switch {
		case errors.Is(err, schemas.ErrRowNotFound):
			// An empty data source resolves like a NULL cell once the column is known.
			if _, terr := r.column(ctx, alias, column); terr != nil {
				return nil, terr
			}
			return v.DefaultValue, nil
		case errors.Is(err, schemas.ErrDataSourceNotFound):
			return nil, schemas.WrapError(schemas.KindDataKeyNotFound, err, "data key %q", v.DataKey)
		case err != nil:
			return nil, err
		}
	}

	cell, ok := row[column]
	if !ok {
		return nil, schemas.NewError(schemas.KindDataKeyNotFound, "data source %q has no column %q", alias, column)
	}
	if cell == nil {
		return v.DefaultValue, nil
	}
	return cell, nil
}

func (r *Resolver) column(ctx context.Context, alias, column string) (schemas.DataStoreColumn, error) {
	if column == schemas.IDColumn {
		return schemas.DataStoreColumn{Name: column, Type: schemas.ColumnInteger}, nil
	}
	table, err := r.data.Table(ctx, alias)
	if err != nil {
		if errors.Is(err, schemas.ErrDataSourceNotFound) {
			return schemas.DataStoreColumn{}, schemas.WrapError(schemas.KindDataKeyNotFound, err, "data key %s.%s", alias, column)
		}
		return schemas.DataStoreColumn{}, err
	}
	col, ok := table.Column(column)
	if !ok {
		return col, schemas.NewError(schemas.KindDataKeyNotFound, "data source %q has no column %q", alias, column)
	}
	return col, nil
}

// elementValue reads the text content or an attribute of an element. Empty
// text and missing attributes resolve to nil.
func (r *Resolver) elementValue(ctx context.Context, scope Scope, v schemas.ScraperValue) (any, error) {
	page, err := r.page(ctx, scope, v.PageIndex)
	if err != nil {
		return nil, err
	}
	el, err := r.ResolveElement(ctx, page, v.Selectors)
	if err != nil {
		return nil, err
	}

	if v.Type == schemas.ValueElementTextContent {
		text, err := el.TextContent(ctx)
		if err != nil {
			return nil, schemas.WrapError(schemas.KindInternal, err, "failed to read text of %s", selector.Describe(v.Selectors))
		}
		if text == "" {
			return nil, nil
		}
		return text, nil
	}

	if v.AttributeName == "" {
		return nil, schemas.NewError(schemas.KindInvalidProgram, "elementAttribute value without attributeName")
	}
	attr, err := el.Attribute(ctx, v.AttributeName)
	if err != nil {
		return nil, schemas.WrapError(schemas.KindInternal, err, "failed to read attribute %q", v.AttributeName)
	}
	if attr == nil || *attr == "" {
		return nil, nil
	}
	return *attr, nil
}

func (r *Resolver) page(ctx context.Context, scope Scope, index int) (schemas.Page, error) {
	if scope.Pages == nil {
		return nil, schemas.NewError(schemas.KindInternal, "no browser session for page %d", index)
	}
	return scope.Pages.Page(ctx, index)
}

// SplitDataKey splits "alias.column". Aliases never contain a dot, so the
// first dot separates the parts.
func SplitDataKey(key string) (alias, column string, err error) {
	alias, column, ok := strings.Cut(key, ".")
	if !ok || alias == "" || column == "" {
		return "", "", schemas.NewError(schemas.KindDataKeyNotFound, "malformed data key %q", key)
	}
	return alias, column, nil
}

// Stringify renders a resolved scalar the way it is typed into a page or
// compared as text. nil renders as "".
func Stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case int64:
		return strconv.FormatInt(t, 10)
	case int:
		return strconv.Itoa(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case []byte:
		return string(t)
	case time.Time:
		return t.Format(time.RFC3339)
	}
	return fmt.Sprint(v)
}
