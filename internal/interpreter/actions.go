// internal/interpreter/actions.go
package interpreter

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/scrapeflow/api/schemas"
	"github.com/xkilldash9x/scrapeflow/internal/datasource"
	"github.com/xkilldash9x/scrapeflow/internal/resolver"
	"github.com/xkilldash9x/scrapeflow/internal/selector"
)

// -- Page Actions --

func (it *iteration) pageAction(a *schemas.PageAction) error {
	if it.session == nil {
		return schemas.NewError(schemas.KindInternal, "no browser session")
	}
	page, err := it.session.Page(it.ctx, a.PageIndex)
	if err != nil {
		return asEngineError(schemas.KindInternal, err, "failed to open page %d", a.PageIndex)
	}
	it.page = page
	ctx := it.ctx

	switch a.Type {
	case schemas.PageActionNavigate:
		if err := page.Navigate(ctx, a.URL); err != nil {
			return asEngineError(schemas.KindNavigation, err, "failed to navigate to %s", a.URL)
		}
		return nil

	case schemas.PageActionWait:
		return sleep(ctx, a.Duration.Std())

	case schemas.PageActionClick:
		el, err := it.in.resolver.ResolveElement(ctx, page, a.Selectors)
		if err != nil {
			return err
		}
		opts := schemas.ClickOptions{Humanized: a.UseGhostCursor}
		return it.withNavigation(page, a, func(ctx context.Context) error {
			if err := page.Click(ctx, el, opts); err != nil {
				return asEngineError(schemas.KindInternal, err, "failed to click %s", selector.Describe(a.Selectors))
			}
			return nil
		})

	case schemas.PageActionType_:
		el, err := it.in.resolver.ResolveElement(ctx, page, a.Selectors)
		if err != nil {
			return err
		}
		v, err := it.value(*a.Value)
		if err != nil {
			return err
		}
		text := resolver.Stringify(v)
		opts := schemas.TypeOptions{Clear: a.ClearBeforeType, PressEnter: a.PressEnter, Humanized: a.UseGhostCursor}
		return it.withNavigation(page, a, func(ctx context.Context) error {
			if err := page.Type(ctx, el, text, opts); err != nil {
				return asEngineError(schemas.KindInternal, err, "failed to type into %s", selector.Describe(a.Selectors))
			}
			return nil
		})

	case schemas.PageActionSelect:
		el, err := it.in.resolver.ResolveElement(ctx, page, a.Selectors)
		if err != nil {
			return err
		}
		v, err := it.value(*a.Value)
		if err != nil {
			return err
		}
		value := resolver.Stringify(v)
		ok, err := page.SelectOption(ctx, el, value)
		if err != nil {
			return asEngineError(schemas.KindInternal, err, "failed to select %q", value)
		}
		if !ok {
			return schemas.NewError(schemas.KindOptionNotSelected, "no option %q in %s", value, selector.Describe(a.Selectors))
		}
		return nil

	case schemas.PageActionScrollToTop:
		return asEngineError(schemas.KindInternal, page.ScrollToTop(ctx), "failed to scroll to top")

	case schemas.PageActionScrollToBottom:
		return asEngineError(schemas.KindInternal, page.ScrollToBottom(ctx), "failed to scroll to bottom")

	case schemas.PageActionCheckError:
		return it.checkError(page, a)

	case schemas.PageActionScreenshot:
		return it.screenshot(page, a)
	}
	return schemas.NewError(schemas.KindInvalidProgram, "unknown page action %q", a.Type)
}

// withNavigation runs action, racing it against a main frame navigation
// when the instruction asks for one.
func (it *iteration) withNavigation(page schemas.Page, a *schemas.PageAction, action func(context.Context) error) error {
	if !a.WaitForNavigation {
		return action(it.ctx)
	}
	timeout := it.in.opts.NavigationWait
	if timeout <= 0 {
		timeout = page.DefaultTimeout()
	}
	return page.WaitForNavigation(it.ctx, timeout, action)
}

// checkError probes the page for an error element. Finding nothing is
// recorded and the iteration continues. A found element fails the
// iteration, classified by the first error mapping matching its text.
func (it *iteration) checkError(page schemas.Page, a *schemas.PageAction) error {
	timeout := a.ProbeTimeout.Std()
	if timeout <= 0 {
		timeout = it.in.opts.ProbeTimeout
	}
	el, err := it.in.resolver.ProbeElement(it.ctx, page, a.Selectors, timeout)
	if errors.Is(err, schemas.ErrElementNotFound) {
		it.note = "no error element found"
		return nil
	}
	if err != nil {
		return err
	}

	text, err := el.TextContent(it.ctx)
	if err != nil {
		return asEngineError(schemas.KindInternal, err, "failed to read error element")
	}
	failure := schemas.NewError(schemas.KindCheckError, "page reports an error: %q", text)
	for _, m := range a.ErrorMap {
		ok, err := it.in.resolver.Matcher().Match(m.Content, text)
		if err != nil {
			return schemas.WrapError(schemas.KindInvalidProgram, err, "invalid error mapping %q", m.Content)
		}
		if ok {
			failure.Classification = m.Classification
			break
		}
	}
	return failure
}

func (it *iteration) screenshot(page schemas.Page, a *schemas.PageAction) error {
	data, err := page.Screenshot(it.ctx)
	if err != nil {
		return asEngineError(schemas.KindInternal, err, "failed to take screenshot")
	}
	name := filepath.Base(a.FileName)
	if a.FileName == "" || name == "." || name == string(filepath.Separator) {
		name = fmt.Sprintf("page-%d-%d.png", page.Index(), it.in.now().UnixMilli())
	}
	dir := it.in.opts.ScreenshotDir
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return schemas.WrapError(schemas.KindInternal, err, "failed to create screenshot directory")
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return schemas.WrapError(schemas.KindInternal, err, "failed to write screenshot")
	}
	it.note = path
	return nil
}

// -- Data Operations --

// value resolves v and records external data reads.
func (it *iteration) value(v schemas.ScraperValue) (any, error) {
	start := it.in.now()
	out, err := it.in.resolver.ResolveValue(it.ctx, it.scope, v)
	if err != nil || v.Type != schemas.ValueExternalData {
		return out, err
	}
	alias, column, _ := resolver.SplitDataKey(v.DataKey)
	var rowID *int64
	if it.row != nil && it.row.Alias == alias {
		rowID = it.row.RowID()
	}
	it.dataOperation(start, schemas.DataOperationRead, alias, rowID, []string{column})
	return out, nil
}

func (it *iteration) saveData(sd *schemas.SaveData) error {
	alias, column, err := resolver.SplitDataKey(sd.DataKey)
	if err != nil {
		return err
	}
	v, err := it.value(sd.Value)
	if err != nil {
		return err
	}
	return it.write(alias, map[string]any{column: v})
}

func (it *iteration) saveDataBatch(b *schemas.SaveDataBatch) error {
	values := make(map[string]any, len(b.Items))
	for _, item := range b.Items {
		v, err := it.value(item.Value)
		if err != nil {
			return err
		}
		values[item.ColumnName] = v
	}
	return it.write(b.DataSourceName, values)
}

// write updates the iteration row when it belongs to alias. Otherwise the
// first write of the iteration inserts a row and later writes update it.
func (it *iteration) write(alias string, values map[string]any) error {
	if it.in.data == nil {
		return schemas.NewError(schemas.KindDataSourceNotFound, "no data source named %q", alias)
	}
	columns := sortedKeys(values)
	start := it.in.now()

	if id, ok := it.currentRow(alias); ok {
		if err := it.in.data.WriteColumns(it.ctx, alias, id, values); err != nil {
			return err
		}
		it.refreshRow(alias, values)
		it.dataOperation(start, schemas.DataOperationWrite, alias, &id, columns)
		return nil
	}

	id, err := it.in.data.InsertRow(it.ctx, alias, values)
	if err != nil {
		return err
	}
	it.inserted[alias] = id
	it.dataOperation(start, schemas.DataOperationInsert, alias, &id, columns)
	return nil
}

// refreshRow folds written values into the iteration row so later reads in
// the same iteration see them.
func (it *iteration) refreshRow(alias string, values map[string]any) {
	if it.row == nil || it.row.Alias != alias {
		return
	}
	table, err := it.in.data.Table(it.ctx, alias)
	if err != nil {
		it.logger.Warn("Could not refresh iteration row.", zap.String("source", alias), zap.Error(err))
		return
	}
	coerced, err := datasource.CoerceValues(table, values, false)
	if err != nil {
		it.logger.Warn("Could not refresh iteration row.", zap.String("source", alias), zap.Error(err))
		return
	}
	row := make(schemas.Row, len(it.row.Row)+len(coerced))
	for k, v := range it.row.Row {
		row[k] = v
	}
	for k, v := range coerced {
		row[k] = v
	}
	it.row.Row = row
}

// deleteData deletes the current row of the data source. Without one the
// last row is deleted, matching how reads fall back to the last row.
func (it *iteration) deleteData(d *schemas.DeleteData) error {
	if it.in.data == nil {
		return schemas.NewError(schemas.KindDataSourceNotFound, "no data source named %q", d.DataSourceName)
	}
	alias := d.DataSourceName
	start := it.in.now()

	id, ok := it.currentRow(alias)
	if !ok {
		row, err := it.in.data.LastRow(it.ctx, alias)
		if err != nil {
			return err
		}
		if id, ok = row.ID(); !ok {
			return schemas.NewError(schemas.KindRowNotFound, "last row of %q has no id", alias)
		}
	}
	if err := it.in.data.DeleteRow(it.ctx, alias, id); err != nil {
		return err
	}
	delete(it.inserted, alias)
	it.dataOperation(start, schemas.DataOperationDelete, alias, &id, nil)
	return nil
}

func (it *iteration) currentRow(alias string) (int64, bool) {
	if it.row != nil && it.row.Alias == alias {
		if id := it.row.RowID(); id != nil {
			return *id, true
		}
	}
	id, ok := it.inserted[alias]
	return id, ok
}

func (it *iteration) dataOperation(start time.Time, op schemas.DataOperation, alias string, rowID *int64, columns []string) {
	it.record(schemas.ExecutionInfo{
		Type:     schemas.InfoExternalDataOperation,
		At:       start,
		Duration: schemas.Duration(it.in.now().Sub(start)),
		DataOperation: &schemas.DataOperationInfo{
			Operation:      op,
			DataSourceName: alias,
			RowID:          rowID,
			Columns:        columns,
		},
	})
	it.in.metrics.IncDataOperation(string(op))
	it.logger.Debug("Data operation.", zap.String("operation", string(op)), zap.String("source", alias))
}

// -- Helpers --

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// asEngineError keeps classified errors as they are and wraps anything else
// in kind. A nil err stays nil.
func asEngineError(kind schemas.ErrorKind, err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	var ee *schemas.EngineError
	if errors.As(err, &ee) {
		return err
	}
	return schemas.WrapError(kind, err, format, args...)
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
