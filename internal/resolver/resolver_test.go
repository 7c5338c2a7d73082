// internal/resolver/resolver_test.go
package resolver

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/scrapeflow/api/schemas"
	"github.com/xkilldash9x/scrapeflow/internal/iterator"
	"github.com/xkilldash9x/scrapeflow/internal/mocks"
	"github.com/xkilldash9x/scrapeflow/internal/selector"
)

// -- Test Helpers --

// fakeData serves LastRow and Table from memory.
type fakeData struct {
	tables map[string]schemas.DataStoreTable
	rows   map[string][]schemas.Row
}

func (f *fakeData) LastRow(ctx context.Context, alias string) (schemas.Row, error) {
	if _, ok := f.tables[alias]; !ok {
		return nil, schemas.NewError(schemas.KindDataSourceNotFound, "no data source named %q", alias)
	}
	rows := f.rows[alias]
	if len(rows) == 0 {
		return nil, schemas.NewError(schemas.KindRowNotFound, "data source %q has no rows", alias)
	}
	return rows[len(rows)-1], nil
}

func (f *fakeData) Table(ctx context.Context, alias string) (schemas.DataStoreTable, error) {
	t, ok := f.tables[alias]
	if !ok {
		return t, schemas.NewError(schemas.KindDataSourceNotFound, "no data source named %q", alias)
	}
	return t, nil
}

func newFakeData() *fakeData {
	products := schemas.DataStoreTable{Name: "products", Columns: []schemas.DataStoreColumn{
		{Name: "name", Type: schemas.ColumnText},
		{Name: "price", Type: schemas.ColumnReal},
	}}
	return &fakeData{
		tables: map[string]schemas.DataStoreTable{"products": products, "empty": products},
		rows: map[string][]schemas.Row{
			"products": {
				{"id": int64(1), "name": "first", "price": 1.5},
				{"id": int64(2), "name": "last", "price": nil},
			},
		},
	}
}

func newTestResolver(t *testing.T, data DataReader) *Resolver {
	t.Helper()
	m, err := selector.NewMatcher(16)
	require.NoError(t, err)
	opts := selector.Options{Timeout: 200 * time.Millisecond, FrameTimeout: 50 * time.Millisecond, PollInterval: 10 * time.Millisecond}
	r, err := New(selector.NewFinder(m, zaptest.NewLogger(t)), data, opts, zaptest.NewLogger(t))
	require.NoError(t, err)
	return r
}

func query(css string) []schemas.ElementSelector {
	return []schemas.ElementSelector{{Type: schemas.SelectorQuery, Query: css}}
}

// -- Values --

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, nil, selector.Options{}, nil)
	assert.Error(t, err)
}

func TestResolveValue_LiteralAndTimestamp(t *testing.T) {
	r := newTestResolver(t, nil)
	ctx := context.Background()

	v, err := r.ResolveValue(ctx, Scope{}, schemas.Literal("hello"))
	require.NoError(t, err)
	assert.Equal(t, "hello", v)

	ticks := []time.Time{time.UnixMilli(1000), time.UnixMilli(2000)}
	r.now = func() time.Time {
		next := ticks[0]
		ticks = ticks[1:]
		return next
	}
	first, err := r.ResolveValue(ctx, Scope{}, schemas.ScraperValue{Type: schemas.ValueCurrentTimestamp})
	require.NoError(t, err)
	second, err := r.ResolveValue(ctx, Scope{}, schemas.ScraperValue{Type: schemas.ValueCurrentTimestamp})
	require.NoError(t, err)
	assert.Equal(t, int64(1000), first)
	assert.Equal(t, int64(2000), second, "each resolution reads the clock again")

	_, err = r.ResolveValue(ctx, Scope{}, schemas.ScraperValue{Type: "bogus"})
	assert.ErrorIs(t, err, schemas.ErrInvalidProgram)
}

func TestResolveValue_ExternalData(t *testing.T) {
	r := newTestResolver(t, newFakeData())
	ctx := context.Background()
	row := &iterator.RowContext{Alias: "products", Row: schemas.Row{"id": int64(7), "name": "current", "price": nil}}

	tests := []struct {
		name    string
		scope   Scope
		value   schemas.ScraperValue
		want    any
		wantErr error
	}{
		{"reads the iteration row", Scope{Row: row}, schemas.ScraperValue{Type: schemas.ValueExternalData, DataKey: "products.name"}, "current", nil},
		{"null cell takes the default", Scope{Row: row}, schemas.ScraperValue{Type: schemas.ValueExternalData, DataKey: "products.price", DefaultValue: 9.5}, 9.5, nil},
		{"null cell without default", Scope{Row: row}, schemas.ScraperValue{Type: schemas.ValueExternalData, DataKey: "products.price"}, nil, nil},
		{"without a row reads the last row", Scope{}, schemas.ScraperValue{Type: schemas.ValueExternalData, DataKey: "products.name"}, "last", nil},
		{"empty source takes the default", Scope{}, schemas.ScraperValue{Type: schemas.ValueExternalData, DataKey: "empty.name", DefaultValue: "n/a"}, "n/a", nil},
		{"unknown column", Scope{Row: row}, schemas.ScraperValue{Type: schemas.ValueExternalData, DataKey: "products.color"}, nil, schemas.ErrDataKeyNotFound},
		{"unknown column of empty source", Scope{}, schemas.ScraperValue{Type: schemas.ValueExternalData, DataKey: "empty.color"}, nil, schemas.ErrDataKeyNotFound},
		{"unknown alias", Scope{}, schemas.ScraperValue{Type: schemas.ValueExternalData, DataKey: "orders.total"}, nil, schemas.ErrDataKeyNotFound},
		{"malformed key", Scope{}, schemas.ScraperValue{Type: schemas.ValueExternalData, DataKey: "products"}, nil, schemas.ErrDataKeyNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.ResolveValue(ctx, tt.scope, tt.value)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolveValue_ExternalDataWithoutSources(t *testing.T) {
	r := newTestResolver(t, nil)
	_, err := r.ResolveValue(context.Background(), Scope{}, schemas.ScraperValue{Type: schemas.ValueExternalData, DataKey: "a.b"})
	assert.ErrorIs(t, err, schemas.ErrDataKeyNotFound)
}

func TestResolveValue_Element(t *testing.T) {
	title := &mocks.FakeElement{Tag: "h1", Text: "Welcome"}
	empty := &mocks.FakeElement{Tag: "p"}
	link := &mocks.FakeElement{Tag: "a", Attrs: map[string]string{"href": "/next", "title": ""}}
	page := mocks.NewFakePage(0, title, empty, link)
	session := mocks.NewFakeSession("s1", page)
	scope := Scope{Pages: session}
	r := newTestResolver(t, nil)
	ctx := context.Background()

	v, err := r.ResolveValue(ctx, scope, schemas.ScraperValue{Type: schemas.ValueElementTextContent, Selectors: query("h1")})
	require.NoError(t, err)
	assert.Equal(t, "Welcome", v)

	v, err = r.ResolveValue(ctx, scope, schemas.ScraperValue{Type: schemas.ValueElementTextContent, Selectors: query("p")})
	require.NoError(t, err)
	assert.Nil(t, v, "empty text resolves to nil")

	v, err = r.ResolveValue(ctx, scope, schemas.ScraperValue{Type: schemas.ValueElementAttribute, Selectors: query("a"), AttributeName: "href"})
	require.NoError(t, err)
	assert.Equal(t, "/next", v)

	for _, attr := range []string{"title", "rel"} {
		v, err = r.ResolveValue(ctx, scope, schemas.ScraperValue{Type: schemas.ValueElementAttribute, Selectors: query("a"), AttributeName: attr})
		require.NoError(t, err)
		assert.Nil(t, v, "attribute %q resolves to nil", attr)
	}

	_, err = r.ResolveValue(ctx, scope, schemas.ScraperValue{Type: schemas.ValueElementTextContent, Selectors: query("table")})
	assert.ErrorIs(t, err, schemas.ErrElementNotFound)

	_, err = r.ResolveValue(ctx, Scope{}, schemas.ScraperValue{Type: schemas.ValueElementTextContent, Selectors: query("h1")})
	assert.Error(t, err, "element values need a session")
}

func TestResolveElement_ChildFrame(t *testing.T) {
	page := mocks.NewFakePage(0, &mocks.FakeElement{Tag: "div"})
	inner := &mocks.FakeElement{Tag: "button", Text: "Pay"}
	page.FrameList = append(page.FrameList, mocks.NewFakeFrame("checkout", inner))
	r := newTestResolver(t, nil)

	el, err := r.ResolveElement(context.Background(), page, []schemas.ElementSelector{
		{Type: schemas.SelectorQuery, Query: "button"},
		{Type: schemas.SelectorTextContent, Text: "Pay"},
	})
	require.NoError(t, err)
	assert.Same(t, inner, el)
}

func TestProbeElement_Timeout(t *testing.T) {
	page := mocks.NewFakePage(0)
	r := newTestResolver(t, nil)

	start := time.Now()
	_, err := r.ProbeElement(context.Background(), page, query("div"), 30*time.Millisecond)
	assert.ErrorIs(t, err, schemas.ErrElementNotFound)
	assert.Less(t, time.Since(start), 150*time.Millisecond)
}

// -- Conditions --

func TestEvaluate_IsVisible(t *testing.T) {
	page := mocks.NewFakePage(0,
		&mocks.FakeElement{Tag: "div", Selectors: []string{".shown"}},
		&mocks.FakeElement{Tag: "div", Selectors: []string{".hidden"}, Hidden: true},
	)
	scope := Scope{Pages: mocks.NewFakeSession("s", page)}
	r := newTestResolver(t, nil)
	ctx := context.Background()

	tests := []struct {
		css  string
		want bool
	}{
		{".shown", true},
		{".hidden", false},
		{".missing", false},
	}
	for _, tt := range tests {
		got, err := r.Evaluate(ctx, scope, schemas.ScraperCondition{Type: schemas.ConditionIsVisible, Selectors: query(tt.css)})
		require.NoError(t, err, tt.css)
		assert.Equal(t, tt.want, got, tt.css)
	}
}

func TestEvaluate_TextEquals(t *testing.T) {
	page := mocks.NewFakePage(0,
		&mocks.FakeElement{Tag: "h1", Text: "Order Confirmed"},
		&mocks.FakeElement{Tag: "span", Text: " padded "},
		&mocks.FakeElement{Tag: "p"},
	)
	scope := Scope{Pages: mocks.NewFakeSession("s", page)}
	r := newTestResolver(t, nil)
	ctx := context.Background()

	textOf := func(css string) *schemas.ScraperValue {
		return &schemas.ScraperValue{Type: schemas.ValueElementTextContent, Selectors: query(css)}
	}
	tests := []struct {
		name  string
		value *schemas.ScraperValue
		text  string
		want  bool
	}{
		{"literal match", textOf("h1"), "Order Confirmed", true},
		{"literal is case sensitive", textOf("h1"), "order confirmed", false},
		{"regex", textOf("h1"), "/^Order/", true},
		{"regex is case sensitive", textOf("h1"), "/^order/", false},
		{"regex with i flag", textOf("h1"), "/^order/i", true},
		{"no trimming", textOf("span"), "padded", false},
		{"nil never equals", textOf("p"), "", false},
		{"missing element is false", textOf("table"), "x", false},
		{"number literal", &schemas.ScraperValue{Type: schemas.ValueLiteral, Value: 12.5}, "12.5", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.Evaluate(ctx, scope, schemas.ScraperCondition{Type: schemas.ConditionTextEquals, ValueSelector: tt.value, Text: tt.text})
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	t.Run("missing value selector", func(t *testing.T) {
		_, err := r.Evaluate(ctx, scope, schemas.ScraperCondition{Type: schemas.ConditionTextEquals, Text: "x"})
		assert.ErrorIs(t, err, schemas.ErrInvalidProgram)
	})

	t.Run("invalid regex", func(t *testing.T) {
		_, err := r.Evaluate(ctx, scope, schemas.ScraperCondition{Type: schemas.ConditionTextEquals, ValueSelector: textOf("h1"), Text: "/(/"})
		assert.ErrorIs(t, err, schemas.ErrInvalidProgram)
	})
}

func TestEvaluate_PropagatesDataErrors(t *testing.T) {
	r := newTestResolver(t, newFakeData())
	_, err := r.Evaluate(context.Background(), Scope{}, schemas.ScraperCondition{
		Type:          schemas.ConditionTextEquals,
		ValueSelector: &schemas.ScraperValue{Type: schemas.ValueExternalData, DataKey: "nope.name"},
		Text:          "x",
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, schemas.ErrDataKeyNotFound))
}

func TestStringify(t *testing.T) {
	assert.Equal(t, "", Stringify(nil))
	assert.Equal(t, "42", Stringify(int64(42)))
	assert.Equal(t, "0.1", Stringify(0.1))
	assert.Equal(t, "true", Stringify(true))
	assert.Equal(t, "abc", Stringify([]byte("abc")))
	assert.Equal(t, "[1 2]", Stringify([]int{1, 2}))
}
