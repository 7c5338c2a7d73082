// internal/datasource/where.go
package datasource

import (
	"fmt"
	"strings"

	"github.com/xkilldash9x/scrapeflow/api/schemas"
)

// comparisonOps are the leaf conditions taking a single placeholder.
var comparisonOps = map[schemas.WhereCondition]bool{
	schemas.WhereEquals:         true,
	schemas.WhereNotEquals:      true,
	schemas.WhereGreater:        true,
	schemas.WhereGreaterOrEqual: true,
	schemas.WhereLess:           true,
	schemas.WhereLessOrEqual:    true,
	schemas.WhereLike:           true,
	schemas.WhereNotLike:        true,
}

// Compile turns a filter tree into a parameterized SQL expression over
// table. Values are only ever bound as arguments. An empty tree compiles
// to "".
func Compile(where *schemas.WhereSchema, table schemas.DataStoreTable) (string, []any, error) {
	if where.IsEmpty() {
		return "", nil, nil
	}
	c := &compiler{table: table}
	var b strings.Builder
	if err := c.node(&b, *where); err != nil {
		return "", nil, err
	}
	return b.String(), c.args, nil
}

type compiler struct {
	table schemas.DataStoreTable
	args  []any
}

func (c *compiler) node(b *strings.Builder, w schemas.WhereSchema) error {
	if w.Negate {
		b.WriteString("NOT (")
		defer b.WriteString(")")
	}
	if !w.IsGroup() {
		return c.leaf(b, w)
	}
	if len(w.And) > 0 && len(w.Or) > 0 {
		return schemas.NewError(schemas.KindInvalidProgram, "a where group cannot combine and with or")
	}
	children, joiner := w.And, " AND "
	if len(w.Or) > 0 {
		children, joiner = w.Or, " OR "
	}
	b.WriteString("(")
	for i, child := range children {
		if i > 0 {
			b.WriteString(joiner)
		}
		if err := c.node(b, child); err != nil {
			return err
		}
	}
	b.WriteString(")")
	return nil
}

func (c *compiler) leaf(b *strings.Builder, w schemas.WhereSchema) error {
	col, err := c.column(w.Column)
	if err != nil {
		return err
	}
	b.WriteString(quoteIdent(w.Column))

	switch cond := w.Condition; {
	case comparisonOps[cond]:
		v, err := c.operand(col, cond, w.Value)
		if err != nil {
			return err
		}
		fmt.Fprintf(b, " %s ?", cond)
		c.args = append(c.args, v)

	case cond == schemas.WhereIn || cond == schemas.WhereNotIn:
		values, err := listValue(w.Value)
		if err != nil {
			return err
		}
		if len(values) == 0 {
			return schemas.NewError(schemas.KindInvalidProgram, "%s on %q needs at least one value", cond, w.Column)
		}
		marks := make([]string, len(values))
		for i, v := range values {
			coerced, err := c.operand(col, cond, v)
			if err != nil {
				return err
			}
			marks[i] = "?"
			c.args = append(c.args, coerced)
		}
		fmt.Fprintf(b, " %s (%s)", cond, strings.Join(marks, ", "))

	case cond == schemas.WhereBetween || cond == schemas.WhereNotBetween:
		values, err := listValue(w.Value)
		if err != nil {
			return err
		}
		if len(values) != 2 {
			return schemas.NewError(schemas.KindInvalidProgram, "%s on %q needs exactly two values", cond, w.Column)
		}
		lo, err := c.operand(col, cond, values[0])
		if err != nil {
			return err
		}
		hi, err := c.operand(col, cond, values[1])
		if err != nil {
			return err
		}
		fmt.Fprintf(b, " %s ? AND ?", cond)
		c.args = append(c.args, lo, hi)

	case cond == schemas.WhereIsNull || cond == schemas.WhereIsNotNull:
		fmt.Fprintf(b, " %s", cond)

	default:
		return schemas.NewError(schemas.KindInvalidProgram, "unknown where condition %q", cond)
	}
	return nil
}

// column resolves a leaf column. The id column is always available.
func (c *compiler) column(name string) (schemas.DataStoreColumn, error) {
	if name == schemas.IDColumn {
		return schemas.DataStoreColumn{Name: schemas.IDColumn, Type: schemas.ColumnInteger}, nil
	}
	col, ok := c.table.Column(name)
	if !ok {
		return col, schemas.NewError(schemas.KindColumnNotFound, "%s.%s", c.table.Name, name)
	}
	return col, nil
}

// operand coerces a comparison value to the column type. LIKE patterns
// stay text.
func (c *compiler) operand(col schemas.DataStoreColumn, cond schemas.WhereCondition, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if cond == schemas.WhereLike || cond == schemas.WhereNotLike {
		return toText(v), nil
	}
	out, err := Coerce(col, v)
	if err != nil {
		return nil, err
	}
	if b, ok := out.(bool); ok {
		if b {
			return int64(1), nil
		}
		return int64(0), nil
	}
	return out, nil
}

func listValue(v any) ([]any, error) {
	switch t := v.(type) {
	case []any:
		return t, nil
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out, nil
	case []int64:
		out := make([]any, len(t))
		for i, n := range t {
			out[i] = n
		}
		return out, nil
	case []float64:
		out := make([]any, len(t))
		for i, n := range t {
			out[i] = n
		}
		return out, nil
	}
	return nil, schemas.NewError(schemas.KindInvalidProgram, "expected a list value, got %T", v)
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// And combines two optional filters.
func And(a, b *schemas.WhereSchema) *schemas.WhereSchema {
	switch {
	case a.IsEmpty():
		return b
	case b.IsEmpty():
		return a
	}
	return &schemas.WhereSchema{And: []schemas.WhereSchema{*a, *b}}
}
