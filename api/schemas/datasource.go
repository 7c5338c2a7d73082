package schemas

import (
	"fmt"

	json "github.com/json-iterator/go"
	"gopkg.in/yaml.v3"
)

// -- Data Sources --

// ScraperDataSource binds an alias used in data keys ("alias.column") to a
// physical data store table, optionally pre-filtered.
type ScraperDataSource struct {
	SourceAlias        string       `json:"sourceAlias" yaml:"sourceAlias"`
	DataStoreTableName string       `json:"dataStoreTableName" yaml:"dataStoreTableName"`
	WhereSchema        *WhereSchema `json:"whereSchema,omitempty" yaml:"whereSchema,omitempty"`
}

// WhereCondition is the comparison operator of a WHERE leaf.
type WhereCondition string

const (
	WhereEquals         WhereCondition = "="
	WhereNotEquals      WhereCondition = "!="
	WhereGreater        WhereCondition = ">"
	WhereGreaterOrEqual WhereCondition = ">="
	WhereLess           WhereCondition = "<"
	WhereLessOrEqual    WhereCondition = "<="
	WhereLike           WhereCondition = "LIKE"
	WhereNotLike        WhereCondition = "NOT LIKE"
	WhereIn             WhereCondition = "IN"
	WhereNotIn          WhereCondition = "NOT IN"
	WhereBetween        WhereCondition = "BETWEEN"
	WhereNotBetween     WhereCondition = "NOT BETWEEN"
	WhereIsNull         WhereCondition = "IS NULL"
	WhereIsNotNull      WhereCondition = "IS NOT NULL"
)

// WhereSchema is a node of a filter tree. A node is a group when And or Or
// is non-empty, otherwise a leaf comparing Column against Value. Negate
// applies to either kind.
//
// IN / NOT IN take a list value, BETWEEN / NOT BETWEEN a two element list,
// IS NULL / IS NOT NULL ignore Value.
type WhereSchema struct {
	And    []WhereSchema `json:"and,omitempty" yaml:"and,omitempty"`
	Or     []WhereSchema `json:"or,omitempty" yaml:"or,omitempty"`
	Negate bool          `json:"negate,omitempty" yaml:"negate,omitempty"`

	Column    string         `json:"column,omitempty" yaml:"column,omitempty"`
	Condition WhereCondition `json:"condition,omitempty" yaml:"condition,omitempty"`
	Value     any            `json:"value,omitempty" yaml:"value,omitempty"`
}

// IsGroup reports whether the node combines children.
func (w WhereSchema) IsGroup() bool { return len(w.And) > 0 || len(w.Or) > 0 }

// IsEmpty reports whether the node filters nothing.
func (w *WhereSchema) IsEmpty() bool {
	return w == nil || (!w.IsGroup() && w.Column == "")
}

// -- Iterators --

// IteratorType discriminates ExecutionIterator.
type IteratorType string

const (
	IteratorEntireSet   IteratorType = "entireSet"
	IteratorFilteredSet IteratorType = "filteredSet"
	IteratorRange       IteratorType = "range"
)

// ExecutionIterator selects the rows that drive repeated execution. A nil
// *ExecutionIterator runs the instructions exactly once without a row context.
type ExecutionIterator struct {
	Type           IteratorType `json:"type" yaml:"type"`
	DataSourceName string       `json:"dataSourceName" yaml:"dataSourceName"`
	Where          *WhereSchema `json:"where,omitempty" yaml:"where,omitempty"`
	Identifier     string       `json:"identifier,omitempty" yaml:"identifier,omitempty"`
	Range          *Range       `json:"range,omitempty" yaml:"range,omitempty"`
}

// Range is either a single identifier value or an inclusive
// {start,end,step} span.
type Range struct {
	Value any

	Span  bool
	Start int64
	End   int64
	Step  int64
}

type iteratorSpan struct {
	Start int64 `json:"start" yaml:"start"`
	End   int64 `json:"end" yaml:"end"`
	Step  int64 `json:"step,omitempty" yaml:"step,omitempty"`
}

// SingleValue builds a scalar range.
func SingleValue(v any) *Range { return &Range{Value: v} }

// SpanRange builds a {start,end,step} range.
func SpanRange(start, end, step int64) *Range {
	return &Range{Span: true, Start: start, End: end, Step: step}
}

// StepOrDefault returns Step, or 1 when it is not positive.
func (r Range) StepOrDefault() int64 {
	if r.Step <= 0 {
		return 1
	}
	return r.Step
}

// MarshalJSON implements json.Marshaler.
func (r Range) MarshalJSON() ([]byte, error) {
	if r.Span {
		return json.Marshal(iteratorSpan{Start: r.Start, End: r.End, Step: r.Step})
	}
	return json.Marshal(r.Value)
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *Range) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if _, ok := raw.(map[string]any); ok {
		var span iteratorSpan
		if err := json.Unmarshal(data, &span); err != nil {
			return fmt.Errorf("invalid range span: %w", err)
		}
		*r = Range{Span: true, Start: span.Start, End: span.End, Step: span.Step}
		return nil
	}
	*r = Range{Value: normalizeNumber(raw)}
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (r Range) MarshalYAML() (any, error) {
	if r.Span {
		return iteratorSpan{Start: r.Start, End: r.End, Step: r.Step}, nil
	}
	return r.Value, nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (r *Range) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.MappingNode {
		var span iteratorSpan
		if err := node.Decode(&span); err != nil {
			return fmt.Errorf("invalid range span: %w", err)
		}
		*r = Range{Span: true, Start: span.Start, End: span.End, Step: span.Step}
		return nil
	}
	var v any
	if err := node.Decode(&v); err != nil {
		return err
	}
	*r = Range{Value: normalizeNumber(v)}
	return nil
}

// normalizeNumber turns integral float64 values into int64 so identifiers
// decoded from JSON compare equal to integer columns.
func normalizeNumber(v any) any {
	switch n := v.(type) {
	case float64:
		if n == float64(int64(n)) {
			return int64(n)
		}
	case int:
		return int64(n)
	}
	return v
}

// -- Data Store Tables --

// ColumnType is the storage type of a data store column.
type ColumnType string

const (
	ColumnText      ColumnType = "TEXT"
	ColumnInteger   ColumnType = "INTEGER"
	ColumnReal      ColumnType = "REAL"
	ColumnNumeric   ColumnType = "NUMERIC"
	ColumnBoolean   ColumnType = "BOOLEAN"
	ColumnTimestamp ColumnType = "TIMESTAMP"
	ColumnBlob      ColumnType = "BLOB"
)

// IDColumn is the reserved row identifier of every data store table.
const IDColumn = "id"

// DataStoreColumn describes one user column of a data store table.
type DataStoreColumn struct {
	Name         string     `json:"name" yaml:"name"`
	Type         ColumnType `json:"type" yaml:"type"`
	NotNull      bool       `json:"notNull,omitempty" yaml:"notNull,omitempty"`
	DefaultValue any        `json:"defaultValue,omitempty" yaml:"defaultValue,omitempty"`
}

// DataStoreTable is a typed table. The id column is implicit.
type DataStoreTable struct {
	Name    string            `json:"name" yaml:"name"`
	Columns []DataStoreColumn `json:"columns" yaml:"columns"`
}

// Column returns the named column.
func (t DataStoreTable) Column(name string) (DataStoreColumn, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return DataStoreColumn{}, false
}

// Row is one data store row keyed by column name, including IDColumn.
type Row map[string]any

// ID returns the row identifier.
func (r Row) ID() (int64, bool) {
	switch v := r[IDColumn].(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case float64:
		return int64(v), true
	}
	return 0, false
}
