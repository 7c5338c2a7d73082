// internal/iterator/iterator.go
package iterator

import (
	"context"
	"errors"
	"math"
	"strconv"
	"strings"

	"github.com/xkilldash9x/scrapeflow/api/schemas"
	"github.com/xkilldash9x/scrapeflow/internal/datasource"
)

// DefaultBatchSize is the page size used when none is configured.
const DefaultBatchSize = 100

// RowContext is the data source row an iteration runs against.
type RowContext struct {
	Alias string
	Row   schemas.Row
}

// RowID returns the identifier of the row, or nil without a row.
func (rc *RowContext) RowID() *int64 {
	if rc == nil {
		return nil
	}
	if id, ok := rc.Row.ID(); ok {
		return &id
	}
	return nil
}

// RowReader reads rows of a data source alias. *datasource.Bridge implements it.
type RowReader interface {
	ReadRows(ctx context.Context, alias string, where *schemas.WhereSchema, opts datasource.ReadOptions) ([]schemas.Row, error)
}

// Sequence yields iteration contexts in order. Next returns false once the
// sequence is exhausted; a nil context with true means "run once without a
// row". Reset restarts the sequence from the beginning.
type Sequence interface {
	Next(ctx context.Context) (*RowContext, bool, error)
	Reset()
}

// New builds the sequence of spec. A nil spec yields one nil context.
func New(spec *schemas.ExecutionIterator, reader RowReader, batchSize int) (Sequence, error) {
	if spec == nil {
		return &onceSequence{}, nil
	}
	if reader == nil {
		return nil, errors.New("row reader cannot be nil")
	}
	if spec.DataSourceName == "" {
		return nil, schemas.NewError(schemas.KindInvalidProgram, "iterator has no data source")
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	switch spec.Type {
	case schemas.IteratorEntireSet:
		return &scanSequence{reader: reader, alias: spec.DataSourceName, batch: batchSize}, nil
	case schemas.IteratorFilteredSet:
		return &scanSequence{reader: reader, alias: spec.DataSourceName, where: spec.Where, batch: batchSize}, nil
	case schemas.IteratorRange:
		if spec.Range == nil {
			return nil, schemas.NewError(schemas.KindInvalidProgram, "range iterator has no range")
		}
		r := *spec.Range
		if !r.Span {
			identifier := spec.Identifier
			if identifier == "" {
				identifier = schemas.IDColumn
			}
			return &valueSequence{reader: reader, alias: spec.DataSourceName, identifier: identifier, value: r.Value}, nil
		}
		if spec.Identifier != "" {
			return &identifierSpanSequence{reader: reader, alias: spec.DataSourceName, identifier: spec.Identifier, span: r, batch: batchSize}, nil
		}
		return &positionSequence{reader: reader, alias: spec.DataSourceName, span: r}, nil
	}
	return nil, schemas.NewError(schemas.KindInvalidProgram, "unknown iterator type %q", spec.Type)
}

// Collect drains seq. It is meant for tests and small previews.
func Collect(ctx context.Context, seq Sequence) ([]*RowContext, error) {
	var out []*RowContext
	for {
		rc, ok, err := seq.Next(ctx)
		if err != nil {
			return out, err
		}
		if !ok {
			return out, nil
		}
		out = append(out, rc)
	}
}

// -- no iterator --

type onceSequence struct{ done bool }

func (s *onceSequence) Next(context.Context) (*RowContext, bool, error) {
	if s.done {
		return nil, false, nil
	}
	s.done = true
	return nil, true, nil
}

func (s *onceSequence) Reset() { s.done = false }

// -- entireSet / filteredSet --

// scanSequence streams rows in id order using keyset pagination.
type scanSequence struct {
	reader RowReader
	alias  string
	where  *schemas.WhereSchema
	batch  int

	buf    []schemas.Row
	lastID int64
	eof    bool
}

func (s *scanSequence) Next(ctx context.Context) (*RowContext, bool, error) {
	if len(s.buf) == 0 && !s.eof {
		rows, err := s.reader.ReadRows(ctx, s.alias, s.where, datasource.ReadOptions{AfterID: s.lastID, Limit: s.batch})
		if err != nil {
			return nil, false, err
		}
		if len(rows) < s.batch {
			s.eof = true
		}
		s.buf = rows
	}
	if len(s.buf) == 0 {
		return nil, false, nil
	}
	row := s.buf[0]
	s.buf = s.buf[1:]
	id, ok := row.ID()
	if !ok {
		return nil, false, schemas.NewError(schemas.KindInternal, "row of %q has no id", s.alias)
	}
	s.lastID = id
	return &RowContext{Alias: s.alias, Row: row}, true, nil
}

func (s *scanSequence) Reset() {
	s.buf, s.lastID, s.eof = nil, 0, false
}

// -- range with a single value --

type valueSequence struct {
	reader     RowReader
	alias      string
	identifier string
	value      any
	done       bool
}

func (s *valueSequence) Next(ctx context.Context) (*RowContext, bool, error) {
	if s.done {
		return nil, false, nil
	}
	s.done = true
	where := &schemas.WhereSchema{Column: s.identifier, Condition: schemas.WhereEquals, Value: s.value}
	rows, err := s.reader.ReadRows(ctx, s.alias, where, datasource.ReadOptions{Limit: 1})
	if err != nil {
		return nil, false, err
	}
	if len(rows) == 0 {
		return nil, false, schemas.NewError(schemas.KindRowNotFound, "no row of %q has %s = %v", s.alias, s.identifier, s.value)
	}
	return &RowContext{Alias: s.alias, Row: rows[0]}, true, nil
}

func (s *valueSequence) Reset() { s.done = false }

// -- range span over an identifier column --

// identifierSpanSequence yields rows whose identifier is start, start+step,
// ... up to end, ordered by identifier then id. Rows are paged with a
// keyset on (identifier, id) so the cost follows the rows present, not the
// width of the span.
type identifierSpanSequence struct {
	reader     RowReader
	alias      string
	identifier string
	span       schemas.Range
	batch      int

	buf     []schemas.Row
	lastVal any
	lastID  int64
	started bool
	eof     bool
}

func (s *identifierSpanSequence) Next(ctx context.Context) (*RowContext, bool, error) {
	if s.span.Start > s.span.End {
		return nil, false, nil
	}
	for {
		for len(s.buf) > 0 {
			row := s.buf[0]
			s.buf = s.buf[1:]
			id, _ := row.ID()
			s.lastVal, s.lastID, s.started = row[s.identifier], id, true
			if val, ok := identifierValue(row[s.identifier]); ok && s.onStep(val) {
				return &RowContext{Alias: s.alias, Row: row}, true, nil
			}
		}
		if s.eof {
			return nil, false, nil
		}
		rows, err := s.reader.ReadRows(ctx, s.alias, s.window(), datasource.ReadOptions{OrderBy: s.identifier, Limit: s.batch})
		if err != nil {
			return nil, false, err
		}
		if len(rows) < s.batch {
			s.eof = true
		}
		s.buf = rows
	}
}

// window is the filter of the next batch: the span itself, narrowed past
// the last row seen.
func (s *identifierSpanSequence) window() *schemas.WhereSchema {
	bounds := schemas.WhereSchema{Column: s.identifier, Condition: schemas.WhereBetween, Value: []any{s.span.Start, s.span.End}}
	if !s.started {
		return &bounds
	}
	return &schemas.WhereSchema{And: []schemas.WhereSchema{
		bounds,
		{Or: []schemas.WhereSchema{
			{Column: s.identifier, Condition: schemas.WhereGreater, Value: s.lastVal},
			{And: []schemas.WhereSchema{
				{Column: s.identifier, Condition: schemas.WhereEquals, Value: s.lastVal},
				{Column: schemas.IDColumn, Condition: schemas.WhereGreater, Value: s.lastID},
			}},
		}},
	}}
}

// onStep reports whether val lands on the step grid. The distance is taken
// in uint64 so spans across the whole int64 range cannot overflow.
func (s *identifierSpanSequence) onStep(val int64) bool {
	if val < s.span.Start || val > s.span.End {
		return false
	}
	return (uint64(val)-uint64(s.span.Start))%uint64(s.span.StepOrDefault()) == 0
}

func (s *identifierSpanSequence) Reset() {
	s.buf, s.lastVal, s.lastID, s.started, s.eof = nil, nil, 0, false, false
}

// identifierValue reads an integral identifier. Other values never match a
// span.
func identifierValue(v any) (int64, bool) {
	switch t := v.(type) {
	case int64:
		return t, true
	case int:
		return int64(t), true
	case float64:
		if t != math.Trunc(t) || t >= math.MaxInt64 || t < math.MinInt64 {
			return 0, false
		}
		return int64(t), true
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		return n, err == nil
	}
	return 0, false
}

// -- range span by position --

// positionSequence yields the k-th rows (1-based, inclusive bounds) in id
// order and stops at the end of the table.
type positionSequence struct {
	reader RowReader
	alias  string
	span   schemas.Range

	next    int64
	started bool
	eof     bool
}

func (s *positionSequence) Next(ctx context.Context) (*RowContext, bool, error) {
	if !s.started {
		s.next, s.started = s.span.Start, true
		if s.next < 1 {
			s.next = 1
		}
	}
	if s.eof || s.next > s.span.End {
		return nil, false, nil
	}
	rows, err := s.reader.ReadRows(ctx, s.alias, nil, datasource.ReadOptions{Offset: int(s.next - 1), Limit: 1})
	if err != nil {
		return nil, false, err
	}
	if len(rows) == 0 {
		s.eof = true
		return nil, false, nil
	}
	if step := s.span.StepOrDefault(); s.next > s.span.End-step {
		s.eof = true
	} else {
		s.next += step
	}
	return &RowContext{Alias: s.alias, Row: rows[0]}, true, nil
}

func (s *positionSequence) Reset() {
	s.started, s.eof = false, false
}
