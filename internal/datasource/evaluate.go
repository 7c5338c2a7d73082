// internal/datasource/evaluate.go
package datasource

import (
	"bytes"
	"regexp"
	"strconv"
	"strings"

	"github.com/xkilldash9x/scrapeflow/api/schemas"
)

// truth is a SQL truth value.
type truth int

const (
	tFalse truth = iota
	tTrue
	tUnknown
)

func truthOf(b bool) truth {
	if b {
		return tTrue
	}
	return tFalse
}

func (t truth) not() truth {
	switch t {
	case tTrue:
		return tFalse
	case tFalse:
		return tTrue
	}
	return tUnknown
}

// Evaluate reports whether row passes the filter, with the semantics of a
// SQL WHERE clause: comparisons against NULL are unknown and unknown rows
// are rejected.
func Evaluate(where *schemas.WhereSchema, row schemas.Row) (bool, error) {
	if where.IsEmpty() {
		return true, nil
	}
	t, err := evalNode(*where, row)
	return t == tTrue, err
}

func evalNode(w schemas.WhereSchema, row schemas.Row) (truth, error) {
	var result truth
	var err error
	switch {
	case len(w.And) > 0 && len(w.Or) > 0:
		return tUnknown, schemas.NewError(schemas.KindInvalidProgram, "a where group cannot combine and with or")
	case len(w.And) > 0:
		result = tTrue
		for _, child := range w.And {
			t, err := evalNode(child, row)
			if err != nil {
				return tUnknown, err
			}
			if t == tFalse {
				result = tFalse
			} else if t == tUnknown && result == tTrue {
				result = tUnknown
			}
		}
	case len(w.Or) > 0:
		result = tFalse
		for _, child := range w.Or {
			t, err := evalNode(child, row)
			if err != nil {
				return tUnknown, err
			}
			if t == tTrue {
				result = tTrue
			} else if t == tUnknown && result == tFalse {
				result = tUnknown
			}
		}
	default:
		result, err = evalLeaf(w, row)
		if err != nil {
			return tUnknown, err
		}
	}
	if w.Negate {
		result = result.not()
	}
	return result, nil
}

func evalLeaf(w schemas.WhereSchema, row schemas.Row) (truth, error) {
	cell, ok := row[w.Column]
	if !ok {
		return tUnknown, schemas.NewError(schemas.KindColumnNotFound, "row has no column %q", w.Column)
	}

	switch w.Condition {
	case schemas.WhereIsNull:
		return truthOf(cell == nil), nil
	case schemas.WhereIsNotNull:
		return truthOf(cell != nil), nil
	case schemas.WhereLike, schemas.WhereNotLike:
		if cell == nil || w.Value == nil {
			return tUnknown, nil
		}
		t := truthOf(likeMatch(toText(w.Value), toText(cell)))
		if w.Condition == schemas.WhereNotLike {
			t = t.not()
		}
		return t, nil
	case schemas.WhereIn, schemas.WhereNotIn:
		values, err := listValue(w.Value)
		if err != nil {
			return tUnknown, err
		}
		t := inList(cell, values)
		if w.Condition == schemas.WhereNotIn {
			t = t.not()
		}
		return t, nil
	case schemas.WhereBetween, schemas.WhereNotBetween:
		values, err := listValue(w.Value)
		if err != nil {
			return tUnknown, err
		}
		if len(values) != 2 {
			return tUnknown, schemas.NewError(schemas.KindInvalidProgram, "%s needs exactly two values", w.Condition)
		}
		lo, hi := compare(cell, values[0]), compare(cell, values[1])
		t := tUnknown
		if lo != nil && hi != nil {
			t = truthOf(*lo >= 0 && *hi <= 0)
		}
		if w.Condition == schemas.WhereNotBetween {
			t = t.not()
		}
		return t, nil
	}

	c := compare(cell, w.Value)
	if c == nil {
		if comparisonOps[w.Condition] {
			return tUnknown, nil
		}
		return tUnknown, schemas.NewError(schemas.KindInvalidProgram, "unknown where condition %q", w.Condition)
	}
	switch w.Condition {
	case schemas.WhereEquals:
		return truthOf(*c == 0), nil
	case schemas.WhereNotEquals:
		return truthOf(*c != 0), nil
	case schemas.WhereGreater:
		return truthOf(*c > 0), nil
	case schemas.WhereGreaterOrEqual:
		return truthOf(*c >= 0), nil
	case schemas.WhereLess:
		return truthOf(*c < 0), nil
	case schemas.WhereLessOrEqual:
		return truthOf(*c <= 0), nil
	}
	return tUnknown, schemas.NewError(schemas.KindInvalidProgram, "unknown where condition %q", w.Condition)
}

func inList(cell any, values []any) truth {
	if cell == nil {
		return tUnknown
	}
	result := tFalse
	for _, v := range values {
		c := compare(cell, v)
		if c == nil {
			result = tUnknown
			continue
		}
		if *c == 0 {
			return tTrue
		}
	}
	return result
}

// compare orders a and b like SQLite: numbers before text before blobs,
// with numeric text compared as a number. It returns nil when either side
// is NULL.
func compare(a, b any) *int {
	if a == nil || b == nil {
		return nil
	}
	a, b = numericOperand(a, b), numericOperand(b, a)
	ca, cb := storageClass(a), storageClass(b)
	var r int
	switch {
	case ca != cb:
		r = ca - cb
	case ca == classNumber:
		x, y := asFloat(a), asFloat(b)
		switch {
		case x < y:
			r = -1
		case x > y:
			r = 1
		}
	case ca == classText:
		r = strings.Compare(toText(a), toText(b))
	default:
		r = bytes.Compare(a.([]byte), b.([]byte))
	}
	return &r
}

const (
	classNumber = iota
	classText
	classBlob
)

func storageClass(v any) int {
	switch v.(type) {
	case string:
		return classText
	case []byte:
		return classBlob
	}
	return classNumber
}

// numericOperand converts numeric text to a number when the other side is
// a number, the way a column affinity would.
func numericOperand(v, other any) any {
	s, ok := v.(string)
	if !ok || storageClass(other) != classNumber {
		return v
	}
	if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
		return f
	}
	return v
}

func asFloat(v any) float64 {
	switch t := v.(type) {
	case int64:
		return float64(t)
	case int:
		return float64(t)
	case float64:
		return t
	case bool:
		if t {
			return 1
		}
	}
	return 0
}

// likeMatch implements SQLite LIKE: % and _ wildcards, ASCII case folding.
func likeMatch(pattern, s string) bool {
	var expr strings.Builder
	expr.WriteString("(?is)^")
	for _, r := range pattern {
		switch r {
		case '%':
			expr.WriteString(".*")
		case '_':
			expr.WriteString(".")
		default:
			expr.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	expr.WriteString("$")
	return regexp.MustCompile(expr.String()).MatchString(s)
}
