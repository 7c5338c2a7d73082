// internal/datasource/coerce.go
package datasource

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/xkilldash9x/scrapeflow/api/schemas"
)

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// Coerce converts v to the Go form stored in a column of type col.Type.
// nil passes through; NOT NULL handling is left to ApplyDefaults.
func Coerce(col schemas.DataStoreColumn, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	out, err := coerce(col.Type, v)
	if err != nil {
		return nil, schemas.WrapError(schemas.KindConstraintViolation, err, "column %q", col.Name)
	}
	return out, nil
}

func coerce(typ schemas.ColumnType, v any) (any, error) {
	switch typ {
	case schemas.ColumnText:
		return toText(v), nil
	case schemas.ColumnInteger:
		return toInteger(v)
	case schemas.ColumnReal:
		return toReal(v)
	case schemas.ColumnNumeric:
		if n, err := toInteger(v); err == nil {
			return n, nil
		}
		return toReal(v)
	case schemas.ColumnBoolean:
		return toBoolean(v)
	case schemas.ColumnTimestamp:
		return toTimestamp(v)
	case schemas.ColumnBlob:
		switch t := v.(type) {
		case []byte:
			return t, nil
		case string:
			return []byte(t), nil
		}
		return nil, fmt.Errorf("cannot store %T as BLOB", v)
	}
	return nil, fmt.Errorf("unknown column type %q", typ)
}

func toText(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	}
	return fmt.Sprint(v)
}

func toInteger(v any) (int64, error) {
	switch t := v.(type) {
	case int64:
		return t, nil
	case int:
		return int64(t), nil
	case int32:
		return int64(t), nil
	case bool:
		if t {
			return 1, nil
		}
		return 0, nil
	case float64:
		if t != math.Trunc(t) || math.IsInf(t, 0) || math.IsNaN(t) {
			return 0, fmt.Errorf("%v is not an integer", t)
		}
		// float64(math.MaxInt64) rounds up to 2^63, so the upper bound is exclusive.
		if t >= math.MaxInt64 || t < math.MinInt64 {
			return 0, fmt.Errorf("%v is out of the INTEGER range", t)
		}
		return int64(t), nil
	case float32:
		return toInteger(float64(t))
	case string:
		s := strings.TrimSpace(t)
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n, nil
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return toInteger(f)
		}
		return 0, fmt.Errorf("%q is not an integer", t)
	case time.Time:
		return t.UnixMilli(), nil
	}
	return 0, fmt.Errorf("cannot store %T as INTEGER", v)
}

func toReal(v any) (float64, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case float32:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case int:
		return float64(t), nil
	case bool:
		if t {
			return 1, nil
		}
		return 0, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, fmt.Errorf("%q is not a number", t)
		}
		return f, nil
	}
	return 0, fmt.Errorf("cannot store %T as a number", v)
}

func toBoolean(v any) (bool, error) {
	switch t := v.(type) {
	case bool:
		return t, nil
	case int64:
		return t != 0, nil
	case int:
		return t != 0, nil
	case float64:
		return t != 0, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "1", "yes", "on", "y", "t":
			return true, nil
		case "false", "0", "no", "off", "n", "f", "":
			return false, nil
		}
		return false, fmt.Errorf("%q is not a boolean", t)
	}
	return false, fmt.Errorf("cannot store %T as BOOLEAN", v)
}

// toTimestamp returns unix milliseconds.
func toTimestamp(v any) (int64, error) {
	switch t := v.(type) {
	case time.Time:
		return t.UnixMilli(), nil
	case string:
		s := strings.TrimSpace(t)
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n, nil
		}
		for _, layout := range timestampLayouts {
			if ts, err := time.Parse(layout, s); err == nil {
				return ts.UnixMilli(), nil
			}
		}
		return 0, fmt.Errorf("%q is not a timestamp", t)
	}
	n, err := toInteger(v)
	if err != nil {
		return 0, fmt.Errorf("cannot store %T as TIMESTAMP", v)
	}
	return n, nil
}

// zeroValue is the value a NOT NULL column without a default receives.
func zeroValue(typ schemas.ColumnType) any {
	switch typ {
	case schemas.ColumnText:
		return ""
	case schemas.ColumnReal:
		return 0.0
	case schemas.ColumnBoolean:
		return false
	case schemas.ColumnBlob:
		return []byte{}
	}
	return int64(0)
}

// defaultFor returns the substitute of a NULL in a NOT NULL column.
func defaultFor(col schemas.DataStoreColumn) (any, error) {
	if col.DefaultValue != nil {
		return Coerce(col, col.DefaultValue)
	}
	return zeroValue(col.Type), nil
}

// CoerceValues coerces every value against its column. With insert set, NOT
// NULL columns missing from values are filled too.
func CoerceValues(table schemas.DataStoreTable, values map[string]any, insert bool) (map[string]any, error) {
	out := make(map[string]any, len(values))
	for name, v := range values {
		if name == schemas.IDColumn {
			return nil, schemas.NewError(schemas.KindConstraintViolation, "column %q is the row identifier and cannot be written", name)
		}
		col, ok := table.Column(name)
		if !ok {
			return nil, schemas.NewError(schemas.KindColumnNotFound, "%s.%s", table.Name, name)
		}
		coerced, err := Coerce(col, v)
		if err != nil {
			return nil, err
		}
		if coerced == nil && col.NotNull {
			if coerced, err = defaultFor(col); err != nil {
				return nil, err
			}
		}
		out[name] = coerced
	}
	if insert {
		for _, col := range table.Columns {
			if _, ok := out[col.Name]; ok || !col.NotNull {
				continue
			}
			v, err := defaultFor(col)
			if err != nil {
				return nil, err
			}
			out[col.Name] = v
		}
	}
	return out, nil
}
