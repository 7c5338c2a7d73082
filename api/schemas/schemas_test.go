package schemas_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	json "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/xkilldash9x/scrapeflow/api/schemas"
)

// -- Duration --

func TestDurationJSON(t *testing.T) {
	t.Parallel()

	b, err := json.Marshal(schemas.Millis(1500))
	require.NoError(t, err)
	assert.Equal(t, "1500", string(b))

	var d schemas.Duration
	require.NoError(t, json.Unmarshal([]byte("250.5"), &d))
	assert.Equal(t, 250*time.Millisecond+500*time.Microsecond, d.Std())

	require.NoError(t, json.Unmarshal([]byte("null"), &d))
	assert.Zero(t, d)

	assert.Error(t, json.Unmarshal([]byte(`"soon"`), &d))
}

func TestDurationYAML(t *testing.T) {
	t.Parallel()

	var s schemas.Scheduler
	require.NoError(t, yaml.Unmarshal([]byte("type: interval\ninterval: 3600000\n"), &s))
	assert.Equal(t, time.Hour, s.Interval.Std())

	out, err := yaml.Marshal(schemas.Millis(250))
	require.NoError(t, err)
	assert.Equal(t, "250\n", string(out))
}

// -- Iterator Range --

func TestIteratorRangeDecoding(t *testing.T) {
	t.Parallel()

	t.Run("scalar from JSON", func(t *testing.T) {
		var it schemas.ExecutionIterator
		raw := `{"type":"range","dataSourceName":"products","identifier":"sku","range":42}`
		require.NoError(t, json.Unmarshal([]byte(raw), &it))
		require.NotNil(t, it.Range)
		assert.False(t, it.Range.Span)
		assert.Equal(t, int64(42), it.Range.Value)
	})

	t.Run("span from JSON", func(t *testing.T) {
		var r schemas.Range
		require.NoError(t, json.Unmarshal([]byte(`{"start":2,"end":4}`), &r))
		assert.True(t, r.Span)
		assert.Equal(t, int64(2), r.Start)
		assert.Equal(t, int64(4), r.End)
		assert.Equal(t, int64(1), r.StepOrDefault())
	})

	t.Run("string scalar keeps its type", func(t *testing.T) {
		var r schemas.Range
		require.NoError(t, json.Unmarshal([]byte(`"abc"`), &r))
		assert.Equal(t, "abc", r.Value)
	})

	t.Run("span from YAML", func(t *testing.T) {
		var it schemas.ExecutionIterator
		doc := "type: range\ndataSourceName: products\nrange:\n  start: 1\n  end: 9\n  step: 3\n"
		require.NoError(t, yaml.Unmarshal([]byte(doc), &it))
		require.NotNil(t, it.Range)
		assert.Equal(t, *schemas.SpanRange(1, 9, 3), *it.Range)
	})

	t.Run("marshal round trip", func(t *testing.T) {
		b, err := json.Marshal(schemas.SpanRange(2, 4, 0))
		require.NoError(t, err)
		assert.JSONEq(t, `{"start":2,"end":4}`, string(b))

		b, err = json.Marshal(schemas.SingleValue("x"))
		require.NoError(t, err)
		assert.Equal(t, `"x"`, string(b))
	})
}

// -- Instructions --

func TestInstructionDecoding(t *testing.T) {
	t.Parallel()
	raw := `[
		{"type":"pageAction","pageAction":{"type":"navigate","url":"https://example.com"}},
		{"type":"condition","condition":{
			"condition":{"type":"isVisible","selectors":[{"type":"query","query":"#next"}]},
			"then":[{"type":"jump","jump":{"markerName":"top"}}]
		}},
		{"type":"marker","marker":{"name":"top"}},
		{"type":"pageAction","pageAction":{"type":"wait","duration":1000}}
	]`

	var instructions []schemas.Instruction
	require.NoError(t, json.Unmarshal([]byte(raw), &instructions))
	require.Len(t, instructions, 4)

	assert.Equal(t, "pageAction:navigate", instructions[0].Label())
	require.NotNil(t, instructions[1].Condition)
	assert.Equal(t, schemas.ConditionIsVisible, instructions[1].Condition.Condition.Type)
	assert.Equal(t, "jump:top", instructions[1].Condition.Then[0].Label())
	assert.Equal(t, time.Second, instructions[3].PageAction.Duration.Std())
}

// -- Errors --

func TestEngineErrorMatching(t *testing.T) {
	t.Parallel()

	base := schemas.NewError(schemas.KindElementNotFound, "no element for %d selectors", 2)
	wrapped := fmt.Errorf("click failed: %w", base)

	assert.True(t, errors.Is(wrapped, schemas.ErrElementNotFound))
	assert.False(t, errors.Is(wrapped, schemas.ErrRowNotFound))
	assert.Equal(t, schemas.KindElementNotFound, schemas.KindOf(wrapped))
	assert.Equal(t, schemas.KindInternal, schemas.KindOf(errors.New("boom")))

	cause := errors.New("socket closed")
	nav := schemas.WrapError(schemas.KindNavigation, cause, "goto %s", "https://x")
	assert.ErrorIs(t, nav, cause)
	assert.Equal(t, "Navigation: goto https://x: socket closed", nav.Error())

	info := schemas.ToErrorInfo(&schemas.EngineError{Kind: schemas.KindWaitForNavigationTimeout, Retryable: true})
	assert.True(t, info.Retryable)
	assert.Nil(t, schemas.ToErrorInfo(nil))
}

// -- Trace --

func TestDeriveOutcome(t *testing.T) {
	t.Parallel()

	iteration := func(typ schemas.ExecutionInfoType, kind schemas.ErrorKind) schemas.IterationInfo {
		entry := schemas.ExecutionInfo{Type: typ}
		if typ == schemas.InfoError {
			entry.Error = &schemas.ErrorInfo{Kind: kind}
		}
		return schemas.IterationInfo{Entries: []schemas.ExecutionInfo{{Type: schemas.InfoInstruction}, entry}}
	}

	assert.Equal(t, schemas.OutcomeSuccess, schemas.DeriveOutcome(nil))
	assert.Equal(t, schemas.OutcomeSuccess, schemas.DeriveOutcome([]schemas.IterationInfo{
		iteration(schemas.InfoSuccess, ""), iteration(schemas.InfoSuccess, ""),
	}))
	assert.Equal(t, schemas.OutcomeError, schemas.DeriveOutcome([]schemas.IterationInfo{
		iteration(schemas.InfoSuccess, ""), iteration(schemas.InfoError, schemas.KindElementNotFound),
	}))
	assert.Equal(t, schemas.OutcomeTerminated, schemas.DeriveOutcome([]schemas.IterationInfo{
		iteration(schemas.InfoError, schemas.KindRowNotFound), iteration(schemas.InfoError, schemas.KindTerminated),
	}))
	assert.Equal(t, schemas.OutcomeError, schemas.DeriveOutcome([]schemas.IterationInfo{{}}),
		"an iteration without a terminal entry counts as an error")
}

func TestWhereSchemaHelpers(t *testing.T) {
	t.Parallel()

	var nilSchema *schemas.WhereSchema
	assert.True(t, nilSchema.IsEmpty())
	assert.True(t, (&schemas.WhereSchema{}).IsEmpty())
	assert.False(t, (&schemas.WhereSchema{Column: "a", Condition: schemas.WhereIsNull}).IsEmpty())

	group := schemas.WhereSchema{Or: []schemas.WhereSchema{{Column: "a", Condition: schemas.WhereEquals, Value: 1}}}
	assert.True(t, group.IsGroup())

	row := schemas.Row{"id": int64(7)}
	id, ok := row.ID()
	assert.True(t, ok)
	assert.Equal(t, int64(7), id)
}
