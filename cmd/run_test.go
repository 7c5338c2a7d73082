// File: cmd/run_test.go
package cmd

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/scrapeflow/api/schemas"
	"github.com/xkilldash9x/scrapeflow/internal/definitions"
	"github.com/xkilldash9x/scrapeflow/internal/engine"
)

type fakeFollower struct {
	events     chan engine.Event
	terminated chan string
	result     schemas.ScraperExecutionInfo
}

func newFakeFollower() *fakeFollower {
	return &fakeFollower{
		events:     make(chan engine.Event, 8),
		terminated: make(chan string, 1),
	}
}

func (f *fakeFollower) Subscribe(id string) (<-chan engine.Event, func(), error) {
	return f.events, func() {}, nil
}

func (f *fakeFollower) Terminate(id string) error {
	f.terminated <- id
	return nil
}

func (f *fakeFollower) Wait(ctx context.Context, id string) (schemas.ScraperExecutionInfo, error) {
	return f.result, nil
}

func sampleResult(outcome schemas.ExecutionOutcome) schemas.ScraperExecutionInfo {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	return schemas.ScraperExecutionInfo{
		ID:         "exec-1",
		ScraperID:  "books",
		StartedAt:  start,
		FinishedAt: start.Add(2 * time.Second),
		Outcome:    outcome,
		Iterations: []schemas.IterationInfo{{
			Index:   0,
			Entries: []schemas.ExecutionInfo{{Type: schemas.InfoSuccess}},
		}},
	}
}

func TestFollow(t *testing.T) {
	t.Run("StreamsUntilExit", func(t *testing.T) {
		f := newFakeFollower()
		result := sampleResult(schemas.OutcomeSuccess)
		f.events <- engine.Event{Type: engine.EventStateChanged, State: engine.StateExecuting}
		f.events <- engine.Event{Type: engine.EventEntry, Entry: &schemas.ExecutionInfo{
			Type:        schemas.InfoInstruction,
			Duration:    schemas.Millis(120),
			Instruction: &schemas.InstructionInfo{Index: 0, Label: "pageAction:navigate"},
		}}
		f.events <- engine.Event{Type: engine.EventExited, Result: &result}

		var out bytes.Buffer
		got, err := follow(context.Background(), &out, f, "exec-1")
		require.NoError(t, err)
		assert.Equal(t, result, got)
		assert.Contains(t, out.String(), "#0 pageAction:navigate (120ms)")
		assert.Contains(t, out.String(), "Execution exec-1 finished: success")
		assert.Contains(t, out.String(), "iterations: 1 (failed: 0)")
	})

	t.Run("CancelTerminates", func(t *testing.T) {
		f := newFakeFollower()
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		done := make(chan schemas.ScraperExecutionInfo)
		go func() {
			got, _ := follow(ctx, &bytes.Buffer{}, f, "exec-1")
			done <- got
		}()

		assert.Equal(t, "exec-1", <-f.terminated)
		result := sampleResult(schemas.OutcomeTerminated)
		f.events <- engine.Event{Type: engine.EventExited, Result: &result}
		assert.Equal(t, schemas.OutcomeTerminated, (<-done).Outcome)
	})

	t.Run("DroppedSubscriberWaits", func(t *testing.T) {
		f := newFakeFollower()
		f.result = sampleResult(schemas.OutcomeError)
		close(f.events)

		got, err := follow(context.Background(), &bytes.Buffer{}, f, "exec-1")
		require.NoError(t, err)
		assert.Equal(t, schemas.OutcomeError, got.Outcome)
	})
}

func TestPickScraper(t *testing.T) {
	one := &definitions.Bundle{Scrapers: []schemas.ScraperType{{ID: "books"}}}
	two := &definitions.Bundle{Scrapers: []schemas.ScraperType{{ID: "a"}, {ID: "b"}}}

	id, err := pickScraper(nil, []string{"x"})
	require.NoError(t, err)
	assert.Equal(t, "x", id)

	id, err = pickScraper(one, nil)
	require.NoError(t, err)
	assert.Equal(t, "books", id)

	id, err = pickScraper(two, []string{"b"})
	require.NoError(t, err)
	assert.Equal(t, "b", id)

	_, err = pickScraper(two, nil)
	assert.ErrorContains(t, err, "holds 2 scrapers")

	_, err = pickScraper(nil, nil)
	assert.Error(t, err)
}

func TestDescribeEntry(t *testing.T) {
	row := int64(7)
	tests := []struct {
		name  string
		entry schemas.ExecutionInfo
		want  string
	}{
		{"DataOperation", schemas.ExecutionInfo{
			Type:          schemas.InfoExternalDataOperation,
			DataOperation: &schemas.DataOperationInfo{Operation: schemas.DataOperationWrite, DataSourceName: "products", RowID: &row},
		}, "write products row=7"},
		{"Error", schemas.ExecutionInfo{
			Type:  schemas.InfoError,
			Error: &schemas.ErrorInfo{Kind: schemas.KindElementNotFound, Message: "no match"},
		}, ": no match"},
		{"PageOpened", schemas.ExecutionInfo{Type: schemas.InfoPageOpened, PageIndex: 1, URL: "https://x.test"}, "page=1 https://x.test"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Contains(t, describeEntry(tt.entry), tt.want)
		})
	}
}
