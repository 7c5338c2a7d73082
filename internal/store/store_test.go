// internal/store/store_test.go
package store

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jackc/pgx/v5"
	json "github.com/json-iterator/go"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/scrapeflow/api/schemas"
)

// flexibleSQLMatcher creates a regex that is insensitive to whitespace for more robust SQL mock testing.
func flexibleSQLMatcher(sql string) string {
	trimmed := strings.TrimSpace(sql)
	return regexp.MustCompile(`\s+`).ReplaceAllString(regexp.QuoteMeta(trimmed), `\s+`)
}

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mockPool.Close)

	mockPool.ExpectPing()
	store, err := New(context.Background(), mockPool, zap.NewNop())
	require.NoError(t, err)
	return store, mockPool
}

func sampleScraper() schemas.ScraperType {
	return schemas.ScraperType{
		ID:   "scraper-1",
		Name: "books",
		DataSources: []schemas.ScraperDataSource{
			{SourceAlias: "books", DataStoreTableName: "books"},
		},
		Instructions: []schemas.Instruction{{
			Type:       schemas.InstructionPageAction,
			PageAction: &schemas.PageAction{Type: schemas.PageActionNavigate, URL: "https://books.example.com"},
		}},
	}
}

// -- Test Cases --

func TestNewStore(t *testing.T) {
	t.Run("should return error if ping fails", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()

		pingErr := errors.New("database unavailable")
		mockPool.ExpectPing().WillReturnError(pingErr)

		_, err = New(context.Background(), mockPool, zap.NewNop())
		require.Error(t, err)
		assert.ErrorIs(t, err, pingErr, "Error from ping should be propagated")
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should reject a nil pool", func(t *testing.T) {
		_, err := New(context.Background(), nil, zap.NewNop())
		assert.EqualError(t, err, "database pool cannot be nil")
	})
}

func TestMigrate(t *testing.T) {
	t.Run("should apply every statement in one transaction", func(t *testing.T) {
		store, mockPool := newMockStore(t)
		observedZapCore, observedLogs := observer.New(zapcore.ErrorLevel)
		store.log = zap.New(observedZapCore)

		mockPool.ExpectBegin()
		for _, stmt := range migrations {
			mockPool.ExpectExec(flexibleSQLMatcher(stmt)).WillReturnResult(pgxmock.NewResult("CREATE", 0))
		}
		mockPool.ExpectCommit()
		mockPool.ExpectRollback().WillReturnError(pgx.ErrTxClosed)

		require.NoError(t, store.Migrate(context.Background()))
		assert.NoError(t, mockPool.ExpectationsWereMet())
		assert.Empty(t, observedLogs.All(), "Expected no errors logged on successful commit")
	})

	t.Run("should roll back when a statement fails", func(t *testing.T) {
		store, mockPool := newMockStore(t)

		mockPool.ExpectBegin()
		mockPool.ExpectExec(flexibleSQLMatcher(migrations[0])).WillReturnError(errors.New("permission denied"))
		mockPool.ExpectRollback()

		err := store.Migrate(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "permission denied")
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestScrapers(t *testing.T) {
	ctx := context.Background()

	t.Run("upsert stores the JSONB definition", func(t *testing.T) {
		store, mockPool := newMockStore(t)
		scraper := sampleScraper()
		definition, err := json.Marshal(scraper)
		require.NoError(t, err)

		mockPool.ExpectExec(flexibleSQLMatcher(sqlUpsertScraper)).
			WithArgs(scraper.ID, scraper.Name, definition, pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		require.NoError(t, store.UpsertScraper(ctx, scraper))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("upsert rejects an empty id", func(t *testing.T) {
		store, mockPool := newMockStore(t)
		assert.Error(t, store.UpsertScraper(ctx, schemas.ScraperType{Name: "nameless"}))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("get decodes the definition", func(t *testing.T) {
		store, mockPool := newMockStore(t)
		want := sampleScraper()
		definition, err := json.Marshal(want)
		require.NoError(t, err)

		mockPool.ExpectQuery(flexibleSQLMatcher(sqlGetScraper)).
			WithArgs(want.ID).
			WillReturnRows(pgxmock.NewRows([]string{"definition"}).AddRow(definition))

		got, err := store.GetScraper(ctx, want.ID)
		require.NoError(t, err)
		if diff := cmp.Diff(want, *got); diff != "" {
			t.Errorf("GetScraper() mismatch (-want +got):\n%s", diff)
		}
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("get reports a missing scraper as not found", func(t *testing.T) {
		store, mockPool := newMockStore(t)
		mockPool.ExpectQuery(flexibleSQLMatcher(sqlGetScraper)).
			WithArgs("missing").
			WillReturnRows(pgxmock.NewRows([]string{"definition"}))

		_, err := store.GetScraper(ctx, "missing")
		assert.ErrorIs(t, err, schemas.ErrNotFound)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("list returns every definition", func(t *testing.T) {
		store, mockPool := newMockStore(t)
		first := sampleScraper()
		second := sampleScraper()
		second.ID, second.Name = "scraper-2", "movies"
		a, _ := json.Marshal(first)
		b, _ := json.Marshal(second)

		mockPool.ExpectQuery(flexibleSQLMatcher(sqlListScrapers)).
			WillReturnRows(pgxmock.NewRows([]string{"definition"}).AddRow(a).AddRow(b))

		scrapers, err := store.ListScrapers(ctx)
		require.NoError(t, err)
		require.Len(t, scrapers, 2)
		assert.Equal(t, "movies", scrapers[1].Name)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("delete of a missing scraper is not found", func(t *testing.T) {
		store, mockPool := newMockStore(t)
		mockPool.ExpectExec(flexibleSQLMatcher(sqlDeleteScraper)).
			WithArgs("missing").
			WillReturnResult(pgxmock.NewResult("DELETE", 0))

		assert.ErrorIs(t, store.DeleteScraper(ctx, "missing"), schemas.ErrNotFound)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestRoutines(t *testing.T) {
	ctx := context.Background()
	next := time.Date(2026, 1, 2, 3, 0, 0, 0, time.UTC)
	routine := schemas.Routine{
		ID:        "routine-1",
		ScraperID: "scraper-1",
		Scheduler: schemas.Scheduler{
			Type:     schemas.SchedulerInterval,
			Interval: schemas.Millis(3_600_000),
			StartAt:  next.Add(-time.Hour),
		},
		PauseAfterNumberOfFailedExecutions: 3,
		NextScheduledExecutionAt:           &next,
	}

	t.Run("upsert defaults the status to active", func(t *testing.T) {
		store, mockPool := newMockStore(t)
		stored := routine
		stored.Status = schemas.RoutineActive
		definition, err := json.Marshal(stored)
		require.NoError(t, err)

		mockPool.ExpectExec(flexibleSQLMatcher(sqlUpsertRoutine)).
			WithArgs(routine.ID, routine.ScraperID, "active", definition, pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		require.NoError(t, store.UpsertRoutine(ctx, routine))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("upsert requires a scraper", func(t *testing.T) {
		store, _ := newMockStore(t)
		err := store.UpsertRoutine(ctx, schemas.Routine{ID: "orphan"})
		assert.EqualError(t, err, `routine "orphan" has no scraper id`)
	})

	t.Run("get round trips scheduling state", func(t *testing.T) {
		store, mockPool := newMockStore(t)
		want := routine
		want.Status = schemas.RoutinePausedDueToMaxNumberOfFailedExecutions
		want.FailedExecutionsInARow = 3
		definition, err := json.Marshal(want)
		require.NoError(t, err)

		mockPool.ExpectQuery(flexibleSQLMatcher(sqlGetRoutine)).
			WithArgs(want.ID).
			WillReturnRows(pgxmock.NewRows([]string{"definition"}).AddRow(definition))

		got, err := store.GetRoutine(ctx, want.ID)
		require.NoError(t, err)
		assert.Equal(t, want.Status, got.Status)
		assert.Equal(t, 3, got.FailedExecutionsInARow)
		require.NotNil(t, got.NextScheduledExecutionAt)
		assert.True(t, next.Equal(*got.NextScheduledExecutionAt))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestExecutionHistory(t *testing.T) {
	ctx := context.Background()
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	started := time.Date(2025, 11, 20, 10, 0, 0, 0, loc)

	info := schemas.ScraperExecutionInfo{
		ID:         "exec-1",
		ScraperID:  "scraper-1",
		StartedAt:  started,
		FinishedAt: started.Add(time.Minute),
		Outcome:    schemas.OutcomeSuccess,
		Iterations: []schemas.IterationInfo{{Index: 0, Entries: []schemas.ExecutionInfo{{ID: "e1", Type: schemas.InfoSuccess}}}},
	}

	t.Run("append converts timestamps to UTC and omits empty routine ids", func(t *testing.T) {
		store, mockPool := newMockStore(t)
		trace, err := json.Marshal(info)
		require.NoError(t, err)

		mockPool.ExpectExec(flexibleSQLMatcher(sqlInsertHistory)).
			WithArgs(info.ID, info.ScraperID, (*string)(nil), "success", started.UTC(), started.Add(time.Minute).UTC(), trace).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		require.NoError(t, store.AppendExecutionHistory(ctx, info))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("list pages newest first", func(t *testing.T) {
		store, mockPool := newMockStore(t)
		trace, err := json.Marshal(info)
		require.NoError(t, err)

		mockPool.ExpectQuery(flexibleSQLMatcher(sqlCountHistory)).
			WithArgs("scraper-1").
			WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(7)))
		mockPool.ExpectQuery(flexibleSQLMatcher(sqlListHistory)).
			WithArgs("scraper-1", 5, 5).
			WillReturnRows(pgxmock.NewRows([]string{"trace"}).AddRow(trace))

		page, err := store.ListExecutionHistory(ctx, schemas.HistoryQuery{ScraperID: "scraper-1", Limit: 5, Offset: 5})
		require.NoError(t, err)
		assert.Equal(t, 7, page.Total)
		require.Len(t, page.Items, 1)
		assert.Equal(t, "exec-1", page.Items[0].ID)
		assert.Equal(t, schemas.OutcomeSuccess, page.Items[0].Outcome)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("list defaults the page size", func(t *testing.T) {
		store, mockPool := newMockStore(t)
		mockPool.ExpectQuery(flexibleSQLMatcher(sqlCountHistory)).
			WithArgs("").
			WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(0)))
		mockPool.ExpectQuery(flexibleSQLMatcher(sqlListHistory)).
			WithArgs("", defaultHistoryLimit, 0).
			WillReturnRows(pgxmock.NewRows([]string{"trace"}))

		page, err := store.ListExecutionHistory(ctx, schemas.HistoryQuery{Offset: -3})
		require.NoError(t, err)
		assert.Zero(t, page.Total)
		assert.Empty(t, page.Items)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}
