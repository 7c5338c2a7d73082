// internal/store/store.go
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scrapeflow/api/schemas"
)

const defaultHistoryLimit = 50

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store is the PostgreSQL implementation of schemas.Repository. Scraper and
// routine definitions live in JSONB columns next to the fields queries
// filter on.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

var _ schemas.Repository = (*Store)(nil)

// New creates a new store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if pool == nil {
		return nil, errors.New("database pool cannot be nil")
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

// -- Schema --

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS scrapers (
        id TEXT PRIMARY KEY,
        name TEXT NOT NULL,
        definition JSONB NOT NULL,
        updated_at TIMESTAMPTZ NOT NULL
    )`,
	`CREATE TABLE IF NOT EXISTS routines (
        id TEXT PRIMARY KEY,
        scraper_id TEXT NOT NULL,
        status TEXT NOT NULL,
        definition JSONB NOT NULL,
        updated_at TIMESTAMPTZ NOT NULL
    )`,
	`CREATE TABLE IF NOT EXISTS execution_history (
        id TEXT PRIMARY KEY,
        scraper_id TEXT NOT NULL,
        routine_id TEXT,
        outcome TEXT NOT NULL,
        started_at TIMESTAMPTZ NOT NULL,
        finished_at TIMESTAMPTZ NOT NULL,
        trace JSONB NOT NULL
    )`,
	`CREATE INDEX IF NOT EXISTS execution_history_scraper_idx ON execution_history (scraper_id, started_at DESC)`,
}

// Migrate creates the tables the store needs. It is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	for _, stmt := range migrations {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply migration: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// -- Scrapers --

const (
	sqlGetScraper    = `SELECT definition FROM scrapers WHERE id = $1`
	sqlListScrapers  = `SELECT definition FROM scrapers ORDER BY name, id`
	sqlDeleteScraper = `DELETE FROM scrapers WHERE id = $1`
	sqlUpsertScraper = `
        INSERT INTO scrapers (id, name, definition, updated_at)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (id) DO UPDATE SET
            name = EXCLUDED.name,
            definition = EXCLUDED.definition,
            updated_at = EXCLUDED.updated_at`
)

func (s *Store) GetScraper(ctx context.Context, id string) (*schemas.ScraperType, error) {
	var scraper schemas.ScraperType
	if err := s.getDefinition(ctx, sqlGetScraper, id, &scraper); err != nil {
		return nil, fmt.Errorf("failed to get scraper %q: %w", id, err)
	}
	return &scraper, nil
}

func (s *Store) ListScrapers(ctx context.Context) ([]schemas.ScraperType, error) {
	var scrapers []schemas.ScraperType
	err := s.listDefinitions(ctx, sqlListScrapers, func(raw []byte) error {
		var scraper schemas.ScraperType
		if err := json.Unmarshal(raw, &scraper); err != nil {
			return err
		}
		scrapers = append(scrapers, scraper)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list scrapers: %w", err)
	}
	return scrapers, nil
}

func (s *Store) UpsertScraper(ctx context.Context, scraper schemas.ScraperType) error {
	if scraper.ID == "" {
		return errors.New("scraper id cannot be empty")
	}
	definition, err := json.Marshal(scraper)
	if err != nil {
		return fmt.Errorf("failed to encode scraper %q: %w", scraper.ID, err)
	}
	if _, err := s.pool.Exec(ctx, sqlUpsertScraper, scraper.ID, scraper.Name, definition, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to upsert scraper %q: %w", scraper.ID, err)
	}
	return nil
}

func (s *Store) DeleteScraper(ctx context.Context, id string) error {
	return s.delete(ctx, sqlDeleteScraper, "scraper", id)
}

// -- Routines --

const (
	sqlGetRoutine    = `SELECT definition FROM routines WHERE id = $1`
	sqlListRoutines  = `SELECT definition FROM routines ORDER BY id`
	sqlDeleteRoutine = `DELETE FROM routines WHERE id = $1`
	sqlUpsertRoutine = `
        INSERT INTO routines (id, scraper_id, status, definition, updated_at)
        VALUES ($1, $2, $3, $4, $5)
        ON CONFLICT (id) DO UPDATE SET
            scraper_id = EXCLUDED.scraper_id,
            status = EXCLUDED.status,
            definition = EXCLUDED.definition,
            updated_at = EXCLUDED.updated_at`
)

func (s *Store) GetRoutine(ctx context.Context, id string) (*schemas.Routine, error) {
	var routine schemas.Routine
	if err := s.getDefinition(ctx, sqlGetRoutine, id, &routine); err != nil {
		return nil, fmt.Errorf("failed to get routine %q: %w", id, err)
	}
	return &routine, nil
}

func (s *Store) ListRoutines(ctx context.Context) ([]schemas.Routine, error) {
	var routines []schemas.Routine
	err := s.listDefinitions(ctx, sqlListRoutines, func(raw []byte) error {
		var routine schemas.Routine
		if err := json.Unmarshal(raw, &routine); err != nil {
			return err
		}
		routines = append(routines, routine)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list routines: %w", err)
	}
	return routines, nil
}

func (s *Store) UpsertRoutine(ctx context.Context, routine schemas.Routine) error {
	if routine.ID == "" {
		return errors.New("routine id cannot be empty")
	}
	if routine.ScraperID == "" {
		return fmt.Errorf("routine %q has no scraper id", routine.ID)
	}
	if routine.Status == "" {
		routine.Status = schemas.RoutineActive
	}
	definition, err := json.Marshal(routine)
	if err != nil {
		return fmt.Errorf("failed to encode routine %q: %w", routine.ID, err)
	}
	_, err = s.pool.Exec(ctx, sqlUpsertRoutine, routine.ID, routine.ScraperID, string(routine.Status), definition, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to upsert routine %q: %w", routine.ID, err)
	}
	return nil
}

func (s *Store) DeleteRoutine(ctx context.Context, id string) error {
	return s.delete(ctx, sqlDeleteRoutine, "routine", id)
}

// -- Execution History --

const (
	sqlInsertHistory = `
        INSERT INTO execution_history (id, scraper_id, routine_id, outcome, started_at, finished_at, trace)
        VALUES ($1, $2, $3, $4, $5, $6, $7)`
	sqlCountHistory = `
        SELECT count(*) FROM execution_history
        WHERE ($1 = '' OR scraper_id = $1)`
	sqlListHistory = `
        SELECT trace FROM execution_history
        WHERE ($1 = '' OR scraper_id = $1)
        ORDER BY started_at DESC, id
        LIMIT $2 OFFSET $3`
)

// AppendExecutionHistory stores a finished execution. Records are never
// updated once written.
func (s *Store) AppendExecutionHistory(ctx context.Context, info schemas.ScraperExecutionInfo) error {
	trace, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("failed to encode execution %q: %w", info.ID, err)
	}
	var routineID *string
	if info.RoutineID != "" {
		routineID = &info.RoutineID
	}
	_, err = s.pool.Exec(ctx, sqlInsertHistory,
		info.ID, info.ScraperID, routineID, string(info.Outcome),
		info.StartedAt.UTC(), info.FinishedAt.UTC(), trace,
	)
	if err != nil {
		return fmt.Errorf("failed to append execution %q: %w", info.ID, err)
	}
	return nil
}

// ListExecutionHistory returns a page of executions, newest first.
func (s *Store) ListExecutionHistory(ctx context.Context, q schemas.HistoryQuery) (schemas.HistoryPage, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	var page schemas.HistoryPage
	var total int64
	if err := s.pool.QueryRow(ctx, sqlCountHistory, q.ScraperID).Scan(&total); err != nil {
		return page, fmt.Errorf("failed to count execution history: %w", err)
	}
	page.Total = int(total)

	err := s.listDefinitions(ctx, sqlListHistory, func(raw []byte) error {
		var info schemas.ScraperExecutionInfo
		if err := json.Unmarshal(raw, &info); err != nil {
			return err
		}
		page.Items = append(page.Items, info)
		return nil
	}, q.ScraperID, limit, offset)
	if err != nil {
		return page, fmt.Errorf("failed to list execution history: %w", err)
	}
	return page, nil
}

// -- Helpers --

func (s *Store) getDefinition(ctx context.Context, query, id string, dst any) error {
	var raw []byte
	if err := s.pool.QueryRow(ctx, query, id).Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return schemas.ErrNotFound
		}
		return err
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("failed to decode definition: %w", err)
	}
	return nil
}

func (s *Store) listDefinitions(ctx context.Context, query string, each func([]byte) error, args ...any) error {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return fmt.Errorf("failed to scan row: %w", err)
		}
		if err := each(raw); err != nil {
			return fmt.Errorf("failed to decode row: %w", err)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error during row iteration: %w", err)
	}
	return nil
}

func (s *Store) delete(ctx context.Context, query, kind, id string) error {
	tag, err := s.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete %s %q: %w", kind, id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("failed to delete %s %q: %w", kind, id, schemas.ErrNotFound)
	}
	return nil
}
