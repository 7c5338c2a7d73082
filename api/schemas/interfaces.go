package schemas

import (
	"context"
	"errors"
)

// ErrNotFound is returned by repositories when a record does not exist.
var ErrNotFound = errors.New("record not found")

// -- Definition & History Store --

// ScraperRepository stores scraper definitions.
type ScraperRepository interface {
	GetScraper(ctx context.Context, id string) (*ScraperType, error)
	ListScrapers(ctx context.Context) ([]ScraperType, error)
	UpsertScraper(ctx context.Context, scraper ScraperType) error
	DeleteScraper(ctx context.Context, id string) error
}

// RoutineRepository stores routines and their scheduling state.
//
//go:generate mockery --name RoutineRepository --output ../../internal/mocks --outpkg mocks
type RoutineRepository interface {
	GetRoutine(ctx context.Context, id string) (*Routine, error)
	ListRoutines(ctx context.Context) ([]Routine, error)
	UpsertRoutine(ctx context.Context, routine Routine) error
	DeleteRoutine(ctx context.Context, id string) error
}

// HistoryQuery selects a page of execution history. An empty ScraperID
// lists every scraper.
type HistoryQuery struct {
	ScraperID string
	Limit     int
	Offset    int
}

// HistoryPage is one page of execution history, newest first.
type HistoryPage struct {
	Items []ScraperExecutionInfo `json:"items"`
	Total int                    `json:"total"`
}

// HistoryRepository stores finished executions.
type HistoryRepository interface {
	AppendExecutionHistory(ctx context.Context, info ScraperExecutionInfo) error
	ListExecutionHistory(ctx context.Context, q HistoryQuery) (HistoryPage, error)
}

// Repository is the full definition and history store.
type Repository interface {
	ScraperRepository
	RoutineRepository
	HistoryRepository
}
