// internal/store/memory.go
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	json "github.com/json-iterator/go"

	"github.com/xkilldash9x/scrapeflow/api/schemas"
)

// Memory is a process-local schemas.Repository for one-off runs and tests.
// Values are deep copied on the way in and out so callers never share
// state with the store.
type Memory struct {
	mu       sync.RWMutex
	scrapers map[string]schemas.ScraperType
	routines map[string]schemas.Routine
	history  []schemas.ScraperExecutionInfo
}

var _ schemas.Repository = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		scrapers: make(map[string]schemas.ScraperType),
		routines: make(map[string]schemas.Routine),
	}
}

func (m *Memory) GetScraper(ctx context.Context, id string) (*schemas.ScraperType, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.scrapers[id]
	if !ok {
		return nil, fmt.Errorf("failed to get scraper %q: %w", id, schemas.ErrNotFound)
	}
	var out schemas.ScraperType
	if err := clone(s, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (m *Memory) ListScrapers(ctx context.Context) ([]schemas.ScraperType, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]schemas.ScraperType, 0, len(m.scrapers))
	for _, s := range m.scrapers {
		var c schemas.ScraperType
		if err := clone(s, &c); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) UpsertScraper(ctx context.Context, scraper schemas.ScraperType) error {
	if scraper.ID == "" {
		return errors.New("scraper id cannot be empty")
	}
	var c schemas.ScraperType
	if err := clone(scraper, &c); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scrapers[scraper.ID] = c
	return nil
}

func (m *Memory) DeleteScraper(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.scrapers[id]; !ok {
		return fmt.Errorf("failed to delete scraper %q: %w", id, schemas.ErrNotFound)
	}
	delete(m.scrapers, id)
	return nil
}

func (m *Memory) GetRoutine(ctx context.Context, id string) (*schemas.Routine, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.routines[id]
	if !ok {
		return nil, fmt.Errorf("failed to get routine %q: %w", id, schemas.ErrNotFound)
	}
	var out schemas.Routine
	if err := clone(r, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (m *Memory) ListRoutines(ctx context.Context) ([]schemas.Routine, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]schemas.Routine, 0, len(m.routines))
	for _, r := range m.routines {
		var c schemas.Routine
		if err := clone(r, &c); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) UpsertRoutine(ctx context.Context, routine schemas.Routine) error {
	if routine.ID == "" {
		return errors.New("routine id cannot be empty")
	}
	if routine.ScraperID == "" {
		return fmt.Errorf("routine %q has no scraper id", routine.ID)
	}
	if routine.Status == "" {
		routine.Status = schemas.RoutineActive
	}
	var c schemas.Routine
	if err := clone(routine, &c); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.routines[routine.ID] = c
	return nil
}

func (m *Memory) DeleteRoutine(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.routines[id]; !ok {
		return fmt.Errorf("failed to delete routine %q: %w", id, schemas.ErrNotFound)
	}
	delete(m.routines, id)
	return nil
}

func (m *Memory) AppendExecutionHistory(ctx context.Context, info schemas.ScraperExecutionInfo) error {
	var c schemas.ScraperExecutionInfo
	if err := clone(info, &c); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = append(m.history, c)
	return nil
}

// ListExecutionHistory pages through history newest first.
func (m *Memory) ListExecutionHistory(ctx context.Context, q schemas.HistoryQuery) (schemas.HistoryPage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []schemas.ScraperExecutionInfo
	for i := len(m.history) - 1; i >= 0; i-- {
		if q.ScraperID == "" || m.history[i].ScraperID == q.ScraperID {
			matched = append(matched, m.history[i])
		}
	}
	sort.SliceStable(matched, func(i, j int) bool { return matched[i].StartedAt.After(matched[j].StartedAt) })

	page := schemas.HistoryPage{Total: len(matched)}
	limit := q.Limit
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	start := min(max(q.Offset, 0), len(matched))
	end := min(start+limit, len(matched))
	for _, info := range matched[start:end] {
		var c schemas.ScraperExecutionInfo
		if err := clone(info, &c); err != nil {
			return page, err
		}
		page.Items = append(page.Items, c)
	}
	return page, nil
}

func clone(src, dst any) error {
	raw, err := json.Marshal(src)
	if err != nil {
		return fmt.Errorf("failed to copy value: %w", err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("failed to copy value: %w", err)
	}
	return nil
}
