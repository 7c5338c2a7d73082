// internal/engine/manager.go
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scrapeflow/api/schemas"
	"github.com/xkilldash9x/scrapeflow/internal/config"
	"github.com/xkilldash9x/scrapeflow/internal/datasource"
	"github.com/xkilldash9x/scrapeflow/internal/interpreter"
	"github.com/xkilldash9x/scrapeflow/internal/iterator"
	"github.com/xkilldash9x/scrapeflow/internal/metrics"
	"github.com/xkilldash9x/scrapeflow/internal/resolver"
	"github.com/xkilldash9x/scrapeflow/internal/selector"
)

const (
	finishedRetention = 256
	persistTimeout    = 30 * time.Second
)

var (
	// ErrExecutionNotFound is returned for unknown or evicted execution ids.
	ErrExecutionNotFound = errors.New("execution not found")
	// ErrManagerClosed is returned by Execute after Shutdown.
	ErrManagerClosed = errors.New("execution manager is shut down")
)

// -- Interfaces for Dependency Inversion --

// Definitions loads scraper definitions and stores finished runs.
type Definitions interface {
	GetScraper(ctx context.Context, id string) (*schemas.ScraperType, error)
	AppendExecutionHistory(ctx context.Context, info schemas.ScraperExecutionInfo) error
}

// Request describes an execution.
type Request struct {
	ScraperID string
	// RoutineID is set when a routine triggered the run.
	RoutineID string
	// Iterator selects the rows to run against. nil runs once without a row.
	Iterator *schemas.ExecutionIterator
}

// Manager owns the registry of executions. At most one execution per
// scraper is live at a time.
type Manager struct {
	cfg      config.Interface
	defs     Definitions
	launcher schemas.SessionLauncher
	tables   datasource.TableStore
	finder   *selector.Finder
	notifier schemas.Notifier
	metrics  *metrics.Metrics
	logger   *zap.Logger

	baseCtx    context.Context
	baseCancel context.CancelCauseFunc
	wg         sync.WaitGroup

	mu        sync.Mutex
	live      map[string]*execution // by execution id
	byScraper map[string]*execution
	finished  *lru.Cache[string, *execution]
	closed    bool
}

// NewManager creates a Manager. notifier and m may be nil.
func NewManager(
	cfg config.Interface,
	defs Definitions,
	launcher schemas.SessionLauncher,
	tables datasource.TableStore,
	notifier schemas.Notifier,
	m *metrics.Metrics,
	logger *zap.Logger,
) (*Manager, error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}
	if defs == nil {
		return nil, errors.New("definitions cannot be nil")
	}
	if launcher == nil {
		return nil, errors.New("session launcher cannot be nil")
	}
	if tables == nil {
		return nil, errors.New("table store cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	matcher, err := selector.NewMatcher(cfg.Engine().RegexCacheSize)
	if err != nil {
		return nil, err
	}
	finished, err := lru.New[string, *execution](finishedRetention)
	if err != nil {
		return nil, fmt.Errorf("failed to create execution cache: %w", err)
	}
	logger = logger.Named("engine")
	if notifier == nil {
		notifier = interpreter.NewLogNotifier(logger)
	}

	baseCtx, baseCancel := context.WithCancelCause(context.Background())
	return &Manager{
		cfg:        cfg,
		defs:       defs,
		launcher:   launcher,
		tables:     tables,
		finder:     selector.NewFinder(matcher, logger),
		notifier:   notifier,
		metrics:    m,
		logger:     logger,
		baseCtx:    baseCtx,
		baseCancel: baseCancel,
		live:       make(map[string]*execution),
		byScraper:  make(map[string]*execution),
		finished:   finished,
	}, nil
}

// Execute starts an execution of req.ScraperID and returns its id. If the
// scraper already has a live execution, that execution's id is returned and
// nothing new is started. Definition problems are reported synchronously.
func (m *Manager) Execute(ctx context.Context, req Request) (string, error) {
	if id, ok := m.liveFor(req.ScraperID); ok {
		return id, nil
	}

	scraper, err := m.defs.GetScraper(ctx, req.ScraperID)
	if err != nil {
		return "", fmt.Errorf("failed to load scraper %q: %w", req.ScraperID, err)
	}
	program, err := interpreter.Compile(scraper.Instructions)
	if err != nil {
		return "", err
	}
	bridge, err := datasource.NewBridge(m.tables, scraper.DataSources, m.logger)
	if err != nil {
		return "", err
	}
	seq, err := iterator.New(req.Iterator, bridge, m.cfg.DataStore().BatchSize)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return "", ErrManagerClosed
	}
	if existing, ok := m.byScraper[req.ScraperID]; ok {
		return existing.id, nil
	}

	buffer := m.cfg.Engine().SubscriberBuffer
	if buffer < 1 {
		buffer = 1
	}
	execCtx, cancel := context.WithCancelCause(m.baseCtx)
	exec := &execution{
		id:      uuid.NewString(),
		scraper: *scraper,
		program: program,
		seq:     seq,
		ctx:     execCtx,
		cancel:  cancel,
		done:    make(chan struct{}),
		state:   StateIdle,
		subs:    make(map[int]chan Event),
		buffer:  buffer,
	}
	exec.info = schemas.ScraperExecutionInfo{
		ID:        exec.id,
		ScraperID: req.ScraperID,
		RoutineID: req.RoutineID,
		Iterator:  req.Iterator,
		StartedAt: time.Now(),
	}
	m.live[exec.id] = exec
	m.byScraper[req.ScraperID] = exec

	m.wg.Add(1)
	go m.run(exec, bridge)
	m.logger.Info("Execution accepted.", zap.String("execution_id", exec.id), zap.String("scraper_id", req.ScraperID))
	return exec.id, nil
}

func (m *Manager) liveFor(scraperID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.byScraper[scraperID]; ok {
		return e.id, true
	}
	return "", false
}

// Terminate cancels a live execution. It returns once cancellation is
// requested; use Wait to observe the exit.
func (m *Manager) Terminate(id string) error {
	e, err := m.lookup(id)
	if err != nil {
		return err
	}
	e.cancel(schemas.NewError(schemas.KindTerminated, "terminated by user"))
	return nil
}

// Get returns a snapshot of an execution, live or recently finished.
func (m *Manager) Get(id string) (Snapshot, error) {
	e, err := m.lookup(id)
	if err != nil {
		return Snapshot{}, err
	}
	return e.snapshot(), nil
}

// Subscribe streams the live events of an execution. The first event
// carries the current state. The channel is closed after the exited event,
// when the subscriber falls too far behind, or when cancel is called.
func (m *Manager) Subscribe(id string) (<-chan Event, func(), error) {
	e, err := m.lookup(id)
	if err != nil {
		return nil, nil, err
	}
	ch, cancel := e.subscribe()
	return ch, cancel, nil
}

// Wait blocks until the execution exits and returns its record.
func (m *Manager) Wait(ctx context.Context, id string) (schemas.ScraperExecutionInfo, error) {
	e, err := m.lookup(id)
	if err != nil {
		return schemas.ScraperExecutionInfo{}, err
	}
	select {
	case <-ctx.Done():
		return schemas.ScraperExecutionInfo{}, ctx.Err()
	case <-e.done:
		return e.snapshot().Info, nil
	}
}

// Live lists the ids of executions that have not exited.
func (m *Manager) Live() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.live))
	for id := range m.live {
		ids = append(ids, id)
	}
	return ids
}

// Shutdown terminates every live execution and waits for them to exit or
// for ctx to be done. Later calls to Execute fail.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.baseCancel(schemas.NewError(schemas.KindTerminated, "engine shutting down"))

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		m.logger.Info("Execution manager stopped gracefully.")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("executions still running at shutdown: %w", ctx.Err())
	}
}

func (m *Manager) lookup(id string) (*execution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.live[id]; ok {
		return e, nil
	}
	if e, ok := m.finished.Get(id); ok {
		return e, nil
	}
	return nil, ErrExecutionNotFound
}

// -- Execution loop --

func (m *Manager) run(e *execution, bridge *datasource.Bridge) {
	defer m.wg.Done()
	defer e.cancel(nil)
	logger := m.logger.With(zap.String("execution_id", e.id), zap.String("scraper_id", e.scraper.ID))
	m.metrics.ExecutionStarted()
	defer m.metrics.ExecutionFinished()

	e.setState(StatePending)
	session, err := m.launcher.LaunchSession(e.ctx, e.scraper)
	if err != nil {
		logger.Error("Failed to launch browser session.", zap.Error(err))
		m.failRun(e, err)
		m.finish(e, logger)
		return
	}
	defer func() {
		destroyCtx, cancel := context.WithTimeout(context.WithoutCancel(e.ctx), m.cfg.Engine().TerminateGracePeriod)
		defer cancel()
		if err := session.Destroy(destroyCtx); err != nil {
			logger.Warn("Failed to destroy browser session.", zap.Error(err))
		}
		m.finish(e, logger)
	}()

	engineCfg := m.cfg.Engine()
	res, err := resolver.New(m.finder, bridge, selector.Options{
		Timeout:      engineCfg.ElementTimeout,
		FrameTimeout: engineCfg.FrameTimeout,
		PollInterval: engineCfg.PollInterval,
	}, logger)
	if err != nil {
		m.failRun(e, err)
		return
	}
	interp, err := interpreter.New(e.program, interpreter.Dependencies{
		Resolver: res,
		Data:     bridge,
		Notifier: m.notifier,
		Metrics:  m.metrics,
		Logger:   logger,
	}, interpreter.Options{
		MaxSteps:       engineCfg.MaxStepsPerIteration,
		NavigationWait: engineCfg.NavigationWait,
		ScreenshotDir:  m.cfg.Browser().ScreenshotDir,
	})
	if err != nil {
		m.failRun(e, err)
		return
	}

	e.setState(StateExecuting)
	for index := 0; ; index++ {
		if e.ctx.Err() != nil {
			m.failIteration(e, index, context.Cause(e.ctx))
			return
		}
		row, ok, err := e.seq.Next(e.ctx)
		if err != nil {
			m.failIteration(e, index, err)
			return
		}
		if !ok {
			return
		}

		e.beginIteration(schemas.IterationInfo{Index: index, RowID: row.RowID(), StartedAt: time.Now()})
		result := interp.RunIteration(e.ctx, index, session, row, e.appendEntry)
		e.endIteration(result)
		if terminal, ok := result.Terminal(); ok && terminal.Error != nil && terminal.Error.Kind == schemas.KindTerminated {
			return
		}
	}
}

// failRun records a failure that happened before any iteration ran.
func (m *Manager) failRun(e *execution, err error) {
	m.failIteration(e, 0, err)
}

// failIteration records a failed iteration that never reached the interpreter.
func (m *Manager) failIteration(e *execution, index int, err error) {
	if e.ctx.Err() != nil && schemas.KindOf(err) != schemas.KindTerminated {
		err = schemas.WrapError(schemas.KindTerminated, err, "execution terminated")
	}
	now := time.Now()
	e.beginIteration(schemas.IterationInfo{Index: index, StartedAt: now})
	e.appendEntry(schemas.ExecutionInfo{
		ID:    uuid.NewString(),
		Type:  schemas.InfoError,
		At:    now,
		Error: schemas.ToErrorInfo(err),
	})
	e.mu.Lock()
	e.info.Iterations[len(e.info.Iterations)-1].FinishedAt = time.Now()
	e.mu.Unlock()
	m.metrics.IncError(string(schemas.KindOf(err)))
}

// finish persists the run, moves it out of the live registry and wakes
// waiters.
func (m *Manager) finish(e *execution, logger *zap.Logger) {
	e.mu.Lock()
	result := *copyInfo(&e.info)
	e.mu.Unlock()
	result.FinishedAt = time.Now()
	result.Outcome = schemas.DeriveOutcome(result.Iterations)

	persistCtx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := m.defs.AppendExecutionHistory(persistCtx, result); err != nil {
		logger.Error("Failed to persist execution history.", zap.Error(err))
	}
	m.metrics.ObserveExecution(string(result.Outcome), result.FinishedAt.Sub(result.StartedAt))

	m.mu.Lock()
	delete(m.live, e.id)
	if m.byScraper[e.scraper.ID] == e {
		delete(m.byScraper, e.scraper.ID)
	}
	m.finished.Add(e.id, e)
	m.mu.Unlock()

	e.exit(result)
	logger.Info("Execution finished.",
		zap.String("outcome", string(result.Outcome)),
		zap.Int("iterations", len(result.Iterations)),
		zap.Duration("duration", result.FinishedAt.Sub(result.StartedAt)))
}
