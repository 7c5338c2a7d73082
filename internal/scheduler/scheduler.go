// internal/scheduler/scheduler.go
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/scrapeflow/api/schemas"
	"github.com/xkilldash9x/scrapeflow/internal/config"
	"github.com/xkilldash9x/scrapeflow/internal/engine"
	"github.com/xkilldash9x/scrapeflow/internal/metrics"
)

const persistTimeout = 30 * time.Second

// ErrRoutineNotActive is returned by RunNow for paused or running routines.
var ErrRoutineNotActive = errors.New("routine is not active")

// Executor runs scrapers. *engine.Manager satisfies it.
type Executor interface {
	Execute(ctx context.Context, req engine.Request) (string, error)
	Wait(ctx context.Context, id string) (schemas.ScraperExecutionInfo, error)
}

// Routines is the subset of the repository the scheduler needs.
type Routines interface {
	GetRoutine(ctx context.Context, id string) (*schemas.Routine, error)
	ListRoutines(ctx context.Context) ([]schemas.Routine, error)
	UpsertRoutine(ctx context.Context, routine schemas.Routine) error
}

// Scheduler fires routines when they are due and keeps their counters and
// circuit breaker.
type Scheduler struct {
	routines Routines
	executor Executor
	metrics  *metrics.Metrics
	logger   *zap.Logger
	maxSleep time.Duration
	now      func() time.Time

	// mu serializes read-modify-write cycles on routine records.
	mu   sync.Mutex
	wake chan struct{}
	wg   sync.WaitGroup
}

// New creates a Scheduler. m may be nil.
func New(cfg config.Interface, routines Routines, executor Executor, m *metrics.Metrics, logger *zap.Logger) (*Scheduler, error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}
	if routines == nil {
		return nil, errors.New("routine repository cannot be nil")
	}
	if executor == nil {
		return nil, errors.New("executor cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	maxSleep := cfg.Scheduler().MaxSleep
	if maxSleep <= 0 {
		maxSleep = time.Minute
	}
	return &Scheduler{
		routines: routines,
		executor: executor,
		metrics:  m,
		logger:   logger.Named("scheduler"),
		maxSleep: maxSleep,
		now:      time.Now,
		wake:     make(chan struct{}, 1),
	}, nil
}

// Wake makes a sleeping Start loop re-read routines. Call it after routine
// definitions change.
func (s *Scheduler) Wake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Start recovers routines left executing by a previous process and then
// fires due routines until ctx is done. Runs already fired keep going; use
// Wait to see them recorded.
func (s *Scheduler) Start(ctx context.Context) error {
	if err := s.recover(ctx); err != nil {
		return err
	}
	s.logger.Info("Scheduler started.", zap.Duration("max_sleep", s.maxSleep))

	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Scheduler stopping.")
			return nil
		case <-timer.C:
		case <-s.wake:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		}

		sleep, err := s.tick(ctx)
		if err != nil {
			s.logger.Error("Failed to evaluate routines.", zap.Error(err))
		}
		timer.Reset(sleep)
	}
}

// Wait blocks until every fired run has been recorded.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// tick fires every due routine and returns how long to sleep until the
// next one.
func (s *Scheduler) tick(ctx context.Context) (time.Duration, error) {
	routines, err := s.routines.ListRoutines(ctx)
	if err != nil {
		return s.maxSleep, fmt.Errorf("failed to list routines: %w", err)
	}

	now := s.now()
	sleep := s.maxSleep
	for _, r := range routines {
		if r.Status != schemas.RoutineActive {
			continue
		}
		next := r.NextScheduledExecutionAt
		if next == nil {
			next = NextScheduledExecutionAt(r.Scheduler, now)
			if next == nil {
				continue
			}
			if err := s.setNext(ctx, r.ID, next); err != nil {
				s.logger.Warn("Failed to store next execution time.", zap.String("routine_id", r.ID), zap.Error(err))
			}
		}
		if !next.After(now) {
			if _, err := s.fire(ctx, r.ID); err != nil && !errors.Is(err, ErrRoutineNotActive) {
				s.logger.Error("Failed to fire routine.", zap.String("routine_id", r.ID), zap.Error(err))
			}
			continue
		}
		if d := next.Sub(now); d < sleep {
			sleep = d
		}
	}
	return sleep, nil
}

// RunNow fires an active routine immediately and returns the execution id.
func (s *Scheduler) RunNow(ctx context.Context, routineID string) (string, error) {
	return s.fire(ctx, routineID)
}

// Pause stops a routine from firing. A run in progress is not interrupted.
func (s *Scheduler) Pause(ctx context.Context, routineID string) error {
	return s.update(ctx, routineID, func(r *schemas.Routine) error {
		r.Status = schemas.RoutinePaused
		r.NextScheduledExecutionAt = nil
		return nil
	})
}

// Resume reactivates a paused routine and resets its failure counter.
func (s *Scheduler) Resume(ctx context.Context, routineID string) error {
	err := s.update(ctx, routineID, func(r *schemas.Routine) error {
		if r.Status == schemas.RoutineExecuting {
			return nil
		}
		r.Status = schemas.RoutineActive
		r.FailedExecutionsInARow = 0
		r.NextScheduledExecutionAt = NextScheduledExecutionAt(r.Scheduler, s.now())
		return nil
	})
	if err == nil {
		s.Wake()
	}
	return err
}

// fire moves an active routine to executing and starts its run.
func (s *Scheduler) fire(ctx context.Context, routineID string) (string, error) {
	var routine schemas.Routine
	err := s.update(ctx, routineID, func(r *schemas.Routine) error {
		if r.Status != schemas.RoutineActive {
			return fmt.Errorf("%w: %s is %s", ErrRoutineNotActive, r.ID, r.Status)
		}
		r.Status = schemas.RoutineExecuting
		routine = *r
		return nil
	})
	if err != nil {
		return "", err
	}

	logger := s.logger.With(zap.String("routine_id", routine.ID), zap.String("scraper_id", routine.ScraperID))
	id, err := s.executor.Execute(ctx, engine.Request{
		ScraperID: routine.ScraperID,
		RoutineID: routine.ID,
		Iterator:  routine.Iterator,
	})
	if err != nil {
		logger.Error("Routine execution was rejected.", zap.Error(err))
		s.complete(routine.ID, schemas.OutcomeError)
		return "", err
	}
	logger.Info("Routine fired.", zap.String("execution_id", id))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		// The run outlives the scheduler loop; Manager.Shutdown ends it.
		info, err := s.executor.Wait(context.WithoutCancel(ctx), id)
		if err != nil {
			logger.Error("Failed to wait for routine execution.", zap.Error(err))
			s.complete(routine.ID, schemas.OutcomeError)
			return
		}
		s.complete(routine.ID, info.Outcome)
	}()
	return id, nil
}

// complete records a finished run: counters, circuit breaker and the next
// fire time.
func (s *Scheduler) complete(routineID string, outcome schemas.ExecutionOutcome) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	now := s.now()
	err := s.update(ctx, routineID, func(r *schemas.Routine) error {
		r.PreviousExecutionsCount++
		r.LastExecutionAt = &now
		switch outcome {
		case schemas.OutcomeSuccess:
			r.FailedExecutionsInARow = 0
		case schemas.OutcomeError:
			r.FailedExecutionsInARow++
		}
		if r.Status == schemas.RoutineExecuting {
			r.Status = schemas.RoutineActive
		}
		if outcome == schemas.OutcomeError && r.PauseAfterNumberOfFailedExecutions > 0 &&
			r.FailedExecutionsInARow >= r.PauseAfterNumberOfFailedExecutions {
			r.Status = schemas.RoutinePausedDueToMaxNumberOfFailedExecutions
			s.logger.Warn("Routine paused after repeated failures.",
				zap.String("routine_id", r.ID),
				zap.Int("failed_in_a_row", r.FailedExecutionsInARow))
		}
		r.NextScheduledExecutionAt = nil
		if r.Status == schemas.RoutineActive {
			r.NextScheduledExecutionAt = NextScheduledExecutionAt(r.Scheduler, now)
		}
		return nil
	})
	if err != nil {
		s.logger.Error("Failed to record routine run.", zap.String("routine_id", routineID), zap.Error(err))
	}
	s.metrics.IncRoutineRun(string(outcome))
	s.Wake()
}

// recover resets routines a crashed process left in the executing state.
func (s *Scheduler) recover(ctx context.Context) error {
	routines, err := s.routines.ListRoutines(ctx)
	if err != nil {
		return fmt.Errorf("failed to list routines: %w", err)
	}
	for _, r := range routines {
		if r.Status != schemas.RoutineExecuting {
			continue
		}
		s.logger.Warn("Recovering routine left executing.", zap.String("routine_id", r.ID))
		err := s.update(ctx, r.ID, func(r *schemas.Routine) error {
			r.Status = schemas.RoutineActive
			r.NextScheduledExecutionAt = NextScheduledExecutionAt(r.Scheduler, s.now())
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Scheduler) setNext(ctx context.Context, routineID string, next *time.Time) error {
	return s.update(ctx, routineID, func(r *schemas.Routine) error {
		if r.Status == schemas.RoutineActive && r.NextScheduledExecutionAt == nil {
			r.NextScheduledExecutionAt = next
		}
		return nil
	})
}

// update applies fn to the stored routine and writes it back.
func (s *Scheduler) update(ctx context.Context, routineID string, fn func(*schemas.Routine) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := s.routines.GetRoutine(ctx, routineID)
	if err != nil {
		return fmt.Errorf("failed to load routine %q: %w", routineID, err)
	}
	if err := fn(r); err != nil {
		return err
	}
	if err := s.routines.UpsertRoutine(ctx, *r); err != nil {
		return fmt.Errorf("failed to store routine %q: %w", routineID, err)
	}
	return nil
}
