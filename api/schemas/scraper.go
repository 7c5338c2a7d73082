package schemas

import (
	"time"
)

// -- Scraper Definitions --

// ScraperType is a scraper definition. A running execution works on its own
// copy, so edits only affect later runs.
type ScraperType struct {
	ID                string              `json:"id" yaml:"id"`
	Name              string              `json:"name" yaml:"name"`
	Description       string              `json:"description,omitempty" yaml:"description,omitempty"`
	UserDataDirectory string              `json:"userDataDirectory,omitempty" yaml:"userDataDirectory,omitempty"`
	DataSources       []ScraperDataSource `json:"dataSources,omitempty" yaml:"dataSources,omitempty"`
	Instructions      []Instruction       `json:"instructions" yaml:"instructions"`
}

// DataSource returns the data source bound to alias.
func (s ScraperType) DataSource(alias string) (ScraperDataSource, bool) {
	for _, ds := range s.DataSources {
		if ds.SourceAlias == alias {
			return ds, true
		}
	}
	return ScraperDataSource{}, false
}

// -- Routines --

// RoutineStatus is the lifecycle state of a routine.
type RoutineStatus string

const (
	RoutineActive                                 RoutineStatus = "active"
	RoutineExecuting                              RoutineStatus = "executing"
	RoutinePaused                                 RoutineStatus = "paused"
	RoutinePausedDueToMaxNumberOfFailedExecutions RoutineStatus = "pausedDueToMaxNumberOfFailedExecutions"
)

// SchedulerType discriminates Scheduler.
type SchedulerType string

const (
	SchedulerInterval SchedulerType = "interval"
)

// Scheduler describes when a routine fires. For the interval type the
// schedule is StartAt + k*Interval, bounded by EndAt when set.
type Scheduler struct {
	Type     SchedulerType `json:"type" yaml:"type"`
	Interval Duration      `json:"interval" yaml:"interval"`
	StartAt  time.Time     `json:"startAt" yaml:"startAt"`
	EndAt    *time.Time    `json:"endAt,omitempty" yaml:"endAt,omitempty"`
}

// Routine binds a scraper to a recurring trigger and an iterator.
type Routine struct {
	ID          string             `json:"id" yaml:"id"`
	ScraperID   string             `json:"scraperId" yaml:"scraperId"`
	Description string             `json:"description,omitempty" yaml:"description,omitempty"`
	Scheduler   Scheduler          `json:"scheduler" yaml:"scheduler"`
	Iterator    *ExecutionIterator `json:"iterator,omitempty" yaml:"iterator,omitempty"`

	// Zero disables the circuit breaker.
	PauseAfterNumberOfFailedExecutions int `json:"pauseAfterNumberOfFailedExecutions" yaml:"pauseAfterNumberOfFailedExecutions"`

	Status                   RoutineStatus `json:"status" yaml:"status"`
	PreviousExecutionsCount  int           `json:"previousExecutionsCount" yaml:"previousExecutionsCount"`
	FailedExecutionsInARow   int           `json:"failedExecutionsInARow" yaml:"failedExecutionsInARow"`
	LastExecutionAt          *time.Time    `json:"lastExecutionAt,omitempty" yaml:"lastExecutionAt,omitempty"`
	NextScheduledExecutionAt *time.Time    `json:"nextScheduledExecutionAt,omitempty" yaml:"nextScheduledExecutionAt,omitempty"`
}
