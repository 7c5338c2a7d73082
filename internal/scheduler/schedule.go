// internal/scheduler/schedule.go
package scheduler

import (
	"time"

	"github.com/xkilldash9x/scrapeflow/api/schemas"
)

// NextScheduledExecutionAt returns the smallest StartAt + k*Interval (k >= 0)
// strictly after now, or nil when that instant is past EndAt or the
// scheduler cannot produce one.
func NextScheduledExecutionAt(s schemas.Scheduler, now time.Time) *time.Time {
	if s.Type != schemas.SchedulerInterval {
		return nil
	}
	interval := s.Interval.Std()
	if interval <= 0 {
		return nil
	}

	next := s.StartAt
	if !now.Before(s.StartAt) {
		k := now.Sub(s.StartAt)/interval + 1
		next = s.StartAt.Add(k * interval)
	}
	if s.EndAt != nil && next.After(*s.EndAt) {
		return nil
	}
	return &next
}
