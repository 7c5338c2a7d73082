// internal/scheduler/schedule_test.go
package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/scrapeflow/api/schemas"
)

func TestNextScheduledExecutionAt(t *testing.T) {
	start := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	end := start.Add(3 * time.Hour)
	hourly := schemas.Scheduler{Type: schemas.SchedulerInterval, Interval: schemas.Millis(3_600_000), StartAt: start}
	bounded := hourly
	bounded.EndAt = &end

	tests := []struct {
		name      string
		scheduler schemas.Scheduler
		now       time.Time
		want      *time.Time
	}{
		{"between ticks", hourly, start.Add(3_700_000 * time.Millisecond), ptr(start.Add(7_200_000 * time.Millisecond))},
		{"exactly on a tick is strictly after", hourly, start.Add(time.Hour), ptr(start.Add(2 * time.Hour))},
		{"before start yields start", hourly, start.Add(-time.Minute), ptr(start)},
		{"at start yields the next tick", hourly, start, ptr(start.Add(time.Hour))},
		{"last tick equal to endAt", bounded, start.Add(2*time.Hour + time.Second), ptr(end)},
		{"past endAt", bounded, end, nil},
		{"zero interval", schemas.Scheduler{Type: schemas.SchedulerInterval, StartAt: start}, start, nil},
		{"unknown type", schemas.Scheduler{Type: "cron", Interval: schemas.Millis(1000), StartAt: start}, start, nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := NextScheduledExecutionAt(tc.scheduler, tc.now)
			if tc.want == nil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.True(t, tc.want.Equal(*got), "want %s, got %s", tc.want, got)
		})
	}
}

func ptr(t time.Time) *time.Time { return &t }
