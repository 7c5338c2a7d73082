// internal/humanoid/humanoid_test.go
package humanoid

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/scrapeflow/internal/config"
)

// recordingExecutor records events and never really sleeps.
type recordingExecutor struct {
	mu     sync.Mutex
	events []MouseEventData
	keys   []string
	slept  time.Duration
	// failOn makes DispatchMouseEvent fail for one event type.
	failOn MouseEventType
}

func (e *recordingExecutor) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.mu.Lock()
	e.slept += d
	e.mu.Unlock()
	return nil
}

func (e *recordingExecutor) DispatchMouseEvent(ctx context.Context, data MouseEventData) error {
	if data.Type == e.failOn {
		return errors.New("dispatch failed")
	}
	e.mu.Lock()
	e.events = append(e.events, data)
	e.mu.Unlock()
	return nil
}

func (e *recordingExecutor) SendKeys(ctx context.Context, keys string) error {
	e.mu.Lock()
	e.keys = append(e.keys, keys)
	e.mu.Unlock()
	return nil
}

func (e *recordingExecutor) ofType(t MouseEventType) []MouseEventData {
	var out []MouseEventData
	for _, ev := range e.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func testConfig() config.HumanoidConfig {
	return config.NewDefaultConfig().Browser().Humanoid
}

func newTestHumanoid(t *testing.T) (*Humanoid, *recordingExecutor) {
	t.Helper()
	exec := &recordingExecutor{}
	h, err := New(testConfig(), exec, zaptest.NewLogger(t), 42)
	require.NoError(t, err)
	return h, exec
}

func TestNew_ValidatesDependencies(t *testing.T) {
	_, err := New(testConfig(), nil, zaptest.NewLogger(t), 1)
	assert.EqualError(t, err, "executor cannot be nil")
	_, err = New(testConfig(), &recordingExecutor{}, nil, 1)
	assert.EqualError(t, err, "logger cannot be nil")
}

func TestEaseInOutCubic(t *testing.T) {
	assert.InDelta(t, 0.0, computeEaseInOutCubic(0), 1e-9)
	assert.InDelta(t, 0.5, computeEaseInOutCubic(0.5), 1e-9)
	assert.InDelta(t, 1.0, computeEaseInOutCubic(1), 1e-9)
	assert.Less(t, computeEaseInOutCubic(0.25), 0.25, "starts slow")
}

func TestFittsDuration(t *testing.T) {
	h, _ := newTestHumanoid(t)
	cfg := testConfig()

	short := h.fittsDuration(10)
	long := h.fittsDuration(2000)
	assert.Less(t, short, long)

	// MT = A + B*log2(1+D/W) within +/-15%.
	base := cfg.FittsA + cfg.FittsB*6.0 // D=1890 -> log2(64)=6
	for i := 0; i < 50; i++ {
		ms := float64(h.fittsDuration(1890)) / float64(time.Millisecond)
		assert.InDelta(t, base, ms, base*0.15+1)
	}
}

func TestGenerateIdealPath(t *testing.T) {
	h, _ := newTestHumanoid(t)
	start, end := Vector2D{X: 10, Y: 10}, Vector2D{X: 400, Y: 300}

	path := h.generateIdealPath(start, end, 50)
	require.Len(t, path, 50)
	assert.InDelta(t, start.X, path[0].X, 1e-9)
	assert.InDelta(t, end.Y, path[49].Y, 1e-9)

	assert.Equal(t, []Vector2D{end}, h.generateIdealPath(end, end, 50), "zero distance collapses to the target")
}

func TestBoxFromQuad(t *testing.T) {
	box, ok := BoxFromQuad([]float64{10, 20, 110, 20, 110, 70, 10, 70})
	require.True(t, ok)
	assert.Equal(t, Box{X: 10, Y: 20, Width: 100, Height: 50}, box)
	assert.Equal(t, Vector2D{X: 60, Y: 45}, box.Center())

	_, ok = BoxFromQuad([]float64{1, 1, 1, 1, 1, 1, 1, 1})
	assert.False(t, ok)
	_, ok = BoxFromQuad([]float64{1, 2})
	assert.False(t, ok)
}

func TestCalculateTargetPoint_StaysInside(t *testing.T) {
	h, _ := newTestHumanoid(t)
	box := Box{X: 100, Y: 200, Width: 40, Height: 12}
	for i := 0; i < 500; i++ {
		p := h.calculateTargetPoint(box)
		assert.GreaterOrEqual(t, p.X, box.X+1)
		assert.LessOrEqual(t, p.X, box.X+box.Width-1)
		assert.GreaterOrEqual(t, p.Y, box.Y+1)
		assert.LessOrEqual(t, p.Y, box.Y+box.Height-1)
	}
}

func TestClick(t *testing.T) {
	h, exec := newTestHumanoid(t)
	h.SeedPosition(1920, 1080)
	box := Box{X: 500, Y: 400, Width: 80, Height: 30}

	require.NoError(t, h.Click(context.Background(), box))

	moves := exec.ofType(MouseMove)
	require.NotEmpty(t, moves)
	presses := exec.ofType(MousePress)
	releases := exec.ofType(MouseRelease)
	require.Len(t, presses, 1)
	require.Len(t, releases, 1)

	assert.Equal(t, int64(1), presses[0].Buttons)
	assert.Equal(t, int64(0), releases[0].Buttons)
	assert.Equal(t, ButtonLeft, presses[0].Button)
	assert.Equal(t, presses[0].X, releases[0].X)

	// The press lands inside the element, allowing for hesitation jitter.
	assert.InDelta(t, box.Center().X, presses[0].X, box.Width/2+3)
	assert.InDelta(t, box.Center().Y, presses[0].Y, box.Height/2+3)

	last := exec.events[len(exec.events)-1]
	assert.Equal(t, MouseRelease, last.Type)
	assert.Greater(t, exec.slept, time.Duration(0))
}

func TestClick_ReleaseFailure(t *testing.T) {
	exec := &recordingExecutor{}
	h, err := New(testConfig(), exec, zaptest.NewLogger(t), 7)
	require.NoError(t, err)

	require.NoError(t, h.MoveToVector(context.Background(), Vector2D{X: 5, Y: 5}))
	exec.failOn = MouseRelease
	err = h.Click(context.Background(), Box{X: 0, Y: 0, Width: 10, Height: 10})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mouse release failed")
	assert.Equal(t, int64(0), h.buttonsBitfield())
}

func TestMoveToVector_Cancelled(t *testing.T) {
	h, exec := newTestHumanoid(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := h.MoveToVector(ctx, Vector2D{X: 800, Y: 600})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, exec.events)
}

func TestType(t *testing.T) {
	h, exec := newTestHumanoid(t)
	require.NoError(t, h.Type(context.Background(), "héllo"))
	assert.Equal(t, []string{"h", "é", "l", "l", "o"}, exec.keys)

	minPause := time.Duration(testConfig().KeyPauseMinMs * float64(time.Millisecond))
	assert.GreaterOrEqual(t, exec.slept, 4*minPause)
}

func TestHesitate_BoundedByDuration(t *testing.T) {
	h, exec := newTestHumanoid(t)
	require.NoError(t, h.Hesitate(context.Background(), 400*time.Millisecond))
	assert.Equal(t, 400*time.Millisecond, exec.slept)
	assert.NotEmpty(t, exec.ofType(MouseMove))
}
