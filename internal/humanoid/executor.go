// Filename: internal/humanoid/executor.go
package humanoid

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp"
)

// Executor is the set of browser primitives the ghost cursor drives.
type Executor interface {
	// Sleep pauses execution, respecting context cancellation.
	Sleep(ctx context.Context, d time.Duration) error
	DispatchMouseEvent(ctx context.Context, data MouseEventData) error
	// SendKeys types keys into the focused element.
	SendKeys(ctx context.Context, keys string) error
}

// RunFunc runs chromedp actions against a page target.
type RunFunc func(ctx context.Context, actions ...chromedp.Action) error

// CDPExecutor implements Executor with chromedp actions.
type CDPExecutor struct {
	run RunFunc
}

// NewCDPExecutor creates an executor running actions through run.
func NewCDPExecutor(run RunFunc) *CDPExecutor {
	return &CDPExecutor{run: run}
}

func (e *CDPExecutor) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (e *CDPExecutor) DispatchMouseEvent(ctx context.Context, data MouseEventData) error {
	var eventType input.MouseType
	switch data.Type {
	case MouseMove:
		eventType = input.MouseMoved
	case MousePress:
		eventType = input.MousePressed
	case MouseRelease:
		eventType = input.MouseReleased
	default:
		return fmt.Errorf("unsupported mouse event type %q", data.Type)
	}

	params := input.DispatchMouseEvent(eventType, data.X, data.Y).
		WithButton(input.MouseButton(data.Button)).
		WithButtons(data.Buttons)
	if data.ClickCount > 0 {
		params = params.WithClickCount(int64(data.ClickCount))
	}
	return e.run(ctx, params)
}

func (e *CDPExecutor) SendKeys(ctx context.Context, keys string) error {
	return e.run(ctx, chromedp.KeyEvent(keys))
}
