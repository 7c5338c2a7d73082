// internal/humanoid/interaction.go
package humanoid

import (
	"context"
	"fmt"
	"time"
)

// MoveTo moves the cursor to a random point inside box and returns it.
func (h *Humanoid) MoveTo(ctx context.Context, box Box) (Vector2D, error) {
	target := h.calculateTargetPoint(box)
	if err := h.MoveToVector(ctx, target); err != nil {
		return Vector2D{}, err
	}
	return target, nil
}

// MoveToVector moves the cursor to target.
func (h *Humanoid) MoveToVector(ctx context.Context, target Vector2D) error {
	return h.simulateTrajectory(ctx, h.Position(), target)
}

// Click moves into box, dwells, then presses and releases the left button.
func (h *Humanoid) Click(ctx context.Context, box Box) error {
	if _, err := h.MoveTo(ctx, box); err != nil {
		return fmt.Errorf("humanoid: failed to move to target: %w", err)
	}
	if err := h.CognitivePause(ctx, h.cfg.DwellMeanMs, h.cfg.DwellStdDevMs); err != nil {
		return err
	}

	pos := h.Position()
	press := MouseEventData{Type: MousePress, X: pos.X, Y: pos.Y, Button: ButtonLeft, ClickCount: 1, Buttons: 1}
	if err := h.executor.DispatchMouseEvent(ctx, press); err != nil {
		return fmt.Errorf("humanoid: mouse press failed: %w", err)
	}
	h.mu.Lock()
	h.buttonState = ButtonLeft
	h.mu.Unlock()

	// The button is released even when the hold is interrupted.
	hold := time.Duration(h.uniform(float64(h.cfg.ClickHoldMinMs), float64(h.cfg.ClickHoldMaxMs))) * time.Millisecond
	holdErr := h.executor.Sleep(ctx, hold)

	release := MouseEventData{Type: MouseRelease, X: pos.X, Y: pos.Y, Button: ButtonLeft, ClickCount: 1, Buttons: 0}
	releaseErr := h.executor.DispatchMouseEvent(context.WithoutCancel(ctx), release)
	h.mu.Lock()
	h.buttonState = ButtonNone
	h.mu.Unlock()

	if holdErr != nil {
		return holdErr
	}
	if releaseErr != nil {
		return fmt.Errorf("humanoid: mouse release failed: %w", releaseErr)
	}
	return nil
}

// Type sends text one key at a time with Gaussian inter-key pauses. The
// target element must already have focus.
func (h *Humanoid) Type(ctx context.Context, text string) error {
	for i, r := range []rune(text) {
		if i > 0 {
			pause := h.normal(h.cfg.KeyPauseMeanMs, h.cfg.KeyPauseStdDevMs)
			if pause < h.cfg.KeyPauseMinMs {
				pause = h.cfg.KeyPauseMinMs
			}
			if err := h.executor.Sleep(ctx, time.Duration(pause*float64(time.Millisecond))); err != nil {
				return err
			}
		}
		if err := h.executor.SendKeys(ctx, string(r)); err != nil {
			return fmt.Errorf("humanoid: failed to send key %q: %w", r, err)
		}
	}
	return nil
}

// CognitivePause waits for a normally distributed time. Pauses longer than
// 100ms idle the cursor with small movements.
func (h *Humanoid) CognitivePause(ctx context.Context, meanMs, stdDevMs float64) error {
	duration := time.Duration(h.normal(meanMs, stdDevMs) * float64(time.Millisecond))
	if duration <= 0 {
		return nil
	}
	if duration > 100*time.Millisecond {
		return h.Hesitate(ctx, duration)
	}
	return h.executor.Sleep(ctx, duration)
}

// Hesitate jitters the cursor around its position for duration.
func (h *Humanoid) Hesitate(ctx context.Context, duration time.Duration) error {
	origin := h.Position()
	buttons := h.buttonsBitfield()
	elapsed := time.Duration(0)

	for elapsed < duration {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		target := origin.Add(Vector2D{X: h.uniform(-2.5, 2.5), Y: h.uniform(-2.5, 2.5)})
		event := MouseEventData{Type: MouseMove, X: target.X, Y: target.Y, Button: ButtonNone, Buttons: buttons}
		if err := h.executor.DispatchMouseEvent(ctx, event); err != nil {
			return err
		}
		h.setPosition(target)

		pause := time.Duration(h.uniform(50, 150)) * time.Millisecond
		if elapsed+pause > duration {
			pause = duration - elapsed
		}
		if err := h.executor.Sleep(ctx, pause); err != nil {
			return err
		}
		elapsed += pause
	}
	return nil
}
