// internal/humanoid/trajectory.go
package humanoid

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"
)

const (
	// Assumed target width (W) of Fitts's law, in pixels.
	fittsTargetWidth = 30.0
	perlinFrequency  = 0.8
)

// computeEaseInOutCubic provides a smooth acceleration and deceleration profile.
func computeEaseInOutCubic(t float64) float64 {
	if t < 0.5 {
		return 4 * t * t * t
	}
	return 1 - math.Pow(-2*t+2, 3)/2
}

// fittsDuration models movement time as MT = A + B*log2(1 + D/W), +/- 15%.
func (h *Humanoid) fittsDuration(distance float64) time.Duration {
	id := math.Log2(1.0 + distance/fittsTargetWidth)
	mt := h.cfg.FittsA + h.cfg.FittsB*id
	mt += mt * h.uniform(-0.15, 0.15)
	if mt < 0 {
		mt = 0
	}
	return time.Duration(mt * float64(time.Millisecond))
}

// generateIdealPath builds a cubic Bezier curve from start to end whose
// control points bow sideways by a random fraction of the distance.
func (h *Humanoid) generateIdealPath(start, end Vector2D, numSteps int) []Vector2D {
	mainVec := end.Sub(start)
	dist := mainVec.Mag()
	if dist < 1.0 || numSteps <= 1 {
		return []Vector2D{end}
	}

	dir := mainVec.Normalize()
	normal := dir.Perp()
	p0, p3 := start, end
	p1 := start.Add(dir.Mul(dist / 3.0)).Add(normal.Mul(dist * h.uniform(-0.2, 0.2)))
	p2 := start.Add(dir.Mul(dist * 2.0 / 3.0)).Add(normal.Mul(dist * h.uniform(-0.1, 0.1)))

	path := make([]Vector2D, numSteps)
	for i := 0; i < numSteps; i++ {
		t := float64(i) / float64(numSteps-1)
		omt := 1.0 - t
		omt2 := omt * omt
		t2 := t * t
		path[i] = p0.Mul(omt2 * omt).Add(p1.Mul(3 * omt2 * t)).Add(p2.Mul(3 * omt * t2)).Add(p3.Mul(t2 * t))
	}
	return path
}

// applyGaussianNoise adds a high-frequency tremor to a coordinate.
func (h *Humanoid) applyGaussianNoise(point Vector2D) Vector2D {
	h.mu.Lock()
	defer h.mu.Unlock()
	strength := h.cfg.GaussianStrength * (0.5 + h.rng.Float64())
	return Vector2D{
		X: point.X + h.rng.NormFloat64()*strength,
		Y: point.Y + h.rng.NormFloat64()*strength,
	}
}

// simulateTrajectory moves the cursor from start to end along an eased
// Bezier path with Perlin drift. The final event lands exactly on end.
func (h *Humanoid) simulateTrajectory(ctx context.Context, start, end Vector2D) error {
	duration := h.fittsDuration(start.Dist(end))
	numSteps := int(duration.Seconds() * 100)
	if numSteps < 2 {
		numSteps = 2
	}
	path := h.generateIdealPath(start, end, numSteps)
	buttons := h.buttonsBitfield()

	startTime := time.Now()
	for i := range path {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		t := float64(i) / float64(len(path)-1)
		if len(path) == 1 {
			t = 1
		}
		easedT := computeEaseInOutCubic(t)
		idx := int(easedT * float64(len(path)-1))
		point := path[min(idx, len(path)-1)]

		if sleepDur := time.Until(startTime.Add(time.Duration(easedT * float64(duration)))); sleepDur > 0 {
			if err := h.executor.Sleep(ctx, sleepDur); err != nil {
				return err
			}
		}

		if i < len(path)-1 {
			elapsed := time.Since(startTime).Seconds()
			drift := Vector2D{
				X: h.noiseX.Noise1D(elapsed*perlinFrequency) * h.cfg.PerlinAmplitude,
				Y: h.noiseY.Noise1D(elapsed*perlinFrequency) * h.cfg.PerlinAmplitude,
			}
			point = h.applyGaussianNoise(point.Add(drift))
		} else {
			point = end
		}

		event := MouseEventData{Type: MouseMove, X: point.X, Y: point.Y, Button: ButtonNone, Buttons: buttons}
		if err := h.executor.DispatchMouseEvent(ctx, event); err != nil {
			if ctx.Err() == nil {
				h.logger.Warn("Failed to dispatch mouse move event.", zap.Error(err))
			}
			return err
		}
		h.setPosition(point)
	}
	return nil
}

// calculateTargetPoint picks a point inside box drawn from a Gaussian around
// its center, clamped one pixel inside the edges.
func (h *Humanoid) calculateTargetPoint(box Box) Vector2D {
	center := box.Center()
	if box.Width <= 2 || box.Height <= 2 {
		return center
	}
	// 90% of the box is the effective target.
	offsetX := h.normal(0, box.Width*0.9/6.0)
	offsetY := h.normal(0, box.Height*0.9/6.0)

	x := math.Max(box.X+1, math.Min(box.X+box.Width-1, center.X+offsetX))
	y := math.Max(box.Y+1, math.Min(box.Y+box.Height-1, center.Y+offsetY))
	return Vector2D{X: x, Y: y}
}
