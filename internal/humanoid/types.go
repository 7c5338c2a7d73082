// internal/humanoid/types.go
package humanoid

// MouseEventType mirrors the CDP mouse event types.
type MouseEventType string

const (
	MouseMove    MouseEventType = "mouseMoved"
	MousePress   MouseEventType = "mousePressed"
	MouseRelease MouseEventType = "mouseReleased"
)

// MouseButton defines the mouse button.
type MouseButton string

const (
	ButtonNone MouseButton = "none"
	ButtonLeft MouseButton = "left"
)

// MouseEventData holds the data required to dispatch a mouse event.
type MouseEventData struct {
	Type       MouseEventType
	X          float64
	Y          float64
	Button     MouseButton
	ClickCount int
	// Buttons is the bitfield of held buttons (1: Left).
	Buttons int64
}

// Box is the viewport rectangle of an element.
type Box struct {
	X, Y          float64
	Width, Height float64
}

// Center returns the middle of the box.
func (b Box) Center() Vector2D {
	return Vector2D{X: b.X + b.Width/2, Y: b.Y + b.Height/2}
}

// BoxFromQuad converts a CDP quad [x0,y0,x1,y1,x2,y2,x3,y3] into its
// bounding box. It reports false for degenerate quads.
func BoxFromQuad(quad []float64) (Box, bool) {
	if len(quad) < 8 {
		return Box{}, false
	}
	minX, maxX := quad[0], quad[0]
	minY, maxY := quad[1], quad[1]
	for i := 2; i < 8; i += 2 {
		minX = min(minX, quad[i])
		maxX = max(maxX, quad[i])
		minY = min(minY, quad[i+1])
		maxY = max(maxY, quad[i+1])
	}
	b := Box{X: minX, Y: minY, Width: maxX - minX, Height: maxY - minY}
	if b.Width <= 0 || b.Height <= 0 {
		return Box{}, false
	}
	return b, true
}
