// internal/browser/context.go
package browser

import (
	"context"
)

// CombineContext returns a context that inherits values and cancellation
// from parent and is also cancelled when secondary is done. chromedp needs
// the target carried by parent while the caller's deadline comes from
// secondary.
func CombineContext(parent, secondary context.Context) (context.Context, context.CancelFunc) {
	combined, cancel := context.WithCancel(parent)
	stop := context.AfterFunc(secondary, cancel)
	return combined, func() {
		stop()
		cancel()
	}
}
