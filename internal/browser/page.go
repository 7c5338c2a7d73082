// internal/browser/page.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/input"
	cdppage "github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scrapeflow/api/schemas"
	"github.com/xkilldash9x/scrapeflow/internal/humanoid"
)

const boxModelRetries = 3

// Page wraps one chromedp target. It implements schemas.Page.
type Page struct {
	index   int
	ctx     context.Context
	cancel  context.CancelFunc
	timeout time.Duration
	logger  *zap.Logger

	// cursor is nil when humanized interaction is disabled.
	cursor *humanoid.Humanoid

	mu sync.Mutex
}

var _ schemas.Page = (*Page)(nil)

func newPage(index int, ctx context.Context, cancel context.CancelFunc, timeout time.Duration, logger *zap.Logger) *Page {
	return &Page{
		index:   index,
		ctx:     ctx,
		cancel:  cancel,
		timeout: timeout,
		logger:  logger.With(zap.Int("page", index)),
	}
}

// setup applies the viewport and installs the ghost cursor.
func (p *Page) setup(ctx context.Context, s *Session, rng *rand.Rand) error {
	opts := s.opts
	if s.pool.cfg.Headless {
		if err := p.run(ctx, chromedp.EmulateViewport(opts.ViewportWidth, opts.ViewportHeight)); err != nil {
			return fmt.Errorf("failed to set viewport: %w", err)
		}
	}
	if !s.pool.humanoidCfg.Enabled {
		return nil
	}
	cursor, err := humanoid.New(s.pool.humanoidCfg, humanoid.NewCDPExecutor(p.run), p.logger, rng.Int63())
	if err != nil {
		return fmt.Errorf("failed to create ghost cursor: %w", err)
	}
	cursor.SeedPosition(float64(opts.ViewportWidth), float64(opts.ViewportHeight))
	p.cursor = cursor
	return nil
}

// run executes actions on this target, bounded by ctx.
func (p *Page) run(ctx context.Context, actions ...chromedp.Action) error {
	combined, cancel := CombineContext(p.ctx, ctx)
	defer cancel()
	return chromedp.Run(combined, actions...)
}

// withTimeout bounds ctx by the page default timeout unless it already has
// an earlier deadline.
func (p *Page) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < p.timeout {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, p.timeout)
}

func (p *Page) Index() int { return p.index }

func (p *Page) DefaultTimeout() time.Duration { return p.timeout }

// URL returns the current location, or "" when it cannot be read.
func (p *Page) URL(ctx context.Context) string {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()
	var location string
	if err := p.run(ctx, chromedp.Location(&location)); err != nil {
		return ""
	}
	return location
}

// Frames returns the main frame followed by every iframe in document order.
func (p *Page) Frames(ctx context.Context) ([]schemas.Frame, error) {
	frames := []schemas.Frame{&frame{page: p, name: "main"}}
	var owners []*cdp.Node
	err := p.run(ctx, chromedp.Nodes("iframe, frame", &owners, chromedp.ByQueryAll, chromedp.AtLeast(0)))
	if err != nil {
		return frames, fmt.Errorf("failed to list frames: %w", err)
	}
	for i, owner := range owners {
		name := owner.AttributeValue("name")
		if name == "" {
			name = owner.AttributeValue("id")
		}
		if name == "" {
			name = fmt.Sprintf("frame-%d", i)
		}
		frames = append(frames, &frame{page: p, name: name, owner: owner})
	}
	return frames, nil
}

func (p *Page) Navigate(ctx context.Context, url string) error {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()
	if err := p.run(ctx, chromedp.Navigate(url)); err != nil {
		return schemas.WrapError(schemas.KindNavigation, err, "failed to navigate to %s", url)
	}
	return nil
}

func (p *Page) Click(ctx context.Context, el schemas.Element, opts schemas.ClickOptions) error {
	e, err := p.ownElement(el)
	if err != nil {
		return err
	}
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	if opts.Humanized && p.cursor != nil {
		var ok bool
		if err := e.callFunction(ctx, jsScrollIntoView, &ok); err != nil {
			return fmt.Errorf("failed to scroll element into view: %w", err)
		}
		box, err := p.elementBox(ctx, e.node)
		if err != nil {
			return err
		}
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.cursor.Click(ctx, box)
	}

	var ok bool
	if err := e.callFunction(ctx, jsClick, &ok); err != nil {
		return fmt.Errorf("failed to click element: %w", err)
	}
	return nil
}

// elementBox reads the content box of node, retrying while layout settles.
func (p *Page) elementBox(ctx context.Context, node *cdp.Node) (humanoid.Box, error) {
	var lastErr error
	backoff := 50 * time.Millisecond
	for attempt := 0; attempt < boxModelRetries; attempt++ {
		var model *dom.BoxModel
		lastErr = p.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			model, err = dom.GetBoxModel().WithNodeID(node.NodeID).Do(ctx)
			return err
		}))
		if lastErr == nil && model != nil {
			if box, ok := humanoid.BoxFromQuad(model.Content); ok {
				return box, nil
			}
			lastErr = errors.New("element has an empty box")
		}
		select {
		case <-ctx.Done():
			return humanoid.Box{}, ctx.Err()
		case <-time.After(backoff):
			backoff *= 2
		}
	}
	return humanoid.Box{}, fmt.Errorf("failed to get element geometry after %d attempts: %w", boxModelRetries, lastErr)
}

func (p *Page) Type(ctx context.Context, el schemas.Element, text string, opts schemas.TypeOptions) error {
	e, err := p.ownElement(el)
	if err != nil {
		return err
	}
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	var ok bool
	if err := e.callFunction(ctx, jsFocus, &ok); err != nil {
		return fmt.Errorf("failed to focus element: %w", err)
	}
	if opts.Clear {
		if err := e.callFunction(ctx, jsClear, &ok); err != nil {
			return fmt.Errorf("failed to clear element: %w", err)
		}
	}

	if opts.Humanized && p.cursor != nil {
		p.mu.Lock()
		err = p.cursor.Type(ctx, text)
		p.mu.Unlock()
	} else {
		err = p.run(ctx, input.InsertText(text))
	}
	if err != nil {
		return fmt.Errorf("failed to type text: %w", err)
	}

	if opts.PressEnter {
		if err := p.run(ctx, chromedp.KeyEvent(kb.Enter)); err != nil {
			return fmt.Errorf("failed to press enter: %w", err)
		}
	}
	return nil
}

func (p *Page) SelectOption(ctx context.Context, el schemas.Element, value string) (bool, error) {
	e, err := p.ownElement(el)
	if err != nil {
		return false, err
	}
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()
	var selected bool
	if err := e.callFunction(ctx, jsSelectOption, &selected, value); err != nil {
		return false, fmt.Errorf("failed to select option %q: %w", value, err)
	}
	return selected, nil
}

func (p *Page) ScrollToTop(ctx context.Context) error {
	return p.scroll(ctx, `window.scrollTo(0, 0)`)
}

func (p *Page) ScrollToBottom(ctx context.Context) error {
	return p.scroll(ctx, `window.scrollTo(0, document.documentElement.scrollHeight || document.body.scrollHeight)`)
}

func (p *Page) scroll(ctx context.Context, script string) error {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()
	var res any
	if err := p.run(ctx, chromedp.Evaluate(script, &res)); err != nil {
		return fmt.Errorf("failed to scroll: %w", err)
	}
	return nil
}

// Screenshot captures the full page as PNG.
func (p *Page) Screenshot(ctx context.Context) ([]byte, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()
	var buf []byte
	if err := p.run(ctx, chromedp.FullScreenshot(&buf, 100)); err != nil {
		return nil, fmt.Errorf("failed to capture screenshot: %w", err)
	}
	return buf, nil
}

// WaitForNavigation runs action and waits for the main frame to navigate,
// either to a new document or within the current one.
func (p *Page) WaitForNavigation(ctx context.Context, timeout time.Duration, action func(context.Context) error) error {
	if timeout <= 0 {
		timeout = p.timeout
	}
	navigated := make(chan struct{}, 1)
	signal := func() {
		select {
		case navigated <- struct{}{}:
		default:
		}
	}

	listenCtx, stopListening := context.WithCancel(p.ctx)
	defer stopListening()
	chromedp.ListenTarget(listenCtx, func(ev interface{}) {
		switch e := ev.(type) {
		case *cdppage.EventFrameNavigated:
			if e.Frame != nil && e.Frame.ParentID == "" {
				signal()
			}
		case *cdppage.EventNavigatedWithinDocument:
			signal()
		}
	})

	if err := action(ctx); err != nil {
		return err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-navigated:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		err := schemas.NewError(schemas.KindWaitForNavigationTimeout, "no navigation within %s", timeout)
		err.Retryable = true
		return err
	}
}

// ownElement unwraps an element returned by one of this page's frames.
func (p *Page) ownElement(el schemas.Element) (*element, error) {
	e, ok := el.(*element)
	if !ok {
		return nil, fmt.Errorf("element of type %T does not belong to a browser page", el)
	}
	if e.page != p {
		return nil, errors.New("element belongs to a different page")
	}
	return e, nil
}

// close closes the target.
func (p *Page) close() error {
	err := chromedp.Cancel(p.ctx)
	p.cancel()
	return err
}
