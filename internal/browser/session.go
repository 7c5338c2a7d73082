// internal/browser/session.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scrapeflow/api/schemas"
)

// popupAttachWait bounds how long Page waits for a popup that is still attaching.
const popupAttachWait = 5 * time.Second

// ErrSessionClosed is returned by methods of a destroyed session.
var ErrSessionClosed = errors.New("browser session is closed")

// Session owns one browser process. It implements schemas.BrowserSession.
// Every method waits until the process is ready.
type Session struct {
	id     string
	slot   int
	pool   *Pool
	opts   LaunchOptions
	logger *zap.Logger
	rng    *rand.Rand

	ready    chan struct{}
	readyErr error

	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc

	mu        sync.Mutex
	pages     map[int]*Page
	attaching map[int]chan struct{}
	opened    []schemas.PageEvent
	destroyed bool
}

var _ schemas.BrowserSession = (*Session)(nil)

func newSession(id string, slot int, pool *Pool, opts LaunchOptions, seed int64) *Session {
	return &Session{
		id:        id,
		slot:      slot,
		pool:      pool,
		opts:      opts,
		logger:    pool.logger.With(zap.String("session_id", id), zap.Int("slot", slot)),
		rng:       rand.New(rand.NewSource(seed)),
		ready:     make(chan struct{}),
		pages:     make(map[int]*Page),
		attaching: make(map[int]chan struct{}),
	}
}

func (s *Session) ID() string { return s.id }
func (s *Session) Slot() int  { return s.slot }

// markReady resolves the readiness guard.
func (s *Session) markReady(err error) {
	s.readyErr = err
	close(s.ready)
}

// awaitReady blocks until the launch finished.
func (s *Session) awaitReady(ctx context.Context) error {
	select {
	case <-s.ready:
		if s.readyErr != nil {
			return fmt.Errorf("browser session %s failed to start: %w", s.id, s.readyErr)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// launchChrome starts the browser process and its first tab.
func launchChrome(ctx context.Context, s *Session) error {
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocatorOptions(s.pool.cfg.Headless, s.opts)...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	startCtx, cancel := CombineContext(browserCtx, ctx)
	defer cancel()
	if err := chromedp.Run(startCtx); err != nil {
		browserCancel()
		allocCancel()
		return fmt.Errorf("failed to start browser: %w", err)
	}

	s.allocCancel = allocCancel
	s.browserCtx = browserCtx
	s.browserCancel = browserCancel

	// The browser context drives the first tab.
	first := newPage(0, browserCtx, browserCancel, s.opts.DefaultTimeout, s.logger)
	if err := first.setup(ctx, s, s.rng); err != nil {
		browserCancel()
		allocCancel()
		return err
	}
	s.mu.Lock()
	s.pages[0] = first
	s.mu.Unlock()

	chromedp.ListenBrowser(browserCtx, s.onBrowserEvent)
	return nil
}

// onBrowserEvent attaches popups opened by one of the session's pages.
func (s *Session) onBrowserEvent(ev interface{}) {
	created, ok := ev.(*target.EventTargetCreated)
	if !ok || created.TargetInfo == nil {
		return
	}
	info := created.TargetInfo
	if info.Type != "page" || info.OpenerID == "" {
		return
	}

	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return
	}
	index := s.nextIndexLocked()
	done := make(chan struct{})
	s.attaching[index] = done
	s.mu.Unlock()

	// Listener callbacks must not block the event loop.
	go s.attachPopup(index, info.TargetID, info.URL, done)
}

func (s *Session) attachPopup(index int, id target.ID, url string, done chan struct{}) {
	defer close(done)
	tabCtx, tabCancel := chromedp.NewContext(s.browserCtx, chromedp.WithTargetID(id))
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.DefaultTimeout)
	defer cancel()

	page := newPage(index, tabCtx, tabCancel, s.opts.DefaultTimeout, s.logger)
	err := page.run(ctx)
	if err == nil {
		err = page.setup(ctx, s, s.rng)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.attaching, index)
	if err != nil || s.destroyed {
		tabCancel()
		if err != nil {
			s.logger.Warn("Failed to attach popup.", zap.Int("page", index), zap.Error(err))
		}
		return
	}
	s.pages[index] = page
	s.opened = append(s.opened, schemas.PageEvent{Index: index, URL: url, At: time.Now()})
	s.logger.Debug("Popup attached.", zap.Int("page", index), zap.String("url", url))
}

// nextIndexLocked returns the first index above every known page.
func (s *Session) nextIndexLocked() int {
	next := 0
	for i := range s.pages {
		if i >= next {
			next = i + 1
		}
	}
	for i := range s.attaching {
		if i >= next {
			next = i + 1
		}
	}
	return next
}

// FirstPage returns page 0.
func (s *Session) FirstPage(ctx context.Context) (schemas.Page, error) {
	return s.Page(ctx, 0)
}

// NewPage opens a tab at the next free index.
func (s *Session) NewPage(ctx context.Context) (schemas.Page, error) {
	if err := s.awaitReady(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	index := s.nextIndexLocked()
	s.mu.Unlock()
	return s.Page(ctx, index)
}

// Page returns the page at index, opening a tab on first reference.
func (s *Session) Page(ctx context.Context, index int) (schemas.Page, error) {
	if err := s.awaitReady(ctx); err != nil {
		return nil, err
	}
	if index < 0 {
		return nil, fmt.Errorf("invalid page index %d", index)
	}

	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return nil, ErrSessionClosed
	}
	if p, ok := s.pages[index]; ok {
		s.mu.Unlock()
		return p, nil
	}
	if done, ok := s.attaching[index]; ok {
		s.mu.Unlock()
		select {
		case <-done:
		case <-time.After(popupAttachWait):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return s.Page(ctx, index)
	}
	s.mu.Unlock()

	p, err := s.pool.openTab(ctx, s, index)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.pages[index]; ok {
		// Lost a race with a concurrent open of the same index.
		_ = p.close()
		return existing, nil
	}
	s.pages[index] = p
	s.opened = append(s.opened, schemas.PageEvent{Index: index, URL: "about:blank", At: time.Now()})
	return p, nil
}

// openChromeTab opens a new tab in the session's browser.
func openChromeTab(ctx context.Context, s *Session, index int) (*Page, error) {
	tabCtx, tabCancel := chromedp.NewContext(s.browserCtx)
	p := newPage(index, tabCtx, tabCancel, s.opts.DefaultTimeout, s.logger)
	if err := p.run(ctx); err != nil {
		tabCancel()
		return nil, fmt.Errorf("failed to open page %d: %w", index, err)
	}
	if err := p.setup(ctx, s, s.rng); err != nil {
		tabCancel()
		return nil, err
	}
	return p, nil
}

// OpenedPages drains the pages opened since the last call.
func (s *Session) OpenedPages() []schemas.PageEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	events := s.opened
	s.opened = nil
	return events
}

// pageCount returns the number of open pages.
func (s *Session) pageCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pages)
}

// Destroy closes secondary pages and either parks the browser on
// about:blank for reuse or closes it. Calling it again is a no-op.
func (s *Session) Destroy(ctx context.Context) error {
	select {
	case <-s.ready:
	case <-ctx.Done():
		return ctx.Err()
	}

	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return nil
	}
	s.destroyed = true
	var secondary []*Page
	for i, p := range s.pages {
		if i != 0 {
			secondary = append(secondary, p)
		}
	}
	sort.Slice(secondary, func(a, b int) bool { return secondary[a].index < secondary[b].index })
	first := s.pages[0]
	s.mu.Unlock()

	if s.readyErr != nil {
		s.pool.release(s, false)
		return nil
	}

	for _, p := range secondary {
		if err := p.close(); err != nil {
			s.logger.Debug("Failed to close page.", zap.Int("page", p.index), zap.Error(err))
			continue
		}
		s.mu.Lock()
		delete(s.pages, p.index)
		s.mu.Unlock()
	}

	// Only a browser down to its first page is parked.
	keepWarm := s.opts.KeepWarm && first != nil && s.pageCount() == 1
	if keepWarm {
		if err := first.Navigate(ctx, "about:blank"); err != nil {
			s.logger.Warn("Failed to park browser; closing it.", zap.Error(err))
			keepWarm = false
		}
	}
	s.pool.release(s, keepWarm)
	if keepWarm {
		s.logger.Debug("Browser session parked.")
		return nil
	}
	return s.shutdownProcess()
}

// shutdownProcess closes the browser and its allocator.
func (s *Session) shutdownProcess() error {
	var err error
	if s.browserCtx != nil {
		err = chromedp.Cancel(s.browserCtx)
		s.browserCancel()
	}
	if s.allocCancel != nil {
		s.allocCancel()
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("failed to close browser: %w", err)
	}
	s.logger.Debug("Browser session closed.")
	return nil
}

// rebind moves a parked browser into a fresh session with a new id.
func (s *Session) rebind(id string) *Session {
	next := newSession(id, s.slot, s.pool, s.opts, s.rng.Int63())
	next.allocCancel = s.allocCancel
	next.browserCtx = s.browserCtx
	next.browserCancel = s.browserCancel
	if first, ok := s.pages[0]; ok {
		first.logger = next.logger.With(zap.Int("page", 0))
		next.pages[0] = first
	}
	// The parked session's listener stays registered and ignores events
	// once destroyed.
	if next.browserCtx != nil {
		chromedp.ListenBrowser(next.browserCtx, next.onBrowserEvent)
	}
	next.markReady(nil)
	return next
}
