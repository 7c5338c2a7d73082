// internal/browser/pool.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/scrapeflow/api/schemas"
	"github.com/xkilldash9x/scrapeflow/internal/config"
	"github.com/xkilldash9x/scrapeflow/internal/metrics"
)

// ErrNoFreeSlot is returned when every slot holds a live session.
var ErrNoFreeSlot = errors.New("no free browser slot")

// ErrPoolClosed is returned after Shutdown.
var ErrPoolClosed = errors.New("browser pool is shut down")

type (
	launchFunc  func(ctx context.Context, s *Session) error
	openTabFunc func(ctx context.Context, s *Session, index int) (*Page, error)
	openURLFunc func(ctx context.Context, s *Session, url string) error
)

// Pool owns every browser process of the host. Slots are small integers;
// each live or parked browser holds one.
type Pool struct {
	cfg         config.BrowserConfig
	humanoidCfg config.HumanoidConfig
	defaults    LaunchOptions
	logger      *zap.Logger
	metrics     *metrics.Metrics
	limiter     *rate.Limiter

	mu       sync.Mutex
	busy     map[int]bool
	sessions map[string]*Session
	// testing maps a target URL to the id of its testing session.
	testing map[string]string
	// warm holds parked browsers, oldest first.
	warm   []*Session
	closed bool

	group singleflight.Group
	rngMu sync.Mutex
	rng   *rand.Rand

	launchFn  launchFunc
	openTabFn openTabFunc
	openURLFn openURLFunc
}

var _ schemas.SessionLauncher = (*Pool)(nil)

// NewPool creates an empty pool. No browser starts until a session is launched.
func NewPool(cfg config.Interface, logger *zap.Logger, m *metrics.Metrics) (*Pool, error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	bcfg := cfg.Browser()
	if bcfg.MaxSlots <= 0 {
		return nil, fmt.Errorf("browser.max_slots must be positive, got %d", bcfg.MaxSlots)
	}

	limit := rate.Inf
	if bcfg.LaunchRate > 0 {
		limit = rate.Limit(bcfg.LaunchRate)
	}
	burst := bcfg.LaunchBurst
	if burst <= 0 {
		burst = 1
	}

	p := &Pool{
		cfg:         bcfg,
		humanoidCfg: bcfg.Humanoid,
		defaults:    defaultLaunchOptions(bcfg),
		logger:      logger.Named("browser_pool"),
		metrics:     m,
		limiter:     rate.NewLimiter(limit, burst),
		busy:        make(map[int]bool),
		sessions:    make(map[string]*Session),
		testing:     make(map[string]string),
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
		launchFn:    launchChrome,
		openTabFn:   openChromeTab,
		openURLFn:   navigateFirstPage,
	}
	p.logger.Info("Browser pool created.", zap.Int("max_slots", bcfg.MaxSlots), zap.Bool("headless", bcfg.Headless))
	return p, nil
}

func (p *Pool) seed() int64 {
	p.rngMu.Lock()
	defer p.rngMu.Unlock()
	return p.rng.Int63()
}

func (p *Pool) randomUserAgent() string {
	p.rngMu.Lock()
	defer p.rngMu.Unlock()
	return RandomDesktopUserAgent(p.rng)
}

// AcquireSlot reserves the smallest free slot. When every slot is taken by a
// parked browser, the oldest one is closed to make room.
func (p *Pool) AcquireSlot() (int, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0, ErrPoolClosed
	}
	if slot, ok := p.freeSlotLocked(); ok {
		p.busy[slot] = true
		p.mu.Unlock()
		return slot, nil
	}
	if len(p.warm) == 0 {
		p.mu.Unlock()
		return 0, fmt.Errorf("%w: all %d slots in use", ErrNoFreeSlot, p.cfg.MaxSlots)
	}
	evicted := p.warm[0]
	p.warm = p.warm[1:]
	// The evicted slot is handed straight to the caller.
	slot := evicted.slot
	p.mu.Unlock()

	p.logger.Debug("Evicting parked browser.", zap.Int("slot", slot))
	if err := evicted.shutdownProcess(); err != nil {
		p.logger.Warn("Failed to close parked browser.", zap.Int("slot", slot), zap.Error(err))
	}
	return slot, nil
}

func (p *Pool) freeSlotLocked() (int, bool) {
	for slot := 0; slot < p.cfg.MaxSlots; slot++ {
		if !p.busy[slot] {
			return slot, true
		}
	}
	return 0, false
}

// ReleaseSlot frees a slot reserved with AcquireSlot.
func (p *Pool) ReleaseSlot(slot int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.busy, slot)
}

// Launch starts a browser in slot. The returned session is usable
// immediately; its methods wait until the browser is ready.
func (p *Pool) Launch(ctx context.Context, slot int, opts LaunchOptions) (*Session, error) {
	resolved, err := resolveLaunchOptions(opts, p.defaults)
	if err != nil {
		return nil, err
	}
	if resolved.UserAgent == "" {
		resolved.UserAgent = p.randomUserAgent()
	}
	if p.cfg.Headless {
		resolved.UserDataDir = ""
	} else if resolved.UserDataDir == "" && p.cfg.UserDataRoot != "" {
		dir, err := slotUserDataDir(p.cfg.UserDataRoot, slot)
		if err != nil {
			return nil, err
		}
		resolved.UserDataDir = dir
	}

	if parked := p.takeWarm(resolved); parked != nil {
		// The parked browser keeps its own slot.
		if parked.slot != slot {
			p.ReleaseSlot(slot)
		}
		s := parked.rebind(uuid.NewString())
		p.register(s)
		p.logger.Info("Reusing parked browser.", zap.String("session_id", s.id), zap.Int("slot", s.slot))
		return s, nil
	}

	s := newSession(uuid.NewString(), slot, p, resolved, p.seed())
	p.register(s)

	go func() {
		err := p.limiter.Wait(ctx)
		if err == nil {
			err = p.launchFn(ctx, s)
		}
		s.markReady(err)
		if err != nil {
			s.logger.Error("Browser launch failed.", zap.Error(err))
			s.mu.Lock()
			s.destroyed = true
			s.mu.Unlock()
			p.release(s, false)
			return
		}
		s.logger.Info("Browser session ready.", zap.Bool("headless", p.cfg.Headless))
	}()
	return s, nil
}

func (p *Pool) register(s *Session) {
	p.mu.Lock()
	p.sessions[s.id] = s
	p.mu.Unlock()
	p.metrics.SessionOpened()
}

// takeWarm removes and returns a parked browser launched with equivalent options.
func (p *Pool) takeWarm(opts LaunchOptions) *Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, s := range p.warm {
		if s.opts.UserDataDir == opts.UserDataDir && s.opts.ExecPath == opts.ExecPath {
			p.warm = append(p.warm[:i], p.warm[i+1:]...)
			return s
		}
	}
	return nil
}

// release unregisters s. A parked browser keeps its slot.
func (p *Pool) release(s *Session, park bool) {
	p.mu.Lock()
	if _, ok := p.sessions[s.id]; !ok {
		p.mu.Unlock()
		return
	}
	delete(p.sessions, s.id)
	for url, id := range p.testing {
		if id == s.id {
			delete(p.testing, url)
		}
	}
	if park && !p.closed {
		p.warm = append(p.warm, s)
	} else {
		delete(p.busy, s.slot)
	}
	p.mu.Unlock()
	p.metrics.SessionClosed()

	if park && p.isClosed() {
		_ = s.shutdownProcess()
	}
}

func (p *Pool) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Pool) openTab(ctx context.Context, s *Session, index int) (*Page, error) {
	return p.openTabFn(ctx, s, index)
}

// LaunchSession acquires a slot and launches a browser for an execution of scraper.
func (p *Pool) LaunchSession(ctx context.Context, scraper schemas.ScraperType) (schemas.BrowserSession, error) {
	slot, err := p.AcquireSlot()
	if err != nil {
		return nil, err
	}
	opts := LaunchOptions{}
	if scraper.UserDataDirectory != "" {
		dir, err := expandPath(scraper.UserDataDirectory)
		if err != nil {
			p.ReleaseSlot(slot)
			return nil, fmt.Errorf("failed to expand user data directory: %w", err)
		}
		opts.UserDataDir = dir
	}
	s, err := p.Launch(ctx, slot, opts)
	if err != nil {
		p.ReleaseSlot(slot)
		return nil, err
	}
	if err := s.awaitReady(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// OpenTestingSession opens a browser on url for interactive preview. There
// is at most one testing session per url; a repeated request returns the
// id of the existing one.
func (p *Pool) OpenTestingSession(ctx context.Context, url string) (string, error) {
	if id, ok := p.testingSession(url); ok {
		return id, nil
	}
	v, err, _ := p.group.Do(url, func() (interface{}, error) {
		if id, ok := p.testingSession(url); ok {
			return id, nil
		}
		slot, err := p.AcquireSlot()
		if err != nil {
			return "", err
		}
		s, err := p.Launch(ctx, slot, LaunchOptions{KeepWarm: true})
		if err != nil {
			p.ReleaseSlot(slot)
			return "", err
		}
		if err := s.awaitReady(ctx); err != nil {
			return "", err
		}
		if err := p.openURLFn(ctx, s, url); err != nil {
			_ = s.Destroy(context.WithoutCancel(ctx))
			return "", err
		}
		p.mu.Lock()
		p.testing[url] = s.id
		p.mu.Unlock()
		p.logger.Info("Testing session opened.", zap.String("session_id", s.id), zap.String("url", url))
		return s.id, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// navigateFirstPage loads url in the first tab of s.
func navigateFirstPage(ctx context.Context, s *Session, url string) error {
	page, err := s.FirstPage(ctx)
	if err != nil {
		return err
	}
	return page.Navigate(ctx, url)
}

func (p *Pool) testingSession(url string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id, ok := p.testing[url]
	return id, ok
}

// Session looks up a live session by id.
func (p *Pool) Session(id string) (*Session, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.sessions[id]
	return s, ok
}

// Sessions returns the number of live sessions.
func (p *Pool) Sessions() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sessions)
}

// Shutdown closes every live and parked browser concurrently.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	live := make([]*Session, 0, len(p.sessions))
	for _, s := range p.sessions {
		live = append(live, s)
	}
	parked := p.warm
	p.warm = nil
	p.mu.Unlock()

	p.logger.Info("Shutting down browser pool.", zap.Int("live", len(live)), zap.Int("parked", len(parked)))
	g, gctx := errgroup.WithContext(ctx)
	for _, s := range live {
		g.Go(func() error {
			if err := s.Destroy(gctx); err != nil {
				return fmt.Errorf("session %s: %w", s.id, err)
			}
			return nil
		})
	}
	for _, s := range parked {
		g.Go(func() error {
			defer p.ReleaseSlot(s.slot)
			return s.shutdownProcess()
		})
	}
	return g.Wait()
}
