// internal/browser/pool_test.go
package browser

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/scrapeflow/api/schemas"
	"github.com/xkilldash9x/scrapeflow/internal/config"
	"github.com/xkilldash9x/scrapeflow/internal/metrics"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// -- Test Helpers --

type fakeLauncher struct {
	calls atomic.Int32
	delay time.Duration
	err   error
	seen  sync.Map // session id -> LaunchOptions
}

func (f *fakeLauncher) launch(ctx context.Context, s *Session) error {
	f.calls.Add(1)
	f.seen.Store(s.id, s.opts)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return f.err
}

func newTestPool(t *testing.T, mutate func(*config.Config)) (*Pool, *fakeLauncher, *metrics.Metrics) {
	t.Helper()
	cfg := config.NewDefaultConfig()
	cfg.BrowserCfg.MaxSlots = 2
	cfg.BrowserCfg.LaunchRate = 0
	if mutate != nil {
		mutate(cfg)
	}
	m := metrics.New()
	pool, err := NewPool(cfg, zaptest.NewLogger(t), m)
	require.NoError(t, err)

	launcher := &fakeLauncher{}
	pool.launchFn = launcher.launch
	pool.openURLFn = func(context.Context, *Session, string) error { return nil }
	pool.openTabFn = func(context.Context, *Session, int) (*Page, error) {
		return nil, errors.New("no browser in unit tests")
	}
	return pool, launcher, m
}

// -- Test Cases --

func TestNewPool_Validation(t *testing.T) {
	_, err := NewPool(nil, nil, nil)
	assert.EqualError(t, err, "config cannot be nil")

	cfg := config.NewDefaultConfig()
	cfg.BrowserCfg.MaxSlots = 0
	_, err = NewPool(cfg, nil, nil)
	assert.Error(t, err)
}

func TestPool_AcquireSlot(t *testing.T) {
	pool, _, _ := newTestPool(t, nil)

	first, err := pool.AcquireSlot()
	require.NoError(t, err)
	second, err := pool.AcquireSlot()
	require.NoError(t, err)
	assert.Equal(t, 0, first)
	assert.Equal(t, 1, second)

	_, err = pool.AcquireSlot()
	assert.ErrorIs(t, err, ErrNoFreeSlot)

	pool.ReleaseSlot(first)
	again, err := pool.AcquireSlot()
	require.NoError(t, err)
	assert.Equal(t, 0, again, "the smallest free slot is reused")
}

func TestPool_LaunchSession(t *testing.T) {
	pool, launcher, m := newTestPool(t, nil)
	ctx := context.Background()

	session, err := pool.LaunchSession(ctx, schemas.ScraperType{ID: "s1"})
	require.NoError(t, err)
	assert.Equal(t, 0, session.Slot())
	assert.EqualValues(t, 1, launcher.calls.Load())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BrowserSessions))

	found, ok := pool.Session(session.ID())
	require.True(t, ok)
	assert.Same(t, session, found)

	raw, _ := launcher.seen.Load(session.ID())
	opts := raw.(LaunchOptions)
	assert.Empty(t, opts.UserDataDir, "headless browsers never persist a profile")
	assert.True(t, isDesktopChrome(opts.UserAgent))

	require.NoError(t, session.Destroy(ctx))
	require.NoError(t, session.Destroy(ctx), "destroy is idempotent")
	assert.Equal(t, 0.0, testutil.ToFloat64(m.BrowserSessions))
	assert.Equal(t, 0, pool.Sessions())

	slot, err := pool.AcquireSlot()
	require.NoError(t, err)
	assert.Equal(t, 0, slot, "destroy releases the slot")
}

func TestPool_LaunchSession_HeadedProfiles(t *testing.T) {
	root := t.TempDir()
	pool, launcher, _ := newTestPool(t, func(c *config.Config) {
		c.BrowserCfg.Headless = false
		c.BrowserCfg.UserDataRoot = root
	})
	ctx := context.Background()

	byRoot, err := pool.LaunchSession(ctx, schemas.ScraperType{ID: "a"})
	require.NoError(t, err)
	custom, err := pool.LaunchSession(ctx, schemas.ScraperType{ID: "b", UserDataDirectory: "/srv/profiles/b"})
	require.NoError(t, err)

	raw, _ := launcher.seen.Load(byRoot.ID())
	assert.Equal(t, root+"/slot-0", raw.(LaunchOptions).UserDataDir)
	raw, _ = launcher.seen.Load(custom.ID())
	assert.Equal(t, "/srv/profiles/b", raw.(LaunchOptions).UserDataDir)

	require.NoError(t, pool.Shutdown(ctx))
}

func TestPool_LaunchFailure(t *testing.T) {
	pool, launcher, m := newTestPool(t, nil)
	launcher.err = errors.New("chrome not found")

	_, err := pool.LaunchSession(context.Background(), schemas.ScraperType{ID: "s1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chrome not found")

	assert.Eventually(t, func() bool {
		return pool.Sessions() == 0 && testutil.ToFloat64(m.BrowserSessions) == 0
	}, time.Second, 5*time.Millisecond)
	slot, err := pool.AcquireSlot()
	require.NoError(t, err)
	assert.Equal(t, 0, slot)
}

func TestSession_ReadinessGuard(t *testing.T) {
	pool, launcher, _ := newTestPool(t, nil)
	launcher.delay = 200 * time.Millisecond

	slot, err := pool.AcquireSlot()
	require.NoError(t, err)
	session, err := pool.Launch(context.Background(), slot, LaunchOptions{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = session.Page(ctx, 0)
	assert.ErrorIs(t, err, context.DeadlineExceeded, "methods wait for the browser to become ready")

	require.NoError(t, session.awaitReady(context.Background()))
	require.NoError(t, pool.Shutdown(context.Background()))
}

func TestPool_OpenTestingSession_Singleton(t *testing.T) {
	pool, launcher, _ := newTestPool(t, nil)
	launcher.delay = 50 * time.Millisecond
	ctx := context.Background()

	const callers = 8
	ids := make([]string, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := pool.OpenTestingSession(ctx, "https://example.com")
			assert.NoError(t, err)
			ids[i] = id
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, launcher.calls.Load(), "only one browser is launched per url")
	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}

	other, err := pool.OpenTestingSession(ctx, "https://example.org")
	require.NoError(t, err)
	assert.NotEqual(t, ids[0], other)

	session, ok := pool.Session(ids[0])
	require.True(t, ok)
	require.NoError(t, session.Destroy(ctx))

	reopened, err := pool.OpenTestingSession(ctx, "https://example.com")
	require.NoError(t, err)
	assert.NotEqual(t, ids[0], reopened, "a destroyed testing session is replaced")

	require.NoError(t, pool.Shutdown(ctx))
}

func TestPool_Shutdown(t *testing.T) {
	pool, _, m := newTestPool(t, nil)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := pool.LaunchSession(ctx, schemas.ScraperType{ID: "s"})
		require.NoError(t, err)
	}
	assert.Equal(t, 2.0, testutil.ToFloat64(m.BrowserSessions))

	require.NoError(t, pool.Shutdown(ctx))
	require.NoError(t, pool.Shutdown(ctx), "shutdown is idempotent")
	assert.Equal(t, 0, pool.Sessions())
	assert.Equal(t, 0.0, testutil.ToFloat64(m.BrowserSessions))

	_, err := pool.AcquireSlot()
	assert.ErrorIs(t, err, ErrPoolClosed)
}
