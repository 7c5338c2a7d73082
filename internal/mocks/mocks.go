// File: internal/mocks/mocks.go
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/scrapeflow/api/schemas"
	"github.com/xkilldash9x/scrapeflow/internal/config"
)

// -- Config Mock --

// MockConfig mocks the config.Interface.
type MockConfig struct {
	mock.Mock
}

var _ config.Interface = (*MockConfig)(nil)

// --- Getters ---

func (m *MockConfig) Logger() config.LoggerConfig {
	args := m.Called()
	return args.Get(0).(config.LoggerConfig)
}

func (m *MockConfig) Database() config.DatabaseConfig {
	args := m.Called()
	return args.Get(0).(config.DatabaseConfig)
}

func (m *MockConfig) DataStore() config.DataStoreConfig {
	args := m.Called()
	return args.Get(0).(config.DataStoreConfig)
}

func (m *MockConfig) Engine() config.EngineConfig {
	args := m.Called()
	return args.Get(0).(config.EngineConfig)
}

func (m *MockConfig) Browser() config.BrowserConfig {
	args := m.Called()
	return args.Get(0).(config.BrowserConfig)
}

func (m *MockConfig) Scheduler() config.SchedulerConfig {
	args := m.Called()
	return args.Get(0).(config.SchedulerConfig)
}

func (m *MockConfig) Metrics() config.MetricsConfig {
	args := m.Called()
	return args.Get(0).(config.MetricsConfig)
}

// --- Setters ---

// Browser Setters
func (m *MockConfig) SetBrowserHeadless(b bool) {
	m.Called(b)
}

func (m *MockConfig) SetBrowserHumanoidEnabled(b bool) {
	m.Called(b)
}

// Engine Setters
func (m *MockConfig) SetEngineMaxStepsPerIteration(n int) {
	m.Called(n)
}

// -- Repository Mock --

// MockRepository mocks schemas.Repository.
type MockRepository struct {
	mock.Mock
}

var _ schemas.Repository = (*MockRepository)(nil)

func (m *MockRepository) GetScraper(ctx context.Context, id string) (*schemas.ScraperType, error) {
	args := m.Called(ctx, id)
	if s := args.Get(0); s != nil {
		return s.(*schemas.ScraperType), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockRepository) ListScrapers(ctx context.Context) ([]schemas.ScraperType, error) {
	args := m.Called(ctx)
	if s := args.Get(0); s != nil {
		return s.([]schemas.ScraperType), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockRepository) UpsertScraper(ctx context.Context, scraper schemas.ScraperType) error {
	return m.Called(ctx, scraper).Error(0)
}

func (m *MockRepository) DeleteScraper(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockRepository) GetRoutine(ctx context.Context, id string) (*schemas.Routine, error) {
	args := m.Called(ctx, id)
	if r := args.Get(0); r != nil {
		return r.(*schemas.Routine), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockRepository) ListRoutines(ctx context.Context) ([]schemas.Routine, error) {
	args := m.Called(ctx)
	if r := args.Get(0); r != nil {
		return r.([]schemas.Routine), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockRepository) UpsertRoutine(ctx context.Context, routine schemas.Routine) error {
	return m.Called(ctx, routine).Error(0)
}

func (m *MockRepository) DeleteRoutine(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockRepository) AppendExecutionHistory(ctx context.Context, info schemas.ScraperExecutionInfo) error {
	return m.Called(ctx, info).Error(0)
}

func (m *MockRepository) ListExecutionHistory(ctx context.Context, q schemas.HistoryQuery) (schemas.HistoryPage, error) {
	args := m.Called(ctx, q)
	return args.Get(0).(schemas.HistoryPage), args.Error(1)
}

// -- Browser Mocks --

// MockSessionLauncher mocks schemas.SessionLauncher.
type MockSessionLauncher struct {
	mock.Mock
}

func (m *MockSessionLauncher) LaunchSession(ctx context.Context, scraper schemas.ScraperType) (schemas.BrowserSession, error) {
	args := m.Called(ctx, scraper)
	if s := args.Get(0); s != nil {
		return s.(schemas.BrowserSession), args.Error(1)
	}
	return nil, args.Error(1)
}

// MockBrowserSession mocks schemas.BrowserSession.
type MockBrowserSession struct {
	mock.Mock
}

var _ schemas.BrowserSession = (*MockBrowserSession)(nil)

func (m *MockBrowserSession) ID() string {
	return m.Called().String(0)
}

func (m *MockBrowserSession) Slot() int {
	return m.Called().Int(0)
}

func (m *MockBrowserSession) Page(ctx context.Context, index int) (schemas.Page, error) {
	args := m.Called(ctx, index)
	if p := args.Get(0); p != nil {
		return p.(schemas.Page), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockBrowserSession) OpenedPages() []schemas.PageEvent {
	args := m.Called()
	if e := args.Get(0); e != nil {
		return e.([]schemas.PageEvent)
	}
	return nil
}

func (m *MockBrowserSession) Destroy(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

// -- Notifier Mock --

// MockNotifier mocks schemas.Notifier.
type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Notify(ctx context.Context, title, content string) error {
	return m.Called(ctx, title, content).Error(0)
}
