package schemas

import (
	"context"
	"time"
)

// -- Browser Interfaces --

// Element is a handle on a DOM element inside one frame of a page.
type Element interface {
	// TagName returns the lower-case tag name.
	TagName() string
	TextContent(ctx context.Context) (string, error)
	// Attribute returns nil when the attribute is absent.
	Attribute(ctx context.Context, name string) (*string, error)
	// Matches reports whether the element matches a CSS selector.
	Matches(ctx context.Context, css string) (bool, error)
	Visible(ctx context.Context) (bool, error)
}

// Frame is a document that can be searched for elements. The main document
// is a frame, and so is every child iframe.
type Frame interface {
	Name() string
	// QueryAll returns the elements matching css without waiting for them.
	QueryAll(ctx context.Context, css string) ([]Element, error)
}

// FrameSource lists the frames of a page, main frame first, then child
// frames in document order.
type FrameSource interface {
	Frames(ctx context.Context) ([]Frame, error)
}

// ClickOptions tunes Page.Click.
type ClickOptions struct {
	// Humanized moves the ghost cursor to the element and dwells before clicking.
	Humanized bool
}

// TypeOptions tunes Page.Type.
type TypeOptions struct {
	Clear      bool
	PressEnter bool
	Humanized  bool
}

// Page is a browser tab addressed by a page index within a session.
//
//go:generate mockery --name Page --output ../../internal/mocks --outpkg mocks
type Page interface {
	FrameSource

	Index() int
	URL(ctx context.Context) string
	// DefaultTimeout bounds navigations, element searches and actions.
	DefaultTimeout() time.Duration

	Navigate(ctx context.Context, url string) error
	Click(ctx context.Context, el Element, opts ClickOptions) error
	Type(ctx context.Context, el Element, text string, opts TypeOptions) error
	// SelectOption picks the option whose value or label equals value and
	// reports whether one was selected.
	SelectOption(ctx context.Context, el Element, value string) (bool, error)
	ScrollToTop(ctx context.Context) error
	ScrollToBottom(ctx context.Context) error
	Screenshot(ctx context.Context) ([]byte, error)
	// WaitForNavigation runs action and waits up to timeout for the main frame
	// to navigate.
	WaitForNavigation(ctx context.Context, timeout time.Duration, action func(context.Context) error) error
}

// PageEvent reports a page that was opened during an execution.
type PageEvent struct {
	Index int
	URL   string
	At    time.Time
}

// BrowserSession owns one browser process and its pages.
//
//go:generate mockery --name BrowserSession --output ../../internal/mocks --outpkg mocks
type BrowserSession interface {
	ID() string
	Slot() int
	// Page returns the page at index, opening it on first reference.
	Page(ctx context.Context, index int) (Page, error)
	// OpenedPages drains the pages opened since the last call.
	OpenedPages() []PageEvent
	Destroy(ctx context.Context) error
}

// SessionLauncher starts browser sessions for executions.
type SessionLauncher interface {
	LaunchSession(ctx context.Context, scraper ScraperType) (BrowserSession, error)
}

// Notifier delivers showNotification system actions.
type Notifier interface {
	Notify(ctx context.Context, title, content string) error
}
