// File: internal/mocks/page.go
package mocks

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/xkilldash9x/scrapeflow/api/schemas"
)

// -- In-memory DOM fakes --

// FakeElement is an in-memory element. It matches a CSS query when the
// query is "*", its tag name, or one of Selectors.
type FakeElement struct {
	mu sync.Mutex

	Tag       string
	Text      string
	Attrs     map[string]string
	Selectors []string
	Hidden    bool
	// Options are the values of a <select> element.
	Options []string

	// Value holds the text typed into the element.
	Value    string
	Selected string
	Clicks   int

	// OnClick runs after the element is clicked.
	OnClick func()
	// Err fails every read.
	Err error
}

var _ schemas.Element = (*FakeElement)(nil)

func (e *FakeElement) TagName() string { return strings.ToLower(e.Tag) }

func (e *FakeElement) TextContent(ctx context.Context) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.Text, e.Err
}

func (e *FakeElement) Attribute(ctx context.Context, name string) (*string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.Err != nil {
		return nil, e.Err
	}
	v, ok := e.Attrs[name]
	if !ok {
		return nil, nil
	}
	return &v, nil
}

func (e *FakeElement) Matches(ctx context.Context, css string) (bool, error) {
	if e.Err != nil {
		return false, e.Err
	}
	if css == "*" || strings.EqualFold(css, e.Tag) {
		return true, nil
	}
	for _, s := range e.Selectors {
		if s == css {
			return true, nil
		}
	}
	return false, nil
}

func (e *FakeElement) Visible(ctx context.Context) (bool, error) {
	return !e.Hidden, e.Err
}

// SetText replaces the text content.
func (e *FakeElement) SetText(text string) {
	e.mu.Lock()
	e.Text = text
	e.mu.Unlock()
}

// FakeFrame is an in-memory document.
type FakeFrame struct {
	mu       sync.Mutex
	name     string
	elements []*FakeElement
	// Delay blocks every query for the given time or until ctx is done.
	Delay time.Duration
}

var _ schemas.Frame = (*FakeFrame)(nil)

// NewFakeFrame creates a frame holding elements.
func NewFakeFrame(name string, elements ...*FakeElement) *FakeFrame {
	return &FakeFrame{name: name, elements: elements}
}

func (f *FakeFrame) Name() string { return f.name }

// Add appends an element, as if the page rendered it.
func (f *FakeFrame) Add(el *FakeElement) {
	f.mu.Lock()
	f.elements = append(f.elements, el)
	f.mu.Unlock()
}

func (f *FakeFrame) QueryAll(ctx context.Context, css string) ([]schemas.Element, error) {
	if f.Delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(f.Delay):
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []schemas.Element
	for _, el := range f.elements {
		if ok, _ := el.Matches(ctx, css); ok {
			out = append(out, el)
		}
	}
	return out, nil
}

// FakePage is an in-memory schemas.Page recording the actions performed on it.
type FakePage struct {
	mu sync.Mutex

	PageIndex  int
	CurrentURL string
	FrameList  []*FakeFrame
	Timeout    time.Duration

	// NavigatesOnAction makes WaitForNavigation observe a navigation.
	NavigatesOnAction bool
	NavigateErr       error
	ClickErr          error
	ScreenshotData    []byte

	actions []string
}

var _ schemas.Page = (*FakePage)(nil)

// NewFakePage creates a page whose main frame holds elements.
func NewFakePage(index int, elements ...*FakeElement) *FakePage {
	return &FakePage{
		PageIndex: index,
		FrameList: []*FakeFrame{NewFakeFrame("main", elements...)},
		Timeout:   time.Second,
	}
}

// Main returns the main frame.
func (p *FakePage) Main() *FakeFrame { return p.FrameList[0] }

// Actions returns the recorded actions.
func (p *FakePage) Actions() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.actions...)
}

func (p *FakePage) record(format string, args ...any) {
	p.mu.Lock()
	p.actions = append(p.actions, fmt.Sprintf(format, args...))
	p.mu.Unlock()
}

func (p *FakePage) Frames(ctx context.Context) ([]schemas.Frame, error) {
	frames := make([]schemas.Frame, len(p.FrameList))
	for i, f := range p.FrameList {
		frames[i] = f
	}
	return frames, nil
}

func (p *FakePage) Index() int { return p.PageIndex }

func (p *FakePage) URL(ctx context.Context) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.CurrentURL
}

func (p *FakePage) DefaultTimeout() time.Duration { return p.Timeout }

func (p *FakePage) Navigate(ctx context.Context, url string) error {
	if p.NavigateErr != nil {
		return p.NavigateErr
	}
	p.mu.Lock()
	p.CurrentURL = url
	p.mu.Unlock()
	p.record("navigate:%s", url)
	return nil
}

func (p *FakePage) Click(ctx context.Context, el schemas.Element, opts schemas.ClickOptions) error {
	if p.ClickErr != nil {
		return p.ClickErr
	}
	fe := el.(*FakeElement)
	fe.mu.Lock()
	fe.Clicks++
	onClick := fe.OnClick
	fe.mu.Unlock()
	if opts.Humanized {
		p.record("click(humanized):%s", fe.TagName())
	} else {
		p.record("click:%s", fe.TagName())
	}
	if onClick != nil {
		onClick()
	}
	return nil
}

func (p *FakePage) Type(ctx context.Context, el schemas.Element, text string, opts schemas.TypeOptions) error {
	fe := el.(*FakeElement)
	fe.mu.Lock()
	if opts.Clear {
		fe.Value = ""
	}
	fe.Value += text
	fe.mu.Unlock()
	p.record("type:%s", text)
	if opts.PressEnter {
		p.record("key:Enter")
	}
	return nil
}

func (p *FakePage) SelectOption(ctx context.Context, el schemas.Element, value string) (bool, error) {
	fe := el.(*FakeElement)
	fe.mu.Lock()
	defer fe.mu.Unlock()
	for _, o := range fe.Options {
		if o == value {
			fe.Selected = value
			p.record("select:%s", value)
			return true, nil
		}
	}
	return false, nil
}

func (p *FakePage) ScrollToTop(ctx context.Context) error {
	p.record("scroll:top")
	return nil
}

func (p *FakePage) ScrollToBottom(ctx context.Context) error {
	p.record("scroll:bottom")
	return nil
}

func (p *FakePage) Screenshot(ctx context.Context) ([]byte, error) {
	p.record("screenshot")
	return p.ScreenshotData, nil
}

func (p *FakePage) WaitForNavigation(ctx context.Context, timeout time.Duration, action func(context.Context) error) error {
	if err := action(ctx); err != nil {
		return err
	}
	if p.NavigatesOnAction {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(timeout):
	}
	err := schemas.NewError(schemas.KindWaitForNavigationTimeout, "no navigation within %s", timeout)
	err.Retryable = true
	return err
}

// FakeSession is an in-memory schemas.BrowserSession. Pages are created on
// first reference unless preset in Pages.
type FakeSession struct {
	mu sync.Mutex

	SessionID string
	SlotID    int
	Pages     map[int]*FakePage
	Destroyed bool

	opened []schemas.PageEvent
}

var _ schemas.BrowserSession = (*FakeSession)(nil)

// NewFakeSession creates a session whose primary page is page.
func NewFakeSession(id string, page *FakePage) *FakeSession {
	return &FakeSession{SessionID: id, Pages: map[int]*FakePage{0: page}}
}

func (s *FakeSession) ID() string { return s.SessionID }
func (s *FakeSession) Slot() int  { return s.SlotID }

func (s *FakeSession) Page(ctx context.Context, index int) (schemas.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.Pages[index]; ok {
		return p, nil
	}
	p := NewFakePage(index)
	s.Pages[index] = p
	s.opened = append(s.opened, schemas.PageEvent{Index: index, URL: "about:blank", At: time.Now()})
	return p, nil
}

func (s *FakeSession) OpenedPages() []schemas.PageEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.opened
	s.opened = nil
	return out
}

func (s *FakeSession) Destroy(ctx context.Context) error {
	s.mu.Lock()
	s.Destroyed = true
	s.mu.Unlock()
	return nil
}

// IsDestroyed reports whether Destroy was called.
func (s *FakeSession) IsDestroyed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Destroyed
}
