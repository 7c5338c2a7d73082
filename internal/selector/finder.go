// File: internal/selector/finder.go
package selector

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/scrapeflow/api/schemas"
)

// Options bounds an element search.
type Options struct {
	// Timeout bounds the whole search across all frames.
	Timeout time.Duration
	// FrameTimeout bounds each query against a single frame.
	FrameTimeout time.Duration
	// PollInterval is the pause between passes over the frames.
	PollInterval time.Duration
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Second
	}
	if o.FrameTimeout <= 0 {
		o.FrameTimeout = 2 * time.Second
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 250 * time.Millisecond
	}
	return o
}

// Finder locates elements matching a list of ANDed selectors.
type Finder struct {
	matcher *Matcher
	logger  *zap.Logger
}

// NewFinder creates a Finder.
func NewFinder(matcher *Matcher, logger *zap.Logger) *Finder {
	return &Finder{matcher: matcher, logger: logger.Named("selector")}
}

// Matcher returns the literal-or-regex matcher used by the finder.
func (f *Finder) Matcher() *Matcher { return f.matcher }

// Find searches the main frame, then each child frame in document order,
// repeating the pass until an element matches or opts.Timeout elapses.
// Cancellation of ctx is returned as is. Running out of time yields an
// ElementNotFound error.
func (f *Finder) Find(ctx context.Context, src schemas.FrameSource, selectors []schemas.ElementSelector, opts Options) (schemas.Element, error) {
	if len(selectors) == 0 {
		return nil, schemas.NewError(schemas.KindElementNotFound, "empty selector list")
	}
	opts = opts.withDefaults()
	deadline := time.Now().Add(opts.Timeout)
	searchCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	var lastErr error
	for pass := 0; ; pass++ {
		el, err := f.searchOnce(searchCtx, src, selectors, opts)
		if el != nil {
			if pass > 0 {
				f.logger.Debug("Element found after polling.", zap.Int("passes", pass+1))
			}
			return el, nil
		}
		if err != nil {
			// Invalid expressions never start matching.
			if !isTransient(err) {
				return nil, err
			}
			lastErr = err
		}

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		wait := opts.PollInterval
		if remaining := time.Until(deadline); remaining <= 0 {
			break
		} else if remaining < wait {
			wait = remaining
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
		if !time.Now().Before(deadline) {
			break
		}
	}

	notFound := schemas.NewError(schemas.KindElementNotFound, "no element matches %s within %s", Describe(selectors), opts.Timeout)
	if lastErr != nil {
		notFound.Err = lastErr
	}
	return nil, notFound
}

// searchOnce makes a single pass over all frames.
func (f *Finder) searchOnce(ctx context.Context, src schemas.FrameSource, selectors []schemas.ElementSelector, opts Options) (schemas.Element, error) {
	frames, err := src.Frames(ctx)
	if err != nil {
		return nil, transient(fmt.Errorf("failed to list frames: %w", err))
	}

	var lastErr error
	for i, frame := range frames {
		if ctx.Err() != nil {
			return nil, lastErr
		}
		frameCtx, cancel := context.WithTimeout(ctx, opts.FrameTimeout)
		el, err := f.searchFrame(frameCtx, frame, selectors)
		cancel()
		if el != nil {
			if i > 0 {
				f.logger.Debug("Element found in child frame.", zap.String("frame", frame.Name()), zap.Int("frame_index", i))
			}
			return el, nil
		}
		if err != nil {
			if !isTransient(err) {
				return nil, err
			}
			lastErr = err
		}
	}
	return nil, lastErr
}

func (f *Finder) searchFrame(ctx context.Context, frame schemas.Frame, selectors []schemas.ElementSelector) (schemas.Element, error) {
	css, anchor := candidateQuery(selectors)
	candidates, err := frame.QueryAll(ctx, css)
	if err != nil {
		return nil, transient(fmt.Errorf("query %q in frame %q failed: %w", css, frame.Name(), err))
	}
	for _, el := range candidates {
		ok, err := f.matchesAll(ctx, el, selectors, anchor)
		if err != nil {
			return nil, err
		}
		if ok {
			return el, nil
		}
	}
	return nil, nil
}

// matchesAll checks every selector except the one at index skip, which
// produced the candidate list.
func (f *Finder) matchesAll(ctx context.Context, el schemas.Element, selectors []schemas.ElementSelector, skip int) (bool, error) {
	for i, sel := range selectors {
		if i == skip {
			continue
		}
		ok, err := f.matchOne(ctx, el, sel)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func (f *Finder) matchOne(ctx context.Context, el schemas.Element, sel schemas.ElementSelector) (bool, error) {
	switch sel.Type {
	case schemas.SelectorQuery:
		ok, err := el.Matches(ctx, sel.Query)
		if err != nil {
			return false, transient(err)
		}
		return ok, nil

	case schemas.SelectorTagName:
		return strings.EqualFold(el.TagName(), sel.TagName), nil

	case schemas.SelectorTextContent:
		text, err := el.TextContent(ctx)
		if err != nil {
			return false, transient(err)
		}
		return f.matcher.Match(sel.Text, strings.TrimSpace(text))

	case schemas.SelectorAttributes:
		for name, expected := range sel.Attributes {
			value, err := el.Attribute(ctx, name)
			if err != nil {
				return false, transient(err)
			}
			if value == nil {
				return false, nil
			}
			ok, err := f.matcher.Match(expected, *value)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	}
	return false, schemas.NewError(schemas.KindInvalidProgram, "unknown selector type %q", sel.Type)
}

// candidateQuery picks the CSS query that produces candidate elements and
// the index of the selector it fully covers (-1 when none).
func candidateQuery(selectors []schemas.ElementSelector) (string, int) {
	for i, sel := range selectors {
		if sel.Type == schemas.SelectorQuery && strings.TrimSpace(sel.Query) != "" {
			return sel.Query, i
		}
	}
	for i, sel := range selectors {
		if sel.Type == schemas.SelectorTagName && sel.TagName != "" {
			return strings.ToLower(sel.TagName), i
		}
	}
	return "*", -1
}

// Describe renders selectors for error messages and logs.
func Describe(selectors []schemas.ElementSelector) string {
	parts := make([]string, 0, len(selectors))
	for _, sel := range selectors {
		switch sel.Type {
		case schemas.SelectorQuery:
			parts = append(parts, fmt.Sprintf("query(%s)", sel.Query))
		case schemas.SelectorTextContent:
			parts = append(parts, fmt.Sprintf("text(%s)", sel.Text))
		case schemas.SelectorTagName:
			parts = append(parts, fmt.Sprintf("tag(%s)", sel.TagName))
		case schemas.SelectorAttributes:
			attrs := make([]string, 0, len(sel.Attributes))
			for k, v := range sel.Attributes {
				attrs = append(attrs, k+"="+v)
			}
			parts = append(parts, fmt.Sprintf("attrs(%s)", strings.Join(attrs, ",")))
		default:
			parts = append(parts, string(sel.Type))
		}
	}
	return "[" + strings.Join(parts, " & ") + "]"
}

// -- transient errors --

// transientError marks browser side failures (detached frames, stale nodes)
// that may clear up on the next pass.
type transientError struct{ err error }

func (e transientError) Error() string { return e.err.Error() }
func (e transientError) Unwrap() error { return e.err }

func transient(err error) error { return transientError{err: err} }

func isTransient(err error) bool {
	var t transientError
	return errors.As(err, &t)
}
