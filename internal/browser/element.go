// internal/browser/element.go
package browser

import (
	"context"
	"fmt"
	"strings"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/chromedp"

	"github.com/xkilldash9x/scrapeflow/api/schemas"
)

// -- JavaScript helpers, called with `this` bound to the element --

const (
	jsTextContent = `function() { return this.textContent || ""; }`
	jsAttribute   = `function(name) { return this.getAttribute(name); }`
	jsMatches     = `function(css) { try { return this.matches(css); } catch (e) { return false; } }`
	jsVisible     = `function() {
		const style = window.getComputedStyle(this);
		const rect = this.getBoundingClientRect();
		return style.visibility !== "hidden" && style.display !== "none" && rect.width > 0 && rect.height > 0;
	}`
	jsScrollIntoView = `function() { this.scrollIntoView({block: "center", inline: "center"}); return true; }`
	jsClick          = `function() { this.scrollIntoView({block: "center", inline: "center"}); this.click(); return true; }`
	jsFocus          = `function() { this.focus(); return true; }`
	jsClear          = `function() {
		if ("value" in this) {
			this.value = "";
			this.dispatchEvent(new Event("input", {bubbles: true}));
		} else if (this.isContentEditable) {
			this.textContent = "";
		}
		return true;
	}`
	jsSelectOption = `function(v) {
		const options = Array.from(this.options || []);
		const option = options.find(o => o.value === v || o.label === v || o.text.trim() === v);
		if (!option) { return false; }
		this.value = option.value;
		option.selected = true;
		this.dispatchEvent(new Event("input", {bubbles: true}));
		this.dispatchEvent(new Event("change", {bubbles: true}));
		return true;
	}`
)

// element is a schemas.Element backed by a CDP node.
type element struct {
	page *Page
	node *cdp.Node
}

var _ schemas.Element = (*element)(nil)

func (e *element) TagName() string {
	if e.node.LocalName != "" {
		return strings.ToLower(e.node.LocalName)
	}
	return strings.ToLower(e.node.NodeName)
}

func (e *element) callFunction(ctx context.Context, fn string, res any, args ...any) error {
	return e.page.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		return chromedp.CallFunctionOnNode(ctx, e.node, fn, res, args...)
	}))
}

func (e *element) TextContent(ctx context.Context) (string, error) {
	var text string
	if err := e.callFunction(ctx, jsTextContent, &text); err != nil {
		return "", fmt.Errorf("failed to read text content: %w", err)
	}
	return text, nil
}

func (e *element) Attribute(ctx context.Context, name string) (*string, error) {
	var value *string
	if err := e.callFunction(ctx, jsAttribute, &value, name); err != nil {
		return nil, fmt.Errorf("failed to read attribute %q: %w", name, err)
	}
	return value, nil
}

func (e *element) Matches(ctx context.Context, css string) (bool, error) {
	var ok bool
	if err := e.callFunction(ctx, jsMatches, &ok, css); err != nil {
		return false, fmt.Errorf("failed to match %q: %w", css, err)
	}
	return ok, nil
}

func (e *element) Visible(ctx context.Context) (bool, error) {
	var ok bool
	if err := e.callFunction(ctx, jsVisible, &ok); err != nil {
		return false, fmt.Errorf("failed to check visibility: %w", err)
	}
	return ok, nil
}

// frame is a schemas.Frame. The main frame has no owner node.
type frame struct {
	page  *Page
	name  string
	owner *cdp.Node
}

var _ schemas.Frame = (*frame)(nil)

func (f *frame) Name() string { return f.name }

func (f *frame) QueryAll(ctx context.Context, css string) ([]schemas.Element, error) {
	var nodes []*cdp.Node
	opts := []chromedp.QueryOption{chromedp.ByQueryAll, chromedp.AtLeast(0)}
	if f.owner != nil {
		opts = append(opts, chromedp.FromNode(f.owner))
	}
	if err := f.page.run(ctx, chromedp.Nodes(css, &nodes, opts...)); err != nil {
		return nil, err
	}
	out := make([]schemas.Element, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, &element{page: f.page, node: n})
	}
	return out, nil
}
