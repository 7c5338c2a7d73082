// internal/resolver/condition.go
package resolver

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/xkilldash9x/scrapeflow/api/schemas"
)

// Evaluate tests cond against the page. Elements that cannot be found make
// the condition false rather than failing it.
func (r *Resolver) Evaluate(ctx context.Context, scope Scope, cond schemas.ScraperCondition) (bool, error) {
	switch cond.Type {
	case schemas.ConditionIsVisible:
		return r.isVisible(ctx, scope, cond)
	case schemas.ConditionTextEquals:
		return r.textEquals(ctx, scope, cond)
	}
	return false, schemas.NewError(schemas.KindInvalidProgram, "unknown condition type %q", cond.Type)
}

func (r *Resolver) isVisible(ctx context.Context, scope Scope, cond schemas.ScraperCondition) (bool, error) {
	page, err := r.page(ctx, scope, cond.PageIndex)
	if err != nil {
		return false, err
	}
	el, err := r.ResolveElement(ctx, page, cond.Selectors)
	if err != nil {
		if errors.Is(err, schemas.ErrElementNotFound) {
			return false, nil
		}
		return false, err
	}
	visible, err := el.Visible(ctx)
	if err != nil {
		// A node detached between lookup and the visibility probe is not visible.
		r.logger.Debug("Visibility probe failed.", zap.Error(err))
		return false, nil
	}
	return visible, nil
}

// textEquals compares the resolved value against a literal or /regex/flags
// expression. nil never equals anything and no trimming is applied.
func (r *Resolver) textEquals(ctx context.Context, scope Scope, cond schemas.ScraperCondition) (bool, error) {
	if cond.ValueSelector == nil {
		return false, schemas.NewError(schemas.KindInvalidProgram, "textEquals condition without valueSelector")
	}
	v, err := r.ResolveValue(ctx, scope, *cond.ValueSelector)
	if err != nil {
		if errors.Is(err, schemas.ErrElementNotFound) {
			return false, nil
		}
		return false, err
	}
	if v == nil {
		return false, nil
	}
	ok, err := r.Matcher().Match(cond.Text, Stringify(v))
	if err != nil {
		return false, schemas.WrapError(schemas.KindInvalidProgram, err, "invalid text expression %q", cond.Text)
	}
	return ok, nil
}
