// File: internal/selector/matcher.go
package selector

import (
	"fmt"
	"regexp"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

const defaultCacheSize = 256

// Matcher compares text against literal-or-regex expressions. An expression
// written as /pattern/flags is a regular expression, anything else is a
// literal compared for exact equality. Compiled expressions are cached.
type Matcher struct {
	cache *lru.Cache[string, *regexp.Regexp]
}

// NewMatcher creates a Matcher caching up to size compiled expressions.
func NewMatcher(size int) (*Matcher, error) {
	if size <= 0 {
		size = defaultCacheSize
	}
	cache, err := lru.New[string, *regexp.Regexp](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create regex cache: %w", err)
	}
	return &Matcher{cache: cache}, nil
}

// Match reports whether text satisfies expr.
func (m *Matcher) Match(expr, text string) (bool, error) {
	re, isRegex, err := m.Compile(expr)
	if err != nil {
		return false, err
	}
	if !isRegex {
		return expr == text, nil
	}
	return re.MatchString(text), nil
}

// Compile returns the regular expression of expr, or isRegex=false when expr
// is a literal.
func (m *Matcher) Compile(expr string) (re *regexp.Regexp, isRegex bool, err error) {
	pattern, flags, ok := splitRegex(expr)
	if !ok {
		return nil, false, nil
	}
	if cached, hit := m.cache.Get(expr); hit {
		return cached, true, nil
	}

	var prefix strings.Builder
	for _, f := range flags {
		switch f {
		case 'i', 's', 'm':
			prefix.WriteRune(f)
		}
	}
	if prefix.Len() > 0 {
		pattern = "(?" + prefix.String() + ")" + pattern
	}

	re, err = regexp.Compile(pattern)
	if err != nil {
		return nil, true, fmt.Errorf("invalid regular expression %q: %w", expr, err)
	}
	m.cache.Add(expr, re)
	return re, true, nil
}

// isRegexExpr reports whether expr uses the /pattern/flags form.
func isRegexExpr(expr string) bool {
	_, _, ok := splitRegex(expr)
	return ok
}

// splitRegex splits "/pattern/flags". Flags are limited to the ones a
// browser regex literal accepts; g, u and y have no effect on matching.
func splitRegex(expr string) (pattern, flags string, ok bool) {
	if len(expr) < 2 || expr[0] != '/' {
		return "", "", false
	}
	last := strings.LastIndexByte(expr, '/')
	if last <= 0 {
		return "", "", false
	}
	flags = expr[last+1:]
	if strings.Trim(flags, "gimsuy") != "" {
		return "", "", false
	}
	return expr[1:last], flags, true
}
