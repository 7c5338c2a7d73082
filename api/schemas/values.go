package schemas

// -- Selectors, Values and Conditions --

// SelectorType discriminates ElementSelector criteria.
type SelectorType string

const (
	SelectorQuery       SelectorType = "query"
	SelectorTextContent SelectorType = "textContent"
	SelectorTagName     SelectorType = "tagName"
	SelectorAttributes  SelectorType = "attributes"
)

// ElementSelector is one criterion an element has to satisfy. A list of
// selectors is ANDed: an element matches only if every criterion holds.
//
// Text and attribute values are literals unless written as /pattern/flags.
type ElementSelector struct {
	Type       SelectorType      `json:"type" yaml:"type"`
	Query      string            `json:"query,omitempty" yaml:"query,omitempty"`
	Text       string            `json:"text,omitempty" yaml:"text,omitempty"`
	TagName    string            `json:"tagName,omitempty" yaml:"tagName,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty" yaml:"attributes,omitempty"`
}

// ValueType discriminates ScraperValue expressions.
type ValueType string

const (
	ValueLiteral            ValueType = "literal"
	ValueCurrentTimestamp   ValueType = "currentTimestamp"
	ValueExternalData       ValueType = "externalData"
	ValueElementTextContent ValueType = "elementTextContent"
	ValueElementAttribute   ValueType = "elementAttribute"
)

// ScraperValue is a declarative expression that resolves to a scalar
// (string, float64, int64, bool or nil) at run time.
type ScraperValue struct {
	Type ValueType `json:"type" yaml:"type"`

	// literal
	Value any `json:"value,omitempty" yaml:"value,omitempty"`

	// externalData: DataKey is "alias.column".
	DataKey      string `json:"dataKey,omitempty" yaml:"dataKey,omitempty"`
	DefaultValue any    `json:"defaultValue,omitempty" yaml:"defaultValue,omitempty"`

	// elementTextContent, elementAttribute
	Selectors     []ElementSelector `json:"selectors,omitempty" yaml:"selectors,omitempty"`
	AttributeName string            `json:"attributeName,omitempty" yaml:"attributeName,omitempty"`
	PageIndex     int               `json:"pageIndex,omitempty" yaml:"pageIndex,omitempty"`
}

// Literal is a shorthand for a literal ScraperValue.
func Literal(v any) ScraperValue {
	return ScraperValue{Type: ValueLiteral, Value: v}
}

// ConditionType discriminates ScraperCondition.
type ConditionType string

const (
	ConditionIsVisible  ConditionType = "isVisible"
	ConditionTextEquals ConditionType = "textEquals"
)

// ScraperCondition is a boolean test evaluated against the page.
type ScraperCondition struct {
	Type ConditionType `json:"type" yaml:"type"`

	// isVisible
	Selectors []ElementSelector `json:"selectors,omitempty" yaml:"selectors,omitempty"`
	PageIndex int               `json:"pageIndex,omitempty" yaml:"pageIndex,omitempty"`

	// textEquals: Text is a literal or a /pattern/flags expression.
	ValueSelector *ScraperValue `json:"valueSelector,omitempty" yaml:"valueSelector,omitempty"`
	Text          string        `json:"text,omitempty" yaml:"text,omitempty"`
}
