package schemas

import (
	"errors"
	"fmt"
)

// -- Engine Errors --

// ErrorKind classifies engine level failures.
type ErrorKind string

const (
	// Resolution
	KindElementNotFound ErrorKind = "ElementNotFound"
	KindDataKeyNotFound ErrorKind = "DataKeyNotFound"
	KindRowNotFound     ErrorKind = "RowNotFound"

	// Interaction
	KindWaitForNavigationTimeout ErrorKind = "WaitForNavigationTimeout"
	KindOptionNotSelected        ErrorKind = "OptionNotSelected"
	KindNavigation               ErrorKind = "Navigation"
	KindCheckError               ErrorKind = "CheckError"

	// Data
	KindDataSourceNotFound  ErrorKind = "DataSourceNotFound"
	KindColumnNotFound      ErrorKind = "ColumnNotFound"
	KindConstraintViolation ErrorKind = "ConstraintViolation"

	// Control
	KindInvalidProgram     ErrorKind = "InvalidProgram"
	KindStepBudgetExceeded ErrorKind = "StepBudgetExceeded"
	KindTerminated         ErrorKind = "Terminated"
	KindInternal           ErrorKind = "Internal"
)

// Sentinels for errors.Is checks. Any *EngineError of the same kind matches.
var (
	ErrElementNotFound          = &EngineError{Kind: KindElementNotFound}
	ErrDataKeyNotFound          = &EngineError{Kind: KindDataKeyNotFound}
	ErrRowNotFound              = &EngineError{Kind: KindRowNotFound}
	ErrWaitForNavigationTimeout = &EngineError{Kind: KindWaitForNavigationTimeout}
	ErrOptionNotSelected        = &EngineError{Kind: KindOptionNotSelected}
	ErrNavigation               = &EngineError{Kind: KindNavigation}
	ErrCheckError               = &EngineError{Kind: KindCheckError}
	ErrDataSourceNotFound       = &EngineError{Kind: KindDataSourceNotFound}
	ErrColumnNotFound           = &EngineError{Kind: KindColumnNotFound}
	ErrConstraintViolation      = &EngineError{Kind: KindConstraintViolation}
	ErrInvalidProgram           = &EngineError{Kind: KindInvalidProgram}
	ErrStepBudgetExceeded       = &EngineError{Kind: KindStepBudgetExceeded}
	ErrTerminated               = &EngineError{Kind: KindTerminated}
)

// EngineError is a classified engine failure recorded verbatim in traces.
type EngineError struct {
	Kind    ErrorKind
	Message string
	// Classification is set by checkError probes that matched an error map entry.
	Classification string
	// Retryable marks failures a caller may retry, such as navigation waits.
	Retryable bool
	Err       error
}

// NewError builds an EngineError with a formatted message.
func NewError(kind ErrorKind, format string, args ...any) *EngineError {
	return &EngineError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapError builds an EngineError around a cause.
func WrapError(kind ErrorKind, err error, format string, args ...any) *EngineError {
	return &EngineError{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

func (e *EngineError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	} else {
		msg = string(e.Kind) + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *EngineError) Unwrap() error { return e.Err }

// Is matches any EngineError of the same kind.
func (e *EngineError) Is(target error) bool {
	var t *EngineError
	if errors.As(target, &t) {
		return t.Kind == e.Kind
	}
	return false
}

// KindOf returns the kind of the first EngineError in err's chain, or
// KindInternal when there is none.
func KindOf(err error) ErrorKind {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// ToErrorInfo converts any error into its trace form.
func ToErrorInfo(err error) *ErrorInfo {
	if err == nil {
		return nil
	}
	info := &ErrorInfo{Kind: KindInternal, Message: err.Error()}
	var e *EngineError
	if errors.As(err, &e) {
		info.Kind = e.Kind
		info.Classification = e.Classification
		info.Retryable = e.Retryable
	}
	return info
}
