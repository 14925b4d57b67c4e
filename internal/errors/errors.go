package errors

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
)

// AmanError is an error with a stable code. Callers branch on the code or
// its Category; users see Message and, when set, Suggestion.
type AmanError struct {
	Code       string
	Message    string
	Cause      error
	Details    map[string]string
	Suggestion string
}

// New returns an error with the given code, message and optional cause.
func New(code, message string, cause error) *AmanError {
	return &AmanError{Code: code, Message: message, Cause: cause}
}

// Newf is New with a formatted message and no cause.
func Newf(code, format string, args ...any) *AmanError {
	return New(code, fmt.Sprintf(format, args...), nil)
}

// Wrap uses err's text as the message. It returns nil for a nil err.
func Wrap(code string, err error) *AmanError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

func (e *AmanError) Error() string { return "[" + e.Code + "] " + e.Message }

func (e *AmanError) Unwrap() error { return e.Cause }

// Is matches any *AmanError with the same code, so sentinel values like
// New(ErrCodeIndexDisabled, "", nil) work with errors.Is.
func (e *AmanError) Is(target error) bool {
	t, ok := target.(*AmanError)
	return ok && t.Code == e.Code
}

// Category is derived from the code's hundreds digit.
func (e *AmanError) Category() Category { return categoryOf(e.Code) }

// Retryable reports whether the same call may succeed later.
func (e *AmanError) Retryable() bool { return retryable[e.Code] }

// WithDetail records a key/value for logs.
func (e *AmanError) WithDetail(key, value string) *AmanError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion sets the hint printed after the message.
func (e *AmanError) WithSuggestion(s string) *AmanError {
	e.Suggestion = s
	return e
}

// LogValue implements slog.LogValuer.
func (e *AmanError) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("code", e.Code),
		slog.String("message", e.Message),
	}
	if e.Cause != nil {
		attrs = append(attrs, slog.String("cause", e.Cause.Error()))
	}
	for _, k := range slices.Sorted(maps.Keys(e.Details)) {
		attrs = append(attrs, slog.String(k, e.Details[k]))
	}
	return slog.GroupValue(attrs...)
}

// LogAttr returns err as an "error" attribute, structured when err wraps
// an *AmanError.
func LogAttr(err error) slog.Attr {
	if ae, ok := As(err); ok {
		return slog.Any("error", ae)
	}
	if err == nil {
		return slog.String("error", "")
	}
	return slog.String("error", err.Error())
}

// As returns the first *AmanError in err's chain.
func As(err error) (*AmanError, bool) {
	var ae *AmanError
	ok := errors.As(err, &ae)
	return ae, ok
}

// GetCode returns the code of the first *AmanError in err's chain, or "".
func GetCode(err error) string {
	if ae, ok := As(err); ok {
		return ae.Code
	}
	return ""
}

// HasCode reports whether GetCode(err) equals code.
func HasCode(err error, code string) bool { return GetCode(err) == code }

// GetCategory returns the category of err, or "" for plain errors.
func GetCategory(err error) Category {
	if ae, ok := As(err); ok {
		return ae.Category()
	}
	return ""
}

// IsRetryable reports whether err wraps a retryable *AmanError.
func IsRetryable(err error) bool {
	ae, ok := As(err)
	return ok && ae.Retryable()
}
