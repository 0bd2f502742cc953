package deploy

import (
	stderrors "errors"
	"fmt"
)

// ErrConfig matches every *ConfigError through errors.Is.
var ErrConfig = stderrors.New("config error")

// ConfigError reports a malformed or missing unit configuration. Entry
// and Field are empty when the problem is not tied to one of them.
type ConfigError struct {
	Entry  string
	Field  string
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	msg := "config error"
	if e.Entry != "" {
		msg += fmt.Sprintf(": entry %q", e.Entry)
	}
	if e.Field != "" {
		msg += fmt.Sprintf(" field %q", e.Field)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigError) Unwrap() error { return e.Err }

func (e *ConfigError) Is(target error) bool {
	return target == ErrConfig
}

func fieldError(entry, field, format string, args ...any) *ConfigError {
	return &ConfigError{Entry: entry, Field: field, Reason: fmt.Sprintf(format, args...)}
}
