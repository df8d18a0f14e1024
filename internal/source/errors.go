package source

import (
	"errors"
	"fmt"
)

// ConfigError indicates invalid adapter metadata or source configuration.
// It fails fast at validation and never reaches a poll cycle. Field names
// the offending config key when the error is scoped to one.
type ConfigError struct {
	SourceType string
	Field      string
	Message    string
}

func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("config error (%s): field %q: %s", e.SourceType, e.Field, e.Message)
	}
	return fmt.Sprintf("config error (%s): %s", e.SourceType, e.Message)
}

// IsConfigError reports whether err (or any error in its chain) is a
// ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// TransientError indicates a failure scoped to a single cycle: a network
// timeout, a rate limit, an upstream 5xx. The scheduler logs it to the
// poll log and retries on the next cycle.
type TransientError struct {
	SourceType string
	Message    string
	Cause      error
}

func (e *TransientError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("transient error (%s): %s: %v", e.SourceType, e.Message, e.Cause)
	}
	return fmt.Sprintf("transient error (%s): %s", e.SourceType, e.Message)
}

func (e *TransientError) Unwrap() error { return e.Cause }

// IsTransientError reports whether err (or any error in its chain) is a
// TransientError.
func IsTransientError(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// AuthError indicates that authentication has failed or expired for a
// source. It is returned by source clients when a 401 response is received.
type AuthError struct {
	SourceType string
	Message    string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth error (%s): %s", e.SourceType, e.Message)
}

// IsAuthError reports whether err (or any error in its chain) is an
// AuthError.
func IsAuthError(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// CursorExpiredError signals that a platform-issued delta/continuation
// token is no longer valid. Adapters recover by discarding the stored
// cursor and restarting from a fresh baseline query; the error type exists
// so page loops can recognize the condition mid-stream.
type CursorExpiredError struct {
	SourceType string
	Message    string
}

func (e *CursorExpiredError) Error() string {
	return fmt.Sprintf("cursor expired (%s): %s", e.SourceType, e.Message)
}

// IsCursorExpired reports whether err (or any error in its chain) is a
// CursorExpiredError.
func IsCursorExpired(err error) bool {
	var ce *CursorExpiredError
	return errors.As(err, &ce)
}
