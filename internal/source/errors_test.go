package source

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestConfigErrorFieldInMessage(t *testing.T) {
	withField := &ConfigError{SourceType: "slack", Field: "channel_id", Message: "channel_id is required"}
	if got := withField.Error(); !strings.Contains(got, `field "channel_id"`) {
		t.Fatalf("Error() = %q, want the field name included", got)
	}
	if !IsConfigError(withField) {
		t.Fatal("IsConfigError(withField) = false")
	}

	withoutField := &ConfigError{SourceType: "rss", Message: "feed_url is required"}
	if got := withoutField.Error(); strings.Contains(got, "field") {
		t.Fatalf("Error() = %q, want no field clause when Field is empty", got)
	}
}

func TestCursorExpiredErrorMessage(t *testing.T) {
	err := &CursorExpiredError{SourceType: "teams", Message: "delta token no longer valid"}
	if got := err.Error(); !strings.Contains(got, "delta token no longer valid") {
		t.Fatalf("Error() = %q, want the message included", got)
	}
	if !IsCursorExpired(err) {
		t.Fatal("IsCursorExpired(err) = false")
	}
}

func TestHelpersMatchWrappedErrors(t *testing.T) {
	base := &TransientError{SourceType: "teams", Message: "rate limited"}
	wrapped := fmt.Errorf("polling channel c1: %w", base)
	if !IsTransientError(wrapped) {
		t.Fatal("IsTransientError(wrapped) = false")
	}
	if IsAuthError(wrapped) || IsConfigError(wrapped) || IsCursorExpired(wrapped) {
		t.Fatal("helpers matched the wrong error kind")
	}

	cause := errors.New("connection reset")
	withCause := &TransientError{SourceType: "rss", Message: "fetching feed", Cause: cause}
	if !errors.Is(withCause, cause) {
		t.Fatal("TransientError did not unwrap its cause")
	}
}
