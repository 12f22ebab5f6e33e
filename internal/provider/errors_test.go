package provider

import (
	"errors"
	"fmt"
	"testing"
)

func TestCodeOf(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{ErrNoAPIKey, "configuration_missing"},
		{ErrUnknownModel, "model_unknown"},
		{ErrRateLimited, "rate_limited"},
		{ErrQuotaExceeded, "quota_exceeded"},
		{ErrTransport, "transport_failure"},
		{ErrProtocol, "protocol_failure"},
		{ErrContentBlocked, "content_blocked"},
		{ErrCancelled, "cancelled"},
		{ErrTimeout, "timeout"},
		{ErrPaused, "paused"},
		{ErrSubprocess, "subprocess_failure"},
		{ErrInternal, "internal"},
		{errors.New("anything else"), "internal"},
	}
	for _, tt := range tests {
		if got := CodeOf(tt.err); got != tt.want {
			t.Errorf("CodeOf(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestCodeOf_Wrapped(t *testing.T) {
	err := fmt.Errorf("read chunk: %w", ErrTransport)
	if got := CodeOf(err); got != "transport_failure" {
		t.Errorf("CodeOf(wrapped) = %q", got)
	}
}

func TestIsPreflight(t *testing.T) {
	if !IsPreflight(ErrNoAPIKey) || !IsPreflight(fmt.Errorf("x: %w", ErrUnknownModel)) {
		t.Error("key and model errors are pre-flight")
	}
	if IsPreflight(ErrRateLimited) {
		t.Error("rate limit is an in-stream error")
	}
}
