package providers

import (
	"errors"
	"testing"
)

func TestFailoverReasonIsRetryable(t *testing.T) {
	cases := map[FailoverReason]bool{
		FailoverRateLimit:   true,
		FailoverTimeout:     true,
		FailoverServerError: true,
		FailoverAuth:        false,
		FailoverBilling:     false,
	}
	for reason, want := range cases {
		if got := reason.IsRetryable(); got != want {
			t.Errorf("%s.IsRetryable() = %v, want %v", reason, got, want)
		}
	}
}

func TestFailoverReasonShouldFailover(t *testing.T) {
	cases := map[FailoverReason]bool{
		FailoverBilling:          true,
		FailoverAuth:             true,
		FailoverModelUnavailable: true,
		FailoverTimeout:          false,
		FailoverRateLimit:        false,
	}
	for reason, want := range cases {
		if got := reason.ShouldFailover(); got != want {
			t.Errorf("%s.ShouldFailover() = %v, want %v", reason, got, want)
		}
	}
}

func TestProviderErrorWithStatusReclassifies(t *testing.T) {
	err := NewProviderError("anthropic", "claude", errors.New("boom")).WithStatus(429)
	if err.Reason != FailoverRateLimit {
		t.Fatalf("got %s", err.Reason)
	}
	if err.Status != 429 {
		t.Fatalf("got status %d", err.Status)
	}
}

func TestProviderErrorWithCodeReclassifies(t *testing.T) {
	err := NewProviderError("openai", "gpt", errors.New("boom")).WithCode("insufficient_quota")
	if err.Reason != FailoverBilling {
		t.Fatalf("got %s", err.Reason)
	}
}

func TestClassifyErrorFromMessage(t *testing.T) {
	if got := ClassifyError(errors.New("context deadline exceeded")); got != FailoverTimeout {
		t.Fatalf("got %s", got)
	}
	if got := ClassifyError(errors.New("HTTP 503 Service Unavailable")); got != FailoverServerError {
		t.Fatalf("got %s", got)
	}
}

func TestIsProviderErrorUnwraps(t *testing.T) {
	pe := NewProviderError("anthropic", "claude", errors.New("inner"))
	wrapped := errors.New("outer: " + pe.Error())
	if IsProviderError(wrapped) {
		t.Fatal("plain wrapped string should not be detected as ProviderError")
	}
	if !IsProviderError(pe) {
		t.Fatal("expected IsProviderError true for *ProviderError")
	}
}

func TestProviderErrorDoesNotExposeKeysInMessage(t *testing.T) {
	err := NewProviderError("anthropic", "claude", errors.New("invalid_api_key: sk-ant-secret123"))
	// The error classification path never echoes back an API key field; this
	// guards that WithMessage/Error() composition stays limited to what was
	// explicitly set.
	err.Message = ""
	got := err.Error()
	if got == "" {
		t.Fatal("expected non-empty error string")
	}
}

func TestIsRetryableHTTPError(t *testing.T) {
	if !IsRetryableHTTPError(errors.New("HTTP 502 Bad Gateway")) {
		t.Fatal("expected 502 to be retryable")
	}
	if IsRetryableHTTPError(errors.New("HTTP 400 Bad Request")) {
		t.Fatal("expected 400 to not be retryable")
	}
}
