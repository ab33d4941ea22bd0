package resilience

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"go.temporal.io/sdk/temporal"

	"github.com/helixir/osint-research-service/internal/domain"
	"github.com/helixir/osint-research-service/internal/llm"
	"github.com/helixir/osint-research-service/internal/research"
)

func TestClassify_LLMErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected ErrorCategory
	}{
		{
			name:     "insufficient quota",
			err:      &llm.APIError{Provider: "openai", StatusCode: 429, Code: "insufficient_quota", Message: "out of credit"},
			expected: Budget,
		},
		{
			name:     "quota as type",
			err:      &llm.APIError{Provider: "openai", StatusCode: 429, Type: "insufficient_quota"},
			expected: Budget,
		},
		{
			name:     "rate limit",
			err:      &llm.APIError{Provider: "openai", StatusCode: 429, Message: "too fast"},
			expected: Transient,
		},
		{
			name:     "server error",
			err:      &llm.APIError{Provider: "openai", StatusCode: 500, Message: "boom"},
			expected: Transient,
		},
		{
			name:     "network",
			err:      &llm.APIError{Provider: "openai", Type: "network_error", Message: "connection refused"},
			expected: Transient,
		},
		{
			name:     "payment required",
			err:      &llm.APIError{Provider: "openai", StatusCode: 402},
			expected: Budget,
		},
		{
			name:     "auth",
			err:      &llm.APIError{Provider: "openai", StatusCode: 401, Message: "bad key"},
			expected: Permanent,
		},
		{
			name:     "bad request",
			err:      &llm.APIError{Provider: "openai", StatusCode: 400, Message: "invalid param"},
			expected: Permanent,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.expected {
				t.Errorf("Classify(%v) = %v, want %v", tt.err, got, tt.expected)
			}
		})
	}
}

func TestClassify_WrappedLLMErrors(t *testing.T) {
	wrapped := fmt.Errorf("planner: %w", &llm.APIError{StatusCode: 429, Code: "insufficient_quota"})
	if got := Classify(wrapped); got != Budget {
		t.Errorf("Classify(wrapped quota) = %v, want Budget", got)
	}
}

func TestClassify_ExternalAPIErrors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		expected ErrorCategory
	}{
		{"unauthorized", 401, Permanent},
		{"bad request", 400, Permanent},
		{"too many requests", 429, Transient},
		{"request timeout", 408, Transient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := domain.NewExternalAPIError("tavily", tt.status, "", nil)
			if got := Classify(err); got != tt.expected {
				t.Errorf("Classify(%d) = %v, want %v", tt.status, got, tt.expected)
			}
		})
	}
}

func TestClassify_DomainSentinelErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected ErrorCategory
	}{
		{"rate limited", domain.ErrRateLimited, Transient},
		{"service unavailable", domain.ErrServiceUnavailable, Transient},
		{"wrapped rate limited", fmt.Errorf("search: %w", domain.ErrRateLimited), Transient},
		{"collaborator unavailable", research.ErrCollaboratorUnavailable, Transient},
		{"circuit open", fmt.Errorf("llm: %w", ErrCircuitOpen), Transient},
		{"invalid input", domain.ErrInvalidInput, Permanent},
		{"not found", domain.ErrNotFound, Permanent},
		{"unrecoverable", &research.UnrecoverableError{Reason: "audit"}, Permanent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.expected {
				t.Errorf("Classify(%v) = %v, want %v", tt.err, got, tt.expected)
			}
		})
	}
}

func TestClassify_ApplicationErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected ErrorCategory
	}{
		{"unavailable", temporal.NewApplicationError("down", ErrTypeUnavailable), Transient},
		{"transient", temporal.NewApplicationError("hiccup", ErrTypeTransient), Transient},
		{"quota", temporal.NewNonRetryableApplicationError("quota", ErrTypeQuota, nil), Budget},
		{"permanent", temporal.NewNonRetryableApplicationError("bad", ErrTypePermanent, nil), Permanent},
		{"other non-retryable", temporal.NewNonRetryableApplicationError("x", "Other", nil), Permanent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.expected {
				t.Errorf("Classify(%v) = %v, want %v", tt.err, got, tt.expected)
			}
		})
	}
}

func TestClassify_MessageSubstrings(t *testing.T) {
	tests := []struct {
		name     string
		msg      string
		expected ErrorCategory
	}{
		{"timeout message", "request timeout after 30s", Transient},
		{"connection refused", "dial tcp: connection refused", Transient},
		{"deadline exceeded", "context deadline exceeded", Transient},
		{"quota exceeded in message", "monthly quota exceeded", Budget},
		{"bad request message", "bad_request: invalid JSON", Permanent},
		{"not found message", "profile not found", Permanent},
		{"decode message", "decode analysis: unexpected end of JSON input", Permanent},
		{"author is not auth", "author field missing in validation", Permanent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(errors.New(tt.msg)); got != tt.expected {
				t.Errorf("Classify(%q) = %v, want %v", tt.msg, got, tt.expected)
			}
		})
	}
}

func TestClassify_NilError(t *testing.T) {
	if got := Classify(nil); got != Transient {
		t.Errorf("Classify(nil) = %v, want Transient", got)
	}
}

func TestClassify_UnknownError(t *testing.T) {
	if got := Classify(errors.New("something completely unexpected")); got != Transient {
		t.Errorf("Classify(unknown) = %v, want Transient (default)", got)
	}
}

func TestErrorCategory_String(t *testing.T) {
	if Transient.String() != "transient" {
		t.Errorf("Transient.String() = %q", Transient.String())
	}
	if Budget.String() != "budget" {
		t.Errorf("Budget.String() = %q", Budget.String())
	}
	if Permanent.String() != "permanent" {
		t.Errorf("Permanent.String() = %q", Permanent.String())
	}
	if ErrorCategory(9).String() != "unknown" {
		t.Errorf("ErrorCategory(9).String() = %q", ErrorCategory(9).String())
	}
}

func TestToApplicationError(t *testing.T) {
	tests := []struct {
		name         string
		err          error
		wantType     string
		nonRetryable bool
	}{
		{"outage", fmt.Errorf("search: %w", domain.ErrServiceUnavailable), ErrTypeUnavailable, false},
		{"rate limited", domain.ErrRateLimited, ErrTypeUnavailable, false},
		{"llm 503", &llm.APIError{StatusCode: 503}, ErrTypeUnavailable, false},
		{"unknown", errors.New("something odd"), ErrTypeTransient, false},
		{"quota", &llm.APIError{StatusCode: 429, Code: "insufficient_quota"}, ErrTypeQuota, true},
		{"permanent", &llm.APIError{StatusCode: 400}, ErrTypePermanent, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ToApplicationError("planning", tt.err)
			var appErr *temporal.ApplicationError
			if !errors.As(err, &appErr) {
				t.Fatalf("ToApplicationError() = %T, want *temporal.ApplicationError", err)
			}
			if appErr.Type() != tt.wantType {
				t.Errorf("Type() = %q, want %q", appErr.Type(), tt.wantType)
			}
			if appErr.NonRetryable() != tt.nonRetryable {
				t.Errorf("NonRetryable() = %v, want %v", appErr.NonRetryable(), tt.nonRetryable)
			}
		})
	}

	t.Run("nil", func(t *testing.T) {
		if err := ToApplicationError("planning", nil); err != nil {
			t.Errorf("ToApplicationError(nil) = %v", err)
		}
	})
	t.Run("cancellation passes through", func(t *testing.T) {
		if err := ToApplicationError("planning", context.Canceled); !errors.Is(err, context.Canceled) {
			t.Errorf("ToApplicationError(canceled) = %v", err)
		}
	})
}

func TestFromActivityError(t *testing.T) {
	t.Run("unavailable maps to service unavailable", func(t *testing.T) {
		err := FromActivityError(temporal.NewApplicationError("planning: down", ErrTypeUnavailable))
		if !errors.Is(err, domain.ErrServiceUnavailable) {
			t.Errorf("FromActivityError() = %v, want ErrServiceUnavailable", err)
		}
		if !research.IsUnavailable(err) {
			t.Error("research.IsUnavailable should accept the mapped error")
		}
	})
	t.Run("quota maps to service unavailable", func(t *testing.T) {
		err := FromActivityError(temporal.NewNonRetryableApplicationError("quota", ErrTypeQuota, nil))
		if !errors.Is(err, domain.ErrServiceUnavailable) {
			t.Errorf("FromActivityError() = %v, want ErrServiceUnavailable", err)
		}
	})
	t.Run("permanent stays a plain error", func(t *testing.T) {
		err := FromActivityError(temporal.NewNonRetryableApplicationError("bad output", ErrTypePermanent, nil))
		if err == nil || research.IsUnavailable(err) {
			t.Errorf("FromActivityError() = %v, want a non-outage error", err)
		}
	})
	t.Run("canceled maps to context.Canceled", func(t *testing.T) {
		err := FromActivityError(temporal.NewCanceledError())
		if !errors.Is(err, context.Canceled) {
			t.Errorf("FromActivityError() = %v, want context.Canceled", err)
		}
	})
	t.Run("nil", func(t *testing.T) {
		if FromActivityError(nil) != nil {
			t.Error("FromActivityError(nil) should be nil")
		}
	})
}
