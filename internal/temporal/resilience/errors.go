// Package resilience provides error classification, per-operation activity
// policies and circuit breakers for the research workflow.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.temporal.io/sdk/temporal"

	"github.com/helixir/osint-research-service/internal/domain"
	"github.com/helixir/osint-research-service/internal/llm"
	"github.com/helixir/osint-research-service/internal/research"
)

// ErrorCategory classifies errors into categories that determine whether an
// activity is retried and how the workflow sees the failure.
type ErrorCategory int

const (
	// Transient errors are temporary failures that should be retried with
	// exponential backoff (e.g. network timeouts, rate limits, circuit open).
	Transient ErrorCategory = iota

	// Budget errors indicate the provider account is out of quota. Retrying
	// does not help; the collaborator is unusable until someone tops it up.
	Budget

	// Permanent errors are non-recoverable for this input (bad request,
	// authentication, malformed model output).
	Permanent
)

// String returns a human-readable name for the category.
func (c ErrorCategory) String() string {
	switch c {
	case Transient:
		return "transient"
	case Budget:
		return "budget"
	case Permanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// Application error types carried across the activity boundary.
const (
	// ErrTypeUnavailable marks a collaborator that could not be reached.
	ErrTypeUnavailable = "ServiceUnavailable"

	// ErrTypeQuota marks a provider account without remaining quota.
	ErrTypeQuota = "QuotaExhausted"

	// ErrTypePermanent marks a failure that retrying cannot fix.
	ErrTypePermanent = "PermanentFailure"

	// ErrTypeTransient marks a retryable failure that is not an outage.
	ErrTypeTransient = "TransientFailure"
)

// transientSubstrings are error message substrings that indicate a transient failure
// when the error is not already classified by a structured error type.
var transientSubstrings = []string{
	"timeout",
	"network",
	"connection refused",
	"connection reset",
	"circuit breaker",
	"rate limit",
	"rate_limit",
	"server_error",
	"service unavailable",
	"temporary",
	"deadline exceeded",
	"i/o timeout",
}

// permanentSubstrings indicate a permanent failure.
// "unauthorized" is used instead of "auth", which would match "author".
var permanentSubstrings = []string{
	"unauthorized",
	"authentication failed",
	"invalid_api_key",
	"forbidden",
	"bad_request",
	"bad request",
	"not_found",
	"not found",
	"invalid_request",
	"invalid request",
	"validation",
	"content_filter",
	"decode",
	"unmarshal",
}

// quotaCodes are provider error codes that mean the account is out of quota.
var quotaCodes = []string{
	"insufficient_quota",
	"billing_hard_limit_reached",
	"credit_balance_too_low",
}

// Classify inspects err and returns its ErrorCategory.
//
// Classification priority:
//  1. Nil errors: Transient (callers should not classify nil)
//  2. LLM provider errors (llm.APIError): quota codes, then status code
//  3. Temporal ApplicationError: type and NonRetryable flag
//  4. Domain and research sentinels
//  5. Error message substrings (transient checked first)
//  6. Default: Transient
func Classify(err error) ErrorCategory {
	if err == nil {
		return Transient
	}

	var apiErr *llm.APIError
	if errors.As(err, &apiErr) {
		for _, code := range quotaCodes {
			if apiErr.Code == code || apiErr.Type == code {
				return Budget
			}
		}
		if apiErr.IsTransient() {
			return Transient
		}
		if apiErr.StatusCode == http.StatusPaymentRequired {
			return Budget
		}
		return Permanent
	}

	var extErr *domain.ExternalAPIError
	if errors.As(err, &extErr) && extErr.StatusCode >= 400 && extErr.StatusCode < 500 &&
		extErr.StatusCode != http.StatusTooManyRequests && extErr.StatusCode != http.StatusRequestTimeout {
		return Permanent
	}

	var appErr *temporal.ApplicationError
	if errors.As(err, &appErr) {
		switch appErr.Type() {
		case ErrTypeUnavailable, ErrTypeTransient:
			return Transient
		case ErrTypeQuota:
			return Budget
		case ErrTypePermanent:
			return Permanent
		}
		if appErr.NonRetryable() {
			return Permanent
		}
	}

	if errors.Is(err, domain.ErrRateLimited) || errors.Is(err, domain.ErrServiceUnavailable) ||
		errors.Is(err, research.ErrCollaboratorUnavailable) || errors.Is(err, ErrCircuitOpen) {
		return Transient
	}
	if errors.Is(err, domain.ErrInvalidInput) || errors.Is(err, domain.ErrNotFound) ||
		errors.Is(err, research.ErrUnrecoverable) {
		return Permanent
	}

	msg := strings.ToLower(err.Error())

	if strings.Contains(msg, "quota") && (strings.Contains(msg, "exceeded") || strings.Contains(msg, "insufficient")) {
		return Budget
	}
	for _, sub := range transientSubstrings {
		if strings.Contains(msg, sub) {
			return Transient
		}
	}
	for _, sub := range permanentSubstrings {
		if strings.Contains(msg, sub) {
			return Permanent
		}
	}

	return Transient
}

// isOutage reports whether err means the collaborator could not be reached,
// as opposed to a retryable hiccup in an otherwise healthy call.
func isOutage(err error) bool {
	if research.IsUnavailable(err) || errors.Is(err, domain.ErrRateLimited) || errors.Is(err, ErrCircuitOpen) {
		return true
	}
	var apiErr *llm.APIError
	return errors.As(err, &apiErr) && apiErr.IsTransient()
}

// ToApplicationError converts a collaborator error returned inside an
// activity into a Temporal ApplicationError whose type survives the
// activity boundary. Permanent and quota errors are non-retryable.
// Cancellation is returned unchanged.
func ToApplicationError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	var appErr *temporal.ApplicationError
	if errors.As(err, &appErr) {
		return err
	}

	msg := fmt.Sprintf("%s: %v", op, err)
	switch Classify(err) {
	case Budget:
		return temporal.NewNonRetryableApplicationError(msg, ErrTypeQuota, err)
	case Permanent:
		return temporal.NewNonRetryableApplicationError(msg, ErrTypePermanent, err)
	default:
		if isOutage(err) {
			return temporal.NewApplicationErrorWithCause(msg, ErrTypeUnavailable, err)
		}
		return temporal.NewApplicationErrorWithCause(msg, ErrTypeTransient, err)
	}
}

// FromActivityError maps an error returned by a workflow activity future
// back onto the sentinels the research engine understands: cancellation
// becomes context.Canceled and outages become domain.ErrServiceUnavailable.
func FromActivityError(err error) error {
	if err == nil {
		return nil
	}
	if temporal.IsCanceledError(err) {
		return fmt.Errorf("%w: %v", context.Canceled, err)
	}
	var appErr *temporal.ApplicationError
	if errors.As(err, &appErr) {
		switch appErr.Type() {
		case ErrTypeUnavailable, ErrTypeQuota:
			return fmt.Errorf("%w: %s", domain.ErrServiceUnavailable, appErr.Error())
		}
		return errors.New(appErr.Error())
	}
	if temporal.IsTimeoutError(err) {
		return fmt.Errorf("%w: %v", domain.ErrServiceUnavailable, err)
	}
	return err
}
