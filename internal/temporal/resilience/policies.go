package resilience

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/helixir/osint-research-service/internal/research"
)

// Policy names for activities that are not research operations.
const (
	PolicyAudit  = "audit"
	PolicyStatus = "status"
)

// OperationPolicy holds the timeout and retry configuration for the
// activity that backs one research operation.
type OperationPolicy struct {
	// Name is the operation identifier (e.g. "planning", "search").
	Name string

	// StartToCloseTimeout bounds a single attempt.
	StartToCloseTimeout time.Duration

	// HeartbeatTimeout is set for long-running activities that heartbeat.
	HeartbeatTimeout time.Duration

	// MaxAttempts is the maximum number of attempts, including the first.
	MaxAttempts int32

	// InitialInterval is the delay before the first retry.
	InitialInterval time.Duration

	// BackoffCoefficient controls exponential growth of the retry interval.
	BackoffCoefficient float64

	// MaxInterval caps the retry interval.
	MaxInterval time.Duration
}

// RetryPolicy returns the Temporal retry policy. Quota and permanent
// failures are never retried.
func (p OperationPolicy) RetryPolicy() *temporal.RetryPolicy {
	return &temporal.RetryPolicy{
		InitialInterval:        p.InitialInterval,
		BackoffCoefficient:     p.BackoffCoefficient,
		MaximumInterval:        p.MaxInterval,
		MaximumAttempts:        p.MaxAttempts,
		NonRetryableErrorTypes: []string{ErrTypePermanent, ErrTypeQuota},
	}
}

// ActivityOptions returns activity options for the policy.
func (p OperationPolicy) ActivityOptions() workflow.ActivityOptions {
	return workflow.ActivityOptions{
		StartToCloseTimeout: p.StartToCloseTimeout,
		HeartbeatTimeout:    p.HeartbeatTimeout,
		RetryPolicy:         p.RetryPolicy(),
	}
}

// ForSearchBatch returns a copy whose timeout covers a batch of n queries
// run maxConcurrent at a time with perQuery timeout each.
func (p OperationPolicy) ForSearchBatch(n, maxConcurrent int, perQuery time.Duration) OperationPolicy {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	waves := (n + maxConcurrent - 1) / maxConcurrent
	if waves < 1 {
		waves = 1
	}
	if d := time.Duration(waves)*perQuery + 30*time.Second; d > p.StartToCloseTimeout {
		p.StartToCloseTimeout = d
	}
	return p
}

var defaultPolicy = OperationPolicy{
	Name:                "default",
	StartToCloseTimeout: 2 * time.Minute,
	MaxAttempts:         3,
	InitialInterval:     time.Second,
	BackoffCoefficient:  2.0,
	MaxInterval:         30 * time.Second,
}

// DefaultPolicies returns the standard activity policies for the research
// workflow, keyed by operation name.
func DefaultPolicies() map[string]OperationPolicy {
	return map[string]OperationPolicy{
		research.OpPlanning: {
			Name:                research.OpPlanning,
			StartToCloseTimeout: 2 * time.Minute,
			MaxAttempts:         3,
			InitialInterval:     time.Second,
			BackoffCoefficient:  2.0,
			MaxInterval:         30 * time.Second,
		},
		research.OpSearch: {
			Name:                research.OpSearch,
			StartToCloseTimeout: 3 * time.Minute,
			HeartbeatTimeout:    time.Minute,
			MaxAttempts:         2,
			InitialInterval:     5 * time.Second,
			BackoffCoefficient:  2.0,
			MaxInterval:         30 * time.Second,
		},
		research.OpAnalysis: {
			Name:                research.OpAnalysis,
			StartToCloseTimeout: 5 * time.Minute,
			MaxAttempts:         3,
			InitialInterval:     time.Second,
			BackoffCoefficient:  2.0,
			MaxInterval:         30 * time.Second,
		},
		research.OpEntityMatch: {
			Name:                research.OpEntityMatch,
			StartToCloseTimeout: time.Minute,
			MaxAttempts:         2,
			InitialInterval:     time.Second,
			BackoffCoefficient:  2.0,
			MaxInterval:         10 * time.Second,
		},
		research.OpConnectionMapping: {
			Name:                research.OpConnectionMapping,
			StartToCloseTimeout: 5 * time.Minute,
			MaxAttempts:         3,
			InitialInterval:     time.Second,
			BackoffCoefficient:  2.0,
			MaxInterval:         30 * time.Second,
		},
		research.OpSynthesis: {
			Name:                research.OpSynthesis,
			StartToCloseTimeout: 5 * time.Minute,
			MaxAttempts:         3,
			InitialInterval:     time.Second,
			BackoffCoefficient:  2.0,
			MaxInterval:         30 * time.Second,
		},
		research.OpReportPersistence: {
			Name:                research.OpReportPersistence,
			StartToCloseTimeout: 30 * time.Second,
			MaxAttempts:         5,
			InitialInterval:     time.Second,
			BackoffCoefficient:  2.0,
			MaxInterval:         15 * time.Second,
		},
		PolicyAudit: {
			Name:                PolicyAudit,
			StartToCloseTimeout: 10 * time.Second,
			MaxAttempts:         10,
			InitialInterval:     500 * time.Millisecond,
			BackoffCoefficient:  2.0,
			MaxInterval:         10 * time.Second,
		},
		PolicyStatus: {
			Name:                PolicyStatus,
			StartToCloseTimeout: 10 * time.Second,
			MaxAttempts:         5,
			InitialInterval:     time.Second,
			BackoffCoefficient:  2.0,
			MaxInterval:         10 * time.Second,
		},
	}
}

// PolicyFor returns the policy for name from policies, or the default
// policy when none is configured.
func PolicyFor(policies map[string]OperationPolicy, name string) OperationPolicy {
	if p, ok := policies[name]; ok {
		return p
	}
	p := defaultPolicy
	p.Name = name
	return p
}
