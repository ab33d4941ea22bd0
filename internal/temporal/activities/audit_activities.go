package activities

import (
	"context"
	"encoding/json"

	"go.temporal.io/sdk/activity"

	"github.com/helixir/osint-research-service/internal/observability"
	"github.com/helixir/osint-research-service/internal/research"
	"github.com/helixir/osint-research-service/internal/temporal/resilience"
)

// AuditActivities provides the Temporal activity that appends audit events
// and the one that persists final reports.
// Methods on this struct are registered as Temporal activities via the worker.
type AuditActivities struct {
	sink    research.AuditSink
	reports research.ReportStore
	metrics *observability.Metrics
}

// NewAuditActivities creates a new AuditActivities instance. reports may be
// nil, in which case SaveReport reports the store as unavailable.
// The metrics parameter may be nil (metrics recording will be skipped).
func NewAuditActivities(sink research.AuditSink, reports research.ReportStore, metrics *observability.Metrics) *AuditActivities {
	return &AuditActivities{
		sink:    sink,
		reports: reports,
		metrics: metrics,
	}
}

// AppendAuditEvent appends one event to the session's audit trail.
//
// The sink accepts a re-delivered event that is already stored, so retries
// after a lost response succeed. An out-of-order or conflicting event is
// unrecoverable and is returned as a non-retryable error.
func (a *AuditActivities) AppendAuditEvent(ctx context.Context, ev research.AuditEvent) error {
	if err := a.sink.Append(ctx, ev); err != nil {
		activity.GetLogger(ctx).Error("failed to append audit event",
			"sessionID", ev.SessionID,
			"sequence", ev.Sequence,
			"kind", string(ev.Kind),
			"step", ev.Step,
			"error", err,
		)
		return resilience.ToApplicationError("append audit event", err)
	}

	if a.metrics != nil && activity.GetInfo(ctx).Attempt == 1 {
		a.metrics.RecordAuditEvent(string(ev.Kind))
		if ev.Step == research.StepEntityResolved {
			a.recordEntityDecision(ev.Payload)
		}
	}
	return nil
}

func (a *AuditActivities) recordEntityDecision(payload json.RawMessage) {
	var dec research.EntityDecision
	if err := json.Unmarshal(payload, &dec); err != nil {
		return
	}
	if dec.Created {
		a.metrics.RecordEntities(1, 0)
	} else {
		a.metrics.RecordEntities(0, 1)
	}
}

// SaveReport persists the final report and returns its location.
func (a *AuditActivities) SaveReport(ctx context.Context, report *research.Report) (string, error) {
	logger := activity.GetLogger(ctx)
	if a.reports == nil {
		return "", resilience.ToApplicationError(research.OpReportPersistence, research.ErrCollaboratorUnavailable)
	}

	location, err := a.reports.SaveReport(ctx, report)
	if err != nil {
		logger.Error("failed to save report",
			"sessionID", report.SessionID,
			"error", err,
		)
		return "", resilience.ToApplicationError(research.OpReportPersistence, err)
	}

	if a.metrics != nil {
		a.metrics.RecordReport(string(report.RiskLevel))
	}
	logger.Info("report saved",
		"sessionID", report.SessionID,
		"riskLevel", string(report.RiskLevel),
		"location", location,
	)
	return location, nil
}
