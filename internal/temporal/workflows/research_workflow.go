// Package workflows defines the Temporal workflow that runs a research
// session.
package workflows

import (
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"go.temporal.io/sdk/workflow"

	"github.com/helixir/osint-research-service/internal/domain"
	"github.com/helixir/osint-research-service/internal/events"
	"github.com/helixir/osint-research-service/internal/research"
	ostemporal "github.com/helixir/osint-research-service/internal/temporal"
	"github.com/helixir/osint-research-service/internal/temporal/activities"
	"github.com/helixir/osint-research-service/internal/temporal/resilience"
)

// Re-export signal/query name constants from the parent temporal package for
// convenience.
const (
	SignalCancel  = ostemporal.SignalCancel
	QueryProgress = ostemporal.QueryProgress
)

// ResearchWorkflowInput is an alias for the shared input type defined in the
// parent temporal package.
type ResearchWorkflowInput = ostemporal.ResearchWorkflowInput

// Options tune the research workflow.
type Options struct {
	// Policies override the activity policies keyed by operation name.
	// Missing entries fall back to resilience.DefaultPolicies.
	Policies map[string]resilience.OperationPolicy

	// Models records the model used per operation in report metadata.
	Models map[string]string

	// LogOutput receives the research engine's structured log. Nil
	// disables engine logging.
	LogOutput io.Writer

	// LogLevel is the minimum engine log level.
	LogLevel zerolog.Level
}

// ResearchWorkflow runs a research session with default options.
func ResearchWorkflow(ctx workflow.Context, input ResearchWorkflowInput) (*research.Result, error) {
	return runResearch(ctx, input, Options{})
}

// NewResearchWorkflow returns a research workflow function bound to opts.
// Register it under ostemporal.ResearchWorkflowName.
func NewResearchWorkflow(opts Options) func(workflow.Context, ResearchWorkflowInput) (*research.Result, error) {
	return func(ctx workflow.Context, input ResearchWorkflowInput) (*research.Result, error) {
		return runResearch(ctx, input, opts)
	}
}

// runResearch drives one session:
//  1. Mark the session running and publish the started event
//  2. Run the research engine with every collaborator backed by an activity
//  3. Record the outcome on the session and publish the terminal event
//
// Failed sessions are reported in the returned result, not as a workflow
// error. The workflow only errors when the session record cannot be updated
// or the input is invalid.
func runResearch(ctx workflow.Context, input ResearchWorkflowInput, opts Options) (*research.Result, error) {
	logger := workflow.GetLogger(ctx)
	info := workflow.GetInfo(ctx)
	sessionID := input.SessionID.String()
	cfg := input.Config.WithDefaults()

	policies := resilience.DefaultPolicies()
	for name, p := range opts.Policies {
		policies[name] = p
	}

	progress := &ostemporal.WorkflowProgress{
		Progress: research.Progress{
			SessionID: sessionID,
			Phase:     research.PhaseInitializing,
			MaxDepth:  cfg.MaxDepth,
		},
		Status: domain.SessionStatusPending,
	}
	if err := workflow.SetQueryHandler(ctx, QueryProgress, func() (*ostemporal.WorkflowProgress, error) {
		return progress, nil
	}); err != nil {
		logger.Error("failed to register progress query handler", "error", err)
		return nil, fmt.Errorf("register query handler: %w", err)
	}

	cancelCtx, cancelFunc := workflow.WithCancel(ctx)
	signalCh := workflow.GetSignalChannel(ctx, SignalCancel)
	workflow.Go(ctx, func(gCtx workflow.Context) {
		var sig ostemporal.CancelSignal
		signalCh.Receive(gCtx, &sig)
		logger.Info("received cancel signal", "reason", sig.Reason)
		progress.CancelRequested = true
		cancelFunc()
	})

	// Outcome bookkeeping must survive cancellation.
	disconnected, _ := workflow.NewDisconnectedContext(ctx)

	var statusAct *activities.StatusActivities
	var eventAct *activities.EventActivities
	statusOpts := resilience.PolicyFor(policies, resilience.PolicyStatus).ActivityOptions()

	publish := func(wctx workflow.Context, eventType string, payload map[string]interface{}) {
		eventCtx := workflow.WithActivityOptions(wctx, statusOpts)
		// Fire-and-forget: lifecycle events never fail the session.
		if err := workflow.ExecuteActivity(eventCtx, eventAct.PublishEvent, activities.PublishEventInput{
			EventType: eventType,
			SessionID: sessionID,
			Subject:   input.Subject,
			Tags:      input.Tags,
			Payload:   payload,
		}).Get(eventCtx, nil); err != nil {
			logger.Warn("failed to publish session event", "event_type", eventType, "error", err)
		}
	}

	complete := func(outcome domain.SessionOutcome) error {
		progress.Status = outcome.Status
		completeCtx := workflow.WithActivityOptions(disconnected, statusOpts)
		if err := workflow.ExecuteActivity(completeCtx, statusAct.CompleteSession, activities.CompleteSessionInput{
			SessionID: input.SessionID,
			Outcome:   outcome,
		}).Get(completeCtx, nil); err != nil {
			return fmt.Errorf("complete session: %w", err)
		}
		publish(disconnected, eventTypeFor(outcome.Status), outcomePayload(outcome))
		return nil
	}

	// handleFailure records a session that failed before the engine ran.
	handleFailure := func(originalErr error) (*research.Result, error) {
		logger.Error("research workflow failed", "error", originalErr)
		status := domain.SessionStatusFailed
		if cancelCtx.Err() != nil {
			status = domain.SessionStatusCancelled
		}
		if err := complete(domain.SessionOutcome{
			Status:       status,
			ErrorMessage: originalErr.Error(),
		}); err != nil {
			logger.Error("failed to record session failure", "error", err)
		}
		return nil, originalErr
	}

	statusCtx := workflow.WithActivityOptions(cancelCtx, statusOpts)
	if err := workflow.ExecuteActivity(statusCtx, statusAct.MarkSessionRunning, activities.MarkSessionRunningInput{
		SessionID:  input.SessionID,
		WorkflowID: info.WorkflowExecution.ID,
		RunID:      info.WorkflowExecution.RunID,
	}).Get(statusCtx, nil); err != nil {
		return handleFailure(fmt.Errorf("mark session running: %w", err))
	}
	progress.Status = domain.SessionStatusRunning

	publish(cancelCtx, events.EventTypeSessionStarted, map[string]interface{}{
		"workflow_id": info.WorkflowExecution.ID,
		"max_depth":   cfg.MaxDepth,
	})

	rt := &activityRuntime{
		root:         cancelCtx,
		disconnected: disconnected,
		sessionID:    sessionID,
		cfg:          cfg,
		policies:     policies,
	}
	engine, err := research.NewEngine(rt.runtime(), cfg,
		research.WithLogger(newEngineLogger(ctx, opts.LogOutput, opts.LogLevel)),
		research.WithObserver(func(s research.State) { progress.Progress = s.Progress() }),
		research.WithModels(opts.Models),
	)
	if err != nil {
		return handleFailure(fmt.Errorf("create research engine: %w", err))
	}

	logger.Info("starting research session", "sessionID", sessionID, "maxDepth", cfg.MaxDepth)
	result, err := engine.Run(workflowContext{wctx: cancelCtx}, research.Input{
		SessionID: sessionID,
		Subject:   input.Subject,
		Context:   input.Context,
		MaxDepth:  cfg.MaxDepth,
	})
	if err != nil {
		return handleFailure(fmt.Errorf("run research session: %w", err))
	}
	progress.Progress = result.Progress

	outcome := outcomeOf(result)
	if !result.Success && cancelCtx.Err() != nil {
		outcome.Status = domain.SessionStatusCancelled
	}
	if err := complete(outcome); err != nil {
		logger.Error("failed to record session outcome", "error", err)
		return nil, err
	}

	logger.Info("research session finished",
		"sessionID", sessionID,
		"status", string(outcome.Status),
		"terminationReason", outcome.TerminationReason,
		"riskLevel", outcome.RiskLevel,
	)
	return result, nil
}

// outcomeOf summarizes an engine result for the session record.
func outcomeOf(result *research.Result) domain.SessionOutcome {
	outcome := domain.SessionOutcome{
		Status:            domain.SessionStatusCompleted,
		TerminationReason: string(result.TerminationReason),
		ErrorMessage:      result.FailureReason,
		ReportLocation:    result.ReportLocation,
		Depth:             result.Progress.CurrentDepth,
		QueriesExecuted:   result.Progress.QueriesExecuted,
		EntitiesFound:     result.Progress.EntitiesFound,
		ErrorCount:        len(result.ErrorLog),
	}
	if !result.Success {
		outcome.Status = domain.SessionStatusFailed
	}
	if result.Report != nil {
		outcome.RiskLevel = string(result.Report.RiskLevel)
	}
	return outcome
}

func eventTypeFor(status domain.SessionStatus) string {
	switch status {
	case domain.SessionStatusCompleted:
		return events.EventTypeSessionCompleted
	case domain.SessionStatusCancelled:
		return events.EventTypeSessionCancelled
	default:
		return events.EventTypeSessionFailed
	}
}

func outcomePayload(o domain.SessionOutcome) map[string]interface{} {
	payload := map[string]interface{}{
		"status":           string(o.Status),
		"depth":            o.Depth,
		"queries_executed": o.QueriesExecuted,
		"entities_found":   o.EntitiesFound,
		"error_count":      o.ErrorCount,
	}
	if o.TerminationReason != "" {
		payload["termination_reason"] = o.TerminationReason
	}
	if o.RiskLevel != "" {
		payload["risk_level"] = o.RiskLevel
	}
	if o.ReportLocation != "" {
		payload["report_location"] = o.ReportLocation
	}
	if o.ErrorMessage != "" {
		payload["error"] = o.ErrorMessage
	}
	return payload
}
