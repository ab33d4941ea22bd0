package workflows

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"

	"github.com/helixir/osint-research-service/internal/domain"
	"github.com/helixir/osint-research-service/internal/events"
	"github.com/helixir/osint-research-service/internal/research"
	ostemporal "github.com/helixir/osint-research-service/internal/temporal"
	"github.com/helixir/osint-research-service/internal/temporal/activities"
	"github.com/helixir/osint-research-service/internal/temporal/resilience"
)

// newTestInput returns a ResearchWorkflowInput configured for tests.
func newTestInput() ResearchWorkflowInput {
	return ResearchWorkflowInput{
		SessionID: uuid.MustParse("5b0f7c1e-9d4a-4f3e-8a51-2c6f0e9b7d13"),
		Subject:   "Jane Roe",
		Context:   "Director of Roe Trading Ltd",
		Tags:      []string{"kyc"},
		Config:    domain.ResearchConfig{MaxDepth: 1},
	}
}

// recorder captures activity inputs from the workflow under test.
type recorder struct {
	mu        sync.Mutex
	audit     []research.AuditEvent
	outcomes  []activities.CompleteSessionInput
	published []string
}

func (r *recorder) appendAudit(_ context.Context, ev research.AuditEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audit = append(r.audit, ev)
	return nil
}

func (r *recorder) complete(_ context.Context, in activities.CompleteSessionInput) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, in)
	return nil
}

func (r *recorder) publish(_ context.Context, in activities.PublishEventInput) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.published = append(r.published, in.EventType)
	return nil
}

// mockSearch makes the round's single query return one court record.
func mockSearch(env *testsuite.TestWorkflowEnvironment) {
	var searchAct *activities.SearchActivities
	env.OnActivity(searchAct.ExecuteSearchBatch, mock.Anything, mock.Anything).Return(
		&research.SearchBatch{Records: []research.SearchResultRecord{{
			Query: "jane roe court records",
			Sources: []research.Source{{
				URL:   "https://courts.example.com/roe",
				Title: "Roe v. State",
			}},
		}}}, nil,
	)
}

// mockSession registers mocks for a one-round session that finds the
// subject and one red flag. Search is mocked separately.
func mockSession(env *testsuite.TestWorkflowEnvironment, rec *recorder) {
	var llmAct *activities.LLMActivities
	var auditAct *activities.AuditActivities
	var statusAct *activities.StatusActivities
	var eventAct *activities.EventActivities

	env.OnActivity(statusAct.MarkSessionRunning, mock.Anything, mock.Anything).Return(nil)
	env.OnActivity(statusAct.CompleteSession, mock.Anything, mock.Anything).Return(rec.complete)
	env.OnActivity(eventAct.PublishEvent, mock.Anything, mock.Anything).Return(rec.publish)
	env.OnActivity(auditAct.AppendAuditEvent, mock.Anything, mock.Anything).Return(rec.appendAudit)
	env.OnActivity(auditAct.SaveReport, mock.Anything, mock.Anything).
		Return("postgres://research_reports/5b0f7c1e-9d4a-4f3e-8a51-2c6f0e9b7d13", nil)

	env.OnActivity(llmAct.Plan, mock.Anything, mock.Anything).Return(
		&research.Plan{Goal: "broad coverage", Queries: []string{"jane roe court records"}}, nil,
	)
	env.OnActivity(llmAct.Analyze, mock.Anything, mock.Anything).Return(
		&research.Analysis{
			Summary:        "court record found",
			ShouldContinue: false,
			Mentions: []research.Mention{{
				Name:    "Jane Roe",
				Kind:    research.EntityPerson,
				Sources: []string{"https://courts.example.com/roe"},
			}},
			Findings: []research.Finding{{
				Category:    research.CategoryRedFlag,
				Severity:    research.SeverityHigh,
				Description: "Named defendant in a fraud case",
				Sources:     []string{"https://courts.example.com/roe"},
			}},
		}, nil,
	)
	env.OnActivity(llmAct.Match, mock.Anything, mock.Anything).Return(research.Unmatched("no candidate"), nil)
	env.OnActivity(llmAct.MapConnections, mock.Anything, mock.Anything).Return(&research.ConnectionMap{}, nil)
	env.OnActivity(llmAct.Narrate, mock.Anything, mock.Anything).Return(
		&research.Narrative{ExecutiveSummary: "Jane Roe was a defendant in a fraud case."}, nil,
	)
}

func TestResearchWorkflow_Success(t *testing.T) {
	testSuite := &testsuite.WorkflowTestSuite{}
	env := testSuite.NewTestWorkflowEnvironment()
	rec := &recorder{}
	mockSession(env, rec)
	mockSearch(env)

	env.ExecuteWorkflow(ResearchWorkflow, newTestInput())

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var result research.Result
	require.NoError(t, env.GetWorkflowResult(&result))
	assert.True(t, result.Success)
	assert.Equal(t, "5b0f7c1e-9d4a-4f3e-8a51-2c6f0e9b7d13", result.SessionID)
	assert.Equal(t, research.ReasonReflectionStop, result.TerminationReason)
	require.NotNil(t, result.Report)
	assert.Equal(t, research.SeverityHigh, result.Report.RiskLevel)
	assert.Equal(t, "Jane Roe was a defendant in a fraud case.", result.Report.ExecutiveSummary)

	require.Len(t, rec.outcomes, 1)
	outcome := rec.outcomes[0].Outcome
	assert.Equal(t, domain.SessionStatusCompleted, outcome.Status)
	assert.Equal(t, "HIGH", outcome.RiskLevel)
	assert.Equal(t, string(research.ReasonReflectionStop), outcome.TerminationReason)
	assert.Equal(t, "postgres://research_reports/5b0f7c1e-9d4a-4f3e-8a51-2c6f0e9b7d13", outcome.ReportLocation)
	assert.Equal(t, 1, outcome.QueriesExecuted)
	assert.Equal(t, 1, outcome.EntitiesFound)

	assert.Equal(t, []string{events.EventTypeSessionStarted, events.EventTypeSessionCompleted}, rec.published)

	require.NotEmpty(t, rec.audit)
	for i, ev := range rec.audit {
		assert.Equal(t, int64(i+1), ev.Sequence, "audit events are appended in order")
	}
	assert.Equal(t, research.StepSessionInitialized, rec.audit[0].Step)
	steps := make([]string, 0, len(rec.audit))
	for _, ev := range rec.audit {
		steps = append(steps, ev.Step)
	}
	assert.Contains(t, steps, research.StepReportSynthesized)
}

func TestResearchWorkflow_ProgressQuery(t *testing.T) {
	testSuite := &testsuite.WorkflowTestSuite{}
	env := testSuite.NewTestWorkflowEnvironment()
	mockSession(env, &recorder{})
	mockSearch(env)

	env.ExecuteWorkflow(ResearchWorkflow, newTestInput())

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	// Query handlers remain registered after completion.
	encoded, err := env.QueryWorkflow(QueryProgress)
	require.NoError(t, err)

	var progress ostemporal.WorkflowProgress
	require.NoError(t, encoded.Get(&progress))
	assert.Equal(t, domain.SessionStatusCompleted, progress.Status)
	assert.Equal(t, research.PhaseDone, progress.Phase)
	assert.Equal(t, 1, progress.QueriesExecuted)
	assert.Equal(t, 1, progress.RedFlags)
	assert.False(t, progress.CancelRequested)
}

func TestResearchWorkflow_MarkRunningFails(t *testing.T) {
	testSuite := &testsuite.WorkflowTestSuite{}
	env := testSuite.NewTestWorkflowEnvironment()
	rec := &recorder{}

	var llmAct *activities.LLMActivities
	var statusAct *activities.StatusActivities
	var eventAct *activities.EventActivities

	env.OnActivity(statusAct.MarkSessionRunning, mock.Anything, mock.Anything).Return(
		temporal.NewNonRetryableApplicationError("session not found", resilience.ErrTypePermanent, nil),
	)
	env.OnActivity(statusAct.CompleteSession, mock.Anything, mock.Anything).Return(rec.complete)
	env.OnActivity(eventAct.PublishEvent, mock.Anything, mock.Anything).Return(rec.publish)
	env.OnActivity(llmAct.Plan, mock.Anything, mock.Anything).Return(&research.Plan{}, nil).Never()

	env.ExecuteWorkflow(ResearchWorkflow, newTestInput())

	require.True(t, env.IsWorkflowCompleted())
	err := env.GetWorkflowError()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mark session running")

	require.Len(t, rec.outcomes, 1)
	assert.Equal(t, domain.SessionStatusFailed, rec.outcomes[0].Outcome.Status)
	assert.Contains(t, rec.outcomes[0].Outcome.ErrorMessage, "session not found")
	assert.Equal(t, []string{events.EventTypeSessionFailed}, rec.published)
}

func TestResearchWorkflow_AuditFailureFailsSession(t *testing.T) {
	testSuite := &testsuite.WorkflowTestSuite{}
	env := testSuite.NewTestWorkflowEnvironment()
	rec := &recorder{}

	var llmAct *activities.LLMActivities
	var auditAct *activities.AuditActivities
	var statusAct *activities.StatusActivities
	var eventAct *activities.EventActivities

	env.OnActivity(statusAct.MarkSessionRunning, mock.Anything, mock.Anything).Return(nil)
	env.OnActivity(statusAct.CompleteSession, mock.Anything, mock.Anything).Return(rec.complete)
	env.OnActivity(eventAct.PublishEvent, mock.Anything, mock.Anything).Return(rec.publish)
	env.OnActivity(auditAct.AppendAuditEvent, mock.Anything, mock.Anything).Return(
		temporal.NewNonRetryableApplicationError("audit trail conflict", resilience.ErrTypePermanent, nil),
	)
	env.OnActivity(llmAct.Plan, mock.Anything, mock.Anything).Return(&research.Plan{}, nil).Never()

	env.ExecuteWorkflow(ResearchWorkflow, newTestInput())

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var result research.Result
	require.NoError(t, env.GetWorkflowResult(&result))
	assert.False(t, result.Success)
	assert.Contains(t, result.FailureReason, "audit trail unavailable")

	require.Len(t, rec.outcomes, 1)
	assert.Equal(t, domain.SessionStatusFailed, rec.outcomes[0].Outcome.Status)
	assert.Equal(t, []string{events.EventTypeSessionStarted, events.EventTypeSessionFailed}, rec.published)
}

func TestResearchWorkflow_CancelSignal(t *testing.T) {
	testSuite := &testsuite.WorkflowTestSuite{}
	env := testSuite.NewTestWorkflowEnvironment()
	rec := &recorder{}
	mockSession(env, rec)

	// The search outlives the cancel signal.
	var searchAct *activities.SearchActivities
	env.OnActivity(searchAct.ExecuteSearchBatch, mock.Anything, mock.Anything).
		After(time.Hour).
		Return(&research.SearchBatch{}, nil)

	env.RegisterDelayedCallback(func() {
		env.SignalWorkflow(SignalCancel, ostemporal.CancelSignal{Reason: "requested by analyst"})
	}, 10*time.Second)

	env.ExecuteWorkflow(ResearchWorkflow, newTestInput())

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var result research.Result
	require.NoError(t, env.GetWorkflowResult(&result))
	assert.False(t, result.Success)
	assert.Contains(t, result.FailureReason, "aborted")
	assert.Zero(t, result.Progress.QueriesExecuted, "the cancelled batch is discarded")

	require.Len(t, rec.outcomes, 1)
	assert.Equal(t, domain.SessionStatusCancelled, rec.outcomes[0].Outcome.Status)
	assert.Contains(t, rec.published, events.EventTypeSessionCancelled)

	// The failure is still recorded on the audit trail after cancellation.
	require.NotEmpty(t, rec.audit)
	assert.Equal(t, research.StepSessionFailed, rec.audit[len(rec.audit)-1].Step)
}

func TestOutcomeOf(t *testing.T) {
	t.Run("failed result without report", func(t *testing.T) {
		outcome := outcomeOf(&research.Result{
			Success:       false,
			FailureReason: "audit trail unavailable",
			ErrorLog:      []research.ErrorRecord{{}, {}},
			Progress:      research.Progress{CurrentDepth: 2, QueriesExecuted: 7, EntitiesFound: 3},
		})
		assert.Equal(t, domain.SessionStatusFailed, outcome.Status)
		assert.Equal(t, "audit trail unavailable", outcome.ErrorMessage)
		assert.Equal(t, 2, outcome.ErrorCount)
		assert.Equal(t, 2, outcome.Depth)
		assert.Equal(t, 7, outcome.QueriesExecuted)
		assert.Empty(t, outcome.RiskLevel)
	})

	t.Run("completed result with report", func(t *testing.T) {
		outcome := outcomeOf(&research.Result{
			Success:           true,
			TerminationReason: research.ReasonMaxDepth,
			Report:            &research.Report{RiskLevel: research.SeverityNone},
		})
		assert.Equal(t, domain.SessionStatusCompleted, outcome.Status)
		assert.Equal(t, "max_depth", outcome.TerminationReason)
		assert.Equal(t, "NONE", outcome.RiskLevel)
	})
}

func TestEventTypeFor(t *testing.T) {
	assert.Equal(t, events.EventTypeSessionCompleted, eventTypeFor(domain.SessionStatusCompleted))
	assert.Equal(t, events.EventTypeSessionCancelled, eventTypeFor(domain.SessionStatusCancelled))
	assert.Equal(t, events.EventTypeSessionFailed, eventTypeFor(domain.SessionStatusFailed))
}
