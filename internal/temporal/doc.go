// Package temporal runs research sessions as durable Temporal workflows.
//
// Each session maps to one workflow execution with ID "research-<session id>".
// The workflow drives research.Engine; every collaborator call (planning,
// search fan-out, analysis, entity matching, connection mapping, synthesis)
// and every audit append runs as an activity, so a worker crash resumes the
// session from its last completed step instead of starting over.
//
// # Client Setup
//
//	c, err := temporal.NewClient(temporal.ClientConfig{
//	    HostPort:  "localhost:7233",
//	    Namespace: "osint-research",
//	})
//	if err != nil {
//	    return err
//	}
//	rc := temporal.NewResearchWorkflowClient(c, "osint-research-tasks")
//	defer rc.Close()
//
// # Starting and Controlling Sessions
//
//	workflowID, runID, err := rc.StartResearchWorkflow(ctx, temporal.ResearchWorkflowInput{
//	    SessionID: session.ID,
//	    Subject:   session.Subject,
//	    Config:    session.Config,
//	})
//
//	progress, err := rc.QueryProgress(ctx, workflowID)
//	err = rc.CancelSession(ctx, workflowID, "requested by analyst")
//
// Cancellation is cooperative: the workflow finishes its in-flight step,
// writes the cancellation to the audit trail and completes the session as
// cancelled.
//
// # Worker Setup
//
//	mgr, err := temporal.NewWorkerManager(c, temporal.DefaultWorkerConfig("osint-research-tasks"))
//	mgr.RegisterResearchWorkflow(workflows.ResearchWorkflow)
//	mgr.RegisterActivity(collaboratorActivities)
//	return mgr.Start(ctx)
//
// # Error Handling
//
//	if temporal.IsWorkflowNotFound(err) {
//	    // Workflow doesn't exist or already completed
//	}
//
//	if temporal.IsWorkflowAlreadyStarted(err) {
//	    // The session already has a running workflow
//	}
package temporal
