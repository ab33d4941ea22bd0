// Package observability provides logging, metrics, and context propagation
// for the OSINT research service.
//
// # Logging
//
// Create a logger from configuration:
//
//	logger := observability.NewLogger(observability.LoggingConfig{
//	    Level:  "info",
//	    Format: "json",
//	    Output: "stdout",
//	})
//	logger = observability.WithSessionContext(logger, sessionID, subject)
//
// Temporal SDK components receive the same logger through NewTemporalLogger.
//
// # Metrics
//
//	metrics := observability.NewMetrics("osint_research")
//	metrics.RecordSessionStarted()
//	metrics.RecordSearchCompleted("tavily", 8, 1.4)
//
// # Standard Fields
//
//   - session_id: research session identifier
//   - subject: research subject
//   - depth: current research round
//   - query: search query
//   - provider: search or LLM provider
//   - workflow_id, workflow_run_id: Temporal execution identifiers
//
// All components are safe for concurrent use from multiple goroutines.
package observability
