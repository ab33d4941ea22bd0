package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the OSINT research service.
// Metrics are organized by subsystem: sessions, rounds, searches, entities,
// collaborators, audit and reports. All collectors are registered via promauto
// with the default Prometheus registry.
type Metrics struct {
	// SessionsStarted counts research sessions initiated.
	SessionsStarted prometheus.Counter

	// SessionsFinished counts finished sessions by outcome (done, failed) and termination reason.
	SessionsFinished *prometheus.CounterVec

	// SessionDuration observes end-to-end session duration in seconds.
	SessionDuration prometheus.Histogram

	// ActiveSessions tracks sessions currently running in this process.
	ActiveSessions prometheus.Gauge

	// RoundsCompleted counts completed plan/search/analyze rounds.
	RoundsCompleted prometheus.Counter

	// QueriesPlanned counts queries accepted after deduplication.
	QueriesPlanned prometheus.Counter

	// SearchesCompleted counts successful search calls by provider.
	SearchesCompleted *prometheus.CounterVec

	// SearchesFailed counts failed search calls by provider and error type.
	SearchesFailed *prometheus.CounterVec

	// SearchDuration observes search call duration in seconds by provider.
	SearchDuration *prometheus.HistogramVec

	// SourcesPerSearch observes the number of sources returned per search.
	SourcesPerSearch prometheus.Histogram

	// EntitiesCreated counts new canonical entities.
	EntitiesCreated prometheus.Counter

	// EntitiesMerged counts mentions merged into existing entities.
	EntitiesMerged prometheus.Counter

	// CollaboratorCalls counts collaborator invocations by operation and outcome.
	CollaboratorCalls *prometheus.CounterVec

	// CollaboratorDuration observes collaborator latency by operation.
	CollaboratorDuration *prometheus.HistogramVec

	// LLMTokensUsed counts tokens consumed by LLM operations, labeled by operation, model, and token type.
	LLMTokensUsed *prometheus.CounterVec

	// AuditEventsAppended counts audit events written, by kind.
	AuditEventsAppended *prometheus.CounterVec

	// ReportsByRiskLevel counts synthesized reports by derived risk level.
	ReportsByRiskLevel *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all metrics initialized.
// The namespace is used as a prefix for all metric names.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		SessionsStarted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_started_total",
			Help:      "Total number of research sessions started",
		}),
		SessionsFinished: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_finished_total",
			Help:      "Total number of research sessions finished by outcome and termination reason",
		}, []string{"outcome", "reason"}),
		SessionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Duration of research sessions in seconds",
			Buckets:   []float64{5, 15, 30, 60, 120, 300, 600, 1200, 1800, 3600},
		}),
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of research sessions currently running",
		}),

		RoundsCompleted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rounds_completed_total",
			Help:      "Total number of completed research rounds",
		}),
		QueriesPlanned: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queries_planned_total",
			Help:      "Total number of queries accepted for execution",
		}),

		SearchesCompleted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "searches_completed_total",
			Help:      "Total number of successful searches by provider",
		}, []string{"provider"}),
		SearchesFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "searches_failed_total",
			Help:      "Total number of failed searches by provider and error type",
		}, []string{"provider", "error_type"}),
		SearchDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_duration_seconds",
			Help:      "Duration of search calls in seconds by provider",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"provider"}),
		SourcesPerSearch: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sources_per_search",
			Help:      "Number of sources returned per search call",
			Buckets:   []float64{0, 1, 2, 5, 10, 20, 50},
		}),

		EntitiesCreated: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entities_created_total",
			Help:      "Total number of canonical entities created",
		}),
		EntitiesMerged: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entities_merged_total",
			Help:      "Total number of entity mentions merged into existing entities",
		}),

		CollaboratorCalls: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "collaborator_calls_total",
			Help:      "Total number of collaborator calls by operation and outcome",
		}, []string{"operation", "outcome"}),
		CollaboratorDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "collaborator_duration_seconds",
			Help:      "Duration of collaborator calls in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"operation"}),
		LLMTokensUsed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_tokens_used_total",
			Help:      "Total number of tokens used by LLM operations",
		}, []string{"operation", "model", "token_type"}),

		AuditEventsAppended: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_events_appended_total",
			Help:      "Total number of audit events appended by kind",
		}, []string{"kind"}),
		ReportsByRiskLevel: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reports_total",
			Help:      "Total number of synthesized reports by risk level",
		}, []string{"risk_level"}),
	}
}

// RecordSessionStarted records that a session has started.
func (m *Metrics) RecordSessionStarted() {
	m.SessionsStarted.Inc()
	m.ActiveSessions.Inc()
}

// RecordSessionFinished records a finished session.
func (m *Metrics) RecordSessionFinished(outcome, reason string, durationSeconds float64) {
	if reason == "" {
		reason = "none"
	}
	m.SessionsFinished.WithLabelValues(outcome, reason).Inc()
	m.SessionDuration.Observe(durationSeconds)
	m.ActiveSessions.Dec()
}

// RecordRound records a completed research round and the queries it executed.
func (m *Metrics) RecordRound(queries int) {
	m.RoundsCompleted.Inc()
	m.QueriesPlanned.Add(float64(queries))
}

// RecordSearchCompleted records a successful search call.
func (m *Metrics) RecordSearchCompleted(provider string, sourceCount int, durationSeconds float64) {
	m.SearchesCompleted.WithLabelValues(provider).Inc()
	m.SearchDuration.WithLabelValues(provider).Observe(durationSeconds)
	m.SourcesPerSearch.Observe(float64(sourceCount))
}

// RecordSearchFailed records a failed search call.
func (m *Metrics) RecordSearchFailed(provider, errorType string, durationSeconds float64) {
	m.SearchesFailed.WithLabelValues(provider, errorType).Inc()
	m.SearchDuration.WithLabelValues(provider).Observe(durationSeconds)
}

// RecordEntities records the outcome of one entity merge pass.
func (m *Metrics) RecordEntities(created, merged int) {
	m.EntitiesCreated.Add(float64(created))
	m.EntitiesMerged.Add(float64(merged))
}

// RecordCollaboratorCall records a collaborator invocation.
func (m *Metrics) RecordCollaboratorCall(operation string, err error, durationSeconds float64) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.CollaboratorCalls.WithLabelValues(operation, outcome).Inc()
	m.CollaboratorDuration.WithLabelValues(operation).Observe(durationSeconds)
}

// RecordLLMTokens records token usage for an LLM request.
func (m *Metrics) RecordLLMTokens(operation, model string, inputTokens, outputTokens int) {
	m.LLMTokensUsed.WithLabelValues(operation, model, "input").Add(float64(inputTokens))
	m.LLMTokensUsed.WithLabelValues(operation, model, "output").Add(float64(outputTokens))
}

// RecordAuditEvent records an appended audit event.
func (m *Metrics) RecordAuditEvent(kind string) {
	m.AuditEventsAppended.WithLabelValues(kind).Inc()
}

// RecordReport records a synthesized report.
func (m *Metrics) RecordReport(riskLevel string) {
	if riskLevel == "" {
		riskLevel = "NONE"
	}
	m.ReportsByRiskLevel.WithLabelValues(riskLevel).Inc()
}
