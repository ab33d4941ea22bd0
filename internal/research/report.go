package research

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Severity ranks red flags and the overall report risk.
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityLow      Severity = "LOW"
	SeverityNone     Severity = "NONE"
)

func (s Severity) rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// ParseSeverity maps free text onto a Severity. Unknown values yield
// SeverityNone.
func ParseSeverity(s string) Severity {
	switch v := Severity(strings.ToUpper(strings.TrimSpace(s))); v {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow:
		return v
	default:
		return SeverityNone
	}
}

// NoAdverseFindings is the executive summary of a session without findings.
const NoAdverseFindings = "No adverse findings identified."

// DeriveRiskLevel returns the highest severity among red flags, or
// SeverityNone when there are none.
func DeriveRiskLevel(redFlags []Finding) Severity {
	risk := SeverityNone
	for _, f := range redFlags {
		if f.Severity.rank() > risk.rank() {
			risk = f.Severity
		}
	}
	return risk
}

// ReportSections holds the narrated thematic sections.
type ReportSections struct {
	Biographical      string `json:"biographical_overview,omitempty"`
	Professional      string `json:"professional_history,omitempty"`
	Financial         string `json:"financial_analysis,omitempty"`
	LegalRegulatory   string `json:"legal_regulatory,omitempty"`
	BehavioralPattern string `json:"behavioral_patterns,omitempty"`
}

// Narrative is the prose produced by a Narrator. Empty fields are filled
// from the deterministic fallback.
type Narrative struct {
	ExecutiveSummary      string         `json:"executive_summary"`
	KeyFindings           []string       `json:"key_findings,omitempty"`
	Sections              ReportSections `json:"sections"`
	KeyRelationships      []string       `json:"key_relationships,omitempty"`
	SuspiciousConnections []string       `json:"suspicious_connections,omitempty"`
	SourceSummary         string         `json:"source_summary,omitempty"`
	EvidenceStrength      string         `json:"evidence_strength,omitempty"`
	InformationGaps       []string       `json:"information_gaps,omitempty"`
	ResearchLimitations   string         `json:"research_limitations,omitempty"`
	Recommendations       []string       `json:"recommendations,omitempty"`
}

// EntityGraph is the report's copy of the session graph.
type EntityGraph struct {
	Entities []Entity           `json:"entities"`
	Edges    []RelationshipEdge `json:"edges"`
}

// ReportMetadata describes how the report was produced.
type ReportMetadata struct {
	SessionID         string            `json:"session_id"`
	Subject           string            `json:"subject"`
	ResearchDepth     int               `json:"research_depth"`
	MaxDepth          int               `json:"max_depth"`
	TotalQueries      int               `json:"total_queries"`
	TotalSources      int               `json:"total_sources"`
	EntityCount       int               `json:"entity_count"`
	EdgeCount         int               `json:"edge_count"`
	ErrorCount        int               `json:"error_count"`
	TerminationReason TerminationReason `json:"termination_reason,omitempty"`
	Completed         bool              `json:"completed"`
	Narrated          bool              `json:"narrated"`
	StartedAt         time.Time         `json:"started_at"`
	GeneratedAt       time.Time         `json:"generated_at"`
	ProcessingSeconds float64           `json:"processing_seconds"`
	ModelsUsed        map[string]string `json:"models_used,omitempty"`
}

// Report is the final research document for a session.
type Report struct {
	SessionID             string         `json:"session_id"`
	Subject               string         `json:"subject"`
	ExecutiveSummary      string         `json:"executive_summary"`
	RiskLevel             Severity       `json:"risk_level"`
	KeyFindings           []string       `json:"key_findings"`
	Sections              ReportSections `json:"sections"`
	RedFlags              []Finding      `json:"red_flags"`
	NeutralFacts          []Finding      `json:"neutral_facts"`
	PositiveIndicators    []Finding      `json:"positive_indicators"`
	KeyEntities           []KeyEntity    `json:"key_entities,omitempty"`
	KeyRelationships      []string       `json:"key_relationships,omitempty"`
	SuspiciousConnections []string       `json:"suspicious_connections,omitempty"`
	EntityGraph           EntityGraph    `json:"entity_graph"`
	SourceSummary         string         `json:"source_summary"`
	EvidenceStrength      string         `json:"evidence_strength"`
	InformationGaps       []string       `json:"information_gaps,omitempty"`
	ResearchLimitations   string         `json:"research_limitations"`
	Recommendations       []string       `json:"recommendations"`
	Metadata              ReportMetadata `json:"metadata"`
}

// ReportOptions carries the values BuildReport cannot derive from State.
type ReportOptions struct {
	GeneratedAt time.Time
	Completed   bool
	ModelsUsed  map[string]string
}

// NarrationRequestFor builds the request handed to a Narrator.
func NarrationRequestFor(s State) NarrationRequest {
	return NarrationRequest{
		SessionID:         s.SessionID,
		Subject:           s.Subject,
		Context:           s.Context,
		RiskLevel:         DeriveRiskLevel(s.RedFlags),
		Entities:          s.EntityList(),
		Edges:             s.Edges,
		KeyEntities:       s.KeyEntities,
		RedFlags:          s.RedFlags,
		NeutralFindings:   s.NeutralFindings,
		PositiveFindings:  s.PositiveFindings,
		Reflections:       s.ReflectionMemory,
		SourceURLs:        s.SourceURLs(),
		TerminationReason: s.TerminationReason,
	}
}

// BuildReport assembles the report from state. The risk level, lists and
// metadata are always derived from state; narrated prose comes from n when
// it is non-nil and from FallbackNarrative otherwise.
func BuildReport(s State, n *Narrative, opts ReportOptions) *Report {
	risk := DeriveRiskLevel(s.RedFlags)
	narr := FallbackNarrative(s)
	if n != nil {
		narr = mergeNarrative(*n, narr)
	}
	if s.FindingCount() == 0 {
		narr.ExecutiveSummary = NoAdverseFindings
	}

	redFlags := append([]Finding{}, s.RedFlags...)
	sort.SliceStable(redFlags, func(i, j int) bool {
		return redFlags[i].Severity.rank() > redFlags[j].Severity.rank()
	})

	keyEntities := append([]KeyEntity{}, s.KeyEntities...)
	sort.SliceStable(keyEntities, func(i, j int) bool {
		return keyEntities[i].Importance > keyEntities[j].Importance
	})

	generated := normalizeTime(opts.GeneratedAt)
	return &Report{
		SessionID:             s.SessionID,
		Subject:               s.Subject,
		ExecutiveSummary:      narr.ExecutiveSummary,
		RiskLevel:             risk,
		KeyFindings:           nonNil(narr.KeyFindings),
		Sections:              narr.Sections,
		RedFlags:              redFlags,
		NeutralFacts:          append([]Finding{}, s.NeutralFindings...),
		PositiveIndicators:    append([]Finding{}, s.PositiveFindings...),
		KeyEntities:           keyEntities,
		KeyRelationships:      narr.KeyRelationships,
		SuspiciousConnections: narr.SuspiciousConnections,
		EntityGraph: EntityGraph{
			Entities: s.EntityList(),
			Edges:    append([]RelationshipEdge{}, s.Edges...),
		},
		SourceSummary:       narr.SourceSummary,
		EvidenceStrength:    narr.EvidenceStrength,
		InformationGaps:     narr.InformationGaps,
		ResearchLimitations: narr.ResearchLimitations,
		Recommendations:     nonNil(narr.Recommendations),
		Metadata: ReportMetadata{
			SessionID:         s.SessionID,
			Subject:           s.Subject,
			ResearchDepth:     s.CurrentDepth,
			MaxDepth:          s.MaxDepth,
			TotalQueries:      s.ExecutedQueryCount,
			TotalSources:      len(s.SourceURLs()),
			EntityCount:       len(s.EntityOrder),
			EdgeCount:         len(s.Edges),
			ErrorCount:        len(s.ErrorLog),
			TerminationReason: s.TerminationReason,
			Completed:         opts.Completed,
			Narrated:          n != nil,
			StartedAt:         s.StartedAt,
			GeneratedAt:       generated,
			ProcessingSeconds: generated.Sub(s.StartedAt).Seconds(),
			ModelsUsed:        opts.ModelsUsed,
		},
	}
}

// FallbackNarrative renders the report prose from state alone.
func FallbackNarrative(s State) Narrative {
	risk := DeriveRiskLevel(s.RedFlags)
	names := make(map[string]string, len(s.Entities))
	for id, e := range s.Entities {
		names[id] = e.Name
	}

	n := Narrative{
		ExecutiveSummary: NoAdverseFindings,
		SourceSummary: fmt.Sprintf("%d distinct sources were retrieved across %d queries.",
			len(s.SourceURLs()), s.ExecutedQueryCount),
		EvidenceStrength: evidenceStrength(len(s.SourceURLs())),
		ResearchLimitations: fmt.Sprintf("Research stopped after %d of %d rounds (%s) with %d recorded errors.",
			s.CurrentDepth, s.MaxDepth, terminationText(s), len(s.ErrorLog)),
		Recommendations: recommendationsFor(risk),
	}
	if s.FindingCount() > 0 {
		n.ExecutiveSummary = fmt.Sprintf(
			"Research on %s produced %d red flags, %d neutral facts and %d positive indicators. Overall risk is %s.",
			s.Subject, len(s.RedFlags), len(s.NeutralFindings), len(s.PositiveFindings), risk)
	}

	flags := append([]Finding{}, s.RedFlags...)
	sort.SliceStable(flags, func(i, j int) bool { return flags[i].Severity.rank() > flags[j].Severity.rank() })
	for i, f := range flags {
		if i == 5 {
			break
		}
		n.KeyFindings = append(n.KeyFindings, fmt.Sprintf("[%s] %s", f.Severity, f.Description))
	}

	for _, e := range s.Edges {
		line := fmt.Sprintf("%s %s %s", names[e.SourceID], strings.ReplaceAll(e.Kind, "_", " "), names[e.TargetID])
		n.KeyRelationships = append(n.KeyRelationships, line)
		if e.Suspicious {
			if e.Rationale != "" {
				line += ": " + e.Rationale
			}
			n.SuspiciousConnections = append(n.SuspiciousConnections, line)
		}
	}
	if r := s.LatestReflection(); r != nil {
		n.InformationGaps = append(n.InformationGaps, r.Gaps...)
	}
	return n
}

func mergeNarrative(n, fallback Narrative) Narrative {
	if strings.TrimSpace(n.ExecutiveSummary) == "" {
		n.ExecutiveSummary = fallback.ExecutiveSummary
	}
	if len(n.KeyFindings) == 0 {
		n.KeyFindings = fallback.KeyFindings
	}
	if len(n.KeyRelationships) == 0 {
		n.KeyRelationships = fallback.KeyRelationships
	}
	if len(n.SuspiciousConnections) == 0 {
		n.SuspiciousConnections = fallback.SuspiciousConnections
	}
	if n.SourceSummary == "" {
		n.SourceSummary = fallback.SourceSummary
	}
	if n.EvidenceStrength == "" {
		n.EvidenceStrength = fallback.EvidenceStrength
	}
	if len(n.InformationGaps) == 0 {
		n.InformationGaps = fallback.InformationGaps
	}
	if n.ResearchLimitations == "" {
		n.ResearchLimitations = fallback.ResearchLimitations
	}
	if len(n.Recommendations) == 0 {
		n.Recommendations = fallback.Recommendations
	}
	return n
}

func evidenceStrength(sources int) string {
	switch {
	case sources >= 20:
		return "strong"
	case sources >= 5:
		return "moderate"
	case sources > 0:
		return "weak"
	default:
		return "none"
	}
}

func terminationText(s State) string {
	if s.TerminationReason == ReasonNone {
		return "not finished"
	}
	return strings.ReplaceAll(string(s.TerminationReason), "_", " ")
}

func recommendationsFor(risk Severity) []string {
	switch risk {
	case SeverityCritical, SeverityHigh:
		return []string{
			"Escalate for enhanced due diligence before any engagement.",
			"Verify the red flags against primary records.",
		}
	case SeverityMedium:
		return []string{"Review the flagged items and request clarification from the subject."}
	default:
		return []string{"Proceed with standard periodic monitoring."}
	}
}

func nonNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}
