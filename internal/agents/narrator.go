package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/helixir/osint-research-service/internal/research"
)

const narrationSystemPrompt = `You write the enhanced due diligence report for a completed OSINT investigation.
Base every statement on the findings and sources provided; do not introduce new facts.
The overall risk level has already been determined and must not be contradicted.
Return JSON: {
  "executive_summary": string,
  "key_findings": [string],
  "sections": {"biographical_overview": string, "professional_history": string, "financial_analysis": string,
               "legal_regulatory": string, "behavioral_patterns": string},
  "key_relationships": [string],
  "suspicious_connections": [string],
  "source_summary": string,
  "evidence_strength": string,
  "information_gaps": [string],
  "research_limitations": string,
  "recommendations": [string]
}`

const maxNarrationSources = 40

// Narrator writes report prose with an LLM.
type Narrator struct {
	router *Router
}

// NewNarrator creates a Narrator.
func NewNarrator(router *Router) *Narrator {
	return &Narrator{router: router}
}

var _ research.Narrator = (*Narrator)(nil)

// Narrate returns the prose sections of the report. Empty fields are filled
// by the report builder's fallback.
func (n *Narrator) Narrate(ctx context.Context, req research.NarrationRequest) (*research.Narrative, error) {
	system, user := BuildNarrationPrompt(req)

	var out research.Narrative
	if err := n.router.completeJSON(ctx, research.OpSynthesis, system, user, &out); err != nil {
		return nil, fmt.Errorf("narrator: %w", err)
	}
	return &out, nil
}

// BuildNarrationPrompt returns the system and user prompts for a narration call.
func BuildNarrationPrompt(req research.NarrationRequest) (system, user string) {
	names := make(map[string]string, len(req.Entities))
	for _, e := range req.Entities {
		names[e.ID] = e.Name
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Subject: %s\n", req.Subject)
	if req.Context != "" {
		fmt.Fprintf(&b, "Context: %s\n", req.Context)
	}
	fmt.Fprintf(&b, "Risk level: %s\n", req.RiskLevel)
	if req.TerminationReason != "" {
		fmt.Fprintf(&b, "Research stopped: %s\n", req.TerminationReason)
	}

	writeFindings(&b, "Red flags", req.RedFlags, true)
	writeFindings(&b, "Neutral facts", req.NeutralFindings, false)
	writeFindings(&b, "Positive indicators", req.PositiveFindings, false)

	if len(req.KeyEntities) > 0 {
		b.WriteString("\nKey entities:\n")
		for _, k := range req.KeyEntities {
			fmt.Fprintf(&b, "- %s (importance %.2f): %s\n", k.Name, k.Importance, k.Reason)
		}
	}
	if len(req.Edges) > 0 {
		b.WriteString("\nRelationships:\n")
		for _, e := range req.Edges {
			line := fmt.Sprintf("%s --%s--> %s", names[e.SourceID], e.Kind, names[e.TargetID])
			if e.Suspicious {
				line += " [suspicious]"
			}
			fmt.Fprintf(&b, "- %s\n", line)
		}
	}
	if len(req.Reflections) > 0 {
		b.WriteString("\nResearch rounds:\n")
		for _, r := range req.Reflections {
			fmt.Fprintf(&b, "- Round %d: %s\n", r.Depth+1, r.Summary)
		}
	}

	sources := req.SourceURLs
	if len(sources) > maxNarrationSources {
		sources = sources[:maxNarrationSources]
	}
	writeList(&b, fmt.Sprintf("Sources (%d total)", len(req.SourceURLs)), sources)

	return narrationSystemPrompt, b.String()
}

func writeFindings(b *strings.Builder, title string, findings []research.Finding, withSeverity bool) {
	if len(findings) == 0 {
		return
	}
	fmt.Fprintf(b, "\n%s:\n", title)
	for _, f := range findings {
		if withSeverity {
			fmt.Fprintf(b, "- [%s] %s\n", f.Severity, f.Description)
		} else {
			fmt.Fprintf(b, "- %s\n", f.Description)
		}
	}
}
