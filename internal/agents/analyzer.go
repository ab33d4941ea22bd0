package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/helixir/osint-research-service/internal/research"
)

const analysisSystemPrompt = `You are a senior intelligence analyst reviewing one round of OSINT search results
for an enhanced due diligence investigation.
Extract every person, organization and event the results mention, the relationships between them,
and tagged findings: red flags (fraud, sanctions, litigation, undisclosed interests, integrity concerns),
neutral facts and positive indicators. Rate each red flag CRITICAL, HIGH, MEDIUM or LOW.
Distinguish allegations from proven facts and cite the URLs that support each item.
Then decide whether another round would still add material information.
Return JSON: {
  "summary": string, "should_continue": bool, "rationale": string, "gaps": [string],
  "entities": [{"name": string, "kind": "person|organization|event", "aliases": [string], "attributes": {string: string}, "sources": [string]}],
  "relationships": [{"source": string, "target": string, "kind": string, "confidence": number, "sources": [string]}],
  "findings": [{"category": "red_flag|neutral|positive", "severity": string, "description": string, "entities": [string], "sources": [string]}]
}`

const (
	maxSourcesPerRecord = 8
	maxSnippetChars     = 600
)

type analysisResponse struct {
	Summary        string                         `json:"summary"`
	ShouldContinue bool                           `json:"should_continue"`
	Rationale      string                         `json:"rationale"`
	Gaps           []string                       `json:"gaps"`
	Entities       []research.Mention             `json:"entities"`
	Relationships  []research.RelationshipMention `json:"relationships"`
	Findings       []findingResponse              `json:"findings"`
}

type findingResponse struct {
	Category    string   `json:"category"`
	Severity    string   `json:"severity"`
	Description string   `json:"description"`
	Entities    []string `json:"entities"`
	Sources     []string `json:"sources"`
}

// Analyzer extracts findings and entity mentions from search results with an LLM.
type Analyzer struct {
	router *Router
}

// NewAnalyzer creates an Analyzer.
func NewAnalyzer(router *Router) *Analyzer {
	return &Analyzer{router: router}
}

var _ research.Analyzer = (*Analyzer)(nil)

// Analyze assesses one round of search results.
func (a *Analyzer) Analyze(ctx context.Context, req research.AnalysisRequest) (*research.Analysis, error) {
	system, user := BuildAnalysisPrompt(req)

	var resp analysisResponse
	if err := a.router.completeJSON(ctx, research.OpAnalysis, system, user, &resp); err != nil {
		return nil, fmt.Errorf("analyzer: %w", err)
	}

	out := &research.Analysis{
		Summary:        strings.TrimSpace(resp.Summary),
		ShouldContinue: resp.ShouldContinue,
		Rationale:      resp.Rationale,
		Gaps:           resp.Gaps,
		Relationships:  resp.Relationships,
	}
	for _, m := range resp.Entities {
		m.Kind = research.EntityKind(strings.ToLower(strings.TrimSpace(string(m.Kind))))
		out.Mentions = append(out.Mentions, m)
	}
	for _, f := range resp.Findings {
		if strings.TrimSpace(f.Description) == "" {
			continue
		}
		out.Findings = append(out.Findings, research.Finding{
			Category:    parseCategory(f.Category),
			Severity:    research.ParseSeverity(f.Severity),
			Description: f.Description,
			Entities:    f.Entities,
			Sources:     f.Sources,
			Depth:       req.Depth,
			Origin:      research.OpAnalysis,
		})
	}
	return out, nil
}

func parseCategory(s string) research.FindingCategory {
	switch strings.ToLower(strings.TrimSpace(strings.ReplaceAll(s, " ", "_"))) {
	case "red_flag", "redflag", "risk":
		return research.CategoryRedFlag
	case "positive", "positive_indicator":
		return research.CategoryPositive
	default:
		return research.CategoryNeutral
	}
}

// BuildAnalysisPrompt returns the system and user prompts for an analysis call.
func BuildAnalysisPrompt(req research.AnalysisRequest) (system, user string) {
	var b strings.Builder
	fmt.Fprintf(&b, "Subject: %s\n", req.Subject)
	if req.Context != "" {
		fmt.Fprintf(&b, "Context: %s\n", req.Context)
	}
	fmt.Fprintf(&b, "Round: %d of %d\n", req.Depth+1, req.MaxDepth)

	if len(req.PriorReflections) > 0 {
		b.WriteString("\nPrevious rounds:\n")
		for _, r := range req.PriorReflections {
			fmt.Fprintf(&b, "- Round %d: %s\n", r.Depth+1, r.Summary)
		}
	}
	writeList(&b, "Known entities", req.KnownEntities)

	b.WriteString("\nSearch results:\n")
	for _, rec := range req.Records {
		fmt.Fprintf(&b, "\n## Query: %s\n", rec.Query)
		sources := rec.Sources
		if len(sources) > maxSourcesPerRecord {
			sources = sources[:maxSourcesPerRecord]
		}
		for _, s := range sources {
			fmt.Fprintf(&b, "- [%s](%s)\n", s.Title, s.URL)
			if s.Snippet != "" {
				fmt.Fprintf(&b, "  %s\n", truncate(s.Snippet, maxSnippetChars))
			}
		}
	}

	return analysisSystemPrompt, b.String()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
