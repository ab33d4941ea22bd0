package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/helixir/osint-research-service/internal/research"
)

const initialPlanSystemPrompt = `You are a senior OSINT analyst planning an enhanced due diligence investigation.
This is the first research round. Establish who the subject is and build a baseline profile.
Cover these domains: identity and biography, professional history, financial and business interests,
legal and regulatory exposure, reputation and media coverage, network and associations.
Prefer specific queries that disambiguate the subject (company, title, location) over bare names.
Return JSON: {"goal": string, "queries": [string]}.`

const refinedPlanSystemPrompt = `You are a senior OSINT analyst running a follow-up research round.
Follow the leads of the latest reflection in priority order: validate or refute serious red flags first,
then investigate newly discovered entities, then close the listed information gaps.
Never repeat a query that was already executed.
Return JSON: {"goal": string, "queries": [string]}.`

// Planner proposes search queries with an LLM.
type Planner struct {
	router *Router
}

// NewPlanner creates a Planner.
func NewPlanner(router *Router) *Planner {
	return &Planner{router: router}
}

var _ research.Planner = (*Planner)(nil)

// Plan asks the planning model for up to req.MaxQueries queries. The engine
// deduplicates and truncates whatever comes back.
func (p *Planner) Plan(ctx context.Context, req research.PlanRequest) (*research.Plan, error) {
	system, user := BuildPlanPrompt(req)

	var plan research.Plan
	if err := p.router.completeJSON(ctx, research.OpPlanning, system, user, &plan); err != nil {
		return nil, fmt.Errorf("planner: %w", err)
	}
	queries := plan.Queries[:0]
	for _, q := range plan.Queries {
		if q = strings.TrimSpace(q); q != "" {
			queries = append(queries, q)
		}
	}
	plan.Queries = queries
	return &plan, nil
}

// BuildPlanPrompt returns the system and user prompts for a planning call.
func BuildPlanPrompt(req research.PlanRequest) (system, user string) {
	system = initialPlanSystemPrompt
	if req.Depth > 0 {
		system = refinedPlanSystemPrompt
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Subject: %s\n", req.Subject)
	if req.Context != "" {
		fmt.Fprintf(&b, "Context: %s\n", req.Context)
	}
	fmt.Fprintf(&b, "Round: %d of %d\n", req.Depth+1, req.MaxDepth)
	fmt.Fprintf(&b, "Propose at most %d queries.\n", req.MaxQueries)

	if r := req.LatestReflection; r != nil {
		b.WriteString("\nLatest reflection:\n")
		fmt.Fprintf(&b, "%s\n", r.Summary)
		if r.Rationale != "" {
			fmt.Fprintf(&b, "Rationale: %s\n", r.Rationale)
		}
		writeList(&b, "Information gaps", r.Gaps)
	}
	writeList(&b, "Known entities", req.KnownEntities)
	writeList(&b, "Already executed queries", req.ExecutedQueries)

	return system, b.String()
}

func writeList(b *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "\n%s:\n", title)
	for _, item := range items {
		fmt.Fprintf(b, "- %s\n", item)
	}
}
