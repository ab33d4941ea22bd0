package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/helixir/osint-research-service/internal/research"
)

const matchSystemPrompt = `You resolve entity references for an OSINT investigation.
Decide whether the mention refers to one of the candidate entities. Different people or organizations
can share a name; match only when the attributes, aliases or sources make it the same real-world entity.
Return JSON: {"match": bool, "entity_id": string, "confidence": number, "rationale": string}.
Leave entity_id empty when match is false.`

type matchResponse struct {
	Match      bool    `json:"match"`
	EntityID   string  `json:"entity_id"`
	Confidence float64 `json:"confidence"`
	Rationale  string  `json:"rationale"`
}

// Matcher decides entity identity with an LLM.
type Matcher struct {
	router *Router
}

// NewMatcher creates a Matcher.
func NewMatcher(router *Router) *Matcher {
	return &Matcher{router: router}
}

var _ research.Matcher = (*Matcher)(nil)

// Match returns matched(id) or unmatched for req.Mention. The graph builder
// rejects ids that are not among the candidates.
func (m *Matcher) Match(ctx context.Context, req research.MatchRequest) (research.MatchDecision, error) {
	system, user := BuildMatchPrompt(req)

	var resp matchResponse
	if err := m.router.completeJSON(ctx, research.OpEntityMatch, system, user, &resp); err != nil {
		return research.MatchDecision{}, fmt.Errorf("matcher: %w", err)
	}

	id := strings.TrimSpace(resp.EntityID)
	if !resp.Match || id == "" {
		d := research.Unmatched(resp.Rationale)
		d.Confidence = resp.Confidence
		return d, nil
	}
	d := research.Matched(id, resp.Rationale)
	d.Confidence = resp.Confidence
	return d, nil
}

// BuildMatchPrompt returns the system and user prompts for a match call.
func BuildMatchPrompt(req research.MatchRequest) (system, user string) {
	var b strings.Builder
	fmt.Fprintf(&b, "Investigation subject: %s\n\n", req.Subject)

	b.WriteString("Mention:\n")
	writeEntityLine(&b, "", req.Mention.Name, req.Mention.Kind, req.Mention.Aliases, req.Mention.Attributes)

	b.WriteString("\nCandidates:\n")
	for _, c := range req.Candidates {
		writeEntityLine(&b, c.ID, c.Name, c.Kind, c.Aliases, c.Attributes)
	}
	return matchSystemPrompt, b.String()
}

func writeEntityLine(b *strings.Builder, id, name string, kind research.EntityKind, aliases []string, attrs map[string]string) {
	b.WriteString("- ")
	if id != "" {
		fmt.Fprintf(b, "id=%s ", id)
	}
	fmt.Fprintf(b, "name=%q kind=%s", name, kind)
	if len(aliases) > 0 {
		fmt.Fprintf(b, " aliases=%q", aliases)
	}
	for _, k := range sortedKeys(attrs) {
		fmt.Fprintf(b, " %s=%q", k, attrs[k])
	}
	b.WriteString("\n")
}
