package agents

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/helixir/osint-research-service/internal/research"
)

const mappingSystemPrompt = `You map the network around the subject of an OSINT investigation once research is complete.
Using the entity graph and red flags, identify relationships the graph is still missing, patterns that
connect several entities (shared addresses, nominee directors, circular ownership, timing coincidences),
and the entities most central to the risk picture.
Refer to entities by their id. Rate suspicious patterns CRITICAL, HIGH, MEDIUM or LOW.
Return JSON: {
  "edges": [{"source_id": string, "target_id": string, "kind": string, "pattern": string, "suspicious": bool, "rationale": string, "confidence": number, "sources": [string]}],
  "key_entities": [{"entity_id": string, "importance": number, "reason": string}],
  "suspicious_patterns": [{"description": string, "severity": string, "entity_ids": [string], "sources": [string]}]
}`

type mappingResponse struct {
	Edges              []research.RelationshipEdge `json:"edges"`
	KeyEntities        []research.KeyEntity        `json:"key_entities"`
	SuspiciousPatterns []patternResponse           `json:"suspicious_patterns"`
}

type patternResponse struct {
	Description string   `json:"description"`
	Severity    string   `json:"severity"`
	EntityIDs   []string `json:"entity_ids"`
	Sources     []string `json:"sources"`
}

// Mapper finds cross-entity connections with an LLM.
type Mapper struct {
	router *Router
}

// NewMapper creates a Mapper.
func NewMapper(router *Router) *Mapper {
	return &Mapper{router: router}
}

var _ research.ConnectionMapper = (*Mapper)(nil)

// MapConnections examines the finished graph. Entity references the model
// gives by name are resolved to ids; anything unresolved is passed through
// for the engine to reject.
func (m *Mapper) MapConnections(ctx context.Context, req research.ConnectionRequest) (*research.ConnectionMap, error) {
	system, user := BuildMappingPrompt(req)

	var resp mappingResponse
	if err := m.router.completeJSON(ctx, research.OpConnectionMapping, system, user, &resp); err != nil {
		return nil, fmt.Errorf("connection mapper: %w", err)
	}

	idx := newEntityIndex(req.Entities)
	out := &research.ConnectionMap{}
	for _, e := range resp.Edges {
		e.SourceID = idx.resolve(e.SourceID)
		e.TargetID = idx.resolve(e.TargetID)
		out.Edges = append(out.Edges, e)
	}
	for _, k := range resp.KeyEntities {
		k.EntityID = idx.resolve(k.EntityID)
		out.KeyEntities = append(out.KeyEntities, k)
	}
	for _, p := range resp.SuspiciousPatterns {
		ids := make([]string, 0, len(p.EntityIDs))
		for _, ref := range p.EntityIDs {
			ids = append(ids, idx.resolve(ref))
		}
		out.SuspiciousPatterns = append(out.SuspiciousPatterns, research.SuspiciousPattern{
			Description: p.Description,
			Severity:    research.ParseSeverity(p.Severity),
			EntityIDs:   ids,
			Sources:     p.Sources,
		})
	}
	return out, nil
}

// BuildMappingPrompt returns the system and user prompts for a mapping call.
func BuildMappingPrompt(req research.ConnectionRequest) (system, user string) {
	names := make(map[string]string, len(req.Entities))
	var b strings.Builder
	fmt.Fprintf(&b, "Subject: %s\n\nEntities:\n", req.Subject)
	for _, e := range req.Entities {
		names[e.ID] = e.Name
		writeEntityLine(&b, e.ID, e.Name, e.Kind, e.Aliases, e.Attributes)
	}

	if len(req.Edges) > 0 {
		b.WriteString("\nKnown relationships:\n")
		for _, e := range req.Edges {
			fmt.Fprintf(&b, "- %s (%s) --%s--> %s (%s)\n", names[e.SourceID], e.SourceID, e.Kind, names[e.TargetID], e.TargetID)
		}
	}

	if len(req.RedFlags) > 0 {
		b.WriteString("\nRed flags:\n")
		for _, f := range req.RedFlags {
			fmt.Fprintf(&b, "- [%s] %s\n", f.Severity, f.Description)
		}
	}
	return mappingSystemPrompt, b.String()
}

// entityIndex resolves entity references by id, name or alias.
type entityIndex struct {
	ids   map[string]struct{}
	names map[string]string
}

func newEntityIndex(entities []research.Entity) entityIndex {
	idx := entityIndex{
		ids:   make(map[string]struct{}, len(entities)),
		names: make(map[string]string, len(entities)),
	}
	for _, e := range entities {
		idx.ids[e.ID] = struct{}{}
		for _, n := range append([]string{e.Name}, e.Aliases...) {
			key := strings.ToLower(strings.TrimSpace(n))
			if _, taken := idx.names[key]; !taken {
				idx.names[key] = e.ID
			}
		}
	}
	return idx
}

func (idx entityIndex) resolve(ref string) string {
	ref = strings.TrimSpace(ref)
	if _, ok := idx.ids[ref]; ok {
		return ref
	}
	if id, ok := idx.names[strings.ToLower(ref)]; ok {
		return id
	}
	return ref
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
