package research

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// EventKind classifies an audit event.
type EventKind string

const (
	EventStateTransition EventKind = "state_transition"
	EventCallAttempt     EventKind = "external_call_attempt"
	EventCallResult      EventKind = "external_call_result"
	EventError           EventKind = "error"
)

// Informational step names. They are recorded alongside the deltas but do
// not change state on replay.
const (
	StepEntityResolved    = "entity_resolved"
	StepReportSynthesized = "report_synthesized"
)

// AuditEvent is one immutable entry of a session's audit trail. Sequence
// starts at 1 and increases by one per event within a session.
type AuditEvent struct {
	SessionID string          `json:"session_id"`
	Sequence  int64           `json:"sequence"`
	Timestamp time.Time       `json:"timestamp"`
	Kind      EventKind       `json:"kind"`
	Step      string          `json:"step"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// CallRecord is the payload of call attempt and result events.
type CallRecord struct {
	Operation  string   `json:"operation"`
	Depth      int      `json:"depth"`
	Inputs     []string `json:"inputs,omitempty"`
	OK         bool     `json:"ok,omitempty"`
	Error      string   `json:"error,omitempty"`
	DurationMS int64    `json:"duration_ms,omitempty"`
}

// ReportRecord is the payload of the report_synthesized event.
type ReportRecord struct {
	RiskLevel Severity `json:"risk_level"`
	Location  string   `json:"location,omitempty"`
	Narrated  bool     `json:"narrated"`
	Findings  int      `json:"findings"`
}

// Recorder assigns sequence numbers and writes a session's events to a
// sink. It is not safe for concurrent use; each session has one.
type Recorder struct {
	sessionID string
	seq       int64
	sink      AuditSink
	clock     Clock
}

// NewRecorder creates a Recorder for sessionID starting at sequence 1.
func NewRecorder(sessionID string, sink AuditSink, clock Clock) *Recorder {
	return &Recorder{sessionID: sessionID, sink: sink, clock: clock}
}

// Sequence returns the sequence number of the last event written.
func (r *Recorder) Sequence() int64 {
	return r.seq
}

// Record marshals payload and appends the event. The sequence number only
// advances once the sink has accepted the event.
func (r *Recorder) Record(ctx context.Context, kind EventKind, step string, payload any) (AuditEvent, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return AuditEvent{}, fmt.Errorf("marshal %s payload: %w", step, err)
	}
	ev := AuditEvent{
		SessionID: r.sessionID,
		Sequence:  r.seq + 1,
		Timestamp: normalizeTime(r.clock.Now()),
		Kind:      kind,
		Step:      step,
		Payload:   raw,
	}
	if err := r.sink.Append(ctx, ev); err != nil {
		return AuditEvent{}, fmt.Errorf("append audit event %d: %w", ev.Sequence, err)
	}
	r.seq = ev.Sequence
	return ev, nil
}

var deltaDecoders = map[string]func(json.RawMessage) (Delta, error){
	StepSessionInitialized: decodeDelta[InitDelta],
	StepPhaseChanged:       decodeDelta[PhaseDelta],
	StepQueriesPlanned:     decodeDelta[PlanDelta],
	StepSearchCompleted:    decodeDelta[SearchDelta],
	StepAnalysisApplied:    decodeDelta[AnalysisDelta],
	StepRoutingDecided:     decodeDelta[RoutingDelta],
	StepConnectionsMapped:  decodeDelta[ConnectionDelta],
	StepErrorsRecorded:     decodeDelta[ErrorDelta],
	StepSessionFailed:      decodeDelta[FailureDelta],
}

func decodeDelta[D Delta](raw json.RawMessage) (Delta, error) {
	var d D
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, err
	}
	return d, nil
}

// DecodeDelta decodes the delta carried by a state-transition event. It
// returns nil for informational steps.
func DecodeDelta(ev AuditEvent) (Delta, error) {
	if ev.Kind != EventStateTransition {
		return nil, nil
	}
	decode, ok := deltaDecoders[ev.Step]
	if !ok {
		switch ev.Step {
		case StepEntityResolved, StepReportSynthesized:
			return nil, nil
		}
		return nil, fmt.Errorf("unknown state transition step %q", ev.Step)
	}
	d, err := decode(ev.Payload)
	if err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", ev.Step, err)
	}
	return d, nil
}

// Replay reconstructs a session's state from its audit events by folding
// every recorded delta through the reducer. Any gap in the sequence, an
// inconsistent delta or a non-monotonic step is reported as an
// UnrecoverableError.
func Replay(events []AuditEvent) (State, error) {
	sorted := make([]AuditEvent, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Sequence < sorted[j].Sequence })

	var s State
	for i, ev := range sorted {
		if want := int64(i + 1); ev.Sequence != want {
			return s, corrupt(fmt.Errorf("expected sequence %d, found %d", want, ev.Sequence))
		}
		if i > 0 && ev.SessionID != sorted[0].SessionID {
			return s, corrupt(fmt.Errorf("event %d belongs to session %s", ev.Sequence, ev.SessionID))
		}
		d, err := DecodeDelta(ev)
		if err != nil {
			return s, corrupt(fmt.Errorf("event %d: %w", ev.Sequence, err))
		}
		if d == nil {
			continue
		}
		if s.SessionID == "" && d.Step() != StepSessionInitialized {
			return s, corrupt(fmt.Errorf("event %d: %s before session initialization", ev.Sequence, d.Step()))
		}
		next, err := d.Apply(s)
		if err != nil {
			return s, corrupt(fmt.Errorf("event %d: %w", ev.Sequence, err))
		}
		if err := CheckMonotonic(s, next); err != nil {
			return s, corrupt(fmt.Errorf("event %d: %w", ev.Sequence, err))
		}
		s = next
	}
	if s.SessionID == "" {
		return s, corrupt(fmt.Errorf("no session initialization event"))
	}
	return s, nil
}

func corrupt(err error) error {
	return &UnrecoverableError{Reason: "state corruption detected on replay", Err: err}
}

// normalizeTime strips the monotonic reading and location so timestamps
// compare equal after a JSON round trip.
func normalizeTime(t time.Time) time.Time {
	return t.UTC().Round(0)
}
