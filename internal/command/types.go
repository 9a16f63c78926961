package command

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Priority orders commands in the queue. Higher values are dispatched first.
type Priority int

// Priority levels, lowest first.
const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
	PriorityEmergency
)

// DefaultPriority is the priority of a request that does not name one.
const DefaultPriority = PriorityNormal

// NumPriorities is the number of priority levels.
const NumPriorities = int(PriorityEmergency) + 1

var priorityNames = [NumPriorities]string{"low", "normal", "high", "critical", "emergency"}

// AllPriorities returns every priority from lowest to highest.
func AllPriorities() []Priority {
	return []Priority{PriorityLow, PriorityNormal, PriorityHigh, PriorityCritical, PriorityEmergency}
}

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	return p >= PriorityLow && p <= PriorityEmergency
}

func (p Priority) String() string {
	if !p.Valid() {
		return fmt.Sprintf("priority(%d)", int(p))
	}
	return priorityNames[p]
}

// ParsePriority parses a lower-case priority name. Matching is case-insensitive.
func ParsePriority(s string) (Priority, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for i, n := range priorityNames {
		if n == name {
			return Priority(i), nil
		}
	}
	return PriorityNormal, fmt.Errorf("%w: unknown priority %q", ErrInvalidRequest, s)
}

// MarshalJSON renders the priority by name.
func (p Priority) MarshalJSON() ([]byte, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("command: cannot marshal %s", p)
	}
	return json.Marshal(p.String())
}

// UnmarshalJSON accepts a priority name.
func (p *Priority) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("%w: priority must be a string", ErrInvalidRequest)
	}
	parsed, err := ParsePriority(s)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Status is a command lifecycle state.
type Status string

// Lifecycle states.
const (
	StatusQueued       Status = "queued"
	StatusDispatched   Status = "dispatched"
	StatusAwaitingAck  Status = "awaiting_ack"
	StatusAcknowledged Status = "acknowledged"
	StatusRetrying     Status = "retrying"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
	StatusExpired      Status = "expired"
)

// AllStatuses returns every lifecycle state.
func AllStatuses() []Status {
	return []Status{
		StatusQueued, StatusDispatched, StatusAwaitingAck, StatusAcknowledged,
		StatusRetrying, StatusCompleted, StatusFailed, StatusExpired,
	}
}

// IsTerminal reports whether no further transition is allowed.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusExpired
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	for _, v := range AllStatuses() {
		if v == s {
			return true
		}
	}
	return false
}

// ParseStatus parses a status name.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", fmt.Errorf("%w: unknown status %q", ErrInvalidRequest, s)
	}
	return st, nil
}

// SourceKind identifies who or what issued a command.
type SourceKind string

// Source kinds.
const (
	SourceUser     SourceKind = "user"
	SourceSystem   SourceKind = "system"
	SourceRule     SourceKind = "rule"
	SourceWorkflow SourceKind = "workflow"
	SourceAgent    SourceKind = "agent"
)

// Source records the provenance of a command for audit and failure
// attribution. Exactly one reference field is set, matching Kind.
type Source struct {
	Kind       SourceKind `json:"kind"`
	ActorID    string     `json:"actor_id,omitempty"`
	Reason     string     `json:"reason,omitempty"`
	RuleID     string     `json:"rule_id,omitempty"`
	WorkflowID string     `json:"workflow_id,omitempty"`
	SessionID  string     `json:"session_id,omitempty"`
}

// UserSource returns a source for a command issued by a user.
func UserSource(actorID string) Source { return Source{Kind: SourceUser, ActorID: actorID} }

// SystemSource returns a source for a command issued by the system itself.
func SystemSource(reason string) Source { return Source{Kind: SourceSystem, Reason: reason} }

// RuleSource returns a source for a command issued by an automation rule.
func RuleSource(ruleID string) Source { return Source{Kind: SourceRule, RuleID: ruleID} }

// WorkflowSource returns a source for a command issued by a workflow.
func WorkflowSource(workflowID string) Source {
	return Source{Kind: SourceWorkflow, WorkflowID: workflowID}
}

// AgentSource returns a source for a command issued by an agent session.
func AgentSource(sessionID string) Source { return Source{Kind: SourceAgent, SessionID: sessionID} }

// Ref returns the reference field that belongs to the source's kind.
func (s Source) Ref() string {
	switch s.Kind {
	case SourceUser:
		return s.ActorID
	case SourceSystem:
		return s.Reason
	case SourceRule:
		return s.RuleID
	case SourceWorkflow:
		return s.WorkflowID
	case SourceAgent:
		return s.SessionID
	default:
		return ""
	}
}

func (s Source) String() string {
	return string(s.Kind) + ":" + s.Ref()
}

// refCount returns how many reference fields are set.
func (s Source) refCount() int {
	n := 0
	for _, v := range []string{s.ActorID, s.Reason, s.RuleID, s.WorkflowID, s.SessionID} {
		if v != "" {
			n++
		}
	}
	return n
}

// EventType names a lifecycle transition published on the event bus.
type EventType string

// Event types.
const (
	EventEnqueued   EventType = "enqueued"
	EventDispatched EventType = "dispatched"
	EventAcked      EventType = "acked"
	EventRetried    EventType = "retried"
	EventCompleted  EventType = "completed"
	EventFailed     EventType = "failed"
	EventExpired    EventType = "expired"
)

// AllEventTypes returns every event type.
func AllEventTypes() []EventType {
	return []EventType{
		EventEnqueued, EventDispatched, EventAcked, EventRetried,
		EventCompleted, EventFailed, EventExpired,
	}
}

// IsTerminal reports whether the event marks a terminal transition.
func (t EventType) IsTerminal() bool {
	return t == EventCompleted || t == EventFailed || t == EventExpired
}

// TerminalEvent returns the event type published for a terminal status.
func TerminalEvent(s Status) (EventType, bool) {
	switch s {
	case StatusCompleted:
		return EventCompleted, true
	case StatusFailed:
		return EventFailed, true
	case StatusExpired:
		return EventExpired, true
	default:
		return "", false
	}
}
