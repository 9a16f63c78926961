package command

import (
	"encoding/json"
	"time"
)

// Result is the outcome attached to a command at its terminal transition.
type Result struct {
	Success     bool            `json:"success"`
	Response    json.RawMessage `json:"response,omitempty"`
	Error       string          `json:"error,omitempty"`
	CompletedAt time.Time       `json:"completed_at"`
	Attempts    int             `json:"attempts"`
}

// Ack is an acknowledgement received from a device or protocol bridge.
type Ack struct {
	CommandID string `json:"command_id"`
	// Attempt is the attempt being acknowledged. Zero matches any live attempt.
	Attempt    int             `json:"attempt,omitempty"`
	Accepted   bool            `json:"accepted"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Error      string          `json:"error,omitempty"`
	ReceivedAt time.Time       `json:"received_at"`
}

// Record is the durable view of a command held by the state store.
type Record struct {
	Request      Request    `json:"request"`
	Status       Status     `json:"status"`
	AttemptCount int        `json:"attempt_count"`
	Result       *Result    `json:"result,omitempty"`
	LastError    string     `json:"last_error,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	DispatchedAt *time.Time `json:"dispatched_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// ID returns the command ID.
func (r *Record) ID() string { return r.Request.ID }

// DeepCopy returns an independent copy safe to hand to callers.
func (r *Record) DeepCopy() *Record {
	if r == nil {
		return nil
	}
	cp := *r
	cp.Request = r.Request.Clone()
	if r.Result != nil {
		res := *r.Result
		res.Response = append(json.RawMessage(nil), r.Result.Response...)
		cp.Result = &res
	}
	if r.DispatchedAt != nil {
		t := *r.DispatchedAt
		cp.DispatchedAt = &t
	}
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}

// Event is a lifecycle transition broadcast on the event bus.
type Event struct {
	CommandID   string    `json:"command_id"`
	DeviceID    string    `json:"device_id"`
	CommandName string    `json:"command"`
	Type        EventType `json:"type"`
	Attempt     int       `json:"attempt"`
	Priority    Priority  `json:"priority"`
	Timestamp   time.Time `json:"timestamp"`
	Detail      string    `json:"detail,omitempty"`
	Source      Source    `json:"source"`
}

// NewEvent builds an event for req stamped with the current time.
func NewEvent(t EventType, req Request, detail string) Event {
	return Event{
		CommandID:   req.ID,
		DeviceID:    req.DeviceID,
		CommandName: req.CommandName,
		Type:        t,
		Attempt:     req.AttemptCount,
		Priority:    req.Priority,
		Timestamp:   time.Now().UTC(),
		Detail:      detail,
		Source:      req.Source,
	}
}

// QueueStats is a point-in-time view of the queue.
type QueueStats struct {
	TotalCount     int            `json:"total_count"`
	ProcessedCount uint64         `json:"processed_count"`
	FailedCount    uint64         `json:"failed_count"`
	Capacity       int            `json:"capacity"`
	ByPriority     map[string]int `json:"by_priority"`
}

// AdapterStats counts sends through one adapter.
type AdapterStats struct {
	Protocol   string `json:"protocol"`
	Dispatched uint64 `json:"dispatched"`
	Succeeded  uint64 `json:"succeeded"`
	Failed     uint64 `json:"failed"`
}

// StoreStats counts persisted records by status.
type StoreStats struct {
	Total    int            `json:"total"`
	ByStatus map[string]int `json:"by_status"`
}
