package command

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

// RetryPolicy bounds how often and how quickly a command is retried.
type RetryPolicy struct {
	// MaxAttempts is the total number of dispatch attempts, including the first.
	MaxAttempts       int
	BaseDelay         time.Duration
	BackoffMultiplier float64
	MaxDelay          time.Duration
	// AttemptTimeout is how long one attempt may wait for an acknowledgement.
	AttemptTimeout time.Duration
}

// Delay returns the backoff before the attempt following attempt n (1-based):
// min(BaseDelay * BackoffMultiplier^(n-1), MaxDelay).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	mult := p.BackoffMultiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(p.BaseDelay) * math.Pow(mult, float64(attempt-1))
	if d >= float64(p.MaxDelay) || math.IsInf(d, 0) || math.IsNaN(d) {
		return p.MaxDelay
	}
	return time.Duration(d)
}

// WithDefaults fills zero fields from def.
func (p RetryPolicy) WithDefaults(def RetryPolicy) RetryPolicy {
	if p.MaxAttempts == 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.BaseDelay == 0 {
		p.BaseDelay = def.BaseDelay
	}
	if p.BackoffMultiplier == 0 {
		p.BackoffMultiplier = def.BackoffMultiplier
	}
	if p.MaxDelay == 0 {
		p.MaxDelay = def.MaxDelay
		if p.MaxDelay < p.BaseDelay {
			p.MaxDelay = p.BaseDelay
		}
	}
	if p.AttemptTimeout == 0 {
		p.AttemptTimeout = def.AttemptTimeout
	}
	return p
}

type wireRetryPolicy struct {
	MaxAttempts       int             `json:"max_attempts,omitempty"`
	BaseDelay         json.RawMessage `json:"base_delay,omitempty"`
	BackoffMultiplier float64         `json:"backoff_multiplier,omitempty"`
	MaxDelay          json.RawMessage `json:"max_delay,omitempty"`
	AttemptTimeout    json.RawMessage `json:"attempt_timeout,omitempty"`
}

// MarshalJSON renders durations as Go duration strings ("1.5s").
func (p RetryPolicy) MarshalJSON() ([]byte, error) {
	w := wireRetryPolicy{MaxAttempts: p.MaxAttempts, BackoffMultiplier: p.BackoffMultiplier}
	for _, f := range []struct {
		dst *json.RawMessage
		d   time.Duration
	}{{&w.BaseDelay, p.BaseDelay}, {&w.MaxDelay, p.MaxDelay}, {&w.AttemptTimeout, p.AttemptTimeout}} {
		if f.d != 0 {
			raw, _ := json.Marshal(f.d.String())
			*f.dst = raw
		}
	}
	return json.Marshal(w)
}

// UnmarshalJSON accepts durations as strings ("500ms") or integer nanoseconds.
func (p *RetryPolicy) UnmarshalJSON(data []byte) error {
	var w wireRetryPolicy
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	out := RetryPolicy{MaxAttempts: w.MaxAttempts, BackoffMultiplier: w.BackoffMultiplier}
	var err error
	if out.BaseDelay, err = decodeDuration("base_delay", w.BaseDelay); err != nil {
		return err
	}
	if out.MaxDelay, err = decodeDuration("max_delay", w.MaxDelay); err != nil {
		return err
	}
	if out.AttemptTimeout, err = decodeDuration("attempt_timeout", w.AttemptTimeout); err != nil {
		return err
	}
	*p = out
	return nil
}

func decodeDuration(field string, raw json.RawMessage) (time.Duration, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		d, err := time.ParseDuration(s)
		if err != nil {
			return 0, fmt.Errorf("%w: %s: %v", ErrInvalidRequest, field, err)
		}
		return d, nil
	}
	var n int64
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, fmt.Errorf("%w: %s must be a duration string or nanoseconds", ErrInvalidRequest, field)
	}
	return time.Duration(n), nil
}

// Request is a command addressed to one device.
//
// A request is immutable once enqueued except for AttemptCount, which the
// processor increments on each dispatch.
type Request struct {
	ID           string      `json:"id"`
	DeviceID     string      `json:"device_id"`
	CommandName  string      `json:"command"`
	Parameters   Parameters  `json:"parameters,omitempty"`
	Source       Source      `json:"source"`
	Priority     Priority    `json:"priority"`
	Sequence     uint64      `json:"sequence,omitempty"`
	RetryPolicy  RetryPolicy `json:"retry_policy"`
	AttemptCount int         `json:"attempt_count"`
	CreatedAt    time.Time   `json:"created_at"`
}

// NewRequest returns a DefaultPriority request with a fresh ID.
func NewRequest(deviceID, commandName string, source Source) Request {
	return Request{
		ID:          NewID(),
		DeviceID:    deviceID,
		CommandName: commandName,
		Source:      source,
		Priority:    DefaultPriority,
		CreatedAt:   time.Now().UTC(),
	}
}

// NewID generates a command ID.
func NewID() string {
	return "cmd-" + uuid.NewString()
}

// Prepare assigns an ID and creation time when missing and fills the
// retry policy from def.
func (r *Request) Prepare(def RetryPolicy) {
	if r.ID == "" {
		r.ID = NewID()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	r.RetryPolicy = r.RetryPolicy.WithDefaults(def)
}

// Clone returns a deep copy.
func (r Request) Clone() Request {
	r.Parameters = r.Parameters.Clone()
	return r
}

// AttemptsRemaining reports whether another dispatch attempt is allowed.
func (r Request) AttemptsRemaining() bool {
	return r.AttemptCount < r.RetryPolicy.MaxAttempts
}
