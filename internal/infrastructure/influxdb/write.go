package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names written by the dispatch service.
const (
	MeasurementCommandOutcome = "command_outcome"
	MeasurementQueueDepth     = "command_queue"
)

// CommandOutcome is the terminal result of one command.
type CommandOutcome struct {
	CommandID string
	DeviceID  string
	Command   string
	Priority  string
	Status    string
	Attempts  int
	// Latency is the time from submission to the terminal state.
	Latency time.Duration
	At      time.Time
}

// WriteCommandOutcome records a command reaching a terminal state.
//
// Tags are kept low cardinality (device, command, priority, status); the
// command ID is stored as a field.
//
// Example:
//
//	client.WriteCommandOutcome(influxdb.CommandOutcome{
//	    CommandID: "cmd-1", DeviceID: "fan1", Command: "set_speed",
//	    Priority: "normal", Status: "completed", Attempts: 1,
//	    Latency: 120 * time.Millisecond, At: time.Now(),
//	})
func (c *Client) WriteCommandOutcome(o CommandOutcome) {
	if !c.IsConnected() {
		return
	}

	at := o.At
	if at.IsZero() {
		at = time.Now()
	}

	point := write.NewPoint(
		MeasurementCommandOutcome,
		map[string]string{
			"device_id": o.DeviceID,
			"command":   o.Command,
			"priority":  o.Priority,
			"status":    o.Status,
		},
		map[string]interface{}{
			"command_id": o.CommandID,
			"attempts":   int64(o.Attempts),
			"latency_ms": float64(o.Latency) / float64(time.Millisecond),
		},
		at,
	)
	c.writer.WritePoint(point)
}

// WriteQueueDepth records the per-priority queue depth.
//
// Parameters:
//   - depths: pending command count keyed by priority name
func (c *Client) WriteQueueDepth(depths map[string]int) {
	if !c.IsConnected() || len(depths) == 0 {
		return
	}

	now := time.Now()
	for priority, depth := range depths {
		point := write.NewPoint(
			MeasurementQueueDepth,
			map[string]string{"priority": priority},
			map[string]interface{}{"depth": int64(depth)},
			now,
		)
		c.writer.WritePoint(point)
	}
}

// WritePoint writes a custom point stamped with the current time.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}
	c.writer.WritePoint(write.NewPoint(measurement, tags, fields, time.Now()))
}
