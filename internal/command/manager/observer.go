package manager

import (
	"context"
	"time"

	"github.com/nerrad567/gray-logic-dispatch/internal/command"
	"github.com/nerrad567/gray-logic-dispatch/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-dispatch/internal/infrastructure/metrics"
	"github.com/nerrad567/gray-logic-dispatch/internal/infrastructure/mqtt"
)

// observerBuffer is the event buffer of the manager's own subscription.
const observerBuffer = 256

// OutcomeWriter records terminal outcomes. *influxdb.Client satisfies it.
type OutcomeWriter interface {
	WriteCommandOutcome(o influxdb.CommandOutcome)
}

// EventMirror republishes lifecycle events. *mqtt.Client satisfies it.
type EventMirror interface {
	PublishJSON(topic string, v any, qos byte) error
}

// SetOutcomeWriter enables time-series outcome logging. Call before Run.
func (m *Manager) SetOutcomeWriter(w OutcomeWriter) {
	m.outcomes = w
}

// SetEventMirror enables mirroring events to MQTT. Call before Run.
func (m *Manager) SetEventMirror(p EventMirror) {
	m.mirror = p
}

// Run observes lifecycle events and runs the retention cleanup until ctx
// is cancelled.
//
// For every event it refreshes the queue depth gauge and mirrors the event
// to graylogic/core/event/command.{type}. Terminal events also increment
// the result counter and are written as time-series outcomes.
func (m *Manager) Run(ctx context.Context) error {
	sub := m.sub
	defer sub.Close()

	var cleanup <-chan time.Time
	if m.cfg.CleanupInterval > 0 {
		ticker := time.NewTicker(m.cfg.CleanupInterval)
		defer ticker.Stop()
		cleanup = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			if n := sub.Dropped(); n > 0 {
				m.logger.Warn("manager observer dropped events", "count", n)
			}
			return nil
		case ev, ok := <-sub.C():
			if !ok {
				return nil
			}
			m.observe(ctx, ev)
		case <-cleanup:
			if _, err := m.Cleanup(ctx, m.cfg.Retention); err != nil {
				m.logger.Error("retention cleanup failed", "error", err)
			}
		}
	}
}

func (m *Manager) observe(ctx context.Context, ev command.Event) {
	metrics.SetQueueDepth(m.queue.Len())

	if m.mirror != nil {
		if err := m.mirror.PublishJSON(mqtt.Topics{}.CommandEvent(string(ev.Type)), ev, 1); err != nil {
			m.logger.Debug("mirroring event failed", "command_id", ev.CommandID, "type", ev.Type, "error", err)
		}
	}

	if !ev.Type.IsTerminal() {
		return
	}

	rec, err := m.store.Get(ctx, ev.CommandID)
	if err != nil {
		m.logger.Debug("terminal record unavailable", "command_id", ev.CommandID, "error", err)
		metrics.IncResult(string(ev.Type))
		return
	}
	metrics.IncResult(string(rec.Status))

	if m.outcomes == nil {
		return
	}
	at := ev.Timestamp
	if rec.CompletedAt != nil {
		at = *rec.CompletedAt
	}
	m.outcomes.WriteCommandOutcome(influxdb.CommandOutcome{
		CommandID: rec.ID(),
		DeviceID:  rec.Request.DeviceID,
		Command:   rec.Request.CommandName,
		Priority:  rec.Request.Priority.String(),
		Status:    string(rec.Status),
		Attempts:  rec.AttemptCount,
		Latency:   at.Sub(rec.CreatedAt),
		At:        at,
	})
}
