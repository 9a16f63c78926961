package manager

import (
	"context"
	"fmt"

	"github.com/nerrad567/gray-logic-dispatch/internal/command"
	"github.com/nerrad567/gray-logic-dispatch/internal/command/store"
)

// RecoveryReport summarises what Recover did.
type RecoveryReport struct {
	Requeued int `json:"requeued"`
	Expired  int `json:"expired"`
	Failed   int `json:"failed"`
}

// Recover rebuilds working state from the store after a restart.
//
// Under RecoveryRequeue, queued and retrying commands go back into the
// queue at their original priority, oldest first, keeping their attempt
// count. Commands that were dispatched, awaiting an ack or acknowledged
// may already have reached the device and their ack table entry is gone,
// so they are expired with detail "interrupted by restart". Under
// RecoveryExpire every non-terminal command is expired.
//
// A command that no longer fits in the queue is failed.
//
// Recover must run before the processor starts.
func (m *Manager) Recover(ctx context.Context) (RecoveryReport, error) {
	var report RecoveryReport

	recs, err := m.store.NonTerminal(ctx)
	if err != nil {
		return report, fmt.Errorf("recovery: %w", err)
	}

	for _, rec := range recs {
		requeue := m.cfg.Recovery == RecoveryRequeue &&
			(rec.Status == command.StatusQueued || rec.Status == command.StatusRetrying)

		if !requeue {
			if err := m.terminate(ctx, rec, command.StatusExpired, DetailInterrupted); err != nil {
				return report, err
			}
			report.Expired++
			continue
		}

		req := rec.Request.Clone()
		req.AttemptCount = rec.AttemptCount
		if rec.Status == command.StatusRetrying {
			if _, err := m.store.PutStatus(ctx, req.ID, command.StatusQueued, store.Detail{}); err != nil {
				return report, fmt.Errorf("recovery: requeue %s: %w", req.ID, err)
			}
		}
		if _, err := m.queue.Enqueue(req); err != nil {
			if err := m.terminate(ctx, rec, command.StatusFailed, fmt.Sprintf("recovery: %v", err)); err != nil {
				return report, err
			}
			report.Failed++
			continue
		}
		report.Requeued++
	}

	m.logger.Info("command recovery complete",
		"policy", m.cfg.Recovery,
		"requeued", report.Requeued,
		"expired", report.Expired,
		"failed", report.Failed,
	)
	return report, nil
}

func (m *Manager) terminate(ctx context.Context, rec *command.Record, status command.Status, reason string) error {
	if _, err := m.store.PutStatus(ctx, rec.ID(), status, store.Detail{Error: reason}); err != nil {
		return fmt.Errorf("recovery: %s %s: %w", status, rec.ID(), err)
	}
	evType, _ := command.TerminalEvent(status)
	m.bus.Publish(command.NewEvent(evType, rec.Request, reason))
	return nil
}
