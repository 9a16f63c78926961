package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-dispatch/internal/command"
	"github.com/nerrad567/gray-logic-dispatch/internal/command/store"
)

const (
	defaultCommandLimit = 100
	maxCommandLimit     = 1000
)

// submitResponse is returned by POST /commands.
type submitResponse struct {
	ID     string         `json:"id"`
	Status command.Status `json:"status"`
}

// handleSubmitCommand accepts a command request and enqueues it.
// Returns 202 with the command ID; dispatch happens asynchronously.
func (s *Server) handleSubmitCommand(w http.ResponseWriter, r *http.Request) {
	// Decoding keeps the default when the body has no priority.
	req := command.Request{Priority: command.DefaultPriority}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON: "+err.Error())
		return
	}

	// API callers default to a user source attributed to the request header.
	if req.Source.Kind == "" {
		req.Source = command.UserSource(r.Header.Get("X-Actor-ID"))
		if req.Source.ActorID == "" {
			req.Source.ActorID = "api"
		}
	}

	id, err := s.commands.Submit(r.Context(), req)
	if err != nil {
		s.writeCommandError(w, err, "submit command")
		return
	}

	w.Header().Set("Location", "/api/v1/commands/"+id)
	writeJSON(w, http.StatusAccepted, submitResponse{ID: id, Status: command.StatusQueued})
}

// handleListCommands lists command records, newest first.
//
// Query parameters: status (comma separated), device_id, source, since,
// until (RFC 3339), limit, offset.
func (s *Server) handleListCommands(w http.ResponseWriter, r *http.Request) {
	f, err := parseCommandFilter(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	records, err := s.commands.List(r.Context(), f)
	if err != nil {
		s.writeCommandError(w, err, "list commands")
		return
	}
	if records == nil {
		records = []*command.Record{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"commands": records,
		"count":    len(records),
		"limit":    f.Limit,
		"offset":   f.Offset,
	})
}

// handleGetCommand returns one command record.
func (s *Server) handleGetCommand(w http.ResponseWriter, r *http.Request) {
	rec, err := s.commands.Status(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeCommandError(w, err, "get command")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleCancelCommand cancels a queued or retrying command.
func (s *Server) handleCancelCommand(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.commands.Cancel(r.Context(), id); err != nil {
		s.writeCommandError(w, err, "cancel command")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "status": command.StatusExpired})
}

// handleRetryCommand re-submits a failed command.
func (s *Server) handleRetryCommand(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.commands.Retry(r.Context(), id); err != nil {
		s.writeCommandError(w, err, "retry command")
		return
	}
	writeJSON(w, http.StatusAccepted, submitResponse{ID: id, Status: command.StatusQueued})
}

// handleCleanupCommands removes terminal records older than older_than.
func (s *Server) handleCleanupCommands(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("older_than")
	if raw == "" {
		writeBadRequest(w, "older_than is required")
		return
	}
	age, err := time.ParseDuration(raw)
	if err != nil || age <= 0 {
		writeBadRequest(w, "older_than must be a positive duration")
		return
	}

	removed, err := s.commands.Cleanup(r.Context(), age)
	if err != nil {
		s.writeCommandError(w, err, "cleanup commands")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"removed": removed})
}

// handleCommandStats returns dispatch statistics.
func (s *Server) handleCommandStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.commands.Stats(r.Context())
	if err != nil {
		s.writeCommandError(w, err, "command stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// handleAck accepts an acknowledgement from a device that answers over HTTP.
// The command ID may be given in the body or the X-Command-ID header.
func (s *Server) handleAck(w http.ResponseWriter, r *http.Request) {
	var ack command.Ack
	if err := json.NewDecoder(r.Body).Decode(&ack); err != nil {
		writeBadRequest(w, "invalid JSON: "+err.Error())
		return
	}
	if ack.CommandID == "" {
		ack.CommandID = r.Header.Get("X-Command-ID")
	}
	if ack.CommandID == "" {
		writeBadRequest(w, "command_id is required")
		return
	}
	if ack.ReceivedAt.IsZero() {
		ack.ReceivedAt = time.Now().UTC()
	}

	err := s.commands.OnAck(r.Context(), ack)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case command.IsAckError(err):
		// Late or duplicate acks are expected; answering with an error
		// would only make the device resend.
		s.logger.Debug("ack ignored", "command_id", ack.CommandID, "attempt", ack.Attempt, "reason", err)
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "ignored", "reason": err.Error()})
	default:
		s.writeCommandError(w, err, "ack")
	}
}

// parseCommandFilter builds a store filter from query parameters.
func parseCommandFilter(r *http.Request) (store.Filter, error) {
	q := r.URL.Query()
	f := store.Filter{
		DeviceID:   q.Get("device_id"),
		SourceKind: command.SourceKind(q.Get("source")),
		Limit:      defaultCommandLimit,
	}

	if raw := q.Get("status"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			st, err := command.ParseStatus(strings.TrimSpace(part))
			if err != nil {
				return f, err
			}
			f.Statuses = append(f.Statuses, st)
		}
	}

	var err error
	if f.Since, err = parseTime(q.Get("since")); err != nil {
		return f, fmt.Errorf("since: %w", err)
	}
	if f.Until, err = parseTime(q.Get("until")); err != nil {
		return f, fmt.Errorf("until: %w", err)
	}

	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return f, fmt.Errorf("limit must be a positive integer")
		}
		f.Limit = min(n, maxCommandLimit)
	}
	if raw := q.Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return f, fmt.Errorf("offset must be a non-negative integer")
		}
		f.Offset = n
	}
	return f, nil
}

func parseTime(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, raw)
}
