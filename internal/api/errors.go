package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/gray-logic-dispatch/internal/command"
	"github.com/nerrad567/gray-logic-dispatch/internal/device"
)

// Error is the body of an error response.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	// Details lists individual validation problems.
	Details []command.ValidationError `json:"details,omitempty"`
}

type errorResponse struct {
	Error Error `json:"error"`
}

// Error codes.
const (
	ErrCodeBadRequest     = "bad_request"
	ErrCodeNotFound       = "not_found"
	ErrCodeConflict       = "conflict"
	ErrCodeInternal       = "internal_error"
	ErrCodeValidation     = "validation_error"
	ErrCodeQueueFull      = "queue_full"
	ErrCodeNotCancellable = "not_cancellable"
	ErrCodeNotFailed      = "not_failed"
	ErrCodeTerminal       = "terminal"
	ErrCodeUnknownDevice  = "unknown_device"
	ErrCodeUnknownProto   = "unknown_protocol"
	ErrCodeUnavailable    = "unavailable"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: Error{Code: code, Message: message}})
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeCommandError maps command sentinels to a status and code. Unknown
// errors are logged and reported as 500 without detail.
func (s *Server) writeCommandError(w http.ResponseWriter, err error, op string) {
	var verrs command.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: Error{
			Code:    ErrCodeValidation,
			Message: "invalid command",
			Details: verrs,
		}})
	case errors.Is(err, command.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
	case errors.Is(err, command.ErrQueueFull):
		writeError(w, http.StatusServiceUnavailable, ErrCodeQueueFull, "command queue is full")
	case errors.Is(err, command.ErrNotFound):
		writeNotFound(w, "command not found")
	case errors.Is(err, command.ErrDuplicateID):
		writeError(w, http.StatusConflict, ErrCodeConflict, "command id already exists")
	case errors.Is(err, command.ErrNotCancellable):
		writeError(w, http.StatusConflict, ErrCodeNotCancellable, "command has already been dispatched")
	case errors.Is(err, command.ErrNotFailed):
		writeError(w, http.StatusConflict, ErrCodeNotFailed, "only failed commands can be retried")
	case errors.Is(err, command.ErrTerminal):
		writeError(w, http.StatusConflict, ErrCodeTerminal, "command has already finished")
	case errors.Is(err, command.ErrUnknownDevice), errors.Is(err, device.ErrDeviceDisabled):
		writeError(w, http.StatusUnprocessableEntity, ErrCodeUnknownDevice, err.Error())
	case errors.Is(err, command.ErrUnknownProtocol):
		writeError(w, http.StatusUnprocessableEntity, ErrCodeUnknownProto, err.Error())
	default:
		s.logger.Error(op+" failed", "error", err)
		writeInternalError(w, op+" failed")
	}
}
