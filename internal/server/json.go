package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/playperu/livequiz/internal/livequiz"
	"github.com/playperu/livequiz/internal/session"
)

// ErrorResponse is returned for all error responses. Reason is a stable
// machine-readable code for domain errors.
type ErrorResponse struct {
	Error             string `json:"error"`
	Reason            string `json:"reason,omitempty"`
	RetryAfterSeconds int    `json:"retryAfterSeconds,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func readJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// writeEngineError maps an engine error onto a response. Errors outside
// the domain taxonomy are logged and hidden behind a 500.
func writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	var e *livequiz.Error
	if !errors.As(err, &e) {
		if errors.Is(err, session.ErrClosed) {
			writeError(w, http.StatusServiceUnavailable, "shutting down")
			return
		}
		loggerFrom(r).Error("request failed", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	resp := ErrorResponse{Error: e.Message, Reason: e.Code}
	if e.Kind == livequiz.KindDebounce {
		resp.RetryAfterSeconds = e.RetryAfterSeconds()
		w.Header().Set("Retry-After", strconv.Itoa(resp.RetryAfterSeconds))
	}
	if e.Kind == livequiz.KindFault || e.Kind == livequiz.KindInternal {
		loggerFrom(r).Error("request failed", "path", r.URL.Path, "error", err)
	}
	writeJSON(w, statusFor(e), resp)
}

func statusFor(e *livequiz.Error) int {
	switch e.Kind {
	case livequiz.KindAdmission:
		switch e.Code {
		case livequiz.ErrEventLocked.Code:
			return http.StatusForbidden
		case livequiz.ErrDeviceConflict.Code:
			return http.StatusConflict
		}
		return http.StatusNotFound
	case livequiz.KindDuplicateSubmission, livequiz.KindExpiredWindow,
		livequiz.KindInvalidTransition, livequiz.KindFault:
		return http.StatusConflict
	case livequiz.KindDebounce:
		return http.StatusTooManyRequests
	case livequiz.KindOfflineTarget:
		return http.StatusUnprocessableEntity
	case livequiz.KindNotFound:
		return http.StatusNotFound
	case livequiz.KindForbidden:
		return http.StatusForbidden
	case livequiz.KindInvalidInput:
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
