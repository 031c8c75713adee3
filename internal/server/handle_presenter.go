package server

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/playperu/livequiz/internal/livequiz"
	"github.com/playperu/livequiz/internal/session"
)

type PresenterRequest struct {
	ParticipantID string `json:"participantId"`
}

type presenterFunc func(ctx context.Context, caller livequiz.Caller, segmentID, participantID string) (session.SegmentView, error)

// handlePresenter serves assign, pass and emergency reassign, which share
// a body and differ only in who may call them.
func handlePresenter(change presenterFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, _ := identityFrom(r)

		var req PresenterRequest
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.ParticipantID == "" {
			writeError(w, http.StatusBadRequest, "participantId is required")
			return
		}

		view, err := change(r.Context(), id.Caller(), chi.URLParam(r, "segmentID"), req.ParticipantID)
		if err != nil {
			writeEngineError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
	}
}

func handleEmergencyCandidates(engine *session.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, _ := identityFrom(r)

		candidates, err := engine.EmergencyCandidates(r.Context(), id.Caller(), chi.URLParam(r, "segmentID"))
		if err != nil {
			writeEngineError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, candidates)
	}
}
