package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/playperu/livequiz/internal/livequiz"
	"github.com/playperu/livequiz/internal/session"
)

type CreateEventRequest struct {
	Title string `json:"title"`
}

type CodeLookupResponse struct {
	EventID string `json:"eventId"`
	Title   string `json:"title"`
	Locked  bool   `json:"locked"`
}

func handleCreateEvent(engine *session.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, _ := identityFrom(r)

		var req CreateEventRequest
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		ev, err := engine.CreateEvent(r.Context(), id.Caller(), req.Title)
		if err != nil {
			writeEngineError(w, r, err)
			return
		}
		view, err := engine.Event(r.Context(), ev.ID)
		if err != nil {
			writeEngineError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, view)
	}
}

func handleGetEvent(engine *session.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		eventID := chi.URLParam(r, "eventID")
		if id, _ := identityFrom(r); !canSeeEvent(id, eventID) {
			writeEngineError(w, r, livequiz.ErrForbidden)
			return
		}

		view, err := engine.Event(r.Context(), eventID)
		if err != nil {
			writeEngineError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
	}
}

// handleCodeLookup lets a joining client check a code before asking for a
// display name. It reveals nothing beyond the title and lock state.
func handleCodeLookup(engine *session.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		view, err := engine.EventByCode(r.Context(), chi.URLParam(r, "code"))
		if err != nil {
			writeEngineError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, CodeLookupResponse{
			EventID: view.ID,
			Title:   view.Title,
			Locked:  view.Locked,
		})
	}
}

func handleSetLock(engine *session.Engine, locked bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, _ := identityFrom(r)
		eventID := chi.URLParam(r, "eventID")

		if _, err := engine.SetLock(r.Context(), id.Caller(), eventID, locked); err != nil {
			writeEngineError(w, r, err)
			return
		}
		view, err := engine.Event(r.Context(), eventID)
		if err != nil {
			writeEngineError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
	}
}

func handleEndEvent(engine *session.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, _ := identityFrom(r)
		eventID := chi.URLParam(r, "eventID")

		if _, err := engine.EndEvent(r.Context(), id.Caller(), eventID); err != nil {
			writeEngineError(w, r, err)
			return
		}
		view, err := engine.Event(r.Context(), eventID)
		if err != nil {
			writeEngineError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
	}
}

func handleEventLeaderboard(engine *session.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		eventID := chi.URLParam(r, "eventID")
		if id, _ := identityFrom(r); !canSeeEvent(id, eventID) {
			writeEngineError(w, r, livequiz.ErrForbidden)
			return
		}

		board, err := engine.EventLeaderboard(r.Context(), eventID)
		if err != nil {
			writeEngineError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, board)
	}
}

// handleState returns the same snapshot a realtime connection starts
// with, for clients that poll or need to resync without reconnecting.
func handleState(engine *session.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		eventID := chi.URLParam(r, "eventID")
		id, _ := identityFrom(r)
		if !canSeeEvent(id, eventID) {
			writeEngineError(w, r, livequiz.ErrForbidden)
			return
		}

		snap, err := engine.Snapshot(r.Context(), eventID, r.URL.Query().Get("segment"), id.ParticipantID)
		if err != nil {
			writeEngineError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, snap)
	}
}
