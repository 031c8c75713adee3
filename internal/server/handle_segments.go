package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/playperu/livequiz/internal/livequiz"
	"github.com/playperu/livequiz/internal/session"
)

type CreateSegmentRequest struct {
	Title       string `json:"title"`
	PresenterID string `json:"presenterId,omitempty"`
}

type CreateQuestionRequest struct {
	Text             string   `json:"text"`
	CorrectAnswer    string   `json:"correctAnswer"`
	WrongAnswers     []string `json:"wrongAnswers"`
	TimeLimitSeconds int      `json:"timeLimitSeconds,omitempty"`
	QualityScore     float64  `json:"qualityScore,omitempty"`
}

type QuestionResponse struct {
	ID               string   `json:"id"`
	SegmentID        string   `json:"segmentId"`
	Position         int      `json:"position"`
	Text             string   `json:"text"`
	CorrectAnswer    string   `json:"correctAnswer"`
	WrongAnswers     []string `json:"wrongAnswers"`
	TimeLimitSeconds int      `json:"timeLimitSeconds"`
}

// PatchSegmentRequest documents the PATCH body. previousStatus may only
// be sent as null, which discards a pending resume.
type PatchSegmentRequest struct {
	Status         *livequiz.SegmentStatus `json:"status,omitempty"`
	PreviousStatus *string                 `json:"previousStatus"`
}

func handleCreateSegment(engine *session.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, _ := identityFrom(r)

		var req CreateSegmentRequest
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		seg, err := engine.CreateSegment(r.Context(), id.Caller(), chi.URLParam(r, "eventID"), req.Title, req.PresenterID)
		if err != nil {
			writeEngineError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, session.SegmentView{
			ID:          seg.ID,
			EventID:     seg.EventID,
			Title:       seg.Title,
			PresenterID: seg.PresenterID,
			Status:      seg.Status,
			Phase:       seg.Phase,
		})
	}
}

func handleCreateQuestion(engine *session.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, _ := identityFrom(r)

		var req CreateQuestionRequest
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		q, err := engine.AddQuestion(r.Context(), id.Caller(), chi.URLParam(r, "segmentID"), session.QuestionInput{
			Text:             req.Text,
			CorrectAnswer:    req.CorrectAnswer,
			WrongAnswers:     req.WrongAnswers,
			TimeLimitSeconds: req.TimeLimitSeconds,
			QualityScore:     req.QualityScore,
		})
		if err != nil {
			writeEngineError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, QuestionResponse{
			ID:               q.ID,
			SegmentID:        q.SegmentID,
			Position:         q.Position,
			Text:             q.Text,
			CorrectAnswer:    q.CorrectAnswer,
			WrongAnswers:     q.WrongAnswers,
			TimeLimitSeconds: q.TimeLimitSeconds,
		})
	}
}

// handlePatchSegment reads the body as raw fields so that an explicit
// "previousStatus": null can be told apart from an absent key.
func handlePatchSegment(engine *session.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, _ := identityFrom(r)

		var body map[string]json.RawMessage
		if err := readJSON(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		var patch session.SegmentPatch
		if raw, ok := body["status"]; ok {
			var status livequiz.SegmentStatus
			if err := json.Unmarshal(raw, &status); err != nil {
				writeError(w, http.StatusBadRequest, "status must be a string")
				return
			}
			patch.Status = &status
		}
		if raw, ok := body["previousStatus"]; ok {
			if len(raw) != 0 && string(raw) != "null" {
				writeError(w, http.StatusBadRequest, "previousStatus can only be cleared with null")
				return
			}
			patch.ClearPreviousStatus = true
		}

		view, err := engine.PatchSegment(r.Context(), id.Caller(), chi.URLParam(r, "segmentID"), patch)
		if err != nil {
			writeEngineError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
	}
}

func handleSegmentAction(engine *session.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, _ := identityFrom(r)
		action := session.Action(chi.URLParam(r, "action"))

		view, err := engine.Apply(r.Context(), id.Caller(), chi.URLParam(r, "segmentID"), action)
		if err != nil {
			writeEngineError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
	}
}

func handleResume(engine *session.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, _ := identityFrom(r)

		res, err := engine.Resume(r.Context(), id.Caller(), chi.URLParam(r, "segmentID"))
		if err != nil {
			writeEngineError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func handleSegmentLeaderboard(engine *session.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		board, err := engine.Leaderboard(r.Context(), chi.URLParam(r, "segmentID"))
		if err != nil {
			writeEngineError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, board)
	}
}

func handleDistribution(engine *session.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, _ := identityFrom(r)

		dist, err := engine.Distribution(r.Context(), id.Caller(),
			chi.URLParam(r, "segmentID"), chi.URLParam(r, "questionID"))
		if err != nil {
			writeEngineError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, dist)
	}
}
