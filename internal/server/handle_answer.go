package server

import (
	"net/http"

	"github.com/playperu/livequiz/internal/session"
)

type AnswerRequest struct {
	QuestionID string `json:"questionId"`
	Answer     string `json:"answer"`
}

// handleAnswer records the caller's answer. Correctness is not revealed
// until the presenter reveals the question.
func handleAnswer(engine *session.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, _ := identityFrom(r)

		var req AnswerRequest
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.QuestionID == "" {
			writeError(w, http.StatusBadRequest, "questionId is required")
			return
		}

		receipt, err := engine.SubmitAnswer(r.Context(), session.SubmitAnswer{
			EventID:       id.EventID,
			ParticipantID: id.ParticipantID,
			QuestionID:    req.QuestionID,
			Answer:        req.Answer,
		})
		if err != nil {
			writeEngineError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, receipt)
	}
}
