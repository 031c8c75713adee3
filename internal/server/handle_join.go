package server

import (
	"net/http"

	"github.com/playperu/livequiz/internal/auth"
	"github.com/playperu/livequiz/internal/session"
)

type JoinRequest struct {
	Code              string `json:"code"`
	DisplayName       string `json:"displayName"`
	DeviceFingerprint string `json:"deviceFingerprint"`
	Avatar            string `json:"avatar,omitempty"`
}

type JoinResponse struct {
	Token         string `json:"token"`
	EventID       string `json:"eventId"`
	ParticipantID string `json:"participantId"`
	DisplayName   string `json:"displayName"`
	IsRejoining   bool   `json:"isRejoining"`
}

func handleJoin(engine *session.Engine, tokens *auth.Tokens) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req JoinRequest
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		res, err := engine.Join(r.Context(), session.JoinRequest{
			Code:              req.Code,
			DisplayName:       req.DisplayName,
			DeviceFingerprint: req.DeviceFingerprint,
			Avatar:            req.Avatar,
		})
		if err != nil {
			writeEngineError(w, r, err)
			return
		}

		token, err := tokens.IssueParticipant(res.Event.ID, res.Participant.ID)
		if err != nil {
			writeEngineError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, JoinResponse{
			Token:         token,
			EventID:       res.Event.ID,
			ParticipantID: res.Participant.ID,
			DisplayName:   res.Participant.DisplayName,
			IsRejoining:   res.IsRejoining,
		})
	}
}
