package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/swaggest/swgui/v5emb"

	"github.com/playperu/livequiz/internal/auth"
	"github.com/playperu/livequiz/internal/session"
)

func addRoutes(r chi.Router, engine *session.Engine, tokens *auth.Tokens, health http.Handler) {
	r.Get("/openapi.json", handleOpenAPI())
	r.Mount("/docs", v5emb.New("Live Quiz API", "/openapi.json", "/docs"))
	if health != nil {
		r.Mount("/healthz", health)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(authMiddleware(tokens))

		// Public: joining needs nothing but the code.
		r.Get("/codes/{code}", handleCodeLookup(engine))
		r.Post("/join", handleJoin(engine, tokens))

		r.Group(func(r chi.Router) {
			r.Use(requireParticipant)
			r.Post("/answers", handleAnswer(engine))
		})

		r.Group(func(r chi.Router) {
			r.Use(requireHost)
			r.Post("/events", handleCreateEvent(engine))
			r.Post("/events/{eventID}/lock", handleSetLock(engine, true))
			r.Post("/events/{eventID}/unlock", handleSetLock(engine, false))
			r.Post("/events/{eventID}/end", handleEndEvent(engine))
			r.Post("/events/{eventID}/segments", handleCreateSegment(engine))
			r.Post("/segments/{segmentID}/presenter", handlePresenter(engine.AssignPresenter))
			r.Post("/segments/{segmentID}/presenter/emergency", handlePresenter(engine.EmergencyReassign))
			r.Get("/segments/{segmentID}/presenter/candidates", handleEmergencyCandidates(engine))
		})

		// Host or participant; the engine decides who may drive a segment.
		r.Group(func(r chi.Router) {
			r.Use(requireIdentity)
			r.Get("/events/{eventID}", handleGetEvent(engine))
			r.Get("/events/{eventID}/state", handleState(engine))
			r.Get("/events/{eventID}/leaderboard", handleEventLeaderboard(engine))
			r.Get("/events/{eventID}/stream", handleStream(engine))
			r.Get("/events/{eventID}/ws", handleWS(engine))

			r.Patch("/segments/{segmentID}", handlePatchSegment(engine))
			r.Post("/segments/{segmentID}/questions", handleCreateQuestion(engine))
			r.Post("/segments/{segmentID}/actions/{action}", handleSegmentAction(engine))
			r.Post("/segments/{segmentID}/resume", handleResume(engine))
			r.Post("/segments/{segmentID}/presenter/pass", handlePresenter(engine.PassPresenter))
			r.Get("/segments/{segmentID}/leaderboard", handleSegmentLeaderboard(engine))
			r.Get("/segments/{segmentID}/questions/{questionID}/distribution", handleDistribution(engine))
		})
	})
}
