package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/playperu/livequiz/internal/broadcast"
	"github.com/playperu/livequiz/internal/livequiz"
	"github.com/playperu/livequiz/internal/session"
)

const pingInterval = 30 * time.Second

// subscribe connects the caller to the event named in the URL, optionally
// narrowed by the segment query parameter.
func subscribe(engine *session.Engine, r *http.Request) (*broadcast.Subscriber, error) {
	id, _ := identityFrom(r)
	eventID := chi.URLParam(r, "eventID")
	if !canSeeEvent(id, eventID) {
		return nil, livequiz.ErrForbidden
	}
	return engine.Connect(r.Context(), session.ConnectRequest{
		Caller:    id.Caller(),
		EventID:   eventID,
		SegmentID: r.URL.Query().Get("segment"),
	})
}

// handleStream serves the realtime feed as Server-Sent Events. The
// connection's lifetime is the participant's presence.
func handleStream(engine *session.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			writeError(w, http.StatusInternalServerError, "streaming not supported")
			return
		}

		sub, err := subscribe(engine, r)
		if err != nil {
			writeEngineError(w, r, err)
			return
		}
		// The request context is already cancelled when the client leaves.
		defer engine.Disconnect(context.Background(), sub)

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		ping := time.NewTicker(pingInterval)
		defer ping.Stop()

		for {
			select {
			case <-r.Context().Done():
				return
			case data := <-sub.Messages():
				fmt.Fprintf(w, "event: update\ndata: %s\n\n", data)
				flusher.Flush()
			case <-sub.Done():
				// Deliver what was queued before the feed closed, such as
				// the event-ended notice.
				for {
					select {
					case data := <-sub.Messages():
						fmt.Fprintf(w, "event: update\ndata: %s\n\n", data)
					default:
						flusher.Flush()
						return
					}
				}
			case <-ping.C:
				fmt.Fprintf(w, ": ping\n\n")
				flusher.Flush()
			}
		}
	}
}
