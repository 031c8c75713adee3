package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
	"nhooyr.io/websocket"

	"github.com/playperu/livequiz/internal/auth"
	"github.com/playperu/livequiz/internal/broadcast"
	"github.com/playperu/livequiz/internal/livequiz"
	"github.com/playperu/livequiz/internal/session"
)

const writeTimeout = 10 * time.Second

var errFeedClosed = errors.New("feed closed")

// clientMessage is an intent sent by a participant over the socket.
type clientMessage struct {
	Type       string `json:"type"`
	QuestionID string `json:"questionId"`
	Answer     string `json:"answer"`
}

// answerResult is the direct reply to a submit-answer intent. It goes
// only to the sender, outside the broadcast sequence.
type answerResult struct {
	Type       string                `json:"type"`
	QuestionID string                `json:"questionId"`
	Receipt    *session.AnswerReceipt `json:"receipt,omitempty"`
	Error      *ErrorResponse        `json:"error,omitempty"`
}

// handleWS serves the realtime feed over a WebSocket. Participants may
// also submit answers on the same connection.
func handleWS(engine *session.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sub, err := subscribe(engine, r)
		if err != nil {
			writeEngineError(w, r, err)
			return
		}
		defer engine.Disconnect(context.Background(), sub)

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			loggerFrom(r).Error("websocket accept failed", "error", err)
			return
		}
		defer conn.CloseNow()

		id, _ := identityFrom(r)
		g, ctx := errgroup.WithContext(r.Context())
		g.Go(func() error { return readIntents(ctx, conn, engine, id) })
		g.Go(func() error { return writeFeed(ctx, conn, sub) })

		err = g.Wait()
		switch {
		case errors.Is(err, errFeedClosed):
		case websocket.CloseStatus(err) != -1, errors.Is(err, context.Canceled):
			loggerFrom(r).Debug("websocket closed", "error", err)
		default:
			loggerFrom(r).Debug("websocket failed", "error", err)
		}
	}
}

// writeFeed forwards hub messages until the subscriber is removed, then
// drains what is left, closes the socket and returns errFeedClosed so the
// reader stops too.
func writeFeed(ctx context.Context, conn *websocket.Conn, sub *broadcast.Subscriber) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data := <-sub.Messages():
			if err := writeFrame(ctx, conn, data); err != nil {
				return err
			}
		case <-sub.Done():
			for {
				select {
				case data := <-sub.Messages():
					if err := writeFrame(ctx, conn, data); err != nil {
						return err
					}
				default:
					conn.Close(websocket.StatusNormalClosure, "feed closed")
					return errFeedClosed
				}
			}
		}
	}
}

func writeFrame(ctx context.Context, conn *websocket.Conn, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}

// readIntents handles messages from the client. Only participants can
// submit answers; anything else is ignored.
func readIntents(ctx context.Context, conn *websocket.Conn, engine *session.Engine, id auth.Identity) error {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil || msg.Type != "submit-answer" || id.Role != auth.RoleParticipant {
			continue
		}

		receipt, err := engine.SubmitAnswer(ctx, session.SubmitAnswer{
			EventID:       id.EventID,
			ParticipantID: id.ParticipantID,
			QuestionID:    msg.QuestionID,
			Answer:        msg.Answer,
		})
		reply := answerResult{Type: "answer-result", QuestionID: msg.QuestionID}
		if err != nil {
			var e *livequiz.Error
			if !errors.As(err, &e) {
				return err
			}
			reply.Error = &ErrorResponse{Error: e.Message, Reason: e.Code}
		} else {
			reply.Receipt = &receipt
		}

		out, _ := json.Marshal(reply)
		if err := writeFrame(ctx, conn, out); err != nil {
			return err
		}
	}
}
