package session

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/playperu/livequiz/internal/broadcast"
	"github.com/playperu/livequiz/internal/database"
	"github.com/playperu/livequiz/internal/devicelock"
	"github.com/playperu/livequiz/internal/livequiz"
	"github.com/playperu/livequiz/internal/migrations"
	"github.com/playperu/livequiz/internal/storage"
)

var host = livequiz.Caller{UserID: "host-1"}

type harness struct {
	t      *testing.T
	ctx    context.Context
	engine *Engine
	clock  *clockwork.FakeClock
	hub    *broadcast.Hub
	store  *storage.SQLite
	locks  *devicelock.Memory
	logger *slog.Logger
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open(ctx, database.Memory)
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := migrations.Run(db); err != nil {
		t.Fatalf("running migrations: %v", err)
	}

	h := &harness{
		t:      t,
		ctx:    ctx,
		clock:  clockwork.NewFakeClockAt(time.Date(2026, 5, 1, 18, 0, 0, 0, time.UTC)),
		store:  storage.NewSQLite(db),
		locks:  devicelock.NewMemory(),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	h.hub = broadcast.NewHub(h.logger, broadcast.WithBuffer(512))
	h.engine = New(h.store, h.locks, h.hub, h.clock, h.logger, opts)
	t.Cleanup(h.engine.Close)
	return h
}

// restart replaces the engine with a fresh one over the same store, as if
// the process had restarted.
func (h *harness) restart() {
	h.engine.Close()
	h.engine = New(h.store, h.locks, h.hub, h.clock, h.logger, h.engine.opts)
	h.t.Cleanup(h.engine.Close)
}

func (h *harness) createEvent() livequiz.Event {
	h.t.Helper()
	ev, err := h.engine.CreateEvent(h.ctx, host, "Friday quiz")
	if err != nil {
		h.t.Fatalf("CreateEvent: %v", err)
	}
	return ev
}

func (h *harness) join(ev livequiz.Event, name, device string) livequiz.Participant {
	h.t.Helper()
	res, err := h.engine.Join(h.ctx, JoinRequest{Code: ev.JoinCode, DisplayName: name, DeviceFingerprint: device})
	if err != nil {
		h.t.Fatalf("Join(%s): %v", name, err)
	}
	return res.Participant
}

// quizSegment creates a segment with n questions, each with limit, and
// moves it to quiz_ready.
func (h *harness) quizSegment(ev livequiz.Event, presenterID string, n int, limit time.Duration) livequiz.Segment {
	h.t.Helper()
	seg, err := h.engine.CreateSegment(h.ctx, host, ev.ID, "Talk", presenterID)
	if err != nil {
		h.t.Fatalf("CreateSegment: %v", err)
	}
	for i := range n {
		_, err := h.engine.AddQuestion(h.ctx, host, seg.ID, QuestionInput{
			Text:             fmt.Sprintf("Question %d", i+1),
			CorrectAnswer:    "right",
			WrongAnswers:     []string{"wrong", "also wrong"},
			TimeLimitSeconds: int(limit / time.Second),
		})
		if err != nil {
			h.t.Fatalf("AddQuestion: %v", err)
		}
	}
	h.apply(seg.ID, ActionContentReady)
	return seg
}

func (h *harness) apply(segmentID string, action Action) SegmentView {
	h.t.Helper()
	v, err := h.engine.Apply(h.ctx, host, segmentID, action)
	if err != nil {
		h.t.Fatalf("Apply(%s): %v", action, err)
	}
	return v
}

func (h *harness) connect(ev livequiz.Event, segmentID string, caller livequiz.Caller) *broadcast.Subscriber {
	h.t.Helper()
	sub, err := h.engine.Connect(h.ctx, ConnectRequest{Caller: caller, EventID: ev.ID, SegmentID: segmentID})
	if err != nil {
		h.t.Fatalf("Connect: %v", err)
	}
	return sub
}

func (h *harness) currentQuestion(segmentID string) QuestionView {
	h.t.Helper()
	eventID, err := h.engine.eventIDBySegment(h.ctx, segmentID)
	if err != nil {
		h.t.Fatalf("finding event: %v", err)
	}
	snap, err := h.engine.Snapshot(h.ctx, eventID, segmentID, "")
	if err != nil {
		h.t.Fatalf("Snapshot: %v", err)
	}
	if snap.Question == nil {
		h.t.Fatalf("no open question in segment %s (phase %s)", segmentID, snap.Segment.Phase)
	}
	return *snap.Question
}

type wireMessage struct {
	Type    broadcast.Kind  `json:"type"`
	Seq     uint64          `json:"seq"`
	Payload json.RawMessage `json:"payload"`
}

func next(t *testing.T, sub *broadcast.Subscriber) wireMessage {
	t.Helper()
	select {
	case data := <-sub.Messages():
		var m wireMessage
		if err := json.Unmarshal(data, &m); err != nil {
			t.Fatalf("decoding message: %v", err)
		}
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}
	return wireMessage{}
}

// waitFor reads messages until one of kind arrives.
func waitFor(t *testing.T, sub *broadcast.Subscriber, kind broadcast.Kind) wireMessage {
	t.Helper()
	for {
		m := next(t, sub)
		if m.Type == kind {
			return m
		}
	}
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		t.Fatalf("decoding payload: %v", err)
	}
	return v
}
