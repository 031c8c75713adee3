// Package session coordinates live quiz events: admission, segment and
// phase transitions, answer arbitration, presenter handoff and recovery.
//
// Every event is owned by a single goroutine. Operations on an event are
// sent to that goroutine and applied one at a time, so concurrent callers
// observe a total order per event while separate events proceed in
// parallel.
package session

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/playperu/livequiz/internal/broadcast"
	"github.com/playperu/livequiz/internal/livequiz"
)

var ErrClosed = errors.New("session engine closed")

// Store is the durable record of events. Writes happen before the
// in-memory state changes; a failed write leaves the state untouched.
type Store interface {
	SaveEvent(ctx context.Context, ev livequiz.Event) error
	SaveSegment(ctx context.Context, seg livequiz.Segment) error
	SaveQuestion(ctx context.Context, q livequiz.Question) error
	SaveParticipant(ctx context.Context, p livequiz.Participant) error
	// InsertAnswer fails with livequiz.ErrAlreadyAnswered when the
	// participant already answered the question.
	InsertAnswer(ctx context.Context, a livequiz.Answer) error
	LoadEvent(ctx context.Context, eventID string) (livequiz.EventRecord, error)
	FindEventByCode(ctx context.Context, code string) (string, error)
	FindEventBySegment(ctx context.Context, segmentID string) (string, error)
	EventStatus(ctx context.Context, eventID string) (livequiz.EventStatus, error)
}

// DeviceLocks records which active event holds each device.
type DeviceLocks interface {
	// Acquire claims fingerprint for eventID if unclaimed and returns the
	// holder after the call.
	Acquire(ctx context.Context, fingerprint, eventID string) (string, error)
	// Release drops the claim if eventID holds it.
	Release(ctx context.Context, fingerprint, eventID string) error
}

type Options struct {
	// JoinGracePeriod admits new participants for a short while after
	// an event is locked.
	JoinGracePeriod time.Duration
	// ResumeCooldown is the minimum spacing between recovery actions on
	// one segment.
	ResumeCooldown time.Duration
}

type Engine struct {
	store  Store
	locks  DeviceLocks
	hub    *broadcast.Hub
	clock  clockwork.Clock
	logger *slog.Logger
	opts   Options
	reg    *registry
}

func New(store Store, locks DeviceLocks, hub *broadcast.Hub, clock clockwork.Clock, logger *slog.Logger, opts Options) *Engine {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if opts.ResumeCooldown <= 0 {
		opts.ResumeCooldown = 2 * time.Second
	}
	return &Engine{
		store:  store,
		locks:  locks,
		hub:    hub,
		clock:  clock,
		logger: logger,
		opts:   opts,
		reg:    newRegistry(),
	}
}

// Close stops every event goroutine and its timers. Calls made after
// Close return ErrClosed.
func (e *Engine) Close() {
	e.reg.mu.Lock()
	defer e.reg.mu.Unlock()
	if e.reg.closed {
		return
	}
	e.reg.closed = true
	for _, a := range e.reg.actors {
		close(a.quit)
	}
}

func (e *Engine) publish(st *eventState, segmentID string, kind broadcast.Kind, payload any) {
	e.hub.Publish(broadcast.Message{
		Type:      kind,
		EventID:   st.event.ID,
		SegmentID: segmentID,
		At:        e.clock.Now(),
		Payload:   payload,
	})
}
