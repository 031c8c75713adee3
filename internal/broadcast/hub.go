// Package broadcast fans session messages out to realtime subscribers.
package broadcast

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"
)

type Kind string

const (
	KindFullState             Kind = "full-state-resync"
	KindPhaseChange           Kind = "phase-change"
	KindQuestion              Kind = "question-payload"
	KindReveal                Kind = "reveal-payload"
	KindLeaderboard           Kind = "leaderboard-snapshot"
	KindPresenterChanged      Kind = "presenter-changed"
	KindPresenterDisconnected Kind = "presenter-disconnected"
	KindLockChanged           Kind = "lock-changed"
	KindRoster                Kind = "roster-update"
	KindAnswerProgress        Kind = "answer-progress"
	KindQuestionExpired       Kind = "question-expired"
	KindEventEnded            Kind = "event-ended"
)

// Message is one realtime update. Seq increases per event so clients can
// order messages and detect gaps.
type Message struct {
	Type      Kind      `json:"type"`
	EventID   string    `json:"eventId"`
	SegmentID string    `json:"segmentId,omitempty"`
	Seq       uint64    `json:"seq"`
	At        time.Time `json:"at"`
	Payload   any       `json:"payload,omitempty"`
}

// Relay forwards published messages to other processes.
type Relay interface {
	Relay(msg Message, data []byte) error
}

type Subscriber struct {
	EventID       string
	SegmentID     string
	ParticipantID string

	ch   chan []byte
	done chan struct{}
}

// Messages yields JSON-encoded messages. The first one is always the
// snapshot passed to Subscribe.
func (s *Subscriber) Messages() <-chan []byte { return s.ch }

// Done is closed when the subscriber is removed, either explicitly or
// because it fell too far behind.
func (s *Subscriber) Done() <-chan struct{} { return s.done }

func (s *Subscriber) wants(msg Message) bool {
	return msg.SegmentID == "" || s.SegmentID == "" || s.SegmentID == msg.SegmentID
}

// Hub is an in-process pub/sub keyed by event ID.
type Hub struct {
	mu     sync.Mutex
	subs   map[string]map[*Subscriber]struct{}
	seq    map[string]uint64
	buffer int
	relay  Relay
	logger *slog.Logger
}

type Option func(*Hub)

// WithBuffer sets how many undelivered messages a subscriber may queue
// before it is dropped.
func WithBuffer(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.buffer = n
		}
	}
}

func WithRelay(r Relay) Option {
	return func(h *Hub) { h.relay = r }
}

func NewHub(logger *slog.Logger, opts ...Option) *Hub {
	h := &Hub{
		subs:   make(map[string]map[*Subscriber]struct{}),
		seq:    make(map[string]uint64),
		buffer: 64,
		logger: logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Subscribe registers a subscriber and queues snapshot as its first
// message. Messages published after Subscribe returns are delivered after
// the snapshot.
func (h *Hub) Subscribe(eventID, segmentID, participantID string, snapshot Message) *Subscriber {
	s := &Subscriber{
		EventID:       eventID,
		SegmentID:     segmentID,
		ParticipantID: participantID,
		ch:            make(chan []byte, h.buffer),
		done:          make(chan struct{}),
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	snapshot.Type = KindFullState
	snapshot.EventID = eventID
	snapshot.Seq = h.seq[eventID]
	data, err := json.Marshal(snapshot)
	if err != nil {
		h.logger.Error("encoding snapshot", "event_id", eventID, "error", err)
		close(s.done)
		return s
	}
	s.ch <- data

	if h.subs[eventID] == nil {
		h.subs[eventID] = make(map[*Subscriber]struct{})
	}
	h.subs[eventID][s] = struct{}{}
	return s
}

func (h *Hub) Unsubscribe(s *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.remove(s)
}

// remove must be called with h.mu held.
func (h *Hub) remove(s *Subscriber) {
	subs, ok := h.subs[s.EventID]
	if !ok {
		return
	}
	if _, ok := subs[s]; !ok {
		return
	}
	delete(subs, s)
	close(s.done)
	if len(subs) == 0 {
		delete(h.subs, s.EventID)
	}
}

// Publish delivers msg to every matching subscriber of the event.
// Subscribers whose buffer is full are dropped rather than blocking the
// publisher; they recover with a fresh snapshot on reconnect.
func (h *Hub) Publish(msg Message) {
	h.mu.Lock()
	h.seq[msg.EventID]++
	msg.Seq = h.seq[msg.EventID]
	data, err := json.Marshal(msg)
	if err != nil {
		h.mu.Unlock()
		h.logger.Error("encoding message", "event_id", msg.EventID, "type", msg.Type, "error", err)
		return
	}

	var slow []*Subscriber
	for s := range h.subs[msg.EventID] {
		if !s.wants(msg) {
			continue
		}
		select {
		case s.ch <- data:
		default:
			slow = append(slow, s)
		}
	}
	for _, s := range slow {
		h.remove(s)
		h.logger.Warn("dropping slow subscriber",
			"event_id", s.EventID, "segment_id", s.SegmentID, "participant_id", s.ParticipantID)
	}
	h.mu.Unlock()

	if h.relay != nil {
		if err := h.relay.Relay(msg, data); err != nil {
			h.logger.Warn("relaying message", "event_id", msg.EventID, "type", msg.Type, "error", err)
		}
	}
}

// CloseEvent removes every subscriber of an event.
func (h *Hub) CloseEvent(eventID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs[eventID] {
		h.remove(s)
	}
	delete(h.seq, eventID)
}

func (h *Hub) Count(eventID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[eventID])
}
