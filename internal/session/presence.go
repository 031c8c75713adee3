package session

import (
	"context"
	"errors"

	"github.com/playperu/livequiz/internal/broadcast"
	"github.com/playperu/livequiz/internal/livequiz"
)

type ConnectRequest struct {
	Caller    livequiz.Caller
	EventID   string
	SegmentID string
}

// Connect subscribes a host or participant to an event's realtime feed,
// optionally narrowed to one segment. The first message is a full
// snapshot; later messages follow in the order they were published.
// Participant connections count towards presence.
func (e *Engine) Connect(ctx context.Context, req ConnectRequest) (*broadcast.Subscriber, error) {
	var sub *broadcast.Subscriber
	err := e.exec(ctx, req.EventID, func(st *eventState) error {
		pid := req.Caller.ParticipantID
		switch {
		case pid != "":
			if _, ok := st.participants[pid]; !ok {
				return livequiz.Forbidden("not a participant of this event")
			}
		case !st.isHost(req.Caller):
			return livequiz.Forbidden("not allowed to watch this event")
		}
		if req.SegmentID != "" {
			if _, ok := st.segments[req.SegmentID]; !ok {
				return livequiz.NotFound("segment")
			}
		}

		if pid != "" {
			st.conns[pid]++
			if st.conns[pid] == 1 {
				e.setConnection(ctx, st, pid, livequiz.Connected)
			}
		}

		sub = e.hub.Subscribe(st.event.ID, req.SegmentID, pid, broadcast.Message{
			SegmentID: req.SegmentID,
			At:        e.clock.Now(),
			Payload:   st.snapshot(req.SegmentID, pid, e.clock.Now()),
		})
		return nil
	})
	return sub, err
}

// Disconnect removes a subscriber. When a participant's last connection
// closes they are marked disconnected, and if they present a running
// segment the host is told who could take over.
func (e *Engine) Disconnect(ctx context.Context, sub *broadcast.Subscriber) {
	e.hub.Unsubscribe(sub)
	pid := sub.ParticipantID
	if pid == "" {
		return
	}

	// An evicted event has no live connections to count down.
	err := e.execResident(ctx, sub.EventID, func(st *eventState) error {
		if st.conns[pid] <= 0 {
			return nil
		}
		st.conns[pid]--
		if st.conns[pid] > 0 {
			return nil
		}
		delete(st.conns, pid)
		e.setConnection(ctx, st, pid, livequiz.Disconnected)

		for _, id := range st.segmentOrder {
			ss := st.segments[id]
			if ss.seg.PresenterID != pid || !ss.seg.Status.Active() {
				continue
			}
			e.publish(st, ss.seg.ID, broadcast.KindPresenterDisconnected, PresenterDisconnected{
				SegmentID:   ss.seg.ID,
				PresenterID: pid,
				Candidates:  st.candidates(ss),
			})
			e.logger.Warn("presenter disconnected", "event_id", st.event.ID, "segment_id", ss.seg.ID, "participant_id", pid)
		}
		return nil
	})
	if err != nil && !errors.Is(err, errNotResident) {
		e.logger.Warn("recording disconnect", "event_id", sub.EventID, "participant_id", pid, "error", err)
	}
}

// setConnection records a presence change. Presence is best effort: a
// failed write is logged and the in-memory state still changes.
func (e *Engine) setConnection(ctx context.Context, st *eventState, participantID string, state livequiz.ConnectionState) {
	p := st.participants[participantID]
	next := *p
	next.Connection = state
	if err := e.store.SaveParticipant(ctx, next); err != nil {
		e.logger.Warn("persisting presence", "participant_id", participantID, "error", err)
	}
	*p = next
	e.publish(st, "", broadcast.KindRoster, st.roster())
}
