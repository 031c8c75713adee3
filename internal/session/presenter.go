package session

import (
	"context"
	"sort"

	"github.com/playperu/livequiz/internal/broadcast"
	"github.com/playperu/livequiz/internal/livequiz"
)

const (
	reasonAssigned  = "assigned"
	reasonPassed    = "passed"
	reasonEmergency = "emergency"
)

// AssignPresenter lets the host make any participant of the event the
// presenter, connected or not.
func (e *Engine) AssignPresenter(ctx context.Context, caller livequiz.Caller, segmentID, participantID string) (SegmentView, error) {
	var out SegmentView
	err := e.mutateSegment(ctx, segmentID, func(st *eventState, ss *segmentState) error {
		if !st.isHost(caller) {
			return livequiz.Forbidden("only the host can assign the presenter")
		}
		if _, ok := st.participants[participantID]; !ok {
			return livequiz.NotFound("participant")
		}
		if err := e.setPresenter(ctx, st, ss, participantID, reasonAssigned); err != nil {
			return err
		}
		out = ss.view()
		return nil
	})
	return out, err
}

// PassPresenter hands the presenter role from the current presenter to
// another participant, who must be connected.
func (e *Engine) PassPresenter(ctx context.Context, caller livequiz.Caller, segmentID, targetID string) (SegmentView, error) {
	var out SegmentView
	err := e.mutateSegment(ctx, segmentID, func(st *eventState, ss *segmentState) error {
		if caller.ParticipantID == "" || caller.ParticipantID != ss.seg.PresenterID {
			return livequiz.Forbidden("only the current presenter can pass the role")
		}
		if _, ok := st.participants[targetID]; !ok {
			return livequiz.NotFound("participant")
		}
		if targetID == ss.seg.PresenterID {
			return livequiz.InvalidInput("participant is already the presenter")
		}
		if !st.connected(targetID) {
			return livequiz.ErrTargetOffline
		}
		if err := e.setPresenter(ctx, st, ss, targetID, reasonPassed); err != nil {
			return err
		}
		out = ss.view()
		return nil
	})
	return out, err
}

// EmergencyReassign lets the host replace a presenter who dropped off
// while the segment was running. The candidate must be connected.
func (e *Engine) EmergencyReassign(ctx context.Context, caller livequiz.Caller, segmentID, candidateID string) (SegmentView, error) {
	var out SegmentView
	err := e.mutateSegment(ctx, segmentID, func(st *eventState, ss *segmentState) error {
		if !st.isHost(caller) {
			return livequiz.Forbidden("only the host can reassign the presenter")
		}
		if !ss.seg.Status.Active() {
			return livequiz.InvalidTransition("segment is %s, not running", ss.seg.Status)
		}
		if ss.seg.PresenterID != "" && st.connected(ss.seg.PresenterID) {
			return livequiz.InvalidTransition("presenter is still connected")
		}
		if _, ok := st.participants[candidateID]; !ok {
			return livequiz.NotFound("participant")
		}
		if !st.connected(candidateID) {
			return livequiz.ErrTargetOffline
		}
		if err := e.setPresenter(ctx, st, ss, candidateID, reasonEmergency); err != nil {
			return err
		}
		out = ss.view()
		return nil
	})
	return out, err
}

// EmergencyCandidates lists connected participants who could take over
// the segment, ordered by display name.
func (e *Engine) EmergencyCandidates(ctx context.Context, caller livequiz.Caller, segmentID string) ([]ParticipantView, error) {
	var out []ParticipantView
	err := e.viewSegment(ctx, segmentID, func(st *eventState, ss *segmentState) error {
		if !st.isHost(caller) {
			return livequiz.Forbidden("only the host can list candidates")
		}
		out = st.candidates(ss)
		return nil
	})
	return out, err
}

func (st *eventState) candidates(ss *segmentState) []ParticipantView {
	out := []ParticipantView{}
	for _, id := range st.joinOrder {
		if id == ss.seg.PresenterID || !st.connected(id) {
			continue
		}
		out = append(out, st.participantView(st.participants[id]))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].DisplayName < out[j].DisplayName })
	return out
}

func (e *Engine) setPresenter(ctx context.Context, st *eventState, ss *segmentState, participantID, reason string) error {
	previous := ss.seg.PresenterID
	if previous == participantID {
		return nil
	}
	next := ss.seg
	next.PresenterID = participantID
	if err := e.store.SaveSegment(ctx, next); err != nil {
		return err
	}
	ss.seg = next

	// Sent event-wide: the new presenter may be watching another segment.
	e.publish(st, "", broadcast.KindPresenterChanged, PresenterChange{
		SegmentID:           ss.seg.ID,
		PresenterID:         participantID,
		PreviousPresenterID: previous,
		Reason:              reason,
		SwitchView:          true,
	})

	e.logger.Info("presenter changed", "event_id", st.event.ID, "segment_id", ss.seg.ID,
		"presenter_id", participantID, "previous_presenter_id", previous, "reason", reason)
	return nil
}
