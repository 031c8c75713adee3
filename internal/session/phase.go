package session

import (
	"context"
	"time"

	"github.com/playperu/livequiz/internal/broadcast"
	"github.com/playperu/livequiz/internal/livequiz"
)

// Apply performs one status or phase action on a segment. Only the host
// or the segment's presenter may drive it.
func (e *Engine) Apply(ctx context.Context, caller livequiz.Caller, segmentID string, action Action) (SegmentView, error) {
	var out SegmentView
	err := e.mutateSegment(ctx, segmentID, func(st *eventState, ss *segmentState) error {
		if !st.canDrive(caller, ss) {
			return livequiz.Forbidden("only the host or presenter can change the segment")
		}
		if err := e.apply(ctx, st, ss, action); err != nil {
			return err
		}
		out = ss.view()
		return nil
	})
	return out, err
}

type SegmentPatch struct {
	Status *livequiz.SegmentStatus
	// ClearPreviousStatus discards a pending resume, the same as
	// ClearResume.
	ClearPreviousStatus bool
}

// PatchSegment moves a segment to a target status through the same
// transition table Apply uses. Patching to completed from any other
// status records the previous status for resume.
func (e *Engine) PatchSegment(ctx context.Context, caller livequiz.Caller, segmentID string, patch SegmentPatch) (SegmentView, error) {
	if patch.Status == nil && patch.ClearPreviousStatus {
		return e.ClearResume(ctx, caller, segmentID)
	}
	if patch.Status == nil {
		return SegmentView{}, livequiz.InvalidInput("nothing to change")
	}

	var out SegmentView
	err := e.mutateSegment(ctx, segmentID, func(st *eventState, ss *segmentState) error {
		if !st.canDrive(caller, ss) {
			return livequiz.Forbidden("only the host or presenter can change the segment")
		}
		if *patch.Status == ss.seg.Status {
			out = ss.view()
			return nil
		}
		action, err := actionForStatus(ss.seg.Status, *patch.Status)
		if err != nil {
			return err
		}
		if err := e.apply(ctx, st, ss, action); err != nil {
			return err
		}
		out = ss.view()
		return nil
	})
	return out, err
}

// apply runs on the event goroutine. The new segment is persisted before
// it replaces ss.seg; side effects follow.
func (e *Engine) apply(ctx context.Context, st *eventState, ss *segmentState, action Action) error {
	status, phase, err := nextState(ss.seg, action, ss.isLast())
	if err != nil {
		return err
	}
	now := e.clock.Now()

	next := ss.seg
	next.Status = status
	next.Phase = phase

	switch action {
	case ActionStartQuiz:
		if len(ss.questions) == 0 {
			return livequiz.InvalidTransition("segment has no questions")
		}
		next.QuestionIndex = 0
		openQuestion(&next, ss.questions[0], now)
	case ActionNextQuestion:
		next.QuestionIndex++
		openQuestion(&next, ss.questions[next.QuestionIndex], now)
	case ActionReveal:
		next.QuestionExpired = true
	case ActionEndSegment:
		next.PreviousStatus = ss.seg.Status
		next.PreviousPhase = ss.seg.Phase
		next.PreviousRemaining = 0
		if ss.seg.Phase == livequiz.PhaseShowingQuestion && ss.seg.Deadline != nil && !ss.seg.QuestionExpired {
			next.PreviousRemaining = max(ss.seg.Deadline.Sub(now), 0)
		}
	}

	if err := e.store.SaveSegment(ctx, next); err != nil {
		return err
	}
	prev := ss.seg
	ss.seg = next

	switch action {
	case ActionStartQuiz, ActionNextQuestion:
		e.armDeadline(st, ss)
	case ActionReveal, ActionEndQuiz, ActionEndSegment:
		ss.stopTimer()
	}

	e.publish(st, ss.seg.ID, broadcast.KindPhaseChange, ss.view())
	switch action {
	case ActionStartQuiz, ActionNextQuestion:
		if qv, ok := ss.questionView(); ok {
			e.publish(st, ss.seg.ID, broadcast.KindQuestion, qv)
		}
	case ActionReveal:
		if rv, ok := st.revealView(ss); ok {
			e.publish(st, ss.seg.ID, broadcast.KindReveal, rv)
		}
	case ActionShowLeaderboard, ActionEndQuiz:
		e.publish(st, ss.seg.ID, broadcast.KindLeaderboard, st.segmentLeaderboard(ss.seg.ID))
	}

	e.logger.Info("segment transition",
		"event_id", st.event.ID, "segment_id", ss.seg.ID, "action", string(action),
		"from_status", string(prev.Status), "to_status", string(next.Status),
		"from_phase", string(prev.Phase), "to_phase", string(next.Phase))
	return nil
}

func openQuestion(seg *livequiz.Segment, q livequiz.Question, now time.Time) {
	deadline := now.Add(q.TimeLimit())
	seg.QuestionStartedAt = &now
	seg.Deadline = &deadline
	seg.QuestionExpired = false
}
