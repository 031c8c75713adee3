package session

import (
	"context"
	"fmt"
	"time"

	"github.com/playperu/livequiz/internal/broadcast"
	"github.com/playperu/livequiz/internal/livequiz"
)

const noParticipantsWarning = "No participants are connected"

type ResumeResult struct {
	Segment SegmentView `json:"segment"`
	Warning string      `json:"warning,omitempty"`
}

// Resume reverts an accidentally completed segment to the status it had
// before, restoring the quiz position and the time left on an open
// question. Recovery actions on one segment are spaced at least
// ResumeCooldown apart; early calls are rejected without effect.
func (e *Engine) Resume(ctx context.Context, caller livequiz.Caller, segmentID string) (ResumeResult, error) {
	var out ResumeResult
	err := e.mutateSegment(ctx, segmentID, func(st *eventState, ss *segmentState) error {
		if !st.canDrive(caller, ss) {
			return livequiz.Forbidden("only the host or presenter can resume the segment")
		}
		now := e.clock.Now()
		if err := e.debounce(ss, now); err != nil {
			return err
		}
		if !ss.seg.Recoverable() {
			return livequiz.InvalidTransition("segment has no previous status to resume")
		}

		prev := ss.seg.PreviousStatus
		if !prev.Valid() || prev.Terminal() {
			return livequiz.Faulted(fmt.Errorf("cannot resume to status %q", prev))
		}

		next := ss.seg
		next.Status = prev
		next.PreviousStatus = ""
		next.Phase = livequiz.PhaseNotStarted
		if prev == livequiz.SegmentQuizzing {
			next.Phase = ss.seg.PreviousPhase
			if !next.Phase.Valid() || next.Phase == livequiz.PhaseComplete || next.Phase == livequiz.PhaseNotStarted {
				return livequiz.Faulted(fmt.Errorf("cannot resume quiz to phase %q", next.Phase))
			}
		}
		if next.Phase == livequiz.PhaseShowingQuestion {
			q, ok := ss.current()
			if !ok {
				return livequiz.Faulted(fmt.Errorf("question index %d out of range", ss.seg.QuestionIndex))
			}
			remaining := ss.seg.PreviousRemaining
			deadline := now.Add(remaining)
			started := deadline.Add(-q.TimeLimit())
			next.Deadline = &deadline
			next.QuestionStartedAt = &started
			next.QuestionExpired = remaining <= 0
		}
		next.PreviousPhase = ""
		next.PreviousRemaining = 0

		if err := e.store.SaveSegment(ctx, next); err != nil {
			return err
		}
		ss.seg = next
		ss.lastRecovery = now

		if next.Phase == livequiz.PhaseShowingQuestion {
			e.armDeadline(st, ss)
		}
		e.publish(st, ss.seg.ID, broadcast.KindPhaseChange, ss.view())
		if next.Phase == livequiz.PhaseShowingQuestion {
			if qv, ok := ss.questionView(); ok {
				e.publish(st, ss.seg.ID, broadcast.KindQuestion, qv)
			}
		}

		out = ResumeResult{Segment: ss.view()}
		if st.connectedCount() == 0 {
			out.Warning = noParticipantsWarning
		}
		e.logger.Info("segment resumed", "event_id", st.event.ID, "segment_id", ss.seg.ID,
			"status", string(next.Status), "phase", string(next.Phase))
		return nil
	})
	return out, err
}

// ClearResume discards the previous status of a completed segment so it
// stays completed. It shares Resume's cooldown.
func (e *Engine) ClearResume(ctx context.Context, caller livequiz.Caller, segmentID string) (SegmentView, error) {
	var out SegmentView
	err := e.mutateSegment(ctx, segmentID, func(st *eventState, ss *segmentState) error {
		if !st.canDrive(caller, ss) {
			return livequiz.Forbidden("only the host or presenter can clear the segment")
		}
		now := e.clock.Now()
		if err := e.debounce(ss, now); err != nil {
			return err
		}
		if !ss.seg.Recoverable() {
			return livequiz.InvalidTransition("segment has no previous status to clear")
		}

		next := ss.seg
		next.PreviousStatus = ""
		next.PreviousPhase = ""
		next.PreviousRemaining = 0
		if err := e.store.SaveSegment(ctx, next); err != nil {
			return err
		}
		ss.seg = next
		ss.lastRecovery = now

		e.publish(st, ss.seg.ID, broadcast.KindPhaseChange, ss.view())
		out = ss.view()
		e.logger.Info("segment resume cleared", "event_id", st.event.ID, "segment_id", ss.seg.ID)
		return nil
	})
	return out, err
}

// debounce rejects a recovery action that follows the previous successful
// one too closely. Rejections do not restart the cooldown.
func (e *Engine) debounce(ss *segmentState, now time.Time) error {
	if ss.lastRecovery.IsZero() {
		return nil
	}
	if wait := e.opts.ResumeCooldown - now.Sub(ss.lastRecovery); wait > 0 {
		return livequiz.Debounced(wait)
	}
	return nil
}
