package session

import (
	"context"
	"errors"

	"github.com/playperu/livequiz/internal/broadcast"
	"github.com/playperu/livequiz/internal/livequiz"
)

// armDeadline schedules the close of the open question. The timer only
// announces expiry; answers are judged against the stored deadline.
func (e *Engine) armDeadline(st *eventState, ss *segmentState) {
	ss.stopTimer()
	q, ok := ss.current()
	if !ok || ss.seg.Deadline == nil || ss.seg.QuestionExpired {
		return
	}
	eventID, segmentID, questionID := st.event.ID, ss.seg.ID, q.ID
	ss.timer = e.clock.AfterFunc(e.clock.Until(*ss.seg.Deadline), func() {
		e.expire(eventID, segmentID, questionID)
	})
}

func (e *Engine) expire(eventID, segmentID, questionID string) {
	err := e.execResident(context.Background(), eventID, func(st *eventState) error {
		ss, ok := st.segments[segmentID]
		if !ok || ss.fault != nil || ss.seg.QuestionExpired || !ss.accepting(questionID) {
			return nil
		}
		e.closeQuestion(context.Background(), st, ss)
		return nil
	})
	if err != nil && !errors.Is(err, ErrClosed) && !errors.Is(err, errNotResident) {
		e.logger.Error("expiring question", "event_id", eventID, "segment_id", segmentID, "error", err)
	}
}

func (e *Engine) closeQuestion(ctx context.Context, st *eventState, ss *segmentState) {
	next := ss.seg
	next.QuestionExpired = true
	if err := e.store.SaveSegment(ctx, next); err != nil {
		e.logger.Warn("persisting question expiry", "segment_id", ss.seg.ID, "error", err)
	}
	ss.seg = next
	ss.timer = nil

	q, _ := ss.current()
	e.publish(st, ss.seg.ID, broadcast.KindQuestionExpired, QuestionExpired{QuestionID: q.ID})
	e.logger.Info("question expired", "event_id", st.event.ID, "segment_id", ss.seg.ID, "question_id", q.ID)
}

// rearmDeadlines restores question timers for an event loaded from the
// store. Questions whose deadline passed while unloaded close at once.
func (e *Engine) rearmDeadlines(st *eventState) {
	now := e.clock.Now()
	for _, id := range st.segmentOrder {
		ss := st.segments[id]
		if ss.seg.Status != livequiz.SegmentQuizzing || ss.seg.Phase != livequiz.PhaseShowingQuestion {
			continue
		}
		if ss.seg.Deadline == nil || ss.seg.QuestionExpired {
			continue
		}
		if ss.seg.Deadline.After(now) {
			e.armDeadline(st, ss)
			continue
		}
		e.closeQuestion(context.Background(), st, ss)
	}
}
