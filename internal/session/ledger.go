package session

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/playperu/livequiz/internal/broadcast"
	"github.com/playperu/livequiz/internal/livequiz"
)

type SubmitAnswer struct {
	EventID       string
	ParticipantID string
	QuestionID    string
	Answer        string
	// SubmittedAt defaults to the engine clock.
	SubmittedAt time.Time
}

// AnswerReceipt confirms a recorded answer. Correctness stays hidden
// until the reveal.
type AnswerReceipt struct {
	QuestionID     string `json:"questionId"`
	ResponseTimeMS int64  `json:"responseTimeMs"`
}

// SubmitAnswer records a participant's first answer to the open question.
// A repeat submission fails with ErrAlreadyAnswered and changes nothing;
// an answer at or after the deadline fails with ErrTimeExpired.
func (e *Engine) SubmitAnswer(ctx context.Context, req SubmitAnswer) (AnswerReceipt, error) {
	req.Answer = strings.TrimSpace(req.Answer)
	if req.Answer == "" {
		return AnswerReceipt{}, livequiz.InvalidInput("answer is required")
	}
	if req.SubmittedAt.IsZero() {
		req.SubmittedAt = e.clock.Now()
	}

	var out AnswerReceipt
	err := e.exec(ctx, req.EventID, func(st *eventState) error {
		if _, ok := st.participants[req.ParticipantID]; !ok {
			return livequiz.NotFound("participant")
		}
		segmentID, ok := st.questionSegment[req.QuestionID]
		if !ok {
			return livequiz.NotFound("question")
		}
		ss := st.segments[segmentID]
		if ss.fault != nil {
			return livequiz.Faulted(ss.fault)
		}

		if _, done := st.answered(req.QuestionID, req.ParticipantID); done {
			return livequiz.ErrAlreadyAnswered
		}
		q, ok := ss.current()
		isCurrent := ok && q.ID == req.QuestionID && ss.seg.Status == livequiz.SegmentQuizzing
		if isCurrent && ss.seg.Deadline != nil && !req.SubmittedAt.Before(*ss.seg.Deadline) {
			return livequiz.ErrTimeExpired
		}
		if !ss.accepting(req.QuestionID) {
			return livequiz.ErrQuestionClosed
		}
		if ss.seg.QuestionExpired {
			return livequiz.ErrTimeExpired
		}
		if ss.seg.Deadline == nil || ss.seg.QuestionStartedAt == nil {
			ss.fault = errors.New("open question without a deadline")
			return livequiz.Faulted(ss.fault)
		}

		rt := clampDuration(req.SubmittedAt.Sub(*ss.seg.QuestionStartedAt), 0, q.TimeLimit())
		correct := req.Answer == q.CorrectAnswer
		a := livequiz.Answer{
			ParticipantID:  req.ParticipantID,
			QuestionID:     q.ID,
			SegmentID:      ss.seg.ID,
			EventID:        st.event.ID,
			ChosenAnswer:   req.Answer,
			ResponseTimeMS: rt.Milliseconds(),
			IsCorrect:      correct,
			PointsAwarded:  Points(correct, rt, q.TimeLimit()),
			SubmittedAt:    req.SubmittedAt,
		}
		if err := e.store.InsertAnswer(ctx, a); err != nil {
			if !errors.Is(err, livequiz.ErrAlreadyAnswered) {
				e.logger.Error("recording answer", "event_id", st.event.ID, "question_id", q.ID, "error", err)
			}
			return err
		}
		st.recordAnswer(a)
		out = AnswerReceipt{QuestionID: q.ID, ResponseTimeMS: a.ResponseTimeMS}

		if p, ok := st.progress(ss); ok {
			e.publish(st, ss.seg.ID, broadcast.KindAnswerProgress, p)
		}
		return nil
	})
	return out, err
}

// Leaderboard ranks every participant of the event by points earned in
// one segment.
func (e *Engine) Leaderboard(ctx context.Context, segmentID string) ([]Standing, error) {
	var out []Standing
	err := e.viewSegment(ctx, segmentID, func(st *eventState, ss *segmentState) error {
		out = st.segmentLeaderboard(ss.seg.ID)
		return nil
	})
	return out, err
}

// EventLeaderboard ranks participants by points across all segments.
func (e *Engine) EventLeaderboard(ctx context.Context, eventID string) ([]Standing, error) {
	var out []Standing
	err := e.exec(ctx, eventID, func(st *eventState) error {
		out = st.eventLeaderboard()
		return nil
	})
	return out, err
}

// Distribution counts answers per option for a question. Before the
// answer is revealed only the host or presenter may see it.
func (e *Engine) Distribution(ctx context.Context, caller livequiz.Caller, segmentID, questionID string) ([]OptionCount, error) {
	var out []OptionCount
	err := e.viewSegment(ctx, segmentID, func(st *eventState, ss *segmentState) error {
		idx := -1
		for i, q := range ss.questions {
			if q.ID == questionID {
				idx = i
				break
			}
		}
		if idx < 0 {
			return livequiz.NotFound("question")
		}
		if !st.canDrive(caller, ss) && !revealed(ss, idx) {
			return livequiz.Forbidden("answers are not revealed yet")
		}
		q := ss.questions[idx]
		out = Distribute(q, st.answersFor(func(a livequiz.Answer) bool { return a.QuestionID == q.ID }))
		return nil
	})
	return out, err
}

// revealed reports whether the question at idx has had its answer shown.
func revealed(ss *segmentState, idx int) bool {
	if idx < ss.seg.QuestionIndex {
		return true
	}
	if idx > ss.seg.QuestionIndex {
		return false
	}
	phase := ss.seg.Phase
	if ss.seg.Status == livequiz.SegmentCompleted && ss.seg.PreviousPhase != "" {
		phase = ss.seg.PreviousPhase
	}
	switch phase {
	case livequiz.PhaseRevealingAnswer, livequiz.PhaseShowingLeaderboard, livequiz.PhaseComplete:
		return true
	}
	return false
}
