package session

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/playperu/livequiz/internal/broadcast"
	"github.com/playperu/livequiz/internal/livequiz"
)

const (
	joinCodeLength   = 6
	joinCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	joinCodeAttempts = 16

	defaultTimeLimitSeconds = 30
)

func newJoinCode() (string, error) {
	buf := make([]byte, joinCodeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating join code: %w", err)
	}
	for i, b := range buf {
		buf[i] = joinCodeAlphabet[int(b)%len(joinCodeAlphabet)]
	}
	return string(buf), nil
}

// NormalizeCode uppercases and trims a join code as typed by a user.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// CreateEvent opens a new unlocked event owned by the calling host with a
// join code no other active event uses.
func (e *Engine) CreateEvent(ctx context.Context, caller livequiz.Caller, title string) (livequiz.Event, error) {
	if caller.UserID == "" {
		return livequiz.Event{}, livequiz.Forbidden("only hosts can create events")
	}

	ev := livequiz.Event{
		ID:        uuid.NewString(),
		OwnerID:   caller.UserID,
		Title:     strings.TrimSpace(title),
		Lock:      livequiz.Unlocked,
		Status:    livequiz.EventActive,
		CreatedAt: e.clock.Now(),
	}

	for attempt := 0; ; attempt++ {
		if attempt == joinCodeAttempts {
			return livequiz.Event{}, errors.New("could not allocate a unique join code")
		}
		code, err := newJoinCode()
		if err != nil {
			return livequiz.Event{}, err
		}
		_, err = e.eventIDByCode(ctx, code)
		if err == nil {
			continue
		}
		if !errors.Is(err, livequiz.ErrEventNotFound) {
			return livequiz.Event{}, err
		}
		ev.JoinCode = code

		err = e.store.SaveEvent(ctx, ev)
		if livequiz.KindOf(err) == livequiz.KindInvalidInput {
			continue
		}
		if err != nil {
			return livequiz.Event{}, err
		}
		break
	}

	e.reg.mu.Lock()
	if e.reg.closed {
		e.reg.mu.Unlock()
		return livequiz.Event{}, ErrClosed
	}
	e.startLocked(newEventState(livequiz.EventRecord{Event: ev}))
	e.reg.mu.Unlock()

	e.logger.Info("event created", "event_id", ev.ID, "join_code", ev.JoinCode, "owner_id", ev.OwnerID)
	return ev, nil
}

// EndEvent closes an event: running segments complete, every device lock
// the event holds is released and its join code is retired. The event
// then leaves memory and is reloaded from the store on later reads.
func (e *Engine) EndEvent(ctx context.Context, caller livequiz.Caller, eventID string) (livequiz.Event, error) {
	var out livequiz.Event
	err := e.exec(ctx, eventID, func(st *eventState) error {
		if !st.isHost(caller) {
			return livequiz.Forbidden("only the host can end the event")
		}
		if st.event.Status == livequiz.EventEnded {
			out = st.event
			return nil
		}

		now := e.clock.Now()
		for _, id := range st.segmentOrder {
			ss := st.segments[id]
			if ss.seg.Status.Terminal() || ss.fault != nil {
				continue
			}
			next := ss.seg
			next.Status = livequiz.SegmentCompleted
			next.Phase = livequiz.PhaseComplete
			if err := e.store.SaveSegment(ctx, next); err != nil {
				return err
			}
			ss.stopTimer()
			ss.seg = next
		}

		next := st.event
		next.Status = livequiz.EventEnded
		next.EndedAt = &now
		if err := e.store.SaveEvent(ctx, next); err != nil {
			return err
		}
		st.event = next
		out = next

		for _, p := range st.participants {
			if err := e.locks.Release(ctx, p.DeviceFingerprint, st.event.ID); err != nil {
				e.logger.Warn("releasing device lock", "event_id", st.event.ID, "participant_id", p.ID, "error", err)
			}
		}
		e.retireCode(st.event.JoinCode)

		e.publish(st, "", broadcast.KindEventEnded, st.eventView())
		e.hub.CloseEvent(st.event.ID)
		st.retired = true
		e.logger.Info("event ended", "event_id", st.event.ID, "participants", len(st.participants))
		return nil
	})
	return out, err
}

// SetLock locks or unlocks admission to an event. Setting the current
// state again is a no-op.
func (e *Engine) SetLock(ctx context.Context, caller livequiz.Caller, eventID string, locked bool) (livequiz.Event, error) {
	var out livequiz.Event
	err := e.exec(ctx, eventID, func(st *eventState) error {
		if !st.isHost(caller) {
			return livequiz.Forbidden("only the host can lock the event")
		}
		if st.event.Status == livequiz.EventEnded {
			return livequiz.InvalidTransition("event has ended")
		}
		if st.event.IsLocked() == locked {
			out = st.event
			return nil
		}

		next := st.event
		if locked {
			now := e.clock.Now()
			next.Lock = livequiz.Locked
			next.LockedAt = &now
		} else {
			next.Lock = livequiz.Unlocked
			next.LockedAt = nil
		}
		if err := e.store.SaveEvent(ctx, next); err != nil {
			return err
		}
		st.event = next
		out = next

		e.publish(st, "", broadcast.KindLockChanged, struct {
			Locked bool `json:"locked"`
		}{locked})
		e.logger.Info("event lock changed", "event_id", st.event.ID, "locked", locked)
		return nil
	})
	return out, err
}

func (e *Engine) Event(ctx context.Context, eventID string) (EventView, error) {
	var out EventView
	err := e.exec(ctx, eventID, func(st *eventState) error {
		out = st.eventView()
		return nil
	})
	return out, err
}

// EventByCode resolves an active event from its join code.
func (e *Engine) EventByCode(ctx context.Context, code string) (EventView, error) {
	id, err := e.eventIDByCode(ctx, NormalizeCode(code))
	if err != nil {
		return EventView{}, err
	}
	return e.Event(ctx, id)
}

// Snapshot returns the same state a new realtime subscriber would receive.
func (e *Engine) Snapshot(ctx context.Context, eventID, segmentID, participantID string) (Snapshot, error) {
	var out Snapshot
	err := e.exec(ctx, eventID, func(st *eventState) error {
		if segmentID != "" {
			if _, ok := st.segments[segmentID]; !ok {
				return livequiz.NotFound("segment")
			}
		}
		out = st.snapshot(segmentID, participantID, e.clock.Now())
		return nil
	})
	return out, err
}

// CreateSegment adds a pending segment to an event. presenterID may be
// empty and assigned later.
func (e *Engine) CreateSegment(ctx context.Context, caller livequiz.Caller, eventID, title, presenterID string) (livequiz.Segment, error) {
	var out livequiz.Segment
	err := e.exec(ctx, eventID, func(st *eventState) error {
		if !st.isHost(caller) {
			return livequiz.Forbidden("only the host can add segments")
		}
		if st.event.Status == livequiz.EventEnded {
			return livequiz.InvalidTransition("event has ended")
		}
		if presenterID != "" {
			if _, ok := st.participants[presenterID]; !ok {
				return livequiz.NotFound("participant")
			}
		}

		seg := livequiz.Segment{
			ID:          uuid.NewString(),
			EventID:     st.event.ID,
			Title:       strings.TrimSpace(title),
			PresenterID: presenterID,
			Status:      livequiz.SegmentPending,
			Phase:       livequiz.PhaseNotStarted,
			CreatedAt:   e.clock.Now(),
		}
		if err := e.store.SaveSegment(ctx, seg); err != nil {
			return err
		}
		ss := st.addSegment(seg)
		e.indexSegment(seg.ID, st.event.ID)
		out = seg

		e.publish(st, seg.ID, broadcast.KindPhaseChange, ss.view())
		return nil
	})
	return out, err
}

type QuestionInput struct {
	Text             string
	CorrectAnswer    string
	WrongAnswers     []string
	TimeLimitSeconds int
	QualityScore     float64
}

func (in QuestionInput) normalize() (QuestionInput, error) {
	in.Text = strings.TrimSpace(in.Text)
	in.CorrectAnswer = strings.TrimSpace(in.CorrectAnswer)
	if in.Text == "" {
		return in, livequiz.InvalidInput("question text is required")
	}
	if in.CorrectAnswer == "" {
		return in, livequiz.InvalidInput("correct answer is required")
	}
	if in.TimeLimitSeconds < 0 {
		return in, livequiz.InvalidInput("time limit must be positive")
	}
	if in.TimeLimitSeconds == 0 {
		in.TimeLimitSeconds = defaultTimeLimitSeconds
	}

	seen := map[string]bool{in.CorrectAnswer: true}
	wrong := make([]string, 0, len(in.WrongAnswers))
	for _, w := range in.WrongAnswers {
		w = strings.TrimSpace(w)
		if w == "" || seen[w] {
			continue
		}
		seen[w] = true
		wrong = append(wrong, w)
	}
	in.WrongAnswers = wrong
	return in, nil
}

// AddQuestion appends a question to a segment that has not completed.
func (e *Engine) AddQuestion(ctx context.Context, caller livequiz.Caller, segmentID string, in QuestionInput) (livequiz.Question, error) {
	in, err := in.normalize()
	if err != nil {
		return livequiz.Question{}, err
	}

	var out livequiz.Question
	err = e.mutateSegment(ctx, segmentID, func(st *eventState, ss *segmentState) error {
		if !st.canDrive(caller, ss) {
			return livequiz.Forbidden("only the host or presenter can add questions")
		}
		if ss.seg.Status.Terminal() {
			return livequiz.InvalidTransition("segment is completed")
		}

		q := livequiz.Question{
			ID:               uuid.NewString(),
			SegmentID:        ss.seg.ID,
			Position:         len(ss.questions),
			Text:             in.Text,
			CorrectAnswer:    in.CorrectAnswer,
			WrongAnswers:     in.WrongAnswers,
			TimeLimitSeconds: in.TimeLimitSeconds,
			QualityScore:     in.QualityScore,
			CreatedAt:        e.clock.Now(),
		}
		if err := e.store.SaveQuestion(ctx, q); err != nil {
			return err
		}
		ss.questions = append(ss.questions, q)
		st.questionSegment[q.ID] = ss.seg.ID
		out = q
		return nil
	})
	return out, err
}
