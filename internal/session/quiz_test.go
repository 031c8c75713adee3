package session

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/playperu/livequiz/internal/livequiz"
)

func TestQuizFlowBroadcasts(t *testing.T) {
	h := newHarness(t, Options{})
	ev := h.createEvent()
	alice := h.join(ev, "Alice", "a")
	bob := h.join(ev, "Bob", "b")
	seg := h.quizSegment(ev, "", 2, 20*time.Second)

	sub := h.connect(ev, seg.ID, livequiz.Caller{ParticipantID: alice.ID})
	first := next(t, sub)
	if first.Type != "full-state-resync" {
		t.Fatalf("first message = %s, want full-state-resync", first.Type)
	}
	snap := decode[Snapshot](t, first.Payload)
	if snap.Segment == nil || snap.Segment.Status != livequiz.SegmentQuizReady {
		t.Fatalf("snapshot segment = %+v", snap.Segment)
	}
	if snap.You == nil || snap.You.ID != alice.ID || !snap.You.Connected {
		t.Errorf("snapshot you = %+v", snap.You)
	}

	h.apply(seg.ID, ActionStartQuiz)
	if m := next(t, sub); m.Type != "phase-change" {
		t.Fatalf("got %s, want phase-change", m.Type)
	}
	qm := next(t, sub)
	if qm.Type != "question-payload" {
		t.Fatalf("got %s, want question-payload", qm.Type)
	}
	q := decode[map[string]any](t, qm.Payload)
	if _, leaked := q["correctAnswer"]; leaked {
		t.Fatal("question payload leaks the correct answer")
	}
	q1 := h.currentQuestion(seg.ID)

	h.clock.Advance(4 * time.Second)
	if _, err := h.engine.SubmitAnswer(h.ctx, SubmitAnswer{EventID: ev.ID, ParticipantID: alice.ID, QuestionID: q1.ID, Answer: "right"}); err != nil {
		t.Fatalf("alice answer: %v", err)
	}
	progress := decode[AnswerProgress](t, waitFor(t, sub, "answer-progress").Payload)
	if progress.Answered != 1 {
		t.Errorf("progress = %+v", progress)
	}
	if _, err := h.engine.SubmitAnswer(h.ctx, SubmitAnswer{EventID: ev.ID, ParticipantID: bob.ID, QuestionID: q1.ID, Answer: "wrong"}); err != nil {
		t.Fatalf("bob answer: %v", err)
	}

	h.apply(seg.ID, ActionReveal)
	reveal := decode[RevealView](t, waitFor(t, sub, "reveal-payload").Payload)
	if reveal.CorrectAnswer != "right" {
		t.Errorf("reveal = %+v", reveal)
	}
	counts := map[string]int{}
	for _, o := range reveal.Distribution {
		counts[o.Answer] = o.Count
	}
	if counts["right"] != 1 || counts["wrong"] != 1 || counts["also wrong"] != 0 {
		t.Errorf("distribution = %+v", reveal.Distribution)
	}

	h.apply(seg.ID, ActionShowLeaderboard)
	board := decode[[]Standing](t, waitFor(t, sub, "leaderboard-snapshot").Payload)
	if len(board) != 2 || board[0].ParticipantID != alice.ID || board[0].Score != 900 || board[1].Score != 0 {
		t.Errorf("leaderboard = %+v", board)
	}

	h.apply(seg.ID, ActionNextQuestion)
	waitFor(t, sub, "question-payload")
	h.apply(seg.ID, ActionReveal)
	h.apply(seg.ID, ActionShowLeaderboard)
	final := h.apply(seg.ID, ActionEndQuiz)
	if final.Status != livequiz.SegmentCompleted || final.Phase != livequiz.PhaseComplete {
		t.Errorf("after end-quiz = %s/%s", final.Status, final.Phase)
	}
	if final.PreviousStatus != nil {
		t.Errorf("end-quiz set previous status %v", *final.PreviousStatus)
	}
}

func TestPhaseTransitionsRejected(t *testing.T) {
	h := newHarness(t, Options{})
	ev := h.createEvent()
	seg := h.quizSegment(ev, "", 2, 20*time.Second)

	if _, err := h.engine.Apply(h.ctx, host, seg.ID, ActionReveal); !errors.Is(err, livequiz.ErrInvalidTransition) {
		t.Fatalf("reveal before quiz err = %v", err)
	}
	h.apply(seg.ID, ActionStartQuiz)

	for _, a := range []Action{ActionShowLeaderboard, ActionNextQuestion, ActionEndQuiz, ActionStartQuiz} {
		if _, err := h.engine.Apply(h.ctx, host, seg.ID, a); !errors.Is(err, livequiz.ErrInvalidTransition) {
			t.Errorf("%s from showing_question err = %v, want invalid transition", a, err)
		}
	}

	h.apply(seg.ID, ActionReveal)
	h.apply(seg.ID, ActionShowLeaderboard)
	if _, err := h.engine.Apply(h.ctx, host, seg.ID, ActionEndQuiz); !errors.Is(err, livequiz.ErrInvalidTransition) {
		t.Errorf("end-quiz with questions left err = %v", err)
	}
	h.apply(seg.ID, ActionNextQuestion)
	h.apply(seg.ID, ActionReveal)
	h.apply(seg.ID, ActionShowLeaderboard)
	if _, err := h.engine.Apply(h.ctx, host, seg.ID, ActionNextQuestion); !errors.Is(err, livequiz.ErrInvalidTransition) {
		t.Errorf("next on last question err = %v", err)
	}
}

func TestStartQuizNeedsQuestions(t *testing.T) {
	h := newHarness(t, Options{})
	ev := h.createEvent()
	seg := h.quizSegment(ev, "", 0, 0)

	_, err := h.engine.Apply(h.ctx, host, seg.ID, ActionStartQuiz)
	if !errors.Is(err, livequiz.ErrInvalidTransition) {
		t.Fatalf("err = %v, want invalid transition", err)
	}
}

func TestOnlyHostOrPresenterDrives(t *testing.T) {
	h := newHarness(t, Options{})
	ev := h.createEvent()
	presenter := h.join(ev, "Pat", "p")
	other := h.join(ev, "Olly", "o")
	seg := h.quizSegment(ev, presenter.ID, 1, 10*time.Second)

	if _, err := h.engine.Apply(h.ctx, livequiz.Caller{ParticipantID: other.ID}, seg.ID, ActionStartQuiz); !errors.Is(err, livequiz.ErrForbidden) {
		t.Fatalf("other participant err = %v, want forbidden", err)
	}
	if _, err := h.engine.Apply(h.ctx, livequiz.Caller{ParticipantID: presenter.ID}, seg.ID, ActionStartQuiz); err != nil {
		t.Fatalf("presenter start: %v", err)
	}
}

func TestDoubleSubmitKeepsFirstAnswer(t *testing.T) {
	h := newHarness(t, Options{})
	ev := h.createEvent()
	p := h.join(ev, "Dana", "d")
	seg := h.quizSegment(ev, "", 1, 20*time.Second)
	h.apply(seg.ID, ActionStartQuiz)
	q := h.currentQuestion(seg.ID)

	const n = 10
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
		dupes    int
	)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			answer := "wrong"
			if i%2 == 0 {
				answer = "right"
			}
			_, err := h.engine.SubmitAnswer(h.ctx, SubmitAnswer{EventID: ev.ID, ParticipantID: p.ID, QuestionID: q.ID, Answer: answer})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				accepted++
			case errors.Is(err, livequiz.ErrAlreadyAnswered):
				dupes++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if accepted != 1 || dupes != n-1 {
		t.Fatalf("accepted = %d, duplicates = %d", accepted, dupes)
	}

	board, err := h.engine.Leaderboard(h.ctx, seg.ID)
	if err != nil {
		t.Fatalf("Leaderboard: %v", err)
	}
	if board[0].Answered != 1 {
		t.Errorf("answers recorded = %d, want 1", board[0].Answered)
	}
	if board[0].Score != 0 && board[0].Score != MaxPoints {
		t.Errorf("score = %d", board[0].Score)
	}
}

func TestAnswerDeadline(t *testing.T) {
	h := newHarness(t, Options{})
	ev := h.createEvent()
	early := h.join(ev, "Early", "e")
	late := h.join(ev, "Late", "l")
	exact := h.join(ev, "Exact", "x")
	seg := h.quizSegment(ev, "", 1, 10*time.Second)
	h.apply(seg.ID, ActionStartQuiz)
	q := h.currentQuestion(seg.ID)
	start := h.clock.Now()

	if _, err := h.engine.SubmitAnswer(h.ctx, SubmitAnswer{
		EventID: ev.ID, ParticipantID: early.ID, QuestionID: q.ID, Answer: "right",
		SubmittedAt: start.Add(9999 * time.Millisecond),
	}); err != nil {
		t.Fatalf("answer before deadline: %v", err)
	}

	_, err := h.engine.SubmitAnswer(h.ctx, SubmitAnswer{
		EventID: ev.ID, ParticipantID: exact.ID, QuestionID: q.ID, Answer: "right",
		SubmittedAt: start.Add(10 * time.Second),
	})
	if !errors.Is(err, livequiz.ErrTimeExpired) {
		t.Fatalf("answer at deadline err = %v, want time expired", err)
	}

	h.clock.Advance(11 * time.Second)
	_, err = h.engine.SubmitAnswer(h.ctx, SubmitAnswer{EventID: ev.ID, ParticipantID: late.ID, QuestionID: q.ID, Answer: "right"})
	if !errors.Is(err, livequiz.ErrTimeExpired) {
		t.Fatalf("late answer err = %v, want time expired", err)
	}

	// A duplicate is reported as such even after the deadline.
	_, err = h.engine.SubmitAnswer(h.ctx, SubmitAnswer{EventID: ev.ID, ParticipantID: early.ID, QuestionID: q.ID, Answer: "right"})
	if !errors.Is(err, livequiz.ErrAlreadyAnswered) {
		t.Fatalf("duplicate after deadline err = %v, want already answered", err)
	}
}

func TestDeadlineTimerAnnouncesExpiry(t *testing.T) {
	h := newHarness(t, Options{})
	ev := h.createEvent()
	seg := h.quizSegment(ev, "", 1, 15*time.Second)
	sub := h.connect(ev, seg.ID, host)
	h.apply(seg.ID, ActionStartQuiz)
	q := h.currentQuestion(seg.ID)

	h.clock.Advance(15 * time.Second)
	m := waitFor(t, sub, "question-expired")
	if got := decode[QuestionExpired](t, m.Payload); got.QuestionID != q.ID {
		t.Errorf("expired question = %q, want %q", got.QuestionID, q.ID)
	}
}

func TestAnswerToClosedQuestion(t *testing.T) {
	h := newHarness(t, Options{})
	ev := h.createEvent()
	p := h.join(ev, "Dana", "d")
	seg := h.quizSegment(ev, "", 2, 20*time.Second)
	h.apply(seg.ID, ActionStartQuiz)
	q1 := h.currentQuestion(seg.ID)
	h.apply(seg.ID, ActionReveal)

	_, err := h.engine.SubmitAnswer(h.ctx, SubmitAnswer{EventID: ev.ID, ParticipantID: p.ID, QuestionID: q1.ID, Answer: "right"})
	if !errors.Is(err, livequiz.ErrQuestionClosed) {
		t.Fatalf("answer after reveal err = %v, want question closed", err)
	}
	if livequiz.KindOf(err) != livequiz.KindExpiredWindow {
		t.Errorf("kind = %v, want expired window", livequiz.KindOf(err))
	}
}

func TestDistributionHiddenUntilReveal(t *testing.T) {
	h := newHarness(t, Options{})
	ev := h.createEvent()
	p := h.join(ev, "Dana", "d")
	seg := h.quizSegment(ev, "", 1, 20*time.Second)
	h.apply(seg.ID, ActionStartQuiz)
	q := h.currentQuestion(seg.ID)
	participant := livequiz.Caller{ParticipantID: p.ID}

	if _, err := h.engine.Distribution(h.ctx, participant, seg.ID, q.ID); !errors.Is(err, livequiz.ErrForbidden) {
		t.Fatalf("participant before reveal err = %v, want forbidden", err)
	}
	if _, err := h.engine.Distribution(h.ctx, host, seg.ID, q.ID); err != nil {
		t.Fatalf("host before reveal: %v", err)
	}
	h.apply(seg.ID, ActionReveal)
	if _, err := h.engine.Distribution(h.ctx, participant, seg.ID, q.ID); err != nil {
		t.Fatalf("participant after reveal: %v", err)
	}
}

func TestPatchSegmentUsesTransitionTable(t *testing.T) {
	h := newHarness(t, Options{})
	ev := h.createEvent()
	seg, err := h.engine.CreateSegment(h.ctx, host, ev.ID, "Talk", "")
	if err != nil {
		t.Fatalf("CreateSegment: %v", err)
	}

	status := func(s livequiz.SegmentStatus) SegmentPatch { return SegmentPatch{Status: &s} }

	v, err := h.engine.PatchSegment(h.ctx, host, seg.ID, status(livequiz.SegmentRecording))
	if err != nil || v.Status != livequiz.SegmentRecording {
		t.Fatalf("patch to recording = %+v, %v", v, err)
	}
	if _, err := h.engine.PatchSegment(h.ctx, host, seg.ID, status(livequiz.SegmentQuizzing)); !errors.Is(err, livequiz.ErrInvalidTransition) {
		t.Fatalf("recording -> quizzing err = %v", err)
	}
	if _, err := h.engine.PatchSegment(h.ctx, host, seg.ID, status("bogus")); !errors.Is(err, livequiz.InvalidInput("")) {
		t.Fatalf("unknown status err = %v", err)
	}
	v, err = h.engine.PatchSegment(h.ctx, host, seg.ID, status(livequiz.SegmentCompleted))
	if err != nil {
		t.Fatalf("patch to completed: %v", err)
	}
	if v.PreviousStatus == nil || *v.PreviousStatus != livequiz.SegmentRecording {
		t.Errorf("previous status = %v, want recording", v.PreviousStatus)
	}
}

func TestFaultedSegmentFailsClosed(t *testing.T) {
	h := newHarness(t, Options{})
	ev := h.createEvent()
	seg, err := h.engine.CreateSegment(h.ctx, host, ev.ID, "Talk", "")
	if err != nil {
		t.Fatalf("CreateSegment: %v", err)
	}

	// Corrupt the stored status and reload the event from the store.
	seg.Status = "exploded"
	if err := h.store.SaveSegment(h.ctx, seg); err != nil {
		t.Fatalf("SaveSegment: %v", err)
	}
	h.restart()

	for range 2 {
		_, err := h.engine.Apply(h.ctx, host, seg.ID, ActionStart)
		if !errors.Is(err, livequiz.ErrSegmentFaulted) {
			t.Fatalf("err = %v, want segment faulted", err)
		}
	}
	view, err := h.engine.Event(h.ctx, ev.ID)
	if err != nil {
		t.Fatalf("Event: %v", err)
	}
	if !view.Segments[0].Faulted {
		t.Error("segment not reported as faulted")
	}
}

func TestEndEventCompletesSegmentsAndClosesFeed(t *testing.T) {
	h := newHarness(t, Options{})
	ev := h.createEvent()
	seg := h.quizSegment(ev, "", 1, 20*time.Second)
	h.apply(seg.ID, ActionStartQuiz)
	sub := h.connect(ev, "", host)

	if _, err := h.engine.EndEvent(h.ctx, livequiz.Caller{UserID: "intruder"}, ev.ID); !errors.Is(err, livequiz.ErrForbidden) {
		t.Fatalf("non-owner end err = %v", err)
	}
	ended, err := h.engine.EndEvent(h.ctx, host, ev.ID)
	if err != nil {
		t.Fatalf("EndEvent: %v", err)
	}
	if ended.Status != livequiz.EventEnded || ended.EndedAt == nil {
		t.Errorf("ended = %+v", ended)
	}
	waitFor(t, sub, "event-ended")
	<-sub.Done()

	view, _ := h.engine.Event(h.ctx, ev.ID)
	if s := view.Segments[0]; s.Status != livequiz.SegmentCompleted || s.PreviousStatus != nil {
		t.Errorf("segment after end = %+v", s)
	}
}

func TestEndEventUnloadsEvent(t *testing.T) {
	h := newHarness(t, Options{})
	ev := h.createEvent()
	seg := h.quizSegment(ev, "", 1, 20*time.Second)
	h.apply(seg.ID, ActionStartQuiz)
	p := h.join(ev, "Dana", "phone")
	sub := h.connect(ev, "", livequiz.Caller{ParticipantID: p.ID})

	if _, err := h.engine.EndEvent(h.ctx, host, ev.ID); err != nil {
		t.Fatalf("EndEvent: %v", err)
	}

	resident := func() bool {
		h.engine.reg.mu.RLock()
		defer h.engine.reg.mu.RUnlock()
		_, ok := h.engine.reg.actors[ev.ID]
		return ok
	}
	deadline := time.Now().Add(time.Second)
	for resident() {
		if time.Now().After(deadline) {
			t.Fatal("ended event still in memory")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// A late disconnect from the closed feed does not bring it back.
	h.engine.Disconnect(h.ctx, sub)
	if resident() {
		t.Error("disconnect reloaded the ended event")
	}

	view, err := h.engine.Event(h.ctx, ev.ID)
	if err != nil {
		t.Fatalf("Event after unload: %v", err)
	}
	if view.Status != livequiz.EventEnded || view.Segments[0].Status != livequiz.SegmentCompleted {
		t.Errorf("reloaded view = %+v", view)
	}
	if _, err := h.engine.Apply(h.ctx, host, seg.ID, ActionEndSegment); !errors.Is(err, livequiz.ErrInvalidTransition) {
		t.Errorf("end segment after unload err = %v, want invalid transition", err)
	}
}
