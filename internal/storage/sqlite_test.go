package storage_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/playperu/livequiz/internal/database"
	"github.com/playperu/livequiz/internal/livequiz"
	"github.com/playperu/livequiz/internal/migrations"
	"github.com/playperu/livequiz/internal/storage"
)

func newStore(t *testing.T) *storage.SQLite {
	t.Helper()
	db, err := database.Open(context.Background(), database.Memory)
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := migrations.Run(db); err != nil {
		t.Fatalf("running migrations: %v", err)
	}
	return storage.NewSQLite(db)
}

func seed(t *testing.T, s *storage.SQLite) (livequiz.Event, livequiz.Segment, livequiz.Question, livequiz.Participant) {
	t.Helper()
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	ev := livequiz.Event{ID: "ev1", JoinCode: "ABC234", OwnerID: "host", Title: "Demo",
		Lock: livequiz.Unlocked, Status: livequiz.EventActive, CreatedAt: now}
	seg := livequiz.Segment{ID: "seg1", EventID: "ev1", Status: livequiz.SegmentPending,
		Phase: livequiz.PhaseNotStarted, CreatedAt: now}
	q := livequiz.Question{ID: "q1", SegmentID: "seg1", Position: 0, Text: "2+2?", CorrectAnswer: "4",
		WrongAnswers: []string{"3", "5"}, TimeLimitSeconds: 20, QualityScore: 0.9, CreatedAt: now}
	p := livequiz.Participant{ID: "p1", EventID: "ev1", DeviceFingerprint: "dev-1", DisplayName: "Dana",
		Connection: livequiz.Disconnected, JoinedAt: now}

	for _, err := range []error{
		s.SaveEvent(ctx, ev),
		s.SaveSegment(ctx, seg),
		s.SaveQuestion(ctx, q),
		s.SaveParticipant(ctx, p),
	} {
		if err != nil {
			t.Fatalf("seeding: %v", err)
		}
	}
	return ev, seg, q, p
}

func TestLoadEventRoundTrip(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	ev, seg, q, p := seed(t, s)

	deadline := seg.CreatedAt.Add(20 * time.Second)
	seg.Status = livequiz.SegmentCompleted
	seg.PreviousStatus = livequiz.SegmentQuizzing
	seg.PreviousPhase = livequiz.PhaseShowingQuestion
	seg.PreviousRemaining = 7500 * time.Millisecond
	seg.Deadline = &deadline
	if err := s.SaveSegment(ctx, seg); err != nil {
		t.Fatalf("updating segment: %v", err)
	}
	a := livequiz.Answer{ParticipantID: p.ID, QuestionID: q.ID, SegmentID: seg.ID, EventID: ev.ID,
		ChosenAnswer: "4", ResponseTimeMS: 1200, IsCorrect: true, PointsAwarded: 970, SubmittedAt: deadline}
	if err := s.InsertAnswer(ctx, a); err != nil {
		t.Fatalf("inserting answer: %v", err)
	}

	rec, err := s.LoadEvent(ctx, ev.ID)
	if err != nil {
		t.Fatalf("LoadEvent: %v", err)
	}
	if rec.Event.JoinCode != "ABC234" || rec.Event.Status != livequiz.EventActive {
		t.Errorf("event = %+v", rec.Event)
	}
	if len(rec.Segments) != 1 {
		t.Fatalf("segments = %d, want 1", len(rec.Segments))
	}
	got := rec.Segments[0]
	if got.PreviousStatus != livequiz.SegmentQuizzing || got.PreviousRemaining != 7500*time.Millisecond {
		t.Errorf("segment recovery fields = %q %v", got.PreviousStatus, got.PreviousRemaining)
	}
	if got.Deadline == nil || !got.Deadline.Equal(deadline) {
		t.Errorf("deadline = %v, want %v", got.Deadline, deadline)
	}
	if len(rec.Questions) != 1 || len(rec.Questions[0].WrongAnswers) != 2 {
		t.Errorf("questions = %+v", rec.Questions)
	}
	if len(rec.Participants) != 1 || rec.Participants[0].DisplayName != "Dana" {
		t.Errorf("participants = %+v", rec.Participants)
	}
	if len(rec.Answers) != 1 || rec.Answers[0].PointsAwarded != 970 || !rec.Answers[0].IsCorrect {
		t.Errorf("answers = %+v", rec.Answers)
	}
}

func TestInsertAnswerRejectsDuplicate(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	ev, seg, q, p := seed(t, s)

	a := livequiz.Answer{ParticipantID: p.ID, QuestionID: q.ID, SegmentID: seg.ID, EventID: ev.ID,
		ChosenAnswer: "4", SubmittedAt: time.Now()}
	if err := s.InsertAnswer(ctx, a); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	a.ChosenAnswer = "5"
	err := s.InsertAnswer(ctx, a)
	if !errors.Is(err, livequiz.ErrAlreadyAnswered) {
		t.Fatalf("second insert err = %v, want already answered", err)
	}
}

func TestDisplayNameUniqueIgnoresCase(t *testing.T) {
	s := newStore(t)
	_, _, _, p := seed(t, s)

	dup := p
	dup.ID = "p2"
	dup.DeviceFingerprint = "dev-2"
	dup.DisplayName = "DANA"
	if err := s.SaveParticipant(context.Background(), dup); err == nil {
		t.Fatal("expected unique violation for case-insensitive duplicate name")
	}
}

func TestFindEventByCodeOnlyActive(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	ev, _, _, _ := seed(t, s)

	id, err := s.FindEventByCode(ctx, "ABC234")
	if err != nil || id != ev.ID {
		t.Fatalf("FindEventByCode = %q, %v", id, err)
	}

	ended := time.Now()
	ev.Status = livequiz.EventEnded
	ev.EndedAt = &ended
	if err := s.SaveEvent(ctx, ev); err != nil {
		t.Fatalf("ending event: %v", err)
	}
	if _, err := s.FindEventByCode(ctx, "ABC234"); !errors.Is(err, livequiz.ErrEventNotFound) {
		t.Fatalf("ended event lookup err = %v, want event not found", err)
	}

	status, err := s.EventStatus(ctx, ev.ID)
	if err != nil || status != livequiz.EventEnded {
		t.Fatalf("EventStatus = %q, %v", status, err)
	}
}

func TestFindEventBySegment(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	seed(t, s)

	id, err := s.FindEventBySegment(ctx, "seg1")
	if err != nil || id != "ev1" {
		t.Fatalf("FindEventBySegment = %q, %v", id, err)
	}
	if _, err := s.FindEventBySegment(ctx, "nope"); !errors.Is(err, livequiz.ErrNotFound) {
		t.Fatalf("missing segment err = %v, want not found", err)
	}
}
