// Package livequiz defines the core domain types for live quiz events.
// It has no external dependencies.
package livequiz

import (
	"sort"
	"time"
)

type EventStatus string

const (
	EventActive EventStatus = "active"
	EventEnded  EventStatus = "ended"
)

type LockState string

const (
	Unlocked LockState = "unlocked"
	Locked   LockState = "locked"
)

type Event struct {
	ID        string
	JoinCode  string
	OwnerID   string
	Title     string
	Lock      LockState
	LockedAt  *time.Time
	Status    EventStatus
	CreatedAt time.Time
	EndedAt   *time.Time
}

func (e Event) IsLocked() bool { return e.Lock == Locked }

// SegmentStatus is the lifecycle of one presenter's slot in an event.
type SegmentStatus string

const (
	SegmentPending         SegmentStatus = "pending"
	SegmentRecording       SegmentStatus = "recording"
	SegmentRecordingPaused SegmentStatus = "recording_paused"
	SegmentQuizReady       SegmentStatus = "quiz_ready"
	SegmentQuizzing        SegmentStatus = "quizzing"
	SegmentCompleted       SegmentStatus = "completed"
)

func (s SegmentStatus) Valid() bool {
	switch s {
	case SegmentPending, SegmentRecording, SegmentRecordingPaused,
		SegmentQuizReady, SegmentQuizzing, SegmentCompleted:
		return true
	}
	return false
}

func (s SegmentStatus) Terminal() bool { return s == SegmentCompleted }

// Active reports whether a presenter is running the segment: it has
// started and not yet completed.
func (s SegmentStatus) Active() bool {
	switch s {
	case SegmentRecording, SegmentRecordingPaused, SegmentQuizReady, SegmentQuizzing:
		return true
	}
	return false
}

// Phase tracks quiz progress within a segment while it is quizzing.
type Phase string

const (
	PhaseNotStarted         Phase = "not_started"
	PhaseShowingQuestion    Phase = "showing_question"
	PhaseBetweenQuestions   Phase = "between_questions"
	PhaseRevealingAnswer    Phase = "revealing_answer"
	PhaseShowingLeaderboard Phase = "showing_leaderboard"
	PhaseComplete           Phase = "complete"
)

func (p Phase) Valid() bool {
	switch p {
	case PhaseNotStarted, PhaseShowingQuestion, PhaseBetweenQuestions,
		PhaseRevealingAnswer, PhaseShowingLeaderboard, PhaseComplete:
		return true
	}
	return false
}

type Segment struct {
	ID          string
	EventID     string
	Title       string
	PresenterID string
	Status      SegmentStatus
	// PreviousStatus is set only when a segment was ended from a
	// non-terminal status and is cleared by resume or clear.
	PreviousStatus SegmentStatus
	QuestionIndex  int
	Phase          Phase

	QuestionStartedAt *time.Time
	Deadline          *time.Time
	QuestionExpired   bool

	// Position to restore on resume.
	PreviousPhase     Phase
	PreviousRemaining time.Duration

	CreatedAt time.Time
}

func (s Segment) Recoverable() bool {
	return s.Status == SegmentCompleted && s.PreviousStatus != ""
}

type Question struct {
	ID               string
	SegmentID        string
	Position         int
	Text             string
	CorrectAnswer    string
	WrongAnswers     []string
	TimeLimitSeconds int
	QualityScore     float64
	CreatedAt        time.Time
}

func (q Question) TimeLimit() time.Duration {
	return time.Duration(q.TimeLimitSeconds) * time.Second
}

// Options returns the answer choices in a stable order that does not
// depend on which one is correct.
func (q Question) Options() []string {
	opts := make([]string, 0, len(q.WrongAnswers)+1)
	opts = append(opts, q.CorrectAnswer)
	opts = append(opts, q.WrongAnswers...)
	sort.Strings(opts)
	return opts
}

type ConnectionState string

const (
	Connected    ConnectionState = "connected"
	Disconnected ConnectionState = "disconnected"
)

type Participant struct {
	ID                string
	EventID           string
	DeviceFingerprint string
	DisplayName       string
	Avatar            string
	Connection        ConnectionState
	JoinedAt          time.Time
}

type Answer struct {
	ParticipantID  string
	QuestionID     string
	SegmentID      string
	EventID        string
	ChosenAnswer   string
	ResponseTimeMS int64
	IsCorrect      bool
	PointsAwarded  int
	SubmittedAt    time.Time
}

// EventRecord is everything persisted for one event.
type EventRecord struct {
	Event        Event
	Segments     []Segment
	Questions    []Question
	Participants []Participant
	Answers      []Answer
}

// Caller identifies who is invoking an operation. UserID is set for
// authenticated hosts, ParticipantID for joined participants.
type Caller struct {
	UserID        string
	ParticipantID string
}
