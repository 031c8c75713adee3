// Package storage persists events, segments, questions, participants and
// answers in SQLite.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/playperu/livequiz/internal/livequiz"
)

// SQLite implements the session store on a migrated database.
type SQLite struct {
	db *sql.DB
}

func NewSQLite(db *sql.DB) *SQLite {
	return &SQLite{db: db}
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func (s *SQLite) SaveEvent(ctx context.Context, ev livequiz.Event) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events (id, join_code, owner_id, title, lock_state, locked_at, status, created_at, ended_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   title = excluded.title,
		   lock_state = excluded.lock_state,
		   locked_at = excluded.locked_at,
		   status = excluded.status,
		   ended_at = excluded.ended_at`,
		ev.ID, ev.JoinCode, ev.OwnerID, ev.Title, string(ev.Lock), fmtTimePtr(ev.LockedAt),
		string(ev.Status), fmtTime(ev.CreatedAt), fmtTimePtr(ev.EndedAt),
	)
	if isUniqueViolation(err) {
		return livequiz.InvalidInput("join code %s already in use", ev.JoinCode)
	}
	if err != nil {
		return fmt.Errorf("saving event: %w", err)
	}
	return nil
}

func (s *SQLite) SaveSegment(ctx context.Context, seg livequiz.Segment) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO segments (id, event_id, title, presenter_id, status, previous_status, question_index, phase,
		   question_started_at, deadline, question_expired, previous_phase, previous_remaining_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   title = excluded.title,
		   presenter_id = excluded.presenter_id,
		   status = excluded.status,
		   previous_status = excluded.previous_status,
		   question_index = excluded.question_index,
		   phase = excluded.phase,
		   question_started_at = excluded.question_started_at,
		   deadline = excluded.deadline,
		   question_expired = excluded.question_expired,
		   previous_phase = excluded.previous_phase,
		   previous_remaining_ms = excluded.previous_remaining_ms`,
		seg.ID, seg.EventID, seg.Title, seg.PresenterID, string(seg.Status), string(seg.PreviousStatus),
		seg.QuestionIndex, string(seg.Phase), fmtTimePtr(seg.QuestionStartedAt), fmtTimePtr(seg.Deadline),
		boolInt(seg.QuestionExpired), string(seg.PreviousPhase), seg.PreviousRemaining.Milliseconds(), fmtTime(seg.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("saving segment: %w", err)
	}
	return nil
}

func (s *SQLite) SaveQuestion(ctx context.Context, q livequiz.Question) error {
	wrong, err := json.Marshal(q.WrongAnswers)
	if err != nil {
		return fmt.Errorf("encoding wrong answers: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO questions (id, segment_id, position, text, correct_answer, wrong_answers,
		   time_limit_seconds, quality_score, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   text = excluded.text,
		   correct_answer = excluded.correct_answer,
		   wrong_answers = excluded.wrong_answers,
		   time_limit_seconds = excluded.time_limit_seconds,
		   quality_score = excluded.quality_score`,
		q.ID, q.SegmentID, q.Position, q.Text, q.CorrectAnswer, string(wrong),
		q.TimeLimitSeconds, q.QualityScore, fmtTime(q.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("saving question: %w", err)
	}
	return nil
}

func (s *SQLite) SaveParticipant(ctx context.Context, p livequiz.Participant) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO participants (id, event_id, device_fingerprint, display_name, avatar, connection_state, joined_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   avatar = excluded.avatar,
		   connection_state = excluded.connection_state`,
		p.ID, p.EventID, p.DeviceFingerprint, p.DisplayName, p.Avatar, string(p.Connection), fmtTime(p.JoinedAt),
	)
	if isUniqueViolation(err) {
		return livequiz.InvalidInput("participant %q already exists", p.DisplayName)
	}
	if err != nil {
		return fmt.Errorf("saving participant: %w", err)
	}
	return nil
}

// InsertAnswer records a first submission. A second row for the same
// participant and question fails with livequiz.ErrAlreadyAnswered.
func (s *SQLite) InsertAnswer(ctx context.Context, a livequiz.Answer) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO answers (participant_id, question_id, segment_id, event_id, chosen_answer,
		   response_time_ms, is_correct, points_awarded, submitted_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ParticipantID, a.QuestionID, a.SegmentID, a.EventID, a.ChosenAnswer,
		a.ResponseTimeMS, boolInt(a.IsCorrect), a.PointsAwarded, fmtTime(a.SubmittedAt),
	)
	if isUniqueViolation(err) {
		return livequiz.ErrAlreadyAnswered
	}
	if err != nil {
		return fmt.Errorf("inserting answer: %w", err)
	}
	return nil
}

// FindEventByCode returns the ID of the active event using code.
func (s *SQLite) FindEventByCode(ctx context.Context, code string) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM events WHERE join_code = ? AND status = 'active'`, code,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", livequiz.ErrEventNotFound
	}
	if err != nil {
		return "", fmt.Errorf("finding event by code: %w", err)
	}
	return id, nil
}

func (s *SQLite) FindEventBySegment(ctx context.Context, segmentID string) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT event_id FROM segments WHERE id = ?`, segmentID,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", livequiz.NotFound("segment")
	}
	if err != nil {
		return "", fmt.Errorf("finding event by segment: %w", err)
	}
	return id, nil
}

func (s *SQLite) EventStatus(ctx context.Context, eventID string) (livequiz.EventStatus, error) {
	var status string
	err := s.db.QueryRowContext(ctx,
		`SELECT status FROM events WHERE id = ?`, eventID,
	).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", livequiz.ErrEventNotFound
	}
	if err != nil {
		return "", fmt.Errorf("reading event status: %w", err)
	}
	return livequiz.EventStatus(status), nil
}

// LoadEvent reads an event and everything attached to it.
func (s *SQLite) LoadEvent(ctx context.Context, eventID string) (livequiz.EventRecord, error) {
	var rec livequiz.EventRecord

	ev, err := s.loadEvent(ctx, eventID)
	if err != nil {
		return rec, err
	}
	rec.Event = ev

	if rec.Segments, err = s.loadSegments(ctx, eventID); err != nil {
		return rec, err
	}
	if rec.Questions, err = s.loadQuestions(ctx, eventID); err != nil {
		return rec, err
	}
	if rec.Participants, err = s.loadParticipants(ctx, eventID); err != nil {
		return rec, err
	}
	if rec.Answers, err = s.loadAnswers(ctx, eventID); err != nil {
		return rec, err
	}
	return rec, nil
}

func (s *SQLite) loadEvent(ctx context.Context, eventID string) (livequiz.Event, error) {
	var (
		ev                livequiz.Event
		lock, status      string
		lockedAt, endedAt sql.NullString
		createdAt         string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, join_code, owner_id, title, lock_state, locked_at, status, created_at, ended_at
		 FROM events WHERE id = ?`, eventID,
	).Scan(&ev.ID, &ev.JoinCode, &ev.OwnerID, &ev.Title, &lock, &lockedAt, &status, &createdAt, &endedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ev, livequiz.ErrEventNotFound
	}
	if err != nil {
		return ev, fmt.Errorf("loading event: %w", err)
	}
	ev.Lock = livequiz.LockState(lock)
	ev.Status = livequiz.EventStatus(status)
	ev.CreatedAt = parseTime(createdAt)
	ev.LockedAt = parseTimePtr(lockedAt)
	ev.EndedAt = parseTimePtr(endedAt)
	return ev, nil
}

func (s *SQLite) loadSegments(ctx context.Context, eventID string) ([]livequiz.Segment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, event_id, title, presenter_id, status, previous_status, question_index, phase,
		   question_started_at, deadline, question_expired, previous_phase, previous_remaining_ms, created_at
		 FROM segments WHERE event_id = ? ORDER BY created_at, id`, eventID,
	)
	if err != nil {
		return nil, fmt.Errorf("loading segments: %w", err)
	}
	defer rows.Close()

	var out []livequiz.Segment
	for rows.Next() {
		var (
			seg                         livequiz.Segment
			status, prev, phase, prevPh string
			startedAt, deadline         sql.NullString
			remainingMS                 int64
			createdAt                   string
		)
		if err := rows.Scan(&seg.ID, &seg.EventID, &seg.Title, &seg.PresenterID, &status, &prev,
			&seg.QuestionIndex, &phase, &startedAt, &deadline, &seg.QuestionExpired, &prevPh,
			&remainingMS, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning segment: %w", err)
		}
		seg.Status = livequiz.SegmentStatus(status)
		seg.PreviousStatus = livequiz.SegmentStatus(prev)
		seg.Phase = livequiz.Phase(phase)
		seg.PreviousPhase = livequiz.Phase(prevPh)
		seg.PreviousRemaining = time.Duration(remainingMS) * time.Millisecond
		seg.QuestionStartedAt = parseTimePtr(startedAt)
		seg.Deadline = parseTimePtr(deadline)
		seg.CreatedAt = parseTime(createdAt)
		out = append(out, seg)
	}
	return out, rows.Err()
}

func (s *SQLite) loadQuestions(ctx context.Context, eventID string) ([]livequiz.Question, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT q.id, q.segment_id, q.position, q.text, q.correct_answer, q.wrong_answers,
		   q.time_limit_seconds, q.quality_score, q.created_at
		 FROM questions q JOIN segments s ON s.id = q.segment_id
		 WHERE s.event_id = ? ORDER BY q.segment_id, q.position`, eventID,
	)
	if err != nil {
		return nil, fmt.Errorf("loading questions: %w", err)
	}
	defer rows.Close()

	var out []livequiz.Question
	for rows.Next() {
		var (
			q         livequiz.Question
			wrong     string
			createdAt string
		)
		if err := rows.Scan(&q.ID, &q.SegmentID, &q.Position, &q.Text, &q.CorrectAnswer, &wrong,
			&q.TimeLimitSeconds, &q.QualityScore, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning question: %w", err)
		}
		if err := json.Unmarshal([]byte(wrong), &q.WrongAnswers); err != nil {
			return nil, fmt.Errorf("decoding wrong answers for %s: %w", q.ID, err)
		}
		q.CreatedAt = parseTime(createdAt)
		out = append(out, q)
	}
	return out, rows.Err()
}

func (s *SQLite) loadParticipants(ctx context.Context, eventID string) ([]livequiz.Participant, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, event_id, device_fingerprint, display_name, avatar, connection_state, joined_at
		 FROM participants WHERE event_id = ? ORDER BY joined_at, id`, eventID,
	)
	if err != nil {
		return nil, fmt.Errorf("loading participants: %w", err)
	}
	defer rows.Close()

	var out []livequiz.Participant
	for rows.Next() {
		var (
			p              livequiz.Participant
			conn, joinedAt string
		)
		if err := rows.Scan(&p.ID, &p.EventID, &p.DeviceFingerprint, &p.DisplayName, &p.Avatar,
			&conn, &joinedAt); err != nil {
			return nil, fmt.Errorf("scanning participant: %w", err)
		}
		p.Connection = livequiz.ConnectionState(conn)
		p.JoinedAt = parseTime(joinedAt)
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *SQLite) loadAnswers(ctx context.Context, eventID string) ([]livequiz.Answer, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT participant_id, question_id, segment_id, event_id, chosen_answer,
		   response_time_ms, is_correct, points_awarded, submitted_at
		 FROM answers WHERE event_id = ? ORDER BY submitted_at`, eventID,
	)
	if err != nil {
		return nil, fmt.Errorf("loading answers: %w", err)
	}
	defer rows.Close()

	var out []livequiz.Answer
	for rows.Next() {
		var (
			a           livequiz.Answer
			submittedAt string
		)
		if err := rows.Scan(&a.ParticipantID, &a.QuestionID, &a.SegmentID, &a.EventID, &a.ChosenAnswer,
			&a.ResponseTimeMS, &a.IsCorrect, &a.PointsAwarded, &submittedAt); err != nil {
			return nil, fmt.Errorf("scanning answer: %w", err)
		}
		a.SubmittedAt = parseTime(submittedAt)
		out = append(out, a)
	}
	return out, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func fmtTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func fmtTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return fmtTime(*t)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func parseTimePtr(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseTime(s.String)
	return &t
}
