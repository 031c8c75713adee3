package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jonboulle/clockwork"
	"nhooyr.io/websocket"

	"github.com/playperu/livequiz/internal/auth"
	"github.com/playperu/livequiz/internal/broadcast"
	"github.com/playperu/livequiz/internal/database"
	"github.com/playperu/livequiz/internal/devicelock"
	"github.com/playperu/livequiz/internal/migrations"
	"github.com/playperu/livequiz/internal/session"
	"github.com/playperu/livequiz/internal/storage"
)

type testEnv struct {
	t         *testing.T
	router    chi.Router
	engine    *session.Engine
	tokens    *auth.Tokens
	hostToken string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open(ctx, database.Memory)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := migrations.Run(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := clockwork.NewFakeClockAt(time.Date(2026, 5, 1, 18, 0, 0, 0, time.UTC))
	hub := broadcast.NewHub(logger, broadcast.WithBuffer(256))
	engine := session.New(storage.NewSQLite(db), devicelock.NewMemory(), hub, clock, logger, session.Options{})
	t.Cleanup(engine.Close)

	tokens := auth.NewTokens("test-secret", time.Hour, clock)
	hostToken, err := tokens.IssueHost("host-1", time.Hour)
	if err != nil {
		t.Fatalf("issue host token: %v", err)
	}

	return &testEnv{
		t:         t,
		router:    newRouter(logger, Deps{Engine: engine, Tokens: tokens, CORSOrigins: []string{"*"}}),
		engine:    engine,
		tokens:    tokens,
		hostToken: hostToken,
	}
}

func (e *testEnv) do(method, path, token string, body any) *httptest.ResponseRecorder {
	e.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			e.t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) createEvent() session.EventView {
	e.t.Helper()
	rec := e.do(http.MethodPost, "/api/events", e.hostToken, CreateEventRequest{Title: "Friday quiz"})
	if rec.Code != http.StatusCreated {
		e.t.Fatalf("create event: status %d, body %s", rec.Code, rec.Body.String())
	}
	return decodeBody[session.EventView](e.t, rec)
}

func (e *testEnv) join(code, name, device string) JoinResponse {
	e.t.Helper()
	rec := e.do(http.MethodPost, "/api/join", "", JoinRequest{Code: code, DisplayName: name, DeviceFingerprint: device})
	if rec.Code != http.StatusOK {
		e.t.Fatalf("join %s: status %d, body %s", name, rec.Code, rec.Body.String())
	}
	return decodeBody[JoinResponse](e.t, rec)
}

// quizSegment creates a segment with one question and moves it to
// quiz_ready.
func (e *testEnv) quizSegment(eventID string) session.SegmentView {
	e.t.Helper()
	rec := e.do(http.MethodPost, "/api/events/"+eventID+"/segments", e.hostToken, CreateSegmentRequest{Title: "Talk"})
	if rec.Code != http.StatusCreated {
		e.t.Fatalf("create segment: status %d, body %s", rec.Code, rec.Body.String())
	}
	seg := decodeBody[session.SegmentView](e.t, rec)

	rec = e.do(http.MethodPost, "/api/segments/"+seg.ID+"/questions", e.hostToken, CreateQuestionRequest{
		Text:             "Capital of Peru?",
		CorrectAnswer:    "Lima",
		WrongAnswers:     []string{"Cusco", "Arequipa"},
		TimeLimitSeconds: 20,
	})
	if rec.Code != http.StatusCreated {
		e.t.Fatalf("add question: status %d, body %s", rec.Code, rec.Body.String())
	}
	e.action(seg.ID, session.ActionContentReady)
	return seg
}

func (e *testEnv) action(segmentID string, action session.Action) session.SegmentView {
	e.t.Helper()
	rec := e.do(http.MethodPost, "/api/segments/"+segmentID+"/actions/"+string(action), e.hostToken, nil)
	if rec.Code != http.StatusOK {
		e.t.Fatalf("action %s: status %d, body %s", action, rec.Code, rec.Body.String())
	}
	return decodeBody[session.SegmentView](e.t, rec)
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return v
}

func TestJoin(t *testing.T) {
	env := newTestEnv(t)
	ev := env.createEvent()

	got := env.join(ev.JoinCode, "Ana", "device-1")
	if got.Token == "" || got.EventID != ev.ID || got.DisplayName != "Ana" || got.IsRejoining {
		t.Fatalf("join response = %+v", got)
	}
	id, err := env.tokens.Verify(got.Token)
	if err != nil {
		t.Fatalf("verify token: %v", err)
	}
	if id.Role != auth.RoleParticipant || id.ParticipantID != got.ParticipantID || id.EventID != ev.ID {
		t.Fatalf("identity = %+v", id)
	}

	again := env.join(ev.JoinCode, "Ana", "device-1")
	if !again.IsRejoining || again.ParticipantID != got.ParticipantID {
		t.Fatalf("rejoin = %+v, want same participant", again)
	}
}

func TestJoinErrors(t *testing.T) {
	env := newTestEnv(t)
	ev := env.createEvent()
	other := env.createEvent()
	env.join(other.JoinCode, "Ana", "device-taken")

	rec := env.do(http.MethodPost, "/api/events/"+ev.ID+"/lock", env.hostToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("lock: status %d", rec.Code)
	}

	tests := []struct {
		name       string
		req        JoinRequest
		wantStatus int
		wantReason string
	}{
		{"unknown code", JoinRequest{Code: "ZZZZZZ", DisplayName: "Bo", DeviceFingerprint: "d2"}, http.StatusNotFound, "event_not_found"},
		{"locked", JoinRequest{Code: ev.JoinCode, DisplayName: "Bo", DeviceFingerprint: "d2"}, http.StatusForbidden, "event_locked"},
		{"device in other event", JoinRequest{Code: other.JoinCode, DisplayName: "Cy", DeviceFingerprint: "d3"}, http.StatusOK, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(http.MethodPost, "/api/join", "", tt.req)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if tt.wantReason == "" {
				return
			}
			if got := decodeBody[ErrorResponse](t, rec); got.Reason != tt.wantReason {
				t.Fatalf("reason = %q, want %q", got.Reason, tt.wantReason)
			}
		})
	}

	// The device already belongs to the other, still active event.
	rec = env.do(http.MethodPost, "/api/events/"+ev.ID+"/unlock", env.hostToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("unlock: status %d", rec.Code)
	}
	rec = env.do(http.MethodPost, "/api/join", "", JoinRequest{Code: ev.JoinCode, DisplayName: "Ana", DeviceFingerprint: "device-taken"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("device conflict: status %d, want %d", rec.Code, http.StatusConflict)
	}
}

func TestCodeLookup(t *testing.T) {
	env := newTestEnv(t)
	ev := env.createEvent()

	rec := env.do(http.MethodGet, "/api/codes/"+ev.JoinCode, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	got := decodeBody[CodeLookupResponse](t, rec)
	if got.EventID != ev.ID || got.Title != "Friday quiz" || got.Locked {
		t.Fatalf("lookup = %+v", got)
	}

	rec = env.do(http.MethodGet, "/api/codes/NOPE42", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown code: status %d, want 404", rec.Code)
	}
	if got := decodeBody[ErrorResponse](t, rec); got.Error != "Event not found" {
		t.Fatalf("error = %q", got.Error)
	}
}

func TestAuthGuards(t *testing.T) {
	env := newTestEnv(t)
	ev := env.createEvent()
	p := env.join(ev.JoinCode, "Ana", "device-1")
	other := env.createEvent()

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		want   int
	}{
		{"no token", http.MethodPost, "/api/events", "", http.StatusUnauthorized},
		{"bad token", http.MethodGet, "/api/codes/" + ev.JoinCode, "garbage", http.StatusUnauthorized},
		{"participant creating event", http.MethodPost, "/api/events", p.Token, http.StatusForbidden},
		{"host answering", http.MethodPost, "/api/answers", env.hostToken, http.StatusForbidden},
		{"participant reading other event", http.MethodGet, "/api/events/" + other.ID, p.Token, http.StatusForbidden},
		{"participant reading own event", http.MethodGet, "/api/events/" + ev.ID, p.Token, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(tt.method, tt.path, tt.token, CreateEventRequest{Title: "x"})
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
}

func TestAnswerFlow(t *testing.T) {
	env := newTestEnv(t)
	ev := env.createEvent()
	p := env.join(ev.JoinCode, "Ana", "device-1")
	seg := env.quizSegment(ev.ID)
	env.action(seg.ID, session.ActionStartQuiz)

	rec := env.do(http.MethodGet, "/api/events/"+ev.ID+"/state?segment="+seg.ID, p.Token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("state: status %d", rec.Code)
	}
	snap := decodeBody[session.Snapshot](t, rec)
	if snap.Question == nil {
		t.Fatal("snapshot has no open question")
	}
	if strings.Contains(rec.Body.String(), "correctAnswer") {
		t.Fatal("snapshot leaks the correct answer")
	}

	answer := AnswerRequest{QuestionID: snap.Question.ID, Answer: "Lima"}
	rec = env.do(http.MethodPost, "/api/answers", p.Token, answer)
	if rec.Code != http.StatusOK {
		t.Fatalf("answer: status %d, body %s", rec.Code, rec.Body.String())
	}
	if got := decodeBody[session.AnswerReceipt](t, rec); got.QuestionID != snap.Question.ID {
		t.Fatalf("receipt = %+v", got)
	}

	rec = env.do(http.MethodPost, "/api/answers", p.Token, answer)
	if rec.Code != http.StatusConflict {
		t.Fatalf("second answer: status %d, want 409", rec.Code)
	}
	if got := decodeBody[ErrorResponse](t, rec); got.Reason != "already_answered" {
		t.Fatalf("reason = %q, want already_answered", got.Reason)
	}

	// Participants can't see the distribution before the reveal.
	distPath := "/api/segments/" + seg.ID + "/questions/" + snap.Question.ID + "/distribution"
	if rec := env.do(http.MethodGet, distPath, p.Token, nil); rec.Code != http.StatusForbidden {
		t.Fatalf("early distribution: status %d, want 403", rec.Code)
	}
	env.action(seg.ID, session.ActionReveal)
	rec = env.do(http.MethodGet, distPath, p.Token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("distribution: status %d", rec.Code)
	}
	for _, c := range decodeBody[[]session.OptionCount](t, rec) {
		if c.Answer == "Lima" && c.Count != 1 {
			t.Fatalf("Lima count = %d, want 1", c.Count)
		}
	}

	rec = env.do(http.MethodGet, "/api/segments/"+seg.ID+"/leaderboard", p.Token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("leaderboard: status %d", rec.Code)
	}
	board := decodeBody[[]session.Standing](t, rec)
	if len(board) != 1 || board[0].Score != 1000 || board[0].Rank != 1 {
		t.Fatalf("leaderboard = %+v", board)
	}
}

func TestUnknownAction(t *testing.T) {
	env := newTestEnv(t)
	ev := env.createEvent()
	seg := env.quizSegment(ev.ID)

	rec := env.do(http.MethodPost, "/api/segments/"+seg.ID+"/actions/explode", env.hostToken, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown action: status %d, want 400", rec.Code)
	}
	rec = env.do(http.MethodPost, "/api/segments/"+seg.ID+"/actions/reveal", env.hostToken, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("reveal before start: status %d, want 409", rec.Code)
	}
}

func TestResumeDebounce(t *testing.T) {
	env := newTestEnv(t)
	ev := env.createEvent()
	seg := env.quizSegment(ev.ID)
	env.action(seg.ID, session.ActionEndSegment)

	rec := env.do(http.MethodPost, "/api/segments/"+seg.ID+"/resume", env.hostToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("resume: status %d, body %s", rec.Code, rec.Body.String())
	}
	res := decodeBody[session.ResumeResult](t, rec)
	if res.Segment.Status != "quiz_ready" {
		t.Fatalf("resumed status = %q, want quiz_ready", res.Segment.Status)
	}

	env.action(seg.ID, session.ActionEndSegment)
	rec = env.do(http.MethodPost, "/api/segments/"+seg.ID+"/resume", env.hostToken, nil)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second resume: status %d, want 429", rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != "2" {
		t.Fatalf("Retry-After = %q, want 2", got)
	}
	if got := decodeBody[ErrorResponse](t, rec); got.RetryAfterSeconds != 2 {
		t.Fatalf("retryAfterSeconds = %d, want 2", got.RetryAfterSeconds)
	}
}

func TestPatchSegment(t *testing.T) {
	env := newTestEnv(t)
	ev := env.createEvent()
	seg := env.quizSegment(ev.ID)
	path := "/api/segments/" + seg.ID

	rec := env.do(http.MethodPatch, path, env.hostToken, map[string]any{"previousStatus": "recording"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("non-null previousStatus: status %d, want 400", rec.Code)
	}

	rec = env.do(http.MethodPatch, path, env.hostToken, map[string]any{"status": "completed"})
	if rec.Code != http.StatusOK {
		t.Fatalf("complete: status %d, body %s", rec.Code, rec.Body.String())
	}
	if got := decodeBody[session.SegmentView](t, rec); got.PreviousStatus == nil || *got.PreviousStatus != "quiz_ready" {
		t.Fatalf("previousStatus = %v, want quiz_ready", got.PreviousStatus)
	}

	rec = env.do(http.MethodPatch, path, env.hostToken, map[string]any{"previousStatus": nil})
	if rec.Code != http.StatusOK {
		t.Fatalf("clear: status %d, body %s", rec.Code, rec.Body.String())
	}
	got := decodeBody[session.SegmentView](t, rec)
	if got.PreviousStatus != nil || got.Status != "completed" {
		t.Fatalf("after clear = %+v", got)
	}
}

func TestStreamStartsWithSnapshot(t *testing.T) {
	env := newTestEnv(t)
	ev := env.createEvent()
	p := env.join(ev.JoinCode, "Ana", "device-1")

	srv := httptest.NewServer(env.router)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/events/"+ev.ID+"/stream?token="+p.Token, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if got := resp.Header.Get("Content-Type"); got != "text/event-stream" {
		t.Fatalf("content-type = %q", got)
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line, ok := strings.CutPrefix(scanner.Text(), "data: ")
		if !ok {
			continue
		}
		var msg broadcast.Message
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			t.Fatalf("decode message: %v", err)
		}
		if msg.Type != broadcast.KindFullState {
			t.Fatalf("first message = %s, want %s", msg.Type, broadcast.KindFullState)
		}
		return
	}
	t.Fatalf("stream ended without a message: %v", scanner.Err())
}

func TestWebSocketAnswer(t *testing.T) {
	env := newTestEnv(t)
	ev := env.createEvent()
	p := env.join(ev.JoinCode, "Ana", "device-1")
	seg := env.quizSegment(ev.ID)

	srv := httptest.NewServer(env.router)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/events/" + ev.ID + "/ws?token=" + p.Token
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.CloseNow()

	type frame struct {
		Type    string          `json:"type"`
		Payload json.RawMessage `json:"payload"`
		Receipt *session.AnswerReceipt
		Error   *ErrorResponse
	}
	read := func(want string) frame {
		t.Helper()
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				t.Fatalf("read: %v", err)
			}
			var f frame
			if err := json.Unmarshal(data, &f); err != nil {
				t.Fatalf("decode frame: %v", err)
			}
			if f.Type == want {
				return f
			}
		}
	}

	read(string(broadcast.KindFullState))
	env.action(seg.ID, session.ActionStartQuiz)
	q := read(string(broadcast.KindQuestion))

	var question session.QuestionView
	if err := json.Unmarshal(q.Payload, &question); err != nil {
		t.Fatalf("decode question: %v", err)
	}

	submit := func() frame {
		t.Helper()
		out, _ := json.Marshal(clientMessage{Type: "submit-answer", QuestionID: question.ID, Answer: "Lima"})
		if err := conn.Write(ctx, websocket.MessageText, out); err != nil {
			t.Fatalf("write: %v", err)
		}
		return read("answer-result")
	}

	if got := submit(); got.Receipt == nil || got.Error != nil {
		t.Fatalf("first submit = %+v", got)
	}
	if got := submit(); got.Error == nil || got.Error.Reason != "already_answered" {
		t.Fatalf("second submit = %+v", got)
	}

	conn.Close(websocket.StatusNormalClosure, "done")
}
