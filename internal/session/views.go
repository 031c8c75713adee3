package session

import (
	"time"

	"github.com/playperu/livequiz/internal/livequiz"
)

type EventView struct {
	ID               string               `json:"id"`
	JoinCode         string               `json:"joinCode"`
	Title            string               `json:"title"`
	Locked           bool                 `json:"locked"`
	Status           livequiz.EventStatus `json:"status"`
	ParticipantCount int                  `json:"participantCount"`
	ConnectedCount   int                  `json:"connectedCount"`
	Segments         []SegmentView        `json:"segments"`
}

type SegmentView struct {
	ID              string                  `json:"id"`
	EventID         string                  `json:"eventId"`
	Title           string                  `json:"title"`
	PresenterID     string                  `json:"presenterId,omitempty"`
	Status          livequiz.SegmentStatus  `json:"status"`
	PreviousStatus  *livequiz.SegmentStatus `json:"previousStatus"`
	Phase           livequiz.Phase          `json:"phase"`
	QuestionIndex   int                     `json:"questionIndex"`
	QuestionCount   int                     `json:"questionCount"`
	Deadline        *time.Time              `json:"deadline,omitempty"`
	QuestionExpired bool                    `json:"questionExpired"`
	Faulted         bool                    `json:"faulted,omitempty"`
}

// QuestionView is what participants see while a question is open. It
// never carries the correct answer.
type QuestionView struct {
	ID               string     `json:"id"`
	SegmentID        string     `json:"segmentId"`
	Text             string     `json:"text"`
	Options          []string   `json:"options"`
	Index            int        `json:"index"`
	Count            int        `json:"count"`
	TimeLimitSeconds int        `json:"timeLimitSeconds"`
	Deadline         *time.Time `json:"deadline,omitempty"`
}

type RevealView struct {
	QuestionID    string        `json:"questionId"`
	CorrectAnswer string        `json:"correctAnswer"`
	Distribution  []OptionCount `json:"distribution"`
}

type ParticipantView struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Avatar      string `json:"avatar,omitempty"`
	Connected   bool   `json:"connected"`
}

type AnswerProgress struct {
	QuestionID  string `json:"questionId"`
	Answered    int    `json:"answered"`
	Expected    int    `json:"expected"`
	AllAnswered bool   `json:"allAnswered"`
}

// PresenterChange tells clients who presents a segment. SwitchView asks
// the client of PresenterID to open the presenter view.
type PresenterChange struct {
	SegmentID           string `json:"segmentId"`
	PresenterID         string `json:"presenterId"`
	PreviousPresenterID string `json:"previousPresenterId,omitempty"`
	Reason              string `json:"reason"`
	SwitchView          bool   `json:"switchView"`
}

type PresenterDisconnected struct {
	SegmentID   string            `json:"segmentId"`
	PresenterID string            `json:"presenterId"`
	Candidates  []ParticipantView `json:"candidates"`
}

type QuestionExpired struct {
	QuestionID string `json:"questionId"`
}

// Snapshot is the full state delivered to a subscriber on connect.
type Snapshot struct {
	Event       EventView         `json:"event"`
	Segment     *SegmentView      `json:"segment,omitempty"`
	Question    *QuestionView     `json:"question,omitempty"`
	Reveal      *RevealView       `json:"reveal,omitempty"`
	Leaderboard []Standing        `json:"leaderboard,omitempty"`
	Progress    *AnswerProgress   `json:"progress,omitempty"`
	Roster      []ParticipantView `json:"roster"`
	You         *ParticipantView  `json:"you,omitempty"`
	YourAnswer  *string           `json:"yourAnswer,omitempty"`
	ServerTime  time.Time         `json:"serverTime"`
}

func (st *eventState) eventView() EventView {
	v := EventView{
		ID:               st.event.ID,
		JoinCode:         st.event.JoinCode,
		Title:            st.event.Title,
		Locked:           st.event.IsLocked(),
		Status:           st.event.Status,
		ParticipantCount: len(st.participants),
		ConnectedCount:   st.connectedCount(),
		Segments:         make([]SegmentView, 0, len(st.segmentOrder)),
	}
	for _, id := range st.segmentOrder {
		v.Segments = append(v.Segments, st.segments[id].view())
	}
	return v
}

func (ss *segmentState) view() SegmentView {
	v := SegmentView{
		ID:              ss.seg.ID,
		EventID:         ss.seg.EventID,
		Title:           ss.seg.Title,
		PresenterID:     ss.seg.PresenterID,
		Status:          ss.seg.Status,
		Phase:           ss.seg.Phase,
		QuestionIndex:   ss.seg.QuestionIndex,
		QuestionCount:   len(ss.questions),
		Deadline:        ss.seg.Deadline,
		QuestionExpired: ss.seg.QuestionExpired,
		Faulted:         ss.fault != nil,
	}
	if ss.seg.PreviousStatus != "" {
		prev := ss.seg.PreviousStatus
		v.PreviousStatus = &prev
	}
	return v
}

func (ss *segmentState) questionView() (*QuestionView, bool) {
	q, ok := ss.current()
	if !ok {
		return nil, false
	}
	return &QuestionView{
		ID:               q.ID,
		SegmentID:        ss.seg.ID,
		Text:             q.Text,
		Options:          q.Options(),
		Index:            ss.seg.QuestionIndex,
		Count:            len(ss.questions),
		TimeLimitSeconds: q.TimeLimitSeconds,
		Deadline:         ss.seg.Deadline,
	}, true
}

func (st *eventState) revealView(ss *segmentState) (*RevealView, bool) {
	q, ok := ss.current()
	if !ok {
		return nil, false
	}
	return &RevealView{
		QuestionID:    q.ID,
		CorrectAnswer: q.CorrectAnswer,
		Distribution:  Distribute(q, st.answersFor(func(a livequiz.Answer) bool { return a.QuestionID == q.ID })),
	}, true
}

func (st *eventState) participantView(p *livequiz.Participant) ParticipantView {
	return ParticipantView{
		ID:          p.ID,
		DisplayName: p.DisplayName,
		Avatar:      p.Avatar,
		Connected:   st.connected(p.ID),
	}
}

func (st *eventState) roster() []ParticipantView {
	out := make([]ParticipantView, 0, len(st.joinOrder))
	for _, id := range st.joinOrder {
		out = append(out, st.participantView(st.participants[id]))
	}
	return out
}

func (st *eventState) segmentLeaderboard(segmentID string) []Standing {
	return Rank(st.participantList(), st.answersFor(func(a livequiz.Answer) bool { return a.SegmentID == segmentID }))
}

func (st *eventState) eventLeaderboard() []Standing {
	return Rank(st.participantList(), st.answersFor(nil))
}

// progress counts answers to the open question against connected
// participants other than the presenter.
func (st *eventState) progress(ss *segmentState) (*AnswerProgress, bool) {
	q, ok := ss.current()
	if !ok || ss.seg.Status != livequiz.SegmentQuizzing {
		return nil, false
	}
	p := &AnswerProgress{QuestionID: q.ID}
	for id := range st.participants {
		if id == ss.seg.PresenterID {
			continue
		}
		_, did := st.answered(q.ID, id)
		if did {
			p.Answered++
		}
		if did || st.connected(id) {
			p.Expected++
		}
	}
	p.AllAnswered = p.Expected > 0 && p.Answered >= p.Expected
	return p, true
}

// snapshot builds the state a subscriber sees on connect. segmentID and
// participantID may be empty.
func (st *eventState) snapshot(segmentID, participantID string, now time.Time) Snapshot {
	snap := Snapshot{
		Event:      st.eventView(),
		Roster:     st.roster(),
		ServerTime: now,
	}
	if p, ok := st.participants[participantID]; ok {
		v := st.participantView(p)
		snap.You = &v
	}

	ss, ok := st.segments[segmentID]
	if !ok {
		return snap
	}
	sv := ss.view()
	snap.Segment = &sv

	if ss.seg.Status != livequiz.SegmentQuizzing && ss.seg.Phase != livequiz.PhaseComplete {
		return snap
	}
	switch ss.seg.Phase {
	case livequiz.PhaseShowingQuestion:
		snap.Question, _ = ss.questionView()
	case livequiz.PhaseRevealingAnswer:
		snap.Question, _ = ss.questionView()
		snap.Reveal, _ = st.revealView(ss)
	case livequiz.PhaseShowingLeaderboard, livequiz.PhaseComplete:
		snap.Leaderboard = st.segmentLeaderboard(ss.seg.ID)
	}
	if ss.seg.Status == livequiz.SegmentQuizzing {
		snap.Progress, _ = st.progress(ss)
		if q, ok := ss.current(); ok {
			if a, ok := st.answered(q.ID, participantID); ok {
				chosen := a.ChosenAnswer
				snap.YourAnswer = &chosen
			}
		}
	}
	return snap
}
