package session

import (
	"sort"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/playperu/livequiz/internal/livequiz"
)

type eventState struct {
	event livequiz.Event

	segments     map[string]*segmentState
	segmentOrder []string
	// question ID to segment ID
	questionSegment map[string]string

	participants map[string]*livequiz.Participant
	joinOrder    []string
	byDevice     map[string]string
	names        map[string]string

	// question ID to participant ID to answer
	answers map[string]map[string]livequiz.Answer

	// live realtime connections per participant
	conns map[string]int

	// retired is set once the event ends; the actor then leaves memory.
	retired bool
}

type segmentState struct {
	seg       livequiz.Segment
	questions []livequiz.Question
	timer     clockwork.Timer

	lastRecovery time.Time
	fault        error
}

func newEventState(rec livequiz.EventRecord) *eventState {
	st := &eventState{
		event:           rec.Event,
		segments:        make(map[string]*segmentState),
		questionSegment: make(map[string]string),
		participants:    make(map[string]*livequiz.Participant),
		byDevice:        make(map[string]string),
		names:           make(map[string]string),
		answers:         make(map[string]map[string]livequiz.Answer),
		conns:           make(map[string]int),
	}
	for _, seg := range rec.Segments {
		st.addSegment(seg)
	}
	for _, q := range rec.Questions {
		if ss, ok := st.segments[q.SegmentID]; ok {
			ss.questions = append(ss.questions, q)
			st.questionSegment[q.ID] = q.SegmentID
		}
	}
	for _, ss := range st.segments {
		sort.Slice(ss.questions, func(i, j int) bool {
			return ss.questions[i].Position < ss.questions[j].Position
		})
	}
	for _, p := range rec.Participants {
		// Nobody is connected to a freshly loaded event.
		p.Connection = livequiz.Disconnected
		st.addParticipant(p)
	}
	for _, a := range rec.Answers {
		st.recordAnswer(a)
	}
	return st
}

func (st *eventState) addSegment(seg livequiz.Segment) *segmentState {
	ss := &segmentState{seg: seg}
	st.segments[seg.ID] = ss
	st.segmentOrder = append(st.segmentOrder, seg.ID)
	return ss
}

func (st *eventState) addParticipant(p livequiz.Participant) {
	st.participants[p.ID] = &p
	st.joinOrder = append(st.joinOrder, p.ID)
	st.byDevice[p.DeviceFingerprint] = p.ID
	st.names[foldName(p.DisplayName)] = p.ID
}

func (st *eventState) recordAnswer(a livequiz.Answer) {
	byParticipant, ok := st.answers[a.QuestionID]
	if !ok {
		byParticipant = make(map[string]livequiz.Answer)
		st.answers[a.QuestionID] = byParticipant
	}
	byParticipant[a.ParticipantID] = a
}

func (st *eventState) answered(questionID, participantID string) (livequiz.Answer, bool) {
	a, ok := st.answers[questionID][participantID]
	return a, ok
}

func (st *eventState) isHost(c livequiz.Caller) bool {
	return c.UserID != "" && c.UserID == st.event.OwnerID
}

// canDrive reports whether c may operate the segment: the host or the
// segment's current presenter.
func (st *eventState) canDrive(c livequiz.Caller, ss *segmentState) bool {
	if st.isHost(c) {
		return true
	}
	return c.ParticipantID != "" && c.ParticipantID == ss.seg.PresenterID
}

func (st *eventState) connected(participantID string) bool {
	return st.conns[participantID] > 0
}

func (st *eventState) connectedCount() int {
	n := 0
	for _, c := range st.conns {
		if c > 0 {
			n++
		}
	}
	return n
}

func (st *eventState) participantList() []livequiz.Participant {
	out := make([]livequiz.Participant, 0, len(st.joinOrder))
	for _, id := range st.joinOrder {
		out = append(out, *st.participants[id])
	}
	return out
}

func (st *eventState) answersFor(filter func(livequiz.Answer) bool) []livequiz.Answer {
	var out []livequiz.Answer
	for _, byParticipant := range st.answers {
		for _, a := range byParticipant {
			if filter == nil || filter(a) {
				out = append(out, a)
			}
		}
	}
	return out
}

func (st *eventState) stopTimers() {
	for _, ss := range st.segments {
		ss.stopTimer()
	}
}

func (ss *segmentState) stopTimer() {
	if ss.timer != nil {
		ss.timer.Stop()
		ss.timer = nil
	}
}

func (ss *segmentState) current() (livequiz.Question, bool) {
	i := ss.seg.QuestionIndex
	if i < 0 || i >= len(ss.questions) {
		return livequiz.Question{}, false
	}
	return ss.questions[i], true
}

func (ss *segmentState) isLast() bool {
	return ss.seg.QuestionIndex >= len(ss.questions)-1
}

// accepting reports whether questionID is the open question of a quizzing
// segment.
func (ss *segmentState) accepting(questionID string) bool {
	if ss.seg.Status != livequiz.SegmentQuizzing || ss.seg.Phase != livequiz.PhaseShowingQuestion {
		return false
	}
	q, ok := ss.current()
	return ok && q.ID == questionID
}

func foldName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
