package session

import (
	"fmt"

	"github.com/playperu/livequiz/internal/livequiz"
)

// Action is a requested change to a segment's status or quiz phase.
type Action string

const (
	ActionStart           Action = "start"
	ActionPause           Action = "pause"
	ActionResumeRecording Action = "resume-recording"
	ActionStop            Action = "stop"
	ActionContentReady    Action = "content-ready"
	ActionStartQuiz       Action = "start-quiz"
	ActionReveal          Action = "reveal"
	ActionShowLeaderboard Action = "leaderboard"
	ActionNextQuestion    Action = "next"
	ActionEndQuiz         Action = "end-quiz"
	ActionEndSegment      Action = "end"
)

func (a Action) Valid() bool {
	switch a {
	case ActionStart, ActionPause, ActionResumeRecording, ActionStop, ActionContentReady,
		ActionStartQuiz, ActionReveal, ActionShowLeaderboard, ActionNextQuestion,
		ActionEndQuiz, ActionEndSegment:
		return true
	}
	return false
}

type statusEdge struct {
	from   livequiz.SegmentStatus
	action Action
}

// statusTransitions lists every permitted status change. Anything absent
// is rejected.
var statusTransitions = map[statusEdge]livequiz.SegmentStatus{
	{livequiz.SegmentPending, ActionStart}:                   livequiz.SegmentRecording,
	{livequiz.SegmentRecording, ActionPause}:                 livequiz.SegmentRecordingPaused,
	{livequiz.SegmentRecordingPaused, ActionResumeRecording}: livequiz.SegmentRecording,
	{livequiz.SegmentRecording, ActionStop}:                  livequiz.SegmentQuizReady,
	{livequiz.SegmentRecordingPaused, ActionStop}:            livequiz.SegmentQuizReady,
	{livequiz.SegmentPending, ActionContentReady}:            livequiz.SegmentQuizReady,
	{livequiz.SegmentRecording, ActionContentReady}:          livequiz.SegmentQuizReady,
	{livequiz.SegmentRecordingPaused, ActionContentReady}:    livequiz.SegmentQuizReady,
	{livequiz.SegmentQuizReady, ActionStartQuiz}:             livequiz.SegmentQuizzing,
	{livequiz.SegmentQuizzing, ActionEndQuiz}:                livequiz.SegmentCompleted,
	{livequiz.SegmentPending, ActionEndSegment}:              livequiz.SegmentCompleted,
	{livequiz.SegmentRecording, ActionEndSegment}:            livequiz.SegmentCompleted,
	{livequiz.SegmentRecordingPaused, ActionEndSegment}:      livequiz.SegmentCompleted,
	{livequiz.SegmentQuizReady, ActionEndSegment}:            livequiz.SegmentCompleted,
	{livequiz.SegmentQuizzing, ActionEndSegment}:             livequiz.SegmentCompleted,
}

type phaseEdge struct {
	from   livequiz.Phase
	action Action
}

// phaseTransitions lists every permitted phase change while quizzing.
var phaseTransitions = map[phaseEdge]livequiz.Phase{
	{livequiz.PhaseShowingQuestion, ActionReveal}:          livequiz.PhaseRevealingAnswer,
	{livequiz.PhaseRevealingAnswer, ActionShowLeaderboard}: livequiz.PhaseShowingLeaderboard,
	{livequiz.PhaseShowingLeaderboard, ActionNextQuestion}: livequiz.PhaseShowingQuestion,
	{livequiz.PhaseShowingLeaderboard, ActionEndQuiz}:      livequiz.PhaseComplete,
}

func isPhaseAction(a Action) bool {
	switch a {
	case ActionReveal, ActionShowLeaderboard, ActionNextQuestion, ActionEndQuiz:
		return true
	}
	return false
}

// nextState returns the status and phase that action leads to from seg.
// An unknown stored status or phase is a fault, never a guess.
func nextState(seg livequiz.Segment, action Action, lastQuestion bool) (livequiz.SegmentStatus, livequiz.Phase, error) {
	if !seg.Status.Valid() {
		return "", "", livequiz.Faulted(fmt.Errorf("unknown segment status %q", seg.Status))
	}
	if !seg.Phase.Valid() {
		return "", "", livequiz.Faulted(fmt.Errorf("unknown phase %q", seg.Phase))
	}
	if !action.Valid() {
		return "", "", livequiz.InvalidInput("unknown action %q", action)
	}

	status, phase := seg.Status, seg.Phase

	if isPhaseAction(action) {
		if seg.Status != livequiz.SegmentQuizzing {
			return "", "", livequiz.InvalidTransition("cannot %s while segment is %s", action, seg.Status)
		}
		to, ok := phaseTransitions[phaseEdge{seg.Phase, action}]
		if !ok {
			return "", "", livequiz.InvalidTransition("cannot %s from phase %s", action, seg.Phase)
		}
		switch {
		case action == ActionNextQuestion && lastQuestion:
			return "", "", livequiz.InvalidTransition("no questions remain; end the quiz instead")
		case action == ActionEndQuiz && !lastQuestion:
			return "", "", livequiz.InvalidTransition("questions remain; show the next question instead")
		}
		phase = to
	}

	if action == ActionEndQuiz || !isPhaseAction(action) {
		to, ok := statusTransitions[statusEdge{seg.Status, action}]
		if !ok {
			return "", "", livequiz.InvalidTransition("cannot %s a segment that is %s", action, seg.Status)
		}
		status = to
	}

	switch action {
	case ActionStartQuiz:
		phase = livequiz.PhaseShowingQuestion
	case ActionEndSegment:
		phase = livequiz.PhaseComplete
	}
	return status, phase, nil
}

// actionForStatus maps a requested target status onto the action that
// reaches it from the current status.
func actionForStatus(from, to livequiz.SegmentStatus) (Action, error) {
	if !to.Valid() {
		return "", livequiz.InvalidInput("unknown status %q", to)
	}
	// end-quiz is left out: it only fires from the final leaderboard.
	for _, a := range []Action{ActionStart, ActionPause, ActionResumeRecording, ActionStop,
		ActionContentReady, ActionStartQuiz, ActionEndSegment} {
		if target, ok := statusTransitions[statusEdge{from, a}]; ok && target == to {
			return a, nil
		}
	}
	return "", livequiz.InvalidTransition("cannot change status from %s to %s", from, to)
}
