package session

import (
	"math"
	"sort"
	"time"

	"github.com/playperu/livequiz/internal/livequiz"
)

// MaxPoints is awarded for a correct answer at the instant the question
// opens. Points decay linearly to half of that at the deadline.
const MaxPoints = 1000

// Points scores one answer. Wrong answers score zero.
func Points(correct bool, responseTime, limit time.Duration) int {
	if !correct {
		return 0
	}
	if limit <= 0 {
		return MaxPoints
	}
	frac := float64(clampDuration(responseTime, 0, limit)) / float64(limit)
	return int(math.Round(MaxPoints * (1 - 0.5*frac)))
}

func clampDuration(d, lo, hi time.Duration) time.Duration {
	if d < lo {
		return lo
	}
	if d > hi {
		return hi
	}
	return d
}

type Standing struct {
	Rank          int    `json:"rank"`
	ParticipantID string `json:"participantId"`
	DisplayName   string `json:"displayName"`
	Score         int    `json:"score"`
	Correct       int    `json:"correct"`
	Answered      int    `json:"answered"`
}

// Rank totals answers per participant. Ties on score are broken by
// display name and then participant ID so every caller sees the same
// order. Equal scores share a rank.
func Rank(participants []livequiz.Participant, answers []livequiz.Answer) []Standing {
	byID := make(map[string]*Standing, len(participants))
	out := make([]Standing, 0, len(participants))
	for _, p := range participants {
		out = append(out, Standing{ParticipantID: p.ID, DisplayName: p.DisplayName})
	}
	for i := range out {
		byID[out[i].ParticipantID] = &out[i]
	}
	for _, a := range answers {
		s, ok := byID[a.ParticipantID]
		if !ok {
			continue
		}
		s.Score += a.PointsAwarded
		s.Answered++
		if a.IsCorrect {
			s.Correct++
		}
	}

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.DisplayName != b.DisplayName {
			return a.DisplayName < b.DisplayName
		}
		return a.ParticipantID < b.ParticipantID
	})
	for i := range out {
		if i > 0 && out[i].Score == out[i-1].Score {
			out[i].Rank = out[i-1].Rank
		} else {
			out[i].Rank = i + 1
		}
	}
	return out
}

type OptionCount struct {
	Answer    string `json:"answer"`
	Count     int    `json:"count"`
	IsCorrect bool   `json:"isCorrect"`
}

// Distribute counts answers per option. Options the question offers come
// first in display order, followed by any other submitted values.
func Distribute(q livequiz.Question, answers []livequiz.Answer) []OptionCount {
	counts := make(map[string]int)
	for _, a := range answers {
		if a.QuestionID == q.ID {
			counts[a.ChosenAnswer]++
		}
	}

	opts := q.Options()
	known := make(map[string]bool, len(opts))
	out := make([]OptionCount, 0, len(opts))
	for _, o := range opts {
		known[o] = true
		out = append(out, OptionCount{Answer: o, Count: counts[o], IsCorrect: o == q.CorrectAnswer})
	}

	var extra []string
	for v := range counts {
		if !known[v] {
			extra = append(extra, v)
		}
	}
	sort.Strings(extra)
	for _, v := range extra {
		out = append(out, OptionCount{Answer: v, Count: counts[v]})
	}
	return out
}
