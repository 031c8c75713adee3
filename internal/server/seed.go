package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/playperu/livequiz/internal/auth"
	"github.com/playperu/livequiz/internal/livequiz"
	"github.com/playperu/livequiz/internal/session"
)

const demoHost = "demo-host"

var demoQuestions = []session.QuestionInput{
	{Text: "Which city was the capital of the Inca Empire?", CorrectAnswer: "Cusco",
		WrongAnswers: []string{"Lima", "Quito", "La Paz"}, TimeLimitSeconds: 20},
	{Text: "Which lake sits on the border of Peru and Bolivia?", CorrectAnswer: "Titicaca",
		WrongAnswers: []string{"Poopó", "Junín", "Arapa"}, TimeLimitSeconds: 20},
	{Text: "In which year was Machu Picchu brought to international attention?", CorrectAnswer: "1911",
		WrongAnswers: []string{"1850", "1932", "1899"}, TimeLimitSeconds: 30},
}

// SeedDemo creates a demo event with one quiz-ready segment and logs the
// join code and a host token for driving it.
func SeedDemo(ctx context.Context, logger *slog.Logger, engine *session.Engine, tokens *auth.Tokens) error {
	host := livequiz.Caller{UserID: demoHost}

	ev, err := engine.CreateEvent(ctx, host, "Demo quiz")
	if err != nil {
		return err
	}
	seg, err := engine.CreateSegment(ctx, host, ev.ID, "Peru trivia", "")
	if err != nil {
		return err
	}
	for _, q := range demoQuestions {
		if _, err := engine.AddQuestion(ctx, host, seg.ID, q); err != nil {
			return err
		}
	}
	if _, err := engine.Apply(ctx, host, seg.ID, session.ActionContentReady); err != nil {
		return err
	}

	token, err := tokens.IssueHost(demoHost, 24*time.Hour)
	if err != nil {
		return err
	}

	logger.Info("demo event seeded",
		"event_id", ev.ID,
		"segment_id", seg.ID,
		"join_code", ev.JoinCode,
		"host_token", token,
	)
	return nil
}
