// Package scheduler fires the weekly generation trigger and the periodic
// publish pass without any external job queue. Both jobs are idempotent, so a
// missed or duplicated tick is harmless.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/ethdevwatch/ethdevwatch/internal/domain"
	"github.com/ethdevwatch/ethdevwatch/internal/timeutil"
)

const publishInterval = 5 * time.Minute

// Generator runs one generation attempt for the most recently completed week.
type Generator interface {
	Generate(ctx context.Context, requested time.Time) (*domain.Article, bool, error)
}

// Publisher promotes scheduled articles whose publish time has passed.
type Publisher interface {
	PublishDue(ctx context.Context) (int, error)
}

type Scheduler struct {
	generator Generator
	publisher Publisher
	log       *slog.Logger
}

func New(generator Generator, publisher Publisher, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default().With("component", "scheduler")
	}
	return &Scheduler{
		generator: generator,
		publisher: publisher,
		log:       log,
	}
}

// Start runs both loops until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	go s.generationLoop(ctx)
	go s.publishLoop(ctx)
	s.log.Info("scheduler started",
		"next_generation", nextMonday(timeutil.Now()).Format(time.RFC3339),
		"publish_interval", publishInterval.String(),
	)
}

// generationLoop triggers article generation every Monday at 00:00 UTC. The
// timer is re-armed after each run instead of using a fixed ticker so drift
// and long runs cannot skew the schedule.
func (s *Scheduler) generationLoop(ctx context.Context) {
	for {
		wait := time.Until(nextMonday(timeutil.Now()))
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		s.log.Info("weekly generation trigger fired")
		article, conflict, err := s.generator.Generate(ctx, time.Time{})
		switch {
		case err != nil:
			s.log.Error("scheduled generation failed", "error", err)
		case conflict:
			s.log.Info("week already covered, skipping", "article_id", article.ID)
		default:
			s.log.Info("scheduled generation finished", "article_id", article.ID, "status", article.Status)
		}
	}
}

// publishLoop promotes due scheduled articles every five minutes.
func (s *Scheduler) publishLoop(ctx context.Context) {
	ticker := time.NewTicker(publishInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		n, err := s.publisher.PublishDue(ctx)
		if err != nil {
			s.log.Error("publish pass failed", "error", err)
			continue
		}
		if n > 0 {
			s.log.Info("published scheduled articles", "count", n)
		}
	}
}

// nextMonday returns the first Monday 00:00 UTC strictly after t.
func nextMonday(t time.Time) time.Time {
	monday := timeutil.MondayOf(t)
	if !monday.After(t) {
		monday = monday.AddDate(0, 0, 7)
	}
	return monday
}
