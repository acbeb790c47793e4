package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Schedule runs the poller on a cron spec such as "@hourly" or "0 * * * *".
type Schedule struct {
	cron   *cron.Cron
	poller Poller
	logger *slog.Logger
}

// NewSchedule registers the poller under spec. Runs that start while a
// previous one is still going are skipped.
func NewSchedule(spec string, poller Poller, logger *slog.Logger) (*Schedule, error) {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	s := &Schedule{cron: c, poller: poller, logger: logger}

	if _, err := c.AddFunc(spec, s.run); err != nil {
		return nil, fmt.Errorf("parse schedule %q: %w", spec, err)
	}
	return s, nil
}

func (s *Schedule) run() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	s.logger.Info("Scheduled digest run starting")
	if err := s.poller.CheckAll(ctx); err != nil {
		s.logger.Error("Scheduled digest run failed", "error", err)
	}
}

// Start begins running the schedule in the background.
func (s *Schedule) Start() {
	s.cron.Start()
	for _, e := range s.cron.Entries() {
		s.logger.Info("Schedule started", "next_run", e.Next.Format(time.RFC3339))
	}
}

// Stop stops the schedule and waits for a running job to finish.
func (s *Schedule) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("Schedule stopped")
}
