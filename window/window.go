// Package window resolves how far back a run looks for posts.
package window

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"time"

	"simplefeed/pkg/simplefeed"
)

const (
	// DefaultHours is used when no run has succeeded yet.
	DefaultHours = 24

	// FallbackHours is used when the stored run state is unusable.
	FallbackHours = 24
)

// StateLoader reads the last successful run timestamp.
type StateLoader interface {
	LastRun(ctx context.Context) (time.Time, error)
}

// Resolver determines the lookback window in hours.
type Resolver struct {
	store  StateLoader
	logger *slog.Logger
	now    func() time.Time
}

// New creates a new window resolver.
func New(store StateLoader, logger *slog.Logger) *Resolver {
	return &Resolver{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// WithClock replaces the time source, mainly for tests.
func (r *Resolver) WithClock(now func() time.Time) *Resolver {
	r.now = now
	return r
}

// Resolve returns explicitHours when positive. Otherwise the window covers the
// time since the last successful run, rounded up to whole hours.
func (r *Resolver) Resolve(ctx context.Context, explicitHours int) int {
	if explicitHours > 0 {
		r.logger.Debug("Using explicit window", "window_hours", explicitHours)
		return explicitHours
	}

	last, err := r.store.LastRun(ctx)
	switch {
	case errors.Is(err, simplefeed.ErrStateNotFound):
		r.logger.Info("No previous run recorded, using default window", "window_hours", DefaultHours)
		return DefaultHours
	case errors.Is(err, simplefeed.ErrStateCorrupt):
		r.logger.Warn("Run state is corrupt, using fallback window", "window_hours", FallbackHours, "error", err)
		return FallbackHours
	case err != nil:
		r.logger.Warn("Failed to load run state, using fallback window", "window_hours", FallbackHours, "error", err)
		return FallbackHours
	}

	hours := HoursSince(last, r.now())
	r.logger.Info("Window derived from last run",
		"last_run", last.UTC().Format(time.RFC3339),
		"window_hours", hours)
	return hours
}

// HoursSince returns the whole hours needed to cover the span from last to now.
// The result is at least 1 so a run right after another still looks back.
func HoursSince(last, now time.Time) int {
	hours := int(math.Ceil(now.Sub(last).Hours()))
	if hours < 1 {
		return 1
	}
	return hours
}
