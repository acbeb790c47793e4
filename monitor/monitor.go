// Package monitor runs one digest cycle: fetch the feed, filter it and mail
// the matches.
package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"simplefeed/digest"
	"simplefeed/feed"
	"simplefeed/pkg/simplefeed"
	"simplefeed/terms"
)

// FeedSource interface for the authenticated feed.
type FeedSource interface {
	Login(ctx context.Context, username, password string) error
	Collect(ctx context.Context, maxItems int) ([]json.RawMessage, error)
}

// WindowResolver interface for the lookback window.
type WindowResolver interface {
	Resolve(ctx context.Context, explicitHours int) int
}

// Matcher interface for filtering and enrichment.
type Matcher interface {
	Run(ctx context.Context, posts []simplefeed.NormalizedPost, terms simplefeed.TermSet,
		windowHours int, now time.Time) []*simplefeed.MatchRecord
}

// Attacher interface for image downloads.
type Attacher interface {
	Attach(ctx context.Context, matches []*simplefeed.MatchRecord, dir string) []error
}

// Emailer interface for sending the digest.
type Emailer interface {
	SendDigest(ctx context.Context, to string, p *digest.Payload) error
}

// StateSaver interface for run state persistence.
type StateSaver interface {
	SaveLastRun(ctx context.Context, t time.Time) error
}

// Config holds per-run settings.
type Config struct {
	TermsPath   string
	Recipient   string
	Username    string
	Password    string
	TempParent  string // Parent of the per-run attachment directory, os.TempDir() when empty
	WindowHours int    // Explicit window, 0 resolves it from run state
	MaxItems    int
}

// Result summarizes one run.
type Result struct {
	StartedAt     time.Time
	Matches       []*simplefeed.MatchRecord
	WindowHours   int
	Items         int
	Posts         int
	ImageFailures int
	Sent          bool
}

// Monitor runs digest cycles. Runs never overlap.
type Monitor struct {
	feed     FeedSource
	window   WindowResolver
	matcher  Matcher
	attacher Attacher
	emailer  Emailer
	state    StateSaver
	logger   *slog.Logger
	now      func() time.Time
	last     []*simplefeed.MatchRecord
	cfg      Config
	mu       sync.Mutex   // serializes runs
	lastMu   sync.RWMutex // guards last
}

// Deps bundles the collaborators of a Monitor.
type Deps struct {
	Feed     FeedSource
	Window   WindowResolver
	Matcher  Matcher
	Attacher Attacher
	Emailer  Emailer
	State    StateSaver
	Logger   *slog.Logger
}

// New creates a new monitor.
func New(cfg Config, deps Deps) *Monitor {
	return &Monitor{
		cfg:      cfg,
		feed:     deps.Feed,
		window:   deps.Window,
		matcher:  deps.Matcher,
		attacher: deps.Attacher,
		emailer:  deps.Emailer,
		state:    deps.State,
		logger:   deps.Logger,
		now:      time.Now,
	}
}

// Run executes one cycle. It returns simplefeed.ErrNothingToSend when no post
// matched; the run state is only advanced after a successful send.
func (m *Monitor) Run(ctx context.Context) (*Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	startTime := m.now()
	result := &Result{StartedAt: startTime}

	termSet, err := terms.Load(m.cfg.TermsPath)
	if err != nil {
		return result, err
	}
	if len(termSet) == 0 {
		m.logger.Warn("Term file is empty, nothing can match", "path", m.cfg.TermsPath)
	}

	result.WindowHours = m.window.Resolve(ctx, m.cfg.WindowHours)
	m.logger.Info("Starting digest run",
		"terms", len(termSet),
		"window_hours", result.WindowHours,
		"timestamp", startTime.Format(time.RFC3339))

	if err := m.feed.Login(ctx, m.cfg.Username, m.cfg.Password); err != nil {
		return result, fmt.Errorf("login: %w", err)
	}

	items, err := m.feed.Collect(ctx, m.cfg.MaxItems)
	if err != nil {
		return result, fmt.Errorf("collect feed: %w", err)
	}
	result.Items = len(items)

	posts, _ := feed.NormalizeAll(items, m.logger)
	result.Posts = len(posts)

	matches := m.matcher.Run(ctx, posts, termSet, result.WindowHours, startTime)
	result.Matches = matches
	m.publish(matches)

	if len(matches) == 0 {
		m.logger.Info("No matching posts, nothing to send",
			"items", result.Items,
			"posts", result.Posts)
		return result, simplefeed.ErrNothingToSend
	}

	dir, err := os.MkdirTemp(m.cfg.TempParent, "simplefeed-*")
	if err != nil {
		return result, fmt.Errorf("create attachment dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			m.logger.Warn("Failed to remove attachment dir", "path", dir, "error", err)
		}
	}()

	failures := m.attacher.Attach(ctx, matches, dir)
	result.ImageFailures = len(failures)

	payload, err := digest.Build(matches, termSet)
	if err != nil {
		return result, fmt.Errorf("build digest: %w", err)
	}

	if err := m.emailer.SendDigest(ctx, m.cfg.Recipient, payload); err != nil {
		m.logger.Error("Digest dispatch failed, run state not updated", "error", err)
		return result, err
	}
	result.Sent = true

	if err := m.state.SaveLastRun(ctx, startTime); err != nil {
		// The digest is out; the next window just covers a longer period.
		m.logger.Error("Failed to save run state", "error", err)
	}

	m.logger.Info("Digest run completed",
		"match_count", len(matches),
		"image_failures", result.ImageFailures,
		"duration_ms", m.now().Sub(startTime).Milliseconds())
	return result, nil
}

// LastMatches returns the matches of the most recent run that got as far as
// filtering. It does not wait for a run in progress.
func (m *Monitor) LastMatches() []*simplefeed.MatchRecord {
	m.lastMu.RLock()
	defer m.lastMu.RUnlock()
	return m.last
}

// publish stores copies of the matches; Attach edits the originals.
func (m *Monitor) publish(matches []*simplefeed.MatchRecord) {
	snapshot := make([]*simplefeed.MatchRecord, len(matches))
	for i, rec := range matches {
		c := *rec
		snapshot[i] = &c
	}
	m.lastMu.Lock()
	m.last = snapshot
	m.lastMu.Unlock()
}

// CheckAll runs one cycle for callers that only care about failures.
// Nothing to send is not a failure.
func (m *Monitor) CheckAll(ctx context.Context) error {
	_, err := m.Run(ctx)
	if errors.Is(err, simplefeed.ErrNothingToSend) {
		return nil
	}
	return err
}
