// Package storage handles persistence of the last successful run timestamp.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/codeGROOVE-dev/retry"

	"simplefeed/pkg/simplefeed"
)

// DefaultObject is the object name used for the run state in a bucket.
const DefaultObject = "last_run.txt"

// Accepted timestamp layouts, newest writer format first. The naive layouts
// cover files written by older releases without a zone offset.
var layouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// Store handles run state persistence.
type Store struct {
	client    *storage.Client
	logger    *slog.Logger
	localPath string
	bucket    string
	object    string
}

// New creates a new storage handler. When localPath is set the state lives in
// that file; otherwise it is the DefaultObject in bucket.
func New(client *storage.Client, bucket string, localPath string, logger *slog.Logger) *Store {
	return &Store{
		client:    client,
		logger:    logger,
		localPath: localPath,
		bucket:    bucket,
		object:    DefaultObject,
	}
}

// LastRun loads the timestamp of the last successful dispatch.
// Returns ErrStateNotFound when nothing was saved yet and ErrStateCorrupt when
// the stored value cannot be parsed.
func (s *Store) LastRun(ctx context.Context) (time.Time, error) {
	data, err := s.read(ctx)
	if err != nil {
		return time.Time{}, err
	}

	t, err := ParseTimestamp(string(data))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %w", simplefeed.ErrStateCorrupt, err)
	}
	return t, nil
}

// SaveLastRun overwrites the stored timestamp.
func (s *Store) SaveLastRun(ctx context.Context, t time.Time) error {
	data := []byte(t.UTC().Format(time.RFC3339) + "\n")

	// Local filesystem storage
	if s.localPath != "" {
		if dir := filepath.Dir(s.localPath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("create state directory: %w", err)
			}
		}
		if err := os.WriteFile(s.localPath, data, 0o600); err != nil {
			return fmt.Errorf("write to local storage: %w", err)
		}
		s.logger.Info("Run state saved to local storage", "path", s.localPath, "last_run", t.UTC().Format(time.RFC3339))
		return nil
	}

	// Cloud Storage with retry logic for reliability
	err := retry.Do(
		func() error {
			w := s.client.Bucket(s.bucket).Object(s.object).NewWriter(ctx)
			w.ContentType = "text/plain"
			if _, writeErr := w.Write(data); writeErr != nil {
				if closeErr := w.Close(); closeErr != nil {
					s.logger.Warn("Failed to close writer after error", "error", closeErr)
				}
				return fmt.Errorf("write to storage: %w", writeErr)
			}
			if closeErr := w.Close(); closeErr != nil {
				return fmt.Errorf("close storage writer: %w", closeErr)
			}
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(30*time.Second),
		retry.MaxJitter(5*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, retryErr error) {
			s.logger.Info("Retrying save operation after error", "attempt", n, "object", s.object, "error", retryErr)
		}),
	)
	if err != nil {
		return fmt.Errorf("save after retries: %w", err)
	}

	s.logger.Info("Run state saved", "bucket", s.bucket, "object", s.object, "last_run", t.UTC().Format(time.RFC3339))
	return nil
}

func (s *Store) read(ctx context.Context) ([]byte, error) {
	// Local filesystem storage
	if s.localPath != "" {
		data, err := os.ReadFile(s.localPath)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, simplefeed.ErrStateNotFound
			}
			return nil, fmt.Errorf("read from local storage: %w", err)
		}
		return data, nil
	}

	// Cloud Storage with retry logic for reliability
	var data []byte
	err := retry.Do(
		func() error {
			r, openErr := s.client.Bucket(s.bucket).Object(s.object).NewReader(ctx)
			if openErr != nil {
				// Don't retry on "not found" errors
				if errors.Is(openErr, storage.ErrObjectNotExist) {
					return retry.Unrecoverable(simplefeed.ErrStateNotFound)
				}
				return fmt.Errorf("open storage reader: %w", openErr)
			}
			defer func() {
				if closeErr := r.Close(); closeErr != nil {
					s.logger.Warn("Failed to close storage reader", "error", closeErr)
				}
			}()

			var readErr error
			data, readErr = io.ReadAll(r)
			if readErr != nil {
				return fmt.Errorf("read from storage: %w", readErr)
			}
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(30*time.Second),
		retry.MaxJitter(5*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, retryErr error) {
			s.logger.Info("Retrying load operation after error", "attempt", n, "object", s.object, "error", retryErr)
		}),
	)
	if err != nil {
		if errors.Is(err, simplefeed.ErrStateNotFound) {
			return nil, simplefeed.ErrStateNotFound
		}
		return nil, fmt.Errorf("load after retries: %w", err)
	}
	return data, nil
}

// ParseTimestamp parses a stored ISO-8601 timestamp. Values without a zone
// offset are interpreted in the local time zone.
func ParseTimestamp(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	for _, layout := range layouts {
		if t, err := time.ParseInLocation(layout, raw, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", raw)
}
