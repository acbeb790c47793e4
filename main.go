// Package main implements simplefeed, which mails a digest of social feed
// posts matching a list of search terms, either once or as a service.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	gcs "cloud.google.com/go/storage"
	"github.com/joho/godotenv"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"simplefeed/cache"
	"simplefeed/email"
	"simplefeed/feed"
	"simplefeed/filter"
	"simplefeed/monitor"
	"simplefeed/pkg/simplefeed"
	"simplefeed/server"
	"simplefeed/storage"
	"simplefeed/window"
)

const (
	exitSent      = 0
	exitFailure   = 1
	exitNoContent = 2
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout))
}

func run(args []string, stdout io.Writer) int {
	// Values from .env only fill in variables that are not already set
	envErr := godotenv.Load()

	cfg, err := parseConfig(args)
	if errors.Is(err, errHelp) {
		return exitSent
	}
	if err != nil {
		return exitFailure
	}

	logger := newLogger(cfg, stdout)
	slog.SetDefault(logger)
	if envErr != nil && !errors.Is(envErr, fs.ErrNotExist) {
		logger.Warn("Failed to load .env file", "error", envErr)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mon, cleanup, err := build(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize", "error", err)
		return exitFailure
	}
	defer cleanup()

	if cfg.Serve {
		if err := serve(ctx, cfg, mon, logger); err != nil {
			logger.Error("Server failed", "error", err)
			return exitFailure
		}
		return exitSent
	}

	result, err := mon.Run(ctx)
	code := exitCode(err)
	switch code {
	case exitSent:
		logger.Info("Digest sent", "match_count", len(result.Matches), "recipient", cfg.Address)
	case exitNoContent:
		logger.Info("Nothing to send")
	default:
		logger.Error("Digest run failed", "error", err)
	}
	return code
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return exitSent
	case errors.Is(err, simplefeed.ErrNothingToSend):
		return exitNoContent
	default:
		return exitFailure
	}
}

func newLogger(cfg *Config, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if cfg.Debug {
		opts.Level = slog.LevelDebug
	}
	if cfg.LogFormat == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// build wires the monitor. On success the returned cleanup releases clients
// and caches.
func build(ctx context.Context, cfg *Config, logger *slog.Logger) (*monitor.Monitor, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	httpClient := &http.Client{Timeout: 30 * time.Second}

	feedClient, err := feed.New(httpClient, feed.Config{
		BaseURL:        cfg.FeedBaseURL,
		ProfilePageURL: cfg.FeedProfilePage,
		UserAgent:      cfg.UserAgent,
	}, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("create feed client: %w", err)
	}

	linkCache, err := newCache(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	closers = append(closers, func() {
		if err := linkCache.Close(); err != nil {
			logger.Warn("Failed to close cache", "error", err)
		}
	})

	store, closeStore, err := newStore(ctx, cfg, logger)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	closers = append(closers, closeStore)

	provider, from, err := newProvider(ctx, cfg, logger)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	mon := monitor.New(monitor.Config{
		TermsPath:   cfg.Input,
		Recipient:   cfg.Address,
		Username:    cfg.FeedUsername,
		Password:    cfg.FeedPassword,
		TempParent:  cfg.TempDir,
		WindowHours: cfg.Window,
		MaxItems:    cfg.MaxItems,
	}, monitor.Deps{
		Feed:     feedClient,
		Window:   window.New(store, logger),
		Matcher:  filter.New(feedClient, linkCache, logger),
		Attacher: filter.NewDownloader(httpClient, cfg.UserAgent, logger),
		Emailer:  email.New(provider, logger, from),
		State:    store,
		Logger:   logger,
	})
	return mon, cleanup, nil
}

func newCache(ctx context.Context, cfg *Config, logger *slog.Logger) (cache.Cache, error) {
	if cfg.RedisAddr == "" {
		return cache.NewMemory(), nil
	}
	c, err := cache.NewRedis(ctx, cfg.RedisAddr, "simplefeed:")
	if err != nil {
		return nil, fmt.Errorf("connect cache: %w", err)
	}
	logger.Info("Using Redis link cache", "addr", cfg.RedisAddr)
	return c, nil
}

func newStore(ctx context.Context, cfg *Config, logger *slog.Logger) (*storage.Store, func(), error) {
	if cfg.StateBucket == "" {
		logger.Debug("Using local run state", "path", cfg.StateFile)
		return storage.New(nil, "", cfg.StateFile, logger), func() {}, nil
	}

	client, err := gcs.NewClient(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("create storage client: %w", err)
	}
	logger.Info("Using Cloud Storage run state", "bucket", cfg.StateBucket, "object", storage.DefaultObject)
	closeFn := func() {
		if err := client.Close(); err != nil {
			logger.Warn("Failed to close storage client", "error", err)
		}
	}
	return storage.New(client, cfg.StateBucket, "", logger), closeFn, nil
}

// newProvider returns the configured transport and the sender address to use with it.
func newProvider(ctx context.Context, cfg *Config, logger *slog.Logger) (email.Provider, string, error) {
	switch cfg.Transport {
	case "mailgun":
		p := email.NewMailgunProvider(cfg.MailgunAPIBase, cfg.MailgunDomain, cfg.MailgunAPIKey, logger)
		from := cfg.From
		if from == "" {
			from = p.DefaultFrom()
		}
		return p, from, nil
	case "smtp":
		from := cfg.From
		if from == "" {
			from = cfg.SMTPUsername
		}
		return email.NewSMTPProvider(email.SMTPConfig{
			Host:       cfg.SMTPHost,
			Port:       cfg.SMTPPort,
			Username:   cfg.SMTPUsername,
			Password:   cfg.SMTPPassword,
			RequireTLS: !cfg.SMTPAllowPlain,
		}, logger), from, nil
	case "gmail":
		svc, err := initGmailService(ctx, cfg.GoogleCredentials)
		if err != nil {
			return nil, "", fmt.Errorf("initialize Gmail service: %w", err)
		}
		return email.NewGmailProvider(svc, logger), cfg.From, nil
	case "mock":
		logger.Info("Mock email mode enabled")
		return email.NewMockProvider(logger), cfg.From, nil
	default:
		return nil, "", fmt.Errorf("unknown transport %q", cfg.Transport)
	}
}

func serve(ctx context.Context, cfg *Config, mon *monitor.Monitor, logger *slog.Logger) error {
	if cfg.Schedule != "" {
		sched, err := server.NewSchedule(cfg.Schedule, mon, logger)
		if err != nil {
			return err
		}
		sched.Start()
		defer sched.Stop()
	}

	srv := server.New(&server.Config{
		Poller:  mon,
		Matches: mon,
		Logger:  logger,
		BaseURL: cfg.BaseURL,
	})
	return srv.ListenAndServe(ctx, cfg.Port)
}

// isCloudRun checks if we're running in a GCP environment by querying the metadata server.
func isCloudRun(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://metadata.google.internal/computeMetadata/v1/project/project-id", http.NoBody)
	if err != nil {
		return false
	}
	req.Header.Set("Metadata-Flavor", "Google")

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	defer func() {
		_ = resp.Body.Close() //nolint:errcheck // probe only
	}()

	return resp.StatusCode == http.StatusOK
}

func initGmailService(ctx context.Context, credsJSON string) (*gmail.Service, error) {
	if credsJSON != "" {
		return gmail.NewService(ctx, option.WithCredentialsJSON([]byte(credsJSON)))
	}

	// Application Default Credentials need the gmail.send scope on the service account
	if isCloudRun(ctx) {
		return gmail.NewService(ctx)
	}

	return nil, errors.New("GOOGLE_CREDENTIALS_JSON required when not running in Cloud Run")
}
