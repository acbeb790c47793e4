package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jessevdk/go-flags"
)

// Config is the command line and environment configuration.
type Config struct {
	// Run
	Input   string `short:"i" long:"input" env:"SIMPLEFEED_INPUT" required:"true" description:"File with one search term per line"`
	Address string `short:"a" long:"address" env:"SIMPLEFEED_ADDRESS" required:"true" description:"Recipient email address"`
	Window  int    `short:"w" long:"window" env:"SIMPLEFEED_WINDOW" description:"Lookback window in hours (default: since the last successful run, else 24)"`

	// Run state
	StateFile   string `long:"state-file" env:"SIMPLEFEED_STATE_FILE" default:".simplefeed_last_run" description:"File holding the last successful run timestamp"`
	StateBucket string `long:"state-bucket" env:"STORAGE_BUCKET" description:"Keep the run state in this Cloud Storage bucket instead of a file"`
	TempDir     string `long:"temp-dir" env:"SIMPLEFEED_TEMP_DIR" description:"Parent directory for per-run image downloads (default: system temp dir)"`

	// Feed source
	FeedBaseURL     string `long:"feed-base-url" env:"FEED_BASE_URL" default:"https://www.instagram.com" description:"Feed API root"`
	FeedProfilePage string `long:"feed-profile-page" env:"FEED_PROFILE_PAGE" default:"https://www.instagram.com/%s/" description:"Public profile page template used when the API exposes no bio links (empty disables)"`
	FeedUsername    string `long:"feed-username" env:"INSTAGRAM_USERNAME" description:"Feed account username"`
	FeedPassword    string `long:"feed-password" env:"INSTAGRAM_PASSWORD" description:"Feed account password"`
	UserAgent       string `long:"user-agent" env:"USER_AGENT" description:"User agent for feed and image requests"`
	MaxItems        int    `long:"max-items" env:"SIMPLEFEED_MAX_ITEMS" default:"300" description:"Maximum feed items collected per run"`
	RedisAddr       string `long:"redis-addr" env:"REDIS_ADDR" description:"Cache bio links in Redis at this address (default: in-memory per process)"`

	// Notification transport
	Transport         string `long:"transport" env:"SIMPLEFEED_TRANSPORT" default:"mailgun" choice:"mailgun" choice:"smtp" choice:"gmail" choice:"mock" description:"How the digest is delivered"`
	From              string `long:"from" env:"SIMPLEFEED_FROM" description:"Sender address (default depends on transport)"`
	MailgunDomain     string `long:"mailgun-domain" env:"MAILGUN_DOMAIN" description:"Mailgun sending domain"`
	MailgunAPIKey     string `long:"mailgun-api-key" env:"MAILGUN_API_KEY" description:"Mailgun API key"`
	MailgunAPIBase    string `long:"mailgun-api-base" env:"MAILGUN_API_BASE" description:"Mailgun API root, e.g. https://api.eu.mailgun.net"`
	SMTPHost          string `long:"smtp-host" env:"SMTP_HOST" description:"SMTP submission host"`
	SMTPPort          int    `long:"smtp-port" env:"SMTP_PORT" default:"587" description:"SMTP submission port"`
	SMTPUsername      string `long:"smtp-username" env:"SMTP_USERNAME" description:"SMTP login"`
	SMTPPassword      string `long:"smtp-password" env:"SMTP_PASSWORD" description:"SMTP password"`
	SMTPAllowPlain    bool   `long:"smtp-allow-plaintext" env:"SMTP_ALLOW_PLAINTEXT" description:"Send even when the server does not offer STARTTLS"`
	GoogleCredentials string `long:"google-credentials" env:"GOOGLE_CREDENTIALS_JSON" description:"Service account JSON for the Gmail transport (default: Cloud Run credentials)"`

	// Server mode
	Serve    bool   `long:"serve" env:"SIMPLEFEED_SERVE" description:"Run as a service with /health, /pollz and /digest.atom instead of once"`
	Port     string `long:"port" env:"PORT" default:"8080" description:"HTTP server port"`
	BaseURL  string `long:"base-url" env:"BASE_URL" default:"http://localhost:8080" description:"Public base URL used in feed links"`
	Schedule string `long:"schedule" env:"SIMPLEFEED_SCHEDULE" default:"@hourly" description:"Cron schedule for runs in server mode (empty disables)"`

	// Logging
	Debug     bool   `long:"debug" env:"DEBUG" description:"Enable debug logging"`
	LogFormat string `long:"log-format" env:"LOG_FORMAT" default:"json" choice:"json" choice:"text" description:"Log output format"`
}

// errHelp signals that usage was printed and the process should exit cleanly.
var errHelp = errors.New("help requested")

func parseConfig(args []string) (*Config, error) {
	var cfg Config
	parser := flags.NewParser(&cfg, flags.Default)
	parser.Name = "simplefeed"

	if _, err := parser.ParseArgs(args); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			return nil, errHelp
		}
		return nil, fmt.Errorf("parse configuration: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Window < 0 {
		return fmt.Errorf("window must be positive, got %d", c.Window)
	}
	if c.StateBucket == "" && strings.TrimSpace(c.StateFile) == "" {
		return errors.New("state-file must not be empty unless state-bucket is set")
	}
	if c.MaxItems <= 0 {
		return fmt.Errorf("max-items must be positive, got %d", c.MaxItems)
	}
	switch c.Transport {
	case "mailgun":
		if c.MailgunDomain == "" || c.MailgunAPIKey == "" {
			return errors.New("mailgun transport requires MAILGUN_DOMAIN and MAILGUN_API_KEY")
		}
	case "smtp":
		if c.SMTPHost == "" {
			return errors.New("smtp transport requires SMTP_HOST")
		}
		if c.From == "" && c.SMTPUsername == "" {
			return errors.New("smtp transport requires --from or SMTP_USERNAME")
		}
	}
	return nil
}
