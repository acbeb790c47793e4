package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"simplefeed/pkg/simplefeed"
)

func TestParseConfig(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr bool
		check   func(t *testing.T, cfg *Config)
	}{
		{
			name: "defaults",
			args: []string{"--input", "terms.txt", "--address", "me@example.com", "--transport", "mock"},
			check: func(t *testing.T, cfg *Config) {
				if cfg.Window != 0 {
					t.Errorf("Window = %d, want 0 (resolve from state)", cfg.Window)
				}
				if cfg.StateFile != ".simplefeed_last_run" {
					t.Errorf("StateFile = %q", cfg.StateFile)
				}
				if cfg.MaxItems != 300 {
					t.Errorf("MaxItems = %d, want 300", cfg.MaxItems)
				}
				if cfg.Schedule != "@hourly" || cfg.Port != "8080" {
					t.Errorf("server defaults = %q %q", cfg.Schedule, cfg.Port)
				}
			},
		},
		{
			name: "short flags",
			args: []string{"-i", "terms.txt", "-a", "me@example.com", "-w", "6", "--transport", "mock"},
			check: func(t *testing.T, cfg *Config) {
				if cfg.Input != "terms.txt" || cfg.Address != "me@example.com" || cfg.Window != 6 {
					t.Errorf("cfg = %+v", cfg)
				}
			},
		},
		{
			name:    "missing input",
			args:    []string{"--address", "me@example.com", "--transport", "mock"},
			wantErr: true,
		},
		{
			name:    "negative window",
			args:    []string{"-i", "t", "-a", "me@example.com", "--window=-3", "--transport", "mock"},
			wantErr: true,
		},
		{
			name:    "unknown transport",
			args:    []string{"-i", "t", "-a", "me@example.com", "--transport", "pigeon"},
			wantErr: true,
		},
		{
			name:    "mailgun without credentials",
			args:    []string{"-i", "t", "-a", "me@example.com", "--transport", "mailgun", "--mailgun-domain", ""},
			wantErr: true,
		},
		{
			name:    "empty state file without bucket",
			args:    []string{"-i", "t", "-a", "me@example.com", "--transport", "mock", "--state-file", ""},
			wantErr: true,
		},
		{
			name: "empty state file with bucket",
			args: []string{"-i", "t", "-a", "me@example.com", "--transport", "mock", "--state-file", "", "--state-bucket", "feeds"},
			check: func(t *testing.T, cfg *Config) {
				if cfg.StateBucket != "feeds" {
					t.Errorf("StateBucket = %q", cfg.StateBucket)
				}
			},
		},
		{
			name:    "smtp without host",
			args:    []string{"-i", "t", "-a", "me@example.com", "--transport", "smtp"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := parseConfig(tt.args)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.check != nil {
				tt.check(t, cfg)
			}
		})
	}
}

func TestParseConfigHelp(t *testing.T) {
	if _, err := parseConfig([]string{"--help"}); !errors.Is(err, errHelp) {
		t.Errorf("parseConfig(--help) error = %v, want errHelp", err)
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, exitSent},
		{simplefeed.ErrNothingToSend, exitNoContent},
		{fmt.Errorf("login: %w", simplefeed.ErrAuthentication), exitFailure},
		{fmt.Errorf("%w: HTTP 500", simplefeed.ErrTransport), exitFailure},
		{simplefeed.ErrInput, exitFailure},
	}
	for _, tt := range tests {
		if got := exitCode(tt.err); got != tt.want {
			t.Errorf("exitCode(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestNewProvider(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	tests := []struct {
		name     string
		cfg      Config
		wantType string
		wantFrom string
	}{
		{
			name:     "mailgun default sender",
			cfg:      Config{Transport: "mailgun", MailgunDomain: "mg.example.com", MailgunAPIKey: "k"},
			wantType: "*email.MailgunProvider",
			wantFrom: "Simple Feed <feed@mg.example.com>",
		},
		{
			name:     "smtp sender falls back to login",
			cfg:      Config{Transport: "smtp", SMTPHost: "smtp.example.com", SMTPUsername: "bot@example.com"},
			wantType: "*email.SMTPProvider",
			wantFrom: "bot@example.com",
		},
		{
			name:     "mock",
			cfg:      Config{Transport: "mock", From: "me@example.com"},
			wantType: "*email.MockProvider",
			wantFrom: "me@example.com",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, from, err := newProvider(context.Background(), &tt.cfg, logger)
			if err != nil {
				t.Fatalf("newProvider() error = %v", err)
			}
			if got := fmt.Sprintf("%T", p); got != tt.wantType {
				t.Errorf("provider type = %s, want %s", got, tt.wantType)
			}
			if from != tt.wantFrom {
				t.Errorf("from = %q, want %q", from, tt.wantFrom)
			}
		})
	}
}

// Terms load, then login against an unreachable feed fails: exit 1 and no
// state file.
func TestRunLoginFailure(t *testing.T) {
	dir := t.TempDir()
	termsPath := filepath.Join(dir, "terms.txt")
	if err := os.WriteFile(termsPath, []byte("launch\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	statePath := filepath.Join(dir, "state")

	var out bytes.Buffer
	code := run([]string{
		"-i", termsPath,
		"-a", "me@example.com",
		"--transport", "mock",
		"--state-file", statePath,
		"--feed-base-url", "http://127.0.0.1:1",
		"--feed-username", "alice",
		"--feed-password", "secret",
	}, &out)

	if code != exitFailure {
		t.Errorf("run() = %d, want %d", code, exitFailure)
	}
	if _, err := os.Stat(statePath); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("state file written after failed run: %v", err)
	}
	if !strings.Contains(out.String(), "Digest run failed") {
		t.Errorf("log output missing failure message:\n%s", out.String())
	}
}

func TestRunMissingTermsFile(t *testing.T) {
	var out bytes.Buffer
	code := run([]string{
		"-i", filepath.Join(t.TempDir(), "missing.txt"),
		"-a", "me@example.com",
		"--transport", "mock",
		"--state-file", filepath.Join(t.TempDir(), "state"),
	}, &out)
	if code != exitFailure {
		t.Errorf("run() = %d, want %d", code, exitFailure)
	}
}
