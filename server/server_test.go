package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"simplefeed/pkg/simplefeed"
)

type fakePoller struct {
	err   error
	calls atomic.Int32
}

func (p *fakePoller) CheckAll(context.Context) error {
	p.calls.Add(1)
	return p.err
}

type fakeMatches []*simplefeed.MatchRecord

func (m fakeMatches) LastMatches() []*simplefeed.MatchRecord { return m }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestHandlers(t *testing.T) {
	matches := fakeMatches{{
		PostTime: time.Unix(100, 0).UTC(),
		ID:       "alice_100",
		Author:   "alice",
		Terms:    []string{"launch"},
		Content:  `<div class="post"><p class="caption">launch</p></div>`,
	}}

	tests := []struct {
		name       string
		method     string
		path       string
		pollErr    error
		wantStatus int
		wantBody   string
		wantCalls  int32
	}{
		{name: "health", method: http.MethodGet, path: "/health", wantStatus: http.StatusOK, wantBody: `{"status":"healthy"}`},
		{name: "health wrong method", method: http.MethodPost, path: "/health", wantStatus: http.StatusMethodNotAllowed},
		{name: "poll", method: http.MethodPost, path: "/pollz", wantStatus: http.StatusOK, wantBody: `{"status":"completed"}`, wantCalls: 1},
		{name: "poll failure", method: http.MethodPost, path: "/pollz", pollErr: simplefeed.ErrTransport, wantStatus: http.StatusInternalServerError, wantCalls: 1},
		{name: "poll requires POST", method: http.MethodGet, path: "/pollz", wantStatus: http.StatusMethodNotAllowed},
		{name: "atom feed", method: http.MethodGet, path: "/digest.atom", wantStatus: http.StatusOK, wantBody: "alice_100"},
		{name: "rss feed", method: http.MethodGet, path: "/digest.atom?format=rss", wantStatus: http.StatusOK, wantBody: "<rss"},
		{name: "unknown feed format", method: http.MethodGet, path: "/digest.atom?format=yaml", wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			poller := &fakePoller{err: tt.pollErr}
			s := New(&Config{Poller: poller, Matches: matches, Logger: testLogger(), BaseURL: "http://localhost:8080"})

			req := httptest.NewRequest(tt.method, tt.path, http.NoBody)
			rec := httptest.NewRecorder()
			s.Handler().ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantBody != "" && !strings.Contains(rec.Body.String(), tt.wantBody) {
				t.Errorf("body = %q, want it to contain %q", rec.Body.String(), tt.wantBody)
			}
			if got := poller.calls.Load(); got != tt.wantCalls {
				t.Errorf("poller calls = %d, want %d", got, tt.wantCalls)
			}
		})
	}
}

func TestNewScheduleInvalidSpec(t *testing.T) {
	if _, err := NewSchedule("every now and then", &fakePoller{}, testLogger()); err == nil {
		t.Error("NewSchedule() expected error for invalid spec")
	}
}

func TestScheduleRunLogsFailure(t *testing.T) {
	poller := &fakePoller{err: errors.New("boom")}
	s, err := NewSchedule("@hourly", poller, testLogger())
	if err != nil {
		t.Fatalf("NewSchedule() error = %v", err)
	}
	s.run()
	if poller.calls.Load() != 1 {
		t.Errorf("poller calls = %d, want 1", poller.calls.Load())
	}
}

func TestListenAndServeShutdown(t *testing.T) {
	s := New(&Config{Poller: &fakePoller{}, Matches: fakeMatches{}, Logger: testLogger()})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- s.ListenAndServe(ctx, "0") }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("ListenAndServe() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("ListenAndServe() did not return after cancel")
	}
}
