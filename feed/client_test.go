package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"reflect"
	"testing"
	"time"

	"simplefeed/pkg/simplefeed"
)

func newTestClient(t *testing.T, srv *httptest.Server, profilePage string) *Client {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	c, err := New(&http.Client{Timeout: 5 * time.Second}, Config{
		BaseURL:        srv.URL,
		ProfilePageURL: profilePage,
	}, logger)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c
}

func TestLogin(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/accounts/login/ajax/" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		if err := r.ParseForm(); err != nil {
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}
		if r.FormValue("username") == "alice" && r.FormValue("password") == "secret" {
			http.SetCookie(w, &http.Cookie{Name: "sessionid", Value: "abc", Path: "/"})
			fmt.Fprint(w, `{"authenticated": true, "status": "ok"}`)
			return
		}
		fmt.Fprint(w, `{"authenticated": false, "status": "ok"}`)
	}))
	defer srv.Close()

	tests := []struct {
		name     string
		username string
		password string
		wantErr  bool
	}{
		{name: "valid credentials", username: "alice", password: "secret"},
		{name: "wrong password", username: "alice", password: "nope", wantErr: true},
		{name: "missing credentials", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, srv, "")
			err := c.Login(context.Background(), tt.username, tt.password)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Login() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, simplefeed.ErrAuthentication) {
				t.Errorf("Login() error = %v, want ErrAuthentication", err)
			}
		})
	}
}

func TestLoginServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "blocked", http.StatusForbidden)
	}))
	defer srv.Close()

	err := newTestClient(t, srv, "").Login(context.Background(), "alice", "secret")
	if !errors.Is(err, simplefeed.ErrAuthentication) {
		t.Errorf("Login() error = %v, want ErrAuthentication", err)
	}
	if !IsStatus(err, http.StatusForbidden) {
		t.Errorf("Login() error = %v, want HTTP 403 status error", err)
	}
}

// feedServer serves three pages of two items each.
func feedServer(t *testing.T, failPage string) *httptest.Server {
	t.Helper()
	pages := map[string]string{
		"":   `{"feed_items": [{"media_or_ad": {"taken_at": 1}}, {"media_or_ad": {"taken_at": 2}}], "next_max_id": "p2", "more_available": true}`,
		"p2": `{"feed_items": [{"media_or_ad": {"taken_at": 3}}, {"media_or_ad": {"taken_at": 4}}], "next_max_id": "p3", "more_available": true}`,
		"p3": `{"feed_items": [{"media_or_ad": {"taken_at": 5}}, {"media_or_ad": {"taken_at": 6}}], "next_max_id": "", "more_available": false}`,
	}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/feed/timeline/" {
			http.NotFound(w, r)
			return
		}
		cursor := r.URL.Query().Get("max_id")
		if cursor == failPage {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		body, ok := pages[cursor]
		if !ok {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, body)
	}))
}

func TestCollect(t *testing.T) {
	tests := []struct {
		name      string
		maxItems  int
		failPage  string
		wantItems int
		wantErr   bool
	}{
		{name: "all pages", maxItems: 100, failPage: "none", wantItems: 6},
		{name: "budget truncates", maxItems: 3, failPage: "none", wantItems: 3},
		{name: "later page failure keeps collected items", maxItems: 100, failPage: "p3", wantItems: 4},
		{name: "first page failure", maxItems: 100, failPage: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := feedServer(t, tt.failPage)
			defer srv.Close()

			items, err := newTestClient(t, srv, "").Collect(context.Background(), tt.maxItems)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Collect() error = %v, wantErr %v", err, tt.wantErr)
			}
			if len(items) != tt.wantItems {
				t.Errorf("Collect() returned %d items, want %d", len(items), tt.wantItems)
			}
		})
	}
}

func TestFetchProfile(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/users/1/info/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"user": {"pk": 1, "username": "multi", "bio_links": [{"url": "https://a.example"}, {"url": " "}, {"url": "https://b.example"}]}}`)
	})
	mux.HandleFunc("/api/v1/users/2/info/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"user": {"pk": "2", "username": "external", "bio_links": [], "external_url": "https://ext.example"}}`)
	})
	mux.HandleFunc("/api/v1/users/3/info/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"user": {"pk": 3, "username": "scraped"}}`)
	})
	mux.HandleFunc("/api/v1/users/4/info/", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	})
	mux.HandleFunc("/scraped/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><head><link rel="me" href="https://head.example"></head><body>
			<a rel="me noopener" href="https://page.example/shop">shop</a>
			<a rel="me" href="javascript:alert(1)">bad</a>
			<a href="https://not-me.example">other</a>
			<a rel="me" href="https://head.example">dup</a>
		</body></html>`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	tests := []struct {
		name    string
		userID  string
		want    []string
		wantErr bool
	}{
		{name: "bio links", userID: "1", want: []string{"https://a.example", "https://b.example"}},
		{name: "external url fallback", userID: "2", want: []string{"https://ext.example"}},
		{name: "profile page fallback", userID: "3", want: []string{"https://head.example", "https://page.example/shop"}},
		{name: "not found", userID: "4", wantErr: true},
	}

	c := newTestClient(t, srv, srv.URL+"/%s/")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			profile, err := c.FetchProfile(context.Background(), tt.userID)
			if (err != nil) != tt.wantErr {
				t.Fatalf("FetchProfile() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if !reflect.DeepEqual(profile.Links, tt.want) {
				t.Errorf("FetchProfile() links = %v, want %v", profile.Links, tt.want)
			}
		})
	}
}
