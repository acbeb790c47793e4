// Package feed fetches the social feed and normalizes its items.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"simplefeed/pkg/simplefeed"
)

// DefaultMaxItems caps how many feed items one run collects.
const DefaultMaxItems = 300

const defaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

// StatusError indicates a non-2xx response from the feed source.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Code, e.URL)
}

// IsStatus checks if an error is a StatusError with the given code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == code
}

// Config holds feed source settings.
type Config struct {
	BaseURL        string // API root, e.g. https://www.instagram.com
	ProfilePageURL string // Optional fmt template for public profile pages, e.g. https://www.instagram.com/%s/
	UserAgent      string
}

// Page is one page of raw feed items.
type Page struct {
	Items      []json.RawMessage
	NextCursor string // Empty when there are no more pages
}

// Client talks to the feed source API with a session kept in a cookie jar.
type Client struct {
	client         *http.Client
	logger         *slog.Logger
	baseURL        string
	profilePageURL string
	userAgent      string
}

// New creates a new feed client. The given http.Client is copied and gets a
// cookie jar when it has none.
func New(client *http.Client, cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("feed base URL is required")
	}
	c := *client
	if c.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("create cookie jar: %w", err)
		}
		c.Jar = jar
	}
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	return &Client{
		client:         &c,
		logger:         logger,
		baseURL:        strings.TrimSuffix(cfg.BaseURL, "/"),
		profilePageURL: cfg.ProfilePageURL,
		userAgent:      userAgent,
	}, nil
}

type loginResponse struct {
	Authenticated bool   `json:"authenticated"`
	Status        string `json:"status"`
	Message       string `json:"message"`
}

// Login authenticates the session. Any rejection is reported as ErrAuthentication.
func (c *Client) Login(ctx context.Context, username, password string) error {
	if username == "" || password == "" {
		return fmt.Errorf("%w: missing feed credentials", simplefeed.ErrAuthentication)
	}

	form := url.Values{}
	form.Set("username", username)
	form.Set("password", password)

	loginURL := c.baseURL + "/accounts/login/ajax/"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, loginURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var resp loginResponse
	if err := c.doJSON(req, "login", &resp); err != nil {
		return fmt.Errorf("%w: %w", simplefeed.ErrAuthentication, err)
	}
	if !resp.Authenticated {
		msg := resp.Message
		if msg == "" {
			msg = "credentials rejected"
		}
		return fmt.Errorf("%w: %s", simplefeed.ErrAuthentication, msg)
	}

	c.logger.Info("Feed login succeeded", "username", username)
	return nil
}

type pageResponse struct {
	NextMaxID     string            `json:"next_max_id"`
	FeedItems     []json.RawMessage `json:"feed_items"`
	MoreAvailable bool              `json:"more_available"`
}

// FetchPage fetches one timeline page. An empty cursor requests the first page.
func (c *Client) FetchPage(ctx context.Context, cursor string) (*Page, error) {
	pageURL := c.baseURL + "/api/v1/feed/timeline/"
	if cursor != "" {
		pageURL += "?max_id=" + url.QueryEscape(cursor)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	var resp pageResponse
	if err := c.doJSON(req, "fetch_feed_page", &resp); err != nil {
		return nil, err
	}

	page := &Page{Items: resp.FeedItems}
	if resp.MoreAvailable {
		page.NextCursor = resp.NextMaxID
	}
	return page, nil
}

// Collect pages through the timeline until the source runs out, or maxItems
// items were gathered. A failure on the first page is returned; later page
// failures end pagination with what was collected so far.
func (c *Client) Collect(ctx context.Context, maxItems int) ([]json.RawMessage, error) {
	if maxItems <= 0 {
		maxItems = DefaultMaxItems
	}

	var items []json.RawMessage
	cursor := ""
	pages := 0
	for {
		page, err := c.FetchPage(ctx, cursor)
		if err != nil {
			if pages == 0 {
				return nil, fmt.Errorf("fetch first page: %w", err)
			}
			c.logger.Warn("Failed to fetch feed page, continuing with collected items",
				"page", pages+1,
				"items_collected", len(items),
				"error", err)
			break
		}
		pages++
		items = append(items, page.Items...)

		if len(items) >= maxItems {
			items = items[:maxItems]
			c.logger.Info("Feed item budget reached", "max_items", maxItems, "pages", pages)
			break
		}
		if page.NextCursor == "" {
			break
		}
		if page.NextCursor == cursor {
			c.logger.Warn("Feed returned the same cursor twice, stopping", "cursor", cursor)
			break
		}
		cursor = page.NextCursor
	}

	c.logger.Info("Feed collected", "pages", pages, "items", len(items))
	return items, nil
}

type profileResponse struct {
	User struct {
		PK          flexID `json:"pk"`
		Username    string `json:"username"`
		ExternalURL string `json:"external_url"`
		BioLinks    []struct {
			URL string `json:"url"`
		} `json:"bio_links"`
	} `json:"user"`
}

// FetchProfile fetches the author profile and its bio links. When the API
// exposes no links and a profile page template is configured, links are
// scraped from the public profile page instead.
func (c *Client) FetchProfile(ctx context.Context, userID string) (*simplefeed.Profile, error) {
	profileURL := fmt.Sprintf("%s/api/v1/users/%s/info/", c.baseURL, url.PathEscape(userID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, profileURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	var resp profileResponse
	if err := c.doJSON(req, "fetch_profile", &resp); err != nil {
		return nil, err
	}

	profile := &simplefeed.Profile{
		UserID:   userID,
		Username: resp.User.Username,
	}
	for _, l := range resp.User.BioLinks {
		if u := strings.TrimSpace(l.URL); u != "" {
			profile.Links = append(profile.Links, u)
		}
	}
	if len(profile.Links) == 0 && resp.User.ExternalURL != "" {
		profile.Links = []string{resp.User.ExternalURL}
	}

	if len(profile.Links) == 0 && c.profilePageURL != "" && profile.Username != "" {
		links, err := c.scrapeProfileLinks(ctx, profile.Username)
		if err != nil {
			c.logger.Warn("Failed to scrape profile page", "username", profile.Username, "error", err)
		} else {
			profile.Links = links
		}
	}

	return profile, nil
}

func (c *Client) doJSON(req *http.Request, purpose string, v any) error {
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")
	if token := c.csrfToken(req.URL); token != "" {
		req.Header.Set("X-CSRFToken", token)
	}

	c.logger.Debug("HTTP request starting",
		"method", req.Method,
		"url", req.URL.Redacted(),
		"purpose", purpose)

	startTime := time.Now()
	resp, err := c.client.Do(req)
	duration := time.Since(startTime)
	if err != nil {
		return fmt.Errorf("%s request: %w", purpose, err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Warn("Failed to close response body", "error", closeErr)
		}
	}()

	c.logger.Debug("HTTP request completed",
		"url", req.URL.Redacted(),
		"status_code", resp.StatusCode,
		"duration_ms", duration.Milliseconds())

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Drain a little of the body so the connection can be reused
		_, _ = io.CopyN(io.Discard, resp.Body, 4096) //nolint:errcheck // best effort
		return &StatusError{URL: req.URL.Redacted(), Code: resp.StatusCode}
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode %s response: %w", purpose, err)
	}
	return nil
}

func (c *Client) csrfToken(u *url.URL) string {
	if c.client.Jar == nil {
		return ""
	}
	for _, cookie := range c.client.Jar.Cookies(u) {
		if cookie.Name == "csrftoken" {
			return cookie.Value
		}
	}
	return ""
}
