package email

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"strings"
	"time"
)

// DefaultMailgunAPI is the US region API root.
const DefaultMailgunAPI = "https://api.mailgun.net"

// MailgunProvider sends emails via the Mailgun messages API.
type MailgunProvider struct {
	client  *http.Client
	logger  *slog.Logger
	apiBase string
	domain  string
	apiKey  string
}

// NewMailgunProvider creates a new Mailgun email provider. An empty apiBase
// selects DefaultMailgunAPI.
func NewMailgunProvider(apiBase, domain, apiKey string, logger *slog.Logger) *MailgunProvider {
	if apiBase == "" {
		apiBase = DefaultMailgunAPI
	}
	return &MailgunProvider{
		apiBase: strings.TrimSuffix(apiBase, "/"),
		domain:  domain,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 30 * time.Second},
		logger:  logger,
	}
}

// DefaultFrom is the sender address used with this provider's domain.
func (m *MailgunProvider) DefaultFrom() string {
	return fmt.Sprintf("Simple Feed <feed@%s>", m.domain)
}

// Send posts the message once. The body is form-encoded, or multipart when
// the message carries inline images.
func (m *MailgunProvider) Send(ctx context.Context, msg *Message) error {
	from := msg.From
	if from == "" {
		from = m.DefaultFrom()
	}
	fields := url.Values{}
	fields.Set("from", sanitizeEmailHeader(from))
	fields.Set("to", sanitizeEmailHeader(msg.To))
	fields.Set("subject", sanitizeEmailHeader(msg.Subject))
	fields.Set("text", msg.Text)
	if msg.HTML != "" {
		fields.Set("html", msg.HTML)
	}

	var (
		body        io.Reader
		contentType string
	)
	if len(msg.Inline) == 0 {
		body = strings.NewReader(fields.Encode())
		contentType = "application/x-www-form-urlencoded"
	} else {
		buf, ct, err := multipartForm(fields, msg.Inline)
		if err != nil {
			return err
		}
		body = buf
		contentType = ct
	}

	endpoint := fmt.Sprintf("%s/v3/%s/messages", m.apiBase, url.PathEscape(m.domain))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.SetBasicAuth("api", m.apiKey)

	m.logger.Info("Mailgun API request starting",
		"method", "POST",
		"endpoint", "messages",
		"to", msg.To,
		"subject", msg.Subject,
		"inline_count", len(msg.Inline))

	startTime := time.Now()
	resp, err := m.client.Do(req)
	duration := time.Since(startTime)
	if err != nil {
		return fmt.Errorf("mailgun request: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			m.logger.Warn("Failed to close response body", "error", closeErr)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512)) //nolint:errcheck // best effort detail
		m.logger.Warn("Mailgun API returned non-2xx status",
			"status_code", resp.StatusCode,
			"to", msg.To,
			"duration_ms", duration.Milliseconds())
		return fmt.Errorf("mailgun HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	m.logger.Info("Mailgun API request completed",
		"endpoint", "messages",
		"to", msg.To,
		"duration_ms", duration.Milliseconds(),
		"status", "success")
	return nil
}

// multipartForm encodes fields plus one "inline" file per image. Mailgun
// exposes each inline file under cid:<filename>, so the filename is the
// content id.
func multipartForm(fields url.Values, inline []Inline) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	for key, values := range fields {
		for _, v := range values {
			if err := w.WriteField(key, v); err != nil {
				return nil, "", fmt.Errorf("write field %s: %w", key, err)
			}
		}
	}

	for _, in := range inline {
		f, err := os.Open(in.Path)
		if err != nil {
			return nil, "", fmt.Errorf("open inline image %s: %w", in.ContentID, err)
		}
		h := textproto.MIMEHeader{}
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="inline"; filename="%s"`, sanitizeEmailHeader(in.ContentID)))
		h.Set("Content-Type", contentTypeFor(in.Path))
		part, err := w.CreatePart(h)
		if err == nil {
			_, err = io.Copy(part, f)
		}
		if closeErr := f.Close(); err == nil {
			err = closeErr
		}
		if err != nil {
			return nil, "", fmt.Errorf("write inline image %s: %w", in.ContentID, err)
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("close form: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}
