package email

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/api/gmail/v1"
)

// GmailProvider sends emails via Gmail API.
type GmailProvider struct {
	service *gmail.Service
	logger  *slog.Logger
	now     func() time.Time
}

// NewGmailProvider creates a new Gmail email provider.
func NewGmailProvider(service *gmail.Service, logger *slog.Logger) *GmailProvider {
	return &GmailProvider{
		service: service,
		logger:  logger,
		now:     time.Now,
	}
}

// Send uploads the full MIME message, inline images included, as a raw
// Gmail message. Gmail fills in the From address of the authenticated
// account when the message has none.
func (g *GmailProvider) Send(ctx context.Context, msg *Message) error {
	raw, err := buildMIME(msg, g.now())
	if err != nil {
		return fmt.Errorf("build message: %w", err)
	}
	encoded := base64.URLEncoding.EncodeToString(raw)

	g.logger.Info("Gmail API request starting",
		"method", "POST",
		"endpoint", "users.messages.send",
		"to", msg.To,
		"subject", msg.Subject,
		"size_bytes", len(raw))

	startTime := time.Now()
	_, err = g.service.Users.Messages.Send("me", &gmail.Message{
		Raw: encoded,
	}).Context(ctx).Do()
	duration := time.Since(startTime)

	if err != nil {
		g.logger.Warn("Gmail API send failed",
			"to", msg.To,
			"duration_ms", duration.Milliseconds(),
			"error", err)
		return fmt.Errorf("gmail send: %w", err)
	}

	g.logger.Info("Gmail API request completed",
		"endpoint", "users.messages.send",
		"to", msg.To,
		"duration_ms", duration.Milliseconds(),
		"status", "success")
	return nil
}
