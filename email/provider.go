// Package email delivers the digest through one of several providers.
package email

import (
	"context"
	"fmt"
	"log/slog"

	"simplefeed/digest"
	"simplefeed/pkg/simplefeed"
)

// Inline is an image part referenced from the HTML body as cid:ContentID.
type Inline struct {
	ContentID string
	Path      string
}

// Message is one outgoing email.
type Message struct {
	From    string
	To      string
	Subject string
	HTML    string
	Text    string
	Inline  []Inline
}

// Provider defines the interface for email sending implementations.
type Provider interface {
	// Send delivers the message once. Providers do not retry.
	Send(ctx context.Context, msg *Message) error
}

// Sender sends digests using a pluggable provider.
type Sender struct {
	provider Provider
	logger   *slog.Logger
	fromAddr string
}

// New creates a new email sender with the given provider.
func New(provider Provider, logger *slog.Logger, fromAddr string) *Sender {
	return &Sender{
		provider: provider,
		logger:   logger,
		fromAddr: fromAddr,
	}
}

// SendDigest sends the payload to one recipient. Provider failures are
// wrapped in simplefeed.ErrTransport.
func (s *Sender) SendDigest(ctx context.Context, to string, p *digest.Payload) error {
	msg := &Message{
		From:    s.fromAddr,
		To:      to,
		Subject: p.Subject,
		HTML:    p.HTML,
		Text:    p.Text,
	}
	for _, a := range p.Attachments {
		msg.Inline = append(msg.Inline, Inline{ContentID: a.ContentID, Path: a.Path})
	}

	s.logger.Info("Sending digest email",
		"to", to,
		"subject", p.Subject,
		"inline_count", len(msg.Inline))

	if err := s.provider.Send(ctx, msg); err != nil {
		return fmt.Errorf("%w: %w", simplefeed.ErrTransport, err)
	}
	return nil
}
