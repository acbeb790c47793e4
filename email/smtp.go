package email

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/mail"
	"net/smtp"
	"strconv"
	"time"
)

// SMTPConfig holds SMTP submission settings.
type SMTPConfig struct {
	Host       string
	Username   string
	Password   string
	Port       int
	RequireTLS bool // Fail when the server does not offer STARTTLS
}

// SMTPProvider sends emails through an SMTP submission server.
type SMTPProvider struct {
	logger *slog.Logger
	cfg    SMTPConfig
	now    func() time.Time
	dialer net.Dialer
}

// NewSMTPProvider creates a new SMTP email provider.
func NewSMTPProvider(cfg SMTPConfig, logger *slog.Logger) *SMTPProvider {
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	return &SMTPProvider{
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
		dialer: net.Dialer{Timeout: 30 * time.Second},
	}
}

// Send delivers the message in a single SMTP session: STARTTLS, PLAIN auth
// when credentials are set, then one DATA transaction.
func (p *SMTPProvider) Send(ctx context.Context, msg *Message) error {
	from, err := envelopeAddress(msg.From)
	if err != nil {
		return fmt.Errorf("parse from address: %w", err)
	}
	to, err := envelopeAddress(msg.To)
	if err != nil {
		return fmt.Errorf("parse recipient address: %w", err)
	}

	raw, err := buildMIME(msg, p.now())
	if err != nil {
		return fmt.Errorf("build message: %w", err)
	}

	addr := net.JoinHostPort(p.cfg.Host, strconv.Itoa(p.cfg.Port))
	p.logger.Info("SMTP send starting",
		"server", addr,
		"to", to,
		"subject", msg.Subject,
		"size_bytes", len(raw))
	startTime := time.Now()

	conn, err := p.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			_ = conn.Close() //nolint:errcheck // already failing
			return fmt.Errorf("set deadline: %w", err)
		}
	}

	c, err := smtp.NewClient(conn, p.cfg.Host)
	if err != nil {
		_ = conn.Close() //nolint:errcheck // already failing
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer func() {
		if closeErr := c.Close(); closeErr != nil && !errors.Is(closeErr, net.ErrClosed) {
			p.logger.Debug("SMTP connection close", "error", closeErr)
		}
	}()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: p.cfg.Host, MinVersion: tls.VersionTLS12}); err != nil {
			return fmt.Errorf("starttls: %w", err)
		}
	} else if p.cfg.RequireTLS {
		return fmt.Errorf("server %s does not offer STARTTLS", addr)
	}

	if p.cfg.Username != "" {
		if err := c.Auth(smtp.PlainAuth("", p.cfg.Username, p.cfg.Password, p.cfg.Host)); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}

	if err := c.Mail(from); err != nil {
		return fmt.Errorf("smtp MAIL FROM: %w", err)
	}
	if err := c.Rcpt(to); err != nil {
		return fmt.Errorf("smtp RCPT TO: %w", err)
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("smtp DATA: %w", err)
	}
	if _, err := w.Write(raw); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp end of data: %w", err)
	}
	if err := c.Quit(); err != nil {
		p.logger.Warn("SMTP QUIT failed after delivery", "error", err)
	}

	p.logger.Info("SMTP send completed",
		"server", addr,
		"to", to,
		"duration_ms", time.Since(startTime).Milliseconds())
	return nil
}

func envelopeAddress(s string) (string, error) {
	a, err := mail.ParseAddress(sanitizeEmailHeader(s))
	if err != nil {
		return "", err
	}
	return a.Address, nil
}
