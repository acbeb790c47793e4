package email

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"

	"simplefeed/digest"
	"simplefeed/pkg/simplefeed"
)

type failingProvider struct{}

func (failingProvider) Send(context.Context, *Message) error {
	return errors.New("connection refused")
}

func TestSendDigest(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	mock := NewMockProvider(logger)
	sender := New(mock, logger, "Simple Feed <feed@example.com>")

	payload := &digest.Payload{
		Subject:     "Instagram Posts Containing 'launch'",
		HTML:        "<p>launch</p>",
		Text:        "launch",
		Attachments: []digest.Attachment{{ContentID: "alice_100", Path: "/tmp/alice_100.jpg"}},
	}
	if err := sender.SendDigest(context.Background(), "reader@example.com", payload); err != nil {
		t.Fatalf("SendDigest() error = %v", err)
	}

	sent := mock.Sent()
	if len(sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(sent))
	}
	msg := sent[0]
	if msg.From != "Simple Feed <feed@example.com>" || msg.To != "reader@example.com" {
		t.Errorf("envelope = %q -> %q", msg.From, msg.To)
	}
	if msg.Subject != payload.Subject || msg.HTML != payload.HTML || msg.Text != payload.Text {
		t.Errorf("message content not copied from payload: %+v", msg)
	}
	if len(msg.Inline) != 1 || msg.Inline[0] != (Inline{ContentID: "alice_100", Path: "/tmp/alice_100.jpg"}) {
		t.Errorf("Inline = %+v", msg.Inline)
	}
}

func TestSendDigestTransportError(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	sender := New(failingProvider{}, logger, "")

	err := sender.SendDigest(context.Background(), "reader@example.com", &digest.Payload{Subject: "s"})
	if !errors.Is(err, simplefeed.ErrTransport) {
		t.Errorf("SendDigest() error = %v, want ErrTransport", err)
	}
}
