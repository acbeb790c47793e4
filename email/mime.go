package email

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// sanitizeEmailHeader removes newlines and control characters to prevent header injection.
func sanitizeEmailHeader(s string) string {
	var result strings.Builder
	for _, r := range s {
		if r >= 32 && r != 127 {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// buildMIME renders msg as multipart/related: a multipart/alternative body
// with text and HTML parts, followed by one part per inline image.
func buildMIME(msg *Message, now time.Time) ([]byte, error) {
	var body bytes.Buffer
	alternative := multipart.NewWriter(&body)
	if err := writeTextPart(alternative, "text/plain; charset=utf-8", msg.Text); err != nil {
		return nil, err
	}
	if err := writeTextPart(alternative, "text/html; charset=utf-8", msg.HTML); err != nil {
		return nil, err
	}
	if err := alternative.Close(); err != nil {
		return nil, fmt.Errorf("close alternative part: %w", err)
	}

	var buf bytes.Buffer
	related := multipart.NewWriter(&buf)

	writeHeader(&buf, "MIME-Version", "1.0")
	if msg.From != "" {
		writeHeader(&buf, "From", sanitizeEmailHeader(msg.From))
	}
	writeHeader(&buf, "To", sanitizeEmailHeader(msg.To))
	writeHeader(&buf, "Subject", mime.QEncoding.Encode("utf-8", sanitizeEmailHeader(msg.Subject)))
	writeHeader(&buf, "Date", now.Format(time.RFC1123Z))
	writeHeader(&buf, "Content-Type",
		fmt.Sprintf(`multipart/related; boundary="%s"; type="multipart/alternative"`, related.Boundary()))
	buf.WriteString("\r\n")

	altHeader := textproto.MIMEHeader{}
	altHeader.Set("Content-Type", fmt.Sprintf(`multipart/alternative; boundary="%s"`, alternative.Boundary()))
	altPart, err := related.CreatePart(altHeader)
	if err != nil {
		return nil, fmt.Errorf("create alternative part: %w", err)
	}
	if _, err := altPart.Write(body.Bytes()); err != nil {
		return nil, fmt.Errorf("write alternative part: %w", err)
	}

	for _, in := range msg.Inline {
		if err := writeInlinePart(related, in); err != nil {
			return nil, err
		}
	}

	if err := related.Close(); err != nil {
		return nil, fmt.Errorf("close message: %w", err)
	}
	return buf.Bytes(), nil
}

func writeHeader(w io.Writer, key, value string) {
	fmt.Fprintf(w, "%s: %s\r\n", key, value)
}

func writeTextPart(w *multipart.Writer, contentType, body string) error {
	h := textproto.MIMEHeader{}
	h.Set("Content-Type", contentType)
	h.Set("Content-Transfer-Encoding", "quoted-printable")
	part, err := w.CreatePart(h)
	if err != nil {
		return fmt.Errorf("create %s part: %w", contentType, err)
	}
	qp := quotedprintable.NewWriter(part)
	if _, err := qp.Write([]byte(body)); err != nil {
		return fmt.Errorf("write %s part: %w", contentType, err)
	}
	return qp.Close()
}

func writeInlinePart(w *multipart.Writer, in Inline) error {
	data, err := os.ReadFile(in.Path)
	if err != nil {
		return fmt.Errorf("read inline image %s: %w", in.ContentID, err)
	}

	cid := sanitizeEmailHeader(in.ContentID)
	filename := cid + filepath.Ext(in.Path)

	h := textproto.MIMEHeader{}
	h.Set("Content-Type", contentTypeFor(in.Path))
	h.Set("Content-Transfer-Encoding", "base64")
	h.Set("Content-ID", "<"+cid+">")
	h.Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", filename))
	part, err := w.CreatePart(h)
	if err != nil {
		return fmt.Errorf("create inline part: %w", err)
	}

	encoded := base64.StdEncoding.EncodeToString(data)
	for len(encoded) > 76 {
		if _, err := io.WriteString(part, encoded[:76]+"\r\n"); err != nil {
			return fmt.Errorf("write inline part: %w", err)
		}
		encoded = encoded[76:]
	}
	if _, err := io.WriteString(part, encoded+"\r\n"); err != nil {
		return fmt.Errorf("write inline part: %w", err)
	}
	return nil
}

func contentTypeFor(path string) string {
	if ct := mime.TypeByExtension(filepath.Ext(path)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
