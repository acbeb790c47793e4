package filter

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"simplefeed/pkg/simplefeed"
)

// maxImageBytes bounds a single downloaded image.
const maxImageBytes = 20 << 20

var imageExtensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
	"image/heic": ".heic",
}

// Downloader fetches match images into a run-scoped directory.
type Downloader struct {
	client    *http.Client
	logger    *slog.Logger
	userAgent string
}

// NewDownloader creates a downloader using the given HTTP client.
func NewDownloader(client *http.Client, userAgent string, logger *slog.Logger) *Downloader {
	return &Downloader{
		client:    client,
		logger:    logger,
		userAgent: userAgent,
	}
}

// Attach downloads the photo of every match into dir, one at a time, and sets
// ImageLocalPath. A failed download drops only that attachment: its image
// placeholder is removed from the content and the error is returned in the
// slice, never aborting the batch.
func (d *Downloader) Attach(ctx context.Context, matches []*simplefeed.MatchRecord, dir string) []error {
	var failures []error
	attached := 0

	for _, m := range matches {
		if m.PhotoURL == "" {
			continue
		}
		localPath, err := d.download(ctx, m.ID, m.PhotoURL, dir)
		if err != nil {
			imgErr := &simplefeed.ImageFetchError{ID: m.ID, URL: m.PhotoURL, Err: err}
			d.logger.Warn("Image download failed, dropping attachment",
				"id", m.ID,
				"url", m.PhotoURL,
				"error", err)
			m.Content = strings.Replace(m.Content, ImagePlaceholder(m.ID)+"\n", "", 1)
			failures = append(failures, imgErr)
			continue
		}
		m.ImageLocalPath = localPath
		attached++
	}

	d.logger.Info("Images attached", "attached", attached, "failed", len(failures))
	return failures
}

func (d *Downloader) download(ctx context.Context, id, imageURL, dir string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, http.NoBody)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	if d.userAgent != "" {
		req.Header.Set("User-Agent", d.userAgent)
	}

	startTime := time.Now()
	resp, err := d.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			d.logger.Warn("Failed to close response body", "error", closeErr)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	localPath := filepath.Join(dir, fileName(id)+extension(resp.Header.Get("Content-Type"), req.URL.Path))
	if filepath.Dir(localPath) != filepath.Clean(dir) {
		return "", fmt.Errorf("image path %q escapes %s", localPath, dir)
	}
	f, err := os.Create(localPath)
	if err != nil {
		return "", fmt.Errorf("create file: %w", err)
	}

	n, err := io.Copy(f, io.LimitReader(resp.Body, maxImageBytes+1))
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err == nil && n > maxImageBytes {
		err = fmt.Errorf("image larger than %d bytes", maxImageBytes)
	}
	if err != nil {
		if rmErr := os.Remove(localPath); rmErr != nil {
			d.logger.Warn("Failed to remove partial image", "path", localPath, "error", rmErr)
		}
		return "", fmt.Errorf("write file: %w", err)
	}

	d.logger.Debug("Image downloaded",
		"id", id,
		"bytes", n,
		"duration_ms", time.Since(startTime).Milliseconds())
	return localPath, nil
}

// fileName turns a post ID into a single path element. IDs carry the feed
// username, which is not trusted to be free of separators.
func fileName(id string) string {
	name := strings.NewReplacer("/", "_", `\`, "_", "..", "_").Replace(id)
	if name == "" || name == "." {
		return "image"
	}
	return name
}

// extension picks a file extension from the content type, then the URL path,
// defaulting to .jpg.
func extension(contentType, urlPath string) string {
	if mediaType, _, err := mime.ParseMediaType(contentType); err == nil {
		if ext, ok := imageExtensions[mediaType]; ok {
			return ext
		}
	}
	ext := strings.ToLower(path.Ext(urlPath))
	for _, known := range imageExtensions {
		if ext == known {
			return ext
		}
	}
	return ".jpg"
}
