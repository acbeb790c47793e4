package feed

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strconv"

	"simplefeed/pkg/simplefeed"
)

// Reason explains why a raw item did or did not produce a post.
type Reason int

const (
	ReasonOK Reason = iota
	ReasonNoMedia
	ReasonMalformed
	ReasonMissingTimestamp
	ReasonMissingAuthor
)

func (r Reason) String() string {
	switch r {
	case ReasonOK:
		return "ok"
	case ReasonNoMedia:
		return "no_media"
	case ReasonMalformed:
		return "malformed"
	case ReasonMissingTimestamp:
		return "missing_timestamp"
	case ReasonMissingAuthor:
		return "missing_author"
	default:
		return "unknown"
	}
}

type rawItem struct {
	Media json.RawMessage `json:"media_or_ad"`
}

type rawMedia struct {
	TakenAt  *json.Number     `json:"taken_at"`
	User     *rawUser         `json:"user"`
	Caption  json.RawMessage  `json:"caption"`
	Carousel []rawGalleryItem `json:"carousel_media"`
}

type rawUser struct {
	Username string `json:"username"`
	PK       flexID `json:"pk"`
}

type rawGalleryItem struct {
	ImageVersions struct {
		Candidates []struct {
			URL string `json:"url"`
		} `json:"candidates"`
	} `json:"image_versions2"`
}

// flexID accepts ids encoded either as JSON strings or numbers.
type flexID string

func (f *flexID) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexID(n.String())
	return nil
}

// Normalize maps one raw feed item to a post. The reason is ReasonOK exactly
// when the returned post is valid; every other reason means skip the item.
func Normalize(raw json.RawMessage) (simplefeed.NormalizedPost, Reason) {
	var item rawItem
	if err := json.Unmarshal(raw, &item); err != nil {
		// Not an object at all, so an unknown shape rather than broken media.
		return simplefeed.NormalizedPost{}, ReasonNoMedia
	}
	media := bytes.TrimSpace(item.Media)
	if len(media) == 0 || bytes.Equal(media, []byte("null")) {
		return simplefeed.NormalizedPost{}, ReasonNoMedia
	}

	var m rawMedia
	if err := json.Unmarshal(media, &m); err != nil {
		return simplefeed.NormalizedPost{}, ReasonMalformed
	}

	if m.TakenAt == nil {
		return simplefeed.NormalizedPost{}, ReasonMissingTimestamp
	}
	ts, ok := epochSeconds(*m.TakenAt)
	if !ok {
		return simplefeed.NormalizedPost{}, ReasonMissingTimestamp
	}

	if m.User == nil || m.User.Username == "" || m.User.PK == "" {
		return simplefeed.NormalizedPost{}, ReasonMissingAuthor
	}

	return simplefeed.NormalizedPost{
		Caption:   captionText(m.Caption),
		Timestamp: ts,
		Author:    m.User.Username,
		AuthorID:  string(m.User.PK),
		PhotoURL:  firstPhoto(m.Carousel),
	}, ReasonOK
}

// NormalizeAll normalizes a batch in a single pass. Skipped items are counted
// per reason and logged; the batch never fails because of one item.
func NormalizeAll(items []json.RawMessage, logger *slog.Logger) ([]simplefeed.NormalizedPost, map[Reason]int) {
	posts := make([]simplefeed.NormalizedPost, 0, len(items))
	skipped := make(map[Reason]int)

	for i, raw := range items {
		post, reason := Normalize(raw)
		switch reason {
		case ReasonOK:
			posts = append(posts, post)
		case ReasonNoMedia:
			skipped[reason]++
		default:
			skipped[reason]++
			logger.Warn("Skipping malformed feed item", "index", i, "reason", reason.String())
		}
	}

	attrs := []any{"items", len(items), "posts", len(posts)}
	for reason, n := range skipped {
		attrs = append(attrs, "skipped_"+reason.String(), n)
	}
	logger.Info("Feed items normalized", attrs...)

	return posts, skipped
}

func captionText(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return ""
	}
	var c struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &c); err != nil {
		return ""
	}
	return c.Text
}

func firstPhoto(gallery []rawGalleryItem) string {
	if len(gallery) == 0 {
		return ""
	}
	for _, c := range gallery[0].ImageVersions.Candidates {
		if c.URL != "" {
			return c.URL
		}
	}
	return ""
}

func epochSeconds(n json.Number) (int64, bool) {
	if i, err := n.Int64(); err == nil {
		return i, true
	}
	f, err := strconv.ParseFloat(n.String(), 64)
	if err != nil {
		return 0, false
	}
	return int64(f), true
}
