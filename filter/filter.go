// Package filter selects posts that match the search terms inside the lookback
// window and renders them as digest blocks.
package filter

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	"simplefeed/cache"
	"simplefeed/pkg/simplefeed"
)

// DefaultLinkTTL is how long fetched bio links stay cached.
const DefaultLinkTTL = 6 * time.Hour

// ProfileFetcher looks up author profiles for bio enrichment.
type ProfileFetcher interface {
	FetchProfile(ctx context.Context, userID string) (*simplefeed.Profile, error)
}

// Filter turns normalized posts into match records.
type Filter struct {
	profiles ProfileFetcher
	cache    cache.Cache
	logger   *slog.Logger
	linkTTL  time.Duration
}

// New creates a filter. The cache may be nil, in which case every bio
// mention fetches the profile.
func New(profiles ProfileFetcher, c cache.Cache, logger *slog.Logger) *Filter {
	return &Filter{
		profiles: profiles,
		cache:    c,
		logger:   logger,
		linkTTL:  DefaultLinkTTL,
	}
}

// Run keeps posts published at or after now minus windowHours whose caption
// contains at least one term as a whole word. The result is deduplicated by
// ID, first occurrence winning, and sorted ascending by post time.
func (f *Filter) Run(ctx context.Context, posts []simplefeed.NormalizedPost, terms simplefeed.TermSet,
	windowHours int, now time.Time,
) []*simplefeed.MatchRecord {
	cutoff := now.Add(-time.Duration(windowHours) * time.Hour).Unix()

	seen := make(map[string]bool)
	var matches []*simplefeed.MatchRecord
	var tooOld, unmatched, duplicates int

	for _, post := range posts {
		if post.Timestamp < cutoff {
			tooOld++
			continue
		}

		words := wordSet(post.Caption)
		matched := matchTerms(words, terms)
		if len(matched) == 0 {
			unmatched++
			continue
		}

		id := RecordID(post)
		if seen[id] {
			duplicates++
			continue
		}
		seen[id] = true

		caption := html.EscapeString(post.Caption)
		if mentionsBio(words) {
			caption = f.enrich(ctx, post, caption)
		}

		matches = append(matches, &simplefeed.MatchRecord{
			PostTime: post.Time(),
			ID:       id,
			Author:   post.Author,
			Terms:    matched,
			Content:  contentBlock(post, id, matched, caption),
			PhotoURL: post.PhotoURL,
		})
	}

	slices.SortStableFunc(matches, func(a, b *simplefeed.MatchRecord) int {
		return a.PostTime.Compare(b.PostTime)
	})

	f.logger.Info("Posts filtered",
		"post_count", len(posts),
		"match_count", len(matches),
		"too_old", tooOld,
		"unmatched", unmatched,
		"duplicates", duplicates,
		"window_hours", windowHours)

	return matches
}

// RecordID derives the deterministic identifier of a post.
func RecordID(post simplefeed.NormalizedPost) string {
	return post.Author + "_" + strconv.FormatInt(post.Timestamp, 10)
}

// wordSet splits on whitespace and lowercases. Punctuation stays attached,
// so "bio," is a different word than "bio".
func wordSet(caption string) map[string]bool {
	fields := strings.Fields(caption)
	words := make(map[string]bool, len(fields))
	for _, w := range fields {
		words[strings.ToLower(w)] = true
	}
	return words
}

func matchTerms(words map[string]bool, terms simplefeed.TermSet) []string {
	var matched []string
	for term := range terms {
		if words[term] {
			matched = append(matched, term)
		}
	}
	slices.Sort(matched)
	return matched
}

func mentionsBio(words map[string]bool) bool {
	return words["bio"] || words["bio."]
}

// ImagePlaceholder is the inline image reference written into a content block.
func ImagePlaceholder(id string) string {
	return fmt.Sprintf(`<img src="cid:%s" alt="%s">`, html.EscapeString(id), html.EscapeString(id))
}

func contentBlock(post simplefeed.NormalizedPost, id string, matched []string, caption string) string {
	var b strings.Builder
	b.WriteString(`<div class="post">` + "\n")
	fmt.Fprintf(&b, `<p class="meta"><strong>%s</strong> | Terms: %s | @%s</p>`+"\n",
		post.Time().Format("2006-01-02 15:04 UTC"),
		html.EscapeString(strings.Join(matched, ", ")),
		html.EscapeString(post.Author))
	fmt.Fprintf(&b, `<p class="caption">%s</p>`+"\n", strings.ReplaceAll(caption, "\n", "<br>"))
	if post.PhotoURL != "" {
		b.WriteString(ImagePlaceholder(id) + "\n")
	}
	b.WriteString("</div>")
	return b.String()
}
