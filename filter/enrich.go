package filter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"strings"
	"unicode"

	"simplefeed/cache"
	"simplefeed/pkg/simplefeed"
)

// enrich links the bio mention in an already escaped caption. Failures leave
// the caption unchanged.
func (f *Filter) enrich(ctx context.Context, post simplefeed.NormalizedPost, caption string) string {
	links, err := f.bioLinks(ctx, post.AuthorID)
	if err != nil {
		f.logger.Warn("Bio enrichment failed, keeping caption",
			"author", post.Author,
			"author_id", post.AuthorID,
			"error", err)
		return caption
	}

	switch len(links) {
	case 0:
		f.logger.Debug("Profile has no bio links", "author", post.Author)
		return caption
	case 1:
		return linkBioToken(caption, links[0])
	default:
		return caption + "\n" + linkList(links)
	}
}

func (f *Filter) bioLinks(ctx context.Context, userID string) ([]string, error) {
	key := "profile_links:" + userID

	if f.cache != nil {
		data, err := f.cache.Get(ctx, key)
		switch {
		case err == nil:
			var links []string
			if jsonErr := json.Unmarshal(data, &links); jsonErr == nil {
				return links, nil
			}
			f.logger.Warn("Discarding unreadable cached profile links", "author_id", userID)
		case !errors.Is(err, cache.ErrCacheMiss):
			f.logger.Warn("Profile link cache lookup failed", "author_id", userID, "error", err)
		}
	}

	profile, err := f.profiles.FetchProfile(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("fetch profile: %w", err)
	}

	if f.cache != nil {
		data, err := json.Marshal(profile.Links)
		if err == nil {
			err = f.cache.Set(ctx, key, data, f.linkTTL)
		}
		if err != nil {
			f.logger.Warn("Failed to cache profile links", "author_id", userID, "error", err)
		}
	}

	return profile.Links, nil
}

// linkBioToken wraps the first "bio" or "bio." token in a hyperlink, keeping
// its casing and trailing dot.
func linkBioToken(caption, link string) string {
	start, end, ok := findBioToken(caption)
	if !ok {
		return caption
	}
	word := caption[start:end]
	suffix := ""
	if strings.HasSuffix(word, ".") {
		word = strings.TrimSuffix(word, ".")
		suffix = "."
	}
	anchor := fmt.Sprintf("<a href='%s'>%s</a>%s", html.EscapeString(link), word, suffix)
	return caption[:start] + anchor + caption[end:]
}

func findBioToken(s string) (start, end int, ok bool) {
	inWord := false
	for i, r := range s {
		if unicode.IsSpace(r) {
			if inWord && isBioWord(s[start:i]) {
				return start, i, true
			}
			inWord = false
			continue
		}
		if !inWord {
			start = i
			inWord = true
		}
	}
	if inWord && isBioWord(s[start:]) {
		return start, len(s), true
	}
	return 0, 0, false
}

func isBioWord(w string) bool {
	w = strings.ToLower(w)
	return w == "bio" || w == "bio."
}

func linkList(links []string) string {
	parts := make([]string, len(links))
	for i, l := range links {
		parts[i] = fmt.Sprintf("<a href='%s'>[%d]</a>", html.EscapeString(l), i+1)
	}
	return "Bio links: " + strings.Join(parts, " ")
}
