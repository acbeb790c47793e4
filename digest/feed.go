package digest

import (
	"fmt"
	"html"
	"strings"

	"github.com/gorilla/feeds"

	"simplefeed/filter"
	"simplefeed/pkg/simplefeed"
)

// Feed renders matches as an "atom" or "rss" document. Inline image
// references are swapped for the remote photo so feed readers can show them.
func Feed(matches []*simplefeed.MatchRecord, format, link string) (string, error) {
	feed := &feeds.Feed{
		Title:       "SimpleFeed digest",
		Link:        &feeds.Link{Href: link},
		Description: "Feed posts matching the search terms",
	}

	for _, m := range matches {
		content := m.Content
		if m.PhotoURL != "" {
			content = strings.Replace(content, filter.ImagePlaceholder(m.ID),
				fmt.Sprintf(`<img src="%s" alt="%s">`, html.EscapeString(m.PhotoURL), html.EscapeString(m.ID)), 1)
		}
		feed.Items = append(feed.Items, &feeds.Item{
			Id:      m.ID,
			Title:   fmt.Sprintf("@%s: %s", m.Author, strings.Join(m.Terms, ", ")),
			Author:  &feeds.Author{Name: m.Author},
			Link:    &feeds.Link{Href: link},
			Content: content,
			Created: m.PostTime,
		})

		if feed.Created.IsZero() || m.PostTime.After(feed.Created) {
			feed.Created = m.PostTime
		}
	}

	var (
		out string
		err error
	)
	switch format {
	case "atom", "":
		out, err = feed.ToAtom()
	case "rss":
		out, err = feed.ToRss()
	default:
		return "", fmt.Errorf("unsupported feed format %q", format)
	}
	if err != nil {
		return "", fmt.Errorf("marshal %s feed: %w", format, err)
	}
	return out, nil
}
