// Package digest assembles match records into the outgoing message.
package digest

import (
	"fmt"
	"html"
	"slices"
	"strings"

	"simplefeed/pkg/simplefeed"
)

// Separator divides consecutive posts in the HTML body.
const Separator = `<hr class="separator">`

// maxSubjectTerms caps how many terms are spelled out in the subject.
const maxSubjectTerms = 3

// Attachment is an inline image referenced from the HTML body by content id.
type Attachment struct {
	ContentID string
	Path      string
}

// Payload is everything the notification transport needs.
type Payload struct {
	Subject     string
	HTML        string
	Text        string
	Attachments []Attachment
}

// Build renders matches, already in digest order, into one payload. It
// returns simplefeed.ErrNothingToSend when there are no matches.
func Build(matches []*simplefeed.MatchRecord, terms simplefeed.TermSet) (*Payload, error) {
	if len(matches) == 0 {
		return nil, simplefeed.ErrNothingToSend
	}

	blocks := make([]string, len(matches))
	var attachments []Attachment
	for i, m := range matches {
		blocks[i] = m.Content
		if m.ImageLocalPath != "" {
			attachments = append(attachments, Attachment{ContentID: m.ID, Path: m.ImageLocalPath})
		}
	}

	body := formatBody(blocks, terms)
	text, err := plainText(body)
	if err != nil {
		return nil, fmt.Errorf("render plain text: %w", err)
	}

	return &Payload{
		Subject:     subject(matchedTerms(matches)),
		HTML:        body,
		Text:        text,
		Attachments: attachments,
	}, nil
}

func matchedTerms(matches []*simplefeed.MatchRecord) []string {
	var terms []string
	for _, m := range matches {
		terms = append(terms, m.Terms...)
	}
	slices.Sort(terms)
	return slices.Compact(terms)
}

func subject(terms []string) string {
	quoted := make([]string, 0, maxSubjectTerms)
	for i, t := range terms {
		if i == maxSubjectTerms {
			break
		}
		quoted = append(quoted, "'"+t+"'")
	}
	s := "Instagram Posts Containing " + strings.Join(quoted, ", ")
	if extra := len(terms) - maxSubjectTerms; extra > 0 {
		s += fmt.Sprintf(" and %d more", extra)
	}
	return s
}

func formatBody(blocks []string, terms simplefeed.TermSet) string {
	var b strings.Builder

	b.WriteString("<!DOCTYPE html>\n<html lang=\"en\">\n<head>\n")
	b.WriteString("<meta charset=\"utf-8\">\n")
	b.WriteString("<meta name=\"viewport\" content=\"width=device-width, initial-scale=1\">\n")
	b.WriteString("<style>\n")
	b.WriteString("body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 800px; margin: 0 auto; padding: 20px; background: #fff; }\n")
	b.WriteString(".meta { color: #7f8c8d; font-size: 0.9em; margin-bottom: 8px; }\n")
	b.WriteString(".caption { margin: 10px 0; }\n")
	b.WriteString(".post img { max-width: 100%; height: auto; display: block; }\n")
	b.WriteString(".separator { border: none; border-top: 2px solid #c13584; margin: 24px 0; }\n")
	b.WriteString(".searching { color: #7f8c8d; font-size: 0.85em; margin-top: 24px; }\n")
	b.WriteString("a { color: #c13584; }\n")
	b.WriteString("</style>\n</head>\n<body>\n")

	b.WriteString(strings.Join(blocks, "\n"+Separator+"\n"))
	b.WriteString("\n")

	if len(terms) > 0 {
		fmt.Fprintf(&b, "<p class=\"searching\">Searching for: %s</p>\n",
			html.EscapeString(strings.Join(terms.Sorted(), ", ")))
	}

	b.WriteString("</body>\n</html>")
	return b.String()
}
