// Package simplefeed contains the core domain types for the feed digest service.
package simplefeed

import (
	"slices"
	"time"
)

// NormalizedPost is the canonical form of one feed item that carries media.
type NormalizedPost struct {
	Caption   string // Caption text, empty when the post has none
	Timestamp int64  // Publication time in epoch seconds
	Author    string // Author handle
	AuthorID  string // Author user id, used for profile lookups
	PhotoURL  string // First gallery image, empty when absent
}

// Time returns the post timestamp as a UTC time.
func (p NormalizedPost) Time() time.Time {
	return time.Unix(p.Timestamp, 0).UTC()
}

// MatchRecord is a post that passed filtering, ready for the digest.
type MatchRecord struct {
	PostTime       time.Time
	ID             string   // Deterministic id derived from author and timestamp
	Author         string   // Author handle
	Terms          []string // Matched search terms, sorted
	Content        string   // HTML block rendered for the digest
	PhotoURL       string   // Remote image, empty when absent
	ImageLocalPath string   // Downloaded image, empty until Attach succeeds
}

// Profile is the subset of author profile data used for bio enrichment.
type Profile struct {
	UserID   string
	Username string
	Links    []string // Bio link URLs in profile order
}

// TermSet is an immutable set of lowercase search terms.
type TermSet map[string]struct{}

// NewTermSet builds a set from already-normalized terms.
func NewTermSet(terms ...string) TermSet {
	s := make(TermSet, len(terms))
	for _, t := range terms {
		s[t] = struct{}{}
	}
	return s
}

// Contains reports whether term is in the set.
func (s TermSet) Contains(term string) bool {
	_, ok := s[term]
	return ok
}

// Sorted returns the terms in lexical order.
func (s TermSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for t := range s {
		out = append(out, t)
	}
	slices.Sort(out)
	return out
}
