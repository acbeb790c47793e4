package digest

import (
	"strings"
	"testing"

	"simplefeed/pkg/simplefeed"
)

func TestFeed(t *testing.T) {
	m := record("alice_100", "alice", 100, []string{"launch"}, "launch day", "/tmp/x.jpg")
	m.PhotoURL = "https://cdn.example/a.jpg"
	matches := []*simplefeed.MatchRecord{m, record("bob_200", "bob", 200, []string{"sale"}, "sale", "")}

	tests := []struct {
		format string
		want   []string
	}{
		{format: "atom", want: []string{"<feed", "alice_100", "https://cdn.example/a.jpg", "@bob: sale"}},
		{format: "rss", want: []string{"<rss", "<item>", "https://cdn.example/a.jpg"}},
	}

	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			out, err := Feed(matches, tt.format, "http://localhost:8080/digest.atom")
			if err != nil {
				t.Fatalf("Feed() error = %v", err)
			}
			for _, want := range tt.want {
				if !strings.Contains(out, want) {
					t.Errorf("Feed(%s) missing %q", tt.format, want)
				}
			}
			if strings.Contains(out, "cid:alice_100") {
				t.Errorf("Feed(%s) still references the inline attachment", tt.format)
			}
		})
	}
}

func TestFeedUnknownFormat(t *testing.T) {
	if _, err := Feed(nil, "json-ld", "http://localhost"); err == nil {
		t.Error("Feed() expected error for unknown format")
	}
}
