// Package terms loads the search term list.
package terms

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"simplefeed/pkg/simplefeed"
)

const bom = "\ufeff"

// Load reads one term per line from path and returns the normalized set.
// Terms are trimmed and lower-cased; blank lines and duplicates are dropped.
func Load(path string) (simplefeed.TermSet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open term file: %w", simplefeed.ErrInput, err)
	}
	defer func() {
		_ = f.Close() //nolint:errcheck // read-only file
	}()

	set := make(simplefeed.TermSet)
	scanner := bufio.NewScanner(f)
	first := true
	for scanner.Scan() {
		line := scanner.Text()
		if first {
			line = strings.TrimPrefix(line, bom)
			first = false
		}
		term := strings.ToLower(strings.TrimSpace(line))
		if term == "" {
			continue
		}
		set[term] = struct{}{}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: read term file: %w", simplefeed.ErrInput, err)
	}

	return set, nil
}
