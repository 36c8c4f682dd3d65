// Package urllist reads and normalizes the input URL list.
package urllist

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// Normalize trims whitespace and prefixes "http://" when s carries no
// http or https scheme. It never fails.
func Normalize(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://") {
		return s
	}
	return "http://" + s
}

// Prepare normalizes raw entries, drops blanks and removes duplicates while
// keeping the first occurrence's position.
func Prepare(raw []string) []string {
	seen := make(map[string]struct{}, len(raw))
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		if strings.TrimSpace(r) == "" {
			continue
		}
		u := Normalize(r)
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}

// Load returns the non-blank lines of the file at path, trimmed.
func Load(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening url list: %w", err)
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading url list %q: %w", path, err)
	}
	return lines, nil
}
