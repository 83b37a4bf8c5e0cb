package lfs

import (
	"strings"

	ignore "github.com/sabhiram/go-gitignore"
)

// BuildPathFilter creates a PathFilter from gitignore-style exclude patterns.
// Paths matching any pattern are hidden; an empty pattern list hides nothing.
func BuildPathFilter(excludes []string) PathFilter {
	var lines []string
	for _, line := range excludes {
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) == 0 {
		return nil
	}
	matcher := ignore.CompileIgnoreLines(lines...)

	return func(p string, isDir bool) bool {
		rel := strings.TrimPrefix(p, "/")
		if rel == "" {
			return true
		}
		if matcher.MatchesPath(rel) {
			return false
		}
		// Directory-only patterns ("logs/") need the trailing slash to match.
		if isDir && matcher.MatchesPath(rel+"/") {
			return false
		}
		return true
	}
}
