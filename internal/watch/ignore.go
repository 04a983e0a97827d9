package watch

import (
	"path"
	"path/filepath"
	"strings"
)

// DefaultIgnore contains the patterns skipped by every watcher.
var DefaultIgnore = []string{
	".git",
	"node_modules",
	".assetrun",
	"*.tmp",
	"*.swp",
	"*~",
	".*.tmp-*",
}

// Ignore is a list of patterns matched against paths. A pattern without a
// slash and without glob characters matches any path segment ("node_modules");
// with glob characters it matches the base name ("*.swp"). A pattern with a
// slash matches a run of segments, or the whole slash path when it contains
// glob characters.
type Ignore []string

// Match reports whether p is ignored.
func (ig Ignore) Match(p string) bool {
	name := filepath.Base(p)
	normalized := filepath.ToSlash(p)

	for _, pattern := range ig {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}
		if name == pattern {
			return true
		}

		hasSep := strings.ContainsAny(pattern, `/\`)
		hasGlob := strings.ContainsAny(pattern, "*?[")

		switch {
		case hasGlob && hasSep:
			if ok, _ := path.Match(filepath.ToSlash(pattern), normalized); ok {
				return true
			}
		case hasGlob:
			if ok, _ := filepath.Match(pattern, name); ok {
				return true
			}
		case hasSep:
			if containsSegments(normalized, filepath.ToSlash(pattern)) {
				return true
			}
		default:
			if containsSegments(normalized, pattern) {
				return true
			}
		}
	}
	return false
}

func containsSegments(p, pattern string) bool {
	parts := segments(p)
	want := segments(pattern)
	if len(want) == 0 || len(want) > len(parts) {
		return false
	}

	for i := 0; i <= len(parts)-len(want); i++ {
		match := true
		for j := range want {
			if parts[i+j] != want[j] {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

func segments(p string) []string {
	if p == "" {
		return nil
	}
	parts := strings.Split(p, "/")
	out := parts[:0]
	for _, part := range parts {
		if part != "" && part != "." {
			out = append(out, part)
		}
	}
	return out
}
