package utils

import (
	"path"
	"path/filepath"
	"strings"
)

// IsPathWithin returns true if the given path is within any of the roots.
func IsPathWithin(p string, roots []string) bool {
	resolved, err := filepath.EvalSymlinks(p)
	if err != nil {
		resolved = p
	}
	absPath, err := filepath.Abs(resolved)
	if err != nil {
		return false
	}
	for _, root := range roots {
		rResolved, err := filepath.EvalSymlinks(root)
		if err != nil {
			rResolved = root
		}
		absRoot, err := filepath.Abs(rResolved)
		if err != nil {
			continue
		}
		rel, err := filepath.Rel(absRoot, absPath)
		if err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// KeyBase returns the last segment of a slash-separated object key.
func KeyBase(key string) string {
	key = strings.TrimSuffix(key, "/")
	if i := strings.LastIndex(key, "/"); i >= 0 {
		return key[i+1:]
	}
	return key
}

// KeySegmentContaining returns the first key segment whose lower-cased form
// contains marker, or "" when none does.
func KeySegmentContaining(key, marker string) string {
	marker = strings.ToLower(marker)
	if marker == "" {
		return ""
	}
	for _, part := range strings.Split(key, "/") {
		if strings.Contains(strings.ToLower(part), marker) {
			return part
		}
	}
	return ""
}

// JoinKey joins a prefix and a relative key with exactly one slash.
func JoinKey(prefix, rel string) string {
	if prefix == "" {
		return rel
	}
	return path.Join(prefix, rel)
}
