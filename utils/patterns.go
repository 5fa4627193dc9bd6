package utils

import (
	"path"
	"regexp"
	"strings"
)

// PatternMatcher filters object keys. Globs match the last key segment,
// regular expressions match the full key.
type PatternMatcher struct {
	includeGlobs []string
	includeRegex []*regexp.Regexp
	excludeGlobs []string
	excludeRegex []*regexp.Regexp
}

func NewPatternMatcher(includePatterns, excludePatterns []string) *PatternMatcher {
	return &PatternMatcher{
		includeGlobs: append([]string(nil), includePatterns...),
		includeRegex: compileRegex(includePatterns),
		excludeGlobs: append([]string(nil), excludePatterns...),
		excludeRegex: compileRegex(excludePatterns),
	}
}

func (m *PatternMatcher) ShouldInclude(key string) bool {
	if m == nil {
		return true
	}
	if (len(m.includeGlobs) > 0 || len(m.includeRegex) > 0) && !m.matches(key, m.includeGlobs, m.includeRegex) {
		return false
	}
	if (len(m.excludeGlobs) > 0 || len(m.excludeRegex) > 0) && m.matches(key, m.excludeGlobs, m.excludeRegex) {
		return false
	}
	return true
}

func (m *PatternMatcher) matches(key string, globs []string, regexes []*regexp.Regexp) bool {
	base := KeyBase(key)
	for _, pattern := range globs {
		matched, _ := path.Match(pattern, base)
		if matched {
			return true
		}
	}
	for _, re := range regexes {
		if re.MatchString(key) {
			return true
		}
	}
	return false
}

func compileRegex(patterns []string) []*regexp.Regexp {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, pattern := range patterns {
		if re, err := regexp.Compile(pattern); err == nil {
			compiled = append(compiled, re)
		}
	}
	return compiled
}

// ExtensionSet is a case-insensitive set of file extensions including the dot.
type ExtensionSet map[string]struct{}

func NewExtensionSet(exts []string) ExtensionSet {
	set := make(ExtensionSet, len(exts))
	for _, ext := range exts {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		set[ext] = struct{}{}
	}
	return set
}

// Match reports whether key ends in one of the extensions.
func (s ExtensionSet) Match(key string) bool {
	_, ok := s[strings.ToLower(path.Ext(key))]
	return ok
}
