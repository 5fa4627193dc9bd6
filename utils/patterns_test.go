package utils

import "testing"

func TestShouldInclude(t *testing.T) {
	matcher := NewPatternMatcher(nil, nil)
	if !matcher.ShouldInclude("data/file.txt") {
		t.Fatal("expected include by default")
	}
	matcher = NewPatternMatcher([]string{"*.jpg"}, nil)
	if matcher.ShouldInclude("data/file.txt") {
		t.Fatal("should not include unmatched include pattern")
	}
	if !matcher.ShouldInclude("data/batch1/photo.jpg") {
		t.Fatal("glob should match the last key segment")
	}
	matcher = NewPatternMatcher(nil, []string{"secret.*"})
	if matcher.ShouldInclude("a/secret.txt") {
		t.Fatal("should exclude matching exclude pattern")
	}
	if !matcher.ShouldInclude("a/notes.txt") {
		t.Fatal("should include when exclude does not match")
	}
	matcher = NewPatternMatcher([]string{"^projects/.*/thumbs/"}, nil)
	if !matcher.ShouldInclude("projects/row530/thumbs/a.png") {
		t.Fatal("should match regex include pattern against the full key")
	}
	var nilMatcher *PatternMatcher
	if !nilMatcher.ShouldInclude("anything") {
		t.Fatal("nil matcher should include everything")
	}
}

func TestExtensionSet(t *testing.T) {
	set := NewExtensionSet([]string{".jpg", "PNG", " .HEIC ", ""})
	for _, key := range []string{"a/b.jpg", "a/b.JPG", "c.png", "d/e.heic"} {
		if !set.Match(key) {
			t.Errorf("expected %s to match", key)
		}
	}
	for _, key := range []string{"a/b.txt", "noext", "a.jpg/", "a/b.jpeg"} {
		if set.Match(key) {
			t.Errorf("did not expect %s to match", key)
		}
	}
}
