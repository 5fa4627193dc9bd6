// Package imagehash provides perceptual image hashers selectable by name.
package imagehash

import (
	"image"
	"sort"
	"strings"
)

// Hasher reduces a decoded image to a fixed-length bit string, hex encoded.
type Hasher interface {
	Name() string
	// Validate reports whether resolution is usable with this hasher.
	Validate(resolution int) error
	Hash(img image.Image, resolution int) (string, error)
}

var registry = map[string]Hasher{}

// Register adds a hasher to the registry.
func Register(hasher Hasher) {
	if hasher == nil {
		return
	}
	registry[strings.ToLower(hasher.Name())] = hasher
}

// Lookup returns a registered hasher by name.
func Lookup(name string) (Hasher, bool) {
	hasher, ok := registry[strings.ToLower(name)]
	return hasher, ok
}

// Available returns the names of registered hashers.
func Available() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
