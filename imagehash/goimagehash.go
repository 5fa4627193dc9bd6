package imagehash

import (
	"fmt"
	"image"
	"strings"

	"github.com/corona10/goimagehash"
)

func init() {
	Register(extHasher{name: "phash", fn: goimagehash.ExtPerceptionHash})
	Register(extHasher{name: "dhash", fn: goimagehash.ExtDifferenceHash})
	Register(extHasher{name: "ahash", fn: goimagehash.ExtAverageHash})
}

// MinResolution is the smallest side length accepted by the hashers.
const MinResolution = 8

type extHasher struct {
	name string
	fn   func(img image.Image, width, height int) (*goimagehash.ExtImageHash, error)
}

func (h extHasher) Name() string { return h.name }

// Validate requires a power of two no smaller than MinResolution, so the
// hash is a whole number of 64-bit words.
func (h extHasher) Validate(resolution int) error {
	if resolution < MinResolution || resolution&(resolution-1) != 0 {
		return fmt.Errorf("%s: hash resolution must be a power of two >= %d, got %d", h.name, MinResolution, resolution)
	}
	return nil
}

func (h extHasher) Hash(img image.Image, resolution int) (string, error) {
	if err := h.Validate(resolution); err != nil {
		return "", err
	}
	if img == nil {
		return "", fmt.Errorf("%s: nil image", h.name)
	}
	hash, err := h.fn(img, resolution, resolution)
	if err != nil {
		return "", fmt.Errorf("%s: %w", h.name, err)
	}
	var sb strings.Builder
	for _, word := range hash.GetHash() {
		fmt.Fprintf(&sb, "%016x", word)
	}
	return sb.String(), nil
}
