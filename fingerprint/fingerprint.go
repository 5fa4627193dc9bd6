// Package fingerprint derives comparable content fingerprints for catalog
// records. Two records are duplicates exactly when their fingerprints are
// equal.
package fingerprint

import (
	"context"
	"fmt"

	"dupescan/catalog"
)

// Kind is the confidence tier of a fingerprint.
type Kind string

const (
	KindPerceptual Kind = "perceptual"
	KindSampled    Kind = "sampled"
	KindFull       Kind = "full"
)

// Fingerprint is comparable with ==. Size is zero for perceptual hashes,
// which match across encodings of different length.
type Fingerprint struct {
	Kind  Kind
	Value string
	Size  int64
}

func (f Fingerprint) IsZero() bool { return f == Fingerprint{} }

func (f Fingerprint) String() string {
	if f.Kind == KindPerceptual {
		return fmt.Sprintf("%s:%s", f.Kind, f.Value)
	}
	return fmt.Sprintf("%s:%d:%s", f.Kind, f.Size, f.Value)
}

// Strategy computes a fingerprint for one record. Errors are classified
// fault.Error values.
type Strategy interface {
	Name() string
	Compute(ctx context.Context, rec catalog.Record) (Fingerprint, error)
}
