package fingerprint

import (
	"bytes"
	"context"
	"fmt"

	"github.com/disintegration/imaging"
	"github.com/h2non/filetype"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"dupescan/catalog"
	"dupescan/fault"
	"dupescan/imagehash"
	"dupescan/objstore"
)

type PerceptualOptions struct {
	Algorithm  string
	Resolution int
}

// Perceptual hashes decoded pixels so re-encoded copies of an image match.
type Perceptual struct {
	reader     objstore.Reader
	hasher     imagehash.Hasher
	resolution int
}

func NewPerceptual(reader objstore.Reader, opts PerceptualOptions) (*Perceptual, error) {
	algo := opts.Algorithm
	if algo == "" {
		algo = "phash"
	}
	h, ok := imagehash.Lookup(algo)
	if !ok {
		return nil, fmt.Errorf("unknown perceptual algorithm %q (available: %v)", algo, imagehash.Available())
	}
	res := opts.Resolution
	if res == 0 {
		res = imagehash.MinResolution
	}
	if err := h.Validate(res); err != nil {
		return nil, err
	}
	return &Perceptual{reader: reader, hasher: h, resolution: res}, nil
}

func (p *Perceptual) Name() string { return "perceptual-" + p.hasher.Name() }

func (p *Perceptual) Compute(ctx context.Context, rec catalog.Record) (Fingerprint, error) {
	if rec.Size == 0 {
		return Fingerprint{}, fault.Empty(rec.Bucket, rec.Key)
	}
	data, err := p.reader.Read(ctx, rec.Bucket, rec.Key, nil)
	if err != nil {
		return Fingerprint{}, fault.Read(rec.Bucket, rec.Key, err)
	}
	if len(data) == 0 {
		return Fingerprint{}, fault.Empty(rec.Bucket, rec.Key)
	}
	if int64(len(data)) < rec.Size {
		return Fingerprint{}, fault.Read(rec.Bucket, rec.Key,
			fmt.Errorf("%w: got %d of %d bytes", fault.ErrShortRead, len(data), rec.Size))
	}
	if !filetype.IsImage(data) {
		return Fingerprint{}, fault.Decode(rec.Bucket, rec.Key, fault.ErrNotAnImage)
	}
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return Fingerprint{}, fault.Decode(rec.Bucket, rec.Key, err)
	}
	value, err := p.hasher.Hash(imaging.Clone(img), p.resolution)
	if err != nil {
		return Fingerprint{}, fault.Decode(rec.Bucket, rec.Key, err)
	}
	return Fingerprint{Kind: KindPerceptual, Value: value}, nil
}
