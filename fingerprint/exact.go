package fingerprint

import (
	"context"
	"errors"
	"fmt"
	"math"

	"dupescan/catalog"
	"dupescan/fault"
	"dupescan/hasher"
	"dupescan/objstore"
)

const (
	DefaultSampleSize = 1 << 20
	DefaultChunkSize  = 8 << 20
)

// ErrSizeChanged reports a body longer than the listed size.
var ErrSizeChanged = errors.New("object size changed since listing")

// MaxSampleSize bounds ExactOptions.SampleSize so head and tail offsets stay
// representable.
const MaxSampleSize = math.MaxInt64 / 2

type ExactOptions struct {
	Digest     string
	SampleSize int64
	// Full hashes the whole object instead of a head and tail sample.
	Full      bool
	ChunkSize int
}

// Exact fingerprints raw bytes. The sampled tier reads only the first and
// last SampleSize bytes; the full tier streams everything.
type Exact struct {
	reader objstore.Reader
	opts   ExactOptions
}

func NewExact(reader objstore.Reader, opts ExactOptions) (*Exact, error) {
	if opts.Digest == "" {
		opts.Digest = "md5"
	}
	if _, err := hasher.New(opts.Digest); err != nil {
		return nil, err
	}
	if opts.SampleSize <= 0 {
		opts.SampleSize = DefaultSampleSize
	}
	if opts.SampleSize > MaxSampleSize {
		return nil, fmt.Errorf("sample size %d exceeds %d", opts.SampleSize, int64(MaxSampleSize))
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	return &Exact{reader: reader, opts: opts}, nil
}

func (e *Exact) Name() string {
	if e.opts.Full {
		return "exact-full-" + e.opts.Digest
	}
	return "exact-sampled-" + e.opts.Digest
}

func (e *Exact) Compute(ctx context.Context, rec catalog.Record) (Fingerprint, error) {
	if rec.Size == 0 {
		return Fingerprint{}, fault.Empty(rec.Bucket, rec.Key)
	}
	if e.opts.Full {
		return e.full(ctx, rec)
	}
	return e.sampled(ctx, rec)
}

func (e *Exact) sampled(ctx context.Context, rec catalog.Record) (Fingerprint, error) {
	n := e.opts.SampleSize
	var parts [][]byte
	if rec.Size/2 >= n {
		head, err := e.readExactly(ctx, rec, &objstore.ByteRange{Start: 0, End: n - 1}, n)
		if err != nil {
			return Fingerprint{}, err
		}
		tail, err := e.readExactly(ctx, rec, &objstore.ByteRange{Start: rec.Size - n, End: rec.Size - 1}, n)
		if err != nil {
			return Fingerprint{}, err
		}
		parts = [][]byte{head, tail}
	} else {
		whole, err := e.readExactly(ctx, rec, nil, rec.Size)
		if err != nil {
			return Fingerprint{}, err
		}
		parts = [][]byte{whole}
	}
	value, err := hasher.HashBytes(e.opts.Digest, parts...)
	if err != nil {
		return Fingerprint{}, err
	}
	return Fingerprint{Kind: KindSampled, Value: value, Size: rec.Size}, nil
}

func (e *Exact) readExactly(ctx context.Context, rec catalog.Record, rng *objstore.ByteRange, want int64) ([]byte, error) {
	data, err := e.reader.Read(ctx, rec.Bucket, rec.Key, rng)
	if err != nil {
		return nil, fault.Read(rec.Bucket, rec.Key, err)
	}
	if len(data) == 0 {
		return nil, fault.Empty(rec.Bucket, rec.Key)
	}
	if int64(len(data)) < want {
		return nil, fault.Read(rec.Bucket, rec.Key,
			fmt.Errorf("%w: got %d of %d bytes", fault.ErrShortRead, len(data), want))
	}
	if int64(len(data)) > want {
		// The object changed since it was listed.
		return nil, fault.Read(rec.Bucket, rec.Key,
			fmt.Errorf("%w: got %d bytes, listed %d", ErrSizeChanged, len(data), want))
	}
	return data, nil
}

func (e *Exact) full(ctx context.Context, rec catalog.Record) (Fingerprint, error) {
	rc, err := e.reader.Open(ctx, rec.Bucket, rec.Key, nil)
	if err != nil {
		return Fingerprint{}, fault.Read(rec.Bucket, rec.Key, err)
	}
	defer rc.Close()
	value, n, err := hasher.HashReader(e.opts.Digest, rc, e.opts.ChunkSize)
	if err != nil {
		return Fingerprint{}, fault.Read(rec.Bucket, rec.Key, err)
	}
	if n == 0 {
		return Fingerprint{}, fault.Empty(rec.Bucket, rec.Key)
	}
	if n != rec.Size {
		return Fingerprint{}, fault.Read(rec.Bucket, rec.Key,
			fmt.Errorf("%w: streamed %d of %d bytes", fault.ErrShortRead, n, rec.Size))
	}
	return Fingerprint{Kind: KindFull, Value: value, Size: rec.Size}, nil
}
