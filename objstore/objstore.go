// Package objstore abstracts the remote object stores dupescan reads from.
// Every backend is safe for concurrent use by many workers.
package objstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

// DefaultPageSize is the number of objects handed to a List callback at once.
const DefaultPageSize = 1000

// Object is one listed entry.
type Object struct {
	Key          string
	Size         int64
	ETag         string
	LastModified time.Time
}

// ByteRange is an inclusive byte range with HTTP Range semantics.
type ByteRange struct {
	Start int64
	End   int64
}

// Len returns the number of bytes the range covers.
func (r ByteRange) Len() int64 { return r.End - r.Start + 1 }

func (r ByteRange) header() string {
	return fmt.Sprintf("bytes=%d-%d", r.Start, r.End)
}

func (r ByteRange) validate() error {
	if r.Start < 0 || r.End < r.Start {
		return fmt.Errorf("invalid byte range %d-%d", r.Start, r.End)
	}
	return nil
}

// Lister walks every object under a prefix. fn receives one page at a time;
// returning an error from fn stops the listing and is returned unchanged.
type Lister interface {
	List(ctx context.Context, bucket, prefix string, fn func(page []Object) error) error
}

// Reader fetches object bytes. A nil range reads the whole object.
type Reader interface {
	Read(ctx context.Context, bucket, key string, rng *ByteRange) ([]byte, error)
	Open(ctx context.Context, bucket, key string, rng *ByteRange) (io.ReadCloser, error)
}

type Store interface {
	Lister
	Reader
}

// Supported location schemes.
const (
	SchemeS3    = "s3"
	SchemeMinio = "minio"
	SchemeFile  = "file"
)

// Location is a parsed source URL.
type Location struct {
	Scheme string
	Bucket string
	Prefix string
}

func (l Location) String() string {
	if l.Scheme == SchemeFile {
		return "file://" + l.Bucket
	}
	if l.Prefix == "" {
		return l.Scheme + "://" + l.Bucket
	}
	return l.Scheme + "://" + l.Bucket + "/" + l.Prefix
}

var ErrInvalidLocation = errors.New("invalid source location")

// ParseURL splits a source such as s3://bucket/some/prefix. A value without a
// scheme is treated as s3. For file:// sources the bucket is the directory
// and the prefix is empty.
func ParseURL(raw string) (Location, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Location{}, fmt.Errorf("%w: empty", ErrInvalidLocation)
	}
	scheme := SchemeS3
	rest := raw
	if i := strings.Index(raw, "://"); i >= 0 {
		scheme = strings.ToLower(raw[:i])
		rest = raw[i+3:]
	}
	switch scheme {
	case SchemeFile:
		if rest == "" {
			return Location{}, fmt.Errorf("%w: %q has no directory", ErrInvalidLocation, raw)
		}
		return Location{Scheme: scheme, Bucket: rest}, nil
	case SchemeS3, SchemeMinio:
	default:
		return Location{}, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidLocation, scheme)
	}
	rest = strings.TrimLeft(rest, "/")
	bucket, prefix, _ := strings.Cut(rest, "/")
	if bucket == "" {
		return Location{}, fmt.Errorf("%w: %q has no bucket", ErrInvalidLocation, raw)
	}
	return Location{Scheme: scheme, Bucket: bucket, Prefix: prefix}, nil
}

// Options configures the remote backends built by ForLocation.
type Options struct {
	Region         string
	Endpoint       string
	PathStyle      bool
	MaxAttempts    int
	MinioAccessKey string
	MinioSecretKey string
	MinioSecure    bool
}

// ForLocation builds the store serving loc.
func ForLocation(ctx context.Context, loc Location, opts Options) (Store, error) {
	switch loc.Scheme {
	case SchemeS3:
		return NewS3(ctx, S3Options{
			Region:      opts.Region,
			Endpoint:    opts.Endpoint,
			PathStyle:   opts.PathStyle,
			MaxAttempts: opts.MaxAttempts,
		})
	case SchemeMinio:
		return NewMinio(opts.Endpoint, MinioOptions{
			AccessKey: opts.MinioAccessKey,
			SecretKey: opts.MinioSecretKey,
			Secure:    opts.MinioSecure,
			Region:    opts.Region,
		})
	case SchemeFile:
		return NewLocal(), nil
	default:
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidLocation, loc.Scheme)
	}
}

// readBody drains and closes rc. Length checks belong to the caller, which
// knows the listed size.
func readBody(rc io.ReadCloser) ([]byte, error) {
	defer rc.Close()
	return io.ReadAll(rc)
}
