// Package fault classifies the errors a duplicate scan can hit.
//
// A scan distinguishes four kinds of failure. A catalog failure is fatal and
// aborts the run before any object is fingerprinted. Read, decode and
// empty-object failures are per-object: they end up as failed outcomes in the
// report and never stop sibling work.
package fault

import (
	"context"
	"errors"
	"fmt"
)

// Kind identifies a class of failure.
type Kind string

const (
	KindCatalog     Kind = "catalog"
	KindRead        Kind = "read"
	KindDecode      Kind = "decode"
	KindEmptyObject Kind = "empty_object"
	KindCanceled    Kind = "canceled"
)

// Sentinel errors usable with errors.Is.
var (
	ErrEmptyObject  = errors.New("object is empty")
	ErrShortRead    = errors.New("short read")
	ErrNotAnImage   = errors.New("content is not a supported image")
	ErrKeyOutOfRoot = errors.New("key escapes store root")
)

// Error carries the kind of failure together with the object it concerns.
type Error struct {
	Kind   Kind
	Op     string
	Bucket string
	Key    string
	Err    error
}

func (e *Error) Error() string {
	switch {
	case e.Bucket != "" && e.Key != "":
		return fmt.Sprintf("%s %s/%s: %v", e.Op, e.Bucket, e.Key, e.Err)
	case e.Bucket != "":
		return fmt.Sprintf("%s bucket %s: %v", e.Op, e.Bucket, e.Err)
	case e.Key != "":
		return fmt.Sprintf("%s %s: %v", e.Op, e.Key, e.Err)
	default:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Catalog wraps a listing failure.
func Catalog(bucket, prefix string, err error) *Error {
	return &Error{Kind: KindCatalog, Op: "list", Bucket: bucket, Key: prefix, Err: err}
}

// Read wraps a remote fetch failure for one object.
func Read(bucket, key string, err error) *Error {
	return &Error{Kind: KindRead, Op: "read", Bucket: bucket, Key: key, Err: err}
}

// Decode wraps a content decoding failure for one object.
func Decode(bucket, key string, err error) *Error {
	return &Error{Kind: KindDecode, Op: "decode", Bucket: bucket, Key: key, Err: err}
}

// Empty reports a zero-byte object.
func Empty(bucket, key string) *Error {
	return &Error{Kind: KindEmptyObject, Op: "fingerprint", Bucket: bucket, Key: key, Err: ErrEmptyObject}
}

// KindOf classifies err. Context cancellation maps to KindCanceled and
// unclassified errors are treated as read failures.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindCanceled
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	if errors.Is(err, ErrEmptyObject) {
		return KindEmptyObject
	}
	return KindRead
}

// Retryable reports whether another attempt could change the outcome.
func Retryable(kind Kind) bool {
	return kind == KindRead || kind == KindDecode
}

// Classify returns err as an *Error, wrapping it with its inferred kind when
// it is not one already. Cancellation wins over the kind recorded by the
// failing operation.
func Classify(bucket, key string, err error) *Error {
	if err == nil {
		return nil
	}
	kind := KindOf(err)
	var fe *Error
	if errors.As(err, &fe) {
		if fe.Kind == kind {
			return fe
		}
		return &Error{Kind: kind, Op: fe.Op, Bucket: fe.Bucket, Key: fe.Key, Err: fe.Err}
	}
	return &Error{Kind: kind, Op: "fingerprint", Bucket: bucket, Key: key, Err: err}
}
