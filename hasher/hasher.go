// Package hasher computes content digests with pooled read buffers.
package hasher

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"sort"
	"sync"

	"github.com/cespare/xxhash/v2"
	"lukechampine.com/blake3"
)

const (
	hashBufferSmallSize = 32 * 1024
	hashBufferLargeSize = 128 * 1024
)

var hashBufferSmallPool = sync.Pool{
	New: func() interface{} {
		buf := make([]byte, hashBufferSmallSize)
		return &buf
	},
}

var hashBufferLargePool = sync.Pool{
	New: func() interface{} {
		buf := make([]byte, hashBufferLargeSize)
		return &buf
	},
}

// sized pools for chunk sizes beyond the two fixed ones
var customPools sync.Map

func bufferPool(size int) *sync.Pool {
	switch {
	case size <= hashBufferSmallSize:
		return &hashBufferSmallPool
	case size <= hashBufferLargeSize:
		return &hashBufferLargePool
	}
	if p, ok := customPools.Load(size); ok {
		return p.(*sync.Pool)
	}
	p, _ := customPools.LoadOrStore(size, &sync.Pool{
		New: func() interface{} {
			buf := make([]byte, size)
			return &buf
		},
	})
	return p.(*sync.Pool)
}

var algorithms = map[string]func() hash.Hash{
	"md5":    md5.New,
	"sha1":   sha1.New,
	"sha256": sha256.New,
	"xxhash": func() hash.Hash { return xxhash.New() },
	"blake3": func() hash.Hash { return blake3.New(32, nil) },
}

// Supported lists the digest names accepted by New.
func Supported() []string {
	names := make([]string, 0, len(algorithms))
	for name := range algorithms {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func New(algo string) (hash.Hash, error) {
	ctor, ok := algorithms[algo]
	if !ok {
		return nil, fmt.Errorf("unsupported hash algorithm: %s", algo)
	}
	return ctor(), nil
}

// HashBytes digests the concatenation of parts.
func HashBytes(algo string, parts ...[]byte) (string, error) {
	h, err := New(algo)
	if err != nil {
		return "", err
	}
	for _, p := range parts {
		h.Write(p)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// HashReader streams r through the digest in chunks of chunkSize bytes and
// returns the hex digest along with the number of bytes consumed.
func HashReader(algo string, r io.Reader, chunkSize int) (string, int64, error) {
	h, err := New(algo)
	if err != nil {
		return "", 0, err
	}
	if chunkSize <= 0 {
		chunkSize = hashBufferSmallSize
	}
	pool := bufferPool(chunkSize)
	bufferPtr := pool.Get().(*[]byte)
	defer pool.Put(bufferPtr)
	buffer := (*bufferPtr)[:chunkSize]

	var total int64
	for {
		n, readErr := io.ReadFull(r, buffer)
		if n > 0 {
			h.Write(buffer[:n])
			total += int64(n)
		}
		if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
			break
		}
		if readErr != nil {
			return "", total, readErr
		}
	}
	return hex.EncodeToString(h.Sum(nil)), total, nil
}
