package objstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
)

var ErrNoSuchKey = errors.New("no such key")

type memObject struct {
	obj  Object
	data []byte
}

// Memory is a map-backed Store. Hooks allow tests to inject listing and read
// failures.
type Memory struct {
	PageSize int

	mu       sync.RWMutex
	buckets  map[string]map[string]memObject
	reads    map[string]int
	readHook func(bucket, key string, n int) error
	listErr  error
}

func NewMemory() *Memory {
	return &Memory{
		PageSize: DefaultPageSize,
		buckets:  make(map[string]map[string]memObject),
		reads:    make(map[string]int),
	}
}

// Put stores data under key with a size matching its length.
func (m *Memory) Put(bucket, key string, data []byte) {
	m.PutObject(bucket, Object{Key: key, Size: int64(len(data))}, data)
}

// PutObject stores data with explicit listing metadata. obj.Size may differ
// from len(data) to simulate truncated bodies.
func (m *Memory) PutObject(bucket string, obj Object, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.buckets[bucket]
	if !ok {
		b = make(map[string]memObject)
		m.buckets[bucket] = b
	}
	b[obj.Key] = memObject{obj: obj, data: append([]byte(nil), data...)}
}

// SetReadHook installs fn to run before every read; n is the 1-based read
// count for the key. A non-nil return fails the read.
func (m *Memory) SetReadHook(fn func(bucket, key string, n int) error) {
	m.mu.Lock()
	m.readHook = fn
	m.mu.Unlock()
}

// FailListing makes every later List call fail with err.
func (m *Memory) FailListing(err error) {
	m.mu.Lock()
	m.listErr = err
	m.mu.Unlock()
}

// Reads returns how many reads were issued for key.
func (m *Memory) Reads(bucket, key string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.reads[bucket+"/"+key]
}

func (m *Memory) List(ctx context.Context, bucket, prefix string, fn func(page []Object) error) error {
	m.mu.RLock()
	listErr := m.listErr
	var objs []Object
	for key, o := range m.buckets[bucket] {
		if strings.HasPrefix(key, prefix) {
			objs = append(objs, o.obj)
		}
	}
	m.mu.RUnlock()
	if listErr != nil {
		return listErr
	}
	sort.Slice(objs, func(i, j int) bool { return objs[i].Key < objs[j].Key })

	pageSize := m.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	for len(objs) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		n := pageSize
		if n > len(objs) {
			n = len(objs)
		}
		if err := fn(objs[:n:n]); err != nil {
			return err
		}
		objs = objs[n:]
	}
	return nil
}

func (m *Memory) Read(ctx context.Context, bucket, key string, rng *ByteRange) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	id := bucket + "/" + key
	m.reads[id]++
	n := m.reads[id]
	hook := m.readHook
	o, ok := m.buckets[bucket][key]
	m.mu.Unlock()

	if hook != nil {
		if err := hook(bucket, key, n); err != nil {
			return nil, err
		}
	}
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", bucket, key, ErrNoSuchKey)
	}
	if rng == nil {
		return append([]byte(nil), o.data...), nil
	}
	if err := rng.validate(); err != nil {
		return nil, err
	}
	start, length := clampRange(*rng, int64(len(o.data)))
	return append([]byte(nil), o.data[start:start+length]...), nil
}

func (m *Memory) Open(ctx context.Context, bucket, key string, rng *ByteRange) (io.ReadCloser, error) {
	data, err := m.Read(ctx, bucket, key, rng)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}
