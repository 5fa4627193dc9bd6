package objstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/exp/mmap"

	"dupescan/fault"
	"dupescan/utils"
)

var openMmapReader = mmap.Open

const defaultMmapMinSize = 128 * 1024

// Local serves a directory tree as a bucket. The bucket argument is the root
// directory and keys are slash-separated paths relative to it.
type Local struct {
	PageSize    int
	MmapMinSize int64
}

func NewLocal() *Local {
	return &Local{PageSize: DefaultPageSize, MmapMinSize: defaultMmapMinSize}
}

func (l *Local) List(ctx context.Context, bucket, prefix string, fn func(page []Object) error) error {
	root, err := filepath.Abs(bucket)
	if err != nil {
		return err
	}
	start := root
	if dir := path.Dir(prefix); prefix != "" && dir != "." {
		start = filepath.Join(root, filepath.FromSlash(dir))
	}
	if _, err := os.Stat(start); errors.Is(err, fs.ErrNotExist) && start != root {
		return nil
	}

	pageSize := l.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	page := make([]Object, 0, pageSize)
	flush := func() error {
		if len(page) == 0 {
			return nil
		}
		sort.Slice(page, func(i, j int) bool { return page[i].Key < page[j].Key })
		err := fn(page)
		page = make([]Object, 0, pageSize)
		return err
	}

	err = walkTree(ctx, start, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("walk %s: %w", p, err)
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return fmt.Errorf("stat %s: %w", p, err)
		}
		page = append(page, Object{Key: key, Size: info.Size(), LastModified: info.ModTime()})
		if len(page) == pageSize {
			return flush()
		}
		return nil
	})
	if err != nil {
		return err
	}
	return flush()
}

func (l *Local) resolve(bucket, key string) (string, error) {
	root, err := filepath.Abs(bucket)
	if err != nil {
		return "", err
	}
	p := filepath.Join(root, filepath.FromSlash(key))
	if !utils.IsPathWithin(p, []string{root}) {
		return "", fmt.Errorf("%s: %w", key, fault.ErrKeyOutOfRoot)
	}
	return p, nil
}

func (l *Local) Read(ctx context.Context, bucket, key string, rng *ByteRange) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := l.resolve(bucket, key)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(p)
	if err != nil {
		return nil, err
	}
	start, length := int64(0), info.Size()
	if rng != nil {
		if err := rng.validate(); err != nil {
			return nil, err
		}
		start, length = clampRange(*rng, info.Size())
	}
	if length <= 0 {
		return []byte{}, nil
	}

	minSize := l.MmapMinSize
	if minSize <= 0 {
		minSize = defaultMmapMinSize
	}
	if length >= minSize {
		if data, err := readMmap(p, start, length); err == nil {
			return data, nil
		}
	}
	return readFileAt(p, start, length)
}

func (l *Local) Open(ctx context.Context, bucket, key string, rng *ByteRange) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := l.resolve(bucket, key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, err
	}
	if rng == nil {
		return f, nil
	}
	if err := rng.validate(); err != nil {
		f.Close()
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	start, length := clampRange(*rng, info.Size())
	return sectionReadCloser{SectionReader: io.NewSectionReader(f, start, length), Closer: f}, nil
}

type sectionReadCloser struct {
	*io.SectionReader
	io.Closer
}

// clampRange trims rng to an object of the given size, like a server would.
func clampRange(rng ByteRange, size int64) (start, length int64) {
	if rng.Start >= size {
		return size, 0
	}
	end := rng.End
	if end >= size {
		end = size - 1
	}
	return rng.Start, end - rng.Start + 1
}

func readMmap(p string, start, length int64) ([]byte, error) {
	r, err := openMmapReader(p)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	buf := make([]byte, length)
	n, err := r.ReadAt(buf, start)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return buf[:n], nil
}

func readFileAt(p string, start, length int64) ([]byte, error) {
	f, err := os.Open(p)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	buf := make([]byte, length)
	n, err := f.ReadAt(buf, start)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return buf[:n], nil
}

// walkTree is an iterative depth-first walk that avoids the recursion of
// filepath.WalkDir on very deep trees.
func walkTree(ctx context.Context, startPath string, fn fs.WalkDirFunc) error {
	info, err := os.Stat(startPath)
	if err != nil {
		return fn(startPath, nil, err)
	}
	type item struct {
		path  string
		entry fs.DirEntry
	}
	stack := []item{{path: startPath, entry: fs.FileInfoToDirEntry(info)}}
	for len(stack) > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if err := fn(current.path, current.entry, nil); err != nil {
			if err == fs.SkipDir {
				continue
			}
			return err
		}
		if !current.entry.IsDir() {
			continue
		}

		entries, err := os.ReadDir(current.path)
		if err != nil {
			if ferr := fn(current.path, current.entry, err); ferr != nil && ferr != fs.SkipDir {
				return ferr
			}
			continue
		}
		for i := len(entries) - 1; i >= 0; i-- {
			stack = append(stack, item{
				path:  filepath.Join(current.path, entries[i].Name()),
				entry: entries[i],
			})
		}
	}
	return nil
}
