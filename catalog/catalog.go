// Package catalog turns a store listing into candidate records.
package catalog

import (
	"context"
	"errors"
	"strings"
	"time"

	"dupescan/fault"
	"dupescan/objstore"
	"dupescan/utils"
)

// UnknownGroupTag is assigned when no key segment carries the marker.
const UnknownGroupTag = "Unknown"

// DefaultImageExtensions is the allow-list used by the perceptual strategy.
var DefaultImageExtensions = []string{".jpg", ".jpeg", ".png", ".gif", ".bmp", ".tif", ".tiff", ".webp", ".heic"}

// Record is one listed object. Records are immutable once built.
type Record struct {
	Bucket       string
	Key          string
	Size         int64
	GroupTag     string
	ETag         string
	LastModified time.Time
}

// Catalog is the ordered result of a listing.
type Catalog struct {
	Records []Record
	index   map[string]int
}

func (c *Catalog) Len() int { return len(c.Records) }

// Lookup returns the record for key.
func (c *Catalog) Lookup(key string) (Record, bool) {
	i, ok := c.index[key]
	if !ok {
		return Record{}, false
	}
	return c.Records[i], true
}

type Options struct {
	Bucket string
	Prefix string
	// Extensions restricts keys to these extensions when non-empty.
	Extensions []string
	Include    []string
	Exclude    []string
	// GroupTagMarker selects the key segment used as group tag. Empty means
	// every record gets an empty tag.
	GroupTagMarker string
}

// Builder lists a prefix and yields filtered records.
type Builder struct {
	lister  objstore.Lister
	opts    Options
	exts    utils.ExtensionSet
	matcher *utils.PatternMatcher
}

func NewBuilder(lister objstore.Lister, opts Options) *Builder {
	b := &Builder{lister: lister, opts: opts}
	if len(opts.Extensions) > 0 {
		b.exts = utils.NewExtensionSet(opts.Extensions)
	}
	if len(opts.Include) > 0 || len(opts.Exclude) > 0 {
		b.matcher = utils.NewPatternMatcher(opts.Include, opts.Exclude)
	}
	return b
}

// Stats counts what a walk saw.
type Stats struct {
	Listed  int
	Skipped int
}

// Walk streams records page by page. An error returned by fn stops the walk
// and is returned unchanged; listing failures come back as KindCatalog.
func (b *Builder) Walk(ctx context.Context, fn func(Record) error) (Stats, error) {
	var stats Stats
	var stop error
	err := b.lister.List(ctx, b.opts.Bucket, b.opts.Prefix, func(page []objstore.Object) error {
		for _, obj := range page {
			stats.Listed++
			if !b.accept(obj.Key) {
				stats.Skipped++
				continue
			}
			if err := fn(b.record(obj)); err != nil {
				stop = err
				return err
			}
		}
		return nil
	})
	if err != nil {
		if stop != nil && errors.Is(err, stop) {
			return stats, err
		}
		return stats, fault.Catalog(b.opts.Bucket, b.opts.Prefix, err)
	}
	return stats, nil
}

// Build collects the whole listing. No partial catalog is returned on error.
func (b *Builder) Build(ctx context.Context) (*Catalog, Stats, error) {
	cat := &Catalog{index: make(map[string]int)}
	stats, err := b.Walk(ctx, func(rec Record) error {
		if _, dup := cat.index[rec.Key]; dup {
			return nil
		}
		cat.index[rec.Key] = len(cat.Records)
		cat.Records = append(cat.Records, rec)
		return nil
	})
	if err != nil {
		return nil, stats, err
	}
	return cat, stats, nil
}

func (b *Builder) accept(key string) bool {
	if key == "" || strings.HasSuffix(key, "/") {
		return false
	}
	if b.exts != nil && !b.exts.Match(key) {
		return false
	}
	return b.matcher.ShouldInclude(key)
}

func (b *Builder) record(obj objstore.Object) Record {
	return Record{
		Bucket:       b.opts.Bucket,
		Key:          obj.Key,
		Size:         obj.Size,
		GroupTag:     GroupTag(obj.Key, b.opts.GroupTagMarker),
		ETag:         obj.ETag,
		LastModified: obj.LastModified,
	}
}

// GroupTag derives the tie-break label for key.
func GroupTag(key, marker string) string {
	if marker == "" {
		return ""
	}
	if seg := utils.KeySegmentContaining(key, marker); seg != "" {
		return seg
	}
	return UnknownGroupTag
}
