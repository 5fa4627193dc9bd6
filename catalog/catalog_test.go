package catalog

import (
	"context"
	"errors"
	"testing"

	"dupescan/fault"
	"dupescan/objstore"
)

func seed() *objstore.Memory {
	m := objstore.NewMemory()
	m.PageSize = 2
	m.Put("bkt", "projects/row530/", nil)
	m.Put("bkt", "projects/row530/batch_01/a.JPG", []byte("a"))
	m.Put("bkt", "projects/row530/batch_01/notes.txt", []byte("n"))
	m.Put("bkt", "projects/row530/Batch_02/b.png", []byte("bb"))
	m.Put("bkt", "projects/row530/misc/c.webp", []byte("ccc"))
	m.Put("bkt", "other/d.png", []byte("d"))
	return m
}

func TestBuildPerceptualFiltersExtensions(t *testing.T) {
	b := NewBuilder(seed(), Options{
		Bucket:         "bkt",
		Prefix:         "projects/row530/",
		Extensions:     DefaultImageExtensions,
		GroupTagMarker: "batch",
	})
	cat, stats, err := b.Build(context.Background())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if cat.Len() != 3 {
		t.Fatalf("expected 3 records, got %d: %+v", cat.Len(), cat.Records)
	}
	if stats.Listed != 5 || stats.Skipped != 2 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	rec, ok := cat.Lookup("projects/row530/Batch_02/b.png")
	if !ok || rec.GroupTag != "Batch_02" || rec.Size != 2 || rec.Bucket != "bkt" {
		t.Fatalf("unexpected record %+v", rec)
	}
	rec, _ = cat.Lookup("projects/row530/misc/c.webp")
	if rec.GroupTag != UnknownGroupTag {
		t.Fatalf("expected Unknown tag, got %q", rec.GroupTag)
	}
	if _, ok := cat.Lookup("projects/row530/"); ok {
		t.Fatal("folder placeholder should be skipped")
	}
}

func TestBuildExactKeepsAllExtensions(t *testing.T) {
	b := NewBuilder(seed(), Options{Bucket: "bkt", Prefix: "projects/", Exclude: []string{"*.webp"}})
	cat, _, err := b.Build(context.Background())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if cat.Len() != 3 {
		t.Fatalf("expected 3 records, got %+v", cat.Records)
	}
	for _, rec := range cat.Records {
		if rec.GroupTag != "" {
			t.Fatalf("empty marker should give empty tag, got %q", rec.GroupTag)
		}
	}
}

func TestBuildListingFailureIsCatalogError(t *testing.T) {
	m := seed()
	m.FailListing(errors.New("AccessDenied"))
	cat, _, err := NewBuilder(m, Options{Bucket: "bkt"}).Build(context.Background())
	if cat != nil {
		t.Fatal("no partial catalog expected")
	}
	if fault.KindOf(err) != fault.KindCatalog {
		t.Fatalf("expected catalog error, got %v", err)
	}
}

func TestWalkStopsOnCallbackError(t *testing.T) {
	stop := errors.New("enough")
	seen := 0
	_, err := NewBuilder(seed(), Options{Bucket: "bkt"}).Walk(context.Background(), func(Record) error {
		seen++
		return stop
	})
	if !errors.Is(err, stop) || seen != 1 {
		t.Fatalf("expected callback error after one record, got %v after %d", err, seen)
	}
	if fault.KindOf(err) == fault.KindCatalog {
		t.Fatal("callback error should not be reported as a catalog failure")
	}
}

func TestGroupTag(t *testing.T) {
	cases := []struct{ key, marker, want string }{
		{"a/BATCH-9/x.jpg", "batch", "BATCH-9"},
		{"a/batch1/batch2/x.jpg", "batch", "batch1"},
		{"a/b/x.jpg", "batch", UnknownGroupTag},
		{"a/batch1/x.jpg", "", ""},
	}
	for _, tc := range cases {
		if got := GroupTag(tc.key, tc.marker); got != tc.want {
			t.Errorf("GroupTag(%q,%q) = %q, want %q", tc.key, tc.marker, got, tc.want)
		}
	}
}
