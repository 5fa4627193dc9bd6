package objstore

import (
	"context"
	"errors"
	"io"
	"testing"
)

func TestMemoryListPagesInKeyOrder(t *testing.T) {
	m := NewMemory()
	m.PageSize = 2
	for _, k := range []string{"p/c", "p/a", "p/b", "q/z"} {
		m.Put("b", k, []byte(k))
	}
	var pages [][]Object
	err := m.List(context.Background(), "b", "p/", func(page []Object) error {
		pages = append(pages, page)
		return nil
	})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(pages) != 2 || len(pages[0]) != 2 || len(pages[1]) != 1 {
		t.Fatalf("unexpected pages %+v", pages)
	}
	if pages[0][0].Key != "p/a" || pages[1][0].Key != "p/c" {
		t.Fatalf("unexpected order %+v", pages)
	}
}

func TestMemoryListFailure(t *testing.T) {
	m := NewMemory()
	m.Put("b", "k", []byte("x"))
	boom := errors.New("denied")
	m.FailListing(boom)
	err := m.List(context.Background(), "b", "", func([]Object) error { return nil })
	if !errors.Is(err, boom) {
		t.Fatalf("expected listing error, got %v", err)
	}
}

func TestMemoryReadRangeAndHook(t *testing.T) {
	m := NewMemory()
	m.Put("b", "k", []byte("0123456789"))

	data, err := m.Read(context.Background(), "b", "k", &ByteRange{Start: 7, End: 20})
	if err != nil || string(data) != "789" {
		t.Fatalf("ranged read = %q, %v", data, err)
	}

	boom := errors.New("throttled")
	m.SetReadHook(func(_, key string, n int) error {
		if key == "k" && n < 3 {
			return boom
		}
		return nil
	})
	if _, err := m.Read(context.Background(), "b", "k", nil); !errors.Is(err, boom) {
		t.Fatalf("expected injected error, got %v", err)
	}
	rc, err := m.Open(context.Background(), "b", "k", nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	all, _ := io.ReadAll(rc)
	if string(all) != "0123456789" {
		t.Fatalf("unexpected body %q", all)
	}
	if got := m.Reads("b", "k"); got != 3 {
		t.Fatalf("expected 3 reads, got %d", got)
	}

	if _, err := m.Read(context.Background(), "b", "missing", nil); !errors.Is(err, ErrNoSuchKey) {
		t.Fatalf("expected ErrNoSuchKey, got %v", err)
	}
}
