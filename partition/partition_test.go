package partition

import (
	"testing"

	"dupescan/catalog"
)

func recs(sizes map[string]int64, order ...string) []catalog.Record {
	out := make([]catalog.Record, 0, len(order))
	for _, k := range order {
		out = append(out, catalog.Record{Key: k, Size: sizes[k]})
	}
	return out
}

func keys(rs []catalog.Record) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.Key
	}
	return out
}

func TestBySizeKeepsSharedSizesInOrder(t *testing.T) {
	sizes := map[string]int64{"a": 10, "b": 20, "c": 10, "d": 30, "e": 20}
	res := BySize(recs(sizes, "a", "b", "c", "d", "e"))
	if got := keys(res.Candidates); len(got) != 4 || got[0] != "a" || got[1] != "b" || got[2] != "c" || got[3] != "e" {
		t.Fatalf("unexpected candidates %v", got)
	}
	if got := keys(res.Unique); len(got) != 1 || got[0] != "d" {
		t.Fatalf("unexpected unique %v", got)
	}
}

func TestBySizeForwardsLoneZeroByteRecord(t *testing.T) {
	sizes := map[string]int64{"empty": 0, "x": 5}
	res := BySize(recs(sizes, "empty", "x"))
	if got := keys(res.Candidates); len(got) != 1 || got[0] != "empty" {
		t.Fatalf("zero-byte record should be forwarded, got %v", got)
	}
	if got := keys(res.Unique); len(got) != 1 || got[0] != "x" {
		t.Fatalf("unexpected unique %v", got)
	}
}

func TestBySizeNeverMixesSizes(t *testing.T) {
	sizes := map[string]int64{"a": 1, "b": 2, "c": 3}
	res := BySize(recs(sizes, "a", "b", "c"))
	if len(res.Candidates) != 0 || len(res.Unique) != 3 {
		t.Fatalf("distinct sizes must all be unique, got %+v", res)
	}
}

func TestPassThrough(t *testing.T) {
	in := recs(map[string]int64{"a": 1, "b": 2}, "a", "b")
	res := PassThrough(in)
	if len(res.Candidates) != 2 || len(res.Unique) != 0 {
		t.Fatalf("unexpected %+v", res)
	}
	res.Candidates[0].Key = "mutated"
	if in[0].Key != "a" {
		t.Fatal("PassThrough must not alias its input")
	}
}
