// Package partition prunes candidates that cannot have a duplicate before any
// bytes are fetched.
package partition

import "dupescan/catalog"

// Result splits records into those worth fingerprinting and those that are
// unique by construction.
type Result struct {
	Candidates []catalog.Record
	Unique     []catalog.Record
}

// BySize forwards every record whose size is shared with another record, in
// listing order. Zero-byte records are always forwarded so they are reported
// as empty objects rather than unique ones.
func BySize(records []catalog.Record) Result {
	counts := make(map[int64]int, len(records))
	for _, rec := range records {
		counts[rec.Size]++
	}
	var res Result
	for _, rec := range records {
		if counts[rec.Size] > 1 || rec.Size == 0 {
			res.Candidates = append(res.Candidates, rec)
			continue
		}
		res.Unique = append(res.Unique, rec)
	}
	return res
}

// PassThrough forwards everything. Perceptual hashes match across sizes.
func PassThrough(records []catalog.Record) Result {
	return Result{Candidates: append([]catalog.Record(nil), records...)}
}
