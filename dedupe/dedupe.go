// Package dedupe turns fingerprint outcomes into duplicate groups.
package dedupe

import (
	"sort"

	"dupescan/catalog"
	"dupescan/executor"
	"dupescan/fingerprint"
	"dupescan/utils"
)

// DuplicateGroup is a set of records sharing a fingerprint. Original is the
// first member in (GroupTag, Key) order and never appears in Duplicates.
type DuplicateGroup struct {
	Fingerprint fingerprint.Fingerprint
	Original    catalog.Record
	Duplicates  []catalog.Record
}

// Size counts the original and its duplicates.
func (g DuplicateGroup) Size() int { return len(g.Duplicates) + 1 }

type Result struct {
	Groups   []DuplicateGroup
	Failures []executor.Outcome
	// Unique holds successful records whose fingerprint nobody else shares.
	Unique []catalog.Record
}

// Group partitions successful outcomes by fingerprint. The result does not
// depend on the order of outcomes.
func Group(outcomes []executor.Outcome) Result {
	buckets := make(map[fingerprint.Fingerprint][]catalog.Record)
	var res Result
	for _, out := range outcomes {
		if out.Status != executor.StatusSuccess {
			res.Failures = append(res.Failures, out)
			continue
		}
		buckets[out.Fingerprint] = append(buckets[out.Fingerprint], out.Record)
	}

	for fp, members := range buckets {
		if len(members) == 1 {
			res.Unique = append(res.Unique, members[0])
			continue
		}
		res.Groups = append(res.Groups, newGroup(fp, members))
	}

	sortGroups(res.Groups)
	sort.Slice(res.Failures, func(i, j int) bool { return res.Failures[i].Key() < res.Failures[j].Key() })
	sort.Slice(res.Unique, func(i, j int) bool { return res.Unique[i].Key < res.Unique[j].Key })
	return res
}

// NameGroup is a set of records sharing a base name.
type NameGroup struct {
	Name       string
	Original   catalog.Record
	Duplicates []catalog.Record
}

// ByName groups records by the last key segment, using the same tie-break
// as Group.
func ByName(records []catalog.Record) []NameGroup {
	buckets := make(map[string][]catalog.Record)
	for _, rec := range records {
		name := utils.KeyBase(rec.Key)
		buckets[name] = append(buckets[name], rec)
	}
	var groups []NameGroup
	for name, members := range buckets {
		if len(members) < 2 {
			continue
		}
		sortMembers(members)
		groups = append(groups, NameGroup{Name: name, Original: members[0], Duplicates: members[1:]})
	}
	sort.Slice(groups, func(i, j int) bool { return less(groups[i].Original, groups[j].Original) })
	return groups
}

func newGroup(fp fingerprint.Fingerprint, members []catalog.Record) DuplicateGroup {
	sortMembers(members)
	return DuplicateGroup{Fingerprint: fp, Original: members[0], Duplicates: members[1:]}
}

func sortMembers(members []catalog.Record) {
	sort.Slice(members, func(i, j int) bool { return less(members[i], members[j]) })
}

func sortGroups(groups []DuplicateGroup) {
	sort.Slice(groups, func(i, j int) bool { return less(groups[i].Original, groups[j].Original) })
}

func less(a, b catalog.Record) bool {
	if a.GroupTag != b.GroupTag {
		return a.GroupTag < b.GroupTag
	}
	return a.Key < b.Key
}
