package core

import "sort"

// DetectDuplicates groups records by identity key and returns, per entity
// type, every key that occurs more than once. It only reports; whether
// duplicates block acceptance is decided by reviewers.
func DetectDuplicates(records []*StagedRecord) map[EntityType][]DuplicateGroup {
	counts := make(map[RecordKey]int, len(records))
	for _, rec := range records {
		counts[rec.Key]++
	}

	out := make(map[EntityType][]DuplicateGroup)
	for key, n := range counts {
		if n > 1 {
			out[key.Entity] = append(out[key.Entity], DuplicateGroup{Key: key, Count: n})
		}
	}
	for _, groups := range out {
		sort.Slice(groups, func(i, j int) bool {
			return groups[i].Key.String() < groups[j].Key.String()
		})
	}
	return out
}
