/*
Copyright 2024 Regents of the University of California

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package types

import (
	"slices"
)

// Membership lists behave as sorted sets: duplicates collapse and
// order is deterministic regardless of insertion order.

// SortedSet returns a sorted, deduplicated copy of values.
func SortedSet(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	out := slices.Clone(values)
	slices.Sort(out)
	return slices.Compact(out)
}

// SortedInsert adds values to a sorted set, returning the new set.
func SortedInsert(set []string, values ...string) []string {
	if len(values) == 0 {
		return set
	}
	return SortedSet(append(slices.Clone(set), values...))
}

// SortedRemove removes values from a sorted set, returning the new set.
func SortedRemove(set []string, values ...string) []string {
	if len(set) == 0 || len(values) == 0 {
		return set
	}
	drop := make(map[string]struct{}, len(values))
	for _, v := range values {
		drop[v] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for _, v := range set {
		if _, ok := drop[v]; !ok {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// SortedContains reports whether a sorted set contains value.
func SortedContains(set []string, value string) bool {
	_, ok := slices.BinarySearch(set, value)
	return ok
}

// SortedUnion merges two sorted sets.
func SortedUnion(a, b []string) []string {
	if len(a) == 0 {
		return SortedSet(b)
	}
	if len(b) == 0 {
		return SortedSet(a)
	}
	return SortedSet(append(slices.Clone(a), b...))
}

// SortedDiff returns the members of a not present in b.
func SortedDiff(a, b []string) []string {
	return SortedRemove(SortedSet(a), b...)
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}
