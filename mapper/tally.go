package mapper

import "sort"

// Tally accumulates per-reference hit counts for one query evaluation. It is
// transient: a fresh Tally is created per query and discarded afterwards.
// Thread compatible.
type Tally[O comparable] struct {
	counts map[O]int
	// order records each id the first time it is tallied. It fixes the
	// enumeration order of SortedDescending for tied counts, which would
	// otherwise depend on map iteration.
	order []O
}

// NewTally creates an empty tally.
func NewTally[O comparable]() *Tally[O] {
	return &Tally[O]{counts: map[O]int{}}
}

// AddAll increments the count of every id in ids by one. Absent ids start at
// zero. A nil or empty ids is a no-op.
func (t *Tally[O]) AddAll(ids []O) {
	for _, id := range ids {
		if _, ok := t.counts[id]; !ok {
			t.order = append(t.order, id)
		}
		t.counts[id]++
	}
}

// Count returns the accumulated count for id, zero if never tallied.
func (t *Tally[O]) Count(id O) int { return t.counts[id] }

// Len returns the number of distinct ids tallied.
func (t *Tally[O]) Len() int { return len(t.counts) }

// LargestCount returns the maximum count present, or zero for an empty tally.
func (t *Tally[O]) LargestCount() int {
	largest := 0
	for _, n := range t.counts {
		if n > largest {
			largest = n
		}
	}
	return largest
}

// TallyEntry is one id/count pair of a tally enumeration.
type TallyEntry[O comparable] struct {
	ID    O
	Count int
}

// SortedDescending returns the tallied entries ordered by descending count.
// Ties enumerate in the order the ids were first tallied, so the result is
// deterministic for a given sequence of AddAll calls.
func (t *Tally[O]) SortedDescending() []TallyEntry[O] {
	entries := make([]TallyEntry[O], 0, len(t.order))
	for _, id := range t.order {
		entries = append(entries, TallyEntry[O]{ID: id, Count: t.counts[id]})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Count > entries[j].Count
	})
	return entries
}
