package mapper

import (
	"fmt"
	"sync"
	"testing"

	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"

	"github.com/grailbio/capture/seq"
)

func TestAddReferenceTooShort(t *testing.T) {
	m := New[string](DefaultOpts)
	err := m.AddReference(seq.New("ACG"), "r1")
	assert.NotNil(t, err)
	expect.EQ(t, len(m.QueryTally(seq.New("ACGACGACG")).SortedDescending()), 0)
}

// The slice walk stops before the final end-aligned position. With k=5 a
// length-5 query has no slice positions at all (i < 5-5), so querying a
// reference with its own leading slice yields an empty tally.
func TestQueryLoopBound(t *testing.T) {
	m := New[string](DefaultOpts)
	assert.NoError(t, m.AddReference(seq.New("ACGTACGTAC"), "R1"))
	tally := m.QueryTally(seq.New("ACGTA"))
	expect.EQ(t, tally.LargestCount(), 0)
	expect.EQ(t, tally.Count("R1"), 0)
	expect.EQ(t, len(m.BestCandidates(seq.New("ACGTA"))), 0)
}

func TestUniqueSlice(t *testing.T) {
	opts := DefaultOpts
	opts.ComparisonSequenceSize = 4
	m := New[string](opts)
	// "TTTT" appears only in r2, at one slice position.
	assert.NoError(t, m.AddReference(seq.New("ACGTACGTA"), "r1"))
	assert.NoError(t, m.AddReference(seq.New("GGTTTTGG"), "r2"))
	tally := m.QueryTally(seq.New("TTTTC"))
	expect.EQ(t, tally.Count("r2"), 1)
	expect.EQ(t, tally.Count("r1"), 0)
}

func TestQueryNoSharedSlices(t *testing.T) {
	m := New[string](DefaultOpts)
	assert.NoError(t, m.AddReference(seq.New("ACGTACGTACGT"), "r1"))
	tally := m.QueryTally(seq.New("GGGGGGGGGGGG"))
	expect.EQ(t, tally.LargestCount(), 0)
	expect.EQ(t, len(m.BestCandidates(seq.New("GGGGGGGGGGGG"))), 0)
}

func TestBestCandidates(t *testing.T) {
	opts := DefaultOpts
	m := New[string](opts)
	query := seq.New("ACGTTGCAACGTTGCAACGT")
	// ref1 matches the query exactly; ref2 shares no slices.
	assert.NoError(t, m.AddReference(seq.New("ACGTTGCAACGTTGCAACGT"), "ref1"))
	assert.NoError(t, m.AddReference(seq.New("TTTTTTTTTTTTTTTTTTTT"), "ref2"))
	expect.EQ(t, m.BestCandidates(query), []string{"ref1"})
	expect.EQ(t, m.QueryTally(query).Count("ref1"), m.OptimalScore(query))
}

func TestBestCandidatesRatioFloor(t *testing.T) {
	opts := DefaultOpts
	m := New[string](opts)
	query := seq.New("ACGTTGCAACGTTGCAACGT")
	// far shares only a short prefix with the query; with the default 0.5
	// ratio floor it cannot qualify from either side.
	assert.NoError(t, m.AddReference(seq.New("ACGTTGGGGGGGGGGGGGGG"), "far"))
	expect.EQ(t, len(m.BestCandidates(query)), 0)
	// The same candidate survives a zero ratio floor.
	expect.EQ(t, m.BestCandidatesLimit(query, 10, 0), []string{"far"})
}

func TestCanonicalQueries(t *testing.T) {
	m := New[string](DefaultOpts)
	assert.NoError(t, m.AddReference(seq.New("acgttgcaacgttgca"), "r1"))
	lower := m.QueryTally(seq.New("acgttgcaacgttgca"))
	upper := m.QueryTally(seq.New("ACGTTGCAACGTTGCA"))
	expect.EQ(t, lower.Count("r1"), upper.Count("r1"))
	expect.GT(t, upper.Count("r1"), 0)
}

func TestRemoveReference(t *testing.T) {
	m := New[string](DefaultOpts)
	ref := seq.New("ACGTTGCAACGTTGCA")
	query := seq.New("ACGTTGCAACGTTGCA")
	assert.NoError(t, m.AddReference(ref, "r1"))
	assert.NoError(t, m.AddReference(seq.New("TACGTTACGGTACGTT"), "r2"))
	expect.GT(t, m.QueryTally(query).Count("r1"), 0)

	m.RemoveReference("r1")
	// As if r1 was never added.
	expect.EQ(t, m.QueryTally(query).Count("r1"), 0)
	expect.GT(t, m.QueryTally(seq.New("TACGTTACGGTACGTT")).Count("r2"), 0)

	// Re-adding restores it.
	assert.NoError(t, m.AddReference(ref, "r1"))
	expect.GT(t, m.QueryTally(query).Count("r1"), 0)
}

func TestSaturation(t *testing.T) {
	opts := DefaultOpts
	opts.MaxReferencesStoredPerSequence = 3
	m := New[int](opts)
	// Every reference shares the slice "ACGTA" (and only that slice, since
	// the walk stops before the final position of the length-6 sequence).
	for id := 0; id < opts.MaxReferencesStoredPerSequence+1; id++ {
		assert.NoError(t, m.AddReference(seq.New("ACGTAC"), id))
	}
	query := seq.New("ACGTACGTAC")
	tally := m.QueryTally(query)
	for id := 0; id < opts.MaxReferencesStoredPerSequence+1; id++ {
		expect.EQ(t, tally.Count(id), 0)
	}

	// Exclusion is sticky: removing contributors does not resurrect the
	// slice, nor does re-adding one.
	m.RemoveReference(0)
	m.RemoveReference(1)
	assert.NoError(t, m.AddReference(seq.New("ACGTAC"), 99))
	expect.EQ(t, m.QueryTally(query).Count(99), 0)
	expect.EQ(t, m.QueryTally(query).Count(2), 0)
}

func TestSaturationBelowCap(t *testing.T) {
	opts := DefaultOpts
	opts.MaxReferencesStoredPerSequence = 3
	m := New[int](opts)
	for id := 0; id < 3; id++ {
		assert.NoError(t, m.AddReference(seq.New("ACGTAC"), id))
	}
	// "ACGTA" occurs at query positions 0 and 4, so each id tallies twice.
	tally := m.QueryTally(seq.New("ACGTACGTAC"))
	for id := 0; id < 3; id++ {
		expect.EQ(t, tally.Count(id), 2)
	}
}

func TestDeterministicOrder(t *testing.T) {
	// Tied candidates keep a stable order across identical runs.
	build := func() []string {
		m := New[string](DefaultOpts)
		for i := 0; i < 20; i++ {
			id := fmt.Sprintf("p%02d", i)
			if err := m.AddReference(seq.New("ACGTTGCAACGTTGCA"), id); err != nil {
				t.Fatal(err)
			}
		}
		return m.BestCandidatesLimit(seq.New("ACGTTGCAACGTTGCA"), 5, 0)
	}
	first := build()
	for i := 0; i < 10; i++ {
		expect.EQ(t, build(), first)
	}
}

func TestConcurrentQueries(t *testing.T) {
	m := New[int](DefaultOpts)
	for id := 0; id < 50; id++ {
		assert.NoError(t, m.AddReference(seq.New("ACGTTGCAACGTTGCAACGT").Slice(id%4, 15+id%4), id))
	}
	query := seq.New("ACGTTGCAACGTTGCA")
	want := m.BestCandidates(query)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				got := m.BestCandidates(query)
				if len(got) != len(want) {
					t.Errorf("got %v, want %v", got, want)
					return
				}
			}
		}()
	}
	wg.Wait()
}
