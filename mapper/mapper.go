// Package mapper implements an approximate k-mer index that ties reference
// sequences to caller-supplied identifiers and ranks the references most
// similar to a query sequence.
//
// The index maps every fixed-length slice of each reference to the set of
// reference ids containing that slice. A query is walked the same way and
// each slice found in the index votes for its references; the vote tally,
// normalized by the number of slice positions available on each side, ranks
// the candidates.
//
// A Mapper has two phases. While it is being built (AddReference,
// RemoveReference), all mutations must come from a single goroutine, or be
// serialized by the caller. Once built, any number of goroutines may query it
// concurrently.
package mapper

import (
	"github.com/grailbio/base/traverse"
	"github.com/pkg/errors"

	"github.com/grailbio/capture/seq"
)

// The slice index is physically sharded by the hash of the canonical slice,
// primarily so that RemoveReference can scan shards in parallel.
const nIndexShard = 256

type indexShard[O comparable] struct {
	// slices maps a canonical slice key to the reference ids registered
	// against it, in registration order. The per-key id lists are bounded
	// by Opts.MaxReferencesStoredPerSequence, so linear membership checks
	// are fine.
	slices map[string][]O
	// excluded holds slice keys that saturated. Exclusion is sticky: a key
	// stays here even if the references that saturated it are removed.
	excluded map[string]struct{}
}

// Mapper is the slice index. O is the opaque reference identifier type; it
// needs nothing beyond equality.
type Mapper[O comparable] struct {
	opts     Opts
	shards   [nIndexShard]indexShard[O]
	refSizes map[O]int
}

// New creates an empty Mapper with the given options.
func New[O comparable](opts Opts) *Mapper[O] {
	m := &Mapper[O]{opts: opts, refSizes: map[O]int{}}
	for i := range m.shards {
		m.shards[i] = indexShard[O]{
			slices:   map[string][]O{},
			excluded: map[string]struct{}{},
		}
	}
	return m
}

func (m *Mapper[O]) shardOf(sl seq.Seq) *indexShard[O] {
	return &m.shards[sl.Hash64()&(nIndexShard-1)]
}

// AddReference registers every slice of ref against id and records the
// reference length. It returns an error, and registers nothing, when ref is
// shorter than the comparison slice size.
//
// The slice walk stops before the final end-aligned position (start <
// len-k, not <=). Downstream hit-ratio arithmetic and the hit counts
// of existing probe sets assume this bound; keep them in sync if it ever
// changes.
func (m *Mapper[O]) AddReference(ref seq.Seq, id O) error {
	k := m.opts.ComparisonSequenceSize
	if ref.Len() < k {
		return errors.Errorf(
			"mapper: reference of size %d is smaller than the comparison sequence size %d",
			ref.Len(), k)
	}
	m.refSizes[id] = ref.Len()
	for start := 0; start < ref.Len()-k; start += m.opts.ReferenceSpacing {
		m.addSlice(ref.Slice(start, start+k-1), id)
	}
	return nil
}

func (m *Mapper[O]) addSlice(sl seq.Seq, id O) {
	sh := m.shardOf(sl)
	key := sl.Key()
	if _, ok := sh.excluded[key]; ok {
		return
	}
	ids := sh.slices[key]
	for _, have := range ids {
		if have == id {
			return
		}
	}
	ids = append(ids, id)
	if len(ids) > m.opts.MaxReferencesStoredPerSequence {
		delete(sh.slices, key)
		sh.excluded[key] = struct{}{}
		return
	}
	sh.slices[key] = ids
}

// RemoveReference drops id from the reference size map and from every slice
// it was registered against, deleting slice entries that become empty. Cost
// is linear in the number of indexed slices. Removal does not reverse
// exclusion: a slice that saturated stays excluded.
func (m *Mapper[O]) RemoveReference(id O) {
	delete(m.refSizes, id)
	// Shards are disjoint, so the scan can fan out even though this is a
	// mutating call. The caller still must not run RemoveReference
	// concurrently with any other mapper call.
	_ = traverse.Each(nIndexShard, func(i int) error {
		sh := &m.shards[i]
		for key, ids := range sh.slices {
			for j, have := range ids {
				if have == id {
					if len(ids) == 1 {
						delete(sh.slices, key)
					} else {
						sh.slices[key] = append(ids[:j], ids[j+1:]...)
					}
					break
				}
			}
		}
		return nil
	})
}

// QueryTally walks query's slices and tallies, for each slice present in the
// index, every reference registered against it. Excluded and unindexed
// slices contribute nothing.
func (m *Mapper[O]) QueryTally(query seq.Seq) *Tally[O] {
	k := m.opts.ComparisonSequenceSize
	tally := NewTally[O]()
	for i := 0; i < query.Len()-k; i += m.opts.QuerySpacing {
		sl := query.Slice(i, i+k-1)
		tally.AddAll(m.shardOf(sl).slices[sl.Key()])
	}
	return tally
}

// BestCandidates ranks the references most similar to query, applying the
// default candidate limit and hit-ratio floor from Opts.
func (m *Mapper[O]) BestCandidates(query seq.Seq) []O {
	return m.BestCandidatesLimit(query, m.opts.BestCandidateLimit, m.opts.MinRatioOfHitsToAvailableHits)
}

// BestCandidatesLimit ranks the references most similar to query. Candidates
// are taken in descending hit-count order; one is accepted when its hit count
// reaches minRatio of the available slice positions of the query or of the
// reference, and while the result holds at most limit entries or the
// candidate ties the last accepted hit count. The scan stops at the first
// rejection: no later candidate can qualify.
func (m *Mapper[O]) BestCandidatesLimit(query seq.Seq, limit int, minRatio float64) []O {
	k := m.opts.ComparisonSequenceSize
	availQuery := float64(query.Len()-k) / float64(m.opts.QuerySpacing)
	hitFloorQuery := minRatio * availQuery

	tally := m.QueryTally(query)
	if tally.LargestCount() == 0 {
		return nil
	}
	var (
		best         []O
		lastAccepted int
	)
	for _, entry := range tally.SortedDescending() {
		availRef := float64(m.refSizes[entry.ID]-k) / float64(m.opts.ReferenceSpacing)
		hits := float64(entry.Count)
		if (hits < hitFloorQuery && hits < minRatio*availRef) ||
			(len(best) > limit && entry.Count < lastAccepted) {
			break
		}
		best = append(best, entry.ID)
		lastAccepted = entry.Count
	}
	return best
}

// OptimalScore returns the number of slice positions query would contribute
// at unit spacing, an upper bound on any reference's tally for it.
func (m *Mapper[O]) OptimalScore(query seq.Seq) int {
	return query.Len() - m.opts.ComparisonSequenceSize
}
