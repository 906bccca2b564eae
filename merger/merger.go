// Package merger merges overlapping paired-end FASTQ reads into single
// consensus reads.
//
// Mate 2 of each pair is reverse-complemented and globally aligned against
// mate 1. Overlapping columns are resolved base by base in favor of the
// higher quality call; pairs with too many corrected bases, or with a
// base conflict the qualities cannot break, are routed unchanged to a
// pair of unmerged outputs instead.
//
// A fixed pool of workers shares a lock-step reader over the two inputs.
// Results are buffered in an ordered queue and flushed by pair index, so
// output order is deterministic regardless of worker scheduling.
package merger

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/syncqueue"
	"github.com/grailbio/base/traverse"

	"github.com/grailbio/capture/align"
	"github.com/grailbio/capture/encoding/fastq"
	"github.com/grailbio/capture/seq"
)

// Aligner produces a gap-padded global alignment of two sequences.
// Implementations must be safe for concurrent use.
type Aligner interface {
	AlignGlobal(a, b seq.Seq) (align.Alignment, error)
}

// Opts controls a merge run. The zero value of any field falls back to
// the corresponding DefaultOpts value where one exists.
type Opts struct {
	// MaxConflictsPerPair is the maximum number of corrected bases
	// (overlap columns where the higher-quality base overrode a
	// differing lower-quality one) a pair may contain and still merge.
	MaxConflictsPerPair int
	// StartingPairIndex is a 1-based skip threshold: pairs with a
	// smaller input index are read, to keep the two inputs in lock
	// step, but not processed or counted.
	StartingPairIndex int64
	// PairCountLimit caps the number of pairs processed. Zero means
	// unlimited.
	PairCountLimit int64
	// Parallelism is the worker pool size.
	Parallelism int
	// TotalPairs, when positive, enables percent-complete progress
	// reporting. MergeFiles fills it by counting the R1 records up
	// front when a Progress callback is set.
	TotalPairs int64
	// Aligner performs the per-pair global alignment.
	Aligner Aligner
	// Progress, if non-nil, is invoked after processed pairs with a
	// non-decreasing percent-complete value and a running-rate
	// message. It may be called concurrently from multiple workers.
	Progress func(percent int, message string)
}

// DefaultOpts is the default merge configuration.
var DefaultOpts = Opts{
	MaxConflictsPerPair: 0,
	Parallelism:         20,
	Aligner:             align.DefaultNW,
}

func (o Opts) withDefaults() Opts {
	if o.Parallelism <= 0 {
		o.Parallelism = DefaultOpts.Parallelism
	}
	if o.Aligner == nil {
		o.Aligner = DefaultOpts.Aligner
	}
	return o
}

// Details reports the tallies of a completed merge run.
type Details struct {
	// ProcessedPairs is the number of pairs that went through the
	// merge decision (skipped pairs are excluded).
	ProcessedPairs int64
	// MergedPairs is the number of pairs written as consensus reads.
	MergedPairs int64
}

// pairSource hands out read pairs with dense 0-based output indices.
// One mutex guards both underlying readers, so a worker always takes a
// record from each in the same critical section.
type pairSource struct {
	mu       sync.Mutex
	scanner  *fastq.PairScanner
	starting int64
	limit    int64

	nAssigned int64
	done      bool
}

func (s *pairSource) next(r1, r2 *fastq.Read) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		if s.done {
			return 0, false, s.scanner.Err()
		}
		if s.limit > 0 && s.nAssigned >= s.limit {
			s.done = true
			continue
		}
		if !s.scanner.Scan(r1, r2) {
			s.done = true
			continue
		}
		// Pairs below the starting index are read anyway, keeping the
		// two inputs in lock step, but are not processed.
		if s.scanner.NPairs() < s.starting {
			continue
		}
		idx := s.nAssigned
		s.nAssigned++
		return idx, true, nil
	}
}

type merger struct {
	opts Opts
	src  *pairSource

	queue        *syncqueue.OrderedQueue
	mw, u1w, u2w *fastq.Writer
	wg           sync.WaitGroup
	err          errors.Once
	processed    int64
	mergedN      int64
	lastPct      int64
}

// Merge merges the paired FASTQ streams r1 and r2, writing consensus
// records to merged and the mates of rejected pairs to unmerged1 and
// unmerged2. It blocks until all workers and the output drainer have
// finished, and returns the first error encountered.
func Merge(ctx context.Context, r1, r2 io.Reader, merged, unmerged1, unmerged2 io.Writer, opts Opts) (Details, error) {
	opts = opts.withDefaults()
	queueSize := 2 * opts.Parallelism
	if queueSize < 16 {
		queueSize = 16
	}
	m := &merger{
		opts: opts,
		src: &pairSource{
			scanner:  fastq.NewPairScanner(r1, r2),
			starting: opts.StartingPairIndex,
			limit:    opts.PairCountLimit,
		},
		queue:   syncqueue.NewOrderedQueue(queueSize),
		mw:      fastq.NewWriter(merged),
		u1w:     fastq.NewWriter(unmerged1),
		u2w:     fastq.NewWriter(unmerged2),
		lastPct: -1,
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.drain()
	}()
	workersErr := traverse.Each(opts.Parallelism, func(_ int) error {
		return m.work(ctx)
	})
	_ = m.queue.Close(workersErr)
	m.wg.Wait()
	m.err.Set(workersErr)
	return Details{
		ProcessedPairs: atomic.LoadInt64(&m.processed),
		MergedPairs:    atomic.LoadInt64(&m.mergedN),
	}, m.err.Err()
}

func (m *merger) work(ctx context.Context) error {
	var r1, r2 fastq.Read
	for {
		select {
		case <-ctx.Done():
			_ = m.queue.Close(ctx.Err())
			return ctx.Err()
		default:
		}
		outIdx, ok, err := m.src.next(&r1, &r2)
		if err != nil {
			// Closing the queue here unblocks workers waiting in
			// Insert behind the index that will now never arrive.
			_ = m.queue.Close(err)
			return err
		}
		if !ok {
			return nil
		}
		consensus, ok, err := mergePair(m.opts.Aligner, &r1, &r2, m.opts.MaxConflictsPerPair)
		if err != nil {
			_ = m.queue.Close(err)
			return err
		}
		oc := &outcome{merged: ok}
		if ok {
			oc.read = consensus
			atomic.AddInt64(&m.mergedN, 1)
		} else {
			oc.r1, oc.r2 = r1, r2
		}
		n := atomic.AddInt64(&m.processed, 1)
		m.reportProgress(n)
		if err := m.queue.Insert(int(outIdx), oc); err != nil {
			return err
		}
	}
}

// drain flushes outcomes strictly in pair-index order. The two halves of
// an unmerged pair are written back to back, so they occupy the same
// position in both unmerged files.
func (m *merger) drain() {
	for {
		entry, ok, err := m.queue.Next()
		if err != nil {
			m.err.Set(err)
			return
		}
		if !ok {
			return
		}
		oc := entry.(*outcome)
		if oc.merged {
			err = m.mw.Write(&oc.read)
		} else {
			err = m.u1w.Write(&oc.r1)
			if err == nil {
				err = m.u2w.Write(&oc.r2)
			}
		}
		if err != nil {
			m.err.Set(err)
			_ = m.queue.Close(err)
			return
		}
	}
}

func (m *merger) reportProgress(processed int64) {
	if m.opts.Progress == nil || m.opts.TotalPairs <= 0 {
		return
	}
	pct := processed * 100 / m.opts.TotalPairs
	if pct > 100 {
		pct = 100
	}
	// Only the worker that advances the percent reports it, so readings
	// are monotonic from the callback's perspective.
	for {
		last := atomic.LoadInt64(&m.lastPct)
		if pct <= last {
			return
		}
		if atomic.CompareAndSwapInt64(&m.lastPct, last, pct) {
			break
		}
	}
	nMerged := atomic.LoadInt64(&m.mergedN)
	m.opts.Progress(int(pct),
		fmt.Sprintf("processed %d of %d pairs, %d merged", processed, m.opts.TotalPairs, nMerged))
}

// MergeFiles merges the read pairs of the FASTQ files at r1Path and
// r2Path, writing consensus records to outPath. Mates of pairs that do
// not merge go to UNMERGED_-prefixed siblings of outPath, named after
// their input files. Inputs and outputs with a ".gz" suffix are
// (de)compressed transparently.
func MergeFiles(ctx context.Context, r1Path, r2Path, outPath string, opts Opts) (details Details, err error) {
	opts = opts.withDefaults()
	if opts.Progress != nil && opts.TotalPairs == 0 {
		if opts.TotalPairs, err = fastq.CountRecords(ctx, r1Path); err != nil {
			return Details{}, err
		}
	}
	in1, err := fastq.Open(ctx, r1Path)
	if err != nil {
		return Details{}, err
	}
	defer func() {
		if cerr := in1.Close(ctx); cerr != nil && err == nil {
			err = cerr
		}
	}()
	in2, err := fastq.Open(ctx, r2Path)
	if err != nil {
		return Details{}, err
	}
	defer func() {
		if cerr := in2.Close(ctx); cerr != nil && err == nil {
			err = cerr
		}
	}()
	out, err := fastq.Create(ctx, outPath)
	if err != nil {
		return Details{}, err
	}
	defer func() {
		if cerr := out.Close(ctx); cerr != nil && err == nil {
			err = cerr
		}
	}()
	outDir := filepath.Dir(outPath)
	un1, err := fastq.Create(ctx, filepath.Join(outDir, fastq.UnmergedName(r1Path)))
	if err != nil {
		return Details{}, err
	}
	defer func() {
		if cerr := un1.Close(ctx); cerr != nil && err == nil {
			err = cerr
		}
	}()
	un2, err := fastq.Create(ctx, filepath.Join(outDir, fastq.UnmergedName(r2Path)))
	if err != nil {
		return Details{}, err
	}
	defer func() {
		if cerr := un2.Close(ctx); cerr != nil && err == nil {
			err = cerr
		}
	}()
	details, err = Merge(ctx, in1.Reader(), in2.Reader(), out.Writer(), un1.Writer(), un2.Writer(), opts)
	if err != nil {
		return details, err
	}
	log.Printf("merger: %s + %s: %d pairs processed, %d merged",
		r1Path, r2Path, details.ProcessedPairs, details.MergedPairs)
	return details, nil
}
