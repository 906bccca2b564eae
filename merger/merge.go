package merger

import (
	"github.com/pkg/errors"

	"github.com/grailbio/capture/align"
	"github.com/grailbio/capture/encoding/fastq"
	"github.com/grailbio/capture/seq"
)

// outcome is the result of processing one read pair. Exactly one of the
// two shapes is populated: a merged consensus read, or the two original
// mates routed to the unmerged outputs.
type outcome struct {
	merged bool
	read   fastq.Read
	r1, r2 fastq.Read
}

func reverse(s string) string {
	b := []byte(s)
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
	return string(b)
}

// mergePair aligns r1 against the reverse complement of r2 and walks the
// alignment columns building a consensus. Overlap columns are resolved by
// quality: the strictly higher quality base wins, and a won column whose
// bases differ counts as a corrected base. Columns where one row has a gap
// are extension bases and pass through with their original quality. The
// pair merges iff the corrected-base count stays within maxConflicts and
// no overlap column had differing bases at equal quality.
func mergePair(a Aligner, r1, r2 *fastq.Read, maxConflicts int) (fastq.Read, bool, error) {
	s1 := seq.New(r1.Seq)
	s2 := seq.New(r2.Seq).ReverseComplement()
	q1 := r1.Qual
	// R2 was reverse-complemented, so its qualities are consumed in
	// reverse order.
	q2 := reverse(r2.Qual)

	aln, err := a.AlignGlobal(s1, s2)
	if err != nil {
		return fastq.Read{}, false, err
	}

	var (
		bases     = make([]byte, 0, len(aln.A))
		quals     = make([]byte, 0, len(aln.A))
		corrected int
		ambiguous bool
		i1, i2    int
	)
	for col := range aln.A {
		ca, cb := aln.A[col], aln.B[col]
		switch {
		case ca == align.Gap && cb == align.Gap:
			return fastq.Read{}, false,
				errors.Errorf("merger: %s: alignment column %d has a gap in both rows", r1.ID, col)
		case ca == align.Gap:
			bases = append(bases, cb)
			quals = append(quals, q2[i2])
			i2++
		case cb == align.Gap:
			bases = append(bases, ca)
			quals = append(quals, q1[i1])
			i1++
		default:
			p1, p2 := q1[i1], q2[i2]
			switch {
			case p1 > p2:
				bases = append(bases, ca)
				quals = append(quals, p1)
				if ca != cb {
					corrected++
				}
			case p1 < p2:
				bases = append(bases, cb)
				quals = append(quals, p2)
				if ca != cb {
					corrected++
				}
			default:
				bases = append(bases, ca)
				quals = append(quals, p1)
				if ca != cb {
					ambiguous = true
				}
			}
			i1++
			i2++
		}
	}
	if ambiguous || corrected > maxConflicts {
		return fastq.Read{}, false, nil
	}
	return fastq.Read{
		ID:   r1.ID,
		Seq:  string(bases),
		Unk:  r1.Unk,
		Qual: string(quals),
	}, true, nil
}
