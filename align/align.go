// Package align adapts the biogo pairwise aligners to the sequence types
// used by this repository. The merger consumes alignments through the small
// Alignment value defined here; the dynamic-programming work itself is
// github.com/biogo/biogo/align's.
package align

import (
	"fmt"

	bioalign "github.com/biogo/biogo/align"
	"github.com/biogo/biogo/alphabet"
	"github.com/biogo/biogo/seq/linear"
	"github.com/pkg/errors"

	"github.com/grailbio/capture/seq"
)

// Gap is the symbol used for gap columns in Alignment rows.
const Gap = '-'

// Alignment is a column-aligned representation of a global pairwise
// alignment: two equal-length rows of upper-case ASCII bases, with Gap
// padding where one sequence skips a column. The non-gap bytes of each row
// spell exactly the input sequence of that row.
type Alignment struct {
	A, B []byte
}

// NW is a global (Needleman-Wunsch) aligner with affine gap scoring. The
// zero value is not useful; start from DefaultNW. Safe for concurrent use.
type NW struct {
	Match, Mismatch, GapOpen, GapExtend int
}

// DefaultNW carries the scoring used by the read merger: heavily penalized
// gap opening keeps sequencing-error indels from fragmenting the overlap.
var DefaultNW = NW{Match: 1, Mismatch: -4, GapOpen: -6, GapExtend: -1}

// The biogo DNA alphabet holds acgt plus gap. Ambiguity codes are collapsed
// onto their first constituent base for scoring only; AlignGlobal substitutes
// the caller's own bases back into the rows it returns.
var scoringBase [256]byte

func init() {
	for i := range scoringBase {
		scoringBase[i] = 'a'
	}
	for _, ch := range []byte("acgt") {
		scoringBase[ch] = ch
		scoringBase[ch&^0x20] = ch
	}
	scoringBase['u'] = 't'
	scoringBase['U'] = 't'
	scoringBase['c'] = 'c'
	scoringBase['y'] = 'c' // C/T
	scoringBase['Y'] = 'c'
	scoringBase['s'] = 'c' // C/G
	scoringBase['S'] = 'c'
	scoringBase['b'] = 'c' // C/G/T
	scoringBase['B'] = 'c'
	scoringBase['g'] = 'g'
	scoringBase['k'] = 'g' // G/T
	scoringBase['K'] = 'g'
}

func scoringSeq(s string) *linear.Seq {
	letters := make(alphabet.Letters, len(s))
	for i := 0; i < len(s); i++ {
		letters[i] = alphabet.Letter(scoringBase[s[i]])
	}
	ls := linear.NewSeq("", letters, alphabet.DNAgapped)
	return ls
}

// matrix builds the 5x5 substitution matrix over the gapped DNA alphabet
// (gap, a, c, g, t): gap rows and columns carry the extension penalty, the
// diagonal the match score, everything else the mismatch score.
func (n NW) matrix() bioalign.Linear {
	const k = 5
	m := make(bioalign.Linear, k)
	for i := range m {
		m[i] = make([]int, k)
		for j := range m[i] {
			switch {
			case i == 0 || j == 0:
				m[i][j] = n.GapExtend
			case i == j:
				m[i][j] = n.Match
			default:
				m[i][j] = n.Mismatch
			}
		}
	}
	m[0][0] = 0
	return m
}

// AlignGlobal globally aligns a against b and returns the gap-padded rows.
// Both sequences must be non-empty.
func (n NW) AlignGlobal(a, b seq.Seq) (Alignment, error) {
	if a.Len() == 0 || b.Len() == 0 {
		return Alignment{}, errors.New("align: cannot globally align an empty sequence")
	}
	sa, sb := a.String(), b.String()
	needle := bioalign.NWAffine{Matrix: n.matrix(), GapOpen: n.GapOpen}
	aln, err := needle.Align(scoringSeq(sa), scoringSeq(sb))
	if err != nil {
		return Alignment{}, errors.Wrap(err, "align: global alignment failed")
	}
	formatted := bioalign.Format(scoringSeq(sa), scoringSeq(sb), aln, Gap)
	rowA, err := restoreRow(fmt.Sprint(formatted[0]), sa)
	if err != nil {
		return Alignment{}, err
	}
	rowB, err := restoreRow(fmt.Sprint(formatted[1]), sb)
	if err != nil {
		return Alignment{}, err
	}
	if len(rowA) != len(rowB) {
		return Alignment{}, errors.Errorf("align: ragged alignment rows (%d != %d)", len(rowA), len(rowB))
	}
	return Alignment{A: rowA, B: rowB}, nil
}

// restoreRow replaces the scoring letters of a formatted alignment row with
// the original bases of orig, keeping the gap columns.
func restoreRow(formatted, orig string) ([]byte, error) {
	row := make([]byte, len(formatted))
	oi := 0
	for i := 0; i < len(formatted); i++ {
		if formatted[i] == Gap {
			row[i] = Gap
			continue
		}
		if oi >= len(orig) {
			return nil, errors.Errorf("align: row spells %d non-gap columns, input has %d bases", oi+1, len(orig))
		}
		row[i] = orig[oi]
		oi++
	}
	if oi != len(orig) {
		return nil, errors.Errorf("align: row spells %d non-gap columns, input has %d bases", oi, len(orig))
	}
	return row, nil
}
