// Package seq implements nucleotide sequences over the IUPAC alphabet.
//
// A Seq stores one 4-bit IUPAC code per base, where each of the four low bits
// stands for one of A, C, G, T and an ambiguity code is the union of its
// constituent bases. The packed form of those codes (two bases per byte) is
// the canonical representation: two sequences that spell the same bases, in
// any case and with U in place of T, produce the same canonical key and the
// same hash.
package seq

import (
	farm "github.com/dgryski/go-farm"
)

// 4-bit IUPAC nucleotide codes. An ambiguity code is the bitwise union of the
// bases it stands for, e.g. R (purine) = baseA|baseG.
const (
	codeGap = 0
	baseA   = 1
	baseC   = 2
	baseG   = 4
	baseT   = 8
	codeN   = baseA | baseC | baseG | baseT
)

var (
	asciiToCode [256]byte
	codeToAscii [16]byte
)

func init() {
	for i := range asciiToCode {
		asciiToCode[i] = codeN
	}
	set := func(ch byte, code byte) {
		asciiToCode[ch] = code
		asciiToCode[ch|0x20] = code // lower case
	}
	set('A', baseA)
	set('C', baseC)
	set('G', baseG)
	set('T', baseT)
	set('U', baseT)
	set('R', baseA|baseG)
	set('Y', baseC|baseT)
	set('S', baseC|baseG)
	set('W', baseA|baseT)
	set('K', baseG|baseT)
	set('M', baseA|baseC)
	set('B', baseC|baseG|baseT)
	set('D', baseA|baseG|baseT)
	set('H', baseA|baseC|baseT)
	set('V', baseA|baseC|baseG)
	set('N', codeN)
	asciiToCode['-'] = codeGap
	asciiToCode['.'] = codeGap

	const byCode = "-ACMGRSVTWYHKDBN" // indexed by 4-bit code
	for code := 0; code < 16; code++ {
		codeToAscii[code] = byCode[code]
	}
}

// complement of a 4-bit code mirrors the base bits: A<->T, C<->G. Ambiguity
// codes complement to the union of their complements.
func complement(code byte) byte {
	return (code&baseA)<<3 | (code&baseC)<<1 | (code&baseG)>>1 | (code&baseT)>>3
}

// Seq is an immutable nucleotide sequence. The zero value is the empty
// sequence. Callers must not mutate a Seq after construction; Slice shares
// the underlying storage.
type Seq struct {
	codes []byte // one 4-bit code per base, in the low nibble
}

// New creates a Seq from ASCII bases. Case is ignored, U reads as T, and any
// byte that is not an IUPAC nucleotide letter or gap becomes N.
func New(bases string) Seq {
	codes := make([]byte, len(bases))
	for i := 0; i < len(bases); i++ {
		codes[i] = asciiToCode[bases[i]]
	}
	return Seq{codes: codes}
}

// Len returns the number of bases.
func (s Seq) Len() int { return len(s.codes) }

// Slice returns the subsequence covering positions [start, end], inclusive on
// both ends. The result shares storage with s.
func (s Seq) Slice(start, end int) Seq {
	return Seq{codes: s.codes[start : end+1]}
}

// Append returns the concatenation of s and others, in order.
func (s Seq) Append(others ...Seq) Seq {
	n := len(s.codes)
	for _, o := range others {
		n += len(o.codes)
	}
	codes := make([]byte, 0, n)
	codes = append(codes, s.codes...)
	for _, o := range others {
		codes = append(codes, o.codes...)
	}
	return Seq{codes: codes}
}

// ReverseComplement returns the reverse complement of s.
func (s Seq) ReverseComplement() Seq {
	codes := make([]byte, len(s.codes))
	for i, code := range s.codes {
		codes[len(codes)-1-i] = complement(code)
	}
	return Seq{codes: codes}
}

// String returns the bases as upper-case ASCII.
func (s Seq) String() string {
	bases := make([]byte, len(s.codes))
	for i, code := range s.codes {
		bases[i] = codeToAscii[code&0xf]
	}
	return string(bases)
}

// Key returns the canonical representation of s: 4-bit codes packed two per
// byte, usable as a map key. Sequences that are equal up to case and T/U
// spelling share a key. An odd-length sequence carries a trailing parity
// marker so that its key never collides with an even-length sequence whose
// final base packs to the same padding nibble.
func (s Seq) Key() string {
	n := len(s.codes)
	packed := make([]byte, (n+1)/2, (n+1)/2+1)
	for i, code := range s.codes {
		if i%2 == 0 {
			packed[i/2] = code << 4
		} else {
			packed[i/2] |= code
		}
	}
	if n%2 != 0 {
		packed = append(packed, 1)
	}
	return string(packed)
}

// Hash64 returns a 64-bit hash of the canonical representation.
func (s Seq) Hash64() uint64 {
	return farm.Hash64([]byte(s.Key()))
}

// Equal reports whether s and o spell the same bases, ignoring case and T/U
// spelling.
func (s Seq) Equal(o Seq) bool {
	if len(s.codes) != len(o.codes) {
		return false
	}
	for i, code := range s.codes {
		if code != o.codes[i] {
			return false
		}
	}
	return true
}
