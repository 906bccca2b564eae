package fastq

import (
	"bufio"
	"io"

	"github.com/pkg/errors"
)

var (
	// ErrShort is returned when a truncated FASTQ file is encountered.
	ErrShort = errors.New("short FASTQ file")
	// ErrInvalid is returned when an invalid FASTQ file is encountered,
	// including records whose quality string is missing or shorter than
	// the sequence.
	ErrInvalid = errors.New("invalid FASTQ file")
)

// LinesPerRead is the number of text lines in one FASTQ record.
const LinesPerRead = 4

// A Read is a FASTQ read, comprising an ID, sequence, line 3
// ("unknown"), and a quality string.
type Read struct {
	ID, Seq, Unk, Qual string
}

// Trim cuts the read and quality lengths to at most n.
func (r *Read) Trim(n int) {
	r.Seq = r.Seq[:n]
	r.Qual = r.Qual[:n]
}

var errEOF = errors.New("eof")

// Scanner provides a convenient interface for reading FASTQ read
// data. The Scan method returns the next read, returning a boolean
// indicating whether the read succeeded. Scanners are not
// threadsafe.
//
// Scanner validates each record: ID lines must begin with "@", line 3
// must begin with "+", and the quality string must be exactly as long
// as the sequence. Validation failures are reported as
// errors wrapping ErrInvalid and name the offending record.
type Scanner struct {
	b    *bufio.Scanner
	err  error
	nRec int64
}

// NewScanner constructs a new Scanner that reads raw FASTQ data from
// the provided reader.
func NewScanner(r io.Reader) *Scanner {
	return &Scanner{b: bufio.NewScanner(r)}
}

// Scan the next read into the provided read. Scan returns a boolean
// indicating whether the scan succeeded. Once Scan returns false, it
// never returns true again. Upon completion, the user should check
// the Err method to determine whether scanning stopped because of an
// error or because the end of the stream was reached.
func (f *Scanner) Scan(read *Read) bool {
	if f.err != nil {
		return false
	}
	if !f.b.Scan() {
		if f.err = f.b.Err(); f.err == nil {
			f.err = errEOF
		}
		return false
	}
	f.nRec++
	id := f.b.Bytes()
	if len(id) == 0 || id[0] != '@' {
		return f.invalid("ID line must begin with '@'")
	}
	read.ID = string(id)
	if !f.scan() {
		return false
	}
	read.Seq = f.b.Text()
	if !f.scan() {
		return false
	}
	unk := f.b.Bytes()
	if len(unk) == 0 || unk[0] != '+' {
		return f.invalid("line 3 must begin with '+'")
	}
	read.Unk = string(unk)
	if !f.scan() {
		return false
	}
	read.Qual = f.b.Text()
	if len(read.Qual) != len(read.Seq) {
		return f.invalid("quality string missing or length differs from sequence")
	}
	return true
}

// NRecs returns the number of records scanned so far, including a
// record on which Scan reported an error.
func (f *Scanner) NRecs() int64 { return f.nRec }

func (f *Scanner) invalid(msg string) bool {
	f.err = errors.Wrapf(ErrInvalid, "record %d: %s", f.nRec, msg)
	return false
}

func (f *Scanner) scan() bool {
	ok := f.b.Scan()
	if !ok {
		if f.err = f.b.Err(); f.err == nil {
			f.err = errors.Wrapf(ErrShort, "record %d", f.nRec)
		}
	}
	return ok
}

// Err returns the scanning error, if any.
func (f *Scanner) Err() error {
	if f.err == errEOF {
		return nil
	}
	return f.err
}

// PairScanner composes a pair of scanners to scan a pair of FASTQ
// streams in lock step. Scanning stops without error as soon as
// either stream is exhausted, so inputs of unequal length yield
// min(len(r1), len(r2)) pairs.
type PairScanner struct {
	r1, r2 *Scanner
	nPairs int64
}

// NewPairScanner creates a new FASTQ pair scanner from the provided
// R1 and R2 readers.
func NewPairScanner(r1, r2 io.Reader) *PairScanner {
	return &PairScanner{
		r1: NewScanner(r1),
		r2: NewScanner(r2),
	}
}

// Scan scans the next read pair into r1, r2. Scan returns a boolean
// indicating whether the scan succeeded. Once Scan returns false, it
// never returns true again. Upon completion, the user should check
// the Err method to determine whether scanning stopped because of an
// error or because the end of either stream was reached.
func (p *PairScanner) Scan(r1, r2 *Read) bool {
	// Both streams advance even if one of them fails, keeping the
	// readers aligned.
	ok1 := p.r1.Scan(r1)
	ok2 := p.r2.Scan(r2)
	if ok1 && ok2 {
		p.nPairs++
		return true
	}
	return false
}

// NPairs returns the 1-based index of the pair most recently scanned.
func (p *PairScanner) NPairs() int64 { return p.nPairs }

// Err returns the scanning error, if any. It should be checked
// after Scan returns false.
func (p *PairScanner) Err() error {
	if err := p.r1.Err(); err != nil {
		return errors.Wrap(err, "R1")
	}
	if err := p.r2.Err(); err != nil {
		return errors.Wrap(err, "R2")
	}
	return nil
}
