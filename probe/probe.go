// Package probe reads capture-probe definitions and answers positional
// and sequence-similarity queries over them.
//
// A probe pairs an extension and a ligation primer around a capture
// target on one container (chromosome). Probes are loaded from the
// tab-delimited probe-info format, held in per-container interval trees
// for overlap queries, and can be indexed by target sequence for
// approximate matching.
package probe

import (
	"context"
	"io"

	"github.com/biogo/store/interval"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/fileio"
	"github.com/grailbio/base/tsv"
	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"

	"github.com/grailbio/capture/mapper"
	"github.com/grailbio/capture/seq"
)

// Probe is one capture probe. Coordinates are 1-based and inclusive,
// as written in the probe-info file.
type Probe struct {
	ID        string
	Container string
	Strand    string

	ExtStart, ExtStop int
	ExtSeq            string

	LigStart, LigStop int
	LigSeq            string

	TargetStart, TargetStop int
	TargetSeq               string

	Annotation string
}

// infoRow mirrors one row of the probe-info file.
type infoRow struct {
	ProbeID     string `tsv:"probe_id"`
	Chromosome  string `tsv:"chromosome"`
	Strand      string `tsv:"probe_strand"`
	ExtStart    int    `tsv:"ext_start"`
	ExtStop     int    `tsv:"ext_stop"`
	ExtSeq      string `tsv:"ext_sequence"`
	LigStart    int    `tsv:"lig_start"`
	LigStop     int    `tsv:"lig_stop"`
	LigSeq      string `tsv:"lig_sequence"`
	TargetStart int    `tsv:"target_start"`
	TargetStop  int    `tsv:"target_stop"`
	TargetSeq   string `tsv:"target_sequence"`
	Annotation  string `tsv:"annotation"`
}

// ReadInfo parses probe-info rows from r. Lines starting with '#' are
// metadata and are skipped; the first non-comment line must be the
// column header.
func ReadInfo(r io.Reader) ([]*Probe, error) {
	tr := tsv.NewReader(r)
	tr.Comment = '#'
	tr.HasHeaderRow = true
	tr.UseHeaderNames = true

	var probes []*Probe
	for {
		var row infoRow
		if err := tr.Read(&row); err != nil {
			if err == io.EOF {
				break
			}
			return nil, errors.Wrapf(err, "probe-info row %d", len(probes)+1)
		}
		if row.ProbeID == "" {
			return nil, errors.Errorf("probe-info row %d: empty probe_id", len(probes)+1)
		}
		probes = append(probes, &Probe{
			ID:          row.ProbeID,
			Container:   row.Chromosome,
			Strand:      row.Strand,
			ExtStart:    row.ExtStart,
			ExtStop:     row.ExtStop,
			ExtSeq:      row.ExtSeq,
			LigStart:    row.LigStart,
			LigStop:     row.LigStop,
			LigSeq:      row.LigSeq,
			TargetStart: row.TargetStart,
			TargetStop:  row.TargetStop,
			TargetSeq:   row.TargetSeq,
			Annotation:  row.Annotation,
		})
	}
	return probes, nil
}

// ReadInfoFile is a wrapper for ReadInfo that takes a path instead of
// an io.Reader. Gzip-suffixed files are decompressed.
func ReadInfoFile(ctx context.Context, path string) (probes []*Probe, err error) {
	var in file.File
	if in, err = file.Open(ctx, path); err != nil {
		return nil, err
	}
	defer func() {
		if cerr := in.Close(ctx); cerr != nil && err == nil {
			err = cerr
		}
	}()
	reader := io.Reader(in.Reader(ctx))
	if fileio.DetermineType(path) == fileio.Gzip {
		if reader, err = gzip.NewReader(reader); err != nil {
			return nil, err
		}
	}
	return ReadInfo(reader)
}

// entry adapts a probe's capture-target interval to the interval-tree
// element interface. The tree works with half-open ranges, so Stop is
// shifted by one.
type entry struct {
	p  *Probe
	id uintptr
}

func (e entry) Overlap(r interval.IntRange) bool {
	return e.p.TargetStop+1 > r.Start && e.p.TargetStart < r.End
}
func (e entry) Range() interval.IntRange {
	return interval.IntRange{Start: e.p.TargetStart, End: e.p.TargetStop + 1}
}
func (e entry) ID() uintptr { return e.id }

// span is a query range over one container, half-open.
type span struct {
	start, end int
}

func (s span) Overlap(r interval.IntRange) bool { return s.end > r.Start && s.start < r.End }
func (s span) Range() interval.IntRange         { return interval.IntRange{Start: s.start, End: s.end} }
func (s span) ID() uintptr                      { return 0 }

// DB holds a loaded probe set, with per-container interval trees over
// the capture targets. DB is immutable after construction and safe for
// concurrent use.
type DB struct {
	probes      []*Probe
	byContainer map[string]*interval.IntTree
}

// NewDB builds a DB over probes. Probe order is preserved.
func NewDB(probes []*Probe) (*DB, error) {
	d := &DB{
		probes:      probes,
		byContainer: make(map[string]*interval.IntTree),
	}
	for i, p := range probes {
		t := d.byContainer[p.Container]
		if t == nil {
			t = &interval.IntTree{}
			d.byContainer[p.Container] = t
		}
		if err := t.Insert(entry{p: p, id: uintptr(i)}, true); err != nil {
			return nil, errors.Wrapf(err, "probe %s", p.ID)
		}
	}
	for _, t := range d.byContainer {
		t.AdjustRanges()
	}
	return d, nil
}

// Probes returns all probes in file order.
func (d *DB) Probes() []*Probe { return d.probes }

// Overlapping returns the probes on container whose capture target
// intersects the 1-based inclusive range [start, stop].
func (d *DB) Overlapping(container string, start, stop int) []*Probe {
	t := d.byContainer[container]
	if t == nil {
		return nil
	}
	var out []*Probe
	for _, iv := range t.Get(span{start: start, end: stop + 1}) {
		out = append(out, iv.(entry).p)
	}
	return out
}

// NewMapper builds an approximate-match index over the probes' capture
// target sequences. Candidates returned by the mapper are the probes
// themselves.
func (d *DB) NewMapper(opts mapper.Opts) (*mapper.Mapper[*Probe], error) {
	m := mapper.New[*Probe](opts)
	for _, p := range d.probes {
		if err := m.AddReference(seq.New(p.TargetSeq), p); err != nil {
			return nil, errors.Wrapf(err, "probe %s", p.ID)
		}
	}
	return m, nil
}
