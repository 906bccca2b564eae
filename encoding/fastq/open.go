package fastq

import (
	"bufio"
	"context"
	"io"
	"path/filepath"
	"strings"

	"github.com/grailbio/base/file"
	"github.com/grailbio/base/fileio"
	"github.com/klauspost/compress/gzip"
)

// File is an opened FASTQ input, transparently decompressed when the
// path carries a gzip suffix.
type File struct {
	f  file.File
	gz *gzip.Reader
	r  io.Reader
}

// Open opens the FASTQ file at path for reading. Files recognized as
// gzip-compressed by their suffix are decompressed on the fly.
func Open(ctx context.Context, path string) (*File, error) {
	f, err := file.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	fq := &File{f: f, r: f.Reader(ctx)}
	if fileio.DetermineType(path) == fileio.Gzip {
		if fq.gz, err = gzip.NewReader(fq.r); err != nil {
			_ = f.Close(ctx)
			return nil, err
		}
		fq.r = fq.gz
	}
	return fq, nil
}

// Reader returns the decompressed byte stream.
func (f *File) Reader() io.Reader { return f.r }

// Close releases the underlying file.
func (f *File) Close(ctx context.Context) error {
	var err error
	if f.gz != nil {
		err = f.gz.Close()
	}
	if cerr := f.f.Close(ctx); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// OutFile is a FASTQ output file, gzip-compressed when the path
// carries a gzip suffix.
type OutFile struct {
	f  file.File
	gz *gzip.Writer
	w  io.Writer
}

// Create creates the FASTQ file at path for writing, compressing the
// output when the path names a gzip file.
func Create(ctx context.Context, path string) (*OutFile, error) {
	f, err := file.Create(ctx, path)
	if err != nil {
		return nil, err
	}
	of := &OutFile{f: f, w: f.Writer(ctx)}
	if fileio.DetermineType(path) == fileio.Gzip {
		of.gz = gzip.NewWriter(of.w)
		of.w = of.gz
	}
	return of, nil
}

// Writer returns the byte sink.
func (f *OutFile) Writer() io.Writer { return f.w }

// Close flushes and releases the underlying file.
func (f *OutFile) Close(ctx context.Context) error {
	var err error
	if f.gz != nil {
		err = f.gz.Close()
	}
	if cerr := f.f.Close(ctx); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// CountRecords returns the number of FASTQ records in the file at
// path, counting lines without validating record structure.
func CountRecords(ctx context.Context, path string) (n int64, err error) {
	in, err := Open(ctx, path)
	if err != nil {
		return 0, err
	}
	defer func() {
		if cerr := in.Close(ctx); cerr != nil && err == nil {
			err = cerr
		}
	}()
	b := bufio.NewScanner(in.Reader())
	var lines int64
	for b.Scan() {
		lines++
	}
	if err := b.Err(); err != nil {
		return 0, err
	}
	return lines / LinesPerRead, nil
}

// UnmergedName returns the output name for reads from the input file
// at path that could not be merged: the base name prefixed with
// "UNMERGED_", with a trailing ".gz" suffix stripped.
func UnmergedName(path string) string {
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, ".gz")
	return "UNMERGED_" + base
}
