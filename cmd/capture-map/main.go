package main

// capture-map maps FASTQ reads against the capture targets of a probe
// panel and reports the best candidate probes per read as TSV.
//
// Example:
//
//    capture-map -probes panel.probe_info.tsv -input merged.fastq -output hits.tsv

import (
	"context"
	"flag"
	"io"
	"os"
	"strings"

	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/tsv"

	"github.com/grailbio/capture/encoding/fastq"
	"github.com/grailbio/capture/mapper"
	"github.com/grailbio/capture/probe"
	"github.com/grailbio/capture/seq"
)

func main() {
	opts := mapper.DefaultOpts
	var (
		probesPath = flag.String("probes", "", "Probe-info TSV file describing the panel (.gz accepted).")
		inputPath  = flag.String("input", "", "FASTQ file of reads to map (.gz accepted).")
		outPath    = flag.String("output", "", "TSV output file. (default stdout)")
		limit      = flag.Int("limit", mapper.DefaultOpts.BestCandidateLimit,
			"Number of best candidates to keep per read, not counting ties.")
	)
	flag.IntVar(&opts.ComparisonSequenceSize, "comparison-sequence-size", mapper.DefaultOpts.ComparisonSequenceSize,
		"Length of the subsequences used for index lookups.")
	flag.IntVar(&opts.ReferenceSpacing, "reference-spacing", mapper.DefaultOpts.ReferenceSpacing,
		"Step between indexed subsequence starts in reference sequences.")
	flag.IntVar(&opts.QuerySpacing, "query-spacing", mapper.DefaultOpts.QuerySpacing,
		"Step between compared subsequence starts in query sequences.")
	flag.IntVar(&opts.MaxReferencesStoredPerSequence, "max-references-per-sequence", mapper.DefaultOpts.MaxReferencesStoredPerSequence,
		"Subsequences shared by more references than this are dropped from the index.")
	flag.Float64Var(&opts.MinRatioOfHitsToAvailableHits, "min-hit-ratio", mapper.DefaultOpts.MinRatioOfHitsToAvailableHits,
		"Minimum fraction of available subsequence hits a candidate must reach.")

	flag.Parse()
	if *probesPath == "" || *inputPath == "" {
		log.Fatal("both -probes and -input are required")
	}
	opts.BestCandidateLimit = *limit
	ctx := context.Background()

	probes, err := probe.ReadInfoFile(ctx, *probesPath)
	if err != nil {
		log.Fatalf("read %s: %v", *probesPath, err)
	}
	db, err := probe.NewDB(probes)
	if err != nil {
		log.Fatalf("index %s: %v", *probesPath, err)
	}
	m, err := db.NewMapper(opts)
	if err != nil {
		log.Fatalf("index %s: %v", *probesPath, err)
	}
	log.Printf("indexed %d probes from %s", len(probes), *probesPath)

	in, err := fastq.Open(ctx, *inputPath)
	if err != nil {
		log.Fatalf("open %s: %v", *inputPath, err)
	}
	out := io.Writer(os.Stdout)
	var outFile file.File
	if *outPath != "" {
		if outFile, err = file.Create(ctx, *outPath); err != nil {
			log.Fatalf("create %s: %v", *outPath, err)
		}
		out = outFile.Writer(ctx)
	}

	w := tsv.NewWriter(out)
	w.WriteString("read_id\tn_candidates\tprobe_ids")
	if err = w.EndLine(); err != nil {
		log.Fatalf("write %s: %v", *outPath, err)
	}
	var (
		r      fastq.Read
		nReads int64
		s      = fastq.NewScanner(in.Reader())
	)
	for s.Scan(&r) {
		candidates := m.BestCandidates(seq.New(r.Seq))
		ids := make([]string, len(candidates))
		for i, p := range candidates {
			ids[i] = p.ID
		}
		w.WriteString(strings.TrimPrefix(strings.Fields(r.ID)[0], "@"))
		w.WriteUint32(uint32(len(ids)))
		w.WriteString(strings.Join(ids, ","))
		if err = w.EndLine(); err != nil {
			log.Fatalf("write %s: %v", *outPath, err)
		}
		nReads++
	}
	if err = s.Err(); err != nil {
		log.Fatalf("scan %s: %v", *inputPath, err)
	}
	if err = w.Flush(); err != nil {
		log.Fatalf("write %s: %v", *outPath, err)
	}
	if err = in.Close(ctx); err != nil {
		log.Fatalf("close %s: %v", *inputPath, err)
	}
	if outFile != nil {
		if err = outFile.Close(ctx); err != nil {
			log.Fatalf("close %s: %v", *outPath, err)
		}
	}
	log.Printf("All done: mapped %d reads", nReads)
}
