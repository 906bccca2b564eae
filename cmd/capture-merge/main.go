package main

// capture-merge merges overlapping paired-end reads from two FASTQ
// files into single consensus reads.
//
// Example:
//
//    capture-merge -r1 sample_R1.fastq.gz -r2 sample_R2.fastq.gz -output merged.fastq
//
// Pairs that cannot be merged are written unchanged to
// UNMERGED_sample_R1.fastq and UNMERGED_sample_R2.fastq next to the
// merged output.

import (
	"context"
	"flag"

	"github.com/grailbio/base/log"

	"github.com/grailbio/capture/merger"
)

func main() {
	opts := merger.DefaultOpts
	var (
		r1Path   = flag.String("r1", "", "FASTQ file containing R1 reads (.gz accepted).")
		r2Path   = flag.String("r2", "", "FASTQ file containing R2 reads (.gz accepted).")
		outPath  = flag.String("output", "./merged.fastq", "FASTQ file for merged consensus reads.")
		progress = flag.Bool("progress", false, "Log percent-complete progress while merging.")
	)
	flag.IntVar(&opts.MaxConflictsPerPair, "max-conflicts-per-pair", merger.DefaultOpts.MaxConflictsPerPair,
		"Maximum number of quality-corrected bases a pair may contain and still merge.")
	flag.Int64Var(&opts.StartingPairIndex, "starting-pair-index", 0,
		"1-based pair index at which to start processing. Earlier pairs are skipped.")
	flag.Int64Var(&opts.PairCountLimit, "pair-count-limit", 0,
		"Maximum number of pairs to process. 0 means unlimited.")
	flag.IntVar(&opts.Parallelism, "parallelism", merger.DefaultOpts.Parallelism,
		"Number of worker threads.")

	flag.Parse()
	if *r1Path == "" || *r2Path == "" {
		log.Fatal("both -r1 and -r2 are required")
	}
	if *progress {
		opts.Progress = func(pct int, message string) {
			log.Printf("%3d%% %s", pct, message)
		}
	}
	ctx := context.Background()
	details, err := merger.MergeFiles(ctx, *r1Path, *r2Path, *outPath, opts)
	if err != nil {
		log.Fatalf("merge %s + %s: %v", *r1Path, *r2Path, err)
	}
	log.Printf("All done: %d of %d pairs merged", details.MergedPairs, details.ProcessedPairs)
}
