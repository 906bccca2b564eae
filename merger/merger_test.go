package merger

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/grailbio/testutil"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
	"github.com/pkg/errors"

	"github.com/grailbio/capture/encoding/fastq"
	"github.com/grailbio/capture/seq"
)

// testPair appends one pair to the two input buffers. Mate 2 is stored
// as the reverse complement of the template it should rejoin, with
// reversed qualities, the way a sequencer reports it.
func testPair(r1, r2 *bytes.Buffer, id, mate1, qual1, template2, qual2 string) {
	fmt.Fprintf(r1, "@%s 1\n%s\n+\n%s\n", id, mate1, qual1)
	fmt.Fprintf(r2, "@%s 2\n%s\n+\n%s\n", id, seq.New(template2).ReverseComplement().String(), reverse(qual2))
}

// nPairs writes n identical-template pairs, each of which merges
// cleanly.
func nPairs(n int) (*bytes.Buffer, *bytes.Buffer) {
	r1, r2 := new(bytes.Buffer), new(bytes.Buffer)
	for i := 0; i < n; i++ {
		testPair(r1, r2, fmt.Sprintf("pair%03d", i),
			"AAACCCGGTTACGT", "IIIIIIIIIIIIII",
			"AAACCCGGTTACGT", "JJJJJJJJJJJJJJ")
	}
	return r1, r2
}

func scanIDs(t *testing.T, buf *bytes.Buffer) []string {
	t.Helper()
	var (
		ids []string
		r   fastq.Read
		s   = fastq.NewScanner(bytes.NewReader(buf.Bytes()))
	)
	for s.Scan(&r) {
		ids = append(ids, r.ID)
	}
	assert.NoError(t, s.Err())
	return ids
}

func TestMergeOrdered(t *testing.T) {
	const n = 50
	r1, r2 := nPairs(n)
	var merged, un1, un2 bytes.Buffer
	details, err := Merge(context.Background(), r1, r2, &merged, &un1, &un2, Opts{Parallelism: 8})
	assert.NoError(t, err)
	expect.EQ(t, details.ProcessedPairs, int64(n))
	expect.EQ(t, details.MergedPairs, int64(n))
	expect.EQ(t, un1.Len(), 0)
	expect.EQ(t, un2.Len(), 0)

	// Output follows input order regardless of worker scheduling.
	ids := scanIDs(t, &merged)
	assert.EQ(t, len(ids), n)
	for i, id := range ids {
		expect.EQ(t, id, fmt.Sprintf("@pair%03d 1", i))
	}
}

func TestMergeUnmergedRouting(t *testing.T) {
	r1, r2 := new(bytes.Buffer), new(bytes.Buffer)
	// pairA merges; pairB carries an equal-quality mismatch and must
	// come through both unmerged outputs byte for byte.
	testPair(r1, r2, "pairA", "AAACCCGG", "IIIIIIII", "AAACCCGG", "JJJJJJJJ")
	testPair(r1, r2, "pairB", "AAACCCGG", "IIIIIIII", "AAAGCCGG", "IIIIIIII")
	in1, in2 := r1.String(), r2.String()

	var merged, un1, un2 bytes.Buffer
	details, err := Merge(context.Background(), r1, r2, &merged, &un1, &un2, Opts{Parallelism: 2})
	assert.NoError(t, err)
	expect.EQ(t, details.ProcessedPairs, int64(2))
	expect.EQ(t, details.MergedPairs, int64(1))

	expect.EQ(t, scanIDs(t, &merged), []string{"@pairA 1"})
	// Unmerged mates preserve their original records unchanged. Each
	// input holds two 4-line records; the second one is pairB's.
	secondRecord := func(s string) string {
		return strings.Join(strings.SplitAfter(s, "\n")[4:8], "")
	}
	expect.EQ(t, un1.String(), secondRecord(in1))
	expect.EQ(t, un2.String(), secondRecord(in2))
}

func TestMergeStartingPairIndex(t *testing.T) {
	const n = 10
	r1, r2 := nPairs(n)
	var merged, un1, un2 bytes.Buffer
	details, err := Merge(context.Background(), r1, r2, &merged, &un1, &un2,
		Opts{Parallelism: 4, StartingPairIndex: 4})
	assert.NoError(t, err)
	// Pairs 4..10 (1-based, inclusive) are processed.
	expect.EQ(t, details.ProcessedPairs, int64(7))
	ids := scanIDs(t, &merged)
	assert.EQ(t, len(ids), 7)
	expect.EQ(t, ids[0], "@pair003 1")
}

func TestMergePairCountLimit(t *testing.T) {
	const n = 10
	r1, r2 := nPairs(n)
	var merged, un1, un2 bytes.Buffer
	details, err := Merge(context.Background(), r1, r2, &merged, &un1, &un2,
		Opts{Parallelism: 4, PairCountLimit: 3})
	assert.NoError(t, err)
	expect.EQ(t, details.ProcessedPairs, int64(3))
	expect.EQ(t, scanIDs(t, &merged),
		[]string{"@pair000 1", "@pair001 1", "@pair002 1"})
}

func TestMergeMissingQualityAborts(t *testing.T) {
	r1, r2 := nPairs(3)
	// Truncate the quality string of the second R2 record.
	bad := strings.Replace(r2.String(), "JJJJJJJJJJJJJJ", "JJJJ", 2)
	var merged, un1, un2 bytes.Buffer
	_, err := Merge(context.Background(), r1, strings.NewReader(bad), &merged, &un1, &un2,
		Opts{Parallelism: 4})
	assert.NotNil(t, err)
	expect.EQ(t, errors.Cause(err), fastq.ErrInvalid)
}

func TestMergeProgress(t *testing.T) {
	const n = 40
	r1, r2 := nPairs(n)
	var (
		mu               sync.Mutex
		pcts             []int
		merged, un1, un2 bytes.Buffer
	)
	_, err := Merge(context.Background(), r1, r2, &merged, &un1, &un2, Opts{
		Parallelism: 4,
		TotalPairs:  n,
		Progress: func(pct int, message string) {
			mu.Lock()
			defer mu.Unlock()
			pcts = append(pcts, pct)
			expect.True(t, strings.Contains(message, "pairs"))
		},
	})
	assert.NoError(t, err)
	assert.True(t, len(pcts) > 0)
	for i := 1; i < len(pcts); i++ {
		expect.GE(t, pcts[i], pcts[i-1])
	}
	expect.EQ(t, pcts[len(pcts)-1], 100)
}

func TestMergeCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r1, r2 := nPairs(5)
	var merged, un1, un2 bytes.Buffer
	_, err := Merge(ctx, r1, r2, &merged, &un1, &un2, Opts{Parallelism: 2})
	assert.NotNil(t, err)
}

func TestMergeFiles(t *testing.T) {
	tmp, cleanup := testutil.TempDir(t, "", "merger")
	defer cleanup()
	ctx := context.Background()

	r1, r2 := new(bytes.Buffer), new(bytes.Buffer)
	testPair(r1, r2, "pairA", "AAACCCGG", "IIIIIIII", "AAACCCGG", "JJJJJJJJ")
	testPair(r1, r2, "pairB", "AAACCCGG", "IIIIIIII", "AAAGCCGG", "IIIIIIII")

	r1Path := filepath.Join(tmp, "sample_R1.fastq.gz")
	r2Path := filepath.Join(tmp, "sample_R2.fastq.gz")
	for _, in := range []struct {
		path string
		data []byte
	}{
		{r1Path, r1.Bytes()},
		{r2Path, r2.Bytes()},
	} {
		f, err := fastq.Create(ctx, in.path)
		assert.NoError(t, err)
		_, err = f.Writer().Write(in.data)
		assert.NoError(t, err)
		assert.NoError(t, f.Close(ctx))
	}

	outPath := filepath.Join(tmp, "merged.fastq")
	details, err := MergeFiles(ctx, r1Path, r2Path, outPath, Opts{Parallelism: 2})
	assert.NoError(t, err)
	expect.EQ(t, details.ProcessedPairs, int64(2))
	expect.EQ(t, details.MergedPairs, int64(1))

	// Unmerged siblings are named after the inputs, .gz stripped.
	for _, name := range []string{"UNMERGED_sample_R1.fastq", "UNMERGED_sample_R2.fastq"} {
		in, err := fastq.Open(ctx, filepath.Join(tmp, name))
		assert.NoError(t, err)
		s := fastq.NewScanner(in.Reader())
		var r fastq.Read
		assert.True(t, s.Scan(&r))
		expect.True(t, strings.HasPrefix(r.ID, "@pairB"))
		assert.NoError(t, in.Close(ctx))
	}

	in, err := fastq.Open(ctx, outPath)
	assert.NoError(t, err)
	s := fastq.NewScanner(in.Reader())
	var r fastq.Read
	assert.True(t, s.Scan(&r))
	expect.EQ(t, r.ID, "@pairA 1")
	assert.NoError(t, in.Close(ctx))
}
