package mapper

// Opts configures a Mapper.
type Opts struct {
	// ComparisonSequenceSize is the length of the sequence slices (k-mers)
	// used as index keys.
	ComparisonSequenceSize int
	// ReferenceSpacing is the step between consecutive slice start
	// positions when indexing a reference sequence.
	ReferenceSpacing int
	// QuerySpacing is the step between consecutive slice start positions
	// when walking a query sequence.
	QuerySpacing int
	// MaxReferencesStoredPerSequence caps the number of references
	// remembered for one slice. A slice that would exceed the cap is
	// dropped from the index and permanently excluded; over-represented
	// slices (repetitive regions) carry no mapping signal.
	MaxReferencesStoredPerSequence int
	// MinRatioOfHitsToAvailableHits is the default hit-ratio floor for
	// BestCandidates. A candidate survives when its hit count reaches this
	// fraction of the available slice positions of either the query or the
	// reference.
	MinRatioOfHitsToAvailableHits float64
	// BestCandidateLimit is the default result cap for BestCandidates.
	// Trailing candidates tied with the last accepted hit count are kept
	// beyond the cap.
	BestCandidateLimit int
}

// DefaultOpts sets the default values to Opts.
var DefaultOpts = Opts{
	ComparisonSequenceSize:         5,
	ReferenceSpacing:               1,
	QuerySpacing:                   1,
	MaxReferencesStoredPerSequence: 50,
	MinRatioOfHitsToAvailableHits:  0.5,
	BestCandidateLimit:             10,
}
