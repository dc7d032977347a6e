package domain

// ============================================================
// Matching results & run lifecycle
// ============================================================

// MatchMethod is the tier that produced a match.
type MatchMethod string

const (
	MatchCode            MatchMethod = "CODE"
	MatchValueDate       MatchMethod = "VALUE_DATE"
	MatchValueName       MatchMethod = "VALUE_NAME"
	MatchAIDisambiguated MatchMethod = "AI_DISAMBIGUATED"
	MatchValueOnly       MatchMethod = "VALUE_ONLY"
	MatchNone            MatchMethod = "NONE"
)

// MatchRecord pairs a charge with the proof that settles it, if any.
type MatchRecord struct {
	Charge        *ChargeDocument
	Proof         *ProofCandidate
	Method        MatchMethod
	Justification string
}

// Matched reports whether a proof was claimed for the charge.
func (r MatchRecord) Matched() bool {
	return r.Proof != nil && r.Method != MatchNone
}

// ProofIndex returns the claimed page index or -1.
func (r MatchRecord) ProofIndex() int {
	if r.Proof == nil {
		return -1
	}
	return r.Proof.Index
}

// RunState is a stage of a reconciliation run. Runs only move forward.
type RunState string

const (
	StateInit             RunState = "INIT"
	StateIndexingProofs   RunState = "INDEXING_PROOFS"
	StateMatchingCharges  RunState = "MATCHING_CHARGES"
	StateAssemblingOutput RunState = "ASSEMBLING_OUTPUT"
	StateDone             RunState = "DONE"
	StateFailed           RunState = "FAILED"
)

// RunSummary is what a finished run reports back.
type RunSummary struct {
	RunID           string        `json:"runId"`
	Total           int           `json:"total"`
	Matched         int           `json:"matched"`
	Unmatched       int           `json:"unmatched"`
	ArchiveLocation string        `json:"archiveLocation"`
	ReportLocation  string        `json:"reportLocation,omitempty"`
	UnclaimedProofs []int         `json:"unclaimedProofs"`
	Records         []MatchRecord `json:"-"`
}

// ReconciliationStats is returned by GET /v1/reconciliations/stats.
type ReconciliationStats struct {
	RunsSucceeded   int64            `json:"runsSucceeded"`
	RunsFailed      int64            `json:"runsFailed"`
	MatchesByMethod map[string]int64 `json:"matchesByMethod"`
	ExternalErrors  map[string]int64 `json:"externalErrors"`
	CacheHitRate    float64          `json:"cacheHitRate"`
}
