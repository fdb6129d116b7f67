// Package scheduler implements the Work Scheduler's selection policy (C4,
// spec §4.4): given the cache's current contents, decide which single
// record to dispatch next, and to which stage. It holds no state of its
// own and performs no I/O or pacing — internal/pipeline's actor loop owns
// both, calling SelectNext after every mutation that might change the
// work frontier.
package scheduler

import "github.com/MartinSStewart/elm-review-bot/internal/model"

// Stage names which data-pipeline stage a selected record should be
// dispatched to next.
type Stage int

const (
	// StageMetaFetch dispatches a Pending record into C3.
	StageMetaFetch Stage = iota
	// StageAnalysis dispatches a Fetched record into C5/C6/C7.
	StageAnalysis
)

// CacheReader is the subset of internal/cache.Cache the selection policy
// reads, declared here (the consumer) so this package's tests run against
// a lightweight fake instead of a real Cache.
type CacheReader interface {
	Iterate(fn func(model.PackageRecord) bool)
	KnownVersions(name model.PackageName) []model.Version
}

// SelectNext implements spec §4.4's two-step selection: a Pending record
// in cache-iteration order first; failing that, the first Fetched record
// that is the latest known version of its package and not excluded by the
// reserved-prefix rule or ignoreList.
func SelectNext(c CacheReader, ignoreList map[string]bool) (model.PackageRecord, Stage, bool) {
	if pending, ok := firstPending(c); ok {
		return pending, StageMetaFetch, true
	}
	if fetched, ok := firstDispatchableFetched(c, ignoreList); ok {
		return fetched, StageAnalysis, true
	}
	return model.PackageRecord{}, 0, false
}

func firstPending(c CacheReader) (model.PackageRecord, bool) {
	var found model.PackageRecord
	var ok bool
	c.Iterate(func(rec model.PackageRecord) bool {
		if rec.State == model.StatePending {
			found, ok = rec, true
			return false
		}
		return true
	})
	return found, ok
}

func firstDispatchableFetched(c CacheReader, ignoreList map[string]bool) (model.PackageRecord, bool) {
	var found model.PackageRecord
	var ok bool
	c.Iterate(func(rec model.PackageRecord) bool {
		if rec.State != model.StateFetched {
			return true
		}
		if rec.Name.IsReserved() || ignoreList[rec.Name.String()] {
			return true
		}
		if !model.IsLatestAmongKnown(rec.Version, c.KnownVersions(rec.Name)) {
			return true
		}
		found, ok = rec, true
		return false
	})
	return found, ok
}
