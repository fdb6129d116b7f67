// Package cache holds the record part of the process-wide BackendState
// (spec §3): the insertion-ordered map of every observed package-version's
// lifecycle record and the monotonic updateIndex counter that stamps every
// mutation. Connected operator sessions are tracked by internal/broadcast,
// not here.
package cache

import (
	"sync"

	"github.com/MartinSStewart/elm-review-bot/internal/model"
)

// versionSlot holds one version's record plus the order it was first
// inserted, so per-name iteration stays insertion-ordered even though Go
// maps are not (spec §4.2).
type versionSlot struct {
	record model.PackageRecord
	order  int
}

// nameEntry is the per-package-name bucket: its versions, kept in
// insertion order, and a lookup index by Version for O(1) access.
type nameEntry struct {
	versions []model.Version
	byIndex  map[model.Version]int // Version -> index into versions
	slots    map[model.Version]*versionSlot
}

// Cache is the single-writer-during-normal-operation store described in
// spec §3/§4.2. Reads (by the broadcaster, the operator command handler's
// snapshot path, and the scheduler's scan) are safe to perform concurrently
// with each other; every mutation is serialized by the caller (the
// pipeline's actor loop), but the mutex is kept regardless since C9/C10
// read the cache directly off the actor-loop goroutine's stack in response
// to inbound WebSocket traffic.
type Cache struct {
	mu          sync.RWMutex
	byName      map[string]*nameEntry // keyed on PackageName.String()
	insertOrder []string              // insertion order of names, for full scans
	updateIndex int
}

// New returns an empty Cache.
func New() *Cache {
	return &Cache{byName: make(map[string]*nameEntry)}
}

// NextUpdateIndex stamps and returns the next monotonic updateIndex (spec
// §3 BackendState.updateIndex). Callers apply a mutation and stamp the
// resulting record with the same value in one step.
func (c *Cache) NextUpdateIndex() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nextUpdateIndexLocked()
}

// nextUpdateIndexLocked requires mu to already be held for writing.
func (c *Cache) nextUpdateIndexLocked() int {
	c.updateIndex++
	return c.updateIndex
}

// InsertIfAbsent inserts rec unless (name, version) is already present,
// reporting whether it inserted (spec §4.1: C1 only seeds records that
// aren't already known).
func (c *Cache) InsertIfAbsent(rec model.PackageRecord) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := rec.Name.String()
	entry, ok := c.byName[key]
	if !ok {
		entry = &nameEntry{
			byIndex: make(map[model.Version]int),
			slots:   make(map[model.Version]*versionSlot),
		}
		c.byName[key] = entry
		c.insertOrder = append(c.insertOrder, key)
	}

	if _, exists := entry.slots[rec.Version]; exists {
		return false
	}

	idx := len(entry.versions)
	entry.versions = append(entry.versions, rec.Version)
	entry.byIndex[rec.Version] = idx
	entry.slots[rec.Version] = &versionSlot{record: rec, order: idx}
	return true
}

// UpdateVersionRecord overwrites the record for an already-present
// (name, version), as required by every state transition in spec §4.
// Reports false if the record was never inserted.
func (c *Cache) UpdateVersionRecord(name model.PackageName, version model.Version, rec model.PackageRecord) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.byName[name.String()]
	if !ok {
		return false
	}
	slot, ok := entry.slots[version]
	if !ok {
		return false
	}
	slot.record = rec
	return true
}

// Get returns the record for (name, version), if known.
func (c *Cache) Get(name model.PackageName, version model.Version) (model.PackageRecord, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.byName[name.String()]
	if !ok {
		return model.PackageRecord{}, false
	}
	slot, ok := entry.slots[version]
	if !ok {
		return model.PackageRecord{}, false
	}
	return slot.record, true
}

// GetLatestSatisfying returns the highest cached version of name that
// satisfies constraint and whose record holds a usable manifest+docs: any
// state except Pending and FetchMetaFailed (spec §4.6/§3 invariants).
func (c *Cache) GetLatestSatisfying(name model.PackageName, constraint model.VersionConstraint) (model.Version, model.PackageManifest, []model.ModuleDoc, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.byName[name.String()]
	if !ok {
		return model.Version{}, model.PackageManifest{}, nil, false
	}

	var (
		best     model.Version
		manifest model.PackageManifest
		docs     []model.ModuleDoc
		found    bool
	)
	for _, v := range entry.versions {
		if !constraint.Satisfies(v) {
			continue
		}
		slot := entry.slots[v]
		payload := fetchedPayload(slot.record)
		if payload == nil {
			continue
		}
		if !found || best.Less(v) {
			best = v
			manifest = payload.Manifest
			docs = payload.Docs
			found = true
		}
	}
	return best, manifest, docs, found
}

// fetchedPayload returns the record's FetchedPayload if its state is any of
// Fetched, FetchedAndChecked, PRPending, PRSent, or PRFailed, nil otherwise.
func fetchedPayload(rec model.PackageRecord) *model.FetchedPayload {
	switch rec.State {
	case model.StateFetched:
		return rec.Fetched
	case model.StateFetchedAndChecked:
		return &rec.Checked.FetchedPayload
	case model.StatePRPending, model.StatePRSent, model.StatePRFailed:
		return &rec.PR.CheckedPayload.FetchedPayload
	default:
		return nil
	}
}

// KnownVersions returns every cached version of name, in insertion order.
// Used by the scheduler's "latest among known" tie-break (spec §4.4 step 2).
func (c *Cache) KnownVersions(name model.PackageName) []model.Version {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.byName[name.String()]
	if !ok {
		return nil
	}
	out := make([]model.Version, len(entry.versions))
	copy(out, entry.versions)
	return out
}

// Iterate calls fn for every record in the cache, names in insertion order
// and, within a name, versions in insertion order (spec §4.2). Iteration
// stops early if fn returns false.
func (c *Cache) Iterate(fn func(model.PackageRecord) bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, name := range c.insertOrder {
		entry := c.byName[name]
		for _, v := range entry.versions {
			if !fn(entry.slots[v].record) {
				return
			}
		}
	}
}

// Snapshot returns every record in the cache, in the same order Iterate
// visits them. Used by C9's on-connect full-state push.
func (c *Cache) Snapshot() []model.PackageRecord {
	var out []model.PackageRecord
	c.Iterate(func(r model.PackageRecord) bool {
		out = append(out, r)
		return true
	})
	return out
}

// ResetRules downgrades every FetchedAndChecked record back to Fetched and
// every FetchMetaFailed record back to Pending, leaving PR states
// untouched (spec §3 Lifecycles, driven by the operator's ResetRules
// command). Traversal and updateIndex stamping happen atomically under the
// write lock.
func (c *Cache) ResetRules() (resetCount int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, name := range c.insertOrder {
		entry := c.byName[name]
		for _, v := range entry.versions {
			slot := entry.slots[v]
			switch slot.record.State {
			case model.StateFetchedAndChecked:
				slot.record = slot.record.ResetToFetched(c.nextUpdateIndexLocked())
				resetCount++
			case model.StateFetchMetaFailed:
				slot.record = slot.record.ResetToPending(c.nextUpdateIndexLocked())
				resetCount++
			}
		}
	}
	return resetCount
}
