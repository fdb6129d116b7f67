// Package broadcast implements the Subscription Broadcaster (C9, spec
// §4.9): it turns a PackageRecord state change into the projected delta
// shape operator sessions actually see, and fans that delta out to every
// connected, authenticated session.
package broadcast

import (
	"sync"

	"github.com/MartinSStewart/elm-review-bot/internal/model"
)

// Status is the projected, display-only summary of a PackageRecord: the
// raw manifest and docs are dropped, keeping only what the operator
// console renders (spec §4.9 "The projection drops raw manifests/docs").
type Status struct {
	Version     model.Version
	PURL        string // "pkg:elm/owner/repo@version" identity of the record
	UpdateIndex int
	State       model.RecordState
	Outcome     *model.ReviewOutcome // set iff State == FetchedAndChecked or any PR* state
	MetaFailErr error                // set iff State == FetchMetaFailed
	PRURL       string               // set iff State == PRSent
	PRStage     string               // set iff State == PRFailed
	PRErr       error                // set iff State == PRFailed
}

// Project reduces a PackageRecord to its Status, or reports ok=false for a
// Pending record, which spec §4.9 excludes from every projection ("clients
// only see records from Fetched onward").
func Project(rec model.PackageRecord) (Status, bool) {
	status := Status{Version: rec.Version, PURL: rec.Name.PURL(rec.Version), UpdateIndex: rec.UpdateIndex, State: rec.State}
	switch rec.State {
	case model.StatePending:
		return Status{}, false
	case model.StateFetched:
	case model.StateFetchedAndChecked:
		status.Outcome = &rec.Checked.Outcome
	case model.StatePRPending:
		status.Outcome = &rec.PR.Outcome
	case model.StatePRSent:
		status.Outcome = &rec.PR.Outcome
		status.PRURL = rec.PR.URL
	case model.StatePRFailed:
		status.Outcome = &rec.PR.Outcome
		status.PRStage = rec.PR.FailedStage
		status.PRErr = rec.PR.FailedErr
	case model.StateFetchMetaFailed:
		status.MetaFailErr = rec.MetaFailErr
	}
	return status, true
}

// Delta is one package's set of version statuses pushed to a session, the
// `{ packageName -> [(version, projected-status)] }` shape spec §4.9
// defines.
type Delta struct {
	Name     model.PackageName
	Statuses []Status
}

// Session is the subset of an operator connection the broadcaster needs:
// somewhere to push a delta. The broadcaster has no liveness check of its
// own; a disconnected session stops receiving deltas once it is
// unsubscribed (spec §5 "On client disconnect, outstanding broadcasts to
// that client are dropped silently").
type Session interface {
	Send(deltas []Delta)
}

// Broadcaster fans out record-change deltas to every connected, logged-in
// session (spec §4.9). It holds no cache state of its own — callers pass
// the record that just changed, or a full snapshot for a newly-connected
// session.
type Broadcaster struct {
	mu       sync.Mutex
	sessions map[Session]struct{}
}

// New returns an empty Broadcaster.
func New() *Broadcaster {
	return &Broadcaster{sessions: make(map[Session]struct{})}
}

// Subscribe registers sess to receive future broadcasts. The caller is
// responsible for first sending sess a snapshot (see Snapshot) before
// subscribing it to deltas, per spec §4.9's "first emits a full snapshot,
// then switches to deltas".
func (b *Broadcaster) Subscribe(sess Session) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sessions[sess] = struct{}{}
}

// Unsubscribe drops sess; any broadcast already in flight to it is the
// caller's Session.Send implementation's concern, not the Broadcaster's.
func (b *Broadcaster) Unsubscribe(sess Session) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.sessions, sess)
}

// Broadcast pushes rec's projected delta to every subscribed session. A
// Pending record yields no delta at all — spec §4.9 scopes the projection
// to Fetched-onward records, so C1's insertions never themselves trigger a
// broadcast (only the subsequent C3 transition to Fetched does).
func (b *Broadcaster) Broadcast(rec model.PackageRecord) {
	status, ok := Project(rec)
	if !ok {
		return
	}
	delta := Delta{Name: rec.Name, Statuses: []Status{status}}

	b.mu.Lock()
	defer b.mu.Unlock()
	for sess := range b.sessions {
		sess.Send([]Delta{delta})
	}
}

// Snapshot projects every Fetched-onward record in recs into the full
// delta set a newly-connected session receives before being subscribed to
// future deltas (spec §4.9).
func Snapshot(recs []model.PackageRecord) []Delta {
	byName := make(map[string]*Delta)
	var order []string
	for _, rec := range recs {
		status, ok := Project(rec)
		if !ok {
			continue
		}
		key := rec.Name.String()
		d, exists := byName[key]
		if !exists {
			d = &Delta{Name: rec.Name}
			byName[key] = d
			order = append(order, key)
		}
		d.Statuses = append(d.Statuses, status)
	}

	out := make([]Delta, 0, len(order))
	for _, key := range order {
		out = append(out, *byName[key])
	}
	return out
}
