package cache

import (
	"testing"

	"github.com/MartinSStewart/elm-review-bot/internal/model"
)

func name(owner, repo string) model.PackageName {
	return model.PackageName{Owner: owner, Repo: repo}
}

func TestInsertIfAbsent(t *testing.T) {
	c := New()
	n := name("elm", "json")
	v := model.Version{1, 1, 3}

	rec := model.NewPendingRecord(n, v, 0, c.NextUpdateIndex())
	if !c.InsertIfAbsent(rec) {
		t.Fatal("expected first insert to succeed")
	}
	if c.InsertIfAbsent(rec) {
		t.Fatal("expected duplicate insert to be rejected")
	}

	got, ok := c.Get(n, v)
	if !ok || got.State != model.StatePending {
		t.Fatalf("Get after insert = %+v, %v", got, ok)
	}
}

func TestUpdateVersionRecord(t *testing.T) {
	c := New()
	n := name("elm", "json")
	v := model.Version{1, 1, 3}

	if c.UpdateVersionRecord(n, v, model.PackageRecord{}) {
		t.Fatal("expected update of unknown record to fail")
	}

	rec := model.NewPendingRecord(n, v, 0, c.NextUpdateIndex())
	c.InsertIfAbsent(rec)

	fetched := rec.WithFetched(model.PackageManifest{Name: n, Version: v}, nil, c.NextUpdateIndex())
	if !c.UpdateVersionRecord(n, v, fetched) {
		t.Fatal("expected update to succeed")
	}

	got, _ := c.Get(n, v)
	if got.State != model.StateFetched {
		t.Fatalf("expected Fetched, got %v", got.State)
	}
}

func TestGetLatestSatisfying(t *testing.T) {
	c := New()
	n := name("elm", "json")
	constraint := model.VersionConstraint{
		Low: model.Version{1, 0, 0}, High: model.Version{2, 0, 0},
		LowIncl: true, HighIncl: false,
	}

	versions := []model.Version{{1, 0, 0}, {1, 1, 3}, {1, 2, 0}}
	for i, v := range versions {
		rec := model.NewPendingRecord(n, v, i, c.NextUpdateIndex())
		rec = rec.WithFetched(model.PackageManifest{Name: n, Version: v}, nil, c.NextUpdateIndex())
		c.InsertIfAbsent(rec)
	}
	// leave the highest version Pending: it should not be eligible to satisfy a dependency.
	pending := model.NewPendingRecord(n, model.Version{1, 9, 0}, len(versions), c.NextUpdateIndex())
	c.InsertIfAbsent(pending)

	v, manifest, _, ok := c.GetLatestSatisfying(n, constraint)
	if !ok {
		t.Fatal("expected a satisfying version")
	}
	if v != (model.Version{1, 2, 0}) {
		t.Fatalf("expected highest Fetched version 1.2.0, got %v", v)
	}
	if manifest.Name != n {
		t.Fatalf("expected manifest name %v, got %v", n, manifest.Name)
	}
}

func TestKnownVersionsAndIterate(t *testing.T) {
	c := New()
	n := name("elm", "json")
	versions := []model.Version{{1, 0, 0}, {1, 1, 0}, {2, 0, 0}}
	for i, v := range versions {
		c.InsertIfAbsent(model.NewPendingRecord(n, v, i, c.NextUpdateIndex()))
	}

	known := c.KnownVersions(n)
	if len(known) != 3 {
		t.Fatalf("expected 3 known versions, got %d", len(known))
	}

	var seen []model.Version
	c.Iterate(func(r model.PackageRecord) bool {
		seen = append(seen, r.Version)
		return true
	})
	if len(seen) != 3 || seen[0] != versions[0] {
		t.Fatalf("expected insertion-ordered iteration, got %v", seen)
	}
}

func TestResetRules(t *testing.T) {
	c := New()
	n := name("elm", "json")
	v := model.Version{1, 0, 0}

	rec := model.NewPendingRecord(n, v, 0, c.NextUpdateIndex())
	rec = rec.WithFetched(model.PackageManifest{Name: n, Version: v}, nil, c.NextUpdateIndex())
	rec = rec.WithChecked(model.RuleRunOutcome(model.NoErrorsResult()), c.NextUpdateIndex())
	c.InsertIfAbsent(rec)

	failedName := name("elm", "core")
	failedVersion := model.Version{1, 0, 5}
	failed := model.NewPendingRecord(failedName, failedVersion, 0, c.NextUpdateIndex())
	failed = failed.WithFetchMetaFailed(errTest, c.NextUpdateIndex())
	c.InsertIfAbsent(failed)

	n2 := c.ResetRules()
	if n2 != 2 {
		t.Fatalf("expected 2 records reset, got %d", n2)
	}

	got, _ := c.Get(n, v)
	if got.State != model.StateFetched {
		t.Fatalf("expected FetchedAndChecked to reset to Fetched, got %v", got.State)
	}
	got2, _ := c.Get(failedName, failedVersion)
	if got2.State != model.StatePending {
		t.Fatalf("expected FetchMetaFailed to reset to Pending, got %v", got2.State)
	}
}

var errTest = testError("boom")

type testError string

func (e testError) Error() string { return string(e) }
