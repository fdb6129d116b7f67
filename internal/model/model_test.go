package model

import "testing"

func TestParsePackageName(t *testing.T) {
	n, err := ParsePackageName("elm/json")
	if err != nil {
		t.Fatalf("ParsePackageName: %v", err)
	}
	if n.Owner != "elm" || n.Repo != "json" {
		t.Fatalf("got %+v", n)
	}
	if n.String() != "elm/json" {
		t.Fatalf("String() = %q", n.String())
	}
	if !n.IsReserved() {
		t.Fatal("elm/json should be reserved")
	}

	if _, err := ParsePackageName("no-slash"); err == nil {
		t.Fatal("expected error for malformed name")
	}
	if _, err := ParsePackageName("/repo"); err == nil {
		t.Fatal("expected error for empty owner")
	}
}

func TestPackageNamePURL(t *testing.T) {
	n := PackageName{Owner: "rtfeldman", Repo: "elm-css"}
	got := n.PURL(Version{Major: 18, Minor: 0, Patch: 0})
	want := "pkg:elm/rtfeldman/elm-css@18.0.0"
	if got != want {
		t.Fatalf("PURL() = %q, want %q", got, want)
	}
}

func TestParseVersion(t *testing.T) {
	v, err := ParseVersion("1.2.3")
	if err != nil {
		t.Fatalf("ParseVersion: %v", err)
	}
	if v != (Version{1, 2, 3}) {
		t.Fatalf("got %+v", v)
	}
	if v.String() != "1.2.3" {
		t.Fatalf("String() = %q", v.String())
	}

	if _, err := ParseVersion("1.2"); err == nil {
		t.Fatal("expected error for incomplete version")
	}
}

func TestVersionCompareAndLess(t *testing.T) {
	a := Version{1, 0, 0}
	b := Version{1, 1, 0}
	if !a.Less(b) {
		t.Fatal("1.0.0 should be less than 1.1.0")
	}
	if a.Compare(a) != 0 {
		t.Fatal("version should compare equal to itself")
	}
	if b.Less(a) {
		t.Fatal("1.1.0 should not be less than 1.0.0")
	}
}

func TestParseVersionConstraint(t *testing.T) {
	c, err := ParseVersionConstraint("1.0.0 <= v < 2.0.0")
	if err != nil {
		t.Fatalf("ParseVersionConstraint: %v", err)
	}
	if !c.Satisfies(Version{1, 0, 0}) {
		t.Fatal("1.0.0 should satisfy [1.0.0, 2.0.0)")
	}
	if c.Satisfies(Version{2, 0, 0}) {
		t.Fatal("2.0.0 should not satisfy [1.0.0, 2.0.0)")
	}
	if c.Satisfies(Version{0, 9, 0}) {
		t.Fatal("0.9.0 should not satisfy [1.0.0, 2.0.0)")
	}

	if _, err := ParseVersionConstraint("1.0.0 <= v <= 2.0.0"); err != nil {
		t.Fatalf("ParseVersionConstraint with <=: %v", err)
	}

	if _, err := ParseVersionConstraint("garbage"); err == nil {
		t.Fatal("expected error for malformed constraint")
	}
}

func TestDecodeRegistryEntry(t *testing.T) {
	name, version, err := DecodeRegistryEntry("elm/json@1.1.3")
	if err != nil {
		t.Fatalf("DecodeRegistryEntry: %v", err)
	}
	if name.String() != "elm/json" || version.String() != "1.1.3" {
		t.Fatalf("got %v %v", name, version)
	}

	if _, _, err := DecodeRegistryEntry("elm/json-1.1.3"); err == nil {
		t.Fatal("expected error for missing '@'")
	}
}

func TestManifestIsEligible(t *testing.T) {
	eligible := PackageManifest{
		ElmVersion: VersionConstraint{
			Low: Version{0, 19, 0}, High: Version{0, 20, 0},
			LowIncl: true, HighIncl: false,
		},
	}
	if !eligible.IsEligible() {
		t.Fatal("manifest admitting 0.19.1 should be eligible")
	}

	ineligible := PackageManifest{
		ElmVersion: VersionConstraint{
			Low: Version{0, 18, 0}, High: Version{0, 19, 0},
			LowIncl: true, HighIncl: false,
		},
	}
	if ineligible.IsEligible() {
		t.Fatal("manifest not admitting 0.19.1 should not be eligible")
	}
}

func TestRunResultAllTestOnly(t *testing.T) {
	testDeps := Dependencies{
		PackageName{Owner: "elm-explorations", Repo: "test"}: {},
	}

	allTestOnly := FoundErrorsResult([]Diagnostic{
		{Message: "unused dependency elm-explorations/test"},
	}, "old", "new")
	if !allTestOnly.AllTestOnly(testDeps) {
		t.Fatal("expected AllTestOnly to be true")
	}

	mixed := FoundErrorsResult([]Diagnostic{
		{Message: "unused dependency elm-explorations/test"},
		{Message: "unused dependency elm/json"},
	}, "old", "new")
	if mixed.AllTestOnly(testDeps) {
		t.Fatal("expected AllTestOnly to be false when a non-test dependency is mentioned")
	}

	if NoErrorsResult().AllTestOnly(testDeps) {
		t.Fatal("AllTestOnly should be false for non-FoundErrors results")
	}
}

func TestPackageRecordLifecycle(t *testing.T) {
	name := PackageName{Owner: "elm", Repo: "json"}
	version := Version{1, 1, 3}

	r := NewPendingRecord(name, version, 0, 1)
	if r.State != StatePending {
		t.Fatalf("expected Pending, got %v", r.State)
	}

	r = r.WithFetched(PackageManifest{Name: name, Version: version}, nil, 2)
	if r.State != StateFetched || r.Fetched == nil {
		t.Fatalf("expected Fetched with payload, got %+v", r)
	}

	r = r.WithChecked(RuleRunOutcome(NoErrorsResult()), 3)
	if r.State != StateFetchedAndChecked || r.Checked == nil {
		t.Fatalf("expected FetchedAndChecked with payload, got %+v", r)
	}

	r = r.WithPRPending(FoundErrorsResult(nil, "old", "new"), 4)
	if r.State != StatePRPending || r.PR == nil {
		t.Fatalf("expected PRPending with payload, got %+v", r)
	}

	r = r.WithPRFailed("fork", errBoom, 5)
	if r.State != StatePRFailed || r.PR.FailedErr != errBoom {
		t.Fatalf("expected PRFailed carrying error, got %+v", r)
	}

	r = r.WithPRPending(FoundErrorsResult(nil, "old", "new"), 6)
	if r.State != StatePRPending {
		t.Fatalf("expected retry to reach PRPending, got %v", r.State)
	}

	r = r.WithPRSent("https://example.invalid/pr/1", 7)
	if r.State != StatePRSent || r.PR.URL == "" {
		t.Fatalf("expected PRSent carrying URL, got %+v", r)
	}
}

var errBoom = errSentinel("boom")

type errSentinel string

func (e errSentinel) Error() string { return string(e) }

func TestIsLatestAmongKnown(t *testing.T) {
	siblings := []Version{{1, 0, 0}, {1, 1, 0}, {2, 0, 0}}
	if IsLatestAmongKnown(Version{1, 0, 0}, siblings) {
		t.Fatal("1.0.0 should not be latest among 1.0.0/1.1.0/2.0.0")
	}
	if !IsLatestAmongKnown(Version{2, 0, 0}, siblings) {
		t.Fatal("2.0.0 should be latest among 1.0.0/1.1.0/2.0.0")
	}
}
