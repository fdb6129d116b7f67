package model

import (
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// Version is three non-negative integers with lexicographic ordering
// (spec §3). Elm versions carry no pre-release or build metadata, so this
// wraps Masterminds/semver/v3 purely for its comparison logic.
type Version struct {
	Major, Minor, Patch uint64
}

// ParseVersion parses a "major.minor.patch" string.
func ParseVersion(s string) (Version, error) {
	sv, err := semver.StrictNewVersion(s)
	if err != nil {
		return Version{}, fmt.Errorf("parsing version %q: %w", s, err)
	}
	return Version{Major: sv.Major(), Minor: sv.Minor(), Patch: sv.Patch()}, nil
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

func (v Version) semver() *semver.Version {
	return semver.New(v.Major, v.Minor, v.Patch, "", "")
}

// Compare returns -1, 0, or 1 as v is less than, equal to, or greater than o.
func (v Version) Compare(o Version) int {
	return v.semver().Compare(o.semver())
}

// Less reports whether v orders strictly before o.
func (v Version) Less(o Version) bool {
	return v.Compare(o) < 0
}

// VersionConstraint is a bounded range over Version, "low <= v < high" in the
// Elm manifest syntax, exposed only as a Satisfies predicate (spec §3).
type VersionConstraint struct {
	Low      Version
	High     Version
	LowIncl  bool
	HighIncl bool
}

// Satisfies reports whether v falls within the constraint's bounds.
func (c VersionConstraint) Satisfies(v Version) bool {
	lowOK := v.Compare(c.Low) > 0 || (c.LowIncl && v.Compare(c.Low) == 0)
	highOK := v.Compare(c.High) < 0 || (c.HighIncl && v.Compare(c.High) == 0)
	return lowOK && highOK
}

func (c VersionConstraint) String() string {
	lowOp := "<"
	if c.LowIncl {
		lowOp = "<="
	}
	highOp := "<"
	if c.HighIncl {
		highOp = "<="
	}
	return fmt.Sprintf("%s %s v %s %s", c.Low, lowOp, highOp, c.High)
}

// ParseVersionConstraint parses the Elm manifest range syntax, e.g.
// "1.0.0 <= v < 2.0.0".
func ParseVersionConstraint(s string) (VersionConstraint, error) {
	fields := strings.Fields(s)
	if len(fields) != 5 || fields[2] != "v" {
		return VersionConstraint{}, fmt.Errorf("invalid version constraint %q", s)
	}

	low, err := ParseVersion(fields[0])
	if err != nil {
		return VersionConstraint{}, fmt.Errorf("invalid version constraint %q: %w", s, err)
	}
	high, err := ParseVersion(fields[4])
	if err != nil {
		return VersionConstraint{}, fmt.Errorf("invalid version constraint %q: %w", s, err)
	}

	lowIncl, err := parseRangeOp(fields[1])
	if err != nil {
		return VersionConstraint{}, fmt.Errorf("invalid version constraint %q: %w", s, err)
	}
	highIncl, err := parseRangeOp(fields[3])
	if err != nil {
		return VersionConstraint{}, fmt.Errorf("invalid version constraint %q: %w", s, err)
	}

	return VersionConstraint{Low: low, High: high, LowIncl: lowIncl, HighIncl: highIncl}, nil
}

func parseRangeOp(op string) (inclusive bool, err error) {
	switch op {
	case "<=":
		return true, nil
	case "<":
		return false, nil
	default:
		return false, fmt.Errorf("unsupported operator %q", op)
	}
}

// DecodeRegistryEntry splits a registry index entry shaped
// "<owner>/<repo>@<major>.<minor>.<patch>" (spec §4.1), used by internal/elm
// to decode the "since/<cursor>" index response.
func DecodeRegistryEntry(s string) (PackageName, Version, error) {
	nameStr, versionStr, ok := strings.Cut(s, "@")
	if !ok {
		return PackageName{}, Version{}, fmt.Errorf("malformed registry entry %q: missing '@'", s)
	}
	name, err := ParsePackageName(nameStr)
	if err != nil {
		return PackageName{}, Version{}, fmt.Errorf("malformed registry entry %q: %w", s, err)
	}
	version, err := ParseVersion(versionStr)
	if err != nil {
		return PackageName{}, Version{}, fmt.Errorf("malformed registry entry %q: %w", s, err)
	}
	return name, version, nil
}
