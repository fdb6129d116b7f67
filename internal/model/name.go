// Package model holds the data model shared across the pipeline: package
// identity and versions, the manifest and documentation shapes fetched from
// the registry, and the tagged-union records that track a package-version
// through its lifecycle.
package model

import (
	"fmt"
	"strings"

	packageurl "github.com/package-url/packageurl-go"
)

// ReservedPrefix is the owner segment that has no upstream hosting repo to
// open a pull request against; records for it are never analyzed (spec §3).
const ReservedPrefix = "elm"

// PackageName is the (owner, repo) pair the registry stores as a single
// "owner/repo" string but the hosting-platform API requires split.
type PackageName struct {
	Owner string
	Repo  string
}

// ParsePackageName splits a registry-format "owner/repo" string.
func ParsePackageName(s string) (PackageName, error) {
	owner, repo, ok := strings.Cut(s, "/")
	if !ok || owner == "" || repo == "" {
		return PackageName{}, fmt.Errorf("invalid package name %q: want owner/repo", s)
	}
	return PackageName{Owner: owner, Repo: repo}, nil
}

// String renders the registry "owner/repo" form.
func (n PackageName) String() string {
	return n.Owner + "/" + n.Repo
}

// IsReserved reports whether this package belongs to the ecosystem root,
// which is excluded from analysis because it has no upstream hosting repo to
// PR against (spec §3 invariants).
func (n PackageName) IsReserved() bool {
	return n.Owner == ReservedPrefix
}

// PURL returns the canonical "pkg:elm/owner/repo@version" identity string
// used to label broadcast status updates. PR bodies do not carry it.
func (n PackageName) PURL(version Version) string {
	p := packageurl.NewPackageURL("elm", n.Owner, n.Repo, version.String(), nil, "")
	return p.ToString()
}
