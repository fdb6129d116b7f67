// Package assemble implements the Project Assembler (C6, spec §4.6): it
// turns a package version's downloaded archive bytes plus its manifest into
// a self-contained Project ready for the rule engine, resolving the
// manifest's dependencies against whatever else the cache already knows.
package assemble

import (
	"archive/zip"
	"bytes"
	"fmt"
	"path"
	"regexp"
	"sort"
	"strings"

	"github.com/MartinSStewart/elm-review-bot/internal/model"
)

const sourceExtension = ".elm"

// DependencyResolver is the subset of internal/cache.Cache the assembler
// needs: the highest known version of name that satisfies constraint and
// carries usable manifest+docs. Declared here, narrower than the cache's
// full surface, so tests can fake it without a real Cache.
type DependencyResolver interface {
	GetLatestSatisfying(name model.PackageName, constraint model.VersionConstraint) (model.Version, model.PackageManifest, []model.ModuleDoc, bool)
}

// importLine matches an "import Qualified.Name" line, tolerating leading
// whitespace, the textual form spec §4.6 scans for when computing module
// reachability.
var importLine = regexp.MustCompile(`(?m)^[ \t]*import\s+([A-Z][A-Za-z0-9_.]*)`)

// Assemble builds a Project from archiveBytes and manifest.
//
// A non-nil error means the archive could not be opened (the caller wraps
// it into model.CouldNotOpenArchiveOutcome()); a non-nil RunResult is one of
// the two early-termination outcomes spec §4.6 defines
// (NotAnEligiblePackage, MissingDependencies); otherwise the returned
// Project is ready to hand to internal/analyze.
func Assemble(archiveBytes []byte, manifest model.PackageManifest, resolver DependencyResolver) (model.Project, *model.RunResult, error) {
	if !manifest.IsEligible() {
		result := model.NotAnEligiblePackageResult()
		return model.Project{}, &result, nil
	}

	modules, err := readSourceModules(archiveBytes)
	if err != nil {
		return model.Project{}, nil, err
	}

	selected := selectReachableModules(modules, manifest.ExposedModules)

	deps, missing := resolveDependencies(manifest.Dependencies, resolver)
	testDeps, testMissing := resolveDependencies(manifest.TestDependencies, resolver)
	missing = append(missing, testMissing...)
	if len(missing) > 0 {
		result := model.MissingDependenciesResult(dedupeNames(missing))
		return model.Project{}, &result, nil
	}

	project := model.Project{
		Modules:      selected,
		ManifestPath: model.CanonicalManifestPath,
		ManifestText: manifest.RawText,
		Dependencies: append(deps, testDeps...),
	}
	return project, nil, nil
}

// sourceFile is one src/ or tests/ entry extracted from the archive, keyed
// by its fully-qualified Elm module name.
type sourceFile struct {
	module model.SourceModule
	name   string // qualified module name, e.g. "Html.Attributes"
	isTest bool
}

// readSourceModules opens the archive and extracts every entry under
// "<top>/src/..." or "<top>/tests/...", stripping the top-level folder from
// recorded paths (spec §4.6 "Archive traversal").
func readSourceModules(archiveBytes []byte) ([]sourceFile, error) {
	reader, err := zip.NewReader(bytes.NewReader(archiveBytes), int64(len(archiveBytes)))
	if err != nil {
		return nil, fmt.Errorf("assemble: opening archive: %w", err)
	}

	var files []sourceFile
	for _, f := range reader.File {
		if f.FileInfo().IsDir() {
			continue
		}
		folder, rel, ok := stripTopAndFolder(f.Name)
		if !ok || !strings.HasSuffix(rel, sourceExtension) {
			continue
		}

		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("assemble: reading %s: %w", f.Name, err)
		}
		var buf bytes.Buffer
		if _, err := buf.ReadFrom(rc); err != nil {
			_ = rc.Close()
			return nil, fmt.Errorf("assemble: reading %s: %w", f.Name, err)
		}
		_ = rc.Close()

		recordedPath := path.Join(folder, rel)
		files = append(files, sourceFile{
			module: model.SourceModule{Path: recordedPath, Text: buf.String()},
			name:   moduleNameFromRelPath(rel),
			isTest: folder == "tests",
		})
	}
	return files, nil
}

// stripTopAndFolder reports whether name has the form
// "<top>/<folder>/rest" with folder in {src, tests}, returning folder and
// the path under it.
func stripTopAndFolder(name string) (folder, rest string, ok bool) {
	parts := strings.SplitN(name, "/", 3)
	if len(parts) != 3 {
		return "", "", false
	}
	switch parts[1] {
	case "src", "tests":
		return parts[1], parts[2], true
	default:
		return "", "", false
	}
}

// moduleNameFromRelPath turns "Html/Attributes.elm" into "Html.Attributes".
func moduleNameFromRelPath(rel string) string {
	trimmed := strings.TrimSuffix(rel, sourceExtension)
	return strings.ReplaceAll(trimmed, "/", ".")
}

// selectReachableModules returns every test module unconditionally, plus
// every src module transitively imported from exposedModules (spec §4.6
// "Reachable-module selection"), computed as a textual import fixpoint.
func selectReachableModules(files []sourceFile, exposedModules []string) []model.SourceModule {
	byName := make(map[string]sourceFile, len(files))
	for _, f := range files {
		byName[f.name] = f
	}

	reachable := make(map[string]bool, len(exposedModules))
	var frontier []string
	for _, name := range exposedModules {
		if _, exists := byName[name]; exists && !reachable[name] {
			reachable[name] = true
			frontier = append(frontier, name)
		}
	}

	for len(frontier) > 0 {
		name := frontier[len(frontier)-1]
		frontier = frontier[:len(frontier)-1]
		f := byName[name]
		for _, imported := range importLine.FindAllStringSubmatch(f.module.Text, -1) {
			candidate := imported[1]
			if _, exists := byName[candidate]; !exists || reachable[candidate] {
				continue
			}
			reachable[candidate] = true
			frontier = append(frontier, candidate)
		}
	}

	var selected []model.SourceModule
	for _, f := range files {
		if f.isTest || reachable[f.name] {
			selected = append(selected, f.module)
		}
	}
	sort.Slice(selected, func(i, j int) bool { return selected[i].Path < selected[j].Path })
	return selected
}

// resolveDependencies looks up the highest cached version satisfying each
// dependency's constraint, returning the names that could not be resolved.
func resolveDependencies(deps model.Dependencies, resolver DependencyResolver) ([]model.DependencyEntry, []model.PackageName) {
	names := make([]model.PackageName, 0, len(deps))
	for name := range deps {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return names[i].String() < names[j].String() })

	var entries []model.DependencyEntry
	var missing []model.PackageName
	for _, name := range names {
		version, manifest, docs, ok := resolver.GetLatestSatisfying(name, deps[name])
		if !ok {
			missing = append(missing, name)
			continue
		}
		entries = append(entries, model.DependencyEntry{
			Name:     name,
			Version:  version,
			Manifest: manifest,
			Docs:     docs,
		})
	}
	return entries, missing
}

func dedupeNames(names []model.PackageName) []model.PackageName {
	seen := make(map[string]bool, len(names))
	var out []model.PackageName
	for _, n := range names {
		if seen[n.String()] {
			continue
		}
		seen[n.String()] = true
		out = append(out, n)
	}
	return out
}
