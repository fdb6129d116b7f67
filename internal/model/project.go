package model

// SourceModule is one analyzable Elm source file inside an assembled
// Project, its path relative to the project root (top-level archive folder
// already stripped per spec §4.6, so paths start with "src/" or "tests/").
type SourceModule struct {
	Path string
	Text string
}

// DependencyEntry is one resolved dependency of an assembled Project: the
// highest cached version satisfying the manifest's constraint, together
// with the metadata the rule engine needs to type-check against it.
type DependencyEntry struct {
	Name     PackageName
	Version  Version
	Manifest PackageManifest
	Docs     []ModuleDoc
}

// Project is the Project Assembler's (C6) output: a self-contained view of
// a package version ready to hand to the rule engine (spec §4.6 "Output").
type Project struct {
	Modules      []SourceModule
	ManifestPath string // always CanonicalManifestPath
	ManifestText string
	Dependencies []DependencyEntry
}
