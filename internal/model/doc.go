package model

// ModuleDoc is the minimal per-module documentation record (spec §3).
// Free-text comments are stripped on ingest; only names and signatures
// survive, bounding memory for the in-memory cache.
type ModuleDoc struct {
	Name string

	Unions    []string // union type names
	Aliases   []string // type alias names
	Values    []string // top-level value/function names
	Operators []string // binary operator symbols
}
