package model

// SourceRange is a half-open (row, col) span within a source file, as
// produced by the rule engine.
type SourceRange struct {
	StartRow, StartCol int
	EndRow, EndCol     int
}

// Diagnostic is a single finding from the rule engine (spec §3).
type Diagnostic struct {
	Message string
	Rule    string
	Path    string
	Details []string
	Range   SourceRange

	// Fix is the textual rewrite this diagnostic carries, if any. Only
	// diagnostics whose Path is the canonical manifest path and which carry
	// a Fix participate in the analysis driver's iterative loop (spec §4.7).
	Fix *Fix
}

// Fix is a localized textual rewrite produced as part of a diagnostic.
// Edits apply to disjoint, non-overlapping ranges of the target file.
type Fix struct {
	Edits []FixEdit
}

// FixEdit splices Replacement into the half-open range [Range.Start,
// Range.End) of the target text.
type FixEdit struct {
	Range       SourceRange
	Replacement string
}
