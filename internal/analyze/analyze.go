// Package analyze implements the Analysis Driver (C7, spec §4.7): it runs
// an external rule engine against a Project to a fixpoint, splicing in any
// manifest-targeted fix the engine reports and re-assembling between
// iterations, until the engine reports no more fixable manifest diagnostics
// or the iteration budget is exhausted.
package analyze

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/MartinSStewart/elm-review-bot/internal/assemble"
	"github.com/MartinSStewart/elm-review-bot/internal/elm"
	"github.com/MartinSStewart/elm-review-bot/internal/model"
)

// maxIterations is the fixpoint loop's initial budget (spec §4.7).
const maxIterations = 10

const (
	ruleParsingError     = "ParsingError"
	ruleIncorrectProject = "Incorrect project"
)

// RuleEngine is the external static-analysis tool the driver runs (spec
// §4.7's "rule engine"). Declared here, the consumer, the same convention
// internal/fetchmeta.Registry follows.
type RuleEngine interface {
	Run(ctx context.Context, project model.Project) ([]model.Diagnostic, error)
}

// Analyze runs engine against project to a fixpoint (spec §4.7's numbered
// steps 1-7). archiveBytes and resolver are threaded through purely so the
// driver can re-assemble the Project itself after splicing each applied
// fix (step 5); internal/assemble, not this package, owns what a Project
// means.
func Analyze(ctx context.Context, engine RuleEngine, project model.Project, archiveBytes []byte, resolver assemble.DependencyResolver) model.RunResult {
	oldManifestText := project.ManifestText
	newManifestText := project.ManifestText
	var applied []model.Diagnostic

	for budget := maxIterations; budget > 0; budget-- {
		diagnostics, err := engine.Run(ctx, project)
		if err != nil {
			return model.ParsingErrorResult([]string{err.Error()})
		}

		if messages := messagesForRule(diagnostics, ruleParsingError); len(messages) > 0 {
			return model.ParsingErrorResult(messages)
		}
		if hasRule(diagnostics, ruleIncorrectProject) {
			return model.IncorrectProjectResult()
		}

		fixDiag, found := firstManifestFix(diagnostics, project.ManifestPath)
		if !found {
			if len(applied) == 0 {
				return model.NoErrorsResult()
			}
			return model.FoundErrorsResult(applied, oldManifestText, newManifestText)
		}

		splicedText, failure := applyFix(project.ManifestText, fixDiag.Fix)
		if failure != nil {
			return *failure
		}

		newManifest, err := elm.ParseManifestText(splicedText)
		if err != nil {
			return model.FixFailedResult(model.FixSourceCodeInvalid, "manifest is now application-typed")
		}

		reassembled, earlyResult, err := assemble.Assemble(archiveBytes, newManifest, resolver)
		if err != nil {
			return model.FixFailedResult(model.FixSourceCodeInvalid, fmt.Sprintf("re-assembling project: %v", err))
		}
		if earlyResult != nil {
			return *earlyResult
		}

		project = reassembled
		newManifestText = splicedText
		applied = append(applied, fixDiag)
	}

	return model.NotEnoughIterationsResult()
}

func messagesForRule(diagnostics []model.Diagnostic, rule string) []string {
	var messages []string
	for _, d := range diagnostics {
		if d.Rule == rule {
			messages = append(messages, d.Message)
		}
	}
	return messages
}

func hasRule(diagnostics []model.Diagnostic, rule string) bool {
	for _, d := range diagnostics {
		if d.Rule == rule {
			return true
		}
	}
	return false
}

// firstManifestFix returns the first diagnostic targeting manifestPath that
// carries a Fix, in the engine's reported order (spec §4.7 step 4).
func firstManifestFix(diagnostics []model.Diagnostic, manifestPath string) (model.Diagnostic, bool) {
	for _, d := range diagnostics {
		if d.Path == manifestPath && d.Fix != nil {
			return d, true
		}
	}
	return model.Diagnostic{}, false
}

// applyFix splices fix's edits into text. A non-nil RunResult return is
// already the FixFailed result the driver should terminate with; a nil one
// means newText is the successfully-spliced manifest.
func applyFix(text string, fix *model.Fix) (newText string, failure *model.RunResult) {
	if fix == nil || len(fix.Edits) == 0 {
		result := model.FixFailedResult(model.FixUnchanged, "")
		return text, &result
	}

	runes := []rune(text)
	lineStarts := computeLineStarts(runes)

	type resolvedEdit struct {
		start, end  int
		replacement string
	}
	edits := make([]resolvedEdit, 0, len(fix.Edits))
	for _, e := range fix.Edits {
		start, ok := resolveOffset(lineStarts, len(runes), e.Range.StartRow, e.Range.StartCol)
		if !ok {
			result := model.FixFailedResult(model.FixSourceCodeInvalid, fmt.Sprintf("invalid fix start %+v", e.Range))
			return text, &result
		}
		end, ok := resolveOffset(lineStarts, len(runes), e.Range.EndRow, e.Range.EndCol)
		if !ok || end < start {
			result := model.FixFailedResult(model.FixSourceCodeInvalid, fmt.Sprintf("invalid fix end %+v", e.Range))
			return text, &result
		}
		edits = append(edits, resolvedEdit{start: start, end: end, replacement: e.Replacement})
	}

	sort.Slice(edits, func(i, j int) bool { return edits[i].start < edits[j].start })
	for i := 1; i < len(edits); i++ {
		if edits[i].start < edits[i-1].end {
			result := model.FixFailedResult(model.FixOverlappingFixRanges, "")
			return text, &result
		}
	}

	var b strings.Builder
	prev := 0
	for _, e := range edits {
		b.WriteString(string(runes[prev:e.start]))
		b.WriteString(e.replacement)
		prev = e.end
	}
	b.WriteString(string(runes[prev:]))

	spliced := b.String()
	if spliced == text {
		result := model.FixFailedResult(model.FixUnchanged, "")
		return text, &result
	}
	return spliced, nil
}

// computeLineStarts returns, for each 1-indexed line number n, the rune
// offset of that line's first rune, at index n-1.
func computeLineStarts(runes []rune) []int {
	starts := []int{0}
	for i, r := range runes {
		if r == '\n' {
			starts = append(starts, i+1)
		}
	}
	return starts
}

// resolveOffset converts a 1-indexed (row, col) pair from a SourceRange
// into an absolute rune offset into the text lineStarts was built from.
func resolveOffset(lineStarts []int, totalLen, row, col int) (int, bool) {
	if row < 1 || row > len(lineStarts) || col < 1 {
		return 0, false
	}
	offset := lineStarts[row-1] + (col - 1)
	if offset < 0 || offset > totalLen {
		return 0, false
	}
	return offset, true
}
