package model

import "strings"

// ReviewOutcomeKind discriminates the ReviewOutcome tagged union (spec §3).
type ReviewOutcomeKind string

const (
	OutcomeCouldNotOpenArchive ReviewOutcomeKind = "could_not_open_archive"
	OutcomeTagNotFound         ReviewOutcomeKind = "tag_not_found"
	OutcomeTransportError      ReviewOutcomeKind = "transport_error"
	OutcomeRuleRun             ReviewOutcomeKind = "rule_run"
)

// ReviewOutcome is the result of attempting to review one package-version:
// either the archive/tag step failed, or the rule ran and produced a
// RunResult. Composition, not inheritance: exactly one payload field is set,
// selected by Kind.
type ReviewOutcome struct {
	Kind           ReviewOutcomeKind
	TransportError error      // set iff Kind == OutcomeTransportError
	Run            *RunResult // set iff Kind == OutcomeRuleRun
}

func CouldNotOpenArchiveOutcome() ReviewOutcome {
	return ReviewOutcome{Kind: OutcomeCouldNotOpenArchive}
}

func TagNotFoundOutcome() ReviewOutcome {
	return ReviewOutcome{Kind: OutcomeTagNotFound}
}

func TransportErrorOutcome(err error) ReviewOutcome {
	return ReviewOutcome{Kind: OutcomeTransportError, TransportError: err}
}

func RuleRunOutcome(r RunResult) ReviewOutcome {
	return ReviewOutcome{Kind: OutcomeRuleRun, Run: &r}
}

// RunResultKind discriminates the RunResult tagged union (spec §3).
type RunResultKind string

const (
	RunParsingError         RunResultKind = "parsing_error"
	RunIncorrectProject     RunResultKind = "incorrect_project"
	RunFixFailed            RunResultKind = "fix_failed"
	RunNotEnoughIterations  RunResultKind = "not_enough_iterations"
	RunNotAnEligiblePackage RunResultKind = "not_an_eligible_package"
	RunMissingDependencies  RunResultKind = "missing_dependencies"
	RunFoundErrors          RunResultKind = "found_errors"
	RunNoErrors             RunResultKind = "no_errors"
)

// FixFailedReason discriminates why applying a fix failed (spec §3).
type FixFailedReason string

const (
	FixUnchanged            FixFailedReason = "unchanged"
	FixSourceCodeInvalid    FixFailedReason = "source_code_invalid"
	FixOverlappingFixRanges FixFailedReason = "overlapping_fix_ranges"
)

// RunResult is the outcome of running the rule to fixpoint against a
// Project (spec §3). Exactly the fields relevant to Kind are populated.
type RunResult struct {
	Kind RunResultKind

	ParsingMessages []string // RunParsingError: nonempty

	FixFailedReason  FixFailedReason // RunFixFailed
	FixFailedMessage string          // RunFixFailed + FixSourceCodeInvalid

	MissingDependencies []PackageName // RunMissingDependencies: nonempty

	Errors         []Diagnostic // RunFoundErrors: nonempty, in application order
	OldManifestText string      // RunFoundErrors
	NewManifestText string      // RunFoundErrors
}

func ParsingErrorResult(messages []string) RunResult {
	return RunResult{Kind: RunParsingError, ParsingMessages: messages}
}

func IncorrectProjectResult() RunResult {
	return RunResult{Kind: RunIncorrectProject}
}

func FixFailedResult(reason FixFailedReason, message string) RunResult {
	return RunResult{Kind: RunFixFailed, FixFailedReason: reason, FixFailedMessage: message}
}

func NotEnoughIterationsResult() RunResult {
	return RunResult{Kind: RunNotEnoughIterations}
}

func NotAnEligiblePackageResult() RunResult {
	return RunResult{Kind: RunNotAnEligiblePackage}
}

func MissingDependenciesResult(names []PackageName) RunResult {
	return RunResult{Kind: RunMissingDependencies, MissingDependencies: names}
}

func FoundErrorsResult(errors []Diagnostic, oldText, newText string) RunResult {
	return RunResult{Kind: RunFoundErrors, Errors: errors, OldManifestText: oldText, NewManifestText: newText}
}

func NoErrorsResult() RunResult {
	return RunResult{Kind: RunNoErrors}
}

// AllTestOnly reports whether every error in a FoundErrors result concerns a
// dependency that only appears in the manifest's test-dependencies section.
// Used by internal/prorch to select the PR body's release-publishing
// sentence (spec §4.8).
func (r RunResult) AllTestOnly(testDeps Dependencies) bool {
	if r.Kind != RunFoundErrors || len(r.Errors) == 0 {
		return false
	}
	for _, d := range r.Errors {
		if !mentionsOnlyTestDependency(d, testDeps) {
			return false
		}
	}
	return true
}

func mentionsOnlyTestDependency(d Diagnostic, testDeps Dependencies) bool {
	for name := range testDeps {
		if strings.Contains(d.Message, name.String()) {
			return true
		}
	}
	return false
}
