// Package engine adapts an external rule-engine executable to
// internal/analyze.RuleEngine. The engine's own internals — what rules it
// runs, how it type-checks Elm source — are explicitly out of scope (spec
// §1 non-goals: "we specify only the contract it must satisfy"); this
// package only knows how to lay a Project out on disk, invoke the
// configured binary, and decode whatever diagnostics it reports back.
package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/MartinSStewart/elm-review-bot/internal/model"
)

// Exec runs a rule-engine binary as a subprocess per invocation.
type Exec struct {
	// BinaryPath is the executable to invoke (e.g. an elm-review build).
	BinaryPath string
	// Args are extra arguments appended after the project directory.
	Args []string
}

// New returns an Exec adapter for binaryPath.
func New(binaryPath string, args ...string) *Exec {
	return &Exec{BinaryPath: binaryPath, Args: args}
}

// report is the JSON shape this adapter expects on the subprocess's
// stdout: one entry per finding, matching model.Diagnostic field-for-field
// so decoding needs no translation layer.
type report struct {
	Diagnostics []reportDiagnostic `json:"diagnostics"`
}

type reportDiagnostic struct {
	Message string      `json:"message"`
	Rule    string      `json:"rule"`
	Path    string      `json:"path"`
	Details []string    `json:"details"`
	Range   reportRange `json:"range"`
	Fix     *reportFix  `json:"fix,omitempty"`
}

type reportRange struct {
	StartRow, StartCol int
	EndRow, EndCol     int
}

type reportFix struct {
	Edits []reportEdit `json:"edits"`
}

type reportEdit struct {
	Range       reportRange `json:"range"`
	Replacement string      `json:"replacement"`
}

// Run materializes project under a temporary directory, invokes the
// configured binary against it, and decodes its stdout into diagnostics
// (spec §4.7 step 1: "the engine returns { diagnostics, projectData }" —
// projectData is the engine's own internal cache and is not part of this
// contract).
func (e *Exec) Run(ctx context.Context, project model.Project) ([]model.Diagnostic, error) {
	dir, err := os.MkdirTemp("", "elm-review-bot-project-*")
	if err != nil {
		return nil, fmt.Errorf("engine: creating project directory: %w", err)
	}
	defer os.RemoveAll(dir)

	if err := writeProject(dir, project); err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, e.BinaryPath, append([]string{dir}, e.Args...)...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("engine: %s: %w: %s", e.BinaryPath, err, stderr.String())
	}

	var rep report
	if err := json.Unmarshal(stdout.Bytes(), &rep); err != nil {
		return nil, fmt.Errorf("engine: decoding report: %w", err)
	}
	return toDiagnostics(rep), nil
}

func writeProject(dir string, project model.Project) error {
	manifestPath := filepath.Join(dir, project.ManifestPath)
	if err := os.MkdirAll(filepath.Dir(manifestPath), 0o755); err != nil {
		return fmt.Errorf("engine: creating manifest directory: %w", err)
	}
	if err := os.WriteFile(manifestPath, []byte(project.ManifestText), 0o644); err != nil {
		return fmt.Errorf("engine: writing manifest: %w", err)
	}

	for _, mod := range project.Modules {
		path := filepath.Join(dir, mod.Path)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("engine: creating module directory for %s: %w", mod.Path, err)
		}
		if err := os.WriteFile(path, []byte(mod.Text), 0o644); err != nil {
			return fmt.Errorf("engine: writing module %s: %w", mod.Path, err)
		}
	}
	return nil
}

func toDiagnostics(rep report) []model.Diagnostic {
	out := make([]model.Diagnostic, 0, len(rep.Diagnostics))
	for _, d := range rep.Diagnostics {
		diag := model.Diagnostic{
			Message: d.Message,
			Rule:    d.Rule,
			Path:    d.Path,
			Details: d.Details,
			Range:   model.SourceRange(d.Range),
		}
		if d.Fix != nil {
			fix := &model.Fix{Edits: make([]model.FixEdit, len(d.Fix.Edits))}
			for i, e := range d.Fix.Edits {
				fix.Edits[i] = model.FixEdit{Range: model.SourceRange(e.Range), Replacement: e.Replacement}
			}
			diag.Fix = fix
		}
		out = append(out, diag)
	}
	return out
}
