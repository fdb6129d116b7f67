package engine

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/MartinSStewart/elm-review-bot/internal/model"
)

// fakeBinary writes a tiny shell/batch script that ignores its arguments
// and prints a fixed report, standing in for a real rule-engine binary.
func fakeBinary(t *testing.T, stdout string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake binary script is POSIX-shell only")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "fake-engine.sh")
	script := "#!/bin/sh\ncat <<'EOF'\n" + stdout + "\nEOF\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("writing fake binary: %v", err)
	}
	return path
}

func TestRun_DecodesDiagnostics(t *testing.T) {
	report := `{"diagnostics":[{"message":"unused import","rule":"NoUnused.Variables","path":"src/A.elm","range":{"StartRow":1,"StartCol":1,"EndRow":1,"EndCol":10}}]}`
	bin := fakeBinary(t, report)

	e := New(bin)
	project := model.Project{
		Modules:      []model.SourceModule{{Path: "src/A.elm", Text: "module A exposing (..)"}},
		ManifestPath: "elm.json",
		ManifestText: "{}",
	}
	diags, err := e.Run(context.Background(), project)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(diags) != 1 || diags[0].Rule != "NoUnused.Variables" {
		t.Fatalf("unexpected diagnostics %+v", diags)
	}
}

func TestRun_DecodesFix(t *testing.T) {
	report := `{"diagnostics":[{"message":"bump version","rule":"NoMissingPackage","path":"elm.json","range":{},"fix":{"edits":[{"range":{},"replacement":"1.1.0"}]}}]}`
	bin := fakeBinary(t, report)

	e := New(bin)
	project := model.Project{ManifestPath: "elm.json", ManifestText: "{}"}
	diags, err := e.Run(context.Background(), project)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(diags) != 1 || diags[0].Fix == nil || len(diags[0].Fix.Edits) != 1 {
		t.Fatalf("unexpected diagnostics %+v", diags)
	}
	if diags[0].Fix.Edits[0].Replacement != "1.1.0" {
		t.Fatalf("unexpected replacement %q", diags[0].Fix.Edits[0].Replacement)
	}
}

func TestRun_SubprocessFailureIsReported(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "failing.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\nexit 1\n"), 0o755); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}
	if runtime.GOOS == "windows" {
		t.Skip("fake binary script is POSIX-shell only")
	}

	e := New(path)
	_, err := e.Run(context.Background(), model.Project{ManifestPath: "elm.json"})
	if err == nil {
		t.Fatalf("expected an error from a failing subprocess")
	}
}
