// Package fetchmeta implements the Metadata Fetcher (spec §4.3): given a
// (name, version), retrieve the manifest and documentation summary and
// decide whether the pair is usable.
package fetchmeta

import (
	"context"
	"fmt"

	"github.com/MartinSStewart/elm-review-bot/internal/model"
)

// Registry is the subset of internal/elm's client this package depends on,
// declared here (the consumer) rather than there, so tests can substitute a
// fake without standing up an HTTP server.
type Registry interface {
	FetchManifest(ctx context.Context, name model.PackageName, version model.Version) (model.PackageManifest, error)
	FetchDocs(ctx context.Context, name model.PackageName, version model.Version) ([]model.ModuleDoc, error)
}

// Result is the outcome of a metadata fetch: either both calls succeeded
// and the manifest is library-typed (Err is nil), or any other outcome
// occurred and Err names it (spec §4.3).
type Result struct {
	Manifest model.PackageManifest
	Docs     []model.ModuleDoc
	Err      error
}

// Fetch performs the manifest and docs calls for (name, version) and
// applies the success predicate from spec §4.3: both payloads must parse
// and the manifest must be library-typed. Any other outcome — transport
// failure, malformed JSON, application-typed manifest — is reported via
// Result.Err, with no further distinction; the caller (the pipeline's
// actor loop) records the record as FetchMetaFailed using that error
// verbatim.
func Fetch(ctx context.Context, reg Registry, name model.PackageName, version model.Version) Result {
	manifest, err := reg.FetchManifest(ctx, name, version)
	if err != nil {
		return Result{Err: fmt.Errorf("fetchmeta: manifest for %s@%s: %w", name, version, err)}
	}

	docs, err := reg.FetchDocs(ctx, name, version)
	if err != nil {
		return Result{Err: fmt.Errorf("fetchmeta: docs for %s@%s: %w", name, version, err)}
	}

	return Result{Manifest: manifest, Docs: docs}
}
