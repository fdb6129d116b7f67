// Package elm implements the registry protocol client for
// package.elm-lang.org: the index poll, manifest fetch, and
// documentation-summary fetch the pipeline's earliest stages need.
package elm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/MartinSStewart/elm-review-bot/internal/core"
	"github.com/MartinSStewart/elm-review-bot/internal/model"
)

// ErrApplicationTyped is returned by FetchManifest when the registry's
// elm.json is an application manifest rather than a library manifest.
// Application-typed packages are excluded from analysis (spec §4.3).
var ErrApplicationTyped = errors.New("elm: manifest is application-typed")

// Registry is a client for the registry protocol at a given base URL
// (ordinarily "https://package.elm-lang.org").
type Registry struct {
	baseURL string
	client  *core.Client
}

// New returns a Registry backed by client. If client is nil, a default
// client is used.
func New(baseURL string, client *core.Client) *Registry {
	if client == nil {
		client = core.DefaultClient()
	}
	return &Registry{baseURL: strings.TrimSuffix(baseURL, "/"), client: client}
}

// IndexEntry is one (name, version) pair reported by the index-since
// endpoint.
type IndexEntry struct {
	Name    model.PackageName
	Version model.Version
}

// FetchIndexSince retrieves every package-version registered since cursor,
// newest first (spec §4.1). The registry itself returns entries oldest
// first; we reverse the decoded list. The whole batch is rejected if any
// entry's version string fails to parse; a malformed name is likewise
// treated as a format error for the batch, since the registry only ever
// emits the "<owner>/<repo>@<major>.<minor>.<patch>" shape.
func (r *Registry) FetchIndexSince(ctx context.Context, cursor int) ([]IndexEntry, error) {
	url := fmt.Sprintf("%s/all-packages/since/%d", r.baseURL, cursor)

	var raw []string
	if err := r.client.GetJSON(ctx, url, &raw); err != nil {
		return nil, fmt.Errorf("elm: fetching index since %d: %w", cursor, err)
	}

	entries := make([]IndexEntry, len(raw))
	for i, s := range raw {
		name, version, err := model.DecodeRegistryEntry(s)
		if err != nil {
			return nil, fmt.Errorf("elm: decoding index since %d: %w", cursor, err)
		}
		entries[i] = IndexEntry{Name: name, Version: version}
	}

	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

// manifestJSON mirrors the on-the-wire shape of elm.json for either a
// library or an application manifest; only the library fields are used.
type manifestJSON struct {
	Type             string            `json:"type"`
	Name             string            `json:"name"`
	Version          string            `json:"version"`
	ElmVersion       string            `json:"elm-version"`
	ExposedModules   json.RawMessage   `json:"exposed-modules"`
	Dependencies     map[string]string `json:"dependencies"`
	TestDependencies map[string]string `json:"test-dependencies"`
}

// FetchManifest retrieves and parses the elm.json for (name, version). It
// returns ErrApplicationTyped if the manifest is application-typed, wrapped
// together with any transport or decode error so that internal/fetchmeta
// can treat every non-nil error identically as a FetchMetaFailed cause
// (spec §4.3: "any other outcome... becomes FetchMetaFailed").
func (r *Registry) FetchManifest(ctx context.Context, name model.PackageName, version model.Version) (model.PackageManifest, error) {
	url := fmt.Sprintf("%s/packages/%s/%s/elm.json", r.baseURL, name.String(), version.String())

	rawText, err := r.client.GetText(ctx, url)
	if err != nil {
		return model.PackageManifest{}, fmt.Errorf("elm: fetching manifest for %s@%s: %w", name, version, err)
	}

	manifest, err := ParseManifestText(rawText)
	if err != nil {
		return model.PackageManifest{}, fmt.Errorf("elm: parsing manifest for %s@%s: %w", name, version, err)
	}
	return manifest, nil
}

// ParseManifestText decodes a library-typed elm.json's exact source text
// into a PackageManifest, independent of any network fetch. internal/elm
// uses it for FetchManifest's initial decode; internal/analyze reuses it to
// re-parse the manifest text after a fix splice, since spec §4.7 step 5
// requires checking that the edited text "still parses as a library-typed
// manifest" without re-fetching anything.
func ParseManifestText(rawText string) (model.PackageManifest, error) {
	var raw manifestJSON
	if err := json.Unmarshal([]byte(rawText), &raw); err != nil {
		return model.PackageManifest{}, fmt.Errorf("decoding manifest: %w", err)
	}

	if raw.Type != "package" {
		return model.PackageManifest{}, ErrApplicationTyped
	}

	name, err := model.ParsePackageName(raw.Name)
	if err != nil {
		return model.PackageManifest{}, fmt.Errorf("decoding name: %w", err)
	}
	version, err := model.ParseVersion(raw.Version)
	if err != nil {
		return model.PackageManifest{}, fmt.Errorf("decoding version: %w", err)
	}

	exposed, err := decodeExposedModules(raw.ExposedModules)
	if err != nil {
		return model.PackageManifest{}, fmt.Errorf("decoding exposed-modules: %w", err)
	}

	deps, err := decodeDependencies(raw.Dependencies)
	if err != nil {
		return model.PackageManifest{}, fmt.Errorf("decoding dependencies: %w", err)
	}
	testDeps, err := decodeDependencies(raw.TestDependencies)
	if err != nil {
		return model.PackageManifest{}, fmt.Errorf("decoding test-dependencies: %w", err)
	}

	elmVersion, err := model.ParseVersionConstraint(raw.ElmVersion)
	if err != nil {
		return model.PackageManifest{}, fmt.Errorf("decoding elm-version: %w", err)
	}

	return model.PackageManifest{
		Name:             name,
		Version:          version,
		ExposedModules:   exposed,
		Dependencies:     deps,
		TestDependencies: testDeps,
		ElmVersion:       elmVersion,
		RawText:          rawText,
	}, nil
}

// decodeExposedModules accepts both manifest forms spec §3 calls out: a
// flat JSON array of module names, or a grouped object mapping a
// human-readable group name to an array of module names. Grouped form is
// flattened, preserving the declared order of groups and, within a group,
// of modules.
func decodeExposedModules(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	var flat []string
	if err := json.Unmarshal(raw, &flat); err == nil {
		return flat, nil
	}

	// The grouped form is a JSON object; decode its values in textual
	// source order isn't recoverable from map iteration, so decode via
	// json.Decoder token-by-token to preserve key order.
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("invalid exposed-modules shape: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("invalid exposed-modules shape")
	}

	var out []string
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		_ = keyTok // group name, unused

		var group []string
		if err := dec.Decode(&group); err != nil {
			return nil, fmt.Errorf("invalid exposed-modules group: %w", err)
		}
		out = append(out, group...)
	}
	return out, nil
}

func decodeDependencies(raw map[string]string) (model.Dependencies, error) {
	if len(raw) == 0 {
		return model.Dependencies{}, nil
	}
	out := make(model.Dependencies, len(raw))
	for nameStr, constraintStr := range raw {
		name, err := model.ParsePackageName(nameStr)
		if err != nil {
			return nil, err
		}
		constraint, err := model.ParseVersionConstraint(constraintStr)
		if err != nil {
			return nil, err
		}
		out[name] = constraint
	}
	return out, nil
}

// docEntryJSON mirrors one element of docs.json.
type docEntryJSON struct {
	Name    string `json:"name"`
	Unions  []struct {
		Name string `json:"name"`
	} `json:"unions"`
	Aliases []struct {
		Name string `json:"name"`
	} `json:"aliases"`
	Values []struct {
		Name string `json:"name"`
	} `json:"values"`
	Binops []struct {
		Name string `json:"name"`
	} `json:"binops"`
}

// FetchDocs retrieves and strips docs.json for (name, version): only names
// survive, never the free-text comment fields (spec §4.3).
func (r *Registry) FetchDocs(ctx context.Context, name model.PackageName, version model.Version) ([]model.ModuleDoc, error) {
	url := fmt.Sprintf("%s/packages/%s/%s/docs.json", r.baseURL, name.String(), version.String())

	var raw []docEntryJSON
	if err := r.client.GetJSON(ctx, url, &raw); err != nil {
		return nil, fmt.Errorf("elm: fetching docs for %s@%s: %w", name, version, err)
	}

	docs := make([]model.ModuleDoc, len(raw))
	for i, m := range raw {
		doc := model.ModuleDoc{Name: m.Name}
		for _, u := range m.Unions {
			doc.Unions = append(doc.Unions, u.Name)
		}
		for _, a := range m.Aliases {
			doc.Aliases = append(doc.Aliases, a.Name)
		}
		for _, v := range m.Values {
			doc.Values = append(doc.Values, v.Name)
		}
		for _, b := range m.Binops {
			doc.Operators = append(doc.Operators, b.Name)
		}
		docs[i] = doc
	}
	return docs, nil
}

// ArchiveURL returns the hosting-platform archive URL for the tag named
// after version, the primary path spec §4.5 calls for (the registry's own
// endpoint.json is an optional alternative we don't use).
func ArchiveURL(host string, name model.PackageName, version model.Version) string {
	return fmt.Sprintf("https://%s/%s/%s/archive/refs/tags/v%s.zip", host, name.Owner, name.Repo, version.String())
}

// ParseCursor parses an operator-provided packageCountOffset baseline
// (spec §4.1/§6 configuration), kept here since it is the one piece of
// configuration intrinsic to the registry protocol rather than the wider
// process configuration in internal/config.
func ParseCursor(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("elm: invalid cursor baseline %q: %w", s, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("elm: cursor baseline must be non-negative, got %d", n)
	}
	return n, nil
}
