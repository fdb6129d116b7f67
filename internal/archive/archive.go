package archive

import (
	"context"
	"errors"
	"io"

	"github.com/MartinSStewart/elm-review-bot/internal/elm"
	"github.com/MartinSStewart/elm-review-bot/internal/model"
)

// Retriever is the Archive Retriever component (spec §4.5): given a
// (name, version), it fetches the source archive at the tag
// "v<major>.<minor>.<patch>" from the hosting platform named by Host.
type Retriever struct {
	cb   *circuitBreakerFetcher
	Host string // hosting-platform domain, e.g. "github.com"
}

// NewRetriever returns a Retriever backed by a fresh Fetcher configured
// with authFn as the hosting-platform Authorization header source (spec §6:
// "Authorization: token <opaque>").
func NewRetriever(host string, authFn func(url string) (headerName, headerValue string)) *Retriever {
	fetcher := NewFetcher(WithAuthFunc(authFn))
	return &Retriever{cb: newCircuitBreakerFetcher(fetcher), Host: host}
}

// Retrieve downloads the archive bytes for (name, version). failure is nil
// on success; otherwise it is exactly model.TagNotFoundOutcome() or
// model.TransportErrorOutcome(err), the two ReviewOutcome variants spec
// §4.5 assigns to this stage. Opening the archive
// (ReviewOutcome.CouldNotOpenArchive) is internal/assemble's
// responsibility, not this package's.
func (r *Retriever) Retrieve(ctx context.Context, name model.PackageName, version model.Version) (body []byte, failure *model.ReviewOutcome) {
	return r.retrieveFromURL(ctx, elm.ArchiveURL(r.Host, name, version))
}

// retrieveFromURL performs the fetch given a fully-built URL, factored out
// of Retrieve so tests can point it at a plain-http test server without
// going through ArchiveURL's fixed "https://" scheme.
func (r *Retriever) retrieveFromURL(ctx context.Context, url string) (body []byte, failure *model.ReviewOutcome) {
	artifact, err := r.cb.Fetch(ctx, url)
	if err != nil {
		if errors.Is(err, ErrTagNotFound) {
			outcome := model.TagNotFoundOutcome()
			return nil, &outcome
		}
		outcome := model.TransportErrorOutcome(err)
		return nil, &outcome
	}
	defer func() { _ = artifact.Body.Close() }()

	body, err = io.ReadAll(artifact.Body)
	if err != nil {
		outcome := model.TransportErrorOutcome(err)
		return nil, &outcome
	}

	return body, nil
}

// BreakerStates exposes the underlying circuit-breaker state per host, for
// the operator console's health surface.
func (r *Retriever) BreakerStates() map[string]string {
	return r.cb.BreakerStates()
}
