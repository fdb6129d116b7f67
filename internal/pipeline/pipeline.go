// Package pipeline is the actor-like runtime loop spec §9 calls for: a
// single goroutine makes every cache mutation and every work-scheduling
// decision, and consumes messages — poll results, fetch/analysis
// completions, PR completions, and operator commands — one at a time off a
// channel. Every external I/O call is spawned as a detached goroutine that
// posts its result back as a message. Other goroutines only read the cache
// (Snapshot, and dependency lookups during analysis) through the cache's
// own lock; the connected-session set lives in internal/broadcast.
package pipeline

import (
	"context"
	"time"

	"github.com/charmbracelet/log"

	"github.com/MartinSStewart/elm-review-bot/internal/analyze"
	"github.com/MartinSStewart/elm-review-bot/internal/assemble"
	"github.com/MartinSStewart/elm-review-bot/internal/broadcast"
	"github.com/MartinSStewart/elm-review-bot/internal/cache"
	"github.com/MartinSStewart/elm-review-bot/internal/elm"
	"github.com/MartinSStewart/elm-review-bot/internal/fetchmeta"
	"github.com/MartinSStewart/elm-review-bot/internal/model"
	"github.com/MartinSStewart/elm-review-bot/internal/prorch"
	"github.com/MartinSStewart/elm-review-bot/internal/scheduler"
)

// dispatchPacing is the 200ms delay spec §4.4 inserts before dispatching
// either a metadata fetch or a data-analysis pipeline stage, to avoid
// bursty registry hits.
const dispatchPacing = 200 * time.Millisecond

// Registry is the subset of internal/elm's client the pipeline drives
// directly (the index poll; FetchManifest/FetchDocs are driven through
// fetchmeta.Registry instead).
type Registry interface {
	FetchIndexSince(ctx context.Context, cursor int) ([]elm.IndexEntry, error)
}

// Archiver is the subset of internal/archive.Retriever's surface C5
// dispatch needs, declared here (the consumer) so tests can fake archive
// retrieval without standing up a TLS server for elm.ArchiveURL's fixed
// "https://" scheme.
type Archiver interface {
	Retrieve(ctx context.Context, name model.PackageName, version model.Version) (body []byte, failure *model.ReviewOutcome)
}

// Pipeline owns BackendState (spec §3: cache, clients, updateIndex) and
// the goroutine that serializes every mutation to it.
type Pipeline struct {
	cache       *cache.Cache
	broadcaster *broadcast.Broadcaster
	logger      *log.Logger

	registry     Registry
	metaReg      fetchmeta.Registry
	archiver     Archiver
	ruleEngine   analyze.RuleEngine
	orchestrator *prorch.Orchestrator

	ignoreList map[string]bool
	baseline   int
	cursor     int

	tasks    chan func()
	dataBusy bool // at most one outstanding C3/C5+C6+C7 stage at a time (spec §5)

	// pendingManifests holds the spliced manifest text a FoundErrors
	// analysis produced, keyed by (name, version), so a later
	// PullRequestRequest can replay it into C8 without re-running C7.
	pendingManifests map[versionKey]string
}

// Config bundles the external dependencies and static configuration a
// Pipeline needs at construction time.
type Config struct {
	Registry     Registry
	MetaRegistry fetchmeta.Registry
	Archiver     Archiver
	RuleEngine   analyze.RuleEngine
	Orchestrator *prorch.Orchestrator
	IgnoreList   []string
	Baseline     int
	// Logger receives Debug/Info lines as records change state and operator
	// commands arrive, and Warn lines for poll, metadata-fetch and PR
	// failures; dispatch decisions are not logged. Nil
	// falls back to log.Default(), the same nil-logger convention the
	// teacher's own Runner type uses.
	Logger *log.Logger
}

// New returns a Pipeline ready to Run.
func New(cfg Config) *Pipeline {
	ignore := make(map[string]bool, len(cfg.IgnoreList))
	for _, n := range cfg.IgnoreList {
		ignore[n] = true
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Pipeline{
		cache:            cache.New(),
		broadcaster:      broadcast.New(),
		logger:           logger,
		registry:         cfg.Registry,
		metaReg:          cfg.MetaRegistry,
		archiver:         cfg.Archiver,
		ruleEngine:       cfg.RuleEngine,
		orchestrator:     cfg.Orchestrator,
		ignoreList:       ignore,
		baseline:         cfg.Baseline,
		cursor:           cfg.Baseline,
		tasks:            make(chan func(), 256),
		pendingManifests: make(map[versionKey]string),
	}
}

// Broadcaster exposes the Pipeline's Broadcaster so the operator transport
// can subscribe sessions to it (spec §4.9).
func (p *Pipeline) Broadcaster() *broadcast.Broadcaster { return p.broadcaster }

// Run drives the actor loop until ctx is canceled. It issues the first
// poll immediately, matching C1's "on success... triggers the scheduler"
// bootstrap.
func (p *Pipeline) Run(ctx context.Context) {
	p.enqueue(func() { p.startPoll(ctx) })
	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-p.tasks:
			fn()
		}
	}
}

// enqueue posts a closure onto the task channel. Every state mutation in
// this package happens inside one of these closures, run serially by Run's
// loop — this is the single-writer boundary spec §5 requires.
func (p *Pipeline) enqueue(fn func()) {
	select {
	case p.tasks <- fn:
	default:
		// The queue is sized generously for this process's load; a full
		// queue means Run has stopped draining it (ctx canceled), so drop
		// rather than block a caller that may itself be inside the loop.
	}
}

// --- C1: Registry Index Poller ---------------------------------------

func (p *Pipeline) startPoll(ctx context.Context) {
	cursor := p.cursor
	go func() {
		entries, err := p.registry.FetchIndexSince(ctx, cursor)
		p.enqueue(func() { p.handlePollResult(ctx, entries, err) })
	}()
}

func (p *Pipeline) handlePollResult(ctx context.Context, entries []elm.IndexEntry, err error) {
	if err != nil {
		// Transport/format failures at the poll stage have no record to
		// attach to; the pipeline never aborts on a single failure (spec
		// §7), so simply leave the cursor where it was for the next poll.
		p.logger.Warn("registry index poll failed", "cursor", p.cursor, "err", err)
		return
	}

	for _, e := range entries {
		rec := model.NewPendingRecord(e.Name, e.Version, 0, p.cache.NextUpdateIndex())
		p.cache.InsertIfAbsent(rec)
	}
	p.cursor += len(entries)
	if len(entries) > 0 {
		p.logger.Info("polled registry index", "newEntries", len(entries), "cursor", p.cursor)
	}
	p.dispatchNext(ctx)
}

// --- C4: Work Scheduler -----------------------------------------------

// dispatchNext re-enters scheduler.SelectNext after every mutation that
// might change the work frontier and dispatches whatever it picks.
func (p *Pipeline) dispatchNext(ctx context.Context) {
	if p.dataBusy {
		return
	}

	rec, stage, ok := scheduler.SelectNext(p.cache, p.ignoreList)
	if !ok {
		return
	}

	p.dataBusy = true
	switch stage {
	case scheduler.StageMetaFetch:
		p.pacedDispatch(ctx, func() { p.dispatchMetaFetch(ctx, rec) })
	case scheduler.StageAnalysis:
		p.pacedDispatch(ctx, func() { p.dispatchAnalysis(ctx, rec) })
	}
}

// pacedDispatch inserts the 200ms pacing delay (spec §4.4) before running
// fn, off the loop goroutine so the delay never blocks other messages.
func (p *Pipeline) pacedDispatch(ctx context.Context, fn func()) {
	go func() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(dispatchPacing):
		}
		fn()
	}()
}

// --- C3: Metadata Fetcher -----------------------------------------------

func (p *Pipeline) dispatchMetaFetch(ctx context.Context, rec model.PackageRecord) {
	go func() {
		result := fetchmeta.Fetch(ctx, p.metaReg, rec.Name, rec.Version)
		p.enqueue(func() { p.handleMetaFetched(ctx, rec.Name, rec.Version, result) })
	}()
}

func (p *Pipeline) handleMetaFetched(ctx context.Context, name model.PackageName, version model.Version, result fetchmeta.Result) {
	rec, ok := p.cache.Get(name, version)
	if !ok {
		p.finishDataStage(ctx)
		return
	}

	if result.Err != nil {
		rec = rec.WithFetchMetaFailed(result.Err, p.cache.NextUpdateIndex())
		p.logger.Warn("metadata fetch failed", "name", name, "version", version, "err", result.Err)
	} else {
		rec = rec.WithFetched(result.Manifest, result.Docs, p.cache.NextUpdateIndex())
		p.logger.Debug("metadata fetched", "name", name, "version", version, "updateIndex", rec.UpdateIndex)
	}
	p.cache.UpdateVersionRecord(name, version, rec)
	p.broadcaster.Broadcast(rec)
	p.finishDataStage(ctx)
}

// finishDataStage clears the single-in-flight-data-stage flag and
// re-enters the scheduler (spec §4.4 "Completion... then re-selects").
func (p *Pipeline) finishDataStage(ctx context.Context) {
	p.dataBusy = false
	p.dispatchNext(ctx)
}

// --- C5+C6+C7: Archive retrieval, assembly, and analysis ----------------

func (p *Pipeline) dispatchAnalysis(ctx context.Context, rec model.PackageRecord) {
	go func() {
		outcome, newManifestText := p.runAnalysis(ctx, rec)
		p.enqueue(func() { p.handleAnalyzed(ctx, rec.Name, rec.Version, outcome, newManifestText) })
	}()
}

// runAnalysis performs the C5 -> C6 -> C7 chain outside the actor loop
// (these calls block on network I/O and, in C7's case, run a bounded but
// possibly slow fixpoint loop). newManifestText is only meaningful when
// outcome is a RunResult(FoundErrors), for the PR orchestrator to use
// later without re-deriving it.
func (p *Pipeline) runAnalysis(ctx context.Context, rec model.PackageRecord) (model.ReviewOutcome, string) {
	archiveBytes, failure := p.archiver.Retrieve(ctx, rec.Name, rec.Version)
	if failure != nil {
		return *failure, ""
	}

	project, earlyResult, err := assemble.Assemble(archiveBytes, rec.Fetched.Manifest, p.cache)
	if err != nil {
		return model.CouldNotOpenArchiveOutcome(), ""
	}
	if earlyResult != nil {
		return model.RuleRunOutcome(*earlyResult), ""
	}

	result := analyze.Analyze(ctx, p.ruleEngine, project, archiveBytes, p.cache)
	newManifestText := ""
	if result.Kind == model.RunFoundErrors {
		newManifestText = result.NewManifestText
	}
	return model.RuleRunOutcome(result), newManifestText
}

func (p *Pipeline) handleAnalyzed(ctx context.Context, name model.PackageName, version model.Version, outcome model.ReviewOutcome, newManifestText string) {
	rec, ok := p.cache.Get(name, version)
	if !ok {
		p.finishDataStage(ctx)
		return
	}

	rec = rec.WithChecked(outcome, p.cache.NextUpdateIndex())
	p.cache.UpdateVersionRecord(name, version, rec)
	p.broadcaster.Broadcast(rec)
	p.logger.Info("analysis complete", "name", name, "version", version, "outcome", outcome.Kind, "updateIndex", rec.UpdateIndex)

	if newManifestText != "" {
		p.pendingManifests[versionKey{name, version}] = newManifestText
	}
	p.finishDataStage(ctx)
}

// --- C8: Pull-Request Orchestrator --------------------------------------

// versionKey is a comparable (name, version) pair, used as a map key where
// model.PackageRecord itself would be too heavy to copy repeatedly.
type versionKey struct {
	name    model.PackageName
	version model.Version
}

// RequestPR triggers C8 against name's FoundErrors-bearing record (spec
// §4.8/§4.10 PullRequestRequest), or retries a PRFailed one. Enqueued so
// the transition to PRPending is serialized with every other mutation.
func (p *Pipeline) RequestPR(name model.PackageName) {
	p.enqueue(func() { p.startPR(name) })
}

func (p *Pipeline) startPR(name model.PackageName) {
	rec, ok := p.latestEligibleForPR(name)
	if !ok {
		return
	}

	var foundErrors model.RunResult
	switch rec.State {
	case model.StateFetchedAndChecked:
		foundErrors = *rec.Checked.Outcome.Run
	case model.StatePRFailed:
		foundErrors = rec.PR.FoundErrors
	default:
		return
	}

	rec = rec.WithPRPending(foundErrors, p.cache.NextUpdateIndex())
	p.cache.UpdateVersionRecord(name, rec.Version, rec)
	p.broadcaster.Broadcast(rec)
	p.logger.Info("PR orchestration starting", "name", name, "version", rec.Version)

	manifestText := p.pendingManifests[versionKey{name, rec.Version}]
	if manifestText == "" {
		manifestText = foundErrors.NewManifestText
	}
	testDeps := rec.PR.Manifest.TestDependencies

	go func() {
		result, _ := p.orchestrator.OpenPR(context.Background(), name, rec.Version, manifestText, testDeps, foundErrors)
		p.enqueue(func() { p.handlePRResult(name, rec.Version, result) })
	}()
}

// latestEligibleForPR finds the (name, version) record a PullRequestRequest
// targets: the one FetchedAndChecked(FoundErrors) or PRFailed record for
// name. Since only the latest known version of a package is ever analyzed
// (spec §4.4 step 2), there is at most one such record at a time.
func (p *Pipeline) latestEligibleForPR(name model.PackageName) (model.PackageRecord, bool) {
	var found model.PackageRecord
	var ok bool
	for _, v := range p.cache.KnownVersions(name) {
		rec, exists := p.cache.Get(name, v)
		if !exists {
			continue
		}
		switch rec.State {
		case model.StateFetchedAndChecked:
			if rec.Checked.Outcome.Kind == model.OutcomeRuleRun && rec.Checked.Outcome.Run.Kind == model.RunFoundErrors {
				found, ok = rec, true
			}
		case model.StatePRFailed:
			found, ok = rec, true
		}
	}
	return found, ok
}

func (p *Pipeline) handlePRResult(name model.PackageName, version model.Version, result prorch.Result) {
	rec, ok := p.cache.Get(name, version)
	if !ok {
		return
	}

	if result.Failed() {
		rec = rec.WithPRFailed(result.FailedStage, result.Err, p.cache.NextUpdateIndex())
		p.logger.Warn("PR orchestration failed", "name", name, "version", version, "stage", result.FailedStage, "err", result.Err)
	} else {
		rec = rec.WithPRSent(result.URL, p.cache.NextUpdateIndex())
		p.logger.Info("PR opened", "name", name, "version", version, "url", result.URL)
	}
	p.cache.UpdateVersionRecord(name, version, rec)
	p.broadcaster.Broadcast(rec)
}

// --- C10: Operator Command Handler --------------------------------------

// Snapshot implements operator.Backend.
func (p *Pipeline) Snapshot() []model.PackageRecord { return p.cache.Snapshot() }

// IgnoreList implements operator.Backend.
func (p *Pipeline) IgnoreList() []string {
	out := make([]string, 0, len(p.ignoreList))
	for n := range p.ignoreList {
		out = append(out, n)
	}
	return out
}

// ResetBackend implements operator.Backend: replaces the cache wholesale
// and replays the poll cursor from the configured baseline (spec §4.10
// "reset all state and re-poll").
func (p *Pipeline) ResetBackend() {
	p.enqueue(func() {
		p.logger.Info("backend reset", "baseline", p.baseline)
		p.cache = cache.New()
		p.cursor = p.baseline
		p.dataBusy = false
		p.pendingManifests = make(map[versionKey]string)
		p.startPoll(context.Background())
	})
}

// ResetRules implements operator.Backend: downgrades every analyzed
// record back to Fetched and every fetch-failed record back to Pending
// (spec §3/§4.10), then re-enters the scheduler since Pending/Fetched
// records may now be dispatchable again.
func (p *Pipeline) ResetRules() {
	p.enqueue(func() {
		n := p.cache.ResetRules()
		p.logger.Info("rules reset", "recordsDowngraded", n)
		p.dispatchNext(context.Background())
	})
}

// RerunPackage implements operator.Backend: re-enters analysis for one
// (name, version) directly, independent of the "latest known version"
// scheduling restriction, since this is an explicit operator request
// (spec §4.10 RerunPackageRequest).
func (p *Pipeline) RerunPackage(name model.PackageName, version model.Version) {
	p.enqueue(func() {
		rec, ok := p.cache.Get(name, version)
		if !ok || rec.State != model.StateFetchedAndChecked {
			return
		}
		rec = rec.ResetToFetched(p.cache.NextUpdateIndex())
		p.cache.UpdateVersionRecord(name, version, rec)
		p.broadcaster.Broadcast(rec)
		p.logger.Info("rerun requested", "name", name, "version", version)

		ctx := context.Background()
		go func() {
			outcome, newManifestText := p.runAnalysis(ctx, rec)
			p.enqueue(func() { p.handleAnalyzed(ctx, name, version, outcome, newManifestText) })
		}()
	})
}
