// Package prorch implements the Pull-Request Orchestrator (C8, spec
// §4.8): the eight-step fork/commit/PR sequence against the hosting
// platform's GitHub-shaped API, triggered by an operator's
// PullRequestRequest against a FoundErrors-bearing record.
package prorch

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/go-github/v66/github"
	"golang.org/x/oauth2"

	"github.com/MartinSStewart/elm-review-bot/internal/model"
)

const (
	commitMessage = "Remove unused dependencies"
	prTitle       = "Remove unused dependencies"
)

// GuardMode controls how OpenPR reacts to the default-branch-head-vs-tag-SHA
// guard spec §4.8 computes but, per §9's open question, does not say
// whether to enforce. Exposed as a config toggle rather than guessed.
type GuardMode int

const (
	// GuardAnnotateOnly computes the guard result but always proceeds with
	// the PR sequence regardless of the outcome (spec §4.8's own default:
	// "the outcome is not degraded... this equivalence is used by the UI
	// layer for labeling").
	GuardAnnotateOnly GuardMode = iota
	// GuardAbortOnMismatch fails the orchestration at the guard step if the
	// default branch's head SHA does not match the release tag's SHA.
	GuardAbortOnMismatch
)

// Orchestrator drives OpenPR against one hosting-platform account.
type Orchestrator struct {
	client    *github.Client
	guardMode GuardMode
}

// New returns an Orchestrator authenticated with token (spec §6:
// "Authorization: token <opaque>" via this process's bot identity).
func New(token string, guardMode GuardMode) *Orchestrator {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	client := github.NewClient(oauth2.NewClient(context.Background(), ts))
	return &Orchestrator{client: client, guardMode: guardMode}
}

// Result is the outcome of one OpenPR attempt. A non-empty FailedStage
// means the sequence failed at that stage, matching the
// PRFailed(stageLabel, transportError) shape spec §4.8/§7 define; the
// caller is responsible for preserving the FoundErrors payload that was
// already on the record for a retry.
type Result struct {
	URL         string
	FailedStage string
	Err         error
}

// Failed reports whether the orchestration did not reach PRSent.
func (r Result) Failed() bool { return r.Err != nil }

// GuardMismatch reports whether the default-branch-head-vs-tag-SHA guard
// found a mismatch, for UI labeling regardless of GuardMode (spec §4.8
// guard / §9 open question). Always false when the guard could not run.
type GuardMismatch struct {
	Checked  bool
	Mismatch bool
}

// OpenPR executes the eight-step sequence (spec §4.8) for name@version,
// replacing the canonical manifest blob with newManifestText. body is
// templated from result and testDeps via PRBody.
func (o *Orchestrator) OpenPR(ctx context.Context, name model.PackageName, version model.Version, newManifestText string, testDeps model.Dependencies, result model.RunResult) (Result, GuardMismatch) {
	owner, repo := name.Owner, name.Repo

	// 1. Resolve the upstream default branch.
	repoInfo, _, err := o.client.Repositories.Get(ctx, owner, repo)
	if err != nil {
		return Result{FailedStage: "resolveDefaultBranch", Err: err}, GuardMismatch{}
	}
	defaultBranch := repoInfo.GetDefaultBranch()

	guard := o.checkGuard(ctx, owner, repo, defaultBranch, version)
	if o.guardMode == GuardAbortOnMismatch && guard.Checked && guard.Mismatch {
		return Result{FailedStage: "checkTagGuard", Err: fmt.Errorf("default branch head does not match tag v%s", version)}, guard
	}

	// 2. Fork the upstream repository under the bot's identity.
	fork, _, err := o.client.Repositories.CreateFork(ctx, owner, repo, nil)
	if err != nil {
		return Result{FailedStage: "forkRepository", Err: err}, guard
	}
	forkOwner, forkRepo := fork.GetOwner().GetLogin(), fork.GetName()

	// 3. Read the fork's default-branch head commit SHA.
	headRef, _, err := o.client.Git.GetRef(ctx, forkOwner, forkRepo, "refs/heads/"+defaultBranch)
	if err != nil {
		return Result{FailedStage: "readForkHead", Err: err}, guard
	}
	headSHA := headRef.GetObject().GetSHA()

	// 4. Read that commit's tree SHA.
	headCommit, _, err := o.client.Git.GetCommit(ctx, forkOwner, forkRepo, headSHA)
	if err != nil {
		return Result{FailedStage: "readHeadTree", Err: err}, guard
	}
	treeSHA := headCommit.GetTree().GetSHA()

	// 5. Create a new tree with the manifest blob replaced.
	newTree, _, err := o.client.Git.CreateTree(ctx, forkOwner, forkRepo, treeSHA, []*github.TreeEntry{
		{
			Path:    github.Ptr(model.CanonicalManifestPath),
			Mode:    github.Ptr("100644"),
			Type:    github.Ptr("blob"),
			Content: github.Ptr(newManifestText),
		},
	})
	if err != nil {
		return Result{FailedStage: "createTree", Err: err}, guard
	}

	// 6. Create a commit parented at the default-branch head.
	commit, _, err := o.client.Git.CreateCommit(ctx, forkOwner, forkRepo, &github.Commit{
		Message: github.Ptr(commitMessage),
		Tree:    newTree,
		Parents: []*github.Commit{{SHA: github.Ptr(headSHA)}},
	}, nil)
	if err != nil {
		return Result{FailedStage: "createCommit", Err: err}, guard
	}

	// 7. Update the fork's default branch, non-forced.
	if _, _, err := o.client.Git.UpdateRef(ctx, forkOwner, forkRepo, &github.Reference{
		Ref:    github.Ptr("refs/heads/" + defaultBranch),
		Object: &github.GitObject{SHA: commit.SHA},
	}, false); err != nil {
		return Result{FailedStage: "updateBranch", Err: err}, guard
	}

	// 8. Open the cross-owner pull request.
	pr, _, err := o.client.PullRequests.Create(ctx, owner, repo, &github.NewPullRequest{
		Title: github.Ptr(prTitle),
		Head:  github.Ptr(forkOwner + ":" + defaultBranch),
		Base:  github.Ptr(defaultBranch),
		Body:  github.Ptr(PRBody(result, testDeps)),
	})
	if err != nil {
		return Result{FailedStage: "openPullRequest", Err: err}, guard
	}

	return Result{URL: pr.GetHTMLURL()}, guard
}

// checkGuard compares the default branch's head SHA against the tag named
// after version (spec §4.8 guard). A lookup failure leaves Checked false
// rather than failing the whole orchestration — the guard is advisory.
func (o *Orchestrator) checkGuard(ctx context.Context, owner, repo, defaultBranch string, version model.Version) GuardMismatch {
	branchRef, _, err := o.client.Git.GetRef(ctx, owner, repo, "refs/heads/"+defaultBranch)
	if err != nil {
		return GuardMismatch{}
	}
	tagRef, _, err := o.client.Git.GetRef(ctx, owner, repo, "refs/tags/v"+version.String())
	if err != nil {
		return GuardMismatch{}
	}
	return GuardMismatch{
		Checked:  true,
		Mismatch: branchRef.GetObject().GetSHA() != tagRef.GetObject().GetSHA(),
	}
}

// PRBody templates the pull request body from the FoundErrors result that
// triggered the PR (spec §4.8: parameterized by error count and whether
// every error concerns a test-only dependency).
func PRBody(result model.RunResult, testDeps model.Dependencies) string {
	var b strings.Builder
	if len(result.Errors) == 1 {
		b.WriteString("elm-review found 1 unused dependency and this pull request removes it.\n\n")
	} else {
		fmt.Fprintf(&b, "elm-review found %d unused dependencies and this pull request removes them.\n\n", len(result.Errors))
	}
	for _, d := range result.Errors {
		fmt.Fprintf(&b, "- %s\n", d.Message)
	}
	if result.AllTestOnly(testDeps) {
		b.WriteString("\nEvery removed dependency is test-only, so no new release needs to be published before merging.\n")
	} else {
		b.WriteString("\nAt least one removed dependency is used outside of tests; consider publishing a new release once this merges.\n")
	}
	return b.String()
}
