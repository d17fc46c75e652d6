package reconciler

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/byte4ever/prbot/gitops/branch"
	"github.com/byte4ever/prbot/gitops/branchname"
	"github.com/byte4ever/prbot/gitops/git"
	"github.com/byte4ever/prbot/gitops/metrics"
	"github.com/byte4ever/prbot/gitops/pullrequest"
	"github.com/byte4ever/prbot/templating"
)

// Options tunes classification and pull request
// creation.
type Options struct {
	// Parallelism bounds how many repositories are
	// classified at once. Zero or one is strictly
	// sequential.
	Parallelism int
	// Scheme names staging branches.
	Scheme branchname.Scheme
	// Engine renders Title and Description.
	Engine templating.Engine
	// Title and Description are pull request
	// templates. Empty values use the defaults.
	Title       string
	Description string
	// Notice receives operator remediation text.
	// Defaults to os.Stderr.
	Notice io.Writer
	// Now defaults to time.Now.
	Now func() time.Time
	// Recorder defaults to metrics.NoOpRecorder.
	Recorder metrics.Recorder
}

// Reconciler classifies repositories and creates the
// pull requests they need, through one provider
// session.
type Reconciler struct {
	branches    *branch.Manager
	pulls       *pullrequest.Manager
	parallelism int
	recorder    metrics.Recorder
}

// New binds a Reconciler to provider.
func New(
	provider git.Provider,
	opts Options,
) (*Reconciler, error) {
	const errCtx = "creating reconciler"

	branches, err := branch.NewManager(branch.Config{
		Provider: provider,
		Scheme:   opts.Scheme,
		Now:      opts.Now,
		Notice:   opts.Notice,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	pulls, err := pullrequest.NewManager(pullrequest.Config{
		Provider:    provider,
		Branches:    branches,
		Engine:      opts.Engine,
		Title:       opts.Title,
		Description: opts.Description,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	parallelism := opts.Parallelism
	if parallelism <= 0 {
		parallelism = 1
	}

	recorder := opts.Recorder
	if recorder == nil {
		recorder = metrics.NoOpRecorder{}
	}

	return &Reconciler{
		branches:    branches,
		pulls:       pulls,
		parallelism: parallelism,
		recorder:    recorder,
	}, nil
}

// Classify evaluates every target over a worker pool
// bounded by Options.Parallelism. Each repository's
// own checks run in order; the aggregated Result
// follows the order of targets. When ctx is cancelled
// the repositories not yet started or still in flight
// are left out and the context error is returned with
// the partial Result.
func (r *Reconciler) Classify(
	ctx context.Context,
	targets []git.RepositoryTarget,
) (Result, error) {
	const errCtx = "classifying repositories"

	per := make([][]Outcome, len(targets))

	var wg sync.WaitGroup

	sem := make(chan struct{}, r.parallelism)

	var cancelled error

	for i, tgt := range targets {
		if err := ctx.Err(); err != nil {
			cancelled = err

			break
		}

		wg.Add(1)
		sem <- struct{}{}

		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			outcomes := r.classifyOne(ctx, tgt)
			if ctx.Err() != nil {
				// interrupted checks read as absent branches
				return
			}

			per[i] = outcomes
		}()
	}

	wg.Wait()

	if cancelled == nil {
		cancelled = ctx.Err()
	}

	var res Result

	for _, outcomes := range per {
		for _, o := range outcomes {
			res.Add(o)
			r.recorder.RecordOutcome(o.Kind.String())
		}
	}

	slog.Info(
		"classified repositories",
		"needs_pr", len(res.NeedsPR),
		"existing_pr", len(res.ExistingPR),
		"no_changes", len(res.NoChanges),
		"missing_branch", len(res.MissingBranch),
	)

	if cancelled != nil {
		return res, fmt.Errorf("%s: %w", errCtx, cancelled)
	}

	return res, nil
}

// classifyOne runs the existence, diff and pull
// request checks of one repository in order.
func (r *Reconciler) classifyOne(
	ctx context.Context,
	tgt git.RepositoryTarget,
) []Outcome {
	repo := tgt.RepositoryID

	srcOK := r.branches.Exists(ctx, repo, tgt.SourceBranch)
	tgtOK := r.branches.Exists(ctx, repo, tgt.TargetBranch)

	if !srcOK || !tgtOK {
		var missing []Outcome

		if !srcOK {
			missing = append(missing, Outcome{
				Kind:       KindMissingBranch,
				Repository: repo,
				Branch:     tgt.SourceBranch,
			})
		}

		if !tgtOK {
			missing = append(missing, Outcome{
				Kind:       KindMissingBranch,
				Repository: repo,
				Branch:     tgt.TargetBranch,
			})
		}

		return missing
	}

	if !r.branches.HasChanges(
		ctx, repo, tgt.SourceBranch, tgt.TargetBranch,
	) {
		return []Outcome{{
			Kind:       KindNoChanges,
			Repository: repo,
		}}
	}

	kind := KindNeedsPR
	if r.pulls.Exists(
		ctx, repo, tgt.SourceBranch, tgt.TargetBranch,
	) {
		kind = KindExistingPR
	}

	return []Outcome{{
		Kind:       kind,
		Repository: repo,
		Source:     tgt.SourceBranch,
		Target:     tgt.TargetBranch,
	}}
}

// CreateAll opens one pull request per NeedsPR
// outcome, sequentially and in order. A failed
// creation is recorded and the loop moves on. Outcomes
// of other kinds are ignored.
func (r *Reconciler) CreateAll(
	ctx context.Context,
	needs []Outcome,
) []Creation {
	creations := make([]Creation, 0, len(needs))

	for _, o := range needs {
		if o.Kind != KindNeedsPR {
			continue
		}

		if ctx.Err() != nil {
			slog.Warn(
				"stopping pull request creation",
				"error", ctx.Err(),
			)

			break
		}

		status := r.pulls.Create(
			ctx, o.Repository, o.Source, o.Target,
		)

		r.recorder.RecordCreation(status.String())

		creations = append(creations, Creation{
			Repository: o.Repository,
			Source:     o.Source,
			Target:     o.Target,
			Status:     status,
		})
	}

	return creations
}
