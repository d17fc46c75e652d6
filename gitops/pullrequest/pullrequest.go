package pullrequest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/byte4ever/prbot/gitops/branch"
	"github.com/byte4ever/prbot/gitops/git"
	"github.com/byte4ever/prbot/gitops/prmarker"
	"github.com/byte4ever/prbot/templating"
)

// Default pull request templates.
const (
	DefaultTitle       = "Merging changes from {{source}} to {{target}}"
	DefaultDescription = "Automated pull request to merge changes"
)

// Status is the outcome of one Create call.
type Status int

// Create outcomes.
const (
	// StatusCreated means a new pull request was
	// opened.
	StatusCreated Status = iota + 1
	// StatusAlreadyExists means the hosting API
	// reported the pull request as a duplicate.
	StatusAlreadyExists
	// StatusFailed means the hosting API rejected the
	// pull request for another reason.
	StatusFailed
	// StatusAborted means no staging branch could be
	// prepared, so nothing was sent.
	StatusAborted
)

// String returns a lower-case label for s.
func (s Status) String() string {
	switch s {
	case StatusCreated:
		return "created"
	case StatusAlreadyExists:
		return "already_exists"
	case StatusFailed:
		return "failed"
	case StatusAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Succeeded reports whether the pull request is open
// after the call, whether newly or already.
func (s Status) Succeeded() bool {
	return s == StatusCreated || s == StatusAlreadyExists
}

// MarshalText encodes s as its label.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Config holds the collaborators of a Manager.
type Config struct {
	Provider git.Provider
	Branches *branch.Manager
	// Engine renders Title and Description. The zero
	// value uses double-brace delimiters.
	Engine templating.Engine
	// Title defaults to DefaultTitle.
	Title string
	// Description defaults to DefaultDescription.
	Description string
}

// Manager checks for and creates pull requests.
type Manager struct {
	provider    git.Provider
	branches    *branch.Manager
	engine      templating.Engine
	title       string
	description string
}

// NewManager validates cfg and returns a Manager.
func NewManager(cfg Config) (*Manager, error) {
	const errCtx = "creating pull request manager"

	if cfg.Provider == nil {
		return nil, fmt.Errorf(
			"%s: provider must be set", errCtx,
		)
	}

	if cfg.Branches == nil {
		return nil, fmt.Errorf(
			"%s: branch manager must be set", errCtx,
		)
	}

	title := cfg.Title
	if title == "" {
		title = DefaultTitle
	}

	description := cfg.Description
	if description == "" {
		description = DefaultDescription
	}

	return &Manager{
		provider:    cfg.Provider,
		branches:    cfg.Branches,
		engine:      cfg.Engine,
		title:       title,
		description: description,
	}, nil
}

// Lookup reports whether an active pull request from
// source (or a staging branch derived from it) into
// target exists. A pull request matches when its
// source ref is recognised by the staging scheme, or
// when its description carries a marker naming
// source.
func (m *Manager) Lookup(
	ctx context.Context,
	repo string,
	source string,
	target string,
) (bool, error) {
	const errCtx = "looking up pull request"

	prs, err := m.provider.ListPullRequests(
		ctx, repo, git.BranchRefName(target),
	)
	if err != nil {
		return false, fmt.Errorf(
			"%s: %s: %w", errCtx, repo, err,
		)
	}

	scheme := m.branches.Scheme()
	src := git.ShortBranchName(source)

	for _, pr := range prs {
		if scheme.Matches(src, pr.SourceRef) {
			return true, nil
		}

		if mk, ok := prmarker.Extract(pr.Description); ok &&
			git.ShortBranchName(mk.Source) == src {
			return true, nil
		}
	}

	return false, nil
}

// Exists is Lookup with failures reported as absent.
func (m *Manager) Exists(
	ctx context.Context,
	repo string,
	source string,
	target string,
) bool {
	ok, err := m.Lookup(ctx, repo, source, target)
	if err != nil {
		slog.Warn(
			"failed to fetch pull requests",
			"repository", repo,
			"error", err,
		)

		return false
	}

	return ok
}

// Create stages source on a fresh staging branch and
// opens a pull request from it into target. It never
// returns an error and never retries: failures are
// logged and reported through the Status.
func (m *Manager) Create(
	ctx context.Context,
	repo string,
	source string,
	target string,
) Status {
	commit, err := m.branches.LatestCommitID(ctx, repo, source)
	if err != nil {
		slog.Error(
			"cannot resolve source commit, "+
				"no pull request will be created",
			"repository", repo,
			"source", source,
			"error", err,
		)

		return StatusAborted
	}

	intermediate, err := m.branches.CreateIntermediate(
		ctx, repo, source, commit,
	)
	if err != nil {
		slog.Error(
			"failed to create or find the staging "+
				"branch, no pull request will be created",
			"repository", repo,
			"source", source,
			"error", err,
		)

		return StatusAborted
	}

	rec := m.record(repo, source, target, intermediate, commit)

	pr, err := m.provider.CreatePullRequest(ctx, repo, rec)

	return m.status(repo, pr, err)
}

func (m *Manager) record(
	repo string,
	source string,
	target string,
	intermediate string,
	commit string,
) git.PullRequestRecord {
	src := git.ShortBranchName(source)
	tgt := git.ShortBranchName(target)

	vars := map[string]string{
		templating.VarRepository:   repo,
		templating.VarSource:       src,
		templating.VarTarget:       tgt,
		templating.VarIntermediate: intermediate,
		templating.VarCommit:       commit,
	}

	desc := prmarker.Append(
		m.engine.Render(m.description, vars),
		prmarker.Marker{
			Source:       src,
			Intermediate: intermediate,
			Commit:       commit,
		},
	)

	return git.PullRequestRecord{
		SourceRef:   git.BranchRefName(intermediate),
		TargetRef:   git.BranchRefName(tgt),
		Title:       m.engine.Render(m.title, vars),
		Description: desc,
	}
}

func (m *Manager) status(
	repo string,
	pr git.PullRequest,
	err error,
) Status {
	if err == nil {
		slog.Info(
			"created pull request",
			"repository", repo,
			"id", pr.ID,
			"url", pr.URL,
		)

		return StatusCreated
	}

	if errors.Is(err, git.ErrConflict) {
		slog.Info(
			"pull request already exists, no action performed",
			"repository", repo,
		)

		return StatusAlreadyExists
	}

	attrs := []any{
		"repository", repo,
		"error", err,
	}

	var se *git.StatusError
	if errors.As(err, &se) {
		attrs = append(attrs,
			"status", se.Code,
			"body", se.Body,
		)
	}

	slog.Error("failed to create pull request", attrs...)

	return StatusFailed
}
