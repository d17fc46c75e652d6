package branch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/byte4ever/prbot/gitops/branchname"
	"github.com/byte4ever/prbot/gitops/git"
)

// Config holds the collaborators of a Manager.
type Config struct {
	// Provider is the hosting API binding.
	Provider git.Provider
	// Scheme names staging branches. The zero value
	// uses the daily "intermediate" scheme.
	Scheme branchname.Scheme
	// Now returns the current time. Defaults to
	// time.Now.
	Now func() time.Time
	// Notice receives operator remediation
	// instructions. Defaults to os.Stderr.
	Notice io.Writer
}

// Manager answers branch questions against the
// hosting API and creates staging branches.
type Manager struct {
	provider git.Provider
	scheme   branchname.Scheme
	now      func() time.Time
	notice   io.Writer
}

// StagingExistsError reports that the staging branch
// for a run is already present. Nothing was created
// or reused.
type StagingExistsError struct {
	Repository string
	Branch     string
	WebURL     string
}

// Error describes the collision.
func (e *StagingExistsError) Error() string {
	return fmt.Sprintf(
		"staging branch %s already exists in %s",
		e.Branch, e.Repository,
	)
}

// Unwrap makes the error match git.ErrConflict.
func (e *StagingExistsError) Unwrap() error {
	return git.ErrConflict
}

// NewManager validates cfg and returns a Manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Provider == nil {
		return nil, errors.New(
			"creating branch manager: provider must be set",
		)
	}

	scheme := cfg.Scheme
	if scheme.Tag == "" {
		scheme.Tag = branchname.DefaultTag
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	notice := cfg.Notice
	if notice == nil {
		notice = os.Stderr
	}

	return &Manager{
		provider: cfg.Provider,
		scheme:   scheme,
		now:      now,
		notice:   notice,
	}, nil
}

// Scheme returns the staging naming scheme in use.
func (m *Manager) Scheme() branchname.Scheme {
	return m.scheme
}

// Lookup reports whether branch exists in repo. Only
// an exact match on refs/heads/{branch} counts; names
// merely sharing the prefix do not.
func (m *Manager) Lookup(
	ctx context.Context,
	repo string,
	branch string,
) (bool, error) {
	const errCtx = "looking up branch"

	refs, err := m.provider.ListRefs(ctx, repo, branch)
	if err != nil {
		return false, fmt.Errorf(
			"%s: %s in %s: %w", errCtx, branch, repo, err,
		)
	}

	want := git.BranchRefName(branch)

	for _, ref := range refs {
		if ref.Name == want {
			return true, nil
		}
	}

	return false, nil
}

// Exists is Lookup with failures reported as absent.
func (m *Manager) Exists(
	ctx context.Context,
	repo string,
	branch string,
) bool {
	ok, err := m.Lookup(ctx, repo, branch)
	if err != nil {
		slog.Warn(
			"failed to fetch branch data",
			"repository", repo,
			"branch", branch,
			"error", err,
		)

		return false
	}

	return ok
}

// HasChanges reports whether source differs from
// target, with target as the diff base. Any failure
// is reported as no changes.
func (m *Manager) HasChanges(
	ctx context.Context,
	repo string,
	source string,
	target string,
) bool {
	cs, err := m.provider.DiffBranches(
		ctx, repo, target, source,
	)
	if err != nil {
		slog.Warn(
			"failed to diff branches",
			"repository", repo,
			"source", source,
			"target", target,
			"error", err,
		)

		return false
	}

	slog.Debug(
		"branch diff",
		"repository", repo,
		"edit", cs.Edit,
		"add", cs.Add,
		"delete", cs.Delete,
	)

	return cs.HasChanges()
}

// LatestCommitID returns the tip commit of branch. It
// returns an error wrapping git.ErrNoCommits when the
// branch has none.
func (m *Manager) LatestCommitID(
	ctx context.Context,
	repo string,
	branch string,
) (string, error) {
	const errCtx = "fetching latest commit"

	ids, err := m.provider.LatestCommits(ctx, repo, branch, 1)
	if err != nil {
		return "", fmt.Errorf(
			"%s: %s in %s: %w", errCtx, branch, repo, err,
		)
	}

	if len(ids) == 0 {
		return "", fmt.Errorf(
			"%s: %s in %s: %w",
			errCtx, branch, repo, git.ErrNoCommits,
		)
	}

	return ids[0], nil
}

// CreateIntermediate creates the staging branch for
// source at commitID and returns its name. When the
// branch is already present it is neither reused nor
// moved: remediation instructions are written to the
// notice writer and a *StagingExistsError is returned.
func (m *Manager) CreateIntermediate(
	ctx context.Context,
	repo string,
	source string,
	commitID string,
) (string, error) {
	const errCtx = "creating staging branch"

	if commitID == "" {
		return "", fmt.Errorf(
			"%s: commit id must be set", errCtx,
		)
	}

	name := m.scheme.Generate(source, m.now()).String()

	if m.Exists(ctx, repo, name) {
		return "", m.stagingExists(repo, name)
	}

	err := m.provider.CreateRef(ctx, repo, name, commitID)
	if errors.Is(err, git.ErrConflict) {
		return "", m.stagingExists(repo, name)
	}

	if err != nil {
		return "", fmt.Errorf(
			"%s: %s in %s: %w", errCtx, name, repo, err,
		)
	}

	slog.Info(
		"created staging branch",
		"repository", repo,
		"branch", name,
		"commit", commitID,
	)

	return name, nil
}

func (m *Manager) stagingExists(
	repo string,
	name string,
) *StagingExistsError {
	se := &StagingExistsError{
		Repository: repo,
		Branch:     name,
		WebURL:     m.provider.BranchWebURL(repo, name),
	}

	slog.Warn(
		"staging branch already exists",
		"repository", repo,
		"branch", name,
	)

	if err := writeRemediation(m.notice, se); err != nil {
		slog.Warn(
			"cannot write remediation notice",
			"error", err,
		)
	}

	return se
}

func writeRemediation(w io.Writer, se *StagingExistsError) error {
	_, err := fmt.Fprintf(
		w,
		"Branch %[1]s already exists in repository %[2]s.\n"+
			"Review it at: %[3]s\n"+
			"If it holds nothing worth keeping, delete it with:\n"+
			"  git push origin --delete %[1]s\n"+
			"then run the bot again.\n",
		se.Branch, se.Repository, se.WebURL,
	)

	return err
}
