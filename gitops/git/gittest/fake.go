// Package gittest provides an in-memory git.Provider
// for tests.
package gittest

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"sync"

	"github.com/byte4ever/prbot/gitops/git"
)

// Operation names recorded by Fake and accepted by
// FailOn.
const (
	OpListRefs          = "ListRefs"
	OpDiffBranches      = "DiffBranches"
	OpLatestCommits     = "LatestCommits"
	OpCreateRef         = "CreateRef"
	OpListPullRequests  = "ListPullRequests"
	OpCreatePullRequest = "CreatePullRequest"
)

var _ git.Provider = (*Fake)(nil)

// Call is one recorded provider invocation.
type Call struct {
	Op         string
	Repository string
	Args       []string
}

// Fake is a concurrency-safe in-memory hosting API.
// ListRefs reproduces the prefix behaviour of a remote
// ref filter, and creating a ref or pull request that
// already exists fails with git.ErrConflict.
type Fake struct {
	mu       sync.Mutex
	branches map[string]map[string]string
	changes  map[string]git.ChangeSummary
	prs      map[string][]git.PullRequest
	failures map[string]error
	calls    []Call
	nextID   int
}

// NewFake returns an empty Fake.
func NewFake() *Fake {
	return &Fake{
		branches: make(map[string]map[string]string),
		changes:  make(map[string]git.ChangeSummary),
		prs:      make(map[string][]git.PullRequest),
		failures: make(map[string]error),
		nextID:   1,
	}
}

// AddBranch creates branch in repo at objectID.
func (f *Fake) AddBranch(repo, branch, objectID string) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.addBranch(repo, git.ShortBranchName(branch), objectID)

	return f
}

// SetChanges sets the diff reported for repo.
func (f *Fake) SetChanges(
	repo string,
	cs git.ChangeSummary,
) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.changes[repo] = cs

	return f
}

// AddPullRequest registers an active pull request.
func (f *Fake) AddPullRequest(
	repo string,
	pr git.PullRequest,
) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()

	if pr.ID == 0 {
		pr.ID = f.nextID
		f.nextID++
	}

	f.prs[repo] = append(f.prs[repo], pr)

	return f
}

// FailOn makes op fail with err. An empty repo
// applies to every repository.
func (f *Fake) FailOn(op, repo string, err error) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.failures[failureKey(op, repo)] = err

	return f
}

// HasBranch reports whether repo holds branch.
func (f *Fake) HasBranch(repo, branch string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	_, ok := f.branches[repo][git.ShortBranchName(branch)]

	return ok
}

// PullRequests returns the pull requests of repo.
func (f *Fake) PullRequests(repo string) []git.PullRequest {
	f.mu.Lock()
	defer f.mu.Unlock()

	return slices.Clone(f.prs[repo])
}

// Calls returns every recorded call.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()

	return slices.Clone(f.calls)
}

// CallCount returns how many times op was called for
// repo. An empty repo counts every repository.
func (f *Fake) CallCount(op, repo string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	var n int

	for _, c := range f.calls {
		if c.Op == op && (repo == "" || c.Repository == repo) {
			n++
		}
	}

	return n
}

// ListRefs implements git.Provider.
func (f *Fake) ListRefs(
	_ context.Context,
	repositoryID string,
	branch string,
) ([]git.BranchRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.record(
		OpListRefs, repositoryID, branch,
	); err != nil {
		return nil, err
	}

	prefix := git.ShortBranchName(branch)

	var refs []git.BranchRef

	for name, id := range f.branches[repositoryID] {
		if strings.HasPrefix(name, prefix) {
			refs = append(refs, git.BranchRef{
				Name:     git.BranchRefName(name),
				ObjectID: id,
			})
		}
	}

	slices.SortFunc(refs, func(a, b git.BranchRef) int {
		return strings.Compare(a.Name, b.Name)
	})

	return refs, nil
}

// DiffBranches implements git.Provider.
func (f *Fake) DiffBranches(
	_ context.Context,
	repositoryID string,
	base string,
	source string,
) (git.ChangeSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.record(
		OpDiffBranches, repositoryID, base, source,
	); err != nil {
		return git.ChangeSummary{}, err
	}

	return f.changes[repositoryID], nil
}

// LatestCommits implements git.Provider.
func (f *Fake) LatestCommits(
	_ context.Context,
	repositoryID string,
	branch string,
	_ int,
) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.record(
		OpLatestCommits, repositoryID, branch,
	); err != nil {
		return nil, err
	}

	id, ok := f.branches[repositoryID][git.ShortBranchName(branch)]
	if !ok || id == "" {
		return nil, nil
	}

	return []string{id}, nil
}

// CreateRef implements git.Provider.
func (f *Fake) CreateRef(
	_ context.Context,
	repositoryID string,
	ref string,
	newObjectID string,
) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.record(
		OpCreateRef, repositoryID, ref, newObjectID,
	); err != nil {
		return err
	}

	name := git.ShortBranchName(ref)
	if _, ok := f.branches[repositoryID][name]; ok {
		return fmt.Errorf(
			"ref %s: %w", name, git.ErrConflict,
		)
	}

	f.addBranch(repositoryID, name, newObjectID)

	return nil
}

// ListPullRequests implements git.Provider.
func (f *Fake) ListPullRequests(
	_ context.Context,
	repositoryID string,
	targetRef string,
) ([]git.PullRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.record(
		OpListPullRequests, repositoryID, targetRef,
	); err != nil {
		return nil, err
	}

	target := git.BranchRefName(targetRef)

	var out []git.PullRequest

	for _, pr := range f.prs[repositoryID] {
		if git.BranchRefName(pr.TargetRef) == target {
			out = append(out, pr)
		}
	}

	return out, nil
}

// CreatePullRequest implements git.Provider. A pull
// request with the same source and target is a
// conflict.
func (f *Fake) CreatePullRequest(
	_ context.Context,
	repositoryID string,
	pr git.PullRequestRecord,
) (git.PullRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.record(
		OpCreatePullRequest, repositoryID,
		pr.SourceRef, pr.TargetRef,
	); err != nil {
		return git.PullRequest{}, err
	}

	for _, existing := range f.prs[repositoryID] {
		if existing.SourceRef == pr.SourceRef &&
			existing.TargetRef == pr.TargetRef {
			return git.PullRequest{}, fmt.Errorf(
				"%w: %w",
				git.ErrConflict,
				&git.StatusError{
					Operation: OpCreatePullRequest,
					Code:      http.StatusConflict,
				},
			)
		}
	}

	created := git.PullRequest{
		ID:          f.nextID,
		SourceRef:   pr.SourceRef,
		TargetRef:   pr.TargetRef,
		Title:       pr.Title,
		Description: pr.Description,
		URL: fmt.Sprintf(
			"https://git.example/%s/pull/%d",
			repositoryID, f.nextID,
		),
	}

	f.nextID++
	f.prs[repositoryID] = append(f.prs[repositoryID], created)

	return created, nil
}

// BranchWebURL implements git.Provider.
func (f *Fake) BranchWebURL(repositoryID, branch string) string {
	return "https://git.example/" + repositoryID +
		"/tree/" + git.ShortBranchName(branch)
}

func (f *Fake) addBranch(repo, name, objectID string) {
	if f.branches[repo] == nil {
		f.branches[repo] = make(map[string]string)
	}

	f.branches[repo][name] = objectID
}

// record appends the call and returns the configured
// failure, if any. f.mu must be held.
func (f *Fake) record(op, repo string, args ...string) error {
	f.calls = append(f.calls, Call{
		Op:         op,
		Repository: repo,
		Args:       args,
	})

	if err, ok := f.failures[failureKey(op, repo)]; ok {
		return err
	}

	return f.failures[failureKey(op, "")]
}

func failureKey(op, repo string) string {
	return op + "|" + repo
}
