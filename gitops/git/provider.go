package git

import "context"

// Pattern: Strategy -- swap the hosting platform
// without changing reconciliation logic.

// Provider is a thin binding to the ref, diff, commit
// and pull request resources of a hosting API. It owns
// request construction and response parsing and makes
// no decisions of its own.
type Provider interface {
	// ListRefs returns the refs matching the remote
	// prefix filter "heads/{branch}". The result may
	// contain prefix hits such as "foo-bar" for "foo".
	ListRefs(
		ctx context.Context,
		repositoryID string,
		branch string,
	) ([]BranchRef, error)

	// DiffBranches compares source against base.
	DiffBranches(
		ctx context.Context,
		repositoryID string,
		base string,
		source string,
	) (ChangeSummary, error)

	// LatestCommits returns up to top commit ids
	// reachable from the branch tip, newest first.
	LatestCommits(
		ctx context.Context,
		repositoryID string,
		branch string,
		top int,
	) ([]string, error)

	// CreateRef atomically creates ref pointing at
	// newObjectID. It fails when the ref already
	// exists.
	CreateRef(
		ctx context.Context,
		repositoryID string,
		ref string,
		newObjectID string,
	) error

	// ListPullRequests returns the active pull
	// requests whose target is targetRef.
	ListPullRequests(
		ctx context.Context,
		repositoryID string,
		targetRef string,
	) ([]PullRequest, error)

	// CreatePullRequest opens a pull request. It
	// returns an error wrapping ErrConflict when the
	// platform reports the pull request already
	// exists.
	CreatePullRequest(
		ctx context.Context,
		repositoryID string,
		pr PullRequestRecord,
	) (PullRequest, error)

	// BranchWebURL returns where an operator can
	// inspect branch in a browser.
	BranchWebURL(repositoryID string, branch string) string
}

// Connector validates a credential and hands back a
// Provider bound to it for the rest of the session.
type Connector interface {
	// Connect returns an error wrapping
	// ErrInvalidCredential when the hosting API
	// rejects cred.
	Connect(
		ctx context.Context,
		cred Credential,
	) (Provider, error)
}

// ConnectorFunc adapts a plain function to the
// Connector interface.
type ConnectorFunc func(
	ctx context.Context,
	cred Credential,
) (Provider, error)

// Connect delegates to the wrapped function. An empty
// credential is rejected before the function runs.
func (f ConnectorFunc) Connect(
	ctx context.Context,
	cred Credential,
) (Provider, error) {
	if cred.IsZero() {
		return nil, ErrInvalidCredential
	}

	return f(ctx, cred)
}
