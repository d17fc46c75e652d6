package git

import (
	"errors"
	"fmt"
	"strings"
)

const (
	// HeadsPrefix is the ref namespace of branches.
	HeadsPrefix = "refs/heads/"

	// ZeroObjectID is the old object id used to
	// request creation of a ref that must not exist.
	ZeroObjectID = "0000000000000000000000000000000000000000"
)

var (
	// ErrInvalidCredential reports that the hosting
	// API rejected the credential.
	ErrInvalidCredential = errors.New("invalid credential")

	// ErrConflict reports that the resource being
	// created already exists.
	ErrConflict = errors.New("already exists")

	// ErrNoCommits reports that a branch has no
	// reachable commit.
	ErrNoCommits = errors.New("no commits")
)

// RepositoryTarget is one configured repository and
// the branch pair to reconcile in it.
type RepositoryTarget struct {
	RepositoryID string
	SourceBranch string
	TargetBranch string
}

// BranchRef is a ref as reported by the hosting API.
type BranchRef struct {
	// Name is the full ref path, e.g.
	// "refs/heads/main".
	Name     string
	ObjectID string
}

// ChangeSummary counts changed files between two
// branches.
type ChangeSummary struct {
	Edit   int
	Add    int
	Delete int
}

// Total returns the number of changed files.
func (cs ChangeSummary) Total() int {
	return cs.Edit + cs.Add + cs.Delete
}

// HasChanges reports whether any file differs.
func (cs ChangeSummary) HasChanges() bool {
	return cs.Total() > 0
}

// PullRequestRecord is the payload of a pull request
// to be created.
type PullRequestRecord struct {
	SourceRef   string
	TargetRef   string
	Title       string
	Description string
}

// PullRequest is a pull request read back from the
// hosting API.
type PullRequest struct {
	ID          int
	SourceRef   string
	TargetRef   string
	Title       string
	Description string
	URL         string
}

// StatusError is a non-success response from the
// hosting API.
type StatusError struct {
	Operation string
	Code      int
	Body      string
}

// Error describes the failed operation and status.
func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf(
			"%s: unexpected status %d",
			e.Operation, e.Code,
		)
	}

	return fmt.Sprintf(
		"%s: unexpected status %d: %s",
		e.Operation, e.Code, e.Body,
	)
}

// BranchRefName returns the full ref path of branch.
// Names already carrying the prefix are returned
// unchanged.
func BranchRefName(branch string) string {
	if strings.HasPrefix(branch, HeadsPrefix) {
		return branch
	}

	return HeadsPrefix + branch
}

// ShortBranchName strips the branch ref prefix.
func ShortBranchName(ref string) string {
	return strings.TrimPrefix(ref, HeadsPrefix)
}

// Credential is an opaque access token. The value is
// never printed by String.
type Credential struct {
	token string
}

// NewCredential wraps token. Surrounding whitespace is
// removed.
func NewCredential(token string) Credential {
	return Credential{token: strings.TrimSpace(token)}
}

// Token returns the raw token.
func (c Credential) Token() string {
	return c.token
}

// IsZero reports whether no token is set.
func (c Credential) IsZero() bool {
	return c.token == ""
}

// String masks the token.
func (c Credential) String() string {
	if c.IsZero() {
		return "<empty>"
	}

	return "<redacted>"
}
