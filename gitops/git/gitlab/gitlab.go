package gitlab

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	gl "gitlab.com/gitlab-org/api/client-go"

	"github.com/byte4ever/prbot/gitops/git"
)

const (
	defaultHost    = "https://gitlab.com"
	defaultTimeout = 30 * time.Second

	mergeRequestPageSize = 100
)

// Config holds the settings needed to talk to GitLab.
type Config struct {
	// Host is the base URL of the GitLab instance
	// (e.g. "https://gitlab.com").
	Host string
	// Timeout bounds every request. Defaults to 30s.
	Timeout time.Duration
	// RequestsPerSecond paces requests. Zero or less
	// disables pacing.
	RequestsPerSecond float64
}

// Client validates tokens against GitLab and opens
// sessions bound to them.
//
// Pattern: Strategy -- implements git.Connector.
type Client struct {
	host       string
	httpClient *http.Client
}

// Session is a git.Provider bound to one validated
// token. RepositoryID is the project path (e.g.
// "org/project") or its numeric id.
type Session struct {
	client *gl.Client
	host   string
}

// NewClient returns a Client for cfg.
func NewClient(cfg Config) (*Client, error) {
	host := strings.TrimRight(cfg.Host, "/")
	if host == "" {
		host = defaultHost
	}

	if !strings.HasPrefix(host, "http://") &&
		!strings.HasPrefix(host, "https://") {
		return nil, fmt.Errorf(
			"creating gitlab client: host must be a url, got %q",
			cfg.Host,
		)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Client{
		host: host,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: git.NewPacedTransport(
				http.DefaultTransport,
				cfg.RequestsPerSecond,
			),
		},
	}, nil
}

// Connect validates cred by fetching the current
// user. A rejected token, or a 203 response, yields
// an error wrapping git.ErrInvalidCredential.
func (c *Client) Connect(
	ctx context.Context,
	cred git.Credential,
) (git.Provider, error) {
	const errCtx = "validating gitlab credential"

	if cred.IsZero() {
		return nil, fmt.Errorf(
			"%s: %w", errCtx, git.ErrInvalidCredential,
		)
	}

	client, err := gl.NewClient(
		cred.Token(),
		gl.WithBaseURL(c.host),
		gl.WithHTTPClient(c.httpClient),
	)
	if err != nil {
		return nil, fmt.Errorf(
			"%s: new client: %w", errCtx, err,
		)
	}

	user, resp, err := client.Users.CurrentUser(
		gl.WithContext(ctx),
	)
	if err != nil {
		if resp == nil || resp.Response == nil {
			return nil, fmt.Errorf("%s: %w", errCtx, err)
		}

		slog.Warn(
			"credential rejected",
			"status", resp.StatusCode,
		)

		return nil, fmt.Errorf(
			"%s: status %d: %w",
			errCtx, resp.StatusCode,
			git.ErrInvalidCredential,
		)
	}

	if resp.StatusCode == http.StatusNonAuthoritativeInfo {
		return nil, fmt.Errorf(
			"%s: status %d: %w",
			errCtx, resp.StatusCode,
			git.ErrInvalidCredential,
		)
	}

	slog.Debug("authenticated", "username", user.Username)

	return &Session{client: client, host: c.host}, nil
}

// ListRefs looks up branch by exact name. GitLab has
// no prefix ref filter, so the result holds at most
// the branch itself; 404 yields an empty result.
func (s *Session) ListRefs(
	ctx context.Context,
	repositoryID string,
	branch string,
) ([]git.BranchRef, error) {
	const errCtx = "listing refs"

	name := git.ShortBranchName(branch)

	br, resp, err := s.client.Branches.GetBranch(
		repositoryID, name, gl.WithContext(ctx),
	)
	if err != nil {
		if resp != nil && resp.Response != nil &&
			resp.StatusCode == http.StatusNotFound {
			return nil, nil
		}

		return nil, responseError(errCtx, resp, err)
	}

	ref := git.BranchRef{Name: git.BranchRefName(br.Name)}
	if br.Commit != nil {
		ref.ObjectID = br.Commit.ID
	}

	return []git.BranchRef{ref}, nil
}

// DiffBranches compares source against base. New and
// deleted files count as Add and Delete, every other
// diff as Edit.
func (s *Session) DiffBranches(
	ctx context.Context,
	repositoryID string,
	base string,
	source string,
) (git.ChangeSummary, error) {
	const errCtx = "diffing branches"

	cmp, resp, err := s.client.Repositories.Compare(
		repositoryID,
		&gl.CompareOptions{
			From: gl.Ptr(git.ShortBranchName(base)),
			To:   gl.Ptr(git.ShortBranchName(source)),
		},
		gl.WithContext(ctx),
	)
	if err != nil {
		return git.ChangeSummary{}, responseError(
			errCtx, resp, err,
		)
	}

	var cs git.ChangeSummary

	for _, df := range cmp.Diffs {
		switch {
		case df.NewFile:
			cs.Add++
		case df.DeletedFile:
			cs.Delete++
		default:
			cs.Edit++
		}
	}

	return cs, nil
}

// LatestCommits returns up to top commit ids from the
// tip of branch.
func (s *Session) LatestCommits(
	ctx context.Context,
	repositoryID string,
	branch string,
	top int,
) ([]string, error) {
	const errCtx = "listing commits"

	if top < 1 {
		top = 1
	}

	commits, resp, err := s.client.Commits.ListCommits(
		repositoryID,
		&gl.ListCommitsOptions{
			RefName: gl.Ptr(git.ShortBranchName(branch)),
		},
		gl.WithContext(ctx),
	)
	if err != nil {
		return nil, responseError(errCtx, resp, err)
	}

	ids := make([]string, 0, top)
	for _, cm := range commits {
		if len(ids) == top {
			break
		}

		if cm.ID != "" {
			ids = append(ids, cm.ID)
		}
	}

	return ids, nil
}

// CreateRef creates branch ref from newObjectID.
// GitLab refuses to overwrite an existing branch; that
// case wraps git.ErrConflict.
func (s *Session) CreateRef(
	ctx context.Context,
	repositoryID string,
	ref string,
	newObjectID string,
) error {
	const errCtx = "creating ref"

	_, resp, err := s.client.Branches.CreateBranch(
		repositoryID,
		&gl.CreateBranchOptions{
			Branch: gl.Ptr(git.ShortBranchName(ref)),
			Ref:    gl.Ptr(newObjectID),
		},
		gl.WithContext(ctx),
	)
	if err != nil {
		return responseError(errCtx, resp, err)
	}

	return nil
}

// ListPullRequests returns the opened merge requests
// targeting targetRef.
func (s *Session) ListPullRequests(
	ctx context.Context,
	repositoryID string,
	targetRef string,
) ([]git.PullRequest, error) {
	const errCtx = "listing merge requests"

	opts := &gl.ListProjectMergeRequestsOptions{
		ListOptions:  gl.ListOptions{PerPage: mergeRequestPageSize},
		State:        gl.Ptr("opened"),
		TargetBranch: gl.Ptr(git.ShortBranchName(targetRef)),
	}

	var out []git.PullRequest

	for {
		mrs, resp, err := s.client.MergeRequests.ListProjectMergeRequests(
			repositoryID, opts, gl.WithContext(ctx),
		)
		if err != nil {
			return nil, responseError(errCtx, resp, err)
		}

		for _, mr := range mrs {
			out = append(out, git.PullRequest{
				ID:          int(mr.IID),
				SourceRef:   git.BranchRefName(mr.SourceBranch),
				TargetRef:   git.BranchRefName(mr.TargetBranch),
				Title:       mr.Title,
				Description: mr.Description,
				URL:         mr.WebURL,
			})
		}

		if resp.NextPage == 0 {
			return out, nil
		}

		opts.Page = resp.NextPage
	}
}

// CreatePullRequest opens a merge request. HTTP 409
// (an open merge request for the source branch
// exists) wraps git.ErrConflict.
func (s *Session) CreatePullRequest(
	ctx context.Context,
	repositoryID string,
	pr git.PullRequestRecord,
) (git.PullRequest, error) {
	const errCtx = "creating merge request"

	mr, resp, err := s.client.MergeRequests.CreateMergeRequest(
		repositoryID,
		&gl.CreateMergeRequestOptions{
			Title:        gl.Ptr(pr.Title),
			Description:  gl.Ptr(pr.Description),
			SourceBranch: gl.Ptr(git.ShortBranchName(pr.SourceRef)),
			TargetBranch: gl.Ptr(git.ShortBranchName(pr.TargetRef)),
		},
		gl.WithContext(ctx),
	)
	if err != nil {
		return git.PullRequest{}, responseError(
			errCtx, resp, err,
		)
	}

	return git.PullRequest{
		ID:          int(mr.IID),
		SourceRef:   git.BranchRefName(mr.SourceBranch),
		TargetRef:   git.BranchRefName(mr.TargetBranch),
		Title:       mr.Title,
		Description: mr.Description,
		URL:         mr.WebURL,
	}, nil
}

// BranchWebURL returns the tree view of branch.
func (s *Session) BranchWebURL(
	repositoryID string,
	branch string,
) string {
	return s.host + "/" + repositoryID + "/-/tree/" +
		git.ShortBranchName(branch)
}

// responseError converts a client-go failure into a
// git.StatusError when the server answered. 409, and
// 400 saying the resource already exists, wrap
// git.ErrConflict.
func responseError(
	errCtx string,
	resp *gl.Response,
	err error,
) error {
	if resp == nil || resp.Response == nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	se := &git.StatusError{
		Operation: errCtx,
		Code:      resp.StatusCode,
		Body:      errorMessage(err),
	}

	switch {
	case resp.StatusCode == http.StatusConflict:
		return fmt.Errorf("%w: %w", git.ErrConflict, se)
	case resp.StatusCode == http.StatusBadRequest &&
		strings.Contains(
			strings.ToLower(se.Body), "already exists",
		):
		return fmt.Errorf("%w: %w", git.ErrConflict, se)
	default:
		return se
	}
}

func errorMessage(err error) string {
	var er *gl.ErrorResponse
	if errors.As(err, &er) && er.Message != "" {
		return er.Message
	}

	return err.Error()
}
