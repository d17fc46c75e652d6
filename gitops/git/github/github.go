package github

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	gh "github.com/google/go-github/v68/github"
	"golang.org/x/oauth2"

	"github.com/byte4ever/prbot/gitops/git"
)

const (
	defaultTimeout = 30 * time.Second
	defaultWebURL  = "https://github.com"
	listPageSize   = 100
)

// Config holds the settings needed to talk to GitHub.
type Config struct {
	// Owner is the GitHub user or organisation that
	// owns every configured repository.
	Owner string
	// EnterpriseHost is an optional GitHub Enterprise
	// hostname (e.g. "git.corp.example.com"). Leave
	// empty for github.com.
	EnterpriseHost string
	// APIURL overrides the REST endpoint. It takes
	// precedence over EnterpriseHost.
	APIURL string
	// Timeout bounds every request. Defaults to 30s.
	Timeout time.Duration
	// RequestsPerSecond paces requests. Zero or less
	// disables pacing.
	RequestsPerSecond float64
}

// Client validates tokens against GitHub and opens
// sessions bound to them.
//
// Pattern: Strategy -- implements git.Connector.
type Client struct {
	cfg    Config
	apiURL *url.URL
	webURL string
}

// Session is a git.Provider bound to one validated
// token. RepositoryID is the repository name under
// the configured owner.
type Session struct {
	client *gh.Client
	owner  string
	webURL string
}

// NewClient validates cfg and returns a Client ready
// to open sessions.
func NewClient(cfg Config) (*Client, error) {
	const errCtx = "creating github client"

	if cfg.Owner == "" {
		return nil, fmt.Errorf(
			"%s: owner must be set", errCtx,
		)
	}

	webURL := defaultWebURL
	if cfg.EnterpriseHost != "" {
		webURL = "https://" + cfg.EnterpriseHost
	}

	var apiURL *url.URL

	if cfg.APIURL != "" {
		u, err := url.Parse(
			strings.TrimRight(cfg.APIURL, "/") + "/",
		)
		if err != nil {
			return nil, fmt.Errorf(
				"%s: parse api url: %w", errCtx, err,
			)
		}

		apiURL = u
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	return &Client{
		cfg:    cfg,
		apiURL: apiURL,
		webURL: webURL,
	}, nil
}

// Connect validates cred by fetching the
// authenticated user. A rejected token, or a 203
// response, yields an error wrapping
// git.ErrInvalidCredential.
func (c *Client) Connect(
	ctx context.Context,
	cred git.Credential,
) (git.Provider, error) {
	const errCtx = "validating github credential"

	if cred.IsZero() {
		return nil, fmt.Errorf(
			"%s: %w", errCtx, git.ErrInvalidCredential,
		)
	}

	client, err := c.newGitHubClient(ctx, cred)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	user, resp, err := client.Users.Get(ctx, "")
	if err != nil {
		if resp == nil {
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

	slog.Debug("authenticated", "login", user.GetLogin())

	return &Session{
		client: client,
		owner:  c.cfg.Owner,
		webURL: c.webURL,
	}, nil
}

func (c *Client) newGitHubClient(
	ctx context.Context,
	cred git.Credential,
) (*gh.Client, error) {
	base := &http.Client{
		Timeout: c.cfg.Timeout,
		Transport: git.NewPacedTransport(
			http.DefaultTransport,
			c.cfg.RequestsPerSecond,
		),
	}

	httpClient := oauth2.NewClient(
		context.WithValue(ctx, oauth2.HTTPClient, base),
		oauth2.StaticTokenSource(
			&oauth2.Token{AccessToken: cred.Token()},
		),
	)

	client := gh.NewClient(httpClient)

	switch {
	case c.apiURL != nil:
		client.BaseURL = c.apiURL
	case c.cfg.EnterpriseHost != "":
		baseURL := "https://" +
			c.cfg.EnterpriseHost + "/api/v3/"
		uploadURL := "https://" +
			c.cfg.EnterpriseHost + "/api/uploads/"

		var err error

		client, err = client.WithEnterpriseURLs(
			baseURL, uploadURL,
		)
		if err != nil {
			return nil, fmt.Errorf(
				"enterprise urls: %w", err,
			)
		}
	}

	return client, nil
}

// ListRefs returns the refs starting with
// heads/{branch}.
func (s *Session) ListRefs(
	ctx context.Context,
	repositoryID string,
	branch string,
) ([]git.BranchRef, error) {
	const errCtx = "listing refs"

	refs, resp, err := s.client.Git.ListMatchingRefs(
		ctx, s.owner, repositoryID,
		&gh.ReferenceListOptions{
			Ref: "heads/" + git.ShortBranchName(branch),
		},
	)
	if err != nil {
		return nil, responseError(errCtx, resp, err)
	}

	out := make([]git.BranchRef, 0, len(refs))
	for _, rf := range refs {
		out = append(out, git.BranchRef{
			Name:     rf.GetRef(),
			ObjectID: rf.GetObject().GetSHA(),
		})
	}

	return out, nil
}

// DiffBranches compares source (head) against base.
// Added and removed files count as Add and Delete,
// every other status as Edit.
func (s *Session) DiffBranches(
	ctx context.Context,
	repositoryID string,
	base string,
	source string,
) (git.ChangeSummary, error) {
	const errCtx = "diffing branches"

	cmp, resp, err := s.client.Repositories.CompareCommits(
		ctx, s.owner, repositoryID,
		git.ShortBranchName(base),
		git.ShortBranchName(source),
		nil,
	)
	if err != nil {
		return git.ChangeSummary{}, responseError(
			errCtx, resp, err,
		)
	}

	var cs git.ChangeSummary

	for _, fl := range cmp.Files {
		switch fl.GetStatus() {
		case "added":
			cs.Add++
		case "removed":
			cs.Delete++
		case "unchanged":
		default:
			cs.Edit++
		}
	}

	return cs, nil
}

// LatestCommits returns up to top commit SHAs from
// the tip of branch.
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

	commits, resp, err := s.client.Repositories.ListCommits(
		ctx, s.owner, repositoryID,
		&gh.CommitsListOptions{
			SHA:         git.ShortBranchName(branch),
			ListOptions: gh.ListOptions{PerPage: top},
		},
	)
	if err != nil {
		return nil, responseError(errCtx, resp, err)
	}

	ids := make([]string, 0, len(commits))
	for _, cm := range commits {
		if sha := cm.GetSHA(); sha != "" {
			ids = append(ids, sha)
		}

		if len(ids) == top {
			break
		}
	}

	return ids, nil
}

// CreateRef creates ref at newObjectID. GitHub
// refuses to overwrite an existing ref with 422,
// reported as git.ErrConflict.
func (s *Session) CreateRef(
	ctx context.Context,
	repositoryID string,
	ref string,
	newObjectID string,
) error {
	const errCtx = "creating ref"

	_, resp, err := s.client.Git.CreateRef(
		ctx, s.owner, repositoryID,
		&gh.Reference{
			Ref:    gh.Ptr(git.BranchRefName(ref)),
			Object: &gh.GitObject{SHA: gh.Ptr(newObjectID)},
		},
	)
	if err != nil {
		return responseError(errCtx, resp, err)
	}

	return nil
}

// ListPullRequests returns the open pull requests
// whose base is targetRef, following pagination.
func (s *Session) ListPullRequests(
	ctx context.Context,
	repositoryID string,
	targetRef string,
) ([]git.PullRequest, error) {
	const errCtx = "listing pull requests"

	opts := &gh.PullRequestListOptions{
		State:       "open",
		Base:        git.ShortBranchName(targetRef),
		ListOptions: gh.ListOptions{PerPage: listPageSize},
	}

	var out []git.PullRequest

	for {
		prs, resp, err := s.client.PullRequests.List(
			ctx, s.owner, repositoryID, opts,
		)
		if err != nil {
			return nil, responseError(errCtx, resp, err)
		}

		for _, pr := range prs {
			out = append(out, toPullRequest(pr))
		}

		if resp.NextPage == 0 {
			return out, nil
		}

		opts.Page = resp.NextPage
	}
}

// CreatePullRequest opens pr. GitHub answers 422 when
// a pull request for the same head and base exists;
// that case wraps git.ErrConflict.
func (s *Session) CreatePullRequest(
	ctx context.Context,
	repositoryID string,
	pr git.PullRequestRecord,
) (git.PullRequest, error) {
	const errCtx = "creating pull request"

	created, resp, err := s.client.PullRequests.Create(
		ctx, s.owner, repositoryID,
		&gh.NewPullRequest{
			Title: gh.Ptr(pr.Title),
			Head:  gh.Ptr(git.ShortBranchName(pr.SourceRef)),
			Base:  gh.Ptr(git.ShortBranchName(pr.TargetRef)),
			Body:  gh.Ptr(pr.Description),
		},
	)
	if err != nil {
		return git.PullRequest{}, responseError(
			errCtx, resp, err,
		)
	}

	return toPullRequest(created), nil
}

// BranchWebURL returns the tree view of branch.
func (s *Session) BranchWebURL(
	repositoryID string,
	branch string,
) string {
	return s.webURL + "/" +
		url.PathEscape(s.owner) + "/" +
		url.PathEscape(repositoryID) + "/tree/" +
		git.ShortBranchName(branch)
}

func toPullRequest(pr *gh.PullRequest) git.PullRequest {
	return git.PullRequest{
		ID: pr.GetNumber(),
		SourceRef: git.BranchRefName(
			pr.GetHead().GetRef(),
		),
		TargetRef: git.BranchRefName(
			pr.GetBase().GetRef(),
		),
		Title:       pr.GetTitle(),
		Description: pr.GetBody(),
		URL:         pr.GetHTMLURL(),
	}
}

// responseError converts a go-github failure into a
// git.StatusError when the server answered. A 422
// whose message says the resource already exists
// wraps git.ErrConflict.
func responseError(
	errCtx string,
	resp *gh.Response,
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

	if resp.StatusCode == http.StatusUnprocessableEntity &&
		strings.Contains(
			strings.ToLower(se.Body), "already exists",
		) {
		return fmt.Errorf("%w: %w", git.ErrConflict, se)
	}

	return se
}

func errorMessage(err error) string {
	var er *gh.ErrorResponse
	if !errors.As(err, &er) {
		return err.Error()
	}

	parts := []string{er.Message}
	for _, detail := range er.Errors {
		if detail.Message != "" {
			parts = append(parts, detail.Message)
		}
	}

	return strings.Join(parts, ": ")
}
