package azure

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/byte4ever/prbot/gitops/git"
)

const (
	defaultAPIVersion = "7.1"
	defaultTimeout    = 30 * time.Second

	reposSuffix = "/_apis/git/repositories"

	// pullRequestPageSize is the $top sent when
	// listing pull requests; a shorter page is the last.
	pullRequestPageSize = 100
)

// Config holds the settings needed to talk to the
// Azure DevOps Git REST API.
type Config struct {
	// BaseURL is the repositories collection URL
	// (e.g. "https://dev.azure.com/org/project/
	// _apis/git/repositories").
	BaseURL string
	// APIVersion is sent as the api-version query
	// parameter. Defaults to "7.1".
	APIVersion string
	// Timeout bounds every request. Defaults to 30s.
	Timeout time.Duration
	// RequestsPerSecond paces requests. Zero or less
	// disables pacing.
	RequestsPerSecond float64
	// HTTPClient overrides the HTTP client. Timeout
	// is ignored when set.
	HTTPClient *http.Client
}

// Client validates credentials against Azure DevOps
// and opens sessions bound to them.
//
// Pattern: Strategy -- implements git.Connector.
type Client struct {
	base       *url.URL
	apiVersion string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// Session is a git.Provider bound to one validated
// credential. The credential is applied to each
// request as it is built and never changes.
type Session struct {
	client *Client
	cred   git.Credential
}

type refResponse struct {
	Count int      `json:"count"`
	Value []refDTO `json:"value"`
}

type refDTO struct {
	Name     string `json:"name"`
	ObjectID string `json:"objectId"`
}

type diffResponse struct {
	ChangeCounts map[string]int `json:"changeCounts"`
}

type commitResponse struct {
	Count int         `json:"count"`
	Value []commitDTO `json:"value"`
}

type commitDTO struct {
	CommitID string `json:"commitId"`
}

type refUpdate struct {
	Name        string `json:"name"`
	OldObjectID string `json:"oldObjectId"`
	NewObjectID string `json:"newObjectId"`
}

type refUpdateResponse struct {
	Value []refUpdateResult `json:"value"`
}

type refUpdateResult struct {
	Name         string `json:"name"`
	Success      bool   `json:"success"`
	UpdateStatus string `json:"updateStatus"`
}

type pullRequestResponse struct {
	Count int              `json:"count"`
	Value []pullRequestDTO `json:"value"`
}

type pullRequestDTO struct {
	PullRequestID int    `json:"pullRequestId,omitempty"`
	SourceRefName string `json:"sourceRefName"`
	TargetRefName string `json:"targetRefName"`
	Title         string `json:"title"`
	Description   string `json:"description"`
	URL           string `json:"url,omitempty"`
}

// NewClient validates cfg and returns a Client ready
// to open sessions.
func NewClient(cfg Config) (*Client, error) {
	const errCtx = "creating azure devops client"

	if cfg.BaseURL == "" {
		return nil, fmt.Errorf(
			"%s: base url must be set", errCtx,
		)
	}

	base, err := url.Parse(
		strings.TrimRight(cfg.BaseURL, "/"),
	)
	if err != nil {
		return nil, fmt.Errorf(
			"%s: parse base url: %w", errCtx, err,
		)
	}

	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf(
			"%s: base url must be absolute, got %q",
			errCtx, cfg.BaseURL,
		)
	}

	apiVersion := cfg.APIVersion
	if apiVersion == "" {
		apiVersion = defaultAPIVersion
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}

		httpClient = &http.Client{Timeout: timeout}
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = git.NewLimiter(cfg.RequestsPerSecond)
	}

	return &Client{
		base:       base,
		apiVersion: apiVersion,
		httpClient: httpClient,
		limiter:    limiter,
	}, nil
}

// Connect validates cred with an authenticated GET on
// the base resource. A non-success status, or 203 Non
// Authoritative Information (returned when a proxy or
// the sign-in flow swallowed the credential), yields
// an error wrapping git.ErrInvalidCredential.
func (c *Client) Connect(
	ctx context.Context,
	cred git.Credential,
) (git.Provider, error) {
	const errCtx = "validating azure devops credential"

	if cred.IsZero() {
		return nil, fmt.Errorf(
			"%s: %w", errCtx, git.ErrInvalidCredential,
		)
	}

	sess := &Session{client: c, cred: cred}

	code, _, err := sess.do(
		ctx, http.MethodGet, nil, nil, nil,
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	if !isSuccess(code) ||
		code == http.StatusNonAuthoritativeInfo {
		slog.Warn(
			"credential rejected",
			"status", code,
		)

		return nil, fmt.Errorf(
			"%s: status %d: %w",
			errCtx, code, git.ErrInvalidCredential,
		)
	}

	return sess, nil
}

// ListRefs returns the refs matching heads/{branch}.
func (s *Session) ListRefs(
	ctx context.Context,
	repositoryID string,
	branch string,
) ([]git.BranchRef, error) {
	const errCtx = "listing refs"

	q := url.Values{}
	q.Set("filter", "heads/"+git.ShortBranchName(branch))

	var resp refResponse
	if err := s.getJSON(
		ctx, errCtx,
		[]string{repositoryID, "refs"}, q, &resp,
	); err != nil {
		return nil, err
	}

	refs := make([]git.BranchRef, 0, len(resp.Value))
	for _, rf := range resp.Value {
		refs = append(refs, git.BranchRef{
			Name:     rf.Name,
			ObjectID: rf.ObjectID,
		})
	}

	return refs, nil
}

// DiffBranches compares source (target version)
// against base (base version).
func (s *Session) DiffBranches(
	ctx context.Context,
	repositoryID string,
	base string,
	source string,
) (git.ChangeSummary, error) {
	const errCtx = "diffing branches"

	q := url.Values{}
	q.Set("baseVersionType", "branch")
	q.Set("baseVersion", git.ShortBranchName(base))
	q.Set("targetVersionType", "branch")
	q.Set("targetVersion", git.ShortBranchName(source))

	var resp diffResponse
	if err := s.getJSON(
		ctx, errCtx,
		[]string{repositoryID, "diffs", "commits"},
		q, &resp,
	); err != nil {
		return git.ChangeSummary{}, err
	}

	if resp.ChangeCounts == nil {
		return git.ChangeSummary{}, fmt.Errorf(
			"%s: response has no change counts", errCtx,
		)
	}

	var cs git.ChangeSummary

	for kind, count := range resp.ChangeCounts {
		switch strings.ToLower(kind) {
		case "edit":
			cs.Edit += count
		case "add":
			cs.Add += count
		case "delete":
			cs.Delete += count
		default:
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

	q := url.Values{}
	q.Set(
		"searchCriteria.itemVersion.version",
		git.ShortBranchName(branch),
	)
	q.Set("searchCriteria.$top", strconv.Itoa(top))

	var resp commitResponse
	if err := s.getJSON(
		ctx, errCtx,
		[]string{repositoryID, "commits"}, q, &resp,
	); err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(resp.Value))
	for _, cm := range resp.Value {
		if cm.CommitID != "" {
			ids = append(ids, cm.CommitID)
		}
	}

	return ids, nil
}

// CreateRef creates ref at newObjectID with the zero
// object id as the expected old value, so the call
// fails rather than moving an existing ref.
func (s *Session) CreateRef(
	ctx context.Context,
	repositoryID string,
	ref string,
	newObjectID string,
) error {
	const errCtx = "creating ref"

	payload := []refUpdate{{
		Name:        git.BranchRefName(ref),
		OldObjectID: git.ZeroObjectID,
		NewObjectID: newObjectID,
	}}

	code, body, err := s.do(
		ctx, http.MethodPost,
		[]string{repositoryID, "refs"}, nil, payload,
	)
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	if !isSuccess(code) {
		return statusError(errCtx, code, body)
	}

	var resp refUpdateResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		// Status is authoritative when the body is
		// not an update result.
		slog.Debug(
			"unparsed ref update response",
			"error", err,
		)

		return nil
	}

	for _, res := range resp.Value {
		if !res.Success {
			return fmt.Errorf(
				"%s: %s: %s: %w",
				errCtx, res.Name, res.UpdateStatus,
				git.ErrConflict,
			)
		}
	}

	return nil
}

// ListPullRequests returns the active pull requests
// targeting targetRef.
func (s *Session) ListPullRequests(
	ctx context.Context,
	repositoryID string,
	targetRef string,
) ([]git.PullRequest, error) {
	const errCtx = "listing pull requests"

	q := url.Values{}
	q.Set(
		"searchCriteria.targetRefName",
		git.BranchRefName(targetRef),
	)
	q.Set("searchCriteria.status", "active")
	q.Set("$top", strconv.Itoa(pullRequestPageSize))

	var prs []git.PullRequest

	for skip := 0; ; skip += pullRequestPageSize {
		q.Set("$skip", strconv.Itoa(skip))

		var resp pullRequestResponse
		if err := s.getJSON(
			ctx, errCtx,
			[]string{repositoryID, "pullrequests"},
			q, &resp,
		); err != nil {
			return nil, err
		}

		for _, dto := range resp.Value {
			prs = append(prs, dto.toPullRequest())
		}

		if len(resp.Value) < pullRequestPageSize {
			return prs, nil
		}
	}
}

// CreatePullRequest posts pr. HTTP 409 is reported as
// an error wrapping git.ErrConflict.
func (s *Session) CreatePullRequest(
	ctx context.Context,
	repositoryID string,
	pr git.PullRequestRecord,
) (git.PullRequest, error) {
	const errCtx = "creating pull request"

	payload := pullRequestDTO{
		SourceRefName: git.BranchRefName(pr.SourceRef),
		TargetRefName: git.BranchRefName(pr.TargetRef),
		Title:         pr.Title,
		Description:   pr.Description,
	}

	code, body, err := s.do(
		ctx, http.MethodPost,
		[]string{repositoryID, "pullrequests"},
		nil, payload,
	)
	if err != nil {
		return git.PullRequest{}, fmt.Errorf(
			"%s: %w", errCtx, err,
		)
	}

	if !isSuccess(code) {
		return git.PullRequest{}, statusError(
			errCtx, code, body,
		)
	}

	var created pullRequestDTO
	if err := json.Unmarshal(body, &created); err != nil {
		slog.Debug(
			"unparsed pull request response",
			"error", err,
		)

		created = payload
	}

	return created.toPullRequest(), nil
}

// BranchWebURL returns the web page listing the
// branch history.
func (s *Session) BranchWebURL(
	repositoryID string,
	branch string,
) string {
	base := s.client.base.String()

	project, ok := strings.CutSuffix(base, reposSuffix)
	if !ok {
		return s.client.endpoint(
			[]string{repositoryID, "refs"},
			url.Values{
				"filter": {"heads/" + git.ShortBranchName(branch)},
			},
		)
	}

	return project + "/_git/" +
		url.PathEscape(repositoryID) +
		"?version=GB" +
		url.QueryEscape(git.ShortBranchName(branch))
}

func (dto pullRequestDTO) toPullRequest() git.PullRequest {
	return git.PullRequest{
		ID:          dto.PullRequestID,
		SourceRef:   dto.SourceRefName,
		TargetRef:   dto.TargetRefName,
		Title:       dto.Title,
		Description: dto.Description,
		URL:         dto.URL,
	}
}

// getJSON issues a GET and decodes a success response
// into out.
func (s *Session) getJSON(
	ctx context.Context,
	errCtx string,
	path []string,
	q url.Values,
	out any,
) error {
	code, body, err := s.do(
		ctx, http.MethodGet, path, q, nil,
	)
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	if !isSuccess(code) {
		return statusError(errCtx, code, body)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf(
			"%s: decode response: %w", errCtx, err,
		)
	}

	return nil
}

// do builds an authenticated request from the session
// credential, sends it and returns the status and the
// body.
func (s *Session) do(
	ctx context.Context,
	method string,
	path []string,
	q url.Values,
	payload any,
) (int, []byte, error) {
	const errCtx = "sending request"

	var body io.Reader

	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, fmt.Errorf(
				"%s: marshal request: %w", errCtx, err,
			)
		}

		body = bytes.NewReader(raw)
	}

	endpoint := s.client.endpoint(path, q)

	req, err := http.NewRequestWithContext(
		ctx, method, endpoint, body,
	)
	if err != nil {
		return 0, nil, fmt.Errorf(
			"%s: build request: %w", errCtx, err,
		)
	}

	req.Header.Set("Accept", "application/json")

	if payload != nil {
		req.Header.Set(
			"Content-Type",
			"application/json; charset=utf-8",
		)
	}

	req.SetBasicAuth("", s.cred.Token())

	if s.client.limiter != nil {
		if err := s.client.limiter.Wait(ctx); err != nil {
			return 0, nil, fmt.Errorf(
				"%s: rate limit: %w", errCtx, err,
			)
		}
	}

	resp, err := s.client.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf(
			"%s: %s %s: %w",
			errCtx, method, trimQuery(endpoint), err,
		)
	}

	defer resp.Body.Close() //nolint:errcheck

	rb, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf(
			"%s: read response: %w", errCtx, err,
		)
	}

	slog.Debug(
		"azure devops response",
		"method", method,
		"url", trimQuery(endpoint),
		"status", resp.StatusCode,
	)

	return resp.StatusCode, rb, nil
}

// endpoint joins path segments onto the base URL and
// appends the api-version.
func (c *Client) endpoint(
	path []string,
	q url.Values,
) string {
	u := *c.base

	for _, seg := range path {
		u.Path += "/" + seg
	}

	u.RawPath = ""

	if q == nil {
		q = url.Values{}
	}

	q.Set("api-version", c.apiVersion)
	u.RawQuery = q.Encode()

	return u.String()
}

func isSuccess(code int) bool {
	return code >= 200 && code < 300
}

func statusError(
	errCtx string,
	code int,
	body []byte,
) error {
	se := &git.StatusError{
		Operation: errCtx,
		Code:      code,
		Body:      strings.TrimSpace(string(body)),
	}

	if code == http.StatusConflict {
		return fmt.Errorf("%w: %w", git.ErrConflict, se)
	}

	return se
}

// trimQuery drops the query string from endpoint.
func trimQuery(endpoint string) string {
	before, _, _ := strings.Cut(endpoint, "?")

	return before
}
