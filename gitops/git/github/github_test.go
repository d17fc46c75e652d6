package github_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/byte4ever/prbot/gitops/git"
	ghprov "github.com/byte4ever/prbot/gitops/git/github"
)

// newSession serves mux behind a fake GitHub API whose
// /user endpoint accepts the token "tok".
func newSession(
	t *testing.T,
	mux *http.ServeMux,
) git.Provider {
	t.Helper()

	mux.HandleFunc(
		"GET /user",
		func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(
				t, "Bearer tok", r.Header.Get("Authorization"),
			)
			writeJSON(t, w, http.StatusOK, `{"login":"bot"}`)
		},
	)

	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	cl, err := ghprov.NewClient(ghprov.Config{
		Owner:  "org",
		APIURL: ts.URL,
	})
	require.NoError(t, err)

	sess, err := cl.Connect(
		context.Background(), git.NewCredential("tok"),
	)
	require.NoError(t, err)

	return sess
}

func writeJSON(
	t *testing.T,
	w http.ResponseWriter,
	code int,
	body string,
) {
	t.Helper()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)

	_, err := io.WriteString(w, body)
	assert.NoError(t, err)
}

func TestNewClient_valid(t *testing.T) {
	t.Parallel()

	cl, err := ghprov.NewClient(ghprov.Config{
		Owner: "org",
	})

	require.NoError(t, err)
	assert.NotNil(t, cl)
}

func TestNewClient_missing_owner(t *testing.T) {
	t.Parallel()

	cl, err := ghprov.NewClient(ghprov.Config{})

	assert.Nil(t, cl)
	assert.ErrorContains(t, err, "owner must be set")
}

func TestClient_Connect(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		status  int
		wantErr bool
	}{
		{name: "ok", status: http.StatusOK},
		{
			name:    "non authoritative",
			status:  http.StatusNonAuthoritativeInfo,
			wantErr: true,
		},
		{
			name:    "bad credentials",
			status:  http.StatusUnauthorized,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			mux := http.NewServeMux()
			mux.HandleFunc(
				"GET /user",
				func(w http.ResponseWriter, _ *http.Request) {
					writeJSON(
						t, w, tt.status,
						`{"login":"bot","message":"m"}`,
					)
				},
			)

			ts := httptest.NewServer(mux)
			defer ts.Close()

			cl, err := ghprov.NewClient(ghprov.Config{
				Owner:  "org",
				APIURL: ts.URL,
			})
			require.NoError(t, err)

			sess, err := cl.Connect(
				context.Background(),
				git.NewCredential("tok"),
			)

			if tt.wantErr {
				assert.Nil(t, sess)
				assert.ErrorIs(t, err, git.ErrInvalidCredential)

				return
			}

			require.NoError(t, err)
			assert.NotNil(t, sess)
		})
	}
}

func TestClient_Connect_empty_credential(t *testing.T) {
	t.Parallel()

	cl, err := ghprov.NewClient(ghprov.Config{Owner: "org"})
	require.NoError(t, err)

	_, err = cl.Connect(context.Background(), git.Credential{})

	assert.ErrorIs(t, err, git.ErrInvalidCredential)
}

func TestSession_ListRefs(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc(
		"GET /repos/org/repo1/git/matching-refs/heads/release",
		func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(t, w, http.StatusOK, `[
				{"ref":"refs/heads/release","object":{"sha":"a1"}},
				{"ref":"refs/heads/release-2","object":{"sha":"b2"}}
			]`)
		},
	)

	sess := newSession(t, mux)

	refs, err := sess.ListRefs(
		context.Background(), "repo1", "release",
	)

	require.NoError(t, err)
	assert.Equal(t, []git.BranchRef{
		{Name: "refs/heads/release", ObjectID: "a1"},
		{Name: "refs/heads/release-2", ObjectID: "b2"},
	}, refs)
}

func TestSession_DiffBranches(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc(
		"GET /repos/org/repo1/compare/main...develop",
		func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(t, w, http.StatusOK, `{"files":[
				{"filename":"a","status":"added"},
				{"filename":"b","status":"removed"},
				{"filename":"c","status":"modified"},
				{"filename":"d","status":"renamed"}
			]}`)
		},
	)

	sess := newSession(t, mux)

	cs, err := sess.DiffBranches(
		context.Background(), "repo1", "main", "develop",
	)

	require.NoError(t, err)
	assert.Equal(
		t, git.ChangeSummary{Edit: 2, Add: 1, Delete: 1}, cs,
	)
}

func TestSession_DiffBranches_not_found(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc(
		"GET /repos/org/repo1/compare/main...develop",
		func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(
				t, w, http.StatusNotFound,
				`{"message":"Not Found"}`,
			)
		},
	)

	sess := newSession(t, mux)

	_, err := sess.DiffBranches(
		context.Background(), "repo1", "main", "develop",
	)

	var se *git.StatusError

	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusNotFound, se.Code)
	assert.Equal(t, "Not Found", se.Body)
}

func TestSession_LatestCommits(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc(
		"GET /repos/org/repo1/commits",
		func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "develop", r.URL.Query().Get("sha"))
			assert.Equal(t, "1", r.URL.Query().Get("per_page"))
			writeJSON(
				t, w, http.StatusOK, `[{"sha":"c0ffee"}]`,
			)
		},
	)

	sess := newSession(t, mux)

	ids, err := sess.LatestCommits(
		context.Background(), "repo1", "develop", 1,
	)

	require.NoError(t, err)
	assert.Equal(t, []string{"c0ffee"}, ids)
}

func TestSession_CreateRef(t *testing.T) {
	t.Parallel()

	var gotBody string

	mux := http.NewServeMux()
	mux.HandleFunc(
		"POST /repos/org/repo1/git/refs",
		func(w http.ResponseWriter, r *http.Request) {
			raw, err := io.ReadAll(r.Body)
			assert.NoError(t, err)

			gotBody = string(raw)

			writeJSON(
				t, w, http.StatusCreated,
				`{"ref":"refs/heads/x","object":{"sha":"c0ffee"}}`,
			)
		},
	)

	sess := newSession(t, mux)

	err := sess.CreateRef(
		context.Background(), "repo1", "x", "c0ffee",
	)

	require.NoError(t, err)
	assert.Contains(t, gotBody, `"ref":"refs/heads/x"`)
	assert.Contains(t, gotBody, `"sha":"c0ffee"`)
}

func TestSession_CreateRef_exists(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc(
		"POST /repos/org/repo1/git/refs",
		func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(
				t, w, http.StatusUnprocessableEntity,
				`{"message":"Reference already exists"}`,
			)
		},
	)

	sess := newSession(t, mux)

	err := sess.CreateRef(
		context.Background(), "repo1", "x", "c0ffee",
	)

	assert.ErrorIs(t, err, git.ErrConflict)
}

func TestSession_ListPullRequests_paginates(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc(
		"GET /repos/org/repo1/pulls",
		func(w http.ResponseWriter, r *http.Request) {
			q := r.URL.Query()

			assert.Equal(t, "open", q.Get("state"))
			assert.Equal(t, "main", q.Get("base"))

			if q.Get("page") == "2" {
				writeJSON(t, w, http.StatusOK, `[{
					"number": 2,
					"head": {"ref": "feature"},
					"base": {"ref": "main"}
				}]`)

				return
			}

			w.Header().Set(
				"Link",
				`<https://api.example/repos/org/repo1/pulls?page=2>; rel="next"`,
			)
			writeJSON(t, w, http.StatusOK, `[{
				"number": 1,
				"head": {"ref": "develop-intermediate-20260101"},
				"base": {"ref": "main"},
				"body": "hello",
				"html_url": "https://github.com/org/repo1/pull/1"
			}]`)
		},
	)

	sess := newSession(t, mux)

	prs, err := sess.ListPullRequests(
		context.Background(), "repo1", "refs/heads/main",
	)

	require.NoError(t, err)
	require.Len(t, prs, 2)
	assert.Equal(t, git.PullRequest{
		ID:          1,
		SourceRef:   "refs/heads/develop-intermediate-20260101",
		TargetRef:   "refs/heads/main",
		Description: "hello",
		URL:         "https://github.com/org/repo1/pull/1",
	}, prs[0])
	assert.Equal(t, 2, prs[1].ID)
}

func TestSession_CreatePullRequest(t *testing.T) {
	t.Parallel()

	var gotBody string

	mux := http.NewServeMux()
	mux.HandleFunc(
		"POST /repos/org/repo1/pulls",
		func(w http.ResponseWriter, r *http.Request) {
			raw, err := io.ReadAll(r.Body)
			assert.NoError(t, err)

			gotBody = string(raw)

			writeJSON(t, w, http.StatusCreated, `{
				"number": 9,
				"head": {"ref": "develop-intermediate-20260101"},
				"base": {"ref": "main"},
				"html_url": "https://github.com/org/repo1/pull/9"
			}`)
		},
	)

	sess := newSession(t, mux)

	pr, err := sess.CreatePullRequest(
		context.Background(),
		"repo1",
		git.PullRequestRecord{
			SourceRef:   "refs/heads/develop-intermediate-20260101",
			TargetRef:   "refs/heads/main",
			Title:       "t",
			Description: "d",
		},
	)

	require.NoError(t, err)
	assert.Equal(t, 9, pr.ID)
	assert.Contains(
		t, gotBody, `"head":"develop-intermediate-20260101"`,
	)
	assert.Contains(t, gotBody, `"base":"main"`)
}

func TestSession_CreatePullRequest_already_exists(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc(
		"POST /repos/org/repo1/pulls",
		func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(t, w, http.StatusUnprocessableEntity, `{
				"message": "Validation Failed",
				"errors": [{
					"resource": "PullRequest",
					"code": "custom",
					"message": "A pull request already exists for org:x."
				}]
			}`)
		},
	)

	sess := newSession(t, mux)

	_, err := sess.CreatePullRequest(
		context.Background(),
		"repo1",
		git.PullRequestRecord{SourceRef: "x", TargetRef: "main"},
	)

	assert.ErrorIs(t, err, git.ErrConflict)
}

func TestSession_CreatePullRequest_validation_failed(
	t *testing.T,
) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc(
		"POST /repos/org/repo1/pulls",
		func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(t, w, http.StatusUnprocessableEntity, `{
				"message": "Validation Failed",
				"errors": [{"message": "No commits between main and x"}]
			}`)
		},
	)

	sess := newSession(t, mux)

	_, err := sess.CreatePullRequest(
		context.Background(),
		"repo1",
		git.PullRequestRecord{SourceRef: "x", TargetRef: "main"},
	)

	var se *git.StatusError

	require.ErrorAs(t, err, &se)
	assert.NotErrorIs(t, err, git.ErrConflict)
	assert.Contains(t, se.Body, "No commits")
}

func TestSession_BranchWebURL(t *testing.T) {
	t.Parallel()

	sess := newSession(t, http.NewServeMux())

	assert.Equal(
		t,
		"https://github.com/org/repo1/tree/dev-intermediate-20260101",
		sess.BranchWebURL(
			"repo1", "refs/heads/dev-intermediate-20260101",
		),
	)
}
