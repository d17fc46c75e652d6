package main

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const basePath = "/org/proj/_apis/git/repositories"

// azureFake is an in-memory Azure DevOps Git API holding
// refs, change counts and pull requests per repository.
type azureFake struct {
	mu      sync.Mutex
	refs    map[string]map[string]string
	changes map[string]map[string]int
	prs     map[string][]map[string]any
}

func newAzureFake() *azureFake {
	return &azureFake{
		refs: map[string]map[string]string{
			"api": {
				"refs/heads/develop": "c0ffee",
				"refs/heads/main":    "0ld",
			},
			"docs": {
				"refs/heads/develop": "d0c5",
				"refs/heads/main":    "d0c5",
			},
		},
		changes: map[string]map[string]int{
			"api": {"Edit": 2},
		},
		prs: make(map[string][]map[string]any),
	}
}

func (f *azureFake) serve(t *testing.T) string {
	t.Helper()

	ts := httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(ts.Close)

	return ts.URL + basePath
}

func (f *azureFake) handle(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, pass, _ := r.BasicAuth(); pass != "pat" {
		w.WriteHeader(http.StatusNonAuthoritativeInfo)

		return
	}

	rest := strings.TrimPrefix(r.URL.Path, basePath)
	if rest == "" {
		w.WriteHeader(http.StatusOK)

		return
	}

	parts := strings.Split(strings.Trim(rest, "/"), "/")
	repo, resource := parts[0], strings.Join(parts[1:], "/")
	q := r.URL.Query()

	switch {
	case resource == "refs" && r.Method == http.MethodGet:
		prefix := "refs/" + q.Get("filter")

		var value []map[string]string

		for name, id := range f.refs[repo] {
			if strings.HasPrefix(name, prefix) {
				value = append(value, map[string]string{
					"name": name, "objectId": id,
				})
			}
		}

		reply(w, http.StatusOK, map[string]any{"value": value})
	case resource == "refs" && r.Method == http.MethodPost:
		var updates []map[string]string
		_ = json.NewDecoder(r.Body).Decode(&updates)

		for _, u := range updates {
			f.refs[repo][u["name"]] = u["newObjectId"]
		}

		reply(w, http.StatusOK, map[string]any{
			"value": []map[string]any{{"success": true}},
		})
	case resource == "diffs/commits":
		counts := f.changes[repo]
		if counts == nil {
			counts = map[string]int{}
		}

		reply(w, http.StatusOK, map[string]any{"changeCounts": counts})
	case resource == "commits":
		id := f.refs[repo]["refs/heads/"+
			q.Get("searchCriteria.itemVersion.version")]
		reply(w, http.StatusOK, map[string]any{
			"value": []map[string]string{{"commitId": id}},
		})
	case resource == "pullrequests" && r.Method == http.MethodGet:
		reply(w, http.StatusOK, map[string]any{"value": f.prs[repo]})
	case resource == "pullrequests" && r.Method == http.MethodPost:
		var pr map[string]any
		_ = json.NewDecoder(r.Body).Decode(&pr)

		pr["pullRequestId"] = len(f.prs[repo]) + 1
		pr["url"] = fmt.Sprintf("https://azure.example/%s/pr", repo)
		f.prs[repo] = append(f.prs[repo], pr)

		reply(w, http.StatusCreated, pr)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (f *azureFake) pullRequests(repo string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.prs[repo])
}

func (f *azureFake) stagingBranches(repo string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	var names []string

	for name := range f.refs[repo] {
		if strings.Contains(name, "-intermediate-") {
			names = append(names, name)
		}
	}

	return names
}

func reply(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type env struct {
	fake      *azureFake
	dir       string
	config    string
	credsFile string
}

func newEnv(t *testing.T, override map[string]any) env {
	t.Helper()

	fake := newAzureFake()
	dir := t.TempDir()
	credsFile := filepath.Join(dir, "pat")

	settings := map[string]any{
		"BaseUrl":           fake.serve(t),
		"SourceBranch":      "develop",
		"TargetBranch":      "main",
		"Repositories":      []string{"api", "docs", "old"},
		"PAT":               "pat",
		"CredentialFile":    credsFile,
		"RequestsPerSecond": 0,
	}

	for k, v := range override {
		settings[k] = v
	}

	by, err := json.Marshal(settings)
	require.NoError(t, err)

	path := filepath.Join(dir, "appsettings.json")
	require.NoError(t, os.WriteFile(path, by, 0o600))

	return env{
		fake:      fake,
		dir:       dir,
		config:    path,
		credsFile: credsFile,
	}
}

func execute(
	t *testing.T,
	stdin string,
	args ...string,
) (string, string, error) {
	t.Helper()

	var out, errOut bytes.Buffer

	cmd := newRootCmd(streams{
		in:  strings.NewReader(stdin),
		out: &out,
		err: &errOut,
	})
	cmd.SetArgs(args)

	err := cmd.ExecuteContext(context.Background())

	return out.String(), errOut.String(), err
}

func TestRun_creates_after_confirmation(t *testing.T) {
	t.Parallel()

	e := newEnv(t, nil)

	out, errOut, err := execute(
		t, "y\n", "run", "--config", e.config,
	)
	require.NoError(t, err)

	assert.Contains(
		t, out,
		"Repository: api, Source Branch: develop, Target Branch: main\n",
	)
	assert.Contains(t, out, "Repository: docs\n")
	assert.Contains(t, out, "Repository: old, Branch: develop does not exist")
	assert.Contains(t, out, "Repository: old, Branch: main does not exist")
	assert.Contains(t, out, "Status: created")
	assert.Contains(t, errOut, "Do you want to create the above pull requests?")

	assert.Equal(t, 1, e.fake.pullRequests("api"))
	assert.Len(t, e.fake.stagingBranches("api"), 1)
	assert.Zero(t, e.fake.pullRequests("docs"))
}

func TestRun_rerun_sees_existing_pull_request(t *testing.T) {
	t.Parallel()

	e := newEnv(t, nil)

	_, _, err := execute(t, "", "--yes", "--config", e.config)
	require.NoError(t, err)

	out, _, err := execute(
		t, "", "run", "--yes", "--config", e.config,
	)
	require.NoError(t, err)

	assert.Contains(
		t, out,
		"----------------- Repositories with Existing Pull Requests -----------------\n"+
			"Repository: api, Source Branch: develop, Target Branch: main\n",
	)
	assert.NotContains(t, out, "Pull Request Creation")
	assert.Equal(t, 1, e.fake.pullRequests("api"))
}

func TestRun_declined(t *testing.T) {
	t.Parallel()

	e := newEnv(t, nil)

	_, _, err := execute(t, "n\n", "run", "--config", e.config)

	require.NoError(t, err)
	assert.Zero(t, e.fake.pullRequests("api"))
	assert.Empty(t, e.fake.stagingBranches("api"))
}

func TestRun_dry_run(t *testing.T) {
	t.Parallel()

	e := newEnv(t, nil)

	_, errOut, err := execute(
		t, "y\n", "run", "--yes", "--dry-run", "--config", e.config,
	)

	require.NoError(t, err)
	assert.NotContains(t, errOut, "Do you want")
	assert.Zero(t, e.fake.pullRequests("api"))
}

func TestPlan_never_creates(t *testing.T) {
	t.Parallel()

	e := newEnv(t, nil)
	metricsFile := filepath.Join(e.dir, "prbot.prom")

	out, _, err := execute(
		t, "y\n",
		"plan",
		"--config", e.config,
		"--report-format", "json",
		"--metrics-file", metricsFile,
		"--parallelism", "3",
	)
	require.NoError(t, err)

	var doc map[string][]map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &doc))
	assert.Equal(t, "api", doc["needsPr"][0]["repository"])
	assert.Len(t, doc["missingBranch"], 2)
	assert.Zero(t, e.fake.pullRequests("api"))

	by, err := os.ReadFile(metricsFile)
	require.NoError(t, err)
	assert.Contains(
		t, string(by),
		`prbot_repository_outcomes_total{kind="needs_pr"} 1`,
	)
	assert.Contains(
		t, string(by),
		`prbot_credential_attempts_total{result="valid"} 1`,
	)
}

func TestRun_rejected_credential_exhausts_attempts(t *testing.T) {
	t.Parallel()

	e := newEnv(t, map[string]any{
		"PAT":                   "expired",
		"CredentialCommand":     "echo also-expired",
		"MaxCredentialAttempts": 2,
	})

	_, _, err := execute(t, "", "run", "--config", e.config)

	require.Error(t, err)
	assert.ErrorContains(t, err, "credential attempts exhausted")
}

func TestRun_invalid_configuration(t *testing.T) {
	t.Parallel()

	e := newEnv(t, map[string]any{"SourceBranch": ""})

	_, _, err := execute(t, "", "run", "--config", e.config)

	assert.ErrorContains(t, err, "SourceBranch must be set")
}

func TestRun_bad_log_level(t *testing.T) {
	t.Parallel()

	e := newEnv(t, nil)

	_, _, err := execute(
		t, "", "run", "--config", e.config, "--log-level", "loud",
	)

	assert.ErrorContains(t, err, "--log-level")
}

func TestCredentialForget(t *testing.T) {
	t.Parallel()

	e := newEnv(t, nil)
	require.NoError(t, os.WriteFile(e.credsFile, []byte("old"), 0o600))

	_, _, err := execute(
		t, "", "credential", "forget", "--config", e.config,
	)
	require.NoError(t, err)

	_, err = os.Stat(e.credsFile)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestRun_title_uses_template_vars_file(t *testing.T) {
	t.Parallel()

	varsFile := filepath.Join(t.TempDir(), "vars.txt")
	require.NoError(t, os.WriteFile(
		varsFile, []byte("team platform\n"), 0o600,
	))

	e := newEnv(t, map[string]any{
		"PullRequestTitle":  "[{{team}}] {{source}} to {{target}}",
		"TemplateVarsFiles": []string{varsFile},
	})

	_, _, err := execute(t, "", "run", "--yes", "--config", e.config)
	require.NoError(t, err)

	e.fake.mu.Lock()
	defer e.fake.mu.Unlock()

	require.Len(t, e.fake.prs["api"], 1)
	assert.Equal(
		t, "[platform] develop to main", e.fake.prs["api"][0]["title"],
	)
}
