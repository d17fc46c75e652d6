package reconciler_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/byte4ever/prbot/gitops/git"
	"github.com/byte4ever/prbot/gitops/git/azure"
	"github.com/byte4ever/prbot/gitops/git/gittest"
	"github.com/byte4ever/prbot/gitops/reconciler"
)

// queueSource hands out tokens in order, the last one
// repeating, and counts discards.
type queueSource struct {
	mu       sync.Mutex
	tokens   []string
	next     int
	discards int
	err      error
}

func (q *queueSource) Credential(
	context.Context,
) (git.Credential, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.err != nil {
		return git.Credential{}, q.err
	}

	tok := q.tokens[min(q.next, len(q.tokens)-1)]
	q.next++

	return git.NewCredential(tok), nil
}

func (q *queueSource) Discard() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.discards++

	return nil
}

// acceptOnly accepts the good token and answers every
// other one the way a 203 would be reported.
func acceptOnly(good string, provider git.Provider) git.Connector {
	return git.ConnectorFunc(
		func(
			_ context.Context,
			cred git.Credential,
		) (git.Provider, error) {
			if cred.Token() == good {
				return provider, nil
			}

			return nil, fmt.Errorf(
				"status 203: %w", git.ErrInvalidCredential,
			)
		},
	)
}

func TestAuthenticate_retries_until_valid(t *testing.T) {
	t.Parallel()

	fake := gittest.NewFake()
	src := &queueSource{tokens: []string{"bad1", "bad2", "good"}}

	provider, err := reconciler.Authenticate(
		context.Background(),
		acceptOnly("good", fake),
		src,
		reconciler.CredentialPolicy{},
	)

	require.NoError(t, err)
	assert.Same(t, fake, provider)
	assert.Equal(t, 2, src.discards)
	assert.Equal(t, 3, src.next)
}

func TestAuthenticate_attempts_exhausted(t *testing.T) {
	t.Parallel()

	src := &queueSource{tokens: []string{"bad"}}

	provider, err := reconciler.Authenticate(
		context.Background(),
		acceptOnly("good", gittest.NewFake()),
		src,
		reconciler.CredentialPolicy{MaxAttempts: 3},
	)

	assert.Nil(t, provider)
	require.ErrorIs(t, err, reconciler.ErrCredentialAttemptsExhausted)
	require.ErrorIs(t, err, git.ErrInvalidCredential)
	assert.ErrorContains(t, err, "3 attempts")
	assert.Equal(t, 3, src.discards)
}

func TestAuthenticate_other_error_is_fatal(t *testing.T) {
	t.Parallel()

	boom := errors.New("connection refused")
	src := &queueSource{tokens: []string{"any"}}

	_, err := reconciler.Authenticate(
		context.Background(),
		git.ConnectorFunc(
			func(
				context.Context,
				git.Credential,
			) (git.Provider, error) {
				return nil, boom
			},
		),
		src,
		reconciler.CredentialPolicy{},
	)

	require.ErrorIs(t, err, boom)
	assert.Zero(t, src.discards)
	assert.Equal(t, 1, src.next)
}

func TestAuthenticate_source_error(t *testing.T) {
	t.Parallel()

	src := &queueSource{err: errors.New("no terminal")}

	_, err := reconciler.Authenticate(
		context.Background(),
		acceptOnly("good", gittest.NewFake()),
		src,
		reconciler.CredentialPolicy{},
	)

	assert.ErrorContains(t, err, "obtain credential: no terminal")
}

func TestAuthenticate_cancelled_during_delay(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(
		context.Background(), 20*time.Millisecond,
	)
	defer cancel()

	src := &queueSource{tokens: []string{"bad"}}

	_, err := reconciler.Authenticate(
		ctx,
		acceptOnly("good", gittest.NewFake()),
		src,
		reconciler.CredentialPolicy{RetryDelay: time.Hour},
	)

	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, src.discards)
}

func TestAuthenticate_azure_non_authoritative(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(
		http.HandlerFunc(
			func(w http.ResponseWriter, r *http.Request) {
				_, pass, _ := r.BasicAuth()
				if pass == "fresh" {
					w.WriteHeader(http.StatusOK)

					return
				}

				w.WriteHeader(http.StatusNonAuthoritativeInfo)
			},
		),
	)
	t.Cleanup(ts.Close)

	cl, err := azure.NewClient(azure.Config{
		BaseURL: ts.URL + "/org/proj/_apis/git/repositories",
	})
	require.NoError(t, err)

	src := &queueSource{tokens: []string{"expired", "fresh"}}

	provider, err := reconciler.Authenticate(
		context.Background(), cl, src, reconciler.CredentialPolicy{},
	)

	require.NoError(t, err)
	assert.NotNil(t, provider)
	assert.Equal(t, 1, src.discards)
}
