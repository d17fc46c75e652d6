package reconciler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/byte4ever/prbot/gitops/git"
	"github.com/byte4ever/prbot/gitops/metrics"
)

// ErrCredentialAttemptsExhausted reports that every
// allowed credential was rejected.
var ErrCredentialAttemptsExhausted = errors.New(
	"credential attempts exhausted",
)

// CredentialSource supplies credentials and forgets
// the stored one once it has been rejected.
type CredentialSource interface {
	Credential(ctx context.Context) (git.Credential, error)
	Discard() error
}

// CredentialPolicy bounds the credential validation
// loop.
type CredentialPolicy struct {
	// MaxAttempts caps validations. Zero means no
	// cap; the loop then ends only on success, on
	// ctx cancellation or when the source fails.
	MaxAttempts int
	// RetryDelay is waited between a rejection and
	// the next attempt.
	RetryDelay time.Duration
	// Recorder defaults to metrics.NoOpRecorder.
	Recorder metrics.Recorder
}

// Authenticate obtains a credential from source and
// validates it through connector until one is
// accepted. Each rejection (git.ErrInvalidCredential,
// which covers 203 responses) discards the stored
// credential before asking for a fresh one. Any other
// connection failure ends the loop.
func Authenticate(
	ctx context.Context,
	connector git.Connector,
	source CredentialSource,
	policy CredentialPolicy,
) (git.Provider, error) {
	const errCtx = "authenticating"

	recorder := policy.Recorder
	if recorder == nil {
		recorder = metrics.NoOpRecorder{}
	}

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%s: %w", errCtx, err)
		}

		cred, err := source.Credential(ctx)
		if err != nil {
			return nil, fmt.Errorf(
				"%s: obtain credential: %w", errCtx, err,
			)
		}

		provider, err := connector.Connect(ctx, cred)
		if err == nil {
			recorder.RecordCredentialAttempt("valid")
			slog.Debug("credential accepted", "attempt", attempt)

			return provider, nil
		}

		if !errors.Is(err, git.ErrInvalidCredential) {
			return nil, fmt.Errorf("%s: %w", errCtx, err)
		}

		recorder.RecordCredentialAttempt("invalid")
		slog.Warn(
			"credential rejected, requesting a new one",
			"attempt", attempt,
			"error", err,
		)

		if err := source.Discard(); err != nil {
			return nil, fmt.Errorf(
				"%s: discard credential: %w", errCtx, err,
			)
		}

		if policy.MaxAttempts > 0 &&
			attempt >= policy.MaxAttempts {
			return nil, fmt.Errorf(
				"%s: %d attempts: %w: %w",
				errCtx, attempt,
				ErrCredentialAttemptsExhausted, err,
			)
		}

		if err := sleep(ctx, policy.RetryDelay); err != nil {
			return nil, fmt.Errorf("%s: %w", errCtx, err)
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
