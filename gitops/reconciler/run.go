package reconciler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/byte4ever/prbot/gitops/git"
	"github.com/byte4ever/prbot/gitops/metrics"
)

// ConfirmPrompt gates the creation phase.
const ConfirmPrompt = "Do you want to create the above pull requests? (y/N)"

// ReportSink renders a classification Result for the
// operator.
type ReportSink interface {
	Report(res Result) error
}

// ReportSinkFunc adapts a plain function to the
// ReportSink interface.
type ReportSinkFunc func(res Result) error

// Report calls f.
func (f ReportSinkFunc) Report(res Result) error {
	return f(res)
}

// Confirmer asks the operator a yes/no question.
type Confirmer interface {
	Confirm(question string) (bool, error)
}

// Config holds everything one reconciliation pass
// needs.
type Config struct {
	Connector   git.Connector
	Credentials CredentialSource
	Policy      CredentialPolicy
	Targets     []git.RepositoryTarget
	Options     Options
	Sink        ReportSink
	// Confirmer gates creation unless AssumeYes is
	// set. A nil Confirmer declines.
	Confirmer Confirmer
	AssumeYes bool
	// DryRun classifies and reports only.
	DryRun bool
}

// Run performs one reconciliation pass: authenticate,
// classify, report, then, when NeedsPR is non-empty
// and the operator agrees, create the pull requests
// one at a time in list order. Creation failures are
// reported in Result.Creations, never as an error.
func Run(ctx context.Context, cfg Config) (Result, error) {
	const errCtx = "running reconciliation"

	if cfg.Connector == nil || cfg.Credentials == nil {
		return Result{}, fmt.Errorf(
			"%s: connector and credential source must be set",
			errCtx,
		)
	}

	recorder := cfg.Options.Recorder
	if recorder == nil {
		recorder = metrics.NoOpRecorder{}
		cfg.Options.Recorder = recorder
	}

	if cfg.Policy.Recorder == nil {
		cfg.Policy.Recorder = recorder
	}

	start := time.Now()
	defer func() {
		recorder.RecordRunDuration(time.Since(start))
	}()

	provider, err := Authenticate(
		ctx, cfg.Connector, cfg.Credentials, cfg.Policy,
	)
	if err != nil {
		return Result{}, fmt.Errorf("%s: %w", errCtx, err)
	}

	rec, err := New(provider, cfg.Options)
	if err != nil {
		return Result{}, fmt.Errorf("%s: %w", errCtx, err)
	}

	res, err := rec.Classify(ctx, cfg.Targets)
	if err != nil {
		return res, fmt.Errorf("%s: %w", errCtx, err)
	}

	if cfg.Sink != nil {
		if err := cfg.Sink.Report(res); err != nil {
			return res, fmt.Errorf(
				"%s: report: %w", errCtx, err,
			)
		}
	}

	if len(res.NeedsPR) == 0 {
		slog.Info("no pull requests needed")

		return res, nil
	}

	if cfg.DryRun {
		slog.Info(
			"dry run: skipping pull request creation",
			"count", len(res.NeedsPR),
		)

		return res, nil
	}

	ok, err := confirmed(cfg)
	if err != nil {
		return res, fmt.Errorf("%s: %w", errCtx, err)
	}

	if !ok {
		slog.Info("pull request creation declined")

		return res, nil
	}

	res.Creations = rec.CreateAll(ctx, res.NeedsPR)

	return res, nil
}

func confirmed(cfg Config) (bool, error) {
	if cfg.AssumeYes {
		return true, nil
	}

	if cfg.Confirmer == nil {
		return false, nil
	}

	ok, err := cfg.Confirmer.Confirm(ConfirmPrompt)
	if err != nil {
		return false, fmt.Errorf("confirm: %w", err)
	}

	return ok, nil
}
