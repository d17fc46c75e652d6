package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/byte4ever/prbot/gitops/config"
	"github.com/byte4ever/prbot/gitops/credential"
	"github.com/byte4ever/prbot/gitops/git"
	"github.com/byte4ever/prbot/gitops/git/azure"
	"github.com/byte4ever/prbot/gitops/git/github"
	"github.com/byte4ever/prbot/gitops/git/gitlab"
	"github.com/byte4ever/prbot/gitops/metrics"
	"github.com/byte4ever/prbot/gitops/prompt"
	"github.com/byte4ever/prbot/gitops/reconciler"
	"github.com/byte4ever/prbot/gitops/report"
	"github.com/byte4ever/prbot/templating"
)

// errCreationFailed marks a pass in which at least one
// pull request could not be created.
var errCreationFailed = errors.New(
	"one or more pull requests could not be created",
)

// options holds the command line flags.
type options struct {
	configFile   string
	logLevel     string
	assumeYes    bool
	dryRun       bool
	reportFormat string
	metricsFile  string
	parallelism  int
}

func newRootCmd(s streams) *cobra.Command {
	o := &options{}

	root := &cobra.Command{
		Use:   "prbot",
		Short: "Open pull requests across a fleet of repositories",
		Long: `prbot compares a source branch with a target branch in every
configured repository. Repositories with pending changes and no open
pull request are listed; once confirmed, a staging branch is cut from
the source tip and a pull request is opened from it.

Settings come from appsettings.json (or --config) and PRBOT_*
environment variables.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return setupLogging(s, o.logLevel)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPass(cmd.Context(), s, o, false)
		},
	}

	root.SetIn(s.in)
	root.SetOut(s.out)
	root.SetErr(s.err)

	pf := root.PersistentFlags()
	pf.StringVar(
		&o.configFile, "config", "",
		"settings file (default "+config.DefaultFile+" if present)",
	)
	pf.StringVar(
		&o.logLevel, "log-level", "info",
		"log level: debug, info, warn or error",
	)

	addPassFlags(root.Flags(), o, true)

	root.AddCommand(
		newRunCmd(s, o),
		newPlanCmd(s, o),
		newCredentialCmd(s, o),
	)

	return root
}

func newRunCmd(s streams, o *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Classify repositories and create the needed pull requests",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPass(cmd.Context(), s, o, false)
		},
	}

	addPassFlags(cmd.Flags(), o, true)

	return cmd
}

func newPlanCmd(s streams, o *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Classify repositories and report; never create",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPass(cmd.Context(), s, o, true)
		},
	}

	addPassFlags(cmd.Flags(), o, false)

	return cmd
}

func newCredentialCmd(s streams, o *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credential",
		Short: "Manage the stored access token",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "forget",
		Short: "Delete the stored access token",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			return forgetCredential(s, o)
		},
	})

	return cmd
}

// addPassFlags registers the flags of a reconciliation
// pass. Creation flags are left out for plan.
func addPassFlags(fs *pflag.FlagSet, o *options, creating bool) {
	if creating {
		fs.BoolVarP(
			&o.assumeYes, "yes", "y", false,
			"create pull requests without asking",
		)
		fs.BoolVar(
			&o.dryRun, "dry-run", false,
			"classify and report only",
		)
	}

	fs.StringVar(
		&o.reportFormat, "report-format", "",
		"report format: text, json or yaml (overrides ReportFormat)",
	)
	fs.StringVar(
		&o.metricsFile, "metrics-file", "",
		"write Prometheus metrics to this file (overrides MetricsFile)",
	)
	fs.IntVar(
		&o.parallelism, "parallelism", 0,
		"repositories classified at once (overrides Parallelism)",
	)
}

func setupLogging(s streams, level string) error {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return fmt.Errorf("parsing --log-level: %w", err)
	}

	slog.SetDefault(slog.New(
		slog.NewTextHandler(s.err, &slog.HandlerOptions{
			Level: lvl,
		}),
	))

	return nil
}

func loadSettings(o *options) (config.Settings, error) {
	settings, err := config.Load(o.configFile)
	if err != nil {
		return config.Settings{}, err
	}

	if o.reportFormat != "" {
		settings.ReportFormat = o.reportFormat
	}

	if o.metricsFile != "" {
		settings.MetricsFile = o.metricsFile
	}

	if o.parallelism > 0 {
		settings.Parallelism = o.parallelism
	}

	return settings, nil
}

func newStore(
	s streams,
	settings config.Settings,
) (*credential.Store, error) {
	return credential.NewStore(credential.Config{
		Static:  settings.PAT,
		Command: settings.CredentialCommand,
		File:    settings.CredentialFile,
		Prompt:  s.err,
	})
}

// runPass performs one reconciliation pass. With plan set
// nothing is ever created.
//
//nolint:funlen // wiring of every component
func runPass(
	ctx context.Context,
	s streams,
	o *options,
	plan bool,
) error {
	const errCtx = "running prbot"

	settings, err := loadSettings(o)
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	if err := settings.Validate(); err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	connector, err := newConnector(settings)
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	store, err := newStore(s, settings)
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	sink, err := report.New(s.out, settings.ReportFormat)
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	title, err := templating.Load(settings.PullRequestTitle)
	if err != nil {
		return fmt.Errorf("%s: title: %w", errCtx, err)
	}

	description, err := templating.Load(
		settings.PullRequestDescription,
	)
	if err != nil {
		return fmt.Errorf("%s: description: %w", errCtx, err)
	}

	vars, err := templating.LoadVars(settings.TemplateVarsFiles)
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	recorder := metrics.New()

	res, runErr := reconciler.Run(ctx, reconciler.Config{
		Connector:   connector,
		Credentials: store,
		Policy: reconciler.CredentialPolicy{
			MaxAttempts: settings.MaxCredentialAttempts,
			RetryDelay:  settings.CredentialRetryDelay,
		},
		Targets: settings.Targets(),
		Options: reconciler.Options{
			Parallelism: settings.Parallelism,
			Scheme:      settings.Scheme(),
			Engine:      templating.Engine{Vars: vars},
			Title:       title,
			Description: description,
			Notice:      s.err,
			Recorder:    recorder,
		},
		Sink:      sink,
		Confirmer: prompt.NewConfirmer(s.in, s.err),
		AssumeYes: o.assumeYes && !plan,
		DryRun:    o.dryRun || plan,
	})

	if settings.MetricsFile != "" {
		if err := recorder.WriteToTextfile(
			settings.MetricsFile,
		); err != nil {
			slog.Warn("metrics not written", "error", err)
		}
	}

	if runErr != nil {
		return fmt.Errorf("%s: %w", errCtx, runErr)
	}

	if err := sink.ReportCreations(res.Creations); err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	if res.Failed() {
		return fmt.Errorf("%s: %w", errCtx, errCreationFailed)
	}

	return nil
}

func forgetCredential(s streams, o *options) error {
	const errCtx = "forgetting credential"

	settings, err := loadSettings(o)
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	store, err := newStore(s, settings)
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	if err := store.Forget(); err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	return nil
}

// newConnector selects the hosting API client.
//
// Pattern: Factory -- selects the platform
// implementation at runtime.
func newConnector(settings config.Settings) (git.Connector, error) {
	const errCtx = "creating connector"

	var (
		connector git.Connector
		err       error
	)

	switch settings.Provider {
	case config.ProviderAzure:
		connector, err = azure.NewClient(azure.Config{
			BaseURL:           settings.BaseURL,
			APIVersion:        settings.APIVersion,
			Timeout:           settings.RequestTimeout,
			RequestsPerSecond: settings.RequestsPerSecond,
		})
	case config.ProviderGitHub:
		connector, err = github.NewClient(github.Config{
			Owner:             settings.Owner,
			EnterpriseHost:    settings.Host,
			APIURL:            settings.BaseURL,
			Timeout:           settings.RequestTimeout,
			RequestsPerSecond: settings.RequestsPerSecond,
		})
	case config.ProviderGitLab:
		connector, err = gitlab.NewClient(gitlab.Config{
			Host:              settings.Host,
			Timeout:           settings.RequestTimeout,
			RequestsPerSecond: settings.RequestsPerSecond,
		})
	default:
		err = fmt.Errorf("unknown provider %q", settings.Provider)
	}

	if err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	return connector, nil
}
