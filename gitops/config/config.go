package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/byte4ever/prbot/gitops/branchname"
	"github.com/byte4ever/prbot/gitops/git"
	"github.com/byte4ever/prbot/gitops/pullrequest"
	"github.com/byte4ever/prbot/gitops/report"
)

// Defaults.
const (
	DefaultFile       = "appsettings.json"
	EnvPrefix         = "PRBOT"
	DefaultAPIVersion = "7.1"
)

// Providers.
const (
	ProviderAzure  = "azure"
	ProviderGitHub = "github"
	ProviderGitLab = "gitlab"
)

// Settings is the decoded bot configuration. Keys are
// matched case-insensitively, so "BaseUrl" in the file
// and PRBOT_BASEURL in the environment both set BaseURL.
type Settings struct {
	Provider   string `mapstructure:"Provider"`
	BaseURL    string `mapstructure:"BaseUrl"`
	APIVersion string `mapstructure:"ApiVersion"`
	Owner      string `mapstructure:"Owner"`
	Host       string `mapstructure:"Host"`

	SourceBranch string   `mapstructure:"SourceBranch"`
	TargetBranch string   `mapstructure:"TargetBranch"`
	Repositories []string `mapstructure:"Repositories"`

	PAT                   string        `mapstructure:"PAT"`
	CredentialFile        string        `mapstructure:"CredentialFile"`
	CredentialCommand     string        `mapstructure:"CredentialCommand"`
	MaxCredentialAttempts int           `mapstructure:"MaxCredentialAttempts"`
	CredentialRetryDelay  time.Duration `mapstructure:"CredentialRetryDelay"`

	StagingTag    string            `mapstructure:"StagingTag"`
	StagingBucket branchname.Bucket `mapstructure:"StagingBucket"`

	Parallelism       int           `mapstructure:"Parallelism"`
	RequestsPerSecond float64       `mapstructure:"RequestsPerSecond"`
	RequestTimeout    time.Duration `mapstructure:"RequestTimeout"`

	PullRequestTitle       string `mapstructure:"PullRequestTitle"`
	PullRequestDescription string `mapstructure:"PullRequestDescription"`
	// TemplateVarsFiles hold extra "KEY VALUE" template
	// variables.
	TemplateVarsFiles []string `mapstructure:"TemplateVarsFiles"`

	ReportFormat string `mapstructure:"ReportFormat"`
	MetricsFile  string `mapstructure:"MetricsFile"`
}

func defaults() map[string]any {
	return map[string]any{
		"Provider":               ProviderAzure,
		"BaseUrl":                "",
		"ApiVersion":             DefaultAPIVersion,
		"Owner":                  "",
		"Host":                   "",
		"SourceBranch":           "",
		"TargetBranch":           "",
		"Repositories":           []string{},
		"PAT":                    "",
		"CredentialFile":         "",
		"CredentialCommand":      "",
		"MaxCredentialAttempts":  0,
		"CredentialRetryDelay":   "0s",
		"StagingTag":             branchname.DefaultTag,
		"StagingBucket":          branchname.BucketDaily.String(),
		"Parallelism":            1,
		"RequestsPerSecond":      10.0,
		"RequestTimeout":         "30s",
		"PullRequestTitle":       pullrequest.DefaultTitle,
		"PullRequestDescription": pullrequest.DefaultDescription,
		"TemplateVarsFiles":      []string{},
		"ReportFormat":           report.FormatText,
		"MetricsFile":            "",
	}
}

// Load reads path, then the environment, into Settings.
// When path is empty DefaultFile is read if it exists;
// an explicit path must exist. Load does not validate.
func Load(path string) (Settings, error) {
	const errCtx = "loading configuration"

	v := viper.New()

	for key, value := range defaults() {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	file := path
	if file == "" {
		file = DefaultFile

		if _, err := os.Stat(file); errors.Is(err, fs.ErrNotExist) {
			file = ""
		}
	}

	if file != "" {
		v.SetConfigFile(file)
		v.SetConfigType("json")

		if err := v.ReadInConfig(); err != nil {
			return Settings{}, fmt.Errorf(
				"%s: read %s: %w", errCtx, file, err,
			)
		}
	}

	var s Settings
	if err := v.Unmarshal(
		&s,
		viper.DecodeHook(decodeHook()),
	); err != nil {
		return Settings{}, fmt.Errorf(
			"%s: decode: %w", errCtx, err,
		)
	}

	s.normalize()

	return s, nil
}

func decodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		stringToBucketHookFunc(),
	)
}

// stringToBucketHookFunc decodes "daily" or "minute"
// into a branchname.Bucket.
func stringToBucketHookFunc() mapstructure.DecodeHookFuncType {
	return func(
		from reflect.Type,
		to reflect.Type,
		data any,
	) (any, error) {
		if from.Kind() != reflect.String ||
			to != reflect.TypeOf(branchname.BucketDaily) {
			return data, nil
		}

		s, _ := data.(string)

		return branchname.ParseBucket(s)
	}
}

func (s *Settings) normalize() {
	repos := make([]string, 0, len(s.Repositories))

	for _, r := range s.Repositories {
		if r = strings.TrimSpace(r); r != "" {
			repos = append(repos, r)
		}
	}

	s.Repositories = repos
	s.Provider = strings.ToLower(strings.TrimSpace(s.Provider))
	s.ReportFormat = strings.ToLower(
		strings.TrimSpace(s.ReportFormat),
	)
}

// Validate reports every missing or malformed value at
// once.
func (s Settings) Validate() error {
	var errs []error

	required := func(key, value string) {
		if strings.TrimSpace(value) == "" {
			errs = append(errs, fmt.Errorf("%s must be set", key))
		}
	}

	required("SourceBranch", s.SourceBranch)
	required("TargetBranch", s.TargetBranch)

	if len(s.Repositories) == 0 {
		errs = append(errs, errors.New("Repositories must be set"))
	}

	switch s.Provider {
	case ProviderAzure:
		required("BaseUrl", s.BaseURL)
	case ProviderGitHub:
		required("Owner", s.Owner)
	case ProviderGitLab:
	default:
		errs = append(errs, fmt.Errorf(
			"Provider %q is not one of azure, github, gitlab",
			s.Provider,
		))
	}

	switch s.ReportFormat {
	case report.FormatText, report.FormatJSON, report.FormatYAML:
	default:
		errs = append(errs, fmt.Errorf(
			"ReportFormat %q is not one of text, json, yaml",
			s.ReportFormat,
		))
	}

	if s.Parallelism < 1 {
		errs = append(errs, errors.New("Parallelism must be at least 1"))
	}

	if s.MaxCredentialAttempts < 0 {
		errs = append(errs, errors.New(
			"MaxCredentialAttempts must not be negative",
		))
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	return nil
}

// Scheme returns the staging branch naming scheme.
func (s Settings) Scheme() branchname.Scheme {
	return branchname.Scheme{
		Tag:    s.StagingTag,
		Bucket: s.StagingBucket,
	}
}

// Targets pairs every configured repository with the
// source and target branches.
func (s Settings) Targets() []git.RepositoryTarget {
	targets := make([]git.RepositoryTarget, 0, len(s.Repositories))

	for _, repo := range s.Repositories {
		targets = append(targets, git.RepositoryTarget{
			RepositoryID: repo,
			SourceBranch: s.SourceBranch,
			TargetBranch: s.TargetBranch,
		})
	}

	return targets
}
