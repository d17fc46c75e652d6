package credential

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/term"

	"github.com/byte4ever/prbot/gitops/exec"
	"github.com/byte4ever/prbot/gitops/git"
)

const (
	fileMode = 0o600
	dirMode  = 0o700

	// PromptText asks the operator for a token.
	PromptText = "Enter your personal access token: "
)

// ErrNoTerminal reports that a token had to be prompted
// for but standard input is not a terminal.
var ErrNoTerminal = errors.New(
	"no credential available and stdin is not a terminal",
)

// Origin names the source that produced a token.
type Origin int

// Token sources, in the order they are tried.
const (
	OriginNone Origin = iota
	OriginStatic
	OriginCommand
	OriginFile
	OriginPrompt
)

// String returns the origin name used in logs.
func (o Origin) String() string {
	switch o {
	case OriginStatic:
		return "config"
	case OriginCommand:
		return "command"
	case OriginFile:
		return "file"
	case OriginPrompt:
		return "prompt"
	default:
		return "none"
	}
}

// ReadSecretFunc reads one masked line from the operator.
type ReadSecretFunc func() (string, error)

// Config selects the token sources of a Store.
type Config struct {
	// Static is a token taken from configuration or the
	// environment.
	Static string
	// Command is run through the shell; its trimmed
	// stdout is the token.
	Command string
	// File stores a prompted token. Defaults to
	// DefaultFile().
	File string
	// Prompt receives PromptText. Defaults to os.Stderr.
	Prompt io.Writer
	// ReadSecret defaults to a masked read of stdin
	// through golang.org/x/term.
	ReadSecret ReadSecretFunc
}

// Store hands out tokens and forgets rejected ones.
//
// Pattern: Chain of Responsibility -- each source is
// asked in turn until one yields a token.
type Store struct {
	cfg Config

	mu   sync.Mutex
	skip map[Origin]bool
	last Origin
}

// DefaultFile returns $XDG_CONFIG_HOME/prbot/pat, or the
// platform equivalent.
func DefaultFile() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf(
			"locating credential file: %w", err,
		)
	}

	return filepath.Join(dir, "prbot", "pat"), nil
}

// NewStore validates cfg and fills in its defaults.
func NewStore(cfg Config) (*Store, error) {
	const errCtx = "creating credential store"

	if cfg.File == "" {
		file, err := DefaultFile()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", errCtx, err)
		}

		cfg.File = file
	}

	if cfg.Prompt == nil {
		cfg.Prompt = os.Stderr
	}

	if cfg.ReadSecret == nil {
		cfg.ReadSecret = readTerminal
	}

	return &Store{
		cfg:  cfg,
		skip: make(map[Origin]bool),
	}, nil
}

// File returns the path of the stored token.
func (s *Store) File() string {
	return s.cfg.File
}

// Credential returns the first token any remaining
// source yields.
func (s *Store) Credential(
	ctx context.Context,
) (git.Credential, error) {
	const errCtx = "obtaining credential"

	s.mu.Lock()
	defer s.mu.Unlock()

	token, origin, err := s.resolve(ctx)
	if err != nil {
		return git.Credential{}, fmt.Errorf("%s: %w", errCtx, err)
	}

	s.last = origin

	slog.Debug("credential obtained", "origin", origin.String())

	return git.NewCredential(token), nil
}

func (s *Store) resolve(
	ctx context.Context,
) (string, Origin, error) {
	if s.cfg.Static != "" && !s.skip[OriginStatic] {
		return s.cfg.Static, OriginStatic, nil
	}

	if s.cfg.Command != "" && !s.skip[OriginCommand] {
		token, err := exec.Ex(ctx, "", s.cfg.Command)
		if err != nil {
			return "", OriginNone, err
		}

		if token != "" {
			return token, OriginCommand, nil
		}

		slog.Warn("credential command printed nothing")
	}

	token, err := s.readFile()
	if err != nil {
		return "", OriginNone, err
	}

	if token != "" {
		return token, OriginFile, nil
	}

	return s.prompt()
}

func (s *Store) readFile() (string, error) {
	by, err := os.ReadFile(s.cfg.File)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}

	if err != nil {
		return "", fmt.Errorf("read %s: %w", s.cfg.File, err)
	}

	return strings.TrimSpace(string(by)), nil
}

func (s *Store) prompt() (string, Origin, error) {
	if _, err := io.WriteString(
		s.cfg.Prompt, PromptText,
	); err != nil {
		return "", OriginNone, fmt.Errorf("prompt: %w", err)
	}

	token, err := s.cfg.ReadSecret()

	// The masked read swallows the operator's newline.
	_, _ = io.WriteString(s.cfg.Prompt, "\n")

	if err != nil {
		return "", OriginNone, fmt.Errorf("read token: %w", err)
	}

	token = strings.TrimSpace(token)
	if token == "" {
		return "", OriginNone, errors.New("empty token entered")
	}

	if err := s.save(token); err != nil {
		return "", OriginNone, err
	}

	return token, OriginPrompt, nil
}

func (s *Store) save(token string) error {
	if err := os.MkdirAll(
		filepath.Dir(s.cfg.File), dirMode,
	); err != nil {
		return fmt.Errorf("store token: %w", err)
	}

	if err := os.WriteFile(
		s.cfg.File, []byte(token+"\n"), fileMode,
	); err != nil {
		return fmt.Errorf("store token: %w", err)
	}

	return nil
}

// Discard forgets the source of the last token. The
// stored file is removed when it, or the prompt that
// wrote it, was that source; a configured token or
// command is skipped from then on.
func (s *Store) Discard() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	origin := s.last
	s.last = OriginNone

	switch origin {
	case OriginStatic, OriginCommand:
		s.skip[origin] = true

		return nil
	case OriginFile, OriginPrompt:
		return s.removeFile()
	default:
		return nil
	}
}

// Forget removes the stored token file. A missing file
// is not an error.
func (s *Store) Forget() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.removeFile()
}

func (s *Store) removeFile() error {
	err := os.Remove(s.cfg.File)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("discard credential: %w", err)
	}

	slog.Info("stored credential removed", "file", s.cfg.File)

	return nil
}

func readTerminal() (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", ErrNoTerminal
	}

	by, err := term.ReadPassword(fd)
	if err != nil {
		return "", fmt.Errorf("masked read: %w", err)
	}

	return string(by), nil
}
