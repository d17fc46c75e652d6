// Package exec runs helper commands whose standard output
// is consumed by the bot, such as a credential helper.
package exec

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
)

// Ex runs command through "sh -c" in dir and returns its
// standard output with surrounding whitespace trimmed.
// Pass empty dir to use the current working directory.
//
// Output is never logged since it may hold a secret; on
// failure the error carries the command's stderr.
func Ex(
	ctx context.Context,
	dir string,
	command string,
) (string, error) {
	const errCtx = "executing command"

	if strings.TrimSpace(command) == "" {
		return "", fmt.Errorf("%s: command must be set", errCtx)
	}

	slog.Debug("executing", "cmd", command)

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	if dir != "" {
		cmd.Dir = dir
	}

	var stdout, stderr bytes.Buffer

	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf(
			"%s: %s: %w: %s",
			errCtx, command, err,
			strings.TrimSpace(stderr.String()),
		)
	}

	return strings.TrimSpace(stdout.String()), nil
}
