package templating

import (
	"fmt"
	"os"
	"strings"
)

// LoadVars reads key/value files into template
// variables. Each line is "KEY VALUE" split at the first
// space; blank lines, lines starting with '#' and lines
// without a space are skipped. Later files override
// earlier ones.
func LoadVars(files []string) (map[string]string, error) {
	const errCtx = "loading template variables"

	vars := make(map[string]string)

	for _, f := range files {
		content, err := os.ReadFile(f) //nolint:gosec // paths from configuration
		if err != nil {
			return nil, fmt.Errorf("%s: %w", errCtx, err)
		}

		for _, line := range strings.Split(string(content), "\n") {
			line = strings.TrimSpace(line)
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}

			key, value, ok := strings.Cut(line, " ")
			if !ok {
				continue
			}

			vars[key] = strings.TrimSpace(value)
		}
	}

	return vars, nil
}
