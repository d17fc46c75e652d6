package templating

import (
	"fmt"
	"os"
	"strings"

	"github.com/valyala/fasttemplate"
)

// Variable names available to pull request templates.
const (
	VarRepository   = "repository"
	VarSource       = "source"
	VarTarget       = "target"
	VarIntermediate = "intermediate"
	VarCommit       = "commit"
)

// filePrefix marks a template value that names a file
// holding the template text.
const filePrefix = "@"

// Engine expands pull request title and description
// templates.
type Engine struct {
	StartTag string
	EndTag   string
	// Vars are available to every template. Values
	// passed to Render take precedence.
	Vars map[string]string
}

// Render substitutes variables in tpl. Unknown
// placeholders are preserved as-is.
func (en *Engine) Render(
	tpl string,
	vars map[string]string,
) string {
	ctx := make(map[string]interface{}, len(en.Vars)+len(vars))

	for key, val := range en.Vars {
		ctx[key] = val
	}

	for key, val := range vars {
		ctx[key] = val
	}

	startTag, endTag := en.tags()

	return fasttemplate.ExecuteStringStd(
		tpl, startTag, endTag, ctx,
	)
}

// tags returns the configured start/end tags, falling
// back to double-brace defaults.
func (en *Engine) tags() (string, string) {
	startTag := en.StartTag
	if startTag == "" {
		startTag = "{{"
	}

	endTag := en.EndTag
	if endTag == "" {
		endTag = "}}"
	}

	return startTag, endTag
}

// Load resolves a configured template value. A value
// of the form "@path" is replaced by the content of
// the file at path; anything else is returned as is.
func Load(value string) (string, error) {
	const errCtx = "loading template"

	path, ok := strings.CutPrefix(value, filePrefix)
	if !ok {
		return value, nil
	}

	if path == "" {
		return "", fmt.Errorf(
			"%s: empty file reference", errCtx,
		)
	}

	content, err := os.ReadFile(path) //nolint:gosec // path from configuration
	if err != nil {
		return "", fmt.Errorf(
			"%s: %w", errCtx, err,
		)
	}

	return strings.TrimRight(string(content), "\n"), nil
}
