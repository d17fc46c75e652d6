package report

import (
	"fmt"
	"io"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/goccy/go-yaml"

	"github.com/byte4ever/prbot/gitops/reconciler"
)

// Formats.
const (
	FormatText = "text"
	FormatJSON = "json"
	FormatYAML = "yaml"
)

const (
	rule    = "-----------------"
	closing = "-------------------------------------------------------"
)

var _ reconciler.ReportSink = (*Writer)(nil)

// Writer renders results to out in one format.
type Writer struct {
	out    io.Writer
	format string
}

// New returns a Writer for format. An empty format
// selects FormatText.
func New(out io.Writer, format string) (*Writer, error) {
	f := strings.ToLower(strings.TrimSpace(format))
	if f == "" {
		f = FormatText
	}

	switch f {
	case FormatText, FormatJSON, FormatYAML:
	default:
		return nil, fmt.Errorf(
			"creating report writer: unknown format %q", format,
		)
	}

	return &Writer{out: out, format: f}, nil
}

// Report writes the classification summary. It
// implements reconciler.ReportSink.
func (w *Writer) Report(res reconciler.Result) error {
	const errCtx = "writing report"

	var err error

	switch w.format {
	case FormatJSON:
		err = w.writeJSON(res)
	case FormatYAML:
		err = w.writeYAML(res)
	default:
		err = w.writeText(res)
	}

	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	return nil
}

// ReportCreations writes the outcome of the creation
// phase. Nothing is written when creations is empty.
func (w *Writer) ReportCreations(
	creations []reconciler.Creation,
) error {
	const errCtx = "writing creation report"

	if len(creations) == 0 {
		return nil
	}

	doc := struct {
		Creations []reconciler.Creation `json:"creations" yaml:"creations"`
	}{Creations: creations}

	var err error

	switch w.format {
	case FormatJSON:
		err = w.writeJSON(doc)
	case FormatYAML:
		err = w.writeYAML(doc)
	default:
		err = w.writeCreationsText(creations)
	}

	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	return nil
}

func (w *Writer) writeJSON(v any) error {
	by, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode json: %w", err)
	}

	_, err = fmt.Fprintf(w.out, "%s\n", by)

	return err
}

func (w *Writer) writeYAML(v any) error {
	by, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode yaml: %w", err)
	}

	_, err = fmt.Fprintf(w.out, "---\n%s", by)

	return err
}

func section(b *strings.Builder, title string) {
	fmt.Fprintf(b, "\n%s %s %s\n", rule, title, rule)
}

func (w *Writer) writeText(res reconciler.Result) error {
	var b strings.Builder

	section(&b, "Pull Request Summary")

	section(&b, "Repositories with Potential Pull Requests")

	for _, o := range res.NeedsPR {
		fmt.Fprintf(
			&b,
			"Repository: %s, Source Branch: %s, Target Branch: %s\n",
			o.Repository, o.Source, o.Target,
		)
	}

	section(&b, "Repositories with Existing Pull Requests")

	for _, o := range res.ExistingPR {
		fmt.Fprintf(
			&b,
			"Repository: %s, Source Branch: %s, Target Branch: %s\n",
			o.Repository, o.Source, o.Target,
		)
	}

	section(&b, "Repositories with No Changes")

	for _, o := range res.NoChanges {
		fmt.Fprintf(&b, "Repository: %s\n", o.Repository)
	}

	section(&b, "Repositories with Non-Existent Branches")

	for _, o := range res.MissingBranch {
		fmt.Fprintf(
			&b,
			"Repository: %s, Branch: %s does not exist\n",
			o.Repository, o.Branch,
		)
	}

	b.WriteString(closing + "\n\n")

	_, err := io.WriteString(w.out, b.String())

	return err
}

func (w *Writer) writeCreationsText(
	creations []reconciler.Creation,
) error {
	var b strings.Builder

	section(&b, "Pull Request Creation")

	for _, c := range creations {
		fmt.Fprintf(
			&b,
			"Repository: %s, Source Branch: %s, Target Branch: %s, Status: %s\n",
			c.Repository, c.Source, c.Target, c.Status,
		)
	}

	b.WriteString(closing + "\n\n")

	_, err := io.WriteString(w.out, b.String())

	return err
}
