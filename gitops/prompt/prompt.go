// Package prompt asks an operator yes/no questions on
// a terminal or any reader/writer pair.
package prompt

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Confirmer reads confirmation answers from a reader.
type Confirmer struct {
	reader *bufio.Reader
	writer io.Writer
}

// NewConfirmer returns a Confirmer reading answers
// from in and writing prompts to out. A nil out
// suppresses the prompt text.
func NewConfirmer(in io.Reader, out io.Writer) *Confirmer {
	return &Confirmer{
		reader: bufio.NewReader(in),
		writer: out,
	}
}

// Confirm writes question and reports whether the
// answer is "y" or "yes" (any case). Anything else,
// including end of input, declines.
func (c *Confirmer) Confirm(question string) (bool, error) {
	const errCtx = "asking for confirmation"

	if c.writer != nil {
		if _, err := io.WriteString(
			c.writer, question+" ",
		); err != nil {
			return false, fmt.Errorf("%s: %w", errCtx, err)
		}
	}

	answer, err := c.reader.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, fmt.Errorf("%s: %w", errCtx, err)
	}

	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}
