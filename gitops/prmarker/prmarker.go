package prmarker

import (
	"log/slog"
	"strings"
)

const (
	begin = "<!-- prbot begin -->"
	end   = "<!-- prbot end -->"

	keySource       = "source"
	keyIntermediate = "intermediate"
	keyCommit       = "commit"
)

// Marker records where a generated pull request came
// from.
type Marker struct {
	Source       string
	Intermediate string
	Commit       string
}

// Extract parses the marker block from a pull request
// description. It returns false when no complete block
// is present.
func Extract(desc string) (Marker, bool) {
	var (
		mk             Marker
		found          bool
		betweenMarkers bool
	)

	for _, line := range strings.Split(desc, "\n") {
		line = strings.TrimSpace(line)

		switch line {
		case begin:
			betweenMarkers = true
			found = true
		case end:
			betweenMarkers = false
		default:
			if betweenMarkers {
				mk.set(line)
			}
		}
	}

	if betweenMarkers {
		slog.Warn(
			"unable to find end marker in pull " +
				"request description",
		)

		return Marker{}, false
	}

	return mk, found && mk.Source != ""
}

func (mk *Marker) set(line string) {
	key, val, ok := strings.Cut(line, ":")
	if !ok {
		return
	}

	val = strings.TrimSpace(val)

	switch strings.TrimSpace(key) {
	case keySource:
		mk.Source = val
	case keyIntermediate:
		mk.Intermediate = val
	case keyCommit:
		mk.Commit = val
	default:
	}
}

// Append adds the marker block for mk to desc.
func Append(desc string, mk Marker) string {
	var sb strings.Builder

	sb.WriteString(strings.TrimRight(desc, "\n"))
	sb.WriteString("\n\n")
	sb.WriteString(begin)
	sb.WriteByte('\n')

	writeField(&sb, keySource, mk.Source)
	writeField(&sb, keyIntermediate, mk.Intermediate)
	writeField(&sb, keyCommit, mk.Commit)

	sb.WriteString(end)
	sb.WriteByte('\n')

	return sb.String()
}

func writeField(sb *strings.Builder, key, val string) {
	if val == "" {
		return
	}

	sb.WriteString(key)
	sb.WriteString(": ")
	sb.WriteString(val)
	sb.WriteByte('\n')
}
