package prmarker_test

import (
	"testing"

	"github.com/byte4ever/prbot/gitops/prmarker"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppend_produces_markers(t *testing.T) {
	t.Parallel()

	desc := prmarker.Append("Automated pull request\n", prmarker.Marker{
		Source:       "develop",
		Intermediate: "develop-intermediate-20260101",
		Commit:       "abc123",
	})

	assert.Contains(t, desc, "Automated pull request\n\n")
	assert.Contains(t, desc, "<!-- prbot begin -->")
	assert.Contains(t, desc, "<!-- prbot end -->")
	assert.Contains(t, desc, "source: develop\n")
	assert.Contains(t, desc, "commit: abc123\n")
}

func TestExtract_roundtrip(t *testing.T) {
	t.Parallel()

	mk := prmarker.Marker{
		Source:       "release/1.0",
		Intermediate: "release/1.0-intermediate-20260101",
		Commit:       "deadbeef",
	}

	got, ok := prmarker.Extract(prmarker.Append("body", mk))

	require.True(t, ok)
	assert.Equal(t, mk, got)
}

func TestExtract_no_markers(t *testing.T) {
	t.Parallel()

	_, ok := prmarker.Extract("just a regular description")

	assert.False(t, ok)
}

func TestExtract_missing_end_marker(t *testing.T) {
	t.Parallel()

	_, ok := prmarker.Extract(
		"<!-- prbot begin -->\nsource: develop\n",
	)

	assert.False(t, ok)
}

func TestExtract_missing_source(t *testing.T) {
	t.Parallel()

	_, ok := prmarker.Extract(
		"<!-- prbot begin -->\ncommit: abc\n<!-- prbot end -->",
	)

	assert.False(t, ok)
}

func TestExtract_crlf_description(t *testing.T) {
	t.Parallel()

	got, ok := prmarker.Extract(
		"text\r\n<!-- prbot begin -->\r\n" +
			"source: develop\r\n<!-- prbot end -->\r\n",
	)

	require.True(t, ok)
	assert.Equal(t, "develop", got.Source)
}
