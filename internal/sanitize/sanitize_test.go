package sanitize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeMapsKnownSymbols(t *testing.T) {
	out := Sanitize("step done ✓ then → next")
	assert.Equal(t, "step done [PASS] then -> next", out)
}

func TestSanitizeUnmappedHighCodepointBecomesQuestionMark(t *testing.T) {
	out := Sanitize("emoji \U0001F600 here")
	assert.Equal(t, "emoji ? here", out)
}

func TestSanitizeIsIdempotent(t *testing.T) {
	once := Sanitize("done ✓ → \U0001F600")
	twice := Sanitize(once)
	require.Equal(t, once, twice)
}

func TestSanitizePlainASCIIUnchanged(t *testing.T) {
	assert.Equal(t, "plain text 123", Sanitize("plain text 123"))
}

func TestValidateReportsViolations(t *testing.T) {
	ok, violations := Validate("a→b")
	assert.False(t, ok)
	require.Len(t, violations, 1)
	assert.Equal(t, '→', violations[0].Rune)
}

func TestValidateAcceptsASCII(t *testing.T) {
	ok, violations := Validate("all ascii")
	assert.True(t, ok)
	assert.Empty(t, violations)
}
