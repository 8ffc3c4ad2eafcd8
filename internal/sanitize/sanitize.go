// Package sanitize enforces that every string crossing a CLI subprocess
// boundary is 7-bit ASCII, since the host terminal encoding of the
// external LLM CLI cannot be assumed in either direction.
package sanitize

import "strings"

// replacements maps specific high-codepoint runes the corpus of LLM CLIs
// commonly emits (arrows, check/cross marks, smart punctuation) to a fixed
// bracketed ASCII tag. Anything not in this table falls back to "?".
var replacements = map[rune]string{
	'→': "->",
	'←': "<-",
	'↑': "^",
	'↓': "v",
	'✓': "[PASS]",
	'✔': "[PASS]",
	'✗': "[FAIL]",
	'✘': "[FAIL]",
	'✅': "[PASS]",
	'❌': "[FAIL]",
	'⚠': "[WARN]",
	'…': "...",
	'‘': "'",
	'’': "'",
	'“': `"`,
	'”': `"`,
	'–': "-",
	'—': "--",
	'•': "*",
	'×': "x",
	'÷': "/",
}

// Sanitize replaces every non-ASCII rune with its mapped tag, or "?" if
// unmapped. The result is always valid 7-bit ASCII. Sanitize is idempotent:
// sanitizing already-sanitized text is a no-op, since every character it
// produces is itself ASCII and therefore passes through unchanged.
func Sanitize(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if r <= 127 {
			b.WriteRune(r)
			continue
		}
		if repl, ok := replacements[r]; ok {
			b.WriteString(repl)
		} else {
			b.WriteByte('?')
		}
	}
	return b.String()
}

// Violation describes one non-ASCII rune found during Validate, with its
// byte offset in the original string.
type Violation struct {
	Offset int
	Rune   rune
}

// Validate reports whether text is already pure ASCII, and if not, every
// offending rune and its offset.
func Validate(text string) (ok bool, violations []Violation) {
	ok = true
	for i, r := range text {
		if r > 127 {
			ok = false
			violations = append(violations, Violation{Offset: i, Rune: r})
		}
	}
	return ok, violations
}
