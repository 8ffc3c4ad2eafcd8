// Package artifact converts free-form LLM text into named deliverable
// files: fenced code blocks, inline HTML/CSS/JS heuristics, and
// "permission to write" prose patterns each contribute extracted files,
// applied in a fixed order; the raw text is always persisted verbatim
// as well.
package artifact

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"github.com/conductorctl/conductor/internal/sanitize"
)

// Deliverable is one extracted file, named and ready to be written under
// a project's deliverables/ namespace.
type Deliverable struct {
	Name string
	Body []byte
	SHA  string
	ext  string
}

// Extracted is the result of running every strategy over one task's raw
// output.
type Extracted struct {
	RawOutput    []byte
	RawSHA       string
	Deliverables []Deliverable
}

var fencedBlockRe = regexp.MustCompile("(?s)```([a-zA-Z0-9_+-]*)\\n(.*?)```")

var extensionByLang = map[string]string{
	"html": "html", "htm": "html",
	"css": "css",
	"js": "js", "javascript": "js", "jsx": "jsx", "ts": "ts", "typescript": "ts", "tsx": "tsx",
	"py": "py", "python": "py",
	"go": "go",
	"json": "json",
	"yaml": "yaml", "yml": "yaml",
	"sql": "sql",
	"sh": "sh", "bash": "sh", "shell": "sh",
	"md": "md", "markdown": "md",
}

var (
	htmlDocRe      = regexp.MustCompile(`(?i)<!DOCTYPE|<html[\s>]`)
	cssRuleRe      = regexp.MustCompile(`[.#]?[a-zA-Z][\w-]*\s*\{[^{}]*\}`)
	jsTopLevelRe   = regexp.MustCompile(`(?m)^\s*(function\s+\w+\s*\(|const\s+\w+\s*=|let\s+\w+\s*=|\([^)]*\)\s*=>)`)
	writePermProse = regexp.MustCompile(`(?i)permission to write`)
)

// Extract runs every strategy in a fixed order over raw. The inline
// HTML/CSS/JS heuristics only apply when no fenced code block already
// matched, since a fenced block is the more specific signal. The raw
// output is always included verbatim. titleSlugBase is the
// caller-chosen name base, typically a slug of the task's title.
func Extract(titleSlugBase string, raw string) Extracted {
	rawClean := sanitize.Sanitize(raw)
	rawBytes := []byte(rawClean)

	ex := Extracted{RawOutput: rawBytes, RawSHA: sha(rawBytes)}

	candidates := fencedCodeBlocks(rawClean)
	if len(candidates) == 0 {
		candidates = append(candidates, heuristicDeliverables(rawClean)...)
	}
	candidates = append(candidates, writePermissionDeliverables(rawClean)...)

	ex.Deliverables = nameAndHash(titleSlugBase, candidates)
	return ex
}

func fencedCodeBlocks(text string) []Deliverable {
	var out []Deliverable
	for _, m := range fencedBlockRe.FindAllStringSubmatch(text, -1) {
		lang := strings.ToLower(strings.TrimSpace(m[1]))
		ext, ok := extensionByLang[lang]
		if !ok {
			ext = "txt"
			if lang != "" {
				ext = lang
			}
		}
		out = append(out, Deliverable{Body: []byte(m[2]), ext: ext})
	}
	return out
}

func heuristicDeliverables(text string) []Deliverable {
	var out []Deliverable
	if htmlDocRe.MatchString(text) {
		return append(out, Deliverable{Body: []byte(text), ext: "html"})
	}
	if cssRuleRe.MatchString(text) {
		out = append(out, Deliverable{Body: []byte(text), ext: "css"})
	}
	if jsTopLevelRe.MatchString(text) {
		out = append(out, Deliverable{Body: []byte(text), ext: "js"})
	}
	return out
}

func writePermissionDeliverables(text string) []Deliverable {
	loc := writePermProse.FindStringIndex(text)
	if loc == nil {
		return nil
	}
	m := fencedBlockRe.FindStringSubmatch(text[loc[1]:])
	if m == nil {
		return nil
	}
	lang := strings.ToLower(strings.TrimSpace(m[1]))
	ext, ok := extensionByLang[lang]
	if !ok {
		ext = "txt"
	}
	return []Deliverable{{Body: []byte(m[2]), ext: ext}}
}

var slugRe = regexp.MustCompile(`[^a-z0-9]+`)

// Slug lowercases, replaces runs of non-alphanumerics with "_", and trims
// leading/trailing underscores. Falls back to "code" when empty.
func Slug(title string) string {
	s := slugRe.ReplaceAllString(strings.ToLower(title), "_")
	s = strings.Trim(s, "_")
	if s == "" {
		return "code"
	}
	return s
}

// nameAndHash assigns deterministic names to each candidate. Names start
// as base.ext; on collision, "_1", "_1_2", ... suffixes are appended to
// the stem in turn until the name is unique.
func nameAndHash(base string, candidates []Deliverable) []Deliverable {
	slug := Slug(base)
	taken := make(map[string]bool)
	out := make([]Deliverable, 0, len(candidates))
	for _, c := range candidates {
		ext := c.ext
		if ext == "" {
			ext = "txt"
		}
		stem := slug
		name := fmt.Sprintf("%s.%s", stem, ext)
		suffix := 1
		for taken[name] {
			stem = fmt.Sprintf("%s_%d", stem, suffix)
			name = fmt.Sprintf("%s.%s", stem, ext)
			suffix++
		}
		taken[name] = true
		c.Name = name
		c.SHA = sha(c.Body)
		out = append(out, c)
	}
	return out
}

func sha(b []byte) string {
	h := sha256.Sum256(b)
	return hex.EncodeToString(h[:])
}
