// Package redaction scrubs secrets (API keys, bearer and auth tokens,
// secret keys, JWTs, passwords) out of text before it is logged,
// since task prompts and raw LLM output may echo back environment values.
package redaction

import (
	"regexp"
	"strings"
	"sync"
)

// Config controls which redaction rules are active.
type Config struct {
	Enabled         bool
	RedactAPIKeys   bool
	RedactPasswords bool
	CustomPatterns  []string
	Replacement     string
}

// DefaultConfig matches the conservative defaults used across the system:
// credentials and passwords are always worth scrubbing, nothing else.
func DefaultConfig() Config {
	return Config{
		Enabled:         true,
		RedactAPIKeys:   true,
		RedactPasswords: true,
		Replacement:     "[REDACTED]",
	}
}

// Redactor applies a fixed set of compiled patterns to text.
type Redactor struct {
	config         Config
	compiledCustom []*regexp.Regexp
	builtin        map[string]*regexp.Regexp
	mu             sync.RWMutex
}

// New creates a Redactor and compiles its pattern set.
func New(config Config) *Redactor {
	r := &Redactor{
		config:  config,
		builtin: make(map[string]*regexp.Regexp),
	}
	r.compileBuiltin()
	for _, pattern := range config.CustomPatterns {
		if re, err := regexp.Compile(pattern); err == nil {
			r.compiledCustom = append(r.compiledCustom, re)
		}
	}
	return r
}

func (r *Redactor) compileBuiltin() {
	r.builtin["api_key"] = regexp.MustCompile(`(?i)(api[_-]?key|apikey|api[_-]?secret)\s*[=:]\s*['"]?([a-zA-Z0-9_\-]{20,})['"]?`)
	r.builtin["bearer_token"] = regexp.MustCompile(`(?i)bearer\s+([a-zA-Z0-9_\-\.]{20,})`)
	r.builtin["auth_token"] = regexp.MustCompile(`(?i)(auth[_-]?token|access[_-]?token|refresh[_-]?token)\s*[=:]\s*['"]?([a-zA-Z0-9_\-\.]{20,})['"]?`)
	r.builtin["secret_key"] = regexp.MustCompile(`(?i)(secret[_-]?key|secretkey|private[_-]?key)\s*[=:]\s*['"]?([a-zA-Z0-9_\-]{20,})['"]?`)
	r.builtin["jwt"] = regexp.MustCompile(`eyJ[a-zA-Z0-9_-]*\.eyJ[a-zA-Z0-9_-]*\.[a-zA-Z0-9_-]*`)
	r.builtin["password"] = regexp.MustCompile(`(?i)(password|passwd|pwd)\s*[=:]\s*['"]?([^'"\s]{4,})['"]?`)
}

// Redact scrubs recognized secrets in the input, returning the scrubbed text.
func (r *Redactor) Redact(input string) string {
	if !r.config.Enabled {
		return input
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := input
	if r.config.RedactAPIKeys {
		result = r.redactPatterns(result, "api_key", "bearer_token", "auth_token", "secret_key", "jwt")
	}
	if r.config.RedactPasswords {
		result = r.redactPatterns(result, "password")
	}
	for _, re := range r.compiledCustom {
		result = re.ReplaceAllString(result, r.config.Replacement)
	}
	return result
}

func (r *Redactor) redactPatterns(input string, names ...string) string {
	result := input
	for _, name := range names {
		re, ok := r.builtin[name]
		if !ok {
			continue
		}
		result = re.ReplaceAllStringFunc(result, func(match string) string {
			submatches := re.FindStringSubmatch(match)
			if len(submatches) > 1 {
				redacted := match
				for i := len(submatches) - 1; i >= 1; i-- {
					if submatches[i] != "" {
						redacted = strings.Replace(redacted, submatches[i], r.config.Replacement, 1)
					}
				}
				return redacted
			}
			return r.config.Replacement
		})
	}
	return result
}

// RedactFields scrubs string values of a structured field map, returning a
// new map and leaving the input unchanged (keys whose name looks sensitive
// are fully replaced).
func (r *Redactor) RedactFields(fields map[string]any) map[string]any {
	if !r.config.Enabled {
		return fields
	}
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		if isSensitiveKey(strings.ToLower(k)) {
			out[k] = r.config.Replacement
			continue
		}
		if s, ok := v.(string); ok {
			out[k] = r.Redact(s)
		} else {
			out[k] = v
		}
	}
	return out
}

func isSensitiveKey(key string) bool {
	for _, sk := range []string{"password", "passwd", "pwd", "api_key", "apikey", "secret", "token", "credential"} {
		if strings.Contains(key, sk) {
			return true
		}
	}
	return false
}

var global = New(DefaultConfig())

// Redact scrubs using the package-level global redactor.
func Redact(input string) string { return global.Redact(input) }

// RedactFields scrubs a field map using the package-level global redactor.
func RedactFields(fields map[string]any) map[string]any { return global.RedactFields(fields) }

// SetGlobalConfig replaces the global redactor's configuration.
func SetGlobalConfig(config Config) { global = New(config) }
