// Package infra holds small OS-environment resolution helpers shared by
// cmd/conductor and internal/config.
package infra

import (
	"os"
	"path/filepath"
	"strings"
)

// ResolveHomeDir returns the effective home directory for conductor's own
// state when no explicit projects_dir is configured. It checks the
// CONDUCTOR_HOME environment variable first, falling back to
// ~/.conductor.
func ResolveHomeDir() string {
	if envHome := strings.TrimSpace(os.Getenv("CONDUCTOR_HOME")); envHome != "" {
		return envHome
	}
	home, err := os.UserHomeDir()
	if err != nil || strings.TrimSpace(home) == "" {
		return filepath.Join(os.TempDir(), ".conductor")
	}
	return filepath.Join(home, ".conductor")
}
