package artifact

import (
	"fmt"
	"os"
	"path/filepath"
)

// Persist writes the raw_output blob to artifactsDir and every extracted
// deliverable to deliverablesDir, returning the raw_output file's path
// under artifactsDir (spec: result_ref).
func Persist(artifactsDir, deliverablesDir string, ex Extracted) (resultRef string, err error) {
	if err := os.MkdirAll(artifactsDir, 0o755); err != nil {
		return "", fmt.Errorf("create artifacts dir: %w", err)
	}
	if len(ex.Deliverables) > 0 {
		if err := os.MkdirAll(deliverablesDir, 0o755); err != nil {
			return "", fmt.Errorf("create deliverables dir: %w", err)
		}
	}

	rawPath := filepath.Join(artifactsDir, "raw_output.txt")
	if err := os.WriteFile(rawPath, ex.RawOutput, 0o644); err != nil {
		return "", fmt.Errorf("write raw output: %w", err)
	}

	for _, d := range ex.Deliverables {
		path := filepath.Join(deliverablesDir, d.Name)
		if err := os.WriteFile(path, d.Body, 0o644); err != nil {
			return "", fmt.Errorf("write deliverable %s: %w", d.Name, err)
		}
	}

	return rawPath, nil
}
