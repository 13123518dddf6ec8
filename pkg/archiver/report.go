package archiver

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// WriteFile persists the batch report as indented JSON.
func (r *BatchReport) WriteFile(path string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("encode batch report: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create report directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write batch report: %w", err)
	}
	return nil
}
