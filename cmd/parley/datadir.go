// ABOUTME: Data directory resolution for parley persistent state.
// ABOUTME: Honors PARLEY_DATA_DIR, falls back to ~/.parley, and creates the directory on demand.
package main

import (
	"fmt"
	"os"
	"path/filepath"
)

// defaultDataDir returns the default directory for parley persistent state.
// It checks PARLEY_DATA_DIR first, then falls back to ~/.parley.
func defaultDataDir() (string, error) {
	if dir := os.Getenv("PARLEY_DATA_DIR"); dir != "" {
		return dir, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}

	return filepath.Join(home, ".parley"), nil
}

// resolveDataDir returns the data directory to use, preferring an explicit
// override, and ensures the directory exists.
func resolveDataDir(override string) (string, error) {
	dir := override
	if dir == "" {
		var err error
		dir, err = defaultDataDir()
		if err != nil {
			return "", err
		}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create data directory: %w", err)
	}
	return dir, nil
}

// defaultDBPath returns the session database path inside the data directory.
func defaultDBPath(dataDir string) string {
	return filepath.Join(dataDir, "parley.db")
}
