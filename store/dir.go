// ABOUTME: DirSource: embed-dialog script resolution over a directory of
// ABOUTME: .json/.yaml script files, for hosts that do not run a database.
package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/2389-research/parley/dialog"
)

// DirSource resolves scripts by identifier from a directory. Placing a file
// in the directory is the opt-in: the embeddable flag is not required, so
// bare-array scripts resolve under their file name.
type DirSource struct {
	dir string
}

var _ dialog.ScriptResolver = (*DirSource)(nil)

// NewDirSource returns a resolver over the given directory.
func NewDirSource(dir string) *DirSource {
	return &DirSource{dir: dir}
}

// FindScript scans the directory for a script whose identifier matches, or
// returns (nil, nil) when none does. Files that fail to parse are skipped.
func (s *DirSource) FindScript(identifier string) (*dialog.Script, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read script directory: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".json", ".yaml", ".yml":
		default:
			continue
		}
		script, err := dialog.LoadScript(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			continue
		}
		if script.Identifier == identifier {
			return script, nil
		}
	}
	return nil, nil
}
