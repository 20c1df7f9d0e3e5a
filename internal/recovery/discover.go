// Package recovery rebuilds tracker state from the executed logs of every
// campaign folder under a root.
//
// # Replay
//
// Recovery goes through the same tracker.Merge that finalize uses; there is
// no separate replay mode. Folders are merged in a fixed order (campaign
// number ascending, unnumbered folders last, ties by path) and rows in file
// order, so two rebuilds over the same logs produce identical state and
// byte-identical exports.
//
// Recovery never reads the existing tracker CSVs or state store. It replaces
// the store in one transaction and re-exports both CSVs.
package recovery

import (
	"cmp"
	"fmt"
	"io/fs"
	"path/filepath"
	"slices"
	"strings"

	"github.com/roach88/mailmonkey/internal/campaign"
	"github.com/roach88/mailmonkey/internal/table"
)

// Folder is a campaign folder that holds an executed log.
type Folder struct {
	Path   string
	Name   string
	Number int
	// HasNumber is false when the folder name carries no campaign number.
	HasNumber bool
}

func folderAt(path string) Folder {
	f := Folder{Path: path}
	f.Name, f.Number, f.HasNumber = campaign.ParseFolderName(path)
	return f
}

// DiscoverOptions control which folders qualify.
type DiscoverOptions struct {
	// MarkerRequired restricts discovery to folders holding the marker file.
	MarkerRequired bool
	// MarkerName defaults to campaign.DefaultMarker.
	MarkerName string
}

// Discover walks root for folders holding an executed log and returns them in
// replay order. Hidden directories are not descended into.
func Discover(root string, opts DiscoverOptions) ([]Folder, error) {
	var out []Folder
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		cf := campaign.Folder{Dir: path}
		if !table.Exists(cf.ExecutedLogPath()) {
			return nil
		}
		if opts.MarkerRequired && !cf.HasMarker(opts.MarkerName) {
			return nil
		}
		out = append(out, folderAt(path))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("discover %s: %w", root, err)
	}
	SortFolders(out)
	return out, nil
}

// SortFolders orders folders for replay: numbered folders by number, then
// unnumbered ones, ties broken by path.
func SortFolders(folders []Folder) {
	slices.SortFunc(folders, func(a, b Folder) int {
		if a.HasNumber != b.HasNumber {
			if a.HasNumber {
				return -1
			}
			return 1
		}
		if c := cmp.Compare(a.Number, b.Number); c != 0 {
			return c
		}
		return strings.Compare(a.Path, b.Path)
	})
}
