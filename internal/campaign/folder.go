// Package campaign owns the on-disk layout of a campaign folder: its name,
// the campaign master and presort reports written at build time, the ZIP
// index read back at finalize and recovery, and the recovery marker.
package campaign

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// File names inside a campaign folder.
const (
	MasterFile      = "campaign_master.csv"
	PresortFile     = "presort_report.csv"
	ZIP3File        = "presort_zip3_summary.csv"
	PostageFile     = "postage_estimate.csv"
	TrayPlanFile    = "tray_plan.csv"
	ExecutedLogFile = "executed_campaign_log.csv"
	MappingFile     = "letters_mapping.csv"
	RefDir          = "RefFiles"
	DefaultMarker   = "CAMPAIGN.TAG"
)

// folderPattern matches "<Name>_<N>_..." with a non-greedy name.
var folderPattern = regexp.MustCompile(`^(.+?)_(\d+)_`)

// FolderName returns "<Name>_<N>_<MonYYYY>".
func FolderName(name string, number int, when time.Time) string {
	name = strings.Join(strings.Fields(name), "")
	return fmt.Sprintf("%s_%d_%s", name, number, when.Format("Jan2006"))
}

// ParseFolderName extracts name and number from a campaign folder's base name.
func ParseFolderName(dir string) (name string, number int, ok bool) {
	m := folderPattern.FindStringSubmatch(filepath.Base(filepath.Clean(dir)))
	if m == nil {
		return "", 0, false
	}
	n, err := strconv.Atoi(m[2])
	if err != nil {
		return "", 0, false
	}
	return m[1], n, true
}

// Folder is a campaign folder on disk.
type Folder struct {
	Dir string
}

func (f Folder) MasterPath() string      { return filepath.Join(f.Dir, MasterFile) }
func (f Folder) ExecutedLogPath() string { return filepath.Join(f.Dir, ExecutedLogFile) }

// MarkerPath returns the marker file path; name defaults to DefaultMarker.
func (f Folder) MarkerPath(name string) string {
	if name == "" {
		name = DefaultMarker
	}
	return filepath.Join(f.Dir, name)
}

// MappingCandidates lists mapping file locations in lookup order.
func (f Folder) MappingCandidates() []string {
	return []string{
		filepath.Join(f.Dir, RefDir, MappingFile),
		filepath.Join(f.Dir, MappingFile),
	}
}

// HasMarker reports whether the marker file exists.
func (f Folder) HasMarker(name string) bool {
	_, err := os.Stat(f.MarkerPath(name))
	return err == nil
}

// WriteMarker creates the marker file if it does not exist.
func (f Folder) WriteMarker(name string) error {
	path := f.MarkerPath(name)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("write marker: %w", err)
	}
	return file.Close()
}

// ErrFinalized is returned when writing a master into a folder that already
// has an executed log.
var ErrFinalized = errors.New("campaign folder already has an executed log")

// ErrMasterExists is returned when a campaign master exists and overwrite was
// not requested.
var ErrMasterExists = errors.New("campaign master already exists")
