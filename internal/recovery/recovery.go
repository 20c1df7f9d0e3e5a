package recovery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"

	"github.com/roach88/mailmonkey/internal/campaign"
	"github.com/roach88/mailmonkey/internal/clock"
	"github.com/roach88/mailmonkey/internal/execlog"
	"github.com/roach88/mailmonkey/internal/store"
	"github.com/roach88/mailmonkey/internal/tracker"
)

// RecoveryInconsistencyError reports logs that disagree on an identity's
// ZIP5. It is a diagnostic: the folder merged last wins.
type RecoveryInconsistencyError struct {
	Conflict tracker.ZipConflict
}

func (e *RecoveryInconsistencyError) Error() string {
	return fmt.Sprintf("recovery inconsistency: %s", e.Conflict)
}

// IsRecoveryInconsistency reports whether err is a RecoveryInconsistencyError.
func IsRecoveryInconsistency(err error) bool {
	var target *RecoveryInconsistencyError
	return errors.As(err, &target)
}

// FolderReport summarizes the replay of one folder.
type FolderReport struct {
	Folder
	Rows       int
	Merged     int
	Duplicates int
	Skipped    int
	BadDates   int
	// Pending counts rows merged from ReplayOptions.Pending.
	Pending int
}

// ReplayOptions control Replay.
type ReplayOptions struct {
	Discover DiscoverOptions
	// RunID is stamped on every ledger entry.
	RunID string
	// Pending holds rows not yet written to a folder's log, keyed by folder
	// path. They merge after that folder's log rows. A pending folder that
	// discovery did not find is replayed in its sorted position.
	Pending map[string][]execlog.Row
	Logger  *slog.Logger
}

// ReplayResult is the state rebuilt from the logs.
type ReplayResult struct {
	Tracker         *tracker.Tracker
	Folders         []FolderReport
	Inconsistencies []*RecoveryInconsistencyError
}

// Merged returns the number of ledger entries created.
func (r *ReplayResult) Merged() int {
	n := 0
	for _, f := range r.Folders {
		n += f.Merged
	}
	return n
}

// Duplicates returns the number of rows whose ledger key was already merged.
func (r *ReplayResult) Duplicates() int {
	n := 0
	for _, f := range r.Folders {
		n += f.Duplicates
	}
	return n
}

// Replay merges every discovered folder's executed log into a fresh tracker.
func Replay(root string, opts ReplayOptions) (*ReplayResult, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	folders, err := Discover(root, opts.Discover)
	if err != nil {
		return nil, err
	}
	pending := make(map[string][]execlog.Row, len(opts.Pending))
	for path, rows := range opts.Pending {
		p := filepath.Clean(path)
		pending[p] = append(pending[p], rows...)
	}
	folders = withPending(folders, pending)

	res := &ReplayResult{Tracker: tracker.New()}
	for _, f := range folders {
		rep, err := replayFolder(res, f, pending[filepath.Clean(f.Path)], opts.RunID)
		if err != nil {
			return nil, err
		}
		logger.Debug("folder replayed",
			"folder", f.Path,
			"campaign", f.Number,
			"rows", rep.Rows,
			"merged", rep.Merged,
			"duplicates", rep.Duplicates)
		res.Folders = append(res.Folders, rep)
	}

	for _, inc := range res.Inconsistencies {
		logger.Warn("ZIP5 conflict between campaign logs", "detail", inc.Conflict.String())
	}
	logger.Info("replay complete",
		"folders", len(res.Folders),
		"identities", res.Tracker.Len(),
		"letters", res.Tracker.LedgerLen())
	return res, nil
}

func replayFolder(res *ReplayResult, f Folder, pending []execlog.Row, runID string) (FolderReport, error) {
	rep := FolderReport{Folder: f}
	cf := campaign.Folder{Dir: f.Path}

	idx, err := cf.ReadZIPIndex()
	if err != nil {
		return rep, fmt.Errorf("replay %s: %w", f.Path, err)
	}
	log, err := execlog.Read(cf.ExecutedLogPath())
	if err != nil {
		return rep, fmt.Errorf("replay %s: %w", f.Path, err)
	}
	rep.BadDates = log.BadDates
	rep.Skipped = log.Skipped

	rows := log.Rows
	if len(pending) > 0 {
		rows = append(rows[:len(rows):len(rows)], pending...)
		rep.Pending = len(pending)
	}
	if f.HasNumber {
		for i := range rows {
			if rows[i].CampaignNumber == 0 {
				rows[i].CampaignNumber = f.Number
			}
		}
	}
	rep.Rows = len(rows)

	mr := res.Tracker.Merge(rows, tracker.MergeOptions{
		ZIPIndex: idx,
		RunID:    runID,
		Source:   f.Path,
	})
	rep.Merged = mr.Merged
	rep.Duplicates = mr.Duplicates
	rep.Skipped += mr.Skipped
	for _, c := range mr.Conflicts {
		res.Inconsistencies = append(res.Inconsistencies, &RecoveryInconsistencyError{Conflict: c})
	}
	return rep, nil
}

// withPending adds pending folders discovery did not find.
func withPending(folders []Folder, pending map[string][]execlog.Row) []Folder {
	if len(pending) == 0 {
		return folders
	}
	seen := make(map[string]bool, len(folders))
	for _, f := range folders {
		seen[filepath.Clean(f.Path)] = true
	}
	added := false
	for path := range pending {
		if seen[path] {
			continue
		}
		folders = append(folders, folderAt(path))
		added = true
	}
	if added {
		SortFolders(folders)
	}
	return folders
}

// Rebuilder replays a root and replaces the stored tracker state.
type Rebuilder struct {
	store  *store.Store
	layout tracker.Layout
	ids    store.RunIDGenerator
	clock  clock.Clock
	logger *slog.Logger
}

// NewRebuilder creates a Rebuilder. Nil ids, clock or logger fall back to
// UUIDv7 ids, the system clock and a discard logger.
func NewRebuilder(st *store.Store, layout tracker.Layout, ids store.RunIDGenerator, clk clock.Clock, logger *slog.Logger) *Rebuilder {
	if ids == nil {
		ids = store.UUIDv7RunIDs{}
	}
	if clk == nil {
		clk = clock.System{}
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Rebuilder{store: st, layout: layout, ids: ids, clock: clk, logger: logger}
}

// RebuildOptions control Rebuild.
type RebuildOptions struct {
	Root     string
	Discover DiscoverOptions
	// DryRun replays and reports without writing.
	DryRun bool
}

// Rebuild replays every log under Root, replaces the store in one
// transaction and re-exports the tracker CSVs.
func (r *Rebuilder) Rebuild(ctx context.Context, opts RebuildOptions) (*ReplayResult, error) {
	run := store.Run{
		ID:        r.ids.NewRunID(),
		Kind:      store.RunRebuild,
		Source:    opts.Root,
		StartedAt: r.clock.Now(),
	}
	res, err := Replay(opts.Root, ReplayOptions{
		Discover: opts.Discover,
		RunID:    run.ID,
		Logger:   r.logger,
	})
	if err != nil {
		return nil, err
	}
	if opts.DryRun {
		r.logger.Info("dry run: tracker not written", "root", opts.Root)
		return res, nil
	}

	run.Merged = res.Merged()
	run.Duplicates = res.Duplicates()
	if err := r.store.Save(ctx, res.Tracker, run, store.SaveOptions{Replace: true}); err != nil {
		return nil, fmt.Errorf("rebuild: %w", err)
	}
	if err := res.Tracker.Export(r.layout); err != nil {
		return nil, fmt.Errorf("rebuild: export: %w", err)
	}
	r.logger.Info("tracker rebuilt",
		"run", run.ID,
		"tracker", r.layout.TrackerPath(),
		"identities", res.Tracker.Len())
	return res, nil
}
