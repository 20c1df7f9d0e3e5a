// Package finalize records a sent campaign: it turns the renderer's mapping
// file into executed-log rows, appends them to the folder's log and merges the
// full log into the tracker state.
//
// The ledger makes finalize idempotent. Running it twice on the same folder
// appends nothing the second time and leaves the tracker unchanged.
package finalize

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/roach88/mailmonkey/internal/campaign"
	"github.com/roach88/mailmonkey/internal/clock"
	"github.com/roach88/mailmonkey/internal/execlog"
	"github.com/roach88/mailmonkey/internal/recovery"
	"github.com/roach88/mailmonkey/internal/store"
	"github.com/roach88/mailmonkey/internal/table"
	"github.com/roach88/mailmonkey/internal/tracker"
)

// Options control one finalize call.
type Options struct {
	CampaignDir string
	// MappingPath overrides mapping discovery.
	MappingPath string
	// CampaignName and CampaignNumber default to the folder name's.
	CampaignName   string
	CampaignNumber int
	// TemplateID fills mapping rows without one.
	TemplateID string
	// SentDate fills mapping rows without one; zero means today.
	SentDate time.Time
	DryRun   bool
	// WriteMarker creates the marker file after a successful commit.
	WriteMarker bool
	MarkerName  string
	// RebuildTemplates recomputes every row's campaigns and templates from all
	// executed logs under Root after the merge.
	RebuildTemplates bool
	// Root defaults to the campaign folder's parent.
	Root     string
	Discover recovery.DiscoverOptions
}

// Result reports a finalize call.
type Result struct {
	Folder         string
	CampaignName   string
	CampaignNumber int
	// MappingPath is "" when an existing log was merged without a mapping.
	MappingPath string
	MappingRows int
	// Appended are the rows added to the executed log.
	Appended []execlog.Row
	// AlreadyLogged counts mapping rows whose ledger key the log already had.
	AlreadyLogged int
	BadDates      int
	Merge         tracker.MergeResult
	History       *tracker.HistoryResult
	RunID         string
	DryRun        bool
	Tracker       *tracker.Tracker
}

// Finalizer runs finalize against a state store and tracker layout.
type Finalizer struct {
	store  *store.Store
	layout tracker.Layout
	ids    store.RunIDGenerator
	clock  clock.Clock
	logger *slog.Logger
}

// New creates a Finalizer. Nil ids, clock or logger fall back to UUIDv7 ids,
// the system clock and a discard logger.
func New(st *store.Store, layout tracker.Layout, ids store.RunIDGenerator, clk clock.Clock, logger *slog.Logger) *Finalizer {
	if ids == nil {
		ids = store.UUIDv7RunIDs{}
	}
	if clk == nil {
		clk = clock.System{}
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Finalizer{store: st, layout: layout, ids: ids, clock: clk, logger: logger}
}

// Finalize runs the whole finalize flow. Structural errors return before
// anything is written.
func (f *Finalizer) Finalize(ctx context.Context, opts Options) (*Result, error) {
	cf := campaign.Folder{Dir: opts.CampaignDir}
	res := &Result{Folder: cf.Dir, DryRun: opts.DryRun, RunID: f.ids.NewRunID()}

	log, err := execlog.Read(cf.ExecutedLogPath())
	if err != nil {
		return nil, fmt.Errorf("finalize: %w", err)
	}

	mappingPath, err := locateMapping(cf, opts.MappingPath, log.Exists())
	if err != nil {
		return nil, err
	}
	res.MappingPath = mappingPath

	res.CampaignName, res.CampaignNumber = opts.CampaignName, opts.CampaignNumber
	if name, n, ok := campaign.ParseFolderName(cf.Dir); ok {
		if res.CampaignName == "" {
			res.CampaignName = name
		}
		if res.CampaignNumber == 0 {
			res.CampaignNumber = n
		}
	}
	if res.CampaignNumber <= 0 {
		return nil, fmt.Errorf("finalize %s: %w", cf.Dir, ErrNoCampaignNumber)
	}

	idx, err := cf.ReadZIPIndex()
	if err != nil {
		return nil, fmt.Errorf("finalize: %w", err)
	}

	if mappingPath != "" {
		if err := f.collectMapping(res, log, mappingPath, idx, opts); err != nil {
			return nil, err
		}
	}

	tr, err := f.loadState(ctx)
	if err != nil {
		return nil, err
	}

	rows := make([]execlog.Row, 0, len(log.Rows)+len(res.Appended))
	rows = append(rows, log.Rows...)
	rows = append(rows, res.Appended...)
	for i := range rows {
		if rows[i].CampaignNumber == 0 {
			rows[i].CampaignNumber = res.CampaignNumber
		}
	}
	res.Merge = tr.Merge(rows, tracker.MergeOptions{
		ZIPIndex: idx,
		RunID:    res.RunID,
		Source:   cf.Dir,
	})
	for _, c := range res.Merge.Conflicts {
		f.logger.Warn("ZIP5 conflict", "detail", c.String())
	}

	if opts.RebuildTemplates {
		hist, err := f.rebuildTemplates(tr, res, opts)
		if err != nil {
			return nil, err
		}
		res.History = hist
	}
	res.Tracker = tr

	f.logger.Info("finalize merged",
		"folder", cf.Dir,
		"campaign", res.CampaignNumber,
		"appended", len(res.Appended),
		"merged", res.Merge.Merged,
		"duplicates", res.Merge.Duplicates,
		"new_identities", len(res.Merge.NewIdentities))

	if opts.DryRun {
		f.logger.Info("dry run: nothing written", "folder", cf.Dir)
		return res, nil
	}

	run := store.Run{
		ID:         res.RunID,
		Kind:       store.RunFinalize,
		Source:     cf.Dir,
		StartedAt:  f.clock.Now(),
		Merged:     res.Merge.Merged,
		Duplicates: res.Merge.Duplicates,
	}
	err = f.store.Save(ctx, tr, run, store.SaveOptions{
		BeforeCommit: func() error {
			if len(res.Appended) == 0 {
				return nil
			}
			if err := log.Append(res.Appended); err != nil {
				return fmt.Errorf("append executed log: %w", err)
			}
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("finalize: %w", err)
	}

	if err := tr.Export(f.layout); err != nil {
		return nil, fmt.Errorf("finalize: export: %w", err)
	}
	if opts.WriteMarker {
		if err := cf.WriteMarker(opts.MarkerName); err != nil {
			return nil, fmt.Errorf("finalize: %w", err)
		}
	}
	f.logger.Info("finalize committed", "run", res.RunID, "tracker", f.layout.TrackerPath())
	return res, nil
}

// locateMapping returns the mapping path to use, "" when the existing log is
// merged as is.
func locateMapping(cf campaign.Folder, explicit string, haveLog bool) (string, error) {
	tried := cf.MappingCandidates()
	if explicit != "" {
		tried = []string{explicit}
	}
	for _, p := range tried {
		if table.Exists(p) {
			return p, nil
		}
	}
	if explicit == "" && haveLog {
		return "", nil
	}
	return "", &MappingNotFoundError{Folder: cf.Dir, Tried: tried}
}

// collectMapping converts the mapping into rows not yet in the log.
func (f *Finalizer) collectMapping(res *Result, log *execlog.Log, path string, idx campaign.ZIPIndex, opts Options) error {
	m, err := execlog.ReadMapping(path)
	if err != nil {
		return fmt.Errorf("finalize: %w", err)
	}
	res.MappingRows = len(m.Rows)
	if m.Skipped > 0 {
		f.logger.Warn("mapping rows without owner or address skipped", "path", path, "count", m.Skipped)
	}

	sent := opts.SentDate
	if sent.IsZero() {
		sent = clock.Today(f.clock)
	}
	rows, bad := m.ToRows(execlog.Defaults{
		CampaignName:   res.CampaignName,
		CampaignNumber: res.CampaignNumber,
		TemplateID:     opts.TemplateID,
		SentDate:       sent,
		ZIPIndex:       idx,
	})
	res.BadDates = bad
	if bad > 0 {
		f.logger.Warn("mapping dates did not parse; default sent date used", "path", path, "count", bad)
	}

	logged := make(map[tracker.LedgerKey]bool, len(log.Rows))
	for _, r := range log.Rows {
		n := r.CampaignNumber
		if n == 0 {
			n = res.CampaignNumber
		}
		logged[tracker.NewLedgerKey(r.Key(), n, r.RefCode)] = true
	}
	for _, r := range rows {
		k := tracker.NewLedgerKey(r.Key(), r.CampaignNumber, r.RefCode)
		if logged[k] {
			res.AlreadyLogged++
			continue
		}
		logged[k] = true
		res.Appended = append(res.Appended, r)
	}
	return nil
}

// loadState loads the tracker, refusing to start from empty state when
// exported CSVs show there was history.
func (f *Finalizer) loadState(ctx context.Context) (*tracker.Tracker, error) {
	empty, err := f.store.IsEmpty(ctx)
	if err != nil {
		return nil, fmt.Errorf("finalize: %w", err)
	}
	if empty && table.Exists(f.layout.TrackerPath()) {
		return nil, fmt.Errorf("finalize: %s: %w", f.layout.TrackerPath(), ErrStateMissing)
	}
	tr, err := f.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("finalize: %w", err)
	}
	return tr, nil
}

func (f *Finalizer) rebuildTemplates(tr *tracker.Tracker, res *Result, opts Options) (*tracker.HistoryResult, error) {
	root := opts.Root
	if root == "" {
		root = filepath.Dir(filepath.Clean(res.Folder))
	}
	var pending map[string][]execlog.Row
	if len(res.Appended) > 0 {
		pending = map[string][]execlog.Row{res.Folder: res.Appended}
	}
	replay, err := recovery.Replay(root, recovery.ReplayOptions{
		Discover: opts.Discover,
		RunID:    res.RunID,
		Pending:  pending,
		Logger:   f.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("finalize: rebuild templates: %w", err)
	}
	hist := tr.RebuildHistory(replay.Tracker)
	if len(hist.Untouched) > 0 {
		f.logger.Warn("tracker rows without log evidence left unchanged", "count", len(hist.Untouched))
	}
	f.logger.Info("template history rebuilt", "rows", hist.Rebuilt, "adopted", hist.Adopted)
	return &hist, nil
}
