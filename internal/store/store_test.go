package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/roach88/mailmonkey/internal/execlog"
	"github.com/roach88/mailmonkey/internal/tracker"
	"github.com/roach88/mailmonkey/internal/testutil"
)

// createTestStore opens a store in a temp dir.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tracker.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func logRow(t *testing.T, addr, owner string, campaign int, ref, template, zip, sent string) execlog.Row {
	return execlog.Row{
		SentDate:        testutil.Day(t, sent),
		CampaignNumber:  campaign,
		OwnerName:       owner,
		PropertyAddress: addr,
		TemplateID:      template,
		RefCode:         ref,
		ZIP5:            zip,
	}
}

func sampleTracker(t *testing.T) *tracker.Tracker {
	tr := tracker.New()
	tr.Merge([]execlog.Row{
		logRow(t, "1 Main St", "Jane Doe", 1, "L00001", "101", "75001", "2025-01-10"),
		logRow(t, "2 Main St", "John Roe", 1, "L00002", "101", "", "2025-01-10"),
	}, tracker.MergeOptions{RunID: "run-0001", Source: "Fall_1_Jan2025"})
	tr.Merge([]execlog.Row{
		logRow(t, "1 Main St", "Jane Doe", 2, "L00003", "202", "75001", "2025-03-01"),
	}, tracker.MergeOptions{RunID: "run-0002", Source: "Spring_2_Mar2025"})
	return tr
}

func run(id, kind string, merged int) Run {
	return Run{
		ID:        id,
		Kind:      kind,
		Source:    "test",
		StartedAt: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
		Merged:    merged,
	}
}

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tracker.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tracker.db")

	for i := 0; i < 3; i++ {
		s, err := Open(path)
		if err != nil {
			t.Fatalf("Open() iteration %d failed: %v", i, err)
		}
		s.Close()
	}

	s, err := Open(path)
	if err != nil {
		t.Fatalf("final Open() failed: %v", err)
	}
	defer s.Close()

	for _, table := range []string{"tracker_rows", "merge_ledger", "merge_runs"} {
		var name string
		err := s.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?",
			table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %q not found after idempotent opens: %v", table, err)
		}
	}
}

func TestOpen_RejectsNewerSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tracker.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	if _, err := s.db.Exec("PRAGMA user_version = 99"); err != nil {
		t.Fatalf("set user_version: %v", err)
	}
	s.Close()

	if _, err := Open(path); err == nil {
		t.Fatal("Open() accepted a newer schema version")
	}
}

func TestOpen_InvalidPath(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing", "dir", "tracker.db"))
	if err == nil {
		t.Error("expected error for invalid path")
	}
}

func TestClose_NilDB(t *testing.T) {
	s := &Store{}
	if err := s.Close(); err != nil {
		t.Errorf("Close() on nil db returned %v", err)
	}
}

func TestPragmas(t *testing.T) {
	s := createTestStore(t)
	for name, want := range map[string]string{
		"journal_mode": "wal",
		"synchronous":  "1",
		"busy_timeout": "5000",
		"foreign_keys": "1",
	} {
		if err := s.verifyPragma(name, want); err != nil {
			t.Error(err)
		}
	}
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	want := sampleTracker(t)

	if err := s.Save(ctx, want, run("run-0002", RunFinalize, 3), SaveOptions{}); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}

	got, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if diff := cmp.Diff(want.Rows(), got.Rows()); diff != "" {
		t.Errorf("rows mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(want.Ledger(), got.Ledger()); diff != "" {
		t.Errorf("ledger mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(want.Tally(), got.Tally()); diff != "" {
		t.Errorf("tally mismatch (-want +got):\n%s", diff)
	}
}

func TestLoad_ContinuesSequence(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	if err := s.Save(ctx, sampleTracker(t), run("run-0001", RunFinalize, 3), SaveOptions{}); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}

	tr, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	res := tr.Merge([]execlog.Row{
		logRow(t, "1 Main St", "Jane Doe", 2, "L00003", "202", "75001", "2025-03-01"),
		logRow(t, "3 Oak Ave", "Ann Lee", 3, "L00004", "303", "30301", "2025-05-01"),
	}, tracker.MergeOptions{RunID: "run-0002"})
	if res.Merged != 1 || res.Duplicates != 1 {
		t.Fatalf("Merge() = %d merged, %d duplicates; want 1, 1", res.Merged, res.Duplicates)
	}

	ledger := tr.Ledger()
	if last := ledger[len(ledger)-1]; last.Seq != 4 {
		t.Errorf("new entry seq = %d, want 4", last.Seq)
	}
}

func TestSave_LedgerAppendOnly(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	tr := sampleTracker(t)

	if err := s.Save(ctx, tr, run("run-0001", RunFinalize, 3), SaveOptions{}); err != nil {
		t.Fatalf("first Save() failed: %v", err)
	}
	if err := s.Save(ctx, tr, run("run-0002", RunFinalize, 0), SaveOptions{}); err != nil {
		t.Fatalf("second Save() failed: %v", err)
	}

	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM merge_ledger").Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 3 {
		t.Errorf("ledger rows = %d, want 3", n)
	}

	runs, err := s.Runs(ctx)
	if err != nil {
		t.Fatalf("Runs() failed: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != "run-0001" || runs[1].ID != "run-0002" {
		t.Errorf("Runs() = %+v", runs)
	}
}

func TestSave_BeforeCommitErrorRollsBack(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	boom := errors.New("append failed")

	err := s.Save(ctx, sampleTracker(t), run("run-0001", RunFinalize, 3), SaveOptions{
		BeforeCommit: func() error { return boom },
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Save() error = %v, want %v", err, boom)
	}

	empty, err := s.IsEmpty(ctx)
	if err != nil {
		t.Fatalf("IsEmpty() failed: %v", err)
	}
	if !empty {
		t.Error("state was written despite hook failure")
	}
}

func TestSave_Replace(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	if err := s.Save(ctx, sampleTracker(t), run("run-0001", RunFinalize, 3), SaveOptions{}); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}

	small := tracker.New()
	small.Merge([]execlog.Row{
		logRow(t, "9 Elm St", "Bo Park", 5, "", "505", "10001", "2025-06-01"),
	}, tracker.MergeOptions{RunID: "run-0002"})
	if err := s.Save(ctx, small, run("run-0002", RunRebuild, 1), SaveOptions{Replace: true}); err != nil {
		t.Fatalf("Save(Replace) failed: %v", err)
	}

	got, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if got.Len() != 1 || got.LedgerLen() != 1 {
		t.Errorf("after replace: %d rows, %d ledger entries; want 1, 1", got.Len(), got.LedgerLen())
	}
	runs, err := s.Runs(ctx)
	if err != nil {
		t.Fatalf("Runs() failed: %v", err)
	}
	if len(runs) != 1 || runs[0].Kind != RunRebuild {
		t.Errorf("Runs() = %+v", runs)
	}
}

func TestSave_RequiresRunID(t *testing.T) {
	s := createTestStore(t)
	if err := s.Save(context.Background(), tracker.New(), Run{}, SaveOptions{}); err == nil {
		t.Error("Save() accepted an empty run id")
	}
}

func TestLoad_DetectsTamperedLedgerID(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	if err := s.Save(ctx, sampleTracker(t), run("run-0001", RunFinalize, 3), SaveOptions{}); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}
	if _, err := s.db.Exec("UPDATE merge_ledger SET campaign_number = 7 WHERE seq = 1"); err != nil {
		t.Fatalf("tamper: %v", err)
	}
	if _, err := s.Load(ctx); err == nil {
		t.Error("Load() accepted a ledger entry whose id does not match its key")
	}
}

func TestUUIDv7RunIDs(t *testing.T) {
	var g RunIDGenerator = UUIDv7RunIDs{}
	a, b := g.NewRunID(), g.NewRunID()
	if len(a) != 36 || a == b {
		t.Errorf("NewRunID() = %q, %q", a, b)
	}
}
