package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/roach88/mailmonkey/internal/identity"
	"github.com/roach88/mailmonkey/internal/tracker"
)

// Run kinds.
const (
	RunFinalize = "finalize"
	RunRebuild  = "rebuild"
)

// Run is one committed finalize or rebuild.
type Run struct {
	ID         string
	Kind       string
	Source     string
	StartedAt  time.Time
	Merged     int
	Duplicates int
}

// SaveOptions control Save.
type SaveOptions struct {
	// Replace discards all stored rows, ledger entries and runs first.
	Replace bool
	// BeforeCommit runs inside the transaction after every write. An error
	// rolls the transaction back and is returned from Save.
	BeforeCommit func() error
}

// Save writes t and records run in one transaction.
//
// Tracker rows are rewritten in full. Ledger entries are appended with
// ON CONFLICT DO NOTHING, so entries already stored are never modified.
func (s *Store) Save(ctx context.Context, t *tracker.Tracker, run Run, opts SaveOptions) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save: begin: %w", err)
	}
	defer tx.Rollback()

	if opts.Replace {
		for _, stmt := range []string{
			"DELETE FROM merge_ledger",
			"DELETE FROM merge_runs",
		} {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("save: %s: %w", stmt, err)
			}
		}
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM tracker_rows"); err != nil {
		return fmt.Errorf("save: clear rows: %w", err)
	}

	if err := writeRows(ctx, tx, t.Rows()); err != nil {
		return fmt.Errorf("save: %w", err)
	}
	if err := writeLedger(ctx, tx, t.Ledger()); err != nil {
		return fmt.Errorf("save: %w", err)
	}
	if err := writeRun(ctx, tx, run); err != nil {
		return fmt.Errorf("save: %w", err)
	}

	if opts.BeforeCommit != nil {
		if err := opts.BeforeCommit(); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("save: commit: %w", err)
	}
	return nil
}

func writeRows(ctx context.Context, tx *sql.Tx, rows []tracker.Row) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO tracker_rows
		(address_key, owner_key, property_address, owner_name, zip5,
		 campaign_numbers, template_ids, first_sent, last_sent)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare rows: %w", err)
	}
	defer stmt.Close()

	for i := range rows {
		r := &rows[i]
		k := r.Key()
		campaigns, err := marshalList(r.CampaignNumbers)
		if err != nil {
			return err
		}
		templates, err := marshalList(r.TemplateIDs)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx,
			k.PropertyAddress,
			k.OwnerName,
			r.PropertyAddress,
			r.OwnerName,
			r.ZIP5,
			campaigns,
			templates,
			marshalDate(r.FirstSent),
			marshalDate(r.LastSent),
		); err != nil {
			return fmt.Errorf("write row %s: %w", k, err)
		}
	}
	return nil
}

func writeLedger(ctx context.Context, tx *sql.Tx, entries []tracker.LedgerEntry) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO merge_ledger
		(id, address_key, owner_key, campaign_number, ref_code,
		 template_id, zip5, sent_date, run_id, seq)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("prepare ledger: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		if _, err := stmt.ExecContext(ctx,
			e.Key.ID(),
			e.Key.Identity.PropertyAddress,
			e.Key.Identity.OwnerName,
			e.Key.Campaign,
			e.Key.RefCode,
			e.TemplateID,
			e.ZIP5,
			marshalDate(e.SentDate),
			e.RunID,
			e.Seq,
		); err != nil {
			return fmt.Errorf("write ledger entry %s: %w", e.Key.ID(), err)
		}
	}
	return nil
}

func writeRun(ctx context.Context, tx *sql.Tx, run Run) error {
	if run.ID == "" {
		return fmt.Errorf("write run: empty run id")
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO merge_runs (id, kind, source, started_at, merged, duplicates)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		run.ID,
		run.Kind,
		run.Source,
		run.StartedAt.UTC().Format(time.RFC3339),
		run.Merged,
		run.Duplicates,
	)
	if err != nil {
		return fmt.Errorf("write run %s: %w", run.ID, err)
	}
	return nil
}

// Load reads the stored state into a tracker.
func (s *Store) Load(ctx context.Context) (*tracker.Tracker, error) {
	rows, err := s.readRows(ctx)
	if err != nil {
		return nil, fmt.Errorf("load: %w", err)
	}
	ledger, err := s.readLedger(ctx)
	if err != nil {
		return nil, fmt.Errorf("load: %w", err)
	}
	return tracker.FromState(rows, ledger), nil
}

func (s *Store) readRows(ctx context.Context) ([]tracker.Row, error) {
	rs, err := s.db.QueryContext(ctx, `
		SELECT property_address, owner_name, zip5, campaign_numbers, template_ids, first_sent, last_sent
		FROM tracker_rows
		ORDER BY address_key COLLATE BINARY ASC, owner_key COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query rows: %w", err)
	}
	defer rs.Close()

	var out []tracker.Row
	for rs.Next() {
		var (
			r                   tracker.Row
			campaigns, template string
			first, last         string
		)
		if err := rs.Scan(&r.PropertyAddress, &r.OwnerName, &r.ZIP5, &campaigns, &template, &first, &last); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		if r.CampaignNumbers, err = unmarshalList[int](campaigns); err != nil {
			return nil, err
		}
		if r.TemplateIDs, err = unmarshalList[string](template); err != nil {
			return nil, err
		}
		if r.FirstSent, err = unmarshalDate(first); err != nil {
			return nil, err
		}
		if r.LastSent, err = unmarshalDate(last); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rs.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return out, nil
}

func (s *Store) readLedger(ctx context.Context) ([]tracker.LedgerEntry, error) {
	rs, err := s.db.QueryContext(ctx, `
		SELECT id, address_key, owner_key, campaign_number, ref_code, template_id, zip5, sent_date, run_id, seq
		FROM merge_ledger
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query ledger: %w", err)
	}
	defer rs.Close()

	var out []tracker.LedgerEntry
	for rs.Next() {
		var (
			e             tracker.LedgerEntry
			id, addr, own string
			campaign      int
			ref, sent     string
		)
		if err := rs.Scan(&id, &addr, &own, &campaign, &ref, &e.TemplateID, &e.ZIP5, &sent, &e.RunID, &e.Seq); err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		e.Key = tracker.LedgerKey{
			Identity: identity.Key{PropertyAddress: addr, OwnerName: own},
			Campaign: campaign,
			RefCode:  ref,
		}
		if got := e.Key.ID(); got != id {
			return nil, fmt.Errorf("ledger entry %s: stored id does not match key (computed %s)", id, got)
		}
		if e.SentDate, err = unmarshalDate(sent); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rs.Err(); err != nil {
		return nil, fmt.Errorf("iterate ledger: %w", err)
	}
	return out, nil
}

// Runs lists committed runs oldest first.
func (s *Store) Runs(ctx context.Context) ([]Run, error) {
	rs, err := s.db.QueryContext(ctx, `
		SELECT id, kind, source, started_at, merged, duplicates
		FROM merge_runs
		ORDER BY started_at ASC, id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rs.Close()

	var out []Run
	for rs.Next() {
		var (
			r       Run
			started string
		)
		if err := rs.Scan(&r.ID, &r.Kind, &r.Source, &started, &r.Merged, &r.Duplicates); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if r.StartedAt, err = time.Parse(time.RFC3339, started); err != nil {
			return nil, fmt.Errorf("run %s: started_at: %w", r.ID, err)
		}
		out = append(out, r)
	}
	if err := rs.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return out, nil
}
