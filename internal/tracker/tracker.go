// Package tracker is the merge engine behind the master campaign tracker.
//
// A Tracker holds one Row per identity plus the merge ledger: one entry per
// executed-log row ever merged, keyed by (identity, campaign, ref code). The
// ledger makes Merge idempotent, and the ZIP tally is derived from it rather
// than stored. Finalize and recovery both go through Merge, so replaying the
// same logs in the same order always yields the same state.
//
// Tracker is not safe for concurrent use.
package tracker

import (
	"fmt"
	"slices"

	"github.com/roach88/mailmonkey/internal/execlog"
	"github.com/roach88/mailmonkey/internal/identity"
)

// Tracker is the in-memory tracker state.
type Tracker struct {
	rows   map[identity.Key]*Row
	ledger map[LedgerKey]*LedgerEntry
	// order lists ledger keys by Seq.
	order []LedgerKey
	// zipSource remembers which merge source last set each row's ZIP5.
	zipSource map[identity.Key]string
	seq       int64
}

// New returns an empty tracker.
func New() *Tracker {
	return &Tracker{
		rows:      make(map[identity.Key]*Row),
		ledger:    make(map[LedgerKey]*LedgerEntry),
		zipSource: make(map[identity.Key]string),
	}
}

// FromState rebuilds a tracker from persisted rows and ledger entries.
func FromState(rows []Row, ledger []LedgerEntry) *Tracker {
	t := New()
	for i := range rows {
		r := rows[i].clone()
		t.rows[r.Key()] = &r
	}
	entries := slices.Clone(ledger)
	slices.SortStableFunc(entries, func(a, b LedgerEntry) int {
		switch {
		case a.Seq < b.Seq:
			return -1
		case a.Seq > b.Seq:
			return 1
		}
		return 0
	})
	for i := range entries {
		e := entries[i]
		t.ledger[e.Key] = &e
		t.order = append(t.order, e.Key)
		if e.Seq > t.seq {
			t.seq = e.Seq
		}
	}
	return t
}

// Len returns the number of tracked identities.
func (t *Tracker) Len() int { return len(t.rows) }

// LedgerLen returns the number of merged letters.
func (t *Tracker) LedgerLen() int { return len(t.order) }

// Row returns a copy of the row for k.
func (t *Tracker) Row(k identity.Key) (Row, bool) {
	r, ok := t.rows[k]
	if !ok {
		return Row{}, false
	}
	return r.clone(), true
}

// Rows returns copies of all rows sorted by identity key.
func (t *Tracker) Rows() []Row {
	keys := t.sortedKeys()
	out := make([]Row, 0, len(keys))
	for _, k := range keys {
		out = append(out, t.rows[k].clone())
	}
	return out
}

// Ledger returns the ledger in merge order.
func (t *Tracker) Ledger() []LedgerEntry {
	out := make([]LedgerEntry, 0, len(t.order))
	for _, k := range t.order {
		out = append(out, *t.ledger[k])
	}
	return out
}

// HasLedgerKey reports whether k was already merged.
func (t *Tracker) HasLedgerKey(k LedgerKey) bool {
	_, ok := t.ledger[k]
	return ok
}

func (t *Tracker) sortedKeys() []identity.Key {
	keys := make([]identity.Key, 0, len(t.rows))
	for k := range t.rows {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, identity.Compare)
	return keys
}

// MergeOptions parameterize one Merge call.
type MergeOptions struct {
	// ZIPIndex backfills rows that carry no ZIP5, typically the campaign
	// master index of the folder the rows came from.
	ZIPIndex map[identity.Key]string
	// RunID is stamped on new ledger entries.
	RunID string
	// Source names where the rows came from (a campaign folder) for diagnostics.
	Source string
}

// Outcome classifies one merged executed-log row.
type Outcome string

const (
	OutcomeMerged    Outcome = "merged"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeSkipped   Outcome = "skipped"
)

// Change describes what Merge did with one executed-log row.
type Change struct {
	Key      identity.Key
	Campaign int
	RefCode  string
	ZIP5     string
	Outcome  Outcome
	// NewIdentity is set when the row created a tracker row.
	NewIdentity bool
}

// ZipConflict records a row whose ZIP5 disagreed with the stored ZIP5.
// The later write in merge order wins.
type ZipConflict struct {
	Key            identity.Key
	Previous       string
	Current        string
	Campaign       int
	PreviousSource string
	Source         string
}

func (c ZipConflict) String() string {
	return fmt.Sprintf("%s: ZIP5 %s (%s) replaced by %s (%s, campaign %d)",
		c.Key, c.Previous, c.PreviousSource, c.Current, c.Source, c.Campaign)
}

// MergeResult summarizes a Merge call.
type MergeResult struct {
	Merged     int
	Duplicates int
	// Skipped counts rows with no identity or no campaign number.
	Skipped           int
	NewIdentities     []identity.Key
	UpdatedIdentities []identity.Key
	// AffectedZIPs lists tally buckets that changed, sorted.
	AffectedZIPs []string
	Conflicts    []ZipConflict
	Changes      []Change
}

// Merge folds executed-log rows into the tracker in order.
//
// For each row whose ledger key is new: the campaign number joins the row's
// set, the template id is appended, first/last sent dates widen, ZIP5 is set
// (from the row, else opts.ZIPIndex) and a ledger entry is recorded. Rows whose
// ledger key is already present change nothing.
//
// ZIP5 is not only backfilled when empty: a differing ZIP from a later row
// replaces the stored one and is reported as a ZipConflict, so a replay in
// folder order always ends on the most recent mailing ZIP.
func (t *Tracker) Merge(rows []execlog.Row, opts MergeOptions) MergeResult {
	var res MergeResult
	created := map[identity.Key]bool{}
	updated := map[identity.Key]bool{}
	zips := map[string]bool{}

	for _, lr := range rows {
		k := lr.Key()
		ch := Change{Key: k, Campaign: lr.CampaignNumber, RefCode: lr.RefCode}

		if k.IsZero() || lr.CampaignNumber <= 0 {
			res.Skipped++
			ch.Outcome = OutcomeSkipped
			res.Changes = append(res.Changes, ch)
			continue
		}

		lk := NewLedgerKey(k, lr.CampaignNumber, lr.RefCode)
		if _, dup := t.ledger[lk]; dup {
			res.Duplicates++
			ch.Outcome = OutcomeDuplicate
			res.Changes = append(res.Changes, ch)
			continue
		}

		zip := lr.ZIP5
		if zip == "" {
			zip = opts.ZIPIndex[k]
		}

		row, ok := t.rows[k]
		if !ok {
			row = &Row{
				PropertyAddress: identity.CollapseSpace(lr.PropertyAddress),
				OwnerName:       identity.CollapseSpace(lr.OwnerName),
			}
			t.rows[k] = row
			created[k] = true
			ch.NewIdentity = true
		} else if !created[k] {
			updated[k] = true
		}

		row.addCampaign(lr.CampaignNumber)
		if lr.TemplateID != "" {
			row.TemplateIDs = append(row.TemplateIDs, lr.TemplateID)
		}
		row.observe(lr.SentDate)

		if zip != "" && zip != row.ZIP5 {
			if row.ZIP5 != "" {
				res.Conflicts = append(res.Conflicts, ZipConflict{
					Key:            k,
					Previous:       row.ZIP5,
					Current:        zip,
					Campaign:       lr.CampaignNumber,
					PreviousSource: t.zipSource[k],
					Source:         opts.Source,
				})
			}
			row.ZIP5 = zip
			t.zipSource[k] = opts.Source
		}

		t.seq++
		entry := &LedgerEntry{
			Key:        lk,
			ZIP5:       row.ZIP5,
			TemplateID: lr.TemplateID,
			SentDate:   lr.SentDate,
			RunID:      opts.RunID,
			Seq:        t.seq,
		}
		t.ledger[lk] = entry
		t.order = append(t.order, lk)
		if entry.ZIP5 != "" {
			zips[entry.ZIP5] = true
		}

		res.Merged++
		ch.ZIP5 = row.ZIP5
		ch.Outcome = OutcomeMerged
		res.Changes = append(res.Changes, ch)
	}

	res.NewIdentities = sortedKeySet(created)
	res.UpdatedIdentities = sortedKeySet(updated)
	res.AffectedZIPs = make([]string, 0, len(zips))
	for z := range zips {
		res.AffectedZIPs = append(res.AffectedZIPs, z)
	}
	slices.Sort(res.AffectedZIPs)
	return res
}

func sortedKeySet(m map[identity.Key]bool) []identity.Key {
	out := make([]identity.Key, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	slices.SortFunc(out, identity.Compare)
	return out
}

// Tally counts merged letters per ZIP5. Letters without a ZIP5 are not counted.
type Tally map[string]int

// ZIPs returns the tally's ZIP5 values in ascending order.
func (t Tally) ZIPs() []string {
	out := make([]string, 0, len(t))
	for z := range t {
		out = append(out, z)
	}
	slices.Sort(out)
	return out
}

// Total returns the number of counted letters.
func (t Tally) Total() int {
	n := 0
	for _, c := range t {
		n += c
	}
	return n
}

// Tally derives the ZIP5 letter tally from the ledger.
func (t *Tracker) Tally() Tally {
	tally := Tally{}
	for _, e := range t.ledger {
		if e.ZIP5 != "" {
			tally[e.ZIP5]++
		}
	}
	return tally
}

// HistoryResult reports a RebuildHistory call.
type HistoryResult struct {
	Rebuilt int
	// Untouched lists rows with no log evidence; their history is kept as is.
	Untouched []identity.Key
	// Adopted counts ledger entries present in the logs but missing here.
	Adopted int
}

// RebuildHistory replaces CampaignNumbers and TemplateIDs of every row that
// replay also knows with replay's values, and adopts replay ledger entries this
// tracker lacks. Dates and ZIP5 are left alone.
func (t *Tracker) RebuildHistory(replay *Tracker) HistoryResult {
	var res HistoryResult
	for _, k := range t.sortedKeys() {
		src, ok := replay.rows[k]
		if !ok {
			res.Untouched = append(res.Untouched, k)
			continue
		}
		row := t.rows[k]
		row.CampaignNumbers = slices.Clone(src.CampaignNumbers)
		row.TemplateIDs = slices.Clone(src.TemplateIDs)
		res.Rebuilt++
	}
	for _, lk := range replay.order {
		if _, ok := t.ledger[lk]; ok {
			continue
		}
		if _, ok := t.rows[lk.Identity]; !ok {
			continue
		}
		e := *replay.ledger[lk]
		t.seq++
		e.Seq = t.seq
		t.ledger[lk] = &e
		t.order = append(t.order, lk)
		res.Adopted++
	}
	return res
}
