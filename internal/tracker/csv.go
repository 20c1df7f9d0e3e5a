package tracker

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/roach88/mailmonkey/internal/clock"
	"github.com/roach88/mailmonkey/internal/execlog"
	"github.com/roach88/mailmonkey/internal/identity"
	"github.com/roach88/mailmonkey/internal/table"
)

// File names inside the tracker directory.
const (
	DefaultDir = "MasterCampaignTracker"
	TrackerCSV = "MasterPropertyCampaignTracker.csv"
	TallyCSV   = "Zip5_LetterTally.csv"
	StateDB    = "tracker.db"
)

// ListSeparator joins CampaignNumbers and TemplateIds cells.
const ListSeparator = "|"

// CSVHeader is the tracker export header.
var CSVHeader = []string{
	"PropertyAddress", "OwnerName", "ZIP5", "CampaignNumbers", "CampaignCount",
	"TemplateIds", "FirstSentDt", "LastSentDt",
}

// TallyHeader is the tally export header.
var TallyHeader = []string{"ZIP5", "Count"}

// Layout locates the tracker files.
type Layout struct {
	Dir string
}

// LayoutFor returns the layout of the tracker directory under root.
func LayoutFor(root string) Layout {
	return Layout{Dir: filepath.Join(root, DefaultDir)}
}

func (l Layout) TrackerPath() string { return filepath.Join(l.Dir, TrackerCSV) }
func (l Layout) TallyPath() string   { return filepath.Join(l.Dir, TallyCSV) }
func (l Layout) StatePath() string   { return filepath.Join(l.Dir, StateDB) }

// RenderCSV encodes the tracker export. Rows are sorted by identity key so
// identical state always renders identical bytes.
func (t *Tracker) RenderCSV() ([]byte, error) {
	rows := t.Rows()
	records := make([][]string, 0, len(rows))
	for i := range rows {
		r := &rows[i]
		nums := make([]string, len(r.CampaignNumbers))
		for j, n := range r.CampaignNumbers {
			nums[j] = strconv.Itoa(n)
		}
		records = append(records, []string{
			r.PropertyAddress,
			r.OwnerName,
			r.ZIP5,
			strings.Join(nums, ListSeparator),
			strconv.Itoa(r.CampaignCount()),
			strings.Join(r.TemplateIDs, ListSeparator),
			clock.FormatDate(r.FirstSent),
			clock.FormatDate(r.LastSent),
		})
	}
	return table.Render(CSVHeader, records)
}

// RenderTally encodes the tally export, sorted by ZIP5.
func (t *Tracker) RenderTally() ([]byte, error) {
	tally := t.Tally()
	records := make([][]string, 0, len(tally))
	for _, z := range tally.ZIPs() {
		records = append(records, []string{z, strconv.Itoa(tally[z])})
	}
	return table.Render(TallyHeader, records)
}

// Export atomically writes both CSV exports.
func (t *Tracker) Export(l Layout) error {
	data, err := t.RenderCSV()
	if err != nil {
		return fmt.Errorf("render tracker: %w", err)
	}
	if err := table.WriteBytes(l.TrackerPath(), data); err != nil {
		return err
	}
	data, err = t.RenderTally()
	if err != nil {
		return fmt.Errorf("render tally: %w", err)
	}
	return table.WriteBytes(l.TallyPath(), data)
}

// SnapshotEntry is the eligibility-relevant part of a tracker row as read
// from the export. LastSentDt stays raw so the caller decides how to treat
// unparsable dates.
type SnapshotEntry struct {
	CampaignNumbers []int
	LastSentDt      string
}

// CampaignCount is the number of distinct campaigns in the entry.
func (e SnapshotEntry) CampaignCount() int { return len(e.CampaignNumbers) }

// Snapshot is the tracker as seen by the selection path.
type Snapshot map[identity.Key]SnapshotEntry

// Snapshot returns the current state as a Snapshot.
func (t *Tracker) Snapshot() Snapshot {
	s := make(Snapshot, len(t.rows))
	for k, r := range t.rows {
		s[k] = SnapshotEntry{
			CampaignNumbers: append([]int(nil), r.CampaignNumbers...),
			LastSentDt:      clock.FormatDate(r.LastSent),
		}
	}
	return s
}

// ReadSnapshot reads a tracker export. A missing file yields an empty snapshot.
// Rows sharing an identity are combined.
func ReadSnapshot(path string) (Snapshot, error) {
	tbl, err := table.ReadIfExists(path)
	if err != nil {
		return nil, err
	}
	s := Snapshot{}
	if tbl == nil {
		return s, nil
	}
	for _, raw := range tbl.Rows {
		k := identity.NewKey(raw["PropertyAddress"], raw["OwnerName"])
		if k.IsZero() {
			continue
		}
		e := s[k]
		for _, n := range ParseCampaignList(raw["CampaignNumbers"]) {
			e.CampaignNumbers = insertSorted(e.CampaignNumbers, n)
		}
		if last := raw["LastSentDt"]; last != "" {
			e.LastSentDt = laterDate(e.LastSentDt, last)
		}
		s[k] = e
	}
	return s, nil
}

// ParseCampaignList parses a CampaignNumbers cell. "|" is the canonical
// separator; "," and ";" are accepted from hand-edited files.
func ParseCampaignList(s string) []int {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == '|' || r == ',' || r == ';'
	})
	var out []int
	for _, f := range fields {
		if n := execlog.ParseCampaignNumber(f); n > 0 {
			out = insertSorted(out, n)
		}
	}
	return out
}

func insertSorted(s []int, n int) []int {
	r := Row{CampaignNumbers: s}
	r.addCampaign(n)
	return r.CampaignNumbers
}

// laterDate keeps the later of two raw dates. An unparsable value wins so the
// ambiguity reaches the caller.
func laterDate(a, b string) string {
	if a == "" {
		return b
	}
	ta, errA := clock.ParseDate(a)
	if errA != nil {
		return a
	}
	tb, errB := clock.ParseDate(b)
	if errB != nil || tb.After(ta) {
		return b
	}
	return a
}
