// Package presort chooses which eligible records make the campaign so that as
// many ZIP5 groups as possible fill whole trays, and estimates the resulting
// postage.
//
// Packing is deterministic: the same eligible set and options always yield
// the same selection.
package presort

import (
	"cmp"
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/roach88/mailmonkey/internal/identity"
	"github.com/roach88/mailmonkey/internal/ingest"
)

// DefaultTrayThreshold is the number of pieces in a full tray.
const DefaultTrayThreshold = 150

// Options configure Pack.
type Options struct {
	Target    int
	Strict150 bool
	// TrayThreshold defaults to DefaultTrayThreshold.
	TrayThreshold int
	// MinTraySize is the smallest tray-multiple worth taking in the tray
	// pass. Defaults to TrayThreshold.
	MinTraySize int
	Logger      *slog.Logger
}

func (o *Options) normalize() {
	if o.TrayThreshold <= 0 {
		o.TrayThreshold = DefaultTrayThreshold
	}
	if o.MinTraySize <= 0 {
		o.MinTraySize = o.TrayThreshold
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
}

// MandatoryOverflowError is returned when mandatory records alone exceed
// the target.
type MandatoryOverflowError struct {
	Mandatory int
	Target    int
}

func (e *MandatoryOverflowError) Error() string {
	return fmt.Sprintf("%d mandatory records exceed target size %d", e.Mandatory, e.Target)
}

// ZIPCount is one line of the ZIP5 report.
type ZIPCount struct {
	ZIP5  string
	Count int
}

// ZIP3Summary is one line of the ZIP3 summary.
type ZIP3Summary struct {
	ZIP3        string
	ZIP5Buckets int
	Pieces      int
}

// Result is the packed selection.
type Result struct {
	// Selected is sorted by (ZIP5, address, owner).
	Selected    []ingest.Record
	ZIP5Report  []ZIPCount
	ZIP3Summary []ZIP3Summary
	Pool        int
	Mandatory   int
	Warnings    []string
}

// FullTrayShare returns the fraction of selected ZIP5 groups whose size is a
// positive multiple of threshold.
func (r *Result) FullTrayShare(threshold int) float64 {
	if len(r.ZIP5Report) == 0 {
		return 0
	}
	n := 0
	for _, z := range r.ZIP5Report {
		if z.Count%threshold == 0 {
			n++
		}
	}
	return float64(n) / float64(len(r.ZIP5Report))
}

// ZIPs returns the ZIP5 of every selected record, in selection order.
func (r *Result) ZIPs() []string {
	out := make([]string, len(r.Selected))
	for i, rec := range r.Selected {
		out[i] = rec.ZIP5
	}
	return out
}

type group struct {
	zip     string
	records []ingest.Record // pinned first, then by key
	pinned  int
	taken   int
}

func (g *group) rest() int { return len(g.records) - g.taken }

// Pack selects at most opts.Target records from eligible.
func Pack(eligible []ingest.Record, opts Options) (*Result, error) {
	opts.normalize()
	res := &Result{Pool: len(eligible)}

	groups := buildGroups(eligible)
	selected := 0
	for _, g := range groups {
		g.taken = g.pinned
		selected += g.pinned
	}
	res.Mandatory = selected
	if selected > opts.Target {
		return nil, &MandatoryOverflowError{Mandatory: selected, Target: opts.Target}
	}

	if len(eligible) <= opts.Target {
		if len(eligible) < opts.Target {
			res.Warnings = append(res.Warnings,
				fmt.Sprintf("eligible pool (%d) is smaller than target size (%d); selecting all", len(eligible), opts.Target))
		}
		for _, g := range groups {
			g.taken = len(g.records)
		}
	} else {
		if opts.Strict150 {
			selected = trayPass(groups, selected, opts)
		}
		fillPass(groups, selected, opts)
	}

	for _, g := range groups {
		res.Selected = append(res.Selected, g.records[:g.taken]...)
	}
	slices.SortFunc(res.Selected, func(a, b ingest.Record) int {
		if c := cmp.Compare(a.ZIP5, b.ZIP5); c != 0 {
			return c
		}
		return identity.Compare(a.Key, b.Key)
	})
	res.ZIP5Report = zip5Report(res.Selected)
	res.ZIP3Summary = zip3Summary(res.ZIP5Report)

	for _, w := range res.Warnings {
		opts.Logger.Warn(w)
	}
	opts.Logger.Info("presort packed",
		"pool", res.Pool,
		"target", opts.Target,
		"selected", len(res.Selected),
		"mandatory", res.Mandatory,
		"zip5_groups", len(res.ZIP5Report),
		"full_tray_share", res.FullTrayShare(opts.TrayThreshold))
	return res, nil
}

// buildGroups groups records by ZIP5, ordered by size descending then ZIP5.
func buildGroups(records []ingest.Record) []*group {
	byZIP := map[string]*group{}
	var groups []*group
	for _, r := range records {
		g, ok := byZIP[r.ZIP5]
		if !ok {
			g = &group{zip: r.ZIP5}
			byZIP[r.ZIP5] = g
			groups = append(groups, g)
		}
		g.records = append(g.records, r)
		if r.Mandatory {
			g.pinned++
		}
	}
	for _, g := range groups {
		slices.SortStableFunc(g.records, func(a, b ingest.Record) int {
			if a.Mandatory != b.Mandatory {
				if a.Mandatory {
					return -1
				}
				return 1
			}
			return identity.Compare(a.Key, b.Key)
		})
	}
	slices.SortFunc(groups, func(a, b *group) int {
		if c := cmp.Compare(len(b.records), len(a.records)); c != 0 {
			return c
		}
		return cmp.Compare(a.zip, b.zip)
	})
	return groups
}

// trayPass takes the largest threshold multiple of each group that fits.
func trayPass(groups []*group, selected int, opts Options) int {
	for _, g := range groups {
		capacity := opts.Target - selected
		if capacity <= 0 {
			break
		}
		reach := min(len(g.records), g.taken+capacity)
		want := reach / opts.TrayThreshold * opts.TrayThreshold
		if want < opts.MinTraySize || want <= g.taken {
			continue
		}
		selected += want - g.taken
		g.taken = want
	}
	return selected
}

// fillPass tops the selection up to the target.
//
// Without strict packing whole groups are accepted first, then groups are
// trimmed to fit. With strict packing the tray pass already took every full
// tray, so the remainder is drawn from the groups with the most records left,
// which finishes few groups instead of opening many small ones.
func fillPass(groups []*group, selected int, opts Options) {
	if !opts.Strict150 {
		for _, g := range groups {
			if r := g.rest(); r > 0 && selected+r <= opts.Target {
				g.taken += r
				selected += r
			}
		}
		for _, g := range groups {
			if selected >= opts.Target {
				return
			}
			take := min(g.rest(), opts.Target-selected)
			g.taken += take
			selected += take
		}
		return
	}

	order := slices.Clone(groups)
	slices.SortStableFunc(order, func(a, b *group) int {
		if c := cmp.Compare(b.rest(), a.rest()); c != 0 {
			return c
		}
		return cmp.Compare(a.zip, b.zip)
	})
	for _, g := range order {
		if selected >= opts.Target {
			return
		}
		take := min(g.rest(), opts.Target-selected)
		g.taken += take
		selected += take
	}
}

func zip5Report(selected []ingest.Record) []ZIPCount {
	counts := map[string]int{}
	for _, r := range selected {
		counts[r.ZIP5]++
	}
	out := make([]ZIPCount, 0, len(counts))
	for z, c := range counts {
		out = append(out, ZIPCount{ZIP5: z, Count: c})
	}
	slices.SortFunc(out, func(a, b ZIPCount) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return cmp.Compare(a.ZIP5, b.ZIP5)
	})
	return out
}

func zip3Summary(report []ZIPCount) []ZIP3Summary {
	byZIP3 := map[string]*ZIP3Summary{}
	for _, z := range report {
		z3 := identity.ZIP3(z.ZIP5)
		s, ok := byZIP3[z3]
		if !ok {
			s = &ZIP3Summary{ZIP3: z3}
			byZIP3[z3] = s
		}
		s.ZIP5Buckets++
		s.Pieces += z.Count
	}
	out := make([]ZIP3Summary, 0, len(byZIP3))
	for _, s := range byZIP3 {
		out = append(out, *s)
	}
	slices.SortFunc(out, func(a, b ZIP3Summary) int { return cmp.Compare(a.ZIP3, b.ZIP3) })
	return out
}
