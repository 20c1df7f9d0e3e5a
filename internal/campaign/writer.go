package campaign

import (
	"fmt"
	"io"
	"log/slog"
	"math"
	"path/filepath"
	"slices"
	"strconv"

	"github.com/roach88/mailmonkey/internal/ingest"
	"github.com/roach88/mailmonkey/internal/presort"
	"github.com/roach88/mailmonkey/internal/table"
)

// Identity columns appended to the template header when it lacks them.
var identityColumns = []string{"PropertyAddress", "OwnerName", "ZIP5"}

// Output is everything written into a new campaign folder.
type Output struct {
	Folder Folder
	// Header is the template header, usually the first mandatory list's.
	Header    []string
	Presort   *presort.Result
	Postage   presort.Postage
	Threshold int
	// Overwrite allows replacing a master that has not been finalized.
	Overwrite bool
}

// Files lists the files Write produces, in write order.
func (o *Output) Files() []string {
	return []string{MasterFile, PresortFile, ZIP3File, PostageFile, TrayPlanFile}
}

// Writer writes campaign folders.
type Writer struct {
	logger *slog.Logger
}

// NewWriter creates a Writer. A nil logger discards output.
func NewWriter(logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Writer{logger: logger}
}

// Write renders every file first and then writes each atomically, so a
// rendering failure leaves the folder untouched.
func (w *Writer) Write(out *Output) error {
	f := out.Folder
	if table.Exists(f.ExecutedLogPath()) {
		return fmt.Errorf("%s: %w", f.Dir, ErrFinalized)
	}
	if table.Exists(f.MasterPath()) && !out.Overwrite {
		return fmt.Errorf("%s: %w", f.MasterPath(), ErrMasterExists)
	}

	header := MasterHeader(out.Header)
	files := map[string][]byte{}
	render := func(name string, h []string, recs [][]string) error {
		data, err := table.Render(h, recs)
		if err != nil {
			return fmt.Errorf("render %s: %w", name, err)
		}
		files[name] = data
		return nil
	}

	if err := render(MasterFile, header, masterRecords(header, out.Presort.Selected)); err != nil {
		return err
	}
	if err := render(PresortFile, []string{"ZIP5", "Count"}, presortRecords(out.Presort)); err != nil {
		return err
	}
	if err := render(ZIP3File, []string{"ZIP3", "EstZIP5Buckets", "TotalPieces"}, zip3Records(out.Presort)); err != nil {
		return err
	}
	if err := render(PostageFile, []string{"Tier", "Pieces", "Rate", "Cost"}, PostageRecords(out.Postage)); err != nil {
		return err
	}
	trays := presort.PlanTrays(out.Presort.ZIPs(), out.Threshold)
	if err := render(TrayPlanFile, []string{"Tray", "Type", "Group", "Start", "End", "Count"}, trayRecords(trays)); err != nil {
		return err
	}

	for _, name := range out.Files() {
		path := filepath.Join(f.Dir, name)
		if err := table.WriteBytes(path, files[name]); err != nil {
			return err
		}
	}
	w.logger.Info("campaign folder written",
		"dir", f.Dir,
		"records", len(out.Presort.Selected),
		"trays", len(trays),
		"postage_total", round(out.Postage.Total(), 2))
	return nil
}

// MasterHeader returns header with the identity columns appended when missing.
func MasterHeader(header []string) []string {
	out := slices.Clone(header)
	for _, c := range identityColumns {
		if !slices.Contains(out, c) {
			out = append(out, c)
		}
	}
	return out
}

func masterRecords(header []string, selected []ingest.Record) [][]string {
	out := make([][]string, 0, len(selected))
	for _, r := range selected {
		rec := make([]string, len(header))
		for i, h := range header {
			v := r.Fields[h]
			switch {
			case h == "PropertyAddress" && v == "":
				v = r.PropertyAddress
			case h == "OwnerName" && v == "":
				v = r.OwnerName
			case h == "ZIP5":
				v = r.ZIP5
			}
			rec[i] = v
		}
		out = append(out, rec)
	}
	return out
}

func presortRecords(res *presort.Result) [][]string {
	out := make([][]string, 0, len(res.ZIP5Report))
	for _, z := range res.ZIP5Report {
		out = append(out, []string{z.ZIP5, strconv.Itoa(z.Count)})
	}
	return out
}

func zip3Records(res *presort.Result) [][]string {
	out := make([][]string, 0, len(res.ZIP3Summary))
	for _, z := range res.ZIP3Summary {
		out = append(out, []string{z.ZIP3, strconv.Itoa(z.ZIP5Buckets), strconv.Itoa(z.Pieces)})
	}
	return out
}

// PostageRecords renders the postage estimate rows.
func PostageRecords(p presort.Postage) [][]string {
	money := func(v float64) string { return strconv.FormatFloat(round(v, 2), 'f', -1, 64) }
	rate := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	return [][]string{
		{"5digit", strconv.Itoa(p.FiveDigit), rate(p.Rates.FiveDigit), money(p.Cost5())},
		{"3digit", strconv.Itoa(p.ThreeDigit), rate(p.Rates.ThreeDigit), money(p.Cost3())},
		{"AADC", strconv.Itoa(p.AADC), rate(p.Rates.AADC), money(p.CostAADC())},
		{"total", strconv.Itoa(p.Pieces), "", money(p.Total())},
		{"AveragePerPiece", "", "", strconv.FormatFloat(round(p.AveragePerPiece(), 4), 'f', -1, 64)},
	}
}

func trayRecords(trays []presort.Tray) [][]string {
	out := make([][]string, 0, len(trays))
	for _, t := range trays {
		out = append(out, []string{
			strconv.Itoa(t.ID), t.Type, t.Group,
			strconv.Itoa(t.Start), strconv.Itoa(t.End), strconv.Itoa(t.Count),
		})
	}
	return out
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
