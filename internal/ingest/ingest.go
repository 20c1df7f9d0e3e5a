// Package ingest turns heterogeneous list exports into deduplicated records.
//
// Sources are consumed mandatory-first, then optional, each in the order given.
// The first occurrence of an identity wins; later duplicates are counted and
// dropped. Ingestion never writes files.
package ingest

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/roach88/mailmonkey/internal/identity"
	"github.com/roach88/mailmonkey/internal/table"
)

// Source is one input list.
type Source struct {
	Path      string
	Mandatory bool
}

// Record is one deduplicated mailing candidate.
type Record struct {
	Key             identity.Key
	PropertyAddress string // display form, whitespace-collapsed
	OwnerName       string
	MailingAddress  string
	ZIP5            string
	Mandatory       bool
	Source          string
	Line            int
	// Header and Fields carry the source row unchanged for the campaign master.
	Header []string
	Fields map[string]string
}

// SourceStats summarizes one source.
type SourceStats struct {
	Path       string
	Mandatory  bool
	Rows       int
	Kept       int
	Duplicates int
	Missing    map[string]int // field -> dropped rows
}

// Result is the output of an ingestion run.
type Result struct {
	Records []Record
	// Header is the header of the first mandatory source, else the first
	// optional one. Campaign masters are written with it.
	Header []string
	Stats  []SourceStats
	// Dropped lists every row rejected for a missing field.
	Dropped []*MissingFieldError
}

// MandatoryCount returns the number of mandatory records.
func (r *Result) MandatoryCount() int {
	n := 0
	for _, rec := range r.Records {
		if rec.Mandatory {
			n++
		}
	}
	return n
}

// Ingestor reads sources into records.
type Ingestor struct {
	logger *slog.Logger
}

// New creates an Ingestor. A nil logger discards output.
func New(logger *slog.Logger) *Ingestor {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Ingestor{logger: logger}
}

// Ingest reads each source from disk and ingests them in priority order.
// An unreadable source is a structural error and aborts the run.
func (in *Ingestor) Ingest(sources []Source) (*Result, error) {
	ordered := orderSources(sources)
	tables := make([]*table.Table, len(ordered))
	for i, src := range ordered {
		t, err := table.Read(src.Path)
		if err != nil {
			return nil, fmt.Errorf("ingest source: %w", err)
		}
		tables[i] = t
	}
	return in.IngestTables(ordered, tables), nil
}

// IngestTables ingests already-parsed tables. sources[i] describes tables[i];
// the pair is reordered mandatory-first before processing.
func (in *Ingestor) IngestTables(sources []Source, tables []*table.Table) *Result {
	res := &Result{}
	seen := make(map[identity.Key]struct{})

	for _, i := range priorityOrder(sources) {
		src, tbl := sources[i], tables[i]
		if res.Header == nil && len(tbl.Header) > 0 {
			res.Header = append([]string(nil), tbl.Header...)
		}

		st := SourceStats{Path: src.Path, Mandatory: src.Mandatory, Missing: map[string]int{}}
		for r, row := range tbl.Rows {
			st.Rows++
			line := tbl.Line(r)

			rec, missErr := buildRecord(src, tbl.Header, row, line)
			if missErr != nil {
				st.Missing[missErr.Field]++
				res.Dropped = append(res.Dropped, missErr)
				in.logger.Debug("row dropped", "source", src.Path, "line", line, "field", missErr.Field)
				continue
			}
			if _, dup := seen[rec.Key]; dup {
				st.Duplicates++
				continue
			}
			seen[rec.Key] = struct{}{}
			res.Records = append(res.Records, rec)
			st.Kept++
		}

		in.logger.Info("source ingested",
			"source", src.Path,
			"mandatory", src.Mandatory,
			"rows", st.Rows,
			"kept", st.Kept,
			"duplicates", st.Duplicates,
			"dropped", st.Rows-st.Kept-st.Duplicates)
		res.Stats = append(res.Stats, st)
	}
	return res
}

func buildRecord(src Source, header []string, row map[string]string, line int) (Record, *MissingFieldError) {
	cols := identity.FoldColumns(header, row)

	addr := cols.Address()
	if addr == "" {
		return Record{}, &MissingFieldError{Source: src.Path, Line: line, Field: FieldPropertyAddress}
	}
	owner := cols.Owner()
	if owner == "" {
		return Record{}, &MissingFieldError{Source: src.Path, Line: line, Field: FieldOwnerName}
	}
	zip := cols.ZIP5()
	if zip == "" {
		return Record{}, &MissingFieldError{Source: src.Path, Line: line, Field: FieldZIP5}
	}

	return Record{
		Key:             identity.NewKey(addr, owner),
		PropertyAddress: addr,
		OwnerName:       owner,
		MailingAddress:  cols.MailingAddress(),
		ZIP5:            zip,
		Mandatory:       src.Mandatory,
		Source:          src.Path,
		Line:            line,
		Header:          header,
		Fields:          row,
	}, nil
}

func orderSources(sources []Source) []Source {
	out := make([]Source, 0, len(sources))
	for _, i := range priorityOrder(sources) {
		out = append(out, sources[i])
	}
	return out
}

// priorityOrder returns source indexes with mandatory sources first,
// preserving the given order within each class.
func priorityOrder(sources []Source) []int {
	out := make([]int, 0, len(sources))
	for i := range sources {
		if sources[i].Mandatory {
			out = append(out, i)
		}
	}
	for i := range sources {
		if !sources[i].Mandatory {
			out = append(out, i)
		}
	}
	return out
}
