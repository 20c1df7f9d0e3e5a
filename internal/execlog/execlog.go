// Package execlog reads and appends a campaign folder's executed_campaign_log.csv,
// the append-only record of letters actually sent. Logs are the source of truth
// that tracker state is rebuilt from, so existing rows are never rewritten: an
// append reproduces the existing bytes and adds rows after them.
package execlog

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/roach88/mailmonkey/internal/clock"
	"github.com/roach88/mailmonkey/internal/identity"
	"github.com/roach88/mailmonkey/internal/table"
)

// Column names of the executed log.
const (
	ColSentDate       = "SentDt"
	ColLegacySentDate = "ExecutedDt"
	ColCampaignName   = "CampaignName"
	ColCampaignNumber = "CampaignNumber"
	ColOwnerName      = "OwnerName"
	ColPropertyAddr   = "PropertyAddress"
	ColTemplateID     = "TemplateId"
	ColRefCode        = "RefCode"
	ColZIP5           = "ZIP5"
)

// Header is the column order of a newly created log.
var Header = []string{
	ColSentDate, ColCampaignName, ColCampaignNumber, ColOwnerName,
	ColPropertyAddr, ColTemplateID, ColRefCode, ColZIP5,
}

// Row is one sent letter.
type Row struct {
	SentDate        time.Time
	CampaignName    string
	CampaignNumber  int
	OwnerName       string
	PropertyAddress string
	TemplateID      string
	RefCode         string
	ZIP5            string
	// Extra holds passthrough columns by header name.
	Extra map[string]string
	// Line is the 1-based file line, 0 for rows not yet on disk.
	Line int
}

// Key returns the identity the row was mailed to.
func (r Row) Key() identity.Key {
	return identity.NewKey(r.PropertyAddress, r.OwnerName)
}

// Log is a parsed executed log.
type Log struct {
	Path   string
	Header []string
	Rows   []Row
	// Skipped counts rows without an address or owner.
	Skipped int
	// BadDates counts rows whose date column did not parse; their SentDate is zero.
	BadDates int
}

// Exists reports whether the log file exists.
func (l *Log) Exists() bool {
	return len(l.Header) > 0
}

// Read parses the log at path. A missing file yields an empty Log and no error.
func Read(path string) (*Log, error) {
	tbl, err := table.ReadIfExists(path)
	if err != nil {
		return nil, err
	}
	log := &Log{Path: path}
	if tbl == nil {
		return log, nil
	}
	log.Header = tbl.Header

	known := make(map[string]bool, len(Header)+1)
	for _, h := range Header {
		known[h] = true
	}
	known[ColLegacySentDate] = true

	for i, raw := range tbl.Rows {
		r := Row{
			CampaignName:    raw[ColCampaignName],
			CampaignNumber:  ParseCampaignNumber(raw[ColCampaignNumber]),
			OwnerName:       identity.CollapseSpace(raw[ColOwnerName]),
			PropertyAddress: identity.CollapseSpace(raw[ColPropertyAddr]),
			TemplateID:      raw[ColTemplateID],
			RefCode:         raw[ColRefCode],
			ZIP5:            identity.ZIP5FromText(raw[ColZIP5]),
			Line:            tbl.Line(i),
		}
		if r.OwnerName == "" || r.PropertyAddress == "" {
			log.Skipped++
			continue
		}

		dateText := raw[ColSentDate]
		if dateText == "" {
			dateText = raw[ColLegacySentDate]
		}
		d, err := clock.ParseDate(dateText)
		if err != nil {
			log.BadDates++
		}
		r.SentDate = d

		for _, h := range tbl.Header {
			if !known[h] && raw[h] != "" {
				if r.Extra == nil {
					r.Extra = make(map[string]string)
				}
				r.Extra[h] = raw[h]
			}
		}
		log.Rows = append(log.Rows, r)
	}
	return log, nil
}

// ParseCampaignNumber extracts the digits of a campaign number cell
// ("3", "3.0", "#3"). Returns 0 when there are none.
func ParseCampaignNumber(s string) int {
	s = strings.TrimSuffix(strings.TrimSpace(s), ".0")
	var digits strings.Builder
	for _, c := range s {
		if c >= '0' && c <= '9' {
			digits.WriteRune(c)
		}
	}
	n, err := strconv.Atoi(digits.String())
	if err != nil {
		return 0
	}
	return n
}

// ErrHeaderMismatch is returned when appending to a log whose header lacks a
// required column.
var ErrHeaderMismatch = errors.New("executed log header is missing required columns")

// Render returns the bytes of l with rows appended. Existing file content is
// reproduced unchanged; new rows follow in the existing header's column order.
// A log that does not exist yet is created with Header plus the sorted union
// of the new rows' extra columns.
func (l *Log) Render(rows []Row) ([]byte, error) {
	var existing []byte
	header := l.Header
	if l.Exists() {
		b, err := os.ReadFile(l.Path)
		if err != nil {
			return nil, fmt.Errorf("read executed log: %w", err)
		}
		existing = b
		if err := checkHeader(header); err != nil {
			return nil, fmt.Errorf("%s: %w", l.Path, err)
		}
	} else {
		header = append(slices.Clone(Header), extraColumns(rows)...)
	}

	var buf bytes.Buffer
	buf.Write(existing)
	if len(existing) > 0 && existing[len(existing)-1] != '\n' {
		buf.WriteByte('\n')
	}
	w := csv.NewWriter(&buf)
	if len(existing) == 0 {
		if err := w.Write(header); err != nil {
			return nil, err
		}
	}
	for _, r := range rows {
		if err := w.Write(r.record(header)); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Append atomically rewrites the log file with rows appended.
func (l *Log) Append(rows []Row) error {
	data, err := l.Render(rows)
	if err != nil {
		return err
	}
	return table.WriteBytes(l.Path, data)
}

func checkHeader(header []string) error {
	has := func(name string) bool { return slices.Contains(header, name) }
	if !has(ColSentDate) && !has(ColLegacySentDate) {
		return fmt.Errorf("%w: %s", ErrHeaderMismatch, ColSentDate)
	}
	for _, c := range []string{ColCampaignNumber, ColOwnerName, ColPropertyAddr, ColTemplateID, ColZIP5} {
		if !has(c) {
			return fmt.Errorf("%w: %s", ErrHeaderMismatch, c)
		}
	}
	return nil
}

func extraColumns(rows []Row) []string {
	set := map[string]struct{}{}
	for _, r := range rows {
		for k := range r.Extra {
			set[k] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

func (r Row) record(header []string) []string {
	rec := make([]string, len(header))
	for i, h := range header {
		switch h {
		case ColSentDate, ColLegacySentDate:
			rec[i] = clock.FormatDate(r.SentDate)
		case ColCampaignName:
			rec[i] = r.CampaignName
		case ColCampaignNumber:
			if r.CampaignNumber > 0 {
				rec[i] = strconv.Itoa(r.CampaignNumber)
			}
		case ColOwnerName:
			rec[i] = r.OwnerName
		case ColPropertyAddr:
			rec[i] = r.PropertyAddress
		case ColTemplateID:
			rec[i] = r.TemplateID
		case ColRefCode:
			rec[i] = r.RefCode
		case ColZIP5:
			rec[i] = r.ZIP5
		default:
			rec[i] = r.Extra[h]
		}
	}
	return rec
}
