package execlog

import (
	"time"

	"github.com/roach88/mailmonkey/internal/clock"
	"github.com/roach88/mailmonkey/internal/identity"
	"github.com/roach88/mailmonkey/internal/table"
)

// Mapping column aliases, folded. The renderer has shipped several spellings.
var (
	mappingOwner    = []string{"owner", "ownername", "owner name"}
	mappingAddress  = []string{"property_address", "propertyaddress", "property address", "address"}
	mappingRefCode  = []string{"ref_code", "refcode", "ref code"}
	mappingTemplate = []string{"template_ref", "template_id", "templateid", "template"}
	mappingZIP      = []string{"zip5", "zip", "zip code", "mail zip"}
	mappingSent     = []string{"sentdt", "sent_date", "executeddt"}
)

// MappingRow is one letter reported by the renderer.
type MappingRow struct {
	OwnerName       string
	PropertyAddress string
	RefCode         string
	TemplateID      string
	ZIP5            string
	SentDate        string
	Line            int
}

// Mapping is a parsed letters mapping file.
type Mapping struct {
	Path string
	Rows []MappingRow
	// Skipped counts rows without an address or owner.
	Skipped int
}

// ReadMapping parses the mapping file at path.
func ReadMapping(path string) (*Mapping, error) {
	tbl, err := table.Read(path)
	if err != nil {
		return nil, err
	}
	m := &Mapping{Path: path}
	for i, raw := range tbl.Rows {
		cols := identity.FoldColumns(tbl.Header, raw)
		r := MappingRow{
			OwnerName:       identity.CollapseSpace(cols.First(mappingOwner...)),
			PropertyAddress: identity.CollapseSpace(cols.First(mappingAddress...)),
			RefCode:         cols.First(mappingRefCode...),
			TemplateID:      cols.First(mappingTemplate...),
			ZIP5:            identity.ZIP5FromText(cols.First(mappingZIP...)),
			SentDate:        cols.First(mappingSent...),
			Line:            tbl.Line(i),
		}
		if r.OwnerName == "" || r.PropertyAddress == "" {
			m.Skipped++
			continue
		}
		m.Rows = append(m.Rows, r)
	}
	return m, nil
}

// Defaults fill the executed-log fields a mapping row leaves blank.
type Defaults struct {
	CampaignName   string
	CampaignNumber int
	TemplateID     string
	SentDate       time.Time
	// ZIPIndex is the campaign master's identity -> ZIP5 index.
	ZIPIndex map[identity.Key]string
}

// ToRows converts the mapping into executed-log rows.
// The second result counts rows whose SentDt did not parse and got the default date.
func (m *Mapping) ToRows(d Defaults) ([]Row, int) {
	out := make([]Row, 0, len(m.Rows))
	badDates := 0
	for _, mr := range m.Rows {
		r := Row{
			CampaignName:    d.CampaignName,
			CampaignNumber:  d.CampaignNumber,
			OwnerName:       mr.OwnerName,
			PropertyAddress: mr.PropertyAddress,
			TemplateID:      mr.TemplateID,
			RefCode:         mr.RefCode,
			ZIP5:            mr.ZIP5,
			SentDate:        d.SentDate,
		}
		if r.TemplateID == "" {
			r.TemplateID = d.TemplateID
		}
		if r.ZIP5 == "" {
			r.ZIP5 = d.ZIPIndex[r.Key()]
		}
		if mr.SentDate != "" {
			if t, err := clock.ParseDate(mr.SentDate); err == nil {
				r.SentDate = t
			} else {
				badDates++
			}
		}
		out = append(out, r)
	}
	return out, badDates
}
