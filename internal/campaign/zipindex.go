package campaign

import (
	"github.com/roach88/mailmonkey/internal/identity"
	"github.com/roach88/mailmonkey/internal/table"
)

// ZIPIndex maps each identity in a campaign master to its mailing ZIP5.
// It backfills executed-log rows that carry no ZIP5.
type ZIPIndex map[identity.Key]string

// ReadZIPIndex reads the folder's campaign master. A folder without a master
// yields an empty index. Rows resolve ZIP5 with the same mail-first
// precedence used at ingest; the first row of an identity wins.
func (f Folder) ReadZIPIndex() (ZIPIndex, error) {
	tbl, err := table.ReadIfExists(f.MasterPath())
	if err != nil {
		return nil, err
	}
	idx := ZIPIndex{}
	if tbl == nil {
		return idx, nil
	}
	for _, raw := range tbl.Rows {
		cols := identity.FoldColumns(tbl.Header, raw)
		k := cols.Key()
		if k.IsZero() {
			continue
		}
		if _, seen := idx[k]; seen {
			continue
		}
		if z := cols.ZIP5(); z != "" {
			idx[k] = z
		}
	}
	return idx, nil
}
