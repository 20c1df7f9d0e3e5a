package tracker

import (
	"slices"
	"time"

	"github.com/roach88/mailmonkey/internal/identity"
)

// Row is the mailing history of one identity.
type Row struct {
	// PropertyAddress and OwnerName are display values, first seen wins.
	PropertyAddress string
	OwnerName       string
	ZIP5            string
	// CampaignNumbers is sorted and unique.
	CampaignNumbers []int
	// TemplateIDs is in merge order; duplicates are allowed.
	TemplateIDs []string
	FirstSent   time.Time
	LastSent    time.Time
}

// Key returns the row's identity.
func (r *Row) Key() identity.Key {
	return identity.NewKey(r.PropertyAddress, r.OwnerName)
}

// CampaignCount is the number of distinct campaigns the identity was mailed in.
func (r *Row) CampaignCount() int {
	return len(r.CampaignNumbers)
}

// addCampaign inserts n keeping CampaignNumbers sorted and unique.
func (r *Row) addCampaign(n int) {
	i, found := slices.BinarySearch(r.CampaignNumbers, n)
	if found {
		return
	}
	r.CampaignNumbers = slices.Insert(r.CampaignNumbers, i, n)
}

// observe widens FirstSent/LastSent to include d. Zero dates are ignored.
func (r *Row) observe(d time.Time) {
	if d.IsZero() {
		return
	}
	if r.FirstSent.IsZero() || d.Before(r.FirstSent) {
		r.FirstSent = d
	}
	if r.LastSent.IsZero() || d.After(r.LastSent) {
		r.LastSent = d
	}
}

func (r *Row) clone() Row {
	c := *r
	c.CampaignNumbers = slices.Clone(r.CampaignNumbers)
	c.TemplateIDs = slices.Clone(r.TemplateIDs)
	return c
}
