package identity

import "strings"

// Column aliases observed in county and list-broker exports. Names are folded
// (lower-cased, whitespace collapsed) before lookup, so a single entry covers
// "MAIL ZIP", "Mail ZIP" and "mail  zip".
var (
	addressColumns = []string{
		"propertyaddress", "property address", "property_address",
		"situs address", "situs_address", "situs",
		"mailing address", "mailing_address",
		"address", "address 1", "address1", "street address",
	}

	ownerColumns = []string{
		"ownername", "owner name", "owner", "owner(s)", "owner 1", "owner1",
		"owner name 1", "primary name", "mail owner", "owner name(s)",
	}

	ownerNameParts = [][2]string{
		{"primary first", "primary last"},
		{"owner first", "owner last"},
		{"first name", "last name"},
	}

	mailZIPColumns = []string{
		"mail zip", "mail zip code", "mail zip5",
		"mailing zip", "mailing zip code", "mailing zip5",
		"owner zip", "owner zip5",
	}

	mailAddressColumns = []string{
		"mailing address", "mailing address 1", "mailing address1",
		"owner address", "owner mailing address",
	}

	genericZIPColumns = []string{"zip5", "zip", "zip code", "zip code 5"}

	situsZIPColumns = []string{
		"situs zip", "situs zip code", "situs zip code 5-digit", "situs zip5",
	}
)

// FoldHeader canonicalizes a column name for alias lookup.
func FoldHeader(h string) string {
	h = strings.TrimPrefix(h, "\ufeff")
	return strings.ToLower(CollapseSpace(h))
}

// Columns is a row indexed by folded header name.
// When two headers fold to the same name the first one wins.
type Columns map[string]string

// FoldColumns builds a Columns view of a raw row.
// header fixes precedence between headers that fold together; pass nil to
// accept map iteration order.
func FoldColumns(header []string, row map[string]string) Columns {
	c := make(Columns, len(row))
	if header != nil {
		for _, h := range header {
			k := FoldHeader(h)
			if _, ok := c[k]; !ok {
				c[k] = strings.TrimSpace(row[h])
			}
		}
		return c
	}
	for h, v := range row {
		k := FoldHeader(h)
		if _, ok := c[k]; !ok {
			c[k] = strings.TrimSpace(v)
		}
	}
	return c
}

// First returns the first non-empty value among names.
func (c Columns) First(names ...string) string {
	for _, n := range names {
		if v := c[n]; v != "" {
			return v
		}
	}
	return ""
}

// Address returns the property address of the row, whitespace-collapsed.
func (c Columns) Address() string {
	return CollapseSpace(c.First(addressColumns...))
}

// Owner returns the owner name of the row. When no single owner column is
// populated it falls back to joining first and last name columns.
func (c Columns) Owner() string {
	if v := c.First(ownerColumns...); v != "" {
		return CollapseSpace(v)
	}
	for _, p := range ownerNameParts {
		first, last := c[p[0]], c[p[1]]
		if first != "" || last != "" {
			return CollapseSpace(first + " " + last)
		}
	}
	return ""
}

// MailingAddress returns the owner's mailing address text, or the property
// address when the row carries no mailing address.
func (c Columns) MailingAddress() string {
	if v := c.First(mailAddressColumns...); v != "" {
		return CollapseSpace(v)
	}
	return c.Address()
}

// ZIP5 resolves the mailing ZIP5 of the row. Precedence:
//
//  1. mail / owner ZIP columns
//  2. ZIP parsed from the mailing address text
//  3. generic ZIP columns
//  4. situs ZIP columns, then ZIP parsed from the property address
//
// Returns "" when no stage yields a ZIP5.
func (c Columns) ZIP5() string {
	if z := firstZIP(c, mailZIPColumns); z != "" {
		return z
	}
	if z := ZIP5FromText(c.First(mailAddressColumns...)); z != "" {
		return z
	}
	if z := firstZIP(c, genericZIPColumns); z != "" {
		return z
	}
	if z := firstZIP(c, situsZIPColumns); z != "" {
		return z
	}
	return ZIP5FromText(c.Address())
}

// Key returns the identity of the row.
func (c Columns) Key() Key {
	return NewKey(c.Address(), c.Owner())
}

func firstZIP(c Columns, names []string) string {
	for _, n := range names {
		if z := ZIP5FromText(c[n]); z != "" {
			return z
		}
	}
	return ""
}
