package identity

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// Key is the canonical identity of a mailing target.
// Both fields are already normalized; construct with NewKey.
type Key struct {
	PropertyAddress string
	OwnerName       string
}

// NewKey normalizes a raw address and owner into a Key.
func NewKey(address, owner string) Key {
	return Key{
		PropertyAddress: Normalize(address),
		OwnerName:       Normalize(owner),
	}
}

// IsZero reports whether either half of the key is empty.
// A key with an empty half cannot identify a mailing target.
func (k Key) IsZero() bool {
	return k.PropertyAddress == "" || k.OwnerName == ""
}

// String renders the key as "ADDRESS|OWNER" for logs and diagnostics.
func (k Key) String() string {
	return k.PropertyAddress + "|" + k.OwnerName
}

// Less orders keys by address, then owner. All exported listings use this order.
func (k Key) Less(other Key) bool {
	if k.PropertyAddress != other.PropertyAddress {
		return k.PropertyAddress < other.PropertyAddress
	}
	return k.OwnerName < other.OwnerName
}

// Compare returns -1, 0 or +1 following Less. Suitable for slices.SortFunc.
func Compare(a, b Key) int {
	switch {
	case a == b:
		return 0
	case a.Less(b):
		return -1
	default:
		return 1
	}
}

// CollapseSpace trims s and collapses every run of whitespace to one space.
// Used for display values, which keep their case.
func CollapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Normalize returns the canonical form of an identity component:
// whitespace collapsed, upper-cased with full Unicode case mapping, then NFC.
//
// Normalize(Normalize(s)) == Normalize(s) for every s.
func Normalize(s string) string {
	s = CollapseSpace(s)
	if s == "" {
		return ""
	}
	// Casers carry state, so one per call keeps Normalize safe for concurrent use.
	s = cases.Upper(language.Und).String(s)
	return norm.NFC.String(s)
}
