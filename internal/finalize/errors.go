package finalize

import (
	"errors"
	"fmt"
	"strings"
)

// MappingNotFoundError is returned when a campaign folder has neither a
// mapping file nor an executed log. Nothing is written.
type MappingNotFoundError struct {
	Folder string
	// Tried lists the mapping paths looked at, in order.
	Tried []string
}

func (e *MappingNotFoundError) Error() string {
	return fmt.Sprintf("%s: no mapping file and no executed log (tried %s)",
		e.Folder, strings.Join(e.Tried, ", "))
}

// IsMappingNotFound reports whether err is a MappingNotFoundError.
func IsMappingNotFound(err error) bool {
	var target *MappingNotFoundError
	return errors.As(err, &target)
}

// ErrStateMissing is returned when tracker CSVs exist but the state store is
// empty, as after deleting tracker.db. Merging into empty state would drop
// history, so finalize refuses and a rebuild is required.
var ErrStateMissing = errors.New("tracker CSV exists but the state store is empty; run rebuild first")

// ErrNoCampaignNumber is returned when neither options nor the folder name
// give a campaign number.
var ErrNoCampaignNumber = errors.New("campaign number unknown: pass it explicitly or use a <Name>_<N>_<MonYYYY> folder")
