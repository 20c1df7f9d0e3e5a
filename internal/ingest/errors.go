package ingest

import (
	"errors"
	"fmt"
)

// Field names reported by MissingFieldError.
const (
	FieldPropertyAddress = "PropertyAddress"
	FieldOwnerName       = "OwnerName"
	FieldZIP5            = "ZIP5"
)

// MissingFieldError reports a source row that cannot become a record.
// The row is dropped and ingestion continues.
type MissingFieldError struct {
	Source string
	Line   int
	Field  string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("%s:%d: missing %s", e.Source, e.Line, e.Field)
}

// IsMissingField checks if err is a MissingFieldError.
func IsMissingField(err error) bool {
	var mf *MissingFieldError
	return errors.As(err, &mf)
}
