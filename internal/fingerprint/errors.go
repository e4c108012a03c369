package fingerprint

import (
	"errors"
	"fmt"

	"github.com/dbsmedya/cargowhy/internal/unit"
)

// Per-unit record failures. None of them abort a diagnosis run.
var (
	ErrRecordMissing     = errors.New("fingerprint record missing")
	ErrRecordCorrupt     = errors.New("fingerprint record corrupt")
	ErrSchemaUnsupported = errors.New("fingerprint schema unsupported")
)

// RecordError describes why the persisted record of a unit could not be used.
type RecordError struct {
	Unit  unit.ID
	Path  string
	Kind  error // one of the Err* values above
	Cause error
}

func (e *RecordError) Error() string {
	msg := fmt.Sprintf("%s: %v", e.Unit, e.Kind)
	if e.Path != "" {
		msg += fmt.Sprintf(" (%s)", e.Path)
	}
	if e.Cause != nil {
		msg += fmt.Sprintf(": %v", e.Cause)
	}
	return msg
}

// Unwrap exposes both the failure kind and the underlying cause to errors.Is.
func (e *RecordError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Cause}
}
