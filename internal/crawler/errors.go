package crawler

import (
	"errors"
	"fmt"
)

// ErrSuspended marks a run that stopped before completion with its checkpoint persisted.
var ErrSuspended = errors.New("run suspended")

// SuspendedError carries the position a suspended run will resume from.
type SuspendedError struct {
	Keyword       string
	SubRangeIndex int
	EntityIndex   int
	Saved         bool
	Cause         error
}

func (e *SuspendedError) Error() string {
	saved := "checkpoint saved"
	if !e.Saved {
		saved = "checkpoint not saved"
	}
	return fmt.Sprintf("keyword %q suspended at sub-range %d entity %d (%s): %v",
		e.Keyword, e.SubRangeIndex, e.EntityIndex, saved, e.Cause)
}

// Unwrap exposes both the sentinel and the underlying cause.
func (e *SuspendedError) Unwrap() []error {
	return []error{ErrSuspended, e.Cause}
}
