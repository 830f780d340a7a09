package txtlog

import (
	"errors"
	"fmt"
)

// FormatError reports a malformed header or out-of-bounds section layout.
// Always fatal: no part of the file is trusted afterwards.
type FormatError struct {
	Reason string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("malformed flight log: %s", e.Reason)
}

// CorruptRecordError reports record framing corruption that forward
// resynchronization could not recover from. Records decoded before the
// corruption remain valid.
type CorruptRecordError struct {
	Offset int64
	Reason string
}

func (e *CorruptRecordError) Error() string {
	return fmt.Sprintf("corrupt record at offset %d: %s", e.Offset, e.Reason)
}

// CancelledError reports a cooperative cancellation between records. The
// accompanying result carries every data point produced before the cut.
type CancelledError struct {
	Err error
}

func (e *CancelledError) Error() string {
	return fmt.Sprintf("decode cancelled: %v", e.Err)
}

func (e *CancelledError) Unwrap() error { return e.Err }

func formatErrorf(format string, args ...interface{}) error {
	return &FormatError{Reason: fmt.Sprintf(format, args...)}
}

// IsFatal reports whether err aborts the whole decode rather than degrading
// to a warning.
func IsFatal(err error) bool {
	var fe *FormatError
	var ce *CorruptRecordError
	return errors.As(err, &fe) || errors.As(err, &ce)
}
