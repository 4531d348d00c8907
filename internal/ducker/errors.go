package ducker

import (
	"fmt"
	"strings"
)

// PlaybackError reports that the notification sound itself failed to play.
// Stream volumes were still restored before this error was surfaced.
type PlaybackError struct {
	Path string
	Err  error
}

func (e *PlaybackError) Error() string {
	return fmt.Sprintf("notification did not play (volumes restored): %s: %v", e.Path, e.Err)
}

func (e *PlaybackError) Unwrap() error {
	return e.Err
}

// PartialRestoreError reports that one or more snapshotted streams could not
// be confirmed restored, typically after the backend was lost mid-operation.
// Err carries the failure that interrupted the operation, if any.
type PartialRestoreError struct {
	Unconfirmed []uint32
	Err         error
}

func (e *PartialRestoreError) Error() string {
	ids := make([]string, len(e.Unconfirmed))
	for i, id := range e.Unconfirmed {
		ids[i] = fmt.Sprintf("#%d", id)
	}
	msg := fmt.Sprintf("some stream volumes may remain altered (unconfirmed: %s)",
		strings.Join(ids, ", "))
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *PartialRestoreError) Unwrap() error {
	return e.Err
}
