package progress

import "errors"

var (
	// ErrInvalidPosition rejects navigation to a locked or nonexistent
	// lesson. The current position is left unchanged.
	ErrInvalidPosition = errors.New("invalid position")

	// ErrSyncFailed marks a failed remote confirmation. Local optimistic
	// state is retained and the confirmation queued for retry.
	ErrSyncFailed = errors.New("progress sync failed")

	// ErrSyncConflict marks a server-wins overwrite of local optimistic
	// state. Informational: surfaced as a notice, not a failure.
	ErrSyncConflict = errors.New("progress sync conflict")
)
