package store

// Store defines the interface for search checkpoint persistence.
// Implementations must be safe for use from a single search loop and from
// concurrent readers such as the checkpoints CLI.
//
// Error handling conventions:
//   - Return nil error on success
//   - Return ErrNotFound if a checkpoint doesn't exist (for Load/Delete)
//   - Wrap underlying errors with context using fmt.Errorf("context: %w", err)
type Store interface {
	// SaveCheckpoint atomically saves the checkpoint for cp.Epoch and moves
	// the last-checkpoint pointer to it. An existing checkpoint for the same
	// epoch is overwritten.
	SaveCheckpoint(cp *Checkpoint) error

	// LoadCheckpoint retrieves the checkpoint written after the given epoch.
	// Returns ErrNotFound if there is none.
	LoadCheckpoint(epoch int) (*Checkpoint, error)

	// LoadLatest follows the last-checkpoint pointer.
	// Returns ErrNotFound if nothing has been saved yet.
	LoadLatest() (*Checkpoint, error)

	// ListCheckpoints returns metadata for all checkpoints, ordered by epoch.
	ListCheckpoints() ([]CheckpointInfo, error)

	// DeleteCheckpoint removes the checkpoint of the given epoch. The pointer
	// is cleared when it referenced the deleted file.
	// Returns ErrNotFound if there is none.
	DeleteCheckpoint(epoch int) error
}

// ErrNotFound is returned when a requested checkpoint does not exist.
// Use errors.Is(err, ErrNotFound) to check for this error.
var ErrNotFound = &NotFoundError{}

// NotFoundError represents a missing checkpoint error.
type NotFoundError struct {
	Path string
}

func (e *NotFoundError) Error() string {
	if e.Path != "" {
		return "checkpoint not found: " + e.Path
	}
	return "checkpoint not found"
}

func (e *NotFoundError) Is(target error) bool {
	_, ok := target.(*NotFoundError)
	return ok
}
