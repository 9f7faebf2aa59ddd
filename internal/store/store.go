package store

// Store defines the interface for checkpoint persistence operations.
// Implementations must be safe for concurrent use.
//
// Error handling conventions:
//   - Return ErrNotFound if a checkpoint doesn't exist (Load, LoadGeneration, Latest, Delete)
//   - Wrap underlying errors with context using fmt.Errorf("context: %w", err)
type Store interface {
	// Save atomically writes the checkpoint for cp.Solver.Generation,
	// replacing any previous checkpoint of that generation.
	Save(cp *Checkpoint) error

	// Load reads a checkpoint from an explicit path.
	Load(path string) (*Checkpoint, error)

	// LoadGeneration reads the checkpoint written after generation gen
	// (InitGeneration for the initial population).
	LoadGeneration(gen int) (*Checkpoint, error)

	// Latest returns the path of the numerically highest generation
	// checkpoint, falling back to the initial checkpoint.
	Latest() (string, error)

	// List returns metadata for every checkpoint, ordered by generation.
	List() ([]CheckpointInfo, error)

	// Delete removes the checkpoint of generation gen.
	Delete(gen int) error
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
