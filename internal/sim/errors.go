package sim

import "fmt"

// TransientStorageError reports a scratch directory that could not be
// removed. It never fails an evaluation; shared HPC filesystems often lag
// behind and the directory can be cleaned up later.
type TransientStorageError struct {
	Path string
	Err  error
}

func (e *TransientStorageError) Error() string {
	return fmt.Sprintf("failed to delete %s: %v", e.Path, e.Err)
}

func (e *TransientStorageError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match any TransientStorageError.
func (e *TransientStorageError) Is(target error) bool {
	_, ok := target.(*TransientStorageError)
	return ok
}
