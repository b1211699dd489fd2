package master

import "errors"

var (
	// ErrInvalidItem is returned for a declared item without a key.
	ErrInvalidItem = errors.New("item has an empty sha256")
	// ErrDuplicateItem is returned when a declaration repeats a key.
	ErrDuplicateItem = errors.New("item declared more than once")
	// ErrSpawnFailed wraps a worker spawn error other than an already
	// running worker. It fails the coordinator run.
	ErrSpawnFailed = errors.New("failed to spawn download worker")
	// ErrCleanupFailed wraps a failure of the cleanup phase.
	ErrCleanupFailed = errors.New("cleanup phase failed")
)
