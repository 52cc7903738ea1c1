package registry

import (
	"errors"
	"fmt"
)

var (
	// ErrSpawnFailure marks every failed start attempt. Use errors.Is to check.
	ErrSpawnFailure = errors.New("spawn failure")
	// ErrCannotSpawn is returned by registries built without a spawner.
	ErrCannotSpawn = errors.New("registry cannot start tools")
	// ErrClosed is returned for starts that race with or follow ShutdownAll.
	ErrClosed = errors.New("registry is shut down")
)

// SpawnError reports why a tool could not be started. It matches both
// ErrSpawnFailure and the underlying cause with errors.Is.
type SpawnError struct {
	Tool string
	Err  error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("start %s: %v", e.Tool, e.Err)
}

func (e *SpawnError) Unwrap() []error { return []error{ErrSpawnFailure, e.Err} }
