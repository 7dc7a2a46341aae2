package session

import (
	"errors"
	"fmt"

	"github.com/smarttraffic/dualsim/core/model"
)

var (
	// ErrStartTimeout reports that the engine was not ready within the start
	// deadline. The underlying cause is wrapped.
	ErrStartTimeout = errors.New("engine not ready within start deadline")

	// ErrNotRunning rejects operations on a handle that is not running.
	ErrNotRunning = errors.New("session not running")

	// ErrStopped reports that a concurrent Stop ended the session while the
	// operation was in flight. It is a clean shutdown, not a crash.
	ErrStopped = errors.New("session stopped")
)

// EngineCrashedError reports a transport or deadline failure mid-run. A
// handle that returned one refuses all further steps.
type EngineCrashedError struct {
	Role  model.Role
	Cause error
}

func (e *EngineCrashedError) Error() string {
	return fmt.Sprintf("%s engine crashed: %v", e.Role, e.Cause)
}

func (e *EngineCrashedError) Unwrap() error { return e.Cause }
