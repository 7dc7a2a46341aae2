package dual

import (
	"errors"
	"fmt"

	"github.com/smarttraffic/dualsim/core/model"
)

var (
	// ErrRunActive rejects Start while another run holds the controller.
	// Callers stop the active run first; runs are never reconfigured in
	// place.
	ErrRunActive = errors.New("a dual run is already active")

	// ErrRunStopped is the terminal stream event of a clean shutdown.
	ErrRunStopped = errors.New("run stopped")

	// ErrRunComplete is the terminal stream event of a run that simulated
	// its whole demand window.
	ErrRunComplete = errors.New("demand window complete")
)

// PartialStartFailureError reports that one session came up and the other
// did not. The survivor has already been stopped: a run is either fully
// paired or not running at all.
type PartialStartFailureError struct {
	FailedRole model.Role
	Cause      error
}

func (e *PartialStartFailureError) Error() string {
	return fmt.Sprintf("%s session failed to start, pair rolled back: %v", e.FailedRole, e.Cause)
}

func (e *PartialStartFailureError) Unwrap() error { return e.Cause }
