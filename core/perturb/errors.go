package perturb

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionsNotRunning is returned by Submit when no run is accepting
	// perturbations.
	ErrSessionsNotRunning = errors.New("no active run")

	// ErrDuplicateEvent is returned when an emergency reuses an ID already
	// accepted during the current run.
	ErrDuplicateEvent = errors.New("duplicate perturbation id")
)

// CommandRejectedError reports a submission that failed validation or hit
// the queue bound.
type CommandRejectedError struct {
	Reason string
}

func (e CommandRejectedError) Error() string {
	return fmt.Sprintf("perturbation rejected: %s", e.Reason)
}
