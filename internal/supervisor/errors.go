package supervisor

import (
	"errors"
	"fmt"
)

// ErrServerSideStop is returned when a caller tries to stop one server-side
// service. The shared process serves every server-side definition at once;
// stopping a single one is not expressible. Callers either remove the
// service and restart the shared server, or stop the shared server whole.
var ErrServerSideStop = errors.New("server-side services cannot be stopped individually; stop or restart the shared server")

// SpawnError reports that the engine process for a service could not be
// brought up: config rendering, artifact write, or the OS spawn itself.
type SpawnError struct {
	Name string
	Err  error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn engine for %s: %v", e.Name, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// TerminationError reports a process that survived both the graceful signal
// and the forced kill. The registry entry is kept so operators can inspect
// the stale PID.
type TerminationError struct {
	Key string
	PID int
}

func (e *TerminationError) Error() string {
	return fmt.Sprintf("process %d for %s survived forced termination", e.PID, e.Key)
}
