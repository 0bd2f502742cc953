package host

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownUnit       = errors.New("unknown unit")
	ErrUnknownDeployment = errors.New("unknown deployment")
	ErrWorkerTimeout     = errors.New("worker execution time exceeded")
	ErrClosed            = errors.New("host closed")
)

// DeployError reports a failed deployment. Instance is -1 when the failure
// is not tied to one instance.
type DeployError struct {
	Name     string
	Instance int
	Err      error
}

func (e *DeployError) Error() string {
	if e.Instance < 0 {
		return fmt.Sprintf("deploy %q: %v", e.Name, e.Err)
	}
	return fmt.Sprintf("deploy %q instance %d: %v", e.Name, e.Instance, e.Err)
}

func (e *DeployError) Unwrap() error { return e.Err }

// PanicError is returned for a unit whose Start panicked.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string { return fmt.Sprintf("unit panicked: %v", e.Value) }
