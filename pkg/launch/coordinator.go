package launch

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/go-go-golems/bootctl/pkg/deploy"
	"github.com/pkg/errors"
)

// Launcher starts one unit deployment and returns its deployment id once
// the unit reported success.
type Launcher interface {
	Launch(ctx context.Context, spec deploy.Spec) (string, error)
}

type LauncherFunc func(ctx context.Context, spec deploy.Spec) (string, error)

func (f LauncherFunc) Launch(ctx context.Context, spec deploy.Spec) (string, error) {
	return f(ctx, spec)
}

// Observer is told about every launch the coordinator issues. Calls come
// from the launching goroutines, so implementations must be safe for
// concurrent use.
type Observer interface {
	LaunchStarted(spec deploy.Spec)
	LaunchFinished(spec deploy.Spec, deploymentID string, err error)
}

type Deployment struct {
	Entry        string `json:"entry"`
	Name         string `json:"name"`
	DeploymentID string `json:"deployment_id"`
}

// Result lists the deployments of a successful launch in spec order.
type Result struct {
	Deployments []Deployment `json:"deployments"`
}

// PanicError is reported for a launcher that panicked.
type PanicError struct {
	Name  string
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("launch %q panicked: %v", e.Name, e.Value)
}

type Coordinator struct {
	Launcher Launcher
	Observer Observer
}

type outcome struct {
	index int
	id    string
	err   error
}

// LaunchAll issues one launch per spec without waiting for earlier ones.
// It returns as soon as any launch fails, with that launch's error as-is;
// otherwise it returns once every launch succeeded. Launches still in
// flight after a failure run to completion and their outcomes are
// dropped. Nothing is retried or rolled back.
func (c *Coordinator) LaunchAll(ctx context.Context, specs []deploy.Spec) (Result, error) {
	if len(specs) == 0 {
		return Result{Deployments: []Deployment{}}, nil
	}
	if c.Launcher == nil {
		return Result{}, errors.New("launch: no launcher configured")
	}

	// Buffered for every spec so that late launches never block once we
	// stopped reading.
	outcomes := make(chan outcome, len(specs))
	for i := range specs {
		go c.launchOne(ctx, i, specs[i], outcomes)
	}

	deployments := make([]Deployment, len(specs))
	for pending := len(specs); pending > 0; pending-- {
		o := <-outcomes
		if o.err != nil {
			return Result{}, o.err
		}
		deployments[o.index] = Deployment{
			Entry:        specs[o.index].Entry,
			Name:         specs[o.index].Name,
			DeploymentID: o.id,
		}
	}
	return Result{Deployments: deployments}, nil
}

func (c *Coordinator) launchOne(ctx context.Context, index int, spec deploy.Spec, out chan<- outcome) {
	var (
		id  string
		err error
	)
	defer func() {
		if r := recover(); r != nil {
			id, err = "", &PanicError{Name: spec.Name, Value: r, Stack: debug.Stack()}
		}
		if c.Observer != nil {
			c.Observer.LaunchFinished(spec, id, err)
		}
		out <- outcome{index: index, id: id, err: err}
	}()

	if c.Observer != nil {
		c.Observer.LaunchStarted(spec)
	}
	id, err = c.Launcher.Launch(ctx, spec)
}
