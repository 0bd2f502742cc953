// Package boot wires configuration, resolution and launching together.
package boot

import (
	"context"

	"github.com/go-go-golems/bootctl/pkg/config"
	"github.com/go-go-golems/bootctl/pkg/deploy"
	"github.com/go-go-golems/bootctl/pkg/launch"
	"github.com/pkg/errors"
)

type Options struct {
	Source   config.Source
	BasePath string
	Launcher launch.Launcher
	Observer launch.Observer
}

// Plan loads the configuration from src and resolves every unit under
// basePath without launching anything.
func Plan(src config.Source, basePath string) ([]deploy.Spec, error) {
	if src == nil {
		return nil, errors.New("boot: no configuration source")
	}
	if basePath == "" {
		basePath = deploy.DefaultBasePath
	}
	tree, err := src.Load()
	if err != nil {
		return nil, err
	}
	return deploy.Resolve(tree, basePath)
}

// Run resolves the configuration and launches every unit concurrently. A
// resolution failure launches nothing. Errors are returned unchanged.
func Run(ctx context.Context, opts Options) (launch.Result, error) {
	if opts.Launcher == nil {
		return launch.Result{}, errors.New("boot: no launcher")
	}
	specs, err := Plan(opts.Source, opts.BasePath)
	if err != nil {
		return launch.Result{}, err
	}
	c := &launch.Coordinator{Launcher: opts.Launcher, Observer: opts.Observer}
	return c.LaunchAll(ctx, specs)
}
