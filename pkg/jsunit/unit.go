package jsunit

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"
	"github.com/go-go-golems/bootctl/pkg/host"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const Scheme = "js"

var ErrNoRegister = errors.New("jsunit: script did not call register()")
var ErrHookTimeout = errors.New("jsunit: js hook timeout")

type Options struct {
	// BaseDir resolves relative script paths.
	BaseDir string
	// HookTimeout bounds every start/stop call. Zero disables it.
	HookTimeout time.Duration
}

// Unit runs a script that registered itself with
//
//	register({ name, start(ctx), stop(ctx) })
//
// Every instance owns its VM, so instances share nothing but the bus.
type Unit struct {
	mu   sync.Mutex
	vm   *goja.Runtime
	opts Options

	scriptPath string
	name       string

	startFn goja.Callable
	stopFn  goja.Callable

	state  *goja.Object
	uc     *host.Context
	logger zerolog.Logger
}

// Register installs the js:<path> scheme.
func Register(reg *host.Registry, opts Options) {
	reg.RegisterPrefix(Scheme, Factory(opts))
}

func Factory(opts Options) host.Factory {
	return func(ref string) (host.Unit, error) {
		p := ref
		if !filepath.IsAbs(p) && opts.BaseDir != "" {
			p = filepath.Join(opts.BaseDir, p)
		}
		return LoadFromFile(p, opts)
	}
}

func LoadFromFile(scriptPath string, opts Options) (*Unit, error) {
	b, err := os.ReadFile(scriptPath)
	if err != nil {
		return nil, errors.Wrap(err, "read script")
	}

	u := &Unit{
		vm:         goja.New(),
		opts:       opts,
		scriptPath: scriptPath,
		logger:     log.With().Str("script", scriptPath).Logger(),
	}
	enableConsole(u.vm, func() *zerolog.Logger { return &u.logger })
	u.state = u.vm.NewObject()

	var config *goja.Object
	if err := u.vm.Set("register", func(v goja.Value) error {
		if config != nil {
			return errors.New("register() called more than once")
		}
		if isNullish(v) {
			return errors.New("register(config) requires a config object")
		}
		config = v.ToObject(u.vm)
		return nil
	}); err != nil {
		return nil, errors.Wrap(err, "set register")
	}

	prog, err := goja.Compile(scriptPath, string(b), false)
	if err != nil {
		return nil, errors.Wrap(err, "compile script")
	}
	if _, err := u.vm.RunProgram(prog); err != nil {
		return nil, errors.Wrap(err, "run script")
	}
	if config == nil {
		return nil, ErrNoRegister
	}

	nameVal := config.Get("name")
	if isNullish(nameVal) || strings.TrimSpace(nameVal.String()) == "" {
		return nil, errors.New("register({ name: string, ... }): name is required")
	}
	u.name = nameVal.String()

	startFn, ok := goja.AssertFunction(config.Get("start"))
	if !ok {
		return nil, errors.New("register({ start: function(ctx), ... }): start is required")
	}
	u.startFn = startFn
	if fn, ok := goja.AssertFunction(config.Get("stop")); ok {
		u.stopFn = fn
	}
	return u, nil
}

func (u *Unit) Name() string       { return u.name }
func (u *Unit) ScriptPath() string { return u.scriptPath }

func (u *Unit) Start(ctx context.Context, uc *host.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.uc = uc
	u.logger = uc.Logger().With().Str("script", u.name).Logger()
	_, err := u.callHook(ctx, "start", u.startFn, u.buildContext("start"))
	return err
}

func (u *Unit) Stop(ctx context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.stopFn == nil || u.uc == nil {
		return nil
	}
	_, err := u.callHook(ctx, "stop", u.stopFn, u.buildContext("stop"))
	return err
}

func (u *Unit) buildContext(hook string) *goja.Object {
	uc := u.uc
	obj := u.vm.NewObject()

	_ = obj.Set("hook", hook)
	_ = obj.Set("name", uc.Name())
	_ = obj.Set("deploymentId", uc.DeploymentID())
	_ = obj.Set("instance", uc.Instance())
	_ = obj.Set("worker", uc.Worker())
	_ = obj.Set("clustered", uc.Clustered())
	_ = obj.Set("config", u.vm.ToValue(uc.Config()))
	_ = obj.Set("state", u.state)
	_ = obj.Set("publish", func(call goja.FunctionCall) goja.Value {
		topic := strings.TrimSpace(call.Argument(0).String())
		if isNullish(call.Argument(0)) || topic == "" {
			panic(u.vm.NewTypeError("publish(topic, payload): topic is required"))
		}
		var payload any
		if p := call.Argument(1); !isNullish(p) {
			payload = p.Export()
		}
		if err := uc.Publish(topic, payload); err != nil {
			panic(u.vm.NewGoError(err))
		}
		return goja.Undefined()
	})
	return obj
}

func (u *Unit) callHook(ctx context.Context, hook string, fn goja.Callable, args ...goja.Value) (goja.Value, error) {
	if timeout := u.opts.HookTimeout; timeout > 0 {
		timer := time.AfterFunc(timeout, func() {
			u.vm.Interrupt(ErrHookTimeout)
		})
		defer timer.Stop()
	}
	stop := context.AfterFunc(ctx, func() {
		u.vm.Interrupt(ctx.Err())
	})
	defer stop()
	defer u.vm.ClearInterrupt()

	v, err := fn(goja.Undefined(), args...)
	if err != nil {
		if isInterruptedByTimeout(err) {
			return nil, errors.Wrapf(ErrHookTimeout, "%s %s", u.name, hook)
		}
		if ctxErr := ctx.Err(); ctxErr != nil && isInterrupted(err) {
			return nil, errors.Wrapf(ctxErr, "%s %s", u.name, hook)
		}
		return nil, errors.Wrapf(err, "%s %s", u.name, hook)
	}
	return v, nil
}

func enableConsole(vm *goja.Runtime, logger func() *zerolog.Logger) {
	obj := vm.NewObject()

	_ = obj.Set("log", func(call goja.FunctionCall) goja.Value {
		logger().Info().Msg(joinArgs(call.Arguments))
		return goja.Undefined()
	})
	_ = obj.Set("warn", func(call goja.FunctionCall) goja.Value {
		logger().Warn().Msg(joinArgs(call.Arguments))
		return goja.Undefined()
	})
	_ = obj.Set("error", func(call goja.FunctionCall) goja.Value {
		logger().Error().Msg(joinArgs(call.Arguments))
		return goja.Undefined()
	})

	_ = vm.Set("console", obj)
}

func joinArgs(args []goja.Value) string {
	parts := make([]string, 0, len(args))
	for _, a := range args {
		parts = append(parts, fmt.Sprint(a.Export()))
	}
	return strings.Join(parts, " ")
}

func isNullish(v goja.Value) bool {
	if v == nil {
		return true
	}
	return goja.IsUndefined(v) || goja.IsNull(v)
}

func isInterrupted(err error) bool {
	var interrupted *goja.InterruptedError
	return errors.As(err, &interrupted)
}

func isInterruptedByTimeout(err error) bool {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		if v, ok := interrupted.Value().(error); ok && errors.Is(v, ErrHookTimeout) {
			return true
		}
	}
	return errors.Is(err, ErrHookTimeout)
}
