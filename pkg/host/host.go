package host

import (
	"context"
	"sync"
	"time"

	"github.com/go-go-golems/bootctl/pkg/deploy"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const DefaultWorkerPoolName = "boot-worker-pool"

type Options struct {
	Registry  *Registry
	Publisher Publisher
	// StopTimeout bounds each Stop call during rollback, Undeploy and Close.
	StopTimeout time.Duration
}

// Host is a single-node unit runtime. It implements launch.Launcher.
type Host struct {
	opts Options

	mu          sync.Mutex
	deployments map[string]*deployment
	order       []string
	pools       map[string]*workerPool
	closed      bool
}

type deployment struct {
	id         string
	spec       deploy.Spec
	pool       string
	units      []Unit
	deployedAt time.Time
}

// DeploymentInfo describes a live deployment.
type DeploymentInfo struct {
	ID         string         `json:"id"`
	Entry      string         `json:"entry"`
	Name       string         `json:"name"`
	Instances  int            `json:"instances"`
	Worker     bool           `json:"worker"`
	WorkerPool string         `json:"worker_pool,omitempty"`
	HA         bool           `json:"ha"`
	Config     map[string]any `json:"config"`
	PIDs       []int          `json:"pids,omitempty"`
	DeployedAt time.Time      `json:"deployed_at"`
}

func New(opts Options) *Host {
	if opts.Registry == nil {
		opts.Registry = NewRegistry()
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = 5 * time.Second
	}
	return &Host{
		opts:        opts,
		deployments: map[string]*deployment{},
		pools:       map[string]*workerPool{},
	}
}

func (h *Host) Registry() *Registry { return h.opts.Registry }

// Launch deploys every instance of spec and returns the new deployment id.
// Instances start concurrently; if any fails, the ones that started are
// stopped again and the deployment is not recorded.
func (h *Host) Launch(ctx context.Context, spec deploy.Spec) (string, error) {
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		return "", &DeployError{Name: spec.Name, Instance: -1, Err: ErrClosed}
	}

	factory, ref, ok := h.opts.Registry.Lookup(spec.Name)
	if !ok {
		return "", &DeployError{Name: spec.Name, Instance: -1, Err: ErrUnknownUnit}
	}

	opts := spec.Clone().Options
	instances := opts.Instances
	if instances < 1 {
		instances = 1
	}

	units := make([]Unit, instances)
	for i := range units {
		u, err := factory(ref)
		if err != nil {
			return "", &DeployError{Name: spec.Name, Instance: i, Err: err}
		}
		units[i] = u
	}

	id := uuid.NewString()
	var pool *workerPool
	if opts.Worker {
		pool = h.pool(opts.WorkerPoolName, opts.WorkerPoolSize)
	}
	if opts.HighAvailability {
		log.Debug().Str("unit", spec.Name).Msg("high availability requested on a single node host")
	}

	started := make([]bool, instances)
	var startedMu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for i, u := range units {
		g.Go(func() error {
			uc := h.newContext(id, spec.Name, i, opts)
			if err := h.startInstance(gctx, u, uc, pool); err != nil {
				return &DeployError{Name: spec.Name, Instance: i, Err: err}
			}
			startedMu.Lock()
			started[i] = true
			startedMu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for i, u := range units {
			if started[i] {
				h.stopUnit(spec.Name, i, u)
			}
		}
		return "", err
	}

	d := &deployment{id: id, spec: deploy.Spec{Entry: spec.Entry, Name: spec.Name, Options: opts}, units: units, deployedAt: time.Now()}
	if pool != nil {
		d.pool = pool.name
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		for i, u := range units {
			h.stopUnit(spec.Name, i, u)
		}
		return "", &DeployError{Name: spec.Name, Instance: -1, Err: ErrClosed}
	}
	h.deployments[id] = d
	h.order = append(h.order, id)
	h.mu.Unlock()

	log.Info().Str("unit", spec.Name).Str("deployment", id).Int("instances", instances).Bool("worker", opts.Worker).Msg("unit deployed")
	return id, nil
}

func (h *Host) newContext(id, name string, instance int, opts deploy.Options) *Context {
	return &Context{
		deploymentID: id,
		name:         name,
		instance:     instance,
		options:      opts,
		logger:       log.With().Str("unit", name).Str("deployment", id).Int("instance", instance).Logger(),
		publisher:    h.opts.Publisher,
	}
}

func (h *Host) startInstance(ctx context.Context, u Unit, uc *Context, pool *workerPool) error {
	if pool == nil {
		return safeStart(ctx, u, uc)
	}

	if err := pool.acquire(ctx); err != nil {
		return err
	}

	if uc.options.UnlimitedWorkerTime() {
		defer pool.release()
		return safeStart(ctx, u, uc)
	}

	startCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- safeStart(startCtx, u, uc) }()

	timer := time.NewTimer(uc.options.MaxWorkerExecutionTime)
	defer timer.Stop()

	// The pool slot stays taken until Start actually returns.
	select {
	case err := <-done:
		cancel()
		pool.release()
		return err
	case <-timer.C:
		cancel()
		go h.reapLateStart(uc, u, done, pool)
		return ErrWorkerTimeout
	case <-ctx.Done():
		cancel()
		go h.reapLateStart(uc, u, done, pool)
		return ctx.Err()
	}
}

// reapLateStart waits for a Start the host gave up on, frees its pool slot
// and stops the instance if it came up after all.
func (h *Host) reapLateStart(uc *Context, u Unit, done <-chan error, pool *workerPool) {
	err := <-done
	pool.release()
	if err == nil {
		h.stopUnit(uc.name, uc.instance, u)
	}
}

func safeStart(ctx context.Context, u Unit, uc *Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r}
		}
	}()
	return u.Start(ctx, uc)
}

func (h *Host) stopUnit(name string, instance int, u Unit) {
	if err := h.stopOne(u); err != nil {
		log.Warn().Err(err).Str("unit", name).Int("instance", instance).Msg("stop unit")
	}
}

func (h *Host) stopOne(u Unit) error {
	s, ok := u.(Stopper)
	if !ok {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), h.opts.StopTimeout)
	defer cancel()
	return s.Stop(ctx)
}

// Deployments lists live deployments in the order they were deployed.
func (h *Host) Deployments() []DeploymentInfo {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]DeploymentInfo, 0, len(h.order))
	for _, id := range h.order {
		d := h.deployments[id]
		info := DeploymentInfo{
			ID:         d.id,
			Entry:      d.spec.Entry,
			Name:       d.spec.Name,
			Instances:  len(d.units),
			Worker:     d.spec.Options.Worker,
			WorkerPool: d.pool,
			HA:         d.spec.Options.HighAvailability,
			Config:     deploy.CloneConfig(d.spec.Options.Config),
			DeployedAt: d.deployedAt,
		}
		for _, u := range d.units {
			if p, ok := u.(PIDReporter); ok && p.PID() > 0 {
				info.PIDs = append(info.PIDs, p.PID())
			}
		}
		out = append(out, info)
	}
	return out
}

// Undeploy stops every instance of a deployment and forgets it.
func (h *Host) Undeploy(ctx context.Context, id string) error {
	h.mu.Lock()
	d, ok := h.deployments[id]
	if ok {
		delete(h.deployments, id)
		for i, oid := range h.order {
			if oid == id {
				h.order = append(h.order[:i], h.order[i+1:]...)
				break
			}
		}
	}
	h.mu.Unlock()
	if !ok {
		return errors.Wrap(ErrUnknownDeployment, id)
	}
	return h.stopDeployment(ctx, d)
}

func (h *Host) stopDeployment(ctx context.Context, d *deployment) error {
	var firstErr error
	for i, u := range d.units {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := h.stopOne(u); err != nil {
			log.Warn().Err(err).Str("unit", d.spec.Name).Int("instance", i).Msg("stop unit")
			if firstErr == nil {
				firstErr = errors.Wrapf(err, "stop %s instance %d", d.spec.Name, i)
			}
		}
	}
	log.Info().Str("unit", d.spec.Name).Str("deployment", d.id).Msg("unit undeployed")
	return firstErr
}

// Close undeploys everything in reverse deployment order. Later launches
// fail with ErrClosed.
func (h *Host) Close(ctx context.Context) error {
	h.mu.Lock()
	h.closed = true
	ids := append([]string{}, h.order...)
	h.mu.Unlock()

	var firstErr error
	for i := len(ids) - 1; i >= 0; i-- {
		if err := h.Undeploy(ctx, ids[i]); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
