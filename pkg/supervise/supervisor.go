// Package supervise runs exec:<command> units as child processes.
package supervise

import (
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/go-go-golems/bootctl/pkg/host"
	"github.com/go-go-golems/bootctl/pkg/state"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const Scheme = "exec"

const (
	EnvUnitConfig   = "BOOTCTL_UNIT_CONFIG"
	EnvDeploymentID = "BOOTCTL_DEPLOYMENT_ID"
	EnvInstance     = "BOOTCTL_INSTANCE"
	EnvUnitName     = "BOOTCTL_UNIT_NAME"
	EnvWorker       = "BOOTCTL_WORKER"
)

type Options struct {
	RepoRoot        string
	ShutdownTimeout time.Duration
	// StartGrace is how long a process must stay up (or exit cleanly) before
	// Start reports success.
	StartGrace   time.Duration
	ReadyTimeout time.Duration
}

type Supervisor struct {
	opts Options
}

func New(opts Options) *Supervisor {
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 3 * time.Second
	}
	if opts.StartGrace <= 0 {
		opts.StartGrace = 100 * time.Millisecond
	}
	if opts.ReadyTimeout <= 0 {
		opts.ReadyTimeout = 30 * time.Second
	}
	return &Supervisor{opts: opts}
}

// Register installs the exec:<command> scheme.
func (s *Supervisor) Register(reg *host.Registry) {
	reg.RegisterPrefix(Scheme, s.Factory)
}

func (s *Supervisor) Factory(ref string) (host.Unit, error) {
	fields := strings.Fields(ref)
	if len(fields) == 0 {
		return nil, errors.New("exec unit needs a command")
	}
	return &Process{sup: s, command: fields}, nil
}

// processConfig holds the configuration keys an exec unit reads for itself.
// The whole configuration still reaches the child as JSON.
type processConfig struct {
	Args   []string          `json:"args"`
	Cwd    string            `json:"cwd"`
	Env    map[string]string `json:"env"`
	Health *HealthCheck      `json:"health"`
}

type HealthCheck struct {
	Type    string `json:"type"`
	Address string `json:"address"`
	URL     string `json:"url"`
}

// Process is one child process instance.
type Process struct {
	sup     *Supervisor
	command []string

	mu        sync.Mutex
	pid       int
	done      chan struct{}
	exitErr   error
	startedAt time.Time
	stderrLog string
}

func (p *Process) PID() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pid
}

func (p *Process) Start(ctx context.Context, uc *host.Context) error {
	s := p.sup
	if s.opts.RepoRoot == "" {
		return errors.New("missing RepoRoot")
	}
	if err := os.MkdirAll(state.LogsDir(s.opts.RepoRoot), 0o755); err != nil {
		return errors.Wrap(err, "mkdir logs dir")
	}

	cfg := uc.Config()
	rawCfg, err := json.Marshal(cfg)
	if err != nil {
		return errors.Wrap(err, "marshal unit config")
	}
	var pc processConfig
	if err := json.Unmarshal(rawCfg, &pc); err != nil {
		return errors.Wrap(err, "read exec unit config")
	}

	cwd := s.opts.RepoRoot
	if pc.Cwd != "" {
		if filepath.IsAbs(pc.Cwd) {
			cwd = pc.Cwd
		} else {
			cwd = filepath.Join(s.opts.RepoRoot, pc.Cwd)
		}
	}

	bin := p.command[0]
	if strings.Contains(bin, "/") && !filepath.IsAbs(bin) {
		bin = filepath.Join(s.opts.RepoRoot, bin)
	}
	args := append(append([]string{}, p.command[1:]...), pc.Args...)

	base := state.InstanceLogBase(s.opts.RepoRoot, uc.DeploymentID(), uc.Instance())
	stdoutPath := base + ".stdout.log"
	stderrPath := base + ".stderr.log"
	exitInfoPath := base + ".exit.json"

	stdoutFile, err := os.OpenFile(stdoutPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return errors.Wrap(err, "open stdout log")
	}
	defer func() { _ = stdoutFile.Close() }()

	stderrFile, err := os.OpenFile(stderrPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return errors.Wrap(err, "open stderr log")
	}
	defer func() { _ = stderrFile.Close() }()

	env := map[string]string{
		EnvUnitConfig:   string(rawCfg),
		EnvDeploymentID: uc.DeploymentID(),
		EnvInstance:     strconv.Itoa(uc.Instance()),
		EnvUnitName:     uc.Name(),
		EnvWorker:       strconv.FormatBool(uc.Worker()),
	}
	for k, v := range pc.Env {
		env[k] = v
	}

	// The child outlives ctx, which only covers Start.
	// #nosec G204 -- command is configured by the operator.
	cmd := exec.Command(bin, args...)
	cmd.Dir = cwd
	cmd.Env = mergeEnv(os.Environ(), env)
	cmd.Stdout = stdoutFile
	cmd.Stderr = stderrFile
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return errors.Wrapf(err, "start %s", bin)
	}

	p.mu.Lock()
	p.pid = cmd.Process.Pid
	p.done = make(chan struct{})
	p.startedAt = time.Now()
	p.stderrLog = stderrPath
	p.mu.Unlock()

	uc.Logger().Info().
		Int("pid", cmd.Process.Pid).
		Str("command", bin).
		Interface("env", state.SanitizeEnv(pc.Env)).
		Msg("process started")

	go p.wait(cmd, uc, exitInfoPath)

	if err := p.awaitStartup(ctx, pc.Health); err != nil {
		_ = p.Stop(context.Background())
		return err
	}
	return nil
}

func (p *Process) wait(cmd *exec.Cmd, uc *host.Context, exitInfoPath string) {
	err := cmd.Wait()

	info := state.ExitInfo{
		Unit:         uc.Name(),
		DeploymentID: uc.DeploymentID(),
		Instance:     uc.Instance(),
		PID:          cmd.Process.Pid,
		StartedAt:    p.startedAt,
		ExitedAt:     time.Now(),
	}
	if ps := cmd.ProcessState; ps != nil {
		if ws, ok := ps.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			info.Signal = ws.Signal().String()
		} else {
			code := ps.ExitCode()
			info.ExitCode = &code
		}
	}
	if err != nil {
		info.Error = err.Error()
	}
	if tail, terr := state.TailLines(p.stderrLog, 20, 0); terr == nil {
		info.StderrTail = tail
	}
	if werr := state.WriteExitInfo(exitInfoPath, info); werr != nil {
		log.Warn().Err(werr).Str("unit", uc.Name()).Msg("write exit info")
	}

	p.mu.Lock()
	p.exitErr = err
	close(p.done)
	p.mu.Unlock()

	uc.Logger().Info().Int("pid", info.PID).Str("signal", info.Signal).Msg("process exited")
}

// awaitStartup fails if the process exits unsuccessfully during the grace
// period, or before its health check passes.
func (p *Process) awaitStartup(ctx context.Context, health *HealthCheck) error {
	grace := time.NewTimer(p.sup.opts.StartGrace)
	defer grace.Stop()

	select {
	case <-p.done:
		return p.startupExit()
	case <-ctx.Done():
		return ctx.Err()
	case <-grace.C:
	}

	if health == nil {
		return nil
	}
	readyCtx, cancel := context.WithTimeout(ctx, p.sup.opts.ReadyTimeout)
	defer cancel()

	ready := make(chan error, 1)
	go func() { ready <- waitReady(readyCtx, *health) }()
	select {
	case err := <-ready:
		return err
	case <-p.done:
		return p.startupExit()
	}
}

func (p *Process) startupExit() error {
	p.mu.Lock()
	err := p.exitErr
	p.mu.Unlock()
	if err == nil {
		return nil
	}
	tail, _ := state.TailLines(p.stderrLog, 5, 0)
	if len(tail) > 0 {
		return errors.Wrapf(err, "process exited during startup: %s", strings.Join(tail, " | "))
	}
	return errors.Wrap(err, "process exited during startup")
}

// Stop terminates the process group: SIGTERM first, SIGKILL after the
// shutdown timeout.
func (p *Process) Stop(ctx context.Context) error {
	p.mu.Lock()
	pid, done := p.pid, p.done
	p.mu.Unlock()
	if pid <= 0 || done == nil {
		return nil
	}

	select {
	case <-done:
		return nil
	default:
	}

	_ = signalGroup(pid, syscall.SIGTERM)
	timer := time.NewTimer(p.sup.opts.ShutdownTimeout)
	defer timer.Stop()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
	case <-timer.C:
	}

	_ = signalGroup(pid, syscall.SIGKILL)
	select {
	case <-done:
		return nil
	case <-time.After(2 * time.Second):
		return errors.Errorf("process %d did not exit", pid)
	}
}

func signalGroup(pid int, sig syscall.Signal) error {
	if pgid, err := syscall.Getpgid(pid); err == nil {
		return syscall.Kill(-pgid, sig)
	}
	return syscall.Kill(pid, sig)
}

func mergeEnv(base []string, extra map[string]string) []string {
	if len(extra) == 0 {
		return base
	}
	out := append([]string{}, base...)
	for k, v := range extra {
		out = append(out, k+"="+v)
	}
	return out
}
