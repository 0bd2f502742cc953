package supervise

import (
	"context"
	"syscall"
	"time"

	"github.com/go-go-golems/bootctl/pkg/state"
	"github.com/pkg/errors"
)

// TerminatePID stops a process this process did not start, such as a boot
// found through its state record. It sends SIGTERM, waits up to timeout and
// then sends SIGKILL. With group set the whole process group is signalled.
func TerminatePID(ctx context.Context, pid int, timeout time.Duration, group bool) error {
	if pid <= 0 {
		return nil
	}
	kill := func(sig syscall.Signal) {
		if group {
			_ = signalGroup(pid, sig)
			return
		}
		_ = syscall.Kill(pid, sig)
	}

	kill(syscall.SIGTERM)

	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}

	t := time.NewTicker(100 * time.Millisecond)
	defer t.Stop()

	wait := func(until time.Time) error {
		for state.ProcessAlive(pid) && time.Now().Before(until) {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-t.C:
			}
		}
		return nil
	}

	if err := wait(time.Now().Add(timeout)); err != nil {
		return err
	}
	if !state.ProcessAlive(pid) {
		return nil
	}

	kill(syscall.SIGKILL)
	if err := wait(time.Now().Add(2 * time.Second)); err != nil {
		return err
	}
	if state.ProcessAlive(pid) {
		return errors.Errorf("failed to stop process %d", pid)
	}
	return nil
}
