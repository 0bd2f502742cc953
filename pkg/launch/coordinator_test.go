package launch

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-go-golems/bootctl/pkg/deploy"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func specs(names ...string) []deploy.Spec {
	out := make([]deploy.Spec, 0, len(names))
	for _, n := range names {
		opts := deploy.DefaultOptions()
		opts.Config = map[string]any{"owner": n}
		out = append(out, deploy.Spec{Entry: n, Name: n, Options: opts})
	}
	return out
}

type recordingObserver struct {
	mu       sync.Mutex
	started  []string
	finished map[string]error
}

func (o *recordingObserver) LaunchStarted(spec deploy.Spec) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.started = append(o.started, spec.Name)
}

func (o *recordingObserver) LaunchFinished(spec deploy.Spec, id string, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.finished == nil {
		o.finished = map[string]error{}
	}
	o.finished[spec.Name] = err
}

func TestLaunchAll_Empty(t *testing.T) {
	var calls atomic.Int32
	c := &Coordinator{Launcher: LauncherFunc(func(ctx context.Context, spec deploy.Spec) (string, error) {
		calls.Add(1)
		return "id", nil
	})}

	res, err := c.LaunchAll(context.Background(), nil)
	require.NoError(t, err)
	require.Empty(t, res.Deployments)
	require.Equal(t, int32(0), calls.Load())
}

func TestLaunchAll_AllSucceed(t *testing.T) {
	var calls atomic.Int32
	obs := &recordingObserver{}
	c := &Coordinator{
		Launcher: LauncherFunc(func(ctx context.Context, spec deploy.Spec) (string, error) {
			calls.Add(1)
			return "id-" + spec.Name, nil
		}),
		Observer: obs,
	}

	res, err := c.LaunchAll(context.Background(), specs("a", "b", "c"))
	require.NoError(t, err)
	require.Equal(t, int32(3), calls.Load())
	require.Equal(t, []Deployment{
		{Entry: "a", Name: "a", DeploymentID: "id-a"},
		{Entry: "b", Name: "b", DeploymentID: "id-b"},
		{Entry: "c", Name: "c", DeploymentID: "id-c"},
	}, res.Deployments)

	obs.mu.Lock()
	defer obs.mu.Unlock()
	require.ElementsMatch(t, []string{"a", "b", "c"}, obs.started)
	require.Len(t, obs.finished, 3)
}

func TestLaunchAll_IssuesLaunchesConcurrently(t *testing.T) {
	// Every launch blocks until all three have been issued; a sequential
	// coordinator would deadlock here.
	var entered sync.WaitGroup
	entered.Add(3)
	c := &Coordinator{Launcher: LauncherFunc(func(ctx context.Context, spec deploy.Spec) (string, error) {
		entered.Done()
		entered.Wait()
		return spec.Name, nil
	})}

	done := make(chan error, 1)
	go func() {
		_, err := c.LaunchAll(context.Background(), specs("a", "b", "c"))
		done <- err
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("launches were not issued concurrently")
	}
}

func TestLaunchAll_FailsFastWhileOthersPending(t *testing.T) {
	cause := errors.New("unit b refused to start")
	release := make(chan struct{})
	defer close(release)

	c := &Coordinator{Launcher: LauncherFunc(func(ctx context.Context, spec deploy.Spec) (string, error) {
		if spec.Name == "b" {
			return "", cause
		}
		<-release
		return spec.Name, nil
	})}

	done := make(chan error, 1)
	go func() {
		_, err := c.LaunchAll(context.Background(), specs("a", "b", "c"))
		done <- err
	}()

	select {
	case err := <-done:
		require.Same(t, cause, err)
	case <-time.After(5 * time.Second):
		t.Fatal("coordinator waited for pending launches after a failure")
	}
}

func TestLaunchAll_FailureAfterSuccesses(t *testing.T) {
	cause := errors.New("boom")
	c := &Coordinator{Launcher: LauncherFunc(func(ctx context.Context, spec deploy.Spec) (string, error) {
		if spec.Name == "b" {
			time.Sleep(20 * time.Millisecond)
			return "", cause
		}
		return spec.Name, nil
	})}

	res, err := c.LaunchAll(context.Background(), specs("a", "b", "c"))
	require.Same(t, cause, err)
	require.Empty(t, res.Deployments)
}

func TestLaunchAll_MultipleFailuresReportOne(t *testing.T) {
	errA := errors.New("a failed")
	errC := errors.New("c failed")
	c := &Coordinator{Launcher: LauncherFunc(func(ctx context.Context, spec deploy.Spec) (string, error) {
		switch spec.Name {
		case "a":
			return "", errA
		case "c":
			return "", errC
		}
		return spec.Name, nil
	})}

	_, err := c.LaunchAll(context.Background(), specs("a", "b", "c"))
	require.Error(t, err)
	require.True(t, err == errA || err == errC, "unexpected error %v", err)
}

func TestLaunchAll_PanicBecomesError(t *testing.T) {
	c := &Coordinator{Launcher: LauncherFunc(func(ctx context.Context, spec deploy.Spec) (string, error) {
		if spec.Name == "b" {
			panic("kaboom")
		}
		return spec.Name, nil
	})}

	_, err := c.LaunchAll(context.Background(), specs("a", "b"))
	var pe *PanicError
	require.ErrorAs(t, err, &pe)
	require.Equal(t, "b", pe.Name)
	require.Equal(t, "kaboom", pe.Value)
}

func TestLaunchAll_LaunchesSeeOnlyTheirOwnOptions(t *testing.T) {
	names := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	var mu sync.Mutex
	seen := map[string]any{}
	c := &Coordinator{Launcher: LauncherFunc(func(ctx context.Context, spec deploy.Spec) (string, error) {
		time.Sleep(time.Millisecond)
		mu.Lock()
		defer mu.Unlock()
		seen[spec.Name] = spec.Options.Config["owner"]
		return spec.Name, nil
	})}

	_, err := c.LaunchAll(context.Background(), specs(names...))
	require.NoError(t, err)
	for _, n := range names {
		require.Equal(t, n, seen[n])
	}
}

func TestLaunchAll_NoLauncher(t *testing.T) {
	_, err := (&Coordinator{}).LaunchAll(context.Background(), specs("a"))
	require.Error(t, err)
}
