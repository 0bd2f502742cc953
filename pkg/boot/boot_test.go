package boot

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/go-go-golems/bootctl/pkg/bus"
	"github.com/go-go-golems/bootctl/pkg/config"
	"github.com/go-go-golems/bootctl/pkg/deploy"
	"github.com/go-go-golems/bootctl/pkg/host"
	"github.com/go-go-golems/bootctl/pkg/launch"
	"github.com/go-go-golems/bootctl/pkg/units"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

const applicationYAML = `
boot:
  units:
    foo:
      name: announce:foo
      instances: 4
    bar:
      name: announce:bar
      instances: 2
      configuration:
        a: abc
        b: def
        c: 123
        d: [1, 2, 3]
`

const alternativeYAML = `
boot:
  units:
    foo:
      name: announce:foo
      configuration:
        abc: Yo!
`

func writeConf(t *testing.T, dir, name, contents string) {
	t.Helper()
	confDir := filepath.Join(dir, config.ResourceDir)
	require.NoError(t, os.MkdirAll(confDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(confDir, name), []byte(contents), 0o644))
}

type stack struct {
	bus  *bus.Bus
	host *host.Host
}

func newStack(t *testing.T) stack {
	t.Helper()
	b, err := bus.NewInMemoryBus()
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	reg := host.NewRegistry()
	units.Register(reg)
	h := host.New(host.Options{Registry: reg, Publisher: b})
	t.Cleanup(func() { _ = h.Close(context.Background()) })
	return stack{bus: b, host: h}
}

func collect(t *testing.T, ch <-chan *message.Message, n int) []map[string]any {
	t.Helper()
	out := make([]map[string]any, 0, n)
	timeout := time.After(5 * time.Second)
	for len(out) < n {
		select {
		case msg := <-ch:
			msg.Ack()
			env, err := bus.Decode(msg)
			require.NoError(t, err)
			var payload map[string]any
			require.NoError(t, env.DecodePayload(&payload))
			out = append(out, payload)
		case <-timeout:
			t.Fatalf("received %d of %d messages", len(out), n)
		}
	}
	return out
}

func TestRun_DefaultResource(t *testing.T) {
	dir := t.TempDir()
	writeConf(t, dir, config.DefaultResource, applicationYAML)
	s := newStack(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	foo, err := s.bus.Subscribe(ctx, "foo")
	require.NoError(t, err)
	bar, err := s.bus.Subscribe(ctx, "bar")
	require.NoError(t, err)

	res, err := Run(ctx, Options{
		Source:   config.FileSource{Path: config.ResourcePath(dir, "")},
		Launcher: s.host,
	})
	require.NoError(t, err)
	require.Len(t, res.Deployments, 2)
	require.Equal(t, "foo", res.Deployments[0].Entry)
	require.Equal(t, "bar", res.Deployments[1].Entry)

	for _, payload := range collect(t, foo, 4) {
		require.Empty(t, payload)
	}
	for _, payload := range collect(t, bar, 2) {
		require.Equal(t, map[string]any{
			"a": "abc",
			"b": "def",
			"c": float64(123),
			"d": []any{float64(1), float64(2), float64(3)},
		}, payload)
	}
}

func TestRun_AlternativeResource(t *testing.T) {
	dir := t.TempDir()
	writeConf(t, dir, config.DefaultResource, applicationYAML)
	writeConf(t, dir, config.AlternativeResource, alternativeYAML)
	s := newStack(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	foo, err := s.bus.Subscribe(ctx, "foo")
	require.NoError(t, err)

	res, err := Run(ctx, Options{
		Source:   config.FileSource{Path: config.ResourcePath(dir, config.AlternativeResource)},
		Launcher: s.host,
	})
	require.NoError(t, err)
	require.Len(t, res.Deployments, 1)
	require.Equal(t, []map[string]any{{"abc": "Yo!"}}, collect(t, foo, 1))
}

func TestRun_ConfigDumpFlags(t *testing.T) {
	cases := []struct {
		name   string
		yaml   string
		worker bool
	}{
		{name: "no parameters", yaml: "boot:\n  units:\n    dump:\n      name: configdump\n"},
		{name: "worker", yaml: "boot:\n  units:\n    dump:\n      name: configdump\n      worker: true\n", worker: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := newStack(t)
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			ch, err := s.bus.Subscribe(ctx, units.ConfigDumpTopic)
			require.NoError(t, err)

			tree, err := config.Parse([]byte(tc.yaml), config.FormatYAML, config.ParseOptions{})
			require.NoError(t, err)
			_, err = Run(ctx, Options{Source: config.StaticSource(tree), Launcher: s.host})
			require.NoError(t, err)

			got := collect(t, ch, 1)
			require.Equal(t, []map[string]any{{"worker": tc.worker, "clustered": false}}, got)
		})
	}
}

func TestRun_ResolutionFailureLaunchesNothing(t *testing.T) {
	var calls atomic.Int32
	launcher := launch.LauncherFunc(func(ctx context.Context, spec deploy.Spec) (string, error) {
		calls.Add(1)
		return "id", nil
	})
	tree, err := config.Parse([]byte("boot:\n  units:\n    ok:\n      name: a\n    bad:\n      instances: 2\n"), config.FormatYAML, config.ParseOptions{})
	require.NoError(t, err)

	_, err = Run(context.Background(), Options{Source: config.StaticSource(tree), Launcher: launcher})
	require.ErrorIs(t, err, deploy.ErrConfig)
	require.Equal(t, int32(0), calls.Load())
}

func TestRun_SourceErrorIsReturned(t *testing.T) {
	cause := errors.New("no config here")
	_, err := Run(context.Background(), Options{
		Source:   config.SourceFunc(func() (*config.Tree, error) { return nil, cause }),
		Launcher: launch.LauncherFunc(func(context.Context, deploy.Spec) (string, error) { return "", nil }),
	})
	require.Same(t, cause, err)
}

func TestRun_LaunchErrorIsReturnedUnchanged(t *testing.T) {
	cause := errors.New("unit refused")
	tree, err := config.Parse([]byte("boot:\n  units:\n    a:\n      name: a\n    b:\n      name: b\n"), config.FormatYAML, config.ParseOptions{})
	require.NoError(t, err)

	_, err = Run(context.Background(), Options{
		Source: config.StaticSource(tree),
		Launcher: launch.LauncherFunc(func(ctx context.Context, spec deploy.Spec) (string, error) {
			if spec.Name == "b" {
				return "", cause
			}
			return spec.Name, nil
		}),
	})
	require.Same(t, cause, err)
}

func TestRun_UnknownUnit(t *testing.T) {
	s := newStack(t)
	tree, err := config.Parse([]byte("boot:\n  units:\n    x:\n      name: nope\n"), config.FormatYAML, config.ParseOptions{})
	require.NoError(t, err)

	_, err = Run(context.Background(), Options{Source: config.StaticSource(tree), Launcher: s.host})
	require.ErrorIs(t, err, host.ErrUnknownUnit)
}

func TestRun_EmptyUnitsSucceeds(t *testing.T) {
	tree, err := config.Parse([]byte("boot:\n  units: {}\n"), config.FormatYAML, config.ParseOptions{})
	require.NoError(t, err)

	res, err := Run(context.Background(), Options{
		Source:   config.StaticSource(tree),
		Launcher: launch.LauncherFunc(func(context.Context, deploy.Spec) (string, error) { panic("unreachable") }),
	})
	require.NoError(t, err)
	require.Empty(t, res.Deployments)
}

func TestPlan_CustomBasePath(t *testing.T) {
	tree, err := config.Parse([]byte("svc:\n  units:\n    a:\n      name: configdump\n"), config.FormatYAML, config.ParseOptions{})
	require.NoError(t, err)

	specs, err := Plan(config.StaticSource(tree), "svc.units")
	require.NoError(t, err)
	require.Len(t, specs, 1)

	_, err = Plan(config.StaticSource(tree), "")
	require.ErrorIs(t, err, deploy.ErrConfig)

	_, err = Plan(nil, "")
	require.Error(t, err)
}
