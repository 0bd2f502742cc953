package units

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/go-go-golems/bootctl/pkg/bus"
	"github.com/go-go-golems/bootctl/pkg/deploy"
	"github.com/go-go-golems/bootctl/pkg/host"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) (*host.Host, *bus.Bus) {
	t.Helper()
	b, err := bus.NewInMemoryBus()
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	reg := host.NewRegistry()
	Register(reg)
	return host.New(host.Options{Registry: reg, Publisher: b}), b
}

func receive(t *testing.T, ch <-chan *message.Message, v any) {
	t.Helper()
	select {
	case msg := <-ch:
		msg.Ack()
		env, err := bus.Decode(msg)
		require.NoError(t, err)
		require.Equal(t, bus.TypeUnitMessage, env.Type)
		require.NoError(t, env.DecodePayload(v))
	case <-time.After(5 * time.Second):
		t.Fatal("no message received")
	}
}

func TestConfigDump(t *testing.T) {
	for _, worker := range []bool{false, true} {
		h, b := setup(t)
		ctx, cancel := context.WithCancel(context.Background())
		ch, err := b.Subscribe(ctx, ConfigDumpTopic)
		require.NoError(t, err)

		opts := deploy.DefaultOptions()
		opts.Worker = worker
		_, err = h.Launch(ctx, deploy.Spec{Entry: "dump", Name: ConfigDumpName, Options: opts})
		require.NoError(t, err)

		var got ConfigDumpPayload
		receive(t, ch, &got)
		require.Equal(t, ConfigDumpPayload{Worker: worker, Clustered: false}, got)
		cancel()
	}
}

func TestAnnounce(t *testing.T) {
	h, b := setup(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := b.Subscribe(ctx, "foo")
	require.NoError(t, err)

	opts := deploy.DefaultOptions()
	opts.Config = map[string]any{"a": "abc", "n": int64(123)}
	_, err = h.Launch(ctx, deploy.Spec{Entry: "foo", Name: "announce:foo", Options: opts})
	require.NoError(t, err)

	var got map[string]any
	receive(t, ch, &got)
	require.Equal(t, map[string]any{"a": "abc", "n": float64(123)}, got)
}
