package bus

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/go-go-golems/bootctl/pkg/deploy"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func newBus(t *testing.T) *Bus {
	t.Helper()
	b, err := NewInMemoryBus()
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func next(t *testing.T, ch <-chan *message.Message) Envelope {
	t.Helper()
	select {
	case msg := <-ch:
		msg.Ack()
		env, err := Decode(msg)
		require.NoError(t, err)
		return env
	case <-time.After(5 * time.Second):
		t.Fatal("no message received")
	}
	return Envelope{}
}

func TestPublishSubscribe(t *testing.T) {
	b := newBus(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := b.Subscribe(ctx, "config.dump")
	require.NoError(t, err)

	require.NoError(t, b.Publish("config.dump", TypeUnitMessage, map[string]bool{"worker": true}))

	env := next(t, ch)
	require.Equal(t, TypeUnitMessage, env.Type)
	var got map[string]bool
	require.NoError(t, env.DecodePayload(&got))
	require.Equal(t, map[string]bool{"worker": true}, got)
}

func TestNewEnvelope(t *testing.T) {
	_, err := NewEnvelope("", nil)
	require.Error(t, err)

	env, err := NewEnvelope("x", nil)
	require.NoError(t, err)
	require.Empty(t, env.Payload)
	require.Error(t, env.DecodePayload(&struct{}{}))
}

func TestObserverPublishesLifecycle(t *testing.T) {
	b := newBus(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := b.Subscribe(ctx, TopicLaunch)
	require.NoError(t, err)

	spec := deploy.Spec{Entry: "foo", Name: "announce:foo", Options: deploy.DefaultOptions()}
	obs := &Observer{Bus: b}

	obs.LaunchStarted(spec)
	env := next(t, ch)
	require.Equal(t, TypeLaunchStarted, env.Type)

	obs.LaunchFinished(spec, "dep-1", nil)
	env = next(t, ch)
	require.Equal(t, TypeLaunchSucceeded, env.Type)
	var ev LaunchEvent
	require.NoError(t, env.DecodePayload(&ev))
	require.Equal(t, "dep-1", ev.DeploymentID)
	require.Equal(t, "announce:foo", ev.Name)
	require.Equal(t, 1, ev.Instances)

	obs.LaunchFinished(spec, "", errors.New("nope"))
	env = next(t, ch)
	require.Equal(t, TypeLaunchFailed, env.Type)
	require.NoError(t, env.DecodePayload(&ev))
	require.Equal(t, "nope", ev.Error)
}

func TestNilObserverIsSilent(t *testing.T) {
	var obs *Observer
	obs.LaunchStarted(deploy.Spec{Name: "x"})
	(&Observer{}).LaunchFinished(deploy.Spec{Name: "x"}, "", nil)
}

func TestRouterHandlers(t *testing.T) {
	b := newBus(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan string, 1)
	b.AddHandler("test", "t", func(msg *message.Message) error {
		defer msg.Ack()
		env, err := Decode(msg)
		if err != nil {
			return err
		}
		got <- env.Type
		return nil
	})
	LogLaunchEvents(b)

	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()
	<-b.Router.Running()

	require.NoError(t, b.Publish("t", "hello", nil))
	select {
	case typ := <-got:
		require.Equal(t, "hello", typ)
	case <-time.After(5 * time.Second):
		t.Fatal("handler not called")
	}

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("router did not stop")
	}
}
