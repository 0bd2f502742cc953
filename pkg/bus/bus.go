package bus

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	gochannel "github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/pkg/errors"
)

// Bus is the in-process message bus shared by the host, its units and the
// launch observer.
type Bus struct {
	Router     *message.Router
	Publisher  message.Publisher
	Subscriber message.Subscriber

	pubsub    *gochannel.GoChannel
	runOnce   sync.Once
	closeOnce sync.Once
}

func NewInMemoryBus() (*Bus, error) {
	logger := watermill.NopLogger{}
	pubsub := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 1024}, logger)

	r, err := message.NewRouter(message.RouterConfig{}, logger)
	if err != nil {
		return nil, errors.Wrap(err, "new watermill router")
	}
	return &Bus{
		Router:     r,
		Publisher:  pubsub,
		Subscriber: pubsub,
		pubsub:     pubsub,
	}, nil
}

func (b *Bus) AddHandler(name, topic string, handler func(*message.Message) error) {
	b.Router.AddConsumerHandler(name, topic, b.Subscriber, handler)
}

// Run blocks until ctx is done or the router is closed. Only the first call
// runs the router.
func (b *Bus) Run(ctx context.Context) error {
	var runErr error
	b.runOnce.Do(func() {
		go func() {
			<-ctx.Done()
			_ = b.Router.Close()
		}()
		runErr = b.Router.Run(ctx)
	})
	return runErr
}

// Publish wraps payload into an Envelope of the given type and publishes it
// on topic.
func (b *Bus) Publish(topic, typ string, payload any) error {
	env, err := NewEnvelope(typ, payload)
	if err != nil {
		return err
	}
	raw, err := env.MarshalJSONBytes()
	if err != nil {
		return err
	}
	if err := b.Publisher.Publish(topic, message.NewMessage(watermill.NewUUID(), raw)); err != nil {
		return errors.Wrapf(err, "publish %s", topic)
	}
	return nil
}

// Subscribe returns the raw messages published on topic after the call.
// Every message must be acked before the next one is delivered.
func (b *Bus) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	ch, err := b.Subscriber.Subscribe(ctx, topic)
	if err != nil {
		return nil, errors.Wrapf(err, "subscribe %s", topic)
	}
	return ch, nil
}

func (b *Bus) Close() error {
	var err error
	b.closeOnce.Do(func() {
		if rerr := b.Router.Close(); rerr != nil {
			err = errors.Wrap(rerr, "close router")
		}
		if perr := b.pubsub.Close(); perr != nil && err == nil {
			err = errors.Wrap(perr, "close pubsub")
		}
	})
	return err
}

// Decode unmarshals a bus message into its envelope.
func Decode(msg *message.Message) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(msg.Payload, &env); err != nil {
		return Envelope{}, errors.Wrap(err, "unmarshal envelope")
	}
	return env, nil
}
