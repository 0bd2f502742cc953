package bus

import (
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/go-go-golems/bootctl/pkg/deploy"
	"github.com/rs/zerolog/log"
)

type LaunchEvent struct {
	At           time.Time `json:"at"`
	Entry        string    `json:"entry"`
	Name         string    `json:"name"`
	Instances    int       `json:"instances"`
	Worker       bool      `json:"worker"`
	DeploymentID string    `json:"deployment_id,omitempty"`
	Error        string    `json:"error,omitempty"`
}

// Observer publishes coordinator lifecycle events on TopicLaunch.
type Observer struct {
	Bus *Bus
}

func (o *Observer) LaunchStarted(spec deploy.Spec) {
	o.publish(TypeLaunchStarted, eventFor(spec))
}

func (o *Observer) LaunchFinished(spec deploy.Spec, deploymentID string, err error) {
	ev := eventFor(spec)
	ev.DeploymentID = deploymentID
	if err != nil {
		ev.Error = err.Error()
		o.publish(TypeLaunchFailed, ev)
		return
	}
	o.publish(TypeLaunchSucceeded, ev)
}

func (o *Observer) publish(typ string, ev LaunchEvent) {
	if o == nil || o.Bus == nil {
		return
	}
	if err := o.Bus.Publish(TopicLaunch, typ, ev); err != nil {
		log.Warn().Err(err).Str("type", typ).Str("unit", ev.Name).Msg("publish launch event")
	}
}

func eventFor(spec deploy.Spec) LaunchEvent {
	return LaunchEvent{
		At:        time.Now(),
		Entry:     spec.Entry,
		Name:      spec.Name,
		Instances: spec.Options.Instances,
		Worker:    spec.Options.Worker,
	}
}

// LogLaunchEvents installs a router handler that logs every launch event.
func LogLaunchEvents(b *Bus) {
	b.AddHandler("bootctl-launch-log", TopicLaunch, func(msg *message.Message) error {
		defer msg.Ack()

		env, err := Decode(msg)
		if err != nil {
			return err
		}
		var ev LaunchEvent
		if err := env.DecodePayload(&ev); err != nil {
			return err
		}
		switch env.Type {
		case TypeLaunchStarted:
			log.Debug().Str("unit", ev.Name).Int("instances", ev.Instances).Bool("worker", ev.Worker).Msg("launching")
		case TypeLaunchSucceeded:
			log.Info().Str("unit", ev.Name).Str("deployment", ev.DeploymentID).Msg("deployed")
		case TypeLaunchFailed:
			log.Error().Str("unit", ev.Name).Str("error", ev.Error).Msg("deployment failed")
		}
		return nil
	})
}
