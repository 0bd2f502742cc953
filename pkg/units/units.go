// Package units holds the built-in sample units.
package units

import (
	"context"

	"github.com/go-go-golems/bootctl/pkg/host"
)

const (
	ConfigDumpName  = "configdump"
	ConfigDumpTopic = "config.dump"
	AnnounceScheme  = "announce"
)

// ConfigDump publishes the worker and clustered flags of its context.
type ConfigDump struct{}

type ConfigDumpPayload struct {
	Worker    bool `json:"worker"`
	Clustered bool `json:"clustered"`
}

func (ConfigDump) Start(ctx context.Context, uc *host.Context) error {
	return uc.Publish(ConfigDumpTopic, ConfigDumpPayload{Worker: uc.Worker(), Clustered: uc.Clustered()})
}

// Announce publishes its configuration on Topic when started.
type Announce struct {
	Topic string
}

func (a Announce) Start(ctx context.Context, uc *host.Context) error {
	uc.Logger().Debug().Str("topic", a.Topic).Msg("announcing configuration")
	return uc.Publish(a.Topic, uc.Config())
}

// Register installs configdump and the announce:<topic> scheme.
func Register(reg *host.Registry) {
	reg.Register(ConfigDumpName, func(string) (host.Unit, error) { return ConfigDump{}, nil })
	reg.RegisterPrefix(AnnounceScheme, func(topic string) (host.Unit, error) {
		return Announce{Topic: topic}, nil
	})
}
