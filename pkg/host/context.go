package host

import (
	"github.com/go-go-golems/bootctl/pkg/bus"
	"github.com/go-go-golems/bootctl/pkg/deploy"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Publisher is the part of the bus units can reach.
type Publisher interface {
	Publish(topic, typ string, payload any) error
}

// Context is what a unit instance sees of its deployment.
type Context struct {
	deploymentID string
	name         string
	instance     int
	options      deploy.Options
	logger       zerolog.Logger
	publisher    Publisher
}

func (c *Context) DeploymentID() string { return c.deploymentID }
func (c *Context) Name() string         { return c.name }
func (c *Context) Instance() int        { return c.instance }
func (c *Context) Worker() bool         { return c.options.Worker }

// Clustered is always false: the host runs a single node.
func (c *Context) Clustered() bool { return false }

// Config returns a private copy of the unit configuration.
func (c *Context) Config() map[string]any {
	return deploy.CloneConfig(c.options.Config)
}

// Options returns a copy of the resolved deployment options.
func (c *Context) Options() deploy.Options {
	return deploy.Spec{Options: c.options}.Clone().Options
}

func (c *Context) Logger() *zerolog.Logger { return &c.logger }

// Publish sends payload on topic as a unit message.
func (c *Context) Publish(topic string, payload any) error {
	if c.publisher == nil {
		return errors.Errorf("unit %s: no bus to publish %s", c.name, topic)
	}
	return c.publisher.Publish(topic, bus.TypeUnitMessage, payload)
}
