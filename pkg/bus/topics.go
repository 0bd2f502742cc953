package bus

const (
	TopicLaunch = "boot.launch"
)

const (
	TypeLaunchStarted   = "launch.started"
	TypeLaunchSucceeded = "launch.succeeded"
	TypeLaunchFailed    = "launch.failed"

	// TypeUnitMessage is the envelope type of messages published by units.
	TypeUnitMessage = "unit.message"
)
