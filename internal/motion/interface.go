package motion

import "time"

const (
	DefaultMinPos       Angle = 0
	DefaultMaxPos       Angle = 180
	DefaultTickInterval       = 15 * time.Millisecond

	initialRate Rate = 1
)

// Domain types for type safety
type (
	// Channel identifies one actuator, usually the hardware pin or PWM channel.
	Channel int
	// Angle is a commanded servo angle in degrees.
	Angle int
	// Rate is the maximum angle change per fired tick. Zero freezes the actuator.
	Rate int
)

// ActuatorStatus is a point-in-time view of one registered actuator.
type ActuatorStatus struct {
	Channel Channel
	Angle   Angle
	Target  Angle
	Rate    Rate
	MinPos  Angle
	MaxPos  Angle
	Settled bool
}
