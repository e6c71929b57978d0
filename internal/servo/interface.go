package servo

// Servo is the actuation capability bound to one physical channel.
// Read reports the last commanded angle, not a sensor reading.
type Servo interface {
	Attach(channel int) error
	Write(angle int) error
	Read() int
	Detach() error
}

// Factory creates a fresh, unattached Servo for each registered actuator.
type Factory func() Servo
