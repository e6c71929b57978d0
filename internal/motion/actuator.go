package motion

import "codeberg.org/mutker/servoctl/internal/servo"

// Actuator is the bookkeeping for one registered servo. The current angle is
// never stored here; it is always read back through the servo capability.
type Actuator struct {
	id     Channel
	target Angle
	rate   Rate
	minPos Angle
	maxPos Angle
	servo  servo.Servo
}

func newActuator(id Channel, minPos, maxPos Angle, s servo.Servo) *Actuator {
	return &Actuator{
		id:     id,
		rate:   initialRate,
		minPos: minPos,
		maxPos: maxPos,
		servo:  s,
	}
}

// WriteAngle commands the servo directly, with no bounds check and no rate limit.
func (a *Actuator) WriteAngle(angle Angle) error {
	return a.servo.Write(int(angle))
}

// ReadAngle returns the servo's current commanded angle.
func (a *Actuator) ReadAngle() Angle {
	return Angle(a.servo.Read())
}

func (a *Actuator) SetRate(rate Rate) {
	a.rate = rate
}

func (a *Actuator) SetTarget(angle Angle) {
	a.target = angle
}

func (a *Actuator) GetRate() Rate {
	return a.rate
}

func (a *Actuator) GetTarget() Angle {
	return a.target
}

func (a *Actuator) GetID() Channel {
	return a.id
}

func (a *Actuator) GetMinPos() Angle {
	return a.minPos
}

func (a *Actuator) GetMaxPos() Angle {
	return a.maxPos
}

// Settled reports whether the actuator is inside its settled zone, i.e. closer
// to the target than one rate step.
func (a *Actuator) Settled() bool {
	cur := a.ReadAngle()
	r := Angle(a.rate)

	return cur < a.target+r && cur > a.target-r
}

func (a *Actuator) status() ActuatorStatus {
	return ActuatorStatus{
		Channel: a.id,
		Angle:   a.ReadAngle(),
		Target:  a.target,
		Rate:    a.rate,
		MinPos:  a.minPos,
		MaxPos:  a.maxPos,
		Settled: a.Settled(),
	}
}
