package motion

import (
	"time"

	"codeberg.org/mutker/servoctl/internal/errors"
	"codeberg.org/mutker/servoctl/internal/logger"
	"codeberg.org/mutker/servoctl/internal/servo"
)

// Scheduler steps every registered actuator toward its target by at most one
// rate-limited increment per tick. It is not safe for concurrent use: the host
// loop that calls Tick owns it.
type Scheduler struct {
	actuators  []*Actuator
	index      map[Channel]int
	factory    servo.Factory
	intervalMs int64
	lastTick   int64
	debug      bool
	logger     logger.Logger
}

// Option configures a Scheduler at construction time.
type Option func(*Scheduler)

// WithTickInterval sets the minimum time between two fired ticks. Values below
// one millisecond are ignored.
func WithTickInterval(interval time.Duration) Option {
	return func(s *Scheduler) {
		if ms := interval.Milliseconds(); ms > 0 {
			s.intervalMs = ms
		}
	}
}

func WithLogger(log logger.Logger) Option {
	return func(s *Scheduler) {
		s.logger = log
	}
}

func WithDebug(enabled bool) Option {
	return func(s *Scheduler) {
		s.debug = enabled
	}
}

// RegisterOption adjusts a single registration.
type RegisterOption func(*registration)

type registration struct {
	minPos Angle
	maxPos Angle
}

// WithBounds sets the travel bounds of the registered actuator.
func WithBounds(minPos, maxPos Angle) RegisterOption {
	return func(r *registration) {
		r.minPos = minPos
		r.maxPos = maxPos
	}
}

// New creates a scheduler whose actuators get their servo from factory.
func New(factory servo.Factory, opts ...Option) *Scheduler {
	s := &Scheduler{
		index:      make(map[Channel]int),
		factory:    factory,
		intervalMs: DefaultTickInterval.Milliseconds(),
		logger:     logger.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	return s
}

// SetDebug toggles diagnostic log lines. They are emitted at info level so the
// toggle works without lowering the log level. It never affects motion.
func (s *Scheduler) SetDebug(enabled bool) {
	s.debug = enabled
}

func (s *Scheduler) Debug() bool {
	return s.debug
}

// Interval returns the fixed tick interval.
func (s *Scheduler) Interval() time.Duration {
	return time.Duration(s.intervalMs) * time.Millisecond
}

// Len returns the number of registered actuators.
func (s *Scheduler) Len() int {
	return len(s.actuators)
}

// Register attaches a new servo to id and adds it to the service order. The
// actuator starts at its minimum bound with rate 1 and target 0.
//
// Registering an id that already exists replaces that entry in place: the old
// servo is detached, the new one takes over the same position in the service
// order. If the replacement fails to attach, the old entry is gone too.
func (s *Scheduler) Register(id Channel, opts ...RegisterOption) error {
	errFactory := errors.New()

	reg := registration{minPos: DefaultMinPos, maxPos: DefaultMaxPos}
	for _, opt := range opts {
		opt(&reg)
	}

	idx, exists := s.index[id]
	if exists {
		if err := s.actuators[idx].servo.Detach(); err != nil {
			s.logger.Warn().Err(err).Int("channel", int(id)).Msg("Failed to detach replaced servo")
		}
	}

	sv := s.factory()
	if err := sv.Attach(int(id)); err != nil {
		if exists {
			s.removeAt(idx)
		}
		return errFactory.Wrap(ErrRegisterFailed, err)
	}

	act := newActuator(id, reg.minPos, reg.maxPos, sv)
	if err := act.WriteAngle(reg.minPos); err != nil {
		if exists {
			s.removeAt(idx)
		}
		if detachErr := sv.Detach(); detachErr != nil {
			s.logger.Warn().Err(detachErr).Int("channel", int(id)).Msg("Failed to detach servo")
		}
		return errFactory.Wrap(ErrRegisterFailed, err)
	}

	if exists {
		s.actuators[idx] = act
	} else {
		s.index[id] = len(s.actuators)
		s.actuators = append(s.actuators, act)
	}

	if s.debug {
		s.logger.Info().
			Int("channel", int(id)).
			Int("min_pos", int(reg.minPos)).
			Int("max_pos", int(reg.maxPos)).
			Bool("replaced", exists).
			Msg("Initialised servo")
		s.logger.Info().Int("count", len(s.actuators)).Msg("Total servos set")
	}

	return nil
}

// Remove detaches the actuator registered for id and drops it from the
// service order. The relative order of the remaining actuators is kept.
func (s *Scheduler) Remove(id Channel) error {
	idx, ok := s.index[id]
	if !ok {
		return notFound(id)
	}

	act := s.actuators[idx]
	s.removeAt(idx)

	if s.debug {
		s.logger.Info().
			Int("channel", int(id)).
			Int("count", len(s.actuators)).
			Msg("Removed servo")
	}

	if err := act.servo.Detach(); err != nil {
		return errors.New().Wrap(servo.ErrDetachFailed, err)
	}

	return nil
}

func (s *Scheduler) removeAt(idx int) {
	delete(s.index, s.actuators[idx].id)
	s.actuators = append(s.actuators[:idx], s.actuators[idx+1:]...)
	for i := idx; i < len(s.actuators); i++ {
		s.index[s.actuators[i].id] = i
	}
}

// Actuator returns the actuator registered for id.
func (s *Scheduler) Actuator(id Channel) (*Actuator, error) {
	idx, ok := s.index[id]
	if !ok {
		return nil, notFound(id)
	}

	return s.actuators[idx], nil
}

// SetRamped sets a new target for id, keeping its current rate. Motion happens
// over subsequent ticks.
func (s *Scheduler) SetRamped(id Channel, target Angle) error {
	act, err := s.Actuator(id)
	if err != nil {
		return err
	}
	act.SetTarget(target)
	s.logRamped(act)

	return nil
}

// SetRampedRate sets a new target and rate for id.
func (s *Scheduler) SetRampedRate(id Channel, target Angle, rate Rate) error {
	act, err := s.Actuator(id)
	if err != nil {
		return err
	}
	act.SetTarget(target)
	act.SetRate(rate)
	s.logRamped(act)

	return nil
}

func (s *Scheduler) logRamped(act *Actuator) {
	if !s.debug {
		return
	}
	s.logger.Info().
		Int("channel", int(act.id)).
		Int("target", int(act.target)).
		Int("rate", int(act.rate)).
		Msg("Setting servo position")
}

// SetDirect sets the target of id and writes angle to the servo immediately,
// bypassing the rate limit. The angle is not clamped to the actuator bounds.
func (s *Scheduler) SetDirect(id Channel, angle Angle) error {
	act, err := s.Actuator(id)
	if err != nil {
		return err
	}
	act.SetTarget(angle)

	if s.debug {
		s.logger.Info().
			Int("channel", int(id)).
			Int("angle", int(angle)).
			Msg("Setting servo position directly")
	}

	if err := act.WriteAngle(angle); err != nil {
		return errors.New().Wrap(ErrWriteFailed, err)
	}

	return nil
}

// GetAngle returns the current commanded angle of id.
func (s *Scheduler) GetAngle(id Channel) (Angle, error) {
	act, err := s.Actuator(id)
	if err != nil {
		return 0, err
	}

	return act.ReadAngle(), nil
}

// GetTarget returns the angle id is moving toward.
func (s *Scheduler) GetTarget(id Channel) (Angle, error) {
	act, err := s.Actuator(id)
	if err != nil {
		return 0, err
	}

	return act.GetTarget(), nil
}

// Settled reports whether id is inside its settled zone.
func (s *Scheduler) Settled(id Channel) (bool, error) {
	act, err := s.Actuator(id)
	if err != nil {
		return false, err
	}

	return act.Settled(), nil
}

// Snapshot returns the status of every actuator in service order.
func (s *Scheduler) Snapshot() []ActuatorStatus {
	statuses := make([]ActuatorStatus, len(s.actuators))
	for i, act := range s.actuators {
		statuses[i] = act.status()
	}

	return statuses
}

// Tick performs one scheduling pass if at least one tick interval has passed
// since the last fired tick. now is in milliseconds and must not decrease
// between calls. It reports whether the pass ran.
func (s *Scheduler) Tick(now int64) bool {
	if now-s.lastTick < s.intervalMs {
		return false
	}
	s.lastTick = now

	for _, act := range s.actuators {
		s.step(act)
	}

	return true
}

func (s *Scheduler) step(act *Actuator) {
	cur := act.ReadAngle()
	tgt := act.target
	r := Angle(act.rate)

	var next Angle
	switch {
	case cur < tgt+r && cur > tgt-r:
		// settled: the rewrite of the same angle is intentional
		next = cur
	case cur < tgt:
		if cur+r >= act.maxPos {
			next = act.maxPos
		} else {
			next = cur + r
		}
	case cur > tgt:
		if cur-r <= act.minPos {
			next = act.minPos
		} else {
			next = cur - r
		}
	default:
		// at target with rate zero
		return
	}

	if err := act.WriteAngle(next); err != nil {
		s.logger.ErrorWithCode(errors.New().Wrap(ErrWriteFailed, err)).
			Int("channel", int(act.id)).
			Int("angle", int(next)).
			Msg("Failed to step servo")
	}
}

func notFound(id Channel) error {
	return errors.New().WithData(ErrActuatorNotFound, struct {
		Channel Channel
	}{
		Channel: id,
	})
}
