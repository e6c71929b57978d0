package servo

import (
	"sync"

	"codeberg.org/mutker/servoctl/internal/errors"
)

// Write is one commanded angle as seen by the simulated hardware.
type Write struct {
	Channel int
	Angle   int
}

// Journal records writes from every Simulated servo sharing it, in the order
// they were issued.
type Journal struct {
	mu     sync.Mutex
	writes []Write
}

func (j *Journal) record(w Write) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.writes = append(j.writes, w)
}

// Writes returns a copy of the recorded writes.
func (j *Journal) Writes() []Write {
	j.mu.Lock()
	defer j.mu.Unlock()
	writes := make([]Write, len(j.writes))
	copy(writes, j.writes)

	return writes
}

// Len returns the number of recorded writes.
func (j *Journal) Len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.writes)
}

// Reset drops all recorded writes.
func (j *Journal) Reset() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.writes = j.writes[:0]
}

// Simulated is an in-memory Servo. It never moves anything; it remembers the
// last commanded angle and optionally journals every write.
type Simulated struct {
	Journal    *Journal
	FailAttach bool
	FailWrite  bool

	channel  int
	angle    int
	attached bool
}

// NewSimulatedFactory returns a Factory whose servos share the given journal.
// A nil journal disables recording.
func NewSimulatedFactory(journal *Journal) Factory {
	return func() Servo {
		return &Simulated{Journal: journal}
	}
}

func (s *Simulated) Attach(channel int) error {
	if s.FailAttach {
		return errors.New().WithData(ErrAttachFailed, channel)
	}
	s.channel = channel
	s.attached = true

	return nil
}

func (s *Simulated) Write(angle int) error {
	errFactory := errors.New()
	if !s.attached {
		return errFactory.New(ErrNotAttached)
	}
	if s.FailWrite {
		return errFactory.WithData(ErrWriteFailed, s.channel)
	}

	s.angle = angle
	if s.Journal != nil {
		s.Journal.record(Write{Channel: s.channel, Angle: angle})
	}

	return nil
}

func (s *Simulated) Read() int {
	return s.angle
}

func (s *Simulated) Detach() error {
	s.attached = false
	return nil
}

// Attached reports whether the servo is currently bound to a channel.
func (s *Simulated) Attached() bool {
	return s.attached
}

// Channel returns the channel passed to the last Attach.
func (s *Simulated) Channel() int {
	return s.channel
}
