package motion_test

import (
	"bytes"
	"encoding/json"
	"math/rand"
	"strings"
	"testing"
	"time"

	"codeberg.org/mutker/servoctl/internal/errors"
	"codeberg.org/mutker/servoctl/internal/logger"
	"codeberg.org/mutker/servoctl/internal/motion"
	"codeberg.org/mutker/servoctl/internal/servo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const interval = int64(15)

type harness struct {
	sched   *motion.Scheduler
	journal *servo.Journal
	now     int64
}

func newHarness(t *testing.T, opts ...motion.Option) *harness {
	t.Helper()
	journal := &servo.Journal{}

	return &harness{
		sched:   motion.New(servo.NewSimulatedFactory(journal), opts...),
		journal: journal,
	}
}

// tick advances time by one interval and fires a tick.
func (h *harness) tick(t *testing.T) {
	t.Helper()
	h.now += interval
	require.True(t, h.sched.Tick(h.now))
}

func (h *harness) angle(t *testing.T, id motion.Channel) motion.Angle {
	t.Helper()
	angle, err := h.sched.GetAngle(id)
	require.NoError(t, err)

	return angle
}

func TestRegisterDefaults(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.sched.Register(9))

	act, err := h.sched.Actuator(9)
	require.NoError(t, err)
	assert.Equal(t, motion.Channel(9), act.GetID())
	assert.Equal(t, motion.Angle(0), act.GetMinPos())
	assert.Equal(t, motion.Angle(180), act.GetMaxPos())
	assert.Equal(t, motion.Rate(1), act.GetRate())
	assert.Equal(t, motion.Angle(0), act.GetTarget())
	assert.Equal(t, motion.Angle(0), act.ReadAngle())
	assert.Equal(t, 1, h.sched.Len())
	assert.Equal(t, 15*time.Millisecond, h.sched.Interval())
}

func TestRegisterWritesMinPos(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.sched.Register(10, motion.WithBounds(10, 170)))

	assert.Equal(t, motion.Angle(10), h.angle(t, 10))
	assert.Equal(t, []servo.Write{{Channel: 10, Angle: 10}}, h.journal.Writes())
}

func TestRegisterAttachFailure(t *testing.T) {
	factory := func() servo.Servo {
		return &servo.Simulated{FailAttach: true}
	}
	sched := motion.New(factory)

	err := sched.Register(3)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, motion.ErrRegisterFailed))
	assert.True(t, errors.HasCode(err, servo.ErrAttachFailed))
	assert.Equal(t, 0, sched.Len())
}

func TestRegisterInitialWriteFailure(t *testing.T) {
	factory := func() servo.Servo {
		return &servo.Simulated{FailWrite: true}
	}
	sched := motion.New(factory)

	err := sched.Register(3)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, servo.ErrWriteFailed))
	assert.Equal(t, 0, sched.Len())
}

func TestRegisterUpsertKeepsOrder(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.sched.Register(1))
	require.NoError(t, h.sched.Register(2))
	require.NoError(t, h.sched.Register(3))
	require.NoError(t, h.sched.SetRampedRate(2, 90, 5))

	require.NoError(t, h.sched.Register(2, motion.WithBounds(20, 160)))
	assert.Equal(t, 3, h.sched.Len())

	snapshot := h.sched.Snapshot()
	require.Len(t, snapshot, 3)
	assert.Equal(t, motion.Channel(1), snapshot[0].Channel)
	assert.Equal(t, motion.Channel(2), snapshot[1].Channel)
	assert.Equal(t, motion.Channel(3), snapshot[2].Channel)

	// the replaced entry starts from scratch
	assert.Equal(t, motion.Angle(20), snapshot[1].Angle)
	assert.Equal(t, motion.Angle(0), snapshot[1].Target)
	assert.Equal(t, motion.Rate(1), snapshot[1].Rate)
	assert.Equal(t, motion.Angle(20), snapshot[1].MinPos)
	assert.Equal(t, motion.Angle(160), snapshot[1].MaxPos)
}

func TestRegisterUpsertDetachesOldServo(t *testing.T) {
	var created []*servo.Simulated
	factory := func() servo.Servo {
		s := &servo.Simulated{}
		created = append(created, s)
		return s
	}
	sched := motion.New(factory)

	require.NoError(t, sched.Register(4))
	require.NoError(t, sched.Register(4))

	require.Len(t, created, 2)
	assert.False(t, created[0].Attached())
	assert.True(t, created[1].Attached())
	assert.Equal(t, 4, created[1].Channel())
}

func TestRemove(t *testing.T) {
	h := newHarness(t)
	for _, id := range []motion.Channel{1, 2, 3} {
		require.NoError(t, h.sched.Register(id))
	}

	require.NoError(t, h.sched.Remove(2))
	assert.Equal(t, 2, h.sched.Len())

	_, err := h.sched.GetAngle(2)
	assert.True(t, errors.HasCode(err, motion.ErrActuatorNotFound))

	snapshot := h.sched.Snapshot()
	assert.Equal(t, motion.Channel(1), snapshot[0].Channel)
	assert.Equal(t, motion.Channel(3), snapshot[1].Channel)

	// lookups past the removed slot still resolve
	require.NoError(t, h.sched.SetDirect(3, 45))
	assert.Equal(t, motion.Angle(45), h.angle(t, 3))

	err = h.sched.Remove(2)
	assert.True(t, errors.HasCode(err, motion.ErrActuatorNotFound))
}

func TestLookupNotFound(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.sched.Register(1))

	_, err := h.sched.GetAngle(7)
	assert.True(t, errors.HasCode(err, motion.ErrActuatorNotFound))
	_, err = h.sched.GetTarget(7)
	assert.True(t, errors.HasCode(err, motion.ErrActuatorNotFound))
	_, err = h.sched.Settled(7)
	assert.True(t, errors.HasCode(err, motion.ErrActuatorNotFound))
	assert.True(t, errors.HasCode(h.sched.SetRamped(7, 10), motion.ErrActuatorNotFound))
	assert.True(t, errors.HasCode(h.sched.SetRampedRate(7, 10, 2), motion.ErrActuatorNotFound))
	assert.True(t, errors.HasCode(h.sched.SetDirect(7, 10), motion.ErrActuatorNotFound))
	assert.Contains(t, h.sched.SetDirect(7, 10).Error(), "7")
}

func TestSetRampedDoesNotWrite(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.sched.Register(9))
	h.journal.Reset()

	require.NoError(t, h.sched.SetRampedRate(9, 90, 5))
	assert.Equal(t, 0, h.journal.Len())

	target, err := h.sched.GetTarget(9)
	require.NoError(t, err)
	assert.Equal(t, motion.Angle(90), target)

	require.NoError(t, h.sched.SetRamped(9, 60))
	act, err := h.sched.Actuator(9)
	require.NoError(t, err)
	assert.Equal(t, motion.Rate(5), act.GetRate(), "rate is kept when not supplied")
	assert.Equal(t, motion.Angle(60), act.GetTarget())
}

func TestSetDirectWritesImmediately(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.sched.Register(5))

	require.NoError(t, h.sched.SetDirect(5, 120))
	assert.Equal(t, motion.Angle(120), h.angle(t, 5))

	target, err := h.sched.GetTarget(5)
	require.NoError(t, err)
	assert.Equal(t, motion.Angle(120), target)
}

func TestSetDirectWriteFailure(t *testing.T) {
	sim := &servo.Simulated{}
	sched := motion.New(func() servo.Servo { return sim })
	require.NoError(t, sched.Register(5))

	sim.FailWrite = true
	err := sched.SetDirect(5, 30)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, motion.ErrWriteFailed))
}

func TestTickGating(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.sched.Register(9))
	require.NoError(t, h.sched.SetRampedRate(9, 90, 5))
	h.journal.Reset()

	assert.False(t, h.sched.Tick(0), "first call before one interval has elapsed")
	assert.False(t, h.sched.Tick(14))
	assert.Equal(t, 0, h.journal.Len())

	assert.True(t, h.sched.Tick(15))
	assert.Equal(t, motion.Angle(5), h.angle(t, 9))

	// less than one interval after the fired tick: complete no-op
	assert.False(t, h.sched.Tick(29))
	assert.Equal(t, motion.Angle(5), h.angle(t, 9))
	assert.Equal(t, 1, h.journal.Len())

	// the rejected call did not advance the gate
	assert.True(t, h.sched.Tick(30))
	assert.Equal(t, motion.Angle(10), h.angle(t, 9))
}

func TestTickIntervalOption(t *testing.T) {
	h := newHarness(t, motion.WithTickInterval(50*time.Millisecond))
	require.NoError(t, h.sched.Register(1))
	require.NoError(t, h.sched.SetRampedRate(1, 100, 10))

	assert.Equal(t, 50*time.Millisecond, h.sched.Interval())
	assert.False(t, h.sched.Tick(49))
	assert.True(t, h.sched.Tick(50))
	assert.False(t, h.sched.Tick(99))
	assert.True(t, h.sched.Tick(100))
	assert.Equal(t, motion.Angle(20), h.angle(t, 1))
}

func TestTickIntervalOptionIgnoresSubMillisecond(t *testing.T) {
	sched := motion.New(servo.NewSimulatedFactory(nil), motion.WithTickInterval(time.Microsecond))
	assert.Equal(t, motion.DefaultTickInterval, sched.Interval())
}

func TestScenarioRampToTarget(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.sched.Register(9, motion.WithBounds(0, 180)))
	require.NoError(t, h.sched.SetRampedRate(9, 90, 5))

	prev := h.angle(t, 9)
	for i := 0; i < 18; i++ {
		h.tick(t)
		cur := h.angle(t, 9)
		assert.Equal(t, prev+5, cur, "tick %d", i+1)
		prev = cur
	}
	assert.Equal(t, motion.Angle(90), h.angle(t, 9))

	settled, err := h.sched.Settled(9)
	require.NoError(t, err)
	assert.True(t, settled)
}

func TestScenarioOutOfRangeTargetClamps(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.sched.Register(10, motion.WithBounds(10, 170)))
	require.NoError(t, h.sched.SetRampedRate(10, 200, 9))

	for i := 1; i <= 17; i++ {
		h.tick(t)
		assert.Equal(t, motion.Angle(10+9*i), h.angle(t, 10))
	}
	assert.Equal(t, motion.Angle(163), h.angle(t, 10))

	h.tick(t)
	assert.Equal(t, motion.Angle(170), h.angle(t, 10), "163+9 >= 170 clamps")

	for i := 0; i < 20; i++ {
		h.tick(t)
		assert.Equal(t, motion.Angle(170), h.angle(t, 10))
	}

	settled, err := h.sched.Settled(10)
	require.NoError(t, err)
	assert.False(t, settled, "an unreachable target never settles")
}

func TestScenarioDirectOutOfBoundsIsNotCorrected(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.sched.Register(5))

	require.NoError(t, h.sched.SetDirect(5, 250))
	assert.Equal(t, motion.Angle(250), h.angle(t, 5))

	// the ramped pass keeps a settled out-of-bounds angle where it is
	h.tick(t)
	assert.Equal(t, motion.Angle(250), h.angle(t, 5))

	require.NoError(t, h.sched.SetRampedRate(5, 100, 10))
	for want := motion.Angle(240); want >= 100; want -= 10 {
		h.tick(t)
		assert.Equal(t, want, h.angle(t, 5))
	}
	assert.Equal(t, motion.Angle(100), h.angle(t, 5))
}

func TestDirectBelowBoundsIsNotPulledIn(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.sched.Register(5, motion.WithBounds(20, 160)))

	require.NoError(t, h.sched.SetDirect(5, 0))
	require.NoError(t, h.sched.SetRampedRate(5, 90, 30))

	// 0+30 is below the max bound, so no clamp applies on the way up
	h.tick(t)
	assert.Equal(t, motion.Angle(30), h.angle(t, 5))
}

func TestDescendingClampsAtMinPos(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.sched.Register(6, motion.WithBounds(10, 170)))
	require.NoError(t, h.sched.SetDirect(6, 40))
	require.NoError(t, h.sched.SetRampedRate(6, -50, 25))

	h.tick(t)
	assert.Equal(t, motion.Angle(15), h.angle(t, 6))
	h.tick(t)
	assert.Equal(t, motion.Angle(10), h.angle(t, 6), "15-25 <= 10 clamps to min")
	h.tick(t)
	assert.Equal(t, motion.Angle(10), h.angle(t, 6))
}

func TestSettledIdempotence(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.sched.Register(1))
	require.NoError(t, h.sched.SetDirect(1, 47))
	require.NoError(t, h.sched.SetRampedRate(1, 50, 5))
	h.journal.Reset()

	for i := 0; i < 5; i++ {
		h.tick(t)
		assert.Equal(t, motion.Angle(47), h.angle(t, 1))
	}

	// settled actuators still see one write per tick
	assert.Equal(t, 5, h.journal.Len())
	for _, w := range h.journal.Writes() {
		assert.Equal(t, 47, w.Angle)
	}
}

func TestZeroRateFreeze(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.sched.Register(1))
	require.NoError(t, h.sched.SetDirect(1, 40))
	require.NoError(t, h.sched.SetRampedRate(1, 120, 0))
	h.journal.Reset()

	for i := 0; i < 10; i++ {
		h.tick(t)
		assert.Equal(t, motion.Angle(40), h.angle(t, 1))
	}
	assert.Equal(t, 10, h.journal.Len(), "stuck actuators rewrite the same angle")

	// a nonzero rate releases it
	require.NoError(t, h.sched.SetRampedRate(1, 120, 4))
	h.tick(t)
	assert.Equal(t, motion.Angle(44), h.angle(t, 1))
}

func TestZeroRateAtTargetDoesNotWrite(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.sched.Register(1))
	require.NoError(t, h.sched.SetDirect(1, 60))
	require.NoError(t, h.sched.SetRampedRate(1, 60, 0))
	h.journal.Reset()

	h.tick(t)
	h.tick(t)
	assert.Equal(t, 0, h.journal.Len())
	assert.Equal(t, motion.Angle(60), h.angle(t, 1))
}

func TestRegistrationOrder(t *testing.T) {
	h := newHarness(t)
	ids := []motion.Channel{12, 3, 7}
	for _, id := range ids {
		require.NoError(t, h.sched.Register(id))
		require.NoError(t, h.sched.SetRampedRate(id, 90, 2))
	}
	h.journal.Reset()

	for i := 0; i < 3; i++ {
		h.tick(t)
	}

	writes := h.journal.Writes()
	require.Len(t, writes, 9)
	for i, w := range writes {
		assert.Equal(t, int(ids[i%3]), w.Channel, "write %d", i)
	}
}

func TestWriteFailureDoesNotStopPass(t *testing.T) {
	journal := &servo.Journal{}
	var failing *servo.Simulated
	factory := func() servo.Servo {
		s := &servo.Simulated{Journal: journal}
		if failing == nil {
			failing = s
		}
		return s
	}

	var buf bytes.Buffer
	sched := motion.New(factory, motion.WithLogger(logger.New(&buf, logger.DebugLevel)))
	require.NoError(t, sched.Register(1))
	require.NoError(t, sched.Register(2))
	require.NoError(t, sched.SetRampedRate(1, 90, 3))
	require.NoError(t, sched.SetRampedRate(2, 90, 3))

	failing.FailWrite = true
	journal.Reset()

	require.True(t, sched.Tick(15))
	assert.Equal(t, []servo.Write{{Channel: 2, Angle: 3}}, journal.Writes())
	assert.Contains(t, buf.String(), "actuator_write_failed")
	assert.Contains(t, buf.String(), "Failed to step servo")
}

func TestRateBoundAndBoundsInvariant(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	type bounds struct{ min, max motion.Angle }
	channels := map[motion.Channel]bounds{
		1: {0, 180},
		2: {10, 170},
		3: {45, 135},
		4: {90, 91},
	}

	h := newHarness(t)
	order := []motion.Channel{1, 2, 3, 4}
	for _, id := range order {
		b := channels[id]
		require.NoError(t, h.sched.Register(id, motion.WithBounds(b.min, b.max)))
	}

	for round := 0; round < 200; round++ {
		if round%10 == 0 {
			for _, id := range order {
				target := motion.Angle(rng.Intn(300) - 60)
				rate := motion.Rate(rng.Intn(12))
				require.NoError(t, h.sched.SetRampedRate(id, target, rate))
			}
		}

		before := h.sched.Snapshot()
		h.tick(t)
		after := h.sched.Snapshot()

		for i, st := range after {
			delta := st.Angle - before[i].Angle
			if delta < 0 {
				delta = -delta
			}
			assert.LessOrEqual(t, int(delta), int(st.Rate), "channel %d round %d", st.Channel, round)
			assert.GreaterOrEqual(t, st.Angle, st.MinPos, "channel %d round %d", st.Channel, round)
			assert.LessOrEqual(t, st.Angle, st.MaxPos, "channel %d round %d", st.Channel, round)
		}
	}
}

func TestDebugDiagnostics(t *testing.T) {
	var buf bytes.Buffer
	sched := motion.New(servo.NewSimulatedFactory(nil),
		motion.WithLogger(logger.New(&buf, logger.InfoLevel)))

	require.NoError(t, sched.Register(1))
	assert.Empty(t, buf.String(), "nothing is emitted while debug is off")

	sched.SetDebug(true)
	assert.True(t, sched.Debug())

	require.NoError(t, sched.Register(9))
	require.NoError(t, sched.SetRampedRate(9, 90, 5))
	require.NoError(t, sched.SetDirect(9, 42))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 4)

	decode := func(line string) map[string]any {
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		return m
	}

	registered := decode(lines[0])
	assert.Equal(t, "Initialised servo", registered["message"])
	assert.Equal(t, "info", registered["level"])
	assert.InDelta(t, 9, registered["channel"], 0)

	total := decode(lines[1])
	assert.InDelta(t, 2, total["count"], 0)

	ramped := decode(lines[2])
	assert.InDelta(t, 90, ramped["target"], 0)
	assert.InDelta(t, 5, ramped["rate"], 0)

	direct := decode(lines[3])
	assert.InDelta(t, 9, direct["channel"], 0)
	assert.InDelta(t, 42, direct["angle"], 0, "direct set logs the requested position")
}
