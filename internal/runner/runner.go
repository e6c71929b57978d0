// Package runner hosts the control loop that drives a motion.Scheduler. All
// scheduler access happens on the goroutine executing Run.
package runner

import (
	"context"
	"fmt"
	"io"
	"time"

	"codeberg.org/mutker/servoctl/internal/command"
	"codeberg.org/mutker/servoctl/internal/errors"
	"codeberg.org/mutker/servoctl/internal/logger"
	"codeberg.org/mutker/servoctl/internal/metrics"
	"codeberg.org/mutker/servoctl/internal/motion"
	"github.com/benbjohnson/clock"
)

const DefaultPollInterval = time.Millisecond

type Runner struct {
	sched     *motion.Scheduler
	clock     clock.Clock
	poll      time.Duration
	collector metrics.Collector
	commands  <-chan command.Line
	replies   io.Writer
	logger    logger.Logger
	start     time.Time
}

type Option func(*Runner)

func WithClock(c clock.Clock) Option {
	return func(r *Runner) {
		r.clock = c
	}
}

// WithPollInterval sets how often the loop offers the scheduler a tick. The
// scheduler's own gate decides whether the tick fires.
func WithPollInterval(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.poll = d
		}
	}
}

func WithCollector(c metrics.Collector) Option {
	return func(r *Runner) {
		r.collector = c
	}
}

// WithCommands feeds operator commands into the loop. Replies go to w.
func WithCommands(in <-chan command.Line, w io.Writer) Option {
	return func(r *Runner) {
		r.commands = in
		r.replies = w
	}
}

func WithLogger(log logger.Logger) Option {
	return func(r *Runner) {
		r.logger = log
	}
}

func New(sched *motion.Scheduler, opts ...Option) *Runner {
	r := &Runner{
		sched:   sched,
		clock:   clock.New(),
		poll:    DefaultPollInterval,
		replies: io.Discard,
		logger:  logger.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.start = r.clock.Now()

	return r
}

// Run polls the scheduler until ctx is done.
func (r *Runner) Run(ctx context.Context) error {
	ticker := r.clock.Ticker(r.poll)
	defer ticker.Stop()

	commands := r.commands

	r.logger.Info().
		Int("actuators", r.sched.Len()).
		Dur("tick_interval", r.sched.Interval()).
		Dur("poll_interval", r.poll).
		Msg("Control loop started")

	for {
		select {
		case <-ctx.Done():
			r.logger.Info().Msg("Control loop stopped")
			return nil
		case line, ok := <-commands:
			if !ok {
				commands = nil
				continue
			}
			r.handle(line)
		case <-ticker.C:
			r.Step(ctx)
		}
	}
}

// Now returns the milliseconds elapsed since the runner was created, the
// timestamp handed to the scheduler.
func (r *Runner) Now() int64 {
	return r.clock.Since(r.start).Milliseconds()
}

// Step offers the scheduler one tick and records a snapshot if it fired.
func (r *Runner) Step(ctx context.Context) bool {
	now := r.Now()
	if !r.sched.Tick(now) {
		return false
	}

	if r.collector != nil {
		if err := r.collector.Record(ctx, r.snapshot(now)); err != nil {
			if appErr, ok := errors.Find(err); ok {
				r.logger.ErrorWithCode(appErr).Msg("Failed to record motion snapshot")
			} else {
				r.logger.Error().Err(err).Msg("Failed to record motion snapshot")
			}
		}
	}

	return true
}

func (r *Runner) snapshot(now int64) *metrics.Snapshot {
	statuses := r.sched.Snapshot()
	samples := make([]metrics.Sample, len(statuses))
	for i, st := range statuses {
		samples[i] = metrics.Sample{
			Channel: int(st.Channel),
			Angle:   int(st.Angle),
			Target:  int(st.Target),
			Rate:    int(st.Rate),
			Settled: st.Settled,
		}
	}

	return &metrics.Snapshot{
		Timestamp: r.clock.Now(),
		TickMs:    now,
		Samples:   samples,
	}
}

func (r *Runner) handle(line command.Line) {
	if line.Err != nil {
		r.logger.Warn().Err(line.Err).Msg("Rejected command")
		fmt.Fprintf(r.replies, "error: %v\n", line.Err)
		return
	}

	reply, err := command.Execute(r.sched, line.Command)
	if err != nil {
		r.logger.Warn().Err(err).Str("command", string(line.Command.Kind)).Msg("Command failed")
		fmt.Fprintf(r.replies, "error: %v\n", err)
		return
	}

	r.logger.Debug().Str("command", string(line.Command.Kind)).Msg("Command applied")
	fmt.Fprintln(r.replies, reply)
}
