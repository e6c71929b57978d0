package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"codeberg.org/mutker/servoctl/internal/command"
	"codeberg.org/mutker/servoctl/internal/config"
	"codeberg.org/mutker/servoctl/internal/errors"
	"codeberg.org/mutker/servoctl/internal/logger"
	"codeberg.org/mutker/servoctl/internal/metrics"
	"codeberg.org/mutker/servoctl/internal/motion"
	"codeberg.org/mutker/servoctl/internal/pid"
	"codeberg.org/mutker/servoctl/internal/runner"
	"codeberg.org/mutker/servoctl/internal/servo"
	"github.com/spf13/afero"
)

var cfg *config.Config

func init() {
	var err error
	cfg, err = config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to parse log level: %v\n", err)
		os.Exit(1)
	}
	if cfg.Debug {
		level = logger.DebugLevel
	}

	logger.Init(level, logger.IsService())
	logger.Debug().Msg("Config loaded")
}

func main() {
	pidFile := pid.New("", pid.DefaultName)
	if err := pidFile.Acquire(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to acquire PID file")
	}

	ctx, cancel := context.WithCancel(context.Background())
	go handleSignals(cancel)

	err := run(ctx)
	cancel()

	if releaseErr := pidFile.Release(); releaseErr != nil {
		logger.Error().Err(releaseErr).Msg("Failed to remove PID file")
	}
	if err != nil {
		if appErr, ok := errors.Find(err); ok {
			logger.FatalWithCode(appErr).Msg("Exiting")
		}
		logger.Fatal().Err(err).Msg("Exiting")
	}
	logger.Info().Msg("Exiting...")
}

func run(ctx context.Context) error {
	errFactory := errors.New()
	log := logger.Default()

	sched := motion.New(
		newServoFactory(),
		motion.WithTickInterval(cfg.TickDuration()),
		motion.WithLogger(log),
		motion.WithDebug(cfg.Debug),
	)
	defer detachAll(sched)

	if err := registerChannels(sched); err != nil {
		return errFactory.Wrap(errors.ErrRegisterApp, err)
	}

	collector, err := metrics.NewService(cfg.MetricsConfig(), log)
	if err != nil {
		return errFactory.Wrap(errors.ErrInitMetrics, err)
	}
	defer func() {
		if err := collector.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close metrics")
		}
	}()

	lines := make(chan command.Line)
	go func() {
		if err := command.Scan(ctx, os.Stdin, lines); err != nil && ctx.Err() == nil {
			logger.Warn().Err(err).Msg("Command input closed")
		}
	}()

	r := runner.New(sched,
		runner.WithPollInterval(cfg.PollDuration()),
		runner.WithCollector(collector),
		runner.WithCommands(lines, os.Stdout),
		runner.WithLogger(log),
	)

	if err := r.Run(ctx); err != nil {
		return errFactory.Wrap(errors.ErrMainLoop, err)
	}

	return nil
}

func newServoFactory() servo.Factory {
	if config.Driver(cfg.Driver) == config.DriverSysfs {
		logger.Info().Str("chip", cfg.PWMChip).Msg("Using sysfs PWM driver")
		return servo.NewSysfsFactory(afero.NewOsFs(), cfg.Sysfs())
	}

	logger.Info().Msg("Using simulated servo driver")
	return servo.NewSimulatedFactory(nil)
}

func registerChannels(sched *motion.Scheduler) error {
	for _, ch := range cfg.Channels {
		id := motion.Channel(ch.ID)

		var opts []motion.RegisterOption
		if ch.Min != nil || ch.Max != nil {
			minPos, maxPos := motion.DefaultMinPos, motion.DefaultMaxPos
			if ch.Min != nil {
				minPos = motion.Angle(*ch.Min)
			}
			if ch.Max != nil {
				maxPos = motion.Angle(*ch.Max)
			}
			opts = append(opts, motion.WithBounds(minPos, maxPos))
		}

		if err := sched.Register(id, opts...); err != nil {
			return err
		}

		act, err := sched.Actuator(id)
		if err != nil {
			return err
		}
		if ch.Rate != nil {
			act.SetRate(motion.Rate(*ch.Rate))
		}
		if ch.Target != nil {
			if err := sched.SetRamped(id, motion.Angle(*ch.Target)); err != nil {
				return err
			}
		}
	}

	return nil
}

func detachAll(sched *motion.Scheduler) {
	for _, status := range sched.Snapshot() {
		if err := sched.Remove(status.Channel); err != nil {
			logger.Error().Err(err).Int("channel", int(status.Channel)).Msg("Failed to detach servo")
		}
	}
}

func handleSignals(cancel context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	logger.Info().Msg("Received termination signal.")
	cancel()
}
