package servo

import (
	"math"
	"time"
)

const (
	defaultPeriod   = 20 * time.Millisecond
	defaultMinPulse = 500 * time.Microsecond
	defaultMaxPulse = 2500 * time.Microsecond
	defaultMaxAngle = 180
)

// PulseConfig describes how angles map onto PWM pulse widths. MinPulse is
// emitted at 0 degrees and MaxPulse at MaxAngle.
type PulseConfig struct {
	Period   time.Duration
	MinPulse time.Duration
	MaxPulse time.Duration
	MaxAngle int
}

func DefaultPulseConfig() PulseConfig {
	return PulseConfig{
		Period:   defaultPeriod,
		MinPulse: defaultMinPulse,
		MaxPulse: defaultMaxPulse,
		MaxAngle: defaultMaxAngle,
	}
}

// PulseWidth returns the pulse width for angle. The angle is clamped to
// [0, MaxAngle] so an out-of-range command never drives the horn past its stops.
func PulseWidth(angle int, cfg PulseConfig) time.Duration {
	angle = clamp(angle, 0, cfg.MaxAngle)
	if cfg.MaxAngle == 0 {
		return cfg.MinPulse
	}

	scale := float64(cfg.MaxPulse-cfg.MinPulse) / float64(cfg.MaxAngle)
	width := float64(cfg.MinPulse) + float64(angle)*scale

	return time.Duration(math.Round(width))
}

// AngleForPulse is the inverse of PulseWidth, rounded to the nearest degree.
func AngleForPulse(width time.Duration, cfg PulseConfig) int {
	if cfg.MaxPulse == cfg.MinPulse {
		return 0
	}
	width = max(cfg.MinPulse, min(cfg.MaxPulse, width))

	scale := float64(cfg.MaxAngle) / float64(cfg.MaxPulse-cfg.MinPulse)

	return int(math.Round(float64(width-cfg.MinPulse) * scale))
}

// DutyCycle returns the fraction of the period the pulse is high.
func DutyCycle(angle int, cfg PulseConfig) float64 {
	return float64(PulseWidth(angle, cfg)) / float64(cfg.Period)
}

func clamp(value, minValue, maxValue int) int {
	if value < minValue {
		return minValue
	}
	if value > maxValue {
		return maxValue
	}

	return value
}
