package servo

import (
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"codeberg.org/mutker/servoctl/internal/errors"
	"github.com/spf13/afero"
)

const (
	DefaultChipPath = "/sys/class/pwm/pwmchip0"

	sysfsFilePerm       = 0o644
	defaultExportSettle = 50 * time.Millisecond
)

// SysfsConfig locates the PWM chip and describes the servos attached to it.
// ExportSettle is how long Attach waits after exporting a channel before
// touching its attributes.
type SysfsConfig struct {
	ChipPath     string
	Pulse        PulseConfig
	ExportSettle time.Duration
}

func DefaultSysfsConfig() SysfsConfig {
	return SysfsConfig{
		ChipPath:     DefaultChipPath,
		Pulse:        DefaultPulseConfig(),
		ExportSettle: defaultExportSettle,
	}
}

// SysfsPWM drives a hobby servo through the Linux PWM sysfs interface.
// The channel passed to Attach is the PWM channel number on the chip.
type SysfsPWM struct {
	fs       afero.Fs
	chipPath string
	pulse    PulseConfig
	settle   time.Duration

	channel  int
	angle    int
	attached bool
}

// NewSysfsFactory returns a Factory creating SysfsPWM servos on cfg.ChipPath.
func NewSysfsFactory(fs afero.Fs, cfg SysfsConfig) Factory {
	return func() Servo {
		return NewSysfsPWM(fs, cfg)
	}
}

func NewSysfsPWM(fs afero.Fs, cfg SysfsConfig) *SysfsPWM {
	return &SysfsPWM{
		fs:       fs,
		chipPath: cfg.ChipPath,
		pulse:    cfg.Pulse,
		settle:   cfg.ExportSettle,
	}
}

func (p *SysfsPWM) channelPath() string {
	return filepath.Join(p.chipPath, fmt.Sprintf("pwm%d", p.channel))
}

func (p *SysfsPWM) Attach(channel int) error {
	errFactory := errors.New()
	p.channel = channel

	exists, err := afero.DirExists(p.fs, p.channelPath())
	if err != nil {
		return errFactory.Wrap(ErrAttachFailed, err)
	}

	if !exists {
		if err := p.writeFile(filepath.Join(p.chipPath, "export"), strconv.Itoa(channel)); err != nil {
			return errFactory.WithData(ErrAttachFailed, struct {
				Phase   string
				Channel int
				Error   string
			}{
				Phase:   "export",
				Channel: channel,
				Error:   err.Error(),
			})
		}
		// udev needs a moment to fix permissions on the new pwmN directory
		time.Sleep(p.settle)
	}

	if err := p.writeAttr("period", p.pulse.Period.Nanoseconds()); err != nil {
		p.rollbackExport(!exists)
		return errFactory.WithData(ErrAttachFailed, struct {
			Phase   string
			Channel int
			Error   string
		}{
			Phase:   "period",
			Channel: channel,
			Error:   err.Error(),
		})
	}

	if err := p.writeFile(filepath.Join(p.channelPath(), "enable"), "1"); err != nil {
		p.rollbackExport(!exists)
		return errFactory.WithData(ErrAttachFailed, struct {
			Phase   string
			Channel int
			Error   string
		}{
			Phase:   "enable",
			Channel: channel,
			Error:   err.Error(),
		})
	}

	p.attached = true

	return nil
}

func (p *SysfsPWM) Write(angle int) error {
	errFactory := errors.New()
	if !p.attached {
		return errFactory.New(ErrNotAttached)
	}

	width := PulseWidth(angle, p.pulse)
	if err := p.writeAttr("duty_cycle", width.Nanoseconds()); err != nil {
		return errFactory.Wrap(ErrWriteFailed, err)
	}
	p.angle = angle

	return nil
}

func (p *SysfsPWM) Read() int {
	return p.angle
}

func (p *SysfsPWM) Detach() error {
	errFactory := errors.New()
	if !p.attached {
		return nil
	}

	if err := p.writeFile(filepath.Join(p.channelPath(), "enable"), "0"); err != nil {
		return errFactory.Wrap(ErrDetachFailed, err)
	}
	if err := p.writeFile(filepath.Join(p.chipPath, "unexport"), strconv.Itoa(p.channel)); err != nil {
		return errFactory.Wrap(ErrDetachFailed, err)
	}
	p.attached = false

	return nil
}

// rollbackExport releases a channel exported by a failed Attach. A channel
// that was already exported belongs to someone else and is left alone.
func (p *SysfsPWM) rollbackExport(exported bool) {
	if !exported {
		return
	}
	// best effort, the attach error is what gets reported
	_ = p.writeFile(filepath.Join(p.chipPath, "unexport"), strconv.Itoa(p.channel))
}

func (p *SysfsPWM) writeAttr(name string, value int64) error {
	return p.writeFile(filepath.Join(p.channelPath(), name), strconv.FormatInt(value, 10))
}

func (p *SysfsPWM) writeFile(path, value string) error {
	return afero.WriteFile(p.fs, path, []byte(value), sysfsFilePerm)
}
