// Package command parses and executes the operator line protocol:
//
//	ramp <channel> <target> [rate]
//	set <channel> <angle>
//	get <channel>
//	target <channel>
//	remove <channel>
//	debug on|off
//	list
package command

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"codeberg.org/mutker/servoctl/internal/errors"
	"codeberg.org/mutker/servoctl/internal/motion"
	"github.com/spf13/cast"
)

type Kind string

const (
	KindRamp   Kind = "ramp"
	KindSet    Kind = "set"
	KindGet    Kind = "get"
	KindTarget Kind = "target"
	KindRemove Kind = "remove"
	KindDebug  Kind = "debug"
	KindList   Kind = "list"
)

type Command struct {
	Kind    Kind
	Channel motion.Channel
	Angle   motion.Angle
	Rate    motion.Rate
	HasRate bool
	Enabled bool
}

// arity is the accepted argument count range per command kind.
var arity = map[Kind][2]int{
	KindRamp:   {2, 3},
	KindSet:    {2, 2},
	KindGet:    {1, 1},
	KindTarget: {1, 1},
	KindRemove: {1, 1},
	KindDebug:  {1, 1},
	KindList:   {0, 0},
}

// Parse turns one line of input into a Command.
func Parse(line string) (Command, error) {
	errFactory := errors.New()

	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Command{}, errFactory.WithData(ErrInvalidCommand, "empty command")
	}

	kind := Kind(strings.ToLower(fields[0]))
	bounds, ok := arity[kind]
	if !ok {
		return Command{}, errFactory.WithData(ErrUnknownCommand, fields[0])
	}

	args := fields[1:]
	if len(args) < bounds[0] || len(args) > bounds[1] {
		return Command{}, errFactory.WithData(ErrInvalidCommand,
			fmt.Sprintf("%s takes %d to %d arguments, got %d", kind, bounds[0], bounds[1], len(args)))
	}

	cmd := Command{Kind: kind}

	if kind == KindDebug {
		enabled, err := parseSwitch(args[0])
		if err != nil {
			return Command{}, err
		}
		cmd.Enabled = enabled
		return cmd, nil
	}

	ints := make([]int, len(args))
	for i, arg := range args {
		v, err := parseInt(arg)
		if err != nil {
			return Command{}, err
		}
		ints[i] = v
	}

	if len(ints) > 0 {
		cmd.Channel = motion.Channel(ints[0])
	}
	if len(ints) > 1 {
		cmd.Angle = motion.Angle(ints[1])
	}
	if len(ints) > 2 {
		if ints[2] < 0 {
			return Command{}, errFactory.WithData(ErrInvalidCommand, "rate must not be negative")
		}
		cmd.Rate = motion.Rate(ints[2])
		cmd.HasRate = true
	}

	return cmd, nil
}

// parseInt accepts base-10 literals only. Leading zeros are dropped before
// conversion since cast reads "010" as octal and "0x20" as hex.
func parseInt(arg string) (int, error) {
	errFactory := errors.New()

	digits := strings.TrimLeft(arg, "+-")
	sign := arg[:len(arg)-len(digits)]
	if len(sign) > 1 || digits == "" || strings.Trim(digits, "0123456789") != "" {
		return 0, errFactory.WithData(ErrInvalidCommand, fmt.Sprintf("%q is not a decimal integer", arg))
	}

	digits = strings.TrimLeft(digits, "0")
	if digits == "" {
		digits = "0"
	}

	v, err := cast.ToIntE(sign + digits)
	if err != nil {
		return 0, errFactory.Wrap(ErrInvalidCommand, err)
	}

	return v, nil
}

func parseSwitch(arg string) (bool, error) {
	switch strings.ToLower(arg) {
	case "on", "true", "1":
		return true, nil
	case "off", "false", "0":
		return false, nil
	}

	v, err := cast.ToBoolE(arg)
	if err != nil {
		return false, errors.New().Wrap(ErrInvalidCommand, err)
	}

	return v, nil
}

// Execute applies cmd to the scheduler and returns a one-line reply.
func Execute(sched *motion.Scheduler, cmd Command) (string, error) {
	switch cmd.Kind {
	case KindRamp:
		var err error
		if cmd.HasRate {
			err = sched.SetRampedRate(cmd.Channel, cmd.Angle, cmd.Rate)
		} else {
			err = sched.SetRamped(cmd.Channel, cmd.Angle)
		}
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("ok %d -> %d", cmd.Channel, cmd.Angle), nil

	case KindSet:
		if err := sched.SetDirect(cmd.Channel, cmd.Angle); err != nil {
			return "", err
		}
		return fmt.Sprintf("ok %d = %d", cmd.Channel, cmd.Angle), nil

	case KindGet:
		angle, err := sched.GetAngle(cmd.Channel)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%d", angle), nil

	case KindTarget:
		target, err := sched.GetTarget(cmd.Channel)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%d", target), nil

	case KindRemove:
		if err := sched.Remove(cmd.Channel); err != nil {
			return "", err
		}
		return fmt.Sprintf("ok removed %d", cmd.Channel), nil

	case KindDebug:
		sched.SetDebug(cmd.Enabled)
		return fmt.Sprintf("ok debug %t", cmd.Enabled), nil

	case KindList:
		var b strings.Builder
		for i, st := range sched.Snapshot() {
			if i > 0 {
				b.WriteString("\n")
			}
			fmt.Fprintf(&b, "%d angle=%d target=%d rate=%d bounds=[%d,%d] settled=%t",
				st.Channel, st.Angle, st.Target, st.Rate, st.MinPos, st.MaxPos, st.Settled)
		}
		return b.String(), nil
	}

	return "", errors.New().WithData(ErrUnknownCommand, string(cmd.Kind))
}

// Line is one raw input line or a parse failure for it.
type Line struct {
	Command Command
	Err     error
}

// Scan reads commands from r, one per line, and sends them on out until r is
// exhausted or ctx is done. Blank lines and lines starting with # are skipped.
// out is closed on return.
func Scan(ctx context.Context, r io.Reader, out chan<- Line) error {
	defer close(out)

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}

		cmd, err := Parse(text)
		select {
		case out <- Line{Command: cmd, Err: err}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return scanner.Err()
}
