package pid

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"codeberg.org/mutker/servoctl/internal/errors"
)

const DefaultName = "servoctl.pid"

// File guards against two controllers driving the same PWM outputs.
type File struct {
	path string
}

// New returns a PID file named name in dir. An empty dir means the system
// temporary directory.
func New(dir, name string) *File {
	if dir == "" {
		dir = os.TempDir()
	}
	if name == "" {
		name = DefaultName
	}

	return &File{path: filepath.Join(dir, name)}
}

func (f *File) Path() string {
	return f.path
}

// Acquire writes the current process ID. It fails with ErrAlreadyRunning if
// the recorded process is still alive. A stale or unreadable file is replaced.
func (f *File) Acquire() error {
	errFactory := errors.New()

	if running, err := f.running(); err != nil {
		return err
	} else if running {
		return errFactory.WithData(errors.ErrAlreadyRunning, f.path)
	}

	if err := os.WriteFile(f.path, []byte(strconv.Itoa(os.Getpid())), 0o600); err != nil {
		return errFactory.Wrap(errors.ErrInternal, err)
	}

	return nil
}

func (f *File) running() (bool, error) {
	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, errors.New().Wrap(errors.ErrInternal, err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return false, nil
	}
	if pid == os.Getpid() {
		return false, nil
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return false, nil
	}

	return process.Signal(syscall.Signal(0)) == nil, nil
}

// Release removes the PID file. A missing file is not an error.
func (f *File) Release() error {
	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		return errors.New().Wrap(errors.ErrInternal, err)
	}

	return nil
}
