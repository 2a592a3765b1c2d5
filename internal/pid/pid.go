// Package pid guards against two daemons sampling into the same database.
package pid

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"codeberg.org/mutker/petvitals/internal/errors"
)

// File is a PID file at a fixed path.
type File struct {
	path string
}

// New returns a PID file at path. An empty path means petvitals.pid in the
// system temp directory.
func New(path string) *File {
	if path == "" {
		path = filepath.Join(os.TempDir(), "petvitals.pid")
	}
	return &File{path: path}
}

func (f *File) Path() string { return f.path }

// Write records the current process ID. It fails with ErrAlreadyRunning when
// the file names a live process; a stale file is overwritten.
func (f *File) Write() error {
	errFactory := errors.New()

	if bytes, err := os.ReadFile(f.path); err == nil {
		if running(strings.TrimSpace(string(bytes))) {
			return errFactory.WithData(errors.ErrAlreadyRunning, f.path)
		}
	} else if !os.IsNotExist(err) {
		return errFactory.Wrap(errors.ErrInternal, err)
	}

	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return errFactory.Wrap(errors.ErrInternal, err)
	}

	if err := os.WriteFile(f.path, []byte(strconv.Itoa(os.Getpid())), 0o600); err != nil {
		return errFactory.Wrap(errors.ErrInternal, err)
	}

	return nil
}

// Remove deletes the PID file. A missing file is not an error.
func (f *File) Remove() error {
	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		return errors.New().Wrap(errors.ErrInternal, err)
	}
	return nil
}

func running(content string) bool {
	pid, err := strconv.Atoi(content)
	if err != nil || pid <= 0 {
		return false
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	return process.Signal(syscall.Signal(0)) == nil
}
