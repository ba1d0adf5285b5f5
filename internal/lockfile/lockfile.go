// Package lockfile guards the state directory against concurrent
// atrevete instances. Slot reservations are held in process memory, so
// two processes sharing the same archive database would hand out
// overlapping appointments.
package lockfile

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// LockFileName is the name of the lock file created inside the state
// directory.
const LockFileName = "atrevete.lock"

// Lock represents a held state-directory lock.
type Lock struct {
	file *os.File
	path string
}

// LockError is returned when the state directory is already locked by
// another process.
type LockError struct {
	Path   string
	PID    int
	Reason string
}

func (e *LockError) Error() string {
	if e.PID > 0 {
		return fmt.Sprintf("state directory %s is locked by another atrevete instance (pid %d); stop that instance, or remove %s if the process is gone", filepath.Dir(e.Path), e.PID, e.Path)
	}
	return fmt.Sprintf("cannot lock state directory %s: %s", filepath.Dir(e.Path), e.Reason)
}

// Acquire takes an exclusive lock on the given state directory. It
// creates the directory if needed, opens the lock file, and applies a
// non-blocking flock. On contention it reports the PID of the holder
// when that can be read from the lock file.
func Acquire(stateDir string) (*Lock, error) {
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory %s: %w", stateDir, err)
	}

	path := filepath.Join(stateDir, LockFileName)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file %s: %w", path, err)
	}

	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		pid := readHolderPID(file)
		file.Close()
		if pid > 0 && !processRunning(pid) {
			slog.Warn("lockfile.Acquire lock held by dead process", "path", path, "pid", pid)
		}
		return nil, &LockError{Path: path, PID: pid, Reason: err.Error()}
	}

	if err := file.Truncate(0); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to truncate lock file %s: %w", path, err)
	}
	if _, err := file.WriteAt([]byte(fmt.Sprintf("pid=%d\n", os.Getpid())), 0); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to write lock file %s: %w", path, err)
	}

	slog.Debug("lockfile.Acquire lock acquired", "path", path, "pid", os.Getpid())
	return &Lock{file: file, path: path}, nil
}

// Release drops the lock and removes the lock file. Safe to call on a
// nil lock.
func (l *Lock) Release() {
	if l == nil || l.file == nil {
		return
	}
	if err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN); err != nil {
		slog.Warn("lockfile.Release failed to unlock", "path", l.path, "error", err)
	}
	l.file.Close()
	l.file = nil
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		slog.Warn("lockfile.Release failed to remove lock file", "path", l.path, "error", err)
	}
}

// readHolderPID reads the pid= line written by the holding process.
// Returns 0 when the file is empty or malformed.
func readHolderPID(file *os.File) int {
	buf := make([]byte, 64)
	n, err := file.ReadAt(buf, 0)
	if n == 0 && err != nil {
		return 0
	}
	content := strings.TrimSpace(string(buf[:n]))
	value, ok := strings.CutPrefix(content, "pid=")
	if !ok {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || pid <= 0 {
		return 0
	}
	return pid
}

// processRunning reports whether a process with the given pid exists.
func processRunning(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
