package agent

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
)

// ErrAlreadyRunning is returned when the PID file points at a live
// process.
var ErrAlreadyRunning = errors.New("agent already running")

// AcquirePIDFile writes the current PID to path. If the file already
// exists and its PID is alive the call refuses with ErrAlreadyRunning;
// a stale file left by a crashed process is removed and replaced.
func AcquirePIDFile(path string) error {
	if data, err := os.ReadFile(path); err == nil {
		pid, convErr := strconv.Atoi(strings.TrimSpace(string(data)))
		if convErr == nil && pidAlive(pid) {
			return fmt.Errorf("%w: pid %d holds %s", ErrAlreadyRunning, pid, path)
		}
		os.Remove(path)
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

// ReleasePIDFile removes the PID file if this process still owns it.
func ReleasePIDFile(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	if pid, err := strconv.Atoi(strings.TrimSpace(string(data))); err == nil && pid == os.Getpid() {
		os.Remove(path)
	}
}

// pidAlive probes a PID with signal 0. EPERM still means the process
// exists, just under another user.
func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	return err == nil || errors.Is(err, syscall.EPERM)
}
