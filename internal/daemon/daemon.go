// Package daemon manages the background process lifecycle: pid file
// bookkeeping, detached respawn and signal delivery to a running
// instance.
package daemon

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
)

const (
	childEnvVar = "XSTALKER_DAEMON_CHILD"

	stopWait     = 10 * time.Second
	stopPollStep = 100 * time.Millisecond
)

type Daemon struct {
	pidFile string
}

func New(pidFile string) *Daemon {
	return &Daemon{pidFile: pidFile}
}

// IsChild reports whether this process was spawned by Spawn.
func IsChild() bool {
	return os.Getenv(childEnvVar) == "1"
}

// Spawn re-executes the current binary detached from the terminal, in
// its own session, with the given arguments. Returns the child pid.
func Spawn(args []string) (int, error) {
	exe, err := os.Executable()
	if err != nil {
		return 0, errors.Wrap(err, "cannot locate executable")
	}

	devNull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return 0, errors.Wrap(err, "cannot open /dev/null")
	}
	defer devNull.Close()

	attr := &os.ProcAttr{
		Dir:   "/",
		Env:   append(os.Environ(), childEnvVar+"=1"),
		Files: []*os.File{devNull, devNull, devNull},
		Sys:   &syscall.SysProcAttr{Setsid: true},
	}

	proc, err := os.StartProcess(exe, append([]string{exe}, args...), attr)
	if err != nil {
		return 0, errors.Wrap(err, "failed to start background process")
	}

	pid := proc.Pid
	if err := proc.Release(); err != nil {
		return pid, errors.Wrap(err, "failed to detach from background process")
	}
	return pid, nil
}

func (d *Daemon) WritePID() error {
	pid := os.Getpid()
	return os.WriteFile(d.pidFile, []byte(strconv.Itoa(pid)), 0644)
}

// ReadPID returns the recorded pid, or 0 when no pid file exists.
func (d *Daemon) ReadPID() (int, error) {
	data, err := os.ReadFile(d.pidFile)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, errors.Wrap(err, "failed to read pid file")
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, errors.Wrapf(err, "invalid pid in %s", d.pidFile)
	}
	return pid, nil
}

func (d *Daemon) RemovePID() error {
	if err := os.Remove(d.pidFile); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "failed to remove pid file")
	}
	return nil
}

// IsRunning probes the recorded pid with signal 0. A stale pid file is
// removed on the way.
func (d *Daemon) IsRunning() (bool, int, error) {
	pid, err := d.ReadPID()
	if err != nil {
		return false, 0, err
	}
	if pid == 0 {
		return false, 0, nil
	}

	if !processAlive(pid) {
		_ = d.RemovePID()
		return false, 0, nil
	}
	return true, pid, nil
}

// Stop sends SIGTERM to the running instance and waits for it to exit,
// giving it time to flush and checkpoint. The instance removes its own
// pid file on the way out.
func (d *Daemon) Stop() error {
	running, pid, err := d.IsRunning()
	if err != nil {
		return err
	}
	if !running {
		return errors.New("daemon is not running")
	}

	if err := d.signal(pid, syscall.SIGTERM); err != nil {
		return err
	}

	deadline := time.Now().Add(stopWait)
	for time.Now().Before(deadline) {
		if !processAlive(pid) {
			_ = d.RemovePID()
			return nil
		}
		time.Sleep(stopPollStep)
	}
	return fmt.Errorf("daemon (pid %d) did not exit within %s", pid, stopWait)
}

// Reload sends SIGHUP to the running instance, asking it to re-read
// its classification rules.
func (d *Daemon) Reload() error {
	running, pid, err := d.IsRunning()
	if err != nil {
		return err
	}
	if !running {
		return errors.New("daemon is not running")
	}
	return d.signal(pid, syscall.SIGHUP)
}

func (d *Daemon) signal(pid int, sig syscall.Signal) error {
	process, err := os.FindProcess(pid)
	if err != nil {
		return errors.Wrapf(err, "failed to find process %d", pid)
	}
	if err := process.Signal(sig); err != nil {
		return errors.Wrapf(err, "failed to signal process %d", pid)
	}
	return nil
}

func processAlive(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
