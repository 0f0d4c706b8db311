package process

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultConfigPath is the default vcontrold configuration file location.
const DefaultConfigPath = "/config/vcontrold.xml"

// readinessTimeout and readinessProbePeriod are vars, not consts, so tests
// can shrink the probe window without waiting out the real 30s budget.
var (
	readinessTimeout     = 30 * time.Second
	readinessProbePeriod = 1 * time.Second
)

// StartFailedError reports that the vcontrold process could not be spawned.
type StartFailedError struct {
	Err error
}

func (e *StartFailedError) Error() string { return fmt.Sprintf("vcontrold failed to start: %v", e.Err) }
func (e *StartFailedError) Unwrap() error { return e.Err }

// WaitFailedError reports that waiting on the vcontrold process failed.
type WaitFailedError struct {
	Err error
}

func (e *WaitFailedError) Error() string {
	return fmt.Sprintf("failed waiting for vcontrold process: %v", e.Err)
}
func (e *WaitFailedError) Unwrap() error { return e.Err }

// UnexpectedExitError reports that vcontrold exited on its own. ExitCode is
// -1 when the process was terminated by a signal and no exit code is
// available.
type UnexpectedExitError struct {
	ExitCode int
}

func (e *UnexpectedExitError) Error() string {
	return fmt.Sprintf("vcontrold exited unexpectedly with code %d", e.ExitCode)
}

// ReadinessTimeoutError reports that vcontrold never became ready within the
// probe window.
type ReadinessTimeoutError struct {
	Seconds int
}

func (e *ReadinessTimeoutError) Error() string {
	return fmt.Sprintf("readiness probe failed after %d seconds", e.Seconds)
}

// ConfigNotFoundError reports that the configured vcontrold config file is
// missing.
type ConfigNotFoundError struct {
	Path string
}

func (e *ConfigNotFoundError) Error() string {
	return fmt.Sprintf("config file not found: %s", e.Path)
}

// Process manages the vcontrold child process: spawning it, probing
// readiness, and observing its exit.
type Process struct {
	cmd *exec.Cmd
	log *logrus.Entry
}

// Spawn launches vcontrold as `vcontrold -n -x <configPath>`, appending
// --verbose --debug when debugMode is set. configPath defaults to
// DefaultConfigPath when empty. Stdout/stderr are inherited; stdin is
// closed. Fails with ConfigNotFoundError before spawning if the config file
// does not exist.
func Spawn(configPath string, debugMode bool) (*Process, error) {
	if configPath == "" {
		configPath = DefaultConfigPath
	}

	if _, err := os.Stat(configPath); err != nil {
		return nil, &ConfigNotFoundError{Path: configPath}
	}

	args := []string{"-n", "-x", configPath}
	if debugMode {
		args = append(args, "--verbose", "--debug")
	}

	cmd := exec.Command("vcontrold", args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Stdin = nil

	log := logrus.WithField("component", "process")
	log.WithFields(logrus.Fields{
		"config": configPath,
		"debug":  debugMode,
	}).Info("starting vcontrold")

	if err := cmd.Start(); err != nil {
		return nil, &StartFailedError{Err: err}
	}
	log.WithField("pid", cmd.Process.Pid).Info("vcontrold started")

	return &Process{cmd: cmd, log: log}, nil
}

// WaitReady polls the readiness probe at 1s intervals for up to 30s
// wall-clock.
func (p *Process) WaitReady(probe func() bool) error {
	start := time.Now()
	p.log.Info("waiting for vcontrold to be ready...")

	for time.Since(start) < readinessTimeout {
		if probe() {
			p.log.WithField("elapsed_seconds", int(time.Since(start).Seconds())).
				Info("vcontrold is ready")
			return nil
		}
		time.Sleep(readinessProbePeriod)
	}

	return &ReadinessTimeoutError{Seconds: int(readinessTimeout.Seconds())}
}

// IsRunning reports whether the child process is still alive, without
// blocking. It signals the process with signal 0, which the OS delivers to
// no one but still validates that the PID exists and is ours to signal; it
// never reaps the process, so it is safe to call concurrently with Wait.
func (p *Process) IsRunning() bool {
	if p.cmd == nil || p.cmd.Process == nil {
		return false
	}
	return p.cmd.Process.Signal(syscall.Signal(0)) == nil
}

// Wait blocks until the child exits and returns its exit code. code is -1
// when the process exited due to a signal and no numeric code is available.
func (p *Process) Wait() (code int, err error) {
	err = p.cmd.Wait()
	if err == nil {
		return p.cmd.ProcessState.ExitCode(), nil
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return exitErr.ExitCode(), nil
	}
	return -1, &WaitFailedError{Err: err}
}

// Kill signals the child and waits. Idempotent; logs but does not fail on
// errors.
func (p *Process) Kill() {
	if p.cmd.Process == nil {
		return
	}
	if err := p.cmd.Process.Kill(); err != nil {
		p.log.WithError(err).Warn("failed to kill vcontrold")
		return
	}
	_, _ = p.cmd.Process.Wait()
}

// Monitor blocks on Wait and converts the outcome into an error (an
// UnexpectedExitError, or the WaitFailedError from Wait): this is the
// canonical "daemon died" signal to the supervisor root.
func Monitor(p *Process) error {
	code, err := p.Wait()
	if err != nil {
		p.log.WithError(err).Error("error waiting for vcontrold")
		return err
	}
	p.log.WithField("exit_code", code).Error("vcontrold exited")
	return &UnexpectedExitError{ExitCode: code}
}
