// Package shell runs external commands (gluster, ssh, mount) with a timeout
// and keeps their combined output for error reporting.
package shell

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-cmd/cmd"
	"github.com/sirupsen/logrus"
)

var (
	// DefaultTimeout bounds a command when the caller's context has no deadline
	DefaultTimeout = 2 * 60 * time.Second
)

// Runner executes a command and returns its trimmed stdout+stderr
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (string, error)
}

// ExitError is returned when a command exits with a non zero status
type ExitError struct {
	Command string
	Exit    int
	Output  string
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("Failed to run command: '%s'; exit=%d; out=%s", e.Command, e.Exit, e.Output)
}

// TimeoutError is returned when a command is stopped for taking too long
type TimeoutError struct {
	Command string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("Reached TIMEOUT (%s) on shell command '%s'", e.Timeout, e.Command)
}

// CmdRunner runs commands through go-cmd
type CmdRunner struct {
	Timeout time.Duration
}

// NewRunner returns a CmdRunner using timeout, or DefaultTimeout when timeout is zero
func NewRunner(timeout time.Duration) *CmdRunner {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &CmdRunner{Timeout: timeout}
}

// Run starts the command and waits for it, the context or the timeout, whichever comes first
func (r *CmdRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	command := strings.Join(append([]string{name}, args...), " ")
	logrus.Debugf(">>>>EXEC: %s", command)

	acmd := cmd.NewCmd(name, args...)
	statusChan := acmd.Start() // non-blocking

	timer := time.NewTimer(r.Timeout)
	defer timer.Stop()

	select {
	case <-statusChan:
	case <-timer.C:
		logrus.Warnf("Stopping command execution because it is taking too long (%s): %s", r.Timeout, command)
		acmd.Stop()
		return GetCmdOutput(acmd), &TimeoutError{Command: command, Timeout: r.Timeout}
	case <-ctx.Done():
		acmd.Stop()
		return GetCmdOutput(acmd), ctx.Err()
	}

	out := GetCmdOutput(acmd)
	status := acmd.Status()
	logrus.Debugf("shell output (%d): %s", status.Exit, out)
	if status.Error != nil {
		return out, fmt.Errorf("failed to start command '%s': %s", command, status.Error)
	}
	if status.Exit != 0 {
		return out, &ExitError{Command: command, Exit: status.Exit, Output: out}
	}
	return out, nil
}

// GetCmdOutput return content of executed command
func GetCmdOutput(c *cmd.Cmd) string {
	status := c.Status()
	out := strings.Join(status.Stdout, "\n")
	if len(status.Stderr) > 0 {
		if len(out) > 0 {
			out = out + "\n" + strings.Join(status.Stderr, "\n")
		} else {
			out = strings.Join(status.Stderr, "\n")
		}
	}
	return strings.Trim(out, " \n")
}

// OutputOf extracts the command output from an ExitError, or the error text otherwise
func OutputOf(err error) string {
	if exitErr, ok := err.(*ExitError); ok {
		return exitErr.Output
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
