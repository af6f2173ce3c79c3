package firewall

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// ForwardingSysctl is the IPv4 forwarding switch.
const ForwardingSysctl = "/proc/sys/net/ipv4/ip_forward"

// SystemController abstracts sysctl reads.
type SystemController interface {
	ReadSysctl(path string) (string, error)
}

// RealSystemController reads /proc/sys.
type RealSystemController struct{}

// DefaultSystemController is the default system controller.
var DefaultSystemController SystemController = RealSystemController{}

// ReadSysctl returns the trimmed contents of a /proc/sys file.
func (RealSystemController) ReadSysctl(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// forwardingEnabled reports whether net.ipv4.ip_forward is 1.
func forwardingEnabled(sys SystemController) (bool, error) {
	v, err := sys.ReadSysctl(ForwardingSysctl)
	if err != nil {
		return false, fmt.Errorf("read %s: %w", ForwardingSysctl, err)
	}
	return v == "1", nil
}

// CommandRunner abstracts command execution.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) error
	Output(ctx context.Context, name string, args ...string) ([]byte, error)
}

// RealCommandRunner executes actual commands.
type RealCommandRunner struct{}

// DefaultCommandRunner is the default command runner.
var DefaultCommandRunner CommandRunner = RealCommandRunner{}

// Run executes a command, folding its combined output into the error.
// A non-zero exit is returned as an error wrapping *exec.ExitError.
func (RealCommandRunner) Run(ctx context.Context, name string, args ...string) error {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("command %s failed: %w: %s", name, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// Output executes a command and returns its stdout.
func (RealCommandRunner) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// isExitError reports whether err is a command that ran and exited non-zero,
// as opposed to one that could not be started.
func isExitError(err error) bool {
	var ee *exec.ExitError
	return errors.As(err, &ee)
}
