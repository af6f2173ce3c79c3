// Package cmd implements the turnstile subcommands. main.go only
// dispatches on the first argument.
package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/pflag"

	"grimm.is/turnstile/internal/brand"
	"grimm.is/turnstile/internal/config"
	"grimm.is/turnstile/internal/ctlplane"
)

// UsageError reports a malformed invocation: a missing argument, an
// unknown flag or a value of the wrong type. It is the only error that
// makes a client subcommand exit non-zero.
type UsageError struct {
	Command string
	Err     error
}

func (e *UsageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Command, e.Err)
}

func (e *UsageError) Unwrap() error { return e.Err }

// ExitCode is the process exit status for a usage error.
func (e *UsageError) ExitCode() int { return 2 }

func usagef(command, format string, args ...any) error {
	return &UsageError{Command: command, Err: fmt.Errorf(format, args...)}
}

// parse parses args into fs, mapping flag errors to UsageError. It
// reports false when help was requested and printed.
func parse(fs *pflag.FlagSet, args []string) (bool, error) {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return false, nil
		}
		return false, &UsageError{Command: fs.Name(), Err: err}
	}
	return true, nil
}

// connection holds the flags every client subcommand shares.
type connection struct {
	configFile string
	socket     string
}

func (c *connection) AddFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&c.configFile, "config", "c", brand.DefaultConfigPath(), "configuration file (for the socket path)")
	fs.StringVar(&c.socket, "socket", "", "control socket path (overrides the configuration)")
}

// socketPath resolves the control socket. An unreadable configuration
// falls back to the default path; the daemon is the one that validates it.
func (c *connection) socketPath() string {
	if c.socket != "" {
		return c.socket
	}
	if cfg, err := config.Load(c.configFile); err == nil {
		return cfg.SocketPath
	}
	return brand.GetSocketPath()
}

func (c *connection) dial() (*ctlplane.Client, error) {
	return ctlplane.Dial(c.socketPath())
}

// failure is printed when the daemon cannot be reached or the call
// itself fails.
type failure struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Hint    string `json:"hint,omitempty"`
}

func unreachable(err error) failure {
	return failure{
		Error: err.Error(),
		Hint:  fmt.Sprintf("Is the daemon running? Start it with: %s run", brand.BinaryName),
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
