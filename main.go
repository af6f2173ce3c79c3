package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"grimm.is/turnstile/cmd"
	"grimm.is/turnstile/internal/brand"
)

type command struct {
	run     func(args []string, out io.Writer) error
	summary string
}

var commands = map[string]command{
	"run":     {cmd.Run, "run the daemon (firewall sync, presence polling, control socket)"},
	"grant":   {cmd.Grant, "grant internet access: grant <mac> [minutes] | grant --ip <addr> [minutes]"},
	"revoke":  {cmd.Revoke, "end a device's access now: revoke <mac>"},
	"list":    {cmd.List, "show grants, policy, presence and LAN devices"},
	"history": {cmd.History, "show recent grants: history [--limit n]"},
	"check":   {cmd.Check, "check forwarding, NAT and default-deny: check [--local]"},
	"plan":    {cmd.Plan, "show what the next reconcile would change: plan [--diff]"},
	"config":  {cmd.Config, "config show | config validate"},
}

var order = []string{"run", "grant", "revoke", "list", "history", "check", "plan", "config"}

func main() {
	os.Exit(dispatch(os.Args[1:], os.Stdout, os.Stderr))
}

func dispatch(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		printUsage(stderr)
		return 2
	}

	switch args[0] {
	case "help", "-h", "--help":
		printUsage(stdout)
		return 0
	case "version", "--version":
		fmt.Fprintf(stdout, "%s version %s (%s)\n", brand.Name, brand.Version, brand.GitCommit)
		return 0
	}

	c, ok := commands[args[0]]
	if !ok {
		fmt.Fprintf(stderr, "unknown command %q\n\n", args[0])
		printUsage(stderr)
		return 2
	}

	if err := c.run(args[1:], stdout); err != nil {
		var usage *cmd.UsageError
		if errors.As(err, &usage) {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			fmt.Fprintf(stderr, "Run '%s help' for usage.\n", brand.BinaryName)
			return usage.ExitCode()
		}
		fmt.Fprintf(stderr, "%s %s failed: %v\n", brand.BinaryName, args[0], err)
		return 1
	}
	return 0
}

func printUsage(w io.Writer) {
	fmt.Fprintf(w, "%s - %s\n\n", brand.Name, brand.Description)
	fmt.Fprintf(w, "Usage: %s <command> [flags]\n\nCommands:\n", brand.BinaryName)
	for _, name := range order {
		fmt.Fprintf(w, "  %-8s %s\n", name, commands[name].summary)
	}
	fmt.Fprintf(w, "\nClient commands accept -c/--config and --socket and print one JSON object.\n")
}
