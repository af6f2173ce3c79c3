package cmd

import (
	"io"
	"strconv"

	"github.com/spf13/pflag"
)

// Grant runs "turnstile grant <mac> [minutes]" or
// "turnstile grant --ip <addr> [minutes]".
func Grant(args []string, out io.Writer) error {
	var conn connection
	var ip string

	fs := pflag.NewFlagSet("grant", pflag.ContinueOnError)
	conn.AddFlags(fs)
	fs.StringVar(&ip, "ip", "", "grant the device currently holding this IP address")
	if ok, err := parse(fs, args); !ok {
		return err
	}

	pos := fs.Args()
	var mac string
	if ip == "" {
		if len(pos) == 0 {
			return usagef("grant", "missing MAC address (or --ip)")
		}
		mac, pos = pos[0], pos[1:]
	}
	if len(pos) > 1 {
		return usagef("grant", "unexpected arguments %q", pos[1:])
	}

	minutes := 0
	if len(pos) == 1 {
		n, err := strconv.Atoi(pos[0])
		if err != nil {
			return usagef("grant", "minutes must be an integer, got %q", pos[0])
		}
		minutes = n
	}

	client, err := conn.dial()
	if err != nil {
		return printJSON(out, unreachable(err))
	}
	defer client.Close()

	if ip != "" {
		res, err := client.GrantIP(ip, minutes)
		if err != nil {
			return printJSON(out, unreachable(err))
		}
		return printJSON(out, res)
	}
	res, err := client.Grant(mac, minutes)
	if err != nil {
		return printJSON(out, unreachable(err))
	}
	return printJSON(out, res)
}

// Revoke runs "turnstile revoke <mac>".
func Revoke(args []string, out io.Writer) error {
	var conn connection
	fs := pflag.NewFlagSet("revoke", pflag.ContinueOnError)
	conn.AddFlags(fs)
	if ok, err := parse(fs, args); !ok {
		return err
	}
	switch fs.NArg() {
	case 0:
		return usagef("revoke", "missing MAC address")
	case 1:
	default:
		return usagef("revoke", "unexpected arguments %q", fs.Args()[1:])
	}

	client, err := conn.dial()
	if err != nil {
		return printJSON(out, unreachable(err))
	}
	defer client.Close()

	res, err := client.Revoke(fs.Arg(0))
	if err != nil {
		return printJSON(out, unreachable(err))
	}
	return printJSON(out, res)
}
