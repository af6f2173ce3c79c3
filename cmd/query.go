package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/pflag"

	"grimm.is/turnstile/internal/access"
	"grimm.is/turnstile/internal/admission"
	"grimm.is/turnstile/internal/config"
	"grimm.is/turnstile/internal/ctlplane"
	"grimm.is/turnstile/internal/logging"
)

// List runs "turnstile list".
func List(args []string, out io.Writer) error {
	var conn connection
	fs := pflag.NewFlagSet("list", pflag.ContinueOnError)
	conn.AddFlags(fs)
	if ok, err := parse(fs, args); !ok {
		return err
	}
	if fs.NArg() > 0 {
		return usagef("list", "unexpected arguments %q", fs.Args())
	}

	client, err := conn.dial()
	if err != nil {
		return printJSON(out, unreachable(err))
	}
	defer client.Close()

	st, err := client.List()
	if err != nil {
		return printJSON(out, unreachable(err))
	}
	return printJSON(out, struct {
		Success bool `json:"success"`
		*admission.Status
	}{true, st})
}

// History runs "turnstile history [--limit n]".
func History(args []string, out io.Writer) error {
	var conn connection
	fs := pflag.NewFlagSet("history", pflag.ContinueOnError)
	conn.AddFlags(fs)
	limit := fs.IntP("limit", "n", 20, "maximum number of records (0 for all)")
	if ok, err := parse(fs, args); !ok {
		return err
	}
	if fs.NArg() > 0 {
		return usagef("history", "unexpected arguments %q", fs.Args())
	}
	if *limit < 0 {
		return usagef("history", "--limit must not be negative")
	}

	client, err := conn.dial()
	if err != nil {
		return printJSON(out, unreachable(err))
	}
	defer client.Close()

	recs, err := client.History(*limit)
	if err != nil {
		return printJSON(out, unreachable(err))
	}
	if recs == nil {
		recs = []access.HistoryRecord{}
	}
	return printJSON(out, struct {
		Success bool                   `json:"success"`
		Records []access.HistoryRecord `json:"records"`
	}{true, recs})
}

// Check runs "turnstile check [--local]". With --local the checks run in
// this process against the configured firewall backend, which works
// without the daemon.
func Check(args []string, out io.Writer) error {
	var conn connection
	fs := pflag.NewFlagSet("check", pflag.ContinueOnError)
	conn.AddFlags(fs)
	local := fs.Bool("local", false, "run the checks here instead of asking the daemon")
	if ok, err := parse(fs, args); !ok {
		return err
	}
	if fs.NArg() > 0 {
		return usagef("check", "unexpected arguments %q", fs.Args())
	}

	if *local {
		cfg, err := config.Load(conn.configFile)
		if err != nil {
			return printJSON(out, failure{Error: err.Error()})
		}
		ctx := context.Background()
		_, pre, err := buildFirewall(ctx, cfg, logging.Discard(), false)
		if err != nil {
			return printJSON(out, failure{Error: err.Error()})
		}
		return printCheck(out, &ctlplane.CheckReply{Report: pre.Report(ctx)})
	}

	client, err := conn.dial()
	if err != nil {
		return printJSON(out, unreachable(err))
	}
	defer client.Close()

	reply, err := client.Check()
	if err != nil {
		return printJSON(out, unreachable(err))
	}
	return printCheck(out, reply)
}

func printCheck(out io.Writer, reply *ctlplane.CheckReply) error {
	return printJSON(out, struct {
		Success bool `json:"success"`
		ctlplane.CheckReply
	}{reply.Report.Result == access.PreflightOK, *reply})
}

// Plan runs "turnstile plan [--diff]".
func Plan(args []string, out io.Writer) error {
	var conn connection
	fs := pflag.NewFlagSet("plan", pflag.ContinueOnError)
	conn.AddFlags(fs)
	diff := fs.Bool("diff", false, "print the unified diff instead of JSON")
	if ok, err := parse(fs, args); !ok {
		return err
	}
	if fs.NArg() > 0 {
		return usagef("plan", "unexpected arguments %q", fs.Args())
	}

	client, err := conn.dial()
	if err != nil {
		return printJSON(out, unreachable(err))
	}
	defer client.Close()

	reply, err := client.Plan()
	if err != nil {
		return printJSON(out, unreachable(err))
	}
	if *diff {
		_, err := fmt.Fprint(out, reply.Diff)
		return err
	}
	return printJSON(out, struct {
		Success bool `json:"success"`
		*ctlplane.PlanReply
	}{reply.Error == "", reply})
}
