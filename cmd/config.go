package cmd

import (
	"io"

	"github.com/spf13/pflag"

	"grimm.is/turnstile/internal/brand"
	"grimm.is/turnstile/internal/config"
)

// Config runs "turnstile config show|validate [-c file]". show prints
// the effective configuration (defaults, dotenv and environment applied)
// as HCL.
func Config(args []string, out io.Writer) error {
	fs := pflag.NewFlagSet("config", pflag.ContinueOnError)
	configFile := fs.StringP("config", "c", brand.DefaultConfigPath(), "configuration file")
	if ok, err := parse(fs, args); !ok {
		return err
	}
	if fs.NArg() != 1 {
		return usagef("config", "expected one of: show, validate")
	}

	action := fs.Arg(0)
	if action != "show" && action != "validate" {
		return usagef("config", "unknown action %q (expected show or validate)", action)
	}

	res, err := config.LoadWithResult(*configFile)
	if err != nil {
		return printJSON(out, failure{Error: err.Error()})
	}

	if action == "show" {
		_, err := out.Write(config.MarshalHCL(res.Config))
		return err
	}

	errs := res.Config.Validate()
	problems := make([]string, 0, len(errs))
	for _, e := range errs {
		problems = append(problems, e.Error())
	}
	return printJSON(out, struct {
		Success   bool     `json:"success"`
		Path      string   `json:"path,omitempty"`
		EnvFile   string   `json:"env_file,omitempty"`
		Overrides []string `json:"overrides,omitempty"`
		Errors    []string `json:"errors,omitempty"`
	}{!errs.HasErrors(), res.Path, res.EnvFile, res.Overrides, problems})
}
