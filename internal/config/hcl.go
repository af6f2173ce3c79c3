package config

import (
	"github.com/hashicorp/hcl/v2/hclwrite"
	"github.com/zclconf/go-cty/cty"
)

// MarshalHCL renders the effective configuration as HCL. Blocks are always
// written so the output documents every setting in use.
func MarshalHCL(cfg *Config) []byte {
	f := hclwrite.NewEmptyFile()
	body := f.Body()

	body.SetAttributeValue("schema_version", cty.StringVal(cfg.SchemaVersion))
	body.SetAttributeValue("mode", cty.StringVal(cfg.Mode))
	body.SetAttributeValue("default_duration", cty.NumberIntVal(int64(cfg.DefaultDuration)))
	body.SetAttributeValue("max_duration", cty.NumberIntVal(int64(cfg.MaxDuration)))
	body.SetAttributeValue("state_dir", cty.StringVal(cfg.StateDir))
	if cfg.SocketPath != "" {
		body.SetAttributeValue("socket_path", cty.StringVal(cfg.SocketPath))
	}
	body.SetAttributeValue("log_level", cty.StringVal(cfg.LogLevel))
	if cfg.LogJSON {
		body.SetAttributeValue("log_json", cty.True)
	}

	if fw := cfg.Firewall; fw != nil {
		body.AppendNewline()
		b := body.AppendNewBlock("firewall", nil).Body()
		b.SetAttributeValue("backend", cty.StringVal(fw.Backend))
		b.SetAttributeValue("table", cty.StringVal(fw.Table))
		b.SetAttributeValue("chain", cty.StringVal(fw.Chain))
		b.SetAttributeValue("set", cty.StringVal(fw.Set))
		b.SetAttributeValue("lan_interface", cty.StringVal(fw.LANInterface))
		setOptionalString(b, "wan_interface", fw.WANInterface)
		setOptionalString(b, "iptables_path", fw.IPTablesPath)
	}

	if p := cfg.Presence; p != nil {
		body.AppendNewline()
		b := body.AppendNewBlock("presence", nil).Body()
		b.SetAttributeValue("source", cty.StringVal(p.Source))
		switch p.Source {
		case SourceGPIO:
			b.SetAttributeValue("gpio_pin", cty.NumberIntVal(int64(p.GPIOPin)))
			if p.ActiveLow {
				b.SetAttributeValue("active_low", cty.True)
			}
		case SourceStatic:
			b.SetAttributeValue("present", cty.BoolVal(p.Present))
		}
		setOptionalString(b, "path", p.Path)
		b.SetAttributeValue("poll_interval", cty.StringVal(p.PollInterval))
		if p.Watch {
			b.SetAttributeValue("watch", cty.True)
		}
	}

	if l := cfg.Leases; l != nil {
		body.AppendNewline()
		b := body.AppendNewBlock("leases", nil).Body()
		setOptionalString(b, "dnsmasq_file", l.DnsmasqFile)
		b.SetAttributeValue("neighbors", cty.BoolVal(l.Neighbors))
	}

	if m := cfg.Metrics; m != nil && m.Listen != "" {
		body.AppendNewline()
		b := body.AppendNewBlock("metrics", nil).Body()
		b.SetAttributeValue("listen", cty.StringVal(m.Listen))
	}

	if h := cfg.History; h != nil {
		body.AppendNewline()
		b := body.AppendNewBlock("history", nil).Body()
		b.SetAttributeValue("retention", cty.StringVal(h.Retention))
	}

	return hclwrite.Format(f.Bytes())
}

func setOptionalString(b *hclwrite.Body, name, v string) {
	if v != "" {
		b.SetAttributeValue(name, cty.StringVal(v))
	}
}
