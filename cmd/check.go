package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"

	"grimm.is/warden/internal/config"
	"grimm.is/warden/internal/firewall"
	"grimm.is/warden/internal/logging"
)

// RunCheck validates the configuration file and prints the effective rule
// set. It fails on validation errors; warnings and rule defects are printed
// but do not fail.
func RunCheck(configFile string, verbose bool) error {
	if configFile == "" {
		return fmt.Errorf("%w: check needs a config file", ErrUsage)
	}

	cfg, err := config.LoadFile(configFile)
	if err != nil {
		return fmt.Errorf("configuration invalid: %w", err)
	}

	errs := cfg.Validate()
	for _, e := range errs {
		Printer.Fprintf(Stdout, "%s: %s: %s\n", e.Severity, e.Field, e.Message)
	}
	if errs.HasErrors() {
		return fmt.Errorf("configuration invalid: %d problem(s)", len(errs)-len(errs.Warnings()))
	}

	settings, err := firewall.SettingsFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("configuration invalid: %w", err)
	}
	eng := firewall.NewEngine(settings.Rules, settings.DefaultAction, logging.New(logging.Config{Output: io.Discard}))

	Printer.Fprintf(Stdout, "Configuration valid!\n")
	Printer.Fprintf(Stdout, "Schema Version: %s\n", cfg.SchemaVersion)
	Printer.Fprintf(Stdout, "Rules: %d (%d defective)\n", len(settings.Rules), len(eng.Defects()))
	Printer.Fprintf(Stdout, "Default Action: %s\n", settings.DefaultAction)
	for _, d := range eng.Defects() {
		Printer.Fprintf(Stdout, "  never matches: %v\n", d)
	}

	if verbose {
		Printer.Fprintln(Stdout)
		printRules(settings)
	}
	return nil
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func printRules(s firewall.Settings) {
	w := tabwriter.NewWriter(Stdout, 0, 0, 3, ' ', 0)
	Printer.Fprintln(w, "#\tNAME\tACTION\tDIRECTION\tPROTO\tSRC\tDST\tSPORT\tDPORT\tENABLED")
	for i, r := range s.Rules {
		Printer.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%t\n",
			i+1, r.Name, r.Action, r.Direction, r.Protocol,
			dash(r.Src), dash(r.Dst), r.SrcPort, r.DstPort, r.Enabled)
	}
	w.Flush()

	Printer.Fprintf(Stdout, "\nBlocklist: enabled=%t threshold=%d duration=%s whitelist=%v\n",
		s.Blocklist.Enabled, s.Blocklist.Threshold, s.Blocklist.BlockDuration, s.Blocklist.Whitelist)
	Printer.Fprintf(Stdout, "Geo: enabled=%t countries=%v\n", s.GeoEnabled, s.BlockedCountries)
}
