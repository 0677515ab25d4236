package cmd

import (
	"context"
	"flag"
	"fmt"
	"maps"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"grimm.is/warden/internal/api"
	"grimm.is/warden/internal/firewall"
	"grimm.is/warden/internal/geo"
)

const requestTimeout = 15 * time.Second

// parseArgs parses flags that may appear before, between or after the
// positional arguments, and returns the positionals.
func parseArgs(fs *flag.FlagSet, args []string) ([]string, error) {
	var positional []string
	for {
		if err := fs.Parse(args); err != nil {
			return nil, err
		}
		args = fs.Args()
		if len(args) == 0 {
			return positional, nil
		}
		positional = append(positional, args[0])
		args = args[1:]
	}
}

func requestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), requestTimeout)
}

// RunStatus prints the daemon status.
func RunStatus(args []string) error {
	var rf remoteFlags
	fs := newFlagSet("status")
	rf.register(fs)
	if _, err := parseArgs(fs, args); err != nil {
		return err
	}

	ctx, cancel := requestContext()
	defer cancel()
	st, err := rf.client().Status(ctx)
	if err != nil {
		return err
	}
	printStatus(st)
	return nil
}

func printStatus(st *firewall.Status) {
	state := "STOPPED"
	if st.Running {
		state = "RUNNING"
	}
	Printer.Fprintf(Stdout, "Status:    %s\n", state)
	if st.Source != "" {
		Printer.Fprintf(Stdout, "Source:    %s\n", st.Source)
	}
	if st.StartedAt != nil {
		Printer.Fprintf(Stdout, "Uptime:    %s\n", time.Since(*st.StartedAt).Truncate(time.Second))
	}
	if st.LastError != "" {
		Printer.Fprintf(Stdout, "Error:     %s\n", st.LastError)
	}
	Printer.Fprintf(Stdout, "Rules:     %d (%d defective, generation %d), default %s\n",
		st.Rules, st.RuleDefects, st.RuleGeneration, st.DefaultAction)
	Printer.Fprintf(Stdout, "Decisions: %d allowed, %d blocked, %d logged\n",
		st.Decisions.Allowed, st.Decisions.Blocked, st.Decisions.Logged)
	Printer.Fprintf(Stdout, "Blocklist: %d address(es)\n", st.BlockedAddresses)
	geoState := "off"
	if st.GeoEnabled {
		geoState = "on"
	}
	Printer.Fprintf(Stdout, "Geo:       %s [%s]\n", geoState, strings.Join(st.BlockedCountries, ", "))

	if len(st.Tasks) > 0 {
		Printer.Fprintln(Stdout)
		w := tabwriter.NewWriter(Stdout, 0, 0, 3, ' ', 0)
		Printer.Fprintln(w, "TASK\tRUNS\tLAST RUN\tNEXT RUN\tLAST ERROR")
		for _, t := range st.Tasks {
			Printer.Fprintf(w, "%s\t%d\t%s\t%s\t%s\n", t.ID, t.RunCount,
				fmtTime(t.LastRun), fmtTime(t.NextRun), dash(t.LastError))
		}
		w.Flush()
	}
}

func fmtTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(time.DateTime)
}

// RunBlock blocks an address. Without --duration the block is permanent.
func RunBlock(args []string) error {
	var rf remoteFlags
	fs := newFlagSet("block")
	rf.register(fs)
	duration := fs.String("duration", "", "Block duration, e.g. 30m or 24h (default permanent)")
	pos, err := parseArgs(fs, args)
	if err != nil {
		return err
	}
	if len(pos) != 1 {
		return fmt.Errorf("%w: block <ip> [--duration d]", ErrUsage)
	}

	ctx, cancel := requestContext()
	defer cancel()
	e, err := rf.client().Block(ctx, pos[0], *duration)
	if err != nil {
		return err
	}
	if e.Permanent {
		Printer.Fprintf(Stdout, "Blocked %s permanently\n", e.IP)
	} else {
		Printer.Fprintf(Stdout, "Blocked %s until %s\n", e.IP, e.ExpiresAt.Local().Format(time.DateTime))
	}
	return nil
}

// RunUnblock removes an address from the blocklist.
func RunUnblock(args []string) error {
	var rf remoteFlags
	fs := newFlagSet("unblock")
	rf.register(fs)
	pos, err := parseArgs(fs, args)
	if err != nil {
		return err
	}
	if len(pos) != 1 {
		return fmt.Errorf("%w: unblock <ip>", ErrUsage)
	}

	ctx, cancel := requestContext()
	defer cancel()
	if err := rf.client().Unblock(ctx, pos[0]); err != nil {
		return err
	}
	Printer.Fprintf(Stdout, "Unblocked %s\n", pos[0])
	return nil
}

// RunBlocklist lists blocked addresses.
func RunBlocklist(args []string) error {
	var rf remoteFlags
	fs := newFlagSet("blocklist")
	rf.register(fs)
	if _, err := parseArgs(fs, args); err != nil {
		return err
	}

	ctx, cancel := requestContext()
	defer cancel()
	entries, err := rf.client().Blocklist(ctx)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(Stdout, 0, 0, 3, ' ', 0)
	Printer.Fprintln(w, "IP\tSINCE\tEXPIRES\tSOURCE")
	for _, e := range entries {
		expires := "never"
		if e.ExpiresAt != nil {
			expires = fmtTime(*e.ExpiresAt)
		}
		src := "manual"
		if e.Auto {
			src = "auto"
		}
		Printer.Fprintf(w, "%s\t%s\t%s\t%s\n", e.IP, fmtTime(e.Start), expires, src)
	}
	return w.Flush()
}

// RunCountry handles "country block|unblock <code>", "country list" and
// "country enable|disable".
func RunCountry(args []string) error {
	var rf remoteFlags
	fs := newFlagSet("country")
	rf.register(fs)
	pos, err := parseArgs(fs, args)
	if err != nil {
		return err
	}
	if len(pos) == 0 {
		return fmt.Errorf("%w: country block|unblock <code> | list | enable | disable", ErrUsage)
	}

	ctx, cancel := requestContext()
	defer cancel()
	c := rf.client()

	var g *api.GeoResponse
	switch {
	case pos[0] == "block" && len(pos) == 2:
		g, err = c.BlockCountry(ctx, pos[1])
	case pos[0] == "unblock" && len(pos) == 2:
		g, err = c.UnblockCountry(ctx, pos[1])
	case pos[0] == "list" && len(pos) == 1:
		g, err = c.Geo(ctx)
	case pos[0] == "enable" && len(pos) == 1:
		g, err = c.SetGeoEnabled(ctx, true)
	case pos[0] == "disable" && len(pos) == 1:
		g, err = c.SetGeoEnabled(ctx, false)
	default:
		return fmt.Errorf("%w: country block|unblock <code> | list | enable | disable", ErrUsage)
	}
	if err != nil {
		return err
	}
	printGeo(g)
	return nil
}

func printGeo(g *api.GeoResponse) {
	state := "disabled"
	if g.Enabled {
		state = "enabled"
	}
	if g.Changed != nil && !*g.Changed {
		Printer.Fprintln(Stdout, "No change.")
	}
	Printer.Fprintf(Stdout, "Geo blocking %s, blocked: [%s]\n", state, strings.Join(g.Countries, ", "))
	for _, cc := range g.Countries {
		Printer.Fprintf(Stdout, "  %-8s %s\n", cc, geo.Label(cc))
	}
}

// RunThreatProtection resets the blocked countries to the threat baseline.
func RunThreatProtection(args []string) error {
	var rf remoteFlags
	fs := newFlagSet("threat-protection")
	rf.register(fs)
	if _, err := parseArgs(fs, args); err != nil {
		return err
	}

	ctx, cancel := requestContext()
	defer cancel()
	g, err := rf.client().EnableThreatProtection(ctx)
	if err != nil {
		return err
	}
	printGeo(g)
	return nil
}

// RunReload asks the daemon to re-read its configuration file.
func RunReload(args []string) error {
	var rf remoteFlags
	fs := newFlagSet("reload")
	rf.register(fs)
	if _, err := parseArgs(fs, args); err != nil {
		return err
	}

	ctx, cancel := requestContext()
	defer cancel()
	rr, err := rf.client().Reload(ctx)
	if err != nil {
		return err
	}
	Printer.Fprintf(Stdout, "Reloaded: %d rule(s), generation %d, default %s\n",
		len(rr.Rules), rr.Generation, rr.DefaultAction)
	for _, d := range rr.Defects {
		Printer.Fprintf(Stdout, "  never matches: rule %q: invalid %s %q\n", d.Rule, d.Field, d.Value)
	}
	return nil
}

// RunCapture starts or stops packet capture on the daemon.
func RunCapture(start bool, args []string) error {
	var rf remoteFlags
	name := "stop"
	if start {
		name = "start"
	}
	fs := newFlagSet(name)
	rf.register(fs)
	if _, err := parseArgs(fs, args); err != nil {
		return err
	}

	ctx, cancel := requestContext()
	defer cancel()
	c := rf.client()
	var st *firewall.Status
	var err error
	if start {
		st, err = c.Start(ctx)
	} else {
		st, err = c.Stop(ctx)
	}
	if err != nil {
		return err
	}
	printStatus(st)
	return nil
}

// RunLogs prints recent daemon log lines.
func RunLogs(args []string) error {
	var rf remoteFlags
	fs := newFlagSet("logs")
	rf.register(fs)
	limit := fs.Int("n", 50, "Number of lines")
	component := fs.String("component", "", "Only lines from this component (firewall, traffic, api, capture)")
	if _, err := parseArgs(fs, args); err != nil {
		return err
	}

	ctx, cancel := requestContext()
	defer cancel()
	entries, err := rf.client().Logs(ctx, *limit, *component)
	if err != nil {
		return err
	}
	for _, e := range entries {
		Printer.Fprintf(Stdout, "%s [%s] %s: %s", e.Timestamp.Local().Format(time.DateTime), e.Level, dash(e.Component), e.Message)
		for _, k := range slices.Sorted(maps.Keys(e.Fields)) {
			Printer.Fprintf(Stdout, " %s=%s", k, e.Fields[k])
		}
		Printer.Fprintln(Stdout)
	}
	return nil
}
