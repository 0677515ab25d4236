package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"grimm.is/warden/internal/events"
)

// RunWatch streams daemon events until interrupted. --types takes a comma
// separated list such as blocklist.added,decision.block. --json prints raw
// events, one per line.
func RunWatch(args []string) error {
	var rf remoteFlags
	fs := newFlagSet("watch")
	rf.register(fs)
	types := fs.String("types", "", "Comma separated event types (default all)")
	asJSON := fs.Bool("json", false, "Print events as JSON lines")
	if _, err := parseArgs(fs, args); err != nil {
		return err
	}

	var list []string
	for _, t := range strings.Split(*types, ",") {
		if t = strings.TrimSpace(t); t != "" {
			list = append(list, t)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	enc := json.NewEncoder(Stdout)
	return rf.client().Watch(ctx, list, func(e events.Event, raw json.RawMessage) {
		if *asJSON {
			enc.Encode(e)
			return
		}
		Printer.Fprintf(Stdout, "%s %-18s %s\n", e.Timestamp.Local().Format(time.TimeOnly), e.Type, describe(e.Type, raw))
	})
}

// describe renders an event payload on one line.
func describe(t events.EventType, raw json.RawMessage) string {
	switch t {
	case events.EventAllow, events.EventBlock, events.EventLog:
		var d events.DecisionData
		if json.Unmarshal(raw, &d) == nil {
			s := fmt.Sprintf("%s %s -> %s (%s, %d bytes)", d.Protocol, d.Src, d.Dst, d.Direction, d.Size)
			if d.Reason != "" {
				s += " " + d.Reason
			}
			return s
		}
	case events.EventBlocklistAdded, events.EventBlocklistRemoved:
		var d events.BlocklistData
		if json.Unmarshal(raw, &d) == nil {
			s := d.IP
			if d.Reason != "" {
				s += " " + d.Reason
			}
			if d.ExpiresAt != nil {
				s += " until " + d.ExpiresAt.Local().Format(time.DateTime)
			}
			return s
		}
	case events.EventGeoChanged:
		var d events.GeoData
		if json.Unmarshal(raw, &d) == nil {
			return fmt.Sprintf("enabled=%t countries=[%s]", d.Enabled, strings.Join(d.Countries, ", "))
		}
	case events.EventRulesReloaded:
		var d events.RulesData
		if json.Unmarshal(raw, &d) == nil {
			return fmt.Sprintf("generation=%d rules=%d defects=%d", d.Generation, d.Rules, d.Defects)
		}
	case events.EventLifecycle:
		var d events.LifecycleData
		if json.Unmarshal(raw, &d) == nil {
			s := fmt.Sprintf("running=%t source=%s", d.Running, d.Source)
			if d.Error != "" {
				s += " error=" + d.Error
			}
			return s
		}
	}
	return string(raw)
}
