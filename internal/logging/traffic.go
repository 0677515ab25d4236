package logging

import (
	"context"
	"log/slog"
	"net/netip"

	"grimm.is/warden/internal/traffic"
)

// TrafficLog dispatches per-decision log lines. Allowed traffic logs at
// debug, logged-only traffic at info, blocked traffic at warn.
type TrafficLog struct {
	log *Logger
}

// NewTrafficLog returns a TrafficLog writing through l, or the default
// logger when l is nil.
func NewTrafficLog(l *Logger) *TrafficLog {
	if l == nil {
		l = Default()
	}
	return &TrafficLog{log: l.WithComponent("traffic")}
}

func recordAttrs(r traffic.Record) []any {
	return []any{
		"src", traffic.Endpoint(r.Src, r.SrcPort),
		"dst", traffic.Endpoint(r.Dst, r.DstPort),
		"proto", r.Protocol.String(),
		"dir", r.Direction.String(),
		"size", r.Size,
	}
}

// LogAllowed records an allowed packet.
func (t *TrafficLog) LogAllowed(r traffic.Record) {
	t.log.Debug("ALLOW", recordAttrs(r)...)
}

// LogBlocked records a blocked packet and the stage that blocked it.
func (t *TrafficLog) LogBlocked(r traffic.Record, reason string) {
	t.log.Warn("BLOCK", append(recordAttrs(r), "reason", reason)...)
}

// LogLogged records a packet matched by a log-only rule.
func (t *TrafficLog) LogLogged(r traffic.Record) {
	t.log.Info("LOG", recordAttrs(r)...)
}

// LogBlocklistChange records an address entering or leaving the blocklist.
func (t *TrafficLog) LogBlocklistChange(addr netip.Addr, change string) {
	t.log.LogAttrs(context.Background(), slog.LevelInfo, "blocklist "+change,
		slog.Bool("audit", true),
		slog.String("ip", addr.String()),
		slog.String("change", change),
	)
}
