package firewall

import (
	"context"
	"fmt"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"grimm.is/warden/internal/blocker"
	"grimm.is/warden/internal/capture"
	"grimm.is/warden/internal/clock"
	"grimm.is/warden/internal/config"
	"grimm.is/warden/internal/events"
	"grimm.is/warden/internal/geo"
	"grimm.is/warden/internal/logging"
	"grimm.is/warden/internal/metrics"
	"grimm.is/warden/internal/scheduler"
	"grimm.is/warden/internal/state"
	"grimm.is/warden/internal/traffic"
)

// TrafficLogger receives one call per decision and one per blocklist change.
type TrafficLogger interface {
	LogAllowed(r traffic.Record)
	LogBlocked(r traffic.Record, reason string)
	LogLogged(r traffic.Record)
	LogBlocklistChange(addr netip.Addr, change string)
}

// Firewall composes the geo layer, the dynamic blocker and the rule engine
// into one decision per record, and owns the capture loop and the
// background tasks.
type Firewall struct {
	engine  *Engine
	blocker *blocker.Blocker
	geo     *geo.Blocker

	logger  *logging.Logger
	traffic TrafficLogger
	hub     *events.Hub
	store   state.Store
	source  capture.Source
	sched   *scheduler.Scheduler
	clock   clock.Clock
	tick    time.Duration

	// lifecycle serializes Start and Stop.
	lifecycle sync.Mutex

	mu        sync.Mutex
	running   bool
	cancel    context.CancelFunc
	done      chan struct{}
	startedAt time.Time
	lastErr   error
	intervals [2]time.Duration // cleanup, snapshot

	allowed atomic.Uint64
	blocked atomic.Uint64
	logged  atomic.Uint64
}

// Option configures a Firewall.
type Option func(*Firewall)

// WithSource sets the capture source used by Start.
func WithSource(src capture.Source) Option {
	return func(f *Firewall) { f.source = src }
}

// WithStore enables persistence of the blocklist and geo policy.
func WithStore(st state.Store) Option {
	return func(f *Firewall) { f.store = st }
}

// WithHub publishes decisions and policy changes to h.
func WithHub(h *events.Hub) Option {
	return func(f *Firewall) { f.hub = h }
}

// WithLogger sets the component logger.
func WithLogger(l *logging.Logger) Option {
	return func(f *Firewall) { f.logger = l }
}

// WithTrafficLog replaces the per-decision log sink.
func WithTrafficLog(t TrafficLogger) Option {
	return func(f *Firewall) { f.traffic = t }
}

// WithClock sets the time source for the blocker and the scheduler.
func WithClock(c clock.Clock) Option {
	return func(f *Firewall) { f.clock = clock.Or(c) }
}

// WithSchedulerTick sets how often background tasks are checked.
func WithSchedulerTick(d time.Duration) Option {
	return func(f *Firewall) { f.tick = d }
}

// New builds a stopped firewall from s. With a store, previously saved
// blocklist entries and the geo policy are restored.
func New(s Settings, opts ...Option) *Firewall {
	f := &Firewall{clock: clock.Real}
	for _, opt := range opts {
		opt(f)
	}
	if f.logger == nil {
		f.logger = logging.WithComponent("firewall")
	}
	if f.traffic == nil {
		f.traffic = logging.NewTrafficLog(nil)
	}

	f.engine = NewEngine(s.Rules, s.DefaultAction, f.logger.WithComponent("rules"))
	f.blocker = blocker.New(s.Blocklist, blocker.WithClock(f.clock))
	f.geo = geo.New(s.GeoEnabled, s.BlockedCountries)
	f.sched = scheduler.New(f.logger, scheduler.Options{Tick: f.tick, Clock: f.clock})

	f.restore()
	f.installTasks(s)
	scheduler.Must(f.sched.AddTask(scheduler.NewUptimeTask(f.clock.Now())))
	if v, ok := f.store.(interface{ Vacuum(context.Context) error }); ok {
		scheduler.Must(f.sched.AddTask(scheduler.NewVacuumTask(4, 0, v.Vacuum)))
	}
	metrics.Get().BlocklistSize.Set(float64(f.blocker.Len()))
	return f
}

// installTasks (re)registers the interval tasks when their interval changed.
func (f *Firewall) installTasks(s Settings) {
	f.mu.Lock()
	cleanupChanged := f.intervals[0] != s.CleanupInterval
	snapshotChanged := f.intervals[1] != s.SnapshotInterval
	f.intervals = [2]time.Duration{s.CleanupInterval, s.SnapshotInterval}
	f.mu.Unlock()

	if cleanupChanged {
		_ = f.sched.RemoveTask(scheduler.SweepTaskID)
		if s.CleanupInterval > 0 {
			scheduler.Must(f.sched.AddTask(scheduler.NewSweepTask(s.CleanupInterval, f.Sweep)))
		}
	}
	if snapshotChanged {
		_ = f.sched.RemoveTask(scheduler.SnapshotTaskID)
		if f.store != nil && s.SnapshotInterval > 0 {
			scheduler.Must(f.sched.AddTask(scheduler.NewSnapshotTask(s.SnapshotInterval, f.Snapshot)))
		}
	}
}

// Evaluate decides one record. Stages run in order and the first block
// short-circuits: geo check of the remote side, blocklist check of both
// endpoints, then the rule engine and the default action. A Block from the
// last stage counts one attempt against the source address.
func (f *Firewall) Evaluate(rec traffic.Record) Decision {
	if remote := rec.Remote(); remote.IsValid() && !f.blocker.IsWhitelisted(remote) {
		if blocked, tag := f.geo.ShouldBlock(remote); blocked {
			metrics.Get().RecordShortCircuit("geo", tag)
			f.dispatch(rec, Block, "geo:"+tag)
			return Block
		}
	}

	if f.blocker.IsBlocked(rec.Src) || f.blocker.IsBlocked(rec.Dst) {
		metrics.Get().RecordShortCircuit("blocklist", "")
		f.dispatch(rec, Block, "blocklist")
		return Block
	}

	action, reason := f.engine.Decide(rec)
	f.dispatch(rec, action, reason)
	if action == Block {
		f.recordAttempt(rec.Src)
	}
	return action
}

func (f *Firewall) dispatch(rec traffic.Record, d Decision, reason string) {
	var et events.EventType
	switch d {
	case Allow:
		f.allowed.Add(1)
		f.traffic.LogAllowed(rec)
		et = events.EventAllow
	case Block:
		f.blocked.Add(1)
		f.traffic.LogBlocked(rec, reason)
		et = events.EventBlock
	case Log:
		f.logged.Add(1)
		f.traffic.LogLogged(rec)
		et = events.EventLog
	}
	metrics.Get().RecordDecision(d.String(), rec.Direction.String(), rec.Size)

	if f.hub.HasSubscribers(et) {
		f.publish(et, events.DecisionData{
			Src:       traffic.Endpoint(rec.Src, rec.SrcPort),
			Dst:       traffic.Endpoint(rec.Dst, rec.DstPort),
			Protocol:  rec.Protocol.String(),
			Direction: rec.Direction.String(),
			Size:      rec.Size,
			Reason:    reason,
		})
	}
}

func (f *Firewall) recordAttempt(addr netip.Addr) {
	if !addr.IsValid() {
		return
	}
	e, escalated := f.blocker.RecordAttempt(addr)
	if !escalated {
		return
	}
	f.logger.Info("address auto-blocked", "ip", e.Addr, "duration", e.Duration)
	f.blocklistAdded(e, "threshold")
}

func (f *Firewall) blocklistAdded(e blocker.Entry, reason string) {
	f.traffic.LogBlocklistChange(e.Addr, "added")
	kind := "manual"
	if e.Auto {
		kind = "auto"
	}
	metrics.Get().RecordBlockEvent(kind, f.blocker.Len())
	f.publish(events.EventBlocklistAdded, blocklistData(e, reason))
}

func (f *Firewall) blocklistRemoved(e blocker.Entry, kind string) {
	f.traffic.LogBlocklistChange(e.Addr, "removed")
	metrics.Get().RecordBlockEvent(kind, f.blocker.Len())
	f.publish(events.EventBlocklistRemoved, blocklistData(e, kind))
}

func blocklistData(e blocker.Entry, reason string) events.BlocklistData {
	d := events.BlocklistData{IP: e.Addr.String(), Auto: e.Auto, Reason: reason}
	if !e.Permanent() {
		t := e.ExpiresAt()
		d.ExpiresAt = &t
	}
	return d
}

func (f *Firewall) publish(t events.EventType, data any) {
	f.hub.Publish(events.Event{Type: t, Source: "firewall", Data: data})
}

// Start opens the capture source and starts the capture loop and the
// background tasks.
func (f *Firewall) Start() error {
	f.lifecycle.Lock()
	defer f.lifecycle.Unlock()

	f.mu.Lock()
	running := f.running
	f.mu.Unlock()
	if running {
		return ErrAlreadyRunning
	}
	if f.source == nil {
		return ErrNoSource
	}
	if err := f.source.Open(); err != nil {
		return fmt.Errorf("open %s capture: %w", f.source.Name(), err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	f.mu.Lock()
	f.running = true
	f.cancel = cancel
	f.done = done
	f.startedAt = f.clock.Now()
	f.lastErr = nil
	f.mu.Unlock()

	f.sched.Start()
	go f.captureLoop(ctx, done)

	metrics.Get().CaptureRunning.Set(1)
	f.logger.Info("firewall started", "source", f.source.Name())
	f.publish(events.EventLifecycle, events.LifecycleData{Running: true, Source: f.source.Name()})
	return nil
}

// captureLoop feeds the source into Evaluate. When the source ends without
// Stop having been called, the firewall becomes not-running so a later
// Start succeeds.
func (f *Firewall) captureLoop(ctx context.Context, done chan struct{}) {
	err := f.source.Run(ctx, func(rec traffic.Record) { f.Evaluate(rec) })

	f.mu.Lock()
	ended := ctx.Err() == nil && f.running && f.done == done
	if ended {
		f.running = false
		f.cancel()
		f.cancel = nil
		f.lastErr = err
	}
	f.mu.Unlock()
	close(done)

	if !ended {
		return
	}
	if err != nil {
		f.logger.Error("capture loop failed", "source", f.source.Name(), "error", err)
	} else {
		f.logger.Warn("capture source closed", "source", f.source.Name())
	}

	f.lifecycle.Lock()
	defer f.lifecycle.Unlock()
	f.mu.Lock()
	restarted := f.running
	f.mu.Unlock()
	if restarted {
		return
	}
	f.sched.Stop()
	metrics.Get().CaptureRunning.Set(0)
	data := events.LifecycleData{Running: false, Source: f.source.Name()}
	if err != nil {
		data.Error = err.Error()
	}
	f.publish(events.EventLifecycle, data)
}

// Stop cancels the capture loop, waits for it and the background tasks to
// finish, and writes a final snapshot.
func (f *Firewall) Stop() error {
	f.lifecycle.Lock()
	defer f.lifecycle.Unlock()

	f.mu.Lock()
	if !f.running {
		f.mu.Unlock()
		return ErrNotRunning
	}
	f.running = false
	cancel, done := f.cancel, f.done
	f.cancel = nil
	f.mu.Unlock()

	cancel()
	<-done
	f.sched.Stop()
	metrics.Get().CaptureRunning.Set(0)

	if err := f.Snapshot(context.Background()); err != nil {
		f.logger.Warn("final snapshot failed", "error", err)
	}
	f.logger.Info("firewall stopped")
	f.publish(events.EventLifecycle, events.LifecycleData{Running: false, Source: f.source.Name()})
	return nil
}

// IsRunning reports whether the capture loop is active.
func (f *Firewall) IsRunning() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

// Wait blocks until the current capture loop ends or ctx is done.
func (f *Firewall) Wait(ctx context.Context) error {
	f.mu.Lock()
	done := f.done
	f.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Apply installs s: rules and default action, blocker settings, geo policy
// and task intervals. Each subsystem switches atomically on its own.
func (f *Firewall) Apply(s Settings) []*RuleError {
	defects := f.engine.Replace(s.Rules, s.DefaultAction)
	f.blocker.Configure(s.Blocklist)
	f.geo.Configure(s.GeoEnabled, s.BlockedCountries)
	f.installTasks(s)

	metrics.Get().BlocklistSize.Set(float64(f.blocker.Len()))
	f.publish(events.EventRulesReloaded, events.RulesData{
		Generation: f.engine.Generation(),
		Rules:      len(s.Rules),
		Defects:    len(defects),
	})
	f.publish(events.EventGeoChanged, f.geoData())
	f.persistGeo()
	return defects
}

// Reload converts cfg and applies it. On a conversion error nothing changes.
func (f *Firewall) Reload(cfg *config.Config) error {
	s, err := SettingsFromConfig(cfg)
	metrics.Get().RecordReload(err)
	if err != nil {
		f.logger.Error("reload rejected", "error", err)
		return err
	}
	defects := f.Apply(s)
	f.logger.Info("configuration reloaded", "rules", len(s.Rules), "defects", len(defects))
	return nil
}

// UpdateRules replaces the rule sequence and keeps the default action.
func (f *Firewall) UpdateRules(rules []Rule) []*RuleError {
	defects := f.engine.Update(rules)
	f.publish(events.EventRulesReloaded, events.RulesData{
		Generation: f.engine.Generation(),
		Rules:      len(rules),
		Defects:    len(defects),
	})
	return defects
}

// Rules returns the active rules in evaluation order.
func (f *Firewall) Rules() []Rule { return f.engine.Rules() }

// RuleDefects returns the defects of the active rule set.
func (f *Firewall) RuleDefects() []*RuleError { return f.engine.Defects() }

// AddToBlacklist blocks addr for d, or permanently when d is zero.
func (f *Firewall) AddToBlacklist(addr netip.Addr, d time.Duration) (blocker.Entry, error) {
	e, err := f.blocker.BlockIP(addr, d)
	if err != nil {
		return e, err
	}
	f.logger.Info("address blocked", "ip", e.Addr, "duration", d)
	f.blocklistAdded(e, "manual")
	f.persistEntry(e)
	return e, nil
}

// RemoveFromBlacklist unblocks addr.
func (f *Firewall) RemoveFromBlacklist(addr netip.Addr) error {
	e, _ := f.blocker.Lookup(addr)
	if err := f.blocker.UnblockIP(addr); err != nil {
		return err
	}
	f.logger.Info("address unblocked", "ip", e.Addr)
	f.blocklistRemoved(e, "unblock")
	f.deleteEntry(e.Addr)
	return nil
}

// Blocklist returns the current entries, including expired ones not yet swept.
func (f *Firewall) Blocklist() []blocker.Entry { return f.blocker.Entries() }

// IsBlocked reports whether addr is on the active blocklist.
func (f *Firewall) IsBlocked(addr netip.Addr) bool { return f.blocker.IsBlocked(addr) }

// Sweep removes expired blocklist entries and returns how many were removed.
func (f *Firewall) Sweep() int {
	removed := f.blocker.CleanupExpired()
	for _, e := range removed {
		f.blocklistRemoved(e, "expired")
		f.deleteEntry(e.Addr)
	}
	if len(removed) > 0 {
		f.logger.Debug("expired blocks removed", "count", len(removed))
	}
	return len(removed)
}

// BlockCountry adds code to the blocked set and reports whether it changed.
func (f *Firewall) BlockCountry(code string) bool {
	changed := f.geo.BlockCountry(code)
	if changed {
		f.logger.Info("country blocked", "code", geo.Normalize(code))
		f.geoChanged()
	}
	return changed
}

// UnblockCountry removes code from the blocked set and reports whether it changed.
func (f *Firewall) UnblockCountry(code string) bool {
	changed := f.geo.UnblockCountry(code)
	if changed {
		f.logger.Info("country unblocked", "code", geo.Normalize(code))
		f.geoChanged()
	}
	return changed
}

// EnableThreatProtection resets the blocked set to the baseline.
func (f *Firewall) EnableThreatProtection() {
	f.geo.EnableThreatProtection()
	f.logger.Info("threat protection enabled", "countries", geo.ThreatBaseline)
	f.geoChanged()
}

// SetGeoEnabled turns the geo layer on or off.
func (f *Firewall) SetGeoEnabled(enabled bool) {
	f.geo.SetEnabled(enabled)
	f.geoChanged()
}

// BlockedCountries returns the blocked tags.
func (f *Firewall) BlockedCountries() []string { return f.geo.Countries() }

// GeoEnabled reports whether the geo layer is active.
func (f *Firewall) GeoEnabled() bool { return f.geo.Enabled() }

func (f *Firewall) geoData() events.GeoData {
	return events.GeoData{Enabled: f.geo.Enabled(), Countries: f.geo.Countries()}
}

func (f *Firewall) geoChanged() {
	f.publish(events.EventGeoChanged, f.geoData())
	f.persistGeo()
}

// Counters is the number of decisions of each kind since construction.
type Counters struct {
	Allowed uint64 `json:"allowed"`
	Blocked uint64 `json:"blocked"`
	Logged  uint64 `json:"logged"`
}

// Status is a point-in-time summary.
type Status struct {
	Running          bool       `json:"running"`
	Source           string     `json:"source,omitempty"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	LastError        string     `json:"last_error,omitempty"`
	Decisions        Counters   `json:"decisions"`
	DefaultAction    Action     `json:"default_action"`
	Rules            int        `json:"rules"`
	RuleDefects      int        `json:"rule_defects"`
	RuleGeneration   uint64     `json:"rule_generation"`
	BlockedAddresses int        `json:"blocked_addresses"`
	GeoEnabled       bool       `json:"geo_enabled"`
	BlockedCountries []string   `json:"blocked_countries"`

	Tasks []scheduler.TaskStatus `json:"tasks,omitempty"`
}

// Status returns the current status.
func (f *Firewall) Status() Status {
	st := Status{
		Decisions: Counters{
			Allowed: f.allowed.Load(),
			Blocked: f.blocked.Load(),
			Logged:  f.logged.Load(),
		},
		DefaultAction:    f.engine.DefaultAction(),
		Rules:            len(f.engine.Rules()),
		RuleDefects:      len(f.engine.Defects()),
		RuleGeneration:   f.engine.Generation(),
		BlockedAddresses: f.blocker.Len(),
		GeoEnabled:       f.geo.Enabled(),
		BlockedCountries: f.geo.Countries(),
		Tasks:            f.sched.GetStatus(),
	}
	if f.source != nil {
		st.Source = f.source.Name()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	st.Running = f.running
	if f.running {
		t := f.startedAt
		st.StartedAt = &t
	}
	if f.lastErr != nil {
		st.LastError = f.lastErr.Error()
	}
	return st
}
