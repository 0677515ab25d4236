// Package metrics exposes firewall counters and gauges to Prometheus.
package metrics

import (
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once     sync.Once
	registry *Registry
)

// Registry holds all firewall metrics.
type Registry struct {
	// Decisions
	PacketsTotal  *prometheus.CounterVec
	BytesTotal    *prometheus.CounterVec
	RuleMatches   *prometheus.CounterVec
	ShortCircuits *prometheus.CounterVec

	// Blocklist
	BlocklistSize prometheus.Gauge
	BlockEvents   *prometheus.CounterVec

	// Rules
	RuleSetSize  prometheus.Gauge
	RuleDefects  prometheus.Gauge
	ConfigReload *prometheus.CounterVec

	// Capture
	CaptureRunning prometheus.Gauge
	CaptureDropped *prometheus.CounterVec

	// System
	Uptime        prometheus.Gauge
	TaskRuns      *prometheus.CounterVec
	APIRequests   *prometheus.CounterVec
	APILatency    *prometheus.HistogramVec
	EventsDropped prometheus.Counter
}

// Get returns the global metrics registry, creating it if necessary.
func Get() *Registry {
	once.Do(func() {
		registry = newRegistry()
	})
	return registry
}

func newRegistry() *Registry {
	r := &Registry{}

	r.PacketsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "warden_packets_total",
		Help: "Packets evaluated, by decision",
	}, []string{"decision", "direction"})

	r.BytesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "warden_bytes_total",
		Help: "Bytes evaluated, by decision",
	}, []string{"decision", "direction"})

	r.RuleMatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "warden_rule_matches_total",
		Help: "Number of times each rule matched",
	}, []string{"rule", "action"})

	r.ShortCircuits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "warden_short_circuit_total",
		Help: "Packets blocked before rule evaluation, by stage and tag",
	}, []string{"stage", "tag"})

	r.BlocklistSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "warden_blocklist_entries",
		Help: "Current number of blocklist entries",
	})

	r.BlockEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "warden_blocklist_events_total",
		Help: "Blocklist changes by kind (auto, manual, unblock, expired)",
	}, []string{"kind"})

	r.RuleSetSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "warden_rules",
		Help: "Number of rules in the active rule set",
	})

	r.RuleDefects = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "warden_rule_defects",
		Help: "Rules in the active set with unparseable specifiers",
	})

	r.ConfigReload = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "warden_config_reloads_total",
		Help: "Configuration reloads by result",
	}, []string{"result"})

	r.CaptureRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "warden_capture_running",
		Help: "1 while the capture loop is running",
	})

	r.CaptureDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "warden_capture_dropped_total",
		Help: "Frames dropped before evaluation, by reason",
	}, []string{"reason"})

	r.Uptime = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "warden_uptime_seconds",
		Help: "Seconds since the daemon started",
	})

	r.TaskRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "warden_task_runs_total",
		Help: "Scheduled task executions by result",
	}, []string{"task", "result"})

	r.APIRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "warden_api_requests_total",
		Help: "Management API requests",
	}, []string{"method", "path", "status"})

	r.APILatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "warden_api_request_duration_seconds",
		Help:    "Management API latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	r.EventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "warden_events_dropped_total",
		Help: "Events dropped because a subscriber was too slow",
	})

	return r
}

// RecordDecision counts one evaluated packet.
func (r *Registry) RecordDecision(decision, direction string, size int) {
	r.PacketsTotal.WithLabelValues(decision, direction).Inc()
	r.BytesTotal.WithLabelValues(decision, direction).Add(float64(size))
}

// RecordRuleMatch records a rule match.
func (r *Registry) RecordRuleMatch(rule, action string) {
	r.RuleMatches.WithLabelValues(rule, action).Inc()
}

// RecordShortCircuit records a geo or blocklist verdict.
func (r *Registry) RecordShortCircuit(stage, tag string) {
	r.ShortCircuits.WithLabelValues(stage, tag).Inc()
}

// RecordBlockEvent records a blocklist change and the resulting size.
func (r *Registry) RecordBlockEvent(kind string, size int) {
	r.BlockEvents.WithLabelValues(kind).Inc()
	r.BlocklistSize.Set(float64(size))
}

// SetRuleSet records the size and defect count of a newly installed rule set.
func (r *Registry) SetRuleSet(rules, defects int) {
	r.RuleSetSize.Set(float64(rules))
	r.RuleDefects.Set(float64(defects))
}

// RecordReload records a configuration reload.
func (r *Registry) RecordReload(err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	r.ConfigReload.WithLabelValues(result).Inc()
}

// RecordTaskRun records a scheduled task execution.
func (r *Registry) RecordTaskRun(task string, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	r.TaskRuns.WithLabelValues(task, result).Inc()
}

// RecordAPIRequest records an API request.
func (r *Registry) RecordAPIRequest(method, path string, status int, seconds float64) {
	r.APIRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	r.APILatency.WithLabelValues(method, path).Observe(seconds)
}
