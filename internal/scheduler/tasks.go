package scheduler

import (
	"context"
	"time"

	"grimm.is/warden/internal/metrics"
)

// IDs of the built-in tasks.
const (
	SweepTaskID    = "blocklist-sweep"
	SnapshotTaskID = "state-snapshot"
	VacuumTaskID   = "state-vacuum"
	UptimeTaskID   = "uptime"
)

// Must panics if registering a built-in task failed.
func Must(err error) {
	if err != nil {
		panic("scheduler: " + err.Error())
	}
}

// NewSweepTask removes expired blocklist entries every interval.
func NewSweepTask(interval time.Duration, sweep func() int) *Task {
	return &Task{
		ID:       SweepTaskID,
		Name:     "Blocklist expiry sweep",
		Schedule: Every(interval),
		Timeout:  30 * time.Second,
		Func: func(context.Context) error {
			sweep()
			return nil
		},
	}
}

// NewSnapshotTask persists runtime state every interval.
func NewSnapshotTask(interval time.Duration, snapshot func(ctx context.Context) error) *Task {
	return &Task{
		ID:       SnapshotTaskID,
		Name:     "State snapshot",
		Schedule: Every(interval),
		Timeout:  time.Minute,
		Func:     snapshot,
	}
}

// NewVacuumTask compacts the state database once a day.
func NewVacuumTask(hour, minute int, vacuum func(ctx context.Context) error) *Task {
	return &Task{
		ID:       VacuumTaskID,
		Name:     "State vacuum",
		Schedule: Daily(hour, minute),
		Timeout:  5 * time.Minute,
		Func:     vacuum,
	}
}

// NewUptimeTask publishes process uptime to the metrics registry.
func NewUptimeTask(started time.Time) *Task {
	return &Task{
		ID:         UptimeTaskID,
		Name:       "Uptime gauge",
		Schedule:   Every(15 * time.Second),
		RunOnStart: true,
		Func: func(context.Context) error {
			metrics.Get().Uptime.Set(time.Since(started).Seconds())
			return nil
		},
	}
}
