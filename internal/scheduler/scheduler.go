// Package scheduler runs periodic background tasks such as the blocklist
// expiry sweep and state snapshots.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"grimm.is/warden/internal/clock"
	"grimm.is/warden/internal/logging"
	"grimm.is/warden/internal/metrics"
)

// TaskFunc performs a scheduled task. The context is cancelled when the
// scheduler stops or the task times out.
type TaskFunc func(ctx context.Context) error

// Schedule defines when a task should run.
type Schedule interface {
	// Next returns the next time the task should run after the given time.
	Next(after time.Time) time.Time
}

// Task is a scheduled unit of work.
type Task struct {
	ID         string
	Name       string
	Schedule   Schedule
	Func       TaskFunc
	RunOnStart bool
	Timeout    time.Duration
}

// TaskStatus is the observable state of a task.
type TaskStatus struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	LastRun      time.Time     `json:"last_run,omitempty"`
	LastDuration time.Duration `json:"last_duration,omitempty"`
	LastError    string        `json:"last_error,omitempty"`
	NextRun      time.Time     `json:"next_run,omitempty"`
	RunCount     int64         `json:"run_count"`
	ErrorCount   int64         `json:"error_count"`
}

// Options configure a Scheduler.
type Options struct {
	// Tick is how often due tasks are checked. Defaults to one second.
	Tick  time.Duration
	Clock clock.Clock
}

// Scheduler runs tasks on their schedules. A task never overlaps itself:
// a run that is still in progress when the task falls due again is skipped.
type Scheduler struct {
	mu      sync.RWMutex
	tasks   map[string]*taskEntry
	logger  *logging.Logger
	clock   clock.Clock
	tick    time.Duration
	ctx     context.Context
	cancel  context.CancelFunc
	running bool
	wg      sync.WaitGroup
}

type taskEntry struct {
	task    *Task
	status  TaskStatus
	nextRun time.Time
	active  bool
}

// New creates a new scheduler.
func New(logger *logging.Logger, opts Options) *Scheduler {
	if logger == nil {
		logger = logging.Default()
	}
	if opts.Tick <= 0 {
		opts.Tick = time.Second
	}
	return &Scheduler{
		tasks:  make(map[string]*taskEntry),
		logger: logger.WithComponent("scheduler"),
		clock:  clock.Or(opts.Clock),
		tick:   opts.Tick,
	}
}

// AddTask registers a task.
func (s *Scheduler) AddTask(task *Task) error {
	switch {
	case task.ID == "":
		return errors.New("task ID is required")
	case task.Schedule == nil:
		return errors.New("task schedule is required")
	case task.Func == nil:
		return errors.New("task function is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tasks[task.ID]; exists {
		return fmt.Errorf("task %s already exists", task.ID)
	}

	next := task.Schedule.Next(s.clock.Now())
	s.tasks[task.ID] = &taskEntry{
		task:    task,
		nextRun: next,
		status:  TaskStatus{ID: task.ID, Name: task.Name, NextRun: next},
	}
	s.logger.Debug("task added", "id", task.ID, "next_run", next)
	return nil
}

// RemoveTask unregisters a task. A run in progress is not interrupted.
func (s *Scheduler) RemoveTask(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tasks[id]; !exists {
		return fmt.Errorf("task %s not found", id)
	}
	delete(s.tasks, id)
	return nil
}

// RunTask runs a task now, regardless of its schedule.
func (s *Scheduler) RunTask(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, exists := s.tasks[id]
	if !exists {
		return fmt.Errorf("task %s not found", id)
	}
	s.launchLocked(entry)
	return nil
}

// GetStatus returns the status of all tasks sorted by name.
func (s *Scheduler) GetStatus() []TaskStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	statuses := make([]TaskStatus, 0, len(s.tasks))
	for _, entry := range s.tasks {
		statuses = append(statuses, entry.status)
	}
	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].Name < statuses[j].Name
	})
	return statuses
}

// GetTaskStatus returns the status of one task.
func (s *Scheduler) GetTaskStatus(id string) (TaskStatus, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, exists := s.tasks[id]
	if !exists {
		return TaskStatus{}, false
	}
	return entry.status, true
}

// Start starts the scheduler loop. Starting a running scheduler is a no-op.
// A stopped scheduler can be started again.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.running = true

	for _, entry := range s.tasks {
		if entry.task.RunOnStart {
			s.launchLocked(entry)
		}
	}

	s.wg.Add(1)
	go s.run(s.ctx)
	s.logger.Debug("scheduler started", "tasks", len(s.tasks))
}

// Stop cancels running tasks and waits for them to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.cancel()
	s.running = false
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Debug("scheduler stopped")
}

// IsRunning returns whether the scheduler is running.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runDue()
		}
	}
}

func (s *Scheduler) runDue() {
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, entry := range s.tasks {
		if !entry.nextRun.IsZero() && !now.Before(entry.nextRun) {
			s.launchLocked(entry)
		}
	}
}

// launchLocked starts entry unless it is already active or the scheduler
// is stopped. s.mu must be held.
func (s *Scheduler) launchLocked(entry *taskEntry) {
	if entry.active || !s.running {
		return
	}
	entry.active = true
	s.wg.Add(1)
	go s.execute(s.ctx, entry)
}

func (s *Scheduler) execute(parent context.Context, entry *taskEntry) {
	defer s.wg.Done()
	task := entry.task

	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if task.Timeout > 0 {
		ctx, cancel = context.WithTimeout(parent, task.Timeout)
	} else {
		ctx, cancel = context.WithCancel(parent)
	}
	defer cancel()

	start := s.clock.Now()
	err := task.Func(ctx)
	duration := s.clock.Since(start)
	metrics.Get().RecordTaskRun(task.ID, err)

	s.mu.Lock()
	defer s.mu.Unlock()
	entry.active = false
	entry.status.LastRun = start
	entry.status.LastDuration = duration
	entry.status.RunCount++
	if err != nil {
		entry.status.LastError = err.Error()
		entry.status.ErrorCount++
		s.logger.Warn("task failed", "id", task.ID, "error", err, "duration", duration)
	} else {
		entry.status.LastError = ""
	}
	entry.nextRun = task.Schedule.Next(s.clock.Now())
	entry.status.NextRun = entry.nextRun
}
