// Package scheduler runs the daemon's periodic housekeeping (presence
// polling, history pruning, clock anchoring) and arms the one-shot timers
// that end grants.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"grimm.is/turnstile/internal/clock"
	"grimm.is/turnstile/internal/logging"
)

// TaskFunc is a function that performs a scheduled task.
// It receives a context that will be cancelled if the scheduler stops.
type TaskFunc func(ctx context.Context) error

// Task represents a scheduled task.
type Task struct {
	ID          string
	Name        string
	Description string
	Schedule    Schedule
	Func        TaskFunc
	Enabled     bool
	RunOnStart  bool // Run immediately when scheduler starts
	Timeout     time.Duration
}

// TaskStatus represents the current status of a task.
type TaskStatus struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	Description  string        `json:"description"`
	Enabled      bool          `json:"enabled"`
	LastRun      time.Time     `json:"last_run,omitempty"`
	LastDuration time.Duration `json:"last_duration,omitempty"`
	LastError    string        `json:"last_error,omitempty"`
	NextRun      time.Time     `json:"next_run,omitempty"`
	RunCount     int64         `json:"run_count"`
	ErrorCount   int64         `json:"error_count"`
}

// DefaultResolution is how often the run loop looks for due tasks.
const DefaultResolution = 500 * time.Millisecond

// Scheduler manages and runs scheduled tasks.
type Scheduler struct {
	tasks      map[string]*taskEntry
	mu         sync.RWMutex
	logger     *logging.Logger
	clock      clock.Clock
	resolution time.Duration
	ctx        context.Context
	cancel     context.CancelFunc
	running    bool
	wg         sync.WaitGroup
}

type taskEntry struct {
	task      *Task
	status    TaskStatus
	nextRun   time.Time
	executing bool
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock sets the time source used for due-time calculation.
func WithClock(c clock.Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

// WithResolution sets the run loop's polling period.
func WithResolution(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.resolution = d
		}
	}
}

// New creates a new scheduler.
func New(logger *logging.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		tasks:      make(map[string]*taskEntry),
		logger:     logging.OrDefault(logger, "scheduler"),
		clock:      &clock.RealClock{},
		resolution: DefaultResolution,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddTask adds a task to the scheduler.
func (s *Scheduler) AddTask(task *Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if task.ID == "" {
		return fmt.Errorf("task ID is required")
	}
	if task.Schedule == nil {
		return fmt.Errorf("task schedule is required")
	}
	if task.Func == nil {
		return fmt.Errorf("task function is required")
	}
	if _, exists := s.tasks[task.ID]; exists {
		return fmt.Errorf("task %s already exists", task.ID)
	}

	entry := &taskEntry{
		task: task,
		status: TaskStatus{
			ID:          task.ID,
			Name:        task.Name,
			Description: task.Description,
			Enabled:     task.Enabled,
		},
	}
	if task.Enabled {
		entry.nextRun = task.Schedule.Next(s.clock.Now())
		entry.status.NextRun = entry.nextRun
	}

	s.tasks[task.ID] = entry
	s.logger.Debug("task added", "id", task.ID, "next_run", entry.nextRun)
	return nil
}

// RunTask runs a task immediately, regardless of schedule. It blocks
// until the task returns and reports its error.
func (s *Scheduler) RunTask(ctx context.Context, id string) error {
	s.mu.Lock()
	entry, exists := s.tasks[id]
	if !exists {
		s.mu.Unlock()
		return fmt.Errorf("task %s not found", id)
	}
	if entry.executing {
		s.mu.Unlock()
		return fmt.Errorf("task %s is already running", id)
	}
	entry.executing = true
	s.wg.Add(1)
	s.mu.Unlock()

	return s.executeTask(ctx, entry)
}

// GetStatus returns the status of all tasks sorted by name. It feeds the
// task health shown by "turnstile list".
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

// Start starts the run loop. Tasks flagged RunOnStart run right away.
// Cancelling ctx has the same effect as Stop, minus the wait.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.running = true
	for _, entry := range s.tasks {
		if entry.task.Enabled && entry.task.RunOnStart {
			s.launchLocked(entry)
		}
	}
	s.mu.Unlock()

	s.logger.Info("scheduler started", "tasks", len(s.tasks))
	go s.run()
}

// Stop stops the scheduler and waits for running tasks to complete.
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
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) run() {
	ticker := time.NewTicker(s.resolution)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.checkAndRunTasks(s.clock.Now())
		}
	}
}

// checkAndRunTasks launches every enabled task that is due at now and is
// not still executing from a previous run.
func (s *Scheduler) checkAndRunTasks(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	for _, entry := range s.tasks {
		if !entry.task.Enabled || entry.nextRun.IsZero() || entry.executing {
			continue
		}
		if !now.Before(entry.nextRun) {
			s.launchLocked(entry)
		}
	}
}

// launchLocked must hold s.mu.
func (s *Scheduler) launchLocked(entry *taskEntry) {
	entry.executing = true
	s.wg.Add(1)
	ctx := s.ctx
	go func() { _ = s.executeTask(ctx, entry) }()
}

// executeTask runs a single task. The caller has already marked the entry
// executing and incremented the wait group.
func (s *Scheduler) executeTask(parent context.Context, entry *taskEntry) error {
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

	start := s.clock.Now()
	err := task.Func(ctx)
	duration := s.clock.Since(start)
	cancel()

	s.mu.Lock()
	defer s.mu.Unlock()

	entry.executing = false
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
	if task.Enabled {
		entry.nextRun = task.Schedule.Next(s.clock.Now())
		entry.status.NextRun = entry.nextRun
	}
	return err
}
