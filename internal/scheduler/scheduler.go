package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rawblock/chainintel-engine/internal/alert"
	"github.com/rawblock/chainintel-engine/internal/metrics"
	"github.com/rawblock/chainintel-engine/pkg/models"
)

// Scheduler
//
// Drives the recurring maintenance and analysis tasks. One goroutine wakes
// at least once per minute, collects the tasks that are due, and runs each
// in its own goroutine with panic isolation — a crashing task is recorded
// as a failure and never takes the loop down. Tasks keep running on
// failure; crossing the consecutive-failure threshold raises an alert but
// does not disable the task.

// ErrTooSoon is returned by RunNow when the task's cooldown has not
// elapsed.
var ErrTooSoon = errors.New("scheduler: cooldown not elapsed")

// ErrUnknownTask is returned for operations on unregistered task IDs.
var ErrUnknownTask = errors.New("scheduler: unknown task")

// TaskFunc is one unit of scheduled work.
type TaskFunc func(ctx context.Context) error

// Task is a registered recurring job.
type Task struct {
	ID       string
	Name     string
	Schedule Schedule
	Cooldown time.Duration
	Run      TaskFunc
}

// TaskStatus is the observable state of one task.
type TaskStatus struct {
	ID                  string    `json:"id"`
	Name                string    `json:"name"`
	Schedule            string    `json:"schedule"`
	Enabled             bool      `json:"enabled"`
	NextRun             time.Time `json:"nextRun"`
	LastRun             time.Time `json:"lastRun,omitempty"`
	LastError           string    `json:"lastError,omitempty"`
	RunCount            int       `json:"runCount"`
	FailureCount        int       `json:"failureCount"`
	ConsecutiveFailures int       `json:"consecutiveFailures"`
	Running             bool      `json:"running"`
}

// taskState is the internal per-task record.
type taskState struct {
	task     Task
	enabled  bool
	nextRun  time.Time
	lastRun  time.Time
	lastErr  string
	runs     int
	failures int
	streak   int // consecutive failures
	running  bool
}

// Config tunes the scheduler loop.
type Config struct {
	WakeInterval     time.Duration // default 1 minute (never longer)
	FailureThreshold int           // consecutive failures before alerting, default 3
	TaskTimeout      time.Duration // per-run deadline, default 10 minutes
}

func (c *Config) applyDefaults() {
	if c.WakeInterval <= 0 || c.WakeInterval > time.Minute {
		c.WakeInterval = time.Minute
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 3
	}
	if c.TaskTimeout <= 0 {
		c.TaskTimeout = 10 * time.Minute
	}
}

// Scheduler runs registered tasks on their parsed schedules.
type Scheduler struct {
	cfg     Config
	alerts  *alert.Manager
	metrics *metrics.Metrics
	logger  *zap.Logger
	clock   func() time.Time

	mu    sync.Mutex
	tasks map[string]*taskState

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New creates a stopped scheduler; call Start to begin the loop.
func New(cfg Config, alerts *alert.Manager, logger *zap.Logger) *Scheduler {
	cfg.applyDefaults()
	return &Scheduler{
		cfg:    cfg,
		alerts: alerts,
		logger: logger.Named("scheduler"),
		clock:  func() time.Time { return time.Now().UTC() },
		tasks:  make(map[string]*taskState),
	}
}

// SetMetrics installs the instrumentation sink; nil disables it.
func (s *Scheduler) SetMetrics(m *metrics.Metrics) { s.metrics = m }

// Register adds a task. An unparseable schedule falls back to hourly from
// now with a warning rather than rejecting the task.
func (s *Scheduler) Register(id, name, scheduleExpr string, cooldown time.Duration, run TaskFunc) error {
	if id == "" || run == nil {
		return fmt.Errorf("scheduler: task needs an id and a function")
	}

	sched, err := Parse(scheduleExpr)
	if err != nil {
		s.logger.Warn("unparseable schedule, falling back to hourly",
			zap.String("task", id), zap.String("schedule", scheduleExpr), zap.Error(err))
		// The stored schedule must keep yielding +1h, not just the first
		// nextRun: dispatch recomputes Next after every run.
		sched = Schedule{kind: everyMinutes, every: time.Hour, raw: scheduleExpr}
	}
	now := s.clock()
	next := sched.Next(now)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tasks[id]; exists {
		return fmt.Errorf("scheduler: task %q already registered", id)
	}
	s.tasks[id] = &taskState{
		task:    Task{ID: id, Name: name, Schedule: sched, Cooldown: cooldown, Run: run},
		enabled: true,
		nextRun: next,
	}
	s.logger.Info("task registered",
		zap.String("task", id), zap.String("schedule", sched.String()), zap.Time("nextRun", next))
	return nil
}

// Enable re-enables a disabled task.
func (s *Scheduler) Enable(id string) error { return s.setEnabled(id, true) }

// Disable stops a task from being scheduled; it stays registered.
func (s *Scheduler) Disable(id string) error { return s.setEnabled(id, false) }

func (s *Scheduler) setEnabled(id string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.tasks[id]
	if !ok {
		return ErrUnknownTask
	}
	st.enabled = enabled
	if enabled {
		st.nextRun = st.task.Schedule.Next(s.clock())
	}
	return nil
}

// RunNow triggers a task immediately, subject to its cooldown.
func (s *Scheduler) RunNow(ctx context.Context, id string) error {
	s.mu.Lock()
	st, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		return ErrUnknownTask
	}
	now := s.clock()
	if st.task.Cooldown > 0 && !st.lastRun.IsZero() && now.Sub(st.lastRun) < st.task.Cooldown {
		remaining := st.task.Cooldown - now.Sub(st.lastRun)
		s.mu.Unlock()
		return fmt.Errorf("%w: %s available in %s", ErrTooSoon, id, remaining.Round(time.Second))
	}
	if st.running {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s is already running", ErrTooSoon, id)
	}
	st.running = true
	st.lastRun = now
	s.mu.Unlock()

	s.runTask(ctx, st)
	return nil
}

// Status reports every task, sorted by ID.
func (s *Scheduler) Status() []TaskStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]TaskStatus, 0, len(s.tasks))
	for _, st := range s.tasks {
		out = append(out, TaskStatus{
			ID:                  st.task.ID,
			Name:                st.task.Name,
			Schedule:            st.task.Schedule.String(),
			Enabled:             st.enabled,
			NextRun:             st.nextRun,
			LastRun:             st.lastRun,
			LastError:           st.lastErr,
			RunCount:            st.runs,
			FailureCount:        st.failures,
			ConsecutiveFailures: st.streak,
			Running:             st.running,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Start launches the wake loop.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.cfg.WakeInterval)
		defer ticker.Stop()

		s.logger.Info("scheduler started", zap.Duration("wake", s.cfg.WakeInterval))
		for {
			select {
			case <-ctx.Done():
				s.logger.Info("scheduler stopped")
				return
			case <-ticker.C:
				s.dispatchDue(ctx)
			}
		}
	}()
}

// Stop cancels the loop and waits for in-flight tasks.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

// dispatchDue starts every enabled, due, non-running task.
func (s *Scheduler) dispatchDue(ctx context.Context) {
	now := s.clock()

	s.mu.Lock()
	var due []*taskState
	for _, st := range s.tasks {
		if !st.enabled || st.running || st.nextRun.After(now) {
			continue
		}
		if st.task.Cooldown > 0 && !st.lastRun.IsZero() && now.Sub(st.lastRun) < st.task.Cooldown {
			// Reschedule past the cooldown instead of hammering the task.
			st.nextRun = st.lastRun.Add(st.task.Cooldown)
			continue
		}
		st.running = true
		st.lastRun = now
		st.nextRun = st.task.Schedule.Next(now)
		due = append(due, st)
	}
	s.mu.Unlock()

	for _, st := range due {
		st := st
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.runTask(ctx, st)
		}()
	}
}

// runTask executes one task with panic isolation and failure accounting.
func (s *Scheduler) runTask(ctx context.Context, st *taskState) {
	runCtx, cancel := context.WithTimeout(ctx, s.cfg.TaskTimeout)
	defer cancel()

	started := time.Now()
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("task panicked: %v", r)
				s.logger.Error("task panic recovered",
					zap.String("task", st.task.ID),
					zap.Any("panic", r),
					zap.ByteString("stack", debug.Stack()))
			}
		}()
		return st.task.Run(runCtx)
	}()
	s.metrics.ObserveTaskRun(st.task.ID, err == nil, time.Since(started))

	s.mu.Lock()
	st.running = false
	st.runs++
	if err != nil {
		st.failures++
		st.streak++
		st.lastErr = err.Error()
	} else {
		st.streak = 0
		st.lastErr = ""
	}
	streak := st.streak
	s.mu.Unlock()

	if err != nil {
		s.logger.Warn("task failed",
			zap.String("task", st.task.ID), zap.Int("streak", streak), zap.Error(err))
		if streak == s.cfg.FailureThreshold && s.alerts != nil {
			s.alerts.Emit(alert.Alert{
				Severity:    models.SeverityHigh,
				AlertType:   "task_failure",
				Title:       "Scheduled task failing repeatedly: " + st.task.Name,
				Description: fmt.Sprintf("%d consecutive failures; last error: %s", streak, err),
			})
		}
		return
	}
	s.logger.Debug("task completed", zap.String("task", st.task.ID))
}
