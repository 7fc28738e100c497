package scheduler

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"followtrader/internal/apperr"
	"followtrader/internal/follow"
)

// MinInterval is the floor for task recurrence.
const MinInterval = 5 * time.Second

// Task is one recurring follow job. Tasks are volatile: they live in memory
// and die with the process; only the fills and orders they produce are
// durable.
type Task struct {
	ID              string         `json:"id"`
	AgentID         string         `json:"agent_id"`
	Owner           string         `json:"owner,omitempty"`
	IntervalSeconds int            `json:"interval_seconds"`
	Options         follow.Options `json:"options"`
	Enabled         bool           `json:"enabled"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	LastExecutedAt  *time.Time     `json:"last_executed_at,omitempty"`
	ExecutionCount  int64          `json:"execution_count"`
	LastStatus      string         `json:"last_status,omitempty"`
	LastError       string         `json:"last_error,omitempty"`
}

func (t Task) interval() time.Duration {
	return time.Duration(t.IntervalSeconds) * time.Second
}

// CycleFunc runs one follow cycle for the task. The scheduler guarantees at
// most one in-flight call per task.
type CycleFunc func(ctx context.Context, task Task) (*follow.Result, error)

type CreateTaskInput struct {
	AgentID         string         `json:"agent_id"`
	Owner           string         `json:"owner"`
	IntervalSeconds int            `json:"interval_seconds"`
	Options         follow.Options `json:"options"`
	AutoStart       bool           `json:"auto_start"`
}

type UpdateTaskInput struct {
	IntervalSeconds *int            `json:"interval_seconds,omitempty"`
	Options         *follow.Options `json:"options,omitempty"`
}

// Scheduler owns the task registry and one goroutine per enabled task. A
// tick that lands while the previous cycle is still executing is skipped,
// never queued.
type Scheduler struct {
	Logger *zap.Logger
	Clock  Clock
	Cycle  CycleFunc

	mu     sync.Mutex
	tasks  map[string]*taskRuntime
	wg     sync.WaitGroup
	closed bool
}

type taskRuntime struct {
	task   Task
	lock   chan struct{} // capacity 1, holds the execution permit
	cancel context.CancelFunc
}

func New(logger *zap.Logger, clock Clock, cycle CycleFunc) *Scheduler {
	if clock == nil {
		clock = systemClock{}
	}
	return &Scheduler{
		Logger: logger,
		Clock:  clock,
		Cycle:  cycle,
		tasks:  map[string]*taskRuntime{},
	}
}

func (s *Scheduler) CreateTask(in CreateTaskInput) (Task, error) {
	if in.AgentID == "" {
		return Task{}, apperr.Validationf("agent_id is required")
	}
	if err := validateInterval(in.IntervalSeconds); err != nil {
		return Task{}, err
	}
	if err := in.Options.Validate(); err != nil {
		return Task{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Task{}, apperr.Validationf("scheduler is shut down")
	}
	now := s.Clock.Now()
	task := Task{
		ID:              uuid.NewString(),
		AgentID:         in.AgentID,
		Owner:           in.Owner,
		IntervalSeconds: in.IntervalSeconds,
		Options:         in.Options,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	rt := &taskRuntime{task: task, lock: make(chan struct{}, 1)}
	s.tasks[task.ID] = rt
	if in.AutoStart {
		s.startLocked(rt)
	}
	s.log().Info("scheduler: task created",
		zap.String("task_id", task.ID),
		zap.String("agent_id", task.AgentID),
		zap.Int("interval_seconds", task.IntervalSeconds),
		zap.Bool("auto_start", in.AutoStart),
	)
	return rt.task, nil
}

// StartTask begins the task's recurrence. Starting an already running task
// is a no-op.
func (s *Scheduler) StartTask(id string) (Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rt := s.tasks[id]
	if rt == nil {
		return Task{}, apperr.NotFound("task", id)
	}
	s.startLocked(rt)
	return rt.task, nil
}

// StopTask halts recurrence. The task and its counters survive; StopTask on
// a stopped task is a no-op.
func (s *Scheduler) StopTask(id string) (Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rt := s.tasks[id]
	if rt == nil {
		return Task{}, apperr.NotFound("task", id)
	}
	s.stopLocked(rt)
	return rt.task, nil
}

// UpdateTask replaces interval and/or options. An interval change resets the
// recurrence phase: the next tick fires one full new interval after the
// update. Execution counters are preserved.
func (s *Scheduler) UpdateTask(id string, in UpdateTaskInput) (Task, error) {
	if in.IntervalSeconds != nil {
		if err := validateInterval(*in.IntervalSeconds); err != nil {
			return Task{}, err
		}
	}
	if in.Options != nil {
		if err := in.Options.Validate(); err != nil {
			return Task{}, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	rt := s.tasks[id]
	if rt == nil {
		return Task{}, apperr.NotFound("task", id)
	}
	restart := false
	if in.IntervalSeconds != nil && *in.IntervalSeconds != rt.task.IntervalSeconds {
		rt.task.IntervalSeconds = *in.IntervalSeconds
		restart = rt.task.Enabled
	}
	if in.Options != nil {
		rt.task.Options = *in.Options
	}
	rt.task.UpdatedAt = s.Clock.Now()
	if restart {
		s.stopLocked(rt)
		s.startLocked(rt)
	}
	return rt.task, nil
}

func (s *Scheduler) DeleteTask(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rt := s.tasks[id]
	if rt == nil {
		return apperr.NotFound("task", id)
	}
	s.stopLocked(rt)
	delete(s.tasks, id)
	s.log().Info("scheduler: task deleted", zap.String("task_id", id))
	return nil
}

func (s *Scheduler) GetTask(id string) (Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rt := s.tasks[id]
	if rt == nil {
		return Task{}, apperr.NotFound("task", id)
	}
	return rt.task, nil
}

func (s *Scheduler) ListTasks() []Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Task, 0, len(s.tasks))
	for _, rt := range s.tasks {
		out = append(out, rt.task)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// RunNow triggers one immediate cycle outside the recurrence, honoring the
// execution lock. It does not disturb the task's tick phase.
func (s *Scheduler) RunNow(ctx context.Context, id string) (*follow.Result, error) {
	s.mu.Lock()
	rt := s.tasks[id]
	s.mu.Unlock()
	if rt == nil {
		return nil, apperr.NotFound("task", id)
	}
	select {
	case rt.lock <- struct{}{}:
	default:
		return nil, apperr.Validationf("task %s is executing, try again", id)
	}
	defer func() { <-rt.lock }()
	return s.runCycle(ctx, rt)
}

// Close stops every task loop and waits for in-flight cycles to finish.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	for _, rt := range s.tasks {
		s.stopLocked(rt)
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Scheduler) startLocked(rt *taskRuntime) {
	if rt.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	rt.cancel = cancel
	rt.task.Enabled = true
	s.wg.Add(1)
	go s.runLoop(ctx, rt, rt.task.interval())
}

func (s *Scheduler) stopLocked(rt *taskRuntime) {
	if rt.cancel == nil {
		rt.task.Enabled = false
		return
	}
	rt.cancel()
	rt.cancel = nil
	rt.task.Enabled = false
}

func (s *Scheduler) runLoop(ctx context.Context, rt *taskRuntime, interval time.Duration) {
	defer s.wg.Done()
	ticker := s.Clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			s.tick(rt)
		}
	}
}

// tick tries to take the execution permit; a tick arriving while the
// previous cycle still runs is dropped. The cycle runs on its own context:
// stopping a task halts the ticker but never interrupts an order already in
// flight.
func (s *Scheduler) tick(rt *taskRuntime) {
	select {
	case rt.lock <- struct{}{}:
	default:
		s.log().Debug("scheduler: tick skipped, cycle in flight",
			zap.String("task_id", rt.task.ID),
		)
		return
	}
	defer func() {
		<-rt.lock
		if r := recover(); r != nil {
			s.log().Error("scheduler: cycle panic",
				zap.String("task_id", rt.task.ID),
				zap.Any("panic", r),
			)
		}
	}()
	if _, err := s.runCycle(context.Background(), rt); err != nil {
		s.log().Error("scheduler: cycle failed",
			zap.String("task_id", rt.task.ID),
			zap.String("agent_id", rt.task.AgentID),
			zap.Error(err),
		)
	}
}

func (s *Scheduler) runCycle(ctx context.Context, rt *taskRuntime) (*follow.Result, error) {
	s.mu.Lock()
	task := rt.task
	s.mu.Unlock()

	var result *follow.Result
	var err error
	if s.Cycle != nil {
		result, err = s.Cycle(ctx, task)
	}

	now := s.Clock.Now()
	s.mu.Lock()
	switch {
	case err != nil:
		// A failed cycle is logged by the caller; the counters only track
		// cycles that actually ran.
		rt.task.LastStatus = "error"
		rt.task.LastError = err.Error()
	case result != nil:
		rt.task.LastExecutedAt = &now
		rt.task.ExecutionCount++
		rt.task.LastStatus = string(result.Status)
		rt.task.LastError = ""
	default:
		rt.task.LastExecutedAt = &now
		rt.task.ExecutionCount++
		rt.task.LastStatus = "completed"
		rt.task.LastError = ""
	}
	s.mu.Unlock()
	return result, err
}

func (s *Scheduler) log() *zap.Logger {
	if s == nil || s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}

func validateInterval(seconds int) error {
	if time.Duration(seconds)*time.Second < MinInterval {
		return apperr.Validationf("interval_seconds must be at least %d", int(MinInterval/time.Second))
	}
	return nil
}
