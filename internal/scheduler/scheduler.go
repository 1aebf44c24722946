// Package scheduler drives the stateless execution and tuning loops on
// cron schedules. Each invocation is independent and idempotent; state
// between runs lives in the database.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"quantlab/internal/logger"
)

// TaskType represents the type of scheduled task
type TaskType string

const (
	TaskTypeExecutorTick TaskType = "executor_tick"
	TaskTypeTunerBatch   TaskType = "tuner_batch"
	TaskTypeTuningJobs   TaskType = "tuning_jobs"
)

// TaskStatus represents the status of a task
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
)

// Task represents a scheduled task
type Task struct {
	ID          string
	Type        TaskType
	Schedule    string
	LastRunTime time.Time
	Status      TaskStatus
	Error       string
}

// TaskHandler defines the interface for task handlers
type TaskHandler interface {
	Handle(ctx context.Context) error
}

// TaskHandlerFunc adapts a function to TaskHandler.
type TaskHandlerFunc func(ctx context.Context) error

// Handle implements TaskHandler.
func (f TaskHandlerFunc) Handle(ctx context.Context) error {
	return f(ctx)
}

// Scheduler manages task scheduling
type Scheduler struct {
	cron     *cron.Cron
	tasks    map[string]*Task
	handlers map[TaskType]TaskHandler
	mu       sync.RWMutex
	log      logger.Logger
}

// NewScheduler creates a new scheduler
func NewScheduler() *Scheduler {
	return &Scheduler{
		cron:     cron.New(),
		tasks:    make(map[string]*Task),
		handlers: make(map[TaskType]TaskHandler),
		log:      logger.Global().WithField("component", "scheduler"),
	}
}

// RegisterHandler registers a handler for a task type
func (s *Scheduler) RegisterHandler(taskType TaskType, handler TaskHandler) {
	s.handlers[taskType] = handler
}

// AddTask schedules a task type on a cron expression
func (s *Scheduler) AddTask(taskType TaskType, schedule string) error {
	handler, exists := s.handlers[taskType]
	if !exists {
		return fmt.Errorf("no handler registered for task type: %s", taskType)
	}

	task := &Task{
		ID:       fmt.Sprintf("%s_%d", taskType, time.Now().UnixNano()),
		Type:     taskType,
		Schedule: schedule,
		Status:   TaskStatusPending,
	}

	_, err := s.cron.AddFunc(schedule, func() {
		s.runTask(context.Background(), task, handler)
	})
	if err != nil {
		return fmt.Errorf("failed to add cron job: %w", err)
	}

	s.mu.Lock()
	s.tasks[task.ID] = task
	s.mu.Unlock()

	s.log.Info("task scheduled", "type", string(taskType), "schedule", schedule)
	return nil
}

// Start starts the scheduler
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops the scheduler and waits for running jobs
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// runTask executes a task
func (s *Scheduler) runTask(ctx context.Context, task *Task, handler TaskHandler) {
	s.mu.Lock()
	task.Status = TaskStatusRunning
	task.LastRunTime = time.Now()
	s.mu.Unlock()

	err := handler.Handle(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		task.Status = TaskStatusFailed
		task.Error = err.Error()
		s.log.Error("scheduled task failed", "type", string(task.Type), "error", err)
	} else {
		task.Status = TaskStatusCompleted
		task.Error = ""
	}
}

// ListTasks lists all tasks
func (s *Scheduler) ListTasks() []*Task {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tasks := make([]*Task, 0, len(s.tasks))
	for _, task := range s.tasks {
		tasks = append(tasks, task)
	}
	return tasks
}
