// Package jobs runs background tasks on a small fixed pool of workers.
//
// Submit never blocks: a task is either accepted into the bounded backlog or
// rejected with ErrQueueFull / ErrClosed. Workers own the task lifecycle,
// including panic recovery and failure logging, so callers fire and forget.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/jmylchreest/catalogd/internal/logger"
)

var (
	// ErrClosed is returned by Submit after Shutdown started.
	ErrClosed = errors.New("executor closed")
	// ErrQueueFull is returned by Submit when the backlog is at capacity.
	ErrQueueFull = errors.New("task queue full")
)

// Task is one unit of background work.
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// Config sizes an Executor.
type Config struct {
	Workers   int // default 1
	QueueSize int // default 16
}

type queued struct {
	id       string
	task     Task
	accepted time.Time
}

// Executor is a bounded task queue drained by a fixed set of workers.
type Executor struct {
	queue chan queued
	group errgroup.Group
	log   *slog.Logger

	mu     sync.RWMutex
	closed bool

	pending   atomic.Int64
	running   atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
}

// New starts an Executor with cfg.Workers workers.
func New(cfg Config) *Executor {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 16
	}

	e := &Executor{
		queue: make(chan queued, cfg.QueueSize),
		log:   logger.Component("jobs"),
	}
	for i := range cfg.Workers {
		e.group.Go(func() error {
			e.work(i)
			return nil
		})
	}
	e.log.Debug("executor started", "workers", cfg.Workers, "queue_size", cfg.QueueSize)
	return e
}

// Submit queues t and returns its id.
func (e *Executor) Submit(t Task) (string, error) {
	if t.Run == nil {
		return "", fmt.Errorf("jobs: task %q has no Run func", t.Name)
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return "", ErrClosed
	}

	q := queued{id: uuid.NewString(), task: t, accepted: time.Now()}
	e.pending.Add(1)
	select {
	case e.queue <- q:
		e.log.Info("task accepted", "task", t.Name, "task_id", q.id)
		return q.id, nil
	default:
		e.pending.Add(-1)
		e.log.Warn("task rejected", "task", t.Name, "reason", "queue full", "capacity", cap(e.queue))
		return "", ErrQueueFull
	}
}

// Shutdown stops intake and waits for queued and running tasks to finish,
// or for ctx to end. Tasks still running when ctx ends are not interrupted.
func (e *Executor) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	if !e.closed {
		e.closed = true
		close(e.queue)
	}
	e.mu.Unlock()

	e.log.Info("executor draining", "pending", e.Pending(), "running", e.Running())

	done := make(chan struct{})
	go func() {
		_ = e.group.Wait()
		close(done)
	}()

	select {
	case <-done:
		e.log.Info("executor stopped", "completed", e.Completed(), "failed", e.Failed())
		return nil
	case <-ctx.Done():
		e.log.Warn("executor drain interrupted", "pending", e.Pending(), "running", e.Running())
		return fmt.Errorf("jobs: drain: %w", ctx.Err())
	}
}

// Pending is the number of accepted tasks not yet started.
func (e *Executor) Pending() int64 { return e.pending.Load() }

// Running is the number of tasks currently executing.
func (e *Executor) Running() int64 { return e.running.Load() }

// Completed is the number of tasks that returned nil.
func (e *Executor) Completed() int64 { return e.completed.Load() }

// Failed is the number of tasks that returned an error or panicked.
func (e *Executor) Failed() int64 { return e.failed.Load() }

func (e *Executor) work(worker int) {
	for q := range e.queue {
		e.pending.Add(-1)
		e.running.Add(1)
		err := e.execute(worker, q)
		e.running.Add(-1)
		if err != nil {
			e.failed.Add(1)
			continue
		}
		e.completed.Add(1)
	}
}

// execute runs one task on a context detached from whoever submitted it.
func (e *Executor) execute(worker int, q queued) (err error) {
	log := e.log.With("task", q.task.Name, "task_id", q.id, "worker", worker)
	start := time.Now()
	log.Info("task started", "queued_for", start.Sub(q.accepted).Round(time.Millisecond))

	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
			log.Error("task panicked", "panic", fmt.Sprint(p), "stack", string(debug.Stack()))
		}
		elapsed := time.Since(start).Round(time.Millisecond)
		if err != nil {
			log.Error("task failed", "error", err, "duration", elapsed)
			return
		}
		log.Info("task finished", "duration", elapsed)
	}()

	return q.task.Run(context.Background())
}
