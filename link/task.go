package link

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arloliu/go-gse/logger"
)

// errTaskMgrStopped is returned when starting a task on a stopped TaskManager.
var errTaskMgrStopped = errors.New("task manager already stopped")

// TaskFunc represents one iteration of a task loop.
// It should return true to continue running the task, or false to stop the goroutine.
type TaskFunc func() bool

// TaskRecvFunc represents one iteration of a receive loop. buf is owned by the task goroutine
// and reused between iterations.
// It should return true to continue running the task, or false to stop the goroutine.
type TaskRecvFunc func(buf []byte) bool

// TaskCancelFunc is called when a goroutine managed by the TaskManager exits.
type TaskCancelFunc func()

// TaskManager manages the goroutines of a single link session.
//
// It is one-shot: once Stop is called, no new task can be started and Wait returns after every
// running task has returned. A fresh TaskManager is created for every session.
//
// Example Usage:
//
//	taskMgr := link.NewTaskManager(ctx, logger)
//
//	_ = taskMgr.StartInterval("heartbeat", func() bool {
//	    // ... task logic ...
//	    return true // Return true to continue running, false to stop
//	}, time.Millisecond)
//
//	taskMgr.Stop()
//	taskMgr.Wait()
type TaskManager struct {
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	logger  logger.Logger
	count   atomic.Int32
	mu      sync.Mutex // protects stopped and wg.Add against Stop
	stopped bool
}

// NewTaskManager creates a new TaskManager with ctx as the parent context.
func NewTaskManager(ctx context.Context, l logger.Logger) *TaskManager {
	mgr := &TaskManager{logger: l}
	mgr.ctx, mgr.cancel = context.WithCancel(ctx)

	return mgr
}

// Context returns the context canceled by Stop.
func (mgr *TaskManager) Context() context.Context {
	return mgr.ctx
}

// Start starts a new goroutine that calls taskFunc in a loop until it returns false
// or the TaskManager is stopped.
func (mgr *TaskManager) Start(name string, taskFunc TaskFunc) error {
	return mgr.spawn(name, nil, func() {
		mgr.runTaskLoop(name, taskFunc)
	})
}

// StartReceiver starts a receive loop with a buffer of bufSize bytes.
//
// The taskCancelFunc will be called when the goroutine exits.
func (mgr *TaskManager) StartReceiver(name string, bufSize int, taskFunc TaskRecvFunc, taskCancelFunc TaskCancelFunc) error {
	if bufSize <= 0 {
		return fmt.Errorf("invalid receive buffer size: %d", bufSize)
	}

	return mgr.spawn(name, taskCancelFunc, func() {
		buf := make([]byte, bufSize)
		mgr.runTaskLoop(name, func() bool {
			return taskFunc(buf)
		})
	})
}

// StartInterval starts a new goroutine that executes taskFunc at the specified interval
// until it returns false or the TaskManager is stopped.
func (mgr *TaskManager) StartInterval(name string, taskFunc TaskFunc, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("invalid interval: %v", interval)
	}

	return mgr.spawn(name, nil, func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-mgr.ctx.Done():
				return
			case <-ticker.C:
				if !mgr.callWithRecover(name, taskFunc) {
					return
				}
			}
		}
	})
}

// Stop signals all running goroutines. It does not wait for them.
func (mgr *TaskManager) Stop() {
	mgr.mu.Lock()
	mgr.stopped = true
	mgr.mu.Unlock()

	mgr.cancel()
}

// Wait waits for all goroutines to terminate.
func (mgr *TaskManager) Wait() {
	mgr.wg.Wait()
}

// TaskCount returns the number of currently running goroutines.
func (mgr *TaskManager) TaskCount() int {
	return int(mgr.count.Load())
}

func (mgr *TaskManager) spawn(name string, onExit TaskCancelFunc, body func()) error {
	mgr.mu.Lock()
	if mgr.stopped {
		mgr.mu.Unlock()
		return fmt.Errorf("failed to start %s: %w", name, errTaskMgrStopped)
	}
	mgr.wg.Add(1)
	mgr.count.Add(1)
	mgr.mu.Unlock()

	mgr.logger.Debug("start task", "name", name)

	go func() {
		defer mgr.wg.Done()
		defer func() {
			mgr.count.Add(-1)
			mgr.logger.Debug(fmt.Sprintf("%s task terminated", name), "task_count", mgr.TaskCount())
		}()
		if onExit != nil {
			defer onExit()
		}

		body()
	}()

	return nil
}

// runTaskLoop runs a task function in a loop with context cancellation
func (mgr *TaskManager) runTaskLoop(name string, taskFunc TaskFunc) {
	for {
		select {
		case <-mgr.ctx.Done():
			return
		default:
			if !mgr.callWithRecover(name, taskFunc) {
				return
			}
		}
	}
}

// callWithRecover calls taskFunc with panic protection. A panic stops the task.
func (mgr *TaskManager) callWithRecover(name string, taskFunc TaskFunc) (cont bool) {
	defer func() {
		if r := recover(); r != nil {
			mgr.logger.Error("panic in task", "name", name, "panic", r)
			cont = false
		}
	}()

	return taskFunc()
}
