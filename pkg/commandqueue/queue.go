package commandqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/harun/seqbot/internal/tracing"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// ErrClosed is returned for tasks submitted to, or still queued in, a closed queue.
var ErrClosed = errors.New("commandqueue: queue is closed")

// Task represents an asynchronous operation to be executed
type Task func(ctx context.Context) (interface{}, error)

// Result is the outcome of a task
type Result struct {
	Value interface{}
	Err   error
}

// Event types
const (
	EventEnqueued  = "enqueued"
	EventCompleted = "completed"
)

// EventHandler is a function that handles queue events. Handlers run
// synchronously and must not call back into the queue.
type EventHandler func(event Event)

// Event represents a queue event
type Event struct {
	Type      string
	Lane      string
	TaskID    string
	QueueSize int
	Duration  time.Duration
	Err       error
}

// LaneStats is a point-in-time view of one lane
type LaneStats struct {
	Queued  int
	Running bool
}

// taskRecord tracks a task's execution state
type taskRecord struct {
	id         string
	task       Task
	ctx        context.Context
	enqueuedAt time.Time
	result     chan Result
}

// laneState holds the backlog of a single lane
type laneState struct {
	queue   []*taskRecord
	running bool
	active  string
}

// CommandQueue serializes tasks per lane key
type CommandQueue struct {
	mu        sync.Mutex
	lanes     map[string]*laneState
	taskIDSeq uint64
	closed    bool

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	logger zerolog.Logger

	eventHandlers map[string][]EventHandler
	eventMu       sync.RWMutex
}

// New creates a new CommandQueue
func New(logger zerolog.Logger) *CommandQueue {
	ctx, cancel := context.WithCancel(context.Background())

	return &CommandQueue{
		lanes:         make(map[string]*laneState),
		ctx:           ctx,
		cancel:        cancel,
		logger:        logger.With().Str("module", "commandqueue").Logger(),
		eventHandlers: make(map[string][]EventHandler),
	}
}

// Submit appends task to lane and returns immediately. The task is queued
// before Submit returns, so two Submit calls made in sequence run in that
// order. The returned channel yields exactly one Result.
func (cq *CommandQueue) Submit(ctx context.Context, lane string, task Task) <-chan Result {
	if ctx == nil {
		ctx = context.Background()
	}

	result := make(chan Result, 1)

	cq.mu.Lock()
	if cq.closed {
		cq.mu.Unlock()
		result <- Result{Err: ErrClosed}
		close(result)
		return result
	}

	cq.taskIDSeq++
	record := &taskRecord{
		id:         fmt.Sprintf("%s-%d", lane, cq.taskIDSeq),
		task:       task,
		ctx:        ctx,
		enqueuedAt: time.Now(),
		result:     result,
	}

	ls, exists := cq.lanes[lane]
	if !exists {
		ls = &laneState{}
		cq.lanes[lane] = ls
	}
	ls.queue = append(ls.queue, record)
	queueSize := len(ls.queue)

	start := !ls.running
	if start {
		ls.running = true
		cq.wg.Add(1)
	}

	// emitted under the lock so it always precedes the matching completion
	cq.emit(Event{Type: EventEnqueued, Lane: lane, TaskID: record.id, QueueSize: queueSize})
	cq.mu.Unlock()

	cq.logger.Debug().
		Str("lane", lane).
		Str("task_id", record.id).
		Int("queue_size", queueSize).
		Msg("Task enqueued")

	if start {
		go cq.drain(lane, ls)
	}

	return result
}

// Do submits task and waits for its result
func (cq *CommandQueue) Do(ctx context.Context, lane string, task Task) (interface{}, error) {
	res := <-cq.Submit(ctx, lane, task)
	return res.Value, res.Err
}

// drain runs a lane's backlog until it is empty, then removes the lane
func (cq *CommandQueue) drain(lane string, ls *laneState) {
	defer cq.wg.Done()

	for {
		cq.mu.Lock()
		if len(ls.queue) == 0 {
			ls.running = false
			delete(cq.lanes, lane)
			cq.mu.Unlock()
			return
		}

		record := ls.queue[0]
		ls.queue[0] = nil
		ls.queue = ls.queue[1:]
		ls.active = record.id
		remaining := len(ls.queue)
		cq.mu.Unlock()

		cq.execute(lane, record, remaining)

		cq.mu.Lock()
		ls.active = ""
		cq.mu.Unlock()
	}
}

// execute runs a single task and delivers its result
func (cq *CommandQueue) execute(lane string, record *taskRecord, remaining int) {
	if cq.ctx.Err() != nil {
		cq.finish(lane, record, Result{Err: ErrClosed}, 0, remaining)
		return
	}
	if err := record.ctx.Err(); err != nil {
		cq.finish(lane, record, Result{Err: err}, 0, remaining)
		return
	}

	taskCtx, span := tracing.StartSpan(
		record.ctx,
		"seqbot.commandqueue",
		"commandqueue.execute_task",
		attribute.String("lane", lane),
		attribute.String("task_id", record.id),
	)
	defer span.End()

	taskCtx = tracing.WithLane(taskCtx, lane)
	logger := tracing.LoggerFromContext(taskCtx, cq.logger)

	runCtx, cancel := context.WithCancel(taskCtx)
	stopCancel := context.AfterFunc(cq.ctx, cancel)
	defer func() {
		stopCancel()
		cancel()
	}()

	logger.Debug().
		Str("task_id", record.id).
		Dur("waited", time.Since(record.enqueuedAt)).
		Msg("Task started")

	startTime := time.Now()
	value, err := runTask(runCtx, record.task)
	duration := time.Since(startTime)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error().
			Str("task_id", record.id).
			Dur("duration", duration).
			Err(err).
			Msg("Task failed")
	} else {
		logger.Debug().
			Str("task_id", record.id).
			Dur("duration", duration).
			Msg("Task completed")
	}

	cq.finish(lane, record, Result{Value: value, Err: err}, duration, remaining)
}

func (cq *CommandQueue) finish(lane string, record *taskRecord, res Result, duration time.Duration, remaining int) {
	cq.emit(Event{
		Type:      EventCompleted,
		Lane:      lane,
		TaskID:    record.id,
		QueueSize: remaining,
		Duration:  duration,
		Err:       res.Err,
	})

	record.result <- res
	close(record.result)
}

// runTask converts a panicking task into an error so one bad handler
// cannot take the lane, or the process, down.
func runTask(ctx context.Context, task Task) (value interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return task(ctx)
}

// QueueSize returns the number of queued, not yet running, tasks for a lane
func (cq *CommandQueue) QueueSize(lane string) int {
	cq.mu.Lock()
	defer cq.mu.Unlock()

	if ls, exists := cq.lanes[lane]; exists {
		return len(ls.queue)
	}
	return 0
}

// Stats returns statistics for all live lanes
func (cq *CommandQueue) Stats() map[string]LaneStats {
	cq.mu.Lock()
	defer cq.mu.Unlock()

	stats := make(map[string]LaneStats, len(cq.lanes))
	for lane, ls := range cq.lanes {
		stats[lane] = LaneStats{
			Queued:  len(ls.queue),
			Running: ls.active != "",
		}
	}
	return stats
}

// WaitForActive waits until every lane has drained, up to timeout
func (cq *CommandQueue) WaitForActive(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for {
		cq.mu.Lock()
		drained := len(cq.lanes) == 0
		cq.mu.Unlock()

		if drained {
			return true
		}

		if time.Now().After(deadline) {
			cq.logger.Warn().Dur("timeout", timeout).Msg("Timeout waiting for active tasks")
			return false
		}

		<-ticker.C
	}
}

// Close rejects new work, cancels running tasks and waits for lanes to exit.
// Tasks still queued complete with ErrClosed.
func (cq *CommandQueue) Close() error {
	cq.mu.Lock()
	cq.closed = true
	cq.mu.Unlock()

	cq.cancel()
	cq.wg.Wait()
	return nil
}

// On registers an event handler for a specific event type
func (cq *CommandQueue) On(eventType string, handler EventHandler) {
	cq.eventMu.Lock()
	defer cq.eventMu.Unlock()

	cq.eventHandlers[eventType] = append(cq.eventHandlers[eventType], handler)
}

// emit emits an event synchronously to all registered handlers
func (cq *CommandQueue) emit(event Event) {
	cq.eventMu.RLock()
	handlers := cq.eventHandlers[event.Type]
	cq.eventMu.RUnlock()

	for _, handler := range handlers {
		handler(event)
	}
}
