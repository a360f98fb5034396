// Package lane serializes agent invocations per session: each session
// key maps to a lane that runs at most one task at a time, so two
// requests for the same conversation can never interleave model calls
// and tool executions. Distinct sessions run in parallel.
package lane

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/harunnryd/k8sai/internal/observability"
	"github.com/harunnryd/k8sai/internal/tracing"
)

// Task is one unit of work submitted to a lane.
type Task func(ctx context.Context) (interface{}, error)

type taskRecord struct {
	id         string
	task       Task
	ctx        context.Context
	generation int
	result     chan taskResult
}

type taskResult struct {
	value interface{}
	err   error
}

type laneState struct {
	mu          sync.Mutex
	generation  int
	concurrency int
	queue       []*taskRecord
	running     int
}

// Queue dispatches tasks into FIFO lanes.
type Queue struct {
	mu        sync.RWMutex
	lanes     map[string]*laneState
	taskIDSeq int
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
}

// New creates an empty queue. Lanes appear on first use with
// concurrency 1.
func New() *Queue {
	observability.EnsureRegistered()

	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		lanes:  make(map[string]*laneState),
		ctx:    ctx,
		cancel: cancel,
	}
}

// ForSession maps a session key to its lane name.
func ForSession(sessionKey string) string {
	return "session-" + sessionKey
}

// Enqueue submits a task to a lane and blocks until it finishes or is
// rejected by a lane reset. Tasks in the same lane run strictly one at
// a time in submission order.
func (q *Queue) Enqueue(ctx context.Context, lane string, task Task) (interface{}, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	ctx, span := tracing.StartSpan(
		ctx,
		"k8sai.lane",
		"lane.enqueue",
		attribute.String("lane", lane),
	)
	defer span.End()

	ls := q.ensureLane(lane)

	q.mu.Lock()
	q.taskIDSeq++
	taskID := fmt.Sprintf("%s-%d", lane, q.taskIDSeq)
	q.mu.Unlock()

	ls.mu.Lock()
	record := &taskRecord{
		id:         taskID,
		task:       task,
		ctx:        ctx,
		generation: ls.generation,
		result:     make(chan taskResult, 1),
	}
	ls.queue = append(ls.queue, record)
	queueSize := len(ls.queue)
	ls.mu.Unlock()

	log.Debug().
		Str("lane", lane).
		Str("task_id", taskID).
		Int("queue_size", queueSize).
		Msg("Task enqueued")
	observability.RecordQueueEnqueue(lane, queueSize)

	go q.dispatch(lane)

	result := <-record.result
	if result.err != nil {
		span.RecordError(result.err)
		span.SetStatus(codes.Error, result.err.Error())
	}
	return result.value, result.err
}

func (q *Queue) ensureLane(lane string) *laneState {
	q.mu.RLock()
	ls, exists := q.lanes[lane]
	q.mu.RUnlock()
	if exists {
		return ls
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if ls, exists = q.lanes[lane]; exists {
		return ls
	}
	ls = &laneState{concurrency: 1}
	q.lanes[lane] = ls
	log.Debug().Str("lane", lane).Msg("Lane initialized")
	return ls
}

// dispatch starts queued tasks while the lane has capacity.
func (q *Queue) dispatch(lane string) {
	q.mu.RLock()
	ls := q.lanes[lane]
	q.mu.RUnlock()
	if ls == nil {
		return
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()

	for ls.running < ls.concurrency && len(ls.queue) > 0 {
		record := ls.queue[0]
		ls.queue = ls.queue[1:]

		// Stale tasks from before a reset are rejected, not run.
		if record.generation != ls.generation {
			record.result <- taskResult{err: fmt.Errorf("task canceled by lane reset")}
			close(record.result)
			continue
		}

		ls.running++
		q.wg.Add(1)
		go q.runTask(lane, ls, record)
	}
}

func (q *Queue) runTask(lane string, ls *laneState, record *taskRecord) {
	defer q.wg.Done()

	taskCtx, cancel := context.WithCancel(record.ctx)
	stopCancel := context.AfterFunc(q.ctx, cancel)
	defer func() {
		stopCancel()
		cancel()
	}()

	start := time.Now()
	value, err := record.task(taskCtx)
	duration := time.Since(start)

	ls.mu.Lock()
	ls.running--
	queueSize := len(ls.queue)
	ls.mu.Unlock()

	record.result <- taskResult{value: value, err: err}
	close(record.result)

	if err != nil {
		log.Error().
			Str("lane", lane).
			Str("task_id", record.id).
			Dur("duration", duration).
			Err(err).
			Msg("Task failed")
	} else {
		log.Debug().
			Str("lane", lane).
			Str("task_id", record.id).
			Dur("duration", duration).
			Msg("Task completed")
	}
	observability.RecordQueueCompletion(lane, duration, err == nil, queueSize)

	go q.dispatch(lane)
}

// QueueSize returns the number of tasks waiting in a lane.
func (q *Queue) QueueSize(lane string) int {
	q.mu.RLock()
	ls, exists := q.lanes[lane]
	q.mu.RUnlock()
	if !exists {
		return 0
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()
	return len(ls.queue)
}

// Running returns the number of tasks executing in a lane.
func (q *Queue) Running(lane string) int {
	q.mu.RLock()
	ls, exists := q.lanes[lane]
	q.mu.RUnlock()
	if !exists {
		return 0
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()
	return ls.running
}

// Stats returns queued/running counts for every lane.
func (q *Queue) Stats() map[string]map[string]int {
	q.mu.RLock()
	defer q.mu.RUnlock()

	stats := make(map[string]map[string]int, len(q.lanes))
	for lane, ls := range q.lanes {
		ls.mu.Lock()
		stats[lane] = map[string]int{
			"queued":  len(ls.queue),
			"running": ls.running,
		}
		ls.mu.Unlock()
	}
	return stats
}

// Reset bumps a lane's generation and rejects everything queued in it.
// A running task is left to finish; tasks enqueued before the reset
// but not yet started will not run.
func (q *Queue) Reset(lane string) {
	q.mu.RLock()
	ls, exists := q.lanes[lane]
	q.mu.RUnlock()
	if !exists {
		return
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()

	ls.generation++
	for _, record := range ls.queue {
		record.result <- taskResult{err: fmt.Errorf("task canceled by lane reset")}
		close(record.result)
	}
	ls.queue = nil

	log.Info().Str("lane", lane).Int("generation", ls.generation).Msg("Lane reset")
	observability.SetQueueSize(lane, 0)
}

// WaitForActive blocks until every lane is idle or the timeout passes.
func (q *Queue) WaitForActive(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		idle := true
		q.mu.RLock()
		for _, ls := range q.lanes {
			ls.mu.Lock()
			if ls.running > 0 || len(ls.queue) > 0 {
				idle = false
			}
			ls.mu.Unlock()
		}
		q.mu.RUnlock()

		if idle {
			return true
		}
		if time.Now().After(deadline) {
			log.Warn().Dur("timeout", timeout).Msg("Timed out waiting for lanes to drain")
			return false
		}
		<-ticker.C
	}
}

// Close cancels in-flight task contexts and waits for them to return.
func (q *Queue) Close() error {
	q.cancel()
	q.wg.Wait()
	return nil
}
