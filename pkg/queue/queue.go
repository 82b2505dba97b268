// Package queue implements Trinity's AgentExecutionQueue: a per-agent
// queue guaranteeing at most one in-flight task per agent, fair across
// the processes sharing that agent. Grounded on the teacher's
// pkg/queue/pool.go (worker goroutines, cancel registry, graceful stop)
// and pkg/queue/worker.go (claim-one-task-at-a-time loop), repurposed
// from a single DB-backed session queue into many small in-memory
// per-agent queues.
package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/trinity-run/trinity/pkg/errs"
	"github.com/trinity-run/trinity/pkg/stephandlers"
)

// Priority is a task's scheduling priority band.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
)

// Overflow is the configured behavior when an agent's queue depth cap is
// reached.
type Overflow string

const (
	// OverflowQueue enqueues without a depth cap (the default).
	OverflowQueue Overflow = "queue"
	// OverflowReject returns QueueFull immediately once depth is reached.
	OverflowReject Overflow = "reject"
	// OverflowDelay waits up to Config.QueueTimeout for room before
	// returning QueueFull.
	OverflowDelay Overflow = "delay"
)

// Config governs one Queue's overflow behavior.
type Config struct {
	// MaxDepthPerAgent caps tasks held per agent, counting the one
	// currently running plus whatever is queued behind it. Only
	// consulted when Overflow is Reject or Delay.
	MaxDepthPerAgent int
	Overflow         Overflow
	QueueTimeout     time.Duration
}

func (c Config) depthCapped() bool {
	return c.Overflow == OverflowReject || c.Overflow == OverflowDelay
}

// Gateway is the subset of pkg/agentgateway.AgentGateway the queue needs
// to actually run a task once it reaches the front of its agent's queue.
type Gateway interface {
	ExecuteTask(ctx context.Context, agentName string, task stephandlers.AgentTask) (stephandlers.AgentTaskResult, error)
}

// Queue is Trinity's AgentExecutionQueue. It implements
// stephandlers.TaskSubmitter.
type Queue struct {
	cfg     Config
	gateway Gateway

	mu     sync.Mutex
	agents map[string]*agentQueue

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// New returns a Queue dispatching through gateway with the given config.
func New(cfg Config, gateway Gateway) *Queue {
	if cfg.Overflow == "" {
		cfg.Overflow = OverflowQueue
	}
	return &Queue{
		cfg:     cfg,
		gateway: gateway,
		agents:  make(map[string]*agentQueue),
		stopCh:  make(chan struct{}),
	}
}

func (q *Queue) agentFor(agentName string) *agentQueue {
	q.mu.Lock()
	defer q.mu.Unlock()
	aq, ok := q.agents[agentName]
	if !ok {
		aq = newAgentQueue(agentName, q.cfg, q.gateway)
		q.agents[agentName] = aq
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			aq.run(q.stopCh)
		}()
	}
	return aq
}

// Submit enqueues task for agentName and blocks until it completes, is
// rejected by the overflow policy, or ctx is cancelled. Implements
// stephandlers.TaskSubmitter.
func (q *Queue) Submit(ctx context.Context, agentName, executionID string, task stephandlers.AgentTask) (stephandlers.AgentTaskResult, error) {
	return q.SubmitWithPriority(ctx, agentName, executionID, task, PriorityNormal)
}

// SubmitWithPriority is Submit with an explicit priority band.
func (q *Queue) SubmitWithPriority(ctx context.Context, agentName, executionID string, task stephandlers.AgentTask, priority Priority) (stephandlers.AgentTaskResult, error) {
	aq := q.agentFor(agentName)
	handle, err := aq.enqueue(ctx, executionID, task, priority)
	if err != nil {
		return stephandlers.AgentTaskResult{}, err
	}

	select {
	case res := <-handle.resultCh:
		return res.result, res.err
	case <-ctx.Done():
		aq.cancel(handle)
		return stephandlers.AgentTaskResult{}, errs.Wrap(errs.Cancelled, "task cancelled before agent ran it", ctx.Err())
	}
}

// Enqueue submits task without blocking for its result, returning a
// Handle the caller can poll via Position or cancel. Await blocks until
// the task completes or ctx is done.
func (q *Queue) Enqueue(ctx context.Context, agentName, executionID string, task stephandlers.AgentTask, priority Priority) (*Handle, error) {
	return q.agentFor(agentName).enqueue(ctx, executionID, task, priority)
}

// Await blocks until handle's task completes or ctx is cancelled,
// cancelling the handle in the latter case.
func (q *Queue) Await(ctx context.Context, agentName string, handle *Handle) (stephandlers.AgentTaskResult, error) {
	aq := q.agentFor(agentName)
	select {
	case res := <-handle.resultCh:
		return res.result, res.err
	case <-ctx.Done():
		aq.cancel(handle)
		return stephandlers.AgentTaskResult{}, errs.Wrap(errs.Cancelled, "task cancelled before agent ran it", ctx.Err())
	}
}

// Cancel marks handle cancelled. If still queued it is discarded without
// running; if already in flight, cancellation is best-effort via the
// context originally passed to Enqueue/Submit.
func (q *Queue) Cancel(agentName string, handle *Handle) {
	q.mu.Lock()
	aq, exists := q.agents[agentName]
	q.mu.Unlock()
	if exists {
		aq.cancel(handle)
	}
}

// RunningTask reports the execution id currently in flight for agentName,
// if any.
func (q *Queue) RunningTask(agentName string) (executionID string, ok bool) {
	q.mu.Lock()
	aq, exists := q.agents[agentName]
	q.mu.Unlock()
	if !exists {
		return "", false
	}
	return aq.runningExecutionID()
}

// QueuedCount reports how many tasks are waiting (not yet running) for
// agentName.
func (q *Queue) QueuedCount(agentName string) int {
	q.mu.Lock()
	aq, exists := q.agents[agentName]
	q.mu.Unlock()
	if !exists {
		return 0
	}
	return aq.queuedCount()
}

// Position reports handle's 1-based position in agentName's queue
// (0 if it is not currently queued, e.g. already running or completed).
func (q *Queue) Position(agentName string, handle *Handle) (int, bool) {
	q.mu.Lock()
	aq, exists := q.agents[agentName]
	q.mu.Unlock()
	if !exists {
		return 0, false
	}
	return aq.position(handle)
}

// Stop signals every per-agent worker to finish its current task and
// exit, then waits for them.
func (q *Queue) Stop() {
	q.stopOnce.Do(func() { close(q.stopCh) })
	q.wg.Wait()
	slog.Info("agent execution queue stopped")
}
