package queue

import (
	"context"
	"sync"
	"time"

	"github.com/trinity-run/trinity/pkg/errs"
	"github.com/trinity-run/trinity/pkg/stephandlers"
)

// Handle is a cancellable reference to one submitted task.
type Handle struct {
	id          string
	executionID string
	priority    Priority
	task        stephandlers.AgentTask
	ctx         context.Context
	resultCh    chan taskResult
	cancelled   bool
}

// ExecutionID returns the execution id that submitted this task.
func (h *Handle) ExecutionID() string { return h.executionID }

type taskResult struct {
	result stephandlers.AgentTaskResult
	err    error
}

// band holds one priority level's per-execution FIFOs in round-robin
// dispatch order, so no single execution can starve its priority peers.
type band struct {
	order  []string
	queues map[string][]*Handle
	cursor int
}

func newBand() *band {
	return &band{queues: make(map[string][]*Handle)}
}

func (b *band) push(executionID string, h *Handle) {
	if _, ok := b.queues[executionID]; !ok {
		b.order = append(b.order, executionID)
	}
	b.queues[executionID] = append(b.queues[executionID], h)
}

func (b *band) len() int {
	n := 0
	for _, q := range b.queues {
		n += len(q)
	}
	return n
}

// pop returns the next non-cancelled handle in round-robin order,
// discarding cancelled entries as it encounters them.
func (b *band) pop() *Handle {
	n := len(b.order)
	for i := 0; i < n; i++ {
		idx := (b.cursor + i) % n
		execID := b.order[idx]
		q := b.queues[execID]
		for len(q) > 0 && q[0].cancelled {
			q = q[1:]
		}
		b.queues[execID] = q
		if len(q) == 0 {
			continue
		}
		h := q[0]
		b.queues[execID] = q[1:]
		b.cursor = (idx + 1) % n
		return h
	}
	return nil
}

// agentQueue serializes tasks for a single agent: at most one running at
// a time, fair across the executions sharing it.
type agentQueue struct {
	name    string
	cfg     Config
	gateway Gateway

	mu         sync.Mutex
	bands      [3]*band
	depth      int
	running    *Handle
	roomSignal chan struct{}
	wake       chan struct{}
}

func newAgentQueue(name string, cfg Config, gateway Gateway) *agentQueue {
	return &agentQueue{
		name:       name,
		cfg:        cfg,
		gateway:    gateway,
		bands:      [3]*band{newBand(), newBand(), newBand()},
		roomSignal: make(chan struct{}),
		wake:       make(chan struct{}, 1),
	}
}

// admittedLocked returns the number of tasks this agent currently holds,
// queued plus the one (if any) running, so MaxDepthPerAgent caps total
// concurrent work rather than just what is waiting in line. Caller must
// hold aq.mu.
func (aq *agentQueue) admittedLocked() int {
	n := aq.depth
	if aq.running != nil {
		n++
	}
	return n
}

func (aq *agentQueue) enqueue(ctx context.Context, executionID string, task stephandlers.AgentTask, priority Priority) (*Handle, error) {
	aq.mu.Lock()
	if aq.cfg.depthCapped() && aq.admittedLocked() >= aq.cfg.MaxDepthPerAgent {
		aq.mu.Unlock()
		switch aq.cfg.Overflow {
		case OverflowDelay:
			if !aq.waitForRoom(ctx) {
				return nil, errs.New(errs.QueueFull, "agent queue full after waiting out queue_timeout")
			}
		default:
			return nil, errs.New(errs.QueueFull, "agent queue full")
		}
		aq.mu.Lock()
	}

	h := &Handle{
		executionID: executionID,
		priority:    priority,
		task:        task,
		ctx:         ctx,
		resultCh:    make(chan taskResult, 1),
	}
	aq.bands[priority].push(executionID, h)
	aq.depth++
	aq.mu.Unlock()

	select {
	case aq.wake <- struct{}{}:
	default:
	}
	return h, nil
}

func (aq *agentQueue) waitForRoom(ctx context.Context) bool {
	deadline := time.Now().Add(aq.cfg.QueueTimeout)
	for {
		aq.mu.Lock()
		if aq.admittedLocked() < aq.cfg.MaxDepthPerAgent {
			aq.mu.Unlock()
			return true
		}
		sig := aq.roomSignal
		aq.mu.Unlock()

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false
		}
		timer := time.NewTimer(remaining)
		select {
		case <-sig:
			timer.Stop()
		case <-timer.C:
			return false
		case <-ctx.Done():
			timer.Stop()
			return false
		}
	}
}

func (aq *agentQueue) freeSlot() {
	aq.mu.Lock()
	old := aq.roomSignal
	aq.roomSignal = make(chan struct{})
	aq.mu.Unlock()
	close(old)
}

func (aq *agentQueue) cancel(h *Handle) {
	aq.mu.Lock()
	h.cancelled = true
	aq.mu.Unlock()
}

func (aq *agentQueue) dequeue() *Handle {
	aq.mu.Lock()
	defer aq.mu.Unlock()
	for p := PriorityHigh; p >= PriorityLow; p-- {
		// pop also drops the cancelled handles it passes over; every
		// handle that leaves the band, run or dropped, leaves depth too.
		before := aq.bands[p].len()
		h := aq.bands[p].pop()
		aq.depth -= before - aq.bands[p].len()
		if h != nil {
			return h
		}
	}
	return nil
}

func (aq *agentQueue) runningExecutionID() (string, bool) {
	aq.mu.Lock()
	defer aq.mu.Unlock()
	if aq.running == nil {
		return "", false
	}
	return aq.running.executionID, true
}

func (aq *agentQueue) queuedCount() int {
	aq.mu.Lock()
	defer aq.mu.Unlock()
	return aq.depth
}

// position simulates round-robin draining of every band ahead of h's own
// (all higher-priority bands count in full) plus h's own band up to and
// including h, without mutating live queue state.
func (aq *agentQueue) position(h *Handle) (int, bool) {
	aq.mu.Lock()
	defer aq.mu.Unlock()

	pos := 0
	for p := PriorityHigh; p > h.priority; p-- {
		pos += aq.bands[p].len()
	}

	own := aq.bands[h.priority]
	sim := &band{order: append([]string(nil), own.order...), cursor: own.cursor, queues: make(map[string][]*Handle, len(own.queues))}
	for k, v := range own.queues {
		sim.queues[k] = append([]*Handle(nil), v...)
	}
	for i := 0; i < own.len(); i++ {
		next := sim.pop()
		if next == nil {
			return 0, false
		}
		pos++
		if next == h {
			return pos, true
		}
	}
	return 0, false
}

func (aq *agentQueue) run(stopCh <-chan struct{}) {
	for {
		h := aq.dequeue()
		if h == nil {
			select {
			case <-aq.wake:
				continue
			case <-stopCh:
				return
			case <-time.After(50 * time.Millisecond):
				continue
			}
		}
		aq.freeSlot()

		if h.cancelled {
			continue
		}

		aq.mu.Lock()
		aq.running = h
		aq.mu.Unlock()

		result, err := aq.gateway.ExecuteTask(h.ctx, aq.name, h.task)

		aq.mu.Lock()
		aq.running = nil
		aq.mu.Unlock()

		h.resultCh <- taskResult{result: result, err: err}

		select {
		case <-stopCh:
			return
		default:
		}
	}
}
