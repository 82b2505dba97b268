package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trinity-run/trinity/pkg/errs"
	"github.com/trinity-run/trinity/pkg/stephandlers"
)

type fakeGateway struct {
	mu          sync.Mutex
	concurrent  int
	maxConcurrent int
	order       []string
	delay       time.Duration
	failAgents  map[string]bool
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{failAgents: make(map[string]bool)}
}

func (g *fakeGateway) ExecuteTask(ctx context.Context, agentName string, task stephandlers.AgentTask) (stephandlers.AgentTaskResult, error) {
	g.mu.Lock()
	g.concurrent++
	if g.concurrent > g.maxConcurrent {
		g.maxConcurrent = g.concurrent
	}
	g.order = append(g.order, task.Message)
	fail := g.failAgents[agentName]
	g.mu.Unlock()

	if g.delay > 0 {
		time.Sleep(g.delay)
	}

	g.mu.Lock()
	g.concurrent--
	g.mu.Unlock()

	if fail {
		return stephandlers.AgentTaskResult{}, errs.New(errs.AgentUnavailable, "agent down")
	}
	return stephandlers.AgentTaskResult{Content: task.Message}, nil
}

func TestQueueRunsAtMostOneTaskPerAgentConcurrently(t *testing.T) {
	gw := newFakeGateway()
	gw.delay = 10 * time.Millisecond
	q := New(Config{}, gw)
	defer q.Stop()

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := q.Submit(context.Background(), "agent-a", "exec-1", stephandlers.AgentTask{Message: "m"})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.LessOrEqual(t, gw.maxConcurrent, 1)
}

func TestQueueReturnsAgentResult(t *testing.T) {
	gw := newFakeGateway()
	q := New(Config{}, gw)
	defer q.Stop()

	result, err := q.Submit(context.Background(), "agent-a", "exec-1", stephandlers.AgentTask{Message: "hello"})

	require.NoError(t, err)
	assert.Equal(t, "hello", result.Content)
}

func TestQueuePropagatesGatewayFailure(t *testing.T) {
	gw := newFakeGateway()
	gw.failAgents["agent-a"] = true
	q := New(Config{}, gw)
	defer q.Stop()

	_, err := q.Submit(context.Background(), "agent-a", "exec-1", stephandlers.AgentTask{Message: "hello"})

	require.Error(t, err)
	assert.Equal(t, errs.AgentUnavailable, errs.KindOf(err))
}

func TestQueueRejectOverflowReturnsQueueFull(t *testing.T) {
	gw := newFakeGateway()
	gw.delay = 50 * time.Millisecond
	q := New(Config{MaxDepthPerAgent: 1, Overflow: OverflowReject}, gw)
	defer q.Stop()

	// Occupy the single running slot; MaxDepthPerAgent counts it, so a
	// second submission while it's in flight has nowhere to queue.
	go func() { _, _ = q.Submit(context.Background(), "agent-a", "exec-1", stephandlers.AgentTask{Message: "first"}) }()
	time.Sleep(5 * time.Millisecond)

	_, err := q.Submit(context.Background(), "agent-a", "exec-2", stephandlers.AgentTask{Message: "second"})

	require.Error(t, err)
	assert.Equal(t, errs.QueueFull, errs.KindOf(err))
}

// TestQueueRejectsThirdSubmitAtDepthTwo: depth 2, agent busy. Submit three
// tasks in rapid succession: first runs, second queues behind it, third is
// rejected because MaxDepthPerAgent counts the running task plus whatever
// is already queued, not queued tasks alone.
func TestQueueRejectsThirdSubmitAtDepthTwo(t *testing.T) {
	gw := newFakeGateway()
	gw.delay = 50 * time.Millisecond
	q := New(Config{MaxDepthPerAgent: 2, Overflow: OverflowReject}, gw)
	defer q.Stop()

	go func() { _, _ = q.Submit(context.Background(), "agent-a", "exec-1", stephandlers.AgentTask{Message: "first"}) }()
	time.Sleep(5 * time.Millisecond) // first is now running

	_, err := q.Enqueue(context.Background(), "agent-a", "exec-2", stephandlers.AgentTask{Message: "second"}, PriorityNormal)
	require.NoError(t, err)

	_, err = q.Enqueue(context.Background(), "agent-a", "exec-3", stephandlers.AgentTask{Message: "third"}, PriorityNormal)
	require.Error(t, err)
	assert.Equal(t, errs.QueueFull, errs.KindOf(err))
}

func TestQueueCancelBeforeRunDiscardsTask(t *testing.T) {
	gw := newFakeGateway()
	gw.delay = 30 * time.Millisecond
	q := New(Config{}, gw)
	defer q.Stop()

	// Occupy the agent so the second task sits queued.
	go func() { _, _ = q.Submit(context.Background(), "agent-a", "exec-1", stephandlers.AgentTask{Message: "first"}) }()
	time.Sleep(5 * time.Millisecond)

	handle, err := q.Enqueue(context.Background(), "agent-a", "exec-2", stephandlers.AgentTask{Message: "second"}, PriorityNormal)
	require.NoError(t, err)
	q.Cancel("agent-a", handle)

	time.Sleep(60 * time.Millisecond)
	gw.mu.Lock()
	defer gw.mu.Unlock()
	assert.NotContains(t, gw.order, "second")
}

func TestQueueRoundRobinsAcrossExecutionsWithinPriority(t *testing.T) {
	gw := newFakeGateway()
	gw.delay = 20 * time.Millisecond
	q := New(Config{}, gw)
	defer q.Stop()

	// Occupy the running slot first so the next three tasks queue behind
	// it in a known order: two from exec-1, then one from exec-2.
	go func() { _, _ = q.Submit(context.Background(), "agent-a", "exec-0", stephandlers.AgentTask{Message: "warmup"}) }()
	time.Sleep(5 * time.Millisecond)

	var handles []*Handle
	for _, task := range []struct{ exec, msg string }{{"exec-1", "1a"}, {"exec-1", "1b"}, {"exec-2", "2a"}} {
		h, err := q.Enqueue(context.Background(), "agent-a", task.exec, stephandlers.AgentTask{Message: task.msg}, PriorityNormal)
		require.NoError(t, err)
		handles = append(handles, h)
	}
	for _, h := range handles {
		_, err := q.Await(context.Background(), "agent-a", h)
		require.NoError(t, err)
	}

	// exec-2's only task runs before exec-1's second one.
	gw.mu.Lock()
	defer gw.mu.Unlock()
	assert.Equal(t, []string{"warmup", "1a", "2a", "1b"}, gw.order)
}
