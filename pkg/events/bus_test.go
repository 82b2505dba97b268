package events

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingSink) Handle(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func TestBusDispatchesToAllSinks(t *testing.T) {
	a := &recordingSink{}
	b := &recordingSink{}
	bus := NewBus(16, a, b)
	bus.Start()
	defer bus.Stop()

	bus.Publish(Event{Type: TypeStepStarted, ExecutionID: "exec-1", Sequence: 1, OccurredAt: time.Now()})

	require.Eventually(t, func() bool { return a.count() == 1 && b.count() == 1 }, time.Second, time.Millisecond)
}

func TestBusSinkPanicDoesNotStopDispatch(t *testing.T) {
	panicking := SinkFunc(func(Event) { panic("boom") })
	recorder := &recordingSink{}
	bus := NewBus(16, panicking, recorder)
	bus.Start()
	defer bus.Stop()

	bus.Publish(Event{Type: TypeStepFailed, ExecutionID: "exec-1", Sequence: 1})

	require.Eventually(t, func() bool { return recorder.count() == 1 }, time.Second, time.Millisecond)
}

func TestBusDropsOnFullQueueWithoutBlocking(t *testing.T) {
	bus := NewBus(1)
	bus.events <- Event{Type: TypeStepStarted}

	done := make(chan struct{})
	go func() {
		bus.Publish(Event{Type: TypeStepCompleted})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full queue")
	}
}

func TestBusStopDrainsQueuedEvents(t *testing.T) {
	recorder := &recordingSink{}
	bus := NewBus(4, recorder)
	bus.events <- Event{Type: TypeStepStarted}
	bus.events <- Event{Type: TypeStepCompleted}
	bus.Start()
	bus.Stop()

	assert.Equal(t, 2, recorder.count())
}
