package events

import (
	"log/slog"
	"sync"
)

// Bus is an in-process publish/subscribe channel. Publish never blocks
// the caller beyond enqueuing; the bus's own goroutine fans events out to
// every registered sink. Per-execution ordering is preserved because the
// engine publishes from inside its own per-execution lock and the bus
// processes its queue in arrival order.
type Bus struct {
	events chan Event
	sinks  []Sink

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewBus returns a Bus with the given sinks and a queue of the given
// depth. Call Start before publishing.
func NewBus(queueDepth int, sinks ...Sink) *Bus {
	if queueDepth <= 0 {
		queueDepth = 1024
	}
	return &Bus{
		events: make(chan Event, queueDepth),
		sinks:  sinks,
		stopCh: make(chan struct{}),
	}
}

// AddSink registers an additional sink. Not safe to call concurrently
// with Start.
func (b *Bus) AddSink(s Sink) {
	b.sinks = append(b.sinks, s)
}

// Start launches the bus's dispatch loop.
func (b *Bus) Start() {
	b.wg.Add(1)
	go b.run()
}

func (b *Bus) run() {
	defer b.wg.Done()
	for {
		select {
		case evt := <-b.events:
			b.dispatch(evt)
		case <-b.stopCh:
			// Drain whatever is already queued before returning, so a
			// graceful shutdown does not drop events already persisted.
			for {
				select {
				case evt := <-b.events:
					b.dispatch(evt)
				default:
					return
				}
			}
		}
	}
}

func (b *Bus) dispatch(evt Event) {
	for _, sink := range b.sinks {
		func(s Sink) {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("event sink panicked", "sink", s, "event_type", evt.Type, "recover", r)
				}
			}()
			s.Handle(evt)
		}(sink)
	}
}

// Publish enqueues evt for delivery to every sink. Must only be called
// after the causing state change has been durably persisted (outbox
// discipline); the bus does not itself persist anything.
func (b *Bus) Publish(evt Event) {
	select {
	case b.events <- evt:
	default:
		// Queue full: log and drop rather than block the coordinator.
		// Audit durability comes from persistence, not from the bus, so
		// a dropped event never loses the underlying state transition.
		slog.Warn("event bus queue full, dropping event", "event_type", evt.Type, "execution_id", evt.ExecutionID)
	}
}

// Stop drains the queue and waits for the dispatch loop to exit.
func (b *Bus) Stop() {
	b.stopOnce.Do(func() { close(b.stopCh) })
	b.wg.Wait()
}
