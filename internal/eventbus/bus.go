package eventbus

import (
	"container/heap"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/inference-core/coord-core/internal/clock"
	"github.com/inference-core/coord-core/internal/corerr"
)

// Config sizes and wires a Bus.
type Config struct {
	QueueCapacity int
	Clock         clock.Clock
	Logger        *slog.Logger
}

func (c *Config) applyDefaults() {
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = 4096
	}
	if c.Clock == nil {
		c.Clock = clock.Real{}
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

type subscription struct {
	handlerID string
	handler   Handler
}

// Bus is the in-process, priority-ordered, targeted-routing event bus
// from spec.md §4. Publish enqueues; a single background dispatch
// goroutine drains the priority queue and invokes matching handlers,
// isolating any handler panic or error so it cannot stop delivery to
// the rest of the subscriber set.
type Bus struct {
	cfg Config

	mu    sync.Mutex
	cond  *sync.Cond
	state State

	subs  map[EventType][]*subscription
	queue eventQueue
	seq   uint64

	published uint64
	delivered uint64
	failures  uint64
	dropped   uint64

	stopCh chan struct{}
	doneCh chan struct{}
}

// New constructs a Bus in the UNINITIALIZED state. Call Start before
// publishing.
func New(cfg Config) *Bus {
	cfg.applyDefaults()
	b := &Bus{
		cfg:   cfg,
		subs:  make(map[EventType][]*subscription),
		queue: make(eventQueue, 0),
	}
	b.cond = sync.NewCond(&b.mu)
	heap.Init(&b.queue)
	return b
}

// Start transitions the bus to INITIALIZED and launches its dispatch
// loop. Calling Start again while already INITIALIZED is a no-op;
// calling it after Shutdown is an error.
func (b *Bus) Start() error {
	b.mu.Lock()
	if b.state == StateInitialized {
		b.mu.Unlock()
		return nil
	}
	if b.state != StateUninitialized {
		b.mu.Unlock()
		return fmt.Errorf("bus already shut down (state=%s): %w", b.state, corerr.ErrInvalidInput)
	}
	b.state = StateInitialized
	b.stopCh = make(chan struct{})
	b.doneCh = make(chan struct{})
	b.mu.Unlock()

	go b.dispatchLoop()
	return nil
}

// Subscribe registers handler under handlerID for eventType. handlerID
// doubles as the routing key: a targeted Publish is delivered only to
// handlers whose handlerID contains the event's Target as a substring.
func (b *Bus) Subscribe(eventType EventType, handlerID string, handler Handler) error {
	if handler == nil {
		return fmt.Errorf("handler must not be nil: %w", corerr.ErrInvalidInput)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[eventType] = append(b.subs[eventType], &subscription{handlerID: handlerID, handler: handler})
	return nil
}

// Unsubscribe removes every subscription registered under handlerID
// for eventType.
func (b *Bus) Unsubscribe(eventType EventType, handlerID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[eventType]
	kept := subs[:0]
	for _, s := range subs {
		if s.handlerID != handlerID {
			kept = append(kept, s)
		}
	}
	b.subs[eventType] = kept
}

// PublishSimple publishes a normal-priority, untargeted event carrying
// payload under eventType.
func (b *Bus) PublishSimple(eventType EventType, source string, payload any) error {
	return b.Publish(Event{
		Type:     eventType,
		Priority: PriorityNormal,
		Source:   source,
		Payload:  payload,
	})
}

// Publish enqueues ev for dispatch. Returns corerr.ErrBackpressure if
// the internal queue is at capacity.
func (b *Bus) Publish(ev Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != StateInitialized {
		return fmt.Errorf("bus not initialized (state=%s): %w", b.state, corerr.ErrInvalidInput)
	}
	if len(b.queue) >= b.cfg.QueueCapacity {
		b.dropped++
		return fmt.Errorf("event queue at capacity %d: %w", b.cfg.QueueCapacity, corerr.ErrBackpressure)
	}

	if ev.Timestamp.IsZero() {
		ev.Timestamp = b.cfg.Clock.Now()
	}
	b.seq++
	heap.Push(&b.queue, &queuedEvent{event: ev, sequence: b.seq})
	b.published++
	b.cond.Signal()
	return nil
}

func (b *Bus) dispatchLoop() {
	defer close(b.doneCh)
	for {
		b.mu.Lock()
		for len(b.queue) == 0 && b.state == StateInitialized {
			b.cond.Wait()
		}
		if b.state != StateInitialized && len(b.queue) == 0 {
			b.mu.Unlock()
			return
		}
		item := heap.Pop(&b.queue).(*queuedEvent)
		subs := append([]*subscription(nil), b.subs[item.event.Type]...)
		b.mu.Unlock()

		b.deliver(item.event, subs)
	}
}

func (b *Bus) deliver(ev Event, subs []*subscription) {
	for _, s := range subs {
		if ev.Target != "" && !strings.Contains(s.handlerID, ev.Target) {
			continue
		}
		b.invoke(s, ev)
	}
}

func (b *Bus) invoke(s *subscription, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.mu.Lock()
			b.failures++
			b.mu.Unlock()
			b.cfg.Logger.Error("event handler panicked",
				"handler", s.handlerID, "event_type", ev.Type, "recovered", r)
		}
	}()

	if err := s.handler(ev); err != nil {
		b.mu.Lock()
		b.failures++
		b.mu.Unlock()
		b.cfg.Logger.Error("event handler failed",
			"handler", s.handlerID, "event_type", ev.Type, "error", err)
		return
	}

	b.mu.Lock()
	b.delivered++
	b.mu.Unlock()
}

// Stats returns a snapshot of bus activity and lifecycle state.
func (b *Bus) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	subscriberCount := 0
	for _, subs := range b.subs {
		subscriberCount += len(subs)
	}

	return Stats{
		State:           b.state,
		Subscribers:     subscriberCount,
		Published:       b.published,
		Delivered:       b.delivered,
		HandlerFailures: b.failures,
		Dropped:         b.dropped,
		QueueDepth:      len(b.queue),
	}
}

// Shutdown transitions the bus to SHUT_DOWN, drains any events already
// queued, and waits for the dispatch goroutine to exit.
func (b *Bus) Shutdown() error {
	b.mu.Lock()
	if b.state != StateInitialized {
		b.mu.Unlock()
		return fmt.Errorf("bus not running (state=%s): %w", b.state, corerr.ErrInvalidInput)
	}
	b.state = StateShutDown
	b.cond.Broadcast()
	done := b.doneCh
	b.mu.Unlock()

	<-done
	return nil
}
