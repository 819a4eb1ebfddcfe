package eventbus

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	eventTestA EventType = "test.a"
	eventTestB EventType = "test.b"
)

func newStartedBus(t *testing.T) *Bus {
	t.Helper()
	b := New(Config{QueueCapacity: 16})
	require.NoError(t, b.Start())
	t.Cleanup(func() { _ = b.Shutdown() })
	return b
}

func TestBus_PublishBeforeStart_Rejected(t *testing.T) {
	b := New(Config{})
	err := b.Publish(Event{Type: eventTestA})
	require.Error(t, err)
}

func TestBus_Start_SecondCallIsNoop(t *testing.T) {
	b := newStartedBus(t)
	require.NoError(t, b.Start())
}

func TestBus_Start_AfterShutdown_Errors(t *testing.T) {
	b := New(Config{})
	require.NoError(t, b.Start())
	require.NoError(t, b.Shutdown())
	require.Error(t, b.Start())
}

func TestBus_DeliversToSubscriber(t *testing.T) {
	b := newStartedBus(t)

	var wg sync.WaitGroup
	wg.Add(1)
	var got Event
	require.NoError(t, b.Subscribe(eventTestA, "h1", func(ev Event) error {
		got = ev
		wg.Done()
		return nil
	}))

	require.NoError(t, b.PublishSimple(eventTestA, "src", "payload"))
	waitOrTimeout(t, &wg)

	assert.Equal(t, "payload", got.Payload)
	assert.Equal(t, "src", got.Source)
}

func TestBus_PriorityOrdering(t *testing.T) {
	b := newStartedBus(t)

	var mu sync.Mutex
	var order []string
	var wg sync.WaitGroup
	wg.Add(3)

	require.NoError(t, b.Subscribe(eventTestA, "h1", func(ev Event) error {
		mu.Lock()
		order = append(order, ev.Payload.(string))
		mu.Unlock()
		wg.Done()
		return nil
	}))

	// hold the dispatcher inside a gate handler so that all three
	// events below are pending before any of them is dispatched.
	gate := make(chan struct{})
	entered := make(chan struct{})
	require.NoError(t, b.Subscribe(eventTestB, "gate", func(Event) error {
		close(entered)
		<-gate
		return nil
	}))
	require.NoError(t, b.PublishSimple(eventTestB, "src", nil))
	<-entered

	// publish low, then critical, then normal: critical must be
	// delivered first despite publish order.
	require.NoError(t, b.Publish(Event{Type: eventTestA, Priority: PriorityLow, Payload: "low"}))
	require.NoError(t, b.Publish(Event{Type: eventTestA, Priority: PriorityCritical, Payload: "critical"}))
	require.NoError(t, b.Publish(Event{Type: eventTestA, Priority: PriorityNormal, Payload: "normal"}))
	close(gate)

	waitOrTimeout(t, &wg)

	require.Len(t, order, 3)
	assert.Equal(t, "critical", order[0])
}

func TestBus_TargetedRouting(t *testing.T) {
	b := newStartedBus(t)

	var wg sync.WaitGroup
	wg.Add(1)
	delivered := map[string]bool{}
	var mu sync.Mutex

	mark := func(id string) Handler {
		return func(ev Event) error {
			mu.Lock()
			delivered[id] = true
			mu.Unlock()
			if id == "scheduler.worker1" {
				wg.Done()
			}
			return nil
		}
	}
	require.NoError(t, b.Subscribe(eventTestA, "scheduler.worker1", mark("scheduler.worker1")))
	require.NoError(t, b.Subscribe(eventTestA, "memory.store1", mark("memory.store1")))

	require.NoError(t, b.Publish(Event{Type: eventTestA, Target: "scheduler", Payload: "x"}))
	waitOrTimeout(t, &wg)

	mu.Lock()
	defer mu.Unlock()
	assert.True(t, delivered["scheduler.worker1"])
	assert.False(t, delivered["memory.store1"])
}

func TestBus_HandlerFailureIsolation(t *testing.T) {
	b := newStartedBus(t)

	var wg sync.WaitGroup
	wg.Add(1)
	require.NoError(t, b.Subscribe(eventTestA, "failing", func(Event) error {
		return errors.New("boom")
	}))
	require.NoError(t, b.Subscribe(eventTestA, "healthy", func(Event) error {
		wg.Done()
		return nil
	}))

	require.NoError(t, b.PublishSimple(eventTestA, "src", nil))
	waitOrTimeout(t, &wg)

	stats := b.Stats()
	assert.Equal(t, uint64(1), stats.HandlerFailures)
	assert.Equal(t, uint64(1), stats.Delivered)
}

func TestBus_HandlerPanicIsolation(t *testing.T) {
	b := newStartedBus(t)

	var wg sync.WaitGroup
	wg.Add(1)
	require.NoError(t, b.Subscribe(eventTestA, "panicky", func(Event) error {
		panic("boom")
	}))
	require.NoError(t, b.Subscribe(eventTestA, "healthy", func(Event) error {
		wg.Done()
		return nil
	}))

	require.NoError(t, b.PublishSimple(eventTestA, "src", nil))
	waitOrTimeout(t, &wg)

	assert.Equal(t, uint64(1), b.Stats().HandlerFailures)
}

func TestBus_Unsubscribe(t *testing.T) {
	b := newStartedBus(t)

	calls := 0
	var mu sync.Mutex
	require.NoError(t, b.Subscribe(eventTestB, "h1", func(Event) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return nil
	}))
	b.Unsubscribe(eventTestB, "h1")

	require.NoError(t, b.PublishSimple(eventTestB, "src", nil))
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 0, calls)
}

func TestBus_Backpressure(t *testing.T) {
	b := New(Config{QueueCapacity: 1})
	started := make(chan struct{}, 1)
	require.NoError(t, b.Subscribe(eventTestA, "slow", func(Event) error {
		select {
		case started <- struct{}{}:
		default:
		}
		time.Sleep(50 * time.Millisecond)
		return nil
	}))
	require.NoError(t, b.Start())
	t.Cleanup(func() { _ = b.Shutdown() })

	// the first event is taken by the dispatcher (the slow handler is
	// running), the second fills the queue, the third is rejected.
	require.NoError(t, b.Publish(Event{Type: eventTestA}))
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the first event to be dispatched")
	}
	require.NoError(t, b.Publish(Event{Type: eventTestA}))
	err := b.Publish(Event{Type: eventTestA})
	require.Error(t, err)
}

func waitOrTimeout(t *testing.T, wg *sync.WaitGroup) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event delivery")
	}
}
