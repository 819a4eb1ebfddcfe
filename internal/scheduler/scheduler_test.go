package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inference-core/coord-core/internal/clock"
	"github.com/inference-core/coord-core/internal/inference"
)

type instantBackend struct{}

func (instantBackend) InferBatch(_ context.Context, items []inference.Item) ([]inference.Outcome, error) {
	out := make([]inference.Outcome, len(items))
	for i, it := range items {
		out[i] = inference.Outcome{RequestID: it.RequestID, Text: "ok:" + it.Prompt}
	}
	return out, nil
}

type failingBackend struct{}

func (failingBackend) InferBatch(context.Context, []inference.Item) ([]inference.Outcome, error) {
	return nil, errors.New("backend unavailable")
}

func newTestScheduler(t *testing.T, backend inference.Backend) (*Scheduler, *clock.Fake) {
	t.Helper()
	fake := clock.NewFake(time.Unix(0, 0))
	cfg := DefaultBatchConfig()
	cfg.SchedulerTick = time.Millisecond
	s, err := New(Config{
		Batch:             cfg,
		Backend:           backend,
		Clock:             fake,
		RateLimitRate:     10000,
		RateLimitBurst:    10000,
		RateLimitDuration: time.Second,
	})
	require.NoError(t, err)
	require.NoError(t, s.Start())
	t.Cleanup(s.Stop)
	return s, fake
}

func TestScheduler_SubmitAndComplete(t *testing.T) {
	s, _ := newTestScheduler(t, instantBackend{})

	future, err := s.Submit(Request{ID: "r1", SourceTag: "soldier-unit", Prompt: "hi", MaxTokens: 4})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	outcome, err := future.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ok:hi", outcome.Text)
}

func TestScheduler_PriorityDerivedFromSourceTag(t *testing.T) {
	s, _ := newTestScheduler(t, instantBackend{})

	_, err := s.Submit(Request{ID: "r1", SourceTag: "scholar-research-1", Prompt: "x", MaxTokens: 1})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for {
		stats := s.Statistics()
		if stats.BatchesProcessed > 0 {
			break
		}
		select {
		case <-ctx.Done():
			t.Fatal("timed out waiting for batch to process")
		case <-time.After(time.Millisecond):
		}
	}
}

func TestScheduler_RejectsWhenQueueFull(t *testing.T) {
	backend := instantBackend{}
	fake := clock.NewFake(time.Unix(0, 0))
	cfg := DefaultBatchConfig()
	cfg.SchedulerTick = time.Hour // never ticks during this test
	s, err := New(Config{
		Batch:             cfg,
		Backend:           backend,
		Clock:             fake,
		RateLimitRate:     100000,
		RateLimitBurst:    100000,
		RateLimitDuration: time.Second,
	})
	require.NoError(t, err)

	maxSize := cfg.maxQueueSize(Low)
	for i := 0; i < maxSize; i++ {
		_, err := s.Submit(Request{ID: string(rune('a' + i%26)), SourceTag: "anonymous", Prompt: "x", MaxTokens: 1})
		require.NoError(t, err)
	}
	_, err = s.Submit(Request{ID: "overflow", SourceTag: "anonymous", Prompt: "x", MaxTokens: 1})
	require.Error(t, err)
}

func TestScheduler_ExpiredRequestCompletesWithTimeout(t *testing.T) {
	fake := clock.NewFake(time.Unix(0, 0))
	cfg := DefaultBatchConfig()
	cfg.SchedulerTick = time.Hour
	s, err := New(Config{
		Batch:             cfg,
		Backend:           instantBackend{},
		Clock:             fake,
		RateLimitRate:     10000,
		RateLimitBurst:    10000,
		RateLimitDuration: time.Second,
	})
	require.NoError(t, err)

	future, err := s.Submit(Request{
		ID: "r1", SourceTag: "soldier", Prompt: "x", MaxTokens: 1,
		Deadline: fake.Now().Add(5 * time.Millisecond),
	})
	require.NoError(t, err)

	fake.Advance(10 * time.Millisecond)
	s.CleanupExpired()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	outcome, err := future.Wait(ctx)
	require.NoError(t, err)
	assert.True(t, outcome.TimedOut)
}

func TestScheduler_BackendFailureCompletesWithError(t *testing.T) {
	s, _ := newTestScheduler(t, failingBackend{})

	future, err := s.Submit(Request{ID: "r1", SourceTag: "soldier", Prompt: "x", MaxTokens: 1})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	outcome, err := future.Wait(ctx)
	require.NoError(t, err)
	require.Error(t, outcome.Err)
}

func TestScheduler_AdaptBatchSizes_ShrinksOnHighLatency(t *testing.T) {
	fake := clock.NewFake(time.Unix(0, 0))
	cfg := DefaultBatchConfig()
	cfg.MinAdjustmentInterval = 0
	s, err := New(Config{Batch: cfg, Backend: instantBackend{}, Clock: fake})
	require.NoError(t, err)

	initial := s.batchSizes[Critical]
	for i := 0; i < 20; i++ {
		s.latencyHist[Critical] = append(s.latencyHist[Critical], float64(cfg.CriticalTargetLatency/time.Millisecond)*2)
	}
	s.AdaptBatchSizes()

	assert.Less(t, s.batchSizes[Critical], initial)
}

func TestScheduler_AdaptBatchSizes_GrowsOnLowLatency(t *testing.T) {
	fake := clock.NewFake(time.Unix(0, 0))
	cfg := DefaultBatchConfig()
	cfg.MinAdjustmentInterval = 0
	cfg.InitialBatchSize = 4
	s, err := New(Config{Batch: cfg, Backend: instantBackend{}, Clock: fake})
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		s.latencyHist[Critical] = append(s.latencyHist[Critical], 0.1)
	}
	s.AdaptBatchSizes()

	assert.Greater(t, s.batchSizes[Critical], 4)
}

func TestScheduler_MemoryPressureHalvesBatchSize(t *testing.T) {
	fake := clock.NewFake(time.Unix(0, 0))
	cfg := DefaultBatchConfig()
	cfg.SchedulerTick = time.Hour
	cfg.InitialBatchSize = 8
	pressure := 0.9
	s, err := New(Config{
		Batch:          cfg,
		Backend:        instantBackend{},
		Clock:          fake,
		MemoryPressure: func() float64 { return pressure },
	})
	require.NoError(t, err)
	s.stats.MemoryPressure = pressure

	for i := 0; i < 8; i++ {
		_, err := s.Submit(Request{ID: string(rune('a' + i)), SourceTag: "soldier", Prompt: "x", MaxTokens: 1})
		require.NoError(t, err)
	}

	s.ProcessPriorityQueue(Critical)
	assert.Equal(t, 4, s.queues[Critical].len(), "half of the 8-size batch should have been drained under pressure")
}

func TestScheduler_Shutdown_FailsPendingRequests(t *testing.T) {
	fake := clock.NewFake(time.Unix(0, 0))
	cfg := DefaultBatchConfig()
	cfg.SchedulerTick = time.Hour
	s, err := New(Config{Batch: cfg, Backend: instantBackend{}, Clock: fake, RateLimitRate: 1000, RateLimitBurst: 1000, RateLimitDuration: time.Second})
	require.NoError(t, err)
	require.NoError(t, s.Start())

	future, err := s.Submit(Request{ID: "r1", SourceTag: "soldier", Prompt: "x", MaxTokens: 1})
	require.NoError(t, err)

	s.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	outcome, err := future.Wait(ctx)
	require.NoError(t, err)
	require.Error(t, outcome.Err)
}
