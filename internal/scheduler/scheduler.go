package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"github.com/yasserelgammal/rate-limiter/limiter"
	"github.com/yasserelgammal/rate-limiter/store"

	"github.com/inference-core/coord-core/internal/clock"
	"github.com/inference-core/coord-core/internal/corerr"
	"github.com/inference-core/coord-core/internal/inference"
)

// Config wires a Scheduler's dependencies and tuning.
type Config struct {
	Batch   BatchConfig
	Backend inference.Backend
	Clock   clock.Clock
	Logger  *slog.Logger

	// RateLimit gates Submit per source module: Rate requests per
	// Duration, with Burst allowed instantaneously.
	RateLimitRate     int64
	RateLimitDuration time.Duration
	RateLimitBurst    int64

	// MemoryPressure reports current memory utilization in [0, 1].
	// Defaults to a constant-zero provider (no throttling) when nil.
	MemoryPressure func() float64
}

func (c *Config) applyDefaults() {
	var zero BatchConfig
	if c.Batch == zero {
		c.Batch = DefaultBatchConfig()
	}
	if c.Clock == nil {
		c.Clock = clock.Real{}
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.RateLimitRate == 0 {
		c.RateLimitRate = 1000
	}
	if c.RateLimitDuration == 0 {
		c.RateLimitDuration = time.Second
	}
	if c.RateLimitBurst == 0 {
		c.RateLimitBurst = 2000
	}
	if c.MemoryPressure == nil {
		c.MemoryPressure = func() float64 { return 0 }
	}
}

type pendingRequest struct {
	req    Request
	future *Future
}

// Scheduler is the adaptive batch scheduler from spec.md §7.
type Scheduler struct {
	cfg Config

	mu          sync.Mutex
	queues      map[Priority]*fifoQueue
	pending     map[string]*pendingRequest // request ID -> pending entry, for expiry/cleanup
	batchSizes  map[Priority]int
	latencyHist map[Priority][]float64

	lastAdjustment time.Time
	running        bool
	stopCh         chan struct{}
	doneCh         chan struct{}

	limiter *limiter.TokenBucket

	breaker *gobreaker.CircuitBreaker

	predictor *latencyPredictor

	stats Statistics
}

// Statistics is the snapshot returned by (*Scheduler).Statistics.
type Statistics struct {
	BatchesProcessed      uint64
	BatchSizeAdjustments  uint64
	MemoryPressureEvents  uint64
	RequestsExpired       uint64
	RequestsRejected      uint64
	AvgBatchSize          float64
	AvgLatencyMs          float64
	MemoryPressure        float64
	Running               bool
	PriorityStats         map[Priority]PriorityStatistics
}

// PriorityStatistics breaks Statistics down per priority class,
// supplementing the original's flat per-priority dict with a typed
// equivalent.
type PriorityStatistics struct {
	QueueSize         int
	MaxQueueSize      int
	CurrentBatchSize  int
	AvgLatencyMs      float64
	TargetLatencyMs   float64
}

// New builds a Scheduler. Call Start to begin processing.
func New(cfg Config) (*Scheduler, error) {
	cfg.applyDefaults()
	if cfg.Backend == nil {
		return nil, fmt.Errorf("scheduler requires a Backend: %w", corerr.ErrInvalidInput)
	}

	s := &Scheduler{
		cfg:         cfg,
		queues:      make(map[Priority]*fifoQueue),
		pending:     make(map[string]*pendingRequest),
		batchSizes:  make(map[Priority]int),
		latencyHist: make(map[Priority][]float64),
		predictor:   newLatencyPredictor(cfg.Logger),
	}
	for _, p := range allPriorities {
		s.queues[p] = newFifoQueue(cfg.Batch.maxQueueSize(p))
		s.batchSizes[p] = cfg.Batch.InitialBatchSize
	}

	rlStore := store.NewMemoryStore(cfg.RateLimitDuration)
	tokenBucket, err := limiter.NewTokenBucket(limiter.Config{
		Rate:     cfg.RateLimitRate,
		Duration: cfg.RateLimitDuration,
		Burst:    cfg.RateLimitBurst,
	}, rlStore)
	if err != nil {
		return nil, fmt.Errorf("building rate limiter: %w", err)
	}
	s.limiter = tokenBucket

	s.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "inference-backend",
		MaxRequests: 1,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	return s, nil
}

// Start launches the scheduler loop.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already running: %w", corerr.ErrInvalidInput)
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.mu.Unlock()

	go s.loop()
	return nil
}

// Stop signals the scheduler loop to exit and waits for it to finish
// the in-flight tick.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	done := s.doneCh
	s.mu.Unlock()

	<-done
}

// Submit enqueues req under the priority class derived from
// req.SourceTag, gated by a per-source-module rate limiter. The
// returned Future resolves once a batch containing req completes, the
// request expires, or the scheduler shuts down. A request that is
// rate limited or finds its queue at capacity is rejected with
// corerr.ErrQueueOverflow and no Future; a Deadline earlier than the
// submission time is rejected with corerr.ErrInvalidInput.
func (s *Scheduler) Submit(req Request) (*Future, error) {
	if !s.limiter.Allow(req.SourceTag) {
		return nil, fmt.Errorf("source %q rate limited: %w", req.SourceTag, corerr.ErrQueueOverflow)
	}

	req.Priority = DerivePriority(req.SourceTag)
	now := s.cfg.Clock.Now()
	req.Submitted = now
	if !req.Deadline.IsZero() && req.Deadline.Before(now) {
		return nil, fmt.Errorf("request %q deadline precedes submission: %w", req.ID, corerr.ErrInvalidInput)
	}
	if req.Deadline.IsZero() {
		req.Deadline = now.Add(s.cfg.Batch.targetLatency(req.Priority))
	}

	future := newFuture()

	s.mu.Lock()
	defer s.mu.Unlock()

	q := s.queues[req.Priority]
	if !q.push(req) {
		s.stats.RequestsRejected++
		return nil, fmt.Errorf("queue for %s at capacity: %w", req.Priority, corerr.ErrQueueOverflow)
	}
	s.pending[req.ID] = &pendingRequest{req: req, future: future}
	return future, nil
}

func (s *Scheduler) loop() {
	defer close(s.doneCh)
	ticker := time.NewTicker(s.cfg.Batch.SchedulerTick)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

func (s *Scheduler) tick() {
	pressure := s.cfg.MemoryPressure()
	s.mu.Lock()
	s.stats.MemoryPressure = pressure
	if pressure > s.cfg.Batch.MemoryPressureThresh {
		s.stats.MemoryPressureEvents++
	}
	s.mu.Unlock()

	for _, p := range allPriorities {
		s.ProcessPriorityQueue(p)
	}
	s.AdaptBatchSizes()
	s.CleanupExpired()
}

// ProcessPriorityQueue drains up to the current batch size of ready
// requests from priority's queue (halved under memory pressure) and
// dispatches them as one batch.
func (s *Scheduler) ProcessPriorityQueue(priority Priority) {
	now := s.cfg.Clock.Now()

	s.mu.Lock()
	q := s.queues[priority]
	batchSize := s.batchSizes[priority]
	if s.stats.MemoryPressure > s.cfg.Batch.MemoryPressureThresh {
		batchSize = maxInt(1, batchSize/2)
	}

	var batch []pendingRequest
	for len(batch) < batchSize {
		req, ok := q.peek()
		if !ok {
			break
		}
		if now.After(req.Deadline) {
			q.pop()
			pending := s.pending[req.ID]
			delete(s.pending, req.ID)
			s.stats.RequestsExpired++
			s.mu.Unlock()
			if pending != nil {
				pending.future.complete(Outcome{RequestID: req.ID, TimedOut: true, Err: corerr.ErrRequestExpired})
			}
			s.mu.Lock()
			continue
		}
		q.pop()
		batch = append(batch, *s.pending[req.ID])
	}
	s.mu.Unlock()

	if len(batch) == 0 {
		return
	}
	s.ProcessBatch(batch, priority)
}

// ProcessBatch runs batch through the inference backend behind a
// circuit breaker, then completes every request's Future.
func (s *Scheduler) ProcessBatch(batch []pendingRequest, priority Priority) {
	start := s.cfg.Clock.Now()

	items := make([]inference.Item, len(batch))
	var totalTokens int
	for i, p := range batch {
		items[i] = inference.Item{RequestID: p.req.ID, Prompt: p.req.Prompt, MaxTokens: p.req.MaxTokens}
		totalTokens += p.req.MaxTokens
	}
	avgTokens := float64(totalTokens) / float64(len(batch))

	result, err := s.breaker.Execute(func() (any, error) {
		return s.cfg.Backend.InferBatch(context.Background(), items)
	})

	latencyMs := float64(s.cfg.Clock.Now().Sub(start)) / float64(time.Millisecond)

	s.mu.Lock()
	for _, p := range batch {
		delete(s.pending, p.req.ID)
	}
	s.stats.BatchesProcessed++
	total := s.stats.BatchesProcessed
	s.stats.AvgBatchSize = (s.stats.AvgBatchSize*float64(total-1) + float64(len(batch))) / float64(total)
	s.stats.AvgLatencyMs = (s.stats.AvgLatencyMs*float64(total-1) + latencyMs) / float64(total)
	s.latencyHist[priority] = appendBounded(s.latencyHist[priority], latencyMs, s.cfg.Batch.LatencyWindowSize)
	s.mu.Unlock()

	s.predictor.Observe(priority, len(batch), avgTokens, latencyMs)

	if err != nil {
		s.cfg.Logger.Error("batch inference failed", "priority", priority, "batch_size", len(batch), "error", err)
		for _, p := range batch {
			p.future.complete(Outcome{RequestID: p.req.ID, Err: fmt.Errorf("%w: %v", corerr.ErrBackend, err)})
		}
		return
	}

	outcomes, _ := result.([]inference.Outcome)
	byID := make(map[string]inference.Outcome, len(outcomes))
	for _, o := range outcomes {
		byID[o.RequestID] = o
	}
	for _, p := range batch {
		o, ok := byID[p.req.ID]
		if !ok {
			p.future.complete(Outcome{RequestID: p.req.ID, Err: fmt.Errorf("%w: no outcome for request", corerr.ErrBackend)})
			continue
		}
		p.future.complete(Outcome{RequestID: p.req.ID, Text: o.Text, LatencyMs: latencyMs})
	}
}

func appendBounded(history []float64, v float64, max int) []float64 {
	history = append(history, v)
	if len(history) > max {
		history = history[len(history)-max:]
	}
	return history
}

// AdaptBatchSizes shrinks or grows each priority's batch size toward
// its target latency, at most once per MinAdjustmentInterval. This is
// the deterministic rule from spec.md §7; latencyPredictor.Estimate is
// not consulted here.
func (s *Scheduler) AdaptBatchSizes() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.cfg.Clock.Now()
	if now.Sub(s.lastAdjustment) < s.cfg.Batch.MinAdjustmentInterval {
		return
	}

	for _, p := range allPriorities {
		hist := s.latencyHist[p]
		if len(hist) < 10 {
			continue
		}
		avg := mean(hist)
		target := float64(s.cfg.Batch.targetLatency(p)) / float64(time.Millisecond)
		current := s.batchSizes[p]

		var next int
		switch {
		case avg > target*1.2:
			next = maxInt(s.cfg.Batch.MinBatchSize, int(float64(current)*(1-s.cfg.Batch.AdjustmentFactor)))
		case avg < target*0.8:
			next = minInt(s.cfg.Batch.MaxBatchSize, int(math.Ceil(float64(current)*(1+s.cfg.Batch.AdjustmentFactor))))
		default:
			continue
		}
		if next != current {
			s.batchSizes[p] = next
			s.stats.BatchSizeAdjustments++
			s.cfg.Logger.Info("batch size adjusted",
				"priority", p, "from", current, "to", next, "avg_latency_ms", avg, "target_latency_ms", target)
		}
	}
	s.lastAdjustment = now
}

// CleanupExpired pops and fails every request whose deadline has
// already passed, from the front of each priority's queue.
func (s *Scheduler) CleanupExpired() {
	now := s.cfg.Clock.Now()

	s.mu.Lock()
	var expired []*pendingRequest
	for _, p := range allPriorities {
		q := s.queues[p]
		for {
			req, ok := q.peek()
			if !ok || !now.After(req.Deadline) {
				break
			}
			q.pop()
			if pending, found := s.pending[req.ID]; found {
				expired = append(expired, pending)
				delete(s.pending, req.ID)
			}
			s.stats.RequestsExpired++
		}
	}
	s.mu.Unlock()

	for _, pending := range expired {
		pending.future.complete(Outcome{RequestID: pending.req.ID, TimedOut: true, Err: corerr.ErrRequestExpired})
	}
}

// Statistics returns a point-in-time snapshot of scheduler activity.
func (s *Scheduler) Statistics() Statistics {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := s.stats
	out.Running = s.running
	out.PriorityStats = make(map[Priority]PriorityStatistics, len(allPriorities))
	for _, p := range allPriorities {
		hist := s.latencyHist[p]
		out.PriorityStats[p] = PriorityStatistics{
			QueueSize:        s.queues[p].len(),
			MaxQueueSize:     s.cfg.Batch.maxQueueSize(p),
			CurrentBatchSize: s.batchSizes[p],
			AvgLatencyMs:     mean(hist),
			TargetLatencyMs:  float64(s.cfg.Batch.targetLatency(p)) / float64(time.Millisecond),
		}
	}
	return out
}

// Shutdown stops the scheduler loop and fails every still-pending
// request.
func (s *Scheduler) Shutdown() {
	s.Stop()

	s.mu.Lock()
	pending := make([]*pendingRequest, 0, len(s.pending))
	for _, p := range s.pending {
		pending = append(pending, p)
	}
	s.pending = make(map[string]*pendingRequest)
	for _, p := range allPriorities {
		s.queues[p] = newFifoQueue(s.cfg.Batch.maxQueueSize(p))
	}
	s.mu.Unlock()

	for _, p := range pending {
		p.future.complete(Outcome{RequestID: p.req.ID, Err: fmt.Errorf("scheduler shutting down: %w", corerr.ErrRequestExpired)})
	}
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
