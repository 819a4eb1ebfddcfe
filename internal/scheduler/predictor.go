package scheduler

import (
	"log/slog"
	"sync"

	"github.com/cdipaolo/goml/base"
	"github.com/cdipaolo/goml/linear"
)

// latencyFeatureCount matches the 3 features fed to the model:
// priority class, batch size, average requested tokens.
const latencyFeatureCount = 3

const maxTrainingHistory = 1000

// latencyPredictor is an auxiliary, diagnostic-only online regressor
// over observed batch latencies. It never gates scheduling decisions;
// AdaptBatchSizes uses the deterministic rule from spec.md §7. Every
// processed batch is fed to Observe, but nothing in the scheduler
// calls Estimate, and Statistics does not report a predicted latency.
//
// Grounded verbatim on
// kernel/threads/intelligence/learning/engine.go's costModel: a
// linear.LeastSquares fed through a buffered, non-blocking channel and
// fit incrementally by a dedicated goroutine.
type latencyPredictor struct {
	mu    sync.RWMutex
	model *linear.LeastSquares
	dataX [][]float64
	dataY []float64

	trainCh chan base.Datapoint
	errCh   chan error
	logger  *slog.Logger
}

func newLatencyPredictor(logger *slog.Logger) *latencyPredictor {
	dummyX := [][]float64{{0, 0, 0}}
	dummyY := []float64{0}
	model := linear.NewLeastSquares(base.BatchGA, 0.0001, 0, 1, dummyX, dummyY)

	p := &latencyPredictor{
		model:   model,
		trainCh: make(chan base.Datapoint, 100),
		errCh:   make(chan error, 10),
		logger:  logger,
	}
	go p.run()
	go p.drainErrors()
	return p
}

func (p *latencyPredictor) run() {
	for point := range p.trainCh {
		p.mu.Lock()
		p.dataX = append(p.dataX, point.X)
		p.dataY = append(p.dataY, point.Y[0])

		if len(p.dataX) > maxTrainingHistory {
			p.dataX = p.dataX[1:]
			p.dataY = p.dataY[1:]
		}

		err := p.model.UpdateTrainingSet(p.dataX, p.dataY)
		if err == nil {
			err = p.model.Learn()
		}
		p.mu.Unlock()

		if err != nil {
			p.errCh <- err
		}
	}
}

func (p *latencyPredictor) drainErrors() {
	for err := range p.errCh {
		p.logger.Debug("latency predictor training step failed", "error", err)
	}
}

// Observe records one completed batch's (priority, batch size, avg
// tokens) -> latency_ms sample for online fitting. Non-blocking: a
// full training channel drops the sample rather than stalling the
// scheduler loop.
func (p *latencyPredictor) Observe(priority Priority, batchSize int, avgTokens float64, latencyMs float64) {
	point := base.Datapoint{
		X: []float64{float64(priority), float64(batchSize), avgTokens},
		Y: []float64{latencyMs},
	}
	select {
	case p.trainCh <- point:
	default:
	}
}

// Estimate predicts latency_ms for a hypothetical (priority, batch
// size, avg tokens) triple. Returns ok=false until the model has seen
// at least one real sample.
func (p *latencyPredictor) Estimate(priority Priority, batchSize int, avgTokens float64) (ms float64, ok bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if len(p.dataX) == 0 {
		return 0, false
	}
	val, err := p.model.Predict([]float64{float64(priority), float64(batchSize), avgTokens})
	if err != nil || len(val) == 0 {
		return 0, false
	}
	return val[0], true
}
