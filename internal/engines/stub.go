package engines

import "context"

// StubLowLatency is a deterministic LowLatencyEngine for wiring and
// tests: it never calls out to a real backend.
type StubLowLatency struct{}

func (StubLowLatency) Initialize(context.Context) error { return nil }

func (StubLowLatency) Execute(_ context.Context, prompt string) (Result, error) {
	return Result{Answer: "ack: " + prompt, Confidence: 0.5}, nil
}

// StubStrategy is a deterministic StrategyEngine for wiring and tests.
type StubStrategy struct{}

func (StubStrategy) Initialize(context.Context) error { return nil }

func (StubStrategy) Analyze(_ context.Context, prompt string) (Analysis, error) {
	return Analysis{
		Recommendation: "hold",
		Confidence:     0.5,
		RiskLevel:      "medium",
		Reasoning:      "stub analysis of: " + prompt,
		Metadata:       map[string]any{},
	}, nil
}

// StubResearch is a deterministic ResearchEngine for wiring and tests.
type StubResearch struct{}

func (StubResearch) Initialize(context.Context) error { return nil }

func (StubResearch) Investigate(_ context.Context, prompt string) (Finding, error) {
	return Finding{
		Topic:            prompt,
		Score:             0,
		Insight:           "stub investigation, no backend configured",
		Confidence:        0,
		TheoreticalBasis:  "",
		Metadata:          map[string]any{},
	}, nil
}

var (
	_ LowLatencyEngine = StubLowLatency{}
	_ StrategyEngine   = StubStrategy{}
	_ ResearchEngine   = StubResearch{}
)
