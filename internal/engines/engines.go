// Package engines defines the three engine roles, named for the
// latency/depth tradeoff each one makes: LowLatencyEngine favors speed
// over depth, StrategyEngine balances the two, ResearchEngine favors
// depth over speed. Their source tags ("soldier", "commander",
// "scholar") are what the scheduler's priority derivation matches on.
// The scheduler does not call these interfaces: it dispatches batches
// to an inference.Backend.
//
// Grounded on original_source/src/brain/commander_engine_v2.py (the
// balanced strategy role) and scholar_engine_v2.py (the deep-research
// role): both return a structured analysis/result value rather than
// raw text, and both degrade to a best-effort answer instead of
// failing outright when an upstream dependency is unavailable.
package engines

import "context"

// LowLatencyEngine answers requests whose deadline leaves no room for
// multi-step reasoning: single-pass inference, return fast.
type LowLatencyEngine interface {
	Initialize(ctx context.Context) error
	// Execute returns a direct answer for prompt with no follow-up
	// reasoning passes.
	Execute(ctx context.Context, prompt string) (Result, error)
}

// StrategyEngine balances latency and depth: it may consult cached
// context or run a small number of reasoning passes before answering.
type StrategyEngine interface {
	Initialize(ctx context.Context) error
	// Analyze returns a recommendation with a confidence score and the
	// reasoning that produced it.
	Analyze(ctx context.Context, prompt string) (Analysis, error)
}

// ResearchEngine favors depth: it may run an extended multi-pass
// investigation and is expected to take substantially longer than the
// other two engines.
type ResearchEngine interface {
	Initialize(ctx context.Context) error
	// Investigate runs a deep, multi-pass analysis of prompt.
	Investigate(ctx context.Context, prompt string) (Finding, error)
}

// Result is the LowLatencyEngine's output shape.
type Result struct {
	Answer     string
	Confidence float64
}

// Analysis is the StrategyEngine's output shape, grounded on
// commander_engine_v2.py's StrategyAnalysis dataclass.
type Analysis struct {
	Recommendation string
	Confidence     float64
	RiskLevel      string
	Reasoning      string
	Metadata       map[string]any
}

// Finding is the ResearchEngine's output shape, grounded on
// scholar_engine_v2.py's FactorResearch dataclass.
type Finding struct {
	Topic            string
	Score            float64
	Insight          string
	Confidence       float64
	TheoreticalBasis string
	Metadata         map[string]any
}
