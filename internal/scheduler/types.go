// Package scheduler implements the adaptive batch scheduler from
// spec.md §7: priority-classed FIFO queues, deadline-aware batching,
// latency-target-driven batch-size adaptation, and memory-pressure
// throttling.
//
// Grounded throughout on
// original_source/src/brain/adaptive_batch_scheduler.py, translated
// from its asyncio event loop to a goroutine ticking every 10ms.
package scheduler

import (
	"strings"
	"time"
)

// Priority is the request priority class, derived from a request's
// source tag.
type Priority int

const (
	// Critical corresponds to the original's Soldier role: real-time
	// decisions, tightest latency target.
	Critical Priority = iota
	// High corresponds to Commander: strategy analysis.
	High
	// Normal corresponds to Scholar: factor research.
	Normal
	// Low is every other source: background work.
	Low
)

func (p Priority) String() string {
	switch p {
	case Critical:
		return "CRITICAL"
	case High:
		return "HIGH"
	case Normal:
		return "NORMAL"
	case Low:
		return "LOW"
	default:
		return "UNKNOWN"
	}
}

// allPriorities lists every priority in scheduling order: the
// scheduler loop always processes Critical before High before Normal
// before Low on each tick.
var allPriorities = []Priority{Critical, High, Normal, Low}

// BatchConfig tunes target latencies, batch-size bounds, and the
// adaptive adjustment cadence.
type BatchConfig struct {
	CriticalTargetLatency time.Duration
	HighTargetLatency     time.Duration
	NormalTargetLatency   time.Duration

	MinBatchSize     int
	MaxBatchSize     int
	InitialBatchSize int

	BatchTimeout          time.Duration
	QueueTimeout          time.Duration
	MemoryPressureThresh  float64

	LatencyWindowSize     int
	AdjustmentFactor      float64
	MinAdjustmentInterval time.Duration

	SchedulerTick time.Duration
}

// DefaultBatchConfig mirrors the original's constants: Soldier <10ms,
// Commander <200ms, Scholar <1s; batch size 1-32 starting at 4; 10ms
// scheduler tick.
func DefaultBatchConfig() BatchConfig {
	return BatchConfig{
		CriticalTargetLatency: 10 * time.Millisecond,
		HighTargetLatency:     200 * time.Millisecond,
		NormalTargetLatency:   1000 * time.Millisecond,

		MinBatchSize:     1,
		MaxBatchSize:     32,
		InitialBatchSize: 4,

		BatchTimeout:         50 * time.Millisecond,
		QueueTimeout:         5000 * time.Millisecond,
		MemoryPressureThresh: 0.8,

		LatencyWindowSize:     100,
		AdjustmentFactor:      0.1,
		MinAdjustmentInterval: time.Second,

		SchedulerTick: 10 * time.Millisecond,
	}
}

// targetLatency returns the configured latency goal for priority.
// Low shares Normal's target doubled, matching the original's "more
// lenient" background-task deadline.
func (c BatchConfig) targetLatency(p Priority) time.Duration {
	switch p {
	case Critical:
		return c.CriticalTargetLatency
	case High:
		return c.HighTargetLatency
	case Normal:
		return c.NormalTargetLatency
	default:
		return c.NormalTargetLatency * 2
	}
}

// maxQueueSize returns the bounded FIFO capacity for priority: tighter
// classes get smaller queues to protect their latency guarantee.
func (c BatchConfig) maxQueueSize(p Priority) int {
	switch p {
	case Critical:
		return 100
	case High:
		return 200
	case Normal:
		return 500
	default:
		return 1000
	}
}

// Request is one unit of work submitted to the scheduler.
type Request struct {
	ID         string
	SourceTag  string
	Priority   Priority
	Prompt     string
	MaxTokens  int
	Submitted  time.Time
	Deadline   time.Time
}

// DerivePriority classifies sourceTag by case-insensitive substring
// match, matching _determine_priority: "soldier" -> Critical,
// "commander" -> High, "scholar" -> Normal, anything else -> Low.
func DerivePriority(sourceTag string) Priority {
	lower := strings.ToLower(sourceTag)
	switch {
	case strings.Contains(lower, "soldier"):
		return Critical
	case strings.Contains(lower, "commander"):
		return High
	case strings.Contains(lower, "scholar"):
		return Normal
	default:
		return Low
	}
}
