// Command coredemo wires the memory store, event bus, DI container,
// and adaptive batch scheduler together and runs a short demonstration
// workload, in the style of the teacher's single-process node
// entrypoint.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/inference-core/coord-core/internal/container"
	"github.com/inference-core/coord-core/internal/eventbus"
	"github.com/inference-core/coord-core/internal/inference"
	"github.com/inference-core/coord-core/internal/memory"
	"github.com/inference-core/coord-core/internal/scheduler"
)

const eventBatchCompleted eventbus.EventType = "scheduler.batch_completed"

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	logger.Info("coord-core demo starting")

	bus := eventbus.New(eventbus.Config{Logger: logger})
	if err := bus.Start(); err != nil {
		logger.Error("failed to start event bus", "error", err)
		os.Exit(1)
	}
	defer bus.Shutdown()

	if err := bus.Subscribe(eventBatchCompleted, "demo.observer", func(ev eventbus.Event) error {
		logger.Info("batch completed", "payload", ev.Payload)
		return nil
	}); err != nil {
		logger.Error("failed to subscribe", "error", err)
		os.Exit(1)
	}

	c := container.New()
	registerServices(c, logger)

	storeAny, err := c.Resolve("memory.store")
	if err != nil {
		logger.Error("failed to resolve memory store", "error", err)
		os.Exit(1)
	}
	store := storeAny.(*memory.Store)
	defer store.Close()

	schedAny, err := c.Resolve("scheduler")
	if err != nil {
		logger.Error("failed to resolve scheduler", "error", err)
		os.Exit(1)
	}
	sched := schedAny.(*scheduler.Scheduler)
	if err := sched.Start(); err != nil {
		logger.Error("failed to start scheduler", "error", err)
		os.Exit(1)
	}
	defer sched.Shutdown()

	if err := store.Store("the quick fox jumps", nil, []float32{0.1, 0.2, 0.3, 0.4}); err != nil {
		logger.Error("failed to store embedding", "error", err)
	}

	future, err := sched.Submit(scheduler.Request{
		ID:        "demo-1",
		SourceTag: "commander-demo",
		Prompt:    "summarize quarterly risk posture",
		MaxTokens: 64,
	})
	if err != nil {
		logger.Error("failed to submit request", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	outcome, err := future.Wait(ctx)
	if err != nil {
		logger.Error("request did not complete", "error", err)
		os.Exit(1)
	}

	if err := bus.PublishSimple(eventBatchCompleted, "demo", outcome); err != nil {
		logger.Error("failed to publish completion event", "error", err)
	}

	fmt.Printf("request %s completed: %q\n", outcome.RequestID, outcome.Text)
}

func registerServices(c *container.Container, logger *slog.Logger) {
	must(c.RegisterSingleton("memory.store", func(container.Resolver) (any, error) {
		return memory.NewStore(memory.DefaultConfig())
	}))

	must(c.RegisterSingleton("inference.backend", func(container.Resolver) (any, error) {
		return inference.NewMock(inference.DefaultMockConfig()), nil
	}))

	must(c.RegisterSingleton("scheduler", func(r container.Resolver) (any, error) {
		backendAny, err := r.Resolve("inference.backend")
		if err != nil {
			return nil, err
		}
		cfg := scheduler.Config{
			Backend: backendAny.(inference.Backend),
			Logger:  logger,
		}
		return scheduler.New(cfg)
	}))
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}
