// File: internal/attempt/orchestrator.go
package attempt

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Orchestrator walks the configured targets strictly in order, one attempt at
// a time over the single shared session. A bad target never blocks the rest:
// its failure is recorded and the batch moves on.
type Orchestrator struct {
	runner Runner
	logger *zap.Logger
}

// NewOrchestrator builds an orchestrator over the given attempt runner.
func NewOrchestrator(runner Runner, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		runner: runner,
		logger: logger.Named("run_orchestrator"),
	}
}

// Run produces exactly one RunResult per target, in input order. When the
// context is canceled mid-batch no further attempts are launched; the
// remaining targets are still recorded, as Errored, so the report never
// silently drops a configured test.
func (o *Orchestrator) Run(ctx context.Context, targets []TestTarget) []RunResult {
	results := make([]RunResult, 0, len(targets))

	for i, target := range targets {
		if ctx.Err() != nil {
			o.logger.Warn("Run canceled, skipping remaining targets.",
				zap.Int("remaining", len(targets)-i))
			now := time.Now()
			results = append(results, RunResult{
				Target:    target,
				Outcome:   OutcomeErrored,
				Detail:    "run canceled before this target started",
				StartedAt: now,
				EndedAt:   now,
			})
			continue
		}

		o.logger.Info("Starting target.",
			zap.Int("position", i+1),
			zap.Int("total", len(targets)),
			zap.String("url", target.URL))

		result := o.runOne(ctx, target)
		results = append(results, result)

		o.logger.Info("Target finished.",
			zap.String("url", target.URL),
			zap.String("outcome", string(result.Outcome)))
	}

	return results
}

// runOne invokes the driver with a panic barrier: a crash inside one attempt
// becomes that target's Errored result instead of taking the batch down.
func (o *Orchestrator) runOne(ctx context.Context, target TestTarget) (result RunResult) {
	started := time.Now()
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("Attempt panicked.",
				zap.String("url", target.URL),
				zap.Any("panic", r))
			result = RunResult{
				Target:    target,
				Outcome:   OutcomeErrored,
				Detail:    fmt.Sprintf("attempt panicked: %v", r),
				StartedAt: started,
				EndedAt:   time.Now(),
			}
		}
	}()

	return o.runner.RunAttempt(ctx, target)
}
