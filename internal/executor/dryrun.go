package executor

import (
	"context"

	"github.com/magicrune/magicrune/internal/policyeval"
)

// dryRunExecutor implements MAGICRUNE_DRY_RUN=1 (spec.md §6): "skip child
// spawn, return score only." It wraps no underlying backend because grading
// already happened upstream of Execute; this decorator just returns a
// synthetic, always-green outcome so the caller's pipeline (which has already
// computed risk_score and verdict) can report them without ever spawning.
type dryRunExecutor struct{}

// NewDryRun returns the dry-run Executor.
func NewDryRun() Executor { return &dryRunExecutor{} }

func (*dryRunExecutor) Execute(context.Context, *policyeval.ExecutionPlan) (SandboxOutcome, error) {
	return SandboxOutcome{ExitCode: 0}, nil
}
