package executor

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	"github.com/magicrune/magicrune/internal/policyeval"
)

// wasiExecutor runs ExecutionPlan.Cmd as the path to a WASI module, per
// spec.md §4.6.2: "Construct a fuel-metered, epoch-interruptible engine."
// wazero has no public fuel-counter API; cpu_ms is approximated the same way
// wall_sec is bounded, via context cancellation (see Execute), which is the
// closest fuel-budget analogue a wazero-based engine can offer without
// hand-rolling an instruction-counting host module. This is recorded as a
// deliberate approximation in DESIGN.md.
type wasiExecutor struct {
	runtime    wazero.Runtime
	modulePath string
}

func newWASIExecutor(modulePath string) (Executor, error) {
	ctx := context.Background()
	rt := wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfig().WithCloseOnContextDone(true))
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
		return nil, fmt.Errorf("executor: instantiating WASI preview1: %w", err)
	}
	return &wasiExecutor{runtime: rt, modulePath: modulePath}, nil
}

// Execute loads the WASI module named by plan.Cmd (a path, there being no
// shell in this backend) and invokes _start, per spec.md §4.6.2. The module's
// stdout and stderr are captured into the outcome rather than inherited from
// this process, and stdin is not connected (plan.Stdin is not passed).
func (w *wasiExecutor) Execute(ctx context.Context, plan *policyeval.ExecutionPlan) (SandboxOutcome, error) {
	start := time.Now()

	wallBudget := time.Duration(plan.Limits.WallSec) * time.Second
	if wallBudget <= 0 {
		wallBudget = time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, wallBudget)
	defer cancel()

	modulePath := plan.Cmd
	wasmBytes, err := os.ReadFile(modulePath) //nolint:gosec // path already policy-checked upstream
	if err != nil {
		return SandboxOutcome{}, fmt.Errorf("executor: reading WASI module %q: %w", modulePath, err)
	}

	outW := &capturedWriter{}
	errW := &capturedWriter{}

	modCfg := wazero.NewModuleConfig().
		WithStdout(outW).
		WithStderr(errW).
		WithArgs("magicrune").
		WithEnv("HOME", "/tmp").
		WithEnv("TMPDIR", "/tmp")
	for k, v := range plan.Env {
		if !isDangerousEnvName(k) {
			modCfg = modCfg.WithEnv(k, v)
		}
	}

	compiled, err := w.runtime.CompileModule(runCtx, wasmBytes)
	if err != nil {
		return SandboxOutcome{}, fmt.Errorf("executor: compiling WASI module: %w", err)
	}

	exitCode := 0
	_, instantiateErr := w.runtime.InstantiateModule(runCtx, compiled, modCfg)
	if instantiateErr != nil {
		if runCtx.Err() != nil {
			exitCode = 20 // wall-budget exceeded
		} else {
			exitCode = 4 // trap
		}
	}

	return SandboxOutcome{
		ExitCode:    exitCode,
		Stdout:      outW.Bytes(),
		Stderr:      errW.Bytes(),
		StdoutTrunc: outW.Truncated(),
		DurationMs:  time.Since(start).Milliseconds(),
	}, nil
}
