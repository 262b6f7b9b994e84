package pipeline

import (
	"context"
	"testing"

	"github.com/magicrune/magicrune/internal/executor"
	"github.com/magicrune/magicrune/internal/policyeval"
	"github.com/magicrune/magicrune/internal/schema"
)

func testPolicy() *schema.PolicyDoc {
	return &schema.PolicyDoc{
		Version: 1,
		Limits:  schema.Limits{WallSec: 5, CPUMs: 1000, MemoryMB: 128, PIDs: 16},
	}
}

func TestRunRedVerdictSkipsExecution(t *testing.T) {
	pol := testPolicy()
	// ssh alone scores 30, which is yellow under the spec's default
	// thresholds; lower the red threshold so this scenario can exercise the
	// red-skips-execution path without also tripping a policy violation
	// (reaching 61 under the defaults needs network intent without an
	// allow-entry, which the PolicyEvaluator would itself reject first).
	pol.Grading.Thresholds = schema.GradingThresholds{Green: "<=10", Yellow: "11..=29", Red: ">=30"}
	req := &schema.SpellRequest{Cmd: "ssh somewhere", TimeoutSec: 1}
	body := []byte(`{"cmd":"ssh somewhere"}`)

	res, err := Run(context.Background(), body, req, pol, executor.NewDryRun())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Violation != nil {
		t.Fatalf("unexpected violation: %v", res.Violation)
	}
	if res.Outcome.Verdict != schema.VerdictRed {
		t.Fatalf("verdict = %v, want red", res.Outcome.Verdict)
	}
	if ExitCode(res) != 20 {
		t.Fatalf("ExitCode = %d, want 20", ExitCode(res))
	}
}

func TestRunPolicyViolationTakesPriority(t *testing.T) {
	req := &schema.SpellRequest{Cmd: "echo hi", TimeoutSec: 100}
	body := []byte(`{"cmd":"echo hi","timeout_sec":100}`)

	res, err := Run(context.Background(), body, req, testPolicy(), executor.NewDryRun())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Violation == nil {
		t.Fatal("expected a timeout-exceeds-limit violation")
	}
	if ExitCode(res) != 3 {
		t.Fatalf("ExitCode = %d, want 3", ExitCode(res))
	}
}

// timeoutExecutor simulates a native backend that killed the child after
// the wall deadline, per spec.md §4.6.1 ("record exit_code = 20").
type timeoutExecutor struct{}

func (timeoutExecutor) Execute(context.Context, *policyeval.ExecutionPlan) (executor.SandboxOutcome, error) {
	return executor.SandboxOutcome{ExitCode: 20}, nil
}

func TestRunSandboxTimeoutForcesRedVerdict(t *testing.T) {
	// "sleep 30" alone grades green under the default thresholds (no
	// network/ssh tokens, no non-tmp allow_fs entries): Scenario E expects
	// the wall timeout to still report verdict=red, exit_code=20 despite the
	// low pre-execution score.
	req := &schema.SpellRequest{Cmd: "sleep 30", TimeoutSec: 2}
	body := []byte(`{"cmd":"sleep 30","timeout_sec":2}`)

	res, err := Run(context.Background(), body, req, testPolicy(), timeoutExecutor{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Violation != nil {
		t.Fatalf("unexpected violation: %v", res.Violation)
	}
	if res.Outcome.Verdict != schema.VerdictRed {
		t.Fatalf("verdict = %v, want red", res.Outcome.Verdict)
	}
	if res.Outcome.RiskScore != 100 {
		t.Fatalf("risk_score = %d, want 100 (clamped on timeout)", res.Outcome.RiskScore)
	}
	if ExitCode(res) != 20 {
		t.Fatalf("ExitCode = %d, want 20", ExitCode(res))
	}
	sr := ToSpellResult(res)
	if sr.Verdict != schema.VerdictRed || sr.ExitCode != 20 {
		t.Fatalf("SpellResult = %+v, want verdict=red exit_code=20", sr)
	}
}

func TestRunGreenExecutes(t *testing.T) {
	req := &schema.SpellRequest{Cmd: "echo hi", TimeoutSec: 1}
	body := []byte(`{"cmd":"echo hi"}`)

	res, err := Run(context.Background(), body, req, testPolicy(), executor.NewDryRun())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Violation != nil {
		t.Fatalf("unexpected violation: %v", res.Violation)
	}
	if res.Outcome.Verdict != schema.VerdictGreen {
		t.Fatalf("verdict = %v, want green", res.Outcome.Verdict)
	}
	if ExitCode(res) != 0 {
		t.Fatalf("ExitCode = %d, want 0", ExitCode(res))
	}
	if res.RunID == "" {
		t.Fatal("expected a non-empty run_id")
	}
}

func TestToSpellResultCarriesRunID(t *testing.T) {
	req := &schema.SpellRequest{Cmd: "echo hi", TimeoutSec: 1}
	res, err := Run(context.Background(), []byte(`{"cmd":"echo hi"}`), req, testPolicy(), executor.NewDryRun())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	sr := ToSpellResult(res)
	if sr.RunID != res.RunID {
		t.Fatalf("SpellResult.RunID = %q, want %q", sr.RunID, res.RunID)
	}
	if sr.SBOMAttestation == "" {
		t.Fatal("expected a non-empty sbom_attestation")
	}
}
