// Package pipeline wires PolicyEvaluator, Grader and Executor into the
// single request->result flow spec.md §2 describes, shared by the exec CLI
// path and the worker's per-message loop so the two entry points can never
// drift apart on ordering.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/magicrune/magicrune/internal/executor"
	"github.com/magicrune/magicrune/internal/grader"
	"github.com/magicrune/magicrune/internal/netmatch"
	"github.com/magicrune/magicrune/internal/policyeval"
	"github.com/magicrune/magicrune/internal/runid"
	"github.com/magicrune/magicrune/internal/schema"
)

// Result bundles everything a caller needs to render a SpellResult, decide
// on quarantine, and log completion.
type Result struct {
	RunID      string
	Outcome    grader.Outcome
	Plan       *policyeval.ExecutionPlan
	Violation  error
	Sandbox    executor.SandboxOutcome
	DurationMs int64
}

// Run derives run_id, grades, evaluates policy, and — if the verdict is not
// red and no policy violation occurred — executes, per spec.md §4.6.3's
// state machine: created -> policy-checked -> (if red) -> reported, or
// policy-checked -> files-materialized -> running -> reported.
//
// exec is nil-safe to call even when the request is ultimately not run (red
// verdict or policy violation): Run returns before ever touching it.
func Run(ctx context.Context, requestBytes []byte, req *schema.SpellRequest, pol *schema.PolicyDoc, exec executor.Executor) (Result, error) {
	start := time.Now()

	seed := req.EffectiveSeed()
	id := runid.Derive(requestBytes, seed)

	outcome := grader.Grade(req, pol)

	networkIntent := grader.NetworkIntent(req.Cmd)
	var hosts []string
	if networkIntent {
		hosts = netmatch.ExtractHosts(req.Cmd)
	}

	plan, violErr := policyeval.Evaluate(req, pol, networkIntent, hosts)
	res := Result{RunID: id, Outcome: outcome, Plan: plan, Violation: violErr}

	if violErr != nil {
		// A policy violation is a red outcome, with the score clamped the
		// same way as for a wall-deadline kill below.
		res.Outcome.Verdict = schema.VerdictRed
		if res.Outcome.RiskScore < 100 {
			res.Outcome.RiskScore = 100
		}
		res.DurationMs = time.Since(start).Milliseconds()
		return res, nil
	}

	if outcome.Verdict == schema.VerdictRed {
		res.DurationMs = time.Since(start).Milliseconds()
		return res, nil
	}

	if exec == nil {
		res.DurationMs = time.Since(start).Milliseconds()
		return res, fmt.Errorf("pipeline: no executor configured")
	}

	sandboxOutcome, err := exec.Execute(ctx, plan)
	res.Sandbox = sandboxOutcome
	res.DurationMs = time.Since(start).Milliseconds()

	// spec.md §4.6.1: a wall-deadline kill forces the verdict to red
	// regardless of the pre-execution grade (a low-risk command that hangs is
	// still a red outcome), and the reported score must not contradict that:
	// clamp it to the saturation point rather than leaving a pre-execution
	// green/yellow score next to a red verdict.
	if sandboxOutcome.ExitCode == 20 {
		res.Outcome.Verdict = schema.VerdictRed
		if res.Outcome.RiskScore < 100 {
			res.Outcome.RiskScore = 100
		}
	}

	if err != nil {
		return res, err
	}
	return res, nil
}

// ExitCode maps a Result to the exit code table of spec.md §6.
func ExitCode(res Result) int {
	if res.Violation != nil {
		return 3
	}
	switch res.Outcome.Verdict {
	case schema.VerdictRed:
		return 20
	case schema.VerdictYellow:
		return 10
	default:
		if res.Sandbox.ExitCode == 20 {
			return 20
		}
		return 0
	}
}

// ToSpellResult renders a Result into the wire SpellResult shape.
func ToSpellResult(res Result) *schema.SpellResult {
	return &schema.SpellResult{
		RunID:           res.RunID,
		Verdict:         res.Outcome.Verdict,
		RiskScore:       res.Outcome.RiskScore,
		ExitCode:        ExitCode(res),
		DurationMs:      res.DurationMs,
		StdoutTrunc:     res.Sandbox.StdoutTrunc,
		SBOMAttestation: "file://sbom.spdx.json.sig",
	}
}
