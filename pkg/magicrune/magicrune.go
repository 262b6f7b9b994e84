// Package magicrune provides a public API for grading and sandbox-executing
// untrusted commands.
package magicrune

import (
	"context"

	"github.com/magicrune/magicrune/internal/executor"
	"github.com/magicrune/magicrune/internal/pipeline"
	"github.com/magicrune/magicrune/internal/policydoc"
	"github.com/magicrune/magicrune/internal/schema"
)

// SpellRequest is the input job description.
type SpellRequest = schema.SpellRequest

// SpellResult is the output job outcome.
type SpellResult = schema.SpellResult

// PolicyDoc bounds what a request may do.
type PolicyDoc = schema.PolicyDoc

// Verdict is the tri-state grading outcome.
type Verdict = schema.Verdict

// Executor is the polymorphic sandbox backend (Native or WASI).
type Executor = executor.Executor

// Backend names a concrete Executor implementation.
type Backend = executor.Backend

const (
	BackendNative = executor.BackendNative
	BackendWASI   = executor.BackendWASI
)

// LoadPolicy reads and parses a policy document from path, resolving any
// "extends" chain relative to the file's own directory.
func LoadPolicy(path string) (*PolicyDoc, error) {
	return policydoc.Load(path)
}

// SelectBackend implements spec.md §4.6's Selection rule.
func SelectBackend() Backend {
	return executor.Select()
}

// NewExecutor builds the Executor for backend b. modulePath is recorded by
// the WASI backend, whose Execute loads the module named by the plan's Cmd;
// the native backend ignores it.
func NewExecutor(b Backend, modulePath string, opts executor.Options) (Executor, error) {
	return executor.New(b, modulePath, opts)
}

// Grade evaluates policy and risk-grades req, and — unless the verdict is
// red or a policy violation occurred — executes it via exec. It is the same
// pipeline the CLI and the worker use.
func Grade(ctx context.Context, requestBytes []byte, req *SpellRequest, pol *PolicyDoc, exec Executor) (*SpellResult, error) {
	res, err := pipeline.Run(ctx, requestBytes, req, pol, exec)
	if res.Violation != nil {
		return nil, res.Violation
	}
	if err != nil {
		return nil, err
	}
	return pipeline.ToSpellResult(res), nil
}
