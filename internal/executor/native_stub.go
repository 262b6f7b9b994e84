//go:build !linux

package executor

import (
	"context"
	"errors"

	"github.com/magicrune/magicrune/internal/policyeval"
)

// nativeAvailable is false outside Linux: spec.md §4.6's Native backend is
// Linux-namespace-specific (unshare, overlay, seccomp), so non-Linux builds
// fall through Select to the WASI backend.
const nativeAvailable = false

type nativeExecutor struct{}

func newNativeExecutor(Options) Executor { return &nativeExecutor{} }

func (*nativeExecutor) Execute(context.Context, *policyeval.ExecutionPlan) (SandboxOutcome, error) {
	return SandboxOutcome{}, errors.New("executor: native backend is not available on this platform")
}
