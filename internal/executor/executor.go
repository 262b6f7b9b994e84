// Package executor implements the Executor component of spec.md §4.6: a
// tagged-variant/interface polymorphism over two backends (Native, WASI) that
// both satisfy Execute(ExecutionPlan) -> SandboxOutcome. Selection between
// them follows §4.6's "Selection" rule via Select.
package executor

import (
	"context"
	"os"

	"github.com/magicrune/magicrune/internal/policyeval"
)

// SandboxOutcome is the terminal output of a sandbox run.
type SandboxOutcome struct {
	ExitCode    int
	Stdout      []byte
	Stderr      []byte
	StdoutTrunc bool
	DurationMs  int64
}

// Executor is the polymorphic sandbox backend spec.md §9 calls for: "model as
// a tagged variant or interface with one method execute(ExecutionPlan) ->
// SandboxOutcome".
type Executor interface {
	Execute(ctx context.Context, plan *policyeval.ExecutionPlan) (SandboxOutcome, error)
}

// Backend names a concrete Executor implementation.
type Backend string

const (
	BackendNative Backend = "native"
	BackendWASI   Backend = "wasi"
)

// Select implements spec.md §4.6's Selection rule: if MAGICRUNE_FORCE_WASM=1,
// use WASI; else on Linux with the native sandbox compiled in, use Native;
// else WASI.
func Select() Backend {
	if os.Getenv("MAGICRUNE_FORCE_WASM") == "1" {
		return BackendWASI
	}
	if nativeAvailable {
		return BackendNative
	}
	return BackendWASI
}

// New builds the Executor for backend b.
func New(b Backend, modulePath string, opts Options) (Executor, error) {
	switch b {
	case BackendNative:
		return newNativeExecutor(opts), nil
	case BackendWASI:
		return newWASIExecutor(modulePath)
	default:
		return newNativeExecutor(opts), nil
	}
}

// Options carries the environment-variable-driven toggles spec.md §6 names:
// MAGICRUNE_SECCOMP, MAGICRUNE_SECCOMP_LOOSEN, MAGICRUNE_OVERLAY_RO,
// MAGICRUNE_CGROUPS, MAGICRUNE_CGROUP_PARENT (plus MAGICRUNE_DEBUG).
// MAGICRUNE_DRY_RUN is not part of Options; IsDryRun reads it.
type Options struct {
	Seccomp       bool
	SeccompLoosen bool
	OverlayRO     bool
	Cgroups       bool
	CgroupParent  string
	Strict        bool
	Debug         bool
}

// OptionsFromEnv reads the toggles from the process environment.
func OptionsFromEnv() Options {
	return Options{
		Seccomp:       os.Getenv("MAGICRUNE_SECCOMP") == "1",
		SeccompLoosen: os.Getenv("MAGICRUNE_SECCOMP_LOOSEN") == "1",
		OverlayRO:     os.Getenv("MAGICRUNE_OVERLAY_RO") == "1",
		Cgroups:       os.Getenv("MAGICRUNE_CGROUPS") == "1",
		CgroupParent:  os.Getenv("MAGICRUNE_CGROUP_PARENT"),
		Debug:         os.Getenv("MAGICRUNE_DEBUG") == "1",
	}
}

// IsDryRun reports whether MAGICRUNE_DRY_RUN=1 is set, per spec.md §6.
func IsDryRun() bool {
	return os.Getenv("MAGICRUNE_DRY_RUN") == "1"
}
