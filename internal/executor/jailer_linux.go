//go:build linux

package executor

import (
	"fmt"
	"os"
	"strconv"
	"syscall"

	"golang.org/x/sys/unix"
)

// JailerFlag is the hidden re-exec argument cmd/magicrune checks for before
// cobra parses flags, mirroring the teacher's "--landlock-apply" wrapper-mode
// check in cmd/fence/main.go. It must run between fork and exec of the user's
// command to apply rlimits and seccomp, which Go's os/exec gives no hook for;
// spec.md §9's "Pre-exec hooks" note names exactly this re-exec-into-a-jailer
// strategy as the intended workaround.
const JailerFlag = "--magicrune-jailer"

// Environment variables the parent native executor passes to the re-exec'd
// jailer process; never user-controlled directly, always populated from an
// already policy-checked ExecutionPlan.
const (
	envJailerCmd           = "MAGICRUNE_JAILER_CMD"
	envJailerCPUMs         = "MAGICRUNE_JAILER_CPU_MS"
	envJailerMemMB         = "MAGICRUNE_JAILER_MEM_MB"
	envJailerPIDs          = "MAGICRUNE_JAILER_PIDS"
	envJailerSeccomp       = "MAGICRUNE_JAILER_SECCOMP"
	envJailerSeccompLoosen = "MAGICRUNE_JAILER_SECCOMP_LOOSEN"
	envJailerOverlayRO     = "MAGICRUNE_JAILER_OVERLAY_RO"
)

// RunJailer is the jailer entry point: apply rlimits and the optional seccomp
// filter, then exec the target shell command, replacing this process. It
// never returns on success.
func RunJailer() {
	cmd := os.Getenv(envJailerCmd)
	if cmd == "" {
		fmt.Fprintln(os.Stderr, "executor: jailer invoked without "+envJailerCmd)
		os.Exit(4)
	}

	if os.Getenv(envJailerOverlayRO) == "1" {
		if err := setupOverlayRO(); err != nil {
			fmt.Fprintf(os.Stderr, "executor: jailer: overlay-ro setup failed, continuing without it: %v\n", err)
		}
	}

	if err := applyRlimits(
		atoiOr0(os.Getenv(envJailerCPUMs)),
		atoiOr0(os.Getenv(envJailerMemMB)),
		atoiOr0(os.Getenv(envJailerPIDs)),
	); err != nil {
		fmt.Fprintf(os.Stderr, "executor: jailer: applying rlimits: %v\n", err)
		os.Exit(4)
	}

	if os.Getenv(envJailerSeccomp) == "1" {
		if err := installSeccompFilter(os.Getenv(envJailerSeccompLoosen) == "1"); err != nil {
			fmt.Fprintf(os.Stderr, "executor: jailer: installing seccomp filter: %v\n", err)
			os.Exit(4)
		}
	}

	shellPath, err := lookPath("bash")
	if err != nil {
		shellPath = "/bin/bash"
	}
	argv := []string{shellPath, "-lc", cmd}
	// Drop the jailer's own control variables so the target command sees
	// only the scrubbed env BuildChildEnv produced.
	const jailerPrefix = "MAGICRUNE_JAILER_"
	var env []string
	for _, kv := range os.Environ() {
		if len(kv) >= len(jailerPrefix) && kv[:len(jailerPrefix)] == jailerPrefix {
			continue
		}
		env = append(env, kv)
	}

	if err := syscall.Exec(shellPath, argv, env); err != nil { //nolint:gosec // controlled internal re-exec
		fmt.Fprintf(os.Stderr, "executor: jailer: exec failed: %v\n", err)
		os.Exit(4)
	}
}

func atoiOr0(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

// applyRlimits installs the three rlimits spec.md §4.6.1 names: RLIMIT_CPU
// in seconds derived from cpu_ms, RLIMIT_AS from memory_mb, RLIMIT_NPROC from
// pids.
func applyRlimits(cpuMs, memMB, pids int) error {
	if cpuMs > 0 {
		seconds := uint64(cpuMs / 1000)
		if seconds == 0 {
			seconds = 1
		}
		if err := unix.Setrlimit(unix.RLIMIT_CPU, &unix.Rlimit{Cur: seconds, Max: seconds}); err != nil {
			return fmt.Errorf("RLIMIT_CPU: %w", err)
		}
	}
	if memMB > 0 {
		bytes := uint64(memMB) << 20
		if err := unix.Setrlimit(unix.RLIMIT_AS, &unix.Rlimit{Cur: bytes, Max: bytes}); err != nil {
			return fmt.Errorf("RLIMIT_AS: %w", err)
		}
	}
	if pids > 0 {
		n := uint64(pids)
		if err := unix.Setrlimit(unix.RLIMIT_NPROC, &unix.Rlimit{Cur: n, Max: n}); err != nil {
			return fmt.Errorf("RLIMIT_NPROC: %w", err)
		}
	}
	return nil
}

func lookPath(name string) (string, error) {
	for _, dir := range []string{"/bin", "/usr/bin", "/usr/local/bin"} {
		path := dir + "/" + name
		if st, err := os.Stat(path); err == nil && !st.IsDir() {
			return path, nil
		}
	}
	return "", fmt.Errorf("executor: %q not found", name)
}
