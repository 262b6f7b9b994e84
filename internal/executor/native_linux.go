//go:build linux

package executor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/magicrune/magicrune/internal/policyeval"
)

// pollInterval is the wall-supervision polling period spec.md §4.6.1 names
// ("Non-blocking polling loop every ~25 ms").
const pollInterval = 25 * time.Millisecond

// unshareCandidates lists the progressively weaker namespace sets spec.md
// §4.6.1 step 1 names, strongest first.
var unshareCandidates = []uintptr{
	unix.CLONE_NEWUSER | unix.CLONE_NEWPID | unix.CLONE_NEWNET | unix.CLONE_NEWNS | unix.CLONE_NEWUTS | unix.CLONE_NEWIPC,
	unix.CLONE_NEWPID | unix.CLONE_NEWNET | unix.CLONE_NEWNS | unix.CLONE_NEWUTS | unix.CLONE_NEWIPC,
	unix.CLONE_NEWPID | unix.CLONE_NEWNS | unix.CLONE_NEWUTS | unix.CLONE_NEWIPC,
}

type nativeExecutor struct {
	opts Options

	selfOnce sync.Once
	self     string
	selfErr  error
}

func newNativeExecutor(opts Options) Executor {
	return &nativeExecutor{opts: opts}
}

func (n *nativeExecutor) selfPath() (string, error) {
	n.selfOnce.Do(func() {
		n.self, n.selfErr = os.Executable()
	})
	return n.self, n.selfErr
}

// selectUnshareFlags tries each candidate namespace set, strongest first, and
// returns the first one the kernel/capability set accepts. If none succeed,
// it returns 0 (proceed unisolated) unless strict, in which case it errors.
func selectUnshareFlags(strict bool) (uintptr, error) {
	for _, flags := range unshareCandidates {
		probe := exec.Command("true")
		probe.SysProcAttr = &syscall.SysProcAttr{Unshareflags: flags}
		if err := probe.Run(); err == nil {
			return flags, nil
		}
	}
	if strict {
		return 0, fmt.Errorf("executor: no namespace set could be unshared and strict mode is enabled")
	}
	return 0, nil
}

// Execute runs the plan's command under namespace isolation and rlimits
// enforced by a re-exec'd jailer, supervising wall time with a polling loop,
// per spec.md §4.6.1 and §4.6.3's state machine.
func (n *nativeExecutor) Execute(ctx context.Context, plan *policyeval.ExecutionPlan) (SandboxOutcome, error) {
	start := time.Now()

	if err := materializeFiles(plan.Files); err != nil {
		return SandboxOutcome{}, err
	}

	self, err := n.selfPath()
	if err != nil {
		return SandboxOutcome{}, fmt.Errorf("executor: resolving self path: %w", err)
	}

	unshareFlags, err := selectUnshareFlags(n.opts.Strict)
	if err != nil {
		return SandboxOutcome{}, err
	}

	cmd := exec.Command(self, JailerFlag)
	cmd.Dir = "/tmp"
	cmd.Env = append(BuildChildEnv(plan.Env),
		envJailerCmd+"="+plan.Cmd,
		envJailerCPUMs+"="+strconv.Itoa(plan.Limits.CPUMs),
		envJailerMemMB+"="+strconv.Itoa(plan.Limits.MemoryMB),
		envJailerPIDs+"="+strconv.Itoa(plan.Limits.PIDs),
	)
	if n.opts.Seccomp {
		cmd.Env = append(cmd.Env, envJailerSeccomp+"=1")
		if n.opts.SeccompLoosen {
			cmd.Env = append(cmd.Env, envJailerSeccompLoosen+"=1")
		}
	}
	if n.opts.OverlayRO {
		cmd.Env = append(cmd.Env, envJailerOverlayRO+"=1")
	}

	cmd.SysProcAttr = &syscall.SysProcAttr{
		Unshareflags: unshareFlags,
		Setpgid:      true,
	}

	cmd.Stdin = strings.NewReader(plan.Stdin)
	outW := &capturedWriter{}
	errW := &capturedWriter{}
	cmd.Stdout = outW
	cmd.Stderr = errW

	if err := cmd.Start(); err != nil {
		return SandboxOutcome{}, fmt.Errorf("executor: spawning jailer: %w", err)
	}

	if n.opts.Cgroups {
		if err := TryEnableCgroups(n.opts.CgroupParent, cmd.Process.Pid, plan.Limits.MemoryMB, plan.Limits.PIDs); err != nil && n.opts.Debug {
			fmt.Fprintf(os.Stderr, "[executor] cgroups setup failed, continuing on rlimits alone: %v\n", err)
		}
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	deadline := start.Add(time.Duration(plan.Limits.WallSec) * time.Second)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case waitErr := <-done:
			return SandboxOutcome{
				ExitCode:    exitCodeOf(waitErr),
				Stdout:      outW.Bytes(),
				Stderr:      errW.Bytes(),
				StdoutTrunc: outW.Truncated(),
				DurationMs:  time.Since(start).Milliseconds(),
			}, nil
		case <-ticker.C:
			if time.Now().After(deadline) {
				if cmd.Process != nil {
					_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
				}
				<-done
				return SandboxOutcome{
					ExitCode:    20,
					Stdout:      outW.Bytes(),
					Stderr:      errW.Bytes(),
					StdoutTrunc: outW.Truncated(),
					DurationMs:  time.Since(start).Milliseconds(),
				}, nil
			}
		}
	}
}

func exitCodeOf(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return 4
}
