//go:build linux

package executor

import (
	"strings"
	"sync"

	"golang.org/x/sys/unix"
)

var (
	syscallTableOnce sync.Once
	syscallTableMap  map[string]int
)

// syscallTable resolves syscall names to numbers for the running
// architecture (x86_64 or arm64), generalizing the teacher's
// getSyscallNumber architecture switch in internal/sandbox/linux_seccomp.go.
// A name absent from a given architecture's table (e.g. "poll" on arm64,
// which only has ppoll) is simply skipped by installSeccompFilter, the same
// tolerant behavior the teacher applies to an unrecognized architecture.
func syscallTable() map[string]int {
	syscallTableOnce.Do(func() {
		if isARM64() {
			syscallTableMap = arm64Syscalls
		} else {
			syscallTableMap = amd64Syscalls
		}
	})
	return syscallTableMap
}

func isARM64() bool {
	var uts unix.Utsname
	if err := unix.Uname(&uts); err != nil {
		return false
	}
	machine := strings.TrimRight(unix.ByteSliceToString(uts.Machine[:]), "\x00")
	return machine == "aarch64" || machine == "arm64"
}

var amd64Syscalls = map[string]int{
	"read": 0, "write": 1, "close": 3, "fstat": 5, "poll": 7, "lseek": 8,
	"mmap": 9, "munmap": 11, "brk": 12, "rt_sigaction": 13, "rt_sigprocmask": 14,
	"fcntl": 72, "readlinkat": 267, "openat": 257, "exit": 60, "exit_group": 231,
	"futex": 202, "clock_gettime": 228, "clock_nanosleep": 230, "ppoll": 271,
	"newfstatat": 262, "statx": 332, "getrandom": 318, "prlimit64": 302,
	"setrlimit": 160, "clone3": 435,
}

var arm64Syscalls = map[string]int{
	"read": 63, "write": 64, "close": 57, "fstat": 80, "lseek": 62,
	"mmap": 222, "munmap": 215, "brk": 214, "rt_sigaction": 134, "rt_sigprocmask": 135,
	"fcntl": 25, "readlinkat": 78, "openat": 56, "exit": 93, "exit_group": 94,
	"futex": 98, "clock_gettime": 113, "clock_nanosleep": 115, "ppoll": 73,
	"newfstatat": 79, "statx": 291, "getrandom": 278, "prlimit64": 261, "clone3": 435,
}
