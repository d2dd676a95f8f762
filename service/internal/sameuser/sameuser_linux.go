//go:build linux
// +build linux

// Package sameuser explains why attaching to a process was refused.
package sameuser

import (
	"fmt"
	"io/ioutil"
	"os"
	"strconv"
	"strings"

	"github.com/dapbridge/dapbridge/pkg/debugdetect"
	"github.com/dapbridge/dapbridge/pkg/logflags"
	"golang.org/x/sys/unix"
)

// for testing
var (
	uid      = os.Getuid()
	readFile = ioutil.ReadFile
	statUID  = func(path string) (int, error) {
		var st unix.Stat_t
		if err := unix.Stat(path, &st); err != nil {
			return 0, err
		}
		return int(st.Uid), nil
	}
	tracerPID = debugdetect.TracerPID
)

const ptraceScopeFile = "/proc/sys/kernel/yama/ptrace_scope"

// PtraceScope returns the Yama ptrace scope, -1 if Yama is not enabled.
func PtraceScope() int {
	b, err := readFile(ptraceScopeFile)
	if err != nil {
		return -1
	}
	scope, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil {
		return -1
	}
	return scope
}

// OwnerUID returns the uid owning process pid.
func OwnerUID(pid int) (int, error) {
	return statUID(fmt.Sprintf("/proc/%d", pid))
}

// Diagnose returns hints on why this process may not trace pid. The result
// is empty if no cause was found.
func Diagnose(pid int) []string {
	var hints []string
	owner, err := OwnerUID(pid)
	switch {
	case err != nil:
		hints = append(hints, fmt.Sprintf("process %d not found: %v", pid, err))
	case owner != uid && uid != 0:
		hints = append(hints, fmt.Sprintf("process %d belongs to uid %d, the debugger runs as uid %d", pid, owner, uid))
	}
	if err == nil {
		if tracer, terr := tracerPID(pid); terr == nil && tracer != 0 {
			hints = append(hints, fmt.Sprintf("process %d is already traced by process %d, detach the other debugger first", pid, tracer))
		}
	}
	switch scope := PtraceScope(); scope {
	case 1:
		if uid != 0 {
			hints = append(hints, "kernel.yama.ptrace_scope is 1: only descendants can be traced; run 'sudo sysctl kernel.yama.ptrace_scope=0' or attach as root")
		}
	case 2:
		hints = append(hints, "kernel.yama.ptrace_scope is 2: only processes with CAP_SYS_PTRACE may attach")
	case 3:
		hints = append(hints, "kernel.yama.ptrace_scope is 3: ptrace attach is disabled until reboot")
	}
	if len(hints) > 0 && logflags.Any() {
		logflags.SessionLogger().Debugf("attach diagnosis for %d: %s", pid, strings.Join(hints, "; "))
	}
	return hints
}
