package debugdetect

import (
	"errors"
	"fmt"
	"runtime"
)

// ErrUnsupported is returned on platforms where tracers can not be
// detected.
var ErrUnsupported = fmt.Errorf("debugger detection not supported on %s", runtime.GOOS)

// IsDebuggerAttached returns true if process pid is being traced by a
// ptrace-based debugger (lldb, gdb, Delve, etc.).
func IsDebuggerAttached(pid int) (bool, error) {
	tracer, err := TracerPID(pid)
	if err != nil {
		return false, err
	}
	return tracer != 0, nil
}

// Supported reports whether TracerPID works on this platform.
func Supported() bool {
	_, err := TracerPID(0)
	return !errors.Is(err, ErrUnsupported)
}
