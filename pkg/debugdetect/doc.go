// Package debugdetect reports whether a process is already being traced
// by a debugger.
//
// A process can only have one ptrace-based tracer, attaching a second
// debugger to it fails with a permission error that does not name the
// cause. TracerPID tells the two apart:
//
//	tracer, err := debugdetect.TracerPID(pid)
//	if err == nil && tracer != 0 {
//		fmt.Printf("process %d is traced by %d\n", pid, tracer)
//	}
//
// Supported platforms: linux
package debugdetect
