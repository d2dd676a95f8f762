//go:build !linux
// +build !linux

package sameuser

// PtraceScope returns -1, Yama only exists on linux.
func PtraceScope() int { return -1 }

// Diagnose returns no hints outside of linux.
func Diagnose(pid int) []string { return nil }
