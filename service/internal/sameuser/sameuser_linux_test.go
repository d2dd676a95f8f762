//go:build linux
// +build linux

package sameuser

import (
	"errors"
	"strings"
	"testing"
)

func TestDiagnose(t *testing.T) {
	defer func(u int, rf func(string) ([]byte, error), st func(string) (int, error), tp func(int) (int, error)) {
		uid, readFile, statUID, tracerPID = u, rf, st, tp
	}(uid, readFile, statUID, tracerPID)

	for _, tt := range []struct {
		name    string
		uid     int
		owner   int
		statErr error
		scope   string
		tracer  int
		want    []string
	}{
		{"same user, scope 0", 1000, 1000, nil, "0\n", 0, nil},
		{"same user, scope 1", 1000, 1000, nil, "1\n", 0, []string{"ptrace_scope is 1"}},
		{"root, scope 1", 0, 1000, nil, "1\n", 0, nil},
		{"other user", 1000, 1001, nil, "0\n", 0, []string{"belongs to uid 1001"}},
		{"missing process", 1000, 0, errors.New("no such file or directory"), "", 7, []string{"not found"}},
		{"scope 3", 0, 0, nil, "3", 0, []string{"disabled until reboot"}},
		{"already traced", 1000, 1000, nil, "0\n", 77, []string{"already traced by process 77"}},
	} {
		t.Run(tt.name, func(t *testing.T) {
			uid = tt.uid
			statUID = func(string) (int, error) { return tt.owner, tt.statErr }
			tracerPID = func(int) (int, error) { return tt.tracer, nil }
			readFile = func(string) ([]byte, error) {
				if tt.scope == "" {
					return nil, errors.New("no yama")
				}
				return []byte(tt.scope), nil
			}
			got := Diagnose(42)
			if len(got) != len(tt.want) {
				t.Fatalf("Diagnose() = %q, want %d hints", got, len(tt.want))
			}
			for i := range tt.want {
				if !strings.Contains(got[i], tt.want[i]) {
					t.Errorf("hint %d = %q, want it to contain %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestPtraceScope(t *testing.T) {
	defer func(rf func(string) ([]byte, error)) { readFile = rf }(readFile)
	readFile = func(string) ([]byte, error) { return []byte("garbage"), nil }
	if got := PtraceScope(); got != -1 {
		t.Errorf("PtraceScope() = %d, want -1", got)
	}
	readFile = func(string) ([]byte, error) { return []byte("2\n"), nil }
	if got := PtraceScope(); got != 2 {
		t.Errorf("PtraceScope() = %d, want 2", got)
	}
}
