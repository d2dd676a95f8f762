//go:build linux

package debugdetect

import (
	"os"
	"strings"
	"testing"
)

func TestParseTracerPid(t *testing.T) {
	tests := []struct {
		name    string
		status  string
		want    int
		wantErr bool
	}{
		{"not traced", "Name:\tgame\nState:\tS (sleeping)\nTracerPid:\t0\n", 0, false},
		{"traced", "Name:\tgame\nTracerPid:\t4242\nUid:\t1000\n", 4242, false},
		{"malformed", "TracerPid:\n", 0, true},
		{"not a number", "TracerPid:\tlldb\n", 0, true},
		{"missing", "Name:\tgame\n", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseTracerPid(strings.NewReader(tt.status), "status")
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseTracerPid() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("parseTracerPid() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestTracerPIDSelf(t *testing.T) {
	if !Supported() {
		t.Fatal("detection not supported on linux")
	}
	if _, err := TracerPID(os.Getpid()); err != nil {
		t.Fatal(err)
	}
	if _, err := IsDebuggerAttached(0); err != nil {
		t.Fatal(err)
	}
	if _, err := TracerPID(-1); err == nil {
		t.Error("no error for a missing process")
	}
}
