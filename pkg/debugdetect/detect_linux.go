//go:build linux

package debugdetect

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// TracerPID returns the pid of the process tracing pid, zero if pid is not
// traced. A pid of zero inspects the calling process.
func TracerPID(pid int) (int, error) {
	path := "/proc/self/status"
	if pid != 0 {
		path = fmt.Sprintf("/proc/%d/status", pid)
	}
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read %s: %w", path, err)
	}
	defer f.Close()
	return parseTracerPid(f, path)
}

// parseTracerPid looks for the TracerPid field of a /proc status file.
func parseTracerPid(r io.Reader, path string) (int, error) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "TracerPid:") {
			fields := strings.Fields(line)
			if len(fields) < 2 {
				return 0, fmt.Errorf("malformed TracerPid line in %s: %s", path, line)
			}
			pid, err := strconv.Atoi(fields[1])
			if err != nil {
				return 0, fmt.Errorf("failed to parse TracerPid value: %w", err)
			}
			return pid, nil
		}
	}

	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("error reading %s: %w", path, err)
	}

	return 0, fmt.Errorf("TracerPid field not found in %s", path)
}
