package debugger

import (
	"strings"

	"github.com/dapbridge/dapbridge/service/internal/sameuser"
)

var permissionMarkers = []string{"eperm", "ptrace", "operation not permitted", "permission denied"}

// permissionError returns a PermissionDenied error if err is the adapter
// refusing to trace pid, nil otherwise.
func permissionError(pid int, err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range permissionMarkers {
		if strings.Contains(msg, marker) {
			e := &Error{Kind: PermissionDenied, Msg: "attach refused", Err: err}
			if hints := sameuser.Diagnose(pid); len(hints) > 0 {
				e.Msg += " (" + strings.Join(hints, "; ") + ")"
			}
			return e
		}
	}
	return nil
}
