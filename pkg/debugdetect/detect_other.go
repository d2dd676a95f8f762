//go:build !linux

package debugdetect

// TracerPID always fails with ErrUnsupported outside of linux.
func TracerPID(pid int) (int, error) {
	return 0, ErrUnsupported
}
