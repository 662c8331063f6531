//go:build linux

package pthread

import (
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

func currentTID() int {
	return unix.Gettid()
}

// setOSName renames the calling OS thread.
func setOSName(name string) error {
	p, err := unix.BytePtrFromString(name)
	if err != nil {
		return err
	}
	return unix.Prctl(unix.PR_SET_NAME, uintptr(unsafe.Pointer(p)), 0, 0, 0)
}

// setOSNameOf renames another thread of this process through procfs.
func setOSNameOf(tid int, name string) error {
	return os.WriteFile(fmt.Sprintf("/proc/self/task/%d/comm", tid), []byte(name), 0)
}
