//go:build !linux && !darwin

package errno

func fromHost(err error) (Errno, bool) {
	return 0, false
}
