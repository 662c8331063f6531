// Package errno defines the POSIX-style error codes returned to guest code.
//
// Codes follow the wasi_snapshot_preview1 errno numbering so that a guest
// built against wasi-libc sees the same values it would see for analogous
// failures on a native OS.
package errno

import (
	"context"
	"errors"
	"strconv"
)

// Errno is a guest-visible error code. The zero value means success.
type Errno uint16

const (
	ESUCCESS Errno = iota
	E2BIG
	EACCES
	EADDRINUSE
	EADDRNOTAVAIL
	EAFNOSUPPORT
	EAGAIN
	EALREADY
	EBADF
	EBADMSG
	EBUSY
	ECANCELED
	ECHILD
	ECONNABORTED
	ECONNREFUSED
	ECONNRESET
	EDEADLK
	EDESTADDRREQ
	EDOM
	EDQUOT
	EEXIST
	EFAULT
	EFBIG
	EHOSTUNREACH
	EIDRM
	EILSEQ
	EINPROGRESS
	EINTR
	EINVAL
	EIO
	EISCONN
	EISDIR
	ELOOP
	EMFILE
	EMLINK
	EMSGSIZE
	EMULTIHOP
	ENAMETOOLONG
	ENETDOWN
	ENETRESET
	ENETUNREACH
	ENFILE
	ENOBUFS
	ENODEV
	ENOENT
	ENOEXEC
	ENOLCK
	ENOLINK
	ENOMEM
	ENOMSG
	ENOPROTOOPT
	ENOSPC
	ENOSYS
	ENOTCONN
	ENOTDIR
	ENOTEMPTY
	ENOTRECOVERABLE
	ENOTSOCK
	ENOTSUP
	ENOTTY
	ENXIO
	EOVERFLOW
	EOWNERDEAD
	EPERM
	EPIPE
	EPROTO
	EPROTONOSUPPORT
	EPROTOTYPE
	ERANGE
	EROFS
	ESPIPE
	ESRCH
	ESTALE
	ETIMEDOUT
	ETXTBSY
	EXDEV
	ENOTCAPABLE
)

var names = map[Errno]string{
	ESUCCESS:  "success",
	EAGAIN:    "resource temporarily unavailable",
	EBUSY:     "device or resource busy",
	ECANCELED: "operation canceled",
	EDEADLK:   "resource deadlock avoided",
	EFAULT:    "bad address",
	EINVAL:    "invalid argument",
	EIO:       "input/output error",
	ENOMEM:    "cannot allocate memory",
	ENOSYS:    "function not implemented",
	ENOTSUP:   "not supported",
	EOVERFLOW: "value too large for defined data type",
	EPERM:     "operation not permitted",
	ERANGE:    "result too large",
	ESRCH:     "no such thread",
	ETIMEDOUT: "timed out",
}

func (e Errno) Error() string {
	if s, ok := names[e]; ok {
		return s
	}
	return "errno " + strconv.Itoa(int(e))
}

// Of returns the guest-visible code for err.
// Errors without a known mapping become ENOSYS.
func Of(err error) Errno {
	if err == nil {
		return ESUCCESS
	}

	var e Errno
	if errors.As(err, &e) {
		return e
	}

	switch {
	case errors.Is(err, context.Canceled):
		return ECANCELED
	case errors.Is(err, context.DeadlineExceeded):
		return ETIMEDOUT
	}

	if code, ok := fromHost(err); ok {
		return code
	}
	return ENOSYS
}

// FatalError reports a guest programming error that cannot be handled by
// returning a code, such as the program's entry thread calling thread exit.
// The host function layer turns it into a trap on the calling context.
type FatalError struct {
	Msg string
}

func (e *FatalError) Error() string {
	return e.Msg
}

// Fatal returns a FatalError with the given message.
func Fatal(msg string) error {
	return &FatalError{Msg: msg}
}

// IsFatal reports whether err is or wraps a FatalError.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}
