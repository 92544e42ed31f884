//go:build unix

package transport

import "golang.org/x/sys/unix"

var (
	wouldBlockErrors  = []error{unix.EAGAIN, unix.EWOULDBLOCK, unix.ETIMEDOUT}
	addrInUseErrors   = []error{unix.EADDRINUSE}
	permissionErrors  = []error{unix.EACCES, unix.EPERM}
	unreachableErrors = []error{unix.ENETUNREACH, unix.EHOSTUNREACH}
	refusedErrors     = []error{unix.ECONNREFUSED, unix.ECONNRESET}
)
