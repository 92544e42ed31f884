//go:build windows

package transport

import "golang.org/x/sys/windows"

// WSAECONNRESET on a UDP receive is how Windows reports an ICMP port unreachable
var (
	wouldBlockErrors  = []error{windows.WSAEWOULDBLOCK, windows.WSAETIMEDOUT}
	addrInUseErrors   = []error{windows.WSAEADDRINUSE}
	permissionErrors  = []error{windows.WSAEACCES}
	unreachableErrors = []error{windows.WSAENETUNREACH, windows.WSAEHOSTUNREACH}
	refusedErrors     = []error{windows.WSAECONNREFUSED, windows.WSAECONNRESET}
)
