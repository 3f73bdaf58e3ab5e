package rtsock

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// saAlignTo is the sockaddr padding boundary: sizeof(long) on FreeBSD.
const saAlignTo = int(unsafe.Sizeof(uintptr(0)))

func finalizeHdr(*unix.RtMsghdr) {}

func payloadOffset(*unix.RtMsghdr) int { return unix.SizeofRtMsghdr }

// Transient reports routes the monitor should not surface. FreeBSD
// stopped cloning routes long ago, so everything is reported.
func Transient(int32) bool { return false }
