package rtsock

import "golang.org/x/sys/unix"

// saAlignTo is the sockaddr padding boundary. XNU pads to 4 bytes
// regardless of pointer width.
const saAlignTo = 4

func finalizeHdr(*unix.RtMsghdr) {}

func payloadOffset(*unix.RtMsghdr) int { return unix.SizeofRtMsghdr }

// Transient reports routes the monitor should not surface: cloned cache
// entries the kernel churns through during normal traffic.
func Transient(flags int32) bool {
	return flags&unix.RTF_WASCLONED != 0
}
