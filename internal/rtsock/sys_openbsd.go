package rtsock

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// saAlignTo is the sockaddr padding boundary: sizeof(long) on OpenBSD.
const saAlignTo = int(unsafe.Sizeof(uintptr(0)))

// OpenBSD's rt_msghdr records its own length; the sockaddr chain starts
// at rtm_hdrlen, not at the struct size.
func finalizeHdr(hdr *unix.RtMsghdr) {
	hdr.Hdrlen = unix.SizeofRtMsghdr
}

func payloadOffset(hdr *unix.RtMsghdr) int { return int(hdr.Hdrlen) }

// Transient reports routes the monitor should not surface: cloned cache
// entries the kernel churns through during normal traffic.
func Transient(flags int32) bool {
	return flags&unix.RTF_CLONED != 0
}
