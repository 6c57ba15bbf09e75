package netlink

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// NlMsghdr is an alias for the linux-only syscall type, so that parsing code
// also builds on other platforms.
type NlMsghdr = syscall.NlMsghdr

// NetlinkMessage is an alias for the linux-only syscall type.
type NetlinkMessage = syscall.NetlinkMessage

// RtAttr is an alias for the linux-only syscall type.
type RtAttr = syscall.RtAttr

// Alignment and size constants from the linux uapi headers.
const (
	NLMSG_ALIGNTO  = unix.NLMSG_ALIGNTO
	RTA_ALIGNTO    = unix.RTA_ALIGNTO
	SizeofNlMsghdr = unix.SizeofNlMsghdr
	SizeofRtAttr   = unix.SizeofRtAttr
)
