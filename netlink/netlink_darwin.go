package netlink

/*******************************************************************************************/
/*   These are hard coded, because darwin doesn't include the appropriate linux headers.   */
/*******************************************************************************************/

// NlMsghdr matches the linux syscall.NlMsghdr layout.
type NlMsghdr struct {
	Len   uint32
	Type  uint16
	Flags uint16
	Seq   uint32
	Pid   uint32
}

// NetlinkMessage represents a netlink message.
type NetlinkMessage struct {
	Header NlMsghdr
	Data   []byte
}

// RtAttr matches the linux syscall.RtAttr layout.
type RtAttr struct {
	Len  uint16
	Type uint16
}

// Alignment and size constants from the linux uapi headers.
const (
	NLMSG_ALIGNTO  = 4
	RTA_ALIGNTO    = 4
	SizeofNlMsghdr = 0x10
	SizeofRtAttr   = 0x4
)
