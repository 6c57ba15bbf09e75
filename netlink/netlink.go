// Package netlink contains the bare minimum needed to partially parse netlink messages.
package netlink

import (
	"errors"
	"log"
	"time"
	"unsafe"

	"github.com/GuangguanWang/smc-tools/smcdiag"
)

// Error types.
var (
	ErrNotType20   = errors.New("NetlinkMessage wrong type")
	ErrParseFailed = errors.New("Unable to parse DiagMsg")
)

/*********************************************************************************************
*                         Low level netlink message stuff
*********************************************************************************************/

// nlmAlignOf rounds the length of a netlink message up to align it properly.
func nlmAlignOf(msglen int) int {
	return (msglen + NLMSG_ALIGNTO - 1) & ^(NLMSG_ALIGNTO - 1)
}

// rtaAlignOf rounds the length of a netlink route attribute up to align it properly.
func rtaAlignOf(attrlen int) int {
	return (attrlen + RTA_ALIGNTO - 1) & ^(RTA_ALIGNTO - 1)
}

// SplitMessages walks a receive buffer as a sequence of netlink messages.
// The walk is bounds checked and ends at the first record whose header does
// not fit or whose length field is impossible, so a partially received
// trailing message is dropped rather than misparsed.
func SplitMessages(data []byte) []NetlinkMessage {
	var msgs []NetlinkMessage
	for len(data) >= SizeofNlMsghdr {
		h := (*NlMsghdr)(unsafe.Pointer(&data[0]))
		l := int(h.Len)
		if l < SizeofNlMsghdr || l > len(data) {
			// A cut-off or impossible record.  The caller decides whether
			// that means a truncated datagram or a malformed one.
			break
		}
		msgs = append(msgs, NetlinkMessage{Header: *h, Data: data[SizeofNlMsghdr:l]})
		next := nlmAlignOf(l)
		if next >= len(data) {
			break
		}
		data = data[next:]
	}
	return msgs
}

// ParseAttrTable walks the attribute bytes that follow a diag message header
// and builds a table of attribute values indexed by attribute type.  The
// first occurrence of a type wins; later duplicates are logged and dropped.
// The walk ends at the first structurally invalid record, and whatever was
// decoded by then is still returned, so a malformed tail only costs the
// trailing attributes, never the whole message.
func ParseAttrTable(data []byte, maxType uint16) [][]byte {
	table := make([][]byte, maxType+1)
	remaining := len(data)
	b := data
	for remaining >= SizeofRtAttr {
		a := (*RtAttr)(unsafe.Pointer(&b[0]))
		l := int(a.Len)
		if l < SizeofRtAttr || l > remaining {
			break
		}
		if a.Type > maxType {
			log.Println("Error!! Received RouteAttr with very large Type:", a.Type)
		} else if table[a.Type] != nil {
			// TODO - add metric so we can alert on these.
			log.Println("Parse error - Attribute appears more than once:", a.Type)
		} else {
			table[a.Type] = b[SizeofRtAttr:l]
		}
		step := rtaAlignOf(l)
		if step > remaining {
			// Last attribute, without its trailing pad.
			step = remaining
		}
		b = b[step:]
		remaining -= step
	}
	if remaining != 0 {
		log.Println("!!!Deficit", remaining, "bytes at the end of the attributes")
	}
	return table
}

// RawDiagMsg holds the []byte representation of an smcdiag.DiagMsg.
type RawDiagMsg []byte

// Parse returns the DiagMsg itself.
func (raw RawDiagMsg) Parse() (*smcdiag.DiagMsg, error) {
	align := rtaAlignOf(smcdiag.SizeofDiagMsg)
	if len(raw) < align {
		return nil, ErrParseFailed
	}
	return (*smcdiag.DiagMsg)(unsafe.Pointer(&raw[0])), nil
}

func splitDiagMsg(data []byte) (RawDiagMsg, []byte) {
	align := rtaAlignOf(smcdiag.SizeofDiagMsg)
	if len(data) < align {
		log.Println("Wrong length", len(data), "<", align)
		return nil, nil
	}
	return RawDiagMsg(data[:align]), data[align:]
}

// MessageBlock is the set of messages produced by a single polling round,
// stamped with the time the dump was requested.
type MessageBlock struct {
	Time     time.Time
	Messages []*NetlinkMessage
}
