package netlink

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net"
	"strconv"
	"time"
	"unsafe"

	"github.com/GuangguanWang/smc-tools/smcdiag"
)

/*********************************************************************************************
*          Internal representation of the per-connection JSONL records
*********************************************************************************************/

// ErrBadIP is returned when an exclusion rule names an unparseable IP.
var ErrBadIP = errors.New("bad IP address")

// Metadata contains the metadata for a particular SMC connection.
type Metadata struct {
	UUID      string
	Sequence  int
	StartTime time.Time
}

// ArchivalRecord is a container for parsed SMC diag messages and attributes.
type ArchivalRecord struct {
	// Timestamp should be truncated to 1 millisecond for best compression.
	Timestamp time.Time `json:",omitempty"`

	// Storing the raw smc_diag_msg instead of the parsed struct keeps
	// marshalling cheap and the compressed records small.
	RawSDM RawDiagMsg `json:",omitempty"`
	// Saving just the attribute values reduces marshalling time.
	Attributes [][]byte `json:",omitempty"` // byte slices backed by the NLMsg

	// Metadata contains connection level metadata.  It is typically included
	// in the very first record in a file.
	Metadata *Metadata `json:",omitempty"`
}

// ExcludeConfig describes which sockets should be ignored entirely.
type ExcludeConfig struct {
	// Local excludes loopback, link local, multicast and unspecified connections.
	Local bool
	// SrcPorts excludes connections from the given source ports.
	SrcPorts map[uint16]bool
	// DstIPs excludes connections to the given destination IPs.
	DstIPs map[[16]byte]bool
}

// AddSrcPort adds the given source port to the excluded set.
func (ex *ExcludeConfig) AddSrcPort(port string) error {
	p, err := strconv.ParseUint(port, 10, 16)
	if err != nil {
		return err
	}
	if ex.SrcPorts == nil {
		ex.SrcPorts = map[uint16]bool{}
	}
	ex.SrcPorts[uint16(p)] = true
	return nil
}

// AddDstIP adds the given destination IP to the excluded set.  The key uses
// the kernel sockid layout: an IPv4 address occupies the first four bytes.
func (ex *ExcludeConfig) AddDstIP(dst string) error {
	ip := net.ParseIP(dst)
	if ip == nil {
		return ErrBadIP
	}
	b := [16]byte{}
	if v4 := ip.To4(); v4 != nil {
		copy(b[:4], v4)
	} else {
		copy(b[:], ip.To16())
	}
	if ex.DstIPs == nil {
		ex.DstIPs = map[[16]byte]bool{}
	}
	ex.DstIPs[b] = true
	return nil
}

func isLocal(addr net.IP) bool {
	return addr.IsLoopback() || addr.IsLinkLocalUnicast() || addr.IsMulticast() || addr.IsUnspecified()
}

// MakeArchivalRecord parses the NetlinkMessage into an ArchivalRecord.  If
// exclude is not nil, it returns nil for any socket that matches the
// exclusions.  Note that Parse does not populate the Timestamp field, so
// caller should do so.
func MakeArchivalRecord(msg *NetlinkMessage, exclude *ExcludeConfig) (*ArchivalRecord, error) {
	if msg.Header.Type != 20 {
		return nil, ErrNotType20
	}
	raw, attrBytes := splitDiagMsg(msg.Data)
	if raw == nil {
		return nil, ErrParseFailed
	}
	if exclude != nil {
		sdm, err := raw.Parse()
		if err != nil {
			return nil, err
		}
		if exclude.Local && (isLocal(sdm.ID.SrcIP()) || isLocal(sdm.ID.DstIP())) {
			return nil, nil
		}
		if len(exclude.SrcPorts) > 0 && exclude.SrcPorts[sdm.ID.SPort()] {
			return nil, nil
		}
		if len(exclude.DstIPs) > 0 && exclude.DstIPs[[16]byte(sdm.ID.IDiagDst)] {
			return nil, nil
		}
	}

	record := ArchivalRecord{RawSDM: raw}
	record.Attributes = ParseAttrTable(attrBytes, smcdiag.SMC_DIAG_MAX)
	return &record, nil
}

// ChangeType indicates why a new record is worthwhile saving.
type ChangeType int

// Constants to describe the degree of change between two records.
const (
	NoMajorChange        ChangeType = iota
	StateChange                     // The socket state or shutdown mask changed
	NoConnInfo                      // There is no ConnInfo attribute
	NewAttribute                    // There is a new attribute
	LostAttribute                   // There is a dropped attribute
	AttributeLength                 // The length of an attribute changed
	StateOrCounterChange            // A buffer cursor or flag in the ConnInfo moved
	PreviousWasNil                  // The previous record was nil
	Other                           // Some other attribute changed
)

// Useful offsets for Compare.  The first 16 bytes of smc_diag_conninfo hold
// the token and the negotiated buffer sizes, which are fixed for the life of
// the connection.  Everything from the RxProd cursor on is traffic state.
const cursorsOffset = unsafe.Offsetof(smcdiag.ConnInfo{}.RxProd)

// Compare compares important fields to determine whether significant updates
// have occurred.  Cursor movement in the ConnInfo attribute is what signals
// data flow on an SMC connection, so any change there is worth recording.
// Connection identity fields ahead of the cursors only change when the
// kernel reuses the slot, and attribute arrival or loss usually means a
// handshake phase change or a link group event, so those are recorded too.
func (pm *ArchivalRecord) Compare(previous *ArchivalRecord) (ChangeType, error) {
	if previous == nil {
		return PreviousWasNil, nil
	}
	// If the SMC state has changed, that is important!
	prevSDM, err := previous.RawSDM.Parse()
	if err != nil {
		return NoMajorChange, ErrParseFailed
	}
	pmSDM, err := pm.RawSDM.Parse()
	if err != nil {
		return NoMajorChange, ErrParseFailed
	}
	if prevSDM.DiagState != pmSDM.DiagState || prevSDM.DiagShutdown != pmSDM.DiagShutdown {
		return StateChange, nil
	}

	if len(previous.Attributes) <= smcdiag.SMC_DIAG_CONNINFO || len(pm.Attributes) <= smcdiag.SMC_DIAG_CONNINFO {
		return NoConnInfo, nil
	}
	a := previous.Attributes[smcdiag.SMC_DIAG_CONNINFO]
	b := pm.Attributes[smcdiag.SMC_DIAG_CONNINFO]
	if a == nil || b == nil {
		return NoConnInfo, nil
	}
	if len(a) != len(b) {
		return AttributeLength, nil
	}
	if len(a) < int(cursorsOffset) {
		// Too short to slice apart; any difference counts.
		if !bytes.Equal(a, b) {
			return StateOrCounterChange, nil
		}
	} else {
		// If any of the ring buffer cursors or flags have changed, that is
		// what we are most interested in.
		if !bytes.Equal(a[cursorsOffset:], b[cursorsOffset:]) {
			return StateOrCounterChange, nil
		}
		// Check the identity fields too.  These shouldn't change, but this
		// way we won't miss something subtle.
		if !bytes.Equal(a[:cursorsOffset], b[:cursorsOffset]) {
			return StateOrCounterChange, nil
		}
	}

	// If any attributes have been added or removed, that is likely significant.
	if len(previous.Attributes) < len(pm.Attributes) {
		return NewAttribute, nil
	}
	if len(previous.Attributes) > len(pm.Attributes) {
		return LostAttribute, nil
	}
	// Both slices are the same length, check for other differences...
	for tp := range previous.Attributes {
		switch tp {
		case smcdiag.SMC_DIAG_CONNINFO:
			// Handled explicitly above.
		default:
			a := previous.Attributes[tp]
			b := pm.Attributes[tp]
			if a == nil && b != nil {
				return NewAttribute, nil
			}
			if a != nil && b == nil {
				return LostAttribute, nil
			}
			if a == nil && b == nil {
				continue
			}
			if len(a) != len(b) {
				return AttributeLength, nil
			}
			// All others we want to be identical
			if !bytes.Equal(a, b) {
				return Other, nil
			}
		}
	}

	return NoMajorChange, nil
}

/*********************************************************************************************/
/*                            Utilities for loading data                                     */
/*********************************************************************************************/

// LoadRawNetlinkMessage is a simple utility to read the next NetlinkMessage
// from a source reader, e.g. from a file of naked binary netlink messages.
// NOTE: This is a bit fragile if there are any bit errors in the message headers.
func LoadRawNetlinkMessage(rdr io.Reader) (*NetlinkMessage, error) {
	var header NlMsghdr
	err := binary.Read(rdr, binary.LittleEndian, &header)
	if err != nil {
		// Note that this may be EOF
		return nil, err
	}
	if int(header.Len) < SizeofNlMsghdr {
		return nil, ErrParseFailed
	}
	data := make([]byte, int(header.Len)-SizeofNlMsghdr)
	err = binary.Read(rdr, binary.LittleEndian, data)
	if err != nil {
		return nil, err
	}

	return &NetlinkMessage{Header: header, Data: data}, nil
}

// ArchiveReader produces ArchivalRecord structs from some source.
type ArchiveReader interface {
	// Next returns the next ArchivalRecord.  Returns nil, EOF if no more records, or other error if there is a problem.
	Next() (*ArchivalRecord, error)
}

type rawReader struct {
	rdr io.Reader
}

// NewRawReader wraps an io.Reader of naked binary netlink messages to create an ArchiveReader.
func NewRawReader(rdr io.Reader) ArchiveReader {
	return &rawReader{rdr: rdr}
}

// Next decodes and returns the next ArchivalRecord.
func (raw *rawReader) Next() (*ArchivalRecord, error) {
	msg, err := LoadRawNetlinkMessage(raw.rdr)
	if err != nil {
		return nil, err
	}
	return MakeArchivalRecord(msg, nil)
}

type archiveReader struct {
	scanner *bufio.Scanner
}

// NewArchiveReader wraps a source of JSONL ArchivalRecords to create an ArchiveReader.
func NewArchiveReader(rdr io.Reader) ArchiveReader {
	sc := bufio.NewScanner(rdr)
	return &archiveReader{scanner: sc}
}

// Next decodes and returns the next ArchivalRecord.
func (ar *archiveReader) Next() (*ArchivalRecord, error) {
	if !ar.scanner.Scan() {
		return nil, io.EOF
	}
	buf := ar.scanner.Bytes()

	record := ArchivalRecord{}
	err := json.Unmarshal(buf, &record)
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// LoadAllArchivalRecords reads all records from a jsonl stream.
func LoadAllArchivalRecords(rdr io.Reader) ([]*ArchivalRecord, error) {
	msgs := make([]*ArchivalRecord, 0, 2000) // We typically read a large number of records

	pmr := NewArchiveReader(rdr)

	for {
		pm, err := pmr.Next()
		if err != nil {
			if err == io.EOF {
				return msgs, nil
			}
			return msgs, err
		}
		msgs = append(msgs, pm)
	}
}
