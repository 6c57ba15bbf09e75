// Package snapshot contains code to generate Snapshots from ArchiveRecords, and utilities to
// load them from files.
package snapshot

import (
	"errors"
	"io"
	"log"
	"time"
	"unsafe"

	"github.com/GuangguanWang/smc-tools/netlink"
	"github.com/GuangguanWang/smc-tools/smcdiag"
)

// ErrEmptyRecord is returned if an ArchivalRecord is empty.
var ErrEmptyRecord = errors.New("Message should contain Metadata or RawSDM")

// Decode decodes a netlink.ArchivalRecord into a single Snapshot
func Decode(ar *netlink.ArchivalRecord) (*Snapshot, error) {
	var err error
	result := Snapshot{}
	result.Timestamp = ar.Timestamp
	if ar.Metadata == nil && ar.RawSDM == nil {
		return nil, ErrEmptyRecord
	}
	result.Metadata = ar.Metadata
	if ar.RawSDM != nil {
		result.DiagMsg, err = ar.RawSDM.Parse()
		if err != nil {
			log.Println("Error decoding RawSDM:", err)
			return nil, err
		}
	}
	for i, raw := range ar.Attributes {
		if raw == nil {
			continue
		}
		rta := RouteAttrValue(raw)
		result.Observed |= 1 << uint8(i-1)
		switch i {
		case smcdiag.SMC_DIAG_CONNINFO:
			result.ConnInfo = rta.ToConnInfo()
		case smcdiag.SMC_DIAG_LGRINFO:
			result.LgrInfo = rta.ToLgrInfo()
		case smcdiag.SMC_DIAG_SHUTDOWN:
			result.Shutdown = rta.ToShutdown()
		case smcdiag.SMC_DIAG_DMBINFO:
			result.DMBInfo = rta.ToDMBInfo()
		case smcdiag.SMC_DIAG_FALLBACK:
			result.Fallback = rta.ToFallback()
		default:
			// TODO metric so we can alert.
			log.Println("unhandled attribute type:", i)
		}
	}
	return &result, nil
}

/*********************************************************************************************/
/*            Conversions from RouteAttr.Value to the various smcdiag structs                */
/*********************************************************************************************/

// RouteAttrValue is the type of RouteAttr.Value
type RouteAttrValue []byte

// maybeCopy checks whether the src is the full size of the intended struct size.
// If so, it just returns the pointer, otherwise it copies the content to an
// appropriately sized new byte slice, and returns pointer to that.
func maybeCopy(src []byte, size int) unsafe.Pointer {
	if len(src) < size {
		data := make([]byte, size)
		copy(data, src)
		return unsafe.Pointer(&data[0])
	}
	// TODO Check for larger than expected, and increment a metric with appropriate label.
	return unsafe.Pointer(&src[0])
}

// ToConnInfo maps the raw RouteAttrValue onto a ConnInfo.
// For older kernels that sent a shorter struct, it may have to copy the bytes.
func (raw RouteAttrValue) ToConnInfo() *smcdiag.ConnInfo {
	structSize := (int)(unsafe.Sizeof(smcdiag.ConnInfo{}))
	return (*smcdiag.ConnInfo)(maybeCopy(raw, structSize))
}

// ToLgrInfo maps the raw RouteAttrValue onto a LgrInfo.
func (raw RouteAttrValue) ToLgrInfo() *smcdiag.LgrInfo {
	structSize := (int)(unsafe.Sizeof(smcdiag.LgrInfo{}))
	return (*smcdiag.LgrInfo)(maybeCopy(raw, structSize))
}

// ToDMBInfo maps the raw RouteAttrValue onto a DMBInfo.
func (raw RouteAttrValue) ToDMBInfo() *smcdiag.DMBInfo {
	structSize := (int)(unsafe.Sizeof(smcdiag.DMBInfo{}))
	return (*smcdiag.DMBInfo)(maybeCopy(raw, structSize))
}

// ToFallback maps the raw RouteAttrValue onto a FallbackInfo.
func (raw RouteAttrValue) ToFallback() *smcdiag.FallbackInfo {
	structSize := (int)(unsafe.Sizeof(smcdiag.FallbackInfo{}))
	return (*smcdiag.FallbackInfo)(maybeCopy(raw, structSize))
}

func (raw RouteAttrValue) toUint8() uint8 {
	if len(raw) < 1 {
		log.Println("Parse error")
		return 0
	}
	return uint8(raw[0])
}

// ToShutdown returns the shutdown mask.  See RCV_SHUTDOWN and SEND_SHUTDOWN.
func (raw RouteAttrValue) ToShutdown() uint8 {
	return raw.toUint8()
}

// Snapshot contains all info gathered through netlink library.
type Snapshot struct {
	// Timestamp of batch of messages containing this message.
	Timestamp time.Time

	// Metadata for the connection.  Usually empty.
	Metadata *netlink.Metadata

	// Bit field indicating whether each message type was observed.
	Observed uint32

	// Bit field indicating whether any message type was NOT fully parsed.
	// TODO - populate this field if any message is ignored, or not fully parsed.
	NotFullyParsed uint32

	// Info from struct smc_diag_msg, including the socket id.
	DiagMsg *smcdiag.DiagMsg

	// Data obtained from SMC_DIAG_CONNINFO.
	ConnInfo *smcdiag.ConnInfo

	// Link group data obtained from SMC_DIAG_LGRINFO.  Only present for
	// SMC-R sockets.
	LgrInfo *smcdiag.LgrInfo

	// TODO Do we need to record present and zero, vs absent?
	Shutdown uint8

	// DMB data obtained from SMCD_DIAG_DMBINFO.  Only present for SMC-D
	// sockets.
	DMBInfo *smcdiag.DMBInfo

	// Fallback data obtained from SMC_DIAG_FALLBACK.  Only present when the
	// connection fell back to plain TCP.
	Fallback *smcdiag.FallbackInfo
}

// ConnectionLog contains a Metadata and slice of Snapshots.
type ConnectionLog struct {
	Metadata  netlink.Metadata
	Snapshots []Snapshot
}

// Reader wraps an ArchiveReader to provide a Snapshot reader.
type Reader struct {
	archiveReader netlink.ArchiveReader
}

// NewReader wraps an ArchiveReader and provides Next()
func NewReader(ar netlink.ArchiveReader) *Reader {
	return &Reader{archiveReader: ar}
}

var zeroTime = time.Time{}

// Next reads, parses and returns the next Snapshot
func (rdr Reader) Next() (*Snapshot, error) {
	ar, err := rdr.archiveReader.Next()
	if err != nil {
		return nil, err
	}

	// HACK
	// Parse doesn't fill the Timestamp, so for now, populate it with something...
	if ar.Timestamp == zeroTime {
		ar.Timestamp = time.Date(2009, time.May, 29, 23, 59, 59, 0, time.UTC)
	}

	return Decode(ar)
}

// LoadAll loads all snapshots from an ArchiveReader.  The metadata line that
// the saver writes at the head of each connection file is separated out and
// returned alongside the connection snapshots.
func LoadAll(ar netlink.ArchiveReader) (*netlink.Metadata, []*Snapshot, error) {
	snapshots := make([]*Snapshot, 0, 2000)
	var metadata *netlink.Metadata

	rdr := NewReader(ar)
	for {
		snap, err := rdr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return metadata, snapshots, err
		}
		if snap.Metadata != nil {
			metadata = snap.Metadata
			if snap.DiagMsg == nil {
				continue
			}
		}
		snapshots = append(snapshots, snap)
	}
	return metadata, snapshots, nil
}
