package smcdiag

/*
There should be a corresponding struct for every element of the attribute
enum defined in uapi/linux/smc_diag.h

	SMC_DIAG_CONNINFO
	SMC_DIAG_LGRINFO
	SMC_DIAG_SHUTDOWN  // bare uint8, no struct
	SMC_DIAG_DMBINFO
	SMC_DIAG_FALLBACK
*/

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"strconv"
	"unsafe"

	"github.com/GuangguanWang/smc-tools/smc"
)

// ErrInvalidIP is returned when a CSV cell does not hold a parseable IP.
var ErrInvalidIP = errors.New("not a valid IP address")

// Port encodes a SockID port, in network byte order like the kernel struct.
type Port [2]byte

// MarshalCSV marshals a Port into a CSV cell, in host byte order.
func (p *Port) MarshalCSV() (string, error) {
	return strconv.FormatUint(uint64(binary.BigEndian.Uint16(p[:])), 10), nil
}

// UnmarshalCSV unmarshals a CSV cell into a Port.
func (p *Port) UnmarshalCSV(csv string) error {
	v, err := strconv.ParseUint(csv, 10, 16)
	if err != nil {
		return err
	}
	binary.BigEndian.PutUint16(p[:], uint16(v))
	return nil
}

// ipType encodes an IP address, IPv4 in the first 4 bytes, the rest zero.
type ipType [16]byte

// MarshalCSV marshals an ipType into a CSV cell.
func (i *ipType) MarshalCSV() (string, error) {
	return ip(*i).String(), nil
}

// UnmarshalCSV unmarshals a CSV cell into an ipType.
func (i *ipType) UnmarshalCSV(csv string) error {
	parsed := net.ParseIP(csv)
	if parsed == nil {
		return ErrInvalidIP
	}
	*i = ipType{}
	if v4 := parsed.To4(); v4 != nil {
		copy(i[:4], v4)
	} else {
		copy(i[:], parsed.To16())
	}
	return nil
}

// netIF encodes the interface number, in network byte order.
type netIF [4]byte

// MarshalCSV marshals a netIF into a CSV cell.
func (nif *netIF) MarshalCSV() (string, error) {
	return strconv.FormatUint(uint64(binary.BigEndian.Uint32(nif[:])), 10), nil
}

// UnmarshalCSV unmarshals a CSV cell into a netIF.
func (nif *netIF) UnmarshalCSV(csv string) error {
	v, err := strconv.ParseUint(csv, 10, 32)
	if err != nil {
		return err
	}
	binary.BigEndian.PutUint32(nif[:], uint32(v))
	return nil
}

// cookieType encodes the kernel's 64 bit socket cookie.  The cookie is
// generated within the kernel, so unlike the rest of the SockID it is in
// host byte order.
type cookieType [8]byte

// MarshalCSV marshals a cookieType into a CSV cell as upper case hex.
func (c *cookieType) MarshalCSV() (string, error) {
	return fmt.Sprintf("%X", binary.LittleEndian.Uint64(c[:])), nil
}

// UnmarshalCSV unmarshals a hex CSV cell into a cookieType.
func (c *cookieType) UnmarshalCSV(csv string) error {
	v, err := strconv.ParseUint(csv, 16, 64)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(c[:], v)
	return nil
}

// SockID is the binary linux representation of a socket, as in
// linux/inet_diag.h.  SMC sockets share inet_diag_sockid with the inet
// families.  Linux code comments indicate this struct uses the network byte
// order!!!
type SockID struct {
	IDiagSPort  Port
	IDiagDPort  Port
	IDiagSrc    ipType
	IDiagDst    ipType
	IDiagIf     netIF
	IDiagCookie cookieType
}

// Interface returns the interface number.
func (id *SockID) Interface() uint32 {
	return binary.BigEndian.Uint32(id.IDiagIf[:])
}

// SrcIP returns a golang net encoding of source address.
func (id *SockID) SrcIP() net.IP {
	return ip(id.IDiagSrc)
}

// DstIP returns a golang net encoding of destination address.
func (id *SockID) DstIP() net.IP {
	return ip(id.IDiagDst)
}

// SPort returns the host byte ordered port.
// In general, Netlink is supposed to use host byte order, but this seems to
// be an exception.  Perhaps Netlink is reading a structure that holds the
// port in network byte order.
func (id *SockID) SPort() uint16 {
	return binary.BigEndian.Uint16(id.IDiagSPort[:])
}

// DPort returns the host byte ordered port.
func (id *SockID) DPort() uint16 {
	return binary.BigEndian.Uint16(id.IDiagDPort[:])
}

// Cookie returns the SockID's 64 bit unsigned cookie.
func (id *SockID) Cookie() uint64 {
	return binary.LittleEndian.Uint64(id.IDiagCookie[:])
}

func (id *SockID) String() string {
	return fmt.Sprintf("%s:%d -> %s:%d", id.SrcIP().String(), id.SPort(), id.DstIP().String(), id.DPort())
}

// TODO should use more net.IP code instead of custom code.
func ip(bytes [16]byte) net.IP {
	if isIpv6(bytes) {
		return ipv6(bytes)
	}
	return ipv4(bytes)
}

func isIpv6(original [16]byte) bool {
	for i := 4; i < 16; i++ {
		if original[i] != 0 {
			return true
		}
	}
	return false
}

func ipv4(original [16]byte) net.IP {
	return net.IPv4(original[0], original[1], original[2], original[3]).To4()
}

func ipv6(original [16]byte) net.IP {
	return original[:]
}

// DiagMsg is the linux binary representation of an smc_diag_msg response
// header, as in uapi/linux/smc_diag.h.  One of these leads every per-socket
// message in a dump response, followed by the requested attributes.
type DiagMsg struct {
	DiagFamily   uint8
	DiagState    uint8
	DiagMode     uint8 // called diag_fallback before kernel 4.19
	DiagShutdown uint8
	ID           SockID
	DiagUID      uint32
	DiagInode    uint64
}

// SizeofDiagMsg is the size of the struct.
const SizeofDiagMsg = int(unsafe.Sizeof(DiagMsg{})) // Should be 0x40

// State returns the socket state as an smc.State.
func (msg *DiagMsg) State() smc.State {
	return smc.State(msg.DiagState)
}

// Mode returns the connection mode as an smc.Mode.
func (msg *DiagMsg) Mode() smc.Mode {
	return smc.Mode(msg.DiagMode)
}

func (msg *DiagMsg) String() string {
	return fmt.Sprintf("%s, %s, %s", msg.Mode(), msg.State(), msg.ID.String())
}

// DiagReq is the original Netlink request struct, as in uapi/linux/smc_diag.h
// smc_diag_req.  Requests using it carry MAGIC_SEQ.  Kept for completeness;
// this module always sends the v2 form.
type DiagReq struct {
	DiagFamily uint8
	Pad        [2]uint8
	DiagExt    uint8
	ID         SockID
}

// SizeofDiagReq is the size of the struct.
const SizeofDiagReq = int(unsafe.Sizeof(DiagReq{})) // Should be 0x34

// Serialize returns the struct as a byte slice, for use as netlink request data.
func (req *DiagReq) Serialize() []byte {
	return (*(*[SizeofDiagReq]byte)(unsafe.Pointer(req)))[:]
}

// Len returns the serialized length.
func (req *DiagReq) Len() int {
	return SizeofDiagReq
}

// DiagReqV2 is the extended Netlink request struct, as in
// uapi/linux/smc_diag.h smc_diag_req_v2.  Requests using it carry
// MAGIC_SEQ_V2 and name the wanted information in Cmd.
type DiagReqV2 struct {
	DiagFamily uint8
	Pad        [2]uint8
	DiagExt    uint8
	ID         SockID
	Cmd        uint32
	CmdExt     uint32
	DiaPad     [4]uint8
}

// SizeofDiagReqV2 is the size of the struct.
const SizeofDiagReqV2 = int(unsafe.Sizeof(DiagReqV2{})) // Should be 0x40

// Serialize returns the struct as a byte slice, for use as netlink request data.
func (req *DiagReqV2) Serialize() []byte {
	return (*(*[SizeofDiagReqV2]byte)(unsafe.Pointer(req)))[:]
}

// Len returns the serialized length.
func (req *DiagReqV2) Len() int {
	return SizeofDiagReqV2
}

// NewDiagReqV2 creates a new v2 request for the given command.  The extension
// mask is carried twice, truncated in the legacy 8 bit field and in full in
// CmdExt, matching what the kernel reads.
func NewDiagReqV2(cmd, ext uint32) *DiagReqV2 {
	return &DiagReqV2{
		DiagFamily: AF_SMC,
		DiagExt:    uint8(ext),
		Cmd:        cmd,
		CmdExt:     ext,
	}
}

// Cursor corresponds to the linux struct smc_diag_cursor, one end of an RMB
// ring buffer.
type Cursor struct {
	Reserved uint16
	Wrap     uint16
	Count    uint32
}

// ConnInfo corresponds to the linux struct smc_diag_conninfo.
// It is used to decode attribute type SMC_DIAG_CONNINFO.
type ConnInfo struct {
	Token        uint32 // unique connection id
	SndbufSize   uint32
	RmbeSize     uint32
	PeerRmbeSize uint32

	RxProd Cursor
	RxCons Cursor
	TxProd Cursor
	TxCons Cursor

	RxProdFlags      uint8
	RxConnStateFlags uint8
	TxProdFlags      uint8
	TxConnStateFlags uint8

	TxPrep Cursor
	TxSent Cursor
	TxFin  Cursor
}

// SizeofConnInfo is the size of the struct.
const SizeofConnInfo = int(unsafe.Sizeof(ConnInfo{})) // Should be 0x4c

// LinkInfo corresponds to the linux struct smc_diag_linkinfo, one RoCE link
// of a link group.  The GID fields hold NUL terminated text, already
// formatted by the kernel.
type LinkInfo struct {
	LinkID  uint8
	IBName  [64]byte
	IBPort  uint8
	GID     [40]byte
	PeerGID [40]byte
}

// SizeofLinkInfo is the size of the struct.
const SizeofLinkInfo = int(unsafe.Sizeof(LinkInfo{})) // Should be 0x92

// DeviceName returns the RoCE device name.
func (l *LinkInfo) DeviceName() string {
	return cString(l.IBName[:])
}

// GIDText returns the link's own GID as text.
func (l *LinkInfo) GIDText() string {
	return cString(l.GID[:])
}

// PeerGIDText returns the peer's GID as text.
func (l *LinkInfo) PeerGIDText() string {
	return cString(l.PeerGID[:])
}

// LgrInfo corresponds to the linux struct smc_diag_lgrinfo.
// It is used to decode attribute type SMC_DIAG_LGRINFO.
type LgrInfo struct {
	Lnk  [1]LinkInfo
	Role uint8 // 0 = client, 1 = server
}

// SizeofLgrInfo is the size of the struct.
const SizeofLgrInfo = int(unsafe.Sizeof(LgrInfo{})) // Should be 0x93

// RoleName returns the link group role as text.
func (l *LgrInfo) RoleName() string {
	if l.Role == 0 {
		return "CLNT"
	}
	return "SERV"
}

// FallbackInfo corresponds to the linux struct smc_diag_fallback.
// It is used to decode attribute type SMC_DIAG_FALLBACK.
type FallbackInfo struct {
	Reason        uint32
	PeerDiagnosis uint32
}

// SizeofFallbackInfo is the size of the struct.
const SizeofFallbackInfo = int(unsafe.Sizeof(FallbackInfo{})) // Should be 0x8

// DMBInfo corresponds to the linux struct smcd_diag_dmbinfo, describing the
// shared memory of an SMC-D connection.  It is used to decode attribute type
// SMC_DIAG_DMBINFO.  Pad makes the __aligned_u64 layout explicit so the
// struct matches the kernel on 32 bit platforms too.
type DMBInfo struct {
	LinkID    uint32
	Pad       uint32
	PeerGID   uint64
	MyGID     uint64
	Token     uint64
	PeerToken uint64
}

// SizeofDMBInfo is the size of the struct.
const SizeofDMBInfo = int(unsafe.Sizeof(DMBInfo{})) // Should be 0x28

func cString(b []byte) string {
	i := bytes.IndexByte(b, 0)
	if i < 0 {
		return string(b)
	}
	return string(b[:i])
}
