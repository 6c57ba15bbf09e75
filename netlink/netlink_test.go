package netlink

import (
	"log"
	"testing"
	"unsafe"

	"github.com/GuangguanWang/smc-tools/smcdiag"
	"github.com/m-lab/go/rtx"
)

func init() {
	// Always prepend the filename and line number.
	log.SetFlags(log.LstdFlags | log.Lshortfile)
}

func hdr2bytes(h *NlMsghdr) []byte {
	const sz = int(unsafe.Sizeof(NlMsghdr{}))
	return (*[sz]byte)(unsafe.Pointer(h))[:]
}

func diag2bytes(sdm *smcdiag.DiagMsg) []byte {
	const sz = int(unsafe.Sizeof(smcdiag.DiagMsg{}))
	return (*[sz]byte)(unsafe.Pointer(sdm))[:]
}

func conninfo2bytes(ci *smcdiag.ConnInfo) []byte {
	const sz = smcdiag.SizeofConnInfo
	return (*[sz]byte)(unsafe.Pointer(ci))[:]
}

// msgBytes builds one wire format netlink message, padded for the next one.
func msgBytes(typ, flags uint16, payload []byte) []byte {
	h := NlMsghdr{Len: uint32(SizeofNlMsghdr + len(payload)), Type: typ, Flags: flags}
	buf := make([]byte, nlmAlignOf(int(h.Len)))
	copy(buf, hdr2bytes(&h))
	copy(buf[SizeofNlMsghdr:], payload)
	return buf
}

// attrBytes builds one wire format route attribute, padded for the next one.
func attrBytes(typ uint16, value []byte) []byte {
	a := RtAttr{Len: uint16(SizeofRtAttr + len(value)), Type: typ}
	buf := make([]byte, rtaAlignOf(int(a.Len)))
	copy(buf, (*[SizeofRtAttr]byte)(unsafe.Pointer(&a))[:])
	copy(buf[SizeofRtAttr:], value)
	return buf
}

func TestSplitMessages(t *testing.T) {
	stream := msgBytes(20, 0, make([]byte, 64))
	stream = append(stream, msgBytes(20, 2, make([]byte, 10))...)

	msgs := SplitMessages(stream)
	if len(msgs) != 2 {
		t.Fatal("Expected 2 messages, got", len(msgs))
	}
	if len(msgs[0].Data) != 64 || len(msgs[1].Data) != 10 {
		t.Error("Bad payload lengths:", len(msgs[0].Data), len(msgs[1].Data))
	}
	if msgs[1].Header.Flags != 2 {
		t.Error("Bad flags:", msgs[1].Header.Flags)
	}

	// A message cut off mid way is dropped, the complete ones survive.
	cut := msgBytes(20, 0, make([]byte, 64))
	msgs = SplitMessages(append(append([]byte{}, stream...), cut[:24]...))
	if len(msgs) != 2 {
		t.Error("Cut-off message should not be returned, got", len(msgs))
	}

	// Not even a complete header.
	if got := SplitMessages([]byte{1, 2, 3}); len(got) != 0 {
		t.Error("Expected no messages, got", len(got))
	}

	// An impossible length field ends the walk.
	h := NlMsghdr{Len: 3, Type: 20}
	if got := SplitMessages(hdr2bytes(&h)); len(got) != 0 {
		t.Error("Expected no messages, got", len(got))
	}
}

func TestParseAttrTable(t *testing.T) {
	ci := make([]byte, smcdiag.SizeofConnInfo)
	ci[0] = 0xaa
	stream := attrBytes(smcdiag.SMC_DIAG_CONNINFO, ci)
	stream = append(stream, attrBytes(smcdiag.SMC_DIAG_SHUTDOWN, []byte{2})...)
	stream = append(stream, attrBytes(smcdiag.SMC_DIAG_FALLBACK, make([]byte, 8))...)

	table := ParseAttrTable(stream, smcdiag.SMC_DIAG_MAX)
	if len(table) != smcdiag.SMC_DIAG_MAX+1 {
		t.Fatal("Bad table size:", len(table))
	}
	if len(table[smcdiag.SMC_DIAG_CONNINFO]) != smcdiag.SizeofConnInfo {
		t.Error("Bad conninfo length:", len(table[smcdiag.SMC_DIAG_CONNINFO]))
	}
	if table[smcdiag.SMC_DIAG_CONNINFO][0] != 0xaa {
		t.Error("Conninfo bytes were not preserved")
	}
	if len(table[smcdiag.SMC_DIAG_SHUTDOWN]) != 1 || table[smcdiag.SMC_DIAG_SHUTDOWN][0] != 2 {
		t.Error("Bad shutdown attribute:", table[smcdiag.SMC_DIAG_SHUTDOWN])
	}
	if table[smcdiag.SMC_DIAG_LGRINFO] != nil || table[smcdiag.SMC_DIAG_DMBINFO] != nil {
		t.Error("Unexpected attributes present")
	}
}

func TestParseAttrTableFirstWins(t *testing.T) {
	first := attrBytes(smcdiag.SMC_DIAG_SHUTDOWN, []byte{1})
	second := attrBytes(smcdiag.SMC_DIAG_SHUTDOWN, []byte{3})

	table := ParseAttrTable(append(first, second...), smcdiag.SMC_DIAG_MAX)
	if table[smcdiag.SMC_DIAG_SHUTDOWN][0] != 1 {
		t.Error("Duplicate attribute should keep the first value, got", table[smcdiag.SMC_DIAG_SHUTDOWN])
	}
}

func TestParseAttrTablePartial(t *testing.T) {
	good := attrBytes(smcdiag.SMC_DIAG_SHUTDOWN, []byte{1})

	// Trailing garbage shorter than an attribute header.
	table := ParseAttrTable(append(append([]byte{}, good...), 0xde, 0xad), smcdiag.SMC_DIAG_MAX)
	if table[smcdiag.SMC_DIAG_SHUTDOWN] == nil {
		t.Error("Good prefix should still be decoded")
	}

	// An attribute that claims more bytes than remain.
	huge := RtAttr{Len: 200, Type: smcdiag.SMC_DIAG_CONNINFO}
	tail := make([]byte, 10)
	copy(tail, (*[SizeofRtAttr]byte)(unsafe.Pointer(&huge))[:])
	table = ParseAttrTable(append(append([]byte{}, good...), tail...), smcdiag.SMC_DIAG_MAX)
	if table[smcdiag.SMC_DIAG_SHUTDOWN] == nil {
		t.Error("Good prefix should still be decoded")
	}
	if table[smcdiag.SMC_DIAG_CONNINFO] != nil {
		t.Error("Oversized attribute should have been dropped")
	}

	// An attribute too small to be real ends the walk.
	tiny := RtAttr{Len: 2, Type: smcdiag.SMC_DIAG_SHUTDOWN}
	table = ParseAttrTable((*[SizeofRtAttr]byte)(unsafe.Pointer(&tiny))[:], smcdiag.SMC_DIAG_MAX)
	for i := range table {
		if table[i] != nil {
			t.Error("Nothing should have been decoded at type", i)
		}
	}

	// A type beyond the table is logged and skipped without derailing
	// what follows.
	big := attrBytes(40, []byte{9, 9})
	table = ParseAttrTable(append(big, good...), smcdiag.SMC_DIAG_MAX)
	if table[smcdiag.SMC_DIAG_SHUTDOWN] == nil {
		t.Error("Attribute after an unknown type should still be decoded")
	}
}

func TestRawDiagMsgParse(t *testing.T) {
	data := make([]byte, smcdiag.SizeofDiagMsg)
	for i := range data {
		data[i] = byte(i + 2)
	}
	sdm, err := RawDiagMsg(data).Parse()
	rtx.Must(err, "Could not parse the diag message")
	if sdm.DiagFamily != 2 || sdm.DiagState != 3 || sdm.DiagMode != 4 || sdm.DiagShutdown != 5 {
		t.Error("Bad header bytes:", sdm.DiagFamily, sdm.DiagState, sdm.DiagMode, sdm.DiagShutdown)
	}
	if sdm.ID.SPort() != 0x0607 {
		t.Errorf("SPort %x != 0x0607", sdm.ID.SPort())
	}
	if sdm.ID.DPort() != 0x0809 {
		t.Errorf("DPort %x != 0x0809", sdm.ID.DPort())
	}
	if sdm.ID.Interface() != 0x2a2b2c2d {
		t.Errorf("Interface %x != 0x2a2b2c2d", sdm.ID.Interface())
	}
	if sdm.ID.Cookie() != 0x3534333231302f2e {
		t.Errorf("Cookie %x != 0x3534333231302f2e", sdm.ID.Cookie())
	}
	if sdm.ID.String() == "" {
		t.Error("The socket id should print something")
	}

	if _, err := RawDiagMsg(data[:smcdiag.SizeofDiagMsg-1]).Parse(); err != ErrParseFailed {
		t.Error("Short message should fail to parse, got", err)
	}
}

func TestSplitDiagMsg(t *testing.T) {
	sdm := smcdiag.DiagMsg{DiagFamily: smcdiag.AF_SMC, DiagState: 1}
	payload := append(append([]byte{}, diag2bytes(&sdm)...), attrBytes(smcdiag.SMC_DIAG_SHUTDOWN, []byte{1})...)

	raw, attrs := splitDiagMsg(payload)
	if raw == nil {
		t.Fatal("A complete payload should split")
	}
	if len(raw) != smcdiag.SizeofDiagMsg || len(attrs) != 8 {
		t.Error("Bad split:", len(raw), len(attrs))
	}

	raw, attrs = splitDiagMsg(payload[:10])
	if raw != nil || attrs != nil {
		t.Error("A short payload should not split")
	}
}
