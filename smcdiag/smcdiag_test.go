package smcdiag_test

import (
	"log"
	"strings"
	"testing"
	"unsafe"

	"github.com/GuangguanWang/smc-tools/smc"
	"github.com/GuangguanWang/smc-tools/smcdiag"
	"github.com/vishvananda/netlink/nl"
)

func init() {
	// Always prepend the filename and line number.
	log.SetFlags(log.LstdFlags | log.Lshortfile)
}

// The kernel ABI is frozen, so these offsets and sizes must never change.
func TestSockIDLayout(t *testing.T) {
	id := smcdiag.SockID{}
	if unsafe.Sizeof(id) != 48 {
		t.Error("SockID size", unsafe.Sizeof(id), "!= 48")
	}
	if unsafe.Offsetof(id.IDiagDPort) != 2 {
		t.Error("Bad DPort offset:", unsafe.Offsetof(id.IDiagDPort))
	}
	if unsafe.Offsetof(id.IDiagSrc) != 4 {
		t.Error("Bad Src offset:", unsafe.Offsetof(id.IDiagSrc))
	}
	if unsafe.Offsetof(id.IDiagDst) != 20 {
		t.Error("Bad Dst offset:", unsafe.Offsetof(id.IDiagDst))
	}
	if unsafe.Offsetof(id.IDiagIf) != 36 {
		t.Error("Bad If offset:", unsafe.Offsetof(id.IDiagIf))
	}
	if unsafe.Offsetof(id.IDiagCookie) != 40 {
		t.Error("Bad Cookie offset:", unsafe.Offsetof(id.IDiagCookie))
	}
}

func TestDiagMsgLayout(t *testing.T) {
	msg := smcdiag.DiagMsg{}
	if unsafe.Sizeof(msg) != 64 || smcdiag.SizeofDiagMsg != 64 {
		t.Error("DiagMsg size", unsafe.Sizeof(msg), "!= 64")
	}
	if unsafe.Offsetof(msg.ID) != 4 {
		t.Error("Bad ID offset:", unsafe.Offsetof(msg.ID))
	}
	if unsafe.Offsetof(msg.DiagUID) != 52 {
		t.Error("Bad UID offset:", unsafe.Offsetof(msg.DiagUID))
	}
	if unsafe.Offsetof(msg.DiagInode) != 56 {
		t.Error("Bad inode offset:", unsafe.Offsetof(msg.DiagInode))
	}
}

func TestRequestLayout(t *testing.T) {
	req := smcdiag.DiagReq{}
	if unsafe.Sizeof(req) != 52 || smcdiag.SizeofDiagReq != 52 {
		t.Error("DiagReq size", unsafe.Sizeof(req), "!= 52")
	}
	v2 := smcdiag.DiagReqV2{}
	if unsafe.Sizeof(v2) != 64 || smcdiag.SizeofDiagReqV2 != 64 {
		t.Error("DiagReqV2 size", unsafe.Sizeof(v2), "!= 64")
	}
	if unsafe.Offsetof(v2.ID) != 4 {
		t.Error("Bad ID offset:", unsafe.Offsetof(v2.ID))
	}
	if unsafe.Offsetof(v2.Cmd) != 52 {
		t.Error("Bad Cmd offset:", unsafe.Offsetof(v2.Cmd))
	}
	if unsafe.Offsetof(v2.CmdExt) != 56 {
		t.Error("Bad CmdExt offset:", unsafe.Offsetof(v2.CmdExt))
	}
	if unsafe.Offsetof(v2.DiaPad) != 60 {
		t.Error("Bad DiaPad offset:", unsafe.Offsetof(v2.DiaPad))
	}
}

func TestAttrStructLayout(t *testing.T) {
	if unsafe.Sizeof(smcdiag.Cursor{}) != 8 {
		t.Error("Cursor size", unsafe.Sizeof(smcdiag.Cursor{}), "!= 8")
	}
	ci := smcdiag.ConnInfo{}
	if smcdiag.SizeofConnInfo != 76 {
		t.Error("ConnInfo size", smcdiag.SizeofConnInfo, "!= 76")
	}
	if unsafe.Offsetof(ci.RxProd) != 16 {
		t.Error("Bad RxProd offset:", unsafe.Offsetof(ci.RxProd))
	}
	if unsafe.Offsetof(ci.RxProdFlags) != 48 {
		t.Error("Bad RxProdFlags offset:", unsafe.Offsetof(ci.RxProdFlags))
	}
	if unsafe.Offsetof(ci.TxPrep) != 52 {
		t.Error("Bad TxPrep offset:", unsafe.Offsetof(ci.TxPrep))
	}
	if smcdiag.SizeofLinkInfo != 146 {
		t.Error("LinkInfo size", smcdiag.SizeofLinkInfo, "!= 146")
	}
	lgr := smcdiag.LgrInfo{}
	if smcdiag.SizeofLgrInfo != 147 {
		t.Error("LgrInfo size", smcdiag.SizeofLgrInfo, "!= 147")
	}
	if unsafe.Offsetof(lgr.Role) != 146 {
		t.Error("Bad Role offset:", unsafe.Offsetof(lgr.Role))
	}
	if smcdiag.SizeofFallbackInfo != 8 {
		t.Error("FallbackInfo size", smcdiag.SizeofFallbackInfo, "!= 8")
	}
	dmb := smcdiag.DMBInfo{}
	if smcdiag.SizeofDMBInfo != 40 {
		t.Error("DMBInfo size", smcdiag.SizeofDMBInfo, "!= 40")
	}
	if unsafe.Offsetof(dmb.PeerGID) != 8 {
		t.Error("Bad PeerGID offset:", unsafe.Offsetof(dmb.PeerGID))
	}
}

func TestNewDiagReqV2(t *testing.T) {
	ext := uint32(1<<(smcdiag.SMC_DIAG_CONNINFO-1) | 1<<(smcdiag.SMC_DIAG_LGRINFO-1))
	req := smcdiag.NewDiagReqV2(smcdiag.SMC_DIAG_GET_SOCK_INFO, ext)
	b := req.Serialize()
	if len(b) != req.Len() || len(b) != smcdiag.SizeofDiagReqV2 {
		t.Fatal("Bad serialized length:", len(b))
	}
	if b[0] != smcdiag.AF_SMC {
		t.Error("diag_family should be AF_SMC:", b[0])
	}
	if b[3] != 0x03 {
		t.Error("Truncated extension mask should be at offset 3:", b[3])
	}
	native := nl.NativeEndian()
	if native.Uint32(b[52:56]) != smcdiag.SMC_DIAG_GET_SOCK_INFO {
		t.Error("Command should be at offset 52")
	}
	if native.Uint32(b[56:60]) != ext {
		t.Error("Full extension mask should be at offset 56")
	}
}

func TestDiagMsgString(t *testing.T) {
	msg := smcdiag.DiagMsg{DiagState: uint8(smc.LISTEN), DiagMode: uint8(smc.SMCD)}
	s := msg.String()
	if !strings.Contains(s, "LISTEN") || !strings.Contains(s, "SMCD") {
		t.Error("Missing state or mode:", s)
	}
}

func TestLinkText(t *testing.T) {
	l := smcdiag.LinkInfo{LinkID: 1, IBPort: 1}
	copy(l.IBName[:], "mlx5_0")
	copy(l.GID[:], "00fe:8000:0000:0000")
	copy(l.PeerGID[:], "00fe:8000:0000:0001")
	if l.DeviceName() != "mlx5_0" {
		t.Error("Bad device name:", l.DeviceName())
	}
	if l.GIDText() != "00fe:8000:0000:0000" {
		t.Error("Bad GID text:", l.GIDText())
	}
	if l.PeerGIDText() != "00fe:8000:0000:0001" {
		t.Error("Bad peer GID text:", l.PeerGIDText())
	}
	lgr := smcdiag.LgrInfo{Role: 1}
	if lgr.RoleName() != "SERV" {
		t.Error("Bad role name:", lgr.RoleName())
	}
	lgr.Role = 0
	if lgr.RoleName() != "CLNT" {
		t.Error("Bad role name:", lgr.RoleName())
	}
}
