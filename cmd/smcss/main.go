//go:build linux

// smcss prints information about SMC sockets, in the manner of the smcss
// tool shipped with smc-tools.  It performs one diagnostic dump and prints
// one fixed-width row per socket.
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"os"

	"github.com/m-lab/go/flagx"
	"github.com/m-lab/go/rtx"

	"github.com/GuangguanWang/smc-tools/collector"
	"github.com/GuangguanWang/smc-tools/netlink"
	"github.com/GuangguanWang/smc-tools/smc"
	"github.com/GuangguanWang/smc-tools/smcdiag"
	"github.com/GuangguanWang/smc-tools/snapshot"
)

func init() {
	// Always prepend the filename and line number.
	log.SetFlags(log.LstdFlags | log.Lshortfile)
}

// boolFlag registers a flag under both its long and single letter names.
func boolFlag(long, short, usage string) *bool {
	b := flag.Bool(long, false, usage)
	flag.BoolVar(b, short, false, "short for -"+long)
	return b
}

var (
	all       = boolFlag("all", "a", "show connected and listening sockets")
	listening = boolFlag("listening", "l", "show only listening sockets")
	debug     = boolFlag("debug", "d", "add buffer and cursor columns")
	wide      = boolFlag("wide", "W", "do not truncate addresses")
	smcr      = boolFlag("smcr", "R", "show only SMC-R sockets, with link group columns")
	smcd      = boolFlag("smcd", "D", "show only SMC-D sockets, with DMB columns")
)

func addrWidth() int {
	if *wide {
		return 46
	}
	return 23
}

func truncated(s string) string {
	if *wide || len(s) <= addrWidth() {
		return s
	}
	return s[:addrWidth()-2] + ".."
}

func addr(ip net.IP, port uint16) string {
	return fmt.Sprintf("%s:%d", ip, port)
}

func shutdownText(sdm *smcdiag.DiagMsg) string {
	switch {
	case sdm.DiagShutdown&smcdiag.RCV_SHUTDOWN != 0 && sdm.DiagShutdown&smcdiag.SEND_SHUTDOWN != 0:
		return "RW"
	case sdm.DiagShutdown&smcdiag.RCV_SHUTDOWN != 0:
		return "R"
	case sdm.DiagShutdown&smcdiag.SEND_SHUTDOWN != 0:
		return "W"
	}
	return "-"
}

// modeText names the connection mode.  Fallback sockets also show the
// handshake failure reason when the dump carried one.
func modeText(snap *snapshot.Snapshot) string {
	mode := snap.DiagMsg.Mode()
	if mode == smc.FALLBACK_TCP && snap.Fallback != nil {
		return fmt.Sprintf("TCP 0x%08x", snap.Fallback.Reason)
	}
	return mode.String()
}

func cursorText(c *smcdiag.Cursor) string {
	return fmt.Sprintf("%04x:%08x", c.Wrap, c.Count)
}

// wanted applies the state and mode filter flags.
func wanted(sdm *smcdiag.DiagMsg) bool {
	if *smcr && sdm.Mode() != smc.SMCR {
		return false
	}
	if *smcd && sdm.Mode() != smc.SMCD {
		return false
	}
	if *listening {
		return sdm.State() == smc.LISTEN
	}
	if sdm.State() == smc.LISTEN {
		return *all
	}
	return true
}

func printHeader(w io.Writer) {
	aw := addrWidth()
	fmt.Fprintf(w, "%-16s %5s %8s %-*s %-*s %4s %-14s",
		"State", "UID", "Inode", aw, "Local Address", aw, "Peer Address", "Intf", "Mode")
	if *debug {
		fmt.Fprintf(w, " %-5s %-8s %8s %8s %8s %-13s %-13s %-13s %-13s",
			"Shutd", "Token", "Sndbuf", "Rcvbuf", "Peerbuf",
			"rxprod-Cursor", "rxcons-Cursor", "txprod-Cursor", "txcons-Cursor")
	}
	if *smcr {
		fmt.Fprintf(w, " %-4s %-16s %4s %6s %-40s %-40s",
			"Role", "IB-Device", "Port", "Linkid", "GID", "Peer-GID")
	}
	if *smcd {
		fmt.Fprintf(w, " %-16s %-16s %-16s %-16s %6s",
			"GID", "Token", "Peer-GID", "Peer-Token", "Linkid")
	}
	fmt.Fprintln(w)
}

func printRow(w io.Writer, snap *snapshot.Snapshot) {
	sdm := snap.DiagMsg
	aw := addrWidth()
	fmt.Fprintf(w, "%-16s %5d %8d %-*s %-*s %04x %-14s",
		sdm.State(), sdm.DiagUID, sdm.DiagInode,
		aw, truncated(addr(sdm.ID.SrcIP(), sdm.ID.SPort())),
		aw, truncated(addr(sdm.ID.DstIP(), sdm.ID.DPort())),
		sdm.ID.Interface(), modeText(snap))
	if *debug {
		if ci := snap.ConnInfo; ci != nil {
			fmt.Fprintf(w, " %-5s %08x %8d %8d %8d %s %s %s %s",
				shutdownText(sdm), ci.Token, ci.SndbufSize, ci.RmbeSize, ci.PeerRmbeSize,
				cursorText(&ci.RxProd), cursorText(&ci.RxCons),
				cursorText(&ci.TxProd), cursorText(&ci.TxCons))
		}
	}
	if *smcr {
		if lgr := snap.LgrInfo; lgr != nil {
			lnk := &lgr.Lnk[0]
			fmt.Fprintf(w, " %-4s %-16s %4d %6d %-40s %-40s",
				lgr.RoleName(), lnk.DeviceName(), lnk.IBPort, lnk.LinkID,
				lnk.GIDText(), lnk.PeerGIDText())
		}
	}
	if *smcd {
		if dmb := snap.DMBInfo; dmb != nil {
			fmt.Fprintf(w, " %016x %016x %016x %016x %6d",
				dmb.MyGID, dmb.Token, dmb.PeerGID, dmb.PeerToken, dmb.LinkID)
		}
	}
	fmt.Fprintln(w)
}

func listSockets(w io.Writer, snaps []*snapshot.Snapshot) {
	printHeader(w)
	for _, snap := range snaps {
		if snap.DiagMsg == nil || !wanted(snap.DiagMsg) {
			continue
		}
		printRow(w, snap)
	}
}

// requestedExtensions asks for what the selected columns need.
func requestedExtensions() []int {
	exts := []int{smcdiag.SMC_DIAG_CONNINFO, smcdiag.SMC_DIAG_SHUTDOWN, smcdiag.SMC_DIAG_FALLBACK}
	if *smcr {
		exts = append(exts, smcdiag.SMC_DIAG_LGRINFO)
	}
	if *smcd {
		exts = append(exts, smcdiag.SMC_DIAG_DMBINFO)
	}
	return exts
}

func decode(msgs []*netlink.NetlinkMessage) []*snapshot.Snapshot {
	snaps := make([]*snapshot.Snapshot, 0, len(msgs))
	for _, msg := range msgs {
		ar, err := netlink.MakeArchivalRecord(msg, nil)
		if err != nil {
			log.Println(err)
			continue
		}
		if ar == nil {
			continue
		}
		snap, err := snapshot.Decode(ar)
		if err != nil {
			log.Println(err)
			continue
		}
		snaps = append(snaps, snap)
	}
	return snaps
}

func main() {
	flag.Parse()
	rtx.Must(flagx.ArgsFromEnv(flag.CommandLine), "Could not get args from environment variables")
	if *smcr && *smcd {
		log.Fatal("-smcr and -smcd are mutually exclusive")
	}

	msgs, err := collector.OneDump(smcdiag.SMC_DIAG_GET_SOCK_INFO, requestedExtensions()...)
	rtx.Must(err, "Could not dump SMC sockets")
	listSockets(os.Stdout, decode(msgs))
}
