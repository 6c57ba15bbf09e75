// Package smc provides SMC socket state and mode constants and string
// conversions for those constants.
package smc

import "fmt"

// State is the enumeration of SMC socket states, from the kernel's
// net/smc/smc.h. The values shadow the TCP states the SMC state machine
// reuses, which is why they are sparse.
type State int32

// All of these constants' names make the linter complain, but we inherited
// these names from external C code, so we will keep them.
const (
	ACTIVE           State = 1
	INIT             State = 2
	CLOSED           State = 7
	LISTEN           State = 10
	PEERCLOSEWAIT1   State = 20
	PEERCLOSEWAIT2   State = 21
	APPCLOSEWAIT1    State = 22
	APPCLOSEWAIT2    State = 23
	APPFINCLOSEWAIT  State = 24
	PEERFINCLOSEWAIT State = 25
	PEERABORTWAIT    State = 26
	PROCESSABORT     State = 27
)

// stateName maps from SMC states to their string representations.
var stateName = map[State]string{
	ACTIVE:           "ACTIVE",
	INIT:             "INIT",
	CLOSED:           "CLOSED",
	LISTEN:           "LISTEN",
	PEERCLOSEWAIT1:   "PEERCLOSEWAIT1",
	PEERCLOSEWAIT2:   "PEERCLOSEWAIT2",
	APPCLOSEWAIT1:    "APPCLOSEWAIT1",
	APPCLOSEWAIT2:    "APPCLOSEWAIT2",
	APPFINCLOSEWAIT:  "APPFINCLOSEWAIT",
	PEERFINCLOSEWAIT: "PEERFINCLOSEWAIT",
	PEERABORTWAIT:    "PEERABORTWAIT",
	PROCESSABORT:     "PROCESSABORT",
}

func (x State) String() string {
	s, ok := stateName[x]
	if !ok {
		return fmt.Sprintf("UNKNOWN_STATE_%d", x)
	}
	return s
}

// Mode is the enumeration of SMC connection modes. A connection is carried
// over RDMA (SMC-R), over ISM shared memory (SMC-D), or fell back to plain
// TCP during the handshake.
type Mode uint8

// Mode values from the kernel's uapi smc_diag.h.
const (
	SMCR         Mode = 0
	FALLBACK_TCP Mode = 1
	SMCD         Mode = 2
)

var modeName = map[Mode]string{
	SMCR:         "SMCR",
	FALLBACK_TCP: "TCP",
	SMCD:         "SMCD",
}

func (m Mode) String() string {
	s, ok := modeName[m]
	if !ok {
		return fmt.Sprintf("UNKNOWN_MODE_%d", m)
	}
	return s
}
