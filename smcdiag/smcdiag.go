// Package smcdiag provides basic structs and utilities for SMC_DIAG messages.
// Based on uapi/linux/smc_diag.h.
package smcdiag

/* IMPORTANT NOTES
AF_SMC sockets are dumped through the same NETLINK_SOCK_DIAG channel as inet
sockets, with SOCK_DIAG_BY_FAMILY requests whose payload is an smc_diag_req
variant instead of inet_diag_req_v2.

"Netlink messages are aligned to 32 bits and, generally speaking, they contain
data that is expressed in host-byte order"
*/

// Constants from linux.
const (
	AF_SMC              = 43 // linux/socket.h, PF_SMC == AF_SMC
	SOCK_DIAG_BY_FAMILY = 20 // uapi/linux/sock_diag.h
)

// Attribute types for the response to a dump request, from
// uapi/linux/smc_diag.h.  All of these constants' names make the linter
// complain, but we inherited these names from external C code, so we will
// keep them.
const (
	SMC_DIAG_NONE = iota
	SMC_DIAG_CONNINFO
	SMC_DIAG_LGRINFO
	SMC_DIAG_SHUTDOWN
	SMC_DIAG_DMBINFO
	SMC_DIAG_FALLBACK
)

// SMC_DIAG_MAX is the highest attribute type the kernel emits.
const SMC_DIAG_MAX = SMC_DIAG_FALLBACK

// Command values for the extended smc_diag_req_v2 request.
const (
	SMC_DIAG_GET_SOCK_INFO = 1
	SMC_DIAG_GET_LGR_INFO  = 2
	SMC_DIAG_GET_DEV_INFO  = 3
)

// Sequence markers distinguishing request generations on the wire.  The
// kernel echoes them back, so a response stream can be attributed to the
// request flavor that caused it.
const (
	MAGIC_SEQ        = 123456
	MAGIC_SEQ_V2     = 123459
	MAGIC_SEQ_V2_ACK = 123460
)

// Shutdown mask bits carried by the SMC_DIAG_SHUTDOWN attribute, from the
// kernel's RCV_SHUTDOWN/SEND_SHUTDOWN.
const (
	RCV_SHUTDOWN  = 1
	SEND_SHUTDOWN = 2
)
