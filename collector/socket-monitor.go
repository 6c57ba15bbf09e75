//go:build linux

package collector

import (
	"errors"
	"log"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/vishvananda/netlink/nl"
	"golang.org/x/sys/unix"

	"github.com/GuangguanWang/smc-tools/metrics"
	"github.com/GuangguanWang/smc-tools/netlink"
	"github.com/GuangguanWang/smc-tools/smcdiag"
)

// Error types.  Each socket setup sub-step reports its own error, so a
// failure names the step that broke.  The underlying system error is
// logged where it occurs.
var (
	ErrOpenSocket  = errors.New("cannot open netlink socket")
	ErrSetSndBuf   = errors.New("cannot set SO_SNDBUF")
	ErrSetRcvBuf   = errors.New("cannot set SO_RCVBUF")
	ErrBindSocket  = errors.New("cannot bind netlink socket")
	ErrGetSockname = errors.New("cannot getsockname")
	ErrWrongFamily = errors.New("bound address is not a netlink address")
	ErrNetlinkEOF  = errors.New("EOF on netlink")
	ErrShortError  = errors.New("truncated NLMSG_ERROR message")
)

// Syscall hooks, replaceable for whitebox testing of error paths.
var (
	unixSocket        = unix.Socket
	unixSetsockoptInt = unix.SetsockoptInt
	unixBind          = unix.Bind
	unixGetsockname   = unix.Getsockname
	unixSendto        = unix.Sendto
	unixRecvmsg       = unix.Recvmsg
	unixClose         = unix.Close
)

const (
	sendBufferSize = 32 * 1024
	recvBufferSize = 1024 * 1024
	dumpBufferSize = 32 * 1024
)

// Conn is a connection to the kernel socket diagnostic service.  It is not
// safe for concurrent use.
type Conn struct {
	fd  int
	seq uint32
	ext uint32 // extension mask applied to every request sent on this Conn
}

// Open creates a netlink socket for the sock_diag service, configures its
// buffers, and binds it.  On any failure no partially set up socket
// escapes: the descriptor is closed and a step-specific error returned.
func Open() (*Conn, error) {
	fd, err := unixSocket(unix.AF_NETLINK, unix.SOCK_RAW|unix.SOCK_CLOEXEC, unix.NETLINK_SOCK_DIAG)
	if err != nil {
		log.Println(err)
		return nil, ErrOpenSocket
	}
	c := &Conn{fd: fd, seq: uint32(time.Now().Unix())}
	if err := unixSetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_SNDBUF, sendBufferSize); err != nil {
		log.Println(err)
		c.Close()
		return nil, ErrSetSndBuf
	}
	if err := unixSetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RCVBUF, recvBufferSize); err != nil {
		log.Println(err)
		c.Close()
		return nil, ErrSetRcvBuf
	}
	if err := unixBind(fd, &unix.SockaddrNetlink{Family: unix.AF_NETLINK}); err != nil {
		log.Println(err)
		c.Close()
		return nil, ErrBindSocket
	}
	// Read back the bound address to confirm the kernel really gave us a
	// netlink socket.
	local, err := unixGetsockname(fd)
	if err != nil {
		log.Println(err)
		c.Close()
		return nil, ErrGetSockname
	}
	if _, ok := local.(*unix.SockaddrNetlink); !ok {
		c.Close()
		return nil, ErrWrongFamily
	}
	return c, nil
}

// Close releases the socket.  Safe to call more than once.
func (c *Conn) Close() error {
	if c.fd < 0 {
		return nil
	}
	err := unixClose(c.fd)
	c.fd = -1
	return err
}

// SetExtension asks for one of the SMC_DIAG_* attribute groups on every
// subsequent request sent on this Conn.  Calls accumulate.
func (c *Conn) SetExtension(ext int) {
	c.ext |= 1 << uint(ext-1)
}

// Send issues a v2 SMC diagnostic dump request for the given command.  On
// a transmit failure the socket is closed and the Conn is unusable.
func (c *Conn) Send(cmd uint32) error {
	req := nl.NewNetlinkRequest(smcdiag.SOCK_DIAG_BY_FAMILY, unix.NLM_F_ROOT|unix.NLM_F_MATCH)
	// The kernel distinguishes request generations by the sequence marker.
	req.Seq = smcdiag.MAGIC_SEQ_V2
	c.seq = req.Seq
	req.AddData(smcdiag.NewDiagReqV2(cmd, c.ext))

	if err := unixSendto(c.fd, req.Serialize(), 0, &unix.SockaddrNetlink{Family: unix.AF_NETLINK}); err != nil {
		log.Println(err)
		c.Close()
		return err
	}
	return nil
}

// Dump receives one complete dump, passing each payload message to handler
// in arrival order.  It returns nil only after the kernel signals the end
// of the dump with NLMSG_DONE.
func (c *Conn) Dump(handler func(*netlink.NetlinkMessage)) error {
	native := nl.NativeEndian()
	for {
		// A fresh buffer each round, because the handler may retain
		// sub-slices of the messages.
		buf := make([]byte, dumpBufferSize)
		n, _, recvflags, _, err := unixRecvmsg(c.fd, buf, nil, 0)
		if err == unix.EINTR || err == unix.EAGAIN {
			continue
		}
		if err != nil {
			log.Println(err)
			return err
		}
		if n == 0 {
			return ErrNetlinkEOF
		}

		msgs := netlink.SplitMessages(buf[:n])
		for i := range msgs {
			m := &msgs[i]
			if m.Header.Flags&unix.NLM_F_DUMP_INTR != 0 {
				log.Println("netlink dump interrupted, results may be incomplete")
				metrics.ErrorCount.With(prometheus.Labels{"type": "dump interrupted"}).Inc()
			}
			if m.Header.Type == unix.NLMSG_DONE {
				return nil
			}
			if m.Header.Type == unix.NLMSG_ERROR {
				metrics.ErrorCount.With(prometheus.Labels{"type": "NLMSG_ERROR"}).Inc()
				if len(m.Data) < unix.SizeofNlMsgerr {
					return ErrShortError
				}
				errno := -int32(native.Uint32(m.Data[0:4]))
				log.Println("netlink answers:", syscall.Errno(errno))
				return syscall.Errno(errno)
			}
			handler(m)
		}
		if recvflags&unix.MSG_TRUNC != 0 {
			// The kernel discarded the tail of this datagram.  The walk
			// above already dropped any cut-off trailing message.
			log.Println("netlink datagram truncated")
			metrics.ErrorCount.With(prometheus.Labels{"type": "MSG_TRUNC"}).Inc()
		}
	}
}

func cmdName(cmd uint32) string {
	switch cmd {
	case smcdiag.SMC_DIAG_GET_SOCK_INFO:
		return "sock_info"
	case smcdiag.SMC_DIAG_GET_LGR_INFO:
		return "lgr_info"
	case smcdiag.SMC_DIAG_GET_DEV_INFO:
		return "dev_info"
	}
	return "unknown"
}

// OneDump issues a single diagnostic dump command with the given
// extensions and collects the entire response.
func OneDump(cmd uint32, exts ...int) ([]*netlink.NetlinkMessage, error) {
	var res []*netlink.NetlinkMessage

	start := time.Now()
	defer func() {
		name := cmdName(cmd)
		metrics.SyscallTimeHistogram.With(prometheus.Labels{"cmd": name}).Observe(time.Since(start).Seconds())
		metrics.ConnectionCountHistogram.With(prometheus.Labels{"cmd": name}).Observe(float64(len(res)))
	}()

	c, err := Open()
	if err != nil {
		log.Println(err)
		return nil, err
	}
	defer c.Close()

	for _, ext := range exts {
		c.SetExtension(ext)
	}

	if err := c.Send(cmd); err != nil {
		log.Println(err)
		return nil, err
	}

	err = c.Dump(func(m *netlink.NetlinkMessage) {
		res = append(res, m)
	})
	if err != nil {
		log.Println(err)
		return res, err
	}
	return res, nil
}
