//go:build linux

package collector

import (
	"context"
	"log"
	"testing"

	"golang.org/x/sys/unix"

	"github.com/GuangguanWang/smc-tools/netlink"
	"github.com/GuangguanWang/smc-tools/smcdiag"
)

func init() {
	// Always prepend the filename and line number.
	log.SetFlags(log.LstdFlags | log.Lshortfile)
}

type testCacheLogger struct{}

func (t *testCacheLogger) LogCacheStats(_, _ int) {}

func TestRun(t *testing.T) {
	f := newFakeSyscalls()
	// One dump per polling loop: two sockets on the first poll, one on the
	// second.
	d1 := append(wire(smcdiag.SOCK_DIAG_BY_FAMILY, unix.NLM_F_MULTI, diagPayload(1)),
		wire(smcdiag.SOCK_DIAG_BY_FAMILY, unix.NLM_F_MULTI, diagPayload(1))...)
	d1 = append(d1, doneMsg()...)
	d2 := append(wire(smcdiag.SOCK_DIAG_BY_FAMILY, unix.NLM_F_MULTI, diagPayload(1)), doneMsg()...)
	f.datagrams = []fakeDatagram{{data: d1}, {data: d2}}
	f.install()
	defer restoreSyscalls()

	startErrs := errCount
	svrChan := make(chan netlink.MessageBlock, 10)
	local, errs := Run(context.Background(), 2, svrChan, &testCacheLogger{})
	close(svrChan)

	if local != 0 || errs != startErrs {
		t.Error("Expected clean counts:", local, errs-startErrs)
	}
	blocks := 0
	total := 0
	for mb := range svrChan {
		blocks++
		total += len(mb.Messages)
		if mb.Time.IsZero() {
			t.Error("Every block should carry its collection time")
		}
	}
	if blocks != 2 {
		t.Error("Expected one block per loop:", blocks)
	}
	if total != 3 {
		t.Error("Expected 3 messages in total:", total)
	}
}

func TestRunCountsDumpErrors(t *testing.T) {
	f := newFakeSyscalls()
	f.datagrams = []fakeDatagram{{err: unix.ENOBUFS}}
	f.install()
	defer restoreSyscalls()

	startErrs := errCount
	svrChan := make(chan netlink.MessageBlock, 10)
	_, errs := Run(context.Background(), 1, svrChan, &testCacheLogger{})
	close(svrChan)

	if errs-startErrs != 1 {
		t.Error("The failed dump should be counted:", errs-startErrs)
	}
	mb := <-svrChan
	if len(mb.Messages) != 0 {
		t.Error("A failed dump should produce an empty block:", len(mb.Messages))
	}
	if mb.Time.IsZero() {
		t.Error("Even a failed dump should carry its collection time")
	}
}

func TestRunCanceledContext(t *testing.T) {
	f := newFakeSyscalls()
	f.install()
	defer restoreSyscalls()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	svrChan := make(chan netlink.MessageBlock, 10)
	Run(ctx, 0, svrChan, &testCacheLogger{})
	close(svrChan)

	for range svrChan {
		t.Error("A canceled context should stop the collector before any dump")
	}
}
