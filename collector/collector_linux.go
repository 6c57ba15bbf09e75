// Package collector repeatedly queries the netlink socket to discover
// measurement data about open SMC connections and sends that data down a
// channel.
package collector

import (
	"context"
	"log"
	"time"

	"github.com/GuangguanWang/smc-tools/netlink"
	"github.com/GuangguanWang/smc-tools/saver"
	"github.com/GuangguanWang/smc-tools/smcdiag"
)

var (
	errCount   = 0
	localCount = 0 // local-address filtering happens downstream in the saver
)

// standardExtensions are the attribute groups requested on every poll.
var standardExtensions = []int{
	smcdiag.SMC_DIAG_CONNINFO,
	smcdiag.SMC_DIAG_LGRINFO,
	smcdiag.SMC_DIAG_SHUTDOWN,
	smcdiag.SMC_DIAG_DMBINFO,
	smcdiag.SMC_DIAG_FALLBACK,
}

// collectDefaultNamespace dumps all SMC connection stats and sends them to
// svr.  A block is sent even when the dump fails, so that downstream cycle
// bookkeeping keeps advancing.
func collectDefaultNamespace(svr chan<- netlink.MessageBlock) int {
	all := netlink.MessageBlock{}
	// We use UTC, and truncate to millisecond to improve compression.
	// Since the syscall to collect the data takes multiple milliseconds,
	// this truncation seems reasonable.
	all.Time = time.Now().UTC().Truncate(time.Millisecond)
	msgs, err := OneDump(smcdiag.SMC_DIAG_GET_SOCK_INFO, standardExtensions...)
	if err != nil {
		log.Println(err)
		errCount++
	} else {
		all.Messages = msgs
	}

	svr <- all

	return len(all.Messages)
}

// Run the collector, either for the specified number of loops, or, if the
// number specified is infinite, run forever.
func Run(ctx context.Context, reps int, svrChan chan<- netlink.MessageBlock, cl saver.CacheLogger) (int, int) {
	totalCount := 0
	loops := 0

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for loops = 0; (reps == 0 || loops < reps) && (ctx.Err() == nil); loops++ {
		totalCount += collectDefaultNamespace(svrChan)
		// print stats roughly once per minute.
		if loops%6000 == 0 {
			cl.LogCacheStats(localCount, errCount)
		}

		// Wait for next tick.
		<-ticker.C
	}

	if loops > 0 {
		log.Println(totalCount, "sockets", totalCount/loops, "per iteration")
	}
	return localCount, errCount
}
