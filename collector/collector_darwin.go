package collector

import (
	"context"

	"github.com/GuangguanWang/smc-tools/netlink"
	"github.com/GuangguanWang/smc-tools/saver"
)

// Run does nothing, but is needed for compiling on Darwin.
func Run(ctx context.Context, reps int, svrChan chan<- netlink.MessageBlock, cl saver.CacheLogger) (int, int) {
	// SMC sockets and netlink diagnostics only exist on Linux.
	return 0, 0
}
