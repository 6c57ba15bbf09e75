// smcinfo keeps a continuous record of the SMC sockets on a machine.  It
// polls the kernel smc_diag module through a netlink socket, caches the
// result of each poll, and archives every connection snapshot that differs
// meaningfully from the previous one to per-connection compressed files.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"runtime/trace"

	"github.com/m-lab/go/flagx"
	"github.com/m-lab/go/prometheusx"
	"github.com/m-lab/go/rtx"

	"github.com/GuangguanWang/smc-tools/collector"
	"github.com/GuangguanWang/smc-tools/eventsocket"
	"github.com/GuangguanWang/smc-tools/netlink"
	"github.com/GuangguanWang/smc-tools/saver"
)

var (
	reps          = flag.Int("reps", 0, "How many cycles should be recorded, 0 means continuous")
	enableTrace   = flag.Bool("trace", false, "Enable trace")
	outputDir     = flag.String("output", "", "Directory in which to put the resulting tree of data instead of the current directory")
	hostname      = flag.String("hostname", "", "Hostname to use in file names.  If unset, os.Hostname() is used.")
	podname       = flag.String("podname", "default", "Pod name to use in file names")
	numMarshaller = flag.Int("marshallers", 3, "Number of marshalling goroutines")
	excludeLocal  = flag.Bool("exclude-local", false, "Exclude loopback, link-local and unspecified connections")

	excludeSrcPorts flagx.StringArray
	excludeDstIPs   flagx.StringArray

	// Context for main, cancelable so that tests can stop a running main().
	mainCtx, mainCancel = context.WithCancel(context.Background())
)

func init() {
	// Always prepend the filename and line number.
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	flag.Var(&excludeSrcPorts, "exclude-srcport", "Exclude connections with these local ports")
	flag.Var(&excludeDstIPs, "exclude-dstip", "Exclude connections to these remote IPs")
}

func main() {
	defer mainCancel()
	flag.Parse()
	rtx.Must(flagx.ArgsFromEnv(flag.CommandLine), "Could not get args from environment variables")

	promSrv := prometheusx.MustServeMetrics()
	defer promSrv.Close()

	if *outputDir != "" {
		rtx.Must(os.Chdir(*outputDir), "Could not change to the output directory %q", *outputDir)
	}

	if *enableTrace {
		traceFile, err := os.Create("trace")
		rtx.Must(err, "Could not create trace file")
		rtx.Must(trace.Start(traceFile), "Could not start trace")
		defer trace.Stop()
	}

	host := *hostname
	if host == "" {
		var err error
		host, err = os.Hostname()
		rtx.Must(err, "Could not discover the hostname")
	}

	ex := &netlink.ExcludeConfig{Local: *excludeLocal}
	for _, p := range excludeSrcPorts {
		rtx.Must(ex.AddSrcPort(p), "Could not parse port %q", p)
	}
	for _, dst := range excludeDstIPs {
		rtx.Must(ex.AddDstIP(dst), "Could not parse IP %q", dst)
	}

	server := eventsocket.NullServer()
	if *eventsocket.Filename != "" {
		server = eventsocket.New(*eventsocket.Filename)
		rtx.Must(server.Listen(), "Could not listen on %q", *eventsocket.Filename)
		// Serve returns an error when the context is canceled, which is
		// normal shutdown, so the error is not checked.
		go server.Serve(mainCtx)
	}

	svr := saver.NewSaver(host, *podname, *numMarshaller, server, ex)

	// Construct the message channel, buffering up to 2 batches of messages
	// without stalling the collector.  We may want to increase this if we
	// observe the collector stalling.
	svrChan := make(chan netlink.MessageBlock, 2)
	go svr.MessageSaverLoop(svrChan)

	localCount, errCount := collector.Run(mainCtx, *reps, svrChan, svr)

	close(svrChan)
	svr.Done.Wait()
	svr.LogCacheStats(localCount, errCount)
}
