// Main package in csvtool implements a command line tool for converting
// ArchivalRecord files to CSV files.
package main

import (
	"io"
	"log"
	"os"
	"strings"

	"github.com/gocarina/gocsv"
	"github.com/m-lab/go/rtx"

	"github.com/GuangguanWang/smc-tools/netlink"
	"github.com/GuangguanWang/smc-tools/snapshot"
	"github.com/GuangguanWang/smc-tools/zstd"
)

func init() {
	// Always prepend the filename and line number.
	log.SetFlags(log.LstdFlags | log.Lshortfile)
}

var (
	// A variable to enable mocking for testing.
	logFatal = log.Fatal
)

func toCSV(snapshots []*snapshot.Snapshot, wtr io.Writer) error {
	return gocsv.Marshal(snapshots, wtr)
}

// openFile either opens a file, or opens and unzips a file that ends with .zst
func openFile(fn string) (io.ReadCloser, error) {
	if strings.HasSuffix(fn, ".zst") {
		return zstd.NewReader(fn), nil
	}
	return os.Open(fn)
}

// Convert reads ArchivalRecord JSONL from rdr and writes the decoded
// snapshots to stdout as CSV.
func Convert(rdr io.Reader) error {
	arReader := netlink.NewArchiveReader(rdr)
	// Ignore the metadata for now.
	_, snaps, err := snapshot.LoadAll(arReader)
	if err != nil {
		return err
	}
	return toCSV(snaps, os.Stdout)
}

// ConvertFileToCSV converts a single ArchivalRecord file, which may be
// zstd compressed, writing CSV to stdout.
func ConvertFileToCSV(fn string) error {
	source, err := openFile(fn)
	if err != nil {
		return err
	}
	defer source.Close()
	return Convert(source)
}

// TODO handle gs: filenames.
func main() {
	args := os.Args[1:]

	var err error
	if len(args) == 0 {
		err = Convert(os.Stdin)
	} else if len(args) == 1 {
		err = ConvertFileToCSV(args[0])
	} else {
		logFatal("Too many command-line arguments.")
	}
	rtx.Must(err, "Could not convert input to CSV")
}
