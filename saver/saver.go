// Package saver contains all logic for writing records to files.
package saver

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/GuangguanWang/smc-tools/cache"
	"github.com/GuangguanWang/smc-tools/eventsocket"
	"github.com/GuangguanWang/smc-tools/metrics"
	"github.com/GuangguanWang/smc-tools/netlink"
	"github.com/GuangguanWang/smc-tools/smcdiag"
	"github.com/GuangguanWang/smc-tools/zstd"
	"github.com/m-lab/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

// The collector sends an entire batch of NetlinkMessages through a channel
// to the saver.  The saver discards the local connections, maintains the
// connection cache, and queues records that show meaningful change to a
// small set of marshallers, which serialize them and write them to per
// connection files.

// Task represents a single marshalling task, specifying the message and the writer.
type Task struct {
	// nil message means close the writer.
	Message *netlink.ArchivalRecord
	Writer  io.WriteCloser
}

// CacheLogger is any object with a LogCacheStats method.
type CacheLogger interface {
	LogCacheStats(localCount, errCount int)
}

// Marshaller marshals records and writes them to files.
type Marshaller chan<- Task

func runMarshaller(taskChan <-chan Task, wg *sync.WaitGroup) {
	for task := range taskChan {
		if task.Message == nil {
			task.Writer.Close()
			continue
		}
		wire, err := json.Marshal(task.Message)
		if err != nil {
			log.Println(err)
			continue
		}
		task.Writer.Write(append(wire, '\n'))
	}
	log.Println("Marshaller Done")
	wg.Done()
}

func newMarshaller(wg *sync.WaitGroup) Marshaller {
	marshChan := make(chan Task, 100)
	wg.Add(1)
	go runMarshaller(marshChan, wg)
	return marshChan
}

// Connection objects handle all output associated with a single connection.
type Connection struct {
	ID         smcdiag.SockID
	UUID       string
	StartTime  time.Time // Time the connection was initiated.
	Sequence   int       // Typically zero, but increments for long running connections.
	Expiration time.Time // Time we will swap files and increment Sequence.
	Writer     io.WriteCloser
}

func newConnection(id smcdiag.SockID, timestamp time.Time) *Connection {
	conn := Connection{ID: id, UUID: uuid.FromCookie(id.Cookie()),
		StartTime: timestamp, Sequence: 0, Expiration: time.Now()}
	return &conn
}

// Rotate opens the next writer for a connection.  Files are named for the
// connection UUID and sequence number, in a directory named for the date
// the connection started.
func (conn *Connection) Rotate(host string, pod string, fileAgeLimit time.Duration) error {
	datePath := conn.StartTime.Format("2006/01/02")
	err := os.MkdirAll(datePath, 0777)
	if err != nil {
		return err
	}
	conn.Writer, err = zstd.NewWriter(fmt.Sprintf("%s/%s.%05d.jsonl.zst", datePath, conn.UUID, conn.Sequence))
	if err != nil {
		return err
	}
	conn.writeHeader()
	metrics.NewFileCount.Inc()
	conn.Expiration = conn.Expiration.Add(fileAgeLimit)
	conn.Sequence++
	return nil
}

// writeHeader writes the connection metadata as the first line of the file.
func (conn *Connection) writeHeader() {
	msg := netlink.ArchivalRecord{
		Metadata: &netlink.Metadata{
			UUID:      conn.UUID,
			Sequence:  conn.Sequence,
			StartTime: conn.StartTime,
		},
	}
	header, err := json.Marshal(msg)
	if err != nil {
		// Should never happen.
		log.Println("Could not marshal metadata for", conn.UUID)
		return
	}
	conn.Writer.Write(append(header, '\n'))
}

// stats counters are updated on the saver goroutine and read from the
// collector goroutine through Copy, so all access uses atomics.
type stats struct {
	TotalCount   int64 // Total number of records processed.
	LocalCount   int64 // Number of records filtered out by the exclude config.
	ErrCount     int64 // Number of errors.
	NewCount     int64 // Number of new connections.
	DiffCount    int64 // Number of connections with meaningful change.
	ExpiredCount int64 // Number of connections that disappeared.
}

func (s *stats) IncTotalCount()   { atomic.AddInt64(&s.TotalCount, 1) }
func (s *stats) IncLocalCount()   { atomic.AddInt64(&s.LocalCount, 1) }
func (s *stats) IncErrCount()     { atomic.AddInt64(&s.ErrCount, 1) }
func (s *stats) IncNewCount()     { atomic.AddInt64(&s.NewCount, 1) }
func (s *stats) IncDiffCount()    { atomic.AddInt64(&s.DiffCount, 1) }
func (s *stats) IncExpiredCount() { atomic.AddInt64(&s.ExpiredCount, 1) }

func (s *stats) Copy() stats {
	return stats{
		TotalCount:   atomic.LoadInt64(&s.TotalCount),
		LocalCount:   atomic.LoadInt64(&s.LocalCount),
		ErrCount:     atomic.LoadInt64(&s.ErrCount),
		NewCount:     atomic.LoadInt64(&s.NewCount),
		DiffCount:    atomic.LoadInt64(&s.DiffCount),
		ExpiredCount: atomic.LoadInt64(&s.ExpiredCount),
	}
}

// Saver provides functionality for saving connection records to files.
type Saver struct {
	Host         string
	Pod          string
	FileAgeLimit time.Duration
	MarshalChans []Marshaller
	Done         *sync.WaitGroup // All marshallers will call Done on this.
	Connections  map[uint64]*Connection

	cache       *cache.Cache
	eventServer eventsocket.Server
	ex          *netlink.ExcludeConfig
	stats       stats
}

// NewSaver creates a new Saver for the given host and pod.  numMarshaller
// marshalling goroutines are created to serialize and write records.  Flow
// events are published to eventServer, which may be a NullServer.  ex may
// be nil, in which case no connections are excluded.
func NewSaver(host string, pod string, numMarshaller int, eventServer eventsocket.Server, ex *netlink.ExcludeConfig) *Saver {
	m := make([]Marshaller, 0, numMarshaller)
	c := cache.NewCache()
	// We override the default expiration time, because the connection
	// files will grow very large if a connection lasts more than a few
	// hours.
	ageLim := 10 * time.Minute
	wg := &sync.WaitGroup{}

	for i := 0; i < numMarshaller; i++ {
		m = append(m, newMarshaller(wg))
	}
	return &Saver{
		Host:         host,
		Pod:          pod,
		FileAgeLimit: ageLim,
		MarshalChans: m,
		Done:         wg,
		Connections:  make(map[uint64]*Connection, 500),
		cache:        c,
		eventServer:  eventServer,
		ex:           ex,
	}
}

func (svr *Saver) marshaller(cookie uint64) Marshaller {
	return svr.MarshalChans[int(cookie%uint64(len(svr.MarshalChans)))]
}

// queue queues a single record to the appropriate marshalling queue, based
// on the socket cookie.
func (svr *Saver) queue(msg *netlink.ArchivalRecord) error {
	sdm, err := msg.RawSDM.Parse()
	if err != nil {
		return err
	}
	cookie := sdm.ID.Cookie()
	if cookie == 0 {
		log.Println("Cookie = 0!!.", sdm)
		return netlink.ErrParseFailed
	}
	if len(svr.MarshalChans) < 1 {
		log.Fatal("Fatal: no marshallers")
	}
	q := svr.marshaller(cookie)
	conn, ok := svr.Connections[cookie]
	if !ok {
		conn = newConnection(sdm.ID, msg.Timestamp)
		svr.Connections[cookie] = conn
		svr.eventServer.FlowCreated(msg.Timestamp, conn.UUID, sdm.ID)
	}
	if time.Now().After(conn.Expiration) && conn.Writer != nil {
		q <- Task{nil, conn.Writer} // Close the previous file.
		conn.Writer = nil
	}
	if conn.Writer == nil {
		err := conn.Rotate(svr.Host, svr.Pod, svr.FileAgeLimit)
		if err != nil {
			return err
		}
	}
	q <- Task{msg, conn.Writer}
	return nil
}

func (svr *Saver) endConn(cookie uint64) {
	q := svr.marshaller(cookie)
	conn, ok := svr.Connections[cookie]
	if ok && conn.Writer != nil {
		q <- Task{nil, conn.Writer}
		delete(svr.Connections, cookie)
		svr.eventServer.FlowDeleted(time.Now(), conn.UUID)
	}
}

// swapAndQueue converts a batch of raw messages to archival records,
// updates the connection cache, and queues the records that differ
// meaningfully from the previous round.
func (svr *Saver) swapAndQueue(ts time.Time, msgs []*netlink.NetlinkMessage) {
	for i := range msgs {
		if msgs[i] == nil {
			log.Println("Nil message")
			continue
		}
		svr.stats.IncTotalCount()
		pm, err := netlink.MakeArchivalRecord(msgs[i], svr.ex)
		if err != nil {
			log.Println(err)
			svr.stats.IncErrCount()
			metrics.ErrorCount.With(prometheus.Labels{"type": "make archival record"}).Inc()
			continue
		}
		if pm == nil {
			// Excluded by the exclude config.
			svr.stats.IncLocalCount()
			continue
		}
		pm.Timestamp = ts

		old := svr.cache.Update(pm)
		if old == nil {
			svr.stats.IncNewCount()
			err = svr.queue(pm)
		} else {
			var change netlink.ChangeType
			change, err = pm.Compare(old)
			if err == nil && change > netlink.NoMajorChange {
				svr.stats.IncDiffCount()
				err = svr.queue(pm)
			}
		}
		if err != nil {
			log.Println(err, "for", pm)
			svr.stats.IncErrCount()
			metrics.ErrorCount.With(prometheus.Labels{"type": "queue"}).Inc()
		}
	}
}

// MessageSaverLoop runs a loop to receive batches of raw netlink messages.
// It converts the messages, stamps them with the collection time, and queues
// the interesting ones for marshalling.
func (svr *Saver) MessageSaverLoop(readerChannel <-chan netlink.MessageBlock) {
	log.Println("Starting Saver")
	for {
		msgs, ok := <-readerChannel
		if !ok {
			break
		}

		svr.swapAndQueue(msgs.Time, msgs.Messages)

		residual := svr.cache.EndCycle()

		// Remove all missing connections from the connection pool.
		for cookie := range residual {
			svr.endConn(cookie)
			svr.stats.IncExpiredCount()
		}
	}
	svr.Close()
}

// Close shuts down all the marshallers, and waits for all files to be closed.
func (svr *Saver) Close() {
	log.Println("Terminating Saver")
	log.Println("Total of", len(svr.Connections), "connections active.")
	for cookie := range svr.Connections {
		svr.endConn(cookie)
	}
	log.Println("Closing Marshallers")
	for i := range svr.MarshalChans {
		close(svr.MarshalChans[i])
	}
	svr.LogCacheStats(0, 0)
	svr.Done.Wait()
}

// LogCacheStats prints out basic cache stats.  The localCount and errCount
// parameters let the collector fold its own counts into the report.
func (svr *Saver) LogCacheStats(localCount, errCount int) {
	stats := svr.stats.Copy() // Get a copy
	log.Printf("Cache info total %d  local %d same %d diff %d new %d err %d closed %d\n",
		stats.TotalCount, stats.LocalCount+int64(localCount),
		stats.TotalCount-(stats.LocalCount+stats.ErrCount+stats.NewCount+stats.DiffCount),
		stats.DiffCount, stats.NewCount, stats.ErrCount+int64(errCount), stats.ExpiredCount)
}
