// Package telemetry persists the simulator's append-only output log
// (spec.md §6 "Persisted output") and optionally broadcasts the same
// records to a connected dashboard client over a websocket.
//
// Grounded on the teacher's sim/metrics_utils.go SavetoFile idiom
// (bufio.Writer over an os.File, logrus.Fatalf on any I/O error rather
// than a propagated error return — file writes in this codebase are
// treated as infallible once opened) and, for the broadcaster,
// Kunal1522/Load-Balancing-Simulator's pkg/router/broadcast.go gorilla/
// websocket fan-out pattern.
package telemetry

import (
	"bufio"
	"fmt"
	"os"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// Logger appends line-oriented records to a file, matching exactly the
// record grammar spec.md §6 specifies.
type Logger struct {
	file   *os.File
	writer *bufio.Writer
	broad  *Broadcaster
}

// Open creates (truncating) the log file at path.
func Open(path string) *Logger {
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		logrus.Fatalf("telemetry: error creating log file %s: %v", path, err)
	}
	return &Logger{file: file, writer: bufio.NewWriter(file)}
}

// Attach wires a broadcaster so every record is also pushed to connected
// dashboard clients, in addition to being appended to the file.
func (l *Logger) Attach(b *Broadcaster) { l.broad = b }

func (l *Logger) line(s string) {
	if _, err := fmt.Fprintln(l.writer, s); err != nil {
		logrus.Fatalf("telemetry: error writing log line: %v", err)
	}
	if l.broad != nil {
		l.broad.Publish(s)
	}
}

// KernelFinished writes the "Finish kernel <id>:" header followed by one
// "Finish block ..." line per block record.
func (l *Logger) KernelFinished(kernelID int, blocks []BlockRecord) {
	l.line(fmt.Sprintf("Finish kernel %d:", kernelID))
	for _, b := range blocks {
		l.line(fmt.Sprintf("Finish block %d: [%d, %d, %d, %d, %d, %d]",
			b.BlockID, b.SMID, b.StartCycle, b.EndCycle, b.LaunchedAccesses, b.ReturnedAccesses, b.Pages))
	}
}

// BlockRecord mirrors sim/kernel.BlockRecord's fields without importing
// that package, keeping telemetry a leaf dependency any component can
// import without creating a cycle.
type BlockRecord struct {
	BlockID          int
	SMID             int
	StartCycle       int64
	EndCycle         int64
	LaunchedAccesses int
	ReturnedAccesses int
	Pages            int
}

// ModelFinished writes the "App <aid> Model <mid>: <name> with <batch>
// batch size is finished" record.
func (l *Logger) ModelFinished(appID, modelID int, name string, batch int) {
	l.line(fmt.Sprintf("App %d Model %d: %s with %d batch size is finished", appID, modelID, name, batch))
}

// DemandedPages writes a "Demanded page number: <n>" record. The GMMU's
// migration-scheduling step logs the same line through logrus once per
// batch and does not call this method.
func (l *Logger) DemandedPages(n int) {
	l.line(fmt.Sprintf("Demanded page number: %d", n))
}

// DeadlineMiss writes a deadline-miss record: "App <aid> Model
// <modelID name batchSize [arrival, deadline, start, now]>".
func (l *Logger) DeadlineMiss(appID, modelID int, name string, batchSize int, arrival, deadline, start, now int64) {
	l.line(fmt.Sprintf("App %d Model %d %s %d [%d, %d, %d, %d]",
		appID, modelID, name, batchSize, arrival, deadline, start, now))
}

// Close flushes and closes the underlying file.
func (l *Logger) Close() {
	if err := l.writer.Flush(); err != nil {
		logrus.Fatalf("telemetry: error flushing log writer: %v", err)
	}
	if err := l.file.Close(); err != nil {
		logrus.Fatalf("telemetry: error closing log file: %v", err)
	}
}

// Broadcaster fans a record out to every currently connected websocket
// client from one dispatch goroutine. Records wait in a single shared
// buffered queue; Publish drops a record when that queue is full rather
// than blocking the simulation loop, and a client whose write fails is
// dropped.
type Broadcaster struct {
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	publish    chan string
	clients    map[*websocket.Conn]bool
}

// NewBroadcaster starts the broadcaster's dispatch goroutine.
func NewBroadcaster() *Broadcaster {
	b := &Broadcaster{
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		publish:    make(chan string, 256),
		clients:    make(map[*websocket.Conn]bool),
	}
	go b.run()
	return b
}

func (b *Broadcaster) run() {
	for {
		select {
		case c := <-b.register:
			b.clients[c] = true
		case c := <-b.unregister:
			if _, ok := b.clients[c]; ok {
				delete(b.clients, c)
				c.Close()
			}
		case msg := <-b.publish:
			for c := range b.clients {
				if err := c.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
					logrus.Warnf("telemetry: dropping client after write error: %v", err)
					delete(b.clients, c)
					c.Close()
				}
			}
		}
	}
}

// Register adds a freshly upgraded connection to the fan-out set.
func (b *Broadcaster) Register(c *websocket.Conn) { b.register <- c }

// Unregister removes a connection, e.g. once its read loop errors out.
func (b *Broadcaster) Unregister(c *websocket.Conn) { b.unregister <- c }

// Publish enqueues one record for delivery to every registered client.
func (b *Broadcaster) Publish(s string) {
	select {
	case b.publish <- s:
	default:
		logrus.Warnf("telemetry: broadcast queue full, dropping record")
	}
}
