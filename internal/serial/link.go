package serial

import (
	"sync"

	"github.com/edgexfoundry/go-mod-core-contracts/v4/clients/logger"
	"go.uber.org/atomic"
)

// Link owns one pad's port. A read goroutine hands every received line
// to a callback; a write goroutine drains a pending queue filled by Send.
//
// A link whose port could not be opened is a null link: Send drops
// everything and Start does nothing. A link whose reader or writer hits
// an I/O error stays down for the rest of the process.
type Link struct {
	name  string
	port  Port
	parse FrameParser
	lc    logger.LoggingClient

	mu      sync.Mutex
	cond    *sync.Cond
	pending [][]byte
	closed  bool

	reading *atomic.Bool
	writing *atomic.Bool
}

// NewLink wraps an already open port.
func NewLink(port Port, lc logger.LoggingClient) *Link {
	l := &Link{
		name:    port.Name(),
		port:    port,
		parse:   ParseLine,
		lc:      lc,
		reading: atomic.NewBool(false),
		writing: atomic.NewBool(true),
	}
	l.cond = sync.NewCond(&l.mu)
	return l
}

// NullLink stands in for a configured port that could not be opened.
func NullLink(name string, lc logger.LoggingClient) *Link {
	l := &Link{
		name:    name,
		lc:      lc,
		reading: atomic.NewBool(false),
		writing: atomic.NewBool(false),
	}
	l.cond = sync.NewCond(&l.mu)
	return l
}

// Name is the port name from sensors.txt.
func (l *Link) Name() string {
	return l.name
}

// IsNull reports whether the port was never opened.
func (l *Link) IsNull() bool {
	return l.port == nil
}

// Alive reports whether frames sent now can still reach the device.
func (l *Link) Alive() bool {
	return l.writing.Load()
}

// Send queues frame for transmission and returns immediately. Frames go
// out in call order. On a null or dead link the frame is dropped.
func (l *Link) Send(frame []byte) {
	if !l.writing.Load() {
		return
	}
	f := append([]byte(nil), frame...)

	l.mu.Lock()
	if !l.closed {
		l.pending = append(l.pending, f)
		l.cond.Signal()
	}
	l.mu.Unlock()
}

// Start launches the read and write goroutines. onFrame is called from
// the read goroutine for every non-empty line and must not block.
func (l *Link) Start(onFrame func(port string, frame []byte)) {
	if l.port == nil {
		return
	}
	l.reading.Store(true)
	go l.readLoop(onFrame)
	go l.writeLoop()
}

func (l *Link) readLoop(onFrame func(port string, frame []byte)) {
	defer l.reading.Store(false)

	var buf []byte
	tmp := make([]byte, 256)
	for {
		n, err := l.port.Read(tmp)
		if n > 0 {
			buf = append(buf, tmp[:n]...)
			for {
				frame, rest, perr := l.parse(buf)
				if perr != nil {
					l.lc.Warnf("Discarding input from port %s: %v", l.name, perr)
					buf = nil
					break
				}
				if frame == nil {
					break
				}
				buf = rest
				if len(frame) > 0 {
					onFrame(l.name, frame)
				}
			}
		}
		if err != nil {
			if !l.isClosed() {
				l.lc.Errorf("Port %s read failed, no further frames will be received: %v", l.name, err)
			}
			return
		}
	}
}

func (l *Link) writeLoop() {
	for {
		l.mu.Lock()
		for len(l.pending) == 0 && !l.closed {
			l.cond.Wait()
		}
		if l.closed {
			l.mu.Unlock()
			return
		}
		batch := l.pending
		l.pending = nil
		l.mu.Unlock()

		for _, frame := range batch {
			if _, err := l.port.Write(frame); err != nil {
				l.writing.Store(false)
				l.lc.Errorf("Port %s write failed, link is down: %v", l.name, err)
				l.mu.Lock()
				l.pending = nil
				l.mu.Unlock()
				return
			}
		}
	}
}

func (l *Link) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

// Close stops the writer and closes the port, which unblocks the reader.
// Frames still pending are discarded.
func (l *Link) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.pending = nil
	l.cond.Broadcast()
	l.mu.Unlock()

	l.writing.Store(false)
	if l.port == nil {
		return nil
	}
	return l.port.Close()
}
