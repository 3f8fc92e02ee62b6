package agent

import (
	"errors"
	"io"
	"net"
	"sync"

	"github.com/rebryant/cloudbdd-go/internal/logger"
	"github.com/rebryant/cloudbdd-go/internal/wire"
)

// InboundMessage is one decoded chunk handed from a connection's reader
// goroutine to the agent's event loop, or a close notification (Err set,
// Chunk nil) when the connection's reader exits.
type InboundMessage struct {
	Conn  *Connection
	Chunk *wire.Chunk
	Err   error
}

// Connection wraps one TCP socket to a router or the controller. Its
// reader goroutine does nothing but decode chunks and push them onto the
// shared inbound channel; its writer goroutine does nothing but encode
// and write chunks pulled from its own outbound channel. Neither goroutine
// ever touches agent state — that discipline is what lets the agent's
// single event-loop goroutine run lock-free (spec section 3.2/5).
type Connection struct {
	RemoteAddr string
	RouterIdx  int // index into Agent.Routers, or -1 for the controller connection

	conn     net.Conn
	outbound chan *wire.Chunk
	closeCh  chan struct{}
	closeErr error
	once     sync.Once
}

// NewConnection starts a connection's reader and writer goroutines,
// pushing decoded chunks onto inbound.
func NewConnection(conn net.Conn, routerIdx int, inbound chan<- InboundMessage) *Connection {
	c := &Connection{
		RemoteAddr: conn.RemoteAddr().String(),
		RouterIdx:  routerIdx,
		conn:       conn,
		outbound:   make(chan *wire.Chunk, 64),
		closeCh:    make(chan struct{}),
	}
	go c.readLoop(inbound)
	go c.writeLoop()
	return c
}

func (c *Connection) readLoop(inbound chan<- InboundMessage) {
	for {
		chunk, err := wire.ReadChunk(c.conn)
		if err != nil {
			c.closeWithError(err)
			select {
			case inbound <- InboundMessage{Conn: c, Err: err}:
			case <-c.closeCh:
			}
			return
		}
		select {
		case inbound <- InboundMessage{Conn: c, Chunk: chunk}:
		case <-c.closeCh:
			return
		}
	}
}

func (c *Connection) writeLoop() {
	for {
		select {
		case chunk, ok := <-c.outbound:
			if !ok {
				return
			}
			if err := wire.WriteChunk(c.conn, chunk); err != nil {
				logger.Debug("connection write failed", "peer", c.RemoteAddr, "error", err)
				c.closeWithError(err)
				return
			}
		case <-c.closeCh:
			// A caller that enqueues a final chunk (NACK, KILL) and
			// closes right behind it has already won the race by the
			// time this fires, since both calls run in the same
			// goroutine; drain what's buffered before giving up the
			// socket so that chunk still goes out.
			c.drainOutbound()
			return
		}
	}
}

func (c *Connection) drainOutbound() {
	for {
		select {
		case chunk, ok := <-c.outbound:
			if !ok {
				return
			}
			if err := wire.WriteChunk(c.conn, chunk); err != nil {
				return
			}
		default:
			return
		}
	}
}

// SendChunk enqueues chunk for the writer goroutine. It never blocks the
// caller on network I/O; it blocks only behind the connection's own
// bounded outbound buffer.
func (c *Connection) SendChunk(chunk *wire.Chunk) error {
	select {
	case c.outbound <- chunk:
		return nil
	case <-c.closeCh:
		return ErrConnectionClosed
	}
}

// Close tears down the connection. Safe to call more than once.
func (c *Connection) Close() {
	c.closeWithError(nil)
}

func (c *Connection) closeWithError(err error) {
	c.once.Do(func() {
		c.closeErr = err
		close(c.closeCh)
		_ = c.conn.Close()
	})
}

// IsEOF reports whether err is a clean peer disconnect (vs. a malformed
// or truncated read, which the wire package surfaces as
// io.ErrUnexpectedEOF or a wire sentinel error).
func IsEOF(err error) bool {
	return errors.Is(err, io.EOF)
}
