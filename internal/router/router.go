// Package router implements the message-switch process of spec section
// 4.5: an agent→connection map built from controller-assigned IDs, a
// FIFO of queued outbound chunks, and a per-iteration fairness cap that
// sends at most one message to each of a bounded number of distinct
// destinations per pass — reimplemented here as a dedicated dispatch
// goroutine draining a channel rather than a raw select(2) loop, the
// same translation internal/agent's Connection already makes for the
// dataflow agents.
package router

import (
	"context"
	"net"
	"sync"

	"github.com/rebryant/cloudbdd-go/internal/logger"
	"github.com/rebryant/cloudbdd-go/internal/wire"
)

// maxFairnessDestinations bounds how many distinct destination
// connections are serviced per dispatch pass (spec section 4.5: "over at
// most 25 distinct destination fds").
const maxFairnessDestinations = 25

// peer wraps one accepted socket: identified once its first chunk names
// a destination agent, until then tracked only as an unidentified
// connection.
type peer struct {
	conn    net.Conn
	agent   uint16
	known   bool
	inbound chan *wire.Chunk
	closeCh chan struct{}
	once    sync.Once
}

const defaultPeerBuffer = 64

func newPeer(conn net.Conn, bufSize int) *peer {
	if bufSize <= 0 {
		bufSize = defaultPeerBuffer
	}
	return &peer{conn: conn, inbound: make(chan *wire.Chunk, bufSize), closeCh: make(chan struct{})}
}

func (p *peer) close() {
	p.once.Do(func() {
		close(p.closeCh)
		_ = p.conn.Close()
	})
}

// readEvent is what a peer's reader goroutine reports to the router's
// single dispatch goroutine.
type readEvent struct {
	p     *peer
	chunk *wire.Chunk
	err   error
}

// Router is the message-switch process. Every field below is owned
// exclusively by the goroutine running Run, mirroring internal/agent's
// single-owner discipline (spec section 5: "no lock discipline is
// required within the core").
type Router struct {
	listener net.Listener

	// peerBuffer sizes each accepted peer's read-ahead channel (spec
	// section 6's "-b BUFON" tuning knob): a larger buffer lets a
	// peer's reader goroutine stay further ahead of the dispatch
	// goroutine's fairness-capped drain pass at the cost of more
	// queued memory per connection.
	peerBuffer int

	byAgent  map[uint16]*peer
	unident  map[*peer]struct{}
	events   chan readEvent
	outbound []queuedChunk

	Stats Stats
}

// Stats counts the router's forwarding and drop behavior.
type Stats struct {
	Forwarded uint64
	Dropped   uint64
	Unknown   uint64
}

type queuedChunk struct {
	dest  *peer
	chunk *wire.Chunk
}

// New wraps an already-bound listener (the caller owns bind/listen so it
// can report the bound address to the controller, per spec section 4.6's
// "local router shortcut" address announcement). peerBuffer is the -b
// BUFON tuning knob (0 selects defaultPeerBuffer).
func New(listener net.Listener, peerBuffer int) *Router {
	return &Router{
		listener:   listener,
		peerBuffer: peerBuffer,
		byAgent:    make(map[uint16]*peer),
		unident:    make(map[*peer]struct{}),
		events:     make(chan readEvent, 256),
	}
}

// Run accepts connections and dispatches chunks until ctx is cancelled.
func (r *Router) Run(ctx context.Context) error {
	acceptErrs := make(chan error, 1)
	go r.acceptLoop(ctx, acceptErrs)

	for {
		select {
		case <-ctx.Done():
			r.closeAll()
			return ctx.Err()
		case err := <-acceptErrs:
			r.closeAll()
			return err
		case ev := <-r.events:
			r.handleEvent(ev)
			r.drainPendingEvents()
			r.flushOutbound()
		}
	}
}

// drainPendingEvents folds in any further already-ready events before a
// dispatch pass, so one flushOutbound call tends to see the queue a
// whole batch of inbound chunks produced rather than firing once per
// chunk.
func (r *Router) drainPendingEvents() {
	for {
		select {
		case ev := <-r.events:
			r.handleEvent(ev)
		default:
			return
		}
	}
}

func (r *Router) acceptLoop(ctx context.Context, errs chan<- error) {
	for {
		conn, err := r.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				errs <- err
				return
			}
		}
		p := newPeer(conn, r.peerBuffer)
		r.unident[p] = struct{}{}
		go r.readLoop(p)
	}
}

func (r *Router) readLoop(p *peer) {
	for {
		chunk, err := wire.ReadChunk(p.conn)
		if err != nil {
			select {
			case r.events <- readEvent{p: p, err: err}:
			case <-p.closeCh:
			}
			return
		}
		select {
		case r.events <- readEvent{p: p, chunk: chunk}:
		case <-p.closeCh:
			return
		}
	}
}

func (r *Router) handleEvent(ev readEvent) {
	if ev.err != nil {
		r.dropPeer(ev.p)
		return
	}
	r.route(ev.p, ev.chunk)
}

// route implements spec section 4.5's per-chunk forwarding step: decode,
// extract the destination agent, look up its connection, enqueue. The
// first chunk from an unidentified connection must be REGISTER_AGENT
// (spec section 2: "register with each router"); its header's Agent
// field is the ID the controller already assigned this worker/client, so
// the router can adopt it directly with no further round trip to the
// controller. Unidentified() still exposes the raw channel for a test
// (or an alternate adoption policy) that wants to inspect the first
// chunk itself before calling IdentifyPeer.
func (r *Router) route(p *peer, chunk *wire.Chunk) {
	if len(chunk.Words) == 0 {
		r.Stats.Dropped++
		return
	}
	if !p.known {
		h := wire.UnpackHeader(chunk.Words[0])
		if h.Code != wire.CodeRegisterAgent {
			logger.Warn("router: first message from new connection was not REGISTER_AGENT", "code", h.Code)
			r.Stats.Dropped++
			return
		}
		r.IdentifyPeer(p, h.Agent)
		select {
		case p.inbound <- chunk:
		default:
		}
		return
	}

	h := wire.UnpackHeader(chunk.Words[0])
	dest, ok := r.byAgent[h.Agent]
	if !ok {
		logger.Warn("router: unknown destination agent", "agent", h.Agent)
		r.Stats.Unknown++
		return
	}
	r.outbound = append(r.outbound, queuedChunk{dest: dest, chunk: chunk})
}

// IdentifyPeer promotes an unidentified connection to a known agent ID,
// called once the controller-facing registration handshake on that
// connection has told the router which agent it is.
func (r *Router) IdentifyPeer(p *peer, agent uint16) {
	delete(r.unident, p)
	p.agent = agent
	p.known = true
	r.byAgent[agent] = p
}

// Unidentified returns the peer's own registration channel, so the
// connection's registration handshake can read its first message
// without racing the dispatch goroutine.
func (p *peer) Unidentified() <-chan *wire.Chunk { return p.inbound }

func (r *Router) dropPeer(p *peer) {
	p.close()
	delete(r.unident, p)
	if p.known {
		delete(r.byAgent, p.agent)
	}
}

// flushOutbound implements spec section 4.5's write-readiness pass:
// service at most maxFairnessDestinations distinct destinations, one
// queued chunk each, preserving FIFO order within a destination.
func (r *Router) flushOutbound() {
	if len(r.outbound) == 0 {
		return
	}

	sent := make(map[*peer]bool)
	remaining := r.outbound[:0]
	serviced := 0

	for _, qc := range r.outbound {
		if serviced >= maxFairnessDestinations {
			remaining = append(remaining, qc)
			continue
		}
		if sent[qc.dest] {
			remaining = append(remaining, qc)
			continue
		}
		if err := wire.WriteChunk(qc.dest.conn, qc.chunk); err != nil {
			logger.Warn("router: write failed, dropping peer", "agent", qc.dest.agent, "error", err)
			r.dropPeer(qc.dest)
			r.Stats.Dropped++
			continue
		}
		r.Stats.Forwarded++
		sent[qc.dest] = true
		serviced++
	}
	r.outbound = remaining
}

func (r *Router) closeAll() {
	for p := range r.unident {
		p.close()
	}
	for _, p := range r.byAgent {
		p.close()
	}
}
