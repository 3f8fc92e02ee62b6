package agent

import (
	"encoding/binary"
	"fmt"
	"net"

	"github.com/rebryant/cloudbdd-go/internal/logger"
	"github.com/rebryant/cloudbdd-go/internal/wire"
)

// BootstrapResult is everything a worker or client learns from the
// controller during admission (spec section 2's "leaves first" control
// flow and section 4.6's ACK_AGENT payload).
type BootstrapResult struct {
	AgentID     uint16
	WorkerCount uint16
	RouterAddrs []wire.RouterAddr
}

// ErrAdmissionRefused is returned by Bootstrap when the controller NACKs
// a registration: a client past the client limit (spec section 4.6), or
// any registrant whose hashBits differs from the controller's.
var ErrAdmissionRefused = fmt.Errorf("agent: admission refused (NACK)")

// registerMsg builds the REGISTER_* message a role sends the
// controller first, announcing hashBits so the controller can enforce a
// cluster-wide agreement on hash-signature width.
func (r Role) registerMsg(hashBits uint) *wire.ControlMsg {
	if r == RoleWorker {
		return wire.NewRegisterWorker(hashBits)
	}
	return wire.NewRegisterClient(hashBits)
}

// Bootstrap dials controllerAddr, registers as role, and waits for
// ACK_AGENT (following any router-map continuation chunks) or NACK, per
// spec section 2: "workers register, receive the router map, open
// connections to every router, register with each router". It then
// dials every router in the returned map and sends REGISTER_AGENT,
// wiring a.Routers and a.LocalRouterIdx (the local-router shortcut of
// spec section 4.2) before returning. The caller still owns starting
// a.Run and, for a worker, sending READY_WORKER once its own setup (BDD
// engine, opcode handlers) is complete. hashBits must match every other
// process's configured hash-signature width or the controller NACKs the
// registration (spec section 5).
func Bootstrap(a *Agent, controllerAddr string, hashBits uint) (*BootstrapResult, error) {
	ctrlConn, err := net.Dial("tcp", controllerAddr)
	if err != nil {
		return nil, fmt.Errorf("agent: dial controller: %w", err)
	}
	a.Controller = NewConnection(ctrlConn, -1, a.inbound)

	if err := a.Controller.SendChunk(a.Role.registerMsg(hashBits).ToChunk()); err != nil {
		return nil, fmt.Errorf("agent: register with controller: %w", err)
	}

	result, err := a.awaitAckAgent()
	if err != nil {
		return nil, err
	}
	a.ID = result.AgentID

	if err := a.connectRouters(result.RouterAddrs); err != nil {
		return nil, err
	}
	return result, nil
}

// awaitAckAgent drains a.inbound for exactly the controller's admission
// reply, routing any operator/operand traffic that might already be
// in-flight (there never should be, pre-ACK, but a misbehaving peer
// shouldn't wedge bootstrap) through the normal dispatch path instead of
// discarding it.
func (a *Agent) awaitAckAgent() (*BootstrapResult, error) {
	for {
		im := <-a.inbound
		if im.Err != nil {
			return nil, fmt.Errorf("agent: controller connection lost during admission: %w", im.Err)
		}
		h := wire.UnpackHeader(im.Chunk.Words[0])
		switch h.Code {
		case wire.CodeNack:
			return nil, ErrAdmissionRefused
		case wire.CodeAckAgent:
			return a.collectAckAgent(im.Chunk)
		default:
			a.dispatch(im.Chunk)
		}
	}
}

// collectAckAgent parses the first ACK_AGENT chunk (a router count
// followed by that many router words) and, if the controller split the
// map across continuation chunks (spec section 4.6: "split across
// multiple chunks when the map exceeds the per-chunk cap"), reads
// further ACK_AGENT chunks of bare router words until the announced
// count is satisfied.
func (a *Agent) collectAckAgent(first *wire.Chunk) (*BootstrapResult, error) {
	ctrl, err := wire.ControlMsgFromChunk(first)
	if err != nil {
		return nil, fmt.Errorf("agent: malformed ACK_AGENT: %w", err)
	}
	if len(ctrl.Words) == 0 {
		return nil, fmt.Errorf("agent: ACK_AGENT missing router count")
	}

	want := int(ctrl.Words[0])
	words := append([]uint64(nil), ctrl.Words[1:]...)
	for len(words) < want {
		im := <-a.inbound
		if im.Err != nil {
			return nil, fmt.Errorf("agent: controller connection lost mid router-map: %w", im.Err)
		}
		cont, err := wire.ControlMsgFromChunk(im.Chunk)
		if err != nil || cont.Header.Code != wire.CodeAckAgent {
			return nil, fmt.Errorf("agent: expected ACK_AGENT continuation")
		}
		words = append(words, cont.Words...)
	}

	addrs := make([]wire.RouterAddr, want)
	for i := 0; i < want; i++ {
		addrs[i] = wire.RouterAddr{IP: uint32(words[i] >> 16), Port: uint16(words[i])}
	}
	return &BootstrapResult{
		AgentID:     ctrl.Header.Agent,
		WorkerCount: uint16(ctrl.Header.Mid),
		RouterAddrs: addrs,
	}, nil
}

// connectRouters dials every router address, registers this agent's ID
// with each, and picks the local-router-shortcut index: the first router
// whose announced IP matches one of this host's own interface
// addresses, per spec section 4.2.
func (a *Agent) connectRouters(addrs []wire.RouterAddr) error {
	local := localIPv4Set()

	a.Routers = make([]*Connection, len(addrs))
	a.LocalRouterIdx = -1
	for i, ra := range addrs {
		conn, err := net.Dial("tcp", formatHostPort(ra))
		if err != nil {
			return fmt.Errorf("agent: dial router %d: %w", i, err)
		}
		c := NewConnection(conn, i, a.inbound)
		reg := &wire.ControlMsg{Header: wire.Header{Agent: a.ID, Code: wire.CodeRegisterAgent}}
		if err := c.SendChunk(reg.ToChunk()); err != nil {
			return fmt.Errorf("agent: register with router %d: %w", i, err)
		}
		a.Routers[i] = c
		if a.LocalRouterIdx < 0 && local[ra.IP] {
			a.LocalRouterIdx = i
		}
	}
	return nil
}

func formatHostPort(ra wire.RouterAddr) string {
	ip := make(net.IP, 4)
	binary.BigEndian.PutUint32(ip, ra.IP)
	return fmt.Sprintf("%s:%d", ip.String(), ra.Port)
}

// PackIPv4 encodes an IPv4 address as the big-endian uint32 the wire
// protocol's RouterAddr/REGISTER_ROUTER fields carry.
func PackIPv4(ip net.IP) uint32 {
	v4 := ip.To4()
	if v4 == nil {
		return 0
	}
	return binary.BigEndian.Uint32(v4)
}

// localIPv4Set returns every IPv4 address bound to a local interface,
// used to recognize the "local router shortcut" candidate.
func localIPv4Set() map[uint32]bool {
	set := make(map[uint32]bool)
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		logger.Debug("agent: could not enumerate local interfaces", "error", err)
		return set
	}
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok {
			continue
		}
		if v4 := ipNet.IP.To4(); v4 != nil {
			set[binary.BigEndian.Uint32(v4)] = true
		}
	}
	return set
}
