package controller

import (
	"github.com/rebryant/cloudbdd-go/internal/logger"
	"github.com/rebryant/cloudbdd-go/internal/wire"
)

// handleCliopData implements spec section 4.6's global client-operation
// broadcast: CLIOP_DATA from a client is broadcast to every worker with
// a new outstanding-operation record.
func (c *Controller) handleCliopData(info *connInfo, ctrl *wire.ControlMsg) {
	if info.role != roleClient {
		logger.Warn("controller: CLIOP_DATA from non-client ignored", "agent", info.agent)
		return
	}
	if len(ctrl.Words) == 0 {
		return
	}
	id := ctrl.Words[0]
	c.cliop[id] = &cliopRecord{clientAgent: info.agent}
	c.broadcast(roleWorker, wire.NewCliopData(id, ctrl.Words[1:]...))
}

// handleCliopAck implements both halves of spec section 4.6's ack
// protocol: a worker's CLIOP_ACK increments the record's count,
// forwarding to the client and freeing the record once all W have
// acked; a client's own follow-up CLIOP_ACK is the "finish" signal,
// rebroadcast to all workers as-is.
func (c *Controller) handleCliopAck(info *connInfo, ctrl *wire.ControlMsg) {
	if len(ctrl.Words) == 0 {
		return
	}
	id := ctrl.Words[0]

	if info.role == roleClient {
		c.broadcast(roleWorker, ctrl)
		return
	}

	rec, ok := c.cliop[id]
	if !ok {
		logger.Debug("controller: CLIOP_ACK for unknown operation", "id", id)
		return
	}
	rec.ackCount++
	if rec.ackCount < int(c.cfg.WorkerCount) {
		return
	}
	if client, ok := c.byAgent[rec.clientAgent]; ok {
		c.send(client.conn, wire.NewCliopAck(id))
	}
	delete(c.cliop, id)
}
