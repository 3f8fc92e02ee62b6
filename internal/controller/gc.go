package controller

import (
	"github.com/rebryant/cloudbdd-go/internal/logger"
	"github.com/rebryant/cloudbdd-go/internal/wire"
)

// handleGCRequest implements the two triggers for entering GC (spec
// section 4.6): a client's GC_START (handled in handleGCStart when it
// arrives from a client in GCReady) or a worker's GC_REQUEST whose
// generation matches gc_generation+1. Any other generation is stale and
// dropped.
func (c *Controller) handleGCRequest(ctrl *wire.ControlMsg) {
	if c.gcState != GCReady {
		logger.Debug("controller: GC_REQUEST ignored, not in READY", "state", c.gcState)
		return
	}
	if ctrl.Header.Mid != c.gcGeneration+1 {
		logger.Debug("controller: stale GC_REQUEST dropped", "generation", ctrl.Header.Mid, "expected", c.gcGeneration+1)
		return
	}
	c.startGC()
}

// handleGCStart implements the two phases that both consume a GC_START
// message: a client's GC_START kicks off the whole cycle from READY (the
// other trigger is handleGCRequest, above); a worker's GC_START is this
// worker acknowledging the broadcast and is counted down in
// WAIT_WORKER_START.
func (c *Controller) handleGCStart(info *connInfo) {
	switch {
	case info.role == roleClient && c.gcState == GCReady:
		c.startGC()
	case info.role == roleWorker && c.gcState == GCWaitWorkerStart:
		c.gcCounter--
		if c.gcCounter == 0 {
			c.enterWaitClient()
		}
	default:
		logger.Debug("controller: out-of-state GC_START ignored", "state", c.gcState, "role", info.role)
	}
}

func (c *Controller) startGC() {
	c.gcState = GCWaitWorkerStart
	c.Metrics.SetGCState(int(GCWaitWorkerStart))
	c.gcCounter = len(workersOf(c))
	c.gcRoots = nil
	c.broadcast(roleWorker, wire.NewGCStart(c.gcGeneration))
}

func (c *Controller) enterWaitClient() {
	c.gcState = GCWaitClient
	c.Metrics.SetGCState(int(GCWaitClient))
	c.gcNeedClient = make(map[uint16]bool)
	for _, info := range c.byAgent {
		if info.role == roleClient {
			c.gcNeedClient[info.agent] = true
		}
	}
	c.broadcast(roleClient, wire.NewGCStart(c.gcGeneration))
	if len(c.gcNeedClient) == 0 {
		c.enterWaitWorkerFinish()
	}
}

// handleGCFinish implements the client and worker halves of the
// WAIT_CLIENT/WAIT_WORKER_FINISH phases. A client's GC_FINISH carries its
// currently-live root refs as payload words, accumulated into c.gcRoots
// so the controller can forward the cluster-wide live set to workers on
// the following GC_FINISH broadcast (see NewGCFinish's doc comment).
func (c *Controller) handleGCFinish(info *connInfo, ctrl *wire.ControlMsg) {
	switch {
	case info.role == roleClient && c.gcState == GCWaitClient:
		c.gcRoots = append(c.gcRoots, ctrl.Words...)
		c.recordClientGCFinish(info.agent)
	case info.role == roleWorker && c.gcState == GCWaitWorkerFinish:
		c.gcCounter--
		if c.gcCounter == 0 {
			c.finishGC()
		}
	default:
		logger.Debug("controller: out-of-state GC_FINISH ignored", "state", c.gcState, "role", info.role)
	}
}

// recordClientGCFinish removes agentID from the need-client set,
// advancing to WAIT_WORKER_FINISH once empty. Shared by the normal
// client GC_FINISH path and the client-disconnect-during-GC path (spec
// section 7).
func (c *Controller) recordClientGCFinish(agentID uint16) {
	delete(c.gcNeedClient, agentID)
	if len(c.gcNeedClient) == 0 {
		c.enterWaitWorkerFinish()
	}
}

func (c *Controller) enterWaitWorkerFinish() {
	c.gcState = GCWaitWorkerFinish
	c.Metrics.SetGCState(int(GCWaitWorkerFinish))
	c.gcCounter = len(workersOf(c))
	c.broadcast(roleWorker, wire.NewGCFinish(c.gcGeneration, c.gcRoots...))
}

// finishGC implements the last step of WAIT_WORKER_FINISH: broadcast
// GC_FINISH to clients, admit any connections deferred during GC,
// increment the generation, and return to READY.
func (c *Controller) finishGC() {
	c.broadcast(roleClient, wire.NewGCFinish(c.gcGeneration))
	c.gcGeneration++
	c.gcState = GCReady
	c.Metrics.SetGCGeneration(c.gcGeneration)
	c.Metrics.SetGCState(int(GCReady))

	deferred := c.deferredClients
	c.deferredClients = nil
	for _, info := range deferred {
		if _, ok := c.byConn[info.conn]; !ok {
			continue // disconnected while parked
		}
		c.byAgent[info.agent] = info
		c.sendAckAgent(info)
	}
}

// abortGC implements spec section 4.6's "flush or kill aborts GC and
// unconditionally returns to READY".
func (c *Controller) abortGC() {
	if c.gcState == GCReady {
		return
	}
	c.gcState = GCReady
	c.Metrics.SetGCState(int(GCReady))
	c.gcCounter = 0
	c.gcNeedClient = make(map[uint16]bool)
	c.gcRoots = nil
}

func workersOf(c *Controller) []uint16 {
	var ids []uint16
	for _, info := range c.byAgent {
		if info.role == roleWorker {
			ids = append(ids, info.agent)
		}
	}
	return ids
}
