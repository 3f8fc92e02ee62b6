package controller

import (
	"time"

	"github.com/rebryant/cloudbdd-go/internal/wire"
)

// handleDoFlush implements spec section 4.6's flush protocol: broadcast
// DO_FLUSH to every worker and client, remember the requestor, and start
// accumulating STAT replies.
func (c *Controller) handleDoFlush(requestor *connInfo) {
	c.abortGC()
	c.flush = &flushState{requestor: requestor, startedAt: time.Now()}
	for i := range c.flush.mins {
		c.flush.mins[i] = ^uint64(0)
	}

	doFlush := wire.NewDoFlush()
	c.broadcast(roleWorker, doFlush)
	c.broadcast(roleClient, doFlush)
}

// handleStat accumulates one worker's STAT reply. Once all W have
// arrived, it computes per-field min/max/sum and replies to the flush
// requestor as a single STAT chunk.
func (c *Controller) handleStat(info *connInfo, ctrl *wire.ControlMsg) {
	if c.flush == nil {
		return
	}
	for i := 0; i < statFieldCount && i < len(ctrl.Words); i++ {
		v := ctrl.Words[i]
		if v < c.flush.mins[i] {
			c.flush.mins[i] = v
		}
		if v > c.flush.maxs[i] {
			c.flush.maxs[i] = v
		}
		c.flush.sums[i] += v
	}
	c.flush.received++

	if c.flush.received < int(c.cfg.WorkerCount) {
		return
	}

	words := make([]uint64, 0, statFieldCount*3)
	words = append(words, c.flush.mins[:]...)
	words = append(words, c.flush.maxs[:]...)
	words = append(words, c.flush.sums[:]...)

	reply := &wire.ControlMsg{Header: wire.Header{Code: wire.CodeStat}, Words: words}
	c.send(c.flush.requestor.conn, reply)
	c.Metrics.ObserveFlush(c.flush.mins[:], c.flush.maxs[:], c.flush.sums[:], time.Since(c.flush.startedAt))
	c.flush = nil
}
