package cluster

import (
	"fmt"

	"github.com/pyzhaowei/redis-cluster-proxy/internal/metrics"
)

// UpdateStatus is the outcome of one Update call.
type UpdateStatus int

const (
	// UpdateWait means requests are still pending or mid-write; the
	// caller retries once they drain.
	UpdateWait UpdateStatus = iota
	// UpdateStarted means the reconfiguration cycle has begun.
	UpdateStarted
	// UpdateEnded means the cycle completed and parked requests were
	// replayed.
	UpdateEnded
	// UpdateError means the reconfiguration failed; the cluster is
	// marked broken.
	UpdateError
)

func (s UpdateStatus) String() string {
	switch s {
	case UpdateWait:
		return "wait"
	case UpdateStarted:
		return "started"
	case UpdateEnded:
		return "ended"
	case UpdateError:
		return "error"
	default:
		return "unknown"
	}
}

// Update drives one step of the reconfiguration cycle. Requests pending a
// reply, and queued requests already mid-write, cannot be relocated; while
// any exist the call parks every relocatable queued request and returns
// UpdateWait. Once quiescent it resets all routing state, refetches the
// topology from the first primary's remembered address (or, when the node
// list has no primary, from the owner of the lowest mapped slot), and
// replays every parked request through ProcessRequest with no pre-bound
// node.
func (c *Cluster) Update() UpdateStatus {
	if c.broken {
		return UpdateError
	}
	var host string
	var port int
	haveSeed := false
	requestsToWait := 0
	for _, node := range c.nodes {
		if node.IsReplica {
			continue
		}
		if !haveSeed {
			host = node.IP
			port = node.Port
			haveSeed = true
		}
		conn := node.Connection
		if conn == nil {
			continue
		}
		requestsToWait += conn.requestsPending.Len()
		for e := conn.requestsToSend.Front(); e != nil; {
			next := e.Next()
			req := e.Value.(Request)
			if req.WriteInProgress() {
				// Mid-write: relocating it would corrupt the stream.
				requestsToWait++
			} else {
				c.AddRequestToReprocess(req)
				conn.requestsToSend.Remove(e)
			}
			e = next
		}
	}
	if !haveSeed {
		// No primary in the node list: contact the owner of the lowest
		// mapped slot instead.
		if first := c.FirstMappedNode(); first != nil {
			host = first.IP
			port = first.Port
		}
	}
	c.log.Debugf("Cluster reconfiguration: still waiting for %d requests",
		requestsToWait)
	c.isUpdating = true
	if requestsToWait > 0 {
		return UpdateWait
	}
	c.log.Debugf("Reconfiguring cluster (thread: %d)", c.threadID)
	if err := c.Reset(); err != nil {
		c.log.Errorf("Failed to reset cluster!")
		return c.fail()
	}
	c.log.Debugf("Reconfiguring cluster from node %s:%d (thread: %d)",
		host, port, c.threadID)
	if err := c.fetch(c, host, port, ""); err != nil {
		c.log.Errorf("Failed to fetch cluster configuration! (thread: %d)",
			c.threadID)
		return c.fail()
	}
	c.isUpdating = false
	c.updateRequired = false
	c.log.Debugf("Reprocessing cluster requests (thread: %d)", c.threadID)
	c.replayParkedRequests()
	c.log.Debugf("Cluster reconfiguration ended (thread: %d)", c.threadID)
	metrics.Reconfigurations.Inc()
	return UpdateEnded
}

func (c *Cluster) fail() UpdateStatus {
	c.broken = true
	metrics.ReconfigurationErrors.Inc()
	return UpdateError
}

// replayParkedRequests drains the reprocess index in key order. The index
// is keyed by the decimal "<client>:<request>" string, so replay order is
// lexicographic. After removing the current key the next iteration seeks
// strictly past it, so a request that re-parks itself under the same key
// during ProcessRequest is not replayed twice in this cycle.
func (c *Cluster) replayParkedRequests() {
	var after []byte
	for {
		it := c.requestsToReprocess.Root().Iterator()
		if after != nil {
			seek := make([]byte, len(after)+1)
			copy(seek, after)
			it.SeekLowerBound(seek)
		}
		key, v, ok := it.Next()
		if !ok {
			return
		}
		req := v.(Request)
		req.ClearReprocessing()
		c.requestsToReprocess, _, _ = c.requestsToReprocess.Delete(key)
		after = key
		req.Replayed()
		metrics.ReplayedRequests.Inc()
		if c.ProcessRequest != nil {
			c.ProcessRequest(req)
		}
	}
}

func reprocessKey(req Request) []byte {
	return []byte(fmt.Sprintf("%d:%d", req.ClientID(), req.RequestID()))
}

// AddRequestToReprocess parks req for replay after the next successful
// reconfiguration: the request's routing state is cleared, it is marked as
// needing reprocessing, joined to its client's reprocess list, and indexed
// by "<client>:<request>".
func (c *Cluster) AddRequestToReprocess(req Request) {
	req.Park()
	c.requestsToReprocess, _, _ = c.requestsToReprocess.Insert(reprocessKey(req), req)
	metrics.ParkedRequests.Inc()
}

// RemoveRequestToReprocess reverses the indexing done by
// AddRequestToReprocess and clears the reprocessing mark. The request's
// membership in its client's reprocess list is left to the caller.
func (c *Cluster) RemoveRequestToReprocess(req Request) {
	req.ClearReprocessing()
	c.requestsToReprocess, _, _ = c.requestsToReprocess.Delete(reprocessKey(req))
}

// ReprocessQueueLen returns the number of parked requests.
func (c *Cluster) ReprocessQueueLen() int {
	return c.requestsToReprocess.Len()
}
