// Package cluster implements the topology and routing core of the proxy:
// discovery of the Redis Cluster layout via CLUSTER NODES, the slot-to-node
// index answering per-request lookups, the quiescence-based reconfiguration
// controller, and per-worker cluster duplication.
package cluster

import (
	"errors"

	iradix "github.com/hashicorp/go-immutable-radix"

	"github.com/pyzhaowei/redis-cluster-proxy/internal/cluster/hash"
	"github.com/pyzhaowei/redis-cluster-proxy/internal/logger"
)

// SlotCount is the size of the cluster hash space.
const SlotCount = hash.SlotCount

// ErrMissingNodeName indicates a node without a cluster-assigned name
// where one is required (duplication).
var ErrMissingNodeName = errors.New("cluster node has no name")

// Request is the cluster-facing view of a client request. The concrete type
// lives in the request layer; the core only needs identity, the mid-write
// marker, and the state transitions used while parking and replaying.
type Request interface {
	// ClientID and RequestID identify the request.
	ClientID() uint64
	RequestID() uint64

	// WriteInProgress reports whether the request is partially written to
	// a node. Such requests must not be relocated.
	WriteInProgress() bool

	// Park clears the request's routing state (target node, cached slot,
	// written counter), marks it for reprocessing and joins it to its
	// client's reprocess list.
	Park()

	// ClearReprocessing clears the reprocessing mark only.
	ClearReprocessing()

	// Replayed leaves the client's reprocess list and severs target-node
	// references held by the request's parent and siblings, which may
	// point at nodes freed by the reset.
	Replayed()
}

// Cluster aggregates everything the proxy knows about one Redis Cluster:
// the node list, the slot index, the queue of requests parked for replay,
// and links to per-worker duplicates. A Cluster and all its children are
// owned by a single worker and must not be shared.
type Cluster struct {
	threadID int

	nodes    []*Node
	slotsMap *iradix.Tree

	requestsToReprocess *iradix.Tree

	isUpdating     bool
	updateRequired bool
	broken         bool

	duplicatedFrom *Cluster
	duplicates     []*Cluster

	authSecret string
	log        logger.Logger

	// OnNodeDisconnection fires before a node's transport is released,
	// letting the event layer drop read handlers tied to the socket.
	OnNodeDisconnection func(*Node)

	// ProcessRequest re-dispatches a parked request after reconfiguration.
	// The request arrives with no pre-bound target node.
	ProcessRequest func(Request)

	// fetch performs the topology fetch; tests replace it.
	fetch func(c *Cluster, host string, port int, unixSocket string) error
}

// NewCluster creates an empty cluster container owned by the given worker.
func NewCluster(threadID int) *Cluster {
	c := &Cluster{
		threadID:            threadID,
		slotsMap:            iradix.New(),
		requestsToReprocess: iradix.New(),
		log:                 logger.Discard,
	}
	c.fetch = fetchClusterConfiguration
	return c
}

// SetLogger injects the logging sink used for lifecycle and failure events.
func (c *Cluster) SetLogger(log logger.Logger) {
	if log == nil {
		log = logger.Discard
	}
	c.log = log
}

// SetAuth configures the pre-shared secret sent as AUTH to every node
// before any other command.
func (c *Cluster) SetAuth(secret string) { c.authSecret = secret }

// ThreadID returns the owning worker's id.
func (c *Cluster) ThreadID() int { return c.threadID }

// Nodes returns the current node list. The slice is owned by the cluster.
func (c *Cluster) Nodes() []*Node { return c.nodes }

// Broken reports whether the cluster gave up after a failed
// reconfiguration. The flag is sticky.
func (c *Cluster) Broken() bool { return c.broken }

// IsUpdating reports whether a reconfiguration cycle is in progress.
func (c *Cluster) IsUpdating() bool { return c.isUpdating }

// UpdateRequired reports whether a reconfiguration has been requested.
func (c *Cluster) UpdateRequired() bool { return c.updateRequired }

// RequireUpdate arms the reconfiguration controller. The owning worker
// calls Update at its next safe point.
func (c *Cluster) RequireUpdate() { c.updateRequired = true }

// DuplicatedFrom returns the source cluster when this cluster was created
// by Duplicate, nil otherwise.
func (c *Cluster) DuplicatedFrom() *Cluster { return c.duplicatedFrom }

// Duplicates returns the live duplicates created from this cluster.
func (c *Cluster) Duplicates() []*Cluster { return c.duplicates }

func (c *Cluster) fireNodeDisconnection(n *Node) {
	if c.OnNodeDisconnection != nil {
		c.OnNodeDisconnection(n)
	}
}

func (c *Cluster) freeNodes() {
	for _, node := range c.nodes {
		node.free()
	}
	c.nodes = nil
}

// Reset drops the slot index and every node, then reinstalls empty ones.
// The reprocess queue and duplication links are preserved.
func (c *Cluster) Reset() error {
	c.freeNodes()
	c.slotsMap = iradix.New()
	c.nodes = make([]*Node, 0)
	return nil
}

// Free releases the cluster: disconnects every node, severs all duplicates
// (their back-links and their nodes' back-links are cleared, the duplicates
// themselves stay valid), and removes this cluster from its parent's
// duplicate list.
func (c *Cluster) Free() {
	c.log.Debugf("Free cluster (thread: %d)", c.threadID)
	c.freeNodes()
	c.slotsMap = nil
	c.requestsToReprocess = nil
	for _, dup := range c.duplicates {
		dup.duplicatedFrom = nil
		for _, n := range dup.nodes {
			n.duplicatedFrom = nil
		}
	}
	c.duplicates = nil
	if c.duplicatedFrom != nil {
		parent := c.duplicatedFrom
		for i, dup := range parent.duplicates {
			if dup == c {
				parent.duplicates = append(parent.duplicates[:i], parent.duplicates[i+1:]...)
				break
			}
		}
		c.duplicatedFrom = nil
	}
}
