package cluster

import (
	"container/list"
	"fmt"

	"github.com/pyzhaowei/redis-cluster-proxy/internal/resp"
)

// MigrationEntry records a slot in transit and the peer node involved.
// Slot and Peer are kept as the raw strings from the topology reply.
type MigrationEntry struct {
	Slot string
	Peer string
}

// Connection is the outbound link from the proxy to a single cluster node,
// together with the request queues the event layer drives. Requests move
// only pending <- toSend <- (external).
type Connection struct {
	transport *resp.Conn

	Connected      bool
	Authenticating bool
	Authenticated  bool
	HasReadHandler bool

	requestsPending *list.List
	requestsToSend  *list.List
}

func newConnection() *Connection {
	return &Connection{
		requestsPending: list.New(),
		requestsToSend:  list.New(),
	}
}

// Transport returns the live RESP connection, or nil when disconnected.
func (conn *Connection) Transport() *resp.Conn { return conn.transport }

// PendingLen returns the number of sent requests awaiting a reply.
func (conn *Connection) PendingLen() int { return conn.requestsPending.Len() }

// ToSendLen returns the number of queued, unsent requests.
func (conn *Connection) ToSendLen() int { return conn.requestsToSend.Len() }

// EnqueueToSend appends a request to the send queue.
func (conn *Connection) EnqueueToSend(req Request) {
	conn.requestsToSend.PushBack(req)
}

// MoveToPending shifts the oldest unsent request to the pending queue,
// returning it, or nil when the send queue is empty. The caller writes the
// request to the transport around this move.
func (conn *Connection) MoveToPending() Request {
	front := conn.requestsToSend.Front()
	if front == nil {
		return nil
	}
	conn.requestsToSend.Remove(front)
	req := front.Value.(Request)
	conn.requestsPending.PushBack(req)
	return req
}

// RemoveToSend drops a specific request from the send queue, returning
// whether it was found.
func (conn *Connection) RemoveToSend(req Request) bool {
	for e := conn.requestsToSend.Front(); e != nil; e = e.Next() {
		if e.Value.(Request) == req {
			conn.requestsToSend.Remove(e)
			return true
		}
	}
	return false
}

// PopPending removes and returns the oldest request awaiting a reply.
func (conn *Connection) PopPending() Request {
	front := conn.requestsPending.Front()
	if front == nil {
		return nil
	}
	conn.requestsPending.Remove(front)
	return front.Value.(Request)
}

// Node is a single server of the cluster: its identity, role, owned slots
// and migration state, plus the proxy's connection to it. Nodes are created
// by the topology loader or by cluster duplication and are released only
// through their owning Cluster.
type Node struct {
	cluster *Cluster

	IP        string
	Port      int
	Name      string
	IsReplica bool
	Replicate string

	Slots     []uint16
	Migrating []MigrationEntry
	Importing []MigrationEntry

	Connection *Connection

	duplicatedFrom *Node
}

func newClusterNode(ip string, port int, c *Cluster) *Node {
	return &Node{
		cluster:    c,
		IP:         ip,
		Port:       port,
		Slots:      make([]uint16, 0, SlotCount),
		Connection: newConnection(),
	}
}

// Addr returns the node address as "ip:port".
func (n *Node) Addr() string { return fmt.Sprintf("%s:%d", n.IP, n.Port) }

// Cluster returns the owning cluster.
func (n *Node) Cluster() *Cluster { return n.cluster }

// DuplicatedFrom returns the source node when this node was created by
// cluster duplication, nil otherwise.
func (n *Node) DuplicatedFrom() *Node { return n.duplicatedFrom }

// Connect replaces any previous transport with a fresh connection to the
// node. The disconnection hook fires before the old transport is released.
// On failure the node keeps no transport and stays usable for a retry.
func (n *Node) Connect() error {
	if n.Connection.transport != nil {
		n.cluster.fireNodeDisconnection(n)
		n.Connection.transport.Close()
		n.Connection.transport = nil
		n.Connection.Connected = false
	}
	n.cluster.log.Debugf("Connecting to node %s", n.Addr())
	conn, err := resp.Dial(n.IP, n.Port)
	if err != nil {
		n.cluster.log.Errorf("Could not connect to Redis at %s: %s", n.Addr(), err)
		return err
	}
	n.Connection.transport = conn
	n.Connection.Connected = true
	return nil
}

// Disconnect releases the transport, if any. Request queues are preserved.
func (n *Node) Disconnect() {
	if n.Connection == nil || n.Connection.transport == nil {
		return
	}
	n.cluster.log.Debugf("Disconnecting from node %s", n.Addr())
	n.cluster.fireNodeDisconnection(n)
	n.Connection.transport.Close()
	n.Connection.transport = nil
	n.Connection.Connected = false
}

// Auth issues a synchronous AUTH command on the node's connection. The
// returned error carries the server's reply text when the server refused.
func (n *Node) Auth(secret string) error {
	n.cluster.log.Debugf("Authenticating to node %s", n.Addr())
	conn := n.Connection.transport
	if conn == nil {
		return fmt.Errorf("AUTH failed: no connection")
	}
	reply, err := conn.Command([]byte("AUTH"), []byte(secret))
	if err != nil {
		return err
	}
	if reply.IsError() {
		return fmt.Errorf("%s", reply.Str)
	}
	n.Connection.Authenticating = false
	n.Connection.Authenticated = true
	return nil
}

// free disconnects the node's transport. Queued requests stay with the
// connection object until it is dropped with the node.
func (n *Node) free() {
	if n.Connection != nil {
		if n.Connection.transport != nil {
			n.cluster.fireNodeDisconnection(n)
			n.Connection.transport.Close()
			n.Connection.transport = nil
		}
		n.Connection.Connected = false
	}
}

func duplicateClusterNode(source *Node, c *Cluster) *Node {
	node := newClusterNode(source.IP, source.Port, c)
	node.duplicatedFrom = source
	node.Name = source.Name
	node.IsReplica = source.IsReplica
	node.Replicate = source.Replicate
	node.Slots = node.Slots[:len(source.Slots)]
	copy(node.Slots, source.Slots)
	if len(source.Migrating) > 0 {
		node.Migrating = make([]MigrationEntry, len(source.Migrating))
		copy(node.Migrating, source.Migrating)
	}
	if len(source.Importing) > 0 {
		node.Importing = make([]MigrationEntry, len(source.Importing))
		copy(node.Importing, source.Importing)
	}
	return node
}
