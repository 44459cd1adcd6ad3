package cluster

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pyzhaowei/redis-cluster-proxy/internal/metrics"
	"github.com/pyzhaowei/redis-cluster-proxy/internal/resp"
)

// parseNodeAddress splits an "ip:port" or "ip:port@bus-port" address field.
// A field with no colon yields an empty ip and port zero, as some server
// versions emit for nodes whose address is not yet known.
func parseNodeAddress(addr string) (string, int) {
	idx := strings.IndexByte(addr, ':')
	if idx < 0 {
		return "", 0
	}
	ip := addr[:idx]
	portStr := addr[idx+1:]
	if at := strings.IndexByte(portStr, '@'); at >= 0 {
		portStr = portStr[:at]
	}
	port, _ := strconv.Atoi(portStr)
	return ip, port
}

// parseClusterNodes ingests the text reply of CLUSTER NODES. Records
// carrying the "myself" flag update node in place: name, replica role, and
// slot ownership (plain slots, ranges, and bracketed migrations/imports).
// Every other record creates a friend node appended to friends; when
// friends is nil such records are discarded. Only newline-terminated
// records are considered.
func (c *Cluster) parseClusterNodes(node *Node, friends *[]*Node, reply string) error {
	text := reply
	for {
		nl := strings.IndexByte(text, '\n')
		if nl < 0 {
			break
		}
		line := text[:nl]
		text = text[nl+1:]
		if line == "" {
			continue
		}
		fields := strings.SplitN(line, " ", 9)
		if len(fields) < 3 {
			c.log.Errorf("Invalid CLUSTER NODES reply: missing flags.")
			return fmt.Errorf("invalid CLUSTER NODES reply: missing flags")
		}
		name := fields[0]
		addr := fields[1]
		flags := fields[2]
		masterID := "-"
		if len(fields) > 3 {
			masterID = fields[3]
		}
		if addr == "" {
			c.log.Errorf("Invalid CLUSTER NODES reply: missing addr.")
			return fmt.Errorf("invalid CLUSTER NODES reply: missing addr")
		}
		ip, port := parseNodeAddress(addr)
		myself := strings.Contains(flags, "myself")
		if !myself {
			if friends == nil {
				continue
			}
			friend := newClusterNode(ip, port, c)
			*friends = append(*friends, friend)
			continue
		}
		if node.IP == "" && ip != "" {
			node.IP = ip
			node.Port = port
		}
		if node.Name == "" && name != "" {
			node.Name = name
		}
		node.IsReplica = strings.Contains(flags, "slave") ||
			(masterID != "" && masterID != "-")
		if node.IsReplica && masterID != "-" {
			node.Replicate = masterID
		}
		if len(fields) < 9 {
			continue
		}
		for _, slotsdef := range strings.Fields(fields[8]) {
			if err := c.parseSlotSpecifier(node, slotsdef); err != nil {
				return err
			}
		}
	}
	return nil
}

// parseSlotSpecifier handles one slot token: "N", "A-B", "[N->-peer]"
// (migrating away) or "[N-<-peer]" (importing).
func (c *Cluster) parseSlotSpecifier(node *Node, slotsdef string) error {
	if strings.HasPrefix(slotsdef, "[") {
		body := strings.TrimPrefix(slotsdef, "[")
		if idx := strings.Index(body, "->-"); idx >= 0 {
			peer := strings.TrimSuffix(body[idx+3:], "]")
			node.Migrating = append(node.Migrating,
				MigrationEntry{Slot: body[:idx], Peer: peer})
			return nil
		}
		if idx := strings.Index(body, "-<-"); idx >= 0 {
			peer := strings.TrimSuffix(body[idx+3:], "]")
			node.Importing = append(node.Importing,
				MigrationEntry{Slot: body[:idx], Peer: peer})
			return nil
		}
		// Unknown bracketed specifier; server versions in support emit
		// only the two forms above.
		return nil
	}
	if dash := strings.IndexByte(slotsdef, '-'); dash >= 0 {
		start, err := strconv.Atoi(slotsdef[:dash])
		if err != nil {
			return fmt.Errorf("invalid slot range %q: %w", slotsdef, err)
		}
		stop, err := strconv.Atoi(slotsdef[dash+1:])
		if err != nil {
			return fmt.Errorf("invalid slot range %q: %w", slotsdef, err)
		}
		c.mapSlot(start, node)
		c.mapSlot(stop, node)
		for slot := start; slot <= stop; slot++ {
			node.Slots = append(node.Slots, uint16(slot))
		}
		return nil
	}
	slot, err := strconv.Atoi(slotsdef)
	if err != nil {
		return fmt.Errorf("invalid slot %q: %w", slotsdef, err)
	}
	node.Slots = append(node.Slots, uint16(slot))
	c.mapSlot(slot, node)
	return nil
}

// loadNodeInfo connects to node (unless conn is provided), authenticates
// when a secret is configured, issues CLUSTER NODES and ingests the reply.
func (c *Cluster) loadNodeInfo(node *Node, friends *[]*Node, conn *resp.Conn) error {
	if conn == nil {
		var err error
		conn, err = resp.Dial(node.IP, node.Port)
		if err != nil {
			c.log.Errorf("Could not connect to Redis at %s: %s", node.Addr(), err)
			return err
		}
	}
	node.Connection.transport = conn
	node.Connection.Connected = true
	if c.authSecret != "" {
		if err := node.Auth(c.authSecret); err != nil {
			c.log.Errorf("Failed to authenticate to node %s: %s", node.Addr(), err)
		}
	}
	reply, err := conn.Command([]byte("CLUSTER"), []byte("NODES"))
	if err != nil {
		c.log.Errorf("Failed to retrieve cluster configuration from %s: %s",
			node.Addr(), err)
		return err
	}
	if reply.IsError() {
		c.log.Errorf("Failed to retrieve cluster configuration. Cluster node %s replied with error:\n%s",
			node.Addr(), reply.Str)
		return fmt.Errorf("cluster node %s: %s", node.Addr(), reply.Str)
	}
	return c.parseClusterNodes(node, friends, reply.Str)
}

// fetchClusterConfiguration is the default topology fetch: connect to the
// seed, learn the full node list from its CLUSTER NODES view, then contact
// every friend so each node's own slot ownership is loaded. A failure at
// any friend fails the whole fetch.
func fetchClusterConfiguration(c *Cluster, host string, port int, unixSocket string) error {
	var conn *resp.Conn
	var err error
	if unixSocket == "" {
		conn, err = resp.Dial(host, port)
	} else {
		conn, err = resp.DialUnix(unixSocket)
	}
	if err != nil {
		if unixSocket == "" {
			c.log.Errorf("Could not connect to Redis at %s:%d: %s", host, port, err)
		} else {
			c.log.Errorf("Could not connect to Redis at %s: %s", unixSocket, err)
		}
		return err
	}
	firstNode := newClusterNode(host, port, c)
	c.nodes = append(c.nodes, firstNode)
	var friends []*Node
	if err := c.loadNodeInfo(firstNode, &friends, conn); err != nil {
		return err
	}
	for _, friend := range friends {
		if err := c.loadNodeInfo(friend, nil, nil); err != nil {
			friend.free()
			return err
		}
		c.nodes = append(c.nodes, friend)
	}
	metrics.ClusterNodes.Set(float64(len(c.nodes)))
	return nil
}

// FetchConfiguration loads the cluster topology from the given seed. Pass
// an empty unixSocket to use TCP.
func (c *Cluster) FetchConfiguration(host string, port int, unixSocket string) error {
	return c.fetch(c, host, port, unixSocket)
}
