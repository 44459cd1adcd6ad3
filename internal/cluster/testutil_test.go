package cluster

import (
	"fmt"
	"strings"
)

// nodeRecord describes one line of a CLUSTER NODES reply used by tests.
type nodeRecord struct {
	name   string
	addr   string // may carry a @bus-port suffix
	flags  string
	master string
	slots  string // leading-space-free slot specifiers, "" for none
}

// testTopology is a three-master, one-replica cluster with a migration in
// flight on the middle shard.
var testTopology = []nodeRecord{
	{
		name:   "a1b2c3d4e5f60718293a4b5c6d7e8f9001122334",
		addr:   "127.0.0.1:30001@40001",
		flags:  "master",
		master: "-",
		slots:  "0-5460",
	},
	{
		name:   "b2c3d4e5f60718293a4b5c6d7e8f900112233445",
		addr:   "127.0.0.2:30002@40002",
		flags:  "master",
		master: "-",
		slots:  "5461-10922 [5461->-c3d4e5f60718293a4b5c6d7e8f90011223344556]",
	},
	{
		name:   "c3d4e5f60718293a4b5c6d7e8f90011223344556",
		addr:   "127.0.0.3:30003@40003",
		flags:  "master",
		master: "-",
		slots:  "10923-16382 16383 [5461-<-b2c3d4e5f60718293a4b5c6d7e8f900112233445]",
	},
	{
		name:   "d4e5f60718293a4b5c6d7e8f9001122334455667",
		addr:   "127.0.0.4:30004@40004",
		flags:  "slave",
		master: "b2c3d4e5f60718293a4b5c6d7e8f900112233445",
		slots:  "",
	},
}

func stripBusPort(addr string) string {
	if at := strings.IndexByte(addr, '@'); at >= 0 {
		return addr[:at]
	}
	return addr
}

func nameByAddr(records []nodeRecord, addr string) string {
	for _, r := range records {
		if stripBusPort(r.addr) == addr {
			return r.name
		}
	}
	return ""
}

// renderNodesReply builds a CLUSTER NODES reply with the myself flag on
// the named node, mimicking what that node itself would answer.
func renderNodesReply(records []nodeRecord, myself string) string {
	var b strings.Builder
	for _, r := range records {
		flags := r.flags
		if r.name == myself {
			flags = "myself," + flags
		}
		line := fmt.Sprintf("%s %s %s %s 0 0 0 connected", r.name, r.addr, flags, r.master)
		if r.slots != "" {
			line += " " + r.slots
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String()
}

// installStubFetch replaces the cluster's topology fetch with one that
// parses rendered replies instead of dialing servers, following the same
// seed-then-friends shape as the real fetch.
func installStubFetch(c *Cluster, records []nodeRecord) {
	c.fetch = func(c *Cluster, host string, port int, _ string) error {
		first := newClusterNode(host, port, c)
		c.nodes = append(c.nodes, first)
		seedName := nameByAddr(records, first.Addr())
		var friends []*Node
		if err := c.parseClusterNodes(first, &friends, renderNodesReply(records, seedName)); err != nil {
			return err
		}
		for _, friend := range friends {
			friendName := nameByAddr(records, friend.Addr())
			if err := c.parseClusterNodes(friend, nil, renderNodesReply(records, friendName)); err != nil {
				return err
			}
			c.nodes = append(c.nodes, friend)
		}
		return nil
	}
}

// loadTestCluster returns a cluster populated from testTopology.
func loadTestCluster() *Cluster {
	c := NewCluster(0)
	installStubFetch(c, testTopology)
	if err := c.FetchConfiguration("127.0.0.1", 30001, ""); err != nil {
		panic(err)
	}
	return c
}

// stubRequest implements Request for controller tests.
type stubRequest struct {
	clientID  uint64
	requestID uint64

	writeInProgress  bool
	needReprocessing bool
	slot             int
	written          int
	hasNode          bool

	parks    int
	replays  int
	relative *stubRequest
}

func (r *stubRequest) ClientID() uint64      { return r.clientID }
func (r *stubRequest) RequestID() uint64     { return r.requestID }
func (r *stubRequest) WriteInProgress() bool { return r.writeInProgress }

func (r *stubRequest) Park() {
	r.needReprocessing = true
	r.hasNode = false
	r.slot = -1
	r.written = 0
	r.parks++
}

func (r *stubRequest) ClearReprocessing() { r.needReprocessing = false }

func (r *stubRequest) Replayed() {
	r.replays++
	if r.relative != nil {
		r.relative.hasNode = false
	}
}
