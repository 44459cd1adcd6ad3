package cluster

import (
	"testing"
)

func TestParseClusterNodesSelf(t *testing.T) {
	c := NewCluster(0)
	self := newClusterNode("127.0.0.1", 30001, c)
	var friends []*Node
	reply := renderNodesReply(testTopology, testTopology[0].name)

	if err := c.parseClusterNodes(self, &friends, reply); err != nil {
		t.Fatalf("parseClusterNodes: %v", err)
	}

	if self.Name != testTopology[0].name {
		t.Errorf("self name = %q, want %q", self.Name, testTopology[0].name)
	}
	if self.IsReplica {
		t.Errorf("self should be a primary")
	}
	if len(self.Slots) != 5461 {
		t.Errorf("self slots = %d, want 5461", len(self.Slots))
	}
	if self.Slots[0] != 0 || self.Slots[len(self.Slots)-1] != 5460 {
		t.Errorf("self slot bounds = %d..%d, want 0..5460",
			self.Slots[0], self.Slots[len(self.Slots)-1])
	}
	if len(friends) != 3 {
		t.Fatalf("friends = %d, want 3", len(friends))
	}
	// Friend slot ownership is learned on the second pass only.
	for _, friend := range friends {
		if len(friend.Slots) != 0 {
			t.Errorf("friend %s has %d slots before its own pass", friend.Addr(), len(friend.Slots))
		}
	}
	// The bus-port suffix is stripped from addresses.
	for i, friend := range friends {
		if want := stripBusPort(testTopology[i+1].addr); friend.Addr() != want {
			t.Errorf("friend addr = %q, want %q", friend.Addr(), want)
		}
	}
}

func TestParseClusterNodesRange(t *testing.T) {
	c := loadTestCluster()

	for _, slot := range []int{0, 2730, 5460} {
		node := c.NodeForSlot(slot)
		if node == nil {
			t.Fatalf("NodeForSlot(%d) = nil", slot)
		}
		if got := node.Addr(); got != "127.0.0.1:30001" {
			t.Errorf("NodeForSlot(%d) = %s, want 127.0.0.1:30001", slot, got)
		}
	}
	if node := c.NodeForSlot(5461); node == nil || node.Addr() != "127.0.0.2:30002" {
		t.Errorf("NodeForSlot(5461) should hit the second shard")
	}
	// Single-slot specifier next to a range.
	if node := c.NodeForSlot(16383); node == nil || node.Addr() != "127.0.0.3:30003" {
		t.Errorf("NodeForSlot(16383) should hit the third shard")
	}
}

func TestParseClusterNodesMigration(t *testing.T) {
	c := loadTestCluster()

	var migrator, importer *Node
	for _, node := range c.Nodes() {
		switch node.Addr() {
		case "127.0.0.2:30002":
			migrator = node
		case "127.0.0.3:30003":
			importer = node
		}
	}
	if migrator == nil || importer == nil {
		t.Fatalf("expected both shards in node list")
	}

	if len(migrator.Migrating) != 1 {
		t.Fatalf("migrating entries = %d, want 1", len(migrator.Migrating))
	}
	if m := migrator.Migrating[0]; m.Slot != "5461" || m.Peer != testTopology[2].name {
		t.Errorf("migrating = %+v", m)
	}
	// The migrating slot stays in the owner's slots until handoff.
	if migrator.Slots[0] != 5461 {
		t.Errorf("migrating slot left slots[], first = %d", migrator.Slots[0])
	}

	if len(importer.Importing) != 1 {
		t.Fatalf("importing entries = %d, want 1", len(importer.Importing))
	}
	if m := importer.Importing[0]; m.Slot != "5461" || m.Peer != testTopology[1].name {
		t.Errorf("importing = %+v", m)
	}
}

func TestParseClusterNodesReplica(t *testing.T) {
	c := loadTestCluster()

	var replica *Node
	for _, node := range c.Nodes() {
		if node.Addr() == "127.0.0.4:30004" {
			replica = node
		}
	}
	if replica == nil {
		t.Fatalf("replica not in node list")
	}
	if !replica.IsReplica {
		t.Errorf("node with slave flag should be a replica")
	}
	if replica.Replicate != testTopology[1].name {
		t.Errorf("replicate = %q, want %q", replica.Replicate, testTopology[1].name)
	}
}

func TestParseClusterNodesMalformed(t *testing.T) {
	tests := []struct {
		name  string
		reply string
	}{
		{"missing_flags", "nodename 127.0.0.1:30001\n"},
		{"only_name", "nodename\n"},
		{"bad_slot_range", "nodename 127.0.0.1:30001 myself,master - 0 0 0 connected 12-x\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewCluster(0)
			self := newClusterNode("127.0.0.1", 30001, c)
			if err := c.parseClusterNodes(self, nil, tt.reply); err == nil {
				t.Errorf("parseClusterNodes(%q) should fail", tt.reply)
			}
		})
	}
}

func TestParseClusterNodesIgnoresUnterminatedLine(t *testing.T) {
	c := NewCluster(0)
	self := newClusterNode("127.0.0.1", 30001, c)
	// The final record lacks a newline and must be ignored.
	reply := renderNodesReply(testTopology[:1], testTopology[0].name) +
		"partialgarbage"
	if err := c.parseClusterNodes(self, nil, reply); err != nil {
		t.Fatalf("parseClusterNodes: %v", err)
	}
	if len(self.Slots) != 5461 {
		t.Errorf("slots = %d, want 5461", len(self.Slots))
	}
}

func TestParseNodeAddress(t *testing.T) {
	tests := []struct {
		addr string
		ip   string
		port int
	}{
		{"127.0.0.1:6379", "127.0.0.1", 6379},
		{"127.0.0.1:6379@16379", "127.0.0.1", 6379},
		{"noport", "", 0},
	}
	for _, tt := range tests {
		ip, port := parseNodeAddress(tt.addr)
		if ip != tt.ip || port != tt.port {
			t.Errorf("parseNodeAddress(%q) = %q,%d want %q,%d",
				tt.addr, ip, port, tt.ip, tt.port)
		}
	}
}

func TestFetchConfigurationFriendFailureIsFatal(t *testing.T) {
	c := NewCluster(0)
	records := testTopology
	c.fetch = func(c *Cluster, host string, port int, _ string) error {
		first := newClusterNode(host, port, c)
		c.nodes = append(c.nodes, first)
		var friends []*Node
		if err := c.parseClusterNodes(first, &friends,
			renderNodesReply(records, nameByAddr(records, first.Addr()))); err != nil {
			return err
		}
		for _, friend := range friends {
			// Every friend reply is malformed.
			if err := c.parseClusterNodes(friend, nil, "garbage\n"); err != nil {
				return err
			}
			c.nodes = append(c.nodes, friend)
		}
		return nil
	}
	if err := c.FetchConfiguration("127.0.0.1", 30001, ""); err == nil {
		t.Fatalf("fetch should fail when a friend fails")
	}
}
