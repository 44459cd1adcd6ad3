package cluster

import (
	"testing"

	"github.com/pyzhaowei/redis-cluster-proxy/internal/cluster/hash"
)

func TestNodeForSlotRangeEndpoints(t *testing.T) {
	c := NewCluster(0)
	a := newClusterNode("10.0.0.1", 6379, c)
	b := newClusterNode("10.0.0.2", 6379, c)
	c.nodes = append(c.nodes, a, b)

	// Ranges are stored at endpoints only; interior slots resolve via the
	// lower-bound seek landing on the upper endpoint.
	c.mapSlot(0, a)
	c.mapSlot(99, a)
	c.mapSlot(100, b)
	c.mapSlot(16383, b)

	tests := []struct {
		slot int
		want *Node
	}{
		{0, a},
		{1, a},
		{50, a},
		{99, a},
		{100, b},
		{8000, b},
		{16383, b},
	}
	for _, tt := range tests {
		if got := c.NodeForSlot(tt.slot); got != tt.want {
			t.Errorf("NodeForSlot(%d) = %v, want %v", tt.slot, got, tt.want)
		}
	}
	if got := c.MappedSlotCount(); got != 4 {
		t.Errorf("MappedSlotCount() = %d, want 4 (endpoints only)", got)
	}
}

func TestNodeForSlotUnassigned(t *testing.T) {
	c := NewCluster(0)
	a := newClusterNode("10.0.0.1", 6379, c)
	c.nodes = append(c.nodes, a)
	c.mapSlot(10, a)
	c.mapSlot(20, a)

	if got := c.NodeForSlot(21); got != nil {
		t.Errorf("NodeForSlot(21) = %v, want nil past the last mapping", got)
	}
	// A slot below the first mapping seeks to it; the caller checks the
	// node's ownership where that matters.
	if got := c.NodeForSlot(5); got != a {
		t.Errorf("NodeForSlot(5) = %v, want %v", got, a)
	}
}

func TestNodeForKey(t *testing.T) {
	c := loadTestCluster()

	slot := -1
	node := c.NodeForKey("foo", &slot)
	if node == nil {
		t.Fatalf("NodeForKey(foo) = nil")
	}
	if slot != 12182 {
		t.Errorf("slot out = %d, want 12182", slot)
	}
	if node.Addr() != "127.0.0.3:30003" {
		t.Errorf("NodeForKey(foo) = %s, want 127.0.0.3:30003", node.Addr())
	}

	// The {tag} convention routes to the tag's slot.
	tagged := c.NodeForKey("{foo}suffix", nil)
	if tagged != node {
		t.Errorf("tagged key should route to the same node")
	}
}

func TestNodeForKeyMatchesAnnouncedSlots(t *testing.T) {
	c := loadTestCluster()
	keys := []string{"foo", "bar", "hello", "user:1000", "{tag}k1", "a", "zz"}
	for _, key := range keys {
		slot := int(hash.KeySlot(key))
		node := c.NodeForSlot(slot)
		if node == nil {
			t.Fatalf("slot %d unassigned in full topology", slot)
		}
		found := false
		for _, s := range node.Slots {
			if int(s) == slot {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("node %s does not announce slot %d for key %q", node.Addr(), slot, key)
		}
	}
}

func TestFirstMappedNode(t *testing.T) {
	c := NewCluster(0)
	if c.FirstMappedNode() != nil {
		t.Errorf("empty cluster should have no first mapped node")
	}

	c = loadTestCluster()
	first := c.FirstMappedNode()
	if first == nil || first.Addr() != "127.0.0.1:30001" {
		t.Errorf("FirstMappedNode() should own slot 0")
	}
}

func BenchmarkNodeForSlot(b *testing.B) {
	c := loadTestCluster()
	for i := 0; i < b.N; i++ {
		c.NodeForSlot(i & (SlotCount - 1))
	}
}
