package cluster

import (
	"encoding/binary"

	"github.com/pyzhaowei/redis-cluster-proxy/internal/cluster/hash"
)

// slotKey encodes a slot number as its big-endian 4-byte form, so that the
// radix tree orders entries numerically and a lower-bound seek on a slot
// lands on the first entry at or after it.
func slotKey(slot int) []byte {
	var key [4]byte
	binary.BigEndian.PutUint32(key[:], uint32(slot))
	return key[:]
}

// mapSlot points slot at node in the slot index. A contiguous range owned
// by one node is recorded only at its two endpoints, keeping the index
// sparse while the lower-bound seek still answers every slot inside.
func (c *Cluster) mapSlot(slot int, node *Node) {
	c.slotsMap, _, _ = c.slotsMap.Insert(slotKey(slot), node)
}

// NodeForSlot returns the node owning the given slot. For a slot that no
// node announces it returns the node of the next mapped slot above it, or
// nil when no mapping lies at or above it; callers that must be sure check
// the node's Slots.
func (c *Cluster) NodeForSlot(slot int) *Node {
	it := c.slotsMap.Root().Iterator()
	it.SeekLowerBound(slotKey(slot))
	if _, v, ok := it.Next(); ok {
		return v.(*Node)
	}
	return nil
}

// NodeForKey hashes key and returns the owning node. When a node is found
// and getSlot is not nil, getSlot receives the computed slot, sparing the
// caller a second hash; otherwise getSlot is left untouched.
func (c *Cluster) NodeForKey(key string, getSlot *int) *Node {
	slot := int(hash.KeySlot(key))
	node := c.NodeForSlot(slot)
	if node != nil && getSlot != nil {
		*getSlot = slot
	}
	return node
}

// FirstMappedNode returns the node owning the lowest mapped slot, or nil
// for an empty index. The reconfiguration controller uses it to pick a
// surviving contact point.
func (c *Cluster) FirstMappedNode() *Node {
	it := c.slotsMap.Root().Iterator()
	if _, v, ok := it.Next(); ok {
		return v.(*Node)
	}
	return nil
}

// MappedSlotCount returns the number of entries in the slot index. Ranges
// count their two endpoints only.
func (c *Cluster) MappedSlotCount() int {
	return c.slotsMap.Len()
}
