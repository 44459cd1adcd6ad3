package cluster

import "fmt"

// Duplicate deep-copies the cluster into a sibling that shares no mutable
// state with the source: every node is copied with a fresh, unconnected
// Connection, and the slot index is rebuilt against the copies by node
// name. The duplicate is registered on the source so that freeing the
// source severs the back-links. A source node without a name fails the
// duplication.
func (c *Cluster) Duplicate() (*Cluster, error) {
	return c.DuplicateFor(c.threadID)
}

// DuplicateFor is Duplicate with the copy assigned to another worker.
func (c *Cluster) DuplicateFor(threadID int) (*Cluster, error) {
	dup := NewCluster(threadID)
	dup.log = c.log
	dup.authSecret = c.authSecret
	dup.duplicatedFrom = c
	nodesByName := make(map[string]*Node, len(c.nodes))
	for _, src := range c.nodes {
		node := duplicateClusterNode(src, dup)
		if node.Name == "" {
			return nil, ErrMissingNodeName
		}
		nodesByName[node.Name] = node
		dup.nodes = append(dup.nodes, node)
	}
	it := c.slotsMap.Root().Iterator()
	for key, v, ok := it.Next(); ok; key, v, ok = it.Next() {
		src := v.(*Node)
		if src.Name == "" {
			return nil, ErrMissingNodeName
		}
		node, found := nodesByName[src.Name]
		if !found {
			return nil, fmt.Errorf("slot map references unknown node %q", src.Name)
		}
		dup.slotsMap, _, _ = dup.slotsMap.Insert(key, node)
	}
	c.duplicates = append(c.duplicates, dup)
	return dup, nil
}
