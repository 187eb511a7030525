package core

import "sort"

// BridgeNode owns a bridge's primary record and its child collections.
type BridgeNode struct {
	Key      BridgeKey
	Primary  *StagedRecord
	Children map[EntityType][]*StagedRecord
}

// Related returns every record under the bridge: primary first, then
// children in entity order.
func (n *BridgeNode) Related() []*StagedRecord {
	var out []*StagedRecord
	if n.Primary != nil {
		out = append(out, n.Primary)
	}
	types := make([]EntityType, 0, len(n.Children))
	for t := range n.Children {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return entityOrder(types[i]) < entityOrder(types[j]) })
	for _, t := range types {
		out = append(out, n.Children[t]...)
	}
	return out
}

// Graph is the explicit record graph of one submission, keyed by bridge.
// Every traversal is eager; nothing is fetched lazily.
type Graph struct {
	SubmissionID int64
	nodes        map[BridgeKey]*BridgeNode
	order        []BridgeKey
}

// BuildGraph groups records by bridge key. When a bridge key repeats, the
// first primary wins the Primary slot; duplicates still appear in Related.
func BuildGraph(submissionID int64, records []*StagedRecord) *Graph {
	g := &Graph{SubmissionID: submissionID, nodes: make(map[BridgeKey]*BridgeNode)}
	for _, rec := range records {
		n := g.node(rec.Key.Bridge)
		if rec.Key.Entity == EntityBridge && n.Primary == nil {
			n.Primary = rec
			continue
		}
		n.Children[rec.Key.Entity] = append(n.Children[rec.Key.Entity], rec)
	}
	return g
}

func (g *Graph) node(k BridgeKey) *BridgeNode {
	n, ok := g.nodes[k]
	if !ok {
		n = &BridgeNode{Key: k, Children: make(map[EntityType][]*StagedRecord)}
		g.nodes[k] = n
		g.order = append(g.order, k)
	}
	return n
}

// Node returns the node for a bridge key.
func (g *Graph) Node(k BridgeKey) (*BridgeNode, bool) {
	n, ok := g.nodes[k]
	return n, ok
}

// Nodes returns nodes in first-seen order.
func (g *Graph) Nodes() []*BridgeNode {
	out := make([]*BridgeNode, len(g.order))
	for i, k := range g.order {
		out[i] = g.nodes[k]
	}
	return out
}

// Related returns the records sharing rec's bridge key.
func (g *Graph) Related(rec *StagedRecord) []*StagedRecord {
	n, ok := g.nodes[rec.Key.Bridge]
	if !ok {
		return nil
	}
	return n.Related()
}
