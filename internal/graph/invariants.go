package graph

import (
	"fmt"

	"github.com/hashicorp/go-multierror"

	"taskweaver/internal/node"
)

// CheckInvariants validates every structural invariant that belongs to
// the graph itself (as opposed to the state machine, which
// transition.Manager polices): every non-root node's parent exists and
// owns the node's containing sub-graph, layer(child) = layer(parent)+1,
// and no node appears in more than one sub-graph. Violations are
// collected with github.com/hashicorp/go-multierror rather than failing
// fast, so one pass reports every independent failure instead of stopping
// at the first. A nil return means every invariant held.
func (g *Graph) CheckInvariants() error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var result *multierror.Error

	seenIn := make(map[string]string, len(g.index)) // task id -> sub-graph id it was first seen in

	for gid, sg := range g.subGraphs {
		for _, id := range sg.nodeIDs {
			n := sg.nodes[id]

			if owner, ok := seenIn[id]; ok {
				result = multierror.Append(result, fmt.Errorf("node %s appears in both sub-graph %s and %s", id, owner, gid))
				continue
			}
			seenIn[id] = gid

			n.Lock()
			parentID := n.ParentNodeID
			layer := n.Layer
			n.Unlock()

			if parentID == "" {
				continue // root node: no parent invariant to check
			}

			parent, ok := g.index[parentID]
			if !ok {
				result = multierror.Append(result, fmt.Errorf("node %s references missing parent %s", id, parentID))
				continue
			}

			parent.Lock()
			parentSubGraphID := parent.SubGraphID
			parentLayer := parent.Layer
			parentNodeType := parent.NodeType
			parent.Unlock()

			if parentNodeType != node.NodePlan {
				result = multierror.Append(result, fmt.Errorf("node %s's parent %s is not a PLAN node", id, parentID))
			}
			if parentSubGraphID != gid {
				result = multierror.Append(result, fmt.Errorf("node %s's parent %s owns sub-graph %q, not its containing graph %q", id, parentID, parentSubGraphID, gid))
			}
			if layer != parentLayer+1 {
				result = multierror.Append(result, fmt.Errorf("node %s has layer %d, expected parent %s's layer+1=%d", id, layer, parentID, parentLayer+1))
			}
		}
	}

	return result.ErrorOrNil()
}
