package resolvedplan

import (
	"github.com/BaSui01/planflow/plan"
	"github.com/BaSui01/planflow/reports"
)

// StatusCounter reports how many report nodes per status ran a hash.
// reports.Tree implements it.
type StatusCounter interface {
	CountByArtefactHash(hash string) map[reports.Status]int
}

// Group is a set of sibling resolved nodes sharing one artefact hash, such as
// the bodies of a loop.
type Group struct {
	ArtefactHash string
	Artefact     *plan.Artefact
	Nodes        []*Node
	Statuses     map[reports.Status]int
	Children     []*Group
}

// Aggregate groups nodes by hash, in order of first appearance. counter may
// be nil.
func Aggregate(nodes []*Node, counter StatusCounter) []*Group {
	var groups []*Group
	byHash := make(map[string]*Group)
	for _, n := range nodes {
		g, ok := byHash[n.ArtefactHash]
		if !ok {
			g = &Group{ArtefactHash: n.ArtefactHash, Artefact: n.Artefact}
			if counter != nil {
				g.Statuses = counter.CountByArtefactHash(n.ArtefactHash)
			}
			byHash[n.ArtefactHash] = g
			groups = append(groups, g)
		}
		g.Nodes = append(g.Nodes, n)
	}
	return groups
}

// AggregateTree builds the grouped tree below parentID. The children of a
// group are the union of its members' children, grouped again by hash.
func AggregateTree(acc *CachedAccessor, parentID string, counter StatusCounter) []*Group {
	return aggregateLevel(acc, acc.GetByParentID(parentID), counter)
}

func aggregateLevel(acc *CachedAccessor, nodes []*Node, counter StatusCounter) []*Group {
	groups := Aggregate(nodes, counter)
	for _, g := range groups {
		var below []*Node
		for _, n := range g.Nodes {
			below = append(below, acc.GetByParentID(n.ID)...)
		}
		if len(below) > 0 {
			g.Children = aggregateLevel(acc, below, counter)
		}
	}
	return groups
}
