package graphstore

import (
	"fmt"

	"github.com/matsen/lattice/internal/edge"
	"github.com/matsen/lattice/internal/paper"
)

// Neighborhood is the subgraph reachable from a root within a depth bound,
// following citation edges in both directions.
type Neighborhood struct {
	Nodes []*paper.Paper      `json:"nodes"`
	Edges []edge.CitationEdge `json:"edges"`
}

// CitationNeighborhood runs a breadth-first traversal from id up to depth,
// returning the visited nodes and the edges traversed to reach them. Edges
// are collected only from nodes closer than depth, so an edge joining two
// nodes that both sit at the outermost level is not included.
func (s *Store) CitationNeighborhood(id string, depth int) (*Neighborhood, error) {
	root, err := s.GetPaper(id)
	if err != nil {
		return nil, err
	}

	visited := map[string]*paper.Paper{root.ID: root}
	frontier := []string{root.ID}
	edgeSet := map[[2]string]edge.CitationEdge{}

	for d := 0; d < depth && len(frontier) > 0; d++ {
		var next []string
		for _, cur := range frontier {
			out, err := s.References(cur)
			if err != nil {
				return nil, err
			}
			in, err := s.Citations(cur)
			if err != nil {
				return nil, err
			}
			for _, e := range append(out, in...) {
				edgeSet[[2]string{e.Src, e.Dst}] = e
				for _, nid := range []string{e.Src, e.Dst} {
					if _, ok := visited[nid]; ok {
						continue
					}
					p, err := s.GetPaper(nid)
					if err != nil {
						return nil, fmt.Errorf("loading neighbor %s: %w", nid, err)
					}
					visited[nid] = p
					next = append(next, nid)
				}
			}
		}
		frontier = next
	}

	nb := &Neighborhood{}
	for _, p := range visited {
		nb.Nodes = append(nb.Nodes, p)
	}
	// Keep only edges whose both endpoints made it into the node set.
	for _, e := range edgeSet {
		if visited[e.Src] != nil && visited[e.Dst] != nil {
			nb.Edges = append(nb.Edges, e)
		}
	}
	return nb, nil
}
