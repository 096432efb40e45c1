// Package graph holds the graph that programs receive as input, its
// Cytoscape JSON import and the objects programs use to walk it.
package graph

import (
	"fmt"

	"github.com/graphery/executor/internal/script"
)

// Graph is an ordered graph. Nodes and edges keep insertion order so that
// iteration, and therefore every recorded trace, is deterministic.
type Graph struct {
	Name string

	directed bool
	multi    bool
	nodes    []*Node
	byID     map[string]*Node
	edges    []*Edge
	attrs    *script.Dict
}

// Node is a graph vertex.
type Node struct {
	ID         string
	Properties *script.Dict

	graph *Graph
	out   []*Edge
	in    []*Edge
}

// Edge connects Source to Target. Key tells parallel edges apart in a
// multigraph and is zero otherwise.
type Edge struct {
	ID         string
	Source     *Node
	Target     *Node
	Key        int
	Properties *script.Dict

	graph *Graph
	view  *DataEdge
}

// New returns an empty graph.
func New(directed, multi bool) *Graph {
	return &Graph{
		directed: directed,
		multi:    multi,
		byID:     make(map[string]*Node),
		attrs:    script.NewDict(),
	}
}

// Directed reports whether edges have a direction.
func (g *Graph) Directed() bool { return g.directed }

// Multi reports whether parallel edges are allowed.
func (g *Graph) Multi() bool { return g.multi }

// Nodes returns the nodes in insertion order.
func (g *Graph) Nodes() []*Node { return append([]*Node(nil), g.nodes...) }

// Edges returns the edges in insertion order.
func (g *Graph) Edges() []*Edge { return append([]*Edge(nil), g.edges...) }

// Node returns the node with the given id.
func (g *Graph) Node(id string) (*Node, bool) {
	n, ok := g.byID[id]
	return n, ok
}

// AddNode returns the node with id, creating it when missing.
func (g *Graph) AddNode(id string) *Node {
	if n, ok := g.byID[id]; ok {
		return n
	}
	n := &Node{ID: id, Properties: script.NewDict(), graph: g}
	g.nodes = append(g.nodes, n)
	g.byID[id] = n
	return n
}

// AddEdge connects the nodes u and v, creating them when missing. In a
// simple graph an existing edge is returned instead of a parallel one.
func (g *Graph) AddEdge(u, v string) *Edge {
	src, dst := g.AddNode(u), g.AddNode(v)
	existing := g.between(src, dst)
	if len(existing) > 0 && !g.multi {
		return existing[0]
	}
	key := 0
	for taken := true; taken; {
		taken = false
		for _, e := range existing {
			if e.Key == key {
				key++
				taken = true
				break
			}
		}
	}
	e := &Edge{
		Source:     src,
		Target:     dst,
		Key:        key,
		Properties: script.NewDict(),
		graph:      g,
	}
	e.ID = g.defaultEdgeID(e)
	g.edges = append(g.edges, e)
	src.out = append(src.out, e)
	if g.directed {
		dst.in = append(dst.in, e)
	} else if dst != src {
		dst.out = append(dst.out, e)
	}
	return e
}

func (g *Graph) defaultEdgeID(e *Edge) string {
	if g.multi {
		return fmt.Sprintf("(%s, %s, %d)", e.Source.ID, e.Target.ID, e.Key)
	}
	return fmt.Sprintf("(%s, %s)", e.Source.ID, e.Target.ID)
}

// Edge returns the first edge from u to v. Undirected graphs match either
// orientation.
func (g *Graph) Edge(u, v string) (*Edge, bool) {
	src, ok1 := g.byID[u]
	dst, ok2 := g.byID[v]
	if !ok1 || !ok2 {
		return nil, false
	}
	es := g.between(src, dst)
	if len(es) == 0 {
		return nil, false
	}
	return es[0], true
}

// EdgesBetween returns every edge from u to v.
func (g *Graph) EdgesBetween(u, v *Node) []*Edge { return g.between(u, v) }

func (g *Graph) between(u, v *Node) []*Edge {
	var out []*Edge
	for _, e := range u.out {
		if e.Source == u && e.Target == v || !g.directed && e.Source == v && e.Target == u {
			out = append(out, e)
		}
	}
	return out
}

// RemoveNode deletes a node and every edge touching it.
func (g *Graph) RemoveNode(id string) bool {
	n, ok := g.byID[id]
	if !ok {
		return false
	}
	for _, e := range append(append([]*Edge(nil), n.out...), n.in...) {
		g.removeEdge(e)
	}
	delete(g.byID, id)
	for i, x := range g.nodes {
		if x == n {
			g.nodes = append(g.nodes[:i], g.nodes[i+1:]...)
			break
		}
	}
	n.graph = nil
	return true
}

// RemoveEdge deletes one edge from u to v. A negative key removes the most
// recently added one.
func (g *Graph) RemoveEdge(u, v string, key int) bool {
	src, ok1 := g.byID[u]
	dst, ok2 := g.byID[v]
	if !ok1 || !ok2 {
		return false
	}
	es := g.between(src, dst)
	for i := len(es) - 1; i >= 0; i-- {
		if key < 0 || es[i].Key == key {
			g.removeEdge(es[i])
			return true
		}
	}
	return false
}

func (g *Graph) removeEdge(e *Edge) {
	g.edges = dropEdge(g.edges, e)
	e.Source.out = dropEdge(e.Source.out, e)
	e.Target.out = dropEdge(e.Target.out, e)
	e.Target.in = dropEdge(e.Target.in, e)
	e.graph = nil
}

func dropEdge(es []*Edge, e *Edge) []*Edge {
	for i, x := range es {
		if x == e {
			return append(es[:i], es[i+1:]...)
		}
	}
	return es
}

// Neighbors returns the nodes reachable over one outgoing edge, without
// repeats, in edge order.
func (g *Graph) Neighbors(n *Node) []*Node {
	seen := make(map[*Node]bool)
	var out []*Node
	for _, e := range n.out {
		m := e.Target
		if e.Source != n {
			m = e.Source
		}
		if !seen[m] {
			seen[m] = true
			out = append(out, m)
		}
	}
	return out
}

// Predecessors returns the nodes with an edge into n. For undirected
// graphs this is the same as Neighbors.
func (g *Graph) Predecessors(n *Node) []*Node {
	if !g.directed {
		return g.Neighbors(n)
	}
	seen := make(map[*Node]bool)
	var out []*Node
	for _, e := range n.in {
		if !seen[e.Source] {
			seen[e.Source] = true
			out = append(out, e.Source)
		}
	}
	return out
}

// Degree counts the edges touching n. Self loops count twice.
func (g *Graph) Degree(n *Node) int {
	d := 0
	for _, e := range n.out {
		d++
		if e.Source == e.Target {
			d++
		}
	}
	if g.directed {
		for _, e := range n.in {
			if e.Source != e.Target {
				d++
			}
		}
	}
	return d
}

// Graph returns the graph the node belongs to, nil once removed.
func (n *Node) Graph() *Graph { return n.graph }

// Graph returns the graph the edge belongs to, nil once removed.
func (e *Edge) Graph() *Graph { return e.graph }
