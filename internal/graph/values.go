package graph

import (
	"fmt"
	"strings"

	"github.com/graphery/executor/internal/script"
)

// Classes programs see for graph objects. Membership is decided by the
// graph flavour so that isinstance(g, nx.Graph) holds for every graph, as
// it does for the subclass hierarchy programs expect.
var (
	GraphClass = script.NewBuiltinClass("Graph", func(v script.Value) bool {
		_, ok := v.(*Graph)
		return ok
	})
	DiGraphClass = script.NewBuiltinClass("DiGraph", func(v script.Value) bool {
		g, ok := v.(*Graph)
		return ok && g.directed
	})
	MultiGraphClass = script.NewBuiltinClass("MultiGraph", func(v script.Value) bool {
		g, ok := v.(*Graph)
		return ok && g.multi
	})
	MultiDiGraphClass = script.NewBuiltinClass("MultiDiGraph", func(v script.Value) bool {
		g, ok := v.(*Graph)
		return ok && g.multi && g.directed
	})
	NodeClass = script.NewBuiltinClass("Node", func(v script.Value) bool {
		_, ok := v.(*Node)
		return ok
	})
	EdgeClass = script.NewBuiltinClass("Edge", func(v script.Value) bool {
		switch v.(type) {
		case *Edge, *DataEdge:
			return true
		}
		return false
	})
)

type graphMethod func(g *Graph, in *script.Interp, args []script.Value, kw []script.Kwarg) (script.Value, error)

var graphMethods map[string]graphMethod

func init() {
	graphMethods = map[string]graphMethod{
		"number_of_nodes": func(g *Graph, _ *script.Interp, _ []script.Value, _ []script.Kwarg) (script.Value, error) {
			return script.Int(len(g.nodes)), nil
		},
		"number_of_edges": func(g *Graph, _ *script.Interp, _ []script.Value, _ []script.Kwarg) (script.Value, error) {
			return script.Int(len(g.edges)), nil
		},
		"order": func(g *Graph, _ *script.Interp, _ []script.Value, _ []script.Kwarg) (script.Value, error) {
			return script.Int(len(g.nodes)), nil
		},
		"size": func(g *Graph, _ *script.Interp, _ []script.Value, _ []script.Kwarg) (script.Value, error) {
			return script.Int(len(g.edges)), nil
		},
		"is_directed": func(g *Graph, _ *script.Interp, _ []script.Value, _ []script.Kwarg) (script.Value, error) {
			return script.Bool(g.directed), nil
		},
		"is_multigraph": func(g *Graph, _ *script.Interp, _ []script.Value, _ []script.Kwarg) (script.Value, error) {
			return script.Bool(g.multi), nil
		},
		"neighbors":    neighborMethod("neighbors", (*Graph).Neighbors),
		"successors":   neighborMethod("successors", (*Graph).Neighbors),
		"predecessors": neighborMethod("predecessors", (*Graph).Predecessors),
		"degree":       graphDegree,
		"has_node": func(g *Graph, in *script.Interp, args []script.Value, kw []script.Kwarg) (script.Value, error) {
			a, err := script.UnpackArgs("has_node", args, kw, "n")
			if err != nil {
				return nil, err
			}
			_, ok, err := g.lookupNode(in, a[0])
			return script.Bool(ok), err
		},
		"has_edge": func(g *Graph, in *script.Interp, args []script.Value, kw []script.Kwarg) (script.Value, error) {
			e, err := g.edgeArgs(in, "has_edge", args, kw)
			if err != nil {
				return nil, err
			}
			return script.Bool(e != nil), nil
		},
		"get_node": func(g *Graph, in *script.Interp, args []script.Value, kw []script.Kwarg) (script.Value, error) {
			a, err := script.UnpackArgs("get_node", args, kw, "id")
			if err != nil {
				return nil, err
			}
			return g.nodeArg(in, a[0])
		},
		"get_edge": func(g *Graph, in *script.Interp, args []script.Value, kw []script.Kwarg) (script.Value, error) {
			e, err := g.edgeArgs(in, "get_edge", args, kw)
			if err != nil {
				return nil, err
			}
			if e == nil {
				return script.None, nil
			}
			return e, nil
		},
		"add_node":       graphAddNode,
		"add_nodes_from": graphAddNodesFrom,
		"add_edge":       graphAddEdge,
		"add_edges_from": graphAddEdgesFrom,
		"remove_node": func(g *Graph, in *script.Interp, args []script.Value, kw []script.Kwarg) (script.Value, error) {
			a, err := script.UnpackArgs("remove_node", args, kw, "n")
			if err != nil {
				return nil, err
			}
			n, err := g.nodeArg(in, a[0])
			if err != nil {
				return nil, err
			}
			g.RemoveNode(n.ID)
			return script.None, nil
		},
		"remove_edge": func(g *Graph, in *script.Interp, args []script.Value, kw []script.Kwarg) (script.Value, error) {
			a, err := script.UnpackArgs("remove_edge", args, kw, "u", "v", "key?")
			if err != nil {
				return nil, err
			}
			u, err := g.nodeArg(in, a[0])
			if err != nil {
				return nil, err
			}
			v, err := g.nodeArg(in, a[1])
			if err != nil {
				return nil, err
			}
			key := -1
			if a[2] != nil && a[2] != script.None {
				k, ok := script.AsInt(a[2])
				if !ok {
					return nil, script.Errorf(script.TypeError, "edge key must be an integer")
				}
				key = int(k)
			}
			if !g.RemoveEdge(u.ID, v.ID, key) {
				return nil, script.Errorf(NetworkXError, "The edge %s-%s is not in the graph", u.ID, v.ID)
			}
			return script.None, nil
		},
		"copy": func(g *Graph, _ *script.Interp, _ []script.Value, _ []script.Kwarg) (script.Value, error) {
			return g.Copy(), nil
		},
	}
}

// NetworkXError is raised for graph operations on missing nodes or edges.
var NetworkXError = func() *script.Class {
	c, _ := script.NewClass("NetworkXError", []*script.Class{script.ExceptionClass}, nil)
	return c
}()

func (g *Graph) TypeName() string { return g.Type().Name }

// Type returns the flavour class of the graph.
func (g *Graph) Type() *script.Class {
	switch {
	case g.multi && g.directed:
		return MultiDiGraphClass
	case g.multi:
		return MultiGraphClass
	case g.directed:
		return DiGraphClass
	}
	return GraphClass
}

func (g *Graph) GetAttr(in *script.Interp, name string) (script.Value, error) {
	switch name {
	case "nodes", "V":
		return &nodeView{g: g}, nil
	case "edges", "E":
		return &edgeView{g: g}, nil
	case "name":
		return script.Str(g.Name), nil
	case "graph":
		return g.attrs, nil
	case "adj":
		return g.adjacency(), nil
	}
	if m, ok := graphMethods[name]; ok {
		return script.NewBuiltin(name, func(in *script.Interp, args []script.Value, kw []script.Kwarg) (script.Value, error) {
			return m(g, in, args, kw)
		}), nil
	}
	return nil, script.Errorf(script.AttributeError, "'%s' object has no attribute '%s'", g.TypeName(), name)
}

func (g *Graph) Len() int { return len(g.nodes) }

func (g *Graph) Iter(*script.Interp) (script.Iterator, error) {
	return script.NewSliceIter("node_iterator", nodeValues(g.nodes)), nil
}

func (g *Graph) Contains(in *script.Interp, v script.Value) (bool, error) {
	_, ok, err := g.lookupNode(in, v)
	if err != nil {
		return false, nil
	}
	return ok, nil
}

// GetItem returns the adjacency of a node: a dict from neighbor to the
// properties of the connecting edge.
func (g *Graph) GetItem(in *script.Interp, key script.Value) (script.Value, error) {
	n, err := g.nodeArg(in, key)
	if err != nil {
		return nil, err
	}
	return g.neighborhood(n), nil
}

func (g *Graph) Repr(*script.Interp) (string, error) {
	if g.Name != "" {
		return fmt.Sprintf("%s named '%s' with %d nodes and %d edges", g.TypeName(), g.Name, len(g.nodes), len(g.edges)), nil
	}
	return fmt.Sprintf("%s with %d nodes and %d edges", g.TypeName(), len(g.nodes), len(g.edges)), nil
}

// Copy returns a graph with the same structure and copied property dicts.
func (g *Graph) Copy() *Graph {
	c := New(g.directed, g.multi)
	c.Name = g.Name
	for _, kv := range g.attrs.Items() {
		_ = c.attrs.Set(kv[0], kv[1])
	}
	for _, n := range g.nodes {
		copyProperties(c.AddNode(n.ID).Properties, n.Properties)
	}
	for _, e := range g.edges {
		ce := c.AddEdge(e.Source.ID, e.Target.ID)
		ce.ID, ce.Key = e.ID, e.Key
		copyProperties(ce.Properties, e.Properties)
	}
	return c
}

func (g *Graph) neighborhood(n *Node) *script.Dict {
	d := script.NewDict()
	for _, e := range n.out {
		m := e.Target
		if e.Source != n {
			m = e.Source
		}
		_ = d.Set(m, e.Properties)
	}
	return d
}

func (g *Graph) adjacency() *script.Dict {
	d := script.NewDict()
	for _, n := range g.nodes {
		_ = d.Set(n, g.neighborhood(n))
	}
	return d
}

// lookupNode resolves a node object or an id.
func (g *Graph) lookupNode(in *script.Interp, v script.Value) (*Node, bool, error) {
	if n, ok := v.(*Node); ok {
		return n, n.graph == g, nil
	}
	id, err := in.Str(v)
	if err != nil {
		return nil, false, err
	}
	n, ok := g.byID[id]
	return n, ok, nil
}

func (g *Graph) nodeArg(in *script.Interp, v script.Value) (*Node, error) {
	n, ok, err := g.lookupNode(in, v)
	if err != nil {
		return nil, err
	}
	if !ok {
		r, _ := in.Repr(v)
		return nil, script.Errorf(NetworkXError, "The node %s is not in the graph.", r)
	}
	return n, nil
}

func (g *Graph) edgeArgs(in *script.Interp, fname string, args []script.Value, kw []script.Kwarg) (*Edge, error) {
	a, err := script.UnpackArgs(fname, args, kw, "u", "v", "key?")
	if err != nil {
		return nil, err
	}
	u, ok1, err := g.lookupNode(in, a[0])
	if err != nil {
		return nil, err
	}
	v, ok2, err := g.lookupNode(in, a[1])
	if err != nil {
		return nil, err
	}
	if !ok1 || !ok2 {
		return nil, nil
	}
	for _, e := range g.between(u, v) {
		if a[2] == nil || a[2] == script.None {
			return e, nil
		}
		if k, ok := script.AsInt(a[2]); ok && int(k) == e.Key {
			return e, nil
		}
	}
	return nil, nil
}

func neighborMethod(fname string, fn func(*Graph, *Node) []*Node) graphMethod {
	return func(g *Graph, in *script.Interp, args []script.Value, kw []script.Kwarg) (script.Value, error) {
		a, err := script.UnpackArgs(fname, args, kw, "n")
		if err != nil {
			return nil, err
		}
		n, err := g.nodeArg(in, a[0])
		if err != nil {
			return nil, err
		}
		return script.NewSliceIter(fname, nodeValues(fn(g, n))), nil
	}
}

func graphDegree(g *Graph, in *script.Interp, args []script.Value, kw []script.Kwarg) (script.Value, error) {
	a, err := script.UnpackArgs("degree", args, kw, "nbunch?")
	if err != nil {
		return nil, err
	}
	if a[0] != nil && a[0] != script.None {
		n, err := g.nodeArg(in, a[0])
		if err != nil {
			return nil, err
		}
		return script.Int(g.Degree(n)), nil
	}
	items := make([]script.Value, len(g.nodes))
	for i, n := range g.nodes {
		items[i] = script.NewTuple(n, script.Int(g.Degree(n)))
	}
	return script.NewList(items), nil
}

func setProperties(in *script.Interp, props *script.Dict, kw []script.Kwarg) error {
	for _, k := range kw {
		if err := props.Set(script.Str(k.Name), k.Value); err != nil {
			return err
		}
	}
	return nil
}

func graphAddNode(g *Graph, in *script.Interp, args []script.Value, kw []script.Kwarg) (script.Value, error) {
	if len(args) != 1 {
		return nil, script.Errorf(script.TypeError, "add_node() takes exactly one positional argument (%d given)", len(args))
	}
	id, err := in.Str(args[0])
	if err != nil {
		return nil, err
	}
	n := g.AddNode(id)
	return n, setProperties(in, n.Properties, kw)
}

func graphAddNodesFrom(g *Graph, in *script.Interp, args []script.Value, kw []script.Kwarg) (script.Value, error) {
	if len(args) != 1 {
		return nil, script.Errorf(script.TypeError, "add_nodes_from() takes exactly one positional argument (%d given)", len(args))
	}
	items, err := in.Iterate(args[0])
	if err != nil {
		return nil, err
	}
	for _, item := range items {
		if _, err := graphAddNode(g, in, []script.Value{item}, kw); err != nil {
			return nil, err
		}
	}
	return script.None, nil
}

func graphAddEdge(g *Graph, in *script.Interp, args []script.Value, kw []script.Kwarg) (script.Value, error) {
	if len(args) != 2 {
		return nil, script.Errorf(script.TypeError, "add_edge() takes exactly two positional arguments (%d given)", len(args))
	}
	ids := make([]string, 2)
	for i, a := range args {
		if n, ok := a.(*Node); ok {
			ids[i] = n.ID
			continue
		}
		s, err := in.Str(a)
		if err != nil {
			return nil, err
		}
		ids[i] = s
	}
	e := g.AddEdge(ids[0], ids[1])
	return e, setProperties(in, e.Properties, kw)
}

func graphAddEdgesFrom(g *Graph, in *script.Interp, args []script.Value, kw []script.Kwarg) (script.Value, error) {
	if len(args) != 1 {
		return nil, script.Errorf(script.TypeError, "add_edges_from() takes exactly one positional argument (%d given)", len(args))
	}
	items, err := in.Iterate(args[0])
	if err != nil {
		return nil, err
	}
	for _, item := range items {
		parts, err := in.Iterate(item)
		if err != nil {
			return nil, err
		}
		if len(parts) < 2 || len(parts) > 3 {
			return nil, script.Errorf(NetworkXError, "Edge tuple must be a 2-tuple or 3-tuple.")
		}
		e, err := graphAddEdge(g, in, parts[:2], kw)
		if err != nil {
			return nil, err
		}
		if len(parts) == 3 {
			data, ok := parts[2].(*script.Dict)
			if !ok {
				return nil, script.Errorf(script.TypeError, "edge data must be a dict")
			}
			copyProperties(e.(*Edge).Properties, data)
		}
	}
	return script.None, nil
}

func nodeValues(ns []*Node) []script.Value {
	out := make([]script.Value, len(ns))
	for i, n := range ns {
		out[i] = n
	}
	return out
}

// Node

func (*Node) TypeName() string    { return "Node" }
func (*Node) Type() *script.Class { return NodeClass }

func (n *Node) Str(*script.Interp) (string, error) { return n.ID, nil }

func (n *Node) Repr(*script.Interp) (string, error) {
	return fmt.Sprintf("Node(%s)", n.ID), nil
}

func (n *Node) GetAttr(in *script.Interp, name string) (script.Value, error) {
	switch name {
	case "id":
		return script.Str(n.ID), nil
	case "properties":
		return n.Properties, nil
	case "get":
		return script.NewBuiltin("get", func(in *script.Interp, args []script.Value, kw []script.Kwarg) (script.Value, error) {
			a, err := script.UnpackArgs("get", args, kw, "key", "default?")
			if err != nil {
				return nil, err
			}
			v, ok, err := n.Properties.Get(a[0])
			if err != nil || ok {
				return v, err
			}
			if a[1] == nil {
				return script.None, nil
			}
			return a[1], nil
		}), nil
	}
	return nil, script.Errorf(script.AttributeError, "'Node' object has no attribute '%s'", name)
}

func (n *Node) GetItem(in *script.Interp, key script.Value) (script.Value, error) {
	return propertyItem(in, n.Properties, key)
}

func (n *Node) SetItem(_ *script.Interp, key, v script.Value) error {
	return n.Properties.Set(key, v)
}

func (n *Node) Contains(_ *script.Interp, v script.Value) (bool, error) {
	_, ok, err := n.Properties.Get(v)
	return ok, err
}

// Edge

func (*Edge) TypeName() string    { return "Edge" }
func (*Edge) Type() *script.Class { return EdgeClass }

func (e *Edge) Str(*script.Interp) (string, error) {
	return fmt.Sprintf("(%s, %s)", e.Source.ID, e.Target.ID), nil
}

func (e *Edge) Repr(*script.Interp) (string, error) {
	if e.graph != nil && e.graph.multi {
		return fmt.Sprintf("Edge(%s, %s, %d)", e.Source.ID, e.Target.ID, e.Key), nil
	}
	return fmt.Sprintf("Edge(%s, %s)", e.Source.ID, e.Target.ID), nil
}

func (e *Edge) GetAttr(in *script.Interp, name string) (script.Value, error) {
	switch name {
	case "source", "u":
		return e.Source, nil
	case "target", "v":
		return e.Target, nil
	case "id":
		return script.Str(e.ID), nil
	case "key":
		return script.Int(e.Key), nil
	case "properties":
		return e.Properties, nil
	}
	return nil, script.Errorf(script.AttributeError, "'Edge' object has no attribute '%s'", name)
}

// Iter unpacks an edge as (source, target), the way edge tuples unpack.
func (e *Edge) Iter(*script.Interp) (script.Iterator, error) {
	return script.NewSliceIter("edge_iterator", []script.Value{e.Source, e.Target}), nil
}

func (e *Edge) Len() int { return 2 }

func (e *Edge) GetItem(in *script.Interp, key script.Value) (script.Value, error) {
	if i, ok := script.AsInt(key); ok {
		switch i {
		case 0, -2:
			return e.Source, nil
		case 1, -1:
			return e.Target, nil
		}
		return nil, script.Errorf(script.IndexError, "edge index out of range")
	}
	return propertyItem(in, e.Properties, key)
}

func (e *Edge) SetItem(_ *script.Interp, key, v script.Value) error {
	return e.Properties.Set(key, v)
}

// Data returns the data-bearing view of the edge.
func (e *Edge) Data() *DataEdge {
	if e.view == nil {
		e.view = &DataEdge{Edge: e}
	}
	return e.view
}

// DataEdge is an edge seen through edges(data=True). It unpacks as
// (source, target, properties).
type DataEdge struct {
	*Edge
}

func (*DataEdge) TypeName() string { return "DataEdge" }

func (d *DataEdge) Repr(in *script.Interp) (string, error) {
	props, err := in.Repr(d.Properties)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("DataEdge(%s, %s, %s)", d.Source.ID, d.Target.ID, props), nil
}

func (d *DataEdge) Iter(*script.Interp) (script.Iterator, error) {
	return script.NewSliceIter("edge_iterator", []script.Value{d.Source, d.Target, d.Properties}), nil
}

func (d *DataEdge) Len() int { return 3 }

func (d *DataEdge) GetItem(in *script.Interp, key script.Value) (script.Value, error) {
	if i, ok := script.AsInt(key); ok && (i == 2 || i == -1) {
		return d.Properties, nil
	}
	if i, ok := script.AsInt(key); ok && i == -2 {
		return d.Target, nil
	}
	return d.Edge.GetItem(in, key)
}

func propertyItem(in *script.Interp, props *script.Dict, key script.Value) (script.Value, error) {
	v, ok, err := props.Get(key)
	if err != nil {
		return nil, err
	}
	if !ok {
		r, _ := in.Repr(key)
		return nil, script.Errorf(script.KeyError, "%s", r)
	}
	return v, nil
}

// views

type nodeView struct{ g *Graph }

func (*nodeView) TypeName() string { return "NodeView" }

func (v *nodeView) Len() int { return len(v.g.nodes) }

func (v *nodeView) Iter(*script.Interp) (script.Iterator, error) {
	return script.NewSliceIter("node_iterator", nodeValues(v.g.nodes)), nil
}

func (v *nodeView) Contains(in *script.Interp, x script.Value) (bool, error) {
	return v.g.Contains(in, x)
}

// GetItem returns the properties of a node.
func (v *nodeView) GetItem(in *script.Interp, key script.Value) (script.Value, error) {
	n, err := v.g.nodeArg(in, key)
	if err != nil {
		return nil, err
	}
	return n.Properties, nil
}

// Call supports nodes(data=True), which yields (node, properties) pairs.
func (v *nodeView) Call(in *script.Interp, args []script.Value, kw []script.Kwarg) (script.Value, error) {
	a, err := script.UnpackArgs("nodes", args, kw, "data?")
	if err != nil {
		return nil, err
	}
	withData, err := truthy(in, a[0])
	if err != nil {
		return nil, err
	}
	if !withData {
		return v, nil
	}
	items := make([]script.Value, len(v.g.nodes))
	for i, n := range v.g.nodes {
		items[i] = script.NewTuple(n, n.Properties)
	}
	return script.NewList(items), nil
}

func (v *nodeView) Repr(in *script.Interp) (string, error) {
	parts := make([]string, len(v.g.nodes))
	for i, n := range v.g.nodes {
		parts[i], _ = n.Repr(in)
	}
	return "NodeView([" + strings.Join(parts, ", ") + "])", nil
}

type edgeView struct{ g *Graph }

func (*edgeView) TypeName() string { return "EdgeView" }

func (v *edgeView) Len() int { return len(v.g.edges) }

func (v *edgeView) Iter(*script.Interp) (script.Iterator, error) {
	items := make([]script.Value, len(v.g.edges))
	for i, e := range v.g.edges {
		items[i] = e
	}
	return script.NewSliceIter("edge_iterator", items), nil
}

func (v *edgeView) Contains(in *script.Interp, x script.Value) (bool, error) {
	switch e := x.(type) {
	case *Edge:
		return e.graph == v.g, nil
	case *DataEdge:
		return e.graph == v.g, nil
	}
	parts, err := in.Iterate(x)
	if err != nil || len(parts) < 2 {
		return false, nil
	}
	e, err := v.g.edgeArgs(in, "__contains__", parts[:min(len(parts), 3)], nil)
	return e != nil, err
}

// GetItem returns the properties of the edge indexed by a (u, v) or
// (u, v, key) tuple.
func (v *edgeView) GetItem(in *script.Interp, key script.Value) (script.Value, error) {
	parts, err := in.Iterate(key)
	if err != nil || len(parts) < 2 || len(parts) > 3 {
		return nil, script.Errorf(script.TypeError, "edges must be indexed by (u, v) or (u, v, key)")
	}
	e, err := v.g.edgeArgs(in, "__getitem__", parts, nil)
	if err != nil {
		return nil, err
	}
	if e == nil {
		r, _ := in.Repr(key)
		return nil, script.Errorf(script.KeyError, "%s", r)
	}
	return e.Properties, nil
}

// Call supports edges(data=True), which yields data-bearing edges.
func (v *edgeView) Call(in *script.Interp, args []script.Value, kw []script.Kwarg) (script.Value, error) {
	a, err := script.UnpackArgs("edges", args, kw, "nbunch?", "data?")
	if err != nil {
		return nil, err
	}
	withData, err := truthy(in, a[1])
	if err != nil {
		return nil, err
	}
	var only *Node
	if a[0] != nil && a[0] != script.None {
		if only, err = v.g.nodeArg(in, a[0]); err != nil {
			return nil, err
		}
	}
	var items []script.Value
	for _, e := range v.g.edges {
		if only != nil && e.Source != only && (v.g.directed || e.Target != only) {
			continue
		}
		if withData {
			items = append(items, e.Data())
		} else {
			items = append(items, e)
		}
	}
	return script.NewList(items), nil
}

func (v *edgeView) Repr(in *script.Interp) (string, error) {
	parts := make([]string, len(v.g.edges))
	for i, e := range v.g.edges {
		parts[i], _ = e.Repr(in)
	}
	return "EdgeView([" + strings.Join(parts, ", ") + "])", nil
}

func truthy(in *script.Interp, v script.Value) (bool, error) {
	if v == nil {
		return false, nil
	}
	return in.Truthy(v)
}
