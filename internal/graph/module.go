package graph

import (
	"encoding/json"

	"github.com/graphery/executor/internal/script"
)

// Type tags of graph objects as they appear in recorded variable states.
const (
	TagNode          = "Node"
	TagEdge          = "Edge"
	TagDataEdge      = "DataEdge"
	TagMultiEdge     = "MultiEdge"
	TagDataMultiEdge = "DataMultiEdge"
)

// Tag classifies a graph object. ok is false for anything else.
func Tag(v script.Value) (tag string, ok bool) {
	switch x := v.(type) {
	case *Node:
		return TagNode, true
	case *DataEdge:
		if x.multiEdge() {
			return TagDataMultiEdge, true
		}
		return TagDataEdge, true
	case *Edge:
		if x.multiEdge() {
			return TagMultiEdge, true
		}
		return TagEdge, true
	}
	return "", false
}

// Identify returns the stable external id of a graph object and a shallow
// copy of its properties.
func Identify(v script.Value) (id string, props []Property, ok bool) {
	var d *script.Dict
	switch x := v.(type) {
	case *Node:
		id, d = x.ID, x.Properties
	case *DataEdge:
		id, d = x.ID, x.Properties
	case *Edge:
		id, d = x.ID, x.Properties
	default:
		return "", nil, false
	}
	items := d.Items()
	props = make([]Property, len(items))
	for i, kv := range items {
		props[i] = Property{Key: kv[0], Value: kv[1]}
	}
	return id, props, true
}

// Property is one key/value entry of a node or edge.
type Property struct {
	Key   script.Value
	Value script.Value
}

func (e *Edge) multiEdge() bool { return e.graph != nil && e.graph.multi }

var flavours = []struct {
	cls             *script.Class
	directed, multi bool
}{
	{GraphClass, false, false},
	{DiGraphClass, true, false},
	{MultiGraphClass, false, true},
	{MultiDiGraphClass, true, true},
}

func init() {
	for _, f := range flavours {
		f.cls.SetConstructor(func(in *script.Interp, args []script.Value, kw []script.Kwarg) (script.Value, error) {
			g := New(f.directed, f.multi)
			if len(args) > 1 {
				return nil, script.Errorf(script.TypeError, "%s() takes at most 1 positional argument", f.cls.Name)
			}
			if len(args) == 1 && args[0] != script.None {
				if err := g.loadIncoming(in, args[0]); err != nil {
					return nil, err
				}
			}
			for _, k := range kw {
				if k.Name == "name" {
					s, err := in.Str(k.Value)
					if err != nil {
						return nil, err
					}
					g.Name = s
				}
				if err := g.attrs.Set(script.Str(k.Name), k.Value); err != nil {
					return nil, err
				}
			}
			return g, nil
		})
	}
}

// Module builds the networkx module programs import to create graphs of
// their own.
func Module(*script.Interp) *script.Module {
	m := script.NewModule("networkx")
	for _, f := range flavours {
		m.Set(f.cls.Name, f.cls)
	}
	m.Set("Node", NodeClass)
	m.Set("Edge", EdgeClass)
	m.Set("NetworkXError", NetworkXError)
	m.Func("cytoscape_graph", func(in *script.Interp, args []script.Value, kw []script.Kwarg) (script.Value, error) {
		a, err := script.UnpackArgs("cytoscape_graph", args, kw, "data")
		if err != nil {
			return nil, err
		}
		var raw string
		switch x := a[0].(type) {
		case script.Str:
			raw = string(x)
		default:
			raw, err = jsonText(x)
			if err != nil {
				return nil, err
			}
		}
		g, err := FromCytoscape([]byte(raw))
		if err != nil {
			return nil, script.Errorf(NetworkXError, "%s", err.Error())
		}
		return g, nil
	})
	return m
}

// loadIncoming fills a new graph from another graph or from an iterable
// of edge tuples.
func (g *Graph) loadIncoming(in *script.Interp, data script.Value) error {
	if src, ok := data.(*Graph); ok {
		for _, n := range src.nodes {
			copyProperties(g.AddNode(n.ID).Properties, n.Properties)
		}
		for _, e := range src.edges {
			copyProperties(g.AddEdge(e.Source.ID, e.Target.ID).Properties, e.Properties)
		}
		return nil
	}
	_, err := graphAddEdgesFrom(g, in, []script.Value{data}, nil)
	return err
}

func jsonText(v script.Value) (string, error) {
	b, err := json.Marshal(script.ToGo(v))
	if err != nil {
		return "", script.Errorf(script.TypeError, "graph data is not serializable: %s", err.Error())
	}
	return string(b), nil
}
