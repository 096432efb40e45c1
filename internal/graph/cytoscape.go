package graph

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"

	"github.com/graphery/executor/internal/script"
)

// ErrInvalidGraph is wrapped by every Cytoscape import failure.
var ErrInvalidGraph = errors.New("invalid graph data")

type cyElement struct {
	Group string          `json:"group"`
	Data  json.RawMessage `json:"data"`
}

type cyElements struct {
	Nodes []cyElement `json:"nodes"`
	Edges []cyElement `json:"edges"`
}

type cyDocument struct {
	Data       json.RawMessage `json:"data"`
	Directed   bool            `json:"directed"`
	Multigraph bool            `json:"multigraph"`
	Elements   json.RawMessage `json:"elements"`
}

// FromCytoscape builds a graph from Cytoscape JSON. elements may be an
// object with nodes and edges lists, or a flat list whose entries carry a
// group field. Every data key other than id, source, target and key becomes
// a property.
func FromCytoscape(raw []byte) (*Graph, error) {
	var doc cyDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidGraph, err)
	}
	nodes, edges, err := splitElements(doc.Elements)
	if err != nil {
		return nil, err
	}

	g := New(doc.Directed, doc.Multigraph)
	if err := loadGraphData(g, doc.Data); err != nil {
		return nil, err
	}
	for i, el := range nodes {
		data, err := decodeData(el.Data)
		if err != nil {
			return nil, fmt.Errorf("%w: node %d: %w", ErrInvalidGraph, i, err)
		}
		id, ok := scalarField(data, "id")
		if !ok {
			return nil, fmt.Errorf("%w: node %d has no id", ErrInvalidGraph, i)
		}
		n := g.AddNode(id)
		copyProperties(n.Properties, data, "id")
	}
	for i, el := range edges {
		data, err := decodeData(el.Data)
		if err != nil {
			return nil, fmt.Errorf("%w: edge %d: %w", ErrInvalidGraph, i, err)
		}
		src, ok1 := scalarField(data, "source")
		dst, ok2 := scalarField(data, "target")
		if !ok1 || !ok2 {
			return nil, fmt.Errorf("%w: edge %d needs source and target", ErrInvalidGraph, i)
		}
		e := g.AddEdge(src, dst)
		if k, ok, _ := data.Get(script.Str("key")); ok && g.multi {
			if n, ok := script.AsInt(k); ok {
				e.Key = int(n)
				e.ID = g.defaultEdgeID(e)
			}
		}
		if id, ok := scalarField(data, "id"); ok {
			e.ID = id
		}
		copyProperties(e.Properties, data, "id", "source", "target", "key")
	}
	return g, nil
}

func splitElements(raw json.RawMessage) (nodes, edges []cyElement, err error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil, nil
	}
	var grouped cyElements
	if err := json.Unmarshal(raw, &grouped); err == nil {
		return grouped.Nodes, grouped.Edges, nil
	}
	var flat []cyElement
	if err := json.Unmarshal(raw, &flat); err != nil {
		return nil, nil, fmt.Errorf("%w: elements must be an object or a list", ErrInvalidGraph)
	}
	for i, el := range flat {
		switch el.Group {
		case "nodes":
			nodes = append(nodes, el)
		case "edges":
			edges = append(edges, el)
		default:
			return nil, nil, fmt.Errorf("%w: element %d has unknown group %q", ErrInvalidGraph, i, el.Group)
		}
	}
	return nodes, edges, nil
}

func loadGraphData(g *Graph, raw json.RawMessage) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	v, err := script.DecodeJSON(raw)
	if err != nil {
		return fmt.Errorf("%w: graph data: %w", ErrInvalidGraph, err)
	}
	switch x := v.(type) {
	case *script.Dict:
		g.attrs = x
	case *script.List:
		// networkx writes graph attributes as a list of pairs
		for _, item := range x.Items {
			pair, ok := item.(*script.List)
			if !ok || len(pair.Items) != 2 {
				return fmt.Errorf("%w: graph data entries must be pairs", ErrInvalidGraph)
			}
			if err := g.attrs.Set(pair.Items[0], pair.Items[1]); err != nil {
				return fmt.Errorf("%w: graph data: %w", ErrInvalidGraph, err)
			}
		}
	default:
		return fmt.Errorf("%w: graph data must be an object", ErrInvalidGraph)
	}
	if name, ok, _ := g.attrs.Get(script.Str("name")); ok {
		if s, ok := name.(script.Str); ok {
			g.Name = string(s)
		}
	}
	return nil
}

func decodeData(raw json.RawMessage) (*script.Dict, error) {
	if len(raw) == 0 {
		return nil, errors.New("missing data")
	}
	v, err := script.DecodeJSON(raw)
	if err != nil {
		return nil, err
	}
	d, ok := v.(*script.Dict)
	if !ok {
		return nil, errors.New("data must be an object")
	}
	return d, nil
}

func scalarField(d *script.Dict, key string) (string, bool) {
	v, ok, _ := d.Get(script.Str(key))
	if !ok {
		return "", false
	}
	switch x := v.(type) {
	case script.Str:
		return string(x), x != ""
	case script.Int:
		return strconv.FormatInt(int64(x), 10), true
	case script.Float:
		return strconv.FormatFloat(float64(x), 'g', -1, 64), true
	}
	return "", false
}

func copyProperties(dst, src *script.Dict, skip ...string) {
	for _, kv := range src.Items() {
		if k, ok := kv[0].(script.Str); ok && slices.Contains(skip, string(k)) {
			continue
		}
		_ = dst.Set(kv[0], kv[1])
	}
}
