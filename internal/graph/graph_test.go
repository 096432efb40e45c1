package graph

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/graphery/executor/internal/script"
)

const sampleCytoscape = `{
  "data": [["name", "sample"]],
  "directed": false,
  "multigraph": false,
  "elements": {
    "nodes": [
      {"data": {"id": "A", "weight": 3}},
      {"data": {"id": "B"}},
      {"data": {"id": "C", "label": "c"}}
    ],
    "edges": [
      {"data": {"id": "e1", "source": "A", "target": "B", "w": 1.5}},
      {"data": {"source": "B", "target": "C"}}
    ]
  }
}`

// --- Model ---

func TestFromCytoscape_Grouped(t *testing.T) {
	g, err := FromCytoscape([]byte(sampleCytoscape))
	if err != nil {
		t.Fatalf("FromCytoscape: %v", err)
	}
	if g.Name != "sample" {
		t.Errorf("Name = %q, want sample", g.Name)
	}
	if len(g.Nodes()) != 3 || len(g.Edges()) != 2 {
		t.Fatalf("got %d nodes, %d edges", len(g.Nodes()), len(g.Edges()))
	}
	a, _ := g.Node("A")
	if w, ok, _ := a.Properties.Get(script.Str("weight")); !ok || w != script.Int(3) {
		t.Errorf("A.weight = %v", w)
	}
	if _, ok, _ := a.Properties.Get(script.Str("id")); ok {
		t.Error("id must not be copied into properties")
	}
	e, ok := g.Edge("B", "A")
	if !ok || e.ID != "e1" {
		t.Fatalf("undirected lookup B-A = %v, %v", e, ok)
	}
	if e2, _ := g.Edge("B", "C"); e2.ID != "(B, C)" {
		t.Errorf("default edge id = %q", e2.ID)
	}
}

func TestFromCytoscape_FlatList(t *testing.T) {
	raw := `{"directed": true, "elements": [
		{"group": "nodes", "data": {"id": 1}},
		{"group": "nodes", "data": {"id": 2}},
		{"group": "edges", "data": {"source": 1, "target": 2}}
	]}`
	g, err := FromCytoscape([]byte(raw))
	if err != nil {
		t.Fatalf("FromCytoscape: %v", err)
	}
	if !g.Directed() {
		t.Error("expected directed graph")
	}
	if _, ok := g.Edge("2", "1"); ok {
		t.Error("directed edge must not match the reverse orientation")
	}
	if _, ok := g.Edge("1", "2"); !ok {
		t.Error("edge 1->2 missing")
	}
}

func TestFromCytoscape_Invalid(t *testing.T) {
	cases := map[string]string{
		"not json":      `{`,
		"missing id":    `{"elements": {"nodes": [{"data": {}}]}}`,
		"bad group":     `{"elements": [{"group": "faces", "data": {"id": "a"}}]}`,
		"edge endpoint": `{"elements": {"edges": [{"data": {"source": "a"}}]}}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := FromCytoscape([]byte(raw))
			if !errors.Is(err, ErrInvalidGraph) {
				t.Fatalf("expected ErrInvalidGraph, got %v", err)
			}
		})
	}
}

func TestGraph_MultiEdgesAndRemoval(t *testing.T) {
	g := New(false, true)
	e0 := g.AddEdge("a", "b")
	e1 := g.AddEdge("b", "a")
	if e0 == e1 || e0.Key != 0 || e1.Key != 1 {
		t.Fatalf("parallel edges keys = %d, %d", e0.Key, e1.Key)
	}
	a, _ := g.Node("a")
	if d := g.Degree(a); d != 2 {
		t.Errorf("Degree(a) = %d, want 2", d)
	}
	if !g.RemoveEdge("a", "b", 0) {
		t.Fatal("RemoveEdge key 0 failed")
	}
	if len(g.Edges()) != 1 || g.Edges()[0] != e1 {
		t.Errorf("remaining edges = %v", g.Edges())
	}
	g.RemoveNode("b")
	if len(g.Edges()) != 0 || len(g.Nodes()) != 1 {
		t.Errorf("after RemoveNode: %d nodes, %d edges", len(g.Nodes()), len(g.Edges()))
	}
}

func TestGraph_SimpleGraphReusesEdge(t *testing.T) {
	g := New(false, false)
	e := g.AddEdge("x", "y")
	if again := g.AddEdge("y", "x"); again != e {
		t.Error("simple graph must not create parallel edges")
	}
}

func TestGraph_NeighborsDirected(t *testing.T) {
	g := New(true, false)
	g.AddEdge("a", "b")
	g.AddEdge("c", "a")
	a, _ := g.Node("a")
	if n := g.Neighbors(a); len(n) != 1 || n[0].ID != "b" {
		t.Errorf("Neighbors(a) = %v", n)
	}
	if p := g.Predecessors(a); len(p) != 1 || p[0].ID != "c" {
		t.Errorf("Predecessors(a) = %v", p)
	}
}

func TestTag(t *testing.T) {
	simple := New(false, false)
	e := simple.AddEdge("a", "b")
	multi := New(false, true)
	me := multi.AddEdge("a", "b")
	n, _ := simple.Node("a")

	tests := []struct {
		v    script.Value
		want string
	}{
		{n, TagNode},
		{e, TagEdge},
		{e.Data(), TagDataEdge},
		{me, TagMultiEdge},
		{me.Data(), TagDataMultiEdge},
	}
	for _, tc := range tests {
		if got, ok := Tag(tc.v); !ok || got != tc.want {
			t.Errorf("Tag(%T) = %q, want %q", tc.v, got, tc.want)
		}
	}
	if _, ok := Tag(script.Int(1)); ok {
		t.Error("Tag(int) must not match")
	}
}

func TestIdentify_CopiesProperties(t *testing.T) {
	g := New(false, false)
	n := g.AddNode("a")
	n.Properties.SetStr("k", script.Int(1))
	id, props, ok := Identify(n)
	if !ok || id != "a" || len(props) != 1 {
		t.Fatalf("Identify = %q, %v, %v", id, props, ok)
	}
	n.Properties.SetStr("k2", script.Int(2))
	if len(props) != 1 {
		t.Error("returned properties must not follow later changes")
	}
}

// --- Program surface ---

func runWithGraph(t *testing.T, g *Graph, src string) string {
	t.Helper()
	var out bytes.Buffer
	in := script.New(script.Options{
		Stdout: &out,
		Importer: func(in *script.Interp, name string) (*script.Module, error) {
			if name == "networkx" {
				return Module(in), nil
			}
			return script.ImportStdlib(in, name)
		},
	})
	defer in.Close()
	prog, err := script.Compile(context.Background(), "<test>", []byte(src))
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	globals := script.NewNamespace()
	if g != nil {
		globals.Set("graph", g)
	}
	if err := in.Exec(context.Background(), prog, globals); err != nil {
		t.Fatalf("Exec: %v\noutput: %s", err, out.String())
	}
	return out.String()
}

func TestProgram_WalksInjectedGraph(t *testing.T) {
	g, err := FromCytoscape([]byte(sampleCytoscape))
	if err != nil {
		t.Fatal(err)
	}
	src := `print(len(graph), graph.number_of_edges())
for node in graph.nodes:
    print(node, [str(n) for n in graph.neighbors(node)])
a = graph.get_node('A')
print(a.id, a['weight'], 'weight' in a)
for u, v in graph.edges:
    print(u.id, v.id)
for u, v, d in graph.edges(data=True):
    print(u, v, d)
print(graph.has_edge('A', 'C'), graph.degree('B'))
print(repr(graph.get_edge('A', 'B')))
`
	want := "3 2\nA ['B']\nB ['A', 'C']\nC ['B']\nA 3 True\nA B\nB C\n" +
		"A B {'w': 1.5}\nB C {}\nFalse 2\nEdge(A, B)\n"
	if got := runWithGraph(t, g, src); got != want {
		t.Errorf("output mismatch\ngot:\n%s\nwant:\n%s", got, want)
	}
}

func TestProgram_NetworkxModule(t *testing.T) {
	src := `import networkx as nx
g = nx.DiGraph()
g.add_edge(1, 2, weight=4)
g.add_edges_from([(2, 3), (3, 1)])
print(g.is_directed(), g.number_of_nodes(), isinstance(g, nx.Graph), isinstance(g, nx.DiGraph))
print([str(n) for n in g.successors(1)], [str(n) for n in g.predecessors(1)])
print(g.edges[1, 2])
g.remove_node(3)
print(len(g.edges))
try:
    g.get_node(9)
except nx.NetworkXError as e:
    print('missing')
`
	want := "True 3 True True\n['2'] ['3']\n{'weight': 4}\n1\nmissing\n"
	if got := runWithGraph(t, nil, src); got != want {
		t.Errorf("output mismatch\ngot:\n%s\nwant:\n%s", got, want)
	}
}
