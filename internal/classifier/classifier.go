// Package classifier maps program values to the typed, bounded snapshots
// stored in execution records.
package classifier

import (
	"math"
	"strconv"
	"strings"

	"github.com/graphery/executor/internal/graph"
	"github.com/graphery/executor/internal/script"
)

// Type tags, tried in this order: graph objects, singular values, linear
// containers, pair containers and finally the generic object.
const (
	TypeNumber    = "Number"
	TypeString    = "String"
	TypeNone      = "None"
	TypeList      = "List"
	TypeTuple     = "Tuple"
	TypeDeque     = "Deque"
	TypeSet       = "Set"
	TypeSequence  = "Sequence"
	TypeCounter   = "Counter"
	TypeMapping   = "Mapping"
	TypeObject    = "Object"
	TypeReference = "reference"
	TypeInit      = "init"
)

// BadRepr replaces the text of values whose representation fails.
const BadRepr = "BAD REPR FUNCTION"

// State is the classified snapshot of one value. Repr holds a string for
// singular values, graph objects and objects, []State for linear
// containers, []Pair for pair containers and nil for references to
// containers.
type State struct {
	Type       string      `json:"type"`
	ObjectID   uint64      `json:"object_id"`
	Color      string      `json:"color"`
	Repr       any         `json:"repr"`
	ID         string      `json:"id,omitempty"`
	Properties *Properties `json:"properties,omitempty"`
}

// Pair is one entry of a pair container.
type Pair struct {
	Key   State `json:"key"`
	Value State `json:"value"`
}

// Properties are the properties of a graph object, rendered as plain data.
type Properties map[string]any

// DefaultMaxDepth bounds container nesting when Options.MaxDepth is zero.
const DefaultMaxDepth = 1000

// haltCheckInterval is how many values are classified between two checks
// for a pending interrupt.
const haltCheckInterval = 256

// Options tune representations.
type Options struct {
	// FloatPrecision rounds floats to this many decimals. Negative
	// disables rounding.
	FloatPrecision int
	// MaxReprLength truncates text representations. Zero disables it.
	MaxReprLength int
	// MaxDepth is the deepest container level that is descended into.
	// Deeper containers are cut as references. Negative disables the bound.
	MaxDepth int
}

// Classifier classifies values of one interpreter.
type Classifier struct {
	in   *script.Interp
	opts Options
}

// New returns a classifier rendering values through in.
func New(in *script.Interp, opts Options) *Classifier {
	if opts.MaxDepth == 0 {
		opts.MaxDepth = DefaultMaxDepth
	}
	return &Classifier{in: in, opts: opts}
}

// Visited is the set of object identities (script.Identity) on the path
// from the root value being classified.
type Visited map[uint64]struct{}

// walk is one Classify call. path holds the identities of the containers
// between the root and the value being classified; entries are removed on
// the way back up, so siblings never see each other.
type walk struct {
	c      *Classifier
	inner  string
	path   Visited
	seen   int
	halted bool
}

// Classify snapshots v with color. Children of containers are colored
// with innerColor. visited may be nil and is not modified.
//
// Classification stops descending once the interpreter is interrupted;
// the values left are cut as references.
func (c *Classifier) Classify(v script.Value, color, innerColor string, visited Visited) State {
	w := &walk{c: c, inner: innerColor, path: make(Visited, len(visited)+8)}
	for id := range visited {
		w.path[id] = struct{}{}
	}
	return w.classify(v, color, 0)
}

func (w *walk) stop() bool {
	if w.halted {
		return true
	}
	w.seen++
	if w.seen%haltCheckInterval == 0 && w.c.in.Halted() != nil {
		w.halted = true
	}
	return w.halted
}

func (w *walk) classify(v script.Value, color string, depth int) State {
	c := w.c
	halted := w.stop()
	id := script.Identity(v)
	st := State{ObjectID: c.in.ObjectID(v), Color: color}
	if id != 0 {
		if _, seen := w.path[id]; seen {
			st.Type = TypeReference
			if t := c.TypeOf(v); t == TypeObject || singular(t) {
				st.Repr = c.text(v)
			}
			return st
		}
		if halted || (c.opts.MaxDepth > 0 && depth > c.opts.MaxDepth) {
			st.Type = TypeReference
			return st
		}
		w.path[id] = struct{}{}
		defer delete(w.path, id)
	}

	st.Type = c.TypeOf(v)
	switch {
	case st.Type == TypeNumber:
		st.Repr = c.number(v)
	case isGraph(st.Type):
		st.Repr = c.text(v)
		gid, props, _ := graph.Identify(v)
		st.ID = gid
		p := make(Properties, len(props))
		for _, kv := range props {
			k, ok := kv.Key.(script.Str)
			if !ok {
				k = script.Str(c.text(kv.Key))
			}
			p[string(k)] = script.ToGo(kv.Value)
		}
		st.Properties = &p
	case linear(st.Type):
		items := linearItems(v)
		children := make([]State, 0, len(items))
		for _, e := range items {
			if w.halted {
				break
			}
			children = append(children, w.classify(e, w.inner, depth+1))
		}
		st.Repr = children
	case st.Type == TypeCounter || st.Type == TypeMapping:
		d := v.(*script.Dict)
		kvs := d.Items()
		pairs := make([]Pair, 0, len(kvs))
		for _, kv := range kvs {
			if w.halted {
				break
			}
			pairs = append(pairs, Pair{
				Key:   w.classify(kv[0], w.inner, depth+1),
				Value: w.classify(kv[1], w.inner, depth+1),
			})
		}
		st.Repr = pairs
	default:
		st.Repr = c.text(v)
	}
	return st
}

// TypeOf returns the type tag of v without descending into it.
func (c *Classifier) TypeOf(v script.Value) string {
	if tag, ok := graph.Tag(v); ok {
		return tag
	}
	switch x := v.(type) {
	case script.Bool, script.Int, script.BigInt, script.Float:
		return TypeNumber
	case script.Str:
		return TypeString
	case nil, script.NoneType:
		return TypeNone
	case *script.List:
		return TypeList
	case *script.Tuple:
		return TypeTuple
	case *script.Deque:
		return TypeDeque
	case *script.Set:
		return TypeSet
	case *script.Range:
		return TypeSequence
	case *script.Dict:
		if x.Kind == script.DictCounter {
			return TypeCounter
		}
		return TypeMapping
	}
	if _, ok := script.SetView(v); ok {
		return TypeSet
	}
	return TypeObject
}

// Text renders v as bounded text.
func (c *Classifier) Text(v script.Value) string { return c.text(v) }

func (c *Classifier) text(v script.Value) (s string) {
	defer func() {
		if r := recover(); r != nil {
			s = BadRepr
		}
	}()
	r, err := c.in.Repr(v)
	if err != nil {
		return BadRepr
	}
	return Truncate(StripNewlines(r), c.opts.MaxReprLength)
}

func (c *Classifier) number(v script.Value) string {
	f, ok := v.(script.Float)
	if !ok || c.opts.FloatPrecision < 0 || math.IsInf(float64(f), 0) || math.IsNaN(float64(f)) {
		return c.text(v)
	}
	p := math.Pow(10, float64(c.opts.FloatPrecision))
	rounded := math.Round(float64(f)*p) / p
	if math.IsInf(rounded, 0) || math.IsNaN(rounded) {
		return c.text(v)
	}
	s := strconv.FormatFloat(rounded, 'f', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return Truncate(s, c.opts.MaxReprLength)
}

func linearItems(v script.Value) []script.Value {
	switch x := v.(type) {
	case *script.List:
		return x.Items
	case *script.Tuple:
		return x.Items
	case *script.Deque:
		return x.Items
	case *script.Set:
		return x.Items()
	case *script.Range:
		items := make([]script.Value, 0, min(x.Len(), maxRangeItems))
		for i := x.Start; len(items) < cap(items); i += x.Step {
			items = append(items, script.Int(i))
		}
		return items
	}
	items, _ := script.SetView(v)
	return items
}

// maxRangeItems bounds how much of a range is materialized into a record.
const maxRangeItems = 1000

func singular(t string) bool {
	return t == TypeNumber || t == TypeString || t == TypeNone
}

func linear(t string) bool {
	switch t {
	case TypeList, TypeTuple, TypeDeque, TypeSet, TypeSequence:
		return true
	}
	return false
}

func isGraph(t string) bool {
	switch t {
	case graph.TagNode, graph.TagEdge, graph.TagDataEdge, graph.TagMultiEdge, graph.TagDataMultiEdge:
		return true
	}
	return false
}
