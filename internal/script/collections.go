package script

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// List is a mutable sequence.
type List struct{ Items []Value }

// Tuple is an immutable sequence.
type Tuple struct{ Items []Value }

// Deque is a double ended queue. MaxLen is negative when unbounded.
type Deque struct {
	Items  []Value
	MaxLen int
}

// Range is an arithmetic progression of integers.
type Range struct{ Start, Stop, Step int64 }

// Slice is the value of a slice expression.
type Slice struct{ Start, Stop, Step Value }

func NewList(items []Value) *List   { return &List{Items: items} }
func NewTuple(items ...Value) *Tuple { return &Tuple{Items: items} }

func (*List) TypeName() string  { return "list" }
func (*Tuple) TypeName() string { return "tuple" }
func (*Deque) TypeName() string { return "deque" }
func (*Range) TypeName() string { return "range" }
func (*Slice) TypeName() string { return "slice" }

func (l *List) Len() int  { return len(l.Items) }
func (t *Tuple) Len() int { return len(t.Items) }
func (d *Deque) Len() int { return len(d.Items) }

func (r *Range) Len() int {
	if r.Step > 0 && r.Start < r.Stop {
		return int((r.Stop - r.Start + r.Step - 1) / r.Step)
	}
	if r.Step < 0 && r.Start > r.Stop {
		return int((r.Start - r.Stop - r.Step - 1) / -r.Step)
	}
	return 0
}

func (r *Range) at(i int) int64 { return r.Start + int64(i)*r.Step }

func (d *Deque) trim(left bool) {
	if d.MaxLen < 0 {
		return
	}
	for len(d.Items) > d.MaxLen {
		if left {
			d.Items = d.Items[:len(d.Items)-1]
		} else {
			d.Items = d.Items[1:]
		}
	}
}

// DictKind selects the flavour of a dict.
type DictKind int

const (
	DictPlain DictKind = iota
	DictCounter
	DictDefault
	DictOrdered
)

// Dict is an insertion ordered hash map.
type Dict struct {
	keys    []Value
	vals    []Value
	index   map[any]int
	Kind    DictKind
	Factory Value
}

// NewDict returns an empty plain dict.
func NewDict() *Dict { return &Dict{index: make(map[any]int)} }

func (d *Dict) TypeName() string {
	switch d.Kind {
	case DictCounter:
		return "Counter"
	case DictDefault:
		return "defaultdict"
	case DictOrdered:
		return "OrderedDict"
	}
	return "dict"
}

func (d *Dict) Len() int { return len(d.keys) }

// Get looks a key up.
func (d *Dict) Get(k Value) (Value, bool, error) {
	hk, err := hashKey(k)
	if err != nil {
		return nil, false, err
	}
	i, ok := d.index[hk]
	if !ok {
		return nil, false, nil
	}
	return d.vals[i], true, nil
}

// Set binds k to v, keeping the original insertion position of k.
func (d *Dict) Set(k, v Value) error {
	hk, err := hashKey(k)
	if err != nil {
		return err
	}
	if i, ok := d.index[hk]; ok {
		d.vals[i] = v
		return nil
	}
	d.index[hk] = len(d.keys)
	d.keys = append(d.keys, k)
	d.vals = append(d.vals, v)
	return nil
}

// SetStr binds a text key.
func (d *Dict) SetStr(k string, v Value) { _ = d.Set(Str(k), v) }

// Delete removes k and reports whether it was present.
func (d *Dict) Delete(k Value) (bool, error) {
	hk, err := hashKey(k)
	if err != nil {
		return false, err
	}
	i, ok := d.index[hk]
	if !ok {
		return false, nil
	}
	d.keys = append(d.keys[:i], d.keys[i+1:]...)
	d.vals = append(d.vals[:i], d.vals[i+1:]...)
	delete(d.index, hk)
	for j := i; j < len(d.keys); j++ {
		jk, _ := hashKey(d.keys[j])
		d.index[jk] = j
	}
	return true, nil
}

// Keys returns a copy of the keys in insertion order.
func (d *Dict) Keys() []Value {
	out := make([]Value, len(d.keys))
	copy(out, d.keys)
	return out
}

// Values returns a copy of the values in insertion order.
func (d *Dict) Values() []Value {
	out := make([]Value, len(d.vals))
	copy(out, d.vals)
	return out
}

// Items returns the key/value pairs in insertion order.
func (d *Dict) Items() [][2]Value {
	out := make([][2]Value, len(d.keys))
	for i := range d.keys {
		out[i] = [2]Value{d.keys[i], d.vals[i]}
	}
	return out
}

func (d *Dict) clear() {
	d.keys, d.vals = nil, nil
	d.index = make(map[any]int)
}

func (d *Dict) copyDict() *Dict {
	c := &Dict{index: make(map[any]int, len(d.keys)), Kind: d.Kind, Factory: d.Factory}
	c.keys = append([]Value(nil), d.keys...)
	c.vals = append([]Value(nil), d.vals...)
	for k, v := range d.index {
		c.index[k] = v
	}
	return c
}

// Set is a hash set that iterates in insertion order.
type Set struct {
	items  []Value
	index  map[any]int
	Frozen bool
}

// NewSet returns an empty set.
func NewSet() *Set { return &Set{index: make(map[any]int)} }

func (s *Set) TypeName() string {
	if s.Frozen {
		return "frozenset"
	}
	return "set"
}

func (s *Set) Len() int { return len(s.items) }

// Add inserts v.
func (s *Set) Add(v Value) error {
	hk, err := hashKey(v)
	if err != nil {
		return err
	}
	if _, ok := s.index[hk]; ok {
		return nil
	}
	s.index[hk] = len(s.items)
	s.items = append(s.items, v)
	return nil
}

// Contains reports membership.
func (s *Set) Contains(v Value) (bool, error) {
	hk, err := hashKey(v)
	if err != nil {
		return false, err
	}
	_, ok := s.index[hk]
	return ok, nil
}

// Remove deletes v and reports whether it was present.
func (s *Set) Remove(v Value) (bool, error) {
	hk, err := hashKey(v)
	if err != nil {
		return false, err
	}
	i, ok := s.index[hk]
	if !ok {
		return false, nil
	}
	s.items = append(s.items[:i], s.items[i+1:]...)
	delete(s.index, hk)
	for j := i; j < len(s.items); j++ {
		jk, _ := hashKey(s.items[j])
		s.index[jk] = j
	}
	return true, nil
}

// Items returns a copy of the members in insertion order.
func (s *Set) Items() []Value {
	out := make([]Value, len(s.items))
	copy(out, s.items)
	return out
}

func (s *Set) copySet() *Set {
	c := &Set{index: make(map[any]int, len(s.items)), Frozen: s.Frozen}
	c.items = append([]Value(nil), s.items...)
	for k, v := range s.index {
		c.index[k] = v
	}
	return c
}

type (
	noneKey  struct{}
	strKey   string
	bigKey   string
	tupleKey string
	setKey   string
)

// hashKey maps a hashable value onto a comparable Go key. Numbers that
// compare equal share a key, as they do in the language.
func hashKey(v Value) (any, error) {
	switch x := v.(type) {
	case NoneType:
		return noneKey{}, nil
	case Bool:
		if x {
			return int64(1), nil
		}
		return int64(0), nil
	case Int:
		return int64(x), nil
	case BigInt:
		return bigKey(x.v.String()), nil
	case Float:
		f := float64(x)
		if f == math.Trunc(f) && math.Abs(f) < 1<<62 {
			return int64(f), nil
		}
		return f, nil
	case Str:
		return strKey(x), nil
	case *Tuple:
		var b strings.Builder
		for _, e := range x.Items {
			k, err := hashKey(e)
			if err != nil {
				return nil, err
			}
			writeKey(&b, k)
			b.WriteByte('|')
		}
		return tupleKey(b.String()), nil
	case *Set:
		if !x.Frozen {
			return nil, unhashable(v)
		}
		parts := make([]string, 0, len(x.items))
		for _, e := range x.items {
			k, _ := hashKey(e)
			var kb strings.Builder
			writeKey(&kb, k)
			parts = append(parts, kb.String())
		}
		sort.Strings(parts)
		return setKey(strings.Join(parts, "|")), nil
	case *List, *Dict, *Deque:
		return nil, unhashable(v)
	}
	return v, nil
}

func writeKey(b *strings.Builder, k any) {
	if v, ok := k.(Value); ok {
		if id := Identity(v); id != 0 {
			fmt.Fprintf(b, "%T:%x", k, id)
			return
		}
	}
	fmt.Fprintf(b, "%T:%v", k, k)
}

func unhashable(v Value) error {
	return newError(TypeError, "unhashable type: '%s'", v.TypeName())
}
