package script

import "errors"

var errInconsistentMRO = errors.New("Cannot create a consistent method resolution order (MRO)")

// Kwarg is a keyword argument passed to a call.
type Kwarg struct {
	Name  string
	Value Value
}

// BuiltinFunc implements a callable in Go.
type BuiltinFunc func(in *Interp, args []Value, kw []Kwarg) (Value, error)

// Builtin is a callable implemented in Go.
type Builtin struct {
	Name string
	Fn   BuiltinFunc
}

// NewBuiltin wraps fn as a callable value.
func NewBuiltin(name string, fn BuiltinFunc) *Builtin { return &Builtin{Name: name, Fn: fn} }

func (*Builtin) TypeName() string { return "builtin_function_or_method" }

// Function is a user defined function or lambda closed over its
// defining environment.
type Function struct {
	Code     *Code
	Defaults map[string]Value
	Globals  *Namespace
	Closure  *Env
	Attrs    *Namespace
	owner    *Class
}

func (*Function) TypeName() string { return "function" }

// Name returns the declared function name.
func (f *Function) Name() string { return f.Code.Name }

// Env is one enclosing function scope captured by a closure.
type Env struct {
	ns     *Namespace
	parent *Env
}

// BoundMethod binds a callable to a receiver.
type BoundMethod struct {
	Self Value
	Fn   Value
}

func (*BoundMethod) TypeName() string { return "method" }

// Property is a computed attribute.
type Property struct {
	Get, Set Value
}

func (*Property) TypeName() string { return "property" }

// StaticMethod disables receiver binding.
type StaticMethod struct{ Fn Value }

func (*StaticMethod) TypeName() string { return "staticmethod" }

// ClassMethod binds the class instead of the instance.
type ClassMethod struct{ Fn Value }

func (*ClassMethod) TypeName() string { return "classmethod" }

// Module is a namespace imported by name.
type Module struct {
	Name  string
	Attrs *Namespace
}

// NewModule returns an empty module.
func NewModule(name string) *Module { return &Module{Name: name, Attrs: NewNamespace()} }

func (*Module) TypeName() string { return "module" }

// Class is a user defined or builtin type.
type Class struct {
	Name    string
	Bases   []*Class
	Dict    *Namespace
	mro     []*Class
	builtin bool
	newFn   func(in *Interp, cls *Class, args []Value, kw []Kwarg) (Value, error)
	check   func(v Value) bool
}

func (*Class) TypeName() string { return "type" }

// NewClass builds a class and computes its method resolution order.
func NewClass(name string, bases []*Class, dict *Namespace) (*Class, error) {
	if dict == nil {
		dict = NewNamespace()
	}
	c := &Class{Name: name, Bases: bases, Dict: dict}
	if len(bases) == 0 && ObjectClass != nil {
		c.Bases = []*Class{ObjectClass}
	}
	mro, err := c3(c)
	if err != nil {
		return nil, err
	}
	c.mro = mro
	return c, nil
}

// MRO returns the method resolution order, starting at c.
func (c *Class) MRO() []*Class { return c.mro }

// Lookup finds an attribute along the method resolution order.
func (c *Class) Lookup(name string) (Value, bool) {
	for _, k := range c.mro {
		if v, ok := k.Dict.Get(name); ok {
			return v, true
		}
	}
	return nil, false
}

// IsSubclass reports whether c derives from other.
func (c *Class) IsSubclass(other *Class) bool {
	for _, k := range c.mro {
		if k == other {
			return true
		}
	}
	return false
}

func c3(c *Class) ([]*Class, error) {
	seqs := make([][]*Class, 0, len(c.Bases)+1)
	for _, b := range c.Bases {
		seqs = append(seqs, append([]*Class(nil), b.mro...))
	}
	seqs = append(seqs, append([]*Class(nil), c.Bases...))
	out := []*Class{c}
	for {
		nonEmpty := seqs[:0]
		for _, s := range seqs {
			if len(s) > 0 {
				nonEmpty = append(nonEmpty, s)
			}
		}
		seqs = nonEmpty
		if len(seqs) == 0 {
			return out, nil
		}
		var head *Class
		for _, s := range seqs {
			cand := s[0]
			inTail := false
			for _, t := range seqs {
				for _, x := range t[1:] {
					if x == cand {
						inTail = true
					}
				}
			}
			if !inTail {
				head = cand
				break
			}
		}
		if head == nil {
			return nil, errInconsistentMRO
		}
		out = append(out, head)
		for i, s := range seqs {
			if s[0] == head {
				seqs[i] = s[1:]
			}
		}
	}
}

// Instance is an object of a user defined class.
type Instance struct {
	Class *Class
	Attrs *Namespace
}

// NewInstance allocates an instance with no attributes.
func NewInstance(c *Class) *Instance { return &Instance{Class: c, Attrs: NewNamespace()} }

func (i *Instance) TypeName() string { return i.Class.Name }

// Attributer exposes named attributes of a Go backed value.
type Attributer interface {
	GetAttr(in *Interp, name string) (Value, error)
}

// AttrSetter accepts attribute assignment on a Go backed value.
type AttrSetter interface {
	SetAttr(in *Interp, name string, v Value) error
}

// Caller is a Go backed value that can be called.
type Caller interface {
	Call(in *Interp, args []Value, kw []Kwarg) (Value, error)
}

// Method is a Go backed callable that binds to the instance it is looked
// up through, like a function stored in a class body.
type Method interface {
	Caller
	Method()
}

// ContextManager is a Go backed value usable in a with statement. Enter
// receives the frame that executes the with statement.
type ContextManager interface {
	Enter(in *Interp, f *Frame) (Value, error)
	Exit(in *Interp, f *Frame, exc *Exception) (bool, error)
}

// Iterable is a Go backed value that can be iterated.
type Iterable interface {
	Iter(in *Interp) (Iterator, error)
}

// Reprer renders a Go backed value.
type Reprer interface {
	Repr(in *Interp) (string, error)
}

// Indexer supports subscription on a Go backed value.
type Indexer interface {
	GetItem(in *Interp, key Value) (Value, error)
}

// ItemSetter supports item assignment on a Go backed value.
type ItemSetter interface {
	SetItem(in *Interp, key, v Value) error
}

// Container supports the in operator on a Go backed value.
type Container interface {
	Contains(in *Interp, v Value) (bool, error)
}
