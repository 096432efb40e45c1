package script

import (
	"fmt"
	"strings"
)

func (in *Interp) call(fn Value, args []Value, kw []Kwarg) (Value, error) {
	switch x := fn.(type) {
	case *Function:
		return in.callFunction(x, args, kw)
	case *Builtin:
		return x.Fn(in, args, kw)
	case *BoundMethod:
		full := make([]Value, 0, len(args)+1)
		full = append(full, x.Self)
		full = append(full, args...)
		return in.call(x.Fn, full, kw)
	case *Class:
		return in.instantiate(x, args, kw)
	case *StaticMethod:
		return in.call(x.Fn, args, kw)
	case *Instance:
		if m, ok := x.Class.Lookup("__call__"); ok {
			return in.callMethod(x, m, args, kw)
		}
	case Caller:
		return x.Call(in, args, kw)
	}
	return nil, newError(TypeError, "'%s' object is not callable", fn.TypeName())
}

// callMethod binds a class attribute to self and calls it.
func (in *Interp) callMethod(self Value, m Value, args []Value, kw []Kwarg) (Value, error) {
	var cls *Class
	if inst, ok := self.(*Instance); ok {
		cls = inst.Class
	}
	bound, err := in.bind(self, cls, m)
	if err != nil {
		return nil, err
	}
	return in.call(bound, args, kw)
}

func (in *Interp) callFunction(fn *Function, args []Value, kw []Kwarg) (Value, error) {
	f := &Frame{
		Code:    fn.Code,
		locals:  NewNamespace(),
		globals: fn.Globals,
		env:     fn.Closure,
		class:   fn.owner,
	}
	if err := bindArgs(fn, f.locals, args, kw); err != nil {
		return nil, err
	}
	if fn.Code.IsGenerator {
		return newGenerator(in, f), nil
	}
	return in.runFrame(f)
}

func bindArgs(fn *Function, ns *Namespace, args []Value, kw []Kwarg) error {
	code := fn.Code
	name := code.Name
	bound := make(map[string]Value, len(code.Params))
	var positional []string
	varArgs, varKw := "", ""
	for _, p := range code.Params {
		switch p.Kind {
		case ParamPositional:
			positional = append(positional, p.Name)
		case ParamVarArgs:
			varArgs = p.Name
		case ParamVarKw:
			varKw = p.Name
		}
	}

	for i, a := range args {
		if i < len(positional) {
			bound[positional[i]] = a
		}
	}
	var extra []Value
	if len(args) > len(positional) {
		if varArgs == "" {
			return newError(TypeError, "%s() takes %d positional argument%s but %d %s given",
				name, len(positional), plural(len(positional)), len(args), wasWere(len(args)))
		}
		extra = args[len(positional):]
	}

	var kwDict *Dict
	if varKw != "" {
		kwDict = NewDict()
	}
	for _, k := range kw {
		param := findParam(code.Params, k.Name)
		if param == nil || param.Kind == ParamVarArgs || param.Kind == ParamVarKw {
			if kwDict == nil {
				return newError(TypeError, "%s() got an unexpected keyword argument '%s'", name, k.Name)
			}
			kwDict.SetStr(k.Name, k.Value)
			continue
		}
		if _, dup := bound[k.Name]; dup {
			return newError(TypeError, "%s() got multiple values for argument '%s'", name, k.Name)
		}
		bound[k.Name] = k.Value
	}

	var missing []string
	var missingKw []string
	for _, p := range code.Params {
		if p.Kind != ParamPositional && p.Kind != ParamKwOnly {
			continue
		}
		if _, ok := bound[p.Name]; ok {
			continue
		}
		if d, ok := fn.Defaults[p.Name]; ok {
			bound[p.Name] = d
			continue
		}
		if p.Kind == ParamKwOnly {
			missingKw = append(missingKw, "'"+p.Name+"'")
		} else {
			missing = append(missing, "'"+p.Name+"'")
		}
	}
	if len(missing) > 0 {
		return newError(TypeError, "%s() missing %d required positional argument%s: %s",
			name, len(missing), plural(len(missing)), joinNames(missing))
	}
	if len(missingKw) > 0 {
		return newError(TypeError, "%s() missing %d required keyword-only argument%s: %s",
			name, len(missingKw), plural(len(missingKw)), joinNames(missingKw))
	}

	for _, p := range code.Params {
		switch p.Kind {
		case ParamVarArgs:
			ns.Set(p.Name, NewTuple(extra...))
		case ParamVarKw:
			ns.Set(p.Name, kwDict)
		default:
			ns.Set(p.Name, bound[p.Name])
		}
	}
	return nil
}

func findParam(params []Param, name string) *Param {
	for i := range params {
		if params[i].Name == name {
			return &params[i]
		}
	}
	return nil
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}

func wasWere(n int) string {
	if n == 1 {
		return "was"
	}
	return "were"
}

func joinNames(names []string) string {
	switch len(names) {
	case 1:
		return names[0]
	case 2:
		return names[0] + " and " + names[1]
	}
	return strings.Join(names[:len(names)-1], ", ") + ", and " + names[len(names)-1]
}

func (in *Interp) instantiate(cls *Class, args []Value, kw []Kwarg) (Value, error) {
	var newFn func(*Interp, *Class, []Value, []Kwarg) (Value, error)
	for _, k := range cls.mro {
		if k.newFn != nil {
			newFn = k.newFn
			break
		}
	}
	if newFn == nil {
		return nil, newError(TypeError, "cannot create '%s' instances", cls.Name)
	}
	obj, err := newFn(in, cls, args, kw)
	if err != nil {
		return nil, err
	}
	inst, ok := obj.(*Instance)
	if !ok {
		return obj, nil
	}
	init, ok := cls.Lookup("__init__")
	if !ok {
		if len(args) > 0 || len(kw) > 0 {
			return nil, newError(TypeError, "%s() takes no arguments", cls.Name)
		}
		return inst, nil
	}
	r, err := in.callMethod(inst, init, args, kw)
	if err != nil {
		return nil, err
	}
	if r != None {
		return nil, newError(TypeError, "__init__() should return None, not '%s'", r.TypeName())
	}
	return inst, nil
}

// bind turns a class attribute into the value seen through self.
func (in *Interp) bind(self Value, cls *Class, v Value) (Value, error) {
	switch x := v.(type) {
	case *Function, *Builtin, Method:
		return &BoundMethod{Self: self, Fn: x}, nil
	case *StaticMethod:
		return x.Fn, nil
	case *ClassMethod:
		if cls == nil {
			cls = in.typeOf(self)
		}
		return &BoundMethod{Self: cls, Fn: x.Fn}, nil
	case *Property:
		if x.Get == nil || x.Get == None {
			return nil, newError(AttributeError, "property has no getter")
		}
		return in.call(x.Get, []Value{self}, nil)
	}
	return v, nil
}

// superObj proxies attribute lookups to the classes after cls in the
// method resolution order of self.
type superObj struct {
	cls  *Class
	self Value
}

func (*superObj) TypeName() string { return "super" }

func (s *superObj) GetAttr(in *Interp, name string) (Value, error) {
	var mro []*Class
	switch x := s.self.(type) {
	case *Instance:
		mro = x.Class.mro
	case *Class:
		mro = x.mro
	}
	found := false
	for _, k := range mro {
		if !found {
			found = k == s.cls
			continue
		}
		if v, ok := k.Dict.Get(name); ok {
			if cls, ok := s.self.(*Class); ok {
				if cm, ok := v.(*ClassMethod); ok {
					return &BoundMethod{Self: cls, Fn: cm.Fn}, nil
				}
				return v, nil
			}
			var owner *Class
			if inst, ok := s.self.(*Instance); ok {
				owner = inst.Class
			}
			return in.bind(s.self, owner, v)
		}
	}
	if name == "__init__" {
		return NewBuiltin("__init__", func(*Interp, []Value, []Kwarg) (Value, error) { return None, nil }), nil
	}
	return nil, newError(AttributeError, "'super' object has no attribute '%s'", name)
}

func (s *superObj) Repr(in *Interp) (string, error) {
	return fmt.Sprintf("<super: <class '%s'>, <%s object>>", s.cls.Name, s.self.TypeName()), nil
}
