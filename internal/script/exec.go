package script

import (
	"errors"
	"strings"
)

type ctrlKind int

const (
	ctrlNone ctrlKind = iota
	ctrlBreak
	ctrlContinue
	ctrlReturn
)

type ctrl struct {
	kind  ctrlKind
	value Value
}

func (in *Interp) execBlock(f *Frame, body []Stmt) (ctrl, error) {
	for _, s := range body {
		c, err := in.exec(f, s)
		if err != nil || c.kind != ctrlNone {
			return c, err
		}
	}
	return ctrl{}, nil
}

func (in *Interp) exec(f *Frame, s Stmt) (ctrl, error) {
	if err := in.line(f, s.line()); err != nil {
		return ctrl{}, err
	}
	c, err := in.execStmt(f, s)
	if err != nil {
		err = in.noteException(f, err)
	}
	return c, err
}

func (in *Interp) execStmt(f *Frame, s Stmt) (ctrl, error) {
	switch x := s.(type) {
	case *exprStmt:
		_, err := in.eval(f, x.X)
		return ctrl{}, err
	case *assignStmt:
		v, err := in.eval(f, x.Value)
		if err != nil {
			return ctrl{}, err
		}
		for _, t := range x.Targets {
			if err := in.assign(f, t, v); err != nil {
				return ctrl{}, err
			}
		}
		return ctrl{}, nil
	case *annAssignStmt:
		if x.Value == nil {
			return ctrl{}, nil
		}
		v, err := in.eval(f, x.Value)
		if err != nil {
			return ctrl{}, err
		}
		return ctrl{}, in.assign(f, x.Target, v)
	case *augAssignStmt:
		return ctrl{}, in.augAssign(f, x)
	case *ifStmt:
		v, err := in.eval(f, x.Cond)
		if err != nil {
			return ctrl{}, err
		}
		ok, err := in.Truthy(v)
		if err != nil {
			return ctrl{}, err
		}
		if ok {
			return in.execBlock(f, x.Body)
		}
		return in.execBlock(f, x.Else)
	case *whileStmt:
		return in.execWhile(f, x)
	case *forStmt:
		return in.execFor(f, x)
	case *funcDef:
		return ctrl{}, in.execFuncDef(f, x)
	case *classDef:
		return ctrl{}, in.execClassDef(f, x)
	case *returnStmt:
		if x.Value == nil {
			return ctrl{kind: ctrlReturn, value: None}, nil
		}
		v, err := in.eval(f, x.Value)
		if err != nil {
			return ctrl{}, err
		}
		return ctrl{kind: ctrlReturn, value: v}, nil
	case *passStmt, *globalStmt, *nonlocalStmt:
		return ctrl{}, nil
	case *breakStmt:
		return ctrl{kind: ctrlBreak}, nil
	case *continueStmt:
		return ctrl{kind: ctrlContinue}, nil
	case *withStmt:
		return in.execWith(f, x, 0)
	case *tryStmt:
		return in.execTry(f, x)
	case *raiseStmt:
		return ctrl{}, in.execRaise(f, x)
	case *assertStmt:
		v, err := in.eval(f, x.Test)
		if err != nil {
			return ctrl{}, err
		}
		ok, err := in.Truthy(v)
		if err != nil || ok {
			return ctrl{}, err
		}
		if x.Msg == nil {
			return ctrl{}, NewException(AssertionError, "")
		}
		m, err := in.eval(f, x.Msg)
		if err != nil {
			return ctrl{}, err
		}
		inst := NewInstance(AssertionError)
		inst.Attrs.Set("args", NewTuple(m))
		return ctrl{}, exceptionFromInstance(inst)
	case *deleteStmt:
		for _, t := range x.Targets {
			if err := in.deleteTarget(f, t); err != nil {
				return ctrl{}, err
			}
		}
		return ctrl{}, nil
	case *importStmt:
		for _, n := range x.Names {
			mod, err := in.importModule(n.Name)
			if err != nil {
				return ctrl{}, err
			}
			if n.Alias == "" && strings.Contains(n.Name, ".") {
				top, err := in.importModule(importBinding(n))
				if err != nil {
					return ctrl{}, err
				}
				mod = top
			}
			if err := in.storeName(f, importBinding(n), mod); err != nil {
				return ctrl{}, err
			}
		}
		return ctrl{}, nil
	case *importFromStmt:
		return ctrl{}, in.execImportFrom(f, x)
	}
	return ctrl{}, newError(RuntimeError, "unsupported statement %T", s)
}

func (in *Interp) execWhile(f *Frame, x *whileStmt) (ctrl, error) {
	first := true
	for {
		if !first {
			if err := in.line(f, x.Line); err != nil {
				return ctrl{}, err
			}
		}
		first = false
		v, err := in.eval(f, x.Cond)
		if err != nil {
			return ctrl{}, err
		}
		ok, err := in.Truthy(v)
		if err != nil {
			return ctrl{}, err
		}
		if !ok {
			return in.execBlock(f, x.Else)
		}
		c, err := in.execBlock(f, x.Body)
		if err != nil {
			return c, err
		}
		switch c.kind {
		case ctrlBreak:
			return ctrl{}, nil
		case ctrlReturn:
			return c, nil
		}
	}
}

func (in *Interp) execFor(f *Frame, x *forStmt) (ctrl, error) {
	src, err := in.eval(f, x.Iter)
	if err != nil {
		return ctrl{}, err
	}
	it, err := in.iter(src)
	if err != nil {
		return ctrl{}, err
	}
	first := true
	for {
		if !first {
			if err := in.line(f, x.Line); err != nil {
				return ctrl{}, err
			}
		}
		first = false
		v, ok, err := it.Next(in)
		if err != nil {
			return ctrl{}, err
		}
		if !ok {
			return in.execBlock(f, x.Else)
		}
		if err := in.assign(f, x.Target, v); err != nil {
			return ctrl{}, err
		}
		c, err := in.execBlock(f, x.Body)
		if err != nil {
			return c, err
		}
		switch c.kind {
		case ctrlBreak:
			return ctrl{}, nil
		case ctrlReturn:
			return c, nil
		}
	}
}

func (in *Interp) execFuncDef(f *Frame, x *funcDef) error {
	decorators, err := in.evalAll(f, x.Decorators)
	if err != nil {
		return err
	}
	fn, err := in.makeFunction(f, x.Code)
	if err != nil {
		return err
	}
	var v Value = fn
	for i := len(decorators) - 1; i >= 0; i-- {
		if v, err = in.call(decorators[i], []Value{v}, nil); err != nil {
			return err
		}
	}
	return in.storeName(f, x.Code.Name, v)
}

func (in *Interp) makeFunction(f *Frame, code *Code) (*Function, error) {
	fn := &Function{
		Code:    code,
		Globals: f.globals,
		Closure: in.closureFor(f),
		Attrs:   NewNamespace(),
	}
	for _, p := range code.Params {
		if p.Default == nil {
			continue
		}
		v, err := in.eval(f, p.Default)
		if err != nil {
			return nil, err
		}
		if fn.Defaults == nil {
			fn.Defaults = make(map[string]Value)
		}
		fn.Defaults[p.Name] = v
	}
	return fn, nil
}

func (in *Interp) closureFor(f *Frame) *Env {
	r := f.root()
	var env *Env
	switch {
	case r.Code.IsModule:
	case r.Code.IsClass:
		env = r.env
	default:
		env = &Env{ns: r.locals, parent: r.env}
	}
	for _, ns := range f.comp {
		env = &Env{ns: ns, parent: env}
	}
	return env
}

func (in *Interp) execClassDef(f *Frame, x *classDef) error {
	decorators, err := in.evalAll(f, x.Decorators)
	if err != nil {
		return err
	}
	var bases []*Class
	for _, a := range x.Bases {
		if a.Name != "" || a.DStar {
			continue
		}
		v, err := in.eval(f, a.Value)
		if err != nil {
			return err
		}
		c, ok := v.(*Class)
		if !ok {
			return newError(TypeError, "bases must be types")
		}
		bases = append(bases, c)
	}
	ns := NewNamespace()
	ns.Set("__module__", Str("__main__"))
	ns.Set("__qualname__", Str(x.Code.Name))
	body := &Frame{Code: x.Code, locals: ns, globals: f.globals, env: in.closureFor(f)}
	if _, err := in.runFrame(body); err != nil {
		return err
	}
	cls, err := NewClass(x.Code.Name, bases, ns)
	if err != nil {
		if errors.Is(err, errInconsistentMRO) {
			return NewException(TypeError, err.Error())
		}
		return err
	}
	for _, b := range ns.Bindings() {
		bindOwner(b.Value, cls)
	}
	var v Value = cls
	for i := len(decorators) - 1; i >= 0; i-- {
		if v, err = in.call(decorators[i], []Value{v}, nil); err != nil {
			return err
		}
	}
	return in.storeName(f, x.Code.Name, v)
}

func bindOwner(v Value, cls *Class) {
	switch x := v.(type) {
	case *Function:
		if x.owner == nil {
			x.owner = cls
		}
	case *StaticMethod:
		bindOwner(x.Fn, cls)
	case *ClassMethod:
		bindOwner(x.Fn, cls)
	case *Property:
		bindOwner(x.Get, cls)
		bindOwner(x.Set, cls)
	}
}

func (in *Interp) execWith(f *Frame, x *withStmt, i int) (ctrl, error) {
	if i == len(x.Items) {
		c, err := in.execBlock(f, x.Body)
		if err == nil {
			err = in.line(f, x.Line)
		}
		return c, err
	}
	item := x.Items[i]
	mgr, err := in.eval(f, item.Ctx)
	if err != nil {
		return ctrl{}, err
	}
	enter, exit, err := in.contextMethods(mgr)
	if err != nil {
		return ctrl{}, err
	}
	v, err := enter(f)
	if err != nil {
		return ctrl{}, err
	}
	if item.Target != nil {
		if err := in.assign(f, item.Target, v); err != nil {
			return ctrl{}, err
		}
	}
	c, err := in.execWith(f, x, i+1)
	if err != nil {
		var exc *Exception
		if !errors.As(err, &exc) {
			_, _ = exit(f, nil)
			return c, err
		}
		err = in.noteException(f, err)
		suppress, xerr := exit(f, exc)
		if xerr != nil {
			return ctrl{}, xerr
		}
		if suppress {
			return ctrl{}, nil
		}
		return c, err
	}
	if _, err := exit(f, nil); err != nil {
		return ctrl{}, err
	}
	return c, nil
}

type (
	enterFunc func(f *Frame) (Value, error)
	exitFunc  func(f *Frame, exc *Exception) (bool, error)
)

func (in *Interp) contextMethods(mgr Value) (enterFunc, exitFunc, error) {
	if cm, ok := mgr.(ContextManager); ok {
		return func(f *Frame) (Value, error) { return cm.Enter(in, f) },
			func(f *Frame, exc *Exception) (bool, error) { return cm.Exit(in, f, exc) },
			nil
	}
	inst, ok := mgr.(*Instance)
	if ok {
		en, ok1 := inst.Class.Lookup("__enter__")
		ex, ok2 := inst.Class.Lookup("__exit__")
		if ok1 && ok2 {
			return func(*Frame) (Value, error) { return in.callMethod(inst, en, nil, nil) },
				func(_ *Frame, exc *Exception) (bool, error) {
					args := []Value{None, None, None}
					if exc != nil {
						args = []Value{exc.Value.Class, exc.Value, None}
					}
					r, err := in.callMethod(inst, ex, args, nil)
					if err != nil {
						return false, err
					}
					return in.Truthy(r)
				}, nil
		}
	}
	return nil, nil, newError(TypeError, "'%s' object does not support the context manager protocol", mgr.TypeName())
}

func (in *Interp) execTry(f *Frame, x *tryStmt) (ctrl, error) {
	c, err := in.execBlock(f, x.Body)
	if err != nil {
		if exc, ok := err.(*Exception); ok {
			c, err = in.handle(f, x, exc)
		}
	} else if c.kind == ctrlNone && len(x.Else) > 0 {
		c, err = in.execBlock(f, x.Else)
	}
	if len(x.Finally) == 0 {
		return c, err
	}
	fc, ferr := in.execBlock(f, x.Finally)
	if ferr != nil {
		return fc, ferr
	}
	if fc.kind != ctrlNone {
		return fc, nil
	}
	return c, err
}

func (in *Interp) handle(f *Frame, x *tryStmt, exc *Exception) (ctrl, error) {
	for _, h := range x.Handlers {
		if err := in.line(f, h.Line); err != nil {
			return ctrl{}, err
		}
		if h.Type != nil {
			t, err := in.eval(f, h.Type)
			if err != nil {
				return ctrl{}, err
			}
			match, err := exceptionMatches(exc, t)
			if err != nil {
				return ctrl{}, err
			}
			if !match {
				continue
			}
		}
		if h.Name != "" {
			if err := in.storeName(f, h.Name, exc.Value); err != nil {
				return ctrl{}, err
			}
		}
		in.handling = append(in.handling, exc)
		c, err := in.execBlock(f, h.Body)
		in.handling = in.handling[:len(in.handling)-1]
		if h.Name != "" {
			_ = in.deleteName(f, h.Name)
		}
		if err != nil {
			if inner, ok := err.(*Exception); ok && inner != exc && inner.Context == nil {
				inner.Context = exc
			}
		}
		return c, err
	}
	return ctrl{}, exc
}

func exceptionMatches(exc *Exception, t Value) (bool, error) {
	switch x := t.(type) {
	case *Class:
		return exc.Is(x), nil
	case *Tuple:
		for _, e := range x.Items {
			ok, err := exceptionMatches(exc, e)
			if err != nil || ok {
				return ok, err
			}
		}
		return false, nil
	}
	return false, newError(TypeError, "catching classes that do not inherit from BaseException is not allowed")
}

func (in *Interp) execRaise(f *Frame, x *raiseStmt) error {
	if x.Exc == nil {
		if len(in.handling) == 0 {
			return NewException(RuntimeError, "No active exception to reraise")
		}
		return in.handling[len(in.handling)-1]
	}
	v, err := in.eval(f, x.Exc)
	if err != nil {
		return err
	}
	exc, err := in.toException(v)
	if err != nil {
		return err
	}
	if x.Cause != nil {
		cv, err := in.eval(f, x.Cause)
		if err != nil {
			return err
		}
		if cv != None {
			cause, err := in.toException(cv)
			if err != nil {
				return err
			}
			exc.Cause = cause
		}
	}
	return exc
}

func (in *Interp) toException(v Value) (*Exception, error) {
	if c, ok := v.(*Class); ok {
		if !c.IsSubclass(BaseExceptionClass) {
			return nil, newError(TypeError, "exceptions must derive from BaseException")
		}
		obj, err := in.call(c, nil, nil)
		if err != nil {
			return nil, err
		}
		v = obj
	}
	inst, ok := v.(*Instance)
	if !ok || !inst.Class.IsSubclass(BaseExceptionClass) {
		return nil, newError(TypeError, "exceptions must derive from BaseException")
	}
	return exceptionFromInstance(inst), nil
}

func (in *Interp) execImportFrom(f *Frame, x *importFromStmt) error {
	mod, err := in.importModule(x.Module)
	if err != nil {
		return err
	}
	if x.Star {
		for _, b := range mod.Attrs.Bindings() {
			if strings.HasPrefix(b.Name, "_") {
				continue
			}
			if err := in.storeName(f, b.Name, b.Value); err != nil {
				return err
			}
		}
		return nil
	}
	for _, n := range x.Names {
		v, ok := mod.Attrs.Get(n.Name)
		if !ok {
			sub, err := in.importModule(x.Module + "." + n.Name)
			if err != nil {
				return newError(ImportError, "cannot import name '%s' from '%s'", n.Name, x.Module)
			}
			v = sub
		}
		name := n.Name
		if n.Alias != "" {
			name = n.Alias
		}
		if err := in.storeName(f, name, v); err != nil {
			return err
		}
	}
	return nil
}

func (in *Interp) importModule(name string) (*Module, error) {
	if m, ok := in.modules[name]; ok {
		return m, nil
	}
	m, err := in.importer(in, name)
	if err != nil {
		return nil, err
	}
	in.modules[name] = m
	return m, nil
}

// Import resolves a module through the interpreter's importer.
func (in *Interp) Import(name string) (*Module, error) { return in.importModule(name) }

func (in *Interp) evalAll(f *Frame, xs []Expr) ([]Value, error) {
	out := make([]Value, 0, len(xs))
	for _, x := range xs {
		v, err := in.eval(f, x)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
