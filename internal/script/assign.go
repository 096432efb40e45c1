package script

func (in *Interp) lookupName(f *Frame, name string) (Value, error) {
	for i := len(f.comp) - 1; i >= 0; i-- {
		if v, ok := f.comp[i].Get(name); ok {
			return v, nil
		}
	}
	r := f.root()
	code := r.Code
	switch {
	case code.IsModule:
	case code.IsClass:
		if v, ok := r.locals.Get(name); ok {
			return v, nil
		}
	case code.globals[name]:
		return in.lookupGlobal(r, name)
	case code.locals[name]:
		if v, ok := r.locals.Get(name); ok {
			return v, nil
		}
		return nil, newError(UnboundLocalError, "cannot access local variable '%s' where it is not associated with a value", name)
	}
	if !code.IsModule {
		for e := r.env; e != nil; e = e.parent {
			if v, ok := e.ns.Get(name); ok {
				return v, nil
			}
		}
	}
	return in.lookupGlobal(r, name)
}

func (in *Interp) lookupGlobal(r *Frame, name string) (Value, error) {
	if v, ok := r.globals.Get(name); ok {
		return v, nil
	}
	if v, ok := in.builtins.Get(name); ok {
		return v, nil
	}
	return nil, newError(NameError, "name '%s' is not defined", name)
}

func (in *Interp) storeName(f *Frame, name string, v Value) error {
	r := f.root()
	code := r.Code
	switch {
	case code.IsModule:
		r.globals.Set(name, v)
	case code.IsClass:
		r.locals.Set(name, v)
	case code.globals[name]:
		r.globals.Set(name, v)
	case code.nonlocals[name]:
		for e := r.env; e != nil; e = e.parent {
			if _, ok := e.ns.Get(name); ok {
				e.ns.Set(name, v)
				return nil
			}
		}
		if r.env != nil {
			r.env.ns.Set(name, v)
			return nil
		}
		return newError(SyntaxErrorClass, "no binding for nonlocal '%s' found", name)
	default:
		r.locals.Set(name, v)
	}
	return nil
}

func (in *Interp) deleteName(f *Frame, name string) error {
	r := f.root()
	code := r.Code
	ns := r.locals
	if code.IsModule || code.globals[name] {
		ns = r.globals
	} else if code.nonlocals[name] {
		for e := r.env; e != nil; e = e.parent {
			if _, ok := e.ns.Get(name); ok {
				ns = e.ns
				break
			}
		}
	}
	if !ns.Delete(name) {
		return newError(NameError, "name '%s' is not defined", name)
	}
	return nil
}

func (in *Interp) assign(f *Frame, target Expr, v Value) error {
	return in.assignWith(f, target, v, func(name string, v Value) error {
		return in.storeName(f, name, v)
	})
}

func (in *Interp) assignWith(f *Frame, target Expr, v Value, store func(string, Value) error) error {
	switch t := target.(type) {
	case *nameExpr:
		return store(t.ID, v)
	case *attrExpr:
		obj, err := in.eval(f, t.X)
		if err != nil {
			return err
		}
		return in.setAttr(obj, t.Name, v)
	case *subscriptExpr:
		obj, err := in.eval(f, t.X)
		if err != nil {
			return err
		}
		key, err := in.eval(f, t.Index)
		if err != nil {
			return err
		}
		return in.setItem(obj, key, v)
	case *tupleExpr:
		return in.unpack(f, t.Elts, v, store)
	case *listExpr:
		return in.unpack(f, t.Elts, v, store)
	case *starredExpr:
		return newError(SyntaxErrorClass, "starred assignment target must be in a list or tuple")
	}
	return newError(SyntaxErrorClass, "cannot assign to expression")
}

func (in *Interp) unpack(f *Frame, targets []Expr, v Value, store func(string, Value) error) error {
	items, err := in.iterate(v)
	if err != nil {
		if exc, ok := err.(*Exception); ok && exc.Is(TypeError) {
			return newError(TypeError, "cannot unpack non-iterable %s object", v.TypeName())
		}
		return err
	}
	star := -1
	for i, t := range targets {
		if _, ok := t.(*starredExpr); ok {
			if star >= 0 {
				return newError(SyntaxErrorClass, "multiple starred expressions in assignment")
			}
			star = i
		}
	}
	if star < 0 {
		if len(items) < len(targets) {
			return newError(ValueError, "not enough values to unpack (expected %d, got %d)", len(targets), len(items))
		}
		if len(items) > len(targets) {
			return newError(ValueError, "too many values to unpack (expected %d)", len(targets))
		}
		for i, t := range targets {
			if err := in.assignWith(f, t, items[i], store); err != nil {
				return err
			}
		}
		return nil
	}
	after := len(targets) - star - 1
	if len(items) < len(targets)-1 {
		return newError(ValueError, "not enough values to unpack (expected at least %d, got %d)", len(targets)-1, len(items))
	}
	for i := 0; i < star; i++ {
		if err := in.assignWith(f, targets[i], items[i], store); err != nil {
			return err
		}
	}
	mid := append([]Value(nil), items[star:len(items)-after]...)
	if err := in.assignWith(f, targets[star].(*starredExpr).X, NewList(mid), store); err != nil {
		return err
	}
	for i := 0; i < after; i++ {
		if err := in.assignWith(f, targets[star+1+i], items[len(items)-after+i], store); err != nil {
			return err
		}
	}
	return nil
}

func (in *Interp) augAssign(f *Frame, x *augAssignStmt) error {
	rhs, err := in.eval(f, x.Value)
	if err != nil {
		return err
	}
	switch t := x.Target.(type) {
	case *nameExpr:
		cur, err := in.lookupName(f, t.ID)
		if err != nil {
			return err
		}
		v, err := in.inplaceOp(x.Op, cur, rhs)
		if err != nil {
			return err
		}
		return in.storeName(f, t.ID, v)
	case *attrExpr:
		obj, err := in.eval(f, t.X)
		if err != nil {
			return err
		}
		cur, err := in.getAttr(obj, t.Name)
		if err != nil {
			return err
		}
		v, err := in.inplaceOp(x.Op, cur, rhs)
		if err != nil {
			return err
		}
		return in.setAttr(obj, t.Name, v)
	case *subscriptExpr:
		obj, err := in.eval(f, t.X)
		if err != nil {
			return err
		}
		key, err := in.eval(f, t.Index)
		if err != nil {
			return err
		}
		cur, err := in.getItem(obj, key)
		if err != nil {
			return err
		}
		v, err := in.inplaceOp(x.Op, cur, rhs)
		if err != nil {
			return err
		}
		return in.setItem(obj, key, v)
	}
	return newError(SyntaxErrorClass, "illegal expression for augmented assignment")
}

func (in *Interp) deleteTarget(f *Frame, target Expr) error {
	switch t := target.(type) {
	case *nameExpr:
		return in.deleteName(f, t.ID)
	case *attrExpr:
		obj, err := in.eval(f, t.X)
		if err != nil {
			return err
		}
		return in.delAttr(obj, t.Name)
	case *subscriptExpr:
		obj, err := in.eval(f, t.X)
		if err != nil {
			return err
		}
		key, err := in.eval(f, t.Index)
		if err != nil {
			return err
		}
		return in.delItem(obj, key)
	case *tupleExpr:
		for _, e := range t.Elts {
			if err := in.deleteTarget(f, e); err != nil {
				return err
			}
		}
		return nil
	case *listExpr:
		for _, e := range t.Elts {
			if err := in.deleteTarget(f, e); err != nil {
				return err
			}
		}
		return nil
	}
	return newError(SyntaxErrorClass, "cannot delete expression")
}
