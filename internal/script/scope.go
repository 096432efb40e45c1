package script

// analyzeScope classifies the names a function or lambda binds. Nested
// functions and classes are analyzed on their own when they are parsed;
// only their binding name and the expressions evaluated in this scope
// (decorators, defaults, bases) are visited here.
func analyzeScope(code *Code) {
	s := &scopeWalker{
		code:      code,
		bound:     make(map[string]bool),
		globals:   make(map[string]bool),
		nonlocals: make(map[string]bool),
	}
	for _, p := range code.Params {
		s.bound[p.Name] = true
	}
	if code.Expr != nil {
		s.expr(code.Expr)
	}
	s.stmts(code.Body)

	code.locals = make(map[string]bool, len(s.bound))
	for name := range s.bound {
		if !s.globals[name] && !s.nonlocals[name] {
			code.locals[name] = true
		}
	}
	code.globals = s.globals
	code.nonlocals = s.nonlocals
}

type scopeWalker struct {
	code      *Code
	bound     map[string]bool
	globals   map[string]bool
	nonlocals map[string]bool
}

func (s *scopeWalker) stmts(list []Stmt) {
	for _, st := range list {
		s.stmt(st)
	}
}

func (s *scopeWalker) stmt(st Stmt) {
	switch x := st.(type) {
	case *exprStmt:
		s.expr(x.X)
	case *assignStmt:
		for _, t := range x.Targets {
			s.target(t)
		}
		s.expr(x.Value)
	case *annAssignStmt:
		if x.Value != nil {
			s.target(x.Target)
			s.expr(x.Value)
		}
	case *augAssignStmt:
		s.target(x.Target)
		s.expr(x.Value)
	case *ifStmt:
		s.expr(x.Cond)
		s.stmts(x.Body)
		s.stmts(x.Else)
	case *whileStmt:
		s.expr(x.Cond)
		s.stmts(x.Body)
		s.stmts(x.Else)
	case *forStmt:
		s.target(x.Target)
		s.expr(x.Iter)
		s.stmts(x.Body)
		s.stmts(x.Else)
	case *funcDef:
		for _, d := range x.Decorators {
			s.expr(d)
		}
		for _, p := range x.Code.Params {
			s.expr(p.Default)
		}
		s.bound[x.Code.Name] = true
	case *classDef:
		for _, d := range x.Decorators {
			s.expr(d)
		}
		for _, b := range x.Bases {
			s.expr(b.Value)
		}
		s.bound[x.Code.Name] = true
	case *returnStmt:
		s.expr(x.Value)
	case *withStmt:
		for _, it := range x.Items {
			s.expr(it.Ctx)
			if it.Target != nil {
				s.target(it.Target)
			}
		}
		s.stmts(x.Body)
	case *tryStmt:
		s.stmts(x.Body)
		for _, h := range x.Handlers {
			s.expr(h.Type)
			if h.Name != "" {
				s.bound[h.Name] = true
			}
			s.stmts(h.Body)
		}
		s.stmts(x.Else)
		s.stmts(x.Finally)
	case *raiseStmt:
		s.expr(x.Exc)
		s.expr(x.Cause)
	case *globalStmt:
		for _, n := range x.Names {
			s.globals[n] = true
		}
	case *nonlocalStmt:
		for _, n := range x.Names {
			s.nonlocals[n] = true
		}
	case *assertStmt:
		s.expr(x.Test)
		s.expr(x.Msg)
	case *deleteStmt:
		for _, t := range x.Targets {
			s.target(t)
		}
	case *importStmt:
		for _, n := range x.Names {
			s.bound[importBinding(n)] = true
		}
	case *importFromStmt:
		for _, n := range x.Names {
			if n.Alias != "" {
				s.bound[n.Alias] = true
			} else {
				s.bound[n.Name] = true
			}
		}
	}
}

func importBinding(n importName) string {
	if n.Alias != "" {
		return n.Alias
	}
	for i := 0; i < len(n.Name); i++ {
		if n.Name[i] == '.' {
			return n.Name[:i]
		}
	}
	return n.Name
}

func (s *scopeWalker) target(t Expr) {
	switch x := t.(type) {
	case *nameExpr:
		s.bound[x.ID] = true
	case *tupleExpr:
		for _, e := range x.Elts {
			s.target(e)
		}
	case *listExpr:
		for _, e := range x.Elts {
			s.target(e)
		}
	case *starredExpr:
		s.target(x.X)
	default:
		s.expr(t)
	}
}

func (s *scopeWalker) expr(e Expr) {
	if e == nil {
		return
	}
	switch x := e.(type) {
	case *fstringExpr:
		s.fparts(x.Parts)
	case *binaryExpr:
		s.expr(x.L)
		s.expr(x.R)
	case *boolExpr:
		s.expr(x.L)
		s.expr(x.R)
	case *unaryExpr:
		s.expr(x.X)
	case *notExpr:
		s.expr(x.X)
	case *compareExpr:
		s.expr(x.Left)
		for _, r := range x.Rights {
			s.expr(r)
		}
	case *ifExpr:
		s.expr(x.Cond)
		s.expr(x.Then)
		s.expr(x.Else)
	case *callExpr:
		s.expr(x.Func)
		for _, a := range x.Args {
			s.expr(a.Value)
		}
	case *attrExpr:
		s.expr(x.X)
	case *subscriptExpr:
		s.expr(x.X)
		s.expr(x.Index)
	case *sliceExpr:
		s.expr(x.Lo)
		s.expr(x.Hi)
		s.expr(x.Step)
	case *listExpr:
		for _, el := range x.Elts {
			s.expr(el)
		}
	case *tupleExpr:
		for _, el := range x.Elts {
			s.expr(el)
		}
	case *setExpr:
		for _, el := range x.Elts {
			s.expr(el)
		}
	case *dictExpr:
		for _, it := range x.Items {
			s.expr(it.Key)
			s.expr(it.Value)
		}
	case *starredExpr:
		s.expr(x.X)
	case *compExpr:
		// Comprehension targets live in their own scope; only walrus
		// targets leak into the enclosing function.
		for _, c := range x.Clauses {
			s.expr(c.Iter)
			s.expr(c.Cond)
		}
		s.expr(x.Elt)
		s.expr(x.Key)
	case *lambdaExpr:
		for _, p := range x.Code.Params {
			s.expr(p.Default)
		}
	case *yieldExpr:
		if !s.code.IsModule && !s.code.IsClass && s.code.Expr == nil {
			s.code.IsGenerator = true
		}
		s.expr(x.Value)
	case *namedExpr:
		s.bound[x.Name] = true
		s.expr(x.Value)
	}
}

func (s *scopeWalker) fparts(parts []fpart) {
	for _, p := range parts {
		s.expr(p.X)
		s.fparts(p.Spec)
	}
}
