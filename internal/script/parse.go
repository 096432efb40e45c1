package script

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"
)

// Program is a parsed module ready to run.
type Program struct {
	Filename string
	Source   []byte
	Code     *Code
	lines    []string
}

// Line returns the 1-based source line n, or "" when out of range.
func (p *Program) Line(n int) string {
	if n < 1 || n > len(p.lines) {
		return ""
	}
	return p.lines[n-1]
}

// Lines returns the source split into lines.
func (p *Program) Lines() []string { return p.lines }

// Compile parses src into a Program. Any syntax problem is reported as a
// *SyntaxError.
func Compile(ctx context.Context, filename string, src []byte) (*Program, error) {
	code, err := parseModule(ctx, filename, src)
	if err != nil {
		return nil, err
	}
	return &Program{
		Filename: filename,
		Source:   src,
		Code:     code,
		lines:    strings.Split(string(src), "\n"),
	}, nil
}

func parseModule(ctx context.Context, filename string, src []byte) (*Code, error) {
	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(python.GetLanguage())

	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", filename, err)
	}
	defer tree.Close()

	root := tree.RootNode()
	c := &converter{src: src, filename: filename}
	if root.HasError() {
		return nil, c.syntaxError(root)
	}
	body, err := c.block(root)
	if err != nil {
		return nil, err
	}
	return &Code{
		Name:      "<module>",
		Filename:  filename,
		FirstLine: 1,
		DefLine:   1,
		Body:      body,
		IsModule:  true,
	}, nil
}

// ParseExpr parses a single expression, used for watch expressions.
func ParseExpr(ctx context.Context, src string) (Expr, error) {
	code, err := parseModule(ctx, "<watch>", []byte(src))
	if err != nil {
		return nil, err
	}
	if len(code.Body) != 1 {
		return nil, &SyntaxError{Filename: "<watch>", Line: 1, Msg: "expected an expression", Text: src}
	}
	st, ok := code.Body[0].(*exprStmt)
	if !ok {
		return nil, &SyntaxError{Filename: "<watch>", Line: 1, Msg: "expected an expression", Text: src}
	}
	return st.X, nil
}

type converter struct {
	src      []byte
	filename string
}

func lineOf(n *sitter.Node) int { return int(n.StartPoint().Row) + 1 }

func (c *converter) text(n *sitter.Node) string { return n.Content(c.src) }

func namedChildren(n *sitter.Node) []*sitter.Node {
	count := int(n.NamedChildCount())
	out := make([]*sitter.Node, 0, count)
	for i := 0; i < count; i++ {
		ch := n.NamedChild(i)
		if ch == nil || ch.Type() == "comment" || ch.Type() == "line_continuation" {
			continue
		}
		out = append(out, ch)
	}
	return out
}

func allChildren(n *sitter.Node) []*sitter.Node {
	count := int(n.ChildCount())
	out := make([]*sitter.Node, 0, count)
	for i := 0; i < count; i++ {
		if ch := n.Child(i); ch != nil && ch.Type() != "comment" {
			out = append(out, ch)
		}
	}
	return out
}

func sameNode(a, b *sitter.Node) bool {
	return a != nil && b != nil && a.StartByte() == b.StartByte() && a.EndByte() == b.EndByte() && a.Type() == b.Type()
}

func (c *converter) errorf(n *sitter.Node, format string, args ...any) error {
	line := lineOf(n)
	return &SyntaxError{
		Filename: c.filename,
		Line:     line,
		Column:   int(n.StartPoint().Column),
		Msg:      fmt.Sprintf(format, args...),
		Text:     c.sourceLine(line),
	}
}

func (c *converter) sourceLine(line int) string {
	lines := strings.Split(string(c.src), "\n")
	if line >= 1 && line <= len(lines) {
		return strings.TrimSpace(lines[line-1])
	}
	return ""
}

func (c *converter) syntaxError(root *sitter.Node) error {
	var found *sitter.Node
	var walk func(n *sitter.Node, depth int)
	walk = func(n *sitter.Node, depth int) {
		if found != nil || depth > 1000 {
			return
		}
		if n.IsError() || n.IsMissing() {
			found = n
			return
		}
		for i := 0; i < int(n.ChildCount()); i++ {
			walk(n.Child(i), depth+1)
		}
	}
	walk(root, 0)
	if found == nil {
		return c.errorf(root, "invalid syntax")
	}
	if found.IsMissing() {
		return c.errorf(found, "expected '%s'", found.Type())
	}
	return c.errorf(found, "invalid syntax")
}

func (c *converter) block(n *sitter.Node) ([]Stmt, error) {
	if n == nil {
		return nil, nil
	}
	var out []Stmt
	for _, ch := range namedChildren(n) {
		st, err := c.stmt(ch)
		if err != nil {
			return nil, err
		}
		if st != nil {
			out = append(out, st)
		}
	}
	return out, nil
}

func (c *converter) stmt(n *sitter.Node) (Stmt, error) {
	p := pos{Line: lineOf(n)}
	switch n.Type() {
	case "expression_statement":
		kids := namedChildren(n)
		if len(kids) == 1 {
			switch kids[0].Type() {
			case "assignment":
				return c.assignment(kids[0])
			case "augmented_assignment":
				return c.augAssignment(kids[0])
			}
			x, err := c.expr(kids[0])
			if err != nil {
				return nil, err
			}
			return &exprStmt{pos: p, X: x}, nil
		}
		elts, err := c.exprs(kids)
		if err != nil {
			return nil, err
		}
		return &exprStmt{pos: p, X: &tupleExpr{pos: p, Elts: elts}}, nil
	case "print_statement":
		var args []arg
		for _, ch := range namedChildren(n) {
			x, err := c.expr(ch)
			if err != nil {
				return nil, err
			}
			args = append(args, arg{Value: x})
		}
		return &exprStmt{pos: p, X: &callExpr{pos: p, Func: &nameExpr{pos: p, ID: "print"}, Args: args}}, nil
	case "if_statement":
		return c.ifStatement(n)
	case "while_statement":
		cond, err := c.expr(n.ChildByFieldName("condition"))
		if err != nil {
			return nil, err
		}
		body, err := c.block(n.ChildByFieldName("body"))
		if err != nil {
			return nil, err
		}
		els, err := c.elseBody(n.ChildByFieldName("alternative"))
		if err != nil {
			return nil, err
		}
		return &whileStmt{pos: p, Cond: cond, Body: body, Else: els}, nil
	case "for_statement":
		if hasToken(n, "async") {
			return nil, c.errorf(n, "async for is not supported")
		}
		target, err := c.expr(n.ChildByFieldName("left"))
		if err != nil {
			return nil, err
		}
		iter, err := c.expr(n.ChildByFieldName("right"))
		if err != nil {
			return nil, err
		}
		body, err := c.block(n.ChildByFieldName("body"))
		if err != nil {
			return nil, err
		}
		els, err := c.elseBody(n.ChildByFieldName("alternative"))
		if err != nil {
			return nil, err
		}
		return &forStmt{pos: p, Target: target, Iter: iter, Body: body, Else: els}, nil
	case "function_definition":
		return c.funcDef(n, nil, p.Line)
	case "class_definition":
		return c.classDef(n, nil, p.Line)
	case "decorated_definition":
		var decorators []Expr
		for _, ch := range namedChildren(n) {
			if ch.Type() != "decorator" {
				continue
			}
			kids := namedChildren(ch)
			if len(kids) == 0 {
				return nil, c.errorf(ch, "invalid decorator")
			}
			d, err := c.expr(kids[0])
			if err != nil {
				return nil, err
			}
			decorators = append(decorators, d)
		}
		def := n.ChildByFieldName("definition")
		if def == nil {
			return nil, c.errorf(n, "invalid decorated definition")
		}
		if def.Type() == "class_definition" {
			return c.classDef(def, decorators, p.Line)
		}
		return c.funcDef(def, decorators, p.Line)
	case "return_statement":
		kids := namedChildren(n)
		if len(kids) == 0 {
			return &returnStmt{pos: p}, nil
		}
		x, err := c.expr(kids[0])
		if err != nil {
			return nil, err
		}
		return &returnStmt{pos: p, Value: x}, nil
	case "pass_statement":
		return &passStmt{pos: p}, nil
	case "break_statement":
		return &breakStmt{pos: p}, nil
	case "continue_statement":
		return &continueStmt{pos: p}, nil
	case "with_statement":
		return c.withStatement(n)
	case "try_statement":
		return c.tryStatement(n)
	case "raise_statement":
		st := &raiseStmt{pos: p}
		cause := n.ChildByFieldName("cause")
		for _, ch := range namedChildren(n) {
			if sameNode(ch, cause) {
				continue
			}
			x, err := c.expr(ch)
			if err != nil {
				return nil, err
			}
			st.Exc = x
			break
		}
		if cause != nil {
			x, err := c.expr(cause)
			if err != nil {
				return nil, err
			}
			st.Cause = x
		}
		return st, nil
	case "global_statement", "nonlocal_statement":
		var names []string
		for _, ch := range namedChildren(n) {
			names = append(names, c.text(ch))
		}
		if n.Type() == "global_statement" {
			return &globalStmt{pos: p, Names: names}, nil
		}
		return &nonlocalStmt{pos: p, Names: names}, nil
	case "assert_statement":
		kids := namedChildren(n)
		exprs, err := c.exprs(kids)
		if err != nil {
			return nil, err
		}
		st := &assertStmt{pos: p}
		if len(exprs) > 0 {
			st.Test = exprs[0]
		}
		if len(exprs) > 1 {
			st.Msg = exprs[1]
		}
		return st, nil
	case "delete_statement":
		var targets []Expr
		for _, ch := range namedChildren(n) {
			x, err := c.expr(ch)
			if err != nil {
				return nil, err
			}
			if t, ok := x.(*tupleExpr); ok {
				targets = append(targets, t.Elts...)
			} else {
				targets = append(targets, x)
			}
		}
		return &deleteStmt{pos: p, Targets: targets}, nil
	case "import_statement":
		st := &importStmt{pos: p}
		for _, ch := range namedChildren(n) {
			st.Names = append(st.Names, c.importName(ch))
		}
		return st, nil
	case "import_from_statement":
		mod := n.ChildByFieldName("module_name")
		if mod == nil {
			return nil, c.errorf(n, "invalid import")
		}
		if mod.Type() == "relative_import" {
			return nil, c.errorf(n, "relative imports are not supported")
		}
		st := &importFromStmt{pos: p, Module: c.text(mod)}
		for _, ch := range namedChildren(n) {
			if sameNode(ch, mod) {
				continue
			}
			if ch.Type() == "wildcard_import" {
				st.Star = true
				continue
			}
			st.Names = append(st.Names, c.importName(ch))
		}
		return st, nil
	case "future_import_statement":
		return &passStmt{pos: p}, nil
	}
	return nil, c.errorf(n, "unsupported statement: %s", n.Type())
}

func hasToken(n *sitter.Node, tok string) bool {
	for _, ch := range allChildren(n) {
		if !ch.IsNamed() && ch.Type() == tok {
			return true
		}
	}
	return false
}

func (c *converter) importName(n *sitter.Node) importName {
	if n.Type() == "aliased_import" {
		return importName{
			Name:  c.text(n.ChildByFieldName("name")),
			Alias: c.text(n.ChildByFieldName("alias")),
		}
	}
	return importName{Name: c.text(n)}
}

func (c *converter) elseBody(n *sitter.Node) ([]Stmt, error) {
	if n == nil {
		return nil, nil
	}
	return c.block(n.ChildByFieldName("body"))
}

func (c *converter) ifStatement(n *sitter.Node) (Stmt, error) {
	cond, err := c.expr(n.ChildByFieldName("condition"))
	if err != nil {
		return nil, err
	}
	body, err := c.block(n.ChildByFieldName("consequence"))
	if err != nil {
		return nil, err
	}
	var alts []*sitter.Node
	for _, ch := range namedChildren(n) {
		if ch.Type() == "elif_clause" || ch.Type() == "else_clause" {
			alts = append(alts, ch)
		}
	}
	var els []Stmt
	for i := len(alts) - 1; i >= 0; i-- {
		alt := alts[i]
		if alt.Type() == "else_clause" {
			if els, err = c.block(alt.ChildByFieldName("body")); err != nil {
				return nil, err
			}
			continue
		}
		ec, err := c.expr(alt.ChildByFieldName("condition"))
		if err != nil {
			return nil, err
		}
		eb, err := c.block(alt.ChildByFieldName("consequence"))
		if err != nil {
			return nil, err
		}
		els = []Stmt{&ifStmt{pos: pos{Line: lineOf(alt)}, Cond: ec, Body: eb, Else: els}}
	}
	return &ifStmt{pos: pos{Line: lineOf(n)}, Cond: cond, Body: body, Else: els}, nil
}

func (c *converter) withStatement(n *sitter.Node) (Stmt, error) {
	if hasToken(n, "async") {
		return nil, c.errorf(n, "async with is not supported")
	}
	st := &withStmt{pos: pos{Line: lineOf(n)}}
	var items []*sitter.Node
	for _, ch := range namedChildren(n) {
		if ch.Type() == "with_clause" {
			for _, it := range namedChildren(ch) {
				if it.Type() == "with_item" {
					items = append(items, it)
				}
			}
		}
	}
	for _, it := range items {
		value := it.ChildByFieldName("value")
		if value == nil {
			kids := namedChildren(it)
			if len(kids) == 0 {
				return nil, c.errorf(it, "invalid with item")
			}
			value = kids[0]
		}
		var item withItem
		if value.Type() == "as_pattern" {
			kids := namedChildren(value)
			if len(kids) == 0 {
				return nil, c.errorf(value, "invalid with item")
			}
			ctx, err := c.expr(kids[0])
			if err != nil {
				return nil, err
			}
			item.Ctx = ctx
			if alias := value.ChildByFieldName("alias"); alias != nil {
				target := alias
				if alias.Type() == "as_pattern_target" {
					if ak := namedChildren(alias); len(ak) > 0 {
						target = ak[0]
					}
				}
				t, err := c.expr(target)
				if err != nil {
					return nil, err
				}
				item.Target = t
			}
		} else {
			ctx, err := c.expr(value)
			if err != nil {
				return nil, err
			}
			item.Ctx = ctx
			if alias := it.ChildByFieldName("alias"); alias != nil {
				t, err := c.expr(alias)
				if err != nil {
					return nil, err
				}
				item.Target = t
			}
		}
		st.Items = append(st.Items, item)
	}
	body, err := c.block(n.ChildByFieldName("body"))
	if err != nil {
		return nil, err
	}
	st.Body = body
	return st, nil
}

func (c *converter) tryStatement(n *sitter.Node) (Stmt, error) {
	body, err := c.block(n.ChildByFieldName("body"))
	if err != nil {
		return nil, err
	}
	st := &tryStmt{pos: pos{Line: lineOf(n)}, Body: body}
	for _, ch := range namedChildren(n) {
		switch ch.Type() {
		case "except_clause":
			h, err := c.exceptClause(ch)
			if err != nil {
				return nil, err
			}
			st.Handlers = append(st.Handlers, h)
		case "except_group_clause":
			return nil, c.errorf(ch, "except* is not supported")
		case "else_clause":
			if st.Else, err = c.block(ch.ChildByFieldName("body")); err != nil {
				return nil, err
			}
		case "finally_clause":
			var blk *sitter.Node
			for _, k := range namedChildren(ch) {
				if k.Type() == "block" {
					blk = k
				}
			}
			if st.Finally, err = c.block(blk); err != nil {
				return nil, err
			}
		}
	}
	return st, nil
}

func (c *converter) exceptClause(n *sitter.Node) (handler, error) {
	h := handler{Line: lineOf(n)}
	var exprs []*sitter.Node
	for _, ch := range namedChildren(n) {
		if ch.Type() == "block" {
			body, err := c.block(ch)
			if err != nil {
				return h, err
			}
			h.Body = body
			continue
		}
		exprs = append(exprs, ch)
	}
	if len(exprs) == 0 {
		return h, nil
	}
	first := exprs[0]
	if first.Type() == "as_pattern" {
		kids := namedChildren(first)
		if len(kids) > 0 {
			t, err := c.expr(kids[0])
			if err != nil {
				return h, err
			}
			h.Type = t
		}
		if alias := first.ChildByFieldName("alias"); alias != nil {
			name := alias
			if ak := namedChildren(alias); alias.Type() == "as_pattern_target" && len(ak) > 0 {
				name = ak[0]
			}
			h.Name = c.text(name)
		}
		return h, nil
	}
	t, err := c.expr(first)
	if err != nil {
		return h, err
	}
	h.Type = t
	if len(exprs) > 1 {
		h.Name = c.text(exprs[1])
	}
	return h, nil
}

func (c *converter) assignment(n *sitter.Node) (Stmt, error) {
	p := pos{Line: lineOf(n)}
	var targets []Expr
	cur := n
	for {
		t, err := c.expr(cur.ChildByFieldName("left"))
		if err != nil {
			return nil, err
		}
		targets = append(targets, t)
		right := cur.ChildByFieldName("right")
		if right == nil {
			if len(targets) != 1 {
				return nil, c.errorf(cur, "invalid assignment")
			}
			return &annAssignStmt{pos: p, Target: targets[0]}, nil
		}
		if right.Type() == "assignment" {
			cur = right
			continue
		}
		value, err := c.expr(right)
		if err != nil {
			return nil, err
		}
		if cur.ChildByFieldName("type") != nil && len(targets) == 1 {
			return &annAssignStmt{pos: p, Target: targets[0], Value: value}, nil
		}
		return &assignStmt{pos: p, Targets: targets, Value: value}, nil
	}
}

func (c *converter) augAssignment(n *sitter.Node) (Stmt, error) {
	target, err := c.expr(n.ChildByFieldName("left"))
	if err != nil {
		return nil, err
	}
	value, err := c.expr(n.ChildByFieldName("right"))
	if err != nil {
		return nil, err
	}
	op := strings.TrimSuffix(n.ChildByFieldName("operator").Type(), "=")
	return &augAssignStmt{pos: pos{Line: lineOf(n)}, Target: target, Op: op, Value: value}, nil
}

func (c *converter) funcDef(n *sitter.Node, decorators []Expr, firstLine int) (Stmt, error) {
	if hasToken(n, "async") {
		return nil, c.errorf(n, "async def is not supported")
	}
	params, err := c.params(n.ChildByFieldName("parameters"))
	if err != nil {
		return nil, err
	}
	body, err := c.block(n.ChildByFieldName("body"))
	if err != nil {
		return nil, err
	}
	code := &Code{
		Name:      c.text(n.ChildByFieldName("name")),
		Filename:  c.filename,
		FirstLine: firstLine,
		DefLine:   lineOf(n),
		Params:    params,
		Body:      body,
	}
	analyzeScope(code)
	return &funcDef{pos: pos{Line: firstLine}, Decorators: decorators, Code: code}, nil
}

func (c *converter) classDef(n *sitter.Node, decorators []Expr, firstLine int) (Stmt, error) {
	var bases []arg
	if sup := n.ChildByFieldName("superclasses"); sup != nil {
		args, err := c.arguments(sup)
		if err != nil {
			return nil, err
		}
		bases = args
	}
	body, err := c.block(n.ChildByFieldName("body"))
	if err != nil {
		return nil, err
	}
	code := &Code{
		Name:      c.text(n.ChildByFieldName("name")),
		Filename:  c.filename,
		FirstLine: firstLine,
		DefLine:   lineOf(n),
		Body:      body,
		IsClass:   true,
	}
	return &classDef{pos: pos{Line: firstLine}, Decorators: decorators, Bases: bases, Code: code}, nil
}

func (c *converter) params(n *sitter.Node) ([]Param, error) {
	if n == nil {
		return nil, nil
	}
	var out []Param
	kwOnly := false
	kind := func() ParamKind {
		if kwOnly {
			return ParamKwOnly
		}
		return ParamPositional
	}
	for _, ch := range namedChildren(n) {
		switch ch.Type() {
		case "identifier":
			out = append(out, Param{Name: c.text(ch), Kind: kind()})
		case "typed_parameter":
			kids := namedChildren(ch)
			if len(kids) == 0 {
				return nil, c.errorf(ch, "invalid parameter")
			}
			switch inner := kids[0]; inner.Type() {
			case "list_splat_pattern":
				out = append(out, Param{Name: c.splatName(inner), Kind: ParamVarArgs})
				kwOnly = true
			case "dictionary_splat_pattern":
				out = append(out, Param{Name: c.splatName(inner), Kind: ParamVarKw})
			default:
				out = append(out, Param{Name: c.text(inner), Kind: kind()})
			}
		case "default_parameter", "typed_default_parameter":
			def, err := c.expr(ch.ChildByFieldName("value"))
			if err != nil {
				return nil, err
			}
			out = append(out, Param{Name: c.text(ch.ChildByFieldName("name")), Kind: kind(), Default: def})
		case "list_splat_pattern":
			out = append(out, Param{Name: c.splatName(ch), Kind: ParamVarArgs})
			kwOnly = true
		case "dictionary_splat_pattern":
			out = append(out, Param{Name: c.splatName(ch), Kind: ParamVarKw})
		case "keyword_separator":
			kwOnly = true
		case "positional_separator":
		default:
			return nil, c.errorf(ch, "unsupported parameter: %s", ch.Type())
		}
	}
	return out, nil
}

func (c *converter) splatName(n *sitter.Node) string {
	if kids := namedChildren(n); len(kids) > 0 {
		return c.text(kids[0])
	}
	return strings.TrimLeft(c.text(n), "*")
}

func (c *converter) exprs(nodes []*sitter.Node) ([]Expr, error) {
	out := make([]Expr, 0, len(nodes))
	for _, n := range nodes {
		x, err := c.expr(n)
		if err != nil {
			return nil, err
		}
		out = append(out, x)
	}
	return out, nil
}

func (c *converter) arguments(n *sitter.Node) ([]arg, error) {
	var out []arg
	for _, ch := range namedChildren(n) {
		switch ch.Type() {
		case "keyword_argument":
			v, err := c.expr(ch.ChildByFieldName("value"))
			if err != nil {
				return nil, err
			}
			out = append(out, arg{Name: c.text(ch.ChildByFieldName("name")), Value: v})
		case "list_splat", "dictionary_splat":
			kids := namedChildren(ch)
			if len(kids) == 0 {
				return nil, c.errorf(ch, "invalid argument")
			}
			v, err := c.expr(kids[0])
			if err != nil {
				return nil, err
			}
			out = append(out, arg{Value: v, Star: ch.Type() == "list_splat", DStar: ch.Type() == "dictionary_splat"})
		default:
			v, err := c.expr(ch)
			if err != nil {
				return nil, err
			}
			out = append(out, arg{Value: v})
		}
	}
	return out, nil
}

func (c *converter) expr(n *sitter.Node) (Expr, error) {
	if n == nil {
		return nil, fmt.Errorf("missing expression")
	}
	p := pos{Line: lineOf(n)}
	switch n.Type() {
	case "identifier", "keyword_identifier":
		return &nameExpr{pos: p, ID: c.text(n)}, nil
	case "integer":
		v, err := parseIntLiteral(c.text(n))
		if err != nil {
			return nil, c.errorf(n, "%v", err)
		}
		return &constExpr{pos: p, Value: v}, nil
	case "float":
		t := strings.ReplaceAll(c.text(n), "_", "")
		if strings.HasSuffix(t, "j") || strings.HasSuffix(t, "J") {
			return nil, c.errorf(n, "complex numbers are not supported")
		}
		f, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return nil, c.errorf(n, "invalid float literal")
		}
		return &constExpr{pos: p, Value: Float(f)}, nil
	case "true":
		return &constExpr{pos: p, Value: True}, nil
	case "false":
		return &constExpr{pos: p, Value: False}, nil
	case "none":
		return &constExpr{pos: p, Value: None}, nil
	case "ellipsis":
		return &constExpr{pos: p, Value: Ellipsis}, nil
	case "string":
		parts, isF, err := c.stringParts(n)
		if err != nil {
			return nil, err
		}
		if !isF {
			return &constExpr{pos: p, Value: Str(joinLiterals(parts))}, nil
		}
		return &fstringExpr{pos: p, Parts: parts}, nil
	case "concatenated_string":
		var all []fpart
		anyF := false
		for _, ch := range namedChildren(n) {
			parts, isF, err := c.stringParts(ch)
			if err != nil {
				return nil, err
			}
			anyF = anyF || isF
			all = append(all, parts...)
		}
		if !anyF {
			return &constExpr{pos: p, Value: Str(joinLiterals(all))}, nil
		}
		return &fstringExpr{pos: p, Parts: all}, nil
	case "binary_operator":
		l, err := c.expr(n.ChildByFieldName("left"))
		if err != nil {
			return nil, err
		}
		r, err := c.expr(n.ChildByFieldName("right"))
		if err != nil {
			return nil, err
		}
		return &binaryExpr{pos: p, Op: n.ChildByFieldName("operator").Type(), L: l, R: r}, nil
	case "unary_operator":
		x, err := c.expr(n.ChildByFieldName("argument"))
		if err != nil {
			return nil, err
		}
		return &unaryExpr{pos: p, Op: n.ChildByFieldName("operator").Type(), X: x}, nil
	case "not_operator":
		x, err := c.expr(n.ChildByFieldName("argument"))
		if err != nil {
			return nil, err
		}
		return &notExpr{pos: p, X: x}, nil
	case "boolean_operator":
		l, err := c.expr(n.ChildByFieldName("left"))
		if err != nil {
			return nil, err
		}
		r, err := c.expr(n.ChildByFieldName("right"))
		if err != nil {
			return nil, err
		}
		return &boolExpr{pos: p, Op: n.ChildByFieldName("operator").Type(), L: l, R: r}, nil
	case "comparison_operator":
		return c.comparison(n)
	case "conditional_expression":
		kids := namedChildren(n)
		if len(kids) != 3 {
			return nil, c.errorf(n, "invalid conditional expression")
		}
		xs, err := c.exprs(kids)
		if err != nil {
			return nil, err
		}
		return &ifExpr{pos: p, Then: xs[0], Cond: xs[1], Else: xs[2]}, nil
	case "call":
		fn, err := c.expr(n.ChildByFieldName("function"))
		if err != nil {
			return nil, err
		}
		argsNode := n.ChildByFieldName("arguments")
		var args []arg
		if argsNode != nil {
			if argsNode.Type() == "generator_expression" {
				g, err := c.expr(argsNode)
				if err != nil {
					return nil, err
				}
				args = []arg{{Value: g}}
			} else if args, err = c.arguments(argsNode); err != nil {
				return nil, err
			}
		}
		return &callExpr{pos: p, Func: fn, Args: args}, nil
	case "attribute":
		x, err := c.expr(n.ChildByFieldName("object"))
		if err != nil {
			return nil, err
		}
		return &attrExpr{pos: p, X: x, Name: c.text(n.ChildByFieldName("attribute"))}, nil
	case "subscript":
		value := n.ChildByFieldName("value")
		x, err := c.expr(value)
		if err != nil {
			return nil, err
		}
		var subs []Expr
		for _, ch := range namedChildren(n) {
			if sameNode(ch, value) {
				continue
			}
			s, err := c.expr(ch)
			if err != nil {
				return nil, err
			}
			subs = append(subs, s)
		}
		if len(subs) == 1 {
			return &subscriptExpr{pos: p, X: x, Index: subs[0]}, nil
		}
		return &subscriptExpr{pos: p, X: x, Index: &tupleExpr{pos: p, Elts: subs}}, nil
	case "slice":
		var parts [3]Expr
		idx := 0
		for _, ch := range allChildren(n) {
			if ch.Type() == ":" {
				idx++
				continue
			}
			if ch.IsNamed() && idx < 3 {
				x, err := c.expr(ch)
				if err != nil {
					return nil, err
				}
				parts[idx] = x
			}
		}
		return &sliceExpr{pos: p, Lo: parts[0], Hi: parts[1], Step: parts[2]}, nil
	case "list", "list_pattern":
		elts, err := c.exprs(namedChildren(n))
		if err != nil {
			return nil, err
		}
		return &listExpr{pos: p, Elts: elts}, nil
	case "tuple", "tuple_pattern", "pattern_list", "expression_list":
		elts, err := c.exprs(namedChildren(n))
		if err != nil {
			return nil, err
		}
		return &tupleExpr{pos: p, Elts: elts}, nil
	case "set":
		elts, err := c.exprs(namedChildren(n))
		if err != nil {
			return nil, err
		}
		return &setExpr{pos: p, Elts: elts}, nil
	case "dictionary":
		d := &dictExpr{pos: p}
		for _, ch := range namedChildren(n) {
			switch ch.Type() {
			case "pair":
				k, err := c.expr(ch.ChildByFieldName("key"))
				if err != nil {
					return nil, err
				}
				v, err := c.expr(ch.ChildByFieldName("value"))
				if err != nil {
					return nil, err
				}
				d.Items = append(d.Items, dictItem{Key: k, Value: v})
			case "dictionary_splat":
				kids := namedChildren(ch)
				if len(kids) == 0 {
					return nil, c.errorf(ch, "invalid dictionary unpacking")
				}
				v, err := c.expr(kids[0])
				if err != nil {
					return nil, err
				}
				d.Items = append(d.Items, dictItem{Value: v, DStar: true})
			default:
				return nil, c.errorf(ch, "invalid dictionary item")
			}
		}
		return d, nil
	case "list_comprehension", "set_comprehension", "dictionary_comprehension", "generator_expression":
		return c.comprehension(n)
	case "lambda":
		params, err := c.params(n.ChildByFieldName("parameters"))
		if err != nil {
			return nil, err
		}
		body, err := c.expr(n.ChildByFieldName("body"))
		if err != nil {
			return nil, err
		}
		code := &Code{
			Name:      "<lambda>",
			Filename:  c.filename,
			FirstLine: p.Line,
			DefLine:   p.Line,
			Params:    params,
			Expr:      body,
		}
		analyzeScope(code)
		return &lambdaExpr{pos: p, Code: code}, nil
	case "parenthesized_expression":
		kids := namedChildren(n)
		if len(kids) != 1 {
			return nil, c.errorf(n, "invalid parenthesized expression")
		}
		return c.expr(kids[0])
	case "yield":
		y := &yieldExpr{pos: p, From: hasToken(n, "from")}
		if kids := namedChildren(n); len(kids) > 0 {
			v, err := c.expr(kids[0])
			if err != nil {
				return nil, err
			}
			y.Value = v
		}
		return y, nil
	case "named_expression":
		v, err := c.expr(n.ChildByFieldName("value"))
		if err != nil {
			return nil, err
		}
		return &namedExpr{pos: p, Name: c.text(n.ChildByFieldName("name")), Value: v}, nil
	case "list_splat", "list_splat_pattern":
		kids := namedChildren(n)
		if len(kids) == 0 {
			return nil, c.errorf(n, "invalid starred expression")
		}
		x, err := c.expr(kids[0])
		if err != nil {
			return nil, err
		}
		return &starredExpr{pos: p, X: x}, nil
	case "type":
		if kids := namedChildren(n); len(kids) == 1 {
			return c.expr(kids[0])
		}
	case "await":
		return nil, c.errorf(n, "await is not supported")
	}
	return nil, c.errorf(n, "unsupported expression: %s", n.Type())
}

func (c *converter) comparison(n *sitter.Node) (Expr, error) {
	var operands []Expr
	var ops []string
	pending := ""
	for _, ch := range allChildren(n) {
		if ch.IsNamed() {
			x, err := c.expr(ch)
			if err != nil {
				return nil, err
			}
			if pending != "" {
				ops = append(ops, pending)
				pending = ""
			}
			operands = append(operands, x)
			continue
		}
		if pending == "" {
			pending = ch.Type()
		} else {
			pending += " " + ch.Type()
		}
	}
	if len(operands) < 2 || len(ops) != len(operands)-1 {
		return nil, c.errorf(n, "invalid comparison")
	}
	return &compareExpr{pos: pos{Line: lineOf(n)}, Left: operands[0], Ops: ops, Rights: operands[1:]}, nil
}

func (c *converter) comprehension(n *sitter.Node) (Expr, error) {
	p := pos{Line: lineOf(n)}
	ce := &compExpr{pos: p}
	switch n.Type() {
	case "list_comprehension":
		ce.Kind = compList
	case "set_comprehension":
		ce.Kind = compSet
	case "dictionary_comprehension":
		ce.Kind = compDict
	default:
		ce.Kind = compGen
	}
	body := n.ChildByFieldName("body")
	if body == nil {
		return nil, c.errorf(n, "invalid comprehension")
	}
	if ce.Kind == compDict {
		k, err := c.expr(body.ChildByFieldName("key"))
		if err != nil {
			return nil, err
		}
		v, err := c.expr(body.ChildByFieldName("value"))
		if err != nil {
			return nil, err
		}
		ce.Key, ce.Elt = k, v
	} else {
		x, err := c.expr(body)
		if err != nil {
			return nil, err
		}
		ce.Elt = x
	}
	for _, ch := range namedChildren(n) {
		switch ch.Type() {
		case "for_in_clause":
			if hasToken(ch, "async") {
				return nil, c.errorf(ch, "async comprehensions are not supported")
			}
			t, err := c.expr(ch.ChildByFieldName("left"))
			if err != nil {
				return nil, err
			}
			it, err := c.expr(ch.ChildByFieldName("right"))
			if err != nil {
				return nil, err
			}
			ce.Clauses = append(ce.Clauses, compClause{Target: t, Iter: it})
		case "if_clause":
			kids := namedChildren(ch)
			if len(kids) == 0 {
				return nil, c.errorf(ch, "invalid if clause")
			}
			cond, err := c.expr(kids[0])
			if err != nil {
				return nil, err
			}
			ce.Clauses = append(ce.Clauses, compClause{Cond: cond})
		}
	}
	return ce, nil
}

func parseIntLiteral(t string) (Value, error) {
	t = strings.TrimRight(t, "lL")
	t = strings.ReplaceAll(t, "_", "")
	if strings.HasSuffix(t, "j") || strings.HasSuffix(t, "J") {
		return nil, fmt.Errorf("complex numbers are not supported")
	}
	base := 10
	digits := t
	if len(t) > 2 && t[0] == '0' {
		switch t[1] {
		case 'x', 'X':
			base, digits = 16, t[2:]
		case 'o', 'O':
			base, digits = 8, t[2:]
		case 'b', 'B':
			base, digits = 2, t[2:]
		}
	}
	b, ok := new(big.Int).SetString(digits, base)
	if !ok {
		return nil, fmt.Errorf("invalid integer literal %q", t)
	}
	return NewBig(b), nil
}

func joinLiterals(parts []fpart) string {
	var b strings.Builder
	for _, p := range parts {
		b.WriteString(p.Lit)
	}
	return b.String()
}

// stringParts splits a string literal into literal and interpolated parts
// by byte range, decoding escapes in the literal segments itself.
func (c *converter) stringParts(n *sitter.Node) ([]fpart, bool, error) {
	start, end := int(n.StartByte()), int(n.EndByte())
	raw := c.src[start:end]
	i := 0
	for i < len(raw) && raw[i] != '"' && raw[i] != '\'' {
		i++
	}
	prefix := strings.ToLower(string(raw[:i]))
	isRaw := strings.Contains(prefix, "r")
	isF := strings.Contains(prefix, "f")
	q := 1
	if len(raw) >= i+6 && (strings.HasPrefix(string(raw[i:]), `"""`) || strings.HasPrefix(string(raw[i:]), `'''`)) {
		q = 3
	}
	bodyStart, bodyEnd := start+i+q, end-q
	if bodyEnd < bodyStart {
		return nil, false, c.errorf(n, "unterminated string literal")
	}
	if !isF {
		return []fpart{{Lit: decodeEscapes(string(c.src[bodyStart:bodyEnd]), isRaw)}}, false, nil
	}
	parts, err := c.interpolatedParts(n, bodyStart, bodyEnd, isRaw)
	return parts, true, err
}

func (c *converter) interpolatedParts(n *sitter.Node, from, to int, isRaw bool) ([]fpart, error) {
	var interps []*sitter.Node
	var collect func(x *sitter.Node)
	collect = func(x *sitter.Node) {
		for _, ch := range allChildren(x) {
			switch ch.Type() {
			case "interpolation", "format_expression":
				if int(ch.StartByte()) >= from && int(ch.EndByte()) <= to {
					interps = append(interps, ch)
				}
			case "string_content", "format_specifier":
				if ch.Type() == "string_content" {
					collect(ch)
				}
			}
		}
	}
	collect(n)
	sort.Slice(interps, func(a, b int) bool { return interps[a].StartByte() < interps[b].StartByte() })

	var parts []fpart
	cursor := from
	lit := func(a, b int) {
		if b > a {
			s := string(c.src[a:b])
			s = strings.ReplaceAll(strings.ReplaceAll(s, "{{", "{"), "}}", "}")
			parts = append(parts, fpart{Lit: decodeEscapes(s, isRaw)})
		}
	}
	for _, ip := range interps {
		lit(cursor, int(ip.StartByte()))
		part, err := c.interpolation(ip, isRaw)
		if err != nil {
			return nil, err
		}
		parts = append(parts, part)
		cursor = int(ip.EndByte())
	}
	lit(cursor, to)
	return parts, nil
}

func (c *converter) interpolation(n *sitter.Node, isRaw bool) (fpart, error) {
	var part fpart
	exprNode := n.ChildByFieldName("expression")
	var spec *sitter.Node
	for _, ch := range allChildren(n) {
		switch ch.Type() {
		case "type_conversion":
			t := c.text(ch)
			if len(t) == 2 {
				part.Conv = t[1]
			}
		case "format_specifier":
			spec = ch
		case "=":
			if exprNode != nil {
				part.Debug = string(c.src[exprNode.StartByte():ch.EndByte()])
			}
		default:
			if exprNode == nil && ch.IsNamed() {
				exprNode = ch
			}
		}
	}
	if exprNode == nil {
		return part, c.errorf(n, "f-string: empty expression not allowed")
	}
	x, err := c.expr(exprNode)
	if err != nil {
		return part, err
	}
	part.X = x
	if part.Debug != "" && part.Conv == 0 && spec == nil {
		part.Conv = 'r'
	}
	if spec != nil {
		from := int(spec.StartByte())
		if from < len(c.src) && c.src[from] == ':' {
			from++
		}
		sp, err := c.specParts(spec, from, int(spec.EndByte()), isRaw)
		if err != nil {
			return part, err
		}
		part.Spec = sp
	}
	return part, nil
}

func (c *converter) specParts(spec *sitter.Node, from, to int, isRaw bool) ([]fpart, error) {
	var parts []fpart
	cursor := from
	for _, ch := range allChildren(spec) {
		if ch.Type() != "interpolation" && ch.Type() != "format_expression" {
			continue
		}
		if int(ch.StartByte()) > cursor {
			parts = append(parts, fpart{Lit: string(c.src[cursor:ch.StartByte()])})
		}
		part, err := c.interpolation(ch, isRaw)
		if err != nil {
			return nil, err
		}
		parts = append(parts, part)
		cursor = int(ch.EndByte())
	}
	if to > cursor {
		parts = append(parts, fpart{Lit: string(c.src[cursor:to])})
	}
	return parts, nil
}

func decodeEscapes(s string, isRaw bool) string {
	if isRaw || !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if ch != '\\' || i+1 >= len(s) {
			b.WriteByte(ch)
			continue
		}
		i++
		switch e := s[i]; e {
		case '\n':
		case '\\':
			b.WriteByte('\\')
		case '\'':
			b.WriteByte('\'')
		case '"':
			b.WriteByte('"')
		case 'a':
			b.WriteByte('\a')
		case 'b':
			b.WriteByte('\b')
		case 'f':
			b.WriteByte('\f')
		case 'n':
			b.WriteByte('\n')
		case 'r':
			b.WriteByte('\r')
		case 't':
			b.WriteByte('\t')
		case 'v':
			b.WriteByte('\v')
		case 'x', 'u', 'U':
			width := map[byte]int{'x': 2, 'u': 4, 'U': 8}[e]
			if i+width < len(s)+0 && i+width <= len(s)-1+1 {
				if r, err := strconv.ParseUint(s[i+1:min(i+1+width, len(s))], 16, 32); err == nil && i+width < len(s) {
					b.WriteRune(rune(r))
					i += width
					continue
				}
			}
			b.WriteByte('\\')
			b.WriteByte(e)
		case '0', '1', '2', '3', '4', '5', '6', '7':
			j := i
			for j < len(s) && j < i+3 && s[j] >= '0' && s[j] <= '7' {
				j++
			}
			r, _ := strconv.ParseUint(s[i:j], 8, 32)
			b.WriteRune(rune(r))
			i = j - 1
		default:
			b.WriteByte('\\')
			b.WriteByte(e)
		}
	}
	out := b.String()
	if !utf8.ValidString(out) {
		return strings.ToValidUTF8(out, "�")
	}
	return out
}
