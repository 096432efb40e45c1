package script

// The parser lowers the tree-sitter concrete syntax tree into the node types
// below once per program, so execution never crosses into cgo.

type node interface {
	line() int
}

type pos struct{ Line int }

func (p pos) line() int { return p.Line }

// Stmt is an executable statement.
type Stmt interface {
	node
	stmt()
}

// Expr is an evaluable expression.
type Expr interface {
	node
	expr()
}

type (
	exprStmt struct {
		pos
		X Expr
	}
	assignStmt struct {
		pos
		Targets []Expr
		Value   Expr
	}
	annAssignStmt struct {
		pos
		Target Expr
		Value  Expr
	}
	augAssignStmt struct {
		pos
		Target Expr
		Op     string
		Value  Expr
	}
	ifStmt struct {
		pos
		Cond Expr
		Body []Stmt
		Else []Stmt
	}
	whileStmt struct {
		pos
		Cond Expr
		Body []Stmt
		Else []Stmt
	}
	forStmt struct {
		pos
		Target Expr
		Iter   Expr
		Body   []Stmt
		Else   []Stmt
	}
	funcDef struct {
		pos
		Decorators []Expr
		Code       *Code
	}
	classDef struct {
		pos
		Decorators []Expr
		Bases      []arg
		Code       *Code
	}
	returnStmt struct {
		pos
		Value Expr
	}
	passStmt     struct{ pos }
	breakStmt    struct{ pos }
	continueStmt struct{ pos }
	withStmt     struct {
		pos
		Items []withItem
		Body  []Stmt
	}
	tryStmt struct {
		pos
		Body     []Stmt
		Handlers []handler
		Else     []Stmt
		Finally  []Stmt
	}
	raiseStmt struct {
		pos
		Exc   Expr
		Cause Expr
	}
	globalStmt struct {
		pos
		Names []string
	}
	nonlocalStmt struct {
		pos
		Names []string
	}
	assertStmt struct {
		pos
		Test Expr
		Msg  Expr
	}
	deleteStmt struct {
		pos
		Targets []Expr
	}
	importStmt struct {
		pos
		Names []importName
	}
	importFromStmt struct {
		pos
		Module string
		Names  []importName
		Star   bool
	}
)

type withItem struct {
	Ctx    Expr
	Target Expr
}

type handler struct {
	Line int
	Type Expr
	Name string
	Body []Stmt
}

type importName struct {
	Name  string
	Alias string
}

func (*exprStmt) stmt()       {}
func (*assignStmt) stmt()     {}
func (*annAssignStmt) stmt()  {}
func (*augAssignStmt) stmt()  {}
func (*ifStmt) stmt()         {}
func (*whileStmt) stmt()      {}
func (*forStmt) stmt()        {}
func (*funcDef) stmt()        {}
func (*classDef) stmt()       {}
func (*returnStmt) stmt()     {}
func (*passStmt) stmt()       {}
func (*breakStmt) stmt()      {}
func (*continueStmt) stmt()   {}
func (*withStmt) stmt()       {}
func (*tryStmt) stmt()        {}
func (*raiseStmt) stmt()      {}
func (*globalStmt) stmt()     {}
func (*nonlocalStmt) stmt()   {}
func (*assertStmt) stmt()     {}
func (*deleteStmt) stmt()     {}
func (*importStmt) stmt()     {}
func (*importFromStmt) stmt() {}

type (
	nameExpr struct {
		pos
		ID string
	}
	constExpr struct {
		pos
		Value Value
	}
	fstringExpr struct {
		pos
		Parts []fpart
	}
	binaryExpr struct {
		pos
		Op   string
		L, R Expr
	}
	unaryExpr struct {
		pos
		Op string
		X  Expr
	}
	boolExpr struct {
		pos
		Op   string
		L, R Expr
	}
	notExpr struct {
		pos
		X Expr
	}
	compareExpr struct {
		pos
		Left   Expr
		Ops    []string
		Rights []Expr
	}
	ifExpr struct {
		pos
		Cond, Then, Else Expr
	}
	callExpr struct {
		pos
		Func Expr
		Args []arg
	}
	attrExpr struct {
		pos
		X    Expr
		Name string
	}
	subscriptExpr struct {
		pos
		X     Expr
		Index Expr
	}
	sliceExpr struct {
		pos
		Lo, Hi, Step Expr
	}
	listExpr struct {
		pos
		Elts []Expr
	}
	tupleExpr struct {
		pos
		Elts []Expr
	}
	setExpr struct {
		pos
		Elts []Expr
	}
	dictExpr struct {
		pos
		Items []dictItem
	}
	starredExpr struct {
		pos
		X Expr
	}
	compExpr struct {
		pos
		Kind    compKind
		Elt     Expr
		Key     Expr
		Clauses []compClause
	}
	lambdaExpr struct {
		pos
		Code *Code
	}
	yieldExpr struct {
		pos
		Value Expr
		From  bool
	}
	namedExpr struct {
		pos
		Name  string
		Value Expr
	}
)

type arg struct {
	Value Expr
	Name  string
	Star  bool
	DStar bool
}

type dictItem struct {
	Key   Expr
	Value Expr
	DStar bool
}

type compKind int

const (
	compList compKind = iota
	compSet
	compDict
	compGen
)

type compClause struct {
	Target Expr
	Iter   Expr
	Cond   Expr
}

// fpart is one literal or interpolated segment of an f-string.
type fpart struct {
	Lit   string
	X     Expr
	Conv  byte
	Debug string
	Spec  []fpart
}

func (*nameExpr) expr()      {}
func (*constExpr) expr()     {}
func (*fstringExpr) expr()   {}
func (*binaryExpr) expr()    {}
func (*unaryExpr) expr()     {}
func (*boolExpr) expr()      {}
func (*notExpr) expr()       {}
func (*compareExpr) expr()   {}
func (*ifExpr) expr()        {}
func (*callExpr) expr()      {}
func (*attrExpr) expr()      {}
func (*subscriptExpr) expr() {}
func (*sliceExpr) expr()     {}
func (*listExpr) expr()      {}
func (*tupleExpr) expr()     {}
func (*setExpr) expr()       {}
func (*dictExpr) expr()      {}
func (*starredExpr) expr()   {}
func (*compExpr) expr()      {}
func (*lambdaExpr) expr()    {}
func (*yieldExpr) expr()     {}
func (*namedExpr) expr()     {}

// ParamKind distinguishes how an argument binds to a parameter.
type ParamKind int

const (
	ParamPositional ParamKind = iota
	ParamVarArgs
	ParamKwOnly
	ParamVarKw
)

// Param is one declared parameter of a function or lambda.
type Param struct {
	Name    string
	Kind    ParamKind
	Default Expr
}

// Code is the static description of a function body, lambda or module.
// All activations of the same function share one *Code, so it can be used
// as a stable code unit identity.
type Code struct {
	Name        string
	Filename    string
	FirstLine   int
	DefLine     int
	Params      []Param
	Body        []Stmt
	Expr        Expr
	IsGenerator bool
	IsModule    bool
	IsClass     bool

	locals    map[string]bool
	globals   map[string]bool
	nonlocals map[string]bool
}

// Locals reports whether name is bound inside this code unit.
func (c *Code) Locals(name string) bool { return c.locals[name] }
