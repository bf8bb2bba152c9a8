// internal/semantic/analyzer.go
package semantic

import (
	"strings"

	"compiscript/internal/ast"
	cerr "compiscript/internal/errors"
	"compiscript/internal/symbols"
	"compiscript/internal/types"
)

// Info is the frozen result of a successful analysis: the symbol table
// plus the capture summary for the synthetic top-level frame.
type Info struct {
	Table *symbols.Table

	// MainEnvVars lists the top-level variables some function captures,
	// in the order they are first captured. They move to a heap environment record when
	// the program is lowered.
	MainEnvVars []string
}

// funcFrame tracks one function on the lexical nesting chain during the
// walk. The outermost frame is the synthetic top-level "main".
type funcFrame struct {
	decl  *ast.FunctionDecl // nil for the top-level frame
	scope *symbols.Scope
	// captured accumulates enclosing-frame variables referenced from this
	// frame or below it (propagated so every intermediate frame knows it
	// must thread the environment chain through).
	captured []string
	// envVars lists this frame's own variables that some inner frame
	// captures, in the order they are first captured.
	envVars []string
}

func (f *funcFrame) addCaptured(name string) {
	for _, n := range f.captured {
		if n == name {
			return
		}
	}
	f.captured = append(f.captured, name)
}

func (f *funcFrame) addEnvVar(name string) {
	for _, n := range f.envVars {
		if n == name {
			return
		}
	}
	f.envVars = append(f.envVars, name)
}

// Analyzer walks the parse tree once, binding every name, typing every
// expression and collecting every rule violation into the bag.
type Analyzer struct {
	table       *symbols.Table
	bag         *cerr.Bag
	file        string
	sourceLines []string

	funcs []*funcFrame // lexical function nesting, outermost first

	// Call-graph bookkeeping for environment threading: a function that
	// calls a capturing function needs the environment chain even when
	// it captures nothing itself.
	declOf   map[*symbols.Symbol]*ast.FunctionDecl
	parentOf map[*ast.FunctionDecl]*ast.FunctionDecl
	edges    []callEdge
}

type callEdge struct {
	caller *ast.FunctionDecl // nil when the call site is top-level code
	callee *symbols.Symbol
	line   int
	col    int
}

func NewAnalyzer() *Analyzer {
	return &Analyzer{
		table:    symbols.NewTable(),
		bag:      cerr.NewBag(),
		declOf:   make(map[*symbols.Symbol]*ast.FunctionDecl),
		parentOf: make(map[*ast.FunctionDecl]*ast.FunctionDecl),
	}
}

func NewAnalyzerWithSource(source, file string) *Analyzer {
	a := NewAnalyzer()
	a.file = file
	a.sourceLines = strings.Split(source, "\n")
	return a
}

// Analyze checks the whole program. When any error was collected the
// returned error is the bag holding all of them and no Info is produced.
func (a *Analyzer) Analyze(prog *ast.Program) (*Info, error) {
	// The top-level statement list runs as the program entry; it is the
	// outermost frame of the lexical chain.
	root := &funcFrame{scope: a.table.Global()}
	a.funcs = append(a.funcs, root)

	a.declareClasses(prog)
	a.declareFunctions(prog)

	for _, stmt := range prog.Stmts {
		stmt.Accept(a)
	}

	a.funcs = a.funcs[:len(a.funcs)-1]

	a.threadEnvironments()

	if a.bag.HasErrors() {
		return nil, a.bag
	}

	a.table.Freeze()
	return &Info{
		Table:       a.table,
		MainEnvVars: root.envVars,
	}, nil
}

// Errors exposes the collected diagnostics regardless of outcome.
func (a *Analyzer) Errors() []*cerr.CompileError {
	return a.bag.Errors()
}

// declareClasses registers every top-level class before any body is
// walked, in two rounds so a class may extend one declared after it.
func (a *Analyzer) declareClasses(prog *ast.Program) {
	var decls []*ast.ClassDecl
	for _, stmt := range prog.Stmts {
		if cd, ok := stmt.(*ast.ClassDecl); ok {
			decls = append(decls, cd)
		}
	}

	// Round one: names only.
	for _, cd := range decls {
		sym := &symbols.Symbol{
			Name:    cd.Name,
			Kind:    symbols.KindClass,
			Type:    types.NewClass(cd.Name),
			Line:    cd.Line,
			Col:     cd.Col,
			Methods: make(map[string]*symbols.Symbol),
		}
		if err := a.table.DeclareClass(sym); err != nil {
			a.errorf(cerr.NameError, cd.Line, cd.Col, "%s", err.Error())
			continue
		}
		cd.Sym = sym
	}

	// Round two: superclasses, fields and method signatures. Parents go
	// first regardless of source order so inherited offsets are final.
	byName := make(map[string]*ast.ClassDecl, len(decls))
	for _, cd := range decls {
		if cd.Sym != nil {
			byName[cd.Name] = cd
		}
	}
	done := make(map[*ast.ClassDecl]bool)
	var ensure func(cd *ast.ClassDecl, trail map[string]bool)
	ensure = func(cd *ast.ClassDecl, trail map[string]bool) {
		if done[cd] || trail[cd.Name] {
			return
		}
		trail[cd.Name] = true
		if parent, ok := byName[cd.Superclass]; ok {
			if trail[parent.Name] && !done[parent] {
				a.errorf(cerr.ClassError, cd.Line, cd.Col,
					"inheritance cycle through class '%s'", cd.Name)
				cd.Superclass = ""
			} else {
				ensure(parent, trail)
			}
		}
		done[cd] = true
		a.declareClassMembers(cd)
	}
	for _, cd := range decls {
		if cd.Sym != nil {
			ensure(cd, map[string]bool{})
		}
	}
}

func (a *Analyzer) declareClassMembers(cd *ast.ClassDecl) {
	sym := cd.Sym

	base := 0
	if cd.Superclass != "" {
		parent, ok := a.table.LookupClass(cd.Superclass)
		if !ok {
			a.errorf(cerr.ClassError, cd.Line, cd.Col,
				"class '%s' extends undefined class '%s'", cd.Name, cd.Superclass)
		} else {
			sym.Superclass = cd.Superclass
			base = a.table.TotalFields(parent)
		}
	}

	// Fields append after every inherited one, in declaration order.
	for i, f := range cd.Fields {
		if inherited, ok := a.resolveSuperMember(sym, f.Name); ok && inherited.Kind == symbols.KindField {
			a.errorf(cerr.ClassError, f.Line, f.Col,
				"field '%s' is already declared in a superclass of '%s'", f.Name, cd.Name)
			continue
		}
		fieldSym := &symbols.Symbol{
			Name:   f.Name,
			Kind:   symbols.KindField,
			Type:   f.Type,
			Line:   f.Line,
			Col:    f.Col,
			Owner:  cd.Name,
			Offset: base + i,
		}
		if a.memberDeclaredTwice(sym, f.Name) {
			a.errorf(cerr.NameError, f.Line, f.Col,
				"duplicate member '%s' in class '%s'", f.Name, cd.Name)
			continue
		}
		sym.Fields = append(sym.Fields, fieldSym)
	}

	for _, m := range cd.Methods {
		methodSym := a.functionSymbol(m, symbols.KindMethod)
		methodSym.Owner = cd.Name
		if a.memberDeclaredTwice(sym, m.Name) {
			a.errorf(cerr.NameError, m.Line, m.Col,
				"duplicate member '%s' in class '%s'", m.Name, cd.Name)
			continue
		}
		if overridden, ok := a.resolveSuperMember(sym, m.Name); ok {
			if overridden.Kind != symbols.KindMethod {
				a.errorf(cerr.ClassError, m.Line, m.Col,
					"'%s' overrides a non-method member of a superclass", m.Name)
				continue
			}
			if !sameSignature(methodSym, overridden) {
				a.errorf(cerr.ClassError, m.Line, m.Col,
					"method '%s.%s' overrides '%s.%s' with a different signature",
					cd.Name, m.Name, overridden.Owner, m.Name)
				continue
			}
		}
		sym.Methods[m.Name] = methodSym
		m.Sym = methodSym
	}
}

// resolveSuperMember looks a name up on the superclass chain only,
// skipping the class's own members.
func (a *Analyzer) resolveSuperMember(class *symbols.Symbol, name string) (*symbols.Symbol, bool) {
	if class.Superclass == "" {
		return nil, false
	}
	parent, ok := a.table.LookupClass(class.Superclass)
	if !ok {
		return nil, false
	}
	return a.table.ResolveMember(parent, name)
}

func (a *Analyzer) memberDeclaredTwice(class *symbols.Symbol, name string) bool {
	for _, f := range class.Fields {
		if f.Name == name {
			return true
		}
	}
	_, ok := class.Methods[name]
	return ok
}

func sameSignature(m, overridden *symbols.Symbol) bool {
	if len(m.Params) != len(overridden.Params) {
		return false
	}
	for i := range m.Params {
		if !types.Equals(m.Params[i].Type, overridden.Params[i].Type) {
			return false
		}
	}
	return types.Equals(m.Return, overridden.Return)
}

// declareFunctions hoists every top-level function name so calls may
// appear before the declaration.
func (a *Analyzer) declareFunctions(prog *ast.Program) {
	for _, stmt := range prog.Stmts {
		fd, ok := stmt.(*ast.FunctionDecl)
		if !ok {
			continue
		}
		sym := a.functionSymbol(fd, symbols.KindFunction)
		if err := a.table.Declare(sym); err != nil {
			a.errorf(cerr.NameError, fd.Line, fd.Col, "%s", err.Error())
			continue
		}
		fd.Sym = sym
	}
}

func (a *Analyzer) functionSymbol(fd *ast.FunctionDecl, kind symbols.Kind) *symbols.Symbol {
	sym := &symbols.Symbol{
		Name:   fd.Name,
		Kind:   kind,
		Line:   fd.Line,
		Col:    fd.Col,
		Return: fd.Return,
	}
	paramTypes := make([]*types.Type, len(fd.Params))
	for i, p := range fd.Params {
		sym.Params = append(sym.Params, &symbols.Symbol{
			Name: p.Name,
			Kind: symbols.KindParameter,
			Type: p.Type,
			Line: p.Line,
			Col:  p.Col,
		})
		paramTypes[i] = p.Type
	}
	sym.Type = types.NewFunction(paramTypes, fd.Return)
	a.declOf[sym] = fd
	return sym
}

// --- Statements ---

func (a *Analyzer) VisitLetStmt(stmt *ast.LetStmt) interface{} {
	var initType *types.Type
	if stmt.Init != nil {
		initType = a.typeOf(stmt.Init)
	}

	declared := stmt.Declared
	switch {
	case declared != nil:
		a.checkClassRefs(declared, stmt.Line, stmt.Col)
		if initType != nil && !types.AreAssignable(initType, declared) {
			a.errorf(cerr.TypeError, stmt.Line, stmt.Col,
				"cannot assign '%s' to variable '%s' of type '%s'",
				initType, stmt.Name, declared)
		}
	case initType == nil:
		a.errorf(cerr.TypeError, stmt.Line, stmt.Col,
			"variable '%s' needs a type annotation or an initializer", stmt.Name)
		declared = types.Error
	case initType.Kind == types.KindNull:
		a.errorf(cerr.TypeError, stmt.Line, stmt.Col,
			"cannot infer the type of '%s' from 'null'", stmt.Name)
		declared = types.Error
	case initType.Kind == types.KindVoid:
		a.errorf(cerr.TypeError, stmt.Line, stmt.Col,
			"cannot assign a void expression to '%s'", stmt.Name)
		declared = types.Error
	default:
		declared = initType
	}

	sym := &symbols.Symbol{
		Name: stmt.Name,
		Kind: symbols.KindVariable,
		Type: declared,
		Line: stmt.Line,
		Col:  stmt.Col,
	}
	if err := a.table.Declare(sym); err != nil {
		a.errorf(cerr.NameError, stmt.Line, stmt.Col, "%s", err.Error())
		return nil
	}
	stmt.Sym = sym
	return nil
}

func (a *Analyzer) VisitAssignStmt(stmt *ast.AssignStmt) interface{} {
	valueType := a.typeOf(stmt.Value)
	targetType := a.typeOf(stmt.Target)

	switch stmt.Target.(type) {
	case *ast.Identifier, *ast.GetField, *ast.Index:
		// l-values
	default:
		a.errorf(cerr.TypeError, stmt.Line, stmt.Col, "invalid assignment target")
		return nil
	}

	if ident, ok := stmt.Target.(*ast.Identifier); ok && ident.Sym != nil {
		if ident.Sym.Kind != symbols.KindVariable && ident.Sym.Kind != symbols.KindParameter {
			a.errorf(cerr.NameError, stmt.Line, stmt.Col,
				"cannot assign to %s '%s'", ident.Sym.Kind, ident.Name)
			return nil
		}
	}

	if !types.AreAssignable(valueType, targetType) {
		a.errorf(cerr.TypeError, stmt.Line, stmt.Col,
			"cannot assign '%s' to target of type '%s'", valueType, targetType)
	}
	return nil
}

func (a *Analyzer) VisitExprStmt(stmt *ast.ExprStmt) interface{} {
	a.typeOf(stmt.Expr)
	return nil
}

func (a *Analyzer) VisitPrintStmt(stmt *ast.PrintStmt) interface{} {
	t := a.typeOf(stmt.Expr)
	if t.Kind == types.KindVoid {
		a.errorf(cerr.TypeError, stmt.Line, stmt.Col, "cannot print a void expression")
	}
	return nil
}

func (a *Analyzer) VisitBlockStmt(stmt *ast.BlockStmt) interface{} {
	a.table.EnterScope(symbols.ScopeBlock, nil)
	for _, s := range stmt.Stmts {
		s.Accept(a)
	}
	a.table.ExitScope()
	return nil
}

func (a *Analyzer) VisitIfStmt(stmt *ast.IfStmt) interface{} {
	a.condition(stmt.Cond)
	a.table.EnterScope(symbols.ScopeBlock, nil)
	for _, s := range stmt.Then {
		s.Accept(a)
	}
	a.table.ExitScope()
	if stmt.Else != nil {
		a.table.EnterScope(symbols.ScopeBlock, nil)
		for _, s := range stmt.Else {
			s.Accept(a)
		}
		a.table.ExitScope()
	}
	return nil
}

func (a *Analyzer) VisitWhileStmt(stmt *ast.WhileStmt) interface{} {
	a.condition(stmt.Cond)
	a.table.EnterScope(symbols.ScopeLoop, nil)
	for _, s := range stmt.Body {
		s.Accept(a)
	}
	a.table.ExitScope()
	return nil
}

func (a *Analyzer) VisitDoWhileStmt(stmt *ast.DoWhileStmt) interface{} {
	a.table.EnterScope(symbols.ScopeLoop, nil)
	for _, s := range stmt.Body {
		s.Accept(a)
	}
	a.table.ExitScope()
	a.condition(stmt.Cond)
	return nil
}

func (a *Analyzer) VisitForStmt(stmt *ast.ForStmt) interface{} {
	// The loop header scope keeps init variables local to the loop.
	a.table.EnterScope(symbols.ScopeLoop, nil)
	if stmt.Init != nil {
		stmt.Init.Accept(a)
	}
	if stmt.Cond != nil {
		a.condition(stmt.Cond)
	}
	if stmt.Update != nil {
		stmt.Update.Accept(a)
	}
	for _, s := range stmt.Body {
		s.Accept(a)
	}
	a.table.ExitScope()
	return nil
}

func (a *Analyzer) VisitForeachStmt(stmt *ast.ForeachStmt) interface{} {
	collType := a.typeOf(stmt.Collection)

	elem := types.Error
	if collType.Kind == types.KindArray {
		elem = collType.Elem
	} else if !collType.IsError() {
		a.errorf(cerr.TypeError, stmt.Line, stmt.Col,
			"foreach needs an array, got '%s'", collType)
	}

	a.table.EnterScope(symbols.ScopeForeach, nil)
	sym := &symbols.Symbol{
		Name: stmt.Var,
		Kind: symbols.KindVariable,
		Type: elem,
		Line: stmt.Line,
		Col:  stmt.Col,
	}
	if err := a.table.Declare(sym); err != nil {
		a.errorf(cerr.NameError, stmt.Line, stmt.Col, "%s", err.Error())
	} else {
		stmt.Sym = sym
	}
	for _, s := range stmt.Body {
		s.Accept(a)
	}
	a.table.ExitScope()
	return nil
}

func (a *Analyzer) VisitBreakStmt(stmt *ast.BreakStmt) interface{} {
	if a.table.CurrentLoopDepth() == 0 {
		a.errorf(cerr.ControlFlowError, stmt.Line, stmt.Col, "'break' outside of a loop")
	}
	return nil
}

func (a *Analyzer) VisitContinueStmt(stmt *ast.ContinueStmt) interface{} {
	if a.table.CurrentLoopDepth() == 0 {
		a.errorf(cerr.ControlFlowError, stmt.Line, stmt.Col, "'continue' outside of a loop")
	}
	return nil
}

func (a *Analyzer) VisitReturnStmt(stmt *ast.ReturnStmt) interface{} {
	fn := a.table.CurrentFunction()
	if fn == nil {
		a.errorf(cerr.ControlFlowError, stmt.Line, stmt.Col, "'return' outside of a function")
		if stmt.Value != nil {
			a.typeOf(stmt.Value)
		}
		return nil
	}

	if stmt.Value == nil {
		if fn.Return.Kind != types.KindVoid {
			a.errorf(cerr.TypeError, stmt.Line, stmt.Col,
				"function '%s' must return a value of type '%s'", fn.Name, fn.Return)
		}
		return nil
	}

	valueType := a.typeOf(stmt.Value)
	if fn.Return.Kind == types.KindVoid {
		a.errorf(cerr.TypeError, stmt.Line, stmt.Col,
			"void function '%s' cannot return a value", fn.Name)
	} else if !types.AreAssignable(valueType, fn.Return) {
		a.errorf(cerr.TypeError, stmt.Line, stmt.Col,
			"cannot return '%s' from function '%s' returning '%s'",
			valueType, fn.Name, fn.Return)
	}
	return nil
}

func (a *Analyzer) VisitFunctionDecl(stmt *ast.FunctionDecl) interface{} {
	sym := stmt.Sym
	if sym == nil {
		// Nested function: not hoisted, declared where it appears.
		sym = a.functionSymbol(stmt, symbols.KindFunction)
		if err := a.table.Declare(sym); err != nil {
			a.errorf(cerr.NameError, stmt.Line, stmt.Col, "%s", err.Error())
			return nil
		}
		stmt.Sym = sym
	}
	a.checkFunctionBody(stmt, sym, false)
	return nil
}

func (a *Analyzer) VisitClassDecl(stmt *ast.ClassDecl) interface{} {
	if stmt.Sym == nil {
		if a.table.Current() == a.table.Global() {
			// A top-level class whose name clashed; declareClasses
			// already reported it.
			return nil
		}
		// Only reachable for class declarations below the top level.
		a.errorf(cerr.ClassError, stmt.Line, stmt.Col,
			"class declarations are only allowed at the top level")
		return nil
	}

	a.table.EnterScope(symbols.ScopeClass, stmt.Sym)
	for _, m := range stmt.Methods {
		if m.Sym == nil {
			continue
		}
		a.checkFunctionBody(m, m.Sym, true)
	}
	a.table.ExitScope()
	return nil
}

// checkFunctionBody walks a function or method body inside a fresh
// function scope and frame, then verifies every path returns.
func (a *Analyzer) checkFunctionBody(fd *ast.FunctionDecl, sym *symbols.Symbol, isMethod bool) {
	for _, p := range fd.Params {
		a.checkClassRefs(p.Type, p.Line, p.Col)
	}
	a.checkClassRefs(fd.Return, fd.Line, fd.Col)

	a.parentOf[fd] = a.funcs[len(a.funcs)-1].decl
	scope := a.table.EnterScope(symbols.ScopeFunction, sym)
	frame := &funcFrame{decl: fd, scope: scope}
	a.funcs = append(a.funcs, frame)

	for _, p := range sym.Params {
		if err := a.table.Declare(p); err != nil {
			a.errorf(cerr.NameError, p.Line, p.Col, "%s", err.Error())
		}
	}
	for _, s := range fd.Body {
		s.Accept(a)
	}

	a.funcs = a.funcs[:len(a.funcs)-1]
	a.table.ExitScope()

	fd.Captured = frame.captured
	fd.EnvVars = frame.envVars
	fd.NeedsEnv = len(frame.captured) > 0

	if isMethod && len(frame.captured) > 0 {
		a.errorf(cerr.NameError, fd.Line, fd.Col,
			"method '%s' cannot reference variables declared outside the class", fd.Name)
	}

	if sym.Return.Kind != types.KindVoid && !stmtsAlwaysReturn(fd.Body) {
		a.errorf(cerr.ControlFlowError, fd.Line, fd.Col,
			"function '%s' is missing a return on some path", fd.Name)
	}
}

// threadEnvironments closes the NeedsEnv property over the call graph:
// calling a function that reaches enclosing variables requires handing
// it the environment record, so the caller (and everything between the
// caller and the callee's declaring function) must receive the chain
// too. Methods never carry an environment; a method reaching one is an
// error.
func (a *Analyzer) threadEnvironments() {
	for changed := true; changed; {
		changed = false
		for _, e := range a.edges {
			callee := a.declOf[e.callee]
			if callee == nil || !callee.NeedsEnv || e.caller == nil {
				continue
			}
			owner := a.parentOf[callee]
			for p := e.caller; p != nil && p != owner; p = a.parentOf[p] {
				if !p.NeedsEnv {
					p.NeedsEnv = true
					changed = true
				}
			}
		}
	}
	for _, e := range a.edges {
		callee := a.declOf[e.callee]
		if callee == nil || !callee.NeedsEnv {
			continue
		}
		if e.caller != nil && e.caller.Sym != nil && e.caller.Sym.Kind == symbols.KindMethod {
			a.errorf(cerr.NameError, e.line, e.col,
				"method '%s' cannot call '%s', which uses variables of an enclosing function",
				e.caller.Name, callee.Name)
		}
	}
}

// stmtsAlwaysReturn is the conservative structural check: a list returns
// when some statement in it is guaranteed to return.
func stmtsAlwaysReturn(stmts []ast.Stmt) bool {
	for _, s := range stmts {
		if stmtAlwaysReturns(s) {
			return true
		}
	}
	return false
}

func stmtAlwaysReturns(s ast.Stmt) bool {
	switch stmt := s.(type) {
	case *ast.ReturnStmt:
		return true
	case *ast.IfStmt:
		return len(stmt.Else) > 0 &&
			stmtsAlwaysReturn(stmt.Then) && stmtsAlwaysReturn(stmt.Else)
	case *ast.BlockStmt:
		return stmtsAlwaysReturn(stmt.Stmts)
	default:
		return false
	}
}

// condition types a control-flow condition and requires boolean.
func (a *Analyzer) condition(e ast.Expr) {
	t := a.typeOf(e)
	if !t.IsError() && t.Kind != types.KindBoolean {
		line, col := e.Pos()
		a.errorf(cerr.TypeError, line, col, "condition must be 'boolean', got '%s'", t)
	}
}

// checkClassRefs validates that every class named inside a type exists.
func (a *Analyzer) checkClassRefs(t *types.Type, line, col int) {
	switch t.Kind {
	case types.KindClass:
		if _, ok := a.table.LookupClass(t.Name); !ok {
			a.errorf(cerr.NameError, line, col, "unknown type '%s'", t.Name)
		}
	case types.KindArray:
		a.checkClassRefs(t.Elem, line, col)
	}
}

func (a *Analyzer) errorf(kind cerr.ErrorKind, line, col int, format string, args ...interface{}) {
	err := cerr.Newf(kind, line, col, format, args...)
	if a.file != "" {
		err = err.WithFile(a.file)
	}
	if a.sourceLines != nil && line > 0 && line <= len(a.sourceLines) {
		err = err.WithSource(a.sourceLines[line-1])
	}
	a.bag.Add(err)
}
