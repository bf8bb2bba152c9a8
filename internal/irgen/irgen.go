// internal/irgen/irgen.go
package irgen

import (
	"fmt"

	"compiscript/internal/ast"
	cerr "compiscript/internal/errors"
	"compiscript/internal/semantic"
	"compiscript/internal/symbols"
	"compiscript/internal/tac"
	"compiscript/internal/types"
)

// Runtime routine labels the backend links in on demand. String
// concatenation and textual coercion run out of line; the IR calls them
// like ordinary functions so the quadruple stream stays type-free.
const (
	RuntimeConcat  = "__concat"
	RuntimeStrInt  = "__str_int"
	RuntimeStrBool = "__str_bool"
)

// funcMeta records where a function was declared on the lexical chain
// and how to call it.
type funcMeta struct {
	label    string
	needsEnv bool
	frameIdx int
	isVoid   bool
}

// frame is one function on the lexical nesting chain during lowering.
type frame struct {
	label string

	// Environment-record state for captured variables.
	envVars     []string // own variables promoted to the heap record
	needsParent bool     // receives the enclosing record as implicit __env
	hasRecord   bool
	recordName  string // layout name of the record
	recordTok   string // value token holding the record

	nested map[string]*funcMeta // functions declared directly inside
	used   map[string]bool      // IR names handed out in this frame
}

// scope is one lexical name scope; IR names are uniqued per function so
// shadowing declarations do not collide in the register map.
type scope struct {
	vars     map[string]string
	frameIdx int
}

type loopCtx struct {
	continueLabel string
	breakLabel    string
}

// queued is a function body whose emission waits until the enclosing
// function is fully bracketed.
type queued struct {
	decl     *ast.FunctionDecl
	label    string
	isMethod bool
	chain    []*frame // lexical parent chain at the declaration site
}

// Generator lowers the typed tree into one flat quadruple stream. The
// symbol table arrives frozen and is only read.
type Generator struct {
	prog  *tac.Program
	gen   *tac.Generator
	table *symbols.Table

	frames []*frame
	scopes []*scope
	loops  []loopCtx
	queue  []queued
	labels map[string]bool // function labels handed out so far
}

func NewGenerator(info *semantic.Info) *Generator {
	return &Generator{
		prog:   tac.NewProgram(),
		gen:    tac.NewGenerator(),
		table:  info.Table,
		labels: map[string]bool{"main": true},
	}
}

// funcLabel reserves a unique emission label for a function; same-named
// declarations in sibling scopes get a numeric suffix.
func (g *Generator) funcLabel(base string) string {
	label := base
	for n := 1; g.labels[label]; n++ {
		label = fmt.Sprintf("%s.%d", base, n)
	}
	g.labels[label] = true
	return label
}

// Generate lowers a whole program: the top-level statement list becomes
// main, every function and method body follows bracketed on its own.
// Errors are fail-fast.
func Generate(prog *ast.Program, info *semantic.Info) (p *tac.Program, err error) {
	g := NewGenerator(info)
	defer func() {
		if r := recover(); r != nil {
			ce, ok := r.(*cerr.CompileError)
			if !ok {
				panic(r)
			}
			p, err = nil, ce
		}
	}()

	g.registerClassLayouts(prog)

	main := &frame{
		label:   "main",
		envVars: info.MainEnvVars,
		nested:  make(map[string]*funcMeta),
		used:    make(map[string]bool),
	}
	main.hasRecord = len(main.envVars) > 0
	if main.hasRecord {
		main.recordName = recordLayoutName("main")
	}

	// Top-level functions are hoisted: register them before main's body
	// so calls ahead of the declaration resolve.
	var mainBody []ast.Stmt
	for _, stmt := range prog.Stmts {
		switch s := stmt.(type) {
		case *ast.FunctionDecl:
			label := g.funcLabel(s.Name)
			main.nested[s.Name] = &funcMeta{
				label:    label,
				needsEnv: s.NeedsEnv,
				frameIdx: 0,
				isVoid:   s.Return.Kind == types.KindVoid,
			}
			g.queue = append(g.queue, queued{decl: s, label: label, chain: []*frame{main}})
		case *ast.ClassDecl:
			// Lowered after main via the method queue.
		default:
			mainBody = append(mainBody, stmt)
		}
	}
	for _, stmt := range prog.Stmts {
		if cd, ok := stmt.(*ast.ClassDecl); ok {
			for _, m := range cd.Methods {
				g.queue = append(g.queue, queued{
					decl:     m,
					label:    g.funcLabel(cd.Name + "." + m.Name),
					isMethod: true,
					chain:    []*frame{main},
				})
			}
		}
	}

	g.emitBody(main, nil, mainBody, false)

	for len(g.queue) > 0 {
		q := g.queue[0]
		g.queue = g.queue[1:]
		g.emitFunction(q)
	}

	return g.prog, nil
}

// registerClassLayouts flattens every class into its word layout,
// inherited fields first.
func (g *Generator) registerClassLayouts(prog *ast.Program) {
	for _, stmt := range prog.Stmts {
		cd, ok := stmt.(*ast.ClassDecl)
		if !ok {
			continue
		}
		layout := &tac.Layout{Name: cd.Name}
		layout.Fields = g.flattenFields(cd.Sym)
		g.prog.Layouts[cd.Name] = layout
	}
}

func (g *Generator) flattenFields(class *symbols.Symbol) []string {
	var fields []string
	if class.Superclass != "" {
		if parent, ok := g.table.LookupClass(class.Superclass); ok {
			fields = g.flattenFields(parent)
		}
	}
	for _, f := range class.Fields {
		fields = append(fields, f.Name)
	}
	return fields
}

func recordLayoutName(label string) string {
	return "__frame_" + label
}

// --- Lowering helpers ---

func (g *Generator) emit(op tac.Op, a1, a2, res string) {
	g.prog.Emit(op, a1, a2, res)
}

func (g *Generator) fail(kind cerr.ErrorKind, line, col int, format string, args ...interface{}) {
	panic(cerr.Newf(kind, line, col, format, args...))
}

func (g *Generator) curFrame() *frame {
	return g.frames[len(g.frames)-1]
}

func (g *Generator) pushScope() {
	g.scopes = append(g.scopes, &scope{
		vars:     make(map[string]string),
		frameIdx: len(g.frames) - 1,
	})
}

func (g *Generator) popScope() {
	g.scopes = g.scopes[:len(g.scopes)-1]
}

// declareName binds a source name in the innermost scope to an IR name
// unique within the current function.
func (g *Generator) declareName(name string) string {
	f := g.curFrame()
	ir := name
	for n := 1; f.used[ir]; n++ {
		ir = fmt.Sprintf("%s.%d", name, n)
	}
	f.used[ir] = true
	top := g.scopes[len(g.scopes)-1]
	top.vars[name] = ir
	return ir
}

// lookupName resolves a source name to its IR name and declaring frame.
func (g *Generator) lookupName(name string) (irName string, frameIdx int, ok bool) {
	for i := len(g.scopes) - 1; i >= 0; i-- {
		if ir, found := g.scopes[i].vars[name]; found {
			return ir, g.scopes[i].frameIdx, true
		}
	}
	return "", 0, false
}

// lookupFunc resolves a callable name through the frame chain.
func (g *Generator) lookupFunc(name string) (*funcMeta, bool) {
	for i := len(g.frames) - 1; i >= 0; i-- {
		if m, ok := g.frames[i].nested[name]; ok {
			return m, true
		}
	}
	return nil, false
}

// recordOf returns a token holding the environment record of the frame
// at index idx, reached from the current frame by walking parent links.
func (g *Generator) recordOf(idx int, line, col int) string {
	cur := len(g.frames) - 1
	if idx == cur {
		f := g.curFrame()
		if !f.hasRecord {
			g.fail(cerr.ResourceError, line, col,
				"internal: frame '%s' has no environment record", f.label)
		}
		return f.recordTok
	}
	if !g.curFrame().needsParent {
		g.fail(cerr.NameError, line, col,
			"cannot reach variables of '%s' from here", g.frames[idx].label)
	}
	// The implicit __env parameter holds the record of the frame one
	// level out; each __parent link steps one level further.
	tok := "__env"
	for level := cur - 1; level > idx; level-- {
		t := g.gen.NewTemp()
		g.emit(tac.OpGetField, tok, g.frames[level].recordName+"."+tac.ParentField, t)
		tok = t
	}
	return tok
}

// loadVar produces a token holding the variable's current value,
// indirecting through environment records for captured variables.
func (g *Generator) loadVar(ident *ast.Identifier) string {
	ir, frameIdx, ok := g.lookupName(ident.Name)
	if !ok {
		// Captured from an enclosing function whose scopes are closed:
		// find the owner frame through its promoted variables.
		return g.loadCaptured(ident.Name, ident.Line, ident.Col)
	}
	sym := ident.Sym
	if sym != nil && sym.Captured {
		rec := g.recordOf(frameIdx, ident.Line, ident.Col)
		t := g.gen.NewTemp()
		g.emit(tac.OpGetField, rec, g.frames[frameIdx].recordName+"."+ident.Name, t)
		return t
	}
	return ir
}

func (g *Generator) loadCaptured(name string, line, col int) string {
	idx, ok := g.ownerFrame(name)
	if !ok {
		g.fail(cerr.NameError, line, col, "unresolved captured variable '%s'", name)
	}
	rec := g.recordOf(idx, line, col)
	t := g.gen.NewTemp()
	g.emit(tac.OpGetField, rec, g.frames[idx].recordName+"."+name, t)
	return t
}

// storeVar writes a value token into a variable.
func (g *Generator) storeVar(ident *ast.Identifier, val string) {
	ir, frameIdx, ok := g.lookupName(ident.Name)
	if !ok {
		idx, found := g.ownerFrame(ident.Name)
		if !found {
			g.fail(cerr.NameError, ident.Line, ident.Col,
				"unresolved captured variable '%s'", ident.Name)
		}
		rec := g.recordOf(idx, ident.Line, ident.Col)
		g.emit(tac.OpSetField, val, rec, g.frames[idx].recordName+"."+ident.Name)
		return
	}
	if ident.Sym != nil && ident.Sym.Captured {
		rec := g.recordOf(frameIdx, ident.Line, ident.Col)
		g.emit(tac.OpSetField, val, rec, g.frames[frameIdx].recordName+"."+ident.Name)
		return
	}
	if isName(val) {
		g.emit(tac.OpCopy, val, "", ir)
	} else {
		g.emit(tac.OpAssign, val, "", ir)
	}
}

// ownerFrame finds the closest enclosing frame whose environment record
// holds the named variable.
func (g *Generator) ownerFrame(name string) (int, bool) {
	for i := len(g.frames) - 2; i >= 0; i-- {
		for _, v := range g.frames[i].envVars {
			if v == name {
				return i, true
			}
		}
	}
	return 0, false
}

// isName reports whether a token is a user variable rather than a
// literal or temporary; variable-to-variable moves lower as COPY.
func isName(tok string) bool {
	if tok == "" || tok == "true" || tok == "false" || tok == "null" {
		return false
	}
	c := tok[0]
	if c == '"' || (c >= '0' && c <= '9') || c == '-' {
		return false
	}
	if c == 't' && len(tok) > 1 && allDigits(tok[1:]) {
		return false
	}
	return true
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return len(s) > 0
}

// --- Expressions ---

// lower evaluates an expression and returns the token holding its value.
func (g *Generator) lower(e ast.Expr) string {
	tok, _ := e.Accept(g).(string)
	return tok
}

func (g *Generator) VisitLiteral(expr *ast.Literal) interface{} {
	return expr.Value
}

func (g *Generator) VisitIdentifier(expr *ast.Identifier) interface{} {
	return g.loadVar(expr)
}

var binaryOps = map[string]tac.Op{
	"+":  tac.OpAdd,
	"-":  tac.OpSub,
	"*":  tac.OpMul,
	"/":  tac.OpDiv,
	"%":  tac.OpMod,
	"<":  tac.OpLT,
	"<=": tac.OpLE,
	">":  tac.OpGT,
	">=": tac.OpGE,
	"==": tac.OpEQ,
	"!=": tac.OpNE,
}

func (g *Generator) VisitBinary(expr *ast.Binary) interface{} {
	// String concatenation runs through the runtime helper; the operands
	// are coerced to their textual form first.
	if expr.Operator == "+" && expr.Type().Kind == types.KindString {
		left := g.coerceString(expr.Left)
		right := g.coerceString(expr.Right)
		t := g.gen.NewTemp()
		g.emit(tac.OpParam, left, "", "")
		g.emit(tac.OpParam, right, "", "")
		g.emit(tac.OpCall, RuntimeConcat, "2", t)
		return t
	}

	left := g.lower(expr.Left)
	right := g.lower(expr.Right)
	t := g.gen.NewTemp()
	g.emit(binaryOps[expr.Operator], left, right, t)
	return t
}

// coerceString evaluates an operand of a string concatenation, wrapping
// non-string values in the matching textual-coercion call.
func (g *Generator) coerceString(e ast.Expr) string {
	tok := g.lower(e)
	switch e.Type().Kind {
	case types.KindString:
		return tok
	case types.KindBoolean:
		return g.runtimeCall(RuntimeStrBool, tok)
	default:
		return g.runtimeCall(RuntimeStrInt, tok)
	}
}

func (g *Generator) runtimeCall(fn, arg string) string {
	t := g.gen.NewTemp()
	g.emit(tac.OpParam, arg, "", "")
	g.emit(tac.OpCall, fn, "1", t)
	return t
}

func (g *Generator) VisitLogical(expr *ast.Logical) interface{} {
	t := g.gen.NewTemp()
	if expr.Operator == "&&" {
		end := g.gen.NewLabel(tac.PrefixAnd)
		left := g.lower(expr.Left)
		g.emit(tac.OpAssign, "false", "", t)
		g.emit(tac.OpIfFalse, left, end, "")
		right := g.lower(expr.Right)
		g.emit(tac.OpAssign, right, "", t)
		g.emit(tac.OpLabel, end, "", "")
		return t
	}
	end := g.gen.NewLabel(tac.PrefixOr)
	left := g.lower(expr.Left)
	g.emit(tac.OpAssign, "true", "", t)
	g.emit(tac.OpIfTrue, left, end, "")
	right := g.lower(expr.Right)
	g.emit(tac.OpAssign, right, "", t)
	g.emit(tac.OpLabel, end, "", "")
	return t
}

func (g *Generator) VisitUnary(expr *ast.Unary) interface{} {
	operand := g.lower(expr.Operand)
	t := g.gen.NewTemp()
	if expr.Operator == "-" {
		g.emit(tac.OpNeg, operand, "", t)
	} else {
		g.emit(tac.OpNot, operand, "", t)
	}
	return t
}

func (g *Generator) VisitTernary(expr *ast.Ternary) interface{} {
	cond := g.lower(expr.Cond)
	elseL := g.gen.NewLabel(tac.PrefixTernary)
	endL := g.gen.NewLabel(tac.PrefixTernary)
	t := g.gen.NewTemp()

	g.emit(tac.OpIfFalse, cond, elseL, "")
	thenTok := g.lower(expr.Then)
	g.emit(tac.OpAssign, thenTok, "", t)
	g.emit(tac.OpGoto, endL, "", "")
	g.emit(tac.OpLabel, elseL, "", "")
	elseTok := g.lower(expr.Else)
	g.emit(tac.OpAssign, elseTok, "", t)
	g.emit(tac.OpLabel, endL, "", "")
	return t
}

func (g *Generator) VisitCall(expr *ast.Call) interface{} {
	meta, ok := g.lookupFunc(expr.Name)
	if !ok {
		g.fail(cerr.NameError, expr.Line, expr.Col,
			"call to unknown function '%s'", expr.Name)
	}

	var params []string
	if meta.needsEnv {
		env := g.recordOf(meta.frameIdx, expr.Line, expr.Col)
		params = append(params, env)
	}
	for _, arg := range expr.Args {
		params = append(params, g.lower(arg))
	}
	for _, p := range params {
		g.emit(tac.OpParam, p, "", "")
	}

	res := ""
	if !meta.isVoid {
		res = g.gen.NewTemp()
	}
	g.emit(tac.OpCall, meta.label, fmt.Sprintf("%d", len(params)), res)
	return res
}

func (g *Generator) VisitMethodCall(expr *ast.MethodCall) interface{} {
	obj := g.lower(expr.Object)
	params := []string{obj}
	for _, arg := range expr.Args {
		params = append(params, g.lower(arg))
	}
	for _, p := range params {
		g.emit(tac.OpParam, p, "", "")
	}

	res := ""
	if expr.Sym.Return.Kind != types.KindVoid {
		res = g.gen.NewTemp()
	}
	// Static dispatch: the label belongs to the class that declares the
	// method on the receiver's declared type.
	g.emit(tac.OpCallMethod, obj, expr.Sym.Owner+"."+expr.Method, res)
	return res
}

func (g *Generator) VisitGetField(expr *ast.GetField) interface{} {
	obj := g.lower(expr.Object)
	t := g.gen.NewTemp()
	g.emit(tac.OpGetField, obj, expr.Object.Type().Name+"."+expr.Field, t)
	return t
}

func (g *Generator) VisitIndex(expr *ast.Index) interface{} {
	arr := g.lower(expr.Object)
	idx := g.lower(expr.Index)
	t := g.gen.NewTemp()
	g.emit(tac.OpArrayLoad, arr, idx, t)
	return t
}

func (g *Generator) VisitArrayLit(expr *ast.ArrayLit) interface{} {
	a := g.gen.NewTemp()
	g.emit(tac.OpArrayNew, fmt.Sprintf("%d", len(expr.Elements)), "", a)
	for i, e := range expr.Elements {
		val := g.lower(e)
		g.emit(tac.OpArrayStore, val, a, fmt.Sprintf("%d", i))
	}
	return a
}

func (g *Generator) VisitNew(expr *ast.New) interface{} {
	t := g.gen.NewTemp()
	g.emit(tac.OpNew, expr.ClassName, "", t)
	return t
}

func (g *Generator) VisitThis(expr *ast.This) interface{} {
	return "this"
}
