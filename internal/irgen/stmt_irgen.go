// internal/irgen/stmt_irgen.go
package irgen

import (
	"compiscript/internal/ast"
	cerr "compiscript/internal/errors"
	"compiscript/internal/tac"
	"compiscript/internal/types"
)

// emitBody brackets and lowers one function given its prepared frame and
// lexical parent chain. The synthetic main is lowered through it as well.
func (g *Generator) emitBody(f *frame, chain []*frame, body []ast.Stmt, isMethod bool) {
	g.frames = append(chain, f)
	savedScopes := g.scopes
	g.scopes = nil
	g.pushScope()

	if !f.hasRecord && g.anyChildNeedsEnv(body) {
		// Children need the chain threaded through even though nothing
		// of ours is captured; the record then holds only the parent link.
		f.hasRecord = true
		f.recordName = recordLayoutName(f.label)
	}

	info := &tac.FuncInfo{Name: f.label}
	if f.needsParent {
		info.Params = append(info.Params, "__env")
		g.curFrame().used["__env"] = true
		g.scopes[0].vars["__env"] = "__env"
	}
	if isMethod {
		info.Params = append(info.Params, "this")
		g.curFrame().used["this"] = true
		g.scopes[0].vars["this"] = "this"
	}

	g.prog.Funcs[f.label] = info
	g.emit(tac.OpBeginFunc, f.label, "", "")

	if f.hasRecord {
		g.registerRecordLayout(f)
		f.recordTok = "__frame"
		f.used["__frame"] = true
		g.emit(tac.OpNew, f.recordName, "", f.recordTok)
		if f.needsParent {
			g.emit(tac.OpSetField, "__env", f.recordTok, f.recordName+"."+tac.ParentField)
		}
	}

	g.lowerStmts(body)

	if !endsWithReturn(body) {
		g.emit(tac.OpReturn, "", "", "")
	}
	g.emit(tac.OpEndFunc, f.label, "", "")

	g.popScope()
	g.scopes = savedScopes
	g.frames = g.frames[:len(g.frames)-1]
}

// emitFunction lowers one queued function or method declaration.
func (g *Generator) emitFunction(q queued) {
	decl := q.decl
	f := &frame{
		label:       q.label,
		envVars:     decl.EnvVars,
		needsParent: decl.NeedsEnv && !q.isMethod,
		nested:      make(map[string]*funcMeta),
		used:        make(map[string]bool),
	}
	f.hasRecord = len(f.envVars) > 0
	if f.hasRecord {
		f.recordName = recordLayoutName(f.label)
	}

	g.frames = append(q.chain, f)
	savedScopes := g.scopes
	g.scopes = nil
	g.pushScope()

	if !f.hasRecord && g.anyChildNeedsEnv(decl.Body) {
		f.hasRecord = true
		f.recordName = recordLayoutName(f.label)
	}

	info := &tac.FuncInfo{Name: f.label}
	if f.needsParent {
		info.Params = append(info.Params, "__env")
		f.used["__env"] = true
		g.scopes[0].vars["__env"] = "__env"
	}
	if q.isMethod {
		info.Params = append(info.Params, "this")
		f.used["this"] = true
		g.scopes[0].vars["this"] = "this"
	}
	for _, p := range decl.Params {
		ir := g.declareName(p.Name)
		info.Params = append(info.Params, ir)
	}

	g.prog.Funcs[f.label] = info
	g.emit(tac.OpBeginFunc, f.label, "", "")

	if f.hasRecord {
		g.registerRecordLayout(f)
		f.recordTok = "__frame"
		f.used["__frame"] = true
		g.emit(tac.OpNew, f.recordName, "", f.recordTok)
		if f.needsParent {
			g.emit(tac.OpSetField, "__env", f.recordTok, f.recordName+"."+tac.ParentField)
		}
		// Parameters that inner functions capture move into the record
		// right away; every later access goes through it.
		for i, p := range decl.Params {
			if decl.Sym != nil && decl.Sym.Params[i].Captured {
				g.emit(tac.OpSetField, p.Name, f.recordTok, f.recordName+"."+p.Name)
			}
		}
	}

	g.lowerStmts(decl.Body)

	if !endsWithReturn(decl.Body) {
		g.emit(tac.OpReturn, "", "", "")
	}
	g.emit(tac.OpEndFunc, f.label, "", "")

	g.popScope()
	g.scopes = savedScopes
	g.frames = g.frames[:len(g.frames)-1]
}

func (g *Generator) registerRecordLayout(f *frame) {
	layout := &tac.Layout{Name: f.recordName}
	if f.needsParent {
		layout.Fields = append(layout.Fields, tac.ParentField)
	}
	layout.Fields = append(layout.Fields, f.envVars...)
	g.prog.Layouts[f.recordName] = layout
}

// anyChildNeedsEnv reports whether a function declared anywhere in this
// body (but not inside a deeper function) captures enclosing variables.
func (g *Generator) anyChildNeedsEnv(body []ast.Stmt) bool {
	for _, s := range body {
		switch stmt := s.(type) {
		case *ast.FunctionDecl:
			if stmt.NeedsEnv {
				return true
			}
		case *ast.BlockStmt:
			if g.anyChildNeedsEnv(stmt.Stmts) {
				return true
			}
		case *ast.IfStmt:
			if g.anyChildNeedsEnv(stmt.Then) || g.anyChildNeedsEnv(stmt.Else) {
				return true
			}
		case *ast.WhileStmt:
			if g.anyChildNeedsEnv(stmt.Body) {
				return true
			}
		case *ast.DoWhileStmt:
			if g.anyChildNeedsEnv(stmt.Body) {
				return true
			}
		case *ast.ForStmt:
			if g.anyChildNeedsEnv(stmt.Body) {
				return true
			}
		case *ast.ForeachStmt:
			if g.anyChildNeedsEnv(stmt.Body) {
				return true
			}
		}
	}
	return false
}

// lowerStmts lowers a statement list, flushing the generator's free list
// after each statement so no released name crosses a statement boundary.
func (g *Generator) lowerStmts(stmts []ast.Stmt) {
	for _, s := range stmts {
		s.Accept(g)
		g.gen.FlushFree()
	}
}

func endsWithReturn(stmts []ast.Stmt) bool {
	if len(stmts) == 0 {
		return false
	}
	_, ok := stmts[len(stmts)-1].(*ast.ReturnStmt)
	return ok
}

// --- Statements ---

func (g *Generator) VisitLetStmt(stmt *ast.LetStmt) interface{} {
	var val string
	if stmt.Init != nil {
		val = g.lower(stmt.Init)
		if stmt.Sym != nil && stmt.Sym.Type.Kind == types.KindFloat {
			val = floatToken(val)
		}
	} else {
		val = types.DefaultValue(stmt.Sym.Type)
	}

	ir := g.declareName(stmt.Name)
	if stmt.Sym != nil && stmt.Sym.Captured {
		f := g.curFrame()
		g.emit(tac.OpSetField, val, f.recordTok, f.recordName+"."+stmt.Name)
		return nil
	}
	if isName(val) {
		g.emit(tac.OpCopy, val, "", ir)
	} else {
		g.emit(tac.OpAssign, val, "", ir)
	}
	return nil
}

// floatToken widens an integer literal initializer so a float variable
// starts from a float constant.
func floatToken(tok string) string {
	if allDigits(tok) {
		return tok + ".0"
	}
	return tok
}

func (g *Generator) VisitAssignStmt(stmt *ast.AssignStmt) interface{} {
	switch target := stmt.Target.(type) {
	case *ast.Identifier:
		val := g.lower(stmt.Value)
		if target.Sym != nil && target.Sym.Type.Kind == types.KindFloat {
			val = floatToken(val)
		}
		g.storeVar(target, val)
	case *ast.GetField:
		obj := g.lower(target.Object)
		val := g.lower(stmt.Value)
		g.emit(tac.OpSetField, val, obj, target.Object.Type().Name+"."+target.Field)
	case *ast.Index:
		arr := g.lower(target.Object)
		idx := g.lower(target.Index)
		val := g.lower(stmt.Value)
		g.emit(tac.OpArrayStore, val, arr, idx)
	default:
		g.fail(cerr.TypeError, stmt.Line, stmt.Col, "invalid assignment target")
	}
	return nil
}

func (g *Generator) VisitExprStmt(stmt *ast.ExprStmt) interface{} {
	g.lower(stmt.Expr)
	return nil
}

func (g *Generator) VisitPrintStmt(stmt *ast.PrintStmt) interface{} {
	val := g.lower(stmt.Expr)
	g.emit(tac.OpPrint, val, printHint(stmt.Expr.Type()), "")
	return nil
}

// printHint tags the PRINT quadruple with the value category so the
// backend picks the matching syscall without tracking types itself.
func printHint(t *types.Type) string {
	switch t.Kind {
	case types.KindString:
		return "string"
	case types.KindFloat:
		return "float"
	case types.KindBoolean:
		return "boolean"
	default:
		return "integer"
	}
}

func (g *Generator) VisitBlockStmt(stmt *ast.BlockStmt) interface{} {
	g.pushScope()
	g.lowerStmts(stmt.Stmts)
	g.popScope()
	return nil
}

func (g *Generator) VisitIfStmt(stmt *ast.IfStmt) interface{} {
	cond := g.lower(stmt.Cond)
	endL := g.gen.NewLabel(tac.PrefixIfEnd)

	if len(stmt.Else) == 0 {
		g.emit(tac.OpIfFalse, cond, endL, "")
		g.pushScope()
		g.lowerStmts(stmt.Then)
		g.popScope()
		g.emit(tac.OpLabel, endL, "", "")
		return nil
	}

	elseL := g.gen.NewLabel(tac.PrefixElse)
	g.emit(tac.OpIfFalse, cond, elseL, "")
	g.pushScope()
	g.lowerStmts(stmt.Then)
	g.popScope()
	g.emit(tac.OpGoto, endL, "", "")
	g.emit(tac.OpLabel, elseL, "", "")
	g.pushScope()
	g.lowerStmts(stmt.Else)
	g.popScope()
	g.emit(tac.OpLabel, endL, "", "")
	return nil
}

func (g *Generator) VisitWhileStmt(stmt *ast.WhileStmt) interface{} {
	startL := g.gen.NewLabel(tac.PrefixWhile)
	endL := g.gen.NewLabel(tac.PrefixWhile)

	g.emit(tac.OpLabel, startL, "", "")
	cond := g.lower(stmt.Cond)
	g.emit(tac.OpIfFalse, cond, endL, "")

	g.loops = append(g.loops, loopCtx{continueLabel: startL, breakLabel: endL})
	g.pushScope()
	g.lowerStmts(stmt.Body)
	g.popScope()
	g.loops = g.loops[:len(g.loops)-1]

	g.emit(tac.OpGoto, startL, "", "")
	g.emit(tac.OpLabel, endL, "", "")
	return nil
}

func (g *Generator) VisitDoWhileStmt(stmt *ast.DoWhileStmt) interface{} {
	startL := g.gen.NewLabel(tac.PrefixDoWhile)
	condL := g.gen.NewLabel(tac.PrefixDoWhile)
	endL := g.gen.NewLabel(tac.PrefixDoWhile)

	g.emit(tac.OpLabel, startL, "", "")
	g.loops = append(g.loops, loopCtx{continueLabel: condL, breakLabel: endL})
	g.pushScope()
	g.lowerStmts(stmt.Body)
	g.popScope()
	g.loops = g.loops[:len(g.loops)-1]

	g.emit(tac.OpLabel, condL, "", "")
	cond := g.lower(stmt.Cond)
	g.emit(tac.OpIfTrue, cond, startL, "")
	g.emit(tac.OpLabel, endL, "", "")
	return nil
}

func (g *Generator) VisitForStmt(stmt *ast.ForStmt) interface{} {
	condL := g.gen.NewLabel(tac.PrefixFor)
	contL := g.gen.NewLabel(tac.PrefixFor)
	endL := g.gen.NewLabel(tac.PrefixFor)

	// The header scope keeps init variables local to the loop.
	g.pushScope()
	if stmt.Init != nil {
		stmt.Init.Accept(g)
		g.gen.FlushFree()
	}

	g.emit(tac.OpLabel, condL, "", "")
	if stmt.Cond != nil {
		cond := g.lower(stmt.Cond)
		g.emit(tac.OpIfFalse, cond, endL, "")
	}

	g.loops = append(g.loops, loopCtx{continueLabel: contL, breakLabel: endL})
	g.lowerStmts(stmt.Body)
	g.loops = g.loops[:len(g.loops)-1]

	g.emit(tac.OpLabel, contL, "", "")
	if stmt.Update != nil {
		stmt.Update.Accept(g)
		g.gen.FlushFree()
	}
	g.emit(tac.OpGoto, condL, "", "")
	g.emit(tac.OpLabel, endL, "", "")
	g.popScope()
	return nil
}

func (g *Generator) VisitForeachStmt(stmt *ast.ForeachStmt) interface{} {
	condL := g.gen.NewLabel(tac.PrefixForeach)
	contL := g.gen.NewLabel(tac.PrefixForeach)
	endL := g.gen.NewLabel(tac.PrefixForeach)

	arr := g.lower(stmt.Collection)
	length := g.gen.NewTemp()
	g.emit(tac.OpGetField, arr, tac.LenField, length)
	idx := g.gen.NewTemp()
	g.emit(tac.OpAssign, "0", "", idx)

	g.pushScope()
	ir := g.declareName(stmt.Var)

	g.emit(tac.OpLabel, condL, "", "")
	cmp := g.gen.NewTemp()
	g.emit(tac.OpLT, idx, length, cmp)
	g.emit(tac.OpIfFalse, cmp, endL, "")

	if stmt.Sym != nil && stmt.Sym.Captured {
		t := g.gen.NewTemp()
		g.emit(tac.OpArrayLoad, arr, idx, t)
		f := g.curFrame()
		g.emit(tac.OpSetField, t, f.recordTok, f.recordName+"."+stmt.Var)
	} else {
		g.emit(tac.OpArrayLoad, arr, idx, ir)
	}

	g.loops = append(g.loops, loopCtx{continueLabel: contL, breakLabel: endL})
	g.lowerStmts(stmt.Body)
	g.loops = g.loops[:len(g.loops)-1]

	g.emit(tac.OpLabel, contL, "", "")
	g.emit(tac.OpAdd, idx, "1", idx)
	g.emit(tac.OpGoto, condL, "", "")
	g.emit(tac.OpLabel, endL, "", "")
	g.popScope()
	return nil
}

func (g *Generator) VisitBreakStmt(stmt *ast.BreakStmt) interface{} {
	if len(g.loops) == 0 {
		g.fail(cerr.ControlFlowError, stmt.Line, stmt.Col, "'break' outside of a loop")
	}
	g.emit(tac.OpGoto, g.loops[len(g.loops)-1].breakLabel, "", "")
	return nil
}

func (g *Generator) VisitContinueStmt(stmt *ast.ContinueStmt) interface{} {
	if len(g.loops) == 0 {
		g.fail(cerr.ControlFlowError, stmt.Line, stmt.Col, "'continue' outside of a loop")
	}
	g.emit(tac.OpGoto, g.loops[len(g.loops)-1].continueLabel, "", "")
	return nil
}

func (g *Generator) VisitReturnStmt(stmt *ast.ReturnStmt) interface{} {
	if stmt.Value == nil {
		g.emit(tac.OpReturn, "", "", "")
		return nil
	}
	val := g.lower(stmt.Value)
	g.emit(tac.OpReturn, val, "", "")
	return nil
}

func (g *Generator) VisitFunctionDecl(stmt *ast.FunctionDecl) interface{} {
	cur := len(g.frames) - 1
	if cur == 0 && g.curFrame().nested[stmt.Name] != nil {
		// Top-level functions are hoisted and queued before main's body.
		return nil
	}

	label := g.funcLabel(g.curFrame().label + "." + stmt.Name)
	g.curFrame().nested[stmt.Name] = &funcMeta{
		label:    label,
		needsEnv: stmt.NeedsEnv,
		frameIdx: cur,
		isVoid:   stmt.Return.Kind == types.KindVoid,
	}

	chain := make([]*frame, len(g.frames))
	copy(chain, g.frames)
	g.queue = append(g.queue, queued{decl: stmt, label: label, chain: chain})
	return nil
}

func (g *Generator) VisitClassDecl(stmt *ast.ClassDecl) interface{} {
	// Layouts and method queueing happen before lowering starts.
	return nil
}
