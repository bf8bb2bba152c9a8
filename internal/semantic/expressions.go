// internal/semantic/expressions.go
package semantic

import (
	"compiscript/internal/ast"
	cerr "compiscript/internal/errors"
	"compiscript/internal/symbols"
	"compiscript/internal/types"
)

// typeOf types an expression node, annotates it and returns the type.
func (a *Analyzer) typeOf(e ast.Expr) *types.Type {
	t, ok := e.Accept(a).(*types.Type)
	if !ok || t == nil {
		t = types.Error
	}
	e.SetType(t)
	return t
}

func (a *Analyzer) VisitLiteral(expr *ast.Literal) interface{} {
	switch expr.Kind {
	case ast.LitInt:
		return types.Integer
	case ast.LitFloat:
		return types.Float
	case ast.LitString:
		return types.String
	case ast.LitBool:
		return types.Boolean
	default:
		return types.Null
	}
}

func (a *Analyzer) VisitIdentifier(expr *ast.Identifier) interface{} {
	sym, declScope, ok := a.table.ResolveScope(expr.Name)
	if !ok {
		a.errorf(cerr.NameError, expr.Line, expr.Col, "undeclared name '%s'", expr.Name)
		return types.Error
	}
	switch sym.Kind {
	case symbols.KindVariable, symbols.KindParameter:
		expr.Sym = sym
		a.markCapture(sym, declScope)
		return sym.Type
	case symbols.KindFunction, symbols.KindMethod:
		a.errorf(cerr.NameError, expr.Line, expr.Col,
			"function '%s' used as a value", expr.Name)
	case symbols.KindClass:
		a.errorf(cerr.NameError, expr.Line, expr.Col,
			"class '%s' used as a value", expr.Name)
	default:
		a.errorf(cerr.NameError, expr.Line, expr.Col,
			"'%s' cannot be used as a value", expr.Name)
	}
	return types.Error
}

// markCapture flags a variable referenced from a deeper function frame
// than the one declaring it. The owner frame records it as environment
// material; every frame in between records the capture so the chain of
// environment records stays threaded.
func (a *Analyzer) markCapture(sym *symbols.Symbol, declScope *symbols.Scope) {
	owner := a.frameOf(declScope)
	current := len(a.funcs) - 1
	if owner == current {
		return
	}
	sym.Captured = true
	a.funcs[owner].addEnvVar(sym.Name)
	for i := owner + 1; i <= current; i++ {
		a.funcs[i].addCaptured(sym.Name)
	}
}

// frameOf finds the index of the function frame whose scope encloses the
// given declaring scope.
func (a *Analyzer) frameOf(scope *symbols.Scope) int {
	for s := scope; s != nil; s = s.Parent {
		for i := len(a.funcs) - 1; i >= 0; i-- {
			if a.funcs[i].scope == s {
				return i
			}
		}
	}
	return 0
}

func (a *Analyzer) VisitBinary(expr *ast.Binary) interface{} {
	left := a.typeOf(expr.Left)
	right := a.typeOf(expr.Right)
	if left.IsError() || right.IsError() {
		return types.Error
	}

	switch expr.Operator {
	case "+":
		// Overloaded: string concatenation when either side is a string,
		// the other side is rendered textually at runtime.
		if left.Kind == types.KindString || right.Kind == types.KindString {
			if left.Kind == types.KindVoid || right.Kind == types.KindVoid {
				return a.operandError(expr, left, right)
			}
			return types.String
		}
		fallthrough
	case "-", "*", "/":
		if t, ok := types.Promote(left, right); ok {
			return t
		}
		return a.operandError(expr, left, right)
	case "%":
		if left.Kind == types.KindInteger && right.Kind == types.KindInteger {
			return types.Integer
		}
		return a.operandError(expr, left, right)
	case "<", "<=", ">", ">=":
		if left.IsNumeric() && right.IsNumeric() {
			return types.Boolean
		}
		return a.operandError(expr, left, right)
	case "==", "!=":
		if types.AreAssignable(left, right) || types.AreAssignable(right, left) {
			return types.Boolean
		}
		return a.operandError(expr, left, right)
	}
	return a.operandError(expr, left, right)
}

func (a *Analyzer) operandError(expr *ast.Binary, left, right *types.Type) *types.Type {
	line, col := expr.Pos()
	a.errorf(cerr.TypeError, line, col,
		"invalid operands to '%s': '%s' and '%s'", expr.Operator, left, right)
	return types.Error
}

func (a *Analyzer) VisitLogical(expr *ast.Logical) interface{} {
	left := a.typeOf(expr.Left)
	right := a.typeOf(expr.Right)
	for _, t := range []*types.Type{left, right} {
		if !t.IsError() && t.Kind != types.KindBoolean {
			line, col := expr.Pos()
			a.errorf(cerr.TypeError, line, col,
				"operands of '%s' must be 'boolean', got '%s'", expr.Operator, t)
			return types.Error
		}
	}
	return types.Boolean
}

func (a *Analyzer) VisitUnary(expr *ast.Unary) interface{} {
	operand := a.typeOf(expr.Operand)
	if operand.IsError() {
		return types.Error
	}
	line, col := expr.Pos()
	switch expr.Operator {
	case "-":
		if operand.IsNumeric() {
			return operand
		}
		a.errorf(cerr.TypeError, line, col, "cannot negate '%s'", operand)
	case "!":
		if operand.Kind == types.KindBoolean {
			return types.Boolean
		}
		a.errorf(cerr.TypeError, line, col, "'!' needs a 'boolean', got '%s'", operand)
	}
	return types.Error
}

func (a *Analyzer) VisitTernary(expr *ast.Ternary) interface{} {
	a.condition(expr.Cond)
	thenT := a.typeOf(expr.Then)
	elseT := a.typeOf(expr.Else)

	switch {
	case thenT.IsError() || elseT.IsError():
		return types.Error
	case types.Equals(thenT, elseT):
		return thenT
	case thenT.IsNumeric() && elseT.IsNumeric():
		t, _ := types.Promote(thenT, elseT)
		return t
	case thenT.Kind == types.KindNull && elseT.IsReference():
		return elseT
	case elseT.Kind == types.KindNull && thenT.IsReference():
		return thenT
	}
	line, col := expr.Pos()
	a.errorf(cerr.TypeError, line, col,
		"ternary branches have incompatible types '%s' and '%s'", thenT, elseT)
	return types.Error
}

func (a *Analyzer) VisitCall(expr *ast.Call) interface{} {
	line, col := expr.Pos()
	sym, ok := a.table.Resolve(expr.Name)
	if !ok {
		a.errorf(cerr.NameError, line, col, "call to undeclared function '%s'", expr.Name)
		a.typeArgs(expr.Args)
		return types.Error
	}
	if sym.Kind != symbols.KindFunction {
		a.errorf(cerr.NameError, line, col, "'%s' is not a function", expr.Name)
		a.typeArgs(expr.Args)
		return types.Error
	}
	expr.Sym = sym
	a.edges = append(a.edges, callEdge{
		caller: a.funcs[len(a.funcs)-1].decl,
		callee: sym,
		line:   line,
		col:    col,
	})
	a.checkArguments(sym, expr.Args, line, col)
	return sym.Return
}

func (a *Analyzer) VisitMethodCall(expr *ast.MethodCall) interface{} {
	line, col := expr.Pos()
	objType := a.typeOf(expr.Object)
	if objType.IsError() {
		a.typeArgs(expr.Args)
		return types.Error
	}
	if objType.Kind != types.KindClass {
		a.errorf(cerr.NameError, line, col,
			"cannot call method '%s' on '%s'", expr.Method, objType)
		a.typeArgs(expr.Args)
		return types.Error
	}

	class, _ := a.table.LookupClass(objType.Name)
	member, ok := a.table.ResolveMember(class, expr.Method)
	if !ok {
		a.errorf(cerr.NameError, line, col,
			"class '%s' has no method '%s'", objType.Name, expr.Method)
		a.typeArgs(expr.Args)
		return types.Error
	}
	if member.Kind != symbols.KindMethod {
		a.errorf(cerr.NameError, line, col,
			"'%s.%s' is a field, not a method", objType.Name, expr.Method)
		a.typeArgs(expr.Args)
		return types.Error
	}
	expr.Sym = member
	a.checkArguments(member, expr.Args, line, col)
	return member.Return
}

func (a *Analyzer) checkArguments(fn *symbols.Symbol, args []ast.Expr, line, col int) {
	if len(args) != fn.Arity() {
		a.errorf(cerr.TypeError, line, col,
			"'%s' takes %d argument(s), got %d", fn.Name, fn.Arity(), len(args))
		a.typeArgs(args)
		return
	}
	for i, arg := range args {
		argType := a.typeOf(arg)
		want := fn.Params[i].Type
		if !types.AreAssignable(argType, want) {
			argLine, argCol := arg.Pos()
			a.errorf(cerr.TypeError, argLine, argCol,
				"argument %d of '%s': cannot pass '%s' as '%s'",
				i+1, fn.Name, argType, want)
		}
	}
}

// typeArgs types arguments for their own errors when the call itself is
// already broken.
func (a *Analyzer) typeArgs(args []ast.Expr) {
	for _, arg := range args {
		a.typeOf(arg)
	}
}

func (a *Analyzer) VisitGetField(expr *ast.GetField) interface{} {
	line, col := expr.Pos()
	objType := a.typeOf(expr.Object)
	if objType.IsError() {
		return types.Error
	}
	if objType.Kind != types.KindClass {
		a.errorf(cerr.NameError, line, col,
			"cannot access field '%s' on '%s'", expr.Field, objType)
		return types.Error
	}
	class, _ := a.table.LookupClass(objType.Name)
	member, ok := a.table.ResolveMember(class, expr.Field)
	if !ok {
		a.errorf(cerr.NameError, line, col,
			"class '%s' has no field '%s'", objType.Name, expr.Field)
		return types.Error
	}
	if member.Kind != symbols.KindField {
		a.errorf(cerr.NameError, line, col,
			"'%s.%s' is a method, not a field", objType.Name, expr.Field)
		return types.Error
	}
	return member.Type
}

func (a *Analyzer) VisitIndex(expr *ast.Index) interface{} {
	line, col := expr.Pos()
	objType := a.typeOf(expr.Object)
	idxType := a.typeOf(expr.Index)

	if !idxType.IsError() && idxType.Kind != types.KindInteger {
		a.errorf(cerr.TypeError, line, col, "array index must be 'integer', got '%s'", idxType)
	}
	if objType.IsError() {
		return types.Error
	}
	if objType.Kind != types.KindArray {
		a.errorf(cerr.TypeError, line, col, "cannot index '%s'", objType)
		return types.Error
	}
	return objType.Elem
}

func (a *Analyzer) VisitArrayLit(expr *ast.ArrayLit) interface{} {
	if len(expr.Elements) == 0 {
		return types.NewArray(types.Error)
	}

	elem := a.typeOf(expr.Elements[0])
	for _, e := range expr.Elements[1:] {
		t := a.typeOf(e)
		switch {
		case types.Equals(t, elem):
		case t.IsNumeric() && elem.IsNumeric():
			elem, _ = types.Promote(t, elem)
		case t.IsError() || elem.IsError():
			elem = types.Error
		default:
			line, col := e.Pos()
			a.errorf(cerr.TypeError, line, col,
				"array element type '%s' does not match '%s'", t, elem)
			elem = types.Error
		}
	}
	return types.NewArray(elem)
}

func (a *Analyzer) VisitNew(expr *ast.New) interface{} {
	line, col := expr.Pos()
	class, ok := a.table.LookupClass(expr.ClassName)
	if !ok {
		a.errorf(cerr.NameError, line, col, "unknown class '%s'", expr.ClassName)
		return types.Error
	}
	expr.Sym = class
	return class.Type
}

func (a *Analyzer) VisitThis(expr *ast.This) interface{} {
	class := a.table.CurrentClass()
	if class == nil {
		line, col := expr.Pos()
		a.errorf(cerr.NameError, line, col, "'this' outside of a class method")
		return types.Error
	}
	return class.Type
}
