package semantic

import (
	"strings"
	"testing"

	"compiscript/internal/ast"
	cerr "compiscript/internal/errors"
	"compiscript/internal/lexer"
	"compiscript/internal/parser"
)

// collectFunctions gathers every function declaration in the tree,
// nested ones included.
func collectFunctions(stmts []ast.Stmt) []*ast.FunctionDecl {
	var decls []*ast.FunctionDecl
	for _, s := range stmts {
		switch stmt := s.(type) {
		case *ast.FunctionDecl:
			decls = append(decls, stmt)
			decls = append(decls, collectFunctions(stmt.Body)...)
		case *ast.ClassDecl:
			for _, m := range stmt.Methods {
				decls = append(decls, m)
			}
		case *ast.BlockStmt:
			decls = append(decls, collectFunctions(stmt.Stmts)...)
		case *ast.IfStmt:
			decls = append(decls, collectFunctions(stmt.Then)...)
			decls = append(decls, collectFunctions(stmt.Else)...)
		case *ast.WhileStmt:
			decls = append(decls, collectFunctions(stmt.Body)...)
		case *ast.ForStmt:
			decls = append(decls, collectFunctions(stmt.Body)...)
		case *ast.ForeachStmt:
			decls = append(decls, collectFunctions(stmt.Body)...)
		}
	}
	return decls
}

func analyze(t *testing.T, input string) (*Info, []*cerr.CompileError) {
	t.Helper()
	scanner := lexer.NewScanner(input)
	tokens := scanner.ScanTokens()
	p := parser.NewParser(tokens)
	prog := p.Parse()
	if len(p.Errors) > 0 {
		t.Fatalf("parse errors in test input: %v", p.Errors)
	}
	a := NewAnalyzer()
	info, _ := a.Analyze(prog)
	return info, a.Errors()
}

func assertClean(t *testing.T, input, description string) *Info {
	t.Helper()
	info, errs := analyze(t, input)
	if len(errs) > 0 {
		t.Fatalf("%s: unexpected errors: %v", description, errs)
	}
	return info
}

func assertError(t *testing.T, input string, kind cerr.ErrorKind, description string) {
	t.Helper()
	_, errs := analyze(t, input)
	if len(errs) == 0 {
		t.Fatalf("%s: expected a %s, got none", description, kind)
	}
	for _, e := range errs {
		if e.Kind == kind {
			return
		}
	}
	t.Errorf("%s: no %s among %v", description, kind, errs)
}

// ===== Programs that must pass =====

func TestValidPrograms(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"while counter", "let i = 0; while (i < 3) { print(i); i = i + 1; }"},
		{"for sum", "let s = 0; for (let i = 1; i <= 4; i = i + 1) { s = s + i; } print(s);"},
		{"factorial", "function fact(n: integer): integer { if (n <= 1) { return 1; } return n * fact(n - 1); } print(fact(5));"},
		{"foreach sum", "let a: integer[] = [10, 20, 30]; let s = 0; foreach (x in a) { s = s + x; } print(s);"},
		{"class with method", "class P { var x: integer; var y: integer; function sum(): integer { return this.x + this.y; } } let p = new P(); p.x = 3; p.y = 4; print(p.sum());"},
		{"short circuit", "let a = 1; let b = 0; if (a == 1 && b == 0) { print(1); } else { print(0); }"},
		{"widening init", "let f: float = 1;"},
		{"widening argument", "function g(f: float) { print(f); } g(2);"},
		{"null to class", "class P { } let p: P = null;"},
		{"shadowing across scopes", "let x = 1; { let x = 2; print(x); } print(x);"},
		{"ternary", "let a = 1; let m = a > 0 ? a : 0 - a; print(m);"},
		{"do while", "let i = 0; do { i = i + 1; } while (i < 3);"},
		{"string concat", `let n = 3; print("n=" + n);`},
		{"inherited method", "class A { var x: integer; function get(): integer { return this.x; } } class B extends A { } let b = new B(); print(b.get());"},
		{"override same signature", "class A { function f(): integer { return 1; } } class B extends A { function f(): integer { return 2; } }"},
		{"nested function capture", "function outer(): integer { let c = 0; function bump() { c = c + 1; } bump(); bump(); return c; } print(outer());"},
		{"loop var scope reuse", "for (let i = 0; i < 2; i = i + 1) { } for (let i = 0; i < 2; i = i + 1) { }"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assertClean(t, test.input, test.name)
		})
	}
}

// ===== Programs that must be rejected, with the right kind =====

func TestRejectedPrograms(t *testing.T) {
	tests := []struct {
		name  string
		input string
		kind  cerr.ErrorKind
	}{
		{"string to integer", `let x: integer = "hi";`, cerr.TypeError},
		{"call with missing args", "function fact(n: integer): integer { return 1; } print(fact());", cerr.TypeError},
		{"wrong argument type", `function f(n: integer) { } f("x");`, cerr.TypeError},
		{"break at top level", "break;", cerr.ControlFlowError},
		{"continue outside loop", "function f() { continue; }", cerr.ControlFlowError},
		{"redeclaration in same block", "let x = 1; let x = 2;", cerr.NameError},
		{"override with different return", "class A { function f(): integer { return 1; } } class B extends A { function f(): float { return 1.0; } }", cerr.ClassError},
		{"override with different params", "class A { function f(n: integer) { } } class B extends A { function f(s: string) { } }", cerr.ClassError},
		{"undefined super", "class B extends Missing { }", cerr.ClassError},
		{"undeclared name", "print(y);", cerr.NameError},
		{"calling a variable", "let x = 1; x();", cerr.NameError},
		{"field on non-object", "let x = 1; print(x.f);", cerr.NameError},
		{"unknown field", "class P { var x: integer; } let p = new P(); print(p.z);", cerr.NameError},
		{"unknown method", "class P { } let p = new P(); p.m();", cerr.NameError},
		{"return outside function", "return 1;", cerr.ControlFlowError},
		{"missing return path", "function f(): integer { let x = 1; }", cerr.ControlFlowError},
		{"return in only one branch", "function f(n: integer): integer { if (n > 0) { return 1; } }", cerr.ControlFlowError},
		{"value from void", "function f() { return 1; }", cerr.TypeError},
		{"bare return from typed", "function f(): integer { return; }", cerr.TypeError},
		{"return type mismatch", `function f(): integer { return "s"; }`, cerr.TypeError},
		{"condition not boolean", "if (1) { }", cerr.TypeError},
		{"ordering on strings", `let b = "a" < "b";`, cerr.TypeError},
		{"modulo on floats", "let x = 1.5 % 2.0;", cerr.TypeError},
		{"incompatible equality", `let b = 1 == "one";`, cerr.TypeError},
		{"foreach over scalar", "let n = 1; foreach (x in n) { }", cerr.TypeError},
		{"non-integer index", `let a: integer[] = [1]; print(a["0"]);`, cerr.TypeError},
		{"this outside method", "print(this.x);", cerr.NameError},
		{"narrowing assignment", "let i = 1; i = 2.5;", cerr.TypeError},
		{"assign to function", "function f() { } f = 1;", cerr.NameError},
		{"infer from null", "let p = null;", cerr.TypeError},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assertError(t, test.input, test.kind, test.name)
		})
	}
}

func TestErrorsAreBatched(t *testing.T) {
	// Three independent mistakes, one run.
	input := "let x: integer = \"a\"; print(missing); break;"
	_, errs := analyze(t, input)
	if len(errs) < 3 {
		t.Errorf("expected all 3 errors in one pass, got %d: %v", len(errs), errs)
	}
}

func TestErrorSentinelStopsCascades(t *testing.T) {
	// The undeclared name must produce exactly one error even though it
	// flows into an addition and an assignment afterwards.
	_, errs := analyze(t, "let x = missing + 1; x = x + 2;")
	if len(errs) != 1 {
		t.Errorf("expected 1 error, got %d: %v", len(errs), errs)
	}
}

func TestScopeBalanceAfterWalk(t *testing.T) {
	info := assertClean(t,
		"function f(n: integer): integer { if (n > 0) { return 1; } return 0; } let i = 0; while (i < 2) { { let j = i; print(j); } i = i + 1; }",
		"mixed program")
	if !info.Table.Balanced() {
		t.Error("scope enters and exits must balance after a full walk")
	}
	if !info.Table.Frozen() {
		t.Error("table must be frozen after a clean analysis")
	}
}

func TestCaptureDetection(t *testing.T) {
	input := "function outer(): integer { let c = 0; function bump() { c = c + 1; } bump(); return c; }"
	scannerTokens := lexer.NewScanner(input).ScanTokens()
	p := parser.NewParser(scannerTokens)
	prog := p.Parse()
	a := NewAnalyzer()
	if _, err := a.Analyze(prog); err != nil {
		t.Fatalf("analysis failed: %v", err)
	}

	// The outer function owns one promoted variable; the inner one
	// captures it.
	var sawOuter, sawBump bool
	for _, e := range a.Errors() {
		t.Logf("stray error: %v", e)
	}
	for _, decl := range collectFunctions(prog.Stmts) {
		switch decl.Name {
		case "outer":
			sawOuter = true
			if len(decl.EnvVars) != 1 || decl.EnvVars[0] != "c" {
				t.Errorf("outer.EnvVars = %v, want [c]", decl.EnvVars)
			}
		case "bump":
			sawBump = true
			if len(decl.Captured) != 1 || decl.Captured[0] != "c" {
				t.Errorf("bump.Captured = %v, want [c]", decl.Captured)
			}
			if !decl.NeedsEnv {
				t.Error("bump must need the environment record")
			}
		}
	}
	if !sawOuter || !sawBump {
		t.Fatal("test did not find both functions")
	}
}

func TestMethodsCannotCapture(t *testing.T) {
	assertError(t,
		"let g = 1; class P { function m(): integer { return g; } }",
		cerr.NameError, "method capturing a top-level variable")
}

func TestDiagnosticRendering(t *testing.T) {
	a := NewAnalyzerWithSource("let x: integer = \"hi\";", "t.cps")
	scannerTokens := lexer.NewScanner("let x: integer = \"hi\";").ScanTokens()
	prog := parser.NewParser(scannerTokens).Parse()
	if _, err := a.Analyze(prog); err == nil {
		t.Fatal("expected failure")
	}
	msg := a.Errors()[0].Error()
	if !strings.Contains(msg, "TypeError") || !strings.Contains(msg, "t.cps") {
		t.Errorf("diagnostic %q should name the kind and the file", msg)
	}
	if !strings.Contains(msg, "^") {
		t.Errorf("diagnostic %q should point at the source column", msg)
	}
}
