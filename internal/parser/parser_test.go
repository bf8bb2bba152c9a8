package parser

import (
	"testing"

	"compiscript/internal/ast"
	"compiscript/internal/lexer"
)

func parseString(input string) (*ast.Program, []error) {
	scanner := lexer.NewScanner(input)
	tokens := scanner.ScanTokens()
	p := NewParserWithSource(tokens, input, "test.cps")
	prog := p.Parse()
	var errs []error
	for _, e := range p.Errors {
		errs = append(errs, e)
	}
	return prog, errs
}

func assertParseSuccess(t *testing.T, input, description string) *ast.Program {
	t.Helper()
	prog, errs := parseString(input)
	if len(errs) > 0 {
		t.Errorf("%s: parsing failed with errors: %v", description, errs)
		return nil
	}
	return prog
}

func assertParseError(t *testing.T, input, description string) {
	t.Helper()
	_, errs := parseString(input)
	if len(errs) == 0 {
		t.Errorf("%s: expected parsing to fail but it succeeded", description)
	}
}

// ===== Statement tests =====

func TestStatements(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		shouldPass bool
	}{
		{"let with initializer", "let x = 5;", true},
		{"let with type", "let x: integer = 5;", true},
		{"let with array type", "let a: integer[] = [1, 2, 3];", true},
		{"let without initializer", "let x: integer;", true},
		{"missing semicolon", "let x = 5", false},
		{"assignment", "x = 1;", true},
		{"field assignment", "p.x = 3;", true},
		{"index assignment", "a[0] = 1;", true},
		{"print", "print(1);", true},
		{"print without parens", "print 1;", false},
		{"if", "if (a == 1) { print(1); }", true},
		{"if else", "if (a == 1) { print(1); } else { print(0); }", true},
		{"else if chain", "if (a) { } else if (b) { } else { }", true},
		{"if without parens", "if a { }", false},
		{"while", "while (i < 3) { i = i + 1; }", true},
		{"do while", "do { i = i + 1; } while (i < 3);", true},
		{"do while missing semicolon", "do { } while (i < 3)", false},
		{"for", "for (let i = 1; i <= 4; i = i + 1) { s = s + i; }", true},
		{"for with empty init", "for (; i < 3; i = i + 1) { }", true},
		{"for with empty cond", "for (let i = 0; ; i = i + 1) { }", true},
		{"foreach", "foreach (x in a) { s = s + x; }", true},
		{"foreach missing in", "foreach (x a) { }", false},
		{"break and continue", "while (true) { break; continue; }", true},
		{"block", "{ let x = 1; print(x); }", true},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if test.shouldPass {
				assertParseSuccess(t, test.input, test.name)
			} else {
				assertParseError(t, test.input, test.name)
			}
		})
	}
}

// ===== Declaration tests =====

func TestDeclarations(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		shouldPass bool
	}{
		{"function", "function f(n: integer): integer { return n; }", true},
		{"void function", "function f() { return; }", true},
		{"recursive function", "function fact(n: integer): integer { if (n <= 1) { return 1; } return n * fact(n - 1); }", true},
		{"nested function", "function outer() { function inner() { } }", true},
		{"parameter without type", "function f(n) { }", false},
		{"function without body", "function f();", false},
		{"class", "class P { var x: integer; var y: integer; function sum(): integer { return this.x + this.y; } }", true},
		{"class with extends", "class B extends A { var z: integer; }", true},
		{"empty class", "class E { }", true},
		{"class with stray statement", "class P { print(1); }", false},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if test.shouldPass {
				assertParseSuccess(t, test.input, test.name)
			} else {
				assertParseError(t, test.input, test.name)
			}
		})
	}
}

// ===== Expression tests =====

func TestExpressions(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		shouldPass bool
	}{
		{"arithmetic precedence", "let x = 1 + 2 * 3;", true},
		{"parenthesized", "let x = (1 + 2) * 3;", true},
		{"comparison chain", "let b = a < b == c > d;", true},
		{"logical", "let b = a == 1 && b == 0 || !c;", true},
		{"ternary", "let m = a > b ? a : b;", true},
		{"nested ternary", "let m = a ? b : c ? d : e;", true},
		{"unary minus", "let x = -a + -2;", true},
		{"call", "let x = f(1, 2);", true},
		{"call no args", "let x = f();", true},
		{"method call", "let x = p.sum();", true},
		{"chained access", "let x = p.q.r;", true},
		{"indexing", "let x = a[i + 1];", true},
		{"nested indexing", "let x = m[0][1];", true},
		{"array literal", "let a = [1, 2, 3];", true},
		{"empty array literal", "let a = [];", true},
		{"new", "let p = new P();", true},
		{"new without parens", "let p = new P;", false},
		{"this field", "x = this.x;", true},
		{"string literal", `let s = "hi";`, true},
		{"null literal", "let p: P = null;", true},
		{"dangling operator", "let x = 1 +;", false},
		{"calling a call result", "let x = f()(1);", false},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if test.shouldPass {
				assertParseSuccess(t, test.input, test.name)
			} else {
				assertParseError(t, test.input, test.name)
			}
		})
	}
}

func TestErrorRecoveryKeepsGoing(t *testing.T) {
	// One bad statement must not hide errors in later ones.
	_, errs := parseString("let x = ;\nlet y = ;\nprint(1);")
	if len(errs) < 2 {
		t.Errorf("expected at least 2 errors after recovery, got %d", len(errs))
	}
}

func TestParseTreeShape(t *testing.T) {
	prog := assertParseSuccess(t, "let s = 0; for (let i = 1; i <= 4; i = i + 1) { s = s + i; } print(s);", "S2 program")
	if prog == nil {
		return
	}
	if len(prog.Stmts) != 3 {
		t.Fatalf("got %d top-level statements, want 3", len(prog.Stmts))
	}
	if _, ok := prog.Stmts[0].(*ast.LetStmt); !ok {
		t.Errorf("stmt 0 is %T, want *ast.LetStmt", prog.Stmts[0])
	}
	forStmt, ok := prog.Stmts[1].(*ast.ForStmt)
	if !ok {
		t.Fatalf("stmt 1 is %T, want *ast.ForStmt", prog.Stmts[1])
	}
	if forStmt.Init == nil || forStmt.Cond == nil || forStmt.Update == nil {
		t.Error("for loop should carry init, cond and update")
	}
	if _, ok := prog.Stmts[2].(*ast.PrintStmt); !ok {
		t.Errorf("stmt 2 is %T, want *ast.PrintStmt", prog.Stmts[2])
	}
}
