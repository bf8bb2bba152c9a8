package irgen

import (
	"strings"
	"testing"

	"github.com/kr/pretty"

	"compiscript/internal/lexer"
	"compiscript/internal/parser"
	"compiscript/internal/semantic"
	"compiscript/internal/tac"
)

func lowerProgram(t *testing.T, input string) *tac.Program {
	t.Helper()
	tokens := lexer.NewScanner(input).ScanTokens()
	p := parser.NewParser(tokens)
	prog := p.Parse()
	if len(p.Errors) > 0 {
		t.Fatalf("parse errors: %v", p.Errors)
	}
	a := semantic.NewAnalyzer()
	info, err := a.Analyze(prog)
	if err != nil {
		t.Fatalf("semantic errors: %v", err)
	}
	irProg, err := Generate(prog, info)
	if err != nil {
		t.Fatalf("ir generation failed: %v", err)
	}
	return irProg
}

func TestTinyProgramQuadruples(t *testing.T) {
	got := lowerProgram(t, "let i = 0; print(i);").Quads
	want := []tac.Quadruple{
		{Op: tac.OpBeginFunc, A1: "main"},
		{Op: tac.OpAssign, A1: "0", Res: "i"},
		{Op: tac.OpPrint, A1: "i", A2: "integer"},
		{Op: tac.OpReturn},
		{Op: tac.OpEndFunc, A1: "main"},
	}
	if diff := pretty.Diff(want, got); len(diff) > 0 {
		t.Errorf("quadruple stream differs:\n%s", strings.Join(diff, "\n"))
	}
}

// ===== Stream invariants =====

var invariantPrograms = map[string]string{
	"while":    "let i = 0; while (i < 3) { print(i); i = i + 1; }",
	"for":      "let s = 0; for (let i = 1; i <= 4; i = i + 1) { s = s + i; } print(s);",
	"fact":     "function fact(n: integer): integer { if (n <= 1) { return 1; } return n * fact(n - 1); } print(fact(5));",
	"foreach":  "let a: integer[] = [10, 20, 30]; let s = 0; foreach (x in a) { s = s + x; } print(s);",
	"class":    "class P { var x: integer; var y: integer; function sum(): integer { return this.x + this.y; } } let p = new P(); p.x = 3; p.y = 4; print(p.sum());",
	"logic":    "let a = 1; let b = 0; if (a == 1 && b == 0) { print(1); } else { print(0); }",
	"ternary":  "let a = 1; print(a > 0 ? a : 0 - a);",
	"dowhile":  "let i = 0; do { print(i); i = i + 1; } while (i < 3);",
	"break":    "let i = 0; while (true) { if (i > 5) { break; } i = i + 1; }",
	"closure":  "function outer(): integer { let c = 0; function bump() { c = c + 1; } bump(); bump(); return c; } print(outer());",
	"manyargs": "function f(a: integer, b: integer, c: integer, d: integer, e: integer, g: integer): integer { return a + g; } print(f(1, 2, 3, 4, 5, 6));",
}

func TestLabelsDefinedOnceAndReferenced(t *testing.T) {
	for name, src := range invariantPrograms {
		t.Run(name, func(t *testing.T) {
			quads := lowerProgram(t, src).Quads
			defined := map[string]int{}
			referenced := map[string]int{}
			for _, q := range quads {
				switch q.Op {
				case tac.OpLabel:
					defined[q.A1]++
				case tac.OpGoto:
					referenced[q.A1]++
				case tac.OpIfFalse, tac.OpIfTrue:
					referenced[q.A2]++
				}
			}
			for label, n := range defined {
				if n != 1 {
					t.Errorf("label %s defined %d times", label, n)
				}
				if referenced[label] == 0 {
					t.Errorf("label %s is never referenced", label)
				}
			}
			for label := range referenced {
				if defined[label] != 1 {
					t.Errorf("jump target %s has no definition", label)
				}
			}
		})
	}
}

func TestFunctionBracketing(t *testing.T) {
	for name, src := range invariantPrograms {
		t.Run(name, func(t *testing.T) {
			quads := lowerProgram(t, src).Quads
			open := ""
			for _, q := range quads {
				switch q.Op {
				case tac.OpBeginFunc:
					if open != "" {
						t.Fatalf("BEGIN_FUNC %s nested inside %s", q.A1, open)
					}
					open = q.A1
				case tac.OpEndFunc:
					if open != q.A1 {
						t.Fatalf("END_FUNC %s does not match open %s", q.A1, open)
					}
					open = ""
				default:
					if open == "" {
						t.Fatalf("%s outside any function", q)
					}
				}
			}
			if open != "" {
				t.Errorf("function %s never closed", open)
			}
		})
	}
}

func TestParamGrouping(t *testing.T) {
	for name, src := range invariantPrograms {
		t.Run(name, func(t *testing.T) {
			quads := lowerProgram(t, src).Quads
			run := 0
			for _, q := range quads {
				switch q.Op {
				case tac.OpParam:
					run++
				case tac.OpCall:
					if want := q.A2; want != "" {
						n := atoi(t, want)
						if run != n {
							t.Errorf("CALL %s expects %d params, %d precede it", q.A1, n, run)
						}
					}
					run = 0
				case tac.OpCallMethod:
					if run < 1 {
						t.Errorf("CALL_METHOD %s without a receiver param", q.A2)
					}
					run = 0
				default:
					if run != 0 {
						t.Errorf("%s interleaved into a PARAM group", q)
					}
					run = 0
				}
			}
		})
	}
}

func TestTempSingleWriterPerBlock(t *testing.T) {
	for name, src := range invariantPrograms {
		t.Run(name, func(t *testing.T) {
			quads := lowerProgram(t, src).Quads
			writers := map[string]int{}
			flush := func() { writers = map[string]int{} }
			for _, q := range quads {
				if q.Op == tac.OpLabel || q.Op == tac.OpBeginFunc || q.Op == tac.OpEndFunc {
					flush()
					continue
				}
				if isTemp(q.Res) && q.Op != tac.OpArrayStore && q.Op != tac.OpSetField {
					writers[q.Res]++
					if writers[q.Res] > 1 {
						t.Errorf("temporary %s written twice in one block", q.Res)
					}
				}
				if q.IsJump() {
					flush()
				}
			}
		})
	}
}

// ===== Lowering shapes =====

func TestShortCircuitAndSkipsRightOperand(t *testing.T) {
	quads := lowerProgram(t, "let a = 1; let b = 0; if (a == 1 && b == 0) { print(1); } else { print(0); }").Quads

	// Default false, conditional jump past the right operand, one label.
	var sawDefault, sawJump bool
	var andLabel string
	for _, q := range quads {
		if q.Op == tac.OpAssign && q.A1 == "false" {
			sawDefault = true
		}
		if q.Op == tac.OpIfFalse && strings.HasPrefix(q.A2, "L_AND_") {
			sawJump = true
			andLabel = q.A2
		}
	}
	if !sawDefault || !sawJump {
		t.Fatal("short-circuit && must default to false and jump over the right operand")
	}

	// The right operand's comparison must sit between the jump and the
	// label, so skipping the jump skips the evaluation.
	jumpAt, labelAt, rightCmp := -1, -1, -1
	for i, q := range quads {
		switch {
		case q.Op == tac.OpIfFalse && q.A2 == andLabel:
			jumpAt = i
		case q.Op == tac.OpLabel && q.A1 == andLabel:
			labelAt = i
		case q.Op == tac.OpEQ && q.A1 == "b":
			rightCmp = i
		}
	}
	if !(jumpAt < rightCmp && rightCmp < labelAt) {
		t.Errorf("right operand at %d not inside jump %d .. label %d", rightCmp, jumpAt, labelAt)
	}
}

func TestWhileLoopShape(t *testing.T) {
	quads := lowerProgram(t, "let i = 0; while (i < 3) { i = i + 1; }").Quads
	var labels []tac.Op
	for _, q := range quads {
		switch q.Op {
		case tac.OpLabel, tac.OpIfFalse, tac.OpGoto:
			labels = append(labels, q.Op)
		}
	}
	want := []tac.Op{tac.OpLabel, tac.OpIfFalse, tac.OpGoto, tac.OpLabel}
	if len(labels) != len(want) {
		t.Fatalf("control ops = %v, want %v", labels, want)
	}
	for i := range want {
		if labels[i] != want[i] {
			t.Fatalf("control ops = %v, want %v", labels, want)
		}
	}
}

func TestArrayLiteralLowering(t *testing.T) {
	quads := lowerProgram(t, "let a: integer[] = [10, 20, 30];").Quads
	var sawNew bool
	stores := 0
	for _, q := range quads {
		if q.Op == tac.OpArrayNew && q.A1 == "3" {
			sawNew = true
		}
		if q.Op == tac.OpArrayStore {
			stores++
		}
	}
	if !sawNew || stores != 3 {
		t.Errorf("array literal should allocate size 3 and store 3 elements, got new=%v stores=%d", sawNew, stores)
	}
}

func TestMethodCallLowering(t *testing.T) {
	prog := lowerProgram(t, "class P { var x: integer; function get(): integer { return this.x; } } let p = new P(); print(p.get());")

	var sawCall, sawBody bool
	for _, q := range prog.Quads {
		if q.Op == tac.OpCallMethod && q.A2 == "P.get" {
			sawCall = true
		}
		if q.Op == tac.OpBeginFunc && q.A1 == "P.get" {
			sawBody = true
		}
	}
	if !sawCall || !sawBody {
		t.Error("method must be lowered as P.get and dispatched statically")
	}
	if info := prog.Funcs["P.get"]; info == nil || len(info.Params) == 0 || info.Params[0] != "this" {
		t.Error("methods must take the receiver as their first parameter")
	}
	layout := prog.Layouts["P"]
	if layout == nil {
		t.Fatal("class P needs a layout")
	}
	if off, ok := layout.Offset("x"); !ok || off != 0 {
		t.Errorf("P.x offset = %d, want 0", off)
	}
}

func TestInheritedFieldOffsets(t *testing.T) {
	prog := lowerProgram(t, "class A { var x: integer; } class B extends A { var y: integer; } let b = new B(); b.y = 1;")
	layout := prog.Layouts["B"]
	if layout == nil {
		t.Fatal("class B needs a layout")
	}
	offX, _ := layout.Offset("x")
	offY, okY := layout.Offset("y")
	if offX != 0 || !okY || offY != 1 {
		t.Errorf("B layout offsets x=%d y=%d, want 0 and 1", offX, offY)
	}
}

func TestClosureEnvironmentRewrite(t *testing.T) {
	prog := lowerProgram(t, "function outer(): integer { let c = 0; function bump() { c = c + 1; } bump(); return c; } print(outer());")

	// The captured variable lives in a heap record; the nested function
	// receives it as an implicit first parameter.
	rec := "__frame_outer"
	if prog.Layouts[rec] == nil {
		t.Fatalf("missing environment record layout %s", rec)
	}
	if _, ok := prog.Layouts[rec].Offset("c"); !ok {
		t.Errorf("captured c must be a field of %s", rec)
	}
	info := prog.Funcs["outer.bump"]
	if info == nil {
		t.Fatal("nested function should be emitted as outer.bump")
	}
	if len(info.Params) == 0 || info.Params[0] != "__env" {
		t.Errorf("bump params = %v, want the environment first", info.Params)
	}

	var sawNewRecord, sawFieldWrite bool
	for _, q := range prog.Quads {
		if q.Op == tac.OpNew && q.A1 == rec {
			sawNewRecord = true
		}
		if q.Op == tac.OpSetField && strings.HasPrefix(q.Res, rec+".") {
			sawFieldWrite = true
		}
	}
	if !sawNewRecord || !sawFieldWrite {
		t.Error("captured variable accesses must go through the heap record")
	}
}

func TestStringConcatGoesThroughRuntime(t *testing.T) {
	quads := lowerProgram(t, `let n = 3; print("n=" + n);`).Quads
	var sawCoerce, sawConcat bool
	for _, q := range quads {
		if q.Op == tac.OpCall && q.A1 == RuntimeStrInt {
			sawCoerce = true
		}
		if q.Op == tac.OpCall && q.A1 == RuntimeConcat {
			sawConcat = true
		}
	}
	if !sawCoerce || !sawConcat {
		t.Error("string + integer should coerce then concatenate out of line")
	}
}

// ===== helpers =====

func isTemp(tok string) bool {
	if len(tok) < 2 || tok[0] != 't' {
		return false
	}
	for _, c := range tok[1:] {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

func atoi(t *testing.T, s string) int {
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			t.Fatalf("bad count %q", s)
		}
		n = n*10 + int(c-'0')
	}
	return n
}
