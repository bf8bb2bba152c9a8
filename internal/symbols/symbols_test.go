package symbols

import (
	"testing"

	"compiscript/internal/types"
)

func TestDeclareAndResolve(t *testing.T) {
	table := NewTable()

	if err := table.Declare(&Symbol{Name: "x", Kind: KindVariable, Type: types.Integer}); err != nil {
		t.Fatalf("declare x: %v", err)
	}
	if err := table.Declare(&Symbol{Name: "x", Kind: KindVariable, Type: types.Float}); err == nil {
		t.Error("redeclaring x in the same scope should fail")
	}

	table.EnterScope(ScopeBlock, nil)
	// Shadowing across scopes is allowed.
	if err := table.Declare(&Symbol{Name: "x", Kind: KindVariable, Type: types.String}); err != nil {
		t.Fatalf("shadowing x: %v", err)
	}
	sym, ok := table.Resolve("x")
	if !ok || sym.Type.Kind != types.KindString {
		t.Errorf("inner x should shadow outer, got %v", sym)
	}
	table.ExitScope()

	sym, ok = table.Resolve("x")
	if !ok || sym.Type.Kind != types.KindInteger {
		t.Errorf("outer x should be visible again, got %v", sym)
	}
	if _, ok := table.Resolve("missing"); ok {
		t.Error("resolving an undeclared name should fail")
	}
}

func TestScopeBalance(t *testing.T) {
	table := NewTable()
	table.EnterScope(ScopeFunction, nil)
	table.EnterScope(ScopeBlock, nil)
	table.EnterScope(ScopeLoop, nil)
	table.ExitScope()
	table.ExitScope()
	table.ExitScope()

	if !table.Balanced() {
		t.Errorf("enter=%d exit=%d, table should be balanced", table.EnterCount(), table.ExitCount())
	}
	if table.Current() != table.Global() {
		t.Error("a balanced walk must end at the global scope")
	}
}

func TestLoopDepthStopsAtFunction(t *testing.T) {
	table := NewTable()
	table.EnterScope(ScopeLoop, nil)
	if table.CurrentLoopDepth() != 1 {
		t.Errorf("depth = %d, want 1", table.CurrentLoopDepth())
	}
	// A function body inside a loop does not inherit the loop.
	table.EnterScope(ScopeFunction, &Symbol{Name: "f", Kind: KindFunction})
	if table.CurrentLoopDepth() != 0 {
		t.Errorf("depth inside nested function = %d, want 0", table.CurrentLoopDepth())
	}
	table.EnterScope(ScopeForeach, nil)
	if table.CurrentLoopDepth() != 1 {
		t.Errorf("foreach counts as a loop, depth = %d, want 1", table.CurrentLoopDepth())
	}
}

func TestCurrentFunctionAndClass(t *testing.T) {
	table := NewTable()
	cls := &Symbol{Name: "P", Kind: KindClass, Methods: map[string]*Symbol{}}
	fn := &Symbol{Name: "m", Kind: KindMethod, Return: types.Integer}

	table.EnterScope(ScopeClass, cls)
	table.EnterScope(ScopeFunction, fn)
	table.EnterScope(ScopeBlock, nil)

	if got := table.CurrentFunction(); got != fn {
		t.Errorf("CurrentFunction = %v, want m", got)
	}
	if got := table.CurrentClass(); got != cls {
		t.Errorf("CurrentClass = %v, want P", got)
	}
}

func TestMemberResolutionWalksInheritance(t *testing.T) {
	table := NewTable()

	base := &Symbol{Name: "A", Kind: KindClass, Methods: map[string]*Symbol{}}
	base.Fields = []*Symbol{
		{Name: "x", Kind: KindField, Type: types.Integer, Owner: "A", Offset: 0},
	}
	base.Methods["m"] = &Symbol{Name: "m", Kind: KindMethod, Owner: "A", Return: types.Void}
	if err := table.DeclareClass(base); err != nil {
		t.Fatal(err)
	}

	derived := &Symbol{Name: "B", Kind: KindClass, Superclass: "A", Methods: map[string]*Symbol{}}
	derived.Fields = []*Symbol{
		{Name: "y", Kind: KindField, Type: types.Integer, Owner: "B", Offset: 1},
	}
	if err := table.DeclareClass(derived); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		class  *Symbol
		member string
		found  bool
		owner  string
	}{
		{"own field", derived, "y", true, "B"},
		{"inherited field", derived, "x", true, "A"},
		{"inherited method", derived, "m", true, "A"},
		{"missing member", derived, "z", false, ""},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			sym, ok := table.ResolveMember(test.class, test.member)
			if ok != test.found {
				t.Fatalf("ResolveMember(%s) found=%v, want %v", test.member, ok, test.found)
			}
			if ok && sym.Owner != test.owner {
				t.Errorf("member %s owner = %s, want %s", test.member, sym.Owner, test.owner)
			}
		})
	}

	if n := table.TotalFields(derived); n != 2 {
		t.Errorf("TotalFields(B) = %d, want 2", n)
	}
}

func TestFreezeForbidsMutation(t *testing.T) {
	table := NewTable()
	table.Freeze()
	defer func() {
		if recover() == nil {
			t.Error("declaring on a frozen table should panic")
		}
	}()
	table.Declare(&Symbol{Name: "x", Kind: KindVariable})
}
