package tac

import "testing"

func TestTempGeneratorIsMonotonic(t *testing.T) {
	g := NewGenerator()
	for i, want := range []string{"t0", "t1", "t2"} {
		if got := g.NewTemp(); got != want {
			t.Errorf("temp %d = %s, want %s", i, got, want)
		}
	}
}

func TestTempFreeListReuse(t *testing.T) {
	g := NewGenerator()
	t0 := g.NewTemp()
	g.NewTemp()
	g.Release(t0)
	if got := g.NewTemp(); got != t0 {
		t.Errorf("released temp should be reused, got %s", got)
	}
}

func TestFlushFreeStopsReuseAcrossStatements(t *testing.T) {
	g := NewGenerator()
	t0 := g.NewTemp()
	g.Release(t0)
	g.FlushFree()
	if got := g.NewTemp(); got == t0 {
		t.Error("flushed temp must not be recycled")
	}
}

func TestLabelCountersArePerPrefix(t *testing.T) {
	g := NewGenerator()
	tests := []struct {
		prefix string
		want   string
	}{
		{PrefixWhile, "L_WHILE_0"},
		{PrefixWhile, "L_WHILE_1"},
		{PrefixFor, "L_FOR_0"},
		{PrefixWhile, "L_WHILE_2"},
		{PrefixAnd, "L_AND_0"},
	}
	for _, test := range tests {
		if got := g.NewLabel(test.prefix); got != test.want {
			t.Errorf("NewLabel(%s) = %s, want %s", test.prefix, got, test.want)
		}
	}
}

func TestQuadrupleString(t *testing.T) {
	tests := []struct {
		q    Quadruple
		want string
	}{
		{Quadruple{Op: OpAdd, A1: "a", A2: "b", Res: "t0"}, "(ADD, a, b, t0)"},
		{Quadruple{Op: OpReturn}, "(RETURN, _, _, _)"},
		{Quadruple{Op: OpParam, A1: "t1"}, "(PARAM, t1, _, _)"},
		{Quadruple{Op: OpLabel, A1: "L_WHILE_0"}, "(LABEL, L_WHILE_0, _, _)"},
	}
	for _, test := range tests {
		if got := test.q.String(); got != test.want {
			t.Errorf("String() = %q, want %q", got, test.want)
		}
	}
}

func TestLayoutOffsets(t *testing.T) {
	l := &Layout{Name: "P", Fields: []string{"x", "y"}}
	if off, ok := l.Offset("y"); !ok || off != 1 {
		t.Errorf("Offset(y) = %d,%v, want 1,true", off, ok)
	}
	if _, ok := l.Offset("z"); ok {
		t.Error("Offset(z) should miss")
	}
	if l.SizeInWords() != 2 {
		t.Errorf("SizeInWords = %d, want 2", l.SizeInWords())
	}
}
