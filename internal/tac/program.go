// internal/tac/program.go
package tac

// LenField is the pseudo field name reading an array's length header
// word; the backend resolves it to offset zero on any heap block.
const LenField = "__len"

// ParentField links an environment record to the record of the enclosing
// function frame.
const ParentField = "__parent"

// Layout is the flattened word layout of one heap object class:
// inherited fields first, then own fields, each one word wide.
// Environment records synthesized for captured variables use the same
// shape, so the backend allocates and addresses them identically.
type Layout struct {
	Name   string
	Fields []string
}

// Offset returns the word offset of a field within the object.
func (l *Layout) Offset(field string) (int, bool) {
	for i, f := range l.Fields {
		if f == field {
			return i, true
		}
	}
	return 0, false
}

// SizeInWords is the allocation size of an instance.
func (l *Layout) SizeInWords() int {
	return len(l.Fields)
}

// FuncInfo is what the backend needs to know about one function beyond
// its quadruples: the parameter names in call order.
type FuncInfo struct {
	Name   string
	Params []string
}

// Program is the frozen artifact handed from IR generation to the
// backend: the flat quadruple stream plus the function and object-layout
// tables it references.
type Program struct {
	Quads   []Quadruple
	Funcs   map[string]*FuncInfo
	Layouts map[string]*Layout
}

func NewProgram() *Program {
	return &Program{
		Funcs:   make(map[string]*FuncInfo),
		Layouts: make(map[string]*Layout),
	}
}

// Emit appends one quadruple in execution order.
func (p *Program) Emit(op Op, a1, a2, res string) {
	p.Quads = append(p.Quads, Quadruple{Op: op, A1: a1, A2: a2, Res: res})
}
