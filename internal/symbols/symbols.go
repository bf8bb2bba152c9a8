// internal/symbols/symbols.go
package symbols

import (
	"fmt"

	"compiscript/internal/types"
)

// Kind is the declaration kind of a symbol
type Kind string

const (
	KindVariable  Kind = "variable"
	KindParameter Kind = "parameter"
	KindFunction  Kind = "function"
	KindClass     Kind = "class"
	KindField     Kind = "field"
	KindMethod    Kind = "method"
)

// Symbol is one named declaration. The kind decides which of the extra
// fields are meaningful.
type Symbol struct {
	Name string
	Kind Kind
	Type *types.Type
	Line int
	Col  int

	// Function and method data
	Params []*Symbol
	Return *types.Type
	// Owner is the defining class, held by name so the table stays free of
	// class<->method pointer cycles.
	Owner string

	// Class data
	Superclass string
	Fields     []*Symbol // own fields in declaration order
	Methods    map[string]*Symbol

	// Field data
	Offset int // word offset within the object, inherited fields first

	// Captured marks a variable a nested function reads or writes; its
	// storage moves to a heap environment record during IR generation.
	Captured bool
}

// Arity is the number of declared parameters of a function or method
func (s *Symbol) Arity() int {
	return len(s.Params)
}

// ScopeKind gates which statements are legal inside a scope
type ScopeKind string

const (
	ScopeGlobal   ScopeKind = "global"
	ScopeFunction ScopeKind = "function"
	ScopeBlock    ScopeKind = "block"
	ScopeClass    ScopeKind = "class"
	ScopeLoop     ScopeKind = "loop"
	ScopeForeach  ScopeKind = "foreach"
)

// Scope maps names to symbols and chains to its enclosing scope.
type Scope struct {
	Kind   ScopeKind
	Parent *Scope
	Owner  *Symbol // owning function or class symbol, nil otherwise
	names  map[string]*Symbol
	order  []string
}

func newScope(kind ScopeKind, parent *Scope, owner *Symbol) *Scope {
	return &Scope{
		Kind:   kind,
		Parent: parent,
		Owner:  owner,
		names:  make(map[string]*Symbol),
	}
}

// Lookup checks this scope only
func (s *Scope) Lookup(name string) (*Symbol, bool) {
	sym, ok := s.names[name]
	return sym, ok
}

// Names returns the declared names in declaration order
func (s *Scope) Names() []string {
	return s.order
}

// Table is the nested-scope symbol table plus the flat class registry.
// It is mutated only during semantic analysis; Freeze marks the handoff
// to IR generation.
type Table struct {
	global  *Scope
	current *Scope
	classes map[string]*Symbol

	enters int
	exits  int
	frozen bool
}

func NewTable() *Table {
	g := newScope(ScopeGlobal, nil, nil)
	return &Table{
		global:  g,
		current: g,
		classes: make(map[string]*Symbol),
		enters:  1,
	}
}

// EnterScope pushes a scope of the given kind. Function and class scopes
// carry their owning symbol so this/return validation can find it.
func (t *Table) EnterScope(kind ScopeKind, owner *Symbol) *Scope {
	if t.frozen {
		panic("symbols: EnterScope on a frozen table")
	}
	t.current = newScope(kind, t.current, owner)
	t.enters++
	return t.current
}

// ExitScope pops the current scope
func (t *Table) ExitScope() {
	if t.current.Parent == nil {
		panic("symbols: ExitScope at global scope")
	}
	t.current = t.current.Parent
	t.exits++
}

// Declare binds a symbol in the current scope; redeclaring a name already
// bound in this same scope is an error.
func (t *Table) Declare(sym *Symbol) error {
	if t.frozen {
		panic("symbols: Declare on a frozen table")
	}
	if _, exists := t.current.names[sym.Name]; exists {
		return fmt.Errorf("'%s' is already declared in this scope", sym.Name)
	}
	t.current.names[sym.Name] = sym
	t.current.order = append(t.current.order, sym.Name)
	return nil
}

// Resolve walks the scope chain from the current scope to the root
func (t *Table) Resolve(name string) (*Symbol, bool) {
	for s := t.current; s != nil; s = s.Parent {
		if sym, ok := s.names[name]; ok {
			return sym, ok
		}
	}
	return nil, false
}

// ResolveScope is Resolve, additionally reporting the scope that declared
// the name. The semantic analyzer uses it to tell locals from captured
// variables.
func (t *Table) ResolveScope(name string) (*Symbol, *Scope, bool) {
	for s := t.current; s != nil; s = s.Parent {
		if sym, ok := s.names[name]; ok {
			return sym, s, true
		}
	}
	return nil, nil, false
}

// DeclareClass registers a class in the current scope and in the flat
// class registry used for inheritance lookups.
func (t *Table) DeclareClass(sym *Symbol) error {
	if err := t.Declare(sym); err != nil {
		return err
	}
	t.classes[sym.Name] = sym
	return nil
}

// LookupClass consults the flat class registry
func (t *Table) LookupClass(name string) (*Symbol, bool) {
	sym, ok := t.classes[name]
	return sym, ok
}

// ClassNames returns the registered class names, unordered
func (t *Table) ClassNames() []string {
	names := make([]string, 0, len(t.classes))
	for name := range t.classes {
		names = append(names, name)
	}
	return names
}

// ResolveMember looks a field or method up on a class, consulting each
// superclass in turn when the class itself does not declare the name.
func (t *Table) ResolveMember(class *Symbol, name string) (*Symbol, bool) {
	visited := make(map[string]bool)
	for c := class; c != nil && !visited[c.Name]; {
		visited[c.Name] = true
		for _, f := range c.Fields {
			if f.Name == name {
				return f, true
			}
		}
		if m, ok := c.Methods[name]; ok {
			return m, true
		}
		if c.Superclass == "" {
			break
		}
		parent, ok := t.classes[c.Superclass]
		if !ok {
			break
		}
		c = parent
	}
	return nil, false
}

// TotalFields counts a class's fields including every inherited one; the
// object heap block is 4*TotalFields bytes.
func (t *Table) TotalFields(class *Symbol) int {
	n := 0
	visited := make(map[string]bool)
	for c := class; c != nil && !visited[c.Name]; {
		visited[c.Name] = true
		n += len(c.Fields)
		if c.Superclass == "" {
			break
		}
		parent, ok := t.classes[c.Superclass]
		if !ok {
			break
		}
		c = parent
	}
	return n
}

// CurrentFunction returns the innermost enclosing function or method
// symbol, or nil at the top level.
func (t *Table) CurrentFunction() *Symbol {
	for s := t.current; s != nil; s = s.Parent {
		if s.Kind == ScopeFunction && s.Owner != nil {
			return s.Owner
		}
	}
	return nil
}

// CurrentClass returns the innermost enclosing class symbol, or nil
// outside any class body.
func (t *Table) CurrentClass() *Symbol {
	for s := t.current; s != nil; s = s.Parent {
		if s.Kind == ScopeClass && s.Owner != nil {
			return s.Owner
		}
	}
	return nil
}

// CurrentLoopDepth counts the loop scopes enclosing the current scope,
// stopping at the nearest function boundary: a loop outside the current
// function cannot catch this function's break.
func (t *Table) CurrentLoopDepth() int {
	depth := 0
	for s := t.current; s != nil; s = s.Parent {
		switch s.Kind {
		case ScopeLoop, ScopeForeach:
			depth++
		case ScopeFunction:
			return depth
		}
	}
	return depth
}

// Global returns the root scope
func (t *Table) Global() *Scope {
	return t.global
}

// Current returns the scope under construction
func (t *Table) Current() *Scope {
	return t.current
}

// Freeze forbids further mutation; the analyzer calls it before handing
// the table to IR generation.
func (t *Table) Freeze() {
	t.frozen = true
}

func (t *Table) Frozen() bool {
	return t.frozen
}

// Balanced reports whether every EnterScope was matched by an ExitScope
// and the walk ended back at the global scope.
func (t *Table) Balanced() bool {
	return t.enters-1 == t.exits && t.current == t.global
}

// EnterCount and ExitCount expose the raw counters for property tests.
func (t *Table) EnterCount() int { return t.enters }
func (t *Table) ExitCount() int  { return t.exits }
