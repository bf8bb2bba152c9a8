// internal/mips/registers.go
package mips

import (
	"fmt"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// tempRegs and savedRegs are the two disjoint pools in canonical
// first-fit order. Temporaries are caller-save and carry expression
// intermediates; saved registers are callee-save and carry named user
// variables for the body of one function.
var tempRegs = []string{"$t0", "$t1", "$t2", "$t3", "$t4", "$t5", "$t6", "$t7", "$t8", "$t9"}
var savedRegs = []string{"$s0", "$s1", "$s2", "$s3", "$s4", "$s5", "$s6", "$s7"}

// ErrPoolExhausted is raised as a hard compilation error; there is no
// spilling.
type ErrPoolExhausted struct {
	Pool string
	Name string
}

func (e *ErrPoolExhausted) Error() string {
	return fmt.Sprintf("out of %s registers while allocating '%s'", e.Pool, e.Name)
}

// pool is one register file with its in-use set and name mapping.
type pool struct {
	kind   string
	regs   []string
	inUse  map[string]bool
	byName map[string]string
	owner  map[string]string
}

func newPool(kind string, regs []string) *pool {
	return &pool{
		kind:   kind,
		regs:   regs,
		inUse:  make(map[string]bool),
		byName: make(map[string]string),
		owner:  make(map[string]string),
	}
}

// allocate returns the register already mapped to name, or the first
// free register scanned in canonical order.
func (p *pool) allocate(name string) (string, error) {
	if reg, ok := p.byName[name]; ok {
		return reg, nil
	}
	for _, reg := range p.regs {
		if !p.inUse[reg] {
			p.inUse[reg] = true
			p.byName[name] = reg
			p.owner[reg] = name
			return reg, nil
		}
	}
	return "", &ErrPoolExhausted{Pool: p.kind, Name: name}
}

func (p *pool) free(reg string) {
	if !p.inUse[reg] {
		return
	}
	delete(p.byName, p.owner[reg])
	delete(p.owner, reg)
	delete(p.inUse, reg)
}

func (p *pool) reset() {
	maps.Clear(p.inUse)
	maps.Clear(p.byName)
	maps.Clear(p.owner)
}

// Registers manages both pools for the function being emitted.
type Registers struct {
	temps *pool
	saved *pool
}

func NewRegisters() *Registers {
	return &Registers{
		temps: newPool("temporary", tempRegs),
		saved: newPool("saved", savedRegs),
	}
}

// AllocateTemp maps an intermediate value to a $t register.
func (r *Registers) AllocateTemp(name string) (string, error) {
	return r.temps.allocate(name)
}

// AllocateSaved maps a named variable to a $s register.
func (r *Registers) AllocateSaved(name string) (string, error) {
	return r.saved.allocate(name)
}

// FreeTemp releases a $t register after the value's last use.
func (r *Registers) FreeTemp(reg string) {
	r.temps.free(reg)
}

// Lookup finds the register currently holding a name in either pool.
func (r *Registers) Lookup(name string) (string, bool) {
	if reg, ok := r.temps.byName[name]; ok {
		return reg, true
	}
	if reg, ok := r.saved.byName[name]; ok {
		return reg, true
	}
	return "", false
}

// InUseTemps lists the busy $t registers in canonical order; the caller
// preserves them around calls.
func (r *Registers) InUseTemps() []string {
	var regs []string
	for reg := range r.temps.inUse {
		regs = append(regs, reg)
	}
	slices.Sort(regs)
	return regs
}

// SavedInUse lists the busy $s registers in canonical order for the
// prologue and epilogue save slots.
func (r *Registers) SavedInUse() []string {
	var regs []string
	for reg := range r.saved.inUse {
		regs = append(regs, reg)
	}
	slices.Sort(regs)
	return regs
}

// ResetFunction clears every mapping; register lifetimes never cross a
// function boundary.
func (r *Registers) ResetFunction() {
	r.temps.reset()
	r.saved.reset()
}
