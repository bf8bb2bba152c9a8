// internal/mips/frame.go
package mips

import "fmt"

// argRegs are the first four argument slots; arguments five and up
// travel on the stack and the callee reads them at 8+4*(i-5)($fp).
var argRegs = []string{"$a0", "$a1", "$a2", "$a3"}

// Frame lays out one activation record: saved return address and frame
// pointer on top, then L = 4*(locals+temporaries) bytes of frame space
// holding the callee-save slots.
type Frame struct {
	Label  string
	Locals int // distinct named variables and temporaries in the body
}

// Prologue reserves the record and anchors $fp.
func (f *Frame) Prologue() []string {
	lines := []string{
		"addi $sp, $sp, -8",
		"sw   $ra, 4($sp)",
		"sw   $fp, 0($sp)",
		"move $fp, $sp",
	}
	if l := 4 * f.Locals; l > 0 {
		lines = append(lines, fmt.Sprintf("addi $sp, $sp, -%d", l))
	}
	return lines
}

// SaveCalleeRegs stores each $s register the body claims into its frame
// slot so the caller sees them unchanged.
func (f *Frame) SaveCalleeRegs(regs []string) []string {
	lines := make([]string, 0, len(regs))
	for i, reg := range regs {
		lines = append(lines, fmt.Sprintf("sw   %s, -%d($fp)", reg, 4*(i+1)))
	}
	return lines
}

// RestoreCalleeRegs is the epilogue mirror of SaveCalleeRegs.
func (f *Frame) RestoreCalleeRegs(regs []string) []string {
	lines := make([]string, 0, len(regs))
	for i, reg := range regs {
		lines = append(lines, fmt.Sprintf("lw   %s, -%d($fp)", reg, 4*(i+1)))
	}
	return lines
}

// Epilogue unwinds the record and returns; valueReg moves into $v0
// first when the function returns a value.
func (f *Frame) Epilogue(valueReg string) []string {
	var lines []string
	if valueReg != "" {
		lines = append(lines, fmt.Sprintf("move $v0, %s", valueReg))
	}
	lines = append(lines,
		"move $sp, $fp",
		"lw   $fp, 0($sp)",
		"lw   $ra, 4($sp)",
		"addi $sp, $sp, 8",
		"jr   $ra",
	)
	return lines
}

// IncomingArg produces the instruction moving declared parameter i
// (zero-based) into its saved register.
func IncomingArg(i int, dest string) string {
	if i < len(argRegs) {
		return fmt.Sprintf("move %s, %s", dest, argRegs[i])
	}
	return fmt.Sprintf("lw   %s, %d($fp)", dest, 8+4*(i-len(argRegs)))
}

// ArgReg returns the register for outgoing argument i, or false when
// the argument goes to the stack.
func ArgReg(i int) (string, bool) {
	if i < len(argRegs) {
		return argRegs[i], true
	}
	return "", false
}
