// internal/mips/emitter.go
package mips

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	cerr "compiscript/internal/errors"
	"compiscript/internal/tac"
)

// Emitter walks the quadruple stream once and dispatches on opcode,
// producing SPIM-compatible assembly text. Each quadruple leaves a
// leading comment so the output can be traced back to the IR.
type Emitter struct {
	prog *tac.Program
	regs *Registers

	text []string

	strPool  map[string]string
	strOrder []string

	usedRuntime map[string]bool

	// Per-function state.
	fnLabel   string
	frame     *Frame
	lastUse   map[string]int
	floats    map[string]bool
	argIdx    int
	stackArgs []stackArg
	scratch   int
	localLbl  int
}

type stackArg struct {
	reg  string
	free bool // scratch or last-use register released after the call
}

func NewEmitter(prog *tac.Program) *Emitter {
	return &Emitter{
		prog:        prog,
		regs:        NewRegisters(),
		strPool:     make(map[string]string),
		usedRuntime: make(map[string]bool),
	}
}

// Emit translates the whole program and assembles the final text.
func (e *Emitter) Emit() (out string, err error) {
	defer func() {
		if r := recover(); r != nil {
			ce, ok := r.(*cerr.CompileError)
			if !ok {
				panic(r)
			}
			out, err = "", ce
		}
	}()

	for i := 0; i < len(e.prog.Quads); i++ {
		q := e.prog.Quads[i]
		if q.Op != tac.OpBeginFunc {
			continue
		}
		end := i + 1
		for end < len(e.prog.Quads) && e.prog.Quads[end].Op != tac.OpEndFunc {
			end++
		}
		e.emitFunction(q.A1, e.prog.Quads[i+1:end])
		i = end
	}

	return e.assemble(), nil
}

func (e *Emitter) assemble() string {
	var sb strings.Builder
	sb.WriteString(".data\n")
	sb.WriteString("newline: .asciiz \"\\n\"\n")
	if e.usedRuntime[runtimeStrBool] {
		sb.WriteString("bool_true: .asciiz \"true\"\n")
		sb.WriteString("bool_false: .asciiz \"false\"\n")
	}
	for _, lit := range e.strOrder {
		sb.WriteString(fmt.Sprintf("%s: .asciiz %s\n", e.strPool[lit], lit))
	}
	sb.WriteString("\n.text\n.globl main\n")
	for _, line := range e.text {
		sb.WriteString(line)
		sb.WriteByte('\n')
	}
	for _, rt := range runtimeOrder {
		if e.usedRuntime[rt] {
			sb.WriteString(runtimeText[rt])
		}
	}
	return sb.String()
}

// --- Per-function emission ---

func (e *Emitter) emitFunction(label string, body []tac.Quadruple) {
	e.fnLabel = label
	e.lastUse = make(map[string]int)
	e.floats = make(map[string]bool)
	e.argIdx = 0
	e.stackArgs = nil

	info := e.prog.Funcs[label]

	// Pre-scan: named variables in first-appearance order (parameters
	// first) and the last textual use of every temporary.
	var vars []string
	seen := make(map[string]bool)
	if info != nil {
		for _, p := range info.Params {
			vars = append(vars, p)
			seen[p] = true
		}
	}
	temps := make(map[string]bool)
	for idx, q := range body {
		for _, tok := range valueTokens(q) {
			switch classify(tok) {
			case tokTemp:
				temps[tok] = true
				e.lastUse[tok] = idx
			case tokVar:
				if !seen[tok] {
					seen[tok] = true
					vars = append(vars, tok)
				}
			}
		}
	}
	e.extendAcrossLoops(body)

	for _, v := range vars {
		if _, err := e.regs.AllocateSaved(v); err != nil {
			panic(cerr.Newf(cerr.ResourceError, 0, 0,
				"in function '%s': %s", label, err.Error()))
		}
	}

	e.frame = &Frame{Label: label, Locals: len(vars) + len(temps)}
	e.line("")
	e.label(sanitize(label))
	for _, ins := range e.frame.Prologue() {
		e.ins(ins)
	}
	savedInUse := e.regs.SavedInUse()
	for _, ins := range e.frame.SaveCalleeRegs(savedInUse) {
		e.ins(ins)
	}
	if info != nil {
		for i, p := range info.Params {
			reg, _ := e.regs.Lookup(p)
			e.ins(IncomingArg(i, reg))
		}
	}

	for idx, q := range body {
		e.comment(q)
		e.translate(q, idx, savedInUse)
	}

	e.regs.ResetFunction()
}

// extendAcrossLoops pushes a temporary's last use to the end of any loop
// that re-reads it: a backward jump keeps everything defined before the
// loop header and read inside the loop alive until the jump.
func (e *Emitter) extendAcrossLoops(body []tac.Quadruple) {
	labelAt := make(map[string]int)
	for idx, q := range body {
		if q.Op == tac.OpLabel {
			labelAt[q.A1] = idx
		}
	}
	def := make(map[string]int)
	for idx, q := range body {
		for _, tok := range valueTokens(q) {
			if classify(tok) == tokTemp {
				if _, ok := def[tok]; !ok {
					def[tok] = idx
				}
			}
		}
	}
	for changed := true; changed; {
		changed = false
		for idx, q := range body {
			var target string
			switch q.Op {
			case tac.OpGoto:
				target = q.A1
			case tac.OpIfFalse, tac.OpIfTrue:
				target = q.A2
			default:
				continue
			}
			head, ok := labelAt[target]
			if !ok || head >= idx {
				continue
			}
			for tok, last := range e.lastUse {
				if def[tok] < head && last >= head && last < idx {
					e.lastUse[tok] = idx
					changed = true
				}
			}
		}
	}
}

// --- Quadruple translation ---

func (e *Emitter) translate(q tac.Quadruple, idx int, savedInUse []string) {
	switch q.Op {
	case tac.OpAdd, tac.OpSub, tac.OpMul, tac.OpDiv, tac.OpMod:
		e.arith(q, idx)
	case tac.OpNeg:
		e.neg(q, idx)
	case tac.OpAnd, tac.OpOr, tac.OpNot:
		e.logic(q, idx)
	case tac.OpLT, tac.OpLE, tac.OpGT, tac.OpGE, tac.OpEQ, tac.OpNE:
		e.relational(q, idx)
	case tac.OpAssign, tac.OpCopy:
		e.assign(q, idx)
	case tac.OpGoto:
		e.ins("j " + sanitize(q.A1))
	case tac.OpIfFalse:
		reg, rel := e.operand(q.A1, idx)
		e.ins(fmt.Sprintf("beqz %s, %s", reg, sanitize(q.A2)))
		rel()
	case tac.OpIfTrue:
		reg, rel := e.operand(q.A1, idx)
		e.ins(fmt.Sprintf("bnez %s, %s", reg, sanitize(q.A2)))
		rel()
	case tac.OpLabel:
		e.label(sanitize(q.A1))
	case tac.OpParam:
		e.param(q, idx)
	case tac.OpCall:
		e.call(q.A1, q.Res, idx)
	case tac.OpCallMethod:
		// The receiver already went out as the first PARAM; this is its
		// last appearance.
		e.call(q.A2, q.Res, idx)
		e.maybeFreeResult(q.A1, idx)
	case tac.OpReturn:
		e.ret(q, idx, savedInUse)
	case tac.OpArrayNew:
		e.arrayNew(q)
	case tac.OpArrayLoad:
		e.arrayAccess(q, idx, true)
	case tac.OpArrayStore:
		e.arrayAccess(q, idx, false)
	case tac.OpNew:
		e.objectNew(q)
	case tac.OpGetField:
		e.getField(q, idx)
	case tac.OpSetField:
		e.setField(q, idx)
	case tac.OpPrint:
		e.print(q, idx)
	}
}

func (e *Emitter) arith(q tac.Quadruple, idx int) {
	if e.isFloat(q.A1) || e.isFloat(q.A2) {
		e.floatArith(q, idx)
		return
	}
	a, relA := e.operand(q.A1, idx)
	b, relB := e.operand(q.A2, idx)
	res := e.result(q.Res)
	switch q.Op {
	case tac.OpAdd:
		e.ins(fmt.Sprintf("addu %s, %s, %s", res, a, b))
	case tac.OpSub:
		e.ins(fmt.Sprintf("subu %s, %s, %s", res, a, b))
	case tac.OpMul:
		e.ins(fmt.Sprintf("mul  %s, %s, %s", res, a, b))
	case tac.OpDiv:
		e.ins(fmt.Sprintf("div  %s, %s", a, b))
		e.ins(fmt.Sprintf("mflo %s", res))
	case tac.OpMod:
		e.ins(fmt.Sprintf("div  %s, %s", a, b))
		e.ins(fmt.Sprintf("mfhi %s", res))
	}
	relA()
	relB()
	e.maybeFreeResult(q.Res, idx)
}

// floatArith carries single-precision values as raw bit patterns in the
// integer registers and runs the operation through the FPU.
func (e *Emitter) floatArith(q tac.Quadruple, idx int) {
	a, relA := e.operand(q.A1, idx)
	b, relB := e.operand(q.A2, idx)
	e.toFPU(a, "$f0", e.isFloat(q.A1))
	e.toFPU(b, "$f2", e.isFloat(q.A2))
	var op string
	switch q.Op {
	case tac.OpAdd:
		op = "add.s"
	case tac.OpSub:
		op = "sub.s"
	case tac.OpMul:
		op = "mul.s"
	case tac.OpDiv:
		op = "div.s"
	default:
		panic(cerr.Newf(cerr.ResourceError, 0, 0,
			"float operands are not valid for %s", q.Op))
	}
	e.ins(fmt.Sprintf("%s %s, %s, %s", op, "$f4", "$f0", "$f2"))
	res := e.result(q.Res)
	e.ins(fmt.Sprintf("mfc1 %s, $f4", res))
	e.floats[q.Res] = true
	relA()
	relB()
	e.maybeFreeResult(q.Res, idx)
}

// toFPU moves a word into a float register, converting from integer
// when the source does not already hold float bits.
func (e *Emitter) toFPU(reg, freg string, isFloat bool) {
	e.ins(fmt.Sprintf("mtc1 %s, %s", reg, freg))
	if !isFloat {
		e.ins(fmt.Sprintf("cvt.s.w %s, %s", freg, freg))
	}
}

func (e *Emitter) neg(q tac.Quadruple, idx int) {
	a, relA := e.operand(q.A1, idx)
	res := e.result(q.Res)
	if e.isFloat(q.A1) {
		e.toFPU(a, "$f0", true)
		e.ins("neg.s $f4, $f0")
		e.ins(fmt.Sprintf("mfc1 %s, $f4", res))
		e.floats[q.Res] = true
	} else {
		e.ins(fmt.Sprintf("neg  %s, %s", res, a))
	}
	relA()
	e.maybeFreeResult(q.Res, idx)
}

func (e *Emitter) logic(q tac.Quadruple, idx int) {
	a, relA := e.operand(q.A1, idx)
	if q.Op == tac.OpNot {
		res := e.result(q.Res)
		e.ins(fmt.Sprintf("xori %s, %s, 1", res, a))
		relA()
		e.maybeFreeResult(q.Res, idx)
		return
	}
	b, relB := e.operand(q.A2, idx)
	res := e.result(q.Res)
	if q.Op == tac.OpAnd {
		e.ins(fmt.Sprintf("and  %s, %s, %s", res, a, b))
	} else {
		e.ins(fmt.Sprintf("or   %s, %s, %s", res, a, b))
	}
	relA()
	relB()
	e.maybeFreeResult(q.Res, idx)
}

func (e *Emitter) relational(q tac.Quadruple, idx int) {
	if e.isFloat(q.A1) || e.isFloat(q.A2) {
		e.floatRelational(q, idx)
		return
	}
	a, relA := e.operand(q.A1, idx)
	b, relB := e.operand(q.A2, idx)
	res := e.result(q.Res)
	switch q.Op {
	case tac.OpLT:
		e.ins(fmt.Sprintf("slt  %s, %s, %s", res, a, b))
	case tac.OpGT:
		e.ins(fmt.Sprintf("slt  %s, %s, %s", res, b, a))
	case tac.OpLE:
		// a <= b  ==  !(b < a)
		e.ins(fmt.Sprintf("slt  %s, %s, %s", res, b, a))
		e.ins(fmt.Sprintf("xori %s, %s, 1", res, res))
	case tac.OpGE:
		e.ins(fmt.Sprintf("slt  %s, %s, %s", res, a, b))
		e.ins(fmt.Sprintf("xori %s, %s, 1", res, res))
	case tac.OpEQ:
		e.ins(fmt.Sprintf("subu %s, %s, %s", res, a, b))
		e.ins(fmt.Sprintf("sltiu %s, %s, 1", res, res))
	case tac.OpNE:
		e.ins(fmt.Sprintf("subu %s, %s, %s", res, a, b))
		e.ins(fmt.Sprintf("sltu %s, $zero, %s", res, res))
	}
	relA()
	relB()
	e.maybeFreeResult(q.Res, idx)
}

func (e *Emitter) floatRelational(q tac.Quadruple, idx int) {
	a, relA := e.operand(q.A1, idx)
	b, relB := e.operand(q.A2, idx)
	e.toFPU(a, "$f0", e.isFloat(q.A1))
	e.toFPU(b, "$f2", e.isFloat(q.A2))
	res := e.result(q.Res)

	cmp, swap, invert := "c.lt.s", false, false
	switch q.Op {
	case tac.OpLE:
		cmp = "c.le.s"
	case tac.OpGT:
		swap = true
	case tac.OpGE:
		cmp, swap = "c.le.s", true
	case tac.OpEQ:
		cmp = "c.eq.s"
	case tac.OpNE:
		cmp, invert = "c.eq.s", true
	}
	if swap {
		e.ins(fmt.Sprintf("%s $f2, $f0", cmp))
	} else {
		e.ins(fmt.Sprintf("%s $f0, $f2", cmp))
	}
	label := e.localLabel()
	if invert {
		e.ins(fmt.Sprintf("li   %s, 0", res))
		e.ins(fmt.Sprintf("bc1t %s", label))
		e.ins(fmt.Sprintf("li   %s, 1", res))
	} else {
		e.ins(fmt.Sprintf("li   %s, 1", res))
		e.ins(fmt.Sprintf("bc1t %s", label))
		e.ins(fmt.Sprintf("li   %s, 0", res))
	}
	e.label(label)
	relA()
	relB()
	e.maybeFreeResult(q.Res, idx)
}

func (e *Emitter) assign(q tac.Quadruple, idx int) {
	res := e.result(q.Res)
	switch classify(q.A1) {
	case tokLiteral:
		e.loadLiteral(res, q.A1)
		if isFloatLiteral(q.A1) {
			e.floats[q.Res] = true
		}
	default:
		src, rel := e.operand(q.A1, idx)
		e.ins(fmt.Sprintf("move %s, %s", res, src))
		if e.isFloat(q.A1) {
			e.floats[q.Res] = true
		}
		rel()
	}
	e.maybeFreeResult(q.Res, idx)
}

func (e *Emitter) param(q tac.Quadruple, idx int) {
	k := e.argIdx
	e.argIdx++
	if reg, ok := ArgReg(k); ok {
		if classify(q.A1) == tokLiteral {
			e.loadLiteral(reg, q.A1)
			return
		}
		src, rel := e.operand(q.A1, idx)
		e.ins(fmt.Sprintf("move %s, %s", reg, src))
		rel()
		return
	}
	// Stack argument: hold the register until the call lays the block out.
	if classify(q.A1) == tokLiteral {
		reg := e.scratchReg()
		e.loadLiteral(reg, q.A1)
		e.stackArgs = append(e.stackArgs, stackArg{reg: reg, free: true})
		return
	}
	reg, lastUse := e.operandPinned(q.A1, idx)
	e.stackArgs = append(e.stackArgs, stackArg{reg: reg, free: lastUse})
}

func (e *Emitter) call(target, res string, idx int) {
	// Caller-save: every $t register still live crosses the call via the
	// stack.
	live := e.regs.InUseTemps()
	if n := len(live); n > 0 {
		e.ins(fmt.Sprintf("addi $sp, $sp, -%d", 4*n))
		for i, reg := range live {
			e.ins(fmt.Sprintf("sw   %s, %d($sp)", reg, 4*i))
		}
	}
	if n := len(e.stackArgs); n > 0 {
		e.ins(fmt.Sprintf("addi $sp, $sp, -%d", 4*n))
		for i, arg := range e.stackArgs {
			e.ins(fmt.Sprintf("sw   %s, %d($sp)", arg.reg, 4*i))
		}
	}

	if runtimeText[target] != "" {
		e.usedRuntime[target] = true
	}
	e.ins("jal  " + sanitize(target))

	if n := len(e.stackArgs); n > 0 {
		e.ins(fmt.Sprintf("addi $sp, $sp, %d", 4*n))
	}
	if n := len(live); n > 0 {
		for i, reg := range live {
			e.ins(fmt.Sprintf("lw   %s, %d($sp)", reg, 4*i))
		}
		e.ins(fmt.Sprintf("addi $sp, $sp, %d", 4*n))
	}
	for _, arg := range e.stackArgs {
		if arg.free {
			e.regs.FreeTemp(arg.reg)
		}
	}
	e.stackArgs = nil
	e.argIdx = 0

	if res != "" {
		reg := e.result(res)
		e.ins(fmt.Sprintf("move %s, $v0", reg))
		e.maybeFreeResult(res, idx)
	}
}

func (e *Emitter) ret(q tac.Quadruple, idx int, savedInUse []string) {
	if e.fnLabel == "main" {
		e.ins("li   $v0, 10")
		e.ins("syscall")
		return
	}
	valueReg := ""
	var rel func()
	if q.A1 != "" {
		valueReg, rel = e.operand(q.A1, idx)
	}
	for _, ins := range e.frame.RestoreCalleeRegs(savedInUse) {
		e.ins(ins)
	}
	for _, ins := range e.frame.Epilogue(valueReg) {
		e.ins(ins)
	}
	if rel != nil {
		rel()
	}
}

func (e *Emitter) arrayNew(q tac.Quadruple) {
	n, _ := strconv.Atoi(q.A1)
	res := e.result(q.Res)
	e.ins(fmt.Sprintf("li   $a0, %d", 4*(n+1)))
	e.ins("li   $v0, 9")
	e.ins("syscall")
	e.ins(fmt.Sprintf("move %s, $v0", res))
	scratch := e.scratchReg()
	e.ins(fmt.Sprintf("li   %s, %d", scratch, n))
	e.ins(fmt.Sprintf("sw   %s, 0(%s)", scratch, res))
	e.regs.FreeTemp(scratch)
	for i := 0; i < n; i++ {
		e.ins(fmt.Sprintf("sw   $zero, %d(%s)", 4*(i+1), res))
	}
}

func (e *Emitter) arrayAccess(q tac.Quadruple, idx int, isLoad bool) {
	var valTok, arrTok, idxTok string
	if isLoad {
		arrTok, idxTok, valTok = q.A1, q.A2, q.Res
	} else {
		valTok, arrTok, idxTok = q.A1, q.A2, q.Res
	}

	arr, relArr := e.operand(arrTok, idx)

	// A literal index folds into the displacement; element zero sits one
	// word past the length header.
	if classify(idxTok) == tokLiteral {
		off, _ := strconv.Atoi(idxTok)
		e.arrayWord(q, idx, isLoad, valTok, fmt.Sprintf("%d(%s)", 4*(off+1), arr))
		relArr()
		return
	}

	iReg, relIdx := e.operand(idxTok, idx)
	addr := e.scratchReg()
	e.ins(fmt.Sprintf("sll  %s, %s, 2", addr, iReg))
	e.ins(fmt.Sprintf("addu %s, %s, %s", addr, addr, arr))
	e.arrayWord(q, idx, isLoad, valTok, fmt.Sprintf("4(%s)", addr))
	e.regs.FreeTemp(addr)
	relIdx()
	relArr()
}

func (e *Emitter) arrayWord(q tac.Quadruple, idx int, isLoad bool, valTok, addr string) {
	if isLoad {
		res := e.result(valTok)
		e.ins(fmt.Sprintf("lw   %s, %s", res, addr))
		e.maybeFreeResult(valTok, idx)
		return
	}
	val, relVal := e.operand(valTok, idx)
	e.ins(fmt.Sprintf("sw   %s, %s", val, addr))
	relVal()
}

func (e *Emitter) objectNew(q tac.Quadruple) {
	layout, ok := e.prog.Layouts[q.A1]
	if !ok {
		panic(cerr.Newf(cerr.ResourceError, 0, 0, "unknown class '%s'", q.A1))
	}
	res := e.result(q.Res)
	e.ins(fmt.Sprintf("li   $a0, %d", 4*layout.SizeInWords()))
	e.ins("li   $v0, 9")
	e.ins("syscall")
	e.ins(fmt.Sprintf("move %s, $v0", res))
	// Fields start zero-filled.
	for i := 0; i < layout.SizeInWords(); i++ {
		e.ins(fmt.Sprintf("sw   $zero, %d(%s)", 4*i, res))
	}
}

func (e *Emitter) getField(q tac.Quadruple, idx int) {
	obj, relObj := e.operand(q.A1, idx)
	res := e.result(q.Res)
	e.ins(fmt.Sprintf("lw   %s, %d(%s)", res, 4*e.fieldOffset(q.A2), obj))
	relObj()
	e.maybeFreeResult(q.Res, idx)
}

func (e *Emitter) setField(q tac.Quadruple, idx int) {
	val, relVal := e.operand(q.A1, idx)
	obj, relObj := e.operand(q.A2, idx)
	e.ins(fmt.Sprintf("sw   %s, %d(%s)", val, 4*e.fieldOffset(q.Res), obj))
	relVal()
	relObj()
}

// fieldOffset resolves a class-qualified field token; the pseudo field
// reading an array's length header lives at word zero.
func (e *Emitter) fieldOffset(qualified string) int {
	if qualified == tac.LenField {
		return 0
	}
	dot := strings.LastIndex(qualified, ".")
	class, field := qualified[:dot], qualified[dot+1:]
	layout, ok := e.prog.Layouts[class]
	if !ok {
		panic(cerr.Newf(cerr.ResourceError, 0, 0, "unknown class '%s'", class))
	}
	off, ok := layout.Offset(field)
	if !ok {
		panic(cerr.Newf(cerr.ResourceError, 0, 0,
			"class '%s' has no field '%s'", class, field))
	}
	return off
}

func (e *Emitter) print(q tac.Quadruple, idx int) {
	switch q.A2 {
	case "string":
		if classify(q.A1) == tokLiteral {
			e.ins("la   $a0, " + e.intern(q.A1))
		} else {
			reg, rel := e.operand(q.A1, idx)
			e.ins(fmt.Sprintf("move $a0, %s", reg))
			rel()
		}
		e.ins("li   $v0, 4")
	case "float":
		reg, rel := e.operand(q.A1, idx)
		e.toFPU(reg, "$f12", true)
		rel()
		e.ins("li   $v0, 2")
	case "boolean":
		// Booleans print their keyword, not 0/1.
		if classify(q.A1) == tokLiteral {
			e.loadLiteral("$a0", q.A1)
		} else {
			reg, rel := e.operand(q.A1, idx)
			e.ins(fmt.Sprintf("move $a0, %s", reg))
			rel()
		}
		e.usedRuntime[runtimeStrBool] = true
		e.ins("jal  " + runtimeStrBool)
		e.ins("move $a0, $v0")
		e.ins("li   $v0, 4")
	default:
		if classify(q.A1) == tokLiteral {
			e.loadLiteral("$a0", q.A1)
		} else {
			reg, rel := e.operand(q.A1, idx)
			e.ins(fmt.Sprintf("move $a0, %s", reg))
			rel()
		}
		e.ins("li   $v0, 1")
	}
	e.ins("syscall")
	e.ins("la   $a0, newline")
	e.ins("li   $v0, 4")
	e.ins("syscall")
}

// --- Operands, results and literals ---

// operand materializes a value token in a register. The returned release
// function frees the register when this use was the token's last, or
// immediately for literal scratch loads.
func (e *Emitter) operand(tok string, idx int) (string, func()) {
	switch classify(tok) {
	case tokLiteral:
		reg := e.scratchReg()
		e.loadLiteral(reg, tok)
		return reg, func() { e.regs.FreeTemp(reg) }
	case tokTemp:
		reg, ok := e.regs.Lookup(tok)
		if !ok {
			panic(cerr.Newf(cerr.ResourceError, 0, 0,
				"temporary '%s' read before it was written", tok))
		}
		return reg, func() {
			if e.lastUse[tok] == idx {
				e.regs.FreeTemp(reg)
			}
		}
	default:
		reg, ok := e.regs.Lookup(tok)
		if !ok {
			panic(cerr.Newf(cerr.ResourceError, 0, 0,
				"variable '%s' has no register", tok))
		}
		return reg, func() {}
	}
}

// operandPinned is operand for stack arguments: the register must stay
// allocated until the call, so the caller is told whether to free it
// afterwards instead of getting a release closure.
func (e *Emitter) operandPinned(tok string, idx int) (string, bool) {
	reg, ok := e.regs.Lookup(tok)
	if !ok {
		panic(cerr.Newf(cerr.ResourceError, 0, 0,
			"value '%s' has no register", tok))
	}
	return reg, classify(tok) == tokTemp && e.lastUse[tok] == idx
}

// result places a defined value: temporaries allocate here, variables
// were given their saved register up front.
func (e *Emitter) result(tok string) string {
	if classify(tok) == tokTemp {
		reg, err := e.regs.AllocateTemp(tok)
		if err != nil {
			panic(cerr.Newf(cerr.ResourceError, 0, 0,
				"in function '%s': %s", e.fnLabel, err.Error()))
		}
		return reg
	}
	reg, ok := e.regs.Lookup(tok)
	if !ok {
		panic(cerr.Newf(cerr.ResourceError, 0, 0,
			"variable '%s' has no register", tok))
	}
	return reg
}

// maybeFreeResult drops a temporary whose value is never read.
func (e *Emitter) maybeFreeResult(tok string, idx int) {
	if classify(tok) == tokTemp && e.lastUse[tok] == idx {
		if reg, ok := e.regs.Lookup(tok); ok {
			e.regs.FreeTemp(reg)
		}
	}
}

func (e *Emitter) loadLiteral(reg, tok string) {
	switch {
	case tok == "true":
		e.ins(fmt.Sprintf("li   %s, 1", reg))
	case tok == "false", tok == "null":
		e.ins(fmt.Sprintf("li   %s, 0", reg))
	case tok[0] == '"':
		e.ins(fmt.Sprintf("la   %s, %s", reg, e.intern(tok)))
	case isFloatLiteral(tok):
		f, _ := strconv.ParseFloat(tok, 32)
		e.ins(fmt.Sprintf("li   %s, 0x%08x", reg, math.Float32bits(float32(f))))
	default:
		e.ins(fmt.Sprintf("li   %s, %s", reg, tok))
	}
}

// intern pools a string literal into the .data segment.
func (e *Emitter) intern(lit string) string {
	if label, ok := e.strPool[lit]; ok {
		return label
	}
	label := fmt.Sprintf("str_%d", len(e.strOrder))
	e.strPool[lit] = label
	e.strOrder = append(e.strOrder, lit)
	return label
}

func (e *Emitter) scratchReg() string {
	e.scratch++
	reg, err := e.regs.AllocateTemp(fmt.Sprintf("scratch@%d", e.scratch))
	if err != nil {
		panic(cerr.Newf(cerr.ResourceError, 0, 0,
			"in function '%s': %s", e.fnLabel, err.Error()))
	}
	return reg
}

func (e *Emitter) localLabel() string {
	e.localLbl++
	return fmt.Sprintf("%s_cc_%d", sanitize(e.fnLabel), e.localLbl)
}

func (e *Emitter) isFloat(tok string) bool {
	return isFloatLiteral(tok) || e.floats[tok]
}

// --- Output helpers ---

func (e *Emitter) line(s string)  { e.text = append(e.text, s) }
func (e *Emitter) label(l string) { e.text = append(e.text, l+":") }
func (e *Emitter) ins(s string)   { e.text = append(e.text, "\t"+s) }

func (e *Emitter) comment(q tac.Quadruple) {
	e.text = append(e.text, "\t# "+q.String())
}

func sanitize(label string) string {
	return strings.ReplaceAll(label, ".", "_")
}

// --- Token classification ---

type tokKind int

const (
	tokVar tokKind = iota
	tokTemp
	tokLiteral
)

func classify(tok string) tokKind {
	if tok == "" {
		return tokLiteral
	}
	switch tok {
	case "true", "false", "null":
		return tokLiteral
	}
	c := tok[0]
	if c == '"' || c == '-' || (c >= '0' && c <= '9') {
		return tokLiteral
	}
	if c == 't' && len(tok) > 1 && digits(tok[1:]) {
		return tokTemp
	}
	return tokVar
}

func digits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func isFloatLiteral(tok string) bool {
	if len(tok) == 0 {
		return false
	}
	c := tok[0]
	if c != '-' && (c < '0' || c > '9') {
		return false
	}
	return strings.Contains(tok, ".")
}

// valueTokens lists the positions of a quadruple that hold values
// (never labels, counts, class names or field names).
func valueTokens(q tac.Quadruple) []string {
	var toks []string
	add := func(ts ...string) {
		for _, t := range ts {
			if t != "" {
				toks = append(toks, t)
			}
		}
	}
	switch q.Op {
	case tac.OpAdd, tac.OpSub, tac.OpMul, tac.OpDiv, tac.OpMod,
		tac.OpAnd, tac.OpOr,
		tac.OpLT, tac.OpLE, tac.OpGT, tac.OpGE, tac.OpEQ, tac.OpNE:
		add(q.A1, q.A2, q.Res)
	case tac.OpNeg, tac.OpNot, tac.OpAssign, tac.OpCopy:
		add(q.A1, q.Res)
	case tac.OpIfFalse, tac.OpIfTrue, tac.OpParam, tac.OpReturn, tac.OpPrint:
		add(q.A1)
	case tac.OpCall:
		add(q.Res)
	case tac.OpArrayNew, tac.OpNew:
		add(q.Res)
	case tac.OpArrayLoad, tac.OpArrayStore:
		add(q.A1, q.A2, q.Res)
	case tac.OpGetField:
		add(q.A1, q.Res)
	case tac.OpSetField:
		add(q.A1, q.A2)
	case tac.OpCallMethod:
		add(q.A1, q.Res)
	}
	return toks
}
