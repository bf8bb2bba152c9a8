// internal/mips/runtime.go
package mips

// Out-of-line runtime routines. The IR calls them like user functions;
// only the ones a program actually reaches are appended to the output.
const (
	runtimeConcat  = "__concat"
	runtimeStrInt  = "__str_int"
	runtimeStrBool = "__str_bool"
)

var runtimeOrder = []string{runtimeStrInt, runtimeStrBool, runtimeConcat}

var runtimeText = map[string]string{
	// __str_int: $a0 signed integer -> $v0 address of its decimal text.
	// Digits are written backwards into a fresh 16-byte heap buffer.
	runtimeStrInt: `
__str_int:
	move $t0, $a0
	li   $a0, 16
	li   $v0, 9
	syscall
	addi $t1, $v0, 15
	sb   $zero, 0($t1)
	li   $t2, 0
	bgez $t0, __str_int_digits
	li   $t2, 1
	negu $t0, $t0
__str_int_digits:
	addi $t1, $t1, -1
	li   $t3, 10
	div  $t0, $t3
	mfhi $t4
	addi $t4, $t4, 48
	sb   $t4, 0($t1)
	mflo $t0
	bnez $t0, __str_int_digits
	beqz $t2, __str_int_done
	addi $t1, $t1, -1
	li   $t4, 45
	sb   $t4, 0($t1)
__str_int_done:
	move $v0, $t1
	jr   $ra
`,

	// __str_bool: $a0 0/1 -> $v0 address of "false"/"true".
	runtimeStrBool: `
__str_bool:
	beqz $a0, __str_bool_false
	la   $v0, bool_true
	jr   $ra
__str_bool_false:
	la   $v0, bool_false
	jr   $ra
`,

	// __concat: $a0, $a1 strings -> $v0 fresh string holding both.
	runtimeConcat: `
__concat:
	move $t0, $a0
	move $t1, $a1
	li   $t2, 0
__concat_len1:
	lbu  $t3, 0($t0)
	beqz $t3, __concat_len2
	addi $t0, $t0, 1
	addi $t2, $t2, 1
	j    __concat_len1
__concat_len2:
	lbu  $t3, 0($t1)
	beqz $t3, __concat_alloc
	addi $t1, $t1, 1
	addi $t2, $t2, 1
	j    __concat_len2
__concat_alloc:
	move $t0, $a0
	move $t1, $a1
	addi $a0, $t2, 1
	li   $v0, 9
	syscall
	move $t4, $v0
__concat_copy1:
	lbu  $t3, 0($t0)
	beqz $t3, __concat_copy2
	sb   $t3, 0($t4)
	addi $t0, $t0, 1
	addi $t4, $t4, 1
	j    __concat_copy1
__concat_copy2:
	lbu  $t3, 0($t1)
	sb   $t3, 0($t4)
	beqz $t3, __concat_done
	addi $t1, $t1, 1
	addi $t4, $t4, 1
	j    __concat_copy2
__concat_done:
	jr   $ra
`,
}
