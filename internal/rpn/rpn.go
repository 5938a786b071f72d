// Package rpn implements the lazy reverse-polish expression buffer and
// evaluator shared by the assembler (building expressions, folding known
// constants eagerly) and the linker (evaluating the unresolved remainder
// against final addresses).
package rpn

import (
	"encoding/binary"
	"fmt"
)

// Op is a single RPN opcode. The byte-stream is consumed left to right by
// Eval using a single value stack, exactly as described in spec.md §4.3.
type Op byte

const (
	OpConst Op = iota // i32 operand
	OpSymbol
	OpSymbolBank
	OpSectionBank // followed by a length-prefixed section name
	OpSelfBank
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpMod
	OpNeg
	OpNot    // bitwise complement
	OpLNot   // logical not
	OpAnd    // bitwise
	OpOr     // bitwise
	OpXor    // bitwise
	OpShl
	OpShr
	OpLAnd // logical
	OpLOr
	OpEq
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
	OpHRAMCheck
	OpRSTCheck
)

// Expr is a lazily-evaluated expression: either fully known (isKnown, with
// its folded value already computed) or a byte-stream still awaiting
// link-time resolution.
type Expr struct {
	bytes   []byte
	isKnown bool
	value   int32
}

// IsKnown reports whether the expression folded to a compile-time constant.
func (e Expr) IsKnown() bool { return e.isKnown }

// Value returns the folded constant. Only valid if IsKnown().
func (e Expr) Value() int32 { return e.value }

// Bytes returns the canonical RPN encoding, usable as a sub-expression of a
// larger unknown expression or for object-file serialization.
func (e Expr) Bytes() []byte {
	if e.isKnown {
		return encodeConst(e.value)
	}
	return e.bytes
}

func encodeConst(v int32) []byte {
	b := make([]byte, 5)
	b[0] = byte(OpConst)
	binary.LittleEndian.PutUint32(b[1:], uint32(v))
	return b
}

// Const builds a known constant expression.
func Const(v int32) Expr {
	return Expr{isKnown: true, value: v}
}

// FromBytes wraps a raw RPN byte-stream read back from an object file as a
// deferred Expr, ready for Eval at link time.
func FromBytes(raw []byte) Expr {
	return Expr{bytes: raw}
}

// SymbolRef builds a reference to symbol id. If the symbol's value is
// already known at build time (an EQU/VAR already defined), pass known=true
// and its value so the expression folds immediately; otherwise the
// reference is deferred to link time.
func SymbolRef(id uint32, known bool, value int32) Expr {
	if known {
		return Const(value)
	}
	b := make([]byte, 5)
	b[0] = byte(OpSymbol)
	binary.LittleEndian.PutUint32(b[1:], id)
	return Expr{bytes: b}
}

// SymbolBankRef builds BANK(symbol): always deferred, since a symbol's bank
// is only final after linker placement.
func SymbolBankRef(id uint32) Expr {
	b := make([]byte, 5)
	b[0] = byte(OpSymbolBank)
	binary.LittleEndian.PutUint32(b[1:], id)
	return Expr{bytes: b}
}

// SectionBankRef builds BANK("section name"), deferred to link time.
func SectionBankRef(name string) Expr {
	b := []byte{byte(OpSectionBank)}
	b = append(b, encodeString(name)...)
	return Expr{bytes: b}
}

// SelfBankRef builds BANK(@), the bank of the section currently being
// assembled. Like SymbolBankRef, only final after placement.
func SelfBankRef() Expr {
	return Expr{bytes: []byte{byte(OpSelfBank)}}
}

func encodeString(s string) []byte {
	b := make([]byte, 4+len(s))
	binary.LittleEndian.PutUint32(b, uint32(len(s)))
	copy(b[4:], s)
	return b
}

// binaryOp folds eager constants, else emits operand bytes followed by op.
func binaryOp(op Op, a, b Expr, fold func(x, y int32) (int32, error)) (Expr, error) {
	if a.isKnown && b.isKnown {
		v, err := fold(a.value, b.value)
		if err != nil {
			return Expr{}, err
		}
		return Const(v), nil
	}
	buf := append(append([]byte{}, a.Bytes()...), b.Bytes()...)
	buf = append(buf, byte(op))
	return Expr{bytes: buf}, nil
}

func unaryOp(op Op, a Expr, fold func(x int32) (int32, error)) (Expr, error) {
	if a.isKnown {
		v, err := fold(a.value)
		if err != nil {
			return Expr{}, err
		}
		return Const(v), nil
	}
	buf := append(append([]byte{}, a.Bytes()...), byte(op))
	return Expr{bytes: buf}, nil
}

func Add(a, b Expr) (Expr, error) {
	return binaryOp(OpAdd, a, b, func(x, y int32) (int32, error) { return x + y, nil })
}
func Sub(a, b Expr) (Expr, error) {
	return binaryOp(OpSub, a, b, func(x, y int32) (int32, error) { return x - y, nil })
}
func Mul(a, b Expr) (Expr, error) {
	return binaryOp(OpMul, a, b, func(x, y int32) (int32, error) { return x * y, nil })
}
func Div(a, b Expr) (Expr, error) {
	return binaryOp(OpDiv, a, b, func(x, y int32) (int32, error) {
		if y == 0 {
			return 0, fmt.Errorf("division by zero")
		}
		return x / y, nil
	})
}
func Mod(a, b Expr) (Expr, error) {
	return binaryOp(OpMod, a, b, func(x, y int32) (int32, error) {
		if y == 0 {
			return 0, fmt.Errorf("division by zero")
		}
		return x % y, nil
	})
}
func Neg(a Expr) (Expr, error) {
	return unaryOp(OpNeg, a, func(x int32) (int32, error) { return -x, nil })
}
func BitNot(a Expr) (Expr, error) {
	return unaryOp(OpNot, a, func(x int32) (int32, error) { return ^x, nil })
}
func LogicNot(a Expr) (Expr, error) {
	return unaryOp(OpLNot, a, func(x int32) (int32, error) { return boolInt(x == 0), nil })
}
func BitAnd(a, b Expr) (Expr, error) {
	return binaryOp(OpAnd, a, b, func(x, y int32) (int32, error) { return x & y, nil })
}
func BitOr(a, b Expr) (Expr, error) {
	return binaryOp(OpOr, a, b, func(x, y int32) (int32, error) { return x | y, nil })
}
func BitXor(a, b Expr) (Expr, error) {
	return binaryOp(OpXor, a, b, func(x, y int32) (int32, error) { return x ^ y, nil })
}
func Shl(a, b Expr) (Expr, error) {
	return binaryOp(OpShl, a, b, func(x, y int32) (int32, error) {
		if y < 0 || y >= 32 {
			return 0, fmt.Errorf("shift amount %d out of range", y)
		}
		return x << uint(y), nil
	})
}
func Shr(a, b Expr) (Expr, error) {
	return binaryOp(OpShr, a, b, func(x, y int32) (int32, error) {
		if y < 0 || y >= 32 {
			return 0, fmt.Errorf("shift amount %d out of range", y)
		}
		return x >> uint(y), nil
	})
}
func LogicAnd(a, b Expr) (Expr, error) {
	return binaryOp(OpLAnd, a, b, func(x, y int32) (int32, error) { return boolInt(x != 0 && y != 0), nil })
}
func LogicOr(a, b Expr) (Expr, error) {
	return binaryOp(OpLOr, a, b, func(x, y int32) (int32, error) { return boolInt(x != 0 || y != 0), nil })
}
func Eq(a, b Expr) (Expr, error) {
	return binaryOp(OpEq, a, b, func(x, y int32) (int32, error) { return boolInt(x == y), nil })
}
func Ne(a, b Expr) (Expr, error) {
	return binaryOp(OpNe, a, b, func(x, y int32) (int32, error) { return boolInt(x != y), nil })
}
func Lt(a, b Expr) (Expr, error) {
	return binaryOp(OpLt, a, b, func(x, y int32) (int32, error) { return boolInt(x < y), nil })
}
func Le(a, b Expr) (Expr, error) {
	return binaryOp(OpLe, a, b, func(x, y int32) (int32, error) { return boolInt(x <= y), nil })
}
func Gt(a, b Expr) (Expr, error) {
	return binaryOp(OpGt, a, b, func(x, y int32) (int32, error) { return boolInt(x > y), nil })
}
func Ge(a, b Expr) (Expr, error) {
	return binaryOp(OpGe, a, b, func(x, y int32) (int32, error) { return boolInt(x >= y), nil })
}

// HRAMCheck validates the top-of-stack is in [0xFF00, 0xFFFF] and masks to
// the low byte, for instructions that accept only an HRAM operand.
func HRAMCheck(a Expr) (Expr, error) {
	return unaryOp(OpHRAMCheck, a, func(x int32) (int32, error) {
		if x < 0xFF00 || x > 0xFFFF {
			return 0, fmt.Errorf("source address $%04x not in HRAM range [$FF00, $FFFF]", uint32(x))
		}
		return x & 0xFF, nil
	})
}

// RSTCheck validates the top-of-stack is one of {0x00, 0x08, ..., 0x38} and
// ORs in 0xC7 to produce the RST opcode byte.
func RSTCheck(a Expr) (Expr, error) {
	return unaryOp(OpRSTCheck, a, func(x int32) (int32, error) {
		if x < 0 || x > 0x38 || x%8 != 0 {
			return 0, fmt.Errorf("invalid RST vector $%02x", uint32(x))
		}
		return x | 0xC7, nil
	})
}

func boolInt(b bool) int32 {
	if b {
		return 1
	}
	return 0
}

// SymbolResolver resolves a symbol id (and, separately, its bank) to a final
// value at link time.
type SymbolResolver interface {
	Value(id uint32) (int32, error)
	Bank(id uint32) (int32, error)
}

// SectionBankResolver resolves a section name to its final bank.
type SectionBankResolver func(name string) (int32, error)

// Eval walks an RPN byte-stream with a single value stack, resolving symbol
// and section-bank references through the given callbacks. selfBank is the
// bank of the section the patch belongs to (for BANK(@)).
func Eval(stream []byte, sym SymbolResolver, sectionBank SectionBankResolver, selfBank int32) (int32, error) {
	var stack []int32
	pop := func() (int32, error) {
		if len(stack) == 0 {
			return 0, fmt.Errorf("rpn: stack underflow")
		}
		v := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		return v, nil
	}
	i := 0
	for i < len(stream) {
		op := Op(stream[i])
		i++
		switch op {
		case OpConst:
			if i+4 > len(stream) {
				return 0, fmt.Errorf("rpn: truncated const operand")
			}
			stack = append(stack, int32(binary.LittleEndian.Uint32(stream[i:i+4])))
			i += 4
		case OpSymbol, OpSymbolBank:
			if i+4 > len(stream) {
				return 0, fmt.Errorf("rpn: truncated symbol id")
			}
			id := binary.LittleEndian.Uint32(stream[i : i+4])
			i += 4
			var v int32
			var err error
			if op == OpSymbol {
				v, err = sym.Value(id)
			} else {
				v, err = sym.Bank(id)
			}
			if err != nil {
				return 0, err
			}
			stack = append(stack, v)
		case OpSectionBank:
			if i+4 > len(stream) {
				return 0, fmt.Errorf("rpn: truncated section name length")
			}
			n := binary.LittleEndian.Uint32(stream[i : i+4])
			i += 4
			if i+int(n) > len(stream) {
				return 0, fmt.Errorf("rpn: truncated section name")
			}
			name := string(stream[i : i+int(n)])
			i += int(n)
			v, err := sectionBank(name)
			if err != nil {
				return 0, err
			}
			stack = append(stack, v)
		case OpSelfBank:
			stack = append(stack, selfBank)
		case OpAdd, OpSub, OpMul, OpDiv, OpMod, OpAnd, OpOr, OpXor, OpShl, OpShr,
			OpLAnd, OpLOr, OpEq, OpNe, OpLt, OpLe, OpGt, OpGe:
			b, err := pop()
			if err != nil {
				return 0, err
			}
			a, err := pop()
			if err != nil {
				return 0, err
			}
			v, err := applyBinary(op, a, b)
			if err != nil {
				return 0, err
			}
			stack = append(stack, v)
		case OpNeg, OpNot, OpLNot, OpHRAMCheck, OpRSTCheck:
			a, err := pop()
			if err != nil {
				return 0, err
			}
			v, err := applyUnary(op, a)
			if err != nil {
				return 0, err
			}
			stack = append(stack, v)
		default:
			return 0, fmt.Errorf("rpn: unknown opcode %d", op)
		}
	}
	if len(stack) != 1 {
		return 0, fmt.Errorf("rpn: expression did not reduce to a single value (stack depth %d)", len(stack))
	}
	return stack[0], nil
}

func applyBinary(op Op, a, b int32) (int32, error) {
	switch op {
	case OpAdd:
		return a + b, nil
	case OpSub:
		return a - b, nil
	case OpMul:
		return a * b, nil
	case OpDiv:
		if b == 0 {
			return 0, fmt.Errorf("division by zero")
		}
		return a / b, nil
	case OpMod:
		if b == 0 {
			return 0, fmt.Errorf("division by zero")
		}
		return a % b, nil
	case OpAnd:
		return a & b, nil
	case OpOr:
		return a | b, nil
	case OpXor:
		return a ^ b, nil
	case OpShl:
		if b < 0 || b >= 32 {
			return 0, fmt.Errorf("shift amount %d out of range", b)
		}
		return a << uint(b), nil
	case OpShr:
		if b < 0 || b >= 32 {
			return 0, fmt.Errorf("shift amount %d out of range", b)
		}
		return a >> uint(b), nil
	case OpLAnd:
		return boolInt(a != 0 && b != 0), nil
	case OpLOr:
		return boolInt(a != 0 || b != 0), nil
	case OpEq:
		return boolInt(a == b), nil
	case OpNe:
		return boolInt(a != b), nil
	case OpLt:
		return boolInt(a < b), nil
	case OpLe:
		return boolInt(a <= b), nil
	case OpGt:
		return boolInt(a > b), nil
	case OpGe:
		return boolInt(a >= b), nil
	}
	return 0, fmt.Errorf("rpn: not a binary opcode %d", op)
}

func applyUnary(op Op, a int32) (int32, error) {
	switch op {
	case OpNeg:
		return -a, nil
	case OpNot:
		return ^a, nil
	case OpLNot:
		return boolInt(a == 0), nil
	case OpHRAMCheck:
		if a < 0xFF00 || a > 0xFFFF {
			return 0, fmt.Errorf("source address $%04x not in HRAM range [$FF00, $FFFF]", uint32(a))
		}
		return a & 0xFF, nil
	case OpRSTCheck:
		if a < 0 || a > 0x38 || a%8 != 0 {
			return 0, fmt.Errorf("invalid RST vector $%02x", uint32(a))
		}
		return a | 0xC7, nil
	}
	return 0, fmt.Errorf("rpn: not a unary opcode %d", op)
}
