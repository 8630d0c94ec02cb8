package vm

import (
	"fmt"
	"math"

	"github.com/daimatz/jtrace/pkg/host"
)

// ValueType represents the type of a Value on the stack or in local variables.
type ValueType int

const (
	// TypeNone marks a local slot that holds no live value (never written,
	// or the upper half of a long/double).
	TypeNone ValueType = iota
	TypeInt
	TypeLong
	TypeFloat
	TypeDouble
	TypeRef
	TypeNull
)

func (t ValueType) String() string {
	switch t {
	case TypeNone:
		return "none"
	case TypeInt:
		return "int"
	case TypeLong:
		return "long"
	case TypeFloat:
		return "float"
	case TypeDouble:
		return "double"
	case TypeRef:
		return "reference"
	case TypeNull:
		return "null"
	}
	return fmt.Sprintf("ValueType(%d)", int(t))
}

// Value represents a value on the operand stack or in local variables.
// boolean, byte, char and short are carried as Int.
type Value struct {
	Type   ValueType
	Int    int32
	Long   int64
	Float  float32
	Double float64
	Ref    Object
}

// IntValue creates an integer Value.
func IntValue(v int32) Value {
	return Value{Type: TypeInt, Int: v}
}

// LongValue creates a long Value.
func LongValue(v int64) Value {
	return Value{Type: TypeLong, Long: v}
}

// FloatValue creates a float Value.
func FloatValue(v float32) Value {
	return Value{Type: TypeFloat, Float: v}
}

// DoubleValue creates a double Value.
func DoubleValue(v float64) Value {
	return Value{Type: TypeDouble, Double: v}
}

// RefValue creates a reference Value. A nil object yields the null reference.
func RefValue(ref Object) Value {
	if ref == nil {
		return NullValue()
	}
	return Value{Type: TypeRef, Ref: ref}
}

// NullValue creates a null reference Value.
func NullValue() Value {
	return Value{Type: TypeNull}
}

// BoolValue creates the int encoding of a boolean.
func BoolValue(b bool) Value {
	if b {
		return IntValue(1)
	}
	return IntValue(0)
}

// IsNull reports whether v is the null reference.
func (v Value) IsNull() bool {
	return v.Type == TypeNull || (v.Type == TypeRef && v.Ref == nil)
}

// IsWide reports whether v is a category 2 value (long or double).
func (v Value) IsWide() bool {
	return v.Type == TypeLong || v.Type == TypeDouble
}

// ObjectID returns the identity of a reference value, host.NullObject for null.
func (v Value) ObjectID() host.ObjectID {
	if v.IsNull() || v.Ref == nil {
		return host.NullObject
	}
	return v.Ref.ID()
}

// zeroValue is the default value of a field or array element of type desc.
func zeroValue(desc string) Value {
	if desc == "" {
		return NullValue()
	}
	switch desc[0] {
	case 'Z', 'B', 'C', 'S', 'I':
		return IntValue(0)
	case 'J':
		return LongValue(0)
	case 'F':
		return FloatValue(0)
	case 'D':
		return DoubleValue(0)
	default:
		return NullValue()
	}
}

// Frame represents a stack frame for method execution.
type Frame struct {
	Method       *Method
	LocalVars    []Value
	OperandStack []Value
	SP           int
	Code         []byte
	PC           int
	// This is the receiver the method was invoked on, nil for static methods.
	// Kept separately because slot 0 may be overwritten.
	This Object

	thread *Thread
}

// NewFrame creates a new Frame with the given parameters.
func NewFrame(maxLocals, maxStack uint16, code []byte, method *Method) *Frame {
	return &Frame{
		Method:       method,
		LocalVars:    make([]Value, maxLocals),
		OperandStack: make([]Value, maxStack),
		Code:         code,
	}
}

// Class returns the class declaring the executing method.
func (f *Frame) Class() *Class {
	if f.Method == nil {
		return nil
	}
	return f.Method.Class
}

// Push pushes a value onto the operand stack.
func (f *Frame) Push(v Value) {
	if f.SP >= len(f.OperandStack) {
		panic(fmt.Sprintf("operand stack overflow: SP=%d, max=%d", f.SP, len(f.OperandStack)))
	}
	f.OperandStack[f.SP] = v
	f.SP++
}

// Pop pops a value from the operand stack.
func (f *Frame) Pop() Value {
	if f.SP <= 0 {
		panic("operand stack underflow: SP=0")
	}
	f.SP--
	v := f.OperandStack[f.SP]
	f.OperandStack[f.SP] = Value{}
	return v
}

// Peek returns the top of the operand stack without popping it.
func (f *Frame) Peek() Value {
	if f.SP <= 0 {
		panic("operand stack underflow: SP=0")
	}
	return f.OperandStack[f.SP-1]
}

// ClearStack empties the operand stack (exception dispatch).
func (f *Frame) ClearStack() {
	for f.SP > 0 {
		f.Pop()
	}
}

// GetLocal returns the value at the given local variable index.
func (f *Frame) GetLocal(index int) Value {
	if index < 0 || index >= len(f.LocalVars) {
		panic(fmt.Sprintf("local variable index out of range: index=%d, max=%d", index, len(f.LocalVars)))
	}
	return f.LocalVars[index]
}

// SetLocal sets the value at the given local variable index. A long or
// double occupies index and index+1.
func (f *Frame) SetLocal(index int, v Value) {
	if index < 0 || index >= len(f.LocalVars) {
		panic(fmt.Sprintf("local variable index out of range: index=%d, max=%d", index, len(f.LocalVars)))
	}
	f.LocalVars[index] = v
	if v.IsWide() && index+1 < len(f.LocalVars) {
		f.LocalVars[index+1] = Value{}
	}
}

// ReadU8 reads a uint8 operand and advances PC.
func (f *Frame) ReadU8() uint8 {
	val := f.Code[f.PC]
	f.PC++
	return val
}

// ReadI8 reads an int8 operand and advances PC.
func (f *Frame) ReadI8() int8 {
	val := int8(f.Code[f.PC])
	f.PC++
	return val
}

// ReadU16 reads a uint16 operand (big-endian) and advances PC by 2.
func (f *Frame) ReadU16() uint16 {
	val := uint16(f.Code[f.PC])<<8 | uint16(f.Code[f.PC+1])
	f.PC += 2
	return val
}

// ReadI16 reads an int16 operand (big-endian) and advances PC by 2.
func (f *Frame) ReadI16() int16 {
	return int16(f.ReadU16())
}

// ReadI32 reads an int32 operand (big-endian) and advances PC by 4.
func (f *Frame) ReadI32() int32 {
	val := uint32(f.Code[f.PC])<<24 | uint32(f.Code[f.PC+1])<<16 | uint32(f.Code[f.PC+2])<<8 | uint32(f.Code[f.PC+3])
	f.PC += 4
	return int32(val)
}

// javaF2I converts like f2i/d2i: NaN becomes 0, out-of-range values clamp.
func javaF2I(v float64) int32 {
	switch {
	case math.IsNaN(v):
		return 0
	case v >= math.MaxInt32:
		return math.MaxInt32
	case v <= math.MinInt32:
		return math.MinInt32
	}
	return int32(v)
}

// javaF2L converts like f2l/d2l.
func javaF2L(v float64) int64 {
	switch {
	case math.IsNaN(v):
		return 0
	case v >= math.MaxInt64:
		return math.MaxInt64
	case v <= math.MinInt64:
		return math.MinInt64
	}
	return int64(v)
}
