package vm

import (
	"fmt"
	"math"

	"github.com/daimatz/jtrace/pkg/classfile"
)

// executeInstruction executes a single bytecode instruction.
// Returns (returnValue, hasReturn, error).
func (vm *VM) executeInstruction(frame *Frame, opcode byte) (Value, bool, error) {
	switch opcode {
	case OpNop:
		// do nothing

	// --- Constant load instructions ---
	case OpAconstNull:
		frame.Push(NullValue())

	case OpIconstM1, OpIconst0, OpIconst1, OpIconst2, OpIconst3, OpIconst4, OpIconst5:
		frame.Push(IntValue(int32(opcode) - OpIconst0))

	case OpLconst0, OpLconst1:
		frame.Push(LongValue(int64(opcode - OpLconst0)))

	case OpFconst0, OpFconst1, OpFconst2:
		frame.Push(FloatValue(float32(opcode - OpFconst0)))

	case OpDconst0, OpDconst1:
		frame.Push(DoubleValue(float64(opcode - OpDconst0)))

	case OpBipush:
		val := frame.ReadI8()
		frame.Push(IntValue(int32(val)))

	case OpSipush:
		val := frame.ReadI16()
		frame.Push(IntValue(int32(val)))

	case OpLdc:
		index := frame.ReadU8()
		return vm.executeLdc(frame, uint16(index))

	case OpLdcW, OpLdc2W:
		index := frame.ReadU16()
		return vm.executeLdc(frame, index)

	// --- Local variable load instructions ---
	case OpIload, OpLload, OpFload, OpDload, OpAload:
		index := frame.ReadU8()
		frame.Push(frame.GetLocal(int(index)))
	case OpIload0, OpIload1, OpIload2, OpIload3:
		frame.Push(frame.GetLocal(int(opcode - OpIload0)))
	case OpLload0, OpLload1, OpLload2, OpLload3:
		frame.Push(frame.GetLocal(int(opcode - OpLload0)))
	case OpFload0, OpFload1, OpFload2, OpFload3:
		frame.Push(frame.GetLocal(int(opcode - OpFload0)))
	case OpDload0, OpDload1, OpDload2, OpDload3:
		frame.Push(frame.GetLocal(int(opcode - OpDload0)))
	case OpAload0, OpAload1, OpAload2, OpAload3:
		frame.Push(frame.GetLocal(int(opcode - OpAload0)))

	// --- Local variable store instructions ---
	case OpIstore, OpLstore, OpFstore, OpDstore, OpAstore:
		index := frame.ReadU8()
		frame.SetLocal(int(index), frame.Pop())
	case OpIstore0, OpIstore1, OpIstore2, OpIstore3:
		frame.SetLocal(int(opcode-OpIstore0), frame.Pop())
	case OpLstore0, OpLstore1, OpLstore2, OpLstore3:
		frame.SetLocal(int(opcode-OpLstore0), frame.Pop())
	case OpFstore0, OpFstore1, OpFstore2, OpFstore3:
		frame.SetLocal(int(opcode-OpFstore0), frame.Pop())
	case OpDstore0, OpDstore1, OpDstore2, OpDstore3:
		frame.SetLocal(int(opcode-OpDstore0), frame.Pop())
	case OpAstore0, OpAstore1, OpAstore2, OpAstore3:
		frame.SetLocal(int(opcode-OpAstore0), frame.Pop())

	// --- Arrays ---
	case OpIaload, OpLaload, OpFaload, OpDaload, OpAaload, OpBaload, OpCaload, OpSaload:
		index := frame.Pop().Int
		arr, err := vm.arrayOperand(frame.Pop(), index)
		if err != nil {
			return Value{}, false, err
		}
		frame.Push(arr.Elements[index])

	case OpIastore, OpLastore, OpFastore, OpDastore, OpAastore, OpBastore, OpCastore, OpSastore:
		value := frame.Pop()
		index := frame.Pop().Int
		arr, err := vm.arrayOperand(frame.Pop(), index)
		if err != nil {
			return Value{}, false, err
		}
		switch opcode {
		case OpBastore:
			value = IntValue(int32(int8(value.Int)))
		case OpCastore:
			value = IntValue(int32(uint16(value.Int)))
		case OpSastore:
			value = IntValue(int32(int16(value.Int)))
		case OpAastore:
			if !value.IsNull() && len(arr.Desc) > 1 && !vm.isInstanceOf(value.Ref, elementClass(arr.Desc)) {
				return Value{}, false, vm.NewJavaException("java/lang/ArrayStoreException", value.Ref.ClassName())
			}
		}
		arr.Elements[index] = value

	case OpNewarray:
		atype := frame.ReadU8()
		desc, ok := newarrayTypes[atype]
		if !ok {
			return Value{}, false, fmt.Errorf("newarray: invalid atype %d", atype)
		}
		arr, err := vm.newArray(desc, frame.Pop().Int)
		if err != nil {
			return Value{}, false, err
		}
		frame.Push(RefValue(arr))

	case OpAnewarray:
		index := frame.ReadU16()
		className, err := classfile.GetClassName(frame.Class().File.ConstantPool, index)
		if err != nil {
			return Value{}, false, fmt.Errorf("anewarray: %w", err)
		}
		arr, err := vm.newArray("["+classDescriptor(className), frame.Pop().Int)
		if err != nil {
			return Value{}, false, err
		}
		frame.Push(RefValue(arr))

	case OpMultianewarray:
		index := frame.ReadU16()
		dims := int(frame.ReadU8())
		desc, err := classfile.GetClassName(frame.Class().File.ConstantPool, index)
		if err != nil {
			return Value{}, false, fmt.Errorf("multianewarray: %w", err)
		}
		counts := make([]int32, dims)
		for i := dims - 1; i >= 0; i-- {
			counts[i] = frame.Pop().Int
		}
		arr, err := vm.newMultiArray(desc, counts)
		if err != nil {
			return Value{}, false, err
		}
		frame.Push(RefValue(arr))

	case OpArraylength:
		arrRef := frame.Pop()
		if arrRef.IsNull() {
			return Value{}, false, vm.NewJavaException("java/lang/NullPointerException")
		}
		arr, ok := arrRef.Ref.(*JArray)
		if !ok {
			return Value{}, false, fmt.Errorf("arraylength: reference is not an array")
		}
		frame.Push(IntValue(int32(len(arr.Elements))))

	// --- Stack manipulation ---
	case OpPop:
		frame.Pop()

	case OpPop2:
		if v := frame.Pop(); !v.IsWide() {
			frame.Pop()
		}

	case OpDup:
		v := frame.Peek()
		frame.Push(v)

	case OpDupX1:
		v1 := frame.Pop()
		v2 := frame.Pop()
		frame.Push(v1)
		frame.Push(v2)
		frame.Push(v1)

	case OpDupX2:
		v1 := frame.Pop()
		v2 := frame.Pop()
		if v2.IsWide() {
			frame.Push(v1)
			frame.Push(v2)
			frame.Push(v1)
			break
		}
		v3 := frame.Pop()
		frame.Push(v1)
		frame.Push(v3)
		frame.Push(v2)
		frame.Push(v1)

	case OpDup2:
		v1 := frame.Pop()
		if v1.IsWide() {
			frame.Push(v1)
			frame.Push(v1)
			break
		}
		v2 := frame.Pop()
		frame.Push(v2)
		frame.Push(v1)
		frame.Push(v2)
		frame.Push(v1)

	case OpDup2X1:
		v1 := frame.Pop()
		if v1.IsWide() {
			v2 := frame.Pop()
			frame.Push(v1)
			frame.Push(v2)
			frame.Push(v1)
			break
		}
		v2 := frame.Pop()
		v3 := frame.Pop()
		frame.Push(v2)
		frame.Push(v1)
		frame.Push(v3)
		frame.Push(v2)
		frame.Push(v1)

	case OpDup2X2:
		vm.dup2x2(frame)

	case OpSwap:
		v2 := frame.Pop()
		v1 := frame.Pop()
		frame.Push(v2)
		frame.Push(v1)

	// --- Arithmetic ---
	case OpIadd, OpIsub, OpImul, OpIdiv, OpIrem, OpIshl, OpIshr, OpIushr, OpIand, OpIor, OpIxor:
		v2 := frame.Pop().Int
		v1 := frame.Pop().Int
		r, err := vm.intOp(opcode, v1, v2)
		if err != nil {
			return Value{}, false, err
		}
		frame.Push(IntValue(r))

	case OpLadd, OpLsub, OpLmul, OpLdiv, OpLrem, OpLand, OpLor, OpLxor:
		v2 := frame.Pop().Long
		v1 := frame.Pop().Long
		r, err := vm.longOp(opcode, v1, v2)
		if err != nil {
			return Value{}, false, err
		}
		frame.Push(LongValue(r))

	case OpLshl, OpLshr, OpLushr:
		shift := uint(frame.Pop().Int) & 0x3f
		v := frame.Pop().Long
		switch opcode {
		case OpLshl:
			frame.Push(LongValue(v << shift))
		case OpLshr:
			frame.Push(LongValue(v >> shift))
		default:
			frame.Push(LongValue(int64(uint64(v) >> shift)))
		}

	case OpFadd, OpFsub, OpFmul, OpFdiv, OpFrem:
		v2 := frame.Pop().Float
		v1 := frame.Pop().Float
		frame.Push(FloatValue(float32(floatOp(opcode-OpFadd, float64(v1), float64(v2)))))

	case OpDadd, OpDsub, OpDmul, OpDdiv, OpDrem:
		v2 := frame.Pop().Double
		v1 := frame.Pop().Double
		frame.Push(DoubleValue(floatOp(opcode-OpDadd, v1, v2)))

	case OpIneg:
		frame.Push(IntValue(-frame.Pop().Int))
	case OpLneg:
		frame.Push(LongValue(-frame.Pop().Long))
	case OpFneg:
		frame.Push(FloatValue(-frame.Pop().Float))
	case OpDneg:
		frame.Push(DoubleValue(-frame.Pop().Double))

	case OpIinc:
		index := frame.ReadU8()
		constVal := frame.ReadI8()
		local := frame.GetLocal(int(index))
		frame.SetLocal(int(index), IntValue(local.Int+int32(constVal)))

	case OpWide:
		return vm.executeWide(frame)

	// --- Type conversions ---
	case OpI2l:
		frame.Push(LongValue(int64(frame.Pop().Int)))
	case OpI2f:
		frame.Push(FloatValue(float32(frame.Pop().Int)))
	case OpI2d:
		frame.Push(DoubleValue(float64(frame.Pop().Int)))
	case OpL2i:
		frame.Push(IntValue(int32(frame.Pop().Long)))
	case OpL2f:
		frame.Push(FloatValue(float32(frame.Pop().Long)))
	case OpL2d:
		frame.Push(DoubleValue(float64(frame.Pop().Long)))
	case OpF2i:
		frame.Push(IntValue(javaF2I(float64(frame.Pop().Float))))
	case OpF2l:
		frame.Push(LongValue(javaF2L(float64(frame.Pop().Float))))
	case OpF2d:
		frame.Push(DoubleValue(float64(frame.Pop().Float)))
	case OpD2i:
		frame.Push(IntValue(javaF2I(frame.Pop().Double)))
	case OpD2l:
		frame.Push(LongValue(javaF2L(frame.Pop().Double)))
	case OpD2f:
		frame.Push(FloatValue(float32(frame.Pop().Double)))
	case OpI2b:
		frame.Push(IntValue(int32(int8(frame.Pop().Int))))
	case OpI2c:
		frame.Push(IntValue(int32(uint16(frame.Pop().Int))))
	case OpI2s:
		frame.Push(IntValue(int32(int16(frame.Pop().Int))))

	// --- Comparisons ---
	case OpLcmp:
		v2 := frame.Pop().Long
		v1 := frame.Pop().Long
		frame.Push(IntValue(compare(v1, v2)))

	case OpFcmpl, OpFcmpg:
		v2 := float64(frame.Pop().Float)
		v1 := float64(frame.Pop().Float)
		frame.Push(IntValue(compareFloat(v1, v2, opcode == OpFcmpg)))

	case OpDcmpl, OpDcmpg:
		v2 := frame.Pop().Double
		v1 := frame.Pop().Double
		frame.Push(IntValue(compareFloat(v1, v2, opcode == OpDcmpg)))

	// --- Comparison and branch ---
	case OpIfeq:
		return vm.executeBranchUnary(frame, func(v int32) bool { return v == 0 })
	case OpIfne:
		return vm.executeBranchUnary(frame, func(v int32) bool { return v != 0 })
	case OpIflt:
		return vm.executeBranchUnary(frame, func(v int32) bool { return v < 0 })
	case OpIfge:
		return vm.executeBranchUnary(frame, func(v int32) bool { return v >= 0 })
	case OpIfgt:
		return vm.executeBranchUnary(frame, func(v int32) bool { return v > 0 })
	case OpIfle:
		return vm.executeBranchUnary(frame, func(v int32) bool { return v <= 0 })

	case OpIfIcmpeq:
		return vm.executeBranchBinary(frame, func(v1, v2 int32) bool { return v1 == v2 })
	case OpIfIcmpne:
		return vm.executeBranchBinary(frame, func(v1, v2 int32) bool { return v1 != v2 })
	case OpIfIcmplt:
		return vm.executeBranchBinary(frame, func(v1, v2 int32) bool { return v1 < v2 })
	case OpIfIcmpge:
		return vm.executeBranchBinary(frame, func(v1, v2 int32) bool { return v1 >= v2 })
	case OpIfIcmpgt:
		return vm.executeBranchBinary(frame, func(v1, v2 int32) bool { return v1 > v2 })
	case OpIfIcmple:
		return vm.executeBranchBinary(frame, func(v1, v2 int32) bool { return v1 <= v2 })

	case OpIfAcmpeq, OpIfAcmpne:
		branchPC := frame.PC - 1
		offset := frame.ReadI16()
		v2 := frame.Pop()
		v1 := frame.Pop()
		eq := v1.ObjectID() == v2.ObjectID()
		if eq == (opcode == OpIfAcmpeq) {
			frame.PC = branchPC + int(offset)
		}

	case OpIfnull, OpIfnonnull:
		branchPC := frame.PC - 1
		offset := frame.ReadI16()
		isNull := frame.Pop().IsNull()
		if isNull == (opcode == OpIfnull) {
			frame.PC = branchPC + int(offset)
		}

	case OpGoto:
		branchPC := frame.PC - 1
		offset := frame.ReadI16()
		frame.PC = branchPC + int(offset)

	case OpGotoW:
		branchPC := frame.PC - 1
		offset := frame.ReadI32()
		frame.PC = branchPC + int(offset)

	case OpTableswitch:
		// PC of the tableswitch opcode
		opcodePC := frame.PC - 1
		// Padding to align to 4-byte boundary
		for frame.PC%4 != 0 {
			frame.PC++
		}
		defaultOffset := frame.ReadI32()
		low := frame.ReadI32()
		high := frame.ReadI32()
		tableStart := frame.PC
		index := frame.Pop().Int
		if index >= low && index <= high {
			frame.PC = tableStart + int(index-low)*4
			frame.PC = opcodePC + int(frame.ReadI32())
		} else {
			frame.PC = opcodePC + int(defaultOffset)
		}

	case OpLookupswitch:
		opcodePC := frame.PC - 1
		for frame.PC%4 != 0 {
			frame.PC++
		}
		defaultOffset := frame.ReadI32()
		npairs := frame.ReadI32()
		key := frame.Pop().Int
		target := opcodePC + int(defaultOffset)
		for i := int32(0); i < npairs; i++ {
			matchVal := frame.ReadI32()
			offset := frame.ReadI32()
			if key == matchVal {
				target = opcodePC + int(offset)
				break
			}
		}
		frame.PC = target

	// --- Return ---
	case OpIreturn, OpLreturn, OpFreturn, OpDreturn, OpAreturn:
		return frame.Pop(), true, nil

	case OpReturn:
		return Value{}, true, nil

	// --- Method invocation and field access ---
	case OpGetstatic:
		return vm.executeGetstatic(frame)

	case OpPutstatic:
		return vm.executePutstatic(frame)

	case OpGetfield:
		return vm.executeGetfield(frame)

	case OpPutfield:
		return vm.executePutfield(frame)

	case OpInvokevirtual, OpInvokeinterface:
		return vm.executeInvokevirtual(frame, opcode)

	case OpInvokespecial:
		return vm.executeInvokespecial(frame)

	case OpInvokestatic:
		return vm.executeInvokestatic(frame)

	case OpInvokedynamic:
		return vm.executeInvokedynamic(frame)

	case OpNew:
		return vm.executeNew(frame)

	case OpAthrow:
		excRef := frame.Pop()
		if excRef.IsNull() {
			return Value{}, false, vm.NewJavaException("java/lang/NullPointerException")
		}
		if obj, ok := excRef.Ref.(*JObject); ok && vm.isInstanceOf(obj, "java/lang/Throwable") {
			return Value{}, false, &JavaException{Object: obj}
		}
		return Value{}, false, fmt.Errorf("athrow: %s is not a Throwable", excRef.Ref.ClassName())

	case OpCheckcast:
		index := frame.ReadU16()
		className, err := classfile.GetClassName(frame.Class().File.ConstantPool, index)
		if err != nil {
			return Value{}, false, fmt.Errorf("checkcast: %w", err)
		}
		val := frame.Peek()
		if !val.IsNull() && !vm.isInstanceOf(val.Ref, className) {
			return Value{}, false, vm.NewJavaException("java/lang/ClassCastException", val.Ref.ClassName())
		}

	case OpInstanceof:
		index := frame.ReadU16()
		className, err := classfile.GetClassName(frame.Class().File.ConstantPool, index)
		if err != nil {
			return Value{}, false, fmt.Errorf("instanceof: %w", err)
		}
		ref := frame.Pop()
		frame.Push(BoolValue(!ref.IsNull() && vm.isInstanceOf(ref.Ref, className)))

	case OpMonitorenter, OpMonitorexit:
		// Single-threaded interpreter: monitors only need the null check.
		if frame.Pop().IsNull() {
			return Value{}, false, vm.NewJavaException("java/lang/NullPointerException")
		}

	default:
		return Value{}, false, fmt.Errorf("unknown opcode: 0x%02X at PC=%d", opcode, frame.PC-1)
	}

	return Value{}, false, nil
}

// executeBranchUnary handles unary branch instructions (ifeq, ifne, etc.)
func (vm *VM) executeBranchUnary(frame *Frame, cond func(int32) bool) (Value, bool, error) {
	branchPC := frame.PC - 1 // PC of the branch instruction
	offset := frame.ReadI16()
	val := frame.Pop()
	if cond(val.Int) {
		frame.PC = branchPC + int(offset)
	}
	return Value{}, false, nil
}

// executeBranchBinary handles binary branch instructions (if_icmpeq, etc.)
func (vm *VM) executeBranchBinary(frame *Frame, cond func(int32, int32) bool) (Value, bool, error) {
	branchPC := frame.PC - 1 // PC of the branch instruction
	offset := frame.ReadI16()
	v2 := frame.Pop()
	v1 := frame.Pop()
	if cond(v1.Int, v2.Int) {
		frame.PC = branchPC + int(offset)
	}
	return Value{}, false, nil
}

// executeWide handles the wide prefix: 16-bit local indexes for loads,
// stores and iinc.
func (vm *VM) executeWide(frame *Frame) (Value, bool, error) {
	opcode := frame.ReadU8()
	index := int(frame.ReadU16())
	switch opcode {
	case OpIload, OpLload, OpFload, OpDload, OpAload:
		frame.Push(frame.GetLocal(index))
	case OpIstore, OpLstore, OpFstore, OpDstore, OpAstore:
		frame.SetLocal(index, frame.Pop())
	case OpIinc:
		delta := frame.ReadI16()
		frame.SetLocal(index, IntValue(frame.GetLocal(index).Int+int32(delta)))
	default:
		return Value{}, false, fmt.Errorf("wide: unsupported opcode 0x%02X", opcode)
	}
	return Value{}, false, nil
}

func (vm *VM) dup2x2(frame *Frame) {
	v1 := frame.Pop()
	v2 := frame.Pop()
	switch {
	case v1.IsWide() && v2.IsWide(): // form 4
		frame.Push(v1)
		frame.Push(v2)
		frame.Push(v1)
	case v1.IsWide(): // form 2
		v3 := frame.Pop()
		frame.Push(v1)
		frame.Push(v3)
		frame.Push(v2)
		frame.Push(v1)
	default:
		v3 := frame.Pop()
		if v3.IsWide() { // form 3
			frame.Push(v2)
			frame.Push(v1)
			frame.Push(v3)
			frame.Push(v2)
			frame.Push(v1)
			return
		}
		v4 := frame.Pop() // form 1
		frame.Push(v2)
		frame.Push(v1)
		frame.Push(v4)
		frame.Push(v3)
		frame.Push(v2)
		frame.Push(v1)
	}
}

func (vm *VM) intOp(opcode byte, v1, v2 int32) (int32, error) {
	switch opcode {
	case OpIadd:
		return v1 + v2, nil
	case OpIsub:
		return v1 - v2, nil
	case OpImul:
		return v1 * v2, nil
	case OpIdiv, OpIrem:
		if v2 == 0 {
			return 0, vm.NewJavaException("java/lang/ArithmeticException", "/ by zero")
		}
		if opcode == OpIdiv {
			return v1 / v2, nil
		}
		return v1 % v2, nil
	case OpIshl:
		return v1 << (uint(v2) & 0x1f), nil
	case OpIshr:
		return v1 >> (uint(v2) & 0x1f), nil
	case OpIushr:
		return int32(uint32(v1) >> (uint(v2) & 0x1f)), nil
	case OpIand:
		return v1 & v2, nil
	case OpIor:
		return v1 | v2, nil
	case OpIxor:
		return v1 ^ v2, nil
	}
	return 0, fmt.Errorf("intOp: unexpected opcode 0x%02X", opcode)
}

func (vm *VM) longOp(opcode byte, v1, v2 int64) (int64, error) {
	switch opcode {
	case OpLadd:
		return v1 + v2, nil
	case OpLsub:
		return v1 - v2, nil
	case OpLmul:
		return v1 * v2, nil
	case OpLdiv, OpLrem:
		if v2 == 0 {
			return 0, vm.NewJavaException("java/lang/ArithmeticException", "/ by zero")
		}
		if opcode == OpLdiv {
			return v1 / v2, nil
		}
		return v1 % v2, nil
	case OpLand:
		return v1 & v2, nil
	case OpLor:
		return v1 | v2, nil
	case OpLxor:
		return v1 ^ v2, nil
	}
	return 0, fmt.Errorf("longOp: unexpected opcode 0x%02X", opcode)
}

// floatOp applies add, sub, mul, div or rem (op 0, 4, 8, 12, 16 relative to
// the fadd/dadd opcode) with IEEE semantics.
func floatOp(op byte, v1, v2 float64) float64 {
	switch op {
	case 0:
		return v1 + v2
	case OpIsub - OpIadd:
		return v1 - v2
	case OpImul - OpIadd:
		return v1 * v2
	case OpIdiv - OpIadd:
		return v1 / v2
	default:
		return math.Mod(v1, v2)
	}
}

func compare[T int32 | int64](v1, v2 T) int32 {
	switch {
	case v1 > v2:
		return 1
	case v1 < v2:
		return -1
	}
	return 0
}

// compareFloat implements fcmp/dcmp; nanGreater selects the g variant.
func compareFloat(v1, v2 float64, nanGreater bool) int32 {
	switch {
	case math.IsNaN(v1) || math.IsNaN(v2):
		if nanGreater {
			return 1
		}
		return -1
	case v1 > v2:
		return 1
	case v1 < v2:
		return -1
	}
	return 0
}
