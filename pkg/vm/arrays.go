package vm

import (
	"fmt"
	"strings"
)

// newarrayTypes maps the newarray atype operand to the array descriptor.
var newarrayTypes = map[uint8]string{
	4:  "[Z",
	5:  "[C",
	6:  "[F",
	7:  "[D",
	8:  "[B",
	9:  "[S",
	10: "[I",
	11: "[J",
}

// classDescriptor turns a CONSTANT_Class name into a field descriptor:
// array classes are already descriptors, other names get L...; around them.
func classDescriptor(name string) string {
	if strings.HasPrefix(name, "[") {
		return name
	}
	return "L" + name + ";"
}

// elementClass returns the class name to test array stores against.
func elementClass(desc string) string {
	elem := desc[1:]
	if strings.HasPrefix(elem, "L") && strings.HasSuffix(elem, ";") {
		return elem[1 : len(elem)-1]
	}
	return elem
}

func (vm *VM) newArray(desc string, count int32) (*JArray, error) {
	if count < 0 {
		return nil, vm.NewJavaException("java/lang/NegativeArraySizeException", fmt.Sprint(count))
	}
	elements := make([]Value, count)
	zero := zeroValue(desc[1:])
	for i := range elements {
		elements[i] = zero
	}
	return vm.heap.newArray(desc, elements), nil
}

func (vm *VM) newMultiArray(desc string, counts []int32) (*JArray, error) {
	arr, err := vm.newArray(desc, counts[0])
	if err != nil || len(counts) == 1 {
		return arr, err
	}
	for i := range arr.Elements {
		sub, err := vm.newMultiArray(desc[1:], counts[1:])
		if err != nil {
			return nil, err
		}
		arr.Elements[i] = RefValue(sub)
	}
	return arr, nil
}

// arrayOperand checks the array reference and index of an xaload/xastore.
func (vm *VM) arrayOperand(ref Value, index int32) (*JArray, error) {
	if ref.IsNull() {
		return nil, vm.NewJavaException("java/lang/NullPointerException")
	}
	arr, ok := ref.Ref.(*JArray)
	if !ok {
		return nil, fmt.Errorf("array access: %s is not an array", ref.Ref.ClassName())
	}
	if index < 0 || int(index) >= len(arr.Elements) {
		return nil, vm.NewJavaException("java/lang/ArrayIndexOutOfBoundsException",
			fmt.Sprintf("Index %d out of bounds for length %d", index, len(arr.Elements)))
	}
	return arr, nil
}
