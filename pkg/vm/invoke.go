package vm

import (
	"errors"
	"fmt"
	"strings"

	"github.com/daimatz/jtrace/pkg/classfile"
	"github.com/daimatz/jtrace/pkg/native"
)

// executeLdc handles ldc, ldc_w and ldc2_w.
func (vm *VM) executeLdc(frame *Frame, index uint16) (Value, bool, error) {
	pool := frame.Class().File.ConstantPool
	if int(index) >= len(pool) || pool[index] == nil {
		return Value{}, false, fmt.Errorf("ldc: invalid constant pool index %d", index)
	}

	entry := pool[index]
	switch c := entry.(type) {
	case *classfile.ConstantInteger:
		frame.Push(IntValue(c.Value))
	case *classfile.ConstantFloat:
		frame.Push(FloatValue(c.Value))
	case *classfile.ConstantLong:
		frame.Push(LongValue(c.Value))
	case *classfile.ConstantDouble:
		frame.Push(DoubleValue(c.Value))
	case *classfile.ConstantString:
		str, err := classfile.GetUtf8(pool, c.StringIndex)
		if err != nil {
			return Value{}, false, fmt.Errorf("ldc: resolving string: %w", err)
		}
		frame.Push(RefValue(vm.InternString(str)))
	default:
		return Value{}, false, fmt.Errorf("ldc: unsupported constant pool entry type at index %d (tag=%d)", index, entry.Tag())
	}

	return Value{}, false, nil
}

// resolveStaticField finds the static field named by a Fieldref and makes
// sure its declaring class is initialized.
func (vm *VM) resolveStaticField(frame *Frame, op string, ref *classfile.FieldRefInfo) (*Field, error) {
	class, err := vm.LoadClass(ref.ClassName)
	if err != nil {
		return nil, fmt.Errorf("%s: unsupported field %s.%s:%s: %w", op, ref.ClassName, ref.Name, ref.Descriptor, err)
	}
	field := class.LookupStaticField(ref.Name)
	if field == nil {
		return nil, vm.NewJavaException("java/lang/NoSuchFieldError", ref.Name)
	}
	if err := vm.initClass(vm.threadOf(frame), field.Class); err != nil {
		return nil, err
	}
	return field, nil
}

// executeGetstatic handles the getstatic instruction.
func (vm *VM) executeGetstatic(frame *Frame) (Value, bool, error) {
	index := frame.ReadU16()
	ref, err := classfile.ResolveFieldref(frame.Class().File.ConstantPool, index)
	if err != nil {
		return Value{}, false, fmt.Errorf("getstatic: %w", err)
	}

	// Handle java/lang/System.out
	if ref.ClassName == "java/lang/System" && ref.Name == "out" {
		frame.Push(RefValue(vm.out()))
		return Value{}, false, nil
	}

	field, err := vm.resolveStaticField(frame, "getstatic", ref)
	if err != nil {
		return Value{}, false, err
	}
	frame.Push(field.Class.Statics[field.Name])
	return Value{}, false, nil
}

// executePutstatic handles the putstatic instruction.
func (vm *VM) executePutstatic(frame *Frame) (Value, bool, error) {
	index := frame.ReadU16()
	ref, err := classfile.ResolveFieldref(frame.Class().File.ConstantPool, index)
	if err != nil {
		return Value{}, false, fmt.Errorf("putstatic: %w", err)
	}

	value := frame.Pop()
	field, err := vm.resolveStaticField(frame, "putstatic", ref)
	if err != nil {
		return Value{}, false, err
	}
	field.Class.Statics[field.Name] = narrow(field.Descriptor, value)
	return Value{}, false, nil
}

// executeGetfield handles the getfield instruction.
func (vm *VM) executeGetfield(frame *Frame) (Value, bool, error) {
	index := frame.ReadU16()
	ref, err := classfile.ResolveFieldref(frame.Class().File.ConstantPool, index)
	if err != nil {
		return Value{}, false, fmt.Errorf("getfield: %w", err)
	}

	obj, err := vm.fieldReceiver(frame.Pop(), "getfield")
	if err != nil {
		return Value{}, false, err
	}
	val, exists := obj.Fields[instanceFieldKey(obj, ref)]
	if !exists {
		val = zeroValue(ref.Descriptor)
	}
	frame.Push(val)
	return Value{}, false, nil
}

// executePutfield handles the putfield instruction.
func (vm *VM) executePutfield(frame *Frame) (Value, bool, error) {
	index := frame.ReadU16()
	ref, err := classfile.ResolveFieldref(frame.Class().File.ConstantPool, index)
	if err != nil {
		return Value{}, false, fmt.Errorf("putfield: %w", err)
	}

	value := frame.Pop()
	obj, err := vm.fieldReceiver(frame.Pop(), "putfield")
	if err != nil {
		return Value{}, false, err
	}
	obj.Fields[instanceFieldKey(obj, ref)] = narrow(ref.Descriptor, value)
	return Value{}, false, nil
}

// instanceFieldKey resolves ref from the referenced class up to the class
// that declares the field. References the loaded chain of obj cannot
// resolve keep the referenced class as their slot.
func instanceFieldKey(obj *JObject, ref *classfile.FieldRefInfo) FieldKey {
	for k := obj.Class(); k != nil; k = k.Super {
		if k.Name != ref.ClassName {
			continue
		}
		if f := k.LookupInstanceField(ref.Name); f != nil {
			return FieldKey{Class: f.Class.Name, Name: f.Name}
		}
		break
	}
	return FieldKey{Class: ref.ClassName, Name: ref.Name}
}

func (vm *VM) fieldReceiver(ref Value, op string) (*JObject, error) {
	if ref.IsNull() {
		return nil, vm.NewJavaException("java/lang/NullPointerException")
	}
	obj, ok := ref.Ref.(*JObject)
	if !ok {
		return nil, fmt.Errorf("%s: receiver %s is not an object", op, ref.Ref.ClassName())
	}
	return obj, nil
}

// narrow applies the implicit truncation of stores into boolean, byte,
// char and short fields.
func narrow(desc string, v Value) Value {
	switch desc {
	case "Z":
		return IntValue(v.Int & 1)
	case "B":
		return IntValue(int32(int8(v.Int)))
	case "C":
		return IntValue(int32(uint16(v.Int)))
	case "S":
		return IntValue(int32(int16(v.Int)))
	}
	return v
}

// popArgs pops the arguments of a call with the given descriptor.
func popArgs(frame *Frame, descriptor string) ([]Value, error) {
	paramCount, err := countParams(descriptor)
	if err != nil {
		return nil, err
	}
	args := make([]Value, paramCount)
	for i := paramCount - 1; i >= 0; i-- {
		args[i] = frame.Pop()
	}
	return args, nil
}

func pushResult(frame *Frame, descriptor string, ret Value) (Value, bool, error) {
	if !isVoidReturn(descriptor) {
		frame.Push(ret)
	}
	return Value{}, false, nil
}

// executeInvokevirtual handles invokevirtual and invokeinterface.
func (vm *VM) executeInvokevirtual(frame *Frame, opcode byte) (Value, bool, error) {
	op := "invokevirtual"
	index := frame.ReadU16()
	if opcode == OpInvokeinterface {
		op = "invokeinterface"
		frame.ReadU16() // count, 0
	}

	methodRef, err := classfile.ResolveMethodref(frame.Class().File.ConstantPool, index)
	if err != nil {
		return Value{}, false, fmt.Errorf("%s: %w", op, err)
	}
	args, err := popArgs(frame, methodRef.Descriptor)
	if err != nil {
		return Value{}, false, fmt.Errorf("%s: %w", op, err)
	}
	objectRef := frame.Pop()

	ret, err := vm.callVirtual(vm.threadOf(frame), objectRef, methodRef.Name, methodRef.Descriptor, args)
	if err != nil {
		return Value{}, false, err
	}
	return pushResult(frame, methodRef.Descriptor, ret)
}

// callVirtual dispatches name+descriptor on the runtime class of recv:
// bytecode methods up the loaded superclass chain, then default methods,
// then the native implementation of the first JDK ancestor.
func (vm *VM) callVirtual(t *Thread, recv Value, name, descriptor string, args []Value) (Value, error) {
	if recv.IsNull() {
		return Value{}, vm.NewJavaException("java/lang/NullPointerException",
			fmt.Sprintf("Cannot invoke %s() on null", name))
	}
	full := make([]Value, 0, len(args)+1)
	full = append(full, recv)
	full = append(full, args...)

	start := recv.Ref.ClassName()
	if obj, ok := recv.Ref.(*JObject); ok && obj.class != nil {
		if m := obj.class.LookupMethod(name, descriptor); m != nil && m.Flags&classfile.AccAbstract == 0 {
			return vm.executeMethod(t, m, full)
		}
		if m := vm.findDefaultMethod(obj.class, name, descriptor); m != nil {
			return vm.executeMethod(t, m, full)
		}
		start = obj.class.jdkSuper()
	}

	if nm := lookupNative(start, name, descriptor); nm != nil {
		return nm(vm, t, full)
	}
	return Value{}, fmt.Errorf("unsupported method %s.%s:%s", recv.Ref.ClassName(), name, descriptor)
}

// findDefaultMethod searches the interfaces of c and its superclasses for a
// non-abstract interface method.
func (vm *VM) findDefaultMethod(c *Class, name, descriptor string) *Method {
	for k := c; k != nil; k = k.Super {
		for _, ifaceName := range k.Interfaces {
			iface, err := vm.LoadClass(ifaceName)
			if err != nil {
				continue
			}
			if m := iface.FindMethod(name, descriptor); m != nil && m.Code != nil {
				return m
			}
			if m := vm.findDefaultMethod(iface, name, descriptor); m != nil {
				return m
			}
		}
	}
	return nil
}

// executeInvokespecial handles the invokespecial instruction.
func (vm *VM) executeInvokespecial(frame *Frame) (Value, bool, error) {
	index := frame.ReadU16()
	methodRef, err := classfile.ResolveMethodref(frame.Class().File.ConstantPool, index)
	if err != nil {
		return Value{}, false, fmt.Errorf("invokespecial: %w", err)
	}
	args, err := popArgs(frame, methodRef.Descriptor)
	if err != nil {
		return Value{}, false, fmt.Errorf("invokespecial: %w", err)
	}
	objectRef := frame.Pop() // this
	if objectRef.IsNull() {
		return Value{}, false, vm.NewJavaException("java/lang/NullPointerException")
	}
	fullArgs := make([]Value, 0, len(args)+1)
	fullArgs = append(fullArgs, objectRef)
	fullArgs = append(fullArgs, args...)

	t := vm.threadOf(frame)
	var ret Value
	class, err := vm.LoadClass(methodRef.ClassName)
	switch {
	case err == nil:
		method := class.LookupMethod(methodRef.Name, methodRef.Descriptor)
		if method == nil {
			// User class constructor chaining into a JDK superclass.
			nm := lookupNative(class.jdkSuper(), methodRef.Name, methodRef.Descriptor)
			if nm == nil {
				return Value{}, false, fmt.Errorf("invokespecial: method %s.%s:%s not found", methodRef.ClassName, methodRef.Name, methodRef.Descriptor)
			}
			ret, err = nm(vm, t, fullArgs)
		} else {
			ret, err = vm.executeMethod(t, method, fullArgs)
		}
	case errors.Is(err, ErrClassNotFound):
		nm := lookupNative(methodRef.ClassName, methodRef.Name, methodRef.Descriptor)
		if nm == nil {
			return Value{}, false, fmt.Errorf("invokespecial: unsupported method %s.%s:%s", methodRef.ClassName, methodRef.Name, methodRef.Descriptor)
		}
		ret, err = nm(vm, t, fullArgs)
	}
	if err != nil {
		return Value{}, false, err
	}
	return pushResult(frame, methodRef.Descriptor, ret)
}

// executeInvokestatic handles the invokestatic instruction.
func (vm *VM) executeInvokestatic(frame *Frame) (Value, bool, error) {
	index := frame.ReadU16()
	methodRef, err := classfile.ResolveMethodref(frame.Class().File.ConstantPool, index)
	if err != nil {
		return Value{}, false, fmt.Errorf("invokestatic: %w", err)
	}
	args, err := popArgs(frame, methodRef.Descriptor)
	if err != nil {
		return Value{}, false, fmt.Errorf("invokestatic: %w", err)
	}

	t := vm.threadOf(frame)
	ret, err := vm.invokeStatic(t, methodRef.ClassName, methodRef.Name, methodRef.Descriptor, args)
	if err != nil {
		return Value{}, false, err
	}
	return pushResult(frame, methodRef.Descriptor, ret)
}

func (vm *VM) invokeStatic(t *Thread, className, name, descriptor string, args []Value) (Value, error) {
	class, err := vm.LoadClass(className)
	if errors.Is(err, ErrClassNotFound) {
		// Native static methods
		nm := lookupNative(className, name, descriptor)
		if nm == nil {
			return Value{}, fmt.Errorf("invokestatic: unsupported method %s.%s:%s", className, name, descriptor)
		}
		return nm(vm, t, args)
	}
	if err != nil {
		return Value{}, fmt.Errorf("invokestatic: %w", err)
	}

	method := class.LookupMethod(name, descriptor)
	if method == nil || !method.IsStatic() {
		return Value{}, fmt.Errorf("invokestatic: method %s:%s not found in class %s", name, descriptor, className)
	}
	if err := vm.initClass(t, class); err != nil {
		return Value{}, err
	}
	return vm.executeMethod(t, method, args)
}

// executeNew handles the new instruction.
func (vm *VM) executeNew(frame *Frame) (Value, bool, error) {
	index := frame.ReadU16()
	className, err := classfile.GetClassName(frame.Class().File.ConstantPool, index)
	if err != nil {
		return Value{}, false, fmt.Errorf("new: %w", err)
	}

	class, err := vm.LoadClass(className)
	switch {
	case err == nil:
		if err := vm.initClass(vm.threadOf(frame), class); err != nil {
			return Value{}, false, err
		}
		frame.Push(RefValue(vm.instantiate(class)))
	case errors.Is(err, ErrClassNotFound):
		payload, ok := nativePayload(className)
		if !ok {
			return Value{}, false, fmt.Errorf("new: unsupported class %s", className)
		}
		frame.Push(RefValue(vm.heap.newObject(nil, className, payload)))
	default:
		return Value{}, false, fmt.Errorf("new: %w", err)
	}
	return Value{}, false, nil
}

// instantiate allocates an instance of a loaded class with every instance
// field of its chain set to its zero value.
func (vm *VM) instantiate(class *Class) *JObject {
	var payload any
	if jdk := class.jdkSuper(); jdk != "" {
		payload, _ = nativePayload(jdk)
	}
	obj := vm.heap.newObject(class, class.Name, payload)
	for k := class; k != nil; k = k.Super {
		for _, f := range k.Fields {
			if f.IsStatic() {
				continue
			}
			obj.Fields[FieldKey{Class: k.Name, Name: f.Name}] = zeroValue(f.Descriptor)
		}
	}
	return obj
}

// nativePayload is the Go state backing a new instance of a JDK class.
func nativePayload(className string) (any, bool) {
	switch className {
	case "java/lang/Object":
		return nil, true
	case "java/lang/StringBuilder":
		return &native.StringBuilder{}, true
	case "java/util/HashMap":
		return native.NewHashMap(), true
	}
	if isThrowableClass(className) {
		return &throwableState{}, true
	}
	return nil, false
}

// executeInvokedynamic supports the string concatenation call sites javac
// emits since Java 9 (StringConcatFactory).
func (vm *VM) executeInvokedynamic(frame *Frame) (Value, bool, error) {
	index := frame.ReadU16()
	frame.ReadU16() // two zero bytes

	cf := frame.Class().File
	bsm, _, descriptor, err := classfile.ResolveInvokeDynamic(cf.ConstantPool, index)
	if err != nil {
		return Value{}, false, fmt.Errorf("invokedynamic: %w", err)
	}
	if int(bsm) >= len(cf.BootstrapMethods) {
		return Value{}, false, fmt.Errorf("invokedynamic: bootstrap method %d out of range", bsm)
	}
	bootstrap := cf.BootstrapMethods[bsm]
	target, err := classfile.ResolveMethodHandle(cf.ConstantPool, bootstrap.MethodRef)
	if err != nil {
		return Value{}, false, fmt.Errorf("invokedynamic: %w", err)
	}
	if target.ClassName != "java/lang/invoke/StringConcatFactory" {
		return Value{}, false, fmt.Errorf("invokedynamic: unsupported bootstrap %s.%s", target.ClassName, target.Name)
	}

	params, _, err := parseMethodDescriptor(descriptor)
	if err != nil {
		return Value{}, false, fmt.Errorf("invokedynamic: %w", err)
	}
	args := make([]Value, len(params))
	for i := len(params) - 1; i >= 0; i-- {
		args[i] = frame.Pop()
	}

	var recipe string
	var constants []string
	if target.Name == "makeConcatWithConstants" {
		for i, argIndex := range bootstrap.BootstrapArguments {
			s, err := constantString(cf.ConstantPool, argIndex)
			if err != nil {
				return Value{}, false, fmt.Errorf("invokedynamic: bootstrap argument %d: %w", i, err)
			}
			if i == 0 {
				recipe = s
			} else {
				constants = append(constants, s)
			}
		}
	} else {
		recipe = strings.Repeat("\x01", len(params))
	}

	t := vm.threadOf(frame)
	var sb strings.Builder
	argi, consti := 0, 0
	for _, r := range recipe {
		switch r {
		case '\x01':
			if argi >= len(args) {
				return Value{}, false, fmt.Errorf("invokedynamic: recipe %q needs more arguments", recipe)
			}
			s, err := vm.stringOf(t, args[argi], params[argi])
			if err != nil {
				return Value{}, false, err
			}
			sb.WriteString(s)
			argi++
		case '\x02':
			if consti >= len(constants) {
				return Value{}, false, fmt.Errorf("invokedynamic: recipe %q needs more constants", recipe)
			}
			sb.WriteString(constants[consti])
			consti++
		default:
			sb.WriteRune(r)
		}
	}
	frame.Push(RefValue(vm.NewString(sb.String())))
	return Value{}, false, nil
}

func constantString(pool []classfile.ConstantPoolEntry, index uint16) (string, error) {
	if int(index) >= len(pool) {
		return "", fmt.Errorf("invalid constant pool index %d", index)
	}
	switch c := pool[index].(type) {
	case *classfile.ConstantString:
		return classfile.GetUtf8(pool, c.StringIndex)
	case *classfile.ConstantInteger:
		return fmt.Sprint(c.Value), nil
	default:
		return "", fmt.Errorf("unsupported constant at index %d", index)
	}
}
