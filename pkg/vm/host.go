package vm

import (
	"fmt"

	"github.com/daimatz/jtrace/pkg/host"
)

var _ host.Host = (*VM)(nil)

func (vm *VM) methodByID(op string, id host.MethodID) (*Method, error) {
	vm.regMu.RLock()
	defer vm.regMu.RUnlock()
	if id == 0 || int(id) > len(vm.methods) {
		return nil, host.NewError(op, host.CodeInvalidMethod, "method %d", id)
	}
	return vm.methods[id-1], nil
}

func (vm *VM) classByID(op string, id host.ClassID) (*Class, error) {
	vm.regMu.RLock()
	defer vm.regMu.RUnlock()
	if id == 0 || int(id) > len(vm.classList) {
		return nil, host.NewError(op, host.CodeInvalidClass, "class %d", id)
	}
	return vm.classList[id-1], nil
}

func (vm *VM) fieldByID(op string, id host.FieldID) (*Field, error) {
	vm.regMu.RLock()
	defer vm.regMu.RUnlock()
	if id == 0 || int(id) > len(vm.fields) {
		return nil, host.NewError(op, host.CodeInvalidField, "field %d", id)
	}
	return vm.fields[id-1], nil
}

func (vm *VM) threadByID(op string, id host.ThreadID) (*Thread, error) {
	if id != vm.thread.ID {
		return nil, host.NewError(op, host.CodeInvalidThread, "thread %d", id)
	}
	return vm.thread, nil
}

func (vm *VM) frameAt(op string, thread host.ThreadID, depth int) (*Frame, error) {
	t, err := vm.threadByID(op, thread)
	if err != nil {
		return nil, err
	}
	frame, ok := t.frame(depth)
	if !ok {
		return nil, host.NewError(op, host.CodeNoMoreFrames, "depth %d of %d", depth, t.Depth())
	}
	return frame, nil
}

// local reads a local variable slot and checks it holds a value of type want.
func (vm *VM) local(op string, thread host.ThreadID, depth, slot int, want ValueType) (Value, error) {
	frame, err := vm.frameAt(op, thread, depth)
	if err != nil {
		return Value{}, err
	}
	if slot < 0 || slot >= len(frame.LocalVars) {
		return Value{}, host.NewError(op, host.CodeInvalidSlot, "slot %d out of range", slot)
	}
	return checkType(op, frame.LocalVars[slot], want)
}

func checkType(op string, v Value, want ValueType) (Value, error) {
	switch {
	case v.Type == TypeNone:
		return Value{}, host.NewError(op, host.CodeInvalidSlot, "no value")
	case v.Type == want, want == TypeRef && v.Type == TypeNull:
		return v, nil
	default:
		return Value{}, host.NewError(op, host.CodeTypeMismatch, "holds %s, want %s", v.Type, want)
	}
}

// MethodDeclaringClass returns the class that declares method.
func (vm *VM) MethodDeclaringClass(method host.MethodID) (host.ClassID, error) {
	m, err := vm.methodByID("MethodDeclaringClass", method)
	if err != nil {
		return 0, err
	}
	return m.Class.ID, nil
}

// ClassSignature returns the type signature of class.
func (vm *VM) ClassSignature(class host.ClassID) (string, error) {
	c, err := vm.classByID("ClassSignature", class)
	if err != nil {
		return "", err
	}
	return c.Signature(), nil
}

// MethodName returns the simple name of method.
func (vm *VM) MethodName(method host.MethodID) (string, error) {
	m, err := vm.methodByID("MethodName", method)
	if err != nil {
		return "", err
	}
	return m.Name, nil
}

// LocalVariableTable returns the debug local variable table of method.
// Methods compiled without it, and abstract methods, have none.
func (vm *VM) LocalVariableTable(method host.MethodID) ([]host.LocalVariable, error) {
	m, err := vm.methodByID("LocalVariableTable", method)
	if err != nil {
		return nil, err
	}
	if m.Code == nil {
		return []host.LocalVariable{}, nil
	}
	vars := make([]host.LocalVariable, 0, len(m.Code.LocalVariables))
	for _, lv := range m.Code.LocalVariables {
		vars = append(vars, host.LocalVariable{
			Name:      lv.Name,
			Signature: lv.Descriptor,
			Slot:      int(lv.Index),
			Start:     host.Location(lv.StartPC),
			Length:    int64(lv.Length),
		})
	}
	return vars, nil
}

// LocalInt reads an int-like local (int, short, byte, char, boolean).
func (vm *VM) LocalInt(thread host.ThreadID, depth, slot int) (int32, error) {
	v, err := vm.local("LocalInt", thread, depth, slot, TypeInt)
	return v.Int, err
}

// LocalLong reads a long local.
func (vm *VM) LocalLong(thread host.ThreadID, depth, slot int) (int64, error) {
	v, err := vm.local("LocalLong", thread, depth, slot, TypeLong)
	return v.Long, err
}

// LocalFloat reads a float local.
func (vm *VM) LocalFloat(thread host.ThreadID, depth, slot int) (float32, error) {
	v, err := vm.local("LocalFloat", thread, depth, slot, TypeFloat)
	return v.Float, err
}

// LocalDouble reads a double local.
func (vm *VM) LocalDouble(thread host.ThreadID, depth, slot int) (float64, error) {
	v, err := vm.local("LocalDouble", thread, depth, slot, TypeDouble)
	return v.Double, err
}

// LocalObject reads a reference local.
func (vm *VM) LocalObject(thread host.ThreadID, depth, slot int) (host.ObjectID, error) {
	v, err := vm.local("LocalObject", thread, depth, slot, TypeRef)
	if err != nil {
		return host.NullObject, err
	}
	return v.ObjectID(), nil
}

// CurrentInstance returns the receiver of an instance method frame.
func (vm *VM) CurrentInstance(thread host.ThreadID, depth int) (host.ObjectID, error) {
	const op = "CurrentInstance"
	frame, err := vm.frameAt(op, thread, depth)
	if err != nil {
		return host.NullObject, err
	}
	if frame.Method == nil || frame.Method.IsStatic() || frame.This == nil {
		return host.NullObject, host.NewError(op, host.CodeInvalidSlot, "static method has no instance")
	}
	return frame.This.ID(), nil
}

// ClassFields returns the fields class declares, in declaration order.
func (vm *VM) ClassFields(class host.ClassID) ([]host.FieldID, error) {
	c, err := vm.classByID("ClassFields", class)
	if err != nil {
		return nil, err
	}
	ids := make([]host.FieldID, len(c.Fields))
	for i, f := range c.Fields {
		ids[i] = f.ID
	}
	return ids, nil
}

// Field describes a declared field.
func (vm *VM) Field(field host.FieldID) (host.FieldInfo, error) {
	f, err := vm.fieldByID("Field", field)
	if err != nil {
		return host.FieldInfo{}, err
	}
	return host.FieldInfo{Name: f.Name, Signature: f.Descriptor, Static: f.IsStatic()}, nil
}

func (vm *VM) fieldValue(op string, field host.FieldID, instance host.ObjectID, want ValueType) (Value, error) {
	f, err := vm.fieldByID(op, field)
	if err != nil {
		return Value{}, err
	}
	if f.IsStatic() {
		return checkType(op, f.Class.Statics[f.Name], want)
	}
	if instance == host.NullObject {
		return Value{}, host.NewError(op, host.CodeInvalidObject, "instance field %s read without an instance", f.Name)
	}
	ref, ok := vm.heap.lookup(instance)
	if !ok {
		return Value{}, host.NewError(op, host.CodeInvalidObject, "object %d", instance)
	}
	obj, ok := ref.(*JObject)
	if !ok {
		return Value{}, host.NewError(op, host.CodeInvalidObject, "object %d is an array", instance)
	}
	v, ok := obj.Fields[FieldKey{Class: f.Class.Name, Name: f.Name}]
	if !ok {
		return Value{}, host.NewError(op, host.CodeInvalidField, "%s has no field %s", obj.ClassName(), f.Name)
	}
	return checkType(op, v, want)
}

// FieldInt reads an int-like field.
func (vm *VM) FieldInt(field host.FieldID, instance host.ObjectID) (int32, error) {
	v, err := vm.fieldValue("FieldInt", field, instance, TypeInt)
	return v.Int, err
}

// FieldLong reads a long field.
func (vm *VM) FieldLong(field host.FieldID, instance host.ObjectID) (int64, error) {
	v, err := vm.fieldValue("FieldLong", field, instance, TypeLong)
	return v.Long, err
}

// FieldFloat reads a float field.
func (vm *VM) FieldFloat(field host.FieldID, instance host.ObjectID) (float32, error) {
	v, err := vm.fieldValue("FieldFloat", field, instance, TypeFloat)
	return v.Float, err
}

// FieldDouble reads a double field.
func (vm *VM) FieldDouble(field host.FieldID, instance host.ObjectID) (float64, error) {
	v, err := vm.fieldValue("FieldDouble", field, instance, TypeDouble)
	return v.Double, err
}

// FieldObject reads a reference field.
func (vm *VM) FieldObject(field host.FieldID, instance host.ObjectID) (host.ObjectID, error) {
	v, err := vm.fieldValue("FieldObject", field, instance, TypeRef)
	if err != nil {
		return host.NullObject, err
	}
	return v.ObjectID(), nil
}

// FindStaticMethod finds a static method declared by class.
func (vm *VM) FindStaticMethod(class host.ClassID, name, descriptor string) (host.MethodID, error) {
	const op = "FindStaticMethod"
	c, err := vm.classByID(op, class)
	if err != nil {
		return 0, err
	}
	m := c.FindMethod(name, descriptor)
	if m == nil || !m.IsStatic() {
		return 0, host.NewError(op, host.CodeNotFound, "%s.%s%s", c.Name, name, descriptor)
	}
	return m.ID, nil
}

// InvokeStatic runs a static method to completion on thread.
func (vm *VM) InvokeStatic(thread host.ThreadID, method host.MethodID, args ...any) (err error) {
	const op = "InvokeStatic"
	t, err := vm.threadByID(op, thread)
	if err != nil {
		return err
	}
	m, err := vm.methodByID(op, method)
	if err != nil {
		return err
	}
	if !m.IsStatic() {
		return host.NewError(op, host.CodeInvalidMethod, "%s is not static", m)
	}
	if len(args) != len(m.Params) {
		return host.NewError(op, host.CodeInternal, "%s takes %d arguments, got %d", m, len(m.Params), len(args))
	}

	values := make([]Value, len(args))
	for i, a := range args {
		v, err := vm.argValue(a)
		if err != nil {
			return host.NewError(op, host.CodeInternal, "argument %d: %v", i, err)
		}
		values[i] = v
	}

	defer func() {
		if r := recover(); r != nil {
			err = host.NewError(op, host.CodeInternal, "%s: %v", m, r)
		}
	}()
	if err := vm.initClass(t, m.Class); err != nil {
		return host.NewError(op, host.CodeInternal, "initializing %s: %v", m.Class.Name, err)
	}
	if _, err := vm.executeMethod(t, m, values); err != nil {
		return host.NewError(op, host.CodeInternal, "%s: %v", m, err)
	}
	return nil
}

func (vm *VM) argValue(a any) (Value, error) {
	switch v := a.(type) {
	case string:
		return RefValue(vm.NewString(v)), nil
	case int32:
		return IntValue(v), nil
	case int64:
		return LongValue(v), nil
	case float32:
		return FloatValue(v), nil
	case float64:
		return DoubleValue(v), nil
	case bool:
		return BoolValue(v), nil
	case host.ObjectID:
		if v == host.NullObject {
			return NullValue(), nil
		}
		obj, ok := vm.heap.lookup(v)
		if !ok {
			return Value{}, fmt.Errorf("object %d is not live", v)
		}
		return RefValue(obj), nil
	default:
		return Value{}, fmt.Errorf("unsupported argument type %T", a)
	}
}

// SetEventMode enables or disables delivery of kind to the listener.
func (vm *VM) SetEventMode(kind host.EventKind, enabled bool) error {
	switch kind {
	case host.EventMethodEntry:
		vm.methodEntry.Store(enabled)
	case host.EventStep:
		vm.step.Store(enabled)
	default:
		return host.NewError("SetEventMode", host.CodeInternal, "unknown event kind %d", int(kind))
	}
	return nil
}
