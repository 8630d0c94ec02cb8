package vm

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/daimatz/jtrace/pkg/classfile"
	"github.com/daimatz/jtrace/pkg/host"
	"github.com/daimatz/jtrace/pkg/native"
)

// maxFrameDepth is the maximum number of nested method calls.
const maxFrameDepth = 1024

// MainThreadID is the identity of the thread that runs main.
const MainThreadID host.ThreadID = 1

// Thread is an interpreter thread: a stack of frames, top frame last.
type Thread struct {
	ID     host.ThreadID
	frames []*Frame
}

// frame returns the frame at depth (0 = currently executing).
func (t *Thread) frame(depth int) (*Frame, bool) {
	if depth < 0 || depth >= len(t.frames) {
		return nil, false
	}
	return t.frames[len(t.frames)-1-depth], true
}

// Depth returns the number of active frames.
func (t *Thread) Depth() int { return len(t.frames) }

// VM is the virtual machine that executes Java bytecode.
type VM struct {
	Loader ClassLoader
	Stdout io.Writer
	Stderr io.Writer

	heap   *heap
	thread *Thread

	regMu     sync.RWMutex
	classes   map[string]*Class
	missing   map[string]error
	classList []*Class
	methods   []*Method
	fields    []*Field

	constMu   sync.Mutex
	strings   map[string]*JObject
	integers  map[int32]*JObject
	systemOut *JObject

	listener    host.Listener
	methodEntry atomic.Bool
	step        atomic.Bool
}

// NewVM creates a new VM that loads classes through loader.
func NewVM(loader ClassLoader) *VM {
	return &VM{
		Loader:   loader,
		Stdout:   os.Stdout,
		Stderr:   os.Stderr,
		heap:     newHeap(),
		thread:   &Thread{ID: MainThreadID},
		classes:  make(map[string]*Class),
		missing:  make(map[string]error),
		strings:  make(map[string]*JObject),
		integers: make(map[int32]*JObject),
	}
}

// SetListener installs the receiver of method-entry and step events.
// Events are only delivered for kinds enabled with SetEventMode.
func (vm *VM) SetListener(l host.Listener) {
	vm.listener = l
}

// Execute loads className, runs its static initializer and then
// main(String[]) with args on the main thread.
func (vm *VM) Execute(className string, args ...string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("internal error executing %s: %v", className, r)
		}
	}()

	class, err := vm.LoadClass(className)
	if err != nil {
		return fmt.Errorf("loading %s: %w", className, err)
	}
	method := class.FindMethod("main", "([Ljava/lang/String;)V")
	if method == nil || !method.IsStatic() {
		return fmt.Errorf("main method not found in %s", className)
	}
	if err := vm.initClass(vm.thread, class); err != nil {
		return uncaught(err)
	}

	argv := make([]Value, len(args))
	for i, a := range args {
		argv[i] = RefValue(vm.NewString(a))
	}
	array := vm.heap.newArray("[Ljava/lang/String;", argv)
	_, err = vm.executeMethod(vm.thread, method, []Value{RefValue(array)})
	return uncaught(err)
}

func uncaught(err error) error {
	var jex *JavaException
	if errors.As(err, &jex) {
		return fmt.Errorf("uncaught exception: %w", err)
	}
	return err
}

// LoadClass returns the linked class name, loading it and its superclasses
// on first use. JDK classes the loader cannot find report ErrClassNotFound;
// the interpreter implements those natively.
func (vm *VM) LoadClass(name string) (*Class, error) {
	vm.regMu.RLock()
	c, ok := vm.classes[name]
	missErr := vm.missing[name]
	vm.regMu.RUnlock()
	if ok {
		return c, nil
	}
	if missErr != nil {
		return nil, missErr
	}
	if strings.HasPrefix(name, "[") {
		return nil, fmt.Errorf("array class %s: %w", name, ErrClassNotFound)
	}

	cf, err := vm.Loader.LoadClass(name)
	if err != nil {
		if errors.Is(err, ErrClassNotFound) {
			vm.regMu.Lock()
			vm.missing[name] = err
			vm.regMu.Unlock()
		}
		return nil, err
	}
	return vm.defineClass(name, cf)
}

func (vm *VM) defineClass(name string, cf *classfile.ClassFile) (*Class, error) {
	declared, err := cf.ClassName()
	if err != nil {
		return nil, fmt.Errorf("resolving name of %s: %w", name, err)
	}
	if declared != name {
		return nil, fmt.Errorf("class file for %s declares %s", name, declared)
	}

	c := &Class{
		Name:       name,
		File:       cf,
		SuperName:  cf.SuperClassName(),
		Interfaces: cf.InterfaceNames(),
		Statics:    make(map[string]Value),
	}
	if c.SuperName != "" {
		super, err := vm.LoadClass(c.SuperName)
		switch {
		case err == nil:
			c.Super = super
		case errors.Is(err, ErrClassNotFound):
			// JDK superclass, provided natively.
		default:
			return nil, fmt.Errorf("linking %s: %w", name, err)
		}
	}

	methods := make([]*Method, 0, len(cf.Methods))
	for i := range cf.Methods {
		mi := &cf.Methods[i]
		params, ret, err := parseMethodDescriptor(mi.Descriptor)
		if err != nil {
			return nil, fmt.Errorf("linking %s.%s: %w", name, mi.Name, err)
		}
		methods = append(methods, &Method{
			Class:      c,
			Name:       mi.Name,
			Descriptor: mi.Descriptor,
			Flags:      mi.AccessFlags,
			Code:       mi.Code,
			Params:     params,
			Return:     ret,
		})
	}
	fields := make([]*Field, 0, len(cf.Fields))
	for i := range cf.Fields {
		fi := &cf.Fields[i]
		f := &Field{Class: c, Name: fi.Name, Descriptor: fi.Descriptor, Flags: fi.AccessFlags, constant: fi.ConstantValue}
		if f.IsStatic() {
			v, err := vm.staticDefault(f)
			if err != nil {
				return nil, fmt.Errorf("linking %s.%s: %w", name, f.Name, err)
			}
			c.Statics[f.Name] = v
		}
		fields = append(fields, f)
	}

	vm.regMu.Lock()
	defer vm.regMu.Unlock()
	if existing, ok := vm.classes[name]; ok {
		return existing, nil
	}
	c.ID = host.ClassID(len(vm.classList) + 1)
	vm.classList = append(vm.classList, c)
	for _, m := range methods {
		m.ID = host.MethodID(len(vm.methods) + 1)
		vm.methods = append(vm.methods, m)
	}
	for _, f := range fields {
		f.ID = host.FieldID(len(vm.fields) + 1)
		vm.fields = append(vm.fields, f)
	}
	c.Methods = methods
	c.Fields = fields
	vm.classes[name] = c
	return c, nil
}

// staticDefault is the value of a static field right after linking: its
// ConstantValue attribute, or the zero value of its type.
func (vm *VM) staticDefault(f *Field) (Value, error) {
	if f.constant == 0 {
		return zeroValue(f.Descriptor), nil
	}
	pool := f.Class.File.ConstantPool
	if int(f.constant) >= len(pool) || pool[f.constant] == nil {
		return Value{}, fmt.Errorf("invalid ConstantValue index %d", f.constant)
	}
	switch c := pool[f.constant].(type) {
	case *classfile.ConstantInteger:
		return IntValue(c.Value), nil
	case *classfile.ConstantLong:
		return LongValue(c.Value), nil
	case *classfile.ConstantFloat:
		return FloatValue(c.Value), nil
	case *classfile.ConstantDouble:
		return DoubleValue(c.Value), nil
	case *classfile.ConstantString:
		s, err := classfile.GetUtf8(pool, c.StringIndex)
		if err != nil {
			return Value{}, err
		}
		return RefValue(vm.InternString(s)), nil
	default:
		return Value{}, fmt.Errorf("unsupported ConstantValue tag %d", c.Tag())
	}
}

// initClass runs the static initializers of c and its superclasses once.
// A class being initialized by the current thread counts as initialized.
func (vm *VM) initClass(t *Thread, c *Class) error {
	if c.state != classLinked {
		return nil
	}
	c.state = classInitializing
	if c.Super != nil {
		if err := vm.initClass(t, c.Super); err != nil {
			return err
		}
	}
	if clinit := c.FindMethod("<clinit>", "()V"); clinit != nil {
		if _, err := vm.executeMethod(t, clinit, nil); err != nil {
			return err
		}
	}
	c.state = classInitialized
	return nil
}

// executeMethod executes a method with the given arguments and returns its return value.
func (vm *VM) executeMethod(t *Thread, method *Method, args []Value) (Value, error) {
	if method.Code == nil {
		if method.Flags&classfile.AccAbstract != 0 {
			return Value{}, vm.NewJavaException("java/lang/AbstractMethodError", method.String())
		}
		return Value{}, fmt.Errorf("method %s has no Code attribute", method)
	}
	if len(t.frames) >= maxFrameDepth {
		return Value{}, vm.NewJavaException("java/lang/StackOverflowError")
	}

	frame := NewFrame(method.Code.MaxLocals, method.Code.MaxStack, method.Code.Code, method)
	frame.thread = t

	// Set arguments into local variables; long and double take two slots.
	slot := 0
	for _, arg := range args {
		frame.SetLocal(slot, arg)
		if arg.IsWide() {
			slot += 2
		} else {
			slot++
		}
	}
	if !method.IsStatic() && len(args) > 0 {
		frame.This = args[0].Ref
	}

	t.frames = append(t.frames, frame)
	defer func() { t.frames = t.frames[:len(t.frames)-1] }()

	if vm.listener != nil && vm.methodEntry.Load() {
		vm.listener.OnMethodEntry(t.ID, method.ID)
	}

	// Execution loop
	for frame.PC < len(frame.Code) {
		pc := frame.PC
		if vm.listener != nil && vm.step.Load() {
			vm.listener.OnStep(t.ID, method.ID, host.Location(pc))
		}

		opcode := frame.Code[pc]
		frame.PC++
		retVal, hasReturn, err := vm.executeInstruction(frame, opcode)
		if err != nil {
			var jex *JavaException
			if errors.As(err, &jex) {
				if handler, ok := vm.findHandler(method, pc, jex.Object); ok {
					frame.ClearStack()
					frame.Push(RefValue(jex.Object))
					frame.PC = handler
					continue
				}
			}
			return Value{}, err
		}
		if hasReturn {
			return retVal, nil
		}
	}

	// Fell off the end of the method (implicit return for void methods)
	return Value{}, nil
}

// findHandler returns the handler pc covering pc whose catch type matches exc.
func (vm *VM) findHandler(method *Method, pc int, exc *JObject) (int, bool) {
	for _, h := range method.Code.ExceptionHandlers {
		if pc < int(h.StartPC) || pc >= int(h.EndPC) {
			continue
		}
		if h.CatchType == 0 {
			return int(h.HandlerPC), true
		}
		name, err := classfile.GetClassName(method.Class.File.ConstantPool, h.CatchType)
		if err != nil {
			continue
		}
		if vm.isInstanceOf(exc, name) {
			return int(h.HandlerPC), true
		}
	}
	return 0, false
}

// threadOf returns the thread a frame runs on.
func (vm *VM) threadOf(frame *Frame) *Thread {
	if frame.thread != nil {
		return frame.thread
	}
	return vm.thread
}

// NewString allocates a java.lang.String.
func (vm *VM) NewString(s string) *JObject {
	return vm.heap.newObject(nil, "java/lang/String", s)
}

// InternString returns the canonical String instance for s, as used for
// literals.
func (vm *VM) InternString(s string) *JObject {
	vm.constMu.Lock()
	defer vm.constMu.Unlock()
	if obj, ok := vm.strings[s]; ok {
		return obj
	}
	obj := vm.NewString(s)
	vm.strings[s] = obj
	return obj
}

// boxInteger implements Integer.valueOf, caching -128..127 like the JDK.
func (vm *VM) boxInteger(v int32) *JObject {
	if v < -128 || v > 127 {
		return vm.heap.newObject(nil, "java/lang/Integer", &native.Integer{Value: v})
	}
	vm.constMu.Lock()
	defer vm.constMu.Unlock()
	if obj, ok := vm.integers[v]; ok {
		return obj
	}
	obj := vm.heap.newObject(nil, "java/lang/Integer", &native.Integer{Value: v})
	vm.integers[v] = obj
	return obj
}

// out returns the System.out PrintStream, bound to Stdout on first use.
func (vm *VM) out() *JObject {
	vm.constMu.Lock()
	defer vm.constMu.Unlock()
	if vm.systemOut == nil {
		vm.systemOut = vm.heap.newObject(nil, "java/io/PrintStream", &native.PrintStream{Writer: vm.Stdout})
	}
	return vm.systemOut
}

// goString extracts the Go string of a java.lang.String value.
func goString(v Value) (string, bool) {
	if v.IsNull() {
		return "", false
	}
	obj, ok := v.Ref.(*JObject)
	if !ok {
		return "", false
	}
	s, ok := obj.Native.(string)
	return s, ok
}
