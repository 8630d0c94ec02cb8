// Package testprog generates small JVM programs as class files so the
// interpreter and the tracer can be exercised without a Java compiler.
//
// Each generator documents the Java source it corresponds to.
package testprog

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/daimatz/jtrace/pkg/classfile"
	"github.com/daimatz/jtrace/pkg/vm"
)

const (
	object        = "java/lang/Object"
	str           = "java/lang/String"
	stringBuilder = "java/lang/StringBuilder"
	printStream   = "java/io/PrintStream"

	concatFactory   = "java/lang/invoke/StringConcatFactory"
	concatBootstrap = "(Ljava/lang/invoke/MethodHandles$Lookup;Ljava/lang/String;Ljava/lang/invoke/MethodType;Ljava/lang/String;[Ljava/lang/Object;)Ljava/lang/invoke/CallSite;"

	refInvokeStatic = 6

	public       = classfile.AccPublic
	publicStatic = classfile.AccPublic | classfile.AccStatic
	mainDesc     = "([Ljava/lang/String;)V"
)

// Program is a set of generated class files keyed by internal class name.
type Program struct {
	Main    string
	Classes map[string][]byte
}

func newProgram(main string) Program {
	return Program{Main: main, Classes: make(map[string][]byte)}
}

func (p Program) add(name string, b *classfile.Builder) {
	p.Classes[name] = b.Bytes()
}

// Loader returns an in-memory class loader serving the program.
func (p Program) Loader() *vm.MemoryClassLoader {
	cl := vm.NewMemoryClassLoader()
	for name, data := range p.Classes {
		cl.Define(name, data)
	}
	return cl
}

// WriteDir writes every class to dir/<name>.class.
func (p Program) WriteDir(dir string) error {
	for name, data := range p.Classes {
		path := filepath.Join(dir, filepath.FromSlash(name)+".class")
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("writing %s: %w", name, err)
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", name, err)
		}
	}
	return nil
}

// code is an assembler bound to the constant pool of one class.
type code struct {
	*classfile.Asm
	b *classfile.Builder
}

func newCode(b *classfile.Builder) *code {
	return &code{Asm: classfile.NewAsm(), b: b}
}

func (c *code) ldcIndex(index uint16) {
	if index < 256 {
		c.Op(vm.OpLdc, byte(index))
		return
	}
	c.OpU16(vm.OpLdcW, index)
}

func (c *code) ldcString(s string) { c.ldcIndex(c.b.String(s)) }

func (c *code) ldcFloat(v float32) { c.ldcIndex(c.b.Float(v)) }

func (c *code) ldcDouble(v float64) { c.OpU16(vm.OpLdc2W, c.b.Double(v)) }

func (c *code) out() {
	c.OpU16(vm.OpGetstatic, c.b.Fieldref("java/lang/System", "out", "Ljava/io/PrintStream;"))
}

func (c *code) println(desc string) {
	c.OpU16(vm.OpInvokevirtual, c.b.Methodref(printStream, "println", "("+desc+")V"))
}

func (c *code) print(desc string) {
	c.OpU16(vm.OpInvokevirtual, c.b.Methodref(printStream, "print", "("+desc+")V"))
}

func (c *code) invokestatic(class, name, desc string) {
	c.OpU16(vm.OpInvokestatic, c.b.Methodref(class, name, desc))
}

func (c *code) invokevirtual(class, name, desc string) {
	c.OpU16(vm.OpInvokevirtual, c.b.Methodref(class, name, desc))
}

func (c *code) invokespecial(class, name, desc string) {
	c.OpU16(vm.OpInvokespecial, c.b.Methodref(class, name, desc))
}

func (c *code) invokeinterface(class, name, desc string, count byte) {
	index := c.b.InterfaceMethodref(class, name, desc)
	c.Op(vm.OpInvokeinterface, byte(index>>8), byte(index), count, 0)
}

// concat emits the invokedynamic javac generates for string concatenation;
// \x01 in recipe marks an argument.
func (c *code) concat(recipe, desc string) {
	bsm := c.b.AddBootstrapMethod(
		c.b.MethodHandle(refInvokeStatic, c.b.Methodref(concatFactory, "makeConcatWithConstants", concatBootstrap)),
		c.b.String(recipe),
	)
	index := c.b.InvokeDynamic(bsm, "makeConcatWithConstants", desc)
	c.Op(vm.OpInvokedynamic, byte(index>>8), byte(index), 0, 0)
}

func (c *code) getstatic(class, name, desc string) {
	c.OpU16(vm.OpGetstatic, c.b.Fieldref(class, name, desc))
}

func (c *code) putstatic(class, name, desc string) {
	c.OpU16(vm.OpPutstatic, c.b.Fieldref(class, name, desc))
}

func (c *code) getfield(class, name, desc string) {
	c.OpU16(vm.OpGetfield, c.b.Fieldref(class, name, desc))
}

func (c *code) putfield(class, name, desc string) {
	c.OpU16(vm.OpPutfield, c.b.Fieldref(class, name, desc))
}

func (c *code) new(class string) {
	c.OpU16(vm.OpNew, c.b.Class(class))
}

func (c *code) classOp(op byte, class string) {
	c.OpU16(op, c.b.Class(class))
}

// method adds the assembled body to the class.
func (c *code) method(flags uint16, name, desc string, maxLocals uint16, locals ...classfile.LocalVariable) {
	c.methodWithHandlers(flags, name, desc, maxLocals, nil, locals...)
}

func (c *code) methodWithHandlers(flags uint16, name, desc string, maxLocals uint16, handlers []classfile.ExceptionHandler, locals ...classfile.LocalVariable) {
	c.b.AddMethod(flags, name, desc, &classfile.Code{
		MaxStack:  8,
		MaxLocals: maxLocals,
		Bytecode:  c.MustBytes(),
		Handlers:  handlers,
		Locals:    locals,
	})
}

// handler builds an exception table entry from labels.
func (c *code) handler(start, end, target, catchType string) classfile.ExceptionHandler {
	h := classfile.ExceptionHandler{
		StartPC:   uint16(c.Pos(start)),
		EndPC:     uint16(c.Pos(end)),
		HandlerPC: uint16(c.Pos(target)),
	}
	if catchType != "" {
		h.CatchType = c.b.Class(catchType)
	}
	return h
}

// local builds a local variable table entry live from label start to
// label end.
func (c *code) local(name, desc string, slot uint16, start, end string) classfile.LocalVariable {
	from := c.Pos(start)
	return classfile.LocalVariable{
		StartPC:    uint16(from),
		Length:     uint16(c.Pos(end) - from),
		Name:       name,
		Descriptor: desc,
		Index:      slot,
	}
}

// constructor adds <init>(desc) that calls super.<init>() and then body.
func constructor(b *classfile.Builder, super, desc string, maxLocals uint16, body func(c *code)) {
	c := newCode(b)
	c.Op(vm.OpAload0)
	c.invokespecial(super, "<init>", "()V")
	if body != nil {
		body(c)
	}
	c.Op(vm.OpReturn)
	c.method(public, "<init>", desc, maxLocals)
}
