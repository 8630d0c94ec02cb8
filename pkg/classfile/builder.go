package classfile

import (
	"encoding/binary"
	"fmt"
	"math"
	"unicode/utf16"
)

// Builder assembles a class file in memory. It exists so fixtures and tests
// can produce loadable classes without a Java compiler.
type Builder struct {
	flags      uint16
	thisClass  uint16
	superClass uint16
	pool       [][]byte
	index      map[string]uint16
	next       uint16
	interfaces []uint16
	fields     [][]byte
	methods    [][]byte
	bootstrap  []BootstrapMethod
}

// Code is the body of a method handed to Builder.AddMethod.
type Code struct {
	MaxStack  uint16
	MaxLocals uint16
	Bytecode  []byte
	Handlers  []ExceptionHandler
	Locals    []LocalVariable
}

// NewBuilder starts a class named name extending super. An empty super
// produces a class without a superclass (only valid for java/lang/Object).
func NewBuilder(name, super string) *Builder {
	b := &Builder{
		flags: AccPublic | AccSuper,
		index: make(map[string]uint16),
		next:  1,
	}
	b.thisClass = b.Class(name)
	if super != "" {
		b.superClass = b.Class(super)
	}
	return b
}

// SetAccessFlags overrides the class access flags.
func (b *Builder) SetAccessFlags(flags uint16) *Builder {
	b.flags = flags
	return b
}

func (b *Builder) intern(key string, slots uint16, entry []byte) uint16 {
	if idx, ok := b.index[key]; ok {
		return idx
	}
	idx := b.next
	b.pool = append(b.pool, entry)
	b.index[key] = idx
	b.next += slots
	return idx
}

// Utf8 interns a CONSTANT_Utf8 entry.
func (b *Builder) Utf8(s string) uint16 {
	enc := encodeModifiedUTF8(s)
	entry := make([]byte, 0, 3+len(enc))
	entry = append(entry, TagUtf8)
	entry = binary.BigEndian.AppendUint16(entry, uint16(len(enc)))
	entry = append(entry, enc...)
	return b.intern("utf8:"+s, 1, entry)
}

// Class interns a CONSTANT_Class entry.
func (b *Builder) Class(name string) uint16 {
	nameIdx := b.Utf8(name)
	return b.intern("class:"+name, 1, u2Entry(TagClass, nameIdx))
}

// String interns a CONSTANT_String entry.
func (b *Builder) String(s string) uint16 {
	idx := b.Utf8(s)
	return b.intern("string:"+s, 1, u2Entry(TagString, idx))
}

// Integer interns a CONSTANT_Integer entry.
func (b *Builder) Integer(v int32) uint16 {
	entry := binary.BigEndian.AppendUint32([]byte{TagInteger}, uint32(v))
	return b.intern(fmt.Sprintf("int:%d", v), 1, entry)
}

// Float interns a CONSTANT_Float entry.
func (b *Builder) Float(v float32) uint16 {
	bits := math.Float32bits(v)
	entry := binary.BigEndian.AppendUint32([]byte{TagFloat}, bits)
	return b.intern(fmt.Sprintf("float:%x", bits), 1, entry)
}

// Long interns a CONSTANT_Long entry (two slots).
func (b *Builder) Long(v int64) uint16 {
	entry := binary.BigEndian.AppendUint64([]byte{TagLong}, uint64(v))
	return b.intern(fmt.Sprintf("long:%d", v), 2, entry)
}

// Double interns a CONSTANT_Double entry (two slots).
func (b *Builder) Double(v float64) uint16 {
	bits := math.Float64bits(v)
	entry := binary.BigEndian.AppendUint64([]byte{TagDouble}, bits)
	return b.intern(fmt.Sprintf("double:%x", bits), 2, entry)
}

// NameAndType interns a CONSTANT_NameAndType entry.
func (b *Builder) NameAndType(name, desc string) uint16 {
	n, d := b.Utf8(name), b.Utf8(desc)
	entry := binary.BigEndian.AppendUint16(u2Entry(TagNameAndType, n), d)
	return b.intern("nat:"+name+":"+desc, 1, entry)
}

// Fieldref interns a CONSTANT_Fieldref entry.
func (b *Builder) Fieldref(class, name, desc string) uint16 {
	return b.memberRef(TagFieldref, "field", class, name, desc)
}

// Methodref interns a CONSTANT_Methodref entry.
func (b *Builder) Methodref(class, name, desc string) uint16 {
	return b.memberRef(TagMethodref, "method", class, name, desc)
}

// InterfaceMethodref interns a CONSTANT_InterfaceMethodref entry.
func (b *Builder) InterfaceMethodref(class, name, desc string) uint16 {
	return b.memberRef(TagInterfaceMethodref, "imethod", class, name, desc)
}

func (b *Builder) memberRef(tag uint8, kind, class, name, desc string) uint16 {
	c, nat := b.Class(class), b.NameAndType(name, desc)
	entry := binary.BigEndian.AppendUint16(u2Entry(tag, c), nat)
	return b.intern(kind+":"+class+"."+name+":"+desc, 1, entry)
}

// MethodHandle interns a CONSTANT_MethodHandle entry.
func (b *Builder) MethodHandle(kind uint8, refIndex uint16) uint16 {
	entry := binary.BigEndian.AppendUint16([]byte{TagMethodHandle, kind}, refIndex)
	return b.intern(fmt.Sprintf("mh:%d:%d", kind, refIndex), 1, entry)
}

// InvokeDynamic interns a CONSTANT_InvokeDynamic entry for the call site
// name and descriptor bound to bootstrap method bsm.
func (b *Builder) InvokeDynamic(bsm uint16, name, desc string) uint16 {
	nat := b.NameAndType(name, desc)
	entry := binary.BigEndian.AppendUint16(u2Entry(TagInvokeDynamic, bsm), nat)
	return b.intern(fmt.Sprintf("indy:%d:%s:%s", bsm, name, desc), 1, entry)
}

// AddBootstrapMethod appends an entry to the BootstrapMethods attribute and
// returns its index.
func (b *Builder) AddBootstrapMethod(methodHandle uint16, args ...uint16) uint16 {
	b.bootstrap = append(b.bootstrap, BootstrapMethod{MethodRef: methodHandle, BootstrapArguments: args})
	return uint16(len(b.bootstrap) - 1)
}

// AddInterface declares an implemented interface.
func (b *Builder) AddInterface(name string) *Builder {
	b.interfaces = append(b.interfaces, b.Class(name))
	return b
}

// AddField declares a field.
func (b *Builder) AddField(flags uint16, name, desc string) *Builder {
	return b.addField(flags, name, desc, 0)
}

// AddConstField declares a field with a ConstantValue attribute pointing at
// constIndex (as returned by Integer, Long, Float, Double or String).
func (b *Builder) AddConstField(flags uint16, name, desc string, constIndex uint16) *Builder {
	return b.addField(flags, name, desc, constIndex)
}

func (b *Builder) addField(flags uint16, name, desc string, constIndex uint16) *Builder {
	out := binary.BigEndian.AppendUint16(nil, flags)
	out = binary.BigEndian.AppendUint16(out, b.Utf8(name))
	out = binary.BigEndian.AppendUint16(out, b.Utf8(desc))
	if constIndex == 0 {
		out = binary.BigEndian.AppendUint16(out, 0)
	} else {
		out = binary.BigEndian.AppendUint16(out, 1)
		out = b.appendAttribute(out, "ConstantValue", binary.BigEndian.AppendUint16(nil, constIndex))
	}
	b.fields = append(b.fields, out)
	return b
}

// AddMethod declares a method. code is nil for abstract and native methods.
func (b *Builder) AddMethod(flags uint16, name, desc string, code *Code) *Builder {
	out := binary.BigEndian.AppendUint16(nil, flags)
	out = binary.BigEndian.AppendUint16(out, b.Utf8(name))
	out = binary.BigEndian.AppendUint16(out, b.Utf8(desc))
	if code == nil {
		out = binary.BigEndian.AppendUint16(out, 0)
	} else {
		out = binary.BigEndian.AppendUint16(out, 1)
		out = b.appendAttribute(out, "Code", b.encodeCode(code))
	}
	b.methods = append(b.methods, out)
	return b
}

func (b *Builder) encodeCode(code *Code) []byte {
	out := binary.BigEndian.AppendUint16(nil, code.MaxStack)
	out = binary.BigEndian.AppendUint16(out, code.MaxLocals)
	out = binary.BigEndian.AppendUint32(out, uint32(len(code.Bytecode)))
	out = append(out, code.Bytecode...)

	out = binary.BigEndian.AppendUint16(out, uint16(len(code.Handlers)))
	for _, h := range code.Handlers {
		out = binary.BigEndian.AppendUint16(out, h.StartPC)
		out = binary.BigEndian.AppendUint16(out, h.EndPC)
		out = binary.BigEndian.AppendUint16(out, h.HandlerPC)
		out = binary.BigEndian.AppendUint16(out, h.CatchType)
	}

	if len(code.Locals) == 0 {
		return binary.BigEndian.AppendUint16(out, 0)
	}
	table := binary.BigEndian.AppendUint16(nil, uint16(len(code.Locals)))
	for _, lv := range code.Locals {
		table = binary.BigEndian.AppendUint16(table, lv.StartPC)
		table = binary.BigEndian.AppendUint16(table, lv.Length)
		table = binary.BigEndian.AppendUint16(table, b.Utf8(lv.Name))
		table = binary.BigEndian.AppendUint16(table, b.Utf8(lv.Descriptor))
		table = binary.BigEndian.AppendUint16(table, lv.Index)
	}
	out = binary.BigEndian.AppendUint16(out, 1)
	return b.appendAttribute(out, "LocalVariableTable", table)
}

func (b *Builder) appendAttribute(out []byte, name string, data []byte) []byte {
	out = binary.BigEndian.AppendUint16(out, b.Utf8(name))
	out = binary.BigEndian.AppendUint32(out, uint32(len(data)))
	return append(out, data...)
}

// Bytes renders the class file.
func (b *Builder) Bytes() []byte {
	// Class attributes intern their names, so they are encoded before the pool.
	var classAttrs []byte
	attrCount := uint16(0)
	if len(b.bootstrap) > 0 {
		table := binary.BigEndian.AppendUint16(nil, uint16(len(b.bootstrap)))
		for _, bm := range b.bootstrap {
			table = binary.BigEndian.AppendUint16(table, bm.MethodRef)
			table = binary.BigEndian.AppendUint16(table, uint16(len(bm.BootstrapArguments)))
			for _, arg := range bm.BootstrapArguments {
				table = binary.BigEndian.AppendUint16(table, arg)
			}
		}
		classAttrs = b.appendAttribute(classAttrs, "BootstrapMethods", table)
		attrCount++
	}

	out := binary.BigEndian.AppendUint32(nil, classMagic)
	out = binary.BigEndian.AppendUint16(out, 0)  // minor
	out = binary.BigEndian.AppendUint16(out, 52) // major: Java 8
	out = binary.BigEndian.AppendUint16(out, b.next)
	for _, entry := range b.pool {
		out = append(out, entry...)
	}
	out = binary.BigEndian.AppendUint16(out, b.flags)
	out = binary.BigEndian.AppendUint16(out, b.thisClass)
	out = binary.BigEndian.AppendUint16(out, b.superClass)

	out = binary.BigEndian.AppendUint16(out, uint16(len(b.interfaces)))
	for _, idx := range b.interfaces {
		out = binary.BigEndian.AppendUint16(out, idx)
	}
	out = binary.BigEndian.AppendUint16(out, uint16(len(b.fields)))
	for _, f := range b.fields {
		out = append(out, f...)
	}
	out = binary.BigEndian.AppendUint16(out, uint16(len(b.methods)))
	for _, m := range b.methods {
		out = append(out, m...)
	}
	out = binary.BigEndian.AppendUint16(out, attrCount)
	return append(out, classAttrs...)
}

func u2Entry(tag uint8, v uint16) []byte {
	return binary.BigEndian.AppendUint16([]byte{tag}, v)
}

func encodeModifiedUTF8(s string) []byte {
	out := make([]byte, 0, len(s))
	for _, u := range utf16.Encode([]rune(s)) {
		switch {
		case u != 0 && u < 0x80:
			out = append(out, byte(u))
		case u < 0x800:
			out = append(out, 0xC0|byte(u>>6), 0x80|byte(u&0x3F))
		default:
			out = append(out, 0xE0|byte(u>>12), 0x80|byte((u>>6)&0x3F), 0x80|byte(u&0x3F))
		}
	}
	return out
}
