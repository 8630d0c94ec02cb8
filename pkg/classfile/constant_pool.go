package classfile

import (
	"fmt"
	"math"
)

// Constant pool tags
const (
	TagUtf8               = 1
	TagInteger            = 3
	TagFloat              = 4
	TagLong               = 5
	TagDouble             = 6
	TagClass              = 7
	TagString             = 8
	TagFieldref           = 9
	TagMethodref          = 10
	TagInterfaceMethodref = 11
	TagNameAndType        = 12
	TagMethodHandle       = 15
	TagMethodType         = 16
	TagDynamic            = 17
	TagInvokeDynamic      = 18
	TagModule             = 19
	TagPackage            = 20
)

// parseConstantPool reads constant_pool_count-1 entries.
// The returned slice is 1-indexed: index 0 is nil, and so is the slot
// following every Long and Double entry.
func parseConstantPool(r *reader, count uint16) ([]ConstantPoolEntry, error) {
	pool := make([]ConstantPoolEntry, count)

	for i := uint16(1); i < count; i++ {
		tag := r.u1("constant pool tag")

		switch tag {
		case TagUtf8:
			length := r.u2("Utf8 length")
			pool[i] = &ConstantUtf8{Value: decodeModifiedUTF8(r.bytes(int(length), "Utf8 bytes"))}
		case TagInteger:
			pool[i] = &ConstantInteger{Value: int32(r.u4("Integer"))}
		case TagFloat:
			pool[i] = &ConstantFloat{Value: math.Float32frombits(r.u4("Float"))}
		case TagLong:
			pool[i] = &ConstantLong{Value: int64(r.u8("Long"))}
			i++ // long takes 2 slots
		case TagDouble:
			pool[i] = &ConstantDouble{Value: math.Float64frombits(r.u8("Double"))}
			i++ // double takes 2 slots
		case TagClass:
			pool[i] = &ConstantClass{NameIndex: r.u2("Class name_index")}
		case TagString:
			pool[i] = &ConstantString{StringIndex: r.u2("String string_index")}
		case TagFieldref:
			pool[i] = &ConstantFieldref{ClassIndex: r.u2("Fieldref class_index"), NameAndTypeIndex: r.u2("Fieldref name_and_type_index")}
		case TagMethodref:
			pool[i] = &ConstantMethodref{ClassIndex: r.u2("Methodref class_index"), NameAndTypeIndex: r.u2("Methodref name_and_type_index")}
		case TagInterfaceMethodref:
			pool[i] = &ConstantInterfaceMethodref{ClassIndex: r.u2("InterfaceMethodref class_index"), NameAndTypeIndex: r.u2("InterfaceMethodref name_and_type_index")}
		case TagNameAndType:
			pool[i] = &ConstantNameAndType{NameIndex: r.u2("NameAndType name_index"), DescriptorIndex: r.u2("NameAndType descriptor_index")}
		case TagMethodHandle:
			pool[i] = &ConstantMethodHandle{ReferenceKind: r.u1("MethodHandle reference_kind"), ReferenceIndex: r.u2("MethodHandle reference_index")}
		case TagMethodType:
			pool[i] = &ConstantMethodType{DescriptorIndex: r.u2("MethodType descriptor_index")}
		case TagInvokeDynamic:
			pool[i] = &ConstantInvokeDynamic{BootstrapMethodAttrIndex: r.u2("InvokeDynamic bootstrap_method_attr_index"), NameAndTypeIndex: r.u2("InvokeDynamic name_and_type_index")}
		case TagModule, TagPackage:
			r.bytes(2, "constant")
			pool[i] = &constantPlaceholder{tag: tag}
		case TagDynamic:
			r.bytes(4, "Dynamic")
			pool[i] = &constantPlaceholder{tag: tag}
		default:
			if r.err != nil {
				return nil, r.err
			}
			return nil, fmt.Errorf("unknown constant pool tag %d at index %d", tag, i)
		}
		if r.err != nil {
			return nil, fmt.Errorf("constant pool index %d: %w", i, r.err)
		}
	}

	return pool, nil
}

// decodeModifiedUTF8 converts the JVM's modified UTF-8 (encoded NUL and
// surrogate pairs as two 3-byte sequences) into a Go string.
func decodeModifiedUTF8(b []byte) string {
	ascii := true
	for _, c := range b {
		if c >= 0x80 {
			ascii = false
			break
		}
	}
	if ascii {
		return string(b)
	}

	units := make([]uint16, 0, len(b))
	for i := 0; i < len(b); {
		c := b[i]
		switch {
		case c < 0x80:
			units = append(units, uint16(c))
			i++
		case c&0xE0 == 0xC0 && i+1 < len(b):
			units = append(units, uint16(c&0x1F)<<6|uint16(b[i+1]&0x3F))
			i += 2
		case c&0xF0 == 0xE0 && i+2 < len(b):
			units = append(units, uint16(c&0x0F)<<12|uint16(b[i+1]&0x3F)<<6|uint16(b[i+2]&0x3F))
			i += 3
		default:
			units = append(units, 0xFFFD)
			i++
		}
	}
	return string(utf16Decode(units))
}

func utf16Decode(units []uint16) []rune {
	out := make([]rune, 0, len(units))
	for i := 0; i < len(units); i++ {
		u := units[i]
		if u >= 0xD800 && u < 0xDC00 && i+1 < len(units) && units[i+1] >= 0xDC00 && units[i+1] < 0xE000 {
			out = append(out, (rune(u)-0xD800)<<10+(rune(units[i+1])-0xDC00)+0x10000)
			i++
			continue
		}
		out = append(out, rune(u))
	}
	return out
}

// constantPlaceholder is used for constant pool entries we don't fully parse.
type constantPlaceholder struct {
	tag uint8
}

func (c *constantPlaceholder) Tag() uint8 { return c.tag }

func entryAt(pool []ConstantPoolEntry, index uint16) (ConstantPoolEntry, error) {
	if int(index) >= len(pool) || pool[index] == nil {
		return nil, fmt.Errorf("invalid constant pool index %d", index)
	}
	return pool[index], nil
}

// GetUtf8 returns the Utf8 string at the given constant pool index.
func GetUtf8(pool []ConstantPoolEntry, index uint16) (string, error) {
	entry, err := entryAt(pool, index)
	if err != nil {
		return "", err
	}
	utf8, ok := entry.(*ConstantUtf8)
	if !ok {
		return "", fmt.Errorf("constant pool index %d is not Utf8 (tag=%d)", index, entry.Tag())
	}
	return utf8.Value, nil
}

// GetClassName returns the class name referenced by a CONSTANT_Class entry.
func GetClassName(pool []ConstantPoolEntry, classIndex uint16) (string, error) {
	entry, err := entryAt(pool, classIndex)
	if err != nil {
		return "", err
	}
	class, ok := entry.(*ConstantClass)
	if !ok {
		return "", fmt.Errorf("constant pool index %d is not Class", classIndex)
	}
	return GetUtf8(pool, class.NameIndex)
}

// MemberRef is a resolved field, method or interface method reference.
type MemberRef struct {
	ClassName  string
	Name       string
	Descriptor string
}

// MethodRefInfo holds resolved method reference info.
type MethodRefInfo = MemberRef

// FieldRefInfo holds resolved field reference info.
type FieldRefInfo = MemberRef

// ResolveMethodref resolves a CONSTANT_Methodref or, since Java 8 allows
// invokestatic/invokespecial on interface methods, a CONSTANT_InterfaceMethodref.
func ResolveMethodref(pool []ConstantPoolEntry, index uint16) (*MethodRefInfo, error) {
	entry, err := entryAt(pool, index)
	if err != nil {
		return nil, err
	}
	switch ref := entry.(type) {
	case *ConstantMethodref:
		return resolveMember(pool, "Methodref", ref.ClassIndex, ref.NameAndTypeIndex)
	case *ConstantInterfaceMethodref:
		return resolveMember(pool, "InterfaceMethodref", ref.ClassIndex, ref.NameAndTypeIndex)
	default:
		return nil, fmt.Errorf("constant pool index %d is not Methodref", index)
	}
}

// ResolveInterfaceMethodref resolves a CONSTANT_InterfaceMethodref entry.
func ResolveInterfaceMethodref(pool []ConstantPoolEntry, index uint16) (*MethodRefInfo, error) {
	entry, err := entryAt(pool, index)
	if err != nil {
		return nil, err
	}
	ref, ok := entry.(*ConstantInterfaceMethodref)
	if !ok {
		return nil, fmt.Errorf("constant pool index %d is not InterfaceMethodref", index)
	}
	return resolveMember(pool, "InterfaceMethodref", ref.ClassIndex, ref.NameAndTypeIndex)
}

// ResolveFieldref resolves a CONSTANT_Fieldref entry.
func ResolveFieldref(pool []ConstantPoolEntry, index uint16) (*FieldRefInfo, error) {
	entry, err := entryAt(pool, index)
	if err != nil {
		return nil, err
	}
	ref, ok := entry.(*ConstantFieldref)
	if !ok {
		return nil, fmt.Errorf("constant pool index %d is not Fieldref", index)
	}
	return resolveMember(pool, "Fieldref", ref.ClassIndex, ref.NameAndTypeIndex)
}

func resolveMember(pool []ConstantPoolEntry, kind string, classIndex, natIndex uint16) (*MemberRef, error) {
	className, err := GetClassName(pool, classIndex)
	if err != nil {
		return nil, fmt.Errorf("resolving %s class: %w", kind, err)
	}

	entry, err := entryAt(pool, natIndex)
	if err != nil {
		return nil, fmt.Errorf("resolving %s name and type: %w", kind, err)
	}
	nat, ok := entry.(*ConstantNameAndType)
	if !ok {
		return nil, fmt.Errorf("constant pool index %d is not NameAndType", natIndex)
	}

	name, err := GetUtf8(pool, nat.NameIndex)
	if err != nil {
		return nil, fmt.Errorf("resolving %s name: %w", kind, err)
	}
	descriptor, err := GetUtf8(pool, nat.DescriptorIndex)
	if err != nil {
		return nil, fmt.Errorf("resolving %s descriptor: %w", kind, err)
	}

	return &MemberRef{ClassName: className, Name: name, Descriptor: descriptor}, nil
}

// ResolveInvokeDynamic resolves a CONSTANT_InvokeDynamic entry to its
// bootstrap method table index and call site name and descriptor.
func ResolveInvokeDynamic(pool []ConstantPoolEntry, index uint16) (bsm uint16, name, descriptor string, err error) {
	entry, err := entryAt(pool, index)
	if err != nil {
		return 0, "", "", err
	}
	indy, ok := entry.(*ConstantInvokeDynamic)
	if !ok {
		return 0, "", "", fmt.Errorf("constant pool index %d is not InvokeDynamic", index)
	}
	nat, err := entryAt(pool, indy.NameAndTypeIndex)
	if err != nil {
		return 0, "", "", err
	}
	nt, ok := nat.(*ConstantNameAndType)
	if !ok {
		return 0, "", "", fmt.Errorf("constant pool index %d is not NameAndType", indy.NameAndTypeIndex)
	}
	if name, err = GetUtf8(pool, nt.NameIndex); err != nil {
		return 0, "", "", err
	}
	if descriptor, err = GetUtf8(pool, nt.DescriptorIndex); err != nil {
		return 0, "", "", err
	}
	return indy.BootstrapMethodAttrIndex, name, descriptor, nil
}

// ResolveMethodHandle resolves the member a CONSTANT_MethodHandle refers to.
func ResolveMethodHandle(pool []ConstantPoolEntry, index uint16) (*MemberRef, error) {
	entry, err := entryAt(pool, index)
	if err != nil {
		return nil, err
	}
	mh, ok := entry.(*ConstantMethodHandle)
	if !ok {
		return nil, fmt.Errorf("constant pool index %d is not MethodHandle", index)
	}
	target, err := entryAt(pool, mh.ReferenceIndex)
	if err != nil {
		return nil, err
	}
	if _, ok := target.(*ConstantFieldref); ok {
		return ResolveFieldref(pool, mh.ReferenceIndex)
	}
	return ResolveMethodref(pool, mh.ReferenceIndex)
}
