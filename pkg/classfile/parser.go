package classfile

import (
	"fmt"
	"io"
	"os"
)

const classMagic = 0xCAFEBABE

// ParseFile opens and parses a .class file from the given path.
func ParseFile(path string) (*ClassFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseBytes(data)
}

// Parse reads a .class file from the given reader and returns a ClassFile.
func Parse(r io.Reader) (*ClassFile, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading class data: %w", err)
	}
	return ParseBytes(data)
}

// ParseBytes parses an in-memory .class file.
func ParseBytes(data []byte) (*ClassFile, error) {
	r := newReader(data)
	cf := &ClassFile{}

	magic := r.u4("magic number")
	if r.err != nil {
		return nil, r.err
	}
	if magic != classMagic {
		return nil, fmt.Errorf("invalid magic number: 0x%X (expected 0xCAFEBABE)", magic)
	}

	cf.MinorVersion = r.u2("minor version")
	cf.MajorVersion = r.u2("major version")
	cpCount := r.u2("constant pool count")
	if r.err != nil {
		return nil, r.err
	}

	pool, err := parseConstantPool(r, cpCount)
	if err != nil {
		return nil, fmt.Errorf("parsing constant pool: %w", err)
	}
	cf.ConstantPool = pool

	cf.AccessFlags = r.u2("access flags")
	cf.ThisClass = r.u2("this_class")
	cf.SuperClass = r.u2("super_class")

	interfacesCount := r.u2("interfaces count")
	cf.Interfaces = make([]uint16, 0, interfacesCount)
	for i := uint16(0); i < interfacesCount; i++ {
		cf.Interfaces = append(cf.Interfaces, r.u2("interface"))
	}
	if r.err != nil {
		return nil, r.err
	}

	if cf.Fields, err = parseFields(r, pool); err != nil {
		return nil, fmt.Errorf("parsing fields: %w", err)
	}
	if cf.Methods, err = parseMethods(r, pool); err != nil {
		return nil, fmt.Errorf("parsing methods: %w", err)
	}

	attrs, err := parseAttributeInfos(r, pool)
	if err != nil {
		return nil, fmt.Errorf("parsing class attributes: %w", err)
	}
	for _, attr := range attrs {
		if attr.Name == "BootstrapMethods" {
			cf.BootstrapMethods, err = parseBootstrapMethods(attr.Data)
			if err != nil {
				return nil, fmt.Errorf("parsing BootstrapMethods: %w", err)
			}
		}
	}

	return cf, nil
}

// memberHeader is the common prefix of field_info and method_info.
type memberHeader struct {
	flags uint16
	name  string
	desc  string
	attrs []AttributeInfo
}

func parseMember(r *reader, pool []ConstantPoolEntry, kind string, i uint16) (memberHeader, error) {
	flags := r.u2(kind + " access flags")
	nameIndex := r.u2(kind + " name index")
	descIndex := r.u2(kind + " descriptor index")
	if r.err != nil {
		return memberHeader{}, fmt.Errorf("%s %d: %w", kind, i, r.err)
	}

	name, err := GetUtf8(pool, nameIndex)
	if err != nil {
		return memberHeader{}, fmt.Errorf("resolving %s %d name: %w", kind, i, err)
	}
	desc, err := GetUtf8(pool, descIndex)
	if err != nil {
		return memberHeader{}, fmt.Errorf("resolving %s %d descriptor: %w", kind, i, err)
	}
	attrs, err := parseAttributeInfos(r, pool)
	if err != nil {
		return memberHeader{}, fmt.Errorf("parsing %s %d attributes: %w", kind, i, err)
	}
	return memberHeader{flags: flags, name: name, desc: desc, attrs: attrs}, nil
}

func parseFields(r *reader, pool []ConstantPoolEntry) ([]FieldInfo, error) {
	count := r.u2("fields count")
	if r.err != nil {
		return nil, r.err
	}
	fields := make([]FieldInfo, count)
	for i := uint16(0); i < count; i++ {
		h, err := parseMember(r, pool, "field", i)
		if err != nil {
			return nil, err
		}
		f := FieldInfo{AccessFlags: h.flags, Name: h.name, Descriptor: h.desc, Attributes: h.attrs}
		for _, attr := range h.attrs {
			if attr.Name == "ConstantValue" && len(attr.Data) == 2 {
				f.ConstantValue = uint16(attr.Data[0])<<8 | uint16(attr.Data[1])
			}
		}
		fields[i] = f
	}
	return fields, nil
}

func parseMethods(r *reader, pool []ConstantPoolEntry) ([]MethodInfo, error) {
	count := r.u2("methods count")
	if r.err != nil {
		return nil, r.err
	}
	methods := make([]MethodInfo, count)
	for i := uint16(0); i < count; i++ {
		h, err := parseMember(r, pool, "method", i)
		if err != nil {
			return nil, err
		}
		m := MethodInfo{AccessFlags: h.flags, Name: h.name, Descriptor: h.desc, Attributes: h.attrs}
		for _, attr := range h.attrs {
			if attr.Name == "Code" {
				code, err := parseCodeAttribute(attr.Data, pool)
				if err != nil {
					return nil, fmt.Errorf("parsing Code attribute for method %s: %w", h.name, err)
				}
				m.Code = code
				break
			}
		}
		methods[i] = m
	}
	return methods, nil
}

func parseAttributeInfos(r *reader, pool []ConstantPoolEntry) ([]AttributeInfo, error) {
	count := r.u2("attributes count")
	if r.err != nil {
		return nil, r.err
	}
	attrs := make([]AttributeInfo, 0, count)
	for i := uint16(0); i < count; i++ {
		nameIndex := r.u2("attribute name index")
		length := r.u4("attribute length")
		data := r.bytes(int(length), "attribute data")
		if r.err != nil {
			return nil, fmt.Errorf("attribute %d: %w", i, r.err)
		}
		name, err := GetUtf8(pool, nameIndex)
		if err != nil {
			return nil, fmt.Errorf("resolving attribute %d name: %w", i, err)
		}
		attrs = append(attrs, AttributeInfo{Name: name, Data: data})
	}
	return attrs, nil
}

func parseCodeAttribute(data []byte, pool []ConstantPoolEntry) (*CodeAttribute, error) {
	r := newReader(data)
	code := &CodeAttribute{
		MaxStack:  r.u2("max_stack"),
		MaxLocals: r.u2("max_locals"),
	}
	codeLength := r.u4("code_length")
	code.Code = r.bytes(int(codeLength), "code")
	if r.err != nil {
		return nil, fmt.Errorf("Code attribute: %w", r.err)
	}

	// Older hand-written classes stop right after the bytecode.
	if r.remaining() == 0 {
		return code, nil
	}

	exTableLen := r.u2("exception table length")
	code.ExceptionHandlers = make([]ExceptionHandler, 0, exTableLen)
	for i := uint16(0); i < exTableLen; i++ {
		code.ExceptionHandlers = append(code.ExceptionHandlers, ExceptionHandler{
			StartPC:   r.u2("handler start_pc"),
			EndPC:     r.u2("handler end_pc"),
			HandlerPC: r.u2("handler handler_pc"),
			CatchType: r.u2("handler catch_type"),
		})
	}
	if r.err != nil {
		return nil, fmt.Errorf("Code exception table: %w", r.err)
	}

	attrs, err := parseAttributeInfos(r, pool)
	if err != nil {
		return nil, fmt.Errorf("Code attributes: %w", err)
	}
	for _, attr := range attrs {
		if attr.Name != "LocalVariableTable" {
			continue
		}
		vars, err := parseLocalVariableTable(attr.Data, pool)
		if err != nil {
			return nil, fmt.Errorf("LocalVariableTable: %w", err)
		}
		code.LocalVariables = append(code.LocalVariables, vars...)
	}
	return code, nil
}

func parseLocalVariableTable(data []byte, pool []ConstantPoolEntry) ([]LocalVariable, error) {
	r := newReader(data)
	count := r.u2("local_variable_table_length")
	vars := make([]LocalVariable, 0, count)
	for i := uint16(0); i < count; i++ {
		startPC := r.u2("start_pc")
		length := r.u2("length")
		nameIndex := r.u2("name_index")
		descIndex := r.u2("descriptor_index")
		index := r.u2("index")
		if r.err != nil {
			return nil, r.err
		}
		name, err := GetUtf8(pool, nameIndex)
		if err != nil {
			return nil, fmt.Errorf("entry %d name: %w", i, err)
		}
		desc, err := GetUtf8(pool, descIndex)
		if err != nil {
			return nil, fmt.Errorf("entry %d descriptor: %w", i, err)
		}
		vars = append(vars, LocalVariable{StartPC: startPC, Length: length, Name: name, Descriptor: desc, Index: index})
	}
	return vars, nil
}

func parseBootstrapMethods(data []byte) ([]BootstrapMethod, error) {
	r := newReader(data)
	numMethods := r.u2("num_bootstrap_methods")
	methods := make([]BootstrapMethod, 0, numMethods)
	for i := uint16(0); i < numMethods; i++ {
		methodRef := r.u2("bootstrap_method_ref")
		numArgs := r.u2("num_bootstrap_arguments")
		args := make([]uint16, 0, numArgs)
		for j := uint16(0); j < numArgs; j++ {
			args = append(args, r.u2("bootstrap argument"))
		}
		if r.err != nil {
			return nil, fmt.Errorf("bootstrap method %d: %w", i, r.err)
		}
		methods = append(methods, BootstrapMethod{MethodRef: methodRef, BootstrapArguments: args})
	}
	return methods, nil
}

// ClassName returns the fully qualified name of this class.
func (cf *ClassFile) ClassName() (string, error) {
	return GetClassName(cf.ConstantPool, cf.ThisClass)
}

// FindMethod finds a method by name and descriptor.
func (cf *ClassFile) FindMethod(name, descriptor string) *MethodInfo {
	for i := range cf.Methods {
		if cf.Methods[i].Name == name && cf.Methods[i].Descriptor == descriptor {
			return &cf.Methods[i]
		}
	}
	return nil
}

// FindMethodByName finds a method by name only (first match).
func (cf *ClassFile) FindMethodByName(name string) *MethodInfo {
	for i := range cf.Methods {
		if cf.Methods[i].Name == name {
			return &cf.Methods[i]
		}
	}
	return nil
}

// FindField finds a declared field by name.
func (cf *ClassFile) FindField(name string) *FieldInfo {
	for i := range cf.Fields {
		if cf.Fields[i].Name == name {
			return &cf.Fields[i]
		}
	}
	return nil
}
