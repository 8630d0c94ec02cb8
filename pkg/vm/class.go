package vm

import (
	"fmt"
	"strings"

	"github.com/daimatz/jtrace/pkg/classfile"
	"github.com/daimatz/jtrace/pkg/host"
)

type initState int

const (
	classLinked initState = iota
	classInitializing
	classInitialized
)

// Class is a loaded and linked bytecode class.
type Class struct {
	ID         host.ClassID
	Name       string
	File       *classfile.ClassFile
	Super      *Class
	SuperName  string
	Interfaces []string
	Methods    []*Method
	Fields     []*Field
	Statics    map[string]Value
	state      initState
}

// Signature returns the type signature, e.g. "Lcom/example/Foo;".
func (c *Class) Signature() string {
	return "L" + c.Name + ";"
}

// FindMethod finds a method declared by c itself.
func (c *Class) FindMethod(name, descriptor string) *Method {
	for _, m := range c.Methods {
		if m.Name == name && m.Descriptor == descriptor {
			return m
		}
	}
	return nil
}

// LookupMethod finds a method in c or its loaded superclasses.
func (c *Class) LookupMethod(name, descriptor string) *Method {
	for k := c; k != nil; k = k.Super {
		if m := k.FindMethod(name, descriptor); m != nil {
			return m
		}
	}
	return nil
}

// FindField finds a field declared by c itself.
func (c *Class) FindField(name string) *Field {
	for _, f := range c.Fields {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// LookupStaticField finds a static field in c or its loaded superclasses.
func (c *Class) LookupStaticField(name string) *Field {
	for k := c; k != nil; k = k.Super {
		if f := k.FindField(name); f != nil && f.IsStatic() {
			return f
		}
	}
	return nil
}

// LookupInstanceField resolves an instance field reference against c: the
// nearest declaration in c or its loaded superclasses.
func (c *Class) LookupInstanceField(name string) *Field {
	for k := c; k != nil; k = k.Super {
		if f := k.FindField(name); f != nil && !f.IsStatic() {
			return f
		}
	}
	return nil
}

// jdkSuper returns the name of the first superclass outside the loaded
// chain, "" if the chain ends at a loaded root.
func (c *Class) jdkSuper() string {
	k := c
	for k.Super != nil {
		k = k.Super
	}
	return k.SuperName
}

// Method is a method of a loaded class.
type Method struct {
	ID         host.MethodID
	Class      *Class
	Name       string
	Descriptor string
	Flags      uint16
	Code       *classfile.CodeAttribute
	Params     []string
	Return     string
}

func (m *Method) IsStatic() bool { return m.Flags&classfile.AccStatic != 0 }

func (m *Method) String() string {
	return m.Class.Name + "." + m.Name + m.Descriptor
}

// Field is a declared field of a loaded class.
type Field struct {
	ID         host.FieldID
	Class      *Class
	Name       string
	Descriptor string
	Flags      uint16
	constant   uint16
}

func (f *Field) IsStatic() bool { return f.Flags&classfile.AccStatic != 0 }

// parseMethodDescriptor splits "(IJLjava/lang/String;)V" into parameter
// descriptors and the return descriptor.
func parseMethodDescriptor(desc string) ([]string, string, error) {
	if !strings.HasPrefix(desc, "(") {
		return nil, "", fmt.Errorf("invalid method descriptor: %s", desc)
	}
	end := strings.IndexByte(desc, ')')
	if end == -1 || end == len(desc)-1 {
		return nil, "", fmt.Errorf("invalid method descriptor: %s", desc)
	}

	var params []string
	rest := desc[1:end]
	for rest != "" {
		n, err := fieldDescLen(rest)
		if err != nil {
			return nil, "", fmt.Errorf("%w in %s", err, desc)
		}
		params = append(params, rest[:n])
		rest = rest[n:]
	}
	return params, desc[end+1:], nil
}

// fieldDescLen returns the length of the field descriptor at the start of s.
func fieldDescLen(s string) (int, error) {
	i := 0
	for i < len(s) && s[i] == '[' {
		i++
	}
	if i == len(s) {
		return 0, fmt.Errorf("truncated array descriptor")
	}
	switch s[i] {
	case 'B', 'C', 'D', 'F', 'I', 'J', 'S', 'Z':
		return i + 1, nil
	case 'L':
		semi := strings.IndexByte(s[i:], ';')
		if semi == -1 {
			return 0, fmt.Errorf("unterminated class descriptor")
		}
		return i + semi + 1, nil
	default:
		return 0, fmt.Errorf("invalid type descriptor char '%c'", s[i])
	}
}

// countParams counts the number of parameters in a method descriptor.
func countParams(descriptor string) (int, error) {
	params, _, err := parseMethodDescriptor(descriptor)
	return len(params), err
}

// isVoidReturn checks if a method descriptor has void return type.
func isVoidReturn(descriptor string) bool {
	return strings.HasSuffix(descriptor, ")V")
}
