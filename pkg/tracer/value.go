// Package tracer is the snapshot engine: it listens to host events, records
// the visible state of traced methods at every step of a session, drops
// repeated snapshots and renders the session as a TOML document.
package tracer

import (
	"fmt"
	"math"

	"github.com/daimatz/jtrace/pkg/host"
)

// Tag is the primitive kind of a TypedValue.
type Tag int

const (
	TagReference Tag = iota
	TagInt
	TagLong
	TagShort
	TagByte
	TagChar
	TagBoolean
	TagFloat
	TagDouble
)

var tagNames = [...]string{
	TagReference: "reference",
	TagInt:       "int",
	TagLong:      "long",
	TagShort:     "short",
	TagByte:      "byte",
	TagChar:      "char",
	TagBoolean:   "boolean",
	TagFloat:     "float",
	TagDouble:    "double",
}

func (t Tag) String() string {
	if int(t) < len(tagNames) {
		return tagNames[t]
	}
	return fmt.Sprintf("Tag(%d)", int(t))
}

// TagOf maps a type signature to its tag. Anything that is not a single
// primitive descriptor is a reference.
func TagOf(signature string) Tag {
	if len(signature) != 1 {
		return TagReference
	}
	switch signature[0] {
	case 'I':
		return TagInt
	case 'J':
		return TagLong
	case 'S':
		return TagShort
	case 'B':
		return TagByte
	case 'C':
		return TagChar
	case 'Z':
		return TagBoolean
	case 'F':
		return TagFloat
	case 'D':
		return TagDouble
	}
	return TagReference
}

// Payload is the raw value of a TypedValue. The concrete type always
// matches TagOf of the value's signature.
type Payload interface {
	Tag() Tag
	// bits is the raw bit pattern used for equality.
	bits() uint64
}

type (
	Int       int32
	Long      int64
	Short     int16
	Byte      int8
	Char      uint16
	Boolean   bool
	Float     float32
	Double    float64
	Reference host.ObjectID
)

func (Int) Tag() Tag       { return TagInt }
func (Long) Tag() Tag      { return TagLong }
func (Short) Tag() Tag     { return TagShort }
func (Byte) Tag() Tag      { return TagByte }
func (Char) Tag() Tag      { return TagChar }
func (Boolean) Tag() Tag   { return TagBoolean }
func (Float) Tag() Tag     { return TagFloat }
func (Double) Tag() Tag    { return TagDouble }
func (Reference) Tag() Tag { return TagReference }

func (v Int) bits() uint64   { return uint64(uint32(v)) }
func (v Long) bits() uint64  { return uint64(v) }
func (v Short) bits() uint64 { return uint64(uint16(v)) }
func (v Byte) bits() uint64  { return uint64(uint8(v)) }
func (v Char) bits() uint64  { return uint64(v) }
func (v Boolean) bits() uint64 {
	if v {
		return 1
	}
	return 0
}
func (v Float) bits() uint64     { return uint64(math.Float32bits(float32(v))) }
func (v Double) bits() uint64    { return math.Float64bits(float64(v)) }
func (v Reference) bits() uint64 { return uint64(v) }

// TypedValue is one captured value with its declared type signature.
type TypedValue struct {
	Signature string
	Payload   Payload
}

// Tag returns the tag of the payload.
func (v TypedValue) Tag() Tag {
	if v.Payload == nil {
		return TagOf(v.Signature)
	}
	return v.Payload.Tag()
}

// ZeroValue is the placeholder recorded when a host read fails.
func ZeroValue(signature string) TypedValue {
	return TypedValue{Signature: signature, Payload: zeroPayload(TagOf(signature))}
}

func zeroPayload(tag Tag) Payload {
	switch tag {
	case TagInt:
		return Int(0)
	case TagLong:
		return Long(0)
	case TagShort:
		return Short(0)
	case TagByte:
		return Byte(0)
	case TagChar:
		return Char(0)
	case TagBoolean:
		return Boolean(false)
	case TagFloat:
		return Float(0)
	case TagDouble:
		return Double(0)
	}
	return Reference(host.NullObject)
}

// Bindings maps variable or field names to values.
type Bindings map[string]TypedValue

// StepSnapshot is the state captured at one step. It is not modified
// after it is appended to a Buffer.
type StepSnapshot struct {
	ClassName      string
	MethodName     string
	Locals         Bindings
	InstanceFields Bindings
	ClassFields    Bindings
}
