// Package host defines the contract between the tracing engine and the
// runtime that executes the monitored program.
//
// The runtime (the "introspection host") delivers method-entry and step
// events and answers typed reads of locals and fields. Identities handed out
// by the host are opaque numbers: the engine compares and caches them but
// never interprets them.
package host

// ThreadID identifies a thread of the monitored program.
type ThreadID uint64

// MethodID identifies a method. Stable for the lifetime of the process.
type MethodID uint64

// ClassID identifies a loaded class. Stable for the lifetime of the process.
type ClassID uint64

// FieldID identifies a declared field.
type FieldID uint64

// ObjectID is the identity of a heap object. NullObject is the null reference.
type ObjectID uint64

// NullObject is the ObjectID of the null reference.
const NullObject ObjectID = 0

// Location is an instruction offset inside a method's bytecode.
type Location int64

// LocalVariable is one entry of a method's local variable table.
type LocalVariable struct {
	Name      string
	Signature string
	Slot      int
	// Start and Length describe the bytecode range in which the variable
	// holds a value. Length < 0 means the range is unknown.
	Start  Location
	Length int64
}

// LiveAt reports whether the variable is in scope at loc.
func (v LocalVariable) LiveAt(loc Location) bool {
	if v.Length < 0 {
		return true
	}
	return loc >= v.Start && int64(loc) < int64(v.Start)+v.Length
}

// FieldInfo describes a declared field.
type FieldInfo struct {
	Name      string
	Signature string
	Static    bool
}

// EventKind selects a family of notifications.
type EventKind int

const (
	EventMethodEntry EventKind = iota + 1
	EventStep
)

func (k EventKind) String() string {
	switch k {
	case EventMethodEntry:
		return "method_entry"
	case EventStep:
		return "step"
	default:
		return "unknown"
	}
}

// Listener receives events from the host. Handlers run synchronously on the
// monitored thread and must return promptly.
type Listener interface {
	OnMethodEntry(thread ThreadID, method MethodID)
	OnStep(thread ThreadID, method MethodID, loc Location)
}

// Host is the set of introspection primitives the engine consumes.
//
// Frame depth 0 is the frame of the method that triggered the current event.
// Reads of a local slot that holds no live value fail with ErrInvalidSlot.
type Host interface {
	MethodDeclaringClass(method MethodID) (ClassID, error)
	ClassSignature(class ClassID) (string, error)
	MethodName(method MethodID) (string, error)
	LocalVariableTable(method MethodID) ([]LocalVariable, error)

	LocalInt(thread ThreadID, depth, slot int) (int32, error)
	LocalLong(thread ThreadID, depth, slot int) (int64, error)
	LocalFloat(thread ThreadID, depth, slot int) (float32, error)
	LocalDouble(thread ThreadID, depth, slot int) (float64, error)
	LocalObject(thread ThreadID, depth, slot int) (ObjectID, error)
	CurrentInstance(thread ThreadID, depth int) (ObjectID, error)

	ClassFields(class ClassID) ([]FieldID, error)
	Field(field FieldID) (FieldInfo, error)

	// Field readers take NullObject as instance for static fields.
	FieldInt(field FieldID, instance ObjectID) (int32, error)
	FieldLong(field FieldID, instance ObjectID) (int64, error)
	FieldFloat(field FieldID, instance ObjectID) (float32, error)
	FieldDouble(field FieldID, instance ObjectID) (float64, error)
	FieldObject(field FieldID, instance ObjectID) (ObjectID, error)

	FindStaticMethod(class ClassID, name, descriptor string) (MethodID, error)
	// InvokeStatic calls a static method. Arguments may be string, int32,
	// int64, float32, float64, bool or ObjectID.
	InvokeStatic(thread ThreadID, method MethodID, args ...any) error

	SetEventMode(kind EventKind, enabled bool) error
}
