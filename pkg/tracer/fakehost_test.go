package tracer

import (
	"fmt"
	"sync"

	"github.com/daimatz/jtrace/pkg/host"
)

const testThread host.ThreadID = 1

type fakeMethod struct {
	class  host.ClassID
	name   string
	locals []host.LocalVariable
	static bool
}

type fakeField struct {
	info     host.FieldInfo
	static   any
	instance map[host.ObjectID]any
}

type invocation struct {
	thread host.ThreadID
	method host.MethodID
	args   []any
}

// fakeHost answers host calls from tables. Values are int32, int64,
// float32, float64 or host.ObjectID.
type fakeHost struct {
	classes     map[host.ClassID]string
	methods     map[host.MethodID]fakeMethod
	fields      map[host.FieldID]*fakeField
	classFields map[host.ClassID][]host.FieldID
	statics     map[string]host.MethodID // "class/name/desc"

	locals map[int]any
	this   host.ObjectID

	mu        sync.Mutex
	fail      map[string]error
	calls     map[string]int
	events    map[host.EventKind]bool
	invoked   []invocation
	invokeErr error

	// hook runs at the start of every host call, outside the lock.
	hook func(op string)
}

func newFakeHost() *fakeHost {
	return &fakeHost{
		classes:     map[host.ClassID]string{},
		methods:     map[host.MethodID]fakeMethod{},
		fields:      map[host.FieldID]*fakeField{},
		classFields: map[host.ClassID][]host.FieldID{},
		statics:     map[string]host.MethodID{},
		locals:      map[int]any{},
		fail:        map[string]error{},
		calls:       map[string]int{},
		events:      map[host.EventKind]bool{},
	}
}

func (h *fakeHost) addClass(id host.ClassID, sig string) {
	h.classes[id] = sig
}

func (h *fakeHost) addMethod(id host.MethodID, class host.ClassID, name string, locals ...host.LocalVariable) {
	h.methods[id] = fakeMethod{class: class, name: name, locals: locals}
}

func (h *fakeHost) addStatic(id host.MethodID, class host.ClassID, name, desc string) {
	h.methods[id] = fakeMethod{class: class, name: name, static: true}
	h.statics[fmt.Sprintf("%d/%s/%s", class, name, desc)] = id
}

func (h *fakeHost) addField(id host.FieldID, class host.ClassID, name, sig string, static bool, value any) *fakeField {
	f := &fakeField{info: host.FieldInfo{Name: name, Signature: sig, Static: static}, instance: map[host.ObjectID]any{}}
	if static {
		f.static = value
	}
	h.fields[id] = f
	h.classFields[class] = append(h.classFields[class], id)
	return f
}

func (h *fakeHost) count(op string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls[op]
}

// call counts op and returns an injected failure.
func (h *fakeHost) call(op string) error {
	if h.hook != nil {
		h.hook(op)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls[op]++
	return h.fail[op]
}

func local(name, sig string, slot int) host.LocalVariable {
	return host.LocalVariable{Name: name, Signature: sig, Slot: slot, Length: -1}
}

func (h *fakeHost) MethodDeclaringClass(method host.MethodID) (host.ClassID, error) {
	const op = "MethodDeclaringClass"
	if err := h.call(op); err != nil {
		return 0, err
	}
	m, ok := h.methods[method]
	if !ok {
		return 0, host.NewError(op, host.CodeInvalidMethod, "method %d", method)
	}
	return m.class, nil
}

func (h *fakeHost) ClassSignature(class host.ClassID) (string, error) {
	const op = "ClassSignature"
	if err := h.call(op); err != nil {
		return "", err
	}
	sig, ok := h.classes[class]
	if !ok {
		return "", host.NewError(op, host.CodeInvalidClass, "class %d", class)
	}
	return sig, nil
}

func (h *fakeHost) MethodName(method host.MethodID) (string, error) {
	const op = "MethodName"
	if err := h.call(op); err != nil {
		return "", err
	}
	m, ok := h.methods[method]
	if !ok {
		return "", host.NewError(op, host.CodeInvalidMethod, "method %d", method)
	}
	return m.name, nil
}

func (h *fakeHost) LocalVariableTable(method host.MethodID) ([]host.LocalVariable, error) {
	const op = "LocalVariableTable"
	if err := h.call(op); err != nil {
		return nil, err
	}
	return h.methods[method].locals, nil
}

func readAs[T any](h *fakeHost, op string, v any, present bool) (T, error) {
	var zero T
	if err := h.call(op); err != nil {
		return zero, err
	}
	if !present {
		return zero, host.NewError(op, host.CodeInvalidSlot, "absent")
	}
	t, ok := v.(T)
	if !ok {
		return zero, host.NewError(op, host.CodeTypeMismatch, "holds %T", v)
	}
	return t, nil
}

func (h *fakeHost) localValue(depth, slot int) (any, bool) {
	if depth != 0 {
		return nil, false
	}
	v, ok := h.locals[slot]
	return v, ok
}

func (h *fakeHost) LocalInt(_ host.ThreadID, depth, slot int) (int32, error) {
	v, ok := h.localValue(depth, slot)
	return readAs[int32](h, "LocalInt", v, ok)
}

func (h *fakeHost) LocalLong(_ host.ThreadID, depth, slot int) (int64, error) {
	v, ok := h.localValue(depth, slot)
	return readAs[int64](h, "LocalLong", v, ok)
}

func (h *fakeHost) LocalFloat(_ host.ThreadID, depth, slot int) (float32, error) {
	v, ok := h.localValue(depth, slot)
	return readAs[float32](h, "LocalFloat", v, ok)
}

func (h *fakeHost) LocalDouble(_ host.ThreadID, depth, slot int) (float64, error) {
	v, ok := h.localValue(depth, slot)
	return readAs[float64](h, "LocalDouble", v, ok)
}

func (h *fakeHost) LocalObject(_ host.ThreadID, depth, slot int) (host.ObjectID, error) {
	v, ok := h.localValue(depth, slot)
	return readAs[host.ObjectID](h, "LocalObject", v, ok)
}

func (h *fakeHost) CurrentInstance(_ host.ThreadID, _ int) (host.ObjectID, error) {
	const op = "CurrentInstance"
	if err := h.call(op); err != nil {
		return host.NullObject, err
	}
	if h.this == host.NullObject {
		return host.NullObject, host.NewError(op, host.CodeInvalidSlot, "static")
	}
	return h.this, nil
}

func (h *fakeHost) ClassFields(class host.ClassID) ([]host.FieldID, error) {
	if err := h.call("ClassFields"); err != nil {
		return nil, err
	}
	return h.classFields[class], nil
}

func (h *fakeHost) Field(field host.FieldID) (host.FieldInfo, error) {
	const op = "Field"
	if err := h.call(op); err != nil {
		return host.FieldInfo{}, err
	}
	f, ok := h.fields[field]
	if !ok {
		return host.FieldInfo{}, host.NewError(op, host.CodeInvalidField, "field %d", field)
	}
	return f.info, nil
}

func (h *fakeHost) fieldValue(field host.FieldID, instance host.ObjectID) (any, bool) {
	f, ok := h.fields[field]
	if !ok {
		return nil, false
	}
	if f.info.Static {
		return f.static, f.static != nil
	}
	v, ok := f.instance[instance]
	return v, ok
}

func (h *fakeHost) FieldInt(field host.FieldID, instance host.ObjectID) (int32, error) {
	v, ok := h.fieldValue(field, instance)
	return readAs[int32](h, "FieldInt", v, ok)
}

func (h *fakeHost) FieldLong(field host.FieldID, instance host.ObjectID) (int64, error) {
	v, ok := h.fieldValue(field, instance)
	return readAs[int64](h, "FieldLong", v, ok)
}

func (h *fakeHost) FieldFloat(field host.FieldID, instance host.ObjectID) (float32, error) {
	v, ok := h.fieldValue(field, instance)
	return readAs[float32](h, "FieldFloat", v, ok)
}

func (h *fakeHost) FieldDouble(field host.FieldID, instance host.ObjectID) (float64, error) {
	v, ok := h.fieldValue(field, instance)
	return readAs[float64](h, "FieldDouble", v, ok)
}

func (h *fakeHost) FieldObject(field host.FieldID, instance host.ObjectID) (host.ObjectID, error) {
	v, ok := h.fieldValue(field, instance)
	return readAs[host.ObjectID](h, "FieldObject", v, ok)
}

func (h *fakeHost) FindStaticMethod(class host.ClassID, name, descriptor string) (host.MethodID, error) {
	const op = "FindStaticMethod"
	if err := h.call(op); err != nil {
		return 0, err
	}
	m, ok := h.statics[fmt.Sprintf("%d/%s/%s", class, name, descriptor)]
	if !ok {
		return 0, host.NewError(op, host.CodeNotFound, "%s%s", name, descriptor)
	}
	return m, nil
}

func (h *fakeHost) InvokeStatic(thread host.ThreadID, method host.MethodID, args ...any) error {
	if err := h.call("InvokeStatic"); err != nil {
		return err
	}
	if h.invokeErr != nil {
		return h.invokeErr
	}
	h.invoked = append(h.invoked, invocation{thread: thread, method: method, args: args})
	return nil
}

func (h *fakeHost) SetEventMode(kind host.EventKind, enabled bool) error {
	if err := h.call("SetEventMode"); err != nil {
		return err
	}
	h.events[kind] = enabled
	return nil
}

var _ host.Host = (*fakeHost)(nil)
