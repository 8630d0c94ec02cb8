package vm

import (
	"runtime"
	"sync"
	"weak"

	"github.com/daimatz/jtrace/pkg/host"
)

// Object is a heap reference: an instance or an array.
type Object interface {
	// ID is the identity number handed to the introspection host.
	ID() host.ObjectID
	// ClassName is the internal name (java/lang/String) or, for arrays,
	// the descriptor ([I).
	ClassName() string
}

// FieldKey names an instance field slot by its declaring class, so a
// subclass field that hides an inherited one gets a slot of its own.
type FieldKey struct {
	Class string
	Name  string
}

// JObject represents a JVM object instance. JDK objects implemented in Go
// carry their state in Native.
type JObject struct {
	id        host.ObjectID
	class     *Class
	className string
	Fields    map[FieldKey]Value
	Native    any
}

func (o *JObject) ID() host.ObjectID { return o.id }

func (o *JObject) ClassName() string { return o.className }

// Class returns the loaded class of a bytecode-defined object, nil for
// objects of JDK classes implemented natively.
func (o *JObject) Class() *Class { return o.class }

// JArray represents a JVM array.
type JArray struct {
	id       host.ObjectID
	Desc     string
	Elements []Value
}

func (a *JArray) ID() host.ObjectID { return a.id }

func (a *JArray) ClassName() string { return a.Desc }

// heap hands out identity numbers and resolves them back to live objects.
// Entries are weak: once the Go garbage collector reclaims an object its
// entry is removed, so identities of collected objects read as invalid.
type heap struct {
	mu      sync.Mutex
	next    host.ObjectID
	objects map[host.ObjectID]weak.Pointer[JObject]
	arrays  map[host.ObjectID]weak.Pointer[JArray]
}

func newHeap() *heap {
	return &heap{
		objects: make(map[host.ObjectID]weak.Pointer[JObject]),
		arrays:  make(map[host.ObjectID]weak.Pointer[JArray]),
	}
}

func (h *heap) nextID() host.ObjectID {
	h.next++
	return h.next
}

func (h *heap) forget(id host.ObjectID) {
	h.mu.Lock()
	delete(h.objects, id)
	delete(h.arrays, id)
	h.mu.Unlock()
}

func (h *heap) newObject(class *Class, className string, native any) *JObject {
	h.mu.Lock()
	defer h.mu.Unlock()
	obj := &JObject{id: h.nextID(), class: class, className: className, Fields: make(map[FieldKey]Value), Native: native}
	h.objects[obj.id] = weak.Make(obj)
	runtime.AddCleanup(obj, h.forget, obj.id)
	return obj
}

func (h *heap) newArray(desc string, elements []Value) *JArray {
	h.mu.Lock()
	defer h.mu.Unlock()
	arr := &JArray{id: h.nextID(), Desc: desc, Elements: elements}
	h.arrays[arr.id] = weak.Make(arr)
	runtime.AddCleanup(arr, h.forget, arr.id)
	return arr
}

// lookup resolves an identity to a live object.
func (h *heap) lookup(id host.ObjectID) (Object, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if wp, ok := h.objects[id]; ok {
		if obj := wp.Value(); obj != nil {
			return obj, true
		}
	}
	if wp, ok := h.arrays[id]; ok {
		if arr := wp.Value(); arr != nil {
			return arr, true
		}
	}
	return nil, false
}
