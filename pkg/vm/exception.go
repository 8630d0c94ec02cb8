package vm

import (
	"fmt"
	"strings"

	"github.com/daimatz/jtrace/pkg/classfile"
)

// JavaException represents a JVM exception being thrown.
type JavaException struct {
	Object *JObject
}

func (e *JavaException) Error() string {
	name := strings.ReplaceAll(e.Object.ClassName(), "/", ".")
	if msg, ok := throwableMessage(e.Object); ok {
		return fmt.Sprintf("JavaException: %s: %s", name, msg)
	}
	return fmt.Sprintf("JavaException: %s", name)
}

// throwableState is the native payload of every Throwable.
type throwableState struct {
	message    string
	hasMessage bool
}

func throwableMessage(obj *JObject) (string, bool) {
	st, ok := obj.Native.(*throwableState)
	if !ok || !st.hasMessage {
		return "", false
	}
	return st.message, true
}

// NewJavaException creates an exception of a JDK class with an optional message.
func (vm *VM) NewJavaException(className string, msg ...string) *JavaException {
	st := &throwableState{}
	if len(msg) > 0 {
		st.message, st.hasMessage = msg[0], true
	}
	return &JavaException{Object: vm.heap.newObject(nil, className, st)}
}

// jdkParents is the superclass of each JDK class the VM knows natively.
var jdkParents = map[string]string{
	"java/lang/Throwable":                       "java/lang/Object",
	"java/lang/Exception":                       "java/lang/Throwable",
	"java/lang/Error":                           "java/lang/Throwable",
	"java/lang/RuntimeException":                "java/lang/Exception",
	"java/lang/ArithmeticException":             "java/lang/RuntimeException",
	"java/lang/NullPointerException":            "java/lang/RuntimeException",
	"java/lang/ClassCastException":              "java/lang/RuntimeException",
	"java/lang/IllegalArgumentException":        "java/lang/RuntimeException",
	"java/lang/IllegalStateException":           "java/lang/RuntimeException",
	"java/lang/NumberFormatException":           "java/lang/IllegalArgumentException",
	"java/lang/IndexOutOfBoundsException":       "java/lang/RuntimeException",
	"java/lang/ArrayIndexOutOfBoundsException":  "java/lang/IndexOutOfBoundsException",
	"java/lang/StringIndexOutOfBoundsException": "java/lang/IndexOutOfBoundsException",
	"java/lang/NegativeArraySizeException":      "java/lang/RuntimeException",
	"java/lang/ArrayStoreException":             "java/lang/RuntimeException",
	"java/lang/UnsupportedOperationException":   "java/lang/RuntimeException",
	"java/lang/StackOverflowError":              "java/lang/Error",
	"java/lang/String":                          "java/lang/Object",
	"java/lang/StringBuilder":                   "java/lang/Object",
	"java/lang/Number":                          "java/lang/Object",
	"java/lang/Integer":                         "java/lang/Number",
	"java/lang/Math":                            "java/lang/Object",
	"java/lang/System":                          "java/lang/Object",
	"java/io/PrintStream":                       "java/lang/Object",
	"java/util/AbstractMap":                     "java/lang/Object",
	"java/util/HashMap":                         "java/util/AbstractMap",
}

// jdkInterfaces lists the interfaces a native JDK class implements.
var jdkInterfaces = map[string][]string{
	"java/lang/String":        {"java/lang/CharSequence", "java/lang/Comparable", "java/io/Serializable"},
	"java/lang/StringBuilder": {"java/lang/CharSequence"},
	"java/lang/Integer":       {"java/lang/Comparable"},
	"java/lang/Throwable":     {"java/io/Serializable"},
	"java/util/HashMap":       {"java/util/Map"},
}

func isThrowableClass(name string) bool {
	for k := name; k != ""; k = jdkParents[k] {
		if k == "java/lang/Throwable" {
			return true
		}
	}
	return false
}

// superChain lists the class names of obj from its own class up to
// java/lang/Object, together with every directly implemented interface.
func superChain(obj Object) []string {
	var names []string
	name := obj.ClassName()
	if jo, ok := obj.(*JObject); ok && jo.class != nil {
		for k := jo.class; k != nil; k = k.Super {
			names = append(names, k.Name)
			names = append(names, k.Interfaces...)
		}
		name = jo.class.jdkSuper()
	}
	for ; name != ""; name = jdkParents[name] {
		names = append(names, name)
		names = append(names, jdkInterfaces[name]...)
	}
	return names
}

// isInstanceOf implements the instanceof/checkcast and catch clause test.
func (vm *VM) isInstanceOf(obj Object, target string) bool {
	if target == "java/lang/Object" {
		return true
	}
	if arr, ok := obj.(*JArray); ok {
		return arr.Desc == target || target == "java/lang/Cloneable" || target == "java/io/Serializable"
	}
	for _, name := range superChain(obj) {
		if name == target {
			return true
		}
		// Interfaces extended by loaded interfaces.
		if c := vm.classes[name]; c != nil && c.File.AccessFlags&classfile.AccInterface != 0 {
			if vm.interfaceExtends(c, target) {
				return true
			}
		}
	}
	return false
}

func (vm *VM) interfaceExtends(iface *Class, target string) bool {
	for _, name := range iface.Interfaces {
		if name == target {
			return true
		}
		if c := vm.classes[name]; c != nil && vm.interfaceExtends(c, target) {
			return true
		}
	}
	return false
}
