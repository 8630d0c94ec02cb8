package vm

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/daimatz/jtrace/pkg/native"
)

// nativeMethod implements a JDK method in Go. For instance methods args[0]
// is the receiver.
type nativeMethod func(vm *VM, t *Thread, args []Value) (Value, error)

// natives maps "class.name:descriptor" to its implementation.
var natives = map[string]nativeMethod{}

func init() {
	registerObject()
	registerPrintStream()
	registerString()
	registerStringBuilder()
	registerInteger()
	registerMath()
	registerHashMap()
	registerThrowable()
}

func register(class, name, descriptor string, fn nativeMethod) {
	natives[class+"."+name+":"+descriptor] = fn
}

// lookupNative finds the native implementation of name+descriptor on
// className or the nearest JDK superclass that has one.
func lookupNative(className, name, descriptor string) nativeMethod {
	suffix := "." + name + ":" + descriptor
	for k := className; k != ""; k = jdkParents[k] {
		if fn, ok := natives[k+suffix]; ok {
			return fn
		}
	}
	if fn, ok := natives["java/lang/Object"+suffix]; ok && !strings.HasPrefix(name, "<") {
		return fn
	}
	return nil
}

func void(vm *VM, t *Thread, args []Value) (Value, error) { return Value{}, nil }

func nativeOf[T any](v Value) (T, bool) {
	var zero T
	obj, ok := v.Ref.(*JObject)
	if !ok || obj == nil {
		return zero, false
	}
	n, ok := obj.Native.(T)
	return n, ok
}

func registerObject() {
	const obj = "java/lang/Object"
	register(obj, "<init>", "()V", void)
	register(obj, "hashCode", "()I", func(vm *VM, t *Thread, args []Value) (Value, error) {
		return IntValue(identityHash(args[0])), nil
	})
	register(obj, "equals", "(Ljava/lang/Object;)Z", func(vm *VM, t *Thread, args []Value) (Value, error) {
		return BoolValue(!args[1].IsNull() && args[0].Ref.ID() == args[1].Ref.ID()), nil
	})
	register(obj, "toString", "()Ljava/lang/String;", func(vm *VM, t *Thread, args []Value) (Value, error) {
		name := strings.ReplaceAll(args[0].Ref.ClassName(), "/", ".")
		s := fmt.Sprintf("%s@%x", name, uint32(identityHash(args[0])))
		return RefValue(vm.NewString(s)), nil
	})
	register("java/lang/System", "identityHashCode", "(Ljava/lang/Object;)I", func(vm *VM, t *Thread, args []Value) (Value, error) {
		if args[0].IsNull() {
			return IntValue(0), nil
		}
		return IntValue(identityHash(args[0])), nil
	})
}

func identityHash(v Value) int32 {
	return int32(v.Ref.ID())
}

func registerPrintStream() {
	const ps = "java/io/PrintStream"
	for _, desc := range []string{"I", "J", "F", "D", "Z", "C", "Ljava/lang/String;", "Ljava/lang/Object;"} {
		register(ps, "print", "("+desc+")V", printer(desc, false))
		register(ps, "println", "("+desc+")V", printer(desc, true))
	}
	register(ps, "println", "()V", func(vm *VM, t *Thread, args []Value) (Value, error) {
		if stream, ok := nativeOf[*native.PrintStream](args[0]); ok {
			stream.Println("")
		}
		return Value{}, nil
	})
	register(ps, "flush", "()V", void)
	register(ps, "checkError", "()Z", func(vm *VM, t *Thread, args []Value) (Value, error) {
		stream, _ := nativeOf[*native.PrintStream](args[0])
		return BoolValue(stream != nil && stream.CheckError()), nil
	})
}

func printer(desc string, newline bool) nativeMethod {
	return func(vm *VM, t *Thread, args []Value) (Value, error) {
		stream, ok := nativeOf[*native.PrintStream](args[0])
		if !ok {
			return Value{}, fmt.Errorf("receiver %s is not a PrintStream", args[0].Ref.ClassName())
		}
		s, err := vm.stringOf(t, args[1], desc)
		if err != nil {
			return Value{}, err
		}
		if newline {
			stream.Println(s)
		} else {
			stream.Print(s)
		}
		return Value{}, nil
	}
}

// stringOf converts v of type desc the way String.valueOf does, calling
// toString on objects.
func (vm *VM) stringOf(t *Thread, v Value, desc string) (string, error) {
	switch desc[0] {
	case 'Z':
		if v.Int != 0 {
			return "true", nil
		}
		return "false", nil
	case 'C':
		return native.CharString(uint16(v.Int)), nil
	case 'B', 'S', 'I':
		return strconv.FormatInt(int64(v.Int), 10), nil
	case 'J':
		return strconv.FormatInt(v.Long, 10), nil
	case 'F':
		return native.FormatFloat(v.Float), nil
	case 'D':
		return native.FormatDouble(v.Double), nil
	}
	if v.IsNull() {
		return "null", nil
	}
	if s, ok := goString(v); ok {
		return s, nil
	}
	ret, err := vm.callVirtual(t, v, "toString", "()Ljava/lang/String;", nil)
	if err != nil {
		return "", err
	}
	if s, ok := goString(ret); ok {
		return s, nil
	}
	return "null", nil
}

func registerString() {
	const str = "java/lang/String"
	register(str, "length", "()I", func(vm *VM, t *Thread, args []Value) (Value, error) {
		s, _ := goString(args[0])
		return IntValue(native.Length(s)), nil
	})
	register(str, "isEmpty", "()Z", func(vm *VM, t *Thread, args []Value) (Value, error) {
		s, _ := goString(args[0])
		return BoolValue(s == ""), nil
	})
	register(str, "charAt", "(I)C", func(vm *VM, t *Thread, args []Value) (Value, error) {
		s, _ := goString(args[0])
		c, ok := native.CharAt(s, args[1].Int)
		if !ok {
			return Value{}, vm.NewJavaException("java/lang/StringIndexOutOfBoundsException",
				fmt.Sprintf("index %d, length %d", args[1].Int, native.Length(s)))
		}
		return IntValue(int32(c)), nil
	})
	substring := func(vm *VM, s string, begin, end int32) (Value, error) {
		sub, ok := native.Substring(s, begin, end)
		if !ok {
			return Value{}, vm.NewJavaException("java/lang/StringIndexOutOfBoundsException",
				fmt.Sprintf("begin %d, end %d, length %d", begin, end, native.Length(s)))
		}
		return RefValue(vm.NewString(sub)), nil
	}
	register(str, "substring", "(I)Ljava/lang/String;", func(vm *VM, t *Thread, args []Value) (Value, error) {
		s, _ := goString(args[0])
		return substring(vm, s, args[1].Int, native.Length(s))
	})
	register(str, "substring", "(II)Ljava/lang/String;", func(vm *VM, t *Thread, args []Value) (Value, error) {
		s, _ := goString(args[0])
		return substring(vm, s, args[1].Int, args[2].Int)
	})
	register(str, "equals", "(Ljava/lang/Object;)Z", func(vm *VM, t *Thread, args []Value) (Value, error) {
		a, _ := goString(args[0])
		b, ok := goString(args[1])
		return BoolValue(ok && a == b), nil
	})
	register(str, "hashCode", "()I", func(vm *VM, t *Thread, args []Value) (Value, error) {
		s, _ := goString(args[0])
		return IntValue(native.StringHashCode(s)), nil
	})
	register(str, "toString", "()Ljava/lang/String;", func(vm *VM, t *Thread, args []Value) (Value, error) {
		return args[0], nil
	})
	register(str, "concat", "(Ljava/lang/String;)Ljava/lang/String;", func(vm *VM, t *Thread, args []Value) (Value, error) {
		a, _ := goString(args[0])
		b, ok := goString(args[1])
		if !ok {
			return Value{}, vm.NewJavaException("java/lang/NullPointerException")
		}
		return RefValue(vm.NewString(a + b)), nil
	})
	for _, desc := range []string{"I", "J", "F", "D", "Z", "C", "Ljava/lang/Object;"} {
		register(str, "valueOf", "("+desc+")Ljava/lang/String;", func(vm *VM, t *Thread, args []Value) (Value, error) {
			s, err := vm.stringOf(t, args[0], desc)
			if err != nil {
				return Value{}, err
			}
			return RefValue(vm.NewString(s)), nil
		})
	}
}

func registerStringBuilder() {
	const sbc = "java/lang/StringBuilder"
	builder := func(v Value) *native.StringBuilder {
		sb, _ := nativeOf[*native.StringBuilder](v)
		return sb
	}
	register(sbc, "<init>", "()V", void)
	register(sbc, "<init>", "(Ljava/lang/String;)V", func(vm *VM, t *Thread, args []Value) (Value, error) {
		s, ok := goString(args[1])
		if !ok {
			return Value{}, vm.NewJavaException("java/lang/NullPointerException")
		}
		builder(args[0]).Append(s)
		return Value{}, nil
	})
	for _, desc := range []string{"I", "J", "F", "D", "Z", "C", "Ljava/lang/String;", "Ljava/lang/Object;"} {
		register(sbc, "append", "("+desc+")Ljava/lang/StringBuilder;", func(vm *VM, t *Thread, args []Value) (Value, error) {
			s, err := vm.stringOf(t, args[1], desc)
			if err != nil {
				return Value{}, err
			}
			builder(args[0]).Append(s)
			return args[0], nil
		})
	}
	register(sbc, "length", "()I", func(vm *VM, t *Thread, args []Value) (Value, error) {
		return IntValue(builder(args[0]).Length()), nil
	})
	register(sbc, "toString", "()Ljava/lang/String;", func(vm *VM, t *Thread, args []Value) (Value, error) {
		return RefValue(vm.NewString(builder(args[0]).String())), nil
	})
}

func registerInteger() {
	const integer = "java/lang/Integer"
	unbox := func(v Value) int32 {
		in, _ := nativeOf[*native.Integer](v)
		if in == nil {
			return 0
		}
		return in.Value
	}
	register(integer, "valueOf", "(I)Ljava/lang/Integer;", func(vm *VM, t *Thread, args []Value) (Value, error) {
		return RefValue(vm.boxInteger(args[0].Int)), nil
	})
	register(integer, "intValue", "()I", func(vm *VM, t *Thread, args []Value) (Value, error) {
		return IntValue(unbox(args[0])), nil
	})
	register(integer, "hashCode", "()I", func(vm *VM, t *Thread, args []Value) (Value, error) {
		return IntValue(unbox(args[0])), nil
	})
	register(integer, "equals", "(Ljava/lang/Object;)Z", func(vm *VM, t *Thread, args []Value) (Value, error) {
		other, ok := nativeOf[*native.Integer](args[1])
		return BoolValue(ok && other.Value == unbox(args[0])), nil
	})
	register(integer, "toString", "()Ljava/lang/String;", func(vm *VM, t *Thread, args []Value) (Value, error) {
		return RefValue(vm.NewString(strconv.Itoa(int(unbox(args[0]))))), nil
	})
	register(integer, "toString", "(I)Ljava/lang/String;", func(vm *VM, t *Thread, args []Value) (Value, error) {
		return RefValue(vm.NewString(strconv.Itoa(int(args[0].Int)))), nil
	})
	register(integer, "parseInt", "(Ljava/lang/String;)I", func(vm *VM, t *Thread, args []Value) (Value, error) {
		s, ok := goString(args[0])
		if !ok {
			return Value{}, vm.NewJavaException("java/lang/NumberFormatException", "Cannot parse null string: null")
		}
		v, err := native.ParseInt(s)
		if errors.Is(err, native.ErrNumberFormat) {
			return Value{}, vm.NewJavaException("java/lang/NumberFormatException",
				fmt.Sprintf("For input string: \"%s\"", s))
		}
		return IntValue(v), nil
	})
}

func registerMath() {
	const m = "java/lang/Math"
	register(m, "abs", "(I)I", func(vm *VM, t *Thread, args []Value) (Value, error) {
		if v := args[0].Int; v < 0 {
			return IntValue(-v), nil
		}
		return args[0], nil
	})
	register(m, "abs", "(J)J", func(vm *VM, t *Thread, args []Value) (Value, error) {
		if v := args[0].Long; v < 0 {
			return LongValue(-v), nil
		}
		return args[0], nil
	})
	register(m, "abs", "(D)D", func(vm *VM, t *Thread, args []Value) (Value, error) {
		return DoubleValue(math.Abs(args[0].Double)), nil
	})
	register(m, "max", "(II)I", func(vm *VM, t *Thread, args []Value) (Value, error) {
		return IntValue(max(args[0].Int, args[1].Int)), nil
	})
	register(m, "min", "(II)I", func(vm *VM, t *Thread, args []Value) (Value, error) {
		return IntValue(min(args[0].Int, args[1].Int)), nil
	})
	register(m, "max", "(JJ)J", func(vm *VM, t *Thread, args []Value) (Value, error) {
		return LongValue(max(args[0].Long, args[1].Long)), nil
	})
	register(m, "min", "(JJ)J", func(vm *VM, t *Thread, args []Value) (Value, error) {
		return LongValue(min(args[0].Long, args[1].Long)), nil
	})
	register(m, "max", "(DD)D", func(vm *VM, t *Thread, args []Value) (Value, error) {
		return DoubleValue(math.Max(args[0].Double, args[1].Double)), nil
	})
	register(m, "min", "(DD)D", func(vm *VM, t *Thread, args []Value) (Value, error) {
		return DoubleValue(math.Min(args[0].Double, args[1].Double)), nil
	})
	register(m, "sqrt", "(D)D", func(vm *VM, t *Thread, args []Value) (Value, error) {
		return DoubleValue(math.Sqrt(args[0].Double)), nil
	})
	register(m, "pow", "(DD)D", func(vm *VM, t *Thread, args []Value) (Value, error) {
		return DoubleValue(math.Pow(args[0].Double, args[1].Double)), nil
	})
}

// mapKey normalizes a HashMap key so that Go equality matches equals for
// the JDK types the VM implements natively.
func mapKey(v Value) any {
	if v.IsNull() {
		return nil
	}
	if s, ok := goString(v); ok {
		return s
	}
	if in, ok := nativeOf[*native.Integer](v); ok {
		return in.Value
	}
	return v.Ref.ID()
}

func mapValue(v any) Value {
	if val, ok := v.(Value); ok {
		return val
	}
	return NullValue()
}

func registerHashMap() {
	const hm = "java/util/HashMap"
	table := func(vm *VM, v Value) (*native.HashMap, error) {
		m, ok := nativeOf[*native.HashMap](v)
		if !ok {
			return nil, fmt.Errorf("receiver %s is not a HashMap", v.Ref.ClassName())
		}
		return m, nil
	}
	register(hm, "<init>", "()V", void)
	register(hm, "put", "(Ljava/lang/Object;Ljava/lang/Object;)Ljava/lang/Object;", func(vm *VM, t *Thread, args []Value) (Value, error) {
		m, err := table(vm, args[0])
		if err != nil {
			return Value{}, err
		}
		return mapValue(m.Put(mapKey(args[1]), args[2])), nil
	})
	register(hm, "get", "(Ljava/lang/Object;)Ljava/lang/Object;", func(vm *VM, t *Thread, args []Value) (Value, error) {
		m, err := table(vm, args[0])
		if err != nil {
			return Value{}, err
		}
		return mapValue(m.Get(mapKey(args[1]))), nil
	})
	register(hm, "containsKey", "(Ljava/lang/Object;)Z", func(vm *VM, t *Thread, args []Value) (Value, error) {
		m, err := table(vm, args[0])
		if err != nil {
			return Value{}, err
		}
		return BoolValue(m.ContainsKey(mapKey(args[1]))), nil
	})
	register(hm, "remove", "(Ljava/lang/Object;)Ljava/lang/Object;", func(vm *VM, t *Thread, args []Value) (Value, error) {
		m, err := table(vm, args[0])
		if err != nil {
			return Value{}, err
		}
		return mapValue(m.Remove(mapKey(args[1]))), nil
	})
	register(hm, "size", "()I", func(vm *VM, t *Thread, args []Value) (Value, error) {
		m, err := table(vm, args[0])
		if err != nil {
			return Value{}, err
		}
		return IntValue(m.Size()), nil
	})
}

func registerThrowable() {
	const th = "java/lang/Throwable"
	state := func(v Value) *throwableState {
		st, ok := nativeOf[*throwableState](v)
		if !ok {
			st = &throwableState{}
			if obj, isObj := v.Ref.(*JObject); isObj {
				obj.Native = st
			}
		}
		return st
	}
	register(th, "<init>", "()V", void)
	register(th, "<init>", "(Ljava/lang/String;)V", func(vm *VM, t *Thread, args []Value) (Value, error) {
		st := state(args[0])
		if s, ok := goString(args[1]); ok {
			st.message, st.hasMessage = s, true
		}
		return Value{}, nil
	})
	register(th, "getMessage", "()Ljava/lang/String;", func(vm *VM, t *Thread, args []Value) (Value, error) {
		st := state(args[0])
		if !st.hasMessage {
			return NullValue(), nil
		}
		return RefValue(vm.NewString(st.message)), nil
	})
	register(th, "toString", "()Ljava/lang/String;", func(vm *VM, t *Thread, args []Value) (Value, error) {
		return RefValue(vm.NewString(throwableString(args[0]))), nil
	})
	register(th, "printStackTrace", "()V", func(vm *VM, t *Thread, args []Value) (Value, error) {
		fmt.Fprintln(vm.Stderr, throwableString(args[0]))
		return Value{}, nil
	})
}

func throwableString(v Value) string {
	name := strings.ReplaceAll(v.Ref.ClassName(), "/", ".")
	if obj, ok := v.Ref.(*JObject); ok {
		if msg, ok := throwableMessage(obj); ok {
			return name + ": " + msg
		}
	}
	return name
}
