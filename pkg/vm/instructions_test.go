package vm

import (
	"errors"
	"io"
	"math"
	"testing"

	"github.com/daimatz/jtrace/pkg/classfile"
)

// execute runs the bytecodes in a fresh frame until a return instruction.
// Optional locals are set as int32 values starting at index 0.
func execute(t *testing.T, code []byte, locals ...int32) (Value, error) {
	t.Helper()

	maxLocals := uint16(len(locals))
	if maxLocals < 4 {
		maxLocals = 4
	}

	frame := NewFrame(maxLocals, 10, code, nil)
	for i, val := range locals {
		frame.SetLocal(i, IntValue(val))
	}

	v := NewVM(NewMemoryClassLoader())
	v.Stdout = io.Discard

	for frame.PC < len(frame.Code) {
		opcode := frame.Code[frame.PC]
		frame.PC++
		retVal, hasReturn, err := v.executeInstruction(frame, opcode)
		if err != nil {
			return Value{}, err
		}
		if hasReturn {
			return retVal, nil
		}
	}

	t.Fatal("bytecode did not return a value (missing ireturn?)")
	return Value{}, nil
}

// executeAndGetInt is execute for code that must end with ireturn (0xAC).
func executeAndGetInt(t *testing.T, code []byte, locals ...int32) int32 {
	t.Helper()
	v, err := execute(t, code, locals...)
	if err != nil {
		t.Fatalf("execution error: %v", err)
	}
	return v.Int
}

// exceptionClass returns the class of the Java exception carried by err.
func exceptionClass(err error) string {
	var jex *JavaException
	if !errors.As(err, &jex) {
		return ""
	}
	return jex.Object.ClassName()
}

func TestIconst(t *testing.T) {
	tests := []struct {
		name   string
		opcode byte
		want   int32
	}{
		{"iconst_m1", 0x02, -1},
		{"iconst_0", 0x03, 0},
		{"iconst_1", 0x04, 1},
		{"iconst_2", 0x05, 2},
		{"iconst_3", 0x06, 3},
		{"iconst_4", 0x07, 4},
		{"iconst_5", 0x08, 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code := []byte{tt.opcode, 0xAC} // iconst_N, ireturn
			got := executeAndGetInt(t, code)
			if got != tt.want {
				t.Errorf("%s: got %d, want %d", tt.name, got, tt.want)
			}
		})
	}
}

func TestBipushSipush(t *testing.T) {
	tests := []struct {
		name string
		code []byte
		want int32
	}{
		{"bipush positive", []byte{0x10, 42, 0xAC}, 42},
		{"bipush negative", []byte{0x10, 0xFB, 0xAC}, -5},
		{"bipush min_byte", []byte{0x10, 0x80, 0xAC}, -128},
		{"sipush 1000", []byte{0x11, 0x03, 0xE8, 0xAC}, 1000},
		{"sipush -1000", []byte{0x11, 0xFC, 0x18, 0xAC}, -1000},
		{"sipush max_short", []byte{0x11, 0x7F, 0xFF, 0xAC}, 32767},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := executeAndGetInt(t, tt.code)
			if got != tt.want {
				t.Errorf("%s: got %d, want %d", tt.name, got, tt.want)
			}
		})
	}
}

func TestArithmeticInstructions(t *testing.T) {
	tests := []struct {
		name string
		code []byte
		want int32
	}{
		{
			name: "iadd: 3+4=7",
			code: []byte{0x06, 0x07, 0x60, 0xAC}, // iconst_3, iconst_4, iadd, ireturn
			want: 7,
		},
		{
			name: "isub: 5-3=2",
			code: []byte{0x08, 0x06, 0x64, 0xAC}, // iconst_5, iconst_3, isub, ireturn
			want: 2,
		},
		{
			name: "imul: 3*4=12",
			code: []byte{0x06, 0x07, 0x68, 0xAC}, // iconst_3, iconst_4, imul, ireturn
			want: 12,
		},
		{
			name: "idiv: 5/2=2",
			code: []byte{0x08, 0x05, 0x6C, 0xAC}, // iconst_5, iconst_2, idiv, ireturn
			want: 2,
		},
		{
			name: "idiv truncates toward zero: -5/2=-2",
			code: []byte{0x10, 0xFB, 0x05, 0x6C, 0xAC}, // bipush -5, iconst_2, idiv, ireturn
			want: -2,
		},
		{
			name: "irem: 5%3=2",
			code: []byte{0x08, 0x06, 0x70, 0xAC}, // iconst_5, iconst_3, irem, ireturn
			want: 2,
		},
		{
			name: "ineg: -(5)=-5",
			code: []byte{0x08, 0x74, 0xAC}, // iconst_5, ineg, ireturn
			want: -5,
		},
		{
			name: "ishl: 1<<4=16",
			code: []byte{0x04, 0x07, 0x78, 0xAC}, // iconst_1, iconst_4, ishl, ireturn
			want: 16,
		},
		{
			name: "iushr: -1>>>28=15",
			code: []byte{0x02, 0x10, 28, 0x7C, 0xAC}, // iconst_m1, bipush 28, iushr, ireturn
			want: 15,
		},
		{
			name: "ixor: 5^3=6",
			code: []byte{0x08, 0x06, 0x82, 0xAC}, // iconst_5, iconst_3, ixor, ireturn
			want: 6,
		},
		{
			name: "compound: (2+3)*4=20",
			code: []byte{0x05, 0x06, 0x60, 0x07, 0x68, 0xAC}, // iconst_2, iconst_3, iadd, iconst_4, imul, ireturn
			want: 20,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := executeAndGetInt(t, tt.code)
			if got != tt.want {
				t.Errorf("%s: got %d, want %d", tt.name, got, tt.want)
			}
		})
	}
}

func TestLongFloatDouble(t *testing.T) {
	tests := []struct {
		name string
		code []byte
		want int32
	}{
		{
			name: "ladd then l2i",
			code: []byte{0x0A, 0x0A, 0x61, 0x88, 0xAC}, // lconst_1, lconst_1, ladd, l2i, ireturn
			want: 2,
		},
		{
			name: "lcmp less",
			code: []byte{0x09, 0x0A, 0x94, 0xAC}, // lconst_0, lconst_1, lcmp, ireturn
			want: -1,
		},
		{
			name: "fmul then f2i",
			code: []byte{0x0D, 0x0D, 0x6A, 0x8B, 0xAC}, // fconst_2, fconst_2, fmul, f2i, ireturn
			want: 4,
		},
		{
			name: "fcmpl with NaN is -1",
			code: []byte{0x0B, 0x0B, 0x6E, 0x0B, 0x95, 0xAC}, // fconst_0, fconst_0, fdiv (NaN), fconst_0, fcmpl, ireturn
			want: -1,
		},
		{
			name: "fcmpg with NaN is 1",
			code: []byte{0x0B, 0x0B, 0x6E, 0x0B, 0x96, 0xAC}, // fconst_0, fconst_0, fdiv (NaN), fconst_0, fcmpg, ireturn
			want: 1,
		},
		{
			name: "d2i of NaN is 0",
			code: []byte{0x0E, 0x0E, 0x6F, 0x8E, 0xAC}, // dconst_0, dconst_0, ddiv, d2i, ireturn
			want: 0,
		},
		{
			name: "d2i saturates",
			code: []byte{0x0F, 0x0E, 0x6F, 0x8E, 0xAC}, // dconst_1, dconst_0, ddiv (+Inf), d2i, ireturn
			want: math.MaxInt32,
		},
		{
			name: "i2b sign extends",
			code: []byte{0x11, 0x00, 0xFF, 0x91, 0xAC}, // sipush 255, i2b, ireturn
			want: -1,
		},
		{
			name: "i2c zero extends",
			code: []byte{0x02, 0x92, 0xAC}, // iconst_m1, i2c, ireturn
			want: 0xFFFF,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := executeAndGetInt(t, tt.code)
			if got != tt.want {
				t.Errorf("%s: got %d, want %d", tt.name, got, tt.want)
			}
		})
	}
}

func TestBranch(t *testing.T) {
	// Byte 0: iload_0     (0x1A)
	// Byte 1: ifeq        (0x99) branchPC=1, offset=5, target=6
	// Byte 4: iconst_1    (0x04)  -- not taken path
	// Byte 5: ireturn     (0xAC)
	// Byte 6: iconst_2    (0x05)  -- taken path
	// Byte 7: ireturn     (0xAC)
	ifeq := []byte{0x1A, 0x99, 0x00, 0x05, 0x04, 0xAC, 0x05, 0xAC}

	t.Run("ifeq taken", func(t *testing.T) {
		if got := executeAndGetInt(t, ifeq, 0); got != 2 {
			t.Errorf("ifeq(0): got %d, want 2", got)
		}
	})
	t.Run("ifeq not taken", func(t *testing.T) {
		if got := executeAndGetInt(t, ifeq, 7); got != 1 {
			t.Errorf("ifeq(7): got %d, want 1", got)
		}
	})

	tests := []struct {
		name string
		op   byte
		a, b int32
		want int32
	}{
		{"if_icmplt taken", OpIfIcmplt, 1, 2, 2},
		{"if_icmplt not taken", OpIfIcmplt, 2, 1, 1},
		{"if_icmpge equal", OpIfIcmpge, 3, 3, 2},
		{"if_icmpne", OpIfIcmpne, 3, 4, 2},
		{"if_icmpeq", OpIfIcmpeq, 3, 4, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code := classfile.NewAsm().
				Op(OpIload0).Op(OpIload1).
				Branch(tt.op, "taken").
				Op(OpIconst1).Op(OpIreturn).
				Label("taken").
				Op(OpIconst2).Op(OpIreturn).
				MustBytes()
			if got := executeAndGetInt(t, code, tt.a, tt.b); got != tt.want {
				t.Errorf("%s(%d, %d): got %d, want %d", tt.name, tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestLoop(t *testing.T) {
	// sum = 0; for i = 1; i <= n; i++ { sum += i }; return sum
	code := classfile.NewAsm().
		Op(OpIconst0).Op(OpIstore1).
		Op(OpIconst1).Op(OpIstore2).
		Label("cond").
		Op(OpIload2).Op(OpIload0).
		Branch(OpIfIcmpgt, "done").
		Op(OpIload1).Op(OpIload2).Op(OpIadd).Op(OpIstore1).
		Op(OpIinc, 2, 1).
		Branch(OpGoto, "cond").
		Label("done").
		Op(OpIload1).Op(OpIreturn).
		MustBytes()

	if got := executeAndGetInt(t, code, 10); got != 55 {
		t.Errorf("sum(1..10): got %d, want 55", got)
	}
}

func TestSwitch(t *testing.T) {
	table := classfile.NewAsm().
		Op(OpIload0).
		TableSwitch(OpTableswitch, 1, "default", "one", "two").
		Label("one").Op(OpBipush, 10).Op(OpIreturn).
		Label("two").Op(OpBipush, 20).Op(OpIreturn).
		Label("default").Op(OpIconstM1).Op(OpIreturn).
		MustBytes()

	lookup := classfile.NewAsm().
		Op(OpIload0).
		LookupSwitch(OpLookupswitch, "default", []int32{-100, 7, 1000}, []string{"a", "b", "c"}).
		Label("a").Op(OpIconst1).Op(OpIreturn).
		Label("b").Op(OpIconst2).Op(OpIreturn).
		Label("c").Op(OpIconst3).Op(OpIreturn).
		Label("default").Op(OpIconst0).Op(OpIreturn).
		MustBytes()

	tests := []struct {
		name string
		code []byte
		in   int32
		want int32
	}{
		{"tableswitch low", table, 1, 10},
		{"tableswitch high", table, 2, 20},
		{"tableswitch below", table, 0, -1},
		{"tableswitch above", table, 3, -1},
		{"lookupswitch negative key", lookup, -100, 1},
		{"lookupswitch middle", lookup, 7, 2},
		{"lookupswitch last", lookup, 1000, 3},
		{"lookupswitch default", lookup, 8, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := executeAndGetInt(t, tt.code, tt.in); got != tt.want {
				t.Errorf("switch(%d): got %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func TestStackOps(t *testing.T) {
	tests := []struct {
		name string
		code []byte
		want int32
	}{
		{"dup", []byte{0x08, 0x59, 0x60, 0xAC}, 10},               // iconst_5, dup, iadd, ireturn
		{"swap", []byte{0x08, 0x05, 0x5F, 0x64, 0xAC}, -3},        // iconst_5, iconst_2, swap, isub, ireturn
		{"pop", []byte{0x08, 0x05, 0x57, 0xAC}, 5},                // iconst_5, iconst_2, pop, ireturn
		{"dup_x1", []byte{0x04, 0x05, 0x5A, 0x60, 0x60, 0xAC}, 5}, // 1, 2, dup_x1 -> 2 1 2, iadd, iadd
		{"pop2 two ints", []byte{0x08, 0x04, 0x05, 0x58, 0xAC}, 5},
		{"pop2 one long", []byte{0x08, 0x0A, 0x58, 0xAC}, 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := executeAndGetInt(t, tt.code); got != tt.want {
				t.Errorf("%s: got %d, want %d", tt.name, got, tt.want)
			}
		})
	}
}

func TestIinc(t *testing.T) {
	tests := []struct {
		name string
		code []byte
		want int32
	}{
		{"iinc +1", []byte{0x84, 0x00, 0x01, 0x1A, 0xAC}, 11},
		{"iinc -3", []byte{0x84, 0x00, 0xFD, 0x1A, 0xAC}, 7},
		{"wide iinc +1000", []byte{0xC4, 0x84, 0x00, 0x00, 0x03, 0xE8, 0x1A, 0xAC}, 1010},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := executeAndGetInt(t, tt.code, 10); got != tt.want {
				t.Errorf("%s: got %d, want %d", tt.name, got, tt.want)
			}
		})
	}
}

func TestDivisionByZero(t *testing.T) {
	tests := []struct {
		name string
		code []byte
	}{
		{"idiv", []byte{0x08, 0x03, 0x6C, 0xAC}},
		{"irem", []byte{0x08, 0x03, 0x70, 0xAC}},
		{"ldiv", []byte{0x0A, 0x09, 0x6D, 0x88, 0xAC}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.code)
			if got := exceptionClass(err); got != "java/lang/ArithmeticException" {
				t.Fatalf("%s by zero: got error %v, want ArithmeticException", tt.name, err)
			}
			if want := "JavaException: java.lang.ArithmeticException: / by zero"; err.Error() != want {
				t.Errorf("message: got %q, want %q", err.Error(), want)
			}
		})
	}

	t.Run("fdiv yields infinity", func(t *testing.T) {
		v, err := execute(t, []byte{0x0C, 0x0B, 0x6E, 0xAE}) // fconst_1, fconst_0, fdiv, freturn
		if err != nil {
			t.Fatalf("fdiv: %v", err)
		}
		if !math.IsInf(float64(v.Float), 1) {
			t.Errorf("1f/0f: got %v, want +Inf", v.Float)
		}
	})
}

func TestOverflow(t *testing.T) {
	// MIN_VALUE / -1 and MIN_VALUE * -1 wrap to MIN_VALUE.
	minValue := int32(math.MinInt32)
	if got := executeAndGetInt(t, []byte{0x1A, 0x02, 0x6C, 0xAC}, minValue); got != minValue {
		t.Errorf("MIN/-1: got %d, want %d", got, minValue)
	}
	if got := executeAndGetInt(t, []byte{0x1A, 0x02, 0x68, 0xAC}, minValue); got != minValue {
		t.Errorf("MIN*-1: got %d, want %d", got, minValue)
	}
	if got := executeAndGetInt(t, []byte{0x1A, 0x02, 0x70, 0xAC}, minValue); got != 0 {
		t.Errorf("MIN%%-1: got %d, want 0", got)
	}
}

func TestArrays(t *testing.T) {
	t.Run("iastore then iaload", func(t *testing.T) {
		code := []byte{
			0x06,       // iconst_3
			0xBC, 0x0A, // newarray int
			0x4C,       // astore_1
			0x2B,       // aload_1
			0x05,       // iconst_2
			0x10, 0x2A, // bipush 42
			0x4F, // iastore
			0x2B, // aload_1
			0x05, // iconst_2
			0x2E, // iaload
			0x2B, // aload_1
			0xBE, // arraylength
			0x60, // iadd
			0xAC, // ireturn
		}
		if got := executeAndGetInt(t, code); got != 45 {
			t.Errorf("arr[2] + arr.length: got %d, want 45", got)
		}
	})

	t.Run("bastore truncates", func(t *testing.T) {
		code := []byte{
			0x04, 0xBC, 0x08, 0x4C, // iconst_1, newarray byte, astore_1
			0x2B, 0x03, 0x11, 0x01, 0x80, 0x54, // aload_1, iconst_0, sipush 384, bastore
			0x2B, 0x03, 0x33, 0xAC, // aload_1, iconst_0, baload, ireturn
		}
		if got := executeAndGetInt(t, code); got != -128 {
			t.Errorf("(byte)384: got %d, want -128", got)
		}
	})

	t.Run("index out of bounds", func(t *testing.T) {
		code := []byte{0x06, 0xBC, 0x0A, 0x06, 0x2E, 0xAC} // iconst_3, newarray int, iconst_3, iaload
		_, err := execute(t, code)
		if got := exceptionClass(err); got != "java/lang/ArrayIndexOutOfBoundsException" {
			t.Fatalf("got error %v, want ArrayIndexOutOfBoundsException", err)
		}
	})

	t.Run("negative size", func(t *testing.T) {
		code := []byte{0x02, 0xBC, 0x0A, 0xBE, 0xAC} // iconst_m1, newarray int
		_, err := execute(t, code)
		if got := exceptionClass(err); got != "java/lang/NegativeArraySizeException" {
			t.Fatalf("got error %v, want NegativeArraySizeException", err)
		}
	})

	t.Run("arraylength of null", func(t *testing.T) {
		_, err := execute(t, []byte{0x01, 0xBE, 0xAC}) // aconst_null, arraylength
		if got := exceptionClass(err); got != "java/lang/NullPointerException" {
			t.Fatalf("got error %v, want NullPointerException", err)
		}
	})
}

func TestIfnull(t *testing.T) {
	code := classfile.NewAsm().
		Op(OpAload0).
		Branch(OpIfnull, "null").
		Op(OpIconst1).Op(OpIreturn).
		Label("null").
		Op(OpIconst0).Op(OpIreturn).
		MustBytes()

	frame := NewFrame(1, 2, code, nil)
	frame.SetLocal(0, NullValue())
	v := NewVM(NewMemoryClassLoader())
	for frame.PC < len(frame.Code) {
		opcode := frame.Code[frame.PC]
		frame.PC++
		retVal, hasReturn, err := v.executeInstruction(frame, opcode)
		if err != nil {
			t.Fatalf("execution error at PC=%d: %v", frame.PC-1, err)
		}
		if hasReturn {
			if retVal.Int != 0 {
				t.Errorf("ifnull(null): got %d, want 0", retVal.Int)
			}
			return
		}
	}
	t.Fatal("bytecode did not return a value")
}
