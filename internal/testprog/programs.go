package testprog

import (
	"github.com/daimatz/jtrace/pkg/classfile"
	"github.com/daimatz/jtrace/pkg/vm"
)

// Hello prints a static string set by <clinit>, a computed sum and a
// ConstantValue field.
//
//	public class Hello {
//	    static final String GREETING;
//	    static { GREETING = "hello"; }
//	    static final int LIMIT = 7;
//	    public static void main(String[] args) {
//	        System.out.println(GREETING);
//	        System.out.println(add(40, 2));
//	        System.out.println(LIMIT);
//	    }
//	    static int add(int a, int b) { return a + b; }
//	}
func Hello() Program {
	p := newProgram("Hello")
	b := classfile.NewBuilder("Hello", object)
	b.AddField(publicStatic|classfile.AccFinal, "GREETING", "Ljava/lang/String;")
	b.AddConstField(publicStatic|classfile.AccFinal, "LIMIT", "I", b.Integer(7))

	c := newCode(b)
	c.ldcString("hello")
	c.putstatic("Hello", "GREETING", "Ljava/lang/String;")
	c.Op(vm.OpReturn)
	c.method(classfile.AccStatic, "<clinit>", "()V", 0)

	c = newCode(b)
	c.out()
	c.getstatic("Hello", "GREETING", "Ljava/lang/String;")
	c.println("Ljava/lang/String;")
	c.out()
	c.Op(vm.OpBipush, 40).Op(vm.OpBipush, 2)
	c.invokestatic("Hello", "add", "(II)I")
	c.println("I")
	c.out()
	c.getstatic("Hello", "LIMIT", "I")
	c.println("I")
	c.Op(vm.OpReturn)
	c.method(publicStatic, "main", mainDesc, 1)

	c = newCode(b)
	c.Op(vm.OpIload0).Op(vm.OpIload1).Op(vm.OpIadd).Op(vm.OpIreturn)
	c.method(classfile.AccStatic, "add", "(II)I", 2)

	p.add("Hello", b)
	return p
}

// Fib exercises recursion and long arithmetic.
//
//	static int fib(int n) { if (n < 2) return n; return fib(n - 1) + fib(n - 2); }
//	static long fact(int n) { long r = 1; for (int i = 2; i <= n; i++) r *= i; return r; }
//	main: println(fib(10)); println(fact(20));
func Fib() Program {
	p := newProgram("Fib")
	b := classfile.NewBuilder("Fib", object)

	c := newCode(b)
	c.Op(vm.OpIload0).Op(vm.OpIconst2).Branch(vm.OpIfIcmpge, "recurse")
	c.Op(vm.OpIload0).Op(vm.OpIreturn)
	c.Label("recurse")
	c.Op(vm.OpIload0).Op(vm.OpIconst1).Op(vm.OpIsub)
	c.invokestatic("Fib", "fib", "(I)I")
	c.Op(vm.OpIload0).Op(vm.OpIconst2).Op(vm.OpIsub)
	c.invokestatic("Fib", "fib", "(I)I")
	c.Op(vm.OpIadd).Op(vm.OpIreturn)
	c.method(classfile.AccStatic, "fib", "(I)I", 1)

	c = newCode(b)
	c.Op(vm.OpLconst1).Op(vm.OpLstore1)
	c.Op(vm.OpIconst2).Op(vm.OpIstore3)
	c.Label("loop")
	c.Op(vm.OpIload3).Op(vm.OpIload0).Branch(vm.OpIfIcmpgt, "done")
	c.Op(vm.OpLload1).Op(vm.OpIload3).Op(vm.OpI2l).Op(vm.OpLmul).Op(vm.OpLstore1)
	c.Op(vm.OpIinc, 3, 1)
	c.Branch(vm.OpGoto, "loop")
	c.Label("done")
	c.Op(vm.OpLload1).Op(vm.OpLreturn)
	c.method(classfile.AccStatic, "fact", "(I)J", 4)

	c = newCode(b)
	c.out()
	c.Op(vm.OpBipush, 10)
	c.invokestatic("Fib", "fib", "(I)I")
	c.println("I")
	c.out()
	c.Op(vm.OpBipush, 20)
	c.invokestatic("Fib", "fact", "(I)J")
	c.println("J")
	c.Op(vm.OpReturn)
	c.method(publicStatic, "main", mainDesc, 1)

	p.add("Fib", b)
	return p
}

// Strings covers StringBuilder, UTF-16 string operations, indy string
// concatenation, float formatting and Integer.parseInt.
//
//	String s = new StringBuilder("x=").append(5).append(',').append(2.5).append(true).toString();
//	System.out.println(s);
//	String t = "héllo";
//	System.out.println(t.length());
//	System.out.println(t.charAt(1));
//	System.out.println("n=" + 7 + "!");
//	System.out.println(0.1f);
//	System.out.println(Integer.parseInt("123") + 1);
func Strings() Program {
	p := newProgram("Strings")
	b := classfile.NewBuilder("Strings", object)
	c := newCode(b)

	c.new(stringBuilder)
	c.Op(vm.OpDup)
	c.ldcString("x=")
	c.invokespecial(stringBuilder, "<init>", "(Ljava/lang/String;)V")
	c.Op(vm.OpIconst5)
	c.invokevirtual(stringBuilder, "append", "(I)Ljava/lang/StringBuilder;")
	c.Op(vm.OpBipush, ',')
	c.invokevirtual(stringBuilder, "append", "(C)Ljava/lang/StringBuilder;")
	c.ldcDouble(2.5)
	c.invokevirtual(stringBuilder, "append", "(D)Ljava/lang/StringBuilder;")
	c.Op(vm.OpIconst1)
	c.invokevirtual(stringBuilder, "append", "(Z)Ljava/lang/StringBuilder;")
	c.invokevirtual(stringBuilder, "toString", "()Ljava/lang/String;")
	c.Op(vm.OpAstore1)
	c.out()
	c.Op(vm.OpAload1)
	c.println("Ljava/lang/String;")

	c.ldcString("héllo")
	c.Op(vm.OpAstore2)
	c.out()
	c.Op(vm.OpAload2)
	c.invokevirtual(str, "length", "()I")
	c.println("I")
	c.out()
	c.Op(vm.OpAload2).Op(vm.OpIconst1)
	c.invokevirtual(str, "charAt", "(I)C")
	c.println("C")

	c.out()
	c.Op(vm.OpBipush, 7)
	c.concat("n=\x01!", "(I)Ljava/lang/String;")
	c.println("Ljava/lang/String;")

	c.out()
	c.ldcFloat(0.1)
	c.println("F")

	c.out()
	c.ldcString("123")
	c.invokestatic("java/lang/Integer", "parseInt", "(Ljava/lang/String;)I")
	c.Op(vm.OpIconst1).Op(vm.OpIadd)
	c.println("I")
	c.Op(vm.OpReturn)
	c.method(publicStatic, "main", mainDesc, 3)

	p.add("Strings", b)
	return p
}

// Inheritance covers virtual dispatch, super calls and instanceof.
//
//	class Animal {
//	    String name;
//	    Animal(String name) { this.name = name; }
//	    String sound() { return "..."; }
//	    String describe() { return name + " says " + sound(); }
//	}
//	class Dog extends Animal { Dog(String n) { super(n); } String sound() { return "Woof"; } }
//	class Cat extends Animal {
//	    Cat(String n) { super(n); }
//	    String sound() { return "Meow"; }
//	    String describe() { return "cat " + super.describe(); }
//	}
//	main:
//	    println(new Dog("Rex").describe());
//	    println(new Cat("Tom").describe());
//	    println(new Animal("Thing").describe());
//	    Animal a = new Dog("x");
//	    println(a instanceof Dog);
//	    println(a instanceof Cat);
func Inheritance() Program {
	const sdesc = "()Ljava/lang/String;"
	p := newProgram("Inheritance")

	animal := classfile.NewBuilder("Animal", object)
	animal.AddField(0, "name", "Ljava/lang/String;")
	constructor(animal, object, "(Ljava/lang/String;)V", 2, func(c *code) {
		c.Op(vm.OpAload0).Op(vm.OpAload1)
		c.putfield("Animal", "name", "Ljava/lang/String;")
	})
	c := newCode(animal)
	c.ldcString("...")
	c.Op(vm.OpAreturn)
	c.method(0, "sound", sdesc, 1)
	c = newCode(animal)
	c.Op(vm.OpAload0)
	c.getfield("Animal", "name", "Ljava/lang/String;")
	c.Op(vm.OpAload0)
	c.invokevirtual("Animal", "sound", sdesc)
	c.concat("\x01 says \x01", "(Ljava/lang/String;Ljava/lang/String;)Ljava/lang/String;")
	c.Op(vm.OpAreturn)
	c.method(0, "describe", sdesc, 1)
	p.add("Animal", animal)

	for _, sub := range []struct{ name, sound string }{{"Dog", "Woof"}, {"Cat", "Meow"}} {
		b := classfile.NewBuilder(sub.name, "Animal")
		c := newCode(b)
		c.Op(vm.OpAload0).Op(vm.OpAload1)
		c.invokespecial("Animal", "<init>", "(Ljava/lang/String;)V")
		c.Op(vm.OpReturn)
		c.method(0, "<init>", "(Ljava/lang/String;)V", 2)

		c = newCode(b)
		c.ldcString(sub.sound)
		c.Op(vm.OpAreturn)
		c.method(0, "sound", sdesc, 1)

		if sub.name == "Cat" {
			c = newCode(b)
			c.Op(vm.OpAload0)
			c.invokespecial("Animal", "describe", sdesc)
			c.concat("cat \x01", "(Ljava/lang/String;)Ljava/lang/String;")
			c.Op(vm.OpAreturn)
			c.method(0, "describe", sdesc, 1)
		}
		p.add(sub.name, b)
	}

	b := classfile.NewBuilder("Inheritance", object)
	c = newCode(b)
	for _, a := range []struct{ class, name string }{{"Dog", "Rex"}, {"Cat", "Tom"}, {"Animal", "Thing"}} {
		c.out()
		c.new(a.class)
		c.Op(vm.OpDup)
		c.ldcString(a.name)
		c.invokespecial(a.class, "<init>", "(Ljava/lang/String;)V")
		c.invokevirtual("Animal", "describe", sdesc)
		c.println("Ljava/lang/String;")
	}
	c.new("Dog")
	c.Op(vm.OpDup)
	c.ldcString("x")
	c.invokespecial("Dog", "<init>", "(Ljava/lang/String;)V")
	c.Op(vm.OpAstore1)
	for _, class := range []string{"Dog", "Cat"} {
		c.out()
		c.Op(vm.OpAload1)
		c.classOp(vm.OpInstanceof, class)
		c.println("Z")
	}
	c.Op(vm.OpReturn)
	c.method(publicStatic, "main", mainDesc, 2)
	p.add("Inheritance", b)
	return p
}

// Hiding covers a subclass field that hides an inherited field of the
// same name: each declaration keeps its own slot.
//
//	class Base { int x; int baseX() { return x; } }
//	class Derived extends Base { int x; int ownX() { return x; } }
//	main:
//	    Derived d = new Derived();
//	    d.x = 2;
//	    println(((Base) d).x);
//	    ((Base) d).x = 7;
//	    println(d.x);
//	    println(d.baseX());
//	    println(d.ownX());
func Hiding() Program {
	p := newProgram("Hiding")

	base := classfile.NewBuilder("Base", object)
	base.AddField(0, "x", "I")
	constructor(base, object, "()V", 1, nil)
	c := newCode(base)
	c.Op(vm.OpAload0)
	c.getfield("Base", "x", "I")
	c.Op(vm.OpIreturn)
	c.method(0, "baseX", "()I", 1)
	p.add("Base", base)

	derived := classfile.NewBuilder("Derived", "Base")
	derived.AddField(0, "x", "I")
	constructor(derived, "Base", "()V", 1, nil)
	c = newCode(derived)
	c.Op(vm.OpAload0)
	c.getfield("Derived", "x", "I")
	c.Op(vm.OpIreturn)
	c.method(0, "ownX", "()I", 1)
	p.add("Derived", derived)

	b := classfile.NewBuilder("Hiding", object)
	c = newCode(b)
	c.new("Derived")
	c.Op(vm.OpDup)
	c.invokespecial("Derived", "<init>", "()V")
	c.Op(vm.OpAstore1)
	c.Op(vm.OpAload1).Op(vm.OpIconst2)
	c.putfield("Derived", "x", "I")
	c.out()
	c.Op(vm.OpAload1)
	c.getfield("Base", "x", "I")
	c.println("I")
	c.Op(vm.OpAload1).Op(vm.OpBipush, 7)
	c.putfield("Base", "x", "I")
	c.out()
	c.Op(vm.OpAload1)
	c.getfield("Derived", "x", "I")
	c.println("I")
	for _, m := range []string{"baseX", "ownX"} {
		c.out()
		c.Op(vm.OpAload1)
		c.invokevirtual("Derived", m, "()I")
		c.println("I")
	}
	c.Op(vm.OpReturn)
	c.method(publicStatic, "main", mainDesc, 2)
	p.add("Hiding", b)
	return p
}

// appError adds `class AppError extends RuntimeException { AppError(String m) { super(m); } }`.
func appError(p Program) {
	b := classfile.NewBuilder("AppError", "java/lang/RuntimeException")
	c := newCode(b)
	c.Op(vm.OpAload0).Op(vm.OpAload1)
	c.invokespecial("java/lang/RuntimeException", "<init>", "(Ljava/lang/String;)V")
	c.Op(vm.OpReturn)
	c.method(public, "<init>", "(Ljava/lang/String;)V", 2)
	p.add("AppError", b)
}

// Exceptions covers exception tables, JDK and user exception types and
// exceptions propagating through frames.
//
//	try { int z = 0; println(1 / z); } catch (ArithmeticException e) { println(e.getMessage()); }
//	try { throw new RuntimeException("boom"); } catch (RuntimeException e) { println(e.getMessage()); }
//	try { deep(3); } catch (AppError e) { println(e.toString()); }
//	try { int[] a = new int[2]; a[5] = 1; } catch (ArrayIndexOutOfBoundsException e) { println(e.getMessage()); }
//
//	static void deep(int n) { if (n == 0) throw new AppError("deep"); deep(n - 1); }
func Exceptions() Program {
	const getMessage = "()Ljava/lang/String;"
	p := newProgram("Exceptions")
	appError(p)

	b := classfile.NewBuilder("Exceptions", object)
	c := newCode(b)
	c.Op(vm.OpIload0).Branch(vm.OpIfne, "recurse")
	c.new("AppError")
	c.Op(vm.OpDup)
	c.ldcString("deep")
	c.invokespecial("AppError", "<init>", "(Ljava/lang/String;)V")
	c.Op(vm.OpAthrow)
	c.Label("recurse")
	c.Op(vm.OpIload0).Op(vm.OpIconst1).Op(vm.OpIsub)
	c.invokestatic("Exceptions", "deep", "(I)V")
	c.Op(vm.OpReturn)
	c.method(classfile.AccStatic, "deep", "(I)V", 1)

	c = newCode(b)
	printCaught := func(method string) {
		c.Op(vm.OpAstore1)
		c.out()
		c.Op(vm.OpAload1)
		c.invokevirtual("java/lang/Throwable", method, getMessage)
		c.println("Ljava/lang/String;")
	}

	c.Label("try1")
	c.Op(vm.OpIconst0).Op(vm.OpIstore1)
	c.out()
	c.Op(vm.OpIconst1).Op(vm.OpIload1).Op(vm.OpIdiv)
	c.println("I")
	c.Label("end1")
	c.Branch(vm.OpGoto, "next1")
	c.Label("catch1")
	printCaught("getMessage")
	c.Label("next1")

	c.Label("try2")
	c.new("java/lang/RuntimeException")
	c.Op(vm.OpDup)
	c.ldcString("boom")
	c.invokespecial("java/lang/RuntimeException", "<init>", "(Ljava/lang/String;)V")
	c.Op(vm.OpAthrow)
	c.Label("catch2")
	printCaught("getMessage")

	c.Label("try3")
	c.Op(vm.OpIconst3)
	c.invokestatic("Exceptions", "deep", "(I)V")
	c.Label("end3")
	c.Branch(vm.OpGoto, "next3")
	c.Label("catch3")
	printCaught("toString")
	c.Label("next3")

	c.Label("try4")
	c.Op(vm.OpIconst2).Op(vm.OpNewarray, 10).Op(vm.OpAstore1)
	c.Op(vm.OpAload1).Op(vm.OpIconst5).Op(vm.OpIconst1).Op(vm.OpIastore)
	c.Label("end4")
	c.Branch(vm.OpGoto, "next4")
	c.Label("catch4")
	printCaught("getMessage")
	c.Label("next4")
	c.Op(vm.OpReturn)

	handlers := []classfile.ExceptionHandler{
		c.handler("try1", "end1", "catch1", "java/lang/ArithmeticException"),
		c.handler("try2", "catch2", "catch2", "java/lang/RuntimeException"),
		c.handler("try3", "end3", "catch3", "AppError"),
		c.handler("try4", "end4", "catch4", "java/lang/ArrayIndexOutOfBoundsException"),
	}
	c.methodWithHandlers(publicStatic, "main", mainDesc, 2, handlers)
	p.add("Exceptions", b)
	return p
}

// Uncaught throws `new AppError("fatal")` out of main.
func Uncaught() Program {
	p := newProgram("Uncaught")
	appError(p)
	b := classfile.NewBuilder("Uncaught", object)
	c := newCode(b)
	c.new("AppError")
	c.Op(vm.OpDup)
	c.ldcString("fatal")
	c.invokespecial("AppError", "<init>", "(Ljava/lang/String;)V")
	c.Op(vm.OpAthrow)
	c.method(publicStatic, "main", mainDesc, 1)
	p.add("Uncaught", b)
	return p
}

// Interfaces covers invokeinterface, default methods and instanceof
// against an interface.
//
//	interface Shape { int area(); default String describe() { return "area=" + area(); } }
//	class Square implements Shape { int s; Square(int s) { this.s = s; } public int area() { return s * s; } }
//	class Rect implements Shape { public int area() { return 10; } public String describe() { return "rect"; } }
//	main:
//	    Shape sq = new Square(3);
//	    println(sq.area()); println(sq.describe());
//	    Shape r = new Rect();
//	    println(r.describe()); println(r.area());
//	    println(sq instanceof Shape);
func Interfaces() Program {
	const sdesc = "()Ljava/lang/String;"
	p := newProgram("Interfaces")

	shape := classfile.NewBuilder("Shape", object)
	shape.SetAccessFlags(classfile.AccPublic | classfile.AccInterface | classfile.AccAbstract)
	shape.AddMethod(classfile.AccPublic|classfile.AccAbstract, "area", "()I", nil)
	c := newCode(shape)
	c.Op(vm.OpAload0)
	c.invokeinterface("Shape", "area", "()I", 1)
	c.concat("area=\x01", "(I)Ljava/lang/String;")
	c.Op(vm.OpAreturn)
	c.method(public, "describe", sdesc, 1)
	p.add("Shape", shape)

	square := classfile.NewBuilder("Square", object)
	square.AddInterface("Shape")
	square.AddField(0, "s", "I")
	constructor(square, object, "(I)V", 2, func(c *code) {
		c.Op(vm.OpAload0).Op(vm.OpIload1)
		c.putfield("Square", "s", "I")
	})
	c = newCode(square)
	c.Op(vm.OpAload0)
	c.getfield("Square", "s", "I")
	c.Op(vm.OpAload0)
	c.getfield("Square", "s", "I")
	c.Op(vm.OpImul).Op(vm.OpIreturn)
	c.method(public, "area", "()I", 1)
	p.add("Square", square)

	rect := classfile.NewBuilder("Rect", object)
	rect.AddInterface("Shape")
	constructor(rect, object, "()V", 1, nil)
	c = newCode(rect)
	c.Op(vm.OpBipush, 10).Op(vm.OpIreturn)
	c.method(public, "area", "()I", 1)
	c = newCode(rect)
	c.ldcString("rect")
	c.Op(vm.OpAreturn)
	c.method(public, "describe", sdesc, 1)
	p.add("Rect", rect)

	b := classfile.NewBuilder("Interfaces", object)
	c = newCode(b)
	c.new("Square")
	c.Op(vm.OpDup).Op(vm.OpIconst3)
	c.invokespecial("Square", "<init>", "(I)V")
	c.Op(vm.OpAstore1)
	c.out()
	c.Op(vm.OpAload1)
	c.invokeinterface("Shape", "area", "()I", 1)
	c.println("I")
	c.out()
	c.Op(vm.OpAload1)
	c.invokeinterface("Shape", "describe", sdesc, 1)
	c.println("Ljava/lang/String;")

	c.new("Rect")
	c.Op(vm.OpDup)
	c.invokespecial("Rect", "<init>", "()V")
	c.Op(vm.OpAstore2)
	c.out()
	c.Op(vm.OpAload2)
	c.invokeinterface("Shape", "describe", sdesc, 1)
	c.println("Ljava/lang/String;")
	c.out()
	c.Op(vm.OpAload2)
	c.invokeinterface("Shape", "area", "()I", 1)
	c.println("I")

	c.out()
	c.Op(vm.OpAload1)
	c.classOp(vm.OpInstanceof, "Shape")
	c.println("Z")
	c.Op(vm.OpReturn)
	c.method(publicStatic, "main", mainDesc, 3)
	p.add("Interfaces", b)
	return p
}

// Maps covers the native HashMap and Integer boxing.
//
//	HashMap m = new HashMap();
//	m.put("a", Integer.valueOf(5));
//	m.put("b", Integer.valueOf(9));
//	println(((Integer) m.get("a")).intValue());
//	println(m.get("b"));
//	println(m.containsKey("zz"));
//	m.put(Integer.valueOf(1000), "v");
//	println((String) m.get(Integer.valueOf(1000)));
//	m.remove("b");
//	println(m.size());
func Maps() Program {
	const (
		hashMap = "java/util/HashMap"
		integer = "java/lang/Integer"
		objDesc = "(Ljava/lang/Object;)Ljava/lang/Object;"
		putDesc = "(Ljava/lang/Object;Ljava/lang/Object;)Ljava/lang/Object;"
		boxDesc = "(I)Ljava/lang/Integer;"
	)
	p := newProgram("Maps")
	b := classfile.NewBuilder("Maps", object)
	c := newCode(b)
	c.new(hashMap)
	c.Op(vm.OpDup)
	c.invokespecial(hashMap, "<init>", "()V")
	c.Op(vm.OpAstore1)

	for _, e := range []struct {
		key string
		val byte
	}{{"a", 5}, {"b", 9}} {
		c.Op(vm.OpAload1)
		c.ldcString(e.key)
		c.Op(vm.OpBipush, e.val)
		c.invokestatic(integer, "valueOf", boxDesc)
		c.invokevirtual(hashMap, "put", putDesc)
		c.Op(vm.OpPop)
	}

	c.out()
	c.Op(vm.OpAload1)
	c.ldcString("a")
	c.invokevirtual(hashMap, "get", objDesc)
	c.classOp(vm.OpCheckcast, integer)
	c.invokevirtual(integer, "intValue", "()I")
	c.println("I")

	c.out()
	c.Op(vm.OpAload1)
	c.ldcString("b")
	c.invokevirtual(hashMap, "get", objDesc)
	c.println("Ljava/lang/Object;")

	c.out()
	c.Op(vm.OpAload1)
	c.ldcString("zz")
	c.invokevirtual(hashMap, "containsKey", "(Ljava/lang/Object;)Z")
	c.println("Z")

	c.Op(vm.OpAload1)
	c.OpU16(vm.OpSipush, 1000)
	c.invokestatic(integer, "valueOf", boxDesc)
	c.ldcString("v")
	c.invokevirtual(hashMap, "put", putDesc)
	c.Op(vm.OpPop)
	c.out()
	c.Op(vm.OpAload1)
	c.OpU16(vm.OpSipush, 1000)
	c.invokestatic(integer, "valueOf", boxDesc)
	c.invokevirtual(hashMap, "get", objDesc)
	c.classOp(vm.OpCheckcast, str)
	c.println("Ljava/lang/String;")

	c.Op(vm.OpAload1)
	c.ldcString("b")
	c.invokevirtual(hashMap, "remove", objDesc)
	c.Op(vm.OpPop)
	c.out()
	c.Op(vm.OpAload1)
	c.invokevirtual(hashMap, "size", "()I")
	c.println("I")
	c.Op(vm.OpReturn)
	c.method(publicStatic, "main", mainDesc, 2)
	p.add("Maps", b)
	return p
}
