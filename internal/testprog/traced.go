package testprog

import (
	"github.com/daimatz/jtrace/pkg/classfile"
	"github.com/daimatz/jtrace/pkg/vm"
)

const receiverSuffix = "$JTraceReceiver"

// receiver adds <owner>$JTraceReceiver with empty static start and end.
// body, when set, adds further members such as receive.
func receiver(p Program, owner string, body func(b *classfile.Builder)) string {
	name := owner + receiverSuffix
	b := classfile.NewBuilder(name, object)
	for _, m := range []string{"start", "end"} {
		c := newCode(b)
		c.Op(vm.OpReturn)
		c.method(publicStatic, m, "()V", 0)
	}
	if body != nil {
		body(b)
	}
	p.add(name, b)
	return name
}

// Simple has a receiver without receive, so documents go to the
// configured output.
//
//	class Simple {
//	    static class JTraceReceiver { static void start() {} static void end() {} }
//	    public static void main(String[] args) { JTraceReceiver.start(); bar(); JTraceReceiver.end(); }
//	    static void bar() { int x = 5; }
//	}
//
// main carries no LocalVariableTable.
func Simple() Program {
	p := newProgram("Simple")
	recv := receiver(p, "Simple", nil)

	b := classfile.NewBuilder("Simple", object)
	c := newCode(b)
	c.invokestatic(recv, "start", "()V")
	c.invokestatic("Simple", "bar", "()V")
	c.invokestatic(recv, "end", "()V")
	c.Op(vm.OpReturn)
	c.method(publicStatic, "main", mainDesc, 1)

	c = newCode(b)
	c.Op(vm.OpIconst5).Op(vm.OpIstore0)
	c.Label("x")
	c.Op(vm.OpReturn)
	c.Label("end")
	c.method(classfile.AccStatic, "bar", "()V", 1, c.local("x", "I", 0, "x", "end"))
	p.add("Simple", b)
	return p
}

// Counter traces instance and static fields with deduplication enabled.
//
//	class Counter {
//	    static int total;
//	    int count;
//	    void add(int n) { count += n; total += n; }
//	    public static void main(String[] args) {
//	        Counter c = new Counter();
//	        JTraceReceiver.start();
//	        c.add(2);
//	        JTraceReceiver.end();
//	    }
//	    static class JTraceReceiver {
//	        static boolean filterSteps = true;
//	        static void start() {} static void end() {}
//	        static void receive(String s, int n) { System.out.print(s); }
//	    }
//	}
func Counter() Program {
	p := newProgram("Counter")
	recv := receiver(p, "Counter", func(b *classfile.Builder) {
		b.AddField(publicStatic, "filterSteps", "Z")
		c := newCode(b)
		c.Op(vm.OpIconst1)
		c.putstatic("Counter"+receiverSuffix, "filterSteps", "Z")
		c.Op(vm.OpReturn)
		c.method(classfile.AccStatic, "<clinit>", "()V", 0)

		c = newCode(b)
		c.out()
		c.Op(vm.OpAload0)
		c.print("Ljava/lang/String;")
		c.Op(vm.OpReturn)
		c.method(publicStatic, "receive", "(Ljava/lang/String;I)V", 2)
	})

	b := classfile.NewBuilder("Counter", object)
	b.AddField(classfile.AccStatic, "total", "I")
	b.AddField(0, "count", "I")
	constructor(b, object, "()V", 1, nil)

	c := newCode(b)
	c.Label("begin")
	c.Op(vm.OpAload0).Op(vm.OpDup)
	c.getfield("Counter", "count", "I")
	c.Op(vm.OpIload1).Op(vm.OpIadd)
	c.putfield("Counter", "count", "I")
	c.getstatic("Counter", "total", "I")
	c.Op(vm.OpIload1).Op(vm.OpIadd)
	c.putstatic("Counter", "total", "I")
	c.Op(vm.OpReturn)
	c.Label("end")
	c.method(0, "add", "(I)V", 2,
		c.local("this", "LCounter;", 0, "begin", "end"),
		c.local("n", "I", 1, "begin", "end"))

	c = newCode(b)
	c.Label("begin")
	c.new("Counter")
	c.Op(vm.OpDup)
	c.invokespecial("Counter", "<init>", "()V")
	c.Op(vm.OpAstore1)
	c.Label("c")
	c.invokestatic(recv, "start", "()V")
	c.Op(vm.OpAload1).Op(vm.OpIconst2)
	c.invokevirtual("Counter", "add", "(I)V")
	c.invokestatic(recv, "end", "()V")
	c.Op(vm.OpReturn)
	c.Label("end")
	c.method(publicStatic, "main", mainDesc, 2,
		c.local("args", "[Ljava/lang/String;", 0, "begin", "end"),
		c.local("c", "LCounter;", 1, "c", "end"))
	p.add("Counter", b)
	return p
}

// Loop runs two sessions over an empty counting loop, the second with
// deduplication switched on through the receiver's stateOnly field.
//
//	class Loop {
//	    static class JTraceReceiver {
//	        public static boolean stateOnly = false;
//	        public static void start() {}
//	        public static void end() {}
//	        public static void receive(String s, int n) {
//	            if (stateOnly) System.out.print("filtered ");
//	            System.out.println("steps: " + n);
//	            if (stateOnly) System.out.println(s);
//	        }
//	    }
//	    public static void main(String[] args) {
//	        JTraceReceiver.start();
//	        for (int i = 0; i < 10; ++i);
//	        JTraceReceiver.end();
//	        JTraceReceiver.stateOnly = true;
//	        JTraceReceiver.start();
//	        for (int i = 0; i < 10; ++i);
//	        JTraceReceiver.end();
//	    }
//	}
func Loop() Program {
	p := newProgram("Loop")
	recvName := "Loop" + receiverSuffix
	recv := receiver(p, "Loop", func(b *classfile.Builder) {
		b.AddField(publicStatic, "stateOnly", "Z")
		c := newCode(b)
		c.getstatic(recvName, "stateOnly", "Z")
		c.Branch(vm.OpIfeq, "count")
		c.out()
		c.ldcString("filtered ")
		c.print("Ljava/lang/String;")
		c.Label("count")
		c.out()
		c.Op(vm.OpIload1)
		c.concat("steps: \x01", "(I)Ljava/lang/String;")
		c.println("Ljava/lang/String;")
		c.getstatic(recvName, "stateOnly", "Z")
		c.Branch(vm.OpIfeq, "done")
		c.out()
		c.Op(vm.OpAload0)
		c.println("Ljava/lang/String;")
		c.Label("done")
		c.Op(vm.OpReturn)
		c.method(publicStatic, "receive", "(Ljava/lang/String;I)V", 2)
	})

	b := classfile.NewBuilder("Loop", object)
	c := newCode(b)
	loop := func(n string) {
		c.invokestatic(recv, "start", "()V")
		c.Op(vm.OpIconst0).Op(vm.OpIstore1)
		c.Label("loop" + n)
		c.Op(vm.OpIload1).Op(vm.OpBipush, 10)
		c.Branch(vm.OpIfIcmpge, "done"+n)
		c.Op(vm.OpIinc, 1, 1)
		c.Branch(vm.OpGoto, "loop"+n)
		c.Label("done" + n)
		c.invokestatic(recv, "end", "()V")
	}
	c.Label("begin")
	loop("1")
	c.Op(vm.OpIconst1)
	c.putstatic(recvName, "stateOnly", "Z")
	loop("2")
	c.Op(vm.OpReturn)
	c.Label("end")
	c.method(publicStatic, "main", mainDesc, 2,
		c.local("args", "[Ljava/lang/String;", 0, "begin", "end"),
		c.local("i", "I", 1, "loop1", "done1"),
		c.local("i", "I", 1, "loop2", "done2"))
	p.add("Loop", b)
	return p
}
