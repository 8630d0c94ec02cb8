package tracer

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/daimatz/jtrace/pkg/host"
	"github.com/daimatz/jtrace/pkg/logging"
)

type snapshotFixture struct {
	h       *fakeHost
	b       *SnapshotBuilder
	log     *logging.TestLogger
	metrics *Metrics
}

// newSnapshotFixture models Counter.add(I)V with this in slot 0, n in
// slot 1, an instance field count and a static field total.
func newSnapshotFixture() *snapshotFixture {
	h := newFakeHost()
	h.addClass(1, "LCounter;")
	h.addClass(2, "Ljava/lang/StringBuilder;")
	h.addClass(3, "LCounter$JTraceReceiver;")
	h.addMethod(10, 1, "add",
		local("this", "LCounter;", 0),
		local("n", "I", 1))
	h.addMethod(11, 2, "append", local("this", "Ljava/lang/StringBuilder;", 0))
	h.addMethod(12, 3, "start")
	h.addMethod(13, 1, "reset")
	h.addField(100, 1, "total", "I", true, int32(7))
	count := h.addField(101, 1, "count", "I", false, nil)
	count.instance[2] = int32(3)
	h.addField(102, 3, "filterSteps", "Z", true, int32(1))

	h.locals[0] = host.ObjectID(2)
	h.locals[1] = int32(4)
	h.this = 2

	c, log, metrics := newTestCache(h)
	return &snapshotFixture{h: h, b: NewSnapshotBuilder(h, c, log.Logger, metrics), log: log, metrics: metrics}
}

func TestBuildInstanceMethod(t *testing.T) {
	f := newSnapshotFixture()
	snap, ok, err := f.b.Build(testThread, 10, 0)
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, StepSnapshot{
		ClassName:  "LCounter;",
		MethodName: "add",
		Locals: Bindings{
			"this": {Signature: "LCounter;", Payload: Reference(2)},
			"n":    {Signature: "I", Payload: Int(4)},
		},
		InstanceFields: Bindings{"count": {Signature: "I", Payload: Int(3)}},
		ClassFields:    Bindings{"total": {Signature: "I", Payload: Int(7)}},
	}, snap)
	assert.Empty(t, f.log.All())
}

func TestBuildStaticMethodSkipsInstanceFields(t *testing.T) {
	f := newSnapshotFixture()
	f.h.this = host.NullObject
	snap, ok, err := f.b.Build(testThread, 13, 0)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Empty(t, snap.Locals)
	assert.Empty(t, snap.InstanceFields)
	assert.Equal(t, Bindings{"total": {Signature: "I", Payload: Int(7)}}, snap.ClassFields)
	assert.Zero(t, f.h.count("CurrentInstance"))
}

func TestBuildFiltered(t *testing.T) {
	f := newSnapshotFixture()
	_, ok, err := f.b.Build(testThread, 11, 0)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, f.h.count("LocalObject"))
}

func TestBuildUnknownMethod(t *testing.T) {
	f := newSnapshotFixture()
	_, ok, err := f.b.Build(testThread, 999, 0)
	require.Error(t, err)
	assert.False(t, ok)
	assert.Equal(t, host.CodeInvalidMethod, host.CodeOf(err))
}

func TestBuildAbsentLocalOmitted(t *testing.T) {
	f := newSnapshotFixture()
	delete(f.h.locals, 1)
	snap, ok, err := f.b.Build(testThread, 10, 0)
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotContains(t, snap.Locals, "n")
	assert.Contains(t, snap.Locals, "this")
	f.log.AssertNotLogged(t, zapcore.WarnLevel, "host call failed")
}

func TestBuildLiveRange(t *testing.T) {
	f := newSnapshotFixture()
	f.h.addMethod(14, 1, "scoped",
		host.LocalVariable{Name: "i", Signature: "I", Slot: 1, Start: 4, Length: 6})
	for _, tt := range []struct {
		loc  host.Location
		live bool
	}{
		{0, false}, {3, false}, {4, true}, {9, true}, {10, false},
	} {
		snap, _, err := f.b.Build(testThread, 14, tt.loc)
		require.NoError(t, err)
		_, ok := snap.Locals["i"]
		assert.Equal(t, tt.live, ok, "loc %d", tt.loc)
	}
}

func TestBuildNarrowsIntLikeLocals(t *testing.T) {
	f := newSnapshotFixture()
	f.h.addMethod(15, 1, "kinds",
		local("s", "S", 1),
		local("b", "B", 2),
		local("c", "C", 3),
		local("z", "Z", 4),
		local("j", "J", 5),
		local("f", "F", 7),
		local("d", "D", 8),
		local("a", "[I", 10))
	f.h.locals = map[int]any{
		1: int32(-3), 2: int32(-128), 3: int32(0xe9), 4: int32(1),
		5: int64(1 << 40), 7: float32(2.5), 8: float64(0.1), 10: host.NullObject,
	}
	snap, _, err := f.b.Build(testThread, 15, 0)
	require.NoError(t, err)
	assert.Equal(t, Bindings{
		"s": {Signature: "S", Payload: Short(-3)},
		"b": {Signature: "B", Payload: Byte(-128)},
		"c": {Signature: "C", Payload: Char(0xe9)},
		"z": {Signature: "Z", Payload: Boolean(true)},
		"j": {Signature: "J", Payload: Long(1 << 40)},
		"f": {Signature: "F", Payload: Float(2.5)},
		"d": {Signature: "D", Payload: Double(0.1)},
		"a": {Signature: "[I", Payload: Reference(host.NullObject)},
	}, snap.Locals)
}

func TestBuildFailedReadsBecomeZero(t *testing.T) {
	t.Run("type mismatch", func(t *testing.T) {
		f := newSnapshotFixture()
		f.h.locals[1] = int64(4)
		snap, _, err := f.b.Build(testThread, 10, 0)
		require.NoError(t, err)
		assert.Equal(t, ZeroValue("I"), snap.Locals["n"])
		f.log.AssertLogged(t, zapcore.WarnLevel, "host call failed")
		f.log.AssertField(t, "host call failed", "local", "n")
		assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.HostErrors.WithLabelValues("LocalInt")))
	})

	t.Run("narrowing overflow", func(t *testing.T) {
		f := newSnapshotFixture()
		f.h.addMethod(15, 1, "short", local("s", "S", 1))
		f.h.locals[1] = int32(70000)
		snap, _, err := f.b.Build(testThread, 15, 0)
		require.NoError(t, err)
		assert.Equal(t, TypedValue{Signature: "S", Payload: Short(0)}, snap.Locals["s"])
		f.log.AssertField(t, "host call failed", "code", "TYPE_MISMATCH")
	})

	t.Run("field read", func(t *testing.T) {
		f := newSnapshotFixture()
		f.h.fail["FieldInt"] = host.NewError("FieldInt", host.CodeInternal, "boom")
		snap, _, err := f.b.Build(testThread, 10, 0)
		require.NoError(t, err)
		assert.Equal(t, ZeroValue("I"), snap.InstanceFields["count"])
		assert.Equal(t, ZeroValue("I"), snap.ClassFields["total"])
		assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.HostErrors.WithLabelValues("FieldInt")))
	})

	t.Run("field without value", func(t *testing.T) {
		f := newSnapshotFixture()
		delete(f.h.fields[101].instance, 2)
		snap, _, err := f.b.Build(testThread, 10, 0)
		require.NoError(t, err)
		assert.Equal(t, ZeroValue("I"), snap.InstanceFields["count"])
		f.log.AssertField(t, "host call failed", "field", "count")
	})

	t.Run("current instance", func(t *testing.T) {
		f := newSnapshotFixture()
		f.h.fail["CurrentInstance"] = host.NewError("CurrentInstance", host.CodeNoMoreFrames, "gone")
		snap, _, err := f.b.Build(testThread, 10, 0)
		require.NoError(t, err)
		assert.Equal(t, TypedValue{Signature: "LCounter;", Payload: Reference(host.NullObject)}, snap.Locals["this"])
		f.log.AssertField(t, "host call failed", "op", "CurrentInstance")
	})

	t.Run("class fields", func(t *testing.T) {
		f := newSnapshotFixture()
		f.h.fail["ClassFields"] = host.NewError("ClassFields", host.CodeInvalidClass, "gone")
		snap, ok, err := f.b.Build(testThread, 10, 0)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Len(t, snap.Locals, 2)
		assert.Empty(t, snap.ClassFields)
	})
}

func TestBuildReceiverNotTraced(t *testing.T) {
	f := newSnapshotFixture()
	f.h.this = host.NullObject
	snap, ok, err := f.b.Build(testThread, 12, 0)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, snap.ClassFields)
	assert.Zero(t, f.h.count("ClassFields"))
}

func TestReaderOps(t *testing.T) {
	tests := []struct {
		tag          Tag
		local, field string
	}{
		{TagInt, "LocalInt", "FieldInt"},
		{TagShort, "LocalInt", "FieldInt"},
		{TagBoolean, "LocalInt", "FieldInt"},
		{TagLong, "LocalLong", "FieldLong"},
		{TagFloat, "LocalFloat", "FieldFloat"},
		{TagDouble, "LocalDouble", "FieldDouble"},
		{TagReference, "LocalObject", "FieldObject"},
	}
	for _, tt := range tests {
		t.Run(tt.tag.String(), func(t *testing.T) {
			assert.Equal(t, tt.local, localReader{}.op(tt.tag))
			assert.Equal(t, tt.field, fieldReader{}.op(tt.tag))
		})
	}
}
