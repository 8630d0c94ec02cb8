package tracer

import (
	"bytes"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/daimatz/jtrace/pkg/host"
	"github.com/daimatz/jtrace/pkg/logging"
)

const (
	fooBar        host.MethodID = 10
	fooMain       host.MethodID = 11
	stringLength  host.MethodID = 12
	receiverStart host.MethodID = 20
	receiverEnd   host.MethodID = 21
	receiverOther host.MethodID = 22
	receiverRecv  host.MethodID = 23

	receiverClass host.ClassID = 3
)

// newAgentHost models Foo.bar with one int local x = 5 and a receiver
// type Foo$JTraceReceiver without a receive callback.
func newAgentHost() *fakeHost {
	h := newFakeHost()
	h.addClass(1, "Lcom/example/Foo;")
	h.addClass(2, "Ljava/lang/String;")
	h.addClass(receiverClass, "Lcom/example/Foo$JTraceReceiver;")
	h.addMethod(fooBar, 1, "bar", local("x", "I", 0))
	h.addMethod(fooMain, 1, "main")
	h.addMethod(stringLength, 2, "length")
	h.addMethod(receiverStart, receiverClass, "start")
	h.addMethod(receiverEnd, receiverClass, "end")
	h.addMethod(receiverOther, receiverClass, "helper")
	h.locals[0] = int32(5)
	return h
}

func newTestAgent(h *fakeHost, opts Options) (*Agent, *bytes.Buffer, *logging.TestLogger) {
	var out bytes.Buffer
	log := logging.NewTestLogger()
	if opts.Stdout == nil {
		opts.Stdout = &out
	}
	opts.Logger = log.Logger
	a := NewAgent(h, opts)
	return a, &out, log
}

const barDoc = `[step0."Lcom/example/Foo;"."bar"]
local."x".signature = "I"
local."x".value = 5
`

func TestAgentAttach(t *testing.T) {
	h := newAgentHost()
	a, _, _ := newTestAgent(h, Options{})
	require.NoError(t, a.Attach())
	assert.True(t, h.events[host.EventMethodEntry])
	assert.False(t, h.events[host.EventStep])
}

func TestAgentSessionLifecycle(t *testing.T) {
	tests := []struct {
		name  string
		dedup bool
		steps int
	}{
		{"dedup", true, 1},
		{"no dedup", false, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newAgentHost()
			a, out, log := newTestAgent(h, Options{DedupDefault: tt.dedup})

			a.OnStep(testThread, fooBar, 0)
			assert.Equal(t, Idle, a.Session().State())
			assert.Zero(t, a.Session().Len())

			a.OnMethodEntry(testThread, receiverStart)
			assert.Equal(t, Active, a.Session().State())
			assert.Equal(t, tt.dedup, a.Session().Dedup())
			assert.True(t, h.events[host.EventStep])

			for loc := range 3 {
				a.OnStep(testThread, fooBar, host.Location(loc))
			}
			a.OnStep(testThread, stringLength, 0)
			assert.Equal(t, tt.steps, a.Session().Len())

			a.OnMethodEntry(testThread, receiverEnd)
			assert.Equal(t, Idle, a.Session().State())
			assert.False(t, h.events[host.EventStep])
			assert.Zero(t, a.Session().Len())

			assert.Equal(t, expectedBarDoc(tt.steps), out.String())
			log.AssertLogged(t, zapcore.InfoLevel, "trace session started")
			log.AssertField(t, "trace session ended", "destination", DestinationDefault)

			m := a.Metrics()
			assert.Equal(t, 1.0, testutil.ToFloat64(m.Sessions))
			assert.Equal(t, float64(tt.steps), testutil.ToFloat64(m.StepsCaptured))
			assert.Equal(t, float64(3-tt.steps), testutil.ToFloat64(m.StepsDeduplicated))
			assert.Equal(t, 1.0, testutil.ToFloat64(m.StepsFiltered))
		})
	}
}

func expectedBarDoc(steps int) string {
	var sb strings.Builder
	for i := range steps {
		sb.WriteString(strings.Replace(barDoc, "step0", "step"+strconv.Itoa(i), 1))
	}
	return sb.String()
}

func TestAgentIgnoresRepeatedStartAndStrayEnd(t *testing.T) {
	h := newAgentHost()
	a, out, log := newTestAgent(h, Options{DedupDefault: true})

	a.OnMethodEntry(testThread, receiverEnd)
	log.AssertLogged(t, zapcore.DebugLevel, "end ignored")
	assert.Empty(t, out.String())

	a.OnMethodEntry(testThread, receiverStart)
	a.OnStep(testThread, fooBar, 0)
	a.OnMethodEntry(testThread, receiverStart)
	log.AssertLogged(t, zapcore.DebugLevel, "start ignored")
	assert.Equal(t, 1, a.Session().Len())
	assert.Equal(t, 1.0, testutil.ToFloat64(a.Metrics().Sessions))

	a.OnMethodEntry(testThread, receiverOther)
	assert.Equal(t, Active, a.Session().State())

	a.OnMethodEntry(testThread, receiverEnd)
	a.OnMethodEntry(testThread, receiverEnd)
	assert.Equal(t, barDoc, out.String())
}

func TestAgentEmptySession(t *testing.T) {
	h := newAgentHost()
	h.addStatic(receiverRecv, receiverClass, "receive", ReceiveDescriptor)
	a, _, _ := newTestAgent(h, Options{})

	a.OnMethodEntry(testThread, receiverStart)
	a.OnMethodEntry(testThread, receiverEnd)
	require.Len(t, h.invoked, 1)
	assert.Equal(t, []any{"", int32(0)}, h.invoked[0].args)
}

func TestAgentDeliversToReceiver(t *testing.T) {
	h := newAgentHost()
	h.addStatic(receiverRecv, receiverClass, "receive", ReceiveDescriptor)
	a, out, _ := newTestAgent(h, Options{DedupDefault: true})

	a.OnMethodEntry(testThread, receiverStart)
	a.OnStep(testThread, fooBar, 0)
	a.OnStep(testThread, fooBar, 1)
	a.OnMethodEntry(testThread, receiverEnd)

	require.Len(t, h.invoked, 1)
	assert.Equal(t, invocation{thread: testThread, method: receiverRecv, args: []any{barDoc, int32(1)}}, h.invoked[0])
	assert.Empty(t, out.String())
	assert.Equal(t, 1.0, testutil.ToFloat64(a.Metrics().Flushes.WithLabelValues(DestinationReceiver)))
}

func TestAgentWritesFileAcrossSessions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.toml")
	require.NoError(t, os.WriteFile(path, []byte("old\n"), 0o644))
	h := newAgentHost()
	a, out, _ := newTestAgent(h, Options{OutputFile: path, DedupDefault: true})

	for range 2 {
		a.OnMethodEntry(testThread, receiverStart)
		a.OnStep(testThread, fooBar, 0)
		a.OnMethodEntry(testThread, receiverEnd)
	}
	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, barDoc+barDoc, string(got))
	assert.Empty(t, out.String())
}

func TestSessionDedupFromReceiverFields(t *testing.T) {
	tests := []struct {
		name   string
		fields func(h *fakeHost)
		order  []string
		def    bool
		want   bool
	}{
		{"default when absent", func(h *fakeHost) {}, nil, true, true},
		{"filterSteps set", func(h *fakeHost) {
			h.addField(200, receiverClass, "filterSteps", "Z", true, int32(1))
		}, nil, false, true},
		{"filterSteps cleared", func(h *fakeHost) {
			h.addField(200, receiverClass, "filterSteps", "Z", true, int32(0))
		}, nil, true, false},
		{"first listed wins", func(h *fakeHost) {
			h.addField(200, receiverClass, "filterSteps", "Z", true, int32(1))
			h.addField(201, receiverClass, "stateOnly", "Z", true, int32(0))
		}, []string{"stateOnly", "filterSteps"}, true, false},
		{"non-boolean ignored", func(h *fakeHost) {
			h.addField(200, receiverClass, "filterSteps", "I", true, int32(0))
			h.addField(201, receiverClass, "stateOnly", "Z", true, int32(1))
		}, nil, false, true},
		{"instance field ignored", func(h *fakeHost) {
			h.addField(200, receiverClass, "filterSteps", "Z", false, nil)
		}, nil, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newAgentHost()
			tt.fields(h)
			a, _, _ := newTestAgent(h, Options{DedupFields: tt.order, DedupDefault: tt.def})
			a.OnMethodEntry(testThread, receiverStart)
			assert.Equal(t, tt.want, a.Session().Dedup())
		})
	}
}

func TestSessionDedupReadFailureUsesDefault(t *testing.T) {
	h := newAgentHost()
	h.addField(200, receiverClass, "filterSteps", "Z", true, int32(0))
	h.fail["FieldInt"] = host.NewError("FieldInt", host.CodeInternal, "boom")
	a, _, log := newTestAgent(h, Options{DedupDefault: true})

	a.OnMethodEntry(testThread, receiverStart)
	assert.True(t, a.Session().Dedup())
	log.AssertField(t, "host call failed", "field", "filterSteps")
}

func TestAgentStepErrors(t *testing.T) {
	h := newAgentHost()
	a, _, log := newTestAgent(h, Options{})
	a.OnMethodEntry(testThread, receiverStart)

	a.OnStep(testThread, 999, 0)
	assert.Zero(t, a.Session().Len())
	log.AssertLogged(t, zapcore.WarnLevel, "host call failed")
	assert.Equal(t, 1.0, testutil.ToFloat64(a.Metrics().HostErrors.WithLabelValues("MethodDeclaringClass")))

	a.OnMethodEntry(testThread, 998)
	assert.Equal(t, Active, a.Session().State())
}

func TestAgentShutdownFlushesActiveSession(t *testing.T) {
	h := newAgentHost()
	a, out, log := newTestAgent(h, Options{})

	a.Shutdown()
	assert.Empty(t, out.String())

	a.OnMethodEntry(testThread, receiverStart)
	a.OnStep(testThread, fooBar, 0)
	a.Shutdown()
	assert.Equal(t, Idle, a.Session().State())
	assert.Equal(t, barDoc, out.String())
	log.AssertLogged(t, zapcore.InfoLevel, "flushing active session")
}

func TestAgentRegistersMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	h := newAgentHost()
	a, _, _ := newTestAgent(h, Options{Registerer: reg})
	a.OnMethodEntry(testThread, receiverStart)
	a.OnStep(testThread, fooBar, 0)
	a.OnMethodEntry(testThread, receiverEnd)

	n, err := testutil.GatherAndCount(reg, "jtrace_engine_sessions_total", "jtrace_engine_steps_captured_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestAgentStepInFlightAtEndIsDropped(t *testing.T) {
	h := newAgentHost()
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	h.hook = func(op string) {
		if op == "LocalInt" {
			once.Do(func() {
				close(entered)
				<-release
			})
		}
	}
	a, out, _ := newTestAgent(h, Options{})

	a.OnMethodEntry(testThread, receiverStart)
	done := make(chan struct{})
	go func() {
		defer close(done)
		a.OnStep(testThread, fooBar, 0)
	}()
	<-entered
	a.OnMethodEntry(testThread, receiverEnd)
	close(release)
	<-done

	assert.Equal(t, Idle, a.Session().State())
	assert.Zero(t, a.Session().Len())
	assert.Zero(t, testutil.ToFloat64(a.Metrics().StepsCaptured))

	a.OnMethodEntry(testThread, receiverStart)
	assert.Zero(t, a.Session().Len())
	a.OnMethodEntry(testThread, receiverEnd)
	assert.Empty(t, out.String())
}
