package tracer

import (
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daimatz/jtrace/pkg/host"
	"github.com/daimatz/jtrace/pkg/logging"
)

func newTestCache(h *fakeHost) (*MetadataCache, *logging.TestLogger, *Metrics) {
	log := logging.NewTestLogger()
	metrics := NewMetrics(nil)
	scope := NewScopeFilter(DefaultExcludePrefixes, DefaultReceiverSuffix)
	return NewMetadataCache(h, scope, log.Logger, metrics), log, metrics
}

func TestMetadataCacheMethod(t *testing.T) {
	h := newFakeHost()
	h.addClass(1, "Lcom/example/Foo;")
	h.addClass(2, "Ljava/lang/String;")
	h.addClass(3, "Lcom/example/Foo$JTraceReceiver;")
	h.addMethod(10, 1, "bar", local("x", "I", 0))
	h.addMethod(11, 2, "length")
	h.addMethod(12, 3, "start")

	c, _, _ := newTestCache(h)

	md, err := c.Method(10)
	require.NoError(t, err)
	assert.Equal(t, &MethodMetadata{
		Class:          1,
		ClassSignature: "Lcom/example/Foo;",
		Name:           "bar",
		Locals:         []host.LocalVariable{local("x", "I", 0)},
		Traceable:      true,
	}, md)

	md, err = c.Method(11)
	require.NoError(t, err)
	assert.False(t, md.Traceable)
	assert.False(t, md.Receiver)

	md, err = c.Method(12)
	require.NoError(t, err)
	assert.True(t, md.Receiver)
	assert.False(t, md.Traceable)

	t.Run("cached", func(t *testing.T) {
		before := h.count("MethodName")
		for range 5 {
			_, err := c.Method(10)
			require.NoError(t, err)
		}
		assert.Equal(t, before, h.count("MethodName"))
	})
}

func TestMetadataCacheErrorsNotCached(t *testing.T) {
	h := newFakeHost()
	h.addClass(1, "LFoo;")
	h.addMethod(10, 1, "bar")
	h.fail["MethodName"] = host.NewError("MethodName", host.CodeInternal, "transient")

	c, _, _ := newTestCache(h)
	_, err := c.Method(10)
	require.Error(t, err)
	assert.Equal(t, host.CodeInternal, host.CodeOf(err))

	delete(h.fail, "MethodName")
	md, err := c.Method(10)
	require.NoError(t, err)
	assert.Equal(t, "bar", md.Name)
	assert.Equal(t, 2, h.count("MethodName"))

	_, err = c.Method(99)
	assert.True(t, errors.Is(err, host.ErrInvalidMethod))
}

func TestMetadataCacheMissingLocalTable(t *testing.T) {
	h := newFakeHost()
	h.addClass(1, "LFoo;")
	h.addMethod(10, 1, "bar")
	h.fail["LocalVariableTable"] = host.NewError("LocalVariableTable", host.CodeInvalidMethod, "native")

	c, log, metrics := newTestCache(h)
	md, err := c.Method(10)
	require.NoError(t, err)
	assert.Nil(t, md.Locals)
	assert.True(t, md.Traceable)

	log.AssertField(t, "host call failed", "op", "LocalVariableTable")
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.HostErrors.WithLabelValues("LocalVariableTable")))
}

func TestMetadataCacheClass(t *testing.T) {
	h := newFakeHost()
	h.addClass(1, "LFoo;")
	h.addField(100, 1, "total", "I", true, int32(0))
	h.addField(101, 1, "count", "I", false, nil)
	h.classFields[1] = append(h.classFields[1], 999)

	c, log, _ := newTestCache(h)
	cm, err := c.Class(1)
	require.NoError(t, err)
	require.Len(t, cm.Fields, 2)
	assert.Equal(t, FieldMetadata{ID: 100, FieldInfo: host.FieldInfo{Name: "total", Signature: "I", Static: true}}, cm.Fields[0])
	assert.Equal(t, "count", cm.Fields[1].Name)
	log.AssertField(t, "host call failed", "code", "INVALID_FIELDID")

	_, err = c.Class(1)
	require.NoError(t, err)
	assert.Equal(t, 1, h.count("ClassFields"))

	h.fail["ClassFields"] = host.NewError("ClassFields", host.CodeInvalidClass, "unloaded")
	_, err = c.Class(2)
	assert.True(t, errors.Is(err, host.ErrInvalidClass))
}

func TestMetadataCacheConcurrent(t *testing.T) {
	h := newFakeHost()
	h.addClass(1, "LFoo;")
	for id := host.MethodID(1); id <= 4; id++ {
		h.addMethod(id, 1, "m")
	}
	c, _, _ := newTestCache(h)

	var wg sync.WaitGroup
	for i := range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			md, err := c.Method(host.MethodID(i%4 + 1))
			assert.NoError(t, err)
			assert.Equal(t, "m", md.Name)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, h.count("MethodName"), 32)
	for id := host.MethodID(1); id <= 4; id++ {
		_, err := c.Method(id)
		require.NoError(t, err)
	}
	calls := h.count("MethodName")
	_, _ = c.Method(1)
	assert.Equal(t, calls, h.count("MethodName"))
}
