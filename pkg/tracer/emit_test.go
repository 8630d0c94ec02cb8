package tracer

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/daimatz/jtrace/pkg/host"
	"github.com/daimatz/jtrace/pkg/logging"
)

func TestEmitToReceiver(t *testing.T) {
	h := newFakeHost()
	var out bytes.Buffer
	metrics := NewMetrics(nil)
	e := NewEmitter(h, "", &out, logging.Nop(), metrics)

	dest, err := e.Emit("doc", 3, &ReceiverHandle{Thread: testThread, Method: 23})
	require.NoError(t, err)
	assert.Equal(t, DestinationReceiver, dest)
	assert.Equal(t, []invocation{{thread: testThread, method: 23, args: []any{"doc", int32(3)}}}, h.invoked)
	assert.Empty(t, out.String())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Flushes.WithLabelValues(DestinationReceiver)))
}

func TestEmitReceiverFailureFallsBack(t *testing.T) {
	h := newFakeHost()
	h.invokeErr = host.NewError("InvokeStatic", host.CodeInternal, "java.lang.RuntimeException")
	var out bytes.Buffer
	log := logging.NewTestLogger()
	metrics := NewMetrics(nil)
	e := NewEmitter(h, "", &out, log.Logger, metrics)

	dest, err := e.Emit("doc", 1, &ReceiverHandle{Thread: testThread, Method: 23})
	require.NoError(t, err)
	assert.Equal(t, DestinationDefault, dest)
	assert.Equal(t, "doc", out.String())
	log.AssertLogged(t, zapcore.WarnLevel, "receiver callback failed")
	assert.Zero(t, testutil.ToFloat64(metrics.Flushes.WithLabelValues(DestinationReceiver)))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Flushes.WithLabelValues(DestinationDefault)))
}

func TestEmitToFileTruncatesThenAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.toml")
	require.NoError(t, os.WriteFile(path, []byte("stale contents\n"), 0o644))

	var out bytes.Buffer
	e := NewEmitter(newFakeHost(), path, &out, logging.Nop(), NewMetrics(nil))

	dest, err := e.Emit("first\n", 1, nil)
	require.NoError(t, err)
	assert.Equal(t, DestinationFile, dest)
	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "first\n", string(got))

	_, err = e.Emit("second\n", 1, nil)
	require.NoError(t, err)
	got, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "first\nsecond\n", string(got))
	assert.Empty(t, out.String())
}

func TestEmitFileError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "trace.toml")
	metrics := NewMetrics(nil)
	e := NewEmitter(newFakeHost(), path, &bytes.Buffer{}, logging.Nop(), metrics)

	dest, err := e.Emit("doc", 1, nil)
	require.Error(t, err)
	assert.Equal(t, DestinationFile, dest)
	assert.True(t, errors.Is(err, os.ErrNotExist))
	assert.Zero(t, testutil.ToFloat64(metrics.Flushes.WithLabelValues(DestinationFile)))
}

func TestEmitEmptyDocument(t *testing.T) {
	h := newFakeHost()
	e := NewEmitter(h, "", &bytes.Buffer{}, logging.Nop(), NewMetrics(nil))
	_, err := e.Emit("", 0, &ReceiverHandle{Thread: testThread, Method: 23})
	require.NoError(t, err)
	assert.Equal(t, []any{"", int32(0)}, h.invoked[0].args)
}
