package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daimatz/jtrace/internal/testprog"
	"github.com/daimatz/jtrace/pkg/config"
	"github.com/daimatz/jtrace/pkg/tracer"
)

const simpleDoc = `[step0."LSimple;"."main"]
[step1."LSimple;"."bar"]
[step2."LSimple;"."bar"]
local."x".signature = "I"
local."x".value = 5
[step3."LSimple;"."main"]
`

func writeProgram(t *testing.T, p testprog.Program) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, p.WriteDir(dir))
	return filepath.Join(dir, p.Main+".class")
}

func TestTraceProgram(t *testing.T) {
	t.Run("stdout", func(t *testing.T) {
		cfg := config.Defaults()
		cfg.Trace.DedupDefault = true
		var stdout, stderr bytes.Buffer
		require.NoError(t, traceProgram(cfg, writeProgram(t, testprog.Simple()), nil, &stdout, &stderr))
		assert.Equal(t, simpleDoc, stdout.String())
		assert.Empty(t, stderr.String())
	})

	t.Run("output file", func(t *testing.T) {
		cfg := config.Defaults()
		cfg.Trace.DedupDefault = true
		cfg.Output.File = filepath.Join(t.TempDir(), "trace.toml")
		var stdout, stderr bytes.Buffer
		require.NoError(t, traceProgram(cfg, writeProgram(t, testprog.Simple()), nil, &stdout, &stderr))
		assert.Empty(t, stdout.String())
		got, err := os.ReadFile(cfg.Output.File)
		require.NoError(t, err)
		assert.Equal(t, simpleDoc, string(got))
	})

	t.Run("receiver", func(t *testing.T) {
		var stdout, stderr bytes.Buffer
		require.NoError(t, traceProgram(config.Defaults(), writeProgram(t, testprog.Loop()), nil, &stdout, &stderr))
		assert.True(t, strings.HasPrefix(stdout.String(), "steps: 56\nfiltered steps: 13\n[step0."))
	})

	t.Run("metrics and logs", func(t *testing.T) {
		cfg := config.Defaults()
		cfg.Metrics.Enabled = true
		cfg.Log.Level = "info"
		var stdout, stderr bytes.Buffer
		require.NoError(t, traceProgram(cfg, writeProgram(t, testprog.Simple()), nil, &stdout, &stderr))
		assert.Contains(t, stderr.String(), "trace session started")
		assert.Contains(t, stderr.String(), "jtrace_engine_sessions_total 1\n")
		assert.Contains(t, stderr.String(), "jtrace_engine_steps_captured_total 5\n")
		assert.Contains(t, stderr.String(), `jtrace_engine_flushes_total{destination="default"} 1`)
	})

	t.Run("program failure still flushes", func(t *testing.T) {
		var stdout, stderr bytes.Buffer
		err := traceProgram(config.Defaults(), writeProgram(t, testprog.Uncaught()), nil, &stdout, &stderr)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "uncaught exception")
	})

	t.Run("missing class", func(t *testing.T) {
		var stdout, stderr bytes.Buffer
		err := traceProgram(config.Defaults(), filepath.Join(t.TempDir(), "Nope.class"), nil, &stdout, &stderr)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "executing Nope")
	})
}

func TestWriteMetricsSummary(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := tracer.NewMetrics(reg)
	m.StepsCaptured.Add(3)
	m.HostErrors.WithLabelValues("LocalInt").Inc()
	m.FlushSteps.Observe(3)

	families, err := reg.Gather()
	require.NoError(t, err)
	var out bytes.Buffer
	require.NoError(t, writeMetricsSummary(&out, families))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	assert.Contains(t, lines, "jtrace_engine_steps_captured_total 3")
	assert.Contains(t, lines, `jtrace_engine_host_errors_total{op="LocalInt"} 1`)
	assert.Contains(t, lines, "jtrace_engine_flush_steps_count 1")
	assert.Contains(t, lines, "jtrace_engine_flush_steps_sum 3")
	assert.IsIncreasing(t, lines)
}

func TestWriteInspect(t *testing.T) {
	steps, err := tracer.ParseDocument(simpleDoc)
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, writeInspect(&out, steps, newPalette(false)))
	want := `step0 LSimple;.main
step1 LSimple;.bar
step2 LSimple;.bar
  local    x I = 5
step3 LSimple;.main
4 steps
`
	assert.Equal(t, want, out.String())
}

func TestInspectCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.toml")
	require.NoError(t, os.WriteFile(path, []byte(simpleDoc), 0o644))

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"inspect", "--color", "off", path})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})
	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), "step2 LSimple;.bar\n  local    x I = 5\n")
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"version"})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})
	require.NoError(t, rootCmd.Execute())
	assert.Equal(t, "jtrace dev\n", out.String())
}
