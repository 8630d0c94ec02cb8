package main

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/daimatz/jtrace/pkg/config"
	"github.com/daimatz/jtrace/pkg/logging"
	"github.com/daimatz/jtrace/pkg/tracer"
	"github.com/daimatz/jtrace/pkg/vm"
)

var (
	runOut      string
	runLogLevel string
	runMetrics  bool
)

func init() {
	runCmd.Flags().StringVar(&runOut, "out", "", "write documents to this file instead of stdout")
	runCmd.Flags().StringVar(&runLogLevel, "log-level", "", "log level (trace|debug|info|warn|error)")
	runCmd.Flags().BoolVar(&runMetrics, "metrics", false, "print an engine counter summary to stderr at exit")
}

var runCmd = &cobra.Command{
	Use:   "run <classfile> [args...]",
	Short: "Execute a class with the tracer attached",
	Long: `Execute the main method of a class file. Classes it references are
loaded from the same directory.

Documents go to the receiver's receive method when it declares one, else to
--out (or JTRACE_OUT), else to stdout.

Examples:
  jtrace run build/Simple.class
  jtrace run --out trace.toml --metrics build/Counter.class`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, err := cmd.Root().PersistentFlags().GetString("config")
		if err != nil {
			return err
		}
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("out") {
			cfg.Output.File = runOut
		}
		if cmd.Flags().Changed("log-level") {
			cfg.Log.Level = runLogLevel
		}
		if cmd.Flags().Changed("metrics") {
			cfg.Metrics.Enabled = runMetrics
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		return traceProgram(cfg, args[0], args[1:], cmd.OutOrStdout(), cmd.ErrOrStderr())
	},
}

// traceProgram runs the class at classPath with an agent configured from
// cfg. Program output and default-destination documents both go to
// stdout; logs and the metrics summary go to stderr.
func traceProgram(cfg *config.Config, classPath string, args []string, stdout, stderr io.Writer) error {
	level, err := logging.LevelFromString(cfg.Log.Level)
	if err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	log, err := logging.NewLogger(&logging.Config{
		Level:  level,
		Format: cfg.Log.Format,
		Output: zapcore.AddSync(stderr),
	})
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}

	dir := filepath.Dir(classPath)
	className := strings.TrimSuffix(filepath.Base(classPath), ".class")

	v := vm.NewVM(vm.NewDirClassLoader(dir, nil))
	v.Stdout = stdout
	v.Stderr = stderr

	reg := prometheus.NewRegistry()
	agent := tracer.NewAgent(v, tracer.Options{
		ExcludePrefixes: cfg.Trace.ExcludePrefixes,
		ReceiverSuffix:  cfg.Trace.ReceiverSuffix,
		DedupFields:     cfg.Trace.DedupFields,
		DedupDefault:    cfg.Trace.DedupDefault,
		OutputFile:      cfg.Output.File,
		Stdout:          stdout,
		Logger:          log,
		Registerer:      reg,
	})
	v.SetListener(agent)
	if err := agent.Attach(); err != nil {
		return fmt.Errorf("attaching tracer: %w", err)
	}

	log.Debug("executing", zap.String("class", className), zap.String("classpath", dir))
	runErr := v.Execute(className, args...)
	agent.Shutdown()

	if cfg.Metrics.Enabled {
		families, err := reg.Gather()
		if err != nil {
			return fmt.Errorf("gathering metrics: %w", err)
		}
		if err := writeMetricsSummary(stderr, families); err != nil {
			return err
		}
	}
	if runErr != nil {
		return fmt.Errorf("executing %s: %w", className, runErr)
	}
	return nil
}
