// Package config loads jtrace configuration.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (JTRACE_OUT, JTRACE_LOG_LEVEL, ...)
//  2. YAML config file given with --config
//  3. Hardcoded defaults
//
// Environment variables drop the JTRACE_ prefix and split on the first
// underscore:
//
//	JTRACE_LOG_LEVEL        -> log.level
//	JTRACE_TRACE_DEDUP_FIELDS -> trace.dedup_fields
//	JTRACE_OUT              -> output.file
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Config is the complete jtrace configuration.
type Config struct {
	Output  OutputConfig  `koanf:"output"`
	Trace   TraceConfig   `koanf:"trace"`
	Log     LogConfig     `koanf:"log"`
	Metrics MetricsConfig `koanf:"metrics"`
}

// OutputConfig selects where documents go when the receiver has no
// receive callback. An empty File means standard output.
type OutputConfig struct {
	File string `koanf:"file"`
}

// TraceConfig tunes the engine.
type TraceConfig struct {
	ExcludePrefixes []string `koanf:"exclude_prefixes" validate:"dive,typesig"`
	ReceiverSuffix  string   `koanf:"receiver_suffix" validate:"required,endswith=;"`
	// DedupFields are the receiver's static boolean fields consulted, in
	// order, for the dedup option at session start.
	DedupFields  []string `koanf:"dedup_fields" validate:"dive,required"`
	DedupDefault bool     `koanf:"dedup_default"`
}

// LogConfig configures pkg/logging.
type LogConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error"`
	Format string `koanf:"format" validate:"oneof=json console"`
}

// MetricsConfig controls the counter summary printed at exit.
type MetricsConfig struct {
	Enabled bool `koanf:"enabled"`
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		Trace: TraceConfig{
			ExcludePrefixes: []string{"Ljava/", "Ljdk/", "Lsun/"},
			ReceiverSuffix:  "$JTraceReceiver;",
			DedupFields:     []string{"filterSteps", "stateOnly"},
		},
		Log: LogConfig{
			Level:  "warn",
			Format: "console",
		},
	}
}

// applyDefaults fills values the loaded layers left empty.
func applyDefaults(cfg *Config) {
	d := Defaults()
	if cfg.Trace.ExcludePrefixes == nil {
		cfg.Trace.ExcludePrefixes = d.Trace.ExcludePrefixes
	}
	if cfg.Trace.ReceiverSuffix == "" {
		cfg.Trace.ReceiverSuffix = d.Trace.ReceiverSuffix
	}
	if len(cfg.Trace.DedupFields) == 0 {
		cfg.Trace.DedupFields = d.Trace.DedupFields
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = d.Log.Level
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = d.Log.Format
	}
}

var validate *validator.Validate

func init() {
	validate = validator.New()
	_ = validate.RegisterValidation("typesig", validateTypeSignaturePrefix)
}

// validateTypeSignaturePrefix accepts prefixes of class or array type
// signatures, e.g. "Ljava/" or "[".
func validateTypeSignaturePrefix(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	return strings.HasPrefix(s, "L") || strings.HasPrefix(s, "[")
}

// Validate checks config for errors.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
	}
	return errors.New(strings.Join(msgs, "; "))
}
