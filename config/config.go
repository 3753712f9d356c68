// Package config loads configuration from files, env vars, and flags, and validates it.
package config

import (
	"fmt"
	"net"
	"net/url"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/buildbuildio/quarry/observability"
)

// EnvPrefix prefixes every environment variable, f.e. QUARRY_EXECUTION_TIMEOUT.
const EnvPrefix = "QUARRY"

// Source settings left empty in the file.
const (
	DefaultMaxBatchSize  = 100
	DefaultSourceTimeout = 10 * time.Second
)

// Config holds the application configuration.
type Config struct {
	Sources       map[string]SourceConfig `mapstructure:"sources"`
	Execution     ExecutionConfig         `mapstructure:"execution"`
	Observability ObservabilityConfig     `mapstructure:"observability"`
}

// SourceConfig describes one backend service.
type SourceConfig struct {
	URL          string            `mapstructure:"url"`
	Timeout      time.Duration     `mapstructure:"timeout"`
	MaxBatchSize int               `mapstructure:"max_batch_size"`
	Headers      map[string]string `mapstructure:"headers"`
}

// ExecutionConfig tunes plan execution.
type ExecutionConfig struct {
	Timeout           time.Duration `mapstructure:"timeout"`
	LeafErrors        string        `mapstructure:"leaf_errors"`         // report, suppress
	NonNullViolations string        `mapstructure:"non_null_violations"` // ignore, report
}

// LoggingConfig holds logging parameters.
type LoggingConfig struct {
	Level          string `mapstructure:"level"`  // debug, info, warn, error
	Format         string `mapstructure:"format"` // json, text
	ExportsEnabled bool   `mapstructure:"exports_enabled"`
}

// ObservabilityConfig holds observability parameters.
type ObservabilityConfig struct {
	ServiceName      string        `mapstructure:"service_name"`
	ServiceVersion   string        `mapstructure:"service_version"`
	MetricsEnabled   bool          `mapstructure:"metrics_enabled"`
	MetricsDump      bool          `mapstructure:"metrics_dump"`
	TracingEnabled   bool          `mapstructure:"tracing_enabled"`
	TraceSampleRatio float64       `mapstructure:"trace_sample_ratio"`
	Logging          LoggingConfig `mapstructure:"logging"`
	OTLP             OTLPConfig    `mapstructure:"otlp"`
}

// OTLPConfig holds OTLP exporter configuration
type OTLPConfig struct {
	Endpoint    string            `mapstructure:"endpoint"`
	Protocol    string            `mapstructure:"protocol"` // "grpc", "http/protobuf"
	Insecure    bool              `mapstructure:"insecure"`
	TLSCertFile string            `mapstructure:"tls_cert_file"`
	Headers     map[string]string `mapstructure:"headers"`
	Timeout     time.Duration     `mapstructure:"timeout"`
	Compression string            `mapstructure:"compression"` // "none", "gzip"
}

// Telemetry converts the observability section into provider settings.
func (o ObservabilityConfig) Telemetry() observability.Config {
	return observability.Config{
		ServiceName:      o.ServiceName,
		ServiceVersion:   o.ServiceVersion,
		TraceSampleRatio: o.TraceSampleRatio,
		OTLPConfig: observability.OTLPExporterConfig{
			Endpoint:    o.OTLP.Endpoint,
			Protocol:    o.OTLP.Protocol,
			Insecure:    o.OTLP.Insecure,
			TLSCertFile: o.OTLP.TLSCertFile,
			Headers:     o.OTLP.Headers,
			Timeout:     o.OTLP.Timeout,
			Compression: o.OTLP.Compression,
		},
	}
}

// SourceNames returns configured sources sorted by name.
func (c *Config) SourceNames() []string {
	names := make([]string, 0, len(c.Sources))
	for name := range c.Sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefineFlags registers the configuration flags on fs using canonical snake_case keys.
func DefineFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "Path to config file (default: ./quarry.yaml)")

	fs.Duration("execution.timeout", 0, "Request execution timeout")
	fs.String("execution.leaf_errors", "", "Transport errors on nullable leaves: report or suppress")
	fs.String("execution.non_null_violations", "", "Nulls returned for non-null fields: ignore or report")

	fs.String("observability.service_name", "", "Service name reported to telemetry backends")
	fs.Bool("observability.metrics_enabled", false, "Enable metrics")
	fs.Bool("observability.metrics_dump", false, "Print collected metrics after execution")
	fs.Bool("observability.tracing_enabled", false, "Enable tracing")
	fs.String("observability.logging.level", "", "Log level (debug, info, warn, error)")
	fs.String("observability.logging.format", "", "Log format (json, text)")
	fs.Bool("observability.logging.exports_enabled", false, "Export logs over OTLP")
	fs.String("observability.otlp.endpoint", "", "OTLP endpoint")
	fs.String("observability.otlp.protocol", "", "OTLP protocol (grpc, http/protobuf)")
	fs.Bool("observability.otlp.insecure", false, "Disable TLS for OTLP")
}

// Load loads configuration from multiple sources with the following precedence:
// 1. Command line flags set on fs
// 2. Environment variables
// 3. Config file
// 4. Default values
//
// fs must already be parsed. A nil fs skips flags.
func Load(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	var cfgPath string
	if fs != nil {
		cfgPath, _ = fs.GetString("config")
	}
	if cfgPath != "" {
		v.SetConfigFile(cfgPath)
	} else {
		v.SetConfigName("quarry")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/quarry/")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		if cfgPath != "" {
			return nil, fmt.Errorf("failed to read config file %q: %w", cfgPath, err)
		}
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if fs != nil {
		bindChangedFlags(v, fs)
	}

	var cfg Config
	if err := v.UnmarshalExact(
		&cfg,
		viper.DecodeHook(
			mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				stringToStringMapHookFunc(",", "="),
			),
		),
	); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	for name, src := range cfg.Sources {
		if src.MaxBatchSize == 0 {
			src.MaxBatchSize = DefaultMaxBatchSize
		}
		if src.Timeout == 0 {
			src.Timeout = DefaultSourceTimeout
		}
		cfg.Sources[name] = src
	}

	return &cfg, nil
}

// bindChangedFlags copies only explicitly-set flags into Viper,
// preserving precedence: flags > env > file > defaults.
func bindChangedFlags(v *viper.Viper, fs *pflag.FlagSet) {
	fs.Visit(func(f *pflag.Flag) {
		// configuration keys are dotted, anything else belongs to the command
		if f.Name == "config" || !strings.Contains(f.Name, ".") {
			return
		}

		switch f.Value.Type() {
		case "string":
			val, _ := fs.GetString(f.Name)
			v.Set(f.Name, val)
		case "bool":
			val, _ := fs.GetBool(f.Name)
			v.Set(f.Name, val)
		case "duration":
			val, _ := fs.GetDuration(f.Name)
			v.Set(f.Name, val)
		default:
			v.Set(f.Name, f.Value.String())
		}
	})
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("sources", map[string]interface{}{})

	v.SetDefault("execution.timeout", 30*time.Second)
	v.SetDefault("execution.leaf_errors", "report")
	v.SetDefault("execution.non_null_violations", "ignore")

	v.SetDefault("observability.service_name", "quarry")
	v.SetDefault("observability.service_version", "")
	v.SetDefault("observability.metrics_enabled", true)
	v.SetDefault("observability.metrics_dump", false)
	v.SetDefault("observability.tracing_enabled", false)
	v.SetDefault("observability.trace_sample_ratio", 1.0)

	v.SetDefault("observability.logging.level", "info")
	v.SetDefault("observability.logging.format", "json")
	v.SetDefault("observability.logging.exports_enabled", false)

	v.SetDefault("observability.otlp.endpoint", "localhost:4317")
	v.SetDefault("observability.otlp.protocol", "grpc")
	v.SetDefault("observability.otlp.insecure", false)
	v.SetDefault("observability.otlp.tls_cert_file", "")
	v.SetDefault("observability.otlp.headers", "")
	v.SetDefault("observability.otlp.timeout", 10*time.Second)
	v.SetDefault("observability.otlp.compression", "gzip")
}

// stringToStringMapHookFunc decodes "k1=v1,k2=v2" as found in env vars into a map.
func stringToStringMapHookFunc(sep, kv string) mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if from.Kind() != reflect.String || to != reflect.TypeOf(map[string]string{}) {
			return data, nil
		}

		raw := strings.TrimSpace(data.(string))
		res := map[string]string{}
		if raw == "" {
			return res, nil
		}

		for _, part := range strings.Split(raw, sep) {
			k, val, ok := strings.Cut(part, kv)
			if !ok {
				return nil, fmt.Errorf("invalid map entry %q, expected key%svalue", part, kv)
			}
			res[strings.TrimSpace(k)] = strings.TrimSpace(val)
		}
		return res, nil
	}
}

// ValidationError represents a configuration validation error with context.
type ValidationError struct {
	Field   string
	Message string
	Hint    string
}

func (e ValidationError) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("%s: %s (hint: %s)", e.Field, e.Message, e.Hint)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationWarning represents a non-fatal configuration issue.
type ValidationWarning struct {
	Field   string
	Message string
	Hint    string
}

// ValidationResult contains the results of configuration validation.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationWarning
}

// HasErrors returns true if there are any validation errors.
func (r *ValidationResult) HasErrors() bool {
	return len(r.Errors) > 0
}

// Error returns a combined error message if there are validation errors.
func (r *ValidationResult) Error() string {
	if !r.HasErrors() {
		return ""
	}
	var msgs []string
	for _, e := range r.Errors {
		msgs = append(msgs, e.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate checks the configuration for errors and returns validation results.
func (c *Config) Validate() *ValidationResult {
	result := &ValidationResult{}

	if len(c.Sources) == 0 {
		result.Warnings = append(result.Warnings, ValidationWarning{
			Field:   "sources",
			Message: "no sources configured",
			Hint:    "every plan step names a source that must be declared under sources.<name>.url",
		})
	}
	for _, name := range c.SourceNames() {
		src := c.Sources[name]
		src.validate("sources."+name, result)
	}

	c.Execution.validate(result)
	c.Observability.validate(result)

	return result
}

func (s *SourceConfig) validate(prefix string, result *ValidationResult) {
	parsed, err := url.Parse(s.URL)
	if s.URL == "" || err != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		result.Errors = append(result.Errors, ValidationError{
			Field:   prefix + ".url",
			Message: fmt.Sprintf("invalid source url %q", s.URL),
			Hint:    "use a full http(s) URL",
		})
	}
	if s.MaxBatchSize < 1 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   prefix + ".max_batch_size",
			Message: "max_batch_size must be positive",
		})
	}
	if s.Timeout < 0 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   prefix + ".timeout",
			Message: "timeout cannot be negative",
		})
	}
}

func (e *ExecutionConfig) validate(result *ValidationResult) {
	validLeafErrors := map[string]bool{"report": true, "suppress": true}
	if !validLeafErrors[e.LeafErrors] {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "execution.leaf_errors",
			Message: fmt.Sprintf("invalid leaf error policy %q", e.LeafErrors),
			Hint:    "valid values are: report, suppress",
		})
	}

	validNonNull := map[string]bool{"ignore": true, "report": true}
	if !validNonNull[e.NonNullViolations] {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "execution.non_null_violations",
			Message: fmt.Sprintf("invalid non-null violation policy %q", e.NonNullViolations),
			Hint:    "valid values are: ignore, report",
		})
	}

	if e.Timeout <= 0 {
		result.Warnings = append(result.Warnings, ValidationWarning{
			Field:   "execution.timeout",
			Message: "no execution timeout, requests wait for the slowest source",
		})
	}
}

func (o *ObservabilityConfig) validate(result *ValidationResult) {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[o.Logging.Level] {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "observability.logging.level",
			Message: fmt.Sprintf("invalid log level %q", o.Logging.Level),
			Hint:    "valid values are: debug, info, warn, error",
		})
	}

	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[o.Logging.Format] {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "observability.logging.format",
			Message: fmt.Sprintf("invalid log format %q", o.Logging.Format),
			Hint:    "valid values are: json, text",
		})
	}

	if o.TraceSampleRatio < 0 || o.TraceSampleRatio > 1 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "observability.trace_sample_ratio",
			Message: fmt.Sprintf("trace sample ratio %v is out of range", o.TraceSampleRatio),
			Hint:    "use a value between 0 and 1",
		})
	}

	if o.TracingEnabled || o.Logging.ExportsEnabled {
		o.OTLP.validate("observability.otlp", result)
	}
}

func (o *OTLPConfig) validate(prefix string, result *ValidationResult) {
	validProtocols := map[string]bool{"": true, "grpc": true, "http/protobuf": true}
	if !validProtocols[o.Protocol] {
		result.Errors = append(result.Errors, ValidationError{
			Field:   prefix + ".protocol",
			Message: fmt.Sprintf("invalid OTLP protocol %q", o.Protocol),
			Hint:    "valid values are: grpc, http/protobuf",
		})
	}

	if !validOTLPEndpoint(o.Endpoint) {
		result.Errors = append(result.Errors, ValidationError{
			Field:   prefix + ".endpoint",
			Message: fmt.Sprintf("invalid OTLP endpoint %q", o.Endpoint),
			Hint:    "use host:port or a full URL",
		})
	}

	validCompressions := map[string]bool{"": true, "none": true, "gzip": true}
	if !validCompressions[o.Compression] {
		result.Errors = append(result.Errors, ValidationError{
			Field:   prefix + ".compression",
			Message: fmt.Sprintf("invalid OTLP compression %q", o.Compression),
			Hint:    "valid values are: none, gzip",
		})
	}
}

func validOTLPEndpoint(endpoint string) bool {
	if endpoint == "" {
		return false
	}
	if strings.Contains(endpoint, "://") {
		parsed, err := url.Parse(endpoint)
		if err != nil {
			return false
		}
		return parsed.Host != ""
	}
	_, _, err := net.SplitHostPort(endpoint)
	return err == nil
}
