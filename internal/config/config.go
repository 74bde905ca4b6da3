// Package config loads WriteFlow's runtime configuration: provider
// selection and credentials, model pointers, token ceilings, queue and
// worker-pool sizing, default timeouts, and per-mode permission policies
// (spec §6 "Configuration"). Configuration is immutable after Load:
// validated once at startup (fatal on error), never re-read at turn time.
package config

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/writeflow/writeflow/pkg/wfmodel"
)

// Config is the top-level runtime configuration object.
type Config struct {
	DefaultProvider string                    `yaml:"default_provider"`
	Providers       map[string]ProviderConfig `yaml:"providers"`
	Models          ModelsConfig              `yaml:"models"`
	Context         ContextConfig             `yaml:"context"`
	Queue           QueueConfig               `yaml:"queue"`
	Dispatch        DispatchConfig            `yaml:"dispatch"`
	Permissions     map[string]PolicyConfig   `yaml:"permissions"`
	Logging         LoggingConfig             `yaml:"logging"`
	Observability   ObservabilityConfig       `yaml:"observability"`
}

// ProviderConfig holds credentials and transport overrides for one LLM
// provider (spec §6 "provider selection and API credentials").
type ProviderConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// ModelsConfig names the model pointed to by each role the orchestrator
// dispatches requests against (spec §6 "model pointers (main, task,
// reasoning, quick)").
type ModelsConfig struct {
	Main      string `yaml:"main"`
	Task      string `yaml:"task"`
	Reasoning string `yaml:"reasoning"`
	Quick     string `yaml:"quick"`
}

// ContextConfig bounds the Working Context and configures when the
// Context Compressor triggers (spec §4.B, §6 "token ceiling").
type ContextConfig struct {
	// MaxTokens is the Working Context's token ceiling.
	MaxTokens int `yaml:"max_tokens"`

	// CompressionTrigger is the fraction of MaxTokens (0, 1] at which the
	// compressor runs. Defaults to 0.85 (Open Question resolution in
	// SPEC_FULL.md: the source's own CompactionConfig defaults to 0.8).
	CompressionTrigger float64 `yaml:"compression_trigger"`

	// KeepNewestTurns is the number of most recent turns the compressor
	// never touches (spec §4.B invariant).
	KeepNewestTurns int `yaml:"keep_newest_turns"`
}

// QueueConfig sizes the Message Queue (spec §4.A, §6 "queue capacity").
type QueueConfig struct {
	Capacity              int `yaml:"capacity"`
	BackpressureThreshold int `yaml:"backpressure_threshold"`
}

// DispatchConfig sizes the Tool Dispatcher's worker pool and per-call
// timeouts (spec §4.E, §6 "worker-pool size", "default timeouts").
type DispatchConfig struct {
	WorkerPoolSize int           `yaml:"worker_pool_size"`
	DefaultTimeout time.Duration `yaml:"default_timeout"`
	MaxTimeout     time.Duration `yaml:"max_timeout"`
	GracePeriod    time.Duration `yaml:"grace_period"`
}

// PolicyConfig is the on-disk shape of a wfmodel.PermissionPolicy, keyed
// by mode name ("default", "plan") in Config.Permissions (spec §3, §4.C,
// §6 "permission policies per mode").
type PolicyConfig struct {
	AlwaysAllow []string `yaml:"always_allow"`
	AlwaysDeny  []string `yaml:"always_deny"`
	Prompt      []string `yaml:"prompt"`
}

// ToPolicy converts the on-disk representation to the runtime type.
func (p PolicyConfig) ToPolicy() wfmodel.PermissionPolicy {
	return wfmodel.PermissionPolicy{
		AlwaysAllow: append([]string(nil), p.AlwaysAllow...),
		AlwaysDeny:  append([]string(nil), p.AlwaysDeny...),
		Prompt:      append([]string(nil), p.Prompt...),
	}
}

// LoggingConfig controls the slog handler cmd/writeflow installs at
// startup.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ObservabilityConfig controls the metrics and tracing legs of the
// ambient stack.
type ObservabilityConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

// MetricsConfig controls the Prometheus metrics endpoint.
type MetricsConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
}

// TracingConfig controls the OpenTelemetry tracer.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Endpoint     string  `yaml:"endpoint"`
	ServiceName  string  `yaml:"service_name"`
	Environment  string  `yaml:"environment"`
	SamplingRate float64 `yaml:"sampling_rate"`
	Insecure     bool    `yaml:"insecure"`
}

// Load reads and parses the configuration file at path, applies
// environment overrides and defaults, then validates the result.
// Unknown fields are rejected so a typo in the config file fails fast
// rather than silently defaulting.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	decoder := yaml.NewDecoder(strings.NewReader(expanded))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := decoder.Decode(new(struct{})); err != io.EOF {
		return nil, fmt.Errorf("parse config: expected a single YAML document")
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if cfg.Providers == nil {
		cfg.Providers = map[string]ProviderConfig{}
	}
	if key := strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY")); key != "" {
		entry := cfg.Providers["anthropic"]
		entry.APIKey = key
		cfg.Providers["anthropic"] = entry
	}
	if key := strings.TrimSpace(os.Getenv("OPENAI_API_KEY")); key != "" {
		entry := cfg.Providers["openai"]
		entry.APIKey = key
		cfg.Providers["openai"] = entry
	}
	if level := strings.TrimSpace(os.Getenv("WRITEFLOW_LOG_LEVEL")); level != "" {
		cfg.Logging.Level = level
	}
	if endpoint := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")); endpoint != "" {
		cfg.Observability.Tracing.Endpoint = endpoint
	}
	if queueCap := strings.TrimSpace(os.Getenv("WRITEFLOW_QUEUE_CAPACITY")); queueCap != "" {
		if parsed, err := strconv.Atoi(queueCap); err == nil {
			cfg.Queue.Capacity = parsed
		}
	}
}

func applyDefaults(cfg *Config) {
	if cfg.DefaultProvider == "" {
		cfg.DefaultProvider = "anthropic"
	}
	if cfg.Models.Main == "" {
		cfg.Models.Main = "claude-sonnet-4-20250514"
	}
	if cfg.Models.Task == "" {
		cfg.Models.Task = cfg.Models.Main
	}
	if cfg.Models.Reasoning == "" {
		cfg.Models.Reasoning = "claude-opus-4-20250514"
	}
	if cfg.Models.Quick == "" {
		cfg.Models.Quick = "claude-3-5-sonnet-20241022"
	}

	if cfg.Context.MaxTokens == 0 {
		cfg.Context.MaxTokens = 100000
	}
	if cfg.Context.CompressionTrigger == 0 {
		cfg.Context.CompressionTrigger = 0.85
	}
	if cfg.Context.KeepNewestTurns == 0 {
		cfg.Context.KeepNewestTurns = 2
	}

	if cfg.Queue.Capacity == 0 {
		cfg.Queue.Capacity = 10000
	}
	if cfg.Queue.BackpressureThreshold == 0 {
		cfg.Queue.BackpressureThreshold = 8000
	}

	if cfg.Dispatch.WorkerPoolSize == 0 {
		cfg.Dispatch.WorkerPoolSize = 10
	}
	if cfg.Dispatch.DefaultTimeout == 0 {
		cfg.Dispatch.DefaultTimeout = 120 * time.Second
	}
	if cfg.Dispatch.MaxTimeout == 0 {
		cfg.Dispatch.MaxTimeout = 600 * time.Second
	}
	if cfg.Dispatch.GracePeriod == 0 {
		cfg.Dispatch.GracePeriod = 5 * time.Second
	}

	if cfg.Permissions == nil {
		cfg.Permissions = map[string]PolicyConfig{}
	}
	if _, ok := cfg.Permissions[string(wfmodel.ModeDefault)]; !ok {
		cfg.Permissions[string(wfmodel.ModeDefault)] = PolicyConfig{}
	}
	if _, ok := cfg.Permissions[string(wfmodel.ModePlan)]; !ok {
		cfg.Permissions[string(wfmodel.ModePlan)] = PolicyConfig{
			AlwaysAllow: []string{wfmodel.ExitPlanModeTool},
		}
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Observability.Metrics.ListenAddr == "" {
		cfg.Observability.Metrics.ListenAddr = ":9090"
	}
	if cfg.Observability.Tracing.ServiceName == "" {
		cfg.Observability.Tracing.ServiceName = "writeflow"
	}
	if cfg.Observability.Tracing.SamplingRate == 0 {
		cfg.Observability.Tracing.SamplingRate = 1.0
	}
}

// ValidationError describes one or more configuration validation
// failures found at startup.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	return "config validation failed:\n- " + strings.Join(e.Issues, "\n- ")
}

func validate(cfg *Config) error {
	var issues []string

	if _, ok := cfg.Providers[cfg.DefaultProvider]; !ok {
		issues = append(issues, fmt.Sprintf("providers is missing an entry for default_provider %q", cfg.DefaultProvider))
	}
	if cfg.Context.CompressionTrigger <= 0 || cfg.Context.CompressionTrigger > 1 {
		issues = append(issues, "context.compression_trigger must be in (0, 1]")
	}
	if cfg.Context.KeepNewestTurns < 0 {
		issues = append(issues, "context.keep_newest_turns must be >= 0")
	}
	if cfg.Context.MaxTokens <= 0 {
		issues = append(issues, "context.max_tokens must be > 0")
	}
	if cfg.Queue.Capacity <= 0 {
		issues = append(issues, "queue.capacity must be > 0")
	}
	if cfg.Queue.BackpressureThreshold <= 0 || cfg.Queue.BackpressureThreshold > cfg.Queue.Capacity {
		issues = append(issues, "queue.backpressure_threshold must be in (0, queue.capacity]")
	}
	if cfg.Dispatch.WorkerPoolSize <= 0 {
		issues = append(issues, "dispatch.worker_pool_size must be > 0")
	}
	if cfg.Dispatch.DefaultTimeout <= 0 {
		issues = append(issues, "dispatch.default_timeout must be > 0")
	}
	if cfg.Dispatch.MaxTimeout < cfg.Dispatch.DefaultTimeout {
		issues = append(issues, "dispatch.max_timeout must be >= dispatch.default_timeout")
	}
	if cfg.Dispatch.GracePeriod < 0 {
		issues = append(issues, "dispatch.grace_period must be >= 0")
	}
	for mode := range cfg.Permissions {
		if mode != string(wfmodel.ModeDefault) && mode != string(wfmodel.ModePlan) {
			issues = append(issues, fmt.Sprintf("permissions key %q must be %q or %q", mode, wfmodel.ModeDefault, wfmodel.ModePlan))
		}
	}
	switch strings.ToLower(cfg.Logging.Format) {
	case "json", "text":
	default:
		issues = append(issues, "logging.format must be \"json\" or \"text\"")
	}
	if cfg.Observability.Tracing.SamplingRate < 0 || cfg.Observability.Tracing.SamplingRate > 1 {
		issues = append(issues, "observability.tracing.sampling_rate must be in [0, 1]")
	}

	if len(issues) > 0 {
		return &ValidationError{Issues: issues}
	}
	return nil
}

// PolicyFor returns the permission policy configured for mode, or the
// zero-value policy (deny nothing explicitly, prompt nothing explicitly)
// if none was configured.
func (c *Config) PolicyFor(mode wfmodel.Mode) wfmodel.PermissionPolicy {
	if c == nil {
		return wfmodel.PermissionPolicy{}
	}
	return c.Permissions[string(mode)].ToPolicy()
}
