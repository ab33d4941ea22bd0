// Package config provides configuration management for the OSINT research service.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/helixir/osint-research-service/internal/domain"
)

// SSL mode constants for database connections.
const (
	// SSLModeDisable disables SSL (use only for local development).
	SSLModeDisable = "disable"
	// SSLModeRequire requires SSL but does not verify certificates.
	SSLModeRequire = "require"
	// SSLModeVerifyCA verifies the server certificate against a CA.
	SSLModeVerifyCA = "verify-ca"
	// SSLModeVerifyFull verifies the server certificate and hostname.
	SSLModeVerifyFull = "verify-full"
)

// EnvPrefix is the prefix of every environment variable the service reads.
const EnvPrefix = "OSINT"

// Operations that can be given their own model.
var ModelOperations = []string{
	"planning",
	"analysis",
	"entity_match",
	"connection_mapping",
	"synthesis",
}

// Config holds all configuration for the OSINT research service.
type Config struct {
	// Server contains HTTP/gRPC server settings.
	Server ServerConfig `mapstructure:"server"`
	// Database contains PostgreSQL connection settings.
	Database DatabaseConfig `mapstructure:"database"`
	// Temporal contains Temporal workflow orchestration settings.
	Temporal TemporalConfig `mapstructure:"temporal"`
	// Logging contains structured logging settings.
	Logging LoggingConfig `mapstructure:"logging"`
	// Metrics contains Prometheus metrics exposure settings.
	Metrics MetricsConfig `mapstructure:"metrics"`
	// LLM contains LLM provider settings and the per-operation model map.
	LLM LLMConfig `mapstructure:"llm"`
	// Search contains web search provider settings.
	Search SearchConfig `mapstructure:"search"`
	// Research contains the default research session limits.
	Research ResearchConfig `mapstructure:"research"`
	// Kafka contains audit stream and intake topic settings.
	Kafka KafkaConfig `mapstructure:"kafka"`
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	// Host is the address to bind the server to (default: 0.0.0.0).
	Host string `mapstructure:"host"`
	// HTTPPort is the HTTP server port (default: 8080).
	HTTPPort int `mapstructure:"http_port"`
	// GRPCPort is the gRPC health server port (default: 9090).
	GRPCPort int `mapstructure:"grpc_port"`
	// MetricsPort is the metrics server port (default: 9091).
	MetricsPort int `mapstructure:"metrics_port"`
	// ReadTimeout is the maximum duration for reading request body.
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	// WriteTimeout is the maximum duration for writing response.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// ShutdownTimeout is the maximum duration to wait for graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	// Host is the PostgreSQL server hostname.
	Host string `mapstructure:"host"`
	// Port is the PostgreSQL server port (default: 5432).
	Port int `mapstructure:"port"`
	// User is the database username.
	User string `mapstructure:"user"`
	// Password is the database password (use environment variable in production).
	Password string `mapstructure:"password"`
	// Name is the database name.
	Name string `mapstructure:"name"`
	// SSLMode controls SSL connection security (require, verify-ca, verify-full, disable).
	SSLMode string `mapstructure:"ssl_mode"`
	// MaxConns is the maximum number of connections in the pool (default: 20).
	MaxConns int32 `mapstructure:"max_conns"`
	// MinConns is the minimum number of connections to keep open (default: 2).
	MinConns int32 `mapstructure:"min_conns"`
	// MaxConnLifetime is the maximum lifetime of a connection before it's closed.
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	// MaxConnIdleTime is the maximum time a connection can be idle before it's closed.
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
	// HealthCheckPeriod is the interval between health checks of idle connections.
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
	// ConnectTimeout is the maximum time to wait for a connection.
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	// MigrationPath is the path to migration files (relative or absolute).
	MigrationPath string `mapstructure:"migration_path"`
	// MigrationAutoRun enables automatic migration on startup (default: false).
	MigrationAutoRun bool `mapstructure:"migration_auto_run"`
	// StatementCacheCapacity is the size of the prepared statement cache.
	StatementCacheCapacity int `mapstructure:"statement_cache_capacity"`
}

// TemporalConfig holds Temporal workflow configuration.
type TemporalConfig struct {
	// HostPort is the Temporal server address.
	HostPort string `mapstructure:"host_port"`
	// Namespace is the Temporal namespace.
	Namespace string `mapstructure:"namespace"`
	// TaskQueue is the task queue name for research workflows.
	TaskQueue string `mapstructure:"task_queue"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the log level (trace, debug, info, warn, error, fatal, panic).
	Level string `mapstructure:"level"`
	// Format is the log format (json, console).
	Format string `mapstructure:"format"`
	// Output is the log output destination (stdout, stderr, file path).
	Output string `mapstructure:"output"`
	// AddSource adds source file and line to log output.
	AddSource bool `mapstructure:"add_source"`
	// TimeFormat is the timestamp format.
	TimeFormat string `mapstructure:"time_format"`
}

// MetricsConfig holds metrics configuration.
type MetricsConfig struct {
	// Enabled enables metrics collection and exposure.
	Enabled bool `mapstructure:"enabled"`
	// Path is the HTTP path for metrics endpoint.
	Path string `mapstructure:"path"`
}

// LLMConfig holds LLM client configuration.
type LLMConfig struct {
	// Provider is the default LLM provider (openai, anthropic).
	Provider string `mapstructure:"provider"`
	// Timeout is the timeout for LLM API calls.
	Timeout time.Duration `mapstructure:"timeout"`
	// MaxRetries is the maximum number of retries for transient failures.
	MaxRetries int `mapstructure:"max_retries"`
	// Temperature is the default sampling temperature.
	Temperature float64 `mapstructure:"temperature"`
	// RequestsPerSecond limits calls per provider; zero disables limiting.
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	// Burst is the rate limiter burst size.
	Burst int `mapstructure:"burst"`
	// OpenAI contains OpenAI-specific settings.
	OpenAI ProviderConfig `mapstructure:"openai"`
	// Anthropic contains Anthropic-specific settings.
	Anthropic ProviderConfig `mapstructure:"anthropic"`
	// Operations selects the model per research operation.
	Operations map[string]OperationModelConfig `mapstructure:"operations"`
}

// ProviderConfig holds settings for one LLM provider.
type ProviderConfig struct {
	// APIKey is loaded from OSINT_LLM_<PROVIDER>_API_KEY only.
	APIKey string `mapstructure:"-"`
	// Model is the provider's default model.
	Model string `mapstructure:"model"`
	// BaseURL is the API base URL (for custom endpoints).
	BaseURL string `mapstructure:"base_url"`
}

// OperationModelConfig selects the model for one operation. Empty fields
// fall back to the provider defaults.
type OperationModelConfig struct {
	Provider    string   `mapstructure:"provider"`
	Model       string   `mapstructure:"model"`
	Temperature *float64 `mapstructure:"temperature"`
	MaxTokens   int      `mapstructure:"max_tokens"`
}

// Providers returns the names of providers with an API key, sorted.
func (c *LLMConfig) Providers() []string {
	var names []string
	if c.OpenAI.APIKey != "" {
		names = append(names, "openai")
	}
	if c.Anthropic.APIKey != "" {
		names = append(names, "anthropic")
	}
	sort.Strings(names)
	return names
}

// SearchConfig holds web search provider configuration.
type SearchConfig struct {
	// Provider is the primary provider (tavily, openai_web_search).
	Provider string `mapstructure:"provider"`
	// MaxRetries is the number of retries for rate limited and failed requests.
	MaxRetries int `mapstructure:"max_retries"`
	// Tavily contains Tavily settings.
	Tavily TavilyConfig `mapstructure:"tavily"`
	// OpenAI contains OpenAI web search settings.
	OpenAI OpenAISearchConfig `mapstructure:"openai"`
}

// TavilyConfig holds Tavily search settings.
type TavilyConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// APIKey is loaded from OSINT_SEARCH_TAVILY_API_KEY only.
	APIKey      string        `mapstructure:"-"`
	BaseURL     string        `mapstructure:"base_url"`
	SearchDepth string        `mapstructure:"search_depth"`
	MaxResults  int           `mapstructure:"max_results"`
	Timeout     time.Duration `mapstructure:"timeout"`
	RateLimit   float64       `mapstructure:"rate_limit"`
	BurstSize   int           `mapstructure:"burst_size"`
}

// OpenAISearchConfig holds OpenAI web search settings. The API key is
// shared with the OpenAI LLM provider.
type OpenAISearchConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	BaseURL     string        `mapstructure:"base_url"`
	Model       string        `mapstructure:"model"`
	ContextSize string        `mapstructure:"context_size"`
	Timeout     time.Duration `mapstructure:"timeout"`
	RateLimit   float64       `mapstructure:"rate_limit"`
	BurstSize   int           `mapstructure:"burst_size"`
}

// ResearchConfig holds default research session limits.
type ResearchConfig struct {
	// MaxDepth is the maximum number of research rounds (1..10).
	MaxDepth int `mapstructure:"max_depth"`
	// MaxQueriesPerDepth caps the queries run per round (1..20).
	MaxQueriesPerDepth int `mapstructure:"max_queries_per_depth"`
	// MaxConcurrentSearches bounds the search fan-out (1..5).
	MaxConcurrentSearches int `mapstructure:"max_concurrent_searches"`
	// StagnationCheckIterations is the stagnation window (1..5).
	StagnationCheckIterations int `mapstructure:"stagnation_check_iterations"`
	// SearchTimeout bounds a single search query.
	SearchTimeout time.Duration `mapstructure:"search_timeout"`
	// ReportsDir is where report files are written; empty disables them.
	ReportsDir string `mapstructure:"reports_dir"`
	// ReportFormats lists the file formats written (json, yaml).
	ReportFormats []string `mapstructure:"report_formats"`
}

// Limits returns the session limits as a domain.ResearchConfig.
func (c *ResearchConfig) Limits() domain.ResearchConfig {
	return domain.ResearchConfig{
		MaxDepth:                  c.MaxDepth,
		MaxQueriesPerDepth:        c.MaxQueriesPerDepth,
		MaxConcurrentSearches:     c.MaxConcurrentSearches,
		StagnationCheckIterations: c.StagnationCheckIterations,
		SearchTimeoutSeconds:      int(c.SearchTimeout.Seconds()),
	}
}

// KafkaConfig holds Kafka settings for the audit stream and the intake listener.
type KafkaConfig struct {
	// Enabled controls whether Kafka is used at all.
	Enabled bool `mapstructure:"enabled"`
	// Brokers is the list of Kafka broker addresses.
	Brokers []string `mapstructure:"brokers"`
	// AuditTopic receives every audit event.
	AuditTopic string `mapstructure:"audit_topic"`
	// EventsTopic receives session lifecycle events.
	EventsTopic string `mapstructure:"events_topic"`
	// IntakeTopic carries session requests from other services.
	IntakeTopic string `mapstructure:"intake_topic"`
	// IntakeEnabled starts the intake listener in the server.
	IntakeEnabled bool `mapstructure:"intake_enabled"`
	// GroupID is the consumer group of the intake listener.
	GroupID string `mapstructure:"group_id"`
	// BatchSize is the maximum number of messages to batch before sending.
	BatchSize int `mapstructure:"batch_size"`
	// BatchTimeout is the maximum time to wait for a batch to fill before sending.
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
}

// DSN returns the PostgreSQL connection string.
func (c *DatabaseConfig) DSN() string {
	params := url.Values{}
	params.Set("sslmode", c.SSLMode)
	if c.ConnectTimeout > 0 {
		params.Set("connect_timeout", fmt.Sprintf("%d", int(c.ConnectTimeout.Seconds())))
	}
	if c.StatementCacheCapacity > 0 {
		params.Set("statement_cache_capacity", fmt.Sprintf("%d", c.StatementCacheCapacity))
	}

	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?%s",
		url.QueryEscape(c.User),
		url.QueryEscape(c.Password),
		c.Host,
		c.Port,
		c.Name,
		params.Encode(),
	)
}

// HTTPAddress returns the HTTP server address.
func (c *ServerConfig) HTTPAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.HTTPPort)
}

// GRPCAddress returns the gRPC server address.
func (c *ServerConfig) GRPCAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.GRPCPort)
}

// MetricsAddress returns the metrics server address.
func (c *ServerConfig) MetricsAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.MetricsPort)
}

// Load loads configuration from environment variables and config files.
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile is Load with an explicit config file. An empty path searches
// the default locations.
func LoadFile(path string) (*Config, error) {
	cfg, err := read(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// LoadStorage loads configuration for tools that only touch the database,
// such as migrations and audit replay. Provider keys are not required.
func LoadStorage(path string) (*Config, error) {
	cfg, err := read(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.validateStorage(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func read(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/osint-research-service")
	}

	if err := v.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	loadSecrets(&cfg)
	return &cfg, nil
}

// loadSecrets populates secret fields exclusively from environment variables.
// These fields are tagged with mapstructure:"-" to prevent loading from config files.
func loadSecrets(cfg *Config) {
	cfg.LLM.OpenAI.APIKey = os.Getenv(EnvPrefix + "_LLM_OPENAI_API_KEY")
	cfg.LLM.Anthropic.APIKey = os.Getenv(EnvPrefix + "_LLM_ANTHROPIC_API_KEY")
	cfg.Search.Tavily.APIKey = os.Getenv(EnvPrefix + "_SEARCH_TAVILY_API_KEY")
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.grpc_port", 9090)
	v.SetDefault("server.metrics_port", 9091)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "30s")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "osint")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "osint_research_service")
	// Use OSINT_DATABASE_SSL_MODE=disable for local development.
	v.SetDefault("database.ssl_mode", SSLModeRequire)
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "30m")
	v.SetDefault("database.health_check_period", "30s")
	v.SetDefault("database.connect_timeout", "10s")
	v.SetDefault("database.migration_path", "migrations")
	v.SetDefault("database.migration_auto_run", false)
	v.SetDefault("database.statement_cache_capacity", 512)

	// Temporal defaults
	v.SetDefault("temporal.host_port", "localhost:7233")
	v.SetDefault("temporal.namespace", "osint-research")
	v.SetDefault("temporal.task_queue", "osint-research-tasks")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	// LLM defaults
	// API keys are loaded exclusively from environment variables (see loadSecrets).
	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.timeout", "120s")
	v.SetDefault("llm.max_retries", 3)
	v.SetDefault("llm.temperature", 0.2)
	v.SetDefault("llm.requests_per_second", 0)
	v.SetDefault("llm.burst", 1)
	v.SetDefault("llm.openai.model", "gpt-4o")
	v.SetDefault("llm.openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.anthropic.model", "claude-sonnet-4-5")
	v.SetDefault("llm.anthropic.base_url", "https://api.anthropic.com")
	for _, op := range ModelOperations {
		v.SetDefault("llm.operations."+op+".provider", "")
		v.SetDefault("llm.operations."+op+".model", "")
		v.SetDefault("llm.operations."+op+".max_tokens", 0)
	}

	// Search defaults
	v.SetDefault("search.provider", "tavily")
	v.SetDefault("search.max_retries", 2)
	v.SetDefault("search.tavily.enabled", true)
	v.SetDefault("search.tavily.base_url", "https://api.tavily.com")
	v.SetDefault("search.tavily.search_depth", "advanced")
	v.SetDefault("search.tavily.max_results", 5)
	v.SetDefault("search.tavily.timeout", "30s")
	v.SetDefault("search.tavily.rate_limit", 5.0)
	v.SetDefault("search.tavily.burst_size", 5)
	v.SetDefault("search.openai.enabled", false)
	v.SetDefault("search.openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("search.openai.model", "gpt-4o")
	v.SetDefault("search.openai.context_size", "medium")
	v.SetDefault("search.openai.timeout", "60s")
	v.SetDefault("search.openai.rate_limit", 2.0)
	v.SetDefault("search.openai.burst_size", 2)

	// Research defaults
	v.SetDefault("research.max_depth", 4)
	v.SetDefault("research.max_queries_per_depth", 5)
	v.SetDefault("research.max_concurrent_searches", 5)
	v.SetDefault("research.stagnation_check_iterations", 2)
	v.SetDefault("research.search_timeout", "30s")
	v.SetDefault("research.reports_dir", "reports")
	v.SetDefault("research.report_formats", []string{"json"})

	// Kafka defaults
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.audit_topic", "events.osint_research.audit")
	v.SetDefault("kafka.events_topic", "events.osint_research.sessions")
	v.SetDefault("kafka.intake_topic", "requests.osint_research.sessions")
	v.SetDefault("kafka.intake_enabled", false)
	v.SetDefault("kafka.group_id", "osint-research-service")
	v.SetDefault("kafka.batch_size", 100)
	v.SetDefault("kafka.batch_timeout", "10ms")
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	// Validate server ports
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.Server.HTTPPort)
	}
	if c.Server.GRPCPort <= 0 || c.Server.GRPCPort > 65535 {
		return fmt.Errorf("invalid gRPC port: %d", c.Server.GRPCPort)
	}
	if c.Server.MetricsPort <= 0 || c.Server.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", c.Server.MetricsPort)
	}

	if err := c.validateStorage(); err != nil {
		return err
	}

	// Validate research limits
	if err := c.Research.Limits().Validate(); err != nil {
		return fmt.Errorf("research: %w", err)
	}
	for _, f := range c.Research.ReportFormats {
		if f != "json" && f != "yaml" {
			return fmt.Errorf("unsupported report format: %q", f)
		}
	}

	// Validate that the configured LLM providers have their API keys set.
	if err := c.LLM.validateProvider(c.LLM.Provider); err != nil {
		return err
	}
	for op, m := range c.LLM.Operations {
		if m.Provider == "" {
			continue
		}
		if err := c.LLM.validateProvider(m.Provider); err != nil {
			return fmt.Errorf("llm operation %s: %w", op, err)
		}
	}

	// Validate search providers
	switch c.Search.Provider {
	case "tavily":
		if !c.Search.Tavily.Enabled {
			return fmt.Errorf("search provider tavily is not enabled")
		}
		if c.Search.Tavily.APIKey == "" {
			return fmt.Errorf("search provider tavily requires %s_SEARCH_TAVILY_API_KEY to be set", EnvPrefix)
		}
	case "openai_web_search":
		if !c.Search.OpenAI.Enabled {
			return fmt.Errorf("search provider openai_web_search is not enabled")
		}
		if c.LLM.OpenAI.APIKey == "" {
			return fmt.Errorf("search provider openai_web_search requires %s_LLM_OPENAI_API_KEY to be set", EnvPrefix)
		}
	default:
		return fmt.Errorf("unsupported search provider: %q", c.Search.Provider)
	}

	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka brokers are required when kafka is enabled")
	}

	return nil
}

func (c *LLMConfig) validateProvider(provider string) error {
	switch strings.ToLower(provider) {
	case "openai":
		if c.OpenAI.APIKey == "" {
			return fmt.Errorf("LLM provider %q requires %s_LLM_OPENAI_API_KEY to be set", provider, EnvPrefix)
		}
	case "anthropic":
		if c.Anthropic.APIKey == "" {
			return fmt.Errorf("LLM provider %q requires %s_LLM_ANTHROPIC_API_KEY to be set", provider, EnvPrefix)
		}
	default:
		return fmt.Errorf("unsupported LLM provider: %q", provider)
	}
	return nil
}

// validateStorage checks the database and logging sections.
func (c *Config) validateStorage() error {
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if c.Database.Port <= 0 || c.Database.Port > 65535 {
		return fmt.Errorf("invalid database port: %d", c.Database.Port)
	}
	if c.Database.Name == "" {
		return fmt.Errorf("database name is required")
	}
	if c.Database.MaxConns < c.Database.MinConns {
		return fmt.Errorf("max_conns (%d) must be >= min_conns (%d)", c.Database.MaxConns, c.Database.MinConns)
	}

	validLogLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}
	return nil
}
