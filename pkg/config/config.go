package config

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/amz-sunilvbs/aws-healthscribe-demo/pkg/types"
)

// Config holds all configuration for the application. It is loaded once by
// the composition root and handed to the components that need it.
type Config struct {
	// Server configuration
	Server ServerConfig `mapstructure:"server"`

	// AWS configuration
	AWS AWSConfig `mapstructure:"aws"`

	// DynamoDB table configuration
	Tables TablesConfig `mapstructure:"tables"`

	// Token validation configuration
	Auth AuthConfig `mapstructure:"auth"`

	// Side effect event log configuration
	EventLog EventLogConfig `mapstructure:"event_log"`

	// Side effect queue configuration
	SideEffects SideEffectsConfig `mapstructure:"side_effects"`

	// Monitoring configuration
	Monitoring MonitoringConfig `mapstructure:"monitoring"`

	// CLI client configuration
	Client ClientConfig `mapstructure:"client"`

	// Logging configuration
	LogLevel string `mapstructure:"log_level"`
}

// ServerConfig holds server-specific configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxUploadBytes  int64         `mapstructure:"max_upload_bytes"`
	RateLimit       int           `mapstructure:"rate_limit"`
	RatePeriod      time.Duration `mapstructure:"rate_period"`
}

// AWSConfig holds the managed service identifiers
type AWSConfig struct {
	Region            string `mapstructure:"region"`
	Endpoint          string `mapstructure:"endpoint"`
	UserPoolID        string `mapstructure:"user_pool_id"`
	UserPoolClientID  string `mapstructure:"user_pool_client_id"`
	Bucket            string `mapstructure:"bucket"`
	AudioPrefix       string `mapstructure:"audio_prefix"`
	DataAccessRoleARN string `mapstructure:"data_access_role_arn"`
}

// TablesConfig holds DynamoDB table and index names
type TablesConfig struct {
	Preferences          string `mapstructure:"preferences"`
	Patients             string `mapstructure:"patients"`
	PatientNameIndex     string `mapstructure:"patient_name_index"`
	PatientDateIndex     string `mapstructure:"patient_date_index"`
	Encounters           string `mapstructure:"encounters"`
	EncounterCreateIndex string `mapstructure:"encounter_created_index"`
}

// Token validation modes
const (
	// AuthModeUserPool verifies RS256 tokens against the user pool's JWKS
	AuthModeUserPool = "user_pool"
	// AuthModeSharedSecret verifies HS256 tokens signed with JWTSecret.
	// Local development only.
	AuthModeSharedSecret = "shared_secret"
)

// AuthConfig holds access token validation configuration. Issuer and
// Audience only apply in shared secret mode; the user pool mode derives
// them from the pool.
type AuthConfig struct {
	Mode          string `mapstructure:"mode"`
	JWTSecret     string `mapstructure:"jwt_secret"`
	Issuer        string `mapstructure:"issuer"`
	Audience      string `mapstructure:"audience"`
	RequiredGroup string `mapstructure:"required_group"`
}

// EventLogConfig holds the optional Postgres event log configuration
type EventLogConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// SideEffectsConfig holds the side effect queue configuration
type SideEffectsConfig struct {
	Buffer      int           `mapstructure:"buffer"`
	TaskTimeout time.Duration `mapstructure:"task_timeout"`
}

// MonitoringConfig holds monitoring configuration
type MonitoringConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	MetricsPath string        `mapstructure:"metrics_path"`
	HealthPath  string        `mapstructure:"health_path"`
	Tracing     TracingConfig `mapstructure:"tracing"`
}

// TracingConfig selects the span exporter. Exporter is "otlp" (Endpoint is
// the collector URL, e.g. http://localhost:4318) or "stdout".
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	Exporter    string  `mapstructure:"exporter"`
	Endpoint    string  `mapstructure:"endpoint"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
	Environment string  `mapstructure:"environment"`
}

// ClientConfig holds configuration for the provider-facing CLI
type ClientConfig struct {
	APIBaseURL     string        `mapstructure:"api_base_url"`
	Token          string        `mapstructure:"token"`
	LocalStorePath string        `mapstructure:"local_store_path"`
	Timeout        time.Duration `mapstructure:"timeout"`
}

// Load loads configuration from an optional config file and the
// environment. An explicit path takes precedence over the search paths.
func Load(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/healthscribe")
	}

	// Set default values
	setDefaults(v)

	// Enable environment variable support
	v.SetEnvPrefix("SCRIBE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindLegacyEnv(v)

	// Read config file if it exists
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 5*time.Minute)
	v.SetDefault("server.idle_timeout", 120*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("server.max_upload_bytes", int64(500<<20))
	v.SetDefault("server.rate_limit", 100)
	v.SetDefault("server.rate_period", time.Minute)

	// Keys without a meaningful default are registered so the environment
	// reaches them through Unmarshal.
	for _, key := range []string{"aws.endpoint", "auth.jwt_secret", "auth.issuer", "auth.audience", "auth.required_group", "event_log.dsn"} {
		v.SetDefault(key, "")
	}

	// Auth defaults
	v.SetDefault("auth.mode", AuthModeUserPool)

	// AWS defaults
	v.SetDefault("aws.audio_prefix", "audio/")

	// Table defaults
	v.SetDefault("tables.preferences", "healthscribe-user-preferences")
	v.SetDefault("tables.patients", "healthscribe-patients")
	v.SetDefault("tables.patient_name_index", "ProviderNameIndex")
	v.SetDefault("tables.patient_date_index", "ProviderDateIndex")
	v.SetDefault("tables.encounters", "healthscribe-encounters")
	v.SetDefault("tables.encounter_created_index", "ProviderCreatedIndex")

	// Event log defaults
	v.SetDefault("event_log.max_open_conns", 5)
	v.SetDefault("event_log.max_idle_conns", 2)
	v.SetDefault("event_log.conn_max_lifetime", 5*time.Minute)

	// Side effect defaults
	v.SetDefault("side_effects.buffer", 64)
	v.SetDefault("side_effects.task_timeout", 15*time.Second)

	// Monitoring defaults
	v.SetDefault("monitoring.enabled", true)
	v.SetDefault("monitoring.metrics_path", "/metrics")
	v.SetDefault("monitoring.health_path", "/health")
	v.SetDefault("monitoring.tracing.enabled", false)
	v.SetDefault("monitoring.tracing.exporter", "otlp")
	v.SetDefault("monitoring.tracing.endpoint", "")
	v.SetDefault("monitoring.tracing.sample_ratio", 1.0)
	v.SetDefault("monitoring.tracing.environment", "development")

	// Client defaults
	v.SetDefault("client.local_store_path", "")
	v.SetDefault("client.timeout", time.Duration(0))

	// Logging defaults
	v.SetDefault("log_level", "info")
}

// bindLegacyEnv maps the variable names used by the deployment templates
// onto configuration keys.
func bindLegacyEnv(v *viper.Viper) {
	bindings := map[string][]string{
		"aws.region":                  {"SCRIBE_AWS_REGION", "AWS_REGION"},
		"aws.user_pool_id":            {"SCRIBE_AWS_USER_POOL_ID", "USER_POOL_ID"},
		"aws.user_pool_client_id":     {"SCRIBE_AWS_USER_POOL_CLIENT_ID", "USER_POOL_CLIENT_ID"},
		"aws.bucket":                  {"SCRIBE_AWS_BUCKET", "STORAGE_BUCKET"},
		"aws.data_access_role_arn":    {"SCRIBE_AWS_DATA_ACCESS_ROLE_ARN", "HEALTHSCRIBE_SERVICE_ROLE"},
		"client.api_base_url":         {"SCRIBE_CLIENT_API_BASE_URL", "PREFERENCES_API_URL"},
		"client.token":                {"SCRIBE_CLIENT_TOKEN", "SCRIBE_TOKEN"},
		"log_level":                   {"SCRIBE_LOG_LEVEL", "LOG_LEVEL"},
		"monitoring.tracing.endpoint": {"SCRIBE_MONITORING_TRACING_ENDPOINT", "OTEL_EXPORTER_OTLP_TRACES_ENDPOINT"},
	}
	for key, envs := range bindings {
		args := append([]string{key}, envs...)
		_ = v.BindEnv(args...)
	}
}

// Validate validates the configuration required by the API service.
// Every missing value is reported at once.
func (c *Config) Validate() error {
	var missing []string
	required := map[string]string{
		"aws.region":               c.AWS.Region,
		"aws.bucket":               c.AWS.Bucket,
		"aws.data_access_role_arn": c.AWS.DataAccessRoleARN,
	}
	switch c.Auth.Mode {
	case AuthModeUserPool:
		required["aws.user_pool_id"] = c.AWS.UserPoolID
		required["aws.user_pool_client_id"] = c.AWS.UserPoolClientID
	case AuthModeSharedSecret:
		required["auth.jwt_secret"] = c.Auth.JWTSecret
	default:
		return types.NewConfigurationError(fmt.Sprintf("invalid auth.mode %q: use %s or %s", c.Auth.Mode, AuthModeUserPool, AuthModeSharedSecret), nil)
	}
	for _, key := range slices.Sorted(maps.Keys(required)) {
		if strings.TrimSpace(required[key]) == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return types.NewConfigurationError("missing required configuration: "+strings.Join(missing, ", "), missing)
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return types.NewConfigurationError(fmt.Sprintf("invalid server port: %d", c.Server.Port), nil)
	}
	if t := c.Monitoring.Tracing; t.Enabled {
		if t.Exporter != "otlp" && t.Exporter != "stdout" {
			return types.NewConfigurationError(fmt.Sprintf("invalid monitoring.tracing.exporter %q: use otlp or stdout", t.Exporter), nil)
		}
		if t.SampleRatio < 0 || t.SampleRatio > 1 {
			return types.NewConfigurationError(fmt.Sprintf("invalid monitoring.tracing.sample_ratio: %g", t.SampleRatio), nil)
		}
	}
	if c.SideEffects.Buffer <= 0 {
		return types.NewConfigurationError(fmt.Sprintf("invalid side effect buffer: %d", c.SideEffects.Buffer), nil)
	}

	return nil
}

// ValidateClient validates the configuration required by the CLI
func (c *Config) ValidateClient() error {
	if strings.TrimSpace(c.Client.APIBaseURL) == "" {
		return types.NewConfigurationError("missing required configuration: client.api_base_url",
			[]string{"client.api_base_url"})
	}
	return nil
}

// Addr returns the listen address of the HTTP server
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
