package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/viper"

	"site-decisions/internal/email"
)

const QR_IMAGE_SIZE = 256

type RBACConfig struct {
	PolicyFile string `mapstructure:"policy_file"` // Path to the RBAC policy file. Empty uses the built-in policy.
}

type SNSConfig struct {
	TopicArn string `mapstructure:"topic_arn"`
	Region   string `mapstructure:"region"`
}

type NotifyConfig struct {
	// One of none, email, sns
	Type string    `mapstructure:"type"`
	SNS  SNSConfig `mapstructure:"sns"`
}

// ClientConfig is used by the CLI when talking to a running server.
type ClientConfig struct {
	ServerURL string `mapstructure:"server_url"`
	Token     string `mapstructure:"token"`
	// Seconds before an in-flight mutation counts as failed
	Timeout uint `mapstructure:"timeout"`
}

type WorkflowConfig struct {
	// Ordered approver roles per entity type, e.g. equipment: [consultant, inspector]
	Chains map[string][]string `mapstructure:"chains"`
}

type Config struct {
	// Secret key for signing tokens. Must be set in production.
	Secret string `mapstructure:"secret"`
	// TTL for actor tokens in seconds
	TokenTTL uint   `mapstructure:"token_ttl"`
	LogLevel string `mapstructure:"log_level"`

	Listen  string `mapstructure:"listen"`
	BaseURL string `mapstructure:"base_url"` // Public URL of the server, used in notification links
	// Comma separated list of CIDRs allowed to access the server. Empty allows all.
	AllowedNetworks string `mapstructure:"allowed_networks"`

	IdempotencyStore string `mapstructure:"idempotency_store"`
	// Seconds an idempotency key is remembered
	IdempotencyTTL uint `mapstructure:"idempotency_ttl"`

	RBAC     RBACConfig     `mapstructure:"rbac"`
	Storage  Storage        `mapstructure:"storage"`
	Notify   NotifyConfig   `mapstructure:"notify"`
	Client   ClientConfig   `mapstructure:"client"`
	Workflow WorkflowConfig `mapstructure:"workflow"`

	Email email.SMTPConfig `mapstructure:"email"`
}

var Cfg *Config

// Check if running in Docker container by checking for the presence of /.dockerenv file
func runningInDocker() bool {
	if _, err := os.Stat("/.dockerenv"); err == nil {
		return true
	}
	return false
}

func getConfigPath() string {
	if runningInDocker() {
		return "/app/instance"
	}
	return "./instance"
}

// LoadConfig reads configuration from config.yaml and environment
// variables. Nested keys map to env vars with "_", e.g. STORAGE_LOCAL_PATH.
func LoadConfig(configFile ...string) (*Config, error) {
	var cfg Config

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(getConfigPath())
	v.AddConfigPath(".")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	for _, path := range configFile {
		if path != "" {
			v.SetConfigFile(path)
		}
	}

	for k, val := range Defaults() {
		v.SetDefault(k, val)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("unable to read config file: %w", err)
		}
		slog.Debug("No config file found, using defaults and environment")
	}

	// Load configuration from environment variables
	v.AutomaticEnv()

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %v", err)
	}

	// Convert relative sqlite path to absolute instance folder
	if cfg.Storage.SQLite != nil && cfg.Storage.SQLite.Path != "" {
		if cfg.Storage.SQLite.Path == ":memory:" {
			// In-memory database, do nothing
		} else if !os.IsPathSeparator(cfg.Storage.SQLite.Path[0]) {
			cfg.Storage.SQLite.Path = fmt.Sprintf("%s/%s", getConfigPath(), cfg.Storage.SQLite.Path)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// Warn if secret is missing - this is a critical security setting for production
	if cfg.Secret == "" {
		if os.Getenv("GIN_MODE") == "release" {
			return nil, fmt.Errorf("SECRET configuration variable is required in production")
		}
		slog.Warn("Secret is not set. Do not use in production.")
	}

	Cfg = &cfg
	return &cfg, nil
}

// Validate checks values that viper cannot check by type alone.
func (c *Config) Validate() error {
	switch c.IdempotencyStore {
	case "memory", "sql":
	default:
		return fmt.Errorf("unknown idempotency_store %q", c.IdempotencyStore)
	}
	switch c.Notify.Type {
	case "", "none", "email":
	case "sns":
		if c.Notify.SNS.TopicArn == "" {
			return fmt.Errorf("notify.sns.topic_arn is required for sns notifications")
		}
	default:
		return fmt.Errorf("unknown notify.type %q", c.Notify.Type)
	}
	if c.TokenTTL == 0 {
		return fmt.Errorf("token_ttl must be > 0")
	}
	return nil
}

// ApproverRoles returns the ordered approver roles for an entity type.
func (c *Config) ApproverRoles(entityType string) []string {
	if c.Workflow.Chains == nil {
		return nil
	}
	return append([]string(nil), c.Workflow.Chains[strings.ToLower(entityType)]...)
}
