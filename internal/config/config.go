package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. WARRANTY_SERVER_PORT
const EnvPrefix = "WARRANTY"

// Config represents the application configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Redis         RedisConfig         `yaml:"redis"`
	Ledger        LedgerConfig        `yaml:"ledger"`
	Reminder      ReminderConfig      `yaml:"reminder"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Log           LogConfig           `yaml:"log"`
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Port         string   `yaml:"port" split_words:"true"`
	Mode         string   `yaml:"mode" split_words:"true"` // debug/release
	AllowOrigins []string `yaml:"allow_origins" split_words:"true"`
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	Type string `yaml:"type" split_words:"true"` // sqlite
	Path string `yaml:"path" split_words:"true"`
}

// RedisConfig is used when the dispatch ledger lives in Redis
type RedisConfig struct {
	Addr     string `yaml:"addr" split_words:"true"`
	Password string `yaml:"password" split_words:"true"`
	DB       int    `yaml:"db" split_words:"true"`
}

// LedgerConfig selects the dispatch ledger backend
type LedgerConfig struct {
	Backend string `yaml:"backend" split_words:"true"` // sqlite/redis
}

// ReminderConfig represents reminder engine configuration
type ReminderConfig struct {
	CheckInterval        string        `yaml:"check_interval" split_words:"true"` // Cron expression
	Workers              int           `yaml:"workers" split_words:"true"`
	CallTimeout          time.Duration `yaml:"call_timeout" split_words:"true"`
	RunTimeout           time.Duration `yaml:"run_timeout" split_words:"true"`
	ExpiredNotice        bool          `yaml:"expired_notice" split_words:"true"`
	RejectFuturePurchase bool          `yaml:"reject_future_purchase" split_words:"true"`
	ExpiringSoonDays     int           `yaml:"expiring_soon_days" split_words:"true"`
}

// NotificationsConfig represents notification configuration
type NotificationsConfig struct {
	Email EmailConfig `yaml:"email"`
	SMS   SMSConfig   `yaml:"sms"`
}

// EmailConfig represents email notification configuration
type EmailConfig struct {
	Enabled  bool   `yaml:"enabled" split_words:"true"`
	SMTPHost string `yaml:"smtp_host" split_words:"true"`
	SMTPPort int    `yaml:"smtp_port" split_words:"true"`
	From     string `yaml:"from" split_words:"true"`
	Username string `yaml:"username" split_words:"true"`
	Password string `yaml:"password" split_words:"true"`
}

// SMSConfig represents the HTTP SMS gateway configuration
type SMSConfig struct {
	Enabled    bool   `yaml:"enabled" split_words:"true"`
	GatewayURL string `yaml:"gateway_url" split_words:"true"`
	APIKey     string `yaml:"api_key" split_words:"true"`
	Secret     string `yaml:"secret" split_words:"true"` // HMAC signing secret
	Sender     string `yaml:"sender" split_words:"true"`
	Proxy      string `yaml:"proxy" split_words:"true"` // optional SOCKS5 address, e.g. 127.0.0.1:7890
}

// LogConfig represents logging configuration
type LogConfig struct {
	Level  string `yaml:"level" split_words:"true"`
	Format string `yaml:"format" split_words:"true"` // text/json
}

// LoadConfig loads configuration from a YAML file, applies environment
// overrides and defaults, then validates the result. A missing file is not
// an error; the environment and defaults are used instead.
func LoadConfig(path string) (*Config, error) {
	var config Config

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if err := envconfig.Process(EnvPrefix, &config); err != nil {
		return nil, fmt.Errorf("failed to process env config: %w", err)
	}

	config.ApplyDefaults()

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// ApplyDefaults fills zero values with defaults
func (c *Config) ApplyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if c.Server.Mode == "" {
		c.Server.Mode = "release"
	}
	if len(c.Server.AllowOrigins) == 0 {
		c.Server.AllowOrigins = []string{"*"}
	}
	if c.Database.Type == "" {
		c.Database.Type = "sqlite"
	}
	if c.Database.Path == "" {
		c.Database.Path = "data/warranty.db"
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.Ledger.Backend == "" {
		c.Ledger.Backend = "sqlite"
	}
	if c.Reminder.CheckInterval == "" {
		c.Reminder.CheckInterval = "0 9 * * *"
	}
	if c.Reminder.Workers <= 0 {
		c.Reminder.Workers = 4
	}
	if c.Reminder.CallTimeout <= 0 {
		c.Reminder.CallTimeout = 10 * time.Second
	}
	if c.Reminder.RunTimeout <= 0 {
		c.Reminder.RunTimeout = 30 * time.Minute
	}
	if c.Reminder.ExpiringSoonDays <= 0 {
		c.Reminder.ExpiringSoonDays = 30
	}
	if c.Notifications.Email.SMTPPort == 0 {
		c.Notifications.Email.SMTPPort = 587
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

// Validate checks the configuration for values the service cannot run with
func (c *Config) Validate() error {
	if c.Database.Type != "sqlite" {
		return fmt.Errorf("unsupported database type: %s", c.Database.Type)
	}
	switch c.Ledger.Backend {
	case "sqlite", "redis":
	default:
		return fmt.Errorf("unsupported ledger backend: %s", c.Ledger.Backend)
	}
	if c.Notifications.Email.Enabled {
		if c.Notifications.Email.SMTPHost == "" || c.Notifications.Email.From == "" {
			return fmt.Errorf("email notifications require smtp_host and from")
		}
	}
	if c.Notifications.SMS.Enabled && c.Notifications.SMS.GatewayURL == "" {
		return fmt.Errorf("sms notifications require gateway_url")
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("unsupported log format: %s", c.Log.Format)
	}
	return nil
}

// LogLevel parses the configured log level
func (c *LogConfig) LogLevel() slog.Level {
	switch strings.ToLower(c.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger builds the process logger from the log configuration
func NewLogger(cfg LogConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel()}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
