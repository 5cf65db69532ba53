package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const envPrefix = "SLACKHOOKS"

// Config is the root configuration
type Config struct {
	Gateway   GatewayConfig   `mapstructure:"gateway" json:"gateway"`
	Log       LogConfig       `mapstructure:"log" json:"log"`
	AWS       AWSConfig       `mapstructure:"aws" json:"aws"`
	Slack     SlackConfig     `mapstructure:"slack" json:"slack"`
	Params    ParamsConfig    `mapstructure:"params" json:"params"`
	Storage   StorageConfig   `mapstructure:"storage" json:"storage"`
	Approval  ApprovalConfig  `mapstructure:"approval" json:"approval"`
	Jobs      JobsConfig      `mapstructure:"jobs" json:"jobs"`
	Jira      JiraConfig      `mapstructure:"jira" json:"jira"`
	NATS      NATSConfig      `mapstructure:"nats" json:"nats"`
	Telemetry TelemetryConfig `mapstructure:"telemetry" json:"telemetry"`
}

// GatewayConfig configures the HTTP surface.
type GatewayConfig struct {
	Host  string `mapstructure:"host" json:"host"`
	Port  int    `mapstructure:"port" json:"port"`
	Token string `mapstructure:"token" json:"token"` // bearer token for /hooks/trigger

	RequestTimeoutSeconds int   `mapstructure:"request_timeout_seconds" json:"request_timeout_seconds"`
	MaxBodyBytes          int64 `mapstructure:"max_body_bytes" json:"max_body_bytes"`

	// StateDir holds the audit log and metrics snapshot. Empty disables both.
	StateDir string `mapstructure:"state_dir" json:"state_dir"`
}

// RequestTimeout returns the per-request deadline.
func (g GatewayConfig) RequestTimeout() time.Duration {
	return time.Duration(g.RequestTimeoutSeconds) * time.Second
}

type LogConfig struct {
	Level  string `mapstructure:"level" json:"level"`
	File   string `mapstructure:"file" json:"file"`
	Format string `mapstructure:"format" json:"format"` // text, json, or empty for json under Lambda
}

type AWSConfig struct {
	Region      string `mapstructure:"region" json:"region"`
	Profile     string `mapstructure:"profile" json:"profile"`
	EndpointURL string `mapstructure:"endpoint_url" json:"endpoint_url"`
}

// SlackConfig names the bot and its designated channels.
type SlackConfig struct {
	BotName              string `mapstructure:"bot_name" json:"bot_name"`
	BotUserID            string `mapstructure:"bot_user_id" json:"bot_user_id"`
	PlaygroundChannel    string `mapstructure:"playground_channel" json:"playground_channel"`
	NetSuiteChannel      string `mapstructure:"netsuite_channel" json:"netsuite_channel"`
	DefaultChannel       string `mapstructure:"default_channel" json:"default_channel"`
	MaxRequestAgeSeconds int    `mapstructure:"max_request_age_seconds" json:"max_request_age_seconds"`

	// DryRun records outbound messages in memory instead of calling the API.
	DryRun bool `mapstructure:"dry_run" json:"dry_run"`
}

// MaxRequestAge returns the replay window, zero when disabled.
func (s SlackConfig) MaxRequestAge() time.Duration {
	return time.Duration(s.MaxRequestAgeSeconds) * time.Second
}

// ParamsConfig selects where secrets come from.
type ParamsConfig struct {
	Source        string        `mapstructure:"source" json:"source"` // ssm | static
	SigningSecret string        `mapstructure:"signing_secret" json:"signing_secret"`
	BotToken      string        `mapstructure:"bot_token" json:"bot_token"`
	Static        []StaticParam `mapstructure:"static" json:"static"`
}

// StaticParam is one parameter served by the static source. A list keeps
// parameter names case-sensitive.
type StaticParam struct {
	Name  string `mapstructure:"name" json:"name"`
	Value string `mapstructure:"value" json:"value"`
}

// StaticMap returns the static parameters keyed by name.
func (p ParamsConfig) StaticMap() map[string]string {
	out := make(map[string]string, len(p.Static))
	for _, sp := range p.Static {
		out[sp.Name] = sp.Value
	}
	return out
}

type StorageConfig struct {
	Driver     string `mapstructure:"driver" json:"driver"` // dynamodb | sqlite | memory
	Table      string `mapstructure:"table" json:"table"`
	SQLitePath string `mapstructure:"sqlite_path" json:"sqlite_path"`
}

type ApprovalConfig struct {
	// SigningKeyParam names the action value signing key. Empty falls back
	// to the request signing secret.
	SigningKeyParam       string `mapstructure:"signing_key_param" json:"signing_key_param"`
	IdempotencyTTLSeconds int    `mapstructure:"idempotency_ttl_seconds" json:"idempotency_ttl_seconds"`
	DisableSigning        bool   `mapstructure:"disable_signing" json:"disable_signing"`
}

// IdempotencyTTL returns how long a resolution claim is held.
func (a ApprovalConfig) IdempotencyTTL() time.Duration {
	return time.Duration(a.IdempotencyTTLSeconds) * time.Second
}

// JobDefinition is one batch job launched from chat.
type JobDefinition struct {
	Prefix     string `mapstructure:"prefix" json:"prefix"`
	Label      string `mapstructure:"label" json:"label"`
	Queue      string `mapstructure:"queue" json:"queue"`
	Definition string `mapstructure:"definition" json:"definition"`
}

type JobsConfig struct {
	Region     string        `mapstructure:"region" json:"region"`
	Playground JobDefinition `mapstructure:"playground" json:"playground"`
	NetSuite   JobDefinition `mapstructure:"netsuite" json:"netsuite"`
}

type JiraConfig struct {
	BaseURL string `mapstructure:"base_url" json:"base_url"`
}

// NATSConfig configures the trigger subscription used by `listen`.
type NATSConfig struct {
	URL                  string `mapstructure:"url" json:"url"`
	Subject              string `mapstructure:"subject" json:"subject"`
	Queue                string `mapstructure:"queue" json:"queue"`
	ClientName           string `mapstructure:"client_name" json:"client_name"`
	ReconnectWaitSeconds int    `mapstructure:"reconnect_wait_seconds" json:"reconnect_wait_seconds"`
	MaxBackoffSeconds    int    `mapstructure:"max_backoff_seconds" json:"max_backoff_seconds"`
}

type TelemetryConfig struct {
	Enabled     bool   `mapstructure:"enabled" json:"enabled"`
	ServiceName string `mapstructure:"service_name" json:"service_name"`
}

// DefaultConfig returns config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Gateway: GatewayConfig{
			Host:                  "127.0.0.1",
			Port:                  18790,
			RequestTimeoutSeconds: 30,
			MaxBodyBytes:          1 << 20,
			StateDir:              filepath.Join(ConfigDir(), "state"),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "",
		},
		AWS: AWSConfig{
			Region: "us-east-1",
		},
		Slack: SlackConfig{
			BotName:           "bss",
			BotUserID:         "UKBFRLR9T",
			PlaygroundChannel: "GKBPB3H5W",
			NetSuiteChannel:   "GKM5U2XU4",
		},
		Params: ParamsConfig{
			Source:        "ssm",
			SigningSecret: "/BSS/DevOps/Slack/SigningSecret",
			BotToken:      "/BSS/DevOps/Slack/BotToken",
		},
		Storage: StorageConfig{
			Driver:     "dynamodb",
			Table:      "BSS-DevOps-Slack-Hooks",
			SQLitePath: filepath.Join(ConfigDir(), "slackhooks.db"),
		},
		Approval: ApprovalConfig{
			IdempotencyTTLSeconds: 900,
		},
		Jobs: JobsConfig{
			Region: "us-east-1",
			Playground: JobDefinition{
				Prefix:     "Playground",
				Label:      "Playground Busybox",
				Queue:      "arn:aws:batch:us-east-1:880392359248:job-queue/BSS-DevOps-Queue",
				Definition: "arn:aws:batch:us-east-1:880392359248:job-definition/DevOpsPlaygroundBusybox-083777d4404ac84:1",
			},
			NetSuite: JobDefinition{
				Prefix:     "NetSuite",
				Label:      "NetSuite Manager",
				Queue:      "arn:aws:batch:us-east-1:880392359248:job-queue/BSS-DevOps-Queue",
				Definition: "arn:aws:batch:us-east-1:880392359248:job-definition/DevOpsNscManager-d29acf5d2f263e0:1",
			},
		},
		Jira: JiraConfig{
			BaseURL: "https://beaconstreetservices.atlassian.net/browse",
		},
		NATS: NATSConfig{
			URL:                  "nats://127.0.0.1:4222",
			Subject:              "slackhooks.triggers",
			ClientName:           "slackhooks",
			ReconnectWaitSeconds: 2,
			MaxBackoffSeconds:    30,
		},
		Telemetry: TelemetryConfig{
			ServiceName: "slackhooks",
		},
	}
}

// ConfigDir returns the slackhooks config directory
func ConfigDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		slog.Warn("failed to resolve home directory, using current directory as fallback", "error", err)
		homeDir = "."
	}
	return filepath.Join(homeDir, ".slackhooks")
}

// ConfigPath returns the default config file path
func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.json")
}

// Load reads path, or the default config path when empty, over the defaults.
// A missing file is not an error. SLACKHOOKS_* environment variables, and a
// .env file in the working directory, override file values.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return cfg, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	registerDefaults(v, cfg)

	explicit := strings.TrimSpace(path) != ""
	if !explicit {
		path = ConfigPath()
	}
	v.SetConfigFile(path)
	v.SetConfigType("json")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		missing := errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist)
		if !missing || explicit {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	if err := v.Unmarshal(cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.MatchName = func(mapKey, fieldName string) bool {
			return normalizeKey(mapKey) == normalizeKey(fieldName)
		}
	}); err != nil {
		return cfg, err
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// registerDefaults makes every scalar key known to viper so environment
// overrides apply even when the file omits the key.
func registerDefaults(v *viper.Viper, cfg *Config) {
	defaults := map[string]any{
		"gateway.host":                    cfg.Gateway.Host,
		"gateway.port":                    cfg.Gateway.Port,
		"gateway.token":                   cfg.Gateway.Token,
		"gateway.request_timeout_seconds": cfg.Gateway.RequestTimeoutSeconds,
		"gateway.max_body_bytes":          cfg.Gateway.MaxBodyBytes,
		"gateway.state_dir":               cfg.Gateway.StateDir,
		"log.level":                       cfg.Log.Level,
		"log.file":                        cfg.Log.File,
		"log.format":                      cfg.Log.Format,
		"aws.region":                      cfg.AWS.Region,
		"aws.profile":                     cfg.AWS.Profile,
		"aws.endpoint_url":                cfg.AWS.EndpointURL,
		"slack.bot_name":                  cfg.Slack.BotName,
		"slack.bot_user_id":               cfg.Slack.BotUserID,
		"slack.playground_channel":        cfg.Slack.PlaygroundChannel,
		"slack.netsuite_channel":          cfg.Slack.NetSuiteChannel,
		"slack.default_channel":           cfg.Slack.DefaultChannel,
		"slack.max_request_age_seconds":   cfg.Slack.MaxRequestAgeSeconds,
		"slack.dry_run":                   cfg.Slack.DryRun,
		"params.source":                   cfg.Params.Source,
		"params.signing_secret":           cfg.Params.SigningSecret,
		"params.bot_token":                cfg.Params.BotToken,
		"storage.driver":                  cfg.Storage.Driver,
		"storage.table":                   cfg.Storage.Table,
		"storage.sqlite_path":             cfg.Storage.SQLitePath,
		"approval.signing_key_param":      cfg.Approval.SigningKeyParam,
		"approval.idempotency_ttl_seconds": cfg.Approval.IdempotencyTTLSeconds,
		"approval.disable_signing":        cfg.Approval.DisableSigning,
		"jobs.region":                     cfg.Jobs.Region,
		"jira.base_url":                   cfg.Jira.BaseURL,
		"nats.url":                        cfg.NATS.URL,
		"nats.subject":                    cfg.NATS.Subject,
		"nats.queue":                      cfg.NATS.Queue,
		"nats.client_name":                cfg.NATS.ClientName,
		"nats.reconnect_wait_seconds":     cfg.NATS.ReconnectWaitSeconds,
		"nats.max_backoff_seconds":        cfg.NATS.MaxBackoffSeconds,
		"telemetry.enabled":               cfg.Telemetry.Enabled,
		"telemetry.service_name":          cfg.Telemetry.ServiceName,
	}
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
}

func normalizeKey(input string) string {
	input = strings.ReplaceAll(input, "_", "")
	input = strings.ReplaceAll(input, "-", "")
	return strings.ToLower(input)
}

// Save writes cfg to path, or the default config path when empty.
func Save(cfg *Config, path string) error {
	if strings.TrimSpace(path) == "" {
		path = ConfigPath()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// Validate checks that the configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	if c.Gateway.Port <= 0 || c.Gateway.Port > 65535 {
		return fmt.Errorf("gateway.port must be between 1 and 65535, got %d", c.Gateway.Port)
	}
	if c.Gateway.RequestTimeoutSeconds < 0 {
		return fmt.Errorf("gateway.request_timeout_seconds must not be negative, got %d", c.Gateway.RequestTimeoutSeconds)
	}
	if c.Gateway.RequestTimeoutSeconds == 0 {
		c.Gateway.RequestTimeoutSeconds = 30
	}
	if c.Gateway.MaxBodyBytes <= 0 {
		c.Gateway.MaxBodyBytes = 1 << 20
	}

	level := strings.ToLower(strings.TrimSpace(c.Log.Level))
	if level == "" {
		c.Log.Level = "info"
	} else {
		validLevels := map[string]bool{
			"debug": true,
			"info":  true,
			"warn":  true,
			"error": true,
		}
		if !validLevels[level] {
			return fmt.Errorf("log.level must be one of debug, info, warn, error; got %q", c.Log.Level)
		}
		c.Log.Level = level
	}
	format := strings.ToLower(strings.TrimSpace(c.Log.Format))
	switch format {
	case "", "text", "json":
		c.Log.Format = format
	default:
		return fmt.Errorf("log.format must be text, json or empty; got %q", c.Log.Format)
	}

	c.Slack.BotName = strings.TrimPrefix(strings.TrimSpace(c.Slack.BotName), "/")
	if c.Slack.BotName == "" {
		return fmt.Errorf("slack.bot_name is required")
	}
	if c.Slack.MaxRequestAgeSeconds < 0 {
		return fmt.Errorf("slack.max_request_age_seconds must not be negative, got %d", c.Slack.MaxRequestAgeSeconds)
	}

	source := strings.ToLower(strings.TrimSpace(c.Params.Source))
	switch source {
	case "ssm", "static":
		c.Params.Source = source
	default:
		return fmt.Errorf("params.source must be ssm or static; got %q", c.Params.Source)
	}
	if strings.TrimSpace(c.Params.SigningSecret) == "" {
		return fmt.Errorf("params.signing_secret names the signing secret parameter and is required")
	}

	driver := strings.ToLower(strings.TrimSpace(c.Storage.Driver))
	switch driver {
	case "dynamodb", "dynamo":
		c.Storage.Driver = "dynamodb"
		if strings.TrimSpace(c.Storage.Table) == "" {
			return fmt.Errorf("storage.table is required for the dynamodb driver")
		}
	case "sqlite":
		c.Storage.Driver = driver
		if strings.TrimSpace(c.Storage.SQLitePath) == "" {
			return fmt.Errorf("storage.sqlite_path is required for the sqlite driver")
		}
	case "memory":
		c.Storage.Driver = driver
	default:
		return fmt.Errorf("storage.driver must be one of dynamodb, sqlite, memory; got %q", c.Storage.Driver)
	}

	if c.Approval.IdempotencyTTLSeconds < 0 {
		return fmt.Errorf("approval.idempotency_ttl_seconds must not be negative, got %d", c.Approval.IdempotencyTTLSeconds)
	}
	if c.Approval.IdempotencyTTLSeconds == 0 {
		c.Approval.IdempotencyTTLSeconds = 900
	}

	if c.NATS.ReconnectWaitSeconds <= 0 {
		c.NATS.ReconnectWaitSeconds = 2
	}
	if c.NATS.MaxBackoffSeconds < c.NATS.ReconnectWaitSeconds {
		c.NATS.MaxBackoffSeconds = c.NATS.ReconnectWaitSeconds
	}

	return nil
}
