package config

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config represents the worker configuration
type Config struct {
	Engine   EngineConfig   `mapstructure:"engine"`
	Workflow WorkflowConfig `mapstructure:"workflow"`
	Paths    PathsConfig    `mapstructure:"paths"`
	Images   ImagesConfig   `mapstructure:"images"`
	Temporal TemporalConfig `mapstructure:"temporal"`
	Log      LogConfig      `mapstructure:"log"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Ledger   LedgerConfig   `mapstructure:"ledger"`
}

// NewConfig loads configuration from file and environment variables
// configPath: path to the config file (e.g., "config.yaml"). If empty, looks for "config.yaml" in current directory
func NewConfig(ctx context.Context, configPath string) (*Config, error) {
	config := new(Config)
	v := viper.New()

	// Engine defaults match a stock local ComfyUI
	v.SetDefault("engine.url", "http://127.0.0.1:8188")
	v.SetDefault("engine.request_timeout", "30s")
	v.SetDefault("engine.submit_attempts", 5)
	v.SetDefault("engine.submit_retry_delay", "2s")
	v.SetDefault("engine.poll_interval", "1s")
	v.SetDefault("engine.timeout", "300s")

	// Node ids of the shipped workflow_api.json
	v.SetDefault("workflow.template", "workflow_api.json")
	v.SetDefault("workflow.head_node", "448")
	v.SetDefault("workflow.body_node", "449")
	v.SetDefault("workflow.input_field", "image")
	v.SetDefault("workflow.output_node", "458")

	v.SetDefault("paths.input_dir", "/ComfyUI/input")
	v.SetDefault("paths.output_dir", "/ComfyUI/output")

	v.SetDefault("images.allow_urls", true)
	v.SetDefault("images.fetch_timeout", "30s")
	v.SetDefault("images.max_bytes", 50<<20)

	v.SetDefault("temporal.host_port", "")
	v.SetDefault("temporal.namespace", "")
	v.SetDefault("temporal.queue", "headswap")
	v.SetDefault("temporal.max_concurrent_activities", 1)
	v.SetDefault("temporal.max_result_bytes", 1900000)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.path", "stdout")
	v.SetDefault("log.max_size", 100)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age", 28)
	v.SetDefault("log.compress", false)

	v.SetDefault("metrics.listen_addr", ":9090")

	v.SetDefault("storage.enabled", false)
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.endpoint", "")
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.prefix", "headswap")
	v.SetDefault("storage.access_key_id", "")
	v.SetDefault("storage.secret_access_key", "")

	v.SetDefault("ledger.enabled", false)
	v.SetDefault("ledger.dsn", "")

	// Set config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	// Read the config file
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	// Set up Viper to read from environment variables
	v.SetEnvPrefix("HEADSWAP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return config, nil
}

// Validate rejects settings the handler cannot run with
func (c *Config) Validate() error {
	if c.Engine.URL == "" {
		return errors.New("engine.url is required")
	}
	if c.Engine.SubmitAttempts < 1 {
		return fmt.Errorf("engine.submit_attempts must be at least 1, got %d", c.Engine.SubmitAttempts)
	}
	if c.Engine.PollInterval <= 0 {
		return fmt.Errorf("invalid engine.poll_interval: %s", c.Engine.PollInterval)
	}
	if c.Engine.Timeout <= 0 {
		return fmt.Errorf("invalid engine.timeout: %s", c.Engine.Timeout)
	}
	if c.Workflow.Template == "" {
		return errors.New("workflow.template is required")
	}
	if c.Workflow.HeadNode == "" || c.Workflow.BodyNode == "" || c.Workflow.OutputNode == "" {
		return errors.New("workflow.head_node, workflow.body_node and workflow.output_node are required")
	}
	if c.Workflow.InputField == "" {
		return errors.New("workflow.input_field is required")
	}
	if c.Paths.InputDir == "" || c.Paths.OutputDir == "" {
		return errors.New("paths.input_dir and paths.output_dir are required")
	}
	if c.Temporal.Queue == "" {
		return errors.New("temporal.queue is required")
	}
	if c.Storage.Enabled && c.Storage.Bucket == "" {
		return errors.New("storage.bucket is required when storage is enabled")
	}
	if c.Ledger.Enabled && c.Ledger.DSN == "" {
		return errors.New("ledger.dsn is required when the ledger is enabled")
	}
	return nil
}
