package config

import "time"

// EngineConfig describes how to reach the local image generation engine
type EngineConfig struct {
	URL              string        `mapstructure:"url"`
	RequestTimeout   time.Duration `mapstructure:"request_timeout"`
	SubmitAttempts   int           `mapstructure:"submit_attempts"`
	SubmitRetryDelay time.Duration `mapstructure:"submit_retry_delay"`
	PollInterval     time.Duration `mapstructure:"poll_interval"`
	Timeout          time.Duration `mapstructure:"timeout"`
}

// WorkflowConfig binds the shipped workflow template to the handler.
// Node ids are tied to the template file and are not discovered at runtime.
type WorkflowConfig struct {
	Template   string `mapstructure:"template"`
	HeadNode   string `mapstructure:"head_node"`
	BodyNode   string `mapstructure:"body_node"`
	InputField string `mapstructure:"input_field"`
	OutputNode string `mapstructure:"output_node"`
}

type PathsConfig struct {
	InputDir  string `mapstructure:"input_dir"`
	OutputDir string `mapstructure:"output_dir"`
}

type ImagesConfig struct {
	AllowURLs    bool          `mapstructure:"allow_urls"`
	FetchTimeout time.Duration `mapstructure:"fetch_timeout"`
	MaxBytes     int64         `mapstructure:"max_bytes"`
}

// TemporalConfig overrides the client options loaded by envconfig
type TemporalConfig struct {
	HostPort                string `mapstructure:"host_port"`
	Namespace               string `mapstructure:"namespace"`
	Queue                   string `mapstructure:"queue"`
	MaxConcurrentActivities int    `mapstructure:"max_concurrent_activities"`

	// MaxResultBytes keeps the base64 result under the server's payload limit
	MaxResultBytes int `mapstructure:"max_result_bytes"`
}

// LogConfig represents the logging configuration
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Path       string `mapstructure:"path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

type MetricsConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

// StorageConfig configures the optional S3 archive of generated images
type StorageConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	Bucket          string `mapstructure:"bucket"`
	Prefix          string `mapstructure:"prefix"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
}

// LedgerConfig configures the optional MySQL run ledger
type LedgerConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	DSN     string `mapstructure:"dsn"`
}
