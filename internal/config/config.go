// Package config loads runtime configuration for the sync core.
// Values come from an optional YAML file, FIELDOPS_* environment
// overrides, and built-in defaults, in that order of precedence.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Routes is the dispatch table mapping operation kinds to API routes.
// Templates with a %s receive the target record id. The table is
// configuration, not core logic.
type Routes struct {
	CreateRecord   string `mapstructure:"create_record"`
	UpdateRecord   string `mapstructure:"update_record"`
	UpdateStatus   string `mapstructure:"update_status"`
	UploadDocument string `mapstructure:"upload_document"`
	SubmitForm     string `mapstructure:"submit_form"`
}

// APIConfig holds remote API settings.
type APIConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
	Routes  Routes        `mapstructure:"routes"`
}

// SyncConfig holds orchestrator tuning.
type SyncConfig struct {
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	DebounceDelay  time.Duration `mapstructure:"debounce_delay"`
	MaxRetries     int           `mapstructure:"max_retries"`
	QueueCapacity  int           `mapstructure:"queue_capacity"`
	WakeChannelURL string        `mapstructure:"wake_channel_url"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
}

// Config is the full runtime configuration.
type Config struct {
	DataDir string     `mapstructure:"data_dir"`
	API     APIConfig  `mapstructure:"api"`
	Sync    SyncConfig `mapstructure:"sync"`
	Log     LogConfig  `mapstructure:"log"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", ".fieldops")

	v.SetDefault("api.base_url", "http://localhost:8080/api/v1")
	v.SetDefault("api.timeout", 30*time.Second)
	v.SetDefault("api.routes.create_record", "/records")
	v.SetDefault("api.routes.update_record", "/records/%s")
	v.SetDefault("api.routes.update_status", "/records/%s/status")
	v.SetDefault("api.routes.upload_document", "/records/%s/documents")
	v.SetDefault("api.routes.submit_form", "/forms")

	v.SetDefault("sync.poll_interval", 30*time.Second)
	v.SetDefault("sync.debounce_delay", 2*time.Second)
	v.SetDefault("sync.max_retries", 3)
	v.SetDefault("sync.queue_capacity", 1000)
	v.SetDefault("sync.wake_channel_url", "")

	v.SetDefault("log.level", "INFO")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
}

// Load reads configuration from the given file path. An empty path
// loads defaults plus environment overrides only; a missing file at an
// explicit path is an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("FIELDOPS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
