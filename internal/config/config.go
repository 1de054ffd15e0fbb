// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Workers WorkersConfig `mapstructure:"workers"`
	Jobs    JobsConfig    `mapstructure:"jobs"`
	HTTP    HTTPConfig    `mapstructure:"http"`
	Model   ModelConfig   `mapstructure:"model"`
	Storage StorageConfig `mapstructure:"storage"`
	DB      DBConfig      `mapstructure:"db"`
	Queue   QueueConfig   `mapstructure:"queue"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// WorkersConfig governs the classification worker pool.
type WorkersConfig struct {
	// PoolSize bounds parallelism within one job.
	PoolSize int `mapstructure:"pool_size"`
	// Count is the number of concurrent queue consumers.
	Count int `mapstructure:"count"`
	// QueueDepth sizes the in-process queue buffer.
	QueueDepth int `mapstructure:"queue_depth"`
}

// JobsConfig controls job result retention.
type JobsConfig struct {
	RetentionMinutes int `mapstructure:"retention_minutes"`
}

// Retention returns the retention window as a duration.
func (j JobsConfig) Retention() time.Duration {
	return time.Duration(j.RetentionMinutes) * time.Minute
}

// HTTPConfig configures the outbound image fetch client.
type HTTPConfig struct {
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	UserAgent      string `mapstructure:"user_agent"`
}

// Timeout returns the outbound fetch deadline.
func (h HTTPConfig) Timeout() time.Duration {
	return time.Duration(h.TimeoutSeconds) * time.Second
}

// ModelConfig locates and tags the classification model artifact.
type ModelConfig struct {
	Path    string `mapstructure:"path"`
	Version string `mapstructure:"version"`
}

// StorageConfig sets where classified images are persisted.
type StorageConfig struct {
	// Provider is one of local, gcs, noop.
	Provider   string `mapstructure:"provider"`
	BaseDir    string `mapstructure:"base_dir"`
	GCSBucket  string `mapstructure:"gcs_bucket"`
	SaveImages bool   `mapstructure:"save_images"`
}

// DBConfig controls access to the record store.
type DBConfig struct {
	// Provider is one of postgres, memory.
	Provider        string `mapstructure:"provider"`
	DSN             string `mapstructure:"dsn"`
	Table           string `mapstructure:"table"`
	MaxConns        int32  `mapstructure:"max_conns"`
	MinConns        int32  `mapstructure:"min_conns"`
	ConnLifetimeMin int    `mapstructure:"conn_lifetime_minutes"`
}

// QueueConfig selects and configures the job broker.
type QueueConfig struct {
	// Provider is one of memory, pubsub.
	Provider       string `mapstructure:"provider"`
	ProjectID      string `mapstructure:"project_id"`
	TopicID        string `mapstructure:"topic_id"`
	SubscriptionID string `mapstructure:"subscription_id"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("IMAGESORT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("workers.pool_size", 5)
	v.SetDefault("workers.count", 1)
	v.SetDefault("workers.queue_depth", 64)
	v.SetDefault("jobs.retention_minutes", 15)
	v.SetDefault("http.timeout_seconds", 15)
	v.SetDefault("http.user_agent", "imagesort/1.0")
	v.SetDefault("model.path", "models/binary_classifier.tflite")
	v.SetDefault("model.version", "mobilenet-v3-small-1")
	v.SetDefault("storage.provider", "local")
	v.SetDefault("storage.base_dir", "data/images")
	v.SetDefault("storage.save_images", true)
	v.SetDefault("db.provider", "memory")
	v.SetDefault("db.table", "image_records")
	v.SetDefault("queue.provider", "memory")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Workers.PoolSize <= 0 {
		return fmt.Errorf("workers.pool_size must be > 0")
	}
	if c.Workers.Count <= 0 {
		return fmt.Errorf("workers.count must be > 0")
	}
	if c.Workers.QueueDepth <= 0 {
		return fmt.Errorf("workers.queue_depth must be > 0")
	}
	if c.Jobs.RetentionMinutes <= 0 {
		return fmt.Errorf("jobs.retention_minutes must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.Model.Path == "" {
		return fmt.Errorf("model.path is required")
	}
	switch c.Storage.Provider {
	case "local":
		if c.Storage.BaseDir == "" {
			return fmt.Errorf("storage.base_dir is required for local storage")
		}
	case "gcs":
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket is required for gcs storage")
		}
	case "noop":
	default:
		return fmt.Errorf("unknown storage.provider %q", c.Storage.Provider)
	}
	switch c.DB.Provider {
	case "postgres":
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn is required for postgres")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown db.provider %q", c.DB.Provider)
	}
	switch c.Queue.Provider {
	case "pubsub":
		if c.Queue.ProjectID == "" || c.Queue.TopicID == "" || c.Queue.SubscriptionID == "" {
			return fmt.Errorf("queue.project_id, queue.topic_id and queue.subscription_id are required for pubsub")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown queue.provider %q", c.Queue.Provider)
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key is required when auth.enabled")
	}
	return nil
}
