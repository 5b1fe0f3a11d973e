// Package config provides configuration management for vidmux using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultServerPort         = 8080
	defaultServerReadTimeout  = 30 * time.Second
	defaultServerWriteTimeout = 30 * time.Minute
	defaultShutdownTimeout    = 30 * time.Second
	defaultMaxOpenConns       = 25
	defaultMaxIdleConns       = 10
	defaultConnMaxIdleTime    = 30 * time.Minute
	defaultScratchMaxAge      = 6 * time.Hour
	defaultFetchTimeout       = 5 * time.Minute
	defaultCatalogCacheTTL    = 2 * time.Minute
	defaultRetryAttempts      = 2
	defaultRetryDelay         = time.Second
	defaultMaxStreamSize      = "4GiB"
	defaultTranscodeTimeout   = 15 * time.Minute
	defaultHistoryRetention   = 30 * 24 * time.Hour
	defaultMaintenanceCron    = "0 */15 * * * *"
)

// Config holds all configuration for the application.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Source      SourceConfig      `mapstructure:"source"`
	FFmpeg      FFmpegConfig      `mapstructure:"ffmpeg"`
	Muxer       MuxerConfig       `mapstructure:"muxer"`
	History     HistoryConfig     `mapstructure:"history"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	// WriteTimeout also bounds the whole fetch and merge pipeline of a download.
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // sqlite, postgres, mysql
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	LogLevel        string        `mapstructure:"log_level"` // silent, error, warn, info
}

// StorageConfig holds file storage configuration.
type StorageConfig struct {
	BaseDir    string `mapstructure:"base_dir"`
	ScratchDir string `mapstructure:"scratch_dir"`
	// ScratchMaxAge is how old an abandoned scratch job directory must be
	// before the maintenance sweep removes it.
	ScratchMaxAge time.Duration `mapstructure:"scratch_max_age"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// SourceConfig holds resource client configuration.
type SourceConfig struct {
	YtDlpPath     string        `mapstructure:"ytdlp_path"` // empty = auto-detect
	FetchTimeout  time.Duration `mapstructure:"fetch_timeout"`
	CacheTTL      time.Duration `mapstructure:"cache_ttl"` // 0 disables the listing cache
	RetryAttempts int           `mapstructure:"retry_attempts"`
	RetryDelay    time.Duration `mapstructure:"retry_delay"`
	// MaxStreamSize caps the bytes read from a single stream.
	// Supports human-readable values like "512MB", "4GiB", or raw byte counts.
	MaxStreamSize ByteSize `mapstructure:"max_stream_size"`
	UserAgent     string   `mapstructure:"user_agent"`
}

// FFmpegConfig holds FFmpeg binary configuration.
type FFmpegConfig struct {
	BinaryPath string `mapstructure:"binary_path"` // Path to ffmpeg binary (empty = auto-detect)
	LogLevel   string `mapstructure:"log_level"`
}

// MuxerConfig holds merge policy and concurrency configuration.
type MuxerConfig struct {
	// MaxConcurrent bounds simultaneous transcodes. 0 sizes the pool from the CPU count.
	MaxConcurrent    int           `mapstructure:"max_concurrent"`
	TranscodeTimeout time.Duration `mapstructure:"transcode_timeout"`
	// AudioPolicy maps a container family to "copy" or the audio codec to transcode to.
	AudioPolicy map[string]string `mapstructure:"audio_policy"`
	// FallbackAudioCodec applies to container families missing from AudioPolicy.
	FallbackAudioCodec string `mapstructure:"fallback_audio_codec"`
}

// HistoryConfig holds download history configuration.
type HistoryConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Retention time.Duration `mapstructure:"retention"` // 0 keeps records forever
}

// MaintenanceConfig holds scheduled maintenance configuration.
type MaintenanceConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Cron    string `mapstructure:"cron"` // 6-field cron expression
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with VIDMUX_ and use underscores for nesting.
// Example: VIDMUX_SERVER_PORT=8080.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/vidmux")
		v.AddConfigPath("$HOME/.vidmux")
	}

	v.SetEnvPrefix("VIDMUX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	return Unmarshal(v)
}

// Unmarshal decodes and validates the configuration held by v.
func Unmarshal(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(DecodeHook())); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// DecodeHook returns the mapstructure hooks used to decode configuration,
// including ByteSize parsing through encoding.TextUnmarshaler.
func DecodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		mapstructure.TextUnmarshallerHookFunc(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
}

// SetDefaults configures default values for all configuration options.
// This should be called before reading the config file to ensure defaults are in place.
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.read_timeout", defaultServerReadTimeout)
	v.SetDefault("server.write_timeout", defaultServerWriteTimeout)
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)
	v.SetDefault("server.cors_origins", []string{"*"})

	// Database defaults
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "vidmux.db")
	v.SetDefault("database.max_open_conns", defaultMaxOpenConns)
	v.SetDefault("database.max_idle_conns", defaultMaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.conn_max_idle_time", defaultConnMaxIdleTime)
	v.SetDefault("database.log_level", "warn")

	// Storage defaults
	v.SetDefault("storage.base_dir", "./data")
	v.SetDefault("storage.scratch_dir", "scratch")
	v.SetDefault("storage.scratch_max_age", defaultScratchMaxAge)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Source defaults
	v.SetDefault("source.ytdlp_path", "")
	v.SetDefault("source.fetch_timeout", defaultFetchTimeout)
	v.SetDefault("source.cache_ttl", defaultCatalogCacheTTL)
	v.SetDefault("source.retry_attempts", defaultRetryAttempts)
	v.SetDefault("source.retry_delay", defaultRetryDelay)
	v.SetDefault("source.max_stream_size", defaultMaxStreamSize)
	v.SetDefault("source.user_agent", "")

	// FFmpeg defaults
	v.SetDefault("ffmpeg.binary_path", "")
	v.SetDefault("ffmpeg.log_level", "error")

	// Muxer defaults
	v.SetDefault("muxer.max_concurrent", 0)
	v.SetDefault("muxer.transcode_timeout", defaultTranscodeTimeout)
	v.SetDefault("muxer.audio_policy", map[string]string{
		"webm": "copy",
		"mp4":  "aac",
	})
	v.SetDefault("muxer.fallback_audio_codec", "aac")

	// History defaults
	v.SetDefault("history.enabled", true)
	v.SetDefault("history.retention", defaultHistoryRetention)

	// Maintenance defaults
	v.SetDefault("maintenance.enabled", true)
	v.SetDefault("maintenance.cron", defaultMaintenanceCron)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	const maxPort = 65535
	if c.Server.Port < 1 || c.Server.Port > maxPort {
		return fmt.Errorf("server.port must be between 1 and %d", maxPort)
	}

	validDrivers := map[string]bool{"sqlite": true, "postgres": true, "mysql": true}
	if !validDrivers[c.Database.Driver] {
		return fmt.Errorf("database.driver must be one of: sqlite, postgres, mysql")
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}

	if c.Storage.BaseDir == "" {
		return fmt.Errorf("storage.base_dir is required")
	}
	if c.Storage.ScratchDir == "" {
		return fmt.Errorf("storage.scratch_dir is required")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	if c.Source.RetryAttempts < 0 {
		return fmt.Errorf("source.retry_attempts must not be negative")
	}
	if c.Source.MaxStreamSize < 0 {
		return fmt.Errorf("source.max_stream_size must not be negative")
	}

	if c.Muxer.MaxConcurrent < 0 {
		return fmt.Errorf("muxer.max_concurrent must not be negative")
	}
	if c.Muxer.FallbackAudioCodec == "" {
		return fmt.Errorf("muxer.fallback_audio_codec is required")
	}
	for family, strategy := range c.Muxer.AudioPolicy {
		if strings.TrimSpace(family) == "" || strings.TrimSpace(strategy) == "" {
			return fmt.Errorf("muxer.audio_policy entries need a container family and a strategy")
		}
	}

	fetch, transcode := c.Source.FetchTimeout, c.Muxer.TranscodeTimeout
	if c.Server.WriteTimeout > 0 && fetch > 0 && transcode > 0 && c.Server.WriteTimeout < fetch+transcode {
		return fmt.Errorf("server.write_timeout (%s) must be at least source.fetch_timeout + muxer.transcode_timeout (%s)",
			c.Server.WriteTimeout, fetch+transcode)
	}
	if transcode > 0 && c.Storage.ScratchMaxAge > 0 && c.Storage.ScratchMaxAge <= transcode {
		return fmt.Errorf("storage.scratch_max_age (%s) must be greater than muxer.transcode_timeout (%s)",
			c.Storage.ScratchMaxAge, transcode)
	}

	if c.Maintenance.Enabled && c.Maintenance.Cron == "" {
		return fmt.Errorf("maintenance.cron is required when maintenance is enabled")
	}

	return nil
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ScratchPath returns the full path to the scratch directory.
// An absolute scratch_dir is used as-is.
func (c *StorageConfig) ScratchPath() string {
	if filepath.IsAbs(c.ScratchDir) {
		return c.ScratchDir
	}
	return filepath.Join(c.BaseDir, c.ScratchDir)
}
