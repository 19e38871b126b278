package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Paths     PathsConfig     `yaml:"paths"`
	FFmpeg    FFmpegConfig    `yaml:"ffmpeg"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Normalize NormalizeConfig `yaml:"normalize"`
	Thumbnail ThumbnailConfig `yaml:"thumbnail"`
	Lifecycle LifecycleConfig `yaml:"lifecycle"`
	Logging   LoggingConfig   `yaml:"logging"`
	Google    GoogleConfig    `yaml:"google"`
}

// ServerConfig contains HTTP listener settings
type ServerConfig struct {
	Listen         string   `yaml:"listen"`
	ReadTimeout    Duration `yaml:"read_timeout"`
	MaxUploadBytes int64    `yaml:"max_upload_bytes"`
	Development    bool     `yaml:"development"`
}

// PathsConfig contains directory paths for media processing
type PathsConfig struct {
	TempDirectory string `yaml:"temp_directory"`
	Database      string `yaml:"database"`
}

// FFmpegConfig contains transcoding engine settings
type FFmpegConfig struct {
	FFmpegPath   string   `yaml:"ffmpeg_path"`
	FFprobePath  string   `yaml:"ffprobe_path"`
	Timeout      Duration `yaml:"timeout"`
	ProbeTimeout Duration `yaml:"probe_timeout"`
}

// RetrievalConfig contains remote download settings
type RetrievalConfig struct {
	Timeout   Duration `yaml:"timeout"`
	UserAgent string   `yaml:"user_agent"`
}

// NormalizeConfig bounds the envelope retrieved sources are re-encoded into
type NormalizeConfig struct {
	Enabled      bool   `yaml:"enabled"`
	MaxDimension int    `yaml:"max_dimension"`
	CRF          int    `yaml:"crf"`
	MaxRate      string `yaml:"max_rate"`
	BufSize      string `yaml:"buf_size"`
	AudioBitrate string `yaml:"audio_bitrate"`
}

// ThumbnailConfig contains the geometry used when the main video cannot be probed
type ThumbnailConfig struct {
	DefaultWidth     int    `yaml:"default_width"`
	DefaultHeight    int    `yaml:"default_height"`
	DefaultFrameRate string `yaml:"default_frame_rate"`
}

// LifecycleConfig contains artifact retention settings
type LifecycleConfig struct {
	Retention     Duration `yaml:"retention"`
	SweepInterval Duration `yaml:"sweep_interval"`
}

// LoggingConfig contains structured logging settings
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// GoogleConfig contains Google API settings. With only a credentials file
// it is treated as a service account key; with a token file it is an OAuth
// client whose saved user token is refreshed as needed.
type GoogleConfig struct {
	CredentialsFile string `yaml:"credentials_file"`
	TokenFile       string `yaml:"token_file"`
}

// Duration is a time.Duration that reads and writes as "10m" style strings
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return fmt.Errorf("duration: %w", err)
	}
	parsed, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Defaults returns the configuration used when no file is present
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Listen:         ":8080",
			ReadTimeout:    Duration(30 * time.Second),
			MaxUploadBytes: 2 << 30,
		},
		Paths: PathsConfig{
			TempDirectory: filepath.Join(os.TempDir(), "media-pipeline"),
		},
		FFmpeg: FFmpegConfig{
			FFmpegPath:   "ffmpeg",
			FFprobePath:  "ffprobe",
			Timeout:      Duration(10 * time.Minute),
			ProbeTimeout: Duration(30 * time.Second),
		},
		Retrieval: RetrievalConfig{
			Timeout:   Duration(5 * time.Minute),
			UserAgent: "media-pipeline/1.0",
		},
		Normalize: NormalizeConfig{
			Enabled:      true,
			MaxDimension: 1280,
			CRF:          26,
			MaxRate:      "2500k",
			BufSize:      "5000k",
			AudioBitrate: "128k",
		},
		Thumbnail: ThumbnailConfig{
			DefaultWidth:     1080,
			DefaultHeight:    1920,
			DefaultFrameRate: "30",
		},
		Lifecycle: LifecycleConfig{
			Retention:     Duration(time.Hour),
			SweepInterval: Duration(10 * time.Minute),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "auto",
		},
	}
}

// Load reads and parses the configuration from the specified YAML file.
// Values absent from the file keep their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault loads path, falling back to defaults when the file does not exist
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Defaults(), nil
		}
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration to the specified YAML file
func Save(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to serialize config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks the configuration for values the pipeline cannot run with
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Paths.TempDirectory) == "" {
		return fmt.Errorf("paths.temp_directory is required")
	}
	if strings.ContainsRune(c.Paths.TempDirectory, '\'') {
		return fmt.Errorf("paths.temp_directory must not contain a single quote")
	}
	if c.FFmpeg.Timeout.Std() <= 0 {
		return fmt.Errorf("ffmpeg.timeout must be positive")
	}
	if c.Lifecycle.Retention.Std() <= 0 {
		return fmt.Errorf("lifecycle.retention must be positive")
	}
	if c.Normalize.Enabled && c.Normalize.MaxDimension < 16 {
		return fmt.Errorf("normalize.max_dimension must be at least 16")
	}
	if c.Thumbnail.DefaultWidth <= 0 || c.Thumbnail.DefaultHeight <= 0 {
		return fmt.Errorf("thumbnail default geometry must be positive")
	}
	return nil
}
