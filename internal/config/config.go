package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	defaultListenAddr = ":8080"
	defaultDBPath     = "mapbridge.db"
	defaultConfigFile = "mapcache.xml"

	envSettings     = "MAPBRIDGE_SETTINGS"
	envListenAddr   = "MAPBRIDGE_LISTEN_ADDR"
	envDBPath       = "MAPBRIDGE_DB_PATH"
	envLogLevel     = "MAPBRIDGE_LOG_LEVEL"
	envConfigFile   = "MAPBRIDGE_CONFIG_FILE"
	envBaseURL      = "MAPBRIDGE_BASE_URL"
	envMaxWorkers   = "MAPBRIDGE_MAX_WORKERS"
	envPoolMaxBytes = "MAPBRIDGE_POOL_MAX_BYTES"
	envVsockPort    = "MAPBRIDGE_VSOCK_PORT"
)

// Config holds application configuration loaded from an optional settings
// file and environment variables.
type Config struct {
	ListenAddr string
	DBPath     string
	LogLevel   slog.Level

	// ConfigFile is the tile cache XML configuration served by the server.
	ConfigFile string
	// BaseURL is the public URL used in capabilities documents. When empty
	// it is derived from each request.
	BaseURL string
	// MaxWorkers bounds concurrent work phases. Zero means unbounded.
	MaxWorkers int
	// PoolMaxBytes caps the memory held by the root pool. Zero means
	// unlimited.
	PoolMaxBytes int64
	// VsockPort makes the server listen on AF_VSOCK instead of TCP when
	// non-zero.
	VsockPort uint32
}

// settings is the YAML settings file layout.
type settings struct {
	ListenAddr   string `yaml:"listen_addr"`
	DBPath       string `yaml:"db_path"`
	LogLevel     string `yaml:"log_level"`
	ConfigFile   string `yaml:"config_file"`
	BaseURL      string `yaml:"base_url"`
	MaxWorkers   *int   `yaml:"max_workers"`
	PoolMaxBytes *int64 `yaml:"pool_max_bytes"`
	VsockPort    *int64 `yaml:"vsock_port"`
}

// Load reads configuration with sensible defaults. The settings file named
// by MAPBRIDGE_SETTINGS is applied first; environment variables override it.
func Load() (Config, error) {
	cfg := Config{
		ListenAddr: defaultListenAddr,
		DBPath:     defaultDBPath,
		LogLevel:   slog.LevelInfo,
		ConfigFile: defaultConfigFile,
	}

	if path := os.Getenv(envSettings); path != "" {
		if err := cfg.applySettingsFile(path); err != nil {
			return Config{}, err
		}
	}

	if v := os.Getenv(envListenAddr); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv(envDBPath); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv(envLogLevel); v != "" {
		cfg.LogLevel = parseLogLevel(v)
	}
	if v := os.Getenv(envConfigFile); v != "" {
		cfg.ConfigFile = v
	}
	if v := os.Getenv(envBaseURL); v != "" {
		cfg.BaseURL = v
	}
	if v := os.Getenv(envMaxWorkers); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return Config{}, fmt.Errorf("%s: invalid worker count %q", envMaxWorkers, v)
		}
		cfg.MaxWorkers = n
	}
	if v := os.Getenv(envPoolMaxBytes); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			return Config{}, fmt.Errorf("%s: invalid byte count %q", envPoolMaxBytes, v)
		}
		cfg.PoolMaxBytes = n
	}
	if v := os.Getenv(envVsockPort); v != "" {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return Config{}, fmt.Errorf("%s: invalid port %q", envVsockPort, v)
		}
		cfg.VsockPort = uint32(n)
	}

	return cfg, nil
}

func (cfg *Config) applySettingsFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read settings file: %w", err)
	}
	var s settings
	if err := yaml.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("parse settings file %s: %w", path, err)
	}

	if s.ListenAddr != "" {
		cfg.ListenAddr = s.ListenAddr
	}
	if s.DBPath != "" {
		cfg.DBPath = s.DBPath
	}
	if s.LogLevel != "" {
		cfg.LogLevel = parseLogLevel(s.LogLevel)
	}
	if s.ConfigFile != "" {
		cfg.ConfigFile = s.ConfigFile
	}
	if s.BaseURL != "" {
		cfg.BaseURL = s.BaseURL
	}
	if s.MaxWorkers != nil {
		if *s.MaxWorkers < 0 {
			return fmt.Errorf("settings file %s: max_workers must not be negative", path)
		}
		cfg.MaxWorkers = *s.MaxWorkers
	}
	if s.PoolMaxBytes != nil {
		if *s.PoolMaxBytes < 0 {
			return fmt.Errorf("settings file %s: pool_max_bytes must not be negative", path)
		}
		cfg.PoolMaxBytes = *s.PoolMaxBytes
	}
	if s.VsockPort != nil {
		if *s.VsockPort < 0 || *s.VsockPort > 1<<32-1 {
			return fmt.Errorf("settings file %s: vsock_port out of range", path)
		}
		cfg.VsockPort = uint32(*s.VsockPort)
	}
	return nil
}

// ParseLogLevel converts a level name to a slog level, defaulting to info.
func ParseLogLevel(s string) slog.Level {
	return parseLogLevel(s)
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a structured JSON logger writing to w at the configured level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}
