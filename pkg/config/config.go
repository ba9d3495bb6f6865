// Package config handles gpudispatch configuration via YAML files and environment variables.
//
// Configuration Precedence (highest to lowest):
//  1. Command-line flags (--backend, --device, --log-level, etc.)
//  2. Environment variables (GPUDISPATCH_*)
//  3. Config file (config.yaml)
//  4. Built-in defaults
//
// Example Usage:
//
//	cfg, err := config.LoadFromFile(config.FindConfigFile())
//	if err != nil {
//		log.Fatalf("Invalid config: %v", err)
//	}
//	ctx, err := gpu.Open(cfg.GPUConfig())
//
// Environment Variables (all use GPUDISPATCH_ prefix):
//
// Device selection:
//   - GPUDISPATCH_BACKEND="auto", "metal", "vulkan" or "soft"
//   - GPUDISPATCH_DEVICE_ID=0
//   - GPUDISPATCH_FALLBACK=true
//   - GPUDISPATCH_CACHE_PIPELINES=true
//
// Software device:
//   - GPUDISPATCH_SOFT_EXECUTION_WIDTH=32
//   - GPUDISPATCH_SOFT_MAX_THREADS=1024
//   - GPUDISPATCH_SOFT_WORKERS=8
//   - GPUDISPATCH_SOFT_MEMORY_LIMIT="512MB"
//
// Logging:
//   - GPUDISPATCH_LOG_LEVEL="INFO"
//   - GPUDISPATCH_LOG_FORMAT="text" or "json"
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/orneryd/gpudispatch/pkg/gpu"
)

// Config holds all gpudispatch configuration.
//
// Configuration is organized into logical sections:
//   - GPU: backend and device selection
//   - Soft: shape of the software device
//   - Logging: log level and output format
type Config struct {
	GPU     GPUConfig
	Soft    SoftConfig
	Logging LoggingConfig
}

// GPUConfig selects the compute device.
type GPUConfig struct {
	// Backend is "auto", "metal", "vulkan" or "soft".
	Backend string
	// DeviceID selects a GPU on multi-GPU systems.
	DeviceID int
	// FallbackOnError opens the software device when no GPU backend works.
	FallbackOnError bool
	// CachePipelines reuses built pipelines across calls.
	CachePipelines bool
}

// SoftConfig shapes the software device.
type SoftConfig struct {
	ExecutionWidth     int
	MaxThreadsPerGroup int
	Workers            int
	// MemoryLimitStr is the human-readable limit ("512MB", "unlimited").
	MemoryLimitStr string
	// MemoryLimit is MemoryLimitStr in bytes. Zero means unlimited.
	MemoryLimit int64
}

// LoggingConfig controls the slog handler installed by the CLI.
type LoggingConfig struct {
	// Level is DEBUG, INFO, WARN or ERROR.
	Level string
	// Format is "text" or "json".
	Format string
}

// LoadDefaults returns the built-in configuration.
func LoadDefaults() *Config {
	config := &Config{}

	config.GPU.Backend = string(gpu.BackendAuto)
	config.GPU.DeviceID = 0
	config.GPU.FallbackOnError = true
	config.GPU.CachePipelines = true

	config.Soft.ExecutionWidth = 32
	config.Soft.MaxThreadsPerGroup = 1024
	config.Soft.Workers = runtime.GOMAXPROCS(0)
	config.Soft.MemoryLimitStr = "0"
	config.Soft.MemoryLimit = 0

	config.Logging.Level = "INFO"
	config.Logging.Format = "text"

	return config
}

// LoadFromEnv returns the defaults overridden by GPUDISPATCH_* variables.
func LoadFromEnv() *Config {
	config := LoadDefaults()
	applyEnvVars(config)
	return config
}

// applyEnvVars overrides config with any GPUDISPATCH_* variables that are set.
func applyEnvVars(config *Config) {
	config.GPU.Backend = getEnv("GPUDISPATCH_BACKEND", config.GPU.Backend)
	config.GPU.DeviceID = getEnvInt("GPUDISPATCH_DEVICE_ID", config.GPU.DeviceID)
	config.GPU.FallbackOnError = getEnvBool("GPUDISPATCH_FALLBACK", config.GPU.FallbackOnError)
	config.GPU.CachePipelines = getEnvBool("GPUDISPATCH_CACHE_PIPELINES", config.GPU.CachePipelines)

	config.Soft.ExecutionWidth = getEnvInt("GPUDISPATCH_SOFT_EXECUTION_WIDTH", config.Soft.ExecutionWidth)
	config.Soft.MaxThreadsPerGroup = getEnvInt("GPUDISPATCH_SOFT_MAX_THREADS", config.Soft.MaxThreadsPerGroup)
	config.Soft.Workers = getEnvInt("GPUDISPATCH_SOFT_WORKERS", config.Soft.Workers)
	if v := os.Getenv("GPUDISPATCH_SOFT_MEMORY_LIMIT"); v != "" {
		config.Soft.MemoryLimitStr = v
		config.Soft.MemoryLimit = parseMemorySize(v)
	}

	config.Logging.Level = getEnv("GPUDISPATCH_LOG_LEVEL", config.Logging.Level)
	config.Logging.Format = getEnv("GPUDISPATCH_LOG_FORMAT", config.Logging.Format)
}

// Validate checks the configuration for invalid values.
//
// Example:
//
//	cfg := config.LoadFromEnv()
//	if err := cfg.Validate(); err != nil {
//		log.Fatalf("Configuration error: %v", err)
//	}
func (c *Config) Validate() error {
	if _, err := gpu.ParseBackend(c.GPU.Backend); err != nil {
		return err
	}
	if c.GPU.DeviceID < 0 {
		return fmt.Errorf("invalid device id: %d", c.GPU.DeviceID)
	}
	if c.Soft.ExecutionWidth <= 0 {
		return fmt.Errorf("invalid soft execution width: %d", c.Soft.ExecutionWidth)
	}
	if c.Soft.MaxThreadsPerGroup < c.Soft.ExecutionWidth {
		return fmt.Errorf("soft max threads per group (%d) below execution width (%d)",
			c.Soft.MaxThreadsPerGroup, c.Soft.ExecutionWidth)
	}
	if c.Soft.Workers <= 0 {
		return fmt.Errorf("invalid soft workers: %d", c.Soft.Workers)
	}
	if c.Soft.MemoryLimit < 0 {
		return fmt.Errorf("invalid soft memory limit: %q", c.Soft.MemoryLimitStr)
	}
	switch strings.ToUpper(c.Logging.Level) {
	case "DEBUG", "INFO", "WARN", "WARNING", "ERROR":
	default:
		return fmt.Errorf("invalid log level: %q", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format: %q", c.Logging.Format)
	}
	return nil
}

// GPUConfig converts the loaded settings into the options gpu.Open takes.
// Call Validate first; an unknown backend maps to automatic selection.
func (c *Config) GPUConfig() *gpu.Config {
	backend, err := gpu.ParseBackend(c.GPU.Backend)
	if err != nil {
		backend = gpu.BackendAuto
	}
	out := gpu.DefaultConfig()
	out.Backend = backend
	out.DeviceID = c.GPU.DeviceID
	out.FallbackOnError = c.GPU.FallbackOnError
	out.CachePipelines = c.GPU.CachePipelines
	out.Soft.ExecutionWidth = uint32(c.Soft.ExecutionWidth)
	out.Soft.MaxThreadsPerGroup = uint32(c.Soft.MaxThreadsPerGroup)
	out.Soft.Workers = c.Soft.Workers
	if c.Soft.MemoryLimit > 0 {
		out.Soft.MemoryLimit = uint64(c.Soft.MemoryLimit)
	}
	return out
}

// String returns a one-line summary suitable for logging.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Backend: %s, Device: %d, Fallback: %v, Cache: %v, Soft: %dx%d/%d workers, Log: %s/%s}",
		c.GPU.Backend, c.GPU.DeviceID, c.GPU.FallbackOnError, c.GPU.CachePipelines,
		c.Soft.ExecutionWidth, c.Soft.MaxThreadsPerGroup, c.Soft.Workers,
		c.Logging.Level, c.Logging.Format,
	)
}

// YAMLConfig represents the YAML configuration file structure.
// Pointer fields distinguish "unset" from an explicit zero or false.
type YAMLConfig struct {
	GPU struct {
		Backend         string `yaml:"backend"`
		DeviceID        *int   `yaml:"device_id"`
		FallbackOnError *bool  `yaml:"fallback_on_error"`
		CachePipelines  *bool  `yaml:"cache_pipelines"`
	} `yaml:"gpu"`

	Soft struct {
		ExecutionWidth     int    `yaml:"execution_width"`
		MaxThreadsPerGroup int    `yaml:"max_threads_per_group"`
		Workers            int    `yaml:"workers"`
		MemoryLimit        string `yaml:"memory_limit"`
	} `yaml:"soft"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`
}

// LoadFromFile loads configuration with the precedence defaults, then the
// YAML file at path, then environment variables. A missing or empty path
// yields defaults plus environment.
func LoadFromFile(path string) (*Config, error) {
	config := LoadDefaults()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
		case err != nil:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		default:
			var yamlCfg YAMLConfig
			if err := yaml.Unmarshal(data, &yamlCfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
			applyYAML(config, &yamlCfg)
		}
	}

	applyEnvVars(config)
	return config, nil
}

func applyYAML(config *Config, y *YAMLConfig) {
	if y.GPU.Backend != "" {
		config.GPU.Backend = y.GPU.Backend
	}
	if y.GPU.DeviceID != nil {
		config.GPU.DeviceID = *y.GPU.DeviceID
	}
	if y.GPU.FallbackOnError != nil {
		config.GPU.FallbackOnError = *y.GPU.FallbackOnError
	}
	if y.GPU.CachePipelines != nil {
		config.GPU.CachePipelines = *y.GPU.CachePipelines
	}

	if y.Soft.ExecutionWidth > 0 {
		config.Soft.ExecutionWidth = y.Soft.ExecutionWidth
	}
	if y.Soft.MaxThreadsPerGroup > 0 {
		config.Soft.MaxThreadsPerGroup = y.Soft.MaxThreadsPerGroup
	}
	if y.Soft.Workers > 0 {
		config.Soft.Workers = y.Soft.Workers
	}
	if y.Soft.MemoryLimit != "" {
		config.Soft.MemoryLimitStr = y.Soft.MemoryLimit
		config.Soft.MemoryLimit = parseMemorySize(y.Soft.MemoryLimit)
	}

	if y.Logging.Level != "" {
		config.Logging.Level = y.Logging.Level
	}
	if y.Logging.Format != "" {
		config.Logging.Format = y.Logging.Format
	}
}

// FindConfigFile returns the first config file that exists, or "" if none.
//
// Search order:
//  1. ~/.gpudispatch/config.yaml
//  2. config.yaml or gpudispatch.yaml next to the binary
//  3. config.yaml or gpudispatch.yaml in the working directory
//  4. ~/.config/gpudispatch/config.yaml
func FindConfigFile() string {
	var candidates []string

	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".gpudispatch", "config.yaml"))
	}

	if exe, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exe)
		candidates = append(candidates,
			filepath.Join(exeDir, "config.yaml"),
			filepath.Join(exeDir, "gpudispatch.yaml"),
		)
	}

	candidates = append(candidates,
		"config.yaml",
		"gpudispatch.yaml",
	)

	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "gpudispatch", "config.yaml"))
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		val = strings.ToLower(val)
		return val == "true" || val == "1" || val == "yes" || val == "on"
	}
	return defaultVal
}

// parseMemorySize parses a human-readable memory size string.
// Supports: "1024", "1KB", "1MB", "1GB", "1TB", "0", "unlimited".
// Unparseable input returns -1 so Validate can reject it.
func parseMemorySize(s string) int64 {
	s = strings.TrimSpace(strings.ToUpper(s))
	if s == "" || s == "0" || s == "UNLIMITED" {
		return 0
	}

	s = strings.TrimSuffix(s, "B")

	var multiplier int64 = 1
	switch {
	case strings.HasSuffix(s, "K"):
		multiplier = 1024
		s = strings.TrimSuffix(s, "K")
	case strings.HasSuffix(s, "M"):
		multiplier = 1024 * 1024
		s = strings.TrimSuffix(s, "M")
	case strings.HasSuffix(s, "G"):
		multiplier = 1024 * 1024 * 1024
		s = strings.TrimSuffix(s, "G")
	case strings.HasSuffix(s, "T"):
		multiplier = 1024 * 1024 * 1024 * 1024
		s = strings.TrimSuffix(s, "T")
	}

	val, err := strconv.ParseInt(s, 10, 64)
	if err != nil || val < 0 {
		return -1
	}
	return val * multiplier
}
