// Package config provides configuration management for tuplejoin runs.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/shirou/gopsutil/v4/mem"
	"gopkg.in/yaml.v3"
)

// Config represents the configuration of the engine and the local runner.
type Config struct {
	// Spill Configuration
	SpillThreshold   int    `json:"spill_threshold" yaml:"spill_threshold"`     // In-memory rows per buffer before spilling
	SpillMaxBytes    string `json:"spill_max_bytes" yaml:"spill_max_bytes"`     // In-memory bytes per buffer before spilling ("0" = no byte limit)
	MergeBatchSize   int    `json:"merge_batch_size" yaml:"merge_batch_size"`   // Rows pulled per segment during a merge
	SpillDir         string `json:"spill_dir" yaml:"spill_dir"`                 // Spill directory ("" = OS temp dir)
	MinFreeDisk      string `json:"min_free_disk" yaml:"min_free_disk"`         // Free space the spill directory must keep ("0" disables the check)
	SpillCompression string `json:"spill_compression" yaml:"spill_compression"` // snappy, zstd or none

	// Memory Management Configuration
	MemoryMonitor           bool          `json:"memory_monitor" yaml:"memory_monitor"`                       // Spill buffers proactively under memory pressure
	MemoryPressureThreshold float64       `json:"memory_pressure_threshold" yaml:"memory_pressure_threshold"` // Pressure ratio (0.0-1.0) that triggers spills
	MemoryCheckInterval     time.Duration `json:"memory_check_interval" yaml:"memory_check_interval"`         // Memory sampling interval
	MemoryLimit             string        `json:"memory_limit" yaml:"memory_limit"`                           // Heap budget pressure is measured against ("0" = GOMEMLIMIT, else system memory)

	// Execution Configuration
	Partitions      int  `json:"partitions" yaml:"partitions"`             // Reduce partitions
	WorkerPoolSize  int  `json:"worker_pool_size" yaml:"worker_pool_size"` // Partitions reduced concurrently (0 = auto-detect)
	CombinerEnabled bool `json:"combiner_enabled" yaml:"combiner_enabled"` // Pre-aggregate combinable datasets map-side

	// Observability Configuration
	HeartbeatInterval time.Duration `json:"heartbeat_interval" yaml:"heartbeat_interval"` // Progress report interval
	MetricsCollection bool          `json:"metrics_collection" yaml:"metrics_collection"` // Record phase metrics
	MetricsAddr       string        `json:"metrics_addr" yaml:"metrics_addr"`             // Monitoring server address ("" = disabled)
	LogLevel          string        `json:"log_level" yaml:"log_level"`                   // logrus level name
}

// SystemInfo contains system information for configuration validation
type SystemInfo struct {
	CPUCount     int
	MemorySize   uint64
	Architecture string
	OSType       string
}

// ConfigValidator validates and provides recommendations for configuration
type ConfigValidator struct {
	systemInfo SystemInfo
}

// Global configuration instance
var (
	globalConfig Config
	configMutex  sync.RWMutex
)

// Default configuration values
const (
	DefaultSpillThreshold          = 500_000
	DefaultSpillMaxBytes           = "0"
	DefaultMergeBatchSize          = 100
	DefaultMinFreeDisk             = "300MiB"
	DefaultSpillCompression        = "snappy"
	DefaultMemoryPressureThreshold = 0.85
	DefaultMemoryCheckInterval     = time.Second
	DefaultMemoryLimit             = "0"
	DefaultPartitions              = 4
	DefaultHeartbeatInterval       = 10 * time.Second
	DefaultLogLevel                = "info"
)

// Initialize global configuration with defaults
func init() {
	globalConfig = NewConfig()
}

// NewConfig creates a new configuration with default values
func NewConfig() Config {
	return Config{
		SpillThreshold:   DefaultSpillThreshold,
		SpillMaxBytes:    DefaultSpillMaxBytes,
		MergeBatchSize:   DefaultMergeBatchSize,
		SpillDir:         "", // OS temp dir
		MinFreeDisk:      DefaultMinFreeDisk,
		SpillCompression: DefaultSpillCompression,

		MemoryMonitor:           true,
		MemoryPressureThreshold: DefaultMemoryPressureThreshold,
		MemoryCheckInterval:     DefaultMemoryCheckInterval,
		MemoryLimit:             DefaultMemoryLimit,

		Partitions:      DefaultPartitions,
		WorkerPoolSize:  0, // Auto-detect
		CombinerEnabled: true,

		HeartbeatInterval: DefaultHeartbeatInterval,
		MetricsCollection: false,
		MetricsAddr:       "",
		LogLevel:          DefaultLogLevel,
	}
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	if c.SpillThreshold <= 0 {
		return fmt.Errorf("SpillThreshold must be positive, got %d", c.SpillThreshold)
	}

	if _, err := c.SpillMaxBytesValue(); err != nil {
		return err
	}

	if c.MergeBatchSize <= 0 {
		return fmt.Errorf("MergeBatchSize must be positive, got %d", c.MergeBatchSize)
	}

	if _, err := c.MinFreeDiskBytes(); err != nil {
		return err
	}

	if _, err := c.MemoryLimitBytes(); err != nil {
		return err
	}

	switch strings.ToLower(c.SpillCompression) {
	case "snappy", "zstd", "none":
	default:
		return fmt.Errorf("SpillCompression must be snappy, zstd or none, got %q", c.SpillCompression)
	}

	if c.MemoryPressureThreshold <= 0.0 || c.MemoryPressureThreshold > 1.0 {
		return fmt.Errorf("MemoryPressureThreshold must be in (0, 1], got %f", c.MemoryPressureThreshold)
	}

	if c.MemoryCheckInterval <= 0 {
		return fmt.Errorf("MemoryCheckInterval must be positive, got %v", c.MemoryCheckInterval)
	}

	if c.Partitions <= 0 {
		return fmt.Errorf("Partitions must be positive, got %d", c.Partitions)
	}

	if c.WorkerPoolSize < 0 {
		return fmt.Errorf("WorkerPoolSize must be non-negative, got %d", c.WorkerPoolSize)
	}

	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("HeartbeatInterval must be positive, got %v", c.HeartbeatInterval)
	}

	return nil
}

// SpillMaxBytesValue parses SpillMaxBytes.
func (c *Config) SpillMaxBytesValue() (int64, error) {
	n, err := parseBytes(c.SpillMaxBytes, DefaultSpillMaxBytes)
	if err != nil {
		return 0, fmt.Errorf("SpillMaxBytes: %w", err)
	}
	return int64(n), nil //nolint:gosec // bounded by humanize parsing
}

// MinFreeDiskBytes parses MinFreeDisk.
func (c *Config) MinFreeDiskBytes() (uint64, error) {
	n, err := parseBytes(c.MinFreeDisk, DefaultMinFreeDisk)
	if err != nil {
		return 0, fmt.Errorf("MinFreeDisk: %w", err)
	}
	return n, nil
}

// MemoryLimitBytes parses MemoryLimit.
func (c *Config) MemoryLimitBytes() (uint64, error) {
	n, err := parseBytes(c.MemoryLimit, DefaultMemoryLimit)
	if err != nil {
		return 0, fmt.Errorf("MemoryLimit: %w", err)
	}
	return n, nil
}

func parseBytes(s, fallback string) (uint64, error) {
	if strings.TrimSpace(s) == "" {
		s = fallback
	}
	return humanize.ParseBytes(s)
}

// WithDefaults returns a new configuration with default values filled in for zero values
func (c Config) WithDefaults() Config {
	defaults := NewConfig()

	if c.SpillThreshold == 0 {
		c.SpillThreshold = defaults.SpillThreshold
	}
	if c.SpillMaxBytes == "" {
		c.SpillMaxBytes = defaults.SpillMaxBytes
	}
	if c.MergeBatchSize == 0 {
		c.MergeBatchSize = defaults.MergeBatchSize
	}
	if c.MinFreeDisk == "" {
		c.MinFreeDisk = defaults.MinFreeDisk
	}
	if c.MemoryLimit == "" {
		c.MemoryLimit = defaults.MemoryLimit
	}
	if c.SpillCompression == "" {
		c.SpillCompression = defaults.SpillCompression
	}
	if c.MemoryPressureThreshold == 0.0 {
		c.MemoryPressureThreshold = defaults.MemoryPressureThreshold
	}
	if c.MemoryCheckInterval == 0 {
		c.MemoryCheckInterval = defaults.MemoryCheckInterval
	}
	if c.Partitions == 0 {
		c.Partitions = defaults.Partitions
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = defaults.HeartbeatInterval
	}
	if c.LogLevel == "" {
		c.LogLevel = defaults.LogLevel
	}

	// Boolean fields are left alone so an explicit false survives.

	return c
}

// SetGlobalConfig sets the global configuration
func SetGlobalConfig(config Config) {
	configMutex.Lock()
	defer configMutex.Unlock()
	globalConfig = config
}

// GetGlobalConfig returns the current global configuration
func GetGlobalConfig() Config {
	configMutex.RLock()
	defer configMutex.RUnlock()
	return globalConfig
}

// LoadFromJSON loads configuration from JSON data
func LoadFromJSON(data []byte) (Config, error) {
	config := NewConfig()
	if err := json.Unmarshal(data, &config); err != nil {
		return Config{}, fmt.Errorf("parsing JSON configuration: %w", err)
	}
	return config.WithDefaults(), nil
}

// LoadFromFile loads configuration from a JSON or YAML file. Keys absent
// from the file keep their defaults.
func LoadFromFile(filename string) (Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return Config{}, fmt.Errorf("reading config file %s: %w", filename, err)
	}

	config := NewConfig()
	ext := strings.ToLower(filepath.Ext(filename))

	switch ext {
	case ".json":
		err = json.Unmarshal(data, &config)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &config)
	default:
		return Config{}, fmt.Errorf("unsupported config file format: %s", ext)
	}

	if err != nil {
		return Config{}, fmt.Errorf("parsing config file %s: %w", filename, err)
	}

	return config.WithDefaults(), nil
}

// EnvPrefix prefixes every environment variable read by LoadFromEnv.
const EnvPrefix = "TUPLEJOIN_"

// LoadFromEnv loads configuration from TUPLEJOIN_* environment variables
// over the defaults. Unparsable values are ignored.
func LoadFromEnv() Config {
	config := NewConfig()
	config.ApplyEnv()
	return config
}

// ApplyEnv overrides fields from TUPLEJOIN_* environment variables.
func (c *Config) ApplyEnv() {
	envInt("SPILL_THRESHOLD", &c.SpillThreshold)
	envString("SPILL_MAX_BYTES", &c.SpillMaxBytes)
	envInt("MERGE_BATCH_SIZE", &c.MergeBatchSize)
	envString("SPILL_DIR", &c.SpillDir)
	envString("MIN_FREE_DISK", &c.MinFreeDisk)
	envString("SPILL_COMPRESSION", &c.SpillCompression)
	envBool("MEMORY_MONITOR", &c.MemoryMonitor)
	envFloat("MEMORY_PRESSURE_THRESHOLD", &c.MemoryPressureThreshold)
	envDuration("MEMORY_CHECK_INTERVAL", &c.MemoryCheckInterval)
	envString("MEMORY_LIMIT", &c.MemoryLimit)
	envInt("PARTITIONS", &c.Partitions)
	envInt("WORKER_POOL_SIZE", &c.WorkerPoolSize)
	envBool("COMBINER_ENABLED", &c.CombinerEnabled)
	envDuration("HEARTBEAT_INTERVAL", &c.HeartbeatInterval)
	envBool("METRICS_COLLECTION", &c.MetricsCollection)
	envString("METRICS_ADDR", &c.MetricsAddr)
	envString("LOG_LEVEL", &c.LogLevel)
}

func envString(name string, dst *string) {
	if val := os.Getenv(EnvPrefix + name); val != "" {
		*dst = val
	}
}

func envInt(name string, dst *int) {
	if val := os.Getenv(EnvPrefix + name); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			*dst = parsed
		}
	}
}

func envFloat(name string, dst *float64) {
	if val := os.Getenv(EnvPrefix + name); val != "" {
		if parsed, err := strconv.ParseFloat(val, 64); err == nil {
			*dst = parsed
		}
	}
}

func envBool(name string, dst *bool) {
	if val := os.Getenv(EnvPrefix + name); val != "" {
		if parsed, err := strconv.ParseBool(val); err == nil {
			*dst = parsed
		}
	}
}

func envDuration(name string, dst *time.Duration) {
	if val := os.Getenv(EnvPrefix + name); val != "" {
		if parsed, err := time.ParseDuration(val); err == nil {
			*dst = parsed
		}
	}
}

// GetSystemInfo returns system information for configuration validation
func GetSystemInfo() SystemInfo {
	var memSize uint64 = 8 << 30 // estimate when the OS cannot be queried
	if vm, err := mem.VirtualMemory(); err == nil && vm.Total > 0 {
		memSize = vm.Total
	}

	return SystemInfo{
		CPUCount:     runtime.NumCPU(),
		MemorySize:   memSize,
		Architecture: runtime.GOARCH,
		OSType:       runtime.GOOS,
	}
}

// NewConfigValidator creates a new configuration validator
func NewConfigValidator() *ConfigValidator {
	return &ConfigValidator{
		systemInfo: GetSystemInfo(),
	}
}

// Validate validates a configuration and provides recommendations
func (cv *ConfigValidator) Validate(config Config) (Config, []string, error) {
	var warnings []string
	validated := config

	if err := config.Validate(); err != nil {
		return Config{}, warnings, err
	}

	if config.WorkerPoolSize > cv.systemInfo.CPUCount*2 {
		warnings = append(warnings,
			fmt.Sprintf("Worker pool size (%d) exceeds 2x CPU count (%d), may cause contention",
				config.WorkerPoolSize, cv.systemInfo.CPUCount))
	}

	if maxBytes, _ := config.SpillMaxBytesValue(); maxBytes > 0 && uint64(maxBytes) > cv.systemInfo.MemorySize/2 {
		warnings = append(warnings,
			fmt.Sprintf("Spill byte limit (%s) exceeds half of system memory (%s)",
				humanize.IBytes(uint64(maxBytes)), humanize.IBytes(cv.systemInfo.MemorySize)))
	}

	if config.WorkerPoolSize == 0 {
		validated.WorkerPoolSize = cv.systemInfo.CPUCount
		warnings = append(warnings,
			fmt.Sprintf("Auto-setting worker pool size to %d (CPU count)",
				validated.WorkerPoolSize))
	}

	if validated.Partitions < validated.WorkerPoolSize {
		warnings = append(warnings,
			fmt.Sprintf("Fewer partitions (%d) than workers (%d), some workers stay idle",
				validated.Partitions, validated.WorkerPoolSize))
	}

	return validated, warnings, nil
}
