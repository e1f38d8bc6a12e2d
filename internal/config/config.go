package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the complete application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server" json:"server"`
	Database DatabaseConfig `yaml:"database" json:"database"`
	Importer ImporterConfig `yaml:"importer" json:"importer"`
	Logging  LoggingConfig  `yaml:"logging" json:"logging"`
	Shares   []ShareConfig  `yaml:"shares" json:"shares"`
}

// ServerConfig holds the HTTP control API settings
type ServerConfig struct {
	Host         string        `yaml:"host" json:"host" env:"VIEWRA_IMPORTER_HOST"`
	Port         int           `yaml:"port" json:"port" env:"VIEWRA_IMPORTER_PORT"`
	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout" env:"VIEWRA_IMPORTER_READ_TIMEOUT"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout" env:"VIEWRA_IMPORTER_WRITE_TIMEOUT"`
	EnableCORS   bool          `yaml:"enable_cors" json:"enable_cors" env:"VIEWRA_IMPORTER_ENABLE_CORS"`
}

// DatabaseConfig holds catalog and job store database settings
type DatabaseConfig struct {
	Type            string        `yaml:"type" json:"type" env:"DATABASE_TYPE"`
	URL             string        `yaml:"url" json:"url" env:"DATABASE_URL"`
	Host            string        `yaml:"host" json:"host" env:"POSTGRES_HOST"`
	Port            int           `yaml:"port" json:"port" env:"POSTGRES_PORT"`
	Username        string        `yaml:"username" json:"username" env:"POSTGRES_USER"`
	Password        string        `yaml:"password" json:"-" env:"POSTGRES_PASSWORD"`
	Database        string        `yaml:"database" json:"database" env:"POSTGRES_DB"`
	DataDir         string        `yaml:"data_dir" json:"data_dir" env:"VIEWRA_DATA_DIR"`
	DatabasePath    string        `yaml:"database_path" json:"database_path" env:"VIEWRA_IMPORTER_DATABASE_PATH"`
	MaxOpenConns    int           `yaml:"max_open_conns" json:"max_open_conns" env:"DB_MAX_OPEN_CONNS"`
	MaxIdleConns    int           `yaml:"max_idle_conns" json:"max_idle_conns" env:"DB_MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime" env:"DB_CONN_MAX_LIFETIME"`
	LogQueries      bool          `yaml:"log_queries" json:"log_queries" env:"DB_LOG_QUERIES"`
}

// ImporterConfig holds import engine settings
type ImporterConfig struct {
	AutoActivate     bool           `yaml:"auto_activate" json:"auto_activate" env:"VIEWRA_IMPORTER_AUTO_ACTIVATE"`
	RefreshOnStartup bool           `yaml:"refresh_on_startup" json:"refresh_on_startup" env:"VIEWRA_IMPORTER_REFRESH_ON_STARTUP"`
	RefreshInterval  time.Duration  `yaml:"refresh_interval" json:"refresh_interval" env:"VIEWRA_IMPORTER_REFRESH_INTERVAL"`
	WatchDebounce    time.Duration  `yaml:"watch_debounce" json:"watch_debounce" env:"VIEWRA_IMPORTER_WATCH_DEBOUNCE"`
	FFprobePath      string         `yaml:"ffprobe_path" json:"ffprobe_path" env:"VIEWRA_FFPROBE_PATH"`
	EventBufferSize  int            `yaml:"event_buffer_size" json:"event_buffer_size" env:"VIEWRA_IMPORTER_EVENT_BUFFER"`
	Throttle         ThrottleConfig `yaml:"throttle" json:"throttle"`
}

// ThrottleConfig controls the host load gate consulted before each resource
type ThrottleConfig struct {
	Enabled         bool          `yaml:"enabled" json:"enabled" env:"VIEWRA_IMPORTER_THROTTLE"`
	CPUThreshold    float64       `yaml:"cpu_threshold" json:"cpu_threshold" env:"VIEWRA_CPU_THRESHOLD"`
	MemoryThreshold float64       `yaml:"memory_threshold" json:"memory_threshold" env:"VIEWRA_MEMORY_THRESHOLD"`
	Pause           time.Duration `yaml:"pause" json:"pause" env:"VIEWRA_IMPORTER_THROTTLE_PAUSE"`
	MaxWait         time.Duration `yaml:"max_wait" json:"max_wait" env:"VIEWRA_IMPORTER_THROTTLE_MAX_WAIT"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level" json:"level" env:"VIEWRA_LOG_LEVEL"`
	Format       string `yaml:"format" json:"format" env:"VIEWRA_LOG_FORMAT"`
	Output       string `yaml:"output" json:"output" env:"VIEWRA_LOG_OUTPUT"`
	FilePath     string `yaml:"file_path" json:"file_path" env:"VIEWRA_LOG_FILE"`
	EnableColors bool   `yaml:"enable_colors" json:"enable_colors" env:"VIEWRA_LOG_COLORS"`
}

// ShareConfig describes a directory tree to keep imported
type ShareConfig struct {
	Name                  string   `yaml:"name" json:"name"`
	Path                  string   `yaml:"path" json:"path"`
	Categories            []string `yaml:"categories" json:"categories"`
	IncludeSubDirectories bool     `yaml:"include_sub_directories" json:"include_sub_directories"`
	Watch                 bool     `yaml:"watch" json:"watch"`
}

// ConfigManager loads and holds the configuration
type ConfigManager struct {
	config     *Config
	configPath string
	mu         sync.RWMutex
}

var (
	globalConfigManager *ConfigManager
	configOnce          sync.Once
)

// GetConfigManager returns the global configuration manager instance
func GetConfigManager() *ConfigManager {
	configOnce.Do(func() {
		globalConfigManager = NewConfigManager()
	})
	return globalConfigManager
}

// NewConfigManager creates a new configuration manager
func NewConfigManager() *ConfigManager {
	return &ConfigManager{config: DefaultConfig()}
}

// DefaultConfig returns the default application configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8081,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			EnableCORS:   true,
		},
		Database: DatabaseConfig{
			Type:            "sqlite",
			Host:            "localhost",
			Port:            5432,
			Username:        "viewra",
			Database:        "viewra",
			DataDir:         "/app/viewra-data",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 2 * time.Hour,
		},
		Importer: ImporterConfig{
			AutoActivate:     true,
			RefreshOnStartup: true,
			RefreshInterval:  6 * time.Hour,
			WatchDebounce:    2 * time.Second,
			FFprobePath:      "ffprobe",
			EventBufferSize:  1000,
			Throttle: ThrottleConfig{
				Enabled:         true,
				CPUThreshold:    80.0,
				MemoryThreshold: 85.0,
				Pause:           2 * time.Second,
				MaxWait:         time.Minute,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Shares: []ShareConfig{},
	}
}

// LoadConfig loads configuration from file and environment variables
func (cm *ConfigManager) LoadConfig(configPath string) error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	newConfig := DefaultConfig()

	if configPath != "" {
		if !fileExists(configPath) {
			return fmt.Errorf("config file not found: %s", configPath)
		}
		if err := loadFromFile(configPath, newConfig); err != nil {
			return fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := loadStructFromEnv(reflect.ValueOf(newConfig).Elem()); err != nil {
		return fmt.Errorf("failed to load config from environment: %w", err)
	}

	if err := newConfig.Validate(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	applyDerivedConfig(newConfig)

	cm.config = newConfig
	cm.configPath = configPath
	return nil
}

// GetConfig returns a copy of the current configuration
func (cm *ConfigManager) GetConfig() *Config {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	configCopy := *cm.config
	configCopy.Shares = append([]ShareConfig(nil), cm.config.Shares...)
	return &configCopy
}

func loadFromFile(path string, config *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, config)
	case ".json":
		return json.Unmarshal(data, config)
	default:
		return fmt.Errorf("unsupported config file format: %s", ext)
	}
}

// loadStructFromEnv overrides fields from their env variables. Defaults come
// from DefaultConfig so that zero values set in the file are kept.
func loadStructFromEnv(v reflect.Value) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		if !field.CanSet() {
			continue
		}

		if field.Kind() == reflect.Struct && field.Type() != reflect.TypeOf(time.Time{}) {
			if err := loadStructFromEnv(field); err != nil {
				return err
			}
			continue
		}

		envTag := fieldType.Tag.Get("env")
		if envTag == "" {
			continue
		}

		value := os.Getenv(envTag)
		if value == "" {
			continue
		}

		if err := setFieldValue(field, value); err != nil {
			return fmt.Errorf("failed to set field %s from %s: %w", fieldType.Name, envTag, err)
		}
	}

	return nil
}

func setFieldValue(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			duration, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(duration))
		} else {
			intVal, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(intVal)
		}
	case reflect.Float32, reflect.Float64:
		floatVal, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(floatVal)
	case reflect.Bool:
		boolVal, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(boolVal)
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice type: %v", field.Type())
		}
		values := strings.Split(value, ",")
		for i, v := range values {
			values[i] = strings.TrimSpace(v)
		}
		field.Set(reflect.ValueOf(values))
	default:
		return fmt.Errorf("unsupported field type: %v", field.Kind())
	}

	return nil
}

// Validate checks the configuration for values the importer cannot run with
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Database.Type != "sqlite" && c.Database.Type != "postgres" {
		return fmt.Errorf("unsupported database type: %s", c.Database.Type)
	}

	if c.Importer.RefreshInterval < 0 {
		return fmt.Errorf("invalid refresh interval: %s", c.Importer.RefreshInterval)
	}

	throttle := c.Importer.Throttle
	if throttle.CPUThreshold <= 0 || throttle.CPUThreshold > 100 {
		return fmt.Errorf("invalid cpu threshold: %.1f", throttle.CPUThreshold)
	}
	if throttle.MemoryThreshold <= 0 || throttle.MemoryThreshold > 100 {
		return fmt.Errorf("invalid memory threshold: %.1f", throttle.MemoryThreshold)
	}

	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("unsupported log format: %s", c.Logging.Format)
	}

	seen := make(map[string]bool)
	for i, share := range c.Shares {
		if !filepath.IsAbs(share.Path) {
			return fmt.Errorf("share %d (%s): path %q must be absolute", i, share.Name, share.Path)
		}
		clean := filepath.Clean(share.Path)
		if seen[clean] {
			return fmt.Errorf("share %d (%s): duplicate path %q", i, share.Name, share.Path)
		}
		seen[clean] = true
	}

	return nil
}

func applyDerivedConfig(config *Config) {
	if config.Database.DatabasePath == "" && config.Database.Type == "sqlite" {
		config.Database.DatabasePath = filepath.Join(config.Database.DataDir, "importer.db")
	}

	for i := range config.Shares {
		if config.Shares[i].Name == "" {
			config.Shares[i].Name = filepath.Base(config.Shares[i].Path)
		}
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Get returns the current global configuration
func Get() *Config {
	return GetConfigManager().GetConfig()
}

// Load loads configuration from the specified path
func Load(configPath string) error {
	return GetConfigManager().LoadConfig(configPath)
}
