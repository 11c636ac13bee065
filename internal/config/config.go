package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the complete engine configuration.
type Config struct {
	// Debug server configuration
	Server ServerConfig `yaml:"server" json:"server"`

	// Frame cache configuration
	Cache CacheConfig `yaml:"cache" json:"cache"`

	// Preload scheduler configuration
	Preload PreloadConfig `yaml:"preload" json:"preload"`

	// Performance monitor configuration
	Monitor MonitorConfig `yaml:"monitor" json:"monitor"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// ServerConfig holds the debug/introspection HTTP server configuration.
type ServerConfig struct {
	Host       string `yaml:"host" json:"host" env:"VELOCUT_HOST" default:"0.0.0.0"`
	Port       int    `yaml:"port" json:"port" env:"VELOCUT_PORT" default:"8090"`
	EnableCORS bool   `yaml:"enable_cors" json:"enable_cors" env:"VELOCUT_ENABLE_CORS" default:"true"`
}

// CacheConfig holds frame cache and decoder pool configuration.
type CacheConfig struct {
	MaxFrames          int           `yaml:"max_frames" json:"max_frames" env:"VELOCUT_CACHE_MAX_FRAMES" default:"120"`
	MaxBytes           int64         `yaml:"max_bytes" json:"max_bytes" env:"VELOCUT_CACHE_MAX_BYTES" default:"536870912"`
	PoolSize           int           `yaml:"pool_size" json:"pool_size" env:"VELOCUT_POOL_SIZE" default:"8"`
	PoolAcquireTimeout time.Duration `yaml:"pool_acquire_timeout" json:"pool_acquire_timeout" env:"VELOCUT_POOL_ACQUIRE_TIMEOUT" default:"2s"`
	// Seek storm detection: more than SeekStormThreshold requests for one
	// source inside SeekStormWindow collapses the backlog to the newest.
	SeekStormWindow    time.Duration `yaml:"seek_storm_window" json:"seek_storm_window" env:"VELOCUT_SEEK_STORM_WINDOW" default:"250ms"`
	SeekStormThreshold int           `yaml:"seek_storm_threshold" json:"seek_storm_threshold" env:"VELOCUT_SEEK_STORM_THRESHOLD" default:"6"`
}

// PreloadConfig holds preload scheduler configuration.
type PreloadConfig struct {
	RadiusSeconds  float64 `yaml:"radius_seconds" json:"radius_seconds" env:"VELOCUT_PRELOAD_RADIUS" default:"2.0"`
	MaxConcurrent  int     `yaml:"max_concurrent" json:"max_concurrent" env:"VELOCUT_PRELOAD_CONCURRENCY" default:"2"`
	SamplesPerSec  float64 `yaml:"samples_per_sec" json:"samples_per_sec" env:"VELOCUT_PRELOAD_SAMPLE_RATE" default:"24"`
	LookBehindSecs float64 `yaml:"look_behind_secs" json:"look_behind_secs" env:"VELOCUT_PRELOAD_LOOK_BEHIND" default:"1.0"`
}

// MonitorConfig holds performance monitor thresholds and sampling intervals.
type MonitorConfig struct {
	MinFrameRate         float64       `yaml:"min_frame_rate" json:"min_frame_rate" env:"VELOCUT_MIN_FRAME_RATE" default:"24"`
	MaxMemoryBytes       uint64        `yaml:"max_memory_bytes" json:"max_memory_bytes" env:"VELOCUT_MAX_MEMORY_BYTES" default:"1073741824"`
	MinCacheHitRate      float64       `yaml:"min_cache_hit_rate" json:"min_cache_hit_rate" env:"VELOCUT_MIN_CACHE_HIT_RATE" default:"0.8"`
	MaxDecodeTime        time.Duration `yaml:"max_decode_time" json:"max_decode_time" env:"VELOCUT_MAX_DECODE_TIME" default:"50ms"`
	MaxRenderTime        time.Duration `yaml:"max_render_time" json:"max_render_time" env:"VELOCUT_MAX_RENDER_TIME" default:"16ms"`
	FrameRateWindow      int           `yaml:"frame_rate_window" json:"frame_rate_window" env:"VELOCUT_FRAME_RATE_WINDOW" default:"10"`
	MemorySampleInterval time.Duration `yaml:"memory_sample_interval" json:"memory_sample_interval" env:"VELOCUT_MEMORY_SAMPLE_INTERVAL" default:"2s"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level" json:"level" env:"VELOCUT_LOG_LEVEL" default:"info"`
}

// Manager manages engine configuration with hot-reload support.
type Manager struct {
	config     *Config
	configPath string
	watchers   []Watcher
	mu         sync.RWMutex
}

// Watcher is called when configuration changes.
type Watcher func(oldConfig, newConfig *Config)

// NewManager creates a new configuration manager seeded with defaults.
func NewManager() *Manager {
	return &Manager{
		config:   Default(),
		watchers: make([]Watcher, 0),
	}
}

// Default returns the default engine configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:       "0.0.0.0",
			Port:       8090,
			EnableCORS: true,
		},
		Cache: CacheConfig{
			MaxFrames:          120,
			MaxBytes:           512 * 1024 * 1024, // 512MB
			PoolSize:           8,
			PoolAcquireTimeout: 2 * time.Second,
			SeekStormWindow:    250 * time.Millisecond,
			SeekStormThreshold: 6,
		},
		Preload: PreloadConfig{
			RadiusSeconds:  2.0,
			MaxConcurrent:  2,
			SamplesPerSec:  24,
			LookBehindSecs: 1.0,
		},
		Monitor: MonitorConfig{
			MinFrameRate:         24,
			MaxMemoryBytes:       1 << 30, // 1GiB
			MinCacheHitRate:      0.8,
			MaxDecodeTime:        50 * time.Millisecond,
			MaxRenderTime:        16 * time.Millisecond,
			FrameRateWindow:      10,
			MemorySampleInterval: 2 * time.Second,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from file and environment variables.
func (m *Manager) Load(configPath string) error {
	m.mu.Lock()

	oldConfig := *m.config
	m.configPath = configPath

	newConfig := Default()

	if configPath != "" && fileExists(configPath) {
		if err := loadFromFile(configPath, newConfig); err != nil {
			m.mu.Unlock()
			return fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := loadStructFromEnv(reflect.ValueOf(newConfig).Elem()); err != nil {
		m.mu.Unlock()
		return fmt.Errorf("failed to load config from environment: %w", err)
	}

	if err := validate(newConfig); err != nil {
		m.mu.Unlock()
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	m.config = newConfig
	watchers := append([]Watcher(nil), m.watchers...)
	m.mu.Unlock()

	for _, watcher := range watchers {
		watcher(&oldConfig, newConfig)
	}

	return nil
}

// Get returns a copy of the current configuration.
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()

	configCopy := *m.config
	return &configCopy
}

// Path returns the config file path the manager was loaded from.
func (m *Manager) Path() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.configPath
}

// AddWatcher adds a configuration change watcher.
func (m *Manager) AddWatcher(watcher Watcher) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.watchers = append(m.watchers, watcher)
}

func loadFromFile(path string, config *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, config)
}

func loadStructFromEnv(v reflect.Value) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		if !field.CanSet() {
			continue
		}

		if field.Kind() == reflect.Struct {
			if err := loadStructFromEnv(field); err != nil {
				return err
			}
			continue
		}

		envTag := fieldType.Tag.Get("env")
		if envTag == "" {
			continue
		}

		envValue := os.Getenv(envTag)
		if envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set field %s: %w", fieldType.Name, err)
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
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		uintVal, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetUint(uintVal)
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
		if field.Type().Elem().Kind() == reflect.String {
			values := strings.Split(value, ",")
			for i, v := range values {
				values[i] = strings.TrimSpace(v)
			}
			field.Set(reflect.ValueOf(values))
		}
	default:
		return fmt.Errorf("unsupported field type: %v", field.Kind())
	}

	return nil
}

func validate(config *Config) error {
	if config.Server.Port < 1 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	if config.Cache.MaxFrames <= 0 {
		return fmt.Errorf("invalid cache max frames: %d", config.Cache.MaxFrames)
	}

	if config.Cache.PoolSize <= 0 {
		return fmt.Errorf("invalid decoder pool size: %d", config.Cache.PoolSize)
	}

	if config.Monitor.FrameRateWindow <= 0 {
		return fmt.Errorf("invalid frame rate window: %d", config.Monitor.FrameRateWindow)
	}

	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
