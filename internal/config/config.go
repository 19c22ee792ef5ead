// Package config provides configuration management for PPEGuard
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultPath is used when PPE_CONFIG is unset
const DefaultPath = "config.yaml"

// Camera drivers
const (
	DriverOpenCV = "opencv"
	DriverHTTP   = "http"
	DriverStill  = "still"
)

// Detector backends
const (
	BackendHTTP = "http"
	BackendONNX = "onnx"
)

// Config represents the PPEGuard configuration
type Config struct {
	Version  string         `yaml:"version"`
	Server   ServerConfig   `yaml:"server"`
	Camera   CameraConfig   `yaml:"camera"`
	Detector DetectorConfig `yaml:"detector"`
	Storage  StorageConfig  `yaml:"storage"`
	Logging  LoggingConfig  `yaml:"logging"`
	Monitor  MonitorConfig  `yaml:"monitor"`
	Events   EventsConfig   `yaml:"events"`

	// Internal fields
	mu       sync.RWMutex    `yaml:"-"`
	path     string          `yaml:"-"`
	watchers []func(*Config) `yaml:"-"`
}

// ServerConfig holds HTTP listener settings
type ServerConfig struct {
	Port        int      `yaml:"port"`
	CORSOrigins []string `yaml:"cors_origins"`
}

// CameraConfig selects the frame source
type CameraConfig struct {
	Driver string `yaml:"driver"` // opencv, http or still
	// Source is a device index, file path or stream URL for opencv,
	// a snapshot URL for http, an image path for still.
	Source  string        `yaml:"source"`
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

// DetectorConfig selects the inference backend
type DetectorConfig struct {
	Backend       string        `yaml:"backend"` // http or onnx
	URL           string        `yaml:"url"`
	// ModelPath is a local file or an http(s) URL fetched into ModelDir
	ModelPath     string        `yaml:"model_path,omitempty"`
	ModelDir      string        `yaml:"model_dir,omitempty"`
	LabelsPath    string        `yaml:"labels_path,omitempty"`
	InputSize     int           `yaml:"input_size,omitempty"`
	MinConfidence float64       `yaml:"min_confidence"`
	Timeout       time.Duration `yaml:"timeout"`
}

// StorageConfig holds on-disk locations
type StorageConfig struct {
	DataPath    string `yaml:"data_path"`
	SnapshotDir string `yaml:"snapshot_dir"`
	LogBackend  string `yaml:"log_backend"` // csv or sqlite
}

// LoggingConfig holds log output settings
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"` // json or text
	BufferSize int    `yaml:"buffer_size"`
}

// MonitorConfig holds headless monitor settings
type MonitorConfig struct {
	Threshold     float64 `yaml:"threshold"`
	Interval      int     `yaml:"interval"` // detect every Nth frame
	SaveSnapshots bool    `yaml:"save_snapshots"`
}

// EventsConfig holds embedded NATS settings. The server embeds the bus on
// Host:Port; other processes join it through URL.
type EventsConfig struct {
	Disabled bool   `yaml:"disabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"` // -1 picks a random port
	URL      string `yaml:"url,omitempty"`
}

// ClientURL is the address a joining process connects to. It is empty when
// the embedded bus listens on a random port.
func (e EventsConfig) ClientURL() string {
	if e.URL != "" {
		return e.URL
	}
	if e.Port <= 0 {
		return ""
	}
	return fmt.Sprintf("nats://%s:%d", e.Host, e.Port)
}

// Path resolves the config file location from PPE_CONFIG
func Path() string {
	if p := os.Getenv("PPE_CONFIG"); p != "" {
		return p
	}
	return DefaultPath
}

// LoadEnv loads a .env file into the process environment. A missing
// file is not an error.
func LoadEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load env file %s: %w", p, err)
		}
	}
	return nil
}

// Load loads configuration from a YAML file. A missing file yields the
// defaults so the service can start with no config at all.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	case errors.Is(err, fs.ErrNotExist):
		slog.Debug("Config file not found, using defaults", "path", path)
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg.path = path
	cfg.applyEnv()
	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks enumerated fields
func (c *Config) Validate() error {
	switch c.Camera.Driver {
	case DriverOpenCV, DriverHTTP, DriverStill:
	default:
		return fmt.Errorf("invalid camera driver %q", c.Camera.Driver)
	}
	switch c.Detector.Backend {
	case BackendHTTP, BackendONNX:
	default:
		return fmt.Errorf("invalid detector backend %q", c.Detector.Backend)
	}
	if c.Detector.Backend == BackendONNX && c.Detector.ModelPath == "" {
		return errors.New("detector backend onnx requires model_path")
	}
	switch c.Storage.LogBackend {
	case "csv", "sqlite":
	default:
		return fmt.Errorf("invalid log backend %q", c.Storage.LogBackend)
	}
	if c.Detector.MinConfidence < 0 || c.Detector.MinConfidence > 1 {
		return fmt.Errorf("min_confidence %v out of range [0,1]", c.Detector.MinConfidence)
	}
	return nil
}

// applyEnv overrides file values with environment variables
func (c *Config) applyEnv() {
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		} else {
			slog.Warn("Ignoring invalid PORT", "value", v)
		}
	}
	if v := os.Getenv("CAMERA_SOURCE"); v != "" {
		c.Camera.Source = v
	}
	if v := os.Getenv("DETECTOR_URL"); v != "" {
		c.Detector.URL = v
	}
	if v := os.Getenv("DETECTOR_BACKEND"); v != "" {
		c.Detector.Backend = v
	}
	if v := os.Getenv("MODEL_PATH"); v != "" {
		c.Detector.ModelPath = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("LOG_BACKEND"); v != "" {
		c.Storage.LogBackend = v
	}
	if v := os.Getenv("DATA_PATH"); v != "" {
		c.Storage.DataPath = v
	}
	if v := os.Getenv("EVENTS_URL"); v != "" {
		c.Events.URL = v
	}
}

// snapshot copies the exported fields without the mutex
func (c *Config) snapshot() *Config {
	return &Config{
		Version:  c.Version,
		Server:   c.Server,
		Camera:   c.Camera,
		Detector: c.Detector,
		Storage:  c.Storage,
		Logging:  c.Logging,
		Monitor:  c.Monitor,
		Events:   c.Events,
	}
}

// Copy returns a consistent copy safe to read without locking
func (c *Config) Copy() *Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cp := c.snapshot()
	cp.path = c.path
	return cp
}

// Watch starts watching for configuration file changes until stop is closed
func (c *Config) Watch(stop <-chan struct{}) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	// Watch the directory so atomic renames by editors are seen
	dir := filepath.Dir(c.GetPath())
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	target := filepath.Clean(c.GetPath())

	go func() {
		defer watcher.Close()

		for {
			select {
			case <-stop:
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					time.Sleep(100 * time.Millisecond) // Debounce
					c.reload()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Error("Config watch error", "error", err)
			}
		}
	}()

	return nil
}

// OnChange registers a callback for config changes
func (c *Config) OnChange(fn func(*Config)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.watchers = append(c.watchers, fn)
}

// reload reloads the configuration from disk
func (c *Config) reload() {
	newCfg, err := Load(c.GetPath())
	if err != nil {
		slog.Error("Failed to reload config", "error", err)
		return
	}

	c.mu.Lock()
	c.Version = newCfg.Version
	c.Server = newCfg.Server
	c.Camera = newCfg.Camera
	c.Detector = newCfg.Detector
	c.Storage = newCfg.Storage
	c.Logging = newCfg.Logging
	c.Monitor = newCfg.Monitor
	c.Events = newCfg.Events
	watchers := c.watchers
	c.mu.Unlock()

	slog.Info("Configuration reloaded")

	for _, fn := range watchers {
		fn(c)
	}
}

// GetPath returns the current config file path
func (c *Config) GetPath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.path
}

// SnapshotPath returns the absolute snapshot directory
func (c *Config) SnapshotPath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if filepath.IsAbs(c.Storage.SnapshotDir) {
		return c.Storage.SnapshotDir
	}
	return filepath.Join(c.Storage.DataPath, c.Storage.SnapshotDir)
}

// setDefaults sets default values for unset fields
func (c *Config) setDefaults() {
	if c.Version == "" {
		c.Version = "1.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 5000
	}
	if len(c.Server.CORSOrigins) == 0 {
		c.Server.CORSOrigins = []string{"*"}
	}
	if c.Camera.Driver == "" {
		c.Camera.Driver = DriverOpenCV
	}
	if c.Camera.Source == "" {
		c.Camera.Source = "0"
	}
	if c.Camera.Timeout == 0 {
		c.Camera.Timeout = 10 * time.Second
	}
	if c.Detector.Backend == "" {
		c.Detector.Backend = BackendHTTP
	}
	if c.Detector.URL == "" {
		c.Detector.URL = "http://localhost:5100"
	}
	if c.Detector.ModelDir == "" {
		c.Detector.ModelDir = "models"
	}
	if c.Detector.InputSize == 0 {
		c.Detector.InputSize = 640
	}
	if c.Detector.MinConfidence == 0 {
		c.Detector.MinConfidence = 0.5
	}
	if c.Detector.Timeout == 0 {
		c.Detector.Timeout = 30 * time.Second
	}
	if c.Storage.DataPath == "" {
		c.Storage.DataPath = "."
	}
	if c.Storage.SnapshotDir == "" {
		c.Storage.SnapshotDir = "snapshots"
	}
	if c.Storage.LogBackend == "" {
		c.Storage.LogBackend = "csv"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.BufferSize == 0 {
		c.Logging.BufferSize = 1000
	}
	if c.Monitor.Threshold == 0 {
		c.Monitor.Threshold = 0.6
	}
	if c.Monitor.Interval == 0 {
		c.Monitor.Interval = 1
	}
	if c.Events.Host == "" {
		c.Events.Host = "127.0.0.1"
	}
	if c.Events.Port == 0 {
		c.Events.Port = 4222
	}
}
