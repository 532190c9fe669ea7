// Package config loads the engine configuration from an optional JSON
// file. A missing file runs on defaults so a fresh checkout starts
// without any setup.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// Config is the full engine configuration.
type Config struct {
	Server     ServerConfig     `json:"server"`
	Storage    StorageConfig    `json:"storage"`
	Datacenter DatacenterConfig `json:"datacenter"`
	Bridge     BridgeConfig     `json:"bridge"`
	Monitor    MonitorConfig    `json:"monitor"`
}

// ServerConfig configures the inbound-actions HTTP listener.
type ServerConfig struct {
	ListenAddr string `json:"listenAddr"`
}

// StorageConfig locates the durable state files.
type StorageConfig struct {
	StatePath   string `json:"statePath"`
	JournalPath string `json:"journalPath"`
}

// DatacenterConfig locates the scraper's snapshot artifact.
type DatacenterConfig struct {
	SnapshotPath string `json:"snapshotPath"`
}

// BridgeConfig points at the conversational layer's send endpoint.
type BridgeConfig struct {
	URL            string `json:"url"`
	AuthToken      string `json:"authToken"`
	TimeoutSeconds int    `json:"timeoutSeconds"`
}

// Timeout returns the per-attempt delivery timeout.
func (b BridgeConfig) Timeout() time.Duration {
	return time.Duration(b.TimeoutSeconds) * time.Second
}

// MonitorConfig sets the periodic-job cadence. The two startup delays are
// intentionally different so the jobs don't wake up together.
type MonitorConfig struct {
	ExpirationIntervalSeconds     int `json:"expirationIntervalSeconds"`
	ExpirationStartupDelaySeconds int `json:"expirationStartupDelaySeconds"`
	DatacenterIntervalSeconds     int `json:"datacenterIntervalSeconds"`
	DatacenterStartupDelaySeconds int `json:"datacenterStartupDelaySeconds"`
}

func (m MonitorConfig) ExpirationInterval() time.Duration {
	return time.Duration(m.ExpirationIntervalSeconds) * time.Second
}

func (m MonitorConfig) ExpirationStartupDelay() time.Duration {
	return time.Duration(m.ExpirationStartupDelaySeconds) * time.Second
}

func (m MonitorConfig) DatacenterInterval() time.Duration {
	return time.Duration(m.DatacenterIntervalSeconds) * time.Second
}

func (m MonitorConfig) DatacenterStartupDelay() time.Duration {
	return time.Duration(m.DatacenterStartupDelaySeconds) * time.Second
}

// Default returns the configuration a bare install runs with.
func Default() Config {
	return Config{
		Server: ServerConfig{
			ListenAddr: ":8085",
		},
		Storage: StorageConfig{
			StatePath:   "data/user_state.json",
			JournalPath: "data/deliveries.db",
		},
		Datacenter: DatacenterConfig{
			SnapshotPath: "data/HaxDataCenter.txt",
		},
		Bridge: BridgeConfig{
			URL:            "http://127.0.0.1:8090",
			TimeoutSeconds: 5,
		},
		Monitor: MonitorConfig{
			ExpirationIntervalSeconds:     60,
			ExpirationStartupDelaySeconds: 10,
			DatacenterIntervalSeconds:     60,
			DatacenterStartupDelaySeconds: 15,
		},
	}
}

// Manager loads the configuration once and hands out the cached copy.
type Manager struct {
	path string

	mu     sync.Mutex
	loaded *Config
}

// NewManager returns a manager for the config file at path.
func NewManager(path string) *Manager {
	return &Manager{path: path}
}

// Load returns the configuration, reading the file on first use. A
// missing file yields the defaults; a malformed one is a startup error.
func (m *Manager) Load() (Config, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.loaded != nil {
		return *m.loaded, nil
	}

	cfg := Default()
	data, err := os.ReadFile(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			m.loaded = &cfg
			return cfg, nil
		}
		return Config{}, fmt.Errorf("read config %s: %w", m.path, err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", m.path, err)
	}

	m.loaded = &cfg
	return cfg, nil
}
