// Package config loads the interpreter configuration file.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Config defines how the interpreter connects to an OpenAI-compatible
// gateway and how the local kernel behaves.
type Config struct {
	// APIBaseURL is the base URL for OpenAI-compatible chat completions.
	APIBaseURL string `json:"api_base_url"`
	// APIKey is the bearer token used for Authorization.
	APIKey string `json:"api_key"`
	// TimeoutMS configures request timeout in milliseconds.
	TimeoutMS int `json:"timeout_ms"`
	// Model is the selected model display name or provider model id.
	Model string `json:"model"`
	// Models maps display names to provider model entries.
	Models map[string]ModelConfig `json:"models"`
	// Kernel configures the local code execution backend.
	Kernel KernelConfig `json:"kernel"`
	// CacheDir holds session state, working, and output directories.
	CacheDir string `json:"cache_dir"`
}

// ModelConfig is one entry in the model table.
type ModelConfig struct {
	// ModelName is the provider model id sent in requests.
	ModelName string `json:"model_name"`
	// Available marks whether the entry can be selected.
	Available bool `json:"available"`
}

// KernelConfig configures the local code execution backend.
type KernelConfig struct {
	// PythonBin is the interpreter binary. Defaults to python3.
	PythonBin string `json:"python_bin"`
	// ExecTimeoutMS bounds one code execution in milliseconds.
	ExecTimeoutMS int `json:"exec_timeout_ms"`
	// MaxOutputBytes truncates execution output beyond this size.
	MaxOutputBytes int `json:"max_output_bytes"`
}

var (
	// ErrConfigMissing is returned when no config file can be found.
	ErrConfigMissing = errors.New("config missing")
	// ErrConfigInvalid is returned when required fields are missing.
	ErrConfigInvalid = errors.New("config invalid")
	// ErrModelUnavailable is returned when the selected model entry is
	// present but marked unavailable.
	ErrModelUnavailable = errors.New("model unavailable")
)

// DefaultPath returns the per-user config path.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return filepath.Join(home, ".local-code-interpreter", "config.json"), nil
}

// Load reads and validates the config. An explicit path wins; otherwise
// ./config.json is tried, then the per-user path.
func Load(path string) (*Config, error) {
	if path != "" {
		return loadFile(path)
	}

	if cfg, err := loadFile("config.json"); err == nil {
		return cfg, nil
	} else if !errors.Is(err, ErrConfigMissing) {
		return nil, err
	}

	userPath, err := DefaultPath()
	if err != nil {
		return nil, err
	}
	return loadFile(userPath)
}

// loadFile reads one config file and applies defaults.
func loadFile(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrConfigMissing
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if cfg.APIBaseURL == "" || cfg.APIKey == "" {
		return nil, ErrConfigInvalid
	}

	if cfg.TimeoutMS <= 0 {
		cfg.TimeoutMS = 600000
	}
	if cfg.Models == nil {
		cfg.Models = make(map[string]ModelConfig)
	}
	if cfg.Kernel.PythonBin == "" {
		cfg.Kernel.PythonBin = "python3"
	}
	if cfg.Kernel.ExecTimeoutMS <= 0 {
		cfg.Kernel.ExecTimeoutMS = 120000
	}
	if cfg.Kernel.MaxOutputBytes <= 0 {
		cfg.Kernel.MaxOutputBytes = 64 * 1024
	}
	if cfg.CacheDir == "" {
		cfg.CacheDir, err = defaultCacheDir()
		if err != nil {
			return nil, err
		}
	}

	return &cfg, nil
}

// defaultCacheDir places session state next to the per-user config.
func defaultCacheDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return filepath.Join(home, ".local-code-interpreter", "cache"), nil
}

// ResolveModel returns the provider model id for the session. CLI input
// takes precedence over the configured model; display names resolve
// through the model table.
func ResolveModel(cfg *Config, cliModel string) (string, error) {
	name := cliModel
	if name == "" {
		name = cfg.Model
	}
	if name == "" {
		return "", fmt.Errorf("%w: no model selected", ErrConfigInvalid)
	}

	entry, ok := cfg.Models[name]
	if !ok {
		// Names outside the table pass through as provider model ids.
		return name, nil
	}
	if !entry.Available {
		return "", fmt.Errorf("%w: %s", ErrModelUnavailable, name)
	}
	if entry.ModelName == "" {
		return name, nil
	}
	return entry.ModelName, nil
}
