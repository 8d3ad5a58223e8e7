package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/joho/godotenv"
)

// Keys the admin endpoint may override at runtime.
const (
	KeyExternalURL    = "EXTERNAL_MODEL_URL"
	KeyExternalAPIKey = "EXTERNAL_API_KEY"
	KeyExternalHeader = "EXTERNAL_API_HEADER"
	KeyExternalPrefix = "EXTERNAL_API_KEY_PREFIX"
)

var overridableKeys = map[string]struct{}{
	KeyExternalURL:    {},
	KeyExternalAPIKey: {},
	KeyExternalHeader: {},
	KeyExternalPrefix: {},
}

// emptyValueKeys keep an empty override instead of removing it.
var emptyValueKeys = map[string]struct{}{
	KeyExternalPrefix: {},
}

var ErrNoOverrides = errors.New("no configuration values provided")

// Holder publishes the current Config to concurrent readers.
type Holder struct {
	current atomic.Pointer[Config]

	// mu serializes overlay writes and reloads.
	mu sync.Mutex
}

// NewHolder wraps an already loaded configuration.
func NewHolder(cfg *Config) *Holder {
	h := &Holder{}
	h.current.Store(cfg)
	return h
}

// Current returns the configuration in effect.
func (h *Holder) Current() *Config {
	return h.current.Load()
}

// Reload re-reads environment and overlay and swaps in the result. On error
// the previous configuration stays in effect.
func (h *Holder) Reload() (*Config, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.reloadLocked()
}

func (h *Holder) reloadLocked() (*Config, error) {
	cfg, err := LoadWithOverlay(h.Current().OverlayPath)
	if err != nil {
		return nil, err
	}
	h.current.Store(cfg)
	return cfg, nil
}

// ApplyOverrides merges values into the overlay file and reloads. An empty
// value removes the key from the overlay so the environment applies again,
// except for the key prefix where empty means no prefix.
func (h *Holder) ApplyOverrides(values map[string]string) (*Config, error) {
	if len(values) == 0 {
		return nil, ErrNoOverrides
	}
	for key := range values {
		if _, ok := overridableKeys[key]; !ok {
			return nil, fmt.Errorf("key %s cannot be overridden", key)
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	path := h.Current().OverlayPath
	if path == "" {
		return nil, errors.New("config overlay path is not set")
	}

	overlay, err := readOverlay(path)
	if err != nil {
		return nil, err
	}

	for key, value := range values {
		if _, keep := emptyValueKeys[key]; value == "" && !keep {
			delete(overlay, key)
			continue
		}
		overlay[key] = value
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create overlay directory: %w", err)
		}
	}
	if err := godotenv.Write(overlay, path); err != nil {
		return nil, fmt.Errorf("write config overlay %s: %w", path, err)
	}

	return h.reloadLocked()
}
