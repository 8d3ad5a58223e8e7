package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// source resolves keys from the runtime overlay first, then the process environment.
type source struct {
	overlay map[string]string
}

func overlayPathFromEnv() string {
	if path := strings.TrimSpace(os.Getenv("CONFIG_OVERLAY_PATH")); path != "" {
		return path
	}
	return DefaultOverlayPath
}

func newSource(path string) (source, error) {
	overlay, err := readOverlay(path)
	if err != nil {
		return source{}, err
	}
	return source{overlay: overlay}, nil
}

// readOverlay parses a key=value overlay file. A missing file is an empty overlay.
func readOverlay(path string) (map[string]string, error) {
	if path == "" {
		return map[string]string{}, nil
	}

	values, err := godotenv.Read(path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config overlay %s: %w", path, err)
	}
	return values, nil
}

func (s source) lookup(key string) (string, bool) {
	if value, ok := s.overlay[key]; ok {
		return value, true
	}
	return os.LookupEnv(key)
}

func (s source) get(key string) string {
	value, _ := s.lookup(key)
	return strings.TrimSpace(value)
}

func (s source) getOrDefault(key, defaultValue string) string {
	if value := s.get(key); value != "" {
		return value
	}
	return defaultValue
}

func (s source) parseBool(key string, defaultValue bool) (bool, error) {
	raw := s.get(key)
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func (s source) parseOptionalInt(key string) (*int, error) {
	value := s.get(key)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func (s source) parseOptionalFloat(key string) (*float64, error) {
	value := s.get(key)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

// parseDuration accepts Go duration strings ("15s") or a bare number of seconds.
func (s source) parseDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := s.get(key)
	if value == "" {
		return defaultValue, nil
	}

	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second, nil
	}

	val, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return val, nil
}
