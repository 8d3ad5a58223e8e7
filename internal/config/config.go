package config

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
)

const (
	ProviderGemini = "gemini"
	ProviderArk    = "ark"

	StorageMemory = "memory"
	StorageSQLite = "sqlite"

	DefaultGeminiModel     = "gemini-2.5-flash"
	DefaultExternalHeader  = "Authorization"
	DefaultExternalPrefix  = "Bearer "
	DefaultOverlayPath     = ".runtime.env"
	defaultExternalTimeout = 15 * time.Second
	defaultPrimaryTimeout  = 60 * time.Second
)

// Config aggregates every setting of the service. A loaded Config is never
// mutated; Holder swaps in a fresh value on reload.
type Config struct {
	Server      ServerConfig
	Primary     PrimaryConfig
	External    ExternalConfig
	Access      AccessConfig
	Fallback    FallbackConfig
	RateLimit   RateLimitConfig
	Storage     StorageConfig
	Logging     LoggingConfig
	Canned      CannedConfig
	OverlayPath string
}

// Load reads the process environment merged with the runtime overlay file
// named by CONFIG_OVERLAY_PATH.
func Load() (*Config, error) {
	return LoadWithOverlay(overlayPathFromEnv())
}

// LoadWithOverlay reads configuration, giving keys in the overlay file at path
// precedence over the process environment.
func LoadWithOverlay(path string) (*Config, error) {
	src, err := newSource(path)
	if err != nil {
		return nil, err
	}

	server, err := loadServerConfig(src)
	if err != nil {
		return nil, err
	}

	primary, err := loadPrimaryConfig(src)
	if err != nil {
		return nil, err
	}

	external, err := loadExternalConfig(src)
	if err != nil {
		return nil, err
	}

	fallback, err := src.parseBool("USE_FALLBACK", true)
	if err != nil {
		return nil, err
	}

	rateLimit, err := loadRateLimitConfig(src)
	if err != nil {
		return nil, err
	}

	storage, err := loadStorageConfig(src)
	if err != nil {
		return nil, err
	}

	verbose, err := src.parseBool("LOG_VERBOSE", false)
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:   server,
		Primary:  primary,
		External: external,
		Access: AccessConfig{
			TestToken:     src.get("TEST_TOKEN"),
			AdminPassword: src.get("ADMIN_PASSWORD"),
		},
		Fallback:    FallbackConfig{Enabled: fallback},
		RateLimit:   rateLimit,
		Storage:     storage,
		Logging:     LoggingConfig{Verbose: verbose},
		Canned:      CannedConfig{ResponsesFile: src.get("CANNED_RESPONSES_FILE")},
		OverlayPath: path,
	}, nil
}

// AIConfigured reports whether any AI backend, external or primary, is set up.
func (c *Config) AIConfigured() bool {
	return c.External.Enabled() || c.Primary.Enabled()
}

// CannedAllowed reports whether the keyword responder may answer. It does when
// no AI backend is configured at all, or when USE_FALLBACK is on.
func (c *Config) CannedAllowed() bool {
	return !c.AIConfigured() || c.Fallback.Enabled
}

// ServerConfig describes the HTTP listener.
type ServerConfig struct {
	Addr           string
	AllowedOrigins []string
}

func loadServerConfig(src source) (ServerConfig, error) {
	port := src.get("PORT")
	if port == "" {
		port = "8080"
	}

	origins := splitList(src.getOrDefault("ALLOWED_ORIGINS", "*"))

	if strings.Contains(port, ":") {
		// ":8080" and "127.0.0.1:8080" are accepted as-is.
		return ServerConfig{Addr: port, AllowedOrigins: origins}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port, AllowedOrigins: origins}, nil
}

// PrimaryConfig describes the hosted generative model used as second tier.
type PrimaryConfig struct {
	Provider string
	APIKey   string
	Model    string
	Timeout  time.Duration
	Ark      ArkConfig
}

// Enabled reports whether the selected provider has credentials.
func (c PrimaryConfig) Enabled() bool {
	switch c.Provider {
	case ProviderArk:
		return c.Ark.Enabled()
	default:
		return c.APIKey != ""
	}
}

func loadPrimaryConfig(src source) (PrimaryConfig, error) {
	provider := strings.ToLower(src.getOrDefault("PRIMARY_PROVIDER", ProviderGemini))
	if provider != ProviderGemini && provider != ProviderArk {
		return PrimaryConfig{}, fmt.Errorf("invalid PRIMARY_PROVIDER value: %q", provider)
	}

	timeout, err := src.parseDuration("PRIMARY_TIMEOUT", defaultPrimaryTimeout)
	if err != nil {
		return PrimaryConfig{}, err
	}

	apiKey := src.get("API_KEY")
	if apiKey == "" {
		apiKey = src.get("GEMINI_API_KEY")
	}

	arkCfg, err := loadArkConfig(src)
	if err != nil {
		return PrimaryConfig{}, err
	}

	return PrimaryConfig{
		Provider: provider,
		APIKey:   apiKey,
		Model:    src.getOrDefault("PRIMARY_MODEL", DefaultGeminiModel),
		Timeout:  timeout,
		Ark:      arkCfg,
	}, nil
}

// ArkConfig describes the Volcengine Ark chat model.
type ArkConfig struct {
	APIKey      string
	AccessKey   string
	SecretKey   string
	Model       string
	BaseURL     string
	Region      string
	Temperature *float64
	MaxTokens   *int
}

// Enabled reports whether a model and a credential pair are present.
func (c ArkConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel builds an Ark chat model from the configuration.
func (c ArkConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("ark credentials or model missing: set ARK_API_KEY and ARK_MODEL")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	return ark.NewChatModel(ctx, &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   c.MaxTokens,
		Temperature: temperature,
	})
}

func loadArkConfig(src source) (ArkConfig, error) {
	temperature, err := src.parseOptionalFloat("ARK_TEMPERATURE")
	if err != nil {
		return ArkConfig{}, err
	}

	maxTokens, err := src.parseOptionalInt("ARK_MAX_TOKENS")
	if err != nil {
		return ArkConfig{}, err
	}

	return ArkConfig{
		APIKey:      src.get("ARK_API_KEY"),
		AccessKey:   src.get("ARK_ACCESS_KEY"),
		SecretKey:   src.get("ARK_SECRET_KEY"),
		Model:       src.get("ARK_MODEL"),
		BaseURL:     src.getOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:      src.getOrDefault("ARK_REGION", "cn-beijing"),
		Temperature: temperature,
		MaxTokens:   maxTokens,
	}, nil
}

// ExternalConfig describes the operator supplied model endpoint.
type ExternalConfig struct {
	URL       string
	APIKey    string
	Header    string
	KeyPrefix string
	Timeout   time.Duration
}

// Enabled reports whether an endpoint URL is configured.
func (c ExternalConfig) Enabled() bool {
	return c.URL != ""
}

func loadExternalConfig(src source) (ExternalConfig, error) {
	timeout, err := src.parseDuration("EXTERNAL_TIMEOUT", defaultExternalTimeout)
	if err != nil {
		return ExternalConfig{}, err
	}

	// An explicitly empty prefix sends the bare key.
	prefix, ok := src.lookup("EXTERNAL_API_KEY_PREFIX")
	switch {
	case !ok:
		prefix = DefaultExternalPrefix
	case strings.TrimSpace(prefix) == "":
		prefix = ""
	}

	return ExternalConfig{
		URL:       src.get("EXTERNAL_MODEL_URL"),
		APIKey:    src.get("EXTERNAL_API_KEY"),
		Header:    src.getOrDefault("EXTERNAL_API_HEADER", DefaultExternalHeader),
		KeyPrefix: prefix,
		Timeout:   timeout,
	}, nil
}

// AccessConfig holds the shared secrets guarding the API.
type AccessConfig struct {
	TestToken     string
	AdminPassword string
}

var (
	ErrAdminDisabled     = errors.New("admin endpoint disabled")
	ErrAdminUnauthorized = errors.New("invalid admin password")
)

// CheckAdmin validates an admin password. ErrAdminDisabled is returned while
// ADMIN_PASSWORD is unset.
func (c AccessConfig) CheckAdmin(password string) error {
	if c.AdminPassword == "" {
		return ErrAdminDisabled
	}
	if subtle.ConstantTimeCompare([]byte(password), []byte(c.AdminPassword)) != 1 {
		return ErrAdminUnauthorized
	}
	return nil
}

// FallbackConfig controls the canned keyword tier.
type FallbackConfig struct {
	Enabled bool
}

// RateLimitConfig describes the fixed window applied per caller address.
type RateLimitConfig struct {
	Requests int
	Window   time.Duration
}

func loadRateLimitConfig(src source) (RateLimitConfig, error) {
	cfg := RateLimitConfig{Requests: 12, Window: time.Minute}

	requests, err := src.parseOptionalInt("RATE_LIMIT_REQUESTS")
	if err != nil {
		return RateLimitConfig{}, err
	}
	if requests != nil {
		if *requests < 1 {
			return RateLimitConfig{}, fmt.Errorf("invalid RATE_LIMIT_REQUESTS value: %d", *requests)
		}
		cfg.Requests = *requests
	}

	window, err := src.parseDuration("RATE_LIMIT_WINDOW", cfg.Window)
	if err != nil {
		return RateLimitConfig{}, err
	}
	if window <= 0 {
		return RateLimitConfig{}, fmt.Errorf("invalid RATE_LIMIT_WINDOW value: %s", window)
	}
	cfg.Window = window

	return cfg, nil
}

// StorageConfig selects the session and lead persistence backend.
type StorageConfig struct {
	Driver string
	DBPath string
}

func loadStorageConfig(src source) (StorageConfig, error) {
	driver := strings.ToLower(src.getOrDefault("STORAGE_DRIVER", StorageMemory))
	if driver != StorageMemory && driver != StorageSQLite {
		return StorageConfig{}, fmt.Errorf("invalid STORAGE_DRIVER value: %q", driver)
	}

	return StorageConfig{
		Driver: driver,
		DBPath: src.getOrDefault("DB_PATH", "data/flexi.db"),
	}, nil
}

// LoggingConfig controls log verbosity.
type LoggingConfig struct {
	Verbose bool
}

// CannedConfig points at an optional replacement for the built-in topic table.
type CannedConfig struct {
	ResponsesFile string
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
