package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Default configuration values exported for documentation and validation
const (
	DefaultBind               = "127.0.0.1:4590"
	DefaultFetchTimeout       = 2 * time.Minute
	DefaultEstimateBytes      = 25 << 20
	DefaultHTMLBatchSize      = 5
	DefaultAssetBatchSize     = 20
	DefaultBatchYield         = 5 * time.Millisecond
	DefaultMaxEntryBytes      = 512 << 20
	DefaultLoadTimeout        = 20 * time.Second
	DefaultBlankScreenTimeout = 45 * time.Second
	DefaultAPISearchDepth     = 5
	DefaultLocale             = "en"
	DefaultURLTTL             = 24 * time.Hour
	DefaultBusKind            = BusMemory
	DefaultLogLevel           = "info"

	// MinSigningKeyLength is the minimum length for the URL signing key
	MinSigningKeyLength = 32
)

// Bus kinds
const (
	BusMemory = "memory"
	BusNATS   = "nats"
)

// Config represents the complete viewer configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Fetch     FetchConfig     `yaml:"fetch"`
	Extract   ExtractConfig   `yaml:"extract"`
	Viewer    ViewerConfig    `yaml:"viewer"`
	Runtime   RuntimeConfig   `yaml:"runtime"`
	Storage   StorageConfig   `yaml:"storage"`
	Bus       BusConfig       `yaml:"bus"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Bind           string   `yaml:"bind"`
	PublicBaseURL  string   `yaml:"public_base_url"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	// RelayRate is messages per second accepted from one websocket connection.
	RelayRate  float64 `yaml:"relay_rate"`
	RelayBurst int     `yaml:"relay_burst"`
}

// FetchConfig configures archive downloads.
type FetchConfig struct {
	Timeout       time.Duration `yaml:"timeout"`
	EstimateBytes int64         `yaml:"estimate_bytes"`
	UserAgent     string        `yaml:"user_agent"`
}

// ExtractConfig configures archive extraction batching.
type ExtractConfig struct {
	HTMLBatchSize  int           `yaml:"html_batch_size"`
	AssetBatchSize int           `yaml:"asset_batch_size"`
	BatchYield     time.Duration `yaml:"batch_yield"`
	MaxEntryBytes  int64         `yaml:"max_entry_bytes"`
}

// ViewerConfig configures the presentation controller.
type ViewerConfig struct {
	LoadTimeout        time.Duration `yaml:"load_timeout"`
	BlankScreenTimeout time.Duration `yaml:"blank_screen_timeout"`
	ShowNavigation     bool          `yaml:"show_navigation"`
	Locale             string        `yaml:"locale"`
	APISearchDepth     int           `yaml:"api_search_depth"`
}

// RuntimeConfig configures the SCORM runtime shim.
type RuntimeConfig struct {
	StrictErrors bool   `yaml:"strict_errors"`
	LearnerID    string `yaml:"learner_id"`
	LearnerName  string `yaml:"learner_name"`
}

// StorageConfig configures the local object store.
type StorageConfig struct {
	Root       string        `yaml:"root"`
	SigningKey string        `yaml:"signing_key"`
	URLTTL     time.Duration `yaml:"url_ttl"`
	Watch      bool          `yaml:"watch"`
}

// BusConfig selects the message bus backend.
type BusConfig struct {
	Kind string `yaml:"kind"`
	URL  string `yaml:"url"`
	Name string `yaml:"name"`
}

// TelemetryConfig toggles metrics and tracing.
type TelemetryConfig struct {
	Metrics bool `yaml:"metrics"`
	Tracing bool `yaml:"tracing"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

func defaultStorageRoot() string {
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		return filepath.Join(home, ".scormview", "packages")
	}
	return filepath.Join(".", ".scormview", "packages")
}

func defaultNATSURL() string {
	if v := strings.TrimSpace(os.Getenv("NATS_URL")); v != "" {
		return v
	}
	return "nats://localhost:4222"
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Bind:       DefaultBind,
			RelayRate:  50,
			RelayBurst: 100,
		},
		Fetch: FetchConfig{
			Timeout:       DefaultFetchTimeout,
			EstimateBytes: DefaultEstimateBytes,
			UserAgent:     "scormview",
		},
		Extract: ExtractConfig{
			HTMLBatchSize:  DefaultHTMLBatchSize,
			AssetBatchSize: DefaultAssetBatchSize,
			BatchYield:     DefaultBatchYield,
			MaxEntryBytes:  DefaultMaxEntryBytes,
		},
		Viewer: ViewerConfig{
			LoadTimeout:        DefaultLoadTimeout,
			BlankScreenTimeout: DefaultBlankScreenTimeout,
			ShowNavigation:     true,
			Locale:             DefaultLocale,
			APISearchDepth:     DefaultAPISearchDepth,
		},
		Runtime: RuntimeConfig{
			LearnerID:   "learner",
			LearnerName: "Learner",
		},
		Storage: StorageConfig{
			Root:   defaultStorageRoot(),
			URLTTL: DefaultURLTTL,
			Watch:  true,
		},
		Bus: BusConfig{
			Kind: DefaultBusKind,
			URL:  defaultNATSURL(),
			Name: "scormview",
		},
		Telemetry: TelemetryConfig{
			Metrics: true,
		},
		Logging: LoggingConfig{
			Level: DefaultLogLevel,
		},
	}
}

// Load loads configuration from default locations with proper precedence
func Load() (*Config, error) {
	cfg := DefaultConfig()

	// Load user config (~/.scormview/config.yaml)
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.Getenv("HOME")
	}
	if home != "" {
		userConfigPath := filepath.Join(home, ".scormview", "config.yaml")
		if err := loadAndMerge(cfg, userConfigPath); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("loading user config: %w", err)
		}
	}

	// Load project config (./.scormview/config.yaml)
	projectConfigPath := filepath.Join(".", ".scormview", "config.yaml")
	if err := loadAndMerge(cfg, projectConfigPath); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("loading project config: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// LoadFromPath loads configuration from a specific file path
func LoadFromPath(path string) (*Config, error) {
	cfg := DefaultConfig()

	if err := loadAndMerge(cfg, path); err != nil {
		return nil, fmt.Errorf("loading config from %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration for values the viewer cannot run with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Server.Bind) == "" {
		return fmt.Errorf("server.bind is required")
	}
	if _, _, err := net.SplitHostPort(c.Server.Bind); err != nil {
		return fmt.Errorf("server.bind %q: %w", c.Server.Bind, err)
	}
	if c.Server.RelayRate <= 0 || c.Server.RelayBurst <= 0 {
		return fmt.Errorf("server.relay_rate and server.relay_burst must be positive")
	}
	if c.Fetch.Timeout <= 0 {
		return fmt.Errorf("fetch.timeout must be positive")
	}
	if c.Fetch.EstimateBytes <= 0 {
		return fmt.Errorf("fetch.estimate_bytes must be positive")
	}
	if c.Extract.HTMLBatchSize <= 0 || c.Extract.AssetBatchSize <= 0 {
		return fmt.Errorf("extract batch sizes must be positive")
	}
	if c.Extract.BatchYield < 0 {
		return fmt.Errorf("extract.batch_yield must not be negative")
	}
	if c.Extract.MaxEntryBytes <= 0 {
		return fmt.Errorf("extract.max_entry_bytes must be positive")
	}
	if c.Viewer.LoadTimeout <= 0 || c.Viewer.BlankScreenTimeout <= 0 {
		return fmt.Errorf("viewer timeouts must be positive")
	}
	if c.Viewer.APISearchDepth < 0 {
		return fmt.Errorf("viewer.api_search_depth must not be negative")
	}
	if c.Storage.URLTTL <= 0 || c.Storage.URLTTL > DefaultURLTTL {
		return fmt.Errorf("storage.url_ttl must be within (0, %s]", DefaultURLTTL)
	}
	if c.Storage.SigningKey != "" && len(c.Storage.SigningKey) < MinSigningKeyLength {
		return fmt.Errorf("storage.signing_key must be at least %d characters", MinSigningKeyLength)
	}
	switch c.Bus.Kind {
	case BusMemory:
	case BusNATS:
		if strings.TrimSpace(c.Bus.URL) == "" {
			return fmt.Errorf("bus.url is required for the nats bus")
		}
	default:
		return fmt.Errorf("unknown bus.kind %q (want %s or %s)", c.Bus.Kind, BusMemory, BusNATS)
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown logging.level %q", c.Logging.Level)
	}
	return nil
}

// ValidationWarnings returns non-fatal configuration concerns.
func (c *Config) ValidationWarnings() []string {
	var warnings []string
	if c.Storage.SigningKey == "" {
		warnings = append(warnings, "storage.signing_key is empty; a random key is generated per process and signed URLs will not survive restarts")
	}
	if !isLoopbackBindAddress(c.Server.Bind) && len(c.Server.AllowedOrigins) == 0 {
		warnings = append(warnings, "server binds beyond loopback with no allowed_origins; any origin may embed the viewer")
	}
	return warnings
}

func isLoopbackBindAddress(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
