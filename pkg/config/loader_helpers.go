package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// loadAndMerge loads a YAML file over cfg. Keys absent from the file keep
// their current value.
func loadAndMerge(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing YAML: %w", err)
	}
	return nil
}

// applyEnvOverrides applies SCORMVIEW_* environment variable overrides
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SCORMVIEW_BIND"); v != "" {
		cfg.Server.Bind = v
	}
	if v := os.Getenv("SCORMVIEW_PUBLIC_BASE_URL"); v != "" {
		cfg.Server.PublicBaseURL = strings.TrimRight(v, "/")
	}
	if v := os.Getenv("SCORMVIEW_ALLOWED_ORIGINS"); v != "" {
		cfg.Server.AllowedOrigins = splitCommaList(v)
	}
	if v, ok := envDuration("SCORMVIEW_FETCH_TIMEOUT"); ok {
		cfg.Fetch.Timeout = v
	}
	if v, ok := envDuration("SCORMVIEW_LOAD_TIMEOUT"); ok {
		cfg.Viewer.LoadTimeout = v
	}
	if v, ok := envDuration("SCORMVIEW_BLANK_SCREEN_TIMEOUT"); ok {
		cfg.Viewer.BlankScreenTimeout = v
	}
	if v := os.Getenv("SCORMVIEW_LOCALE"); v != "" {
		cfg.Viewer.Locale = v
	}
	if v, ok := envBool("SCORMVIEW_SHOW_NAVIGATION"); ok {
		cfg.Viewer.ShowNavigation = v
	}
	if v, ok := envBool("SCORMVIEW_STRICT_ERRORS"); ok {
		cfg.Runtime.StrictErrors = v
	}
	if v := os.Getenv("SCORMVIEW_STORAGE_ROOT"); v != "" {
		cfg.Storage.Root = v
	}
	// #nosec G101 -- env var name (not a credential)
	if v := os.Getenv("SCORMVIEW_SIGNING_KEY"); v != "" {
		cfg.Storage.SigningKey = v
	}
	if v, ok := envBool("SCORMVIEW_WATCH"); ok {
		cfg.Storage.Watch = v
	}
	if v := os.Getenv("SCORMVIEW_BUS"); v != "" {
		cfg.Bus.Kind = strings.ToLower(v)
	}
	if v := os.Getenv("SCORMVIEW_NATS_URL"); v != "" {
		cfg.Bus.URL = v
	}
	if v, ok := envBool("SCORMVIEW_METRICS"); ok {
		cfg.Telemetry.Metrics = v
	}
	if v, ok := envBool("SCORMVIEW_TRACING"); ok {
		cfg.Telemetry.Tracing = v
	}
	if v := os.Getenv("SCORMVIEW_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
}

func splitCommaList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func envBool(key string) (bool, bool) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}

func envDuration(key string) (time.Duration, bool) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return 0, false
	}
	v, err := time.ParseDuration(raw)
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}
