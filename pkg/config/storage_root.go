package config

import (
	"os"
	"path/filepath"
	"strings"
)

// ResolveStorageRoot returns the absolute package directory the viewer serves.
// Preference order:
//  1. storage.root from configuration (supports ~)
//  2. Current working directory if no root is configured
func ResolveStorageRoot(cfg *Config) string {
	if cfg != nil {
		root := expandHomeDir(cfg.Storage.Root)
		if root != "" {
			if abs, err := filepath.Abs(root); err == nil {
				return abs
			}
			return root
		}
	}
	if cwd, err := os.Getwd(); err == nil {
		return cwd
	}
	return "."
}

func expandHomeDir(path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return ""
	}
	if path == "~" {
		if home, err := os.UserHomeDir(); err == nil && strings.TrimSpace(home) != "" {
			return home
		}
		return path
	}
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil && strings.TrimSpace(home) != "" {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
