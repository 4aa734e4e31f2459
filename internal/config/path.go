// Package config provides configuration utilities for the application.
package config

import (
	"os"
	"path/filepath"
	"strings"
)

// ExpandPath expands a leading ~ and $VAR style environment variables in a
// file path.
func ExpandPath(path string) string {
	if path == "" {
		return path
	}

	if path == "~" {
		if home, err := os.UserHomeDir(); err == nil {
			path = home
		}
	} else if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, path[2:])
		}
	}

	return os.ExpandEnv(path)
}

// DefaultConfigDir returns the directory searched for config.yaml.
func DefaultConfigDir() string {
	return ExpandPath("~/.config/folio")
}

// DefaultDatabasePath returns the default location of the local history
// cache database.
func DefaultDatabasePath() string {
	return ExpandPath("$HOME/.local/share/folio/folio.db")
}
