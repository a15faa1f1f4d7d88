package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// PlatformConfigDir returns the platform-specific directory for user-wide
// defaults that apply to every project.
//
// Platform paths:
//   - macOS:   ~/Library/Application Support/storyteller/
//   - Linux:   $XDG_CONFIG_HOME/storyteller/ or ~/.config/storyteller/
//   - Windows: %APPDATA%\storyteller\
func PlatformConfigDir() string {
	home, _ := os.UserHomeDir()
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "storyteller")
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "storyteller")
		}
		return filepath.Join(home, "AppData", "Roaming", "storyteller")
	default:
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			return filepath.Join(xdg, "storyteller")
		}
		return filepath.Join(home, ".config", "storyteller")
	}
}

// DefaultIgnorePatterns returns the glob patterns skipped by default.
func DefaultIgnorePatterns() []string {
	return []string{
		// Version control
		".git",
		".hg",
		".svn",

		// Dependencies
		"node_modules",
		"vendor",

		// Editor droppings
		"*.swp",
		"*.swo",
		"*~",
		".DS_Store",
		"Thumbs.db",
	}
}

// SupportedConfigFormats returns the list of supported config file formats.
func SupportedConfigFormats() []string {
	return []string{
		"toml",
		"json",
		"yaml",
		"yml",
	}
}

// FindConfigFile returns the first config file found in dir, or "" if none.
func FindConfigFile(dir string) string {
	for _, ext := range SupportedConfigFormats() {
		p := filepath.Join(dir, "config."+ext)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}
