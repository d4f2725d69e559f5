// ABOUTME: Config file path resolution shared by the server and agent binaries
// ABOUTME: Order is explicit flag, then COVEN_MCP_CONFIG, then the XDG config directory

package config

import (
	"os"
	"path/filepath"
)

// EnvConfigPath overrides the default config location.
const EnvConfigPath = "COVEN_MCP_CONFIG"

// ResolvePath returns the config file to load. name is the base file name
// used under the XDG directory ("server.yaml" or "agent.yaml").
func ResolvePath(flagValue, name string) string {
	if flagValue != "" {
		return flagValue
	}
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p
	}
	return filepath.Join(ConfigDir(), name)
}

// ConfigDir returns $XDG_CONFIG_HOME/coven-mcp, falling back to ~/.config/coven-mcp.
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "coven-mcp")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".config", "coven-mcp")
	}
	return filepath.Join(home, ".config", "coven-mcp")
}

// DataDir returns $XDG_DATA_HOME/coven-mcp, falling back to ~/.local/share/coven-mcp.
func DataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "coven-mcp")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".local", "share", "coven-mcp")
	}
	return filepath.Join(home, ".local", "share", "coven-mcp")
}
