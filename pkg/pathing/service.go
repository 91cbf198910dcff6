package pathing

import (
	"os"
	"path/filepath"
)

const configDirEnv = "NEXTPM_CONFIG_DIR"

// Make sure the config directory exists before a default config is written.
func EnsureConfigDir() error {
	dir := GetConfigDir()
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return os.MkdirAll(dir, 0755)
	}
	return nil
}

func GetAPIConfigPath() string {
	return filepath.Join(GetConfigDir(), "nextpm_api.toml")
}

// Overridable with NEXTPM_CONFIG_DIR, mostly for development machines.
func GetConfigDir() string {
	if dir := os.Getenv(configDirEnv); dir != "" {
		return dir
	}
	return "/etc/nextpm_monitor"
}
